package driver

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tsawler/go-extern/buffer"
	"github.com/tsawler/go-extern/marshal"
)

// ErrCallCanceled is delivered to the completion of a request that was
// discarded before it started. In-flight native calls are never interrupted;
// cancellation only refuses not-yet-started calls.
var ErrCallCanceled = errors.New("extern call canceled before start")

// InvokeRequest is one extern call queued for execution by an InvokePool.
// Completion is called from a worker goroutine with the call's results.
type InvokeRequest struct {
	Name       string
	Args       []marshal.Arg
	Completion func(outs []*buffer.Descriptor, status int32, err error)
}

// InvokePool executes extern calls on a bounded set of workers for drivers
// whose dependency graph allows parallel extern stages. The pool adds no
// parallelism beyond its worker count; each call remains synchronous and
// blocking on its worker.
type InvokePool struct {
	pipeline *Pipeline
	requests chan InvokeRequest
	workers  int

	mutex     sync.Mutex
	closed    bool
	submitted int
	completed int

	wg sync.WaitGroup
}

// NewInvokePool starts workers executing calls against pipeline. queueDepth
// bounds the number of queued, not-yet-started requests.
func NewInvokePool(pipeline *Pipeline, workers int, queueDepth int) (*InvokePool, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if workers <= 0 {
		return nil, fmt.Errorf("workers must be positive, got %d", workers)
	}
	if queueDepth <= 0 {
		return nil, fmt.Errorf("queueDepth must be positive, got %d", queueDepth)
	}

	pool := &InvokePool{
		pipeline: pipeline,
		requests: make(chan InvokeRequest, queueDepth),
		workers:  workers,
	}

	pool.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go pool.worker()
	}

	return pool, nil
}

// worker drains the request queue until the pool closes
func (ip *InvokePool) worker() {
	defer ip.wg.Done()
	for req := range ip.requests {
		outs, status, err := ip.pipeline.Invoke(req.Name, req.Args)
		ip.mutex.Lock()
		ip.completed++
		ip.mutex.Unlock()
		if req.Completion != nil {
			req.Completion(outs, status, err)
		}
	}
}

// Submit queues a request for execution. Fails when the pool is closed or
// the queue is at capacity; a full queue is the caller's signal to stop
// scheduling, not to block.
func (ip *InvokePool) Submit(req InvokeRequest) error {
	// The send happens under the mutex so Close cannot close the channel
	// between the closed check and the send
	ip.mutex.Lock()
	defer ip.mutex.Unlock()

	if ip.closed {
		return fmt.Errorf("invoke pool is closed")
	}

	select {
	case ip.requests <- req:
		ip.submitted++
		return nil
	default:
		return fmt.Errorf("invoke queue at capacity (%d)", cap(ip.requests))
	}
}

// CancelPending discards queued requests that no worker has started,
// delivering ErrCallCanceled to their completions. Returns the number of
// requests discarded.
func (ip *InvokePool) CancelPending() int {
	canceled := 0
	for {
		select {
		case req, ok := <-ip.requests:
			if !ok {
				return canceled
			}
			ip.mutex.Lock()
			ip.completed++
			ip.mutex.Unlock()
			if req.Completion != nil {
				req.Completion(nil, 0, ErrCallCanceled)
			}
			canceled++
		default:
			return canceled
		}
	}
}

// Stats returns pool counters
func (ip *InvokePool) Stats() InvokePoolStats {
	ip.mutex.Lock()
	defer ip.mutex.Unlock()
	return InvokePoolStats{
		Workers:   ip.workers,
		Pending:   len(ip.requests),
		Submitted: ip.submitted,
		Completed: ip.completed,
	}
}

// InvokePoolStats summarizes invoke pool activity
type InvokePoolStats struct {
	Workers   int
	Pending   int
	Submitted int
	Completed int
}

// Close stops accepting requests, waits for queued and in-flight calls to
// finish, then returns
func (ip *InvokePool) Close() {
	ip.mutex.Lock()
	if ip.closed {
		ip.mutex.Unlock()
		return
	}
	ip.closed = true
	ip.mutex.Unlock()

	close(ip.requests)
	ip.wg.Wait()
}
