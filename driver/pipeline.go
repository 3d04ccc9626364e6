// Package driver integrates extern calls into a pipeline's execution: it
// owns the per-instance symbol cache, tracks call-site state, and converts
// native status codes into the pipeline's uniform error type.
package driver

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tsawler/go-extern/buffer"
	"github.com/tsawler/go-extern/marshal"
	"github.com/tsawler/go-extern/registry"
	"github.com/tsawler/go-extern/resolver"
)

// ExternCallError reports a non-zero status code returned by an extern
// function. It marks a hard failure of the producing stage: the stage's
// output buffers may be partially written and are never exposed. There is no
// automatic retry; extern functions are not assumed idempotent-safe.
type ExternCallError struct {
	Name string
	Code int32
}

func (e *ExternCallError) Error() string {
	return fmt.Sprintf("extern call %q failed with code %d", e.Name, e.Code)
}

// Pipeline is one pipeline instance's view of the extern-call mechanism. It
// owns a signature registry and a symbol cache scoped to its own lifecycle:
// the cache starts empty at creation and its addresses are dropped at Close.
// The pipeline's execution driver may call Invoke from parallel workers; the
// mechanism itself introduces no additional parallelism.
type Pipeline struct {
	id       uuid.UUID
	registry *registry.Registry
	resolver *resolver.Resolver

	mutex  sync.Mutex
	sites  map[string]*callSite
	closed bool
}

// NewPipeline creates a pipeline instance resolving extern symbols in the
// library at libraryPath through loader
func NewPipeline(reg *registry.Registry, loader resolver.Loader, libraryPath string) *Pipeline {
	return &Pipeline{
		id:       uuid.New(),
		registry: reg,
		resolver: resolver.NewResolver(loader, libraryPath),
		sites:    make(map[string]*callSite),
	}
}

// ID returns the instance's unique identifier
func (p *Pipeline) ID() uuid.UUID {
	return p.id
}

// Registry returns the pipeline's signature registry
func (p *Pipeline) Registry() *registry.Registry {
	return p.registry
}

// Invoke performs the named extern call with the given actual arguments and
// returns the written-through out buffers and the call's status code.
//
// The name must be registered: an unknown name fails with
// registry.ErrUnknownExtern before any resolver or loader work. The first
// invocation of a name resolves its symbol, cached for the instance's
// lifetime. A non-zero status surfaces as *ExternCallError, the site's state
// becomes Failed, and no outputs are returned.
func (p *Pipeline) Invoke(name string, args []marshal.Arg) ([]*buffer.Descriptor, int32, error) {
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return nil, 0, fmt.Errorf("pipeline %s is closed", p.id)
	}
	p.mutex.Unlock()

	// Registration is checked before any loader interaction
	sig, err := p.registry.Lookup(name)
	if err != nil {
		return nil, 0, err
	}

	site := p.site(name)

	rs, failure, needResolve := site.beginResolve()
	if failure != nil {
		return nil, 0, failure
	}
	if needResolve {
		rs, err = p.resolver.Resolve(sig)
		site.finishResolve(rs, err)
		if err != nil {
			return nil, 0, err
		}
	} else if rs == nil {
		// Another worker is mid-resolution; the resolver collapses the
		// concurrent queries into one
		rs, err = p.resolver.Resolve(sig)
		site.finishResolve(rs, err)
		if err != nil {
			return nil, 0, err
		}
	}

	site.beginInvoke()
	outs, status, err := marshal.Invoke(rs, args)
	if err != nil {
		site.settle()
		return nil, 0, err
	}
	if status != 0 {
		callErr := &ExternCallError{Name: name, Code: status}
		site.fail(callErr)
		return nil, status, callErr
	}

	site.succeed()
	return outs, 0, nil
}

// SiteState returns the state of the named call site. Sites are created on
// first invocation; an unknown name reports Unresolved.
func (p *Pipeline) SiteState(name string) CallState {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if site, exists := p.sites[name]; exists {
		return site.State()
	}
	return StateUnresolved
}

// site returns the call site for name, creating it on first use
func (p *Pipeline) site(name string) *callSite {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	site, exists := p.sites[name]
	if !exists {
		site = newCallSite(name)
		p.sites[name] = site
	}
	return site
}

// Stats returns per-instance counters
func (p *Pipeline) Stats() PipelineStats {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	stats := PipelineStats{
		Registered: p.registry.Len(),
		Resolved:   p.resolver.Len(),
	}
	for _, site := range p.sites {
		switch site.State() {
		case StateFailed:
			stats.FailedSites++
		case StateSucceeded, StateResolved, StateInvoking:
			stats.ActiveSites++
		}
	}
	return stats
}

// PipelineStats summarizes a pipeline instance's extern-call activity
type PipelineStats struct {
	Registered  int
	Resolved    int
	ActiveSites int
	FailedSites int
}

// Close tears the instance down: cached symbol addresses are dropped and
// further invocations are refused. A fresh instance starts with an empty
// cache.
func (p *Pipeline) Close() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.sites = make(map[string]*callSite)
	p.resolver.Close()
}
