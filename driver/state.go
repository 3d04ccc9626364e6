package driver

import (
	"sync"

	"github.com/tsawler/go-extern/resolver"
)

// CallState is the lifecycle state of a call site
type CallState int

const (
	StateUnresolved CallState = iota
	StateResolving
	StateResolved
	StateInvoking
	StateSucceeded
	StateFailed
)

func (s CallState) String() string {
	switch s {
	case StateUnresolved:
		return "Unresolved"
	case StateResolving:
		return "Resolving"
	case StateResolved:
		return "Resolved"
	case StateInvoking:
		return "Invoking"
	case StateSucceeded:
		return "Succeeded"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// callSite tracks one extern call site through
// Unresolved → Resolving → Resolved ⇄ Invoking → (Succeeded | Failed).
// Resolved is stable and reused across many invocations. Failed is sticky:
// the failure propagates upward and the site never transitions back on its
// own — retry policy belongs to the calling pipeline configuration, not to
// this mechanism.
type callSite struct {
	name string

	mutex    sync.Mutex
	state    CallState
	resolved *resolver.ResolvedSymbol
	failure  error
}

func newCallSite(name string) *callSite {
	return &callSite{name: name, state: StateUnresolved}
}

// State returns the site's current state
func (cs *callSite) State() CallState {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	return cs.state
}

// beginResolve moves Unresolved → Resolving and reports whether resolution
// is needed. A failed site reports its recorded failure instead.
func (cs *callSite) beginResolve() (*resolver.ResolvedSymbol, error, bool) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	switch cs.state {
	case StateFailed:
		return nil, cs.failure, false
	case StateUnresolved:
		cs.state = StateResolving
		return nil, nil, true
	default:
		return cs.resolved, nil, false
	}
}

// finishResolve records the resolution outcome. Resolution failure returns
// the site to Unresolved: resolution errors are fatal to the requesting call
// but a later call may resolve a since-loaded library.
func (cs *callSite) finishResolve(rs *resolver.ResolvedSymbol, err error) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	if err != nil {
		cs.state = StateUnresolved
		return
	}
	cs.resolved = rs
	cs.state = StateResolved
}

// beginInvoke moves Resolved/Succeeded → Invoking. A site another worker
// failed in the meantime stays Failed.
func (cs *callSite) beginInvoke() {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	if cs.state == StateFailed {
		return
	}
	cs.state = StateInvoking
}

// succeed records a successful invocation. Failed takes precedence: a
// success completing after a concurrent call failed the site must not
// resurrect it.
func (cs *callSite) succeed() {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	if cs.state == StateFailed {
		return
	}
	cs.state = StateSucceeded
}

// settle returns an Invoking site to Resolved after a rejected invocation
// (validation failure before any native call)
func (cs *callSite) settle() {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	if cs.state == StateInvoking {
		cs.state = StateResolved
	}
}

// fail records a hard failure of the producing stage
func (cs *callSite) fail(err error) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	cs.state = StateFailed
	cs.failure = err
}
