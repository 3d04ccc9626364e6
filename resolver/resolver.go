// Package resolver turns registered extern names into callable addresses,
// caching each resolution for the lifetime of the owning pipeline instance.
package resolver

import (
	"fmt"
	"sync"

	"github.com/tsawler/go-extern/registry"
)

// ResolvedSymbol pairs a registered signature with the callable address the
// loader located for it. Created lazily on first call to a name and cached
// until the owning resolver is closed.
type ResolvedSymbol struct {
	Signature registry.Signature
	Symbol    Symbol
}

// inflight tracks one in-progress resolution so concurrent first-use
// resolutions of the same name collapse into a single loader query
type inflight struct {
	done chan struct{}
	sym  *ResolvedSymbol
	err  error
}

// Resolver resolves extern names against a native library through a Loader
// and caches the results. The cache starts empty, is keyed by name, and is
// never evicted within the resolver's lifetime; resolution of distinct names
// proceeds independently. Safe for concurrent use.
type Resolver struct {
	loader      Loader
	libraryPath string

	mutex    sync.Mutex
	cache    map[string]*ResolvedSymbol
	inflight map[string]*inflight
	closed   bool
}

// NewResolver creates a resolver that locates symbols in the library at
// libraryPath via loader
func NewResolver(loader Loader, libraryPath string) *Resolver {
	return &Resolver{
		loader:      loader,
		libraryPath: libraryPath,
		cache:       make(map[string]*ResolvedSymbol),
		inflight:    make(map[string]*inflight),
	}
}

// Resolve locates the callable address for the signature's name. The first
// call for a name queries the loader; subsequent calls return the cached
// entry without touching the loader. Concurrent first-use calls for the same
// name perform exactly one loader query, with the waiters observing the
// winner's result. Failed resolutions are not cached.
func (r *Resolver) Resolve(sig registry.Signature) (*ResolvedSymbol, error) {
	name := sig.Name

	r.mutex.Lock()
	if r.closed {
		r.mutex.Unlock()
		return nil, fmt.Errorf("resolver is closed")
	}
	if rs, exists := r.cache[name]; exists {
		r.mutex.Unlock()
		return rs, nil
	}
	if fl, exists := r.inflight[name]; exists {
		r.mutex.Unlock()
		<-fl.done
		if fl.err != nil {
			return nil, fl.err
		}
		return fl.sym, nil
	}
	fl := &inflight{done: make(chan struct{})}
	r.inflight[name] = fl
	r.mutex.Unlock()

	rs, err := r.resolve(sig)

	r.mutex.Lock()
	if err == nil && !r.closed {
		r.cache[name] = rs
	}
	delete(r.inflight, name)
	fl.sym, fl.err = rs, err
	close(fl.done)
	r.mutex.Unlock()

	return rs, err
}

// resolve performs the actual loader query and linkage check, outside the
// resolver lock so unrelated names resolve concurrently
func (r *Resolver) resolve(sig registry.Signature) (*ResolvedSymbol, error) {
	sym, err := r.loader.LoadAndFindSymbol(r.libraryPath, sig.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", sig.Name, err)
	}

	if arity, exposed := declaredArity(sym); exposed && arity != sig.Arity() {
		return nil, fmt.Errorf("%w: %q exports %d arguments, signature declares %d",
			ErrLinkageMismatch, sig.Name, arity, sig.Arity())
	}

	return &ResolvedSymbol{Signature: sig, Symbol: sym}, nil
}

// declaredArity reports the symbol's exported arity when the ABI exposes one
func declaredArity(sym Symbol) (int, bool) {
	if as, ok := sym.(AritySymbol); ok {
		return as.DeclaredArity(), true
	}
	return 0, false
}

// Cached returns the cached resolution for name, if present
func (r *Resolver) Cached(name string) (*ResolvedSymbol, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	rs, exists := r.cache[name]
	return rs, exists
}

// Len returns the number of cached resolutions
func (r *Resolver) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.cache)
}

// Close drops all cached addresses. Part of pipeline instance teardown; a
// fresh instance starts with an empty cache.
func (r *Resolver) Close() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.closed = true
	r.cache = make(map[string]*ResolvedSymbol)
}
