// Package registry holds the declared signatures of extern functions: the
// typed contracts the pipeline compiler registers at build time and the
// execution driver checks at call time.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrDuplicateSignature is returned when a name is re-registered with a
	// structurally different signature
	ErrDuplicateSignature = errors.New("duplicate extern signature")

	// ErrUnknownExtern is returned when a name was never registered
	ErrUnknownExtern = errors.New("unknown extern")
)

// Registry maps extern function names to their declared signatures.
// Safe for concurrent use.
type Registry struct {
	mutex sync.RWMutex
	sigs  map[string]Signature
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sigs: make(map[string]Signature),
	}
}

// Register declares the signature of the named extern function.
// Re-registering a structurally equal signature is idempotent; registering a
// conflicting signature under an already-registered name fails with
// ErrDuplicateSignature.
func (r *Registry) Register(name string, sig Signature) error {
	sig.Name = name
	if err := sig.validate(); err != nil {
		return fmt.Errorf("invalid signature for %q: %v", name, err)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if existing, exists := r.sigs[name]; exists {
		if existing.Equal(sig) {
			return nil // Idempotent re-registration
		}
		return fmt.Errorf("%w: %q already registered as %s", ErrDuplicateSignature, name, existing)
	}

	r.sigs[name] = sig.clone()
	return nil
}

// Lookup returns the registered signature for name, or ErrUnknownExtern
func (r *Registry) Lookup(name string) (Signature, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	sig, exists := r.sigs[name]
	if !exists {
		return Signature{}, fmt.Errorf("%w: %q", ErrUnknownExtern, name)
	}
	return sig.clone(), nil
}

// Names returns all registered names in sorted order
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.sigs))
	for name := range r.sigs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered signatures
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.sigs)
}
