package resolver

import (
	"errors"
	"unsafe"
)

var (
	// ErrSymbolNotFound is returned when no loaded library exports the
	// requested name. Loaders wrap this sentinel in their not-found errors.
	ErrSymbolNotFound = errors.New("symbol not found")

	// ErrLinkageMismatch is returned when a located symbol's declared arity
	// disagrees with the registered signature
	ErrLinkageMismatch = errors.New("extern linkage mismatch")
)

// Symbol is a callable address located in a loaded native library. Invoke
// performs the foreign call with an argv-style frame: one pointer per
// declared parameter, buffers as pointers to their flat descriptors and
// scalars as pointers to typed value slots. The call is synchronous; the
// calling goroutine is occupied for its duration and the call cannot be
// cancelled once in flight.
type Symbol interface {
	Invoke(argv []unsafe.Pointer) int32
}

// AritySymbol is implemented by symbols whose ABI exposes a declared
// argument count, letting the resolver catch linkage mismatches before the
// first call
type AritySymbol interface {
	Symbol
	DeclaredArity() int
}

// Loader locates callable symbols in already-loaded native libraries. It is
// the OS/loader collaborator: a single operation, treated as given. A loader
// returns an error wrapping ErrSymbolNotFound when the library exports no
// such name.
type Loader interface {
	LoadAndFindSymbol(libraryPath, symbolName string) (Symbol, error)
}
