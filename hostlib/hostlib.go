// Package hostlib provides an in-process native library: routines
// implemented in Go, exposed to pipelines by symbol name through the
// standard resolver.Loader contract. It serves JIT-style pipelines whose
// extern functions live in the host process, and it is the loader the test
// suite drives calls through.
package hostlib

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/tsawler/go-extern/buffer"
	"github.com/tsawler/go-extern/resolver"
)

// Func is a routine callable through the extern mechanism. It receives the
// argv frame directly: one pointer per declared parameter, buffers as
// pointers to their flat descriptors, scalars as pointers to typed value
// slots. Use the package accessors to read arguments. The returned int32 is
// the call's status code, 0 for success.
type Func func(argv []unsafe.Pointer) int32

// entry is one registered routine with its declared arity
type entry struct {
	fn    Func
	arity int
}

// Library is a registry of in-process routines implementing resolver.Loader.
// Safe for concurrent use.
type Library struct {
	mutex    sync.RWMutex
	funcs    map[string]entry
	resolves map[string]int // Loader query counts, observable by tests
}

// NewLibrary creates an empty in-process library
func NewLibrary() *Library {
	return &Library{
		funcs:    make(map[string]entry),
		resolves: make(map[string]int),
	}
}

// Register exposes fn under symbolName with the given declared arity. The
// arity participates in the resolver's linkage check.
func (l *Library) Register(symbolName string, arity int, fn Func) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.funcs[symbolName] = entry{fn: fn, arity: arity}
}

// LoadAndFindSymbol implements resolver.Loader. The libraryPath is ignored;
// an in-process library is always loaded.
func (l *Library) LoadAndFindSymbol(libraryPath, symbolName string) (resolver.Symbol, error) {
	l.mutex.Lock()
	l.resolves[symbolName]++
	e, exists := l.funcs[symbolName]
	l.mutex.Unlock()

	if !exists {
		return nil, fmt.Errorf("%w: %q not exported by host library", resolver.ErrSymbolNotFound, symbolName)
	}
	return &symbol{name: symbolName, entry: e}, nil
}

// ResolveCount returns how many loader queries have been made for
// symbolName, including failed ones
func (l *Library) ResolveCount(symbolName string) int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.resolves[symbolName]
}

// symbol adapts a registered routine to the resolver's Symbol contract
type symbol struct {
	name  string
	entry entry
}

func (s *symbol) Invoke(argv []unsafe.Pointer) int32 {
	return s.entry.fn(argv)
}

func (s *symbol) DeclaredArity() int {
	return s.entry.arity
}

// Argument accessors for routine implementations

// BufferArg reconstructs the descriptor of the buffer argument in slot i.
// The returned descriptor aliases the caller's memory.
func BufferArg(argv []unsafe.Pointer, i int) *buffer.Descriptor {
	raw := (*buffer.RawDescriptor)(argv[i])
	return raw.Descriptor()
}

// Int32Arg reads the int32 scalar in slot i
func Int32Arg(argv []unsafe.Pointer, i int) int32 {
	return *(*int32)(argv[i])
}

// Int64Arg reads the int64 scalar in slot i
func Int64Arg(argv []unsafe.Pointer, i int) int64 {
	return *(*int64)(argv[i])
}

// Float32Arg reads the float32 scalar in slot i
func Float32Arg(argv []unsafe.Pointer, i int) float32 {
	return *(*float32)(argv[i])
}

// Float64Arg reads the float64 scalar in slot i
func Float64Arg(argv []unsafe.Pointer, i int) float64 {
	return *(*float64)(argv[i])
}

// Uint8Arg reads the uint8 scalar in slot i
func Uint8Arg(argv []unsafe.Pointer, i int) uint8 {
	return *(*uint8)(argv[i])
}
