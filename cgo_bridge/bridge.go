// Package cgo_bridge resolves extern symbols in dynamically loaded native
// libraries via dlopen/dlsym and calls them through the argv wrapper
// convention.
//
// The documented ABI: an extern function linkable through this loader
// exposes a wrapper
//
//	int32_t name(void **argv);
//
// where argv carries one pointer per declared parameter — buffer parameters
// point at the flat descriptor layout of buffer.RawDescriptor (data pointer,
// int32 element tag, int32 rank, then 16 extent/stride/min int64 triples),
// scalar parameters point at a value slot of the declared type in native
// byte order. The wrapper returns the call's status code, 0 for success.
// Producing the wrapper is a packaging concern of the external library's
// build, not of this mechanism.
package cgo_bridge

/*
#cgo linux LDFLAGS: -ldl
#include <stdlib.h>
#include <stdint.h>
#include <dlfcn.h>

// Extern functions expose the argv wrapper convention:
//   int32_t f(void **argv);
typedef int32_t (*extern_argv_fn)(void **);

static int32_t call_extern_argv(void *fn, void *argv) {
	return ((extern_argv_fn)fn)((void **)argv);
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/tsawler/go-extern/resolver"
)

// DylibLoader implements resolver.Loader over the OS dynamic loader.
// Library handles are opened once and cached; dlclose happens at Close.
type DylibLoader struct {
	mutex   sync.Mutex
	handles map[string]unsafe.Pointer
	closed  bool
}

// NewDylibLoader creates a loader with no libraries opened
func NewDylibLoader() *DylibLoader {
	return &DylibLoader{
		handles: make(map[string]unsafe.Pointer),
	}
}

// LoadAndFindSymbol opens the library at libraryPath (once; the handle is
// cached) and locates symbolName in it
func (dl *DylibLoader) LoadAndFindSymbol(libraryPath, symbolName string) (resolver.Symbol, error) {
	handle, err := dl.handle(libraryPath)
	if err != nil {
		return nil, err
	}

	cName := C.CString(symbolName)
	defer C.free(unsafe.Pointer(cName))

	C.dlerror() // Clear any stale error
	addr := C.dlsym(handle, cName)
	if addr == nil {
		if msg := C.dlerror(); msg != nil {
			return nil, fmt.Errorf("%w: %q: %s", resolver.ErrSymbolNotFound, symbolName, C.GoString(msg))
		}
		return nil, fmt.Errorf("%w: %q", resolver.ErrSymbolNotFound, symbolName)
	}

	return &dylibSymbol{name: symbolName, addr: addr}, nil
}

// handle returns the cached dlopen handle for libraryPath, opening it on
// first use
func (dl *DylibLoader) handle(libraryPath string) (unsafe.Pointer, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if dl.closed {
		return nil, fmt.Errorf("loader is closed")
	}
	if handle, exists := dl.handles[libraryPath]; exists {
		return handle, nil
	}

	cPath := C.CString(libraryPath)
	defer C.free(unsafe.Pointer(cPath))

	handle := C.dlopen(cPath, C.RTLD_NOW|C.RTLD_LOCAL)
	if handle == nil {
		if msg := C.dlerror(); msg != nil {
			return nil, fmt.Errorf("failed to load library %q: %s", libraryPath, C.GoString(msg))
		}
		return nil, fmt.Errorf("failed to load library %q", libraryPath)
	}

	dl.handles[libraryPath] = handle
	return handle, nil
}

// Close releases all opened library handles. Symbols located through the
// loader must not be invoked afterwards.
func (dl *DylibLoader) Close() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	if dl.closed {
		return
	}
	dl.closed = true

	for _, handle := range dl.handles {
		C.dlclose(handle)
	}
	dl.handles = nil
}

// dylibSymbol is a callable address in a dlopen'd library. The dynamic
// loader's ABI exposes no arity, so no linkage check is possible here.
type dylibSymbol struct {
	name string
	addr unsafe.Pointer
}

// Invoke performs the foreign call through the C trampoline. The frame
// builder allocates argv fresh per call and the call is synchronous, so no
// native code observes it after return.
func (s *dylibSymbol) Invoke(argv []unsafe.Pointer) int32 {
	var base unsafe.Pointer
	if len(argv) > 0 {
		base = unsafe.Pointer(&argv[0])
	}
	return int32(C.call_extern_argv(s.addr, base))
}
