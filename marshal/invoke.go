// Package marshal validates actual arguments against registered extern
// signatures, lays out the native call frame, performs the foreign call and
// captures its status code.
package marshal

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/tsawler/go-extern/buffer"
	"github.com/tsawler/go-extern/registry"
	"github.com/tsawler/go-extern/resolver"
)

var (
	// ErrArityMismatch is returned when the actual argument count differs
	// from the declared arity
	ErrArityMismatch = errors.New("extern call arity mismatch")

	// ErrTypeMismatch is returned when an actual argument's type differs
	// from the declared parameter type. Element types must match exactly;
	// there is no implicit widening.
	ErrTypeMismatch = errors.New("extern call type mismatch")

	// ErrRankMismatch is returned when an actual buffer's rank differs from
	// the declared rank
	ErrRankMismatch = errors.New("extern call rank mismatch")

	// ErrInvalidBufferGeometry is returned when an actual buffer has a
	// negative extent or its stride/extent/min combination overflows the
	// addressable range
	ErrInvalidBufferGeometry = errors.New("invalid buffer geometry")
)

// Invoke validates args against the resolved signature, lays out the call
// frame and performs the foreign call synchronously. It returns the buffers
// the signature declares as written-through and the extern function's int32
// status code, 0 for success. Validation failures return before any native
// call, so a rejected invocation has no side effects. Buffer contents are
// never copied; descriptors alias caller-owned memory throughout.
func Invoke(rs *resolver.ResolvedSymbol, args []Arg) ([]*buffer.Descriptor, int32, error) {
	sig := rs.Signature

	if len(args) != len(sig.Params) {
		return nil, 0, fmt.Errorf("%w: %q declares %d parameters, got %d arguments",
			ErrArityMismatch, sig.Name, len(sig.Params), len(args))
	}

	// Validate everything before building the frame: zero native calls on
	// any failure
	for i, p := range sig.Params {
		if err := validateArg(sig.Name, i, p, args[i]); err != nil {
			return nil, 0, err
		}
	}

	frame := newCallFrame(sig, args)

	var pinner runtime.Pinner
	frame.pin(&pinner)
	defer pinner.Unpin()

	status := rs.Symbol.Invoke(frame.argv)

	if status != 0 {
		// Out buffers from a failed call may be partially written and are
		// never exposed
		return nil, status, nil
	}
	return frame.outs, 0, nil
}

// validateArg checks one actual argument against its declared parameter
func validateArg(name string, i int, p registry.Param, a Arg) error {
	if a.kind != p.Kind {
		return fmt.Errorf("%w: %q parameter %d declared %s, got %s",
			ErrTypeMismatch, name, i, p.Kind, a.kind)
	}

	if p.Kind == registry.Scalar {
		if a.scalarElem != p.Elem {
			return fmt.Errorf("%w: %q parameter %d declared %s, got %s",
				ErrTypeMismatch, name, i, p.Elem, a.scalarElem)
		}
		return nil
	}

	d := a.buf
	if d == nil {
		return fmt.Errorf("%w: %q parameter %d has nil buffer descriptor",
			ErrTypeMismatch, name, i)
	}
	if d.Elem != p.Elem {
		return fmt.Errorf("%w: %q parameter %d declared buffer<%s>, got buffer<%s>",
			ErrTypeMismatch, name, i, p.Elem, d.Elem)
	}
	if d.Rank() != p.Rank {
		return fmt.Errorf("%w: %q parameter %d declared rank %d, got rank %d",
			ErrRankMismatch, name, i, p.Rank, d.Rank())
	}
	if err := d.Validate(); err != nil {
		return fmt.Errorf("%w: %q parameter %d: %v",
			ErrInvalidBufferGeometry, name, i, err)
	}
	return nil
}
