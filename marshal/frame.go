package marshal

import (
	"runtime"
	"unsafe"

	"github.com/tsawler/go-extern/buffer"
	"github.com/tsawler/go-extern/registry"
)

// callFrame is the transient argv frame assembled for a single invocation
// and discarded when the call returns. One pointer slot per declared
// parameter: buffer parameters point at a flat RawDescriptor laid out in the
// frame, scalar parameters point at a typed value slot. Frames are
// stack-scoped per call and never shared across concurrent calls.
type callFrame struct {
	argv    []unsafe.Pointer
	raws    []buffer.RawDescriptor
	scalars []uint64
	outs    []*buffer.Descriptor
}

// newCallFrame lays out the frame for validated arguments. args must already
// match sig parameter for parameter.
func newCallFrame(sig registry.Signature, args []Arg) *callFrame {
	frame := &callFrame{
		argv: make([]unsafe.Pointer, len(args)),
	}

	// Slot storage is sized up front so later appends cannot move earlier
	// slots after their addresses are taken
	numBuffers, numScalars := 0, 0
	for _, p := range sig.Params {
		if p.Kind == registry.Buffer {
			numBuffers++
		} else {
			numScalars++
		}
	}
	frame.raws = make([]buffer.RawDescriptor, 0, numBuffers)
	frame.scalars = make([]uint64, 0, numScalars)

	for i, p := range sig.Params {
		if p.Kind == registry.Buffer {
			frame.raws = append(frame.raws, args[i].buf.Raw())
			frame.argv[i] = unsafe.Pointer(&frame.raws[len(frame.raws)-1])
			if p.Out {
				frame.outs = append(frame.outs, args[i].buf)
			}
		} else {
			frame.scalars = append(frame.scalars, args[i].scalarBits)
			frame.argv[i] = unsafe.Pointer(&frame.scalars[len(frame.scalars)-1])
		}
	}

	return frame
}

// pin pins every Go allocation the native side will dereference during the
// call: the descriptor and scalar slots the argv entries point at, and the
// buffer memory each descriptor's data pointer addresses. Required by the
// cgo pointer-passing rules when the symbol lives in a dynamically loaded
// library; pinning is a no-op for data that is not Go memory. Unpin after
// the call returns.
func (f *callFrame) pin(pinner *runtime.Pinner) {
	for i := range f.raws {
		pinner.Pin(&f.raws[i])
		if f.raws[i].Data != nil {
			pinner.Pin(f.raws[i].Data)
		}
	}
	for i := range f.scalars {
		pinner.Pin(&f.scalars[i])
	}
}
