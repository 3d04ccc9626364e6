package marshal

import (
	"unsafe"

	"github.com/tsawler/go-extern/buffer"
	"github.com/tsawler/go-extern/registry"
)

// Arg is one actual argument to an extern call: either a buffer descriptor
// or a scalar value of a declared type. Construct with BufferArg or one of
// the typed scalar constructors.
type Arg struct {
	kind registry.ParamKind
	buf  *buffer.Descriptor

	scalarElem buffer.ElementType
	scalarBits uint64 // Scalar value in native byte order, low bytes significant
}

// BufferArg passes a buffer by descriptor. The descriptor and the memory it
// points to are owned by the caller and must outlive the call.
func BufferArg(d *buffer.Descriptor) Arg {
	return Arg{kind: registry.Buffer, buf: d}
}

// Kind returns whether the argument is a scalar or a buffer
func (a Arg) Kind() registry.ParamKind {
	return a.kind
}

// Buffer returns the descriptor of a buffer argument, nil for scalars
func (a Arg) Buffer() *buffer.Descriptor {
	return a.buf
}

func scalarArg(elem buffer.ElementType, bits uint64) Arg {
	return Arg{kind: registry.Scalar, scalarElem: elem, scalarBits: bits}
}

// Int8Arg passes an int8 scalar by value
func Int8Arg(v int8) Arg {
	var bits uint64
	*(*int8)(unsafe.Pointer(&bits)) = v
	return scalarArg(buffer.Int8, bits)
}

// Uint8Arg passes a uint8 scalar by value
func Uint8Arg(v uint8) Arg {
	var bits uint64
	*(*uint8)(unsafe.Pointer(&bits)) = v
	return scalarArg(buffer.UInt8, bits)
}

// Int16Arg passes an int16 scalar by value
func Int16Arg(v int16) Arg {
	var bits uint64
	*(*int16)(unsafe.Pointer(&bits)) = v
	return scalarArg(buffer.Int16, bits)
}

// Uint16Arg passes a uint16 scalar by value
func Uint16Arg(v uint16) Arg {
	var bits uint64
	*(*uint16)(unsafe.Pointer(&bits)) = v
	return scalarArg(buffer.UInt16, bits)
}

// Int32Arg passes an int32 scalar by value
func Int32Arg(v int32) Arg {
	var bits uint64
	*(*int32)(unsafe.Pointer(&bits)) = v
	return scalarArg(buffer.Int32, bits)
}

// Uint32Arg passes a uint32 scalar by value
func Uint32Arg(v uint32) Arg {
	var bits uint64
	*(*uint32)(unsafe.Pointer(&bits)) = v
	return scalarArg(buffer.UInt32, bits)
}

// Int64Arg passes an int64 scalar by value
func Int64Arg(v int64) Arg {
	var bits uint64
	*(*int64)(unsafe.Pointer(&bits)) = v
	return scalarArg(buffer.Int64, bits)
}

// Uint64Arg passes a uint64 scalar by value
func Uint64Arg(v uint64) Arg {
	return scalarArg(buffer.UInt64, v)
}

// Float32Arg passes a float32 scalar by value
func Float32Arg(v float32) Arg {
	var bits uint64
	*(*float32)(unsafe.Pointer(&bits)) = v
	return scalarArg(buffer.Float32, bits)
}

// Float64Arg passes a float64 scalar by value
func Float64Arg(v float64) Arg {
	var bits uint64
	*(*float64)(unsafe.Pointer(&bits)) = v
	return scalarArg(buffer.Float64, bits)
}
