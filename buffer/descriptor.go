package buffer

import (
	"fmt"
	"unsafe"
)

// ElementType identifies the fixed-width numeric type of a buffer element
type ElementType int

const (
	Int8 ElementType = iota
	UInt8
	Int16
	UInt16
	Int32
	UInt32
	Int64
	UInt64
	Float32
	Float64
)

func (e ElementType) String() string {
	switch e {
	case Int8:
		return "int8"
	case UInt8:
		return "uint8"
	case Int16:
		return "int16"
	case UInt16:
		return "uint16"
	case Int32:
		return "int32"
	case UInt32:
		return "uint32"
	case Int64:
		return "int64"
	case UInt64:
		return "uint64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "unknown"
	}
}

// Size returns the element width in bytes
func (e ElementType) Size() int {
	switch e {
	case Int8, UInt8:
		return 1
	case Int16, UInt16:
		return 2
	case Int32, UInt32, Float32:
		return 4
	case Int64, UInt64, Float64:
		return 8
	default:
		panic(fmt.Sprintf("unsupported element type: %d", e))
	}
}

// Valid reports whether e is one of the supported element types
func (e ElementType) Valid() bool {
	return e >= Int8 && e <= Float64
}

// MaxRank is the largest number of dimensions a descriptor may carry.
// It bounds the fixed-size dimension array in the ABI-stable RawDescriptor.
const MaxRank = 16

// Dim describes one dimension of a strided buffer view. Stride and Min are
// measured in elements, not bytes.
type Dim struct {
	Extent int64
	Stride int64
	Min    int64
}

// Descriptor describes a strided multi-dimensional array view passed across
// the extern call boundary. The underlying memory is owned by the caller for
// the duration of the call only; the extern function must not retain the
// data pointer beyond the call's return. The marshaling layer never mutates
// a descriptor after construction and never copies the data it points to.
type Descriptor struct {
	Elem ElementType
	Dims []Dim
	Data unsafe.Pointer
}

// Rank returns the number of dimensions
func (d *Descriptor) Rank() int {
	return len(d.Dims)
}

// NumElements returns the total number of addressable elements, the product
// of all extents. A rank-0 descriptor is a scalar view holding one element;
// a descriptor with any zero extent holds none.
func (d *Descriptor) NumElements() int64 {
	elements := int64(1)
	for _, dim := range d.Dims {
		elements *= dim.Extent
	}
	return elements
}

// String returns a string representation for debugging
func (d *Descriptor) String() string {
	extents := make([]int64, len(d.Dims))
	for i, dim := range d.Dims {
		extents[i] = dim.Extent
	}
	return fmt.Sprintf("Descriptor{elem=%s, rank=%d, extents=%v, data=%p}",
		d.Elem, d.Rank(), extents, d.Data)
}

// DenseDims builds a dense (contiguous, zero-min) dimension sequence for the
// given extents, innermost dimension first with stride 1.
func DenseDims(extents ...int64) []Dim {
	dims := make([]Dim, len(extents))
	stride := int64(1)
	for i, extent := range extents {
		dims[i] = Dim{Extent: extent, Stride: stride, Min: 0}
		stride *= extent
	}
	return dims
}

// NewDense creates a dense descriptor over caller-owned memory. The data
// pointer must address at least the product of the extents in elements.
func NewDense(elem ElementType, data unsafe.Pointer, extents ...int64) (*Descriptor, error) {
	d := &Descriptor{
		Elem: elem,
		Dims: DenseDims(extents...),
		Data: data,
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// FromInt32Slice creates a rank-1 dense descriptor aliasing the slice's
// backing array. The slice must outlive every call the descriptor is passed
// to; no copy is made.
func FromInt32Slice(data []int32) *Descriptor {
	return &Descriptor{
		Elem: Int32,
		Dims: DenseDims(int64(len(data))),
		Data: unsafe.Pointer(unsafe.SliceData(data)),
	}
}

// FromFloat32Slice creates a rank-1 dense descriptor aliasing the slice's
// backing array
func FromFloat32Slice(data []float32) *Descriptor {
	return &Descriptor{
		Elem: Float32,
		Dims: DenseDims(int64(len(data))),
		Data: unsafe.Pointer(unsafe.SliceData(data)),
	}
}

// FromFloat64Slice creates a rank-1 dense descriptor aliasing the slice's
// backing array
func FromFloat64Slice(data []float64) *Descriptor {
	return &Descriptor{
		Elem: Float64,
		Dims: DenseDims(int64(len(data))),
		Data: unsafe.Pointer(unsafe.SliceData(data)),
	}
}

// FromUint8Slice creates a rank-1 dense descriptor aliasing the slice's
// backing array
func FromUint8Slice(data []uint8) *Descriptor {
	return &Descriptor{
		Elem: UInt8,
		Dims: DenseDims(int64(len(data))),
		Data: unsafe.Pointer(unsafe.SliceData(data)),
	}
}

// Int32Data returns the descriptor's elements as an int32 slice aliasing the
// underlying memory. The descriptor must be dense and of element type Int32.
func (d *Descriptor) Int32Data() ([]int32, error) {
	if err := d.checkDenseView(Int32); err != nil {
		return nil, err
	}
	return unsafe.Slice((*int32)(d.Data), d.NumElements()), nil
}

// Float32Data returns the descriptor's elements as a float32 slice aliasing
// the underlying memory. The descriptor must be dense and of element type
// Float32.
func (d *Descriptor) Float32Data() ([]float32, error) {
	if err := d.checkDenseView(Float32); err != nil {
		return nil, err
	}
	return unsafe.Slice((*float32)(d.Data), d.NumElements()), nil
}

// Float64Data returns the descriptor's elements as a float64 slice aliasing
// the underlying memory
func (d *Descriptor) Float64Data() ([]float64, error) {
	if err := d.checkDenseView(Float64); err != nil {
		return nil, err
	}
	return unsafe.Slice((*float64)(d.Data), d.NumElements()), nil
}

// Uint8Data returns the descriptor's elements as a uint8 slice aliasing the
// underlying memory
func (d *Descriptor) Uint8Data() ([]uint8, error) {
	if err := d.checkDenseView(UInt8); err != nil {
		return nil, err
	}
	return unsafe.Slice((*uint8)(d.Data), d.NumElements()), nil
}

// checkDenseView validates preconditions for the typed slice views
func (d *Descriptor) checkDenseView(want ElementType) error {
	if d.Elem != want {
		return fmt.Errorf("descriptor element type is %s, expected %s", d.Elem, want)
	}
	if d.Data == nil {
		return fmt.Errorf("descriptor has nil data pointer")
	}
	if !d.IsDense() {
		return fmt.Errorf("descriptor is not dense: %s", d)
	}
	return nil
}

// IsDense reports whether the view is contiguous with zero mins: innermost
// stride 1 and each outer stride the product of the inner extents
func (d *Descriptor) IsDense() bool {
	stride := int64(1)
	for _, dim := range d.Dims {
		if dim.Min != 0 || dim.Stride != stride {
			return false
		}
		stride *= dim.Extent
	}
	return true
}
