package buffer

import (
	"unsafe"
)

// RawDim is the fixed-layout form of Dim that crosses the ABI boundary.
// Three little-endian int64 fields, 24 bytes, no padding.
type RawDim struct {
	Extent int64
	Stride int64
	Min    int64
}

// RawDescriptor is the flat, fixed-layout form of Descriptor placed in the
// call frame. Native code receives a pointer to this struct for every buffer
// argument. Layout (documented ABI): data pointer, then elem and rank as
// int32, then MaxRank RawDim entries of which the first rank are meaningful.
// The data pointer aliases caller-owned memory; only the descriptor header
// is laid out by value, buffer contents are never copied.
type RawDescriptor struct {
	Data unsafe.Pointer
	Elem int32
	Rank int32
	Dims [MaxRank]RawDim
}

// Raw converts the descriptor to its flat form. The caller must have
// validated the descriptor first; ranks above MaxRank do not fit.
func (d *Descriptor) Raw() RawDescriptor {
	raw := RawDescriptor{
		Data: d.Data,
		Elem: int32(d.Elem),
		Rank: int32(len(d.Dims)),
	}
	for i, dim := range d.Dims {
		raw.Dims[i] = RawDim{Extent: dim.Extent, Stride: dim.Stride, Min: dim.Min}
	}
	return raw
}

// Descriptor reconstructs a Descriptor view from the flat form. The returned
// descriptor aliases the same underlying memory.
func (r *RawDescriptor) Descriptor() *Descriptor {
	dims := make([]Dim, r.Rank)
	for i := range dims {
		dims[i] = Dim{
			Extent: r.Dims[i].Extent,
			Stride: r.Dims[i].Stride,
			Min:    r.Dims[i].Min,
		}
	}
	return &Descriptor{
		Elem: ElementType(r.Elem),
		Dims: dims,
		Data: r.Data,
	}
}
