package buffer

import (
	"fmt"
	"math"
)

// Validate checks the descriptor's geometry: every extent must be
// non-negative, the rank must not exceed MaxRank, and the stride/extent/min
// combination must stay within the addressable range of the data pointer
// (no int64 overflow anywhere in the element offset computation).
func (d *Descriptor) Validate() error {
	if !d.Elem.Valid() {
		return fmt.Errorf("unsupported element type %d", d.Elem)
	}
	if len(d.Dims) > MaxRank {
		return fmt.Errorf("rank %d exceeds maximum rank %d", len(d.Dims), MaxRank)
	}

	for i, dim := range d.Dims {
		if dim.Extent < 0 {
			return fmt.Errorf("dimension %d has negative extent %d", i, dim.Extent)
		}
	}

	// The element at coordinate x is addressed at
	// sum_i((x_i - min_i) * stride_i) elements from the data pointer, with
	// x_i ranging over [min_i, min_i+extent_i). Walk the span of that sum
	// with checked arithmetic; any overflow means the descriptor could
	// address memory outside the pointer's range.
	var lo, hi int64
	for i, dim := range d.Dims {
		if dim.Extent == 0 {
			continue
		}
		span, ok := mulInt64(dim.Stride, dim.Extent-1)
		if !ok {
			return fmt.Errorf("dimension %d: stride %d x extent %d overflows", i, dim.Stride, dim.Extent)
		}
		if span >= 0 {
			if hi, ok = addInt64(hi, span); !ok {
				return fmt.Errorf("dimension %d: accumulated extent span overflows", i)
			}
		} else {
			if lo, ok = addInt64(lo, span); !ok {
				return fmt.Errorf("dimension %d: accumulated extent span overflows", i)
			}
		}
		if _, ok = mulInt64(dim.Min, dim.Stride); !ok {
			return fmt.Errorf("dimension %d: min %d x stride %d overflows", i, dim.Min, dim.Stride)
		}
	}

	// Scale the element span to bytes
	elemSize := int64(d.Elem.Size())
	if _, ok := mulInt64(hi, elemSize); !ok {
		return fmt.Errorf("byte span of %d elements overflows for %s", hi, d.Elem)
	}
	if _, ok := mulInt64(lo, elemSize); !ok {
		return fmt.Errorf("byte span of %d elements overflows for %s", lo, d.Elem)
	}

	return nil
}

// mulInt64 multiplies with overflow detection
func mulInt64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	// MinInt64 * -1 is the one case division cannot detect
	if (a == math.MinInt64 && b == -1) || (b == math.MinInt64 && a == -1) {
		return 0, false
	}
	product := a * b
	if product/b != a {
		return 0, false
	}
	return product, true
}

// addInt64 adds with overflow detection
func addInt64(a, b int64) (int64, bool) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, false
	}
	if b < 0 && a < math.MinInt64-b {
		return 0, false
	}
	return a + b, true
}
