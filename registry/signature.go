package registry

import (
	"fmt"
	"strings"

	"github.com/tsawler/go-extern/buffer"
)

// ParamKind distinguishes scalar parameters from buffer parameters
type ParamKind int

const (
	Scalar ParamKind = iota
	Buffer
)

func (k ParamKind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case Buffer:
		return "buffer"
	default:
		return "unknown"
	}
}

// Param declares one parameter of an extern function. Rank is meaningful
// only for buffer parameters. Out marks a buffer the extern function writes
// through; the marshaler returns out buffers to the caller after the call.
type Param struct {
	Kind ParamKind
	Elem buffer.ElementType
	Rank int
	Out  bool
}

// ScalarParam declares a by-value scalar parameter
func ScalarParam(elem buffer.ElementType) Param {
	return Param{Kind: Scalar, Elem: elem}
}

// BufferParam declares an input buffer parameter of the given element type
// and rank
func BufferParam(elem buffer.ElementType, rank int) Param {
	return Param{Kind: Buffer, Elem: elem, Rank: rank}
}

// OutBufferParam declares a buffer parameter the extern function writes
// through
func OutBufferParam(elem buffer.ElementType, rank int) Param {
	return Param{Kind: Buffer, Elem: elem, Rank: rank, Out: true}
}

// Signature is the declared contract of an extern function: its parameter
// list in call order. The return type is always an int32 status code, 0 for
// success — the minimal surface external native code can reliably honor
// across an ABI boundary. Signatures are immutable once registered.
type Signature struct {
	Name   string
	Params []Param
}

// NewSignature creates a signature for the named extern function
func NewSignature(name string, params ...Param) Signature {
	return Signature{Name: name, Params: params}
}

// Arity returns the number of declared parameters
func (s Signature) Arity() int {
	return len(s.Params)
}

// Equal reports structural equality: same parameter kinds, element types,
// ranks and out-ness in the same order. Names are not compared; the registry
// keys by name.
func (s Signature) Equal(other Signature) bool {
	if len(s.Params) != len(other.Params) {
		return false
	}
	for i, p := range s.Params {
		if p != other.Params[i] {
			return false
		}
	}
	return true
}

// clone returns a deep copy so registered signatures cannot be mutated
// through the caller's parameter slice
func (s Signature) clone() Signature {
	params := make([]Param, len(s.Params))
	copy(params, s.Params)
	return Signature{Name: s.Name, Params: params}
}

// String returns a readable form like "add_one(buffer<int32,1>, out buffer<int32,1>) -> int32"
func (s Signature) String() string {
	var b strings.Builder
	b.WriteString(s.Name)
	b.WriteByte('(')
	for i, p := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		if p.Kind == Buffer {
			if p.Out {
				b.WriteString("out ")
			}
			fmt.Fprintf(&b, "buffer<%s,%d>", p.Elem, p.Rank)
		} else {
			b.WriteString(p.Elem.String())
		}
	}
	b.WriteString(") -> int32")
	return b.String()
}

// validate rejects signatures no extern function could satisfy
func (s Signature) validate() error {
	if s.Name == "" {
		return fmt.Errorf("signature has empty name")
	}
	for i, p := range s.Params {
		if p.Kind != Scalar && p.Kind != Buffer {
			return fmt.Errorf("parameter %d has unknown kind %d", i, p.Kind)
		}
		if !p.Elem.Valid() {
			return fmt.Errorf("parameter %d has unsupported element type %d", i, p.Elem)
		}
		if p.Kind == Buffer {
			if p.Rank < 0 || p.Rank > buffer.MaxRank {
				return fmt.Errorf("parameter %d has rank %d outside [0, %d]", i, p.Rank, buffer.MaxRank)
			}
		} else if p.Rank != 0 {
			return fmt.Errorf("parameter %d is scalar but declares rank %d", i, p.Rank)
		}
	}
	return nil
}
