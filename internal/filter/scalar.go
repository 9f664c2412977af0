package filter

import (
	"github.com/colonnade-db/colonnade/internal/index"
	"github.com/colonnade-db/colonnade/internal/schema"
)

// Scalar is a tagged union holding one predicate comparison value, typed
// by the field's logical type.
type Scalar struct {
	Kind schema.LogicalType
	I64  int64
	F64  float64
	Str  string
	Bool bool
}

// ScalarI64 builds an integer scalar.
func ScalarI64(v int64) Scalar { return Scalar{Kind: schema.TypeI64, I64: v} }

// ScalarF64 builds a float scalar.
func ScalarF64(v float64) Scalar { return Scalar{Kind: schema.TypeF64, F64: v} }

// ScalarStr builds a string scalar.
func ScalarStr(v string) Scalar { return Scalar{Kind: schema.TypeString, Str: v} }

// ScalarBool builds a bool scalar.
func ScalarBool(v bool) Scalar { return Scalar{Kind: schema.TypeBool, Bool: v} }

// ScalarTimestamp builds a timestamp scalar (millis since epoch).
func ScalarTimestamp(v int64) Scalar { return Scalar{Kind: schema.TypeTimestamp, I64: v} }

// Bytes returns the byte representation a field value's comparison key is
// built from, matching the encoding the segment writer hashed/encoded when
// building the XOR and SuRF indexes for this value's logical type.
func (s Scalar) Bytes() []byte {
	switch s.Kind {
	case schema.TypeI64, schema.TypeU64, schema.TypeTimestamp, schema.TypeDate:
		return index.EncodeOrderedI64(s.I64)
	case schema.TypeF64:
		return index.EncodeOrderedF64(s.F64)
	case schema.TypeBool:
		if s.Bool {
			return []byte{1}
		}
		return []byte{0}
	default:
		return []byte(s.Str)
	}
}

// Compare returns -1, 0, 1 comparing s to other under s's logical type's
// natural order. Both scalars must share the same Kind.
func (s Scalar) Compare(other Scalar) int {
	switch s.Kind {
	case schema.TypeI64, schema.TypeU64, schema.TypeTimestamp, schema.TypeDate:
		switch {
		case s.I64 < other.I64:
			return -1
		case s.I64 > other.I64:
			return 1
		default:
			return 0
		}
	case schema.TypeF64:
		switch {
		case s.F64 < other.F64:
			return -1
		case s.F64 > other.F64:
			return 1
		default:
			return 0
		}
	case schema.TypeBool:
		if s.Bool == other.Bool {
			return 0
		}
		if !s.Bool {
			return -1
		}
		return 1
	default:
		switch {
		case s.Str < other.Str:
			return -1
		case s.Str > other.Str:
			return 1
		default:
			return 0
		}
	}
}
