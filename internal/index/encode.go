package index

import (
	"encoding/binary"
	"math"
)

// EncodeOrderedI64 maps v to a big-endian byte sequence whose unsigned
// lexicographic order matches v's signed numeric order: flipping the sign
// bit turns two's-complement ordering into unsigned ordering.
func EncodeOrderedI64(v int64) []byte {
	u := uint64(v) ^ (1 << 63)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], u)
	return buf[:]
}

// DecodeOrderedI64 reverses EncodeOrderedI64.
func DecodeOrderedI64(b []byte) int64 {
	u := binary.BigEndian.Uint64(b)
	return int64(u ^ (1 << 63))
}

// EncodeOrderedF64 maps v to an order-preserving big-endian byte sequence.
// For non-negative floats, flipping the sign bit suffices (same trick as
// integers); for negative floats every bit must additionally be flipped so
// that more-negative values sort before less-negative ones. -0 and +0 both
// encode identically, so -0 and 0 compare equal.
func EncodeOrderedF64(v float64) []byte {
	if v == 0 {
		v = 0 // collapse -0 to +0 so both encode identically
	}
	bits := math.Float64bits(v)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], bits)
	return buf[:]
}

// DecodeOrderedF64 reverses EncodeOrderedF64.
func DecodeOrderedF64(b []byte) float64 {
	bits := binary.BigEndian.Uint64(b)
	if bits&(1<<63) != 0 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}

// EncodeOrderedBytes is the identity encoding for strings/VarBytes: raw
// byte sequences already compare lexicographically in the order the
// application expects, so SuRF and range predicates operate directly on
// the original bytes with no transform.
func EncodeOrderedBytes(v []byte) []byte { return v }
