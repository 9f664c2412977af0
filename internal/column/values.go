package column

import (
	"encoding/binary"
	"math"
)

// Values is a zero-copy, read-only view over a decoded Block. It borrows
// bytes from the block's backing allocation and must not outlive it; the
// block cache (internal/cache) is responsible for keeping that allocation
// alive for as long as any Values view is in use.
type Values struct {
	block *Block
}

// NewValues wraps a decoded Block in typed accessors.
func NewValues(b *Block) *Values { return &Values{block: b} }

// Len returns the row count recorded in the block header.
func (v *Values) Len() int { return int(v.block.Header.RowCount) }

// Phys returns the physical type of the underlying block.
func (v *Values) Phys() PhysicalType { return v.block.Header.Phys }

// IsNull reports whether row i is null. Always false when the block's
// has_nulls flag is unset.
func (v *Values) IsNull(i int) bool {
	if !v.block.Header.HasNulls {
		return false
	}
	bitmap := v.nullBitmap()
	return bitmapGet(bitmap, uint32(i))
}

func (v *Values) nullBitmap() []byte {
	b := v.block
	switch b.Header.Phys {
	case PhysVarBytes:
		offsetsLen := 4 * (int(b.Header.RowCount) + 1)
		if len(b.Aux) <= offsetsLen {
			return nil
		}
		return b.Aux[offsetsLen:]
	default:
		return b.Aux
	}
}

// GetI64At returns the int64 value at row i. Behavior is undefined if the
// physical type isn't PhysI64 or the row is null; callers must check
// IsNull first when the block has nulls.
func (v *Values) GetI64At(i int) int64 {
	off := i * 8
	return int64(binary.LittleEndian.Uint64(v.block.Data[off : off+8]))
}

// GetU64At returns the uint64 value at row i.
func (v *Values) GetU64At(i int) uint64 {
	off := i * 8
	return binary.LittleEndian.Uint64(v.block.Data[off : off+8])
}

// GetF64At returns the float64 value at row i.
func (v *Values) GetF64At(i int) float64 {
	off := i * 8
	return math.Float64frombits(binary.LittleEndian.Uint64(v.block.Data[off : off+8]))
}

// GetBoolAt returns the bool value at row i.
func (v *Values) GetBoolAt(i int) bool {
	return v.block.Data[i] != 0
}

// GetDateAt returns the int32 days-since-epoch value at row i.
func (v *Values) GetDateAt(i int) int32 {
	off := i * 4
	return int32(binary.LittleEndian.Uint32(v.block.Data[off : off+4]))
}

// GetStrAt returns the byte slice for row i of a VarBytes block. The slice
// aliases the block's backing array; callers must copy before mutating or
// retaining beyond the block's cache lifetime.
func (v *Values) GetStrAt(i int) []byte {
	b := v.block
	start := binary.LittleEndian.Uint32(b.Aux[4*i : 4*i+4])
	end := binary.LittleEndian.Uint32(b.Aux[4*(i+1) : 4*(i+1)+4])
	return b.Data[start:end]
}

// Equal compares the logical sequence of values in two Values views,
// ignoring their backing allocations.
func Equal(a, b *Values) bool {
	if a.Len() != b.Len() || a.Phys() != b.Phys() {
		return false
	}
	n := a.Len()
	for i := 0; i < n; i++ {
		if a.IsNull(i) != b.IsNull(i) {
			return false
		}
		if a.IsNull(i) {
			continue
		}
		switch a.Phys() {
		case PhysI64:
			if a.GetI64At(i) != b.GetI64At(i) {
				return false
			}
		case PhysU64:
			if a.GetU64At(i) != b.GetU64At(i) {
				return false
			}
		case PhysF64:
			if a.GetF64At(i) != b.GetF64At(i) {
				return false
			}
		case PhysBool:
			if a.GetBoolAt(i) != b.GetBoolAt(i) {
				return false
			}
		case PhysI32Date:
			if a.GetDateAt(i) != b.GetDateAt(i) {
				return false
			}
		case PhysVarBytes:
			if string(a.GetStrAt(i)) != string(b.GetStrAt(i)) {
				return false
			}
		}
	}
	return true
}
