// Package column implements the on-disk column block format: one block per
// (uid, field, zone), fixed-width numeric payloads or VarBytes with an
// offset table, an optional null bitmap, and framed compression.
package column

import (
	"encoding/binary"
	"fmt"
	"math"

	coreerrors "github.com/colonnade-db/colonnade/pkg/errors"
)

// PhysicalType is the on-disk physical representation of a column block,
// distinct from schema.LogicalType: Timestamp and Enum/JSON/String all
// reduce to one of these six physical encodings.
type PhysicalType uint8

const (
	PhysInvalid PhysicalType = iota
	PhysVarBytes
	PhysI64
	PhysU64
	PhysF64
	PhysBool
	PhysI32Date
)

func (p PhysicalType) width() int {
	switch p {
	case PhysI64, PhysU64, PhysF64:
		return 8
	case PhysI32Date:
		return 4
	case PhysBool:
		return 1
	default:
		return 0 // VarBytes has no fixed width
	}
}

const headerSize = 12

const (
	flagHasNulls uint8 = 1 << 0
)

// Header is the 12-byte packed little-endian block header:
// phys:u8 | flags:u8 | reserved:u16 | row_count:u32 | aux_len:u32.
type Header struct {
	Phys     PhysicalType
	HasNulls bool
	RowCount uint32
	AuxLen   uint32
}

func (h Header) encode() [headerSize]byte {
	var buf [headerSize]byte
	buf[0] = byte(h.Phys)
	if h.HasNulls {
		buf[1] = flagHasNulls
	}
	// bytes 2-3 reserved, left zero
	binary.LittleEndian.PutUint32(buf[4:8], h.RowCount)
	binary.LittleEndian.PutUint32(buf[8:12], h.AuxLen)
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < headerSize {
		return Header{}, fmt.Errorf("column: short block header (%d bytes)", len(buf))
	}
	return Header{
		Phys:     PhysicalType(buf[0]),
		HasNulls: buf[1]&flagHasNulls != 0,
		RowCount: binary.LittleEndian.Uint32(buf[4:8]),
		AuxLen:   binary.LittleEndian.Uint32(buf[8:12]),
	}, nil
}

// nullBitmapBytes returns the byte length of a LSB-first null bitmap for n rows.
func nullBitmapBytes(n uint32) int { return int((n + 7) / 8) }

func bitmapGet(bitmap []byte, i uint32) bool {
	byteIdx := i / 8
	if int(byteIdx) >= len(bitmap) {
		return false
	}
	return bitmap[byteIdx]&(1<<(i%8)) != 0
}

func bitmapSet(bitmap []byte, i uint32) {
	byteIdx := i / 8
	bitmap[byteIdx] |= 1 << (i % 8)
}

// Block is an encoded (uncompressed) column block ready for compression
// and disk writes, or freshly decompressed and ready for decode.
type Block struct {
	Header Header
	Aux    []byte // null bitmap (numeric) or offsets table (VarBytes)
	Data   []byte // fixed-width payload or concatenated VarBytes payload
}

// Bytes concatenates header + aux + data into the block's on-disk (pre
// compression) byte representation.
func (b *Block) Bytes() []byte {
	h := b.Header.encode()
	out := make([]byte, 0, headerSize+len(b.Aux)+len(b.Data))
	out = append(out, h[:]...)
	out = append(out, b.Aux...)
	out = append(out, b.Data...)
	return out
}

// DecodeBlock parses a Block from its uncompressed byte representation.
func DecodeBlock(buf []byte) (*Block, error) {
	h, err := decodeHeader(buf)
	if err != nil {
		return nil, coreerrors.NewStorageError(err, coreerrors.ErrorCodeSegmentCorrupted, "failed to decode column block header")
	}
	rest := buf[headerSize:]
	if len(rest) < int(h.AuxLen) {
		return nil, coreerrors.NewStorageError(nil, coreerrors.ErrorCodeSegmentCorrupted, "column block aux region truncated")
	}
	aux := rest[:h.AuxLen]
	data := rest[h.AuxLen:]
	return &Block{Header: h, Aux: aux, Data: data}, nil
}

// EncodeNumeric builds a Block for a fixed-width numeric/bool physical type.
// values must already be encoded into little-endian row-major bytes by the
// caller (see EncodeI64/EncodeF64/... helpers below); nulls, if any, marks
// rows whose underlying value is a zero-filled placeholder.
func EncodeNumeric(phys PhysicalType, rowCount uint32, data []byte, nulls []bool) (*Block, error) {
	width := phys.width()
	if width == 0 {
		return nil, fmt.Errorf("column: phys type %d is not fixed-width", phys)
	}
	if len(data) != int(rowCount)*width {
		return nil, fmt.Errorf("column: data length %d does not match row_count*width (%d*%d)", len(data), rowCount, width)
	}

	hasNulls := false
	var aux []byte
	if nulls != nil {
		for _, n := range nulls {
			if n {
				hasNulls = true
				break
			}
		}
	}
	if hasNulls {
		aux = make([]byte, nullBitmapBytes(rowCount))
		for i, n := range nulls {
			if n {
				bitmapSet(aux, uint32(i))
			}
		}
	}

	return &Block{
		Header: Header{Phys: phys, HasNulls: hasNulls, RowCount: rowCount, AuxLen: uint32(len(aux))},
		Aux:    aux,
		Data:   data,
	}, nil
}

// EncodeVarBytes builds a Block for string/JSON/enum-variant-name fields.
// values[i] == nil (with nulls[i] true) represents a SQL-null entry;
// offsets still record a zero-length span so indices remain aligned.
func EncodeVarBytes(values [][]byte, nulls []bool) (*Block, error) {
	rowCount := uint32(len(values))
	offsets := make([]byte, 4*(rowCount+1))
	var data []byte

	hasNulls := false
	cursor := uint32(0)
	binary.LittleEndian.PutUint32(offsets[0:4], cursor)
	for i, v := range values {
		isNull := nulls != nil && nulls[i]
		if isNull {
			hasNulls = true
		} else {
			data = append(data, v...)
			cursor += uint32(len(v))
		}
		binary.LittleEndian.PutUint32(offsets[4*(i+1):4*(i+2)], cursor)
	}

	var nullBitmap []byte
	if hasNulls {
		nullBitmap = make([]byte, nullBitmapBytes(rowCount))
		for i := range values {
			if nulls[i] {
				bitmapSet(nullBitmap, uint32(i))
			}
		}
	}

	aux := append(offsets, nullBitmap...)
	return &Block{
		Header: Header{Phys: PhysVarBytes, HasNulls: hasNulls, RowCount: rowCount, AuxLen: uint32(len(aux))},
		Aux:    aux,
		Data:   data,
	}, nil
}

// EncodeI64 packs a slice of int64 values into little-endian bytes.
func EncodeI64(values []int64) []byte {
	out := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(out[i*8:], uint64(v))
	}
	return out
}

// EncodeU64 packs a slice of uint64 values into little-endian bytes.
func EncodeU64(values []uint64) []byte {
	out := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(out[i*8:], v)
	}
	return out
}

// EncodeF64 packs a slice of float64 values into little-endian bytes.
func EncodeF64(values []float64) []byte {
	out := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out
}

// EncodeBool packs a slice of bools into one byte per row (not bit-packed,
// matching the fixed-width-payload contract for typed numeric blocks).
func EncodeBool(values []bool) []byte {
	out := make([]byte, len(values))
	for i, v := range values {
		if v {
			out[i] = 1
		}
	}
	return out
}

// EncodeDate packs a slice of int32 day-since-epoch values.
func EncodeDate(values []int32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
	}
	return out
}
