// Enum bitmap (.ebm): one bitmap per (zone, variant) with one bit per row,
// giving exact (non-probabilistic) equality and membership pruning for
// enum-typed fields.
package index

import (
	"encoding/binary"
	"io"
	"sort"

	"github.com/RoaringBitmap/roaring"
)

const (
	magicEnumBitmap uint32 = 0x45424D31 // "EBM1"
	enumVersion     uint16 = 1
)

// EnumBitmapSet holds, per zone, one roaring bitmap of row indices per
// variant value.
type EnumBitmapSet struct {
	Variants []string
	Zones    map[uint32]map[string]*roaring.Bitmap
}

// NewEnumBitmapSet returns an empty set scoped to the given variant list.
func NewEnumBitmapSet(variants []string) *EnumBitmapSet {
	return &EnumBitmapSet{Variants: variants, Zones: make(map[uint32]map[string]*roaring.Bitmap)}
}

// Set marks row (0-based within its zone) as having the given variant.
func (e *EnumBitmapSet) Set(zoneID uint32, row uint32, variant string) {
	byVariant, ok := e.Zones[zoneID]
	if !ok {
		byVariant = make(map[string]*roaring.Bitmap)
		e.Zones[zoneID] = byVariant
	}
	bm, ok := byVariant[variant]
	if !ok {
		bm = roaring.New()
		byVariant[variant] = bm
	}
	bm.Add(row)
}

// VariantRows returns the bitmap of rows with the given variant in zoneID,
// or nil if no row in that zone carries it.
func (e *EnumBitmapSet) VariantRows(zoneID uint32, variant string) *roaring.Bitmap {
	byVariant, ok := e.Zones[zoneID]
	if !ok {
		return nil
	}
	return byVariant[variant]
}

// HasAnyOtherVariant reports whether zoneID has any row whose variant is
// not the excluded one — the pruning rule for enum Neq.
func (e *EnumBitmapSet) HasAnyOtherVariant(zoneID uint32, excluded string) bool {
	byVariant, ok := e.Zones[zoneID]
	if !ok {
		return false
	}
	for variant, bm := range byVariant {
		if variant != excluded && !bm.IsEmpty() {
			return true
		}
	}
	return false
}

// WriteEnumBitmapFile writes e to path.
func WriteEnumBitmapFile(path string, e *EnumBitmapSet) error {
	return writeFramed(path, magicEnumBitmap, enumVersion, func(w io.Writer) error {
		if err := writeStringList(w, e.Variants); err != nil {
			return err
		}

		zoneIDs := make([]uint32, 0, len(e.Zones))
		for id := range e.Zones {
			zoneIDs = append(zoneIDs, id)
		}
		sort.Slice(zoneIDs, func(i, j int) bool { return zoneIDs[i] < zoneIDs[j] })

		var countBuf [4]byte
		binary.LittleEndian.PutUint32(countBuf[:], uint32(len(zoneIDs)))
		if _, err := w.Write(countBuf[:]); err != nil {
			return err
		}

		for _, zoneID := range zoneIDs {
			var zoneBuf [4]byte
			binary.LittleEndian.PutUint32(zoneBuf[:], zoneID)
			if _, err := w.Write(zoneBuf[:]); err != nil {
				return err
			}
			byVariant := e.Zones[zoneID]
			var vCountBuf [4]byte
			binary.LittleEndian.PutUint32(vCountBuf[:], uint32(len(byVariant)))
			if _, err := w.Write(vCountBuf[:]); err != nil {
				return err
			}
			for _, variant := range e.Variants {
				bm, ok := byVariant[variant]
				if !ok || bm.IsEmpty() {
					continue
				}
				if err := writeString(w, variant); err != nil {
					return err
				}
				encoded, err := bm.ToBytes()
				if err != nil {
					return err
				}
				var lenBuf [4]byte
				binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(encoded)))
				if _, err := w.Write(lenBuf[:]); err != nil {
					return err
				}
				if _, err := w.Write(encoded); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// ReadEnumBitmapFile reads an enum bitmap set from path.
func ReadEnumBitmapFile(path string) (*EnumBitmapSet, error) {
	out := &EnumBitmapSet{Zones: make(map[uint32]map[string]*roaring.Bitmap)}
	err := readFramed(path, magicEnumBitmap, func(r io.Reader) error {
		variants, err := readStringList(r)
		if err != nil {
			return err
		}
		out.Variants = variants

		var countBuf [4]byte
		if _, err := io.ReadFull(r, countBuf[:]); err != nil {
			return err
		}
		zoneCount := binary.LittleEndian.Uint32(countBuf[:])

		for i := uint32(0); i < zoneCount; i++ {
			var zoneBuf [4]byte
			if _, err := io.ReadFull(r, zoneBuf[:]); err != nil {
				return err
			}
			zoneID := binary.LittleEndian.Uint32(zoneBuf[:])

			var vCountBuf [4]byte
			if _, err := io.ReadFull(r, vCountBuf[:]); err != nil {
				return err
			}
			vCount := binary.LittleEndian.Uint32(vCountBuf[:])

			byVariant := make(map[string]*roaring.Bitmap, vCount)
			for j := uint32(0); j < vCount; j++ {
				variant, err := readString(r)
				if err != nil {
					return err
				}
				var lenBuf [4]byte
				if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
					return err
				}
				encoded := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
				if _, err := io.ReadFull(r, encoded); err != nil {
					return err
				}
				bm := roaring.New()
				if err := bm.UnmarshalBinary(encoded); err != nil {
					return err
				}
				byVariant[variant] = bm
			}
			out.Zones[zoneID] = byVariant
		}
		return nil
	})
	return out, err
}

func writeString(w io.Writer, s string) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	buf := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeStringList(w io.Writer, ss []string) error {
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(ss)))
	if _, err := w.Write(countBuf[:]); err != nil {
		return err
	}
	for _, s := range ss {
		if err := writeString(w, s); err != nil {
			return err
		}
	}
	return nil
}

func readStringList(r io.Reader) ([]string, error) {
	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(countBuf[:])
	out := make([]string, n)
	for i := range out {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}
