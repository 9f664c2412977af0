// XOR field filter (.xf) and zone XOR index (.zxf): binary-fuse membership
// filters over hashed field values, supporting point equality pruning at
// segment and zone granularity respectively.
package index

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/FastFilter/xorfilter"
	"github.com/cespare/xxhash/v2"

	coreerrors "github.com/colonnade-db/colonnade/pkg/errors"
)

const (
	magicXorField uint32 = 0x58465431 // "XFT1"
	magicZoneXor  uint32 = 0x5A584631 // "ZXF1"
	xorVersion    uint16 = 1
)

// HashValue hashes an arbitrary field value's byte representation into the
// 64-bit key space binary-fuse filters operate on.
func HashValue(value []byte) uint64 {
	return xxhash.Sum64(value)
}

// XorFilter wraps a binary-fuse-8 filter for point-equality membership
// tests with a small, bounded false-positive rate.
type XorFilter struct {
	filter *xorfilter.BinaryFuse8
}

// BuildXorFilter constructs a binary-fuse filter over the given (already
// hashed) distinct key set. An empty key set is rejected by the upstream
// library, so callers skip building a filter for zero-row fields.
func BuildXorFilter(keys []uint64) (*XorFilter, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("index: cannot build xor filter over zero keys")
	}
	f, err := xorfilter.PopulateBinaryFuse8(keys)
	if err != nil {
		return nil, coreerrors.NewIndexError(err, coreerrors.ErrorCodeIndexCorrupted, "failed to build binary-fuse filter").
			WithOperation("Build")
	}
	return &XorFilter{filter: f}, nil
}

// Contains reports whether value's hash is (probably) present: false
// positives are possible and tolerated (residual evaluation filters them
// out later); false negatives never occur.
func (x *XorFilter) Contains(value []byte) bool {
	return x.filter.Contains(HashValue(value))
}

// encode serializes the filter's fields in a fixed binary layout.
func (x *XorFilter) encode(w io.Writer) error {
	f := x.filter
	var header [28]byte
	binary.LittleEndian.PutUint64(header[0:8], f.Seed)
	binary.LittleEndian.PutUint32(header[8:12], f.SegmentLength)
	binary.LittleEndian.PutUint32(header[12:16], f.SegmentLengthMask)
	binary.LittleEndian.PutUint32(header[16:20], f.SegmentCount)
	binary.LittleEndian.PutUint32(header[20:24], f.SegmentCountLength)
	binary.LittleEndian.PutUint32(header[24:28], uint32(len(f.Fingerprints)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(f.Fingerprints)
	return err
}

func decodeXorFilter(r io.Reader) (*XorFilter, error) {
	var header [28]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("index: short xor filter header: %w", err)
	}
	f := &xorfilter.BinaryFuse8{
		Seed:               binary.LittleEndian.Uint64(header[0:8]),
		SegmentLength:      binary.LittleEndian.Uint32(header[8:12]),
		SegmentLengthMask:  binary.LittleEndian.Uint32(header[12:16]),
		SegmentCount:       binary.LittleEndian.Uint32(header[16:20]),
		SegmentCountLength: binary.LittleEndian.Uint32(header[20:24]),
	}
	n := binary.LittleEndian.Uint32(header[24:28])
	f.Fingerprints = make([]uint8, n)
	if _, err := io.ReadFull(r, f.Fingerprints); err != nil {
		return nil, fmt.Errorf("index: truncated xor filter fingerprints: %w", err)
	}
	return &XorFilter{filter: f}, nil
}

// WriteXorFieldFile writes the segment-level XOR field filter to path.
func WriteXorFieldFile(path string, f *XorFilter) error {
	return writeFramed(path, magicXorField, xorVersion, f.encode)
}

// ReadXorFieldFile reads a segment-level XOR field filter.
func ReadXorFieldFile(path string) (*XorFilter, error) {
	var out *XorFilter
	err := readFramed(path, magicXorField, func(r io.Reader) error {
		f, err := decodeXorFilter(r)
		out = f
		return err
	})
	return out, err
}

// ZoneXorIndex holds one binary-fuse filter per zone.
type ZoneXorIndex struct {
	Zones map[uint32]*XorFilter
}

// Probe reports whether zoneID's filter admits value. Missing zones (no
// distinct keys, so no filter was built) are treated as non-admitting.
func (z *ZoneXorIndex) Probe(zoneID uint32, value []byte) bool {
	f, ok := z.Zones[zoneID]
	if !ok {
		return false
	}
	return f.Contains(value)
}

// WriteZoneXorFile writes a zone XOR index to path.
func WriteZoneXorFile(path string, idx *ZoneXorIndex) error {
	return writeFramed(path, magicZoneXor, xorVersion, func(w io.Writer) error {
		var countBuf [4]byte
		binary.LittleEndian.PutUint32(countBuf[:], uint32(len(idx.Zones)))
		if _, err := w.Write(countBuf[:]); err != nil {
			return err
		}
		for zoneID, f := range idx.Zones {
			var zoneBuf [4]byte
			binary.LittleEndian.PutUint32(zoneBuf[:], zoneID)
			if _, err := w.Write(zoneBuf[:]); err != nil {
				return err
			}
			if err := f.encode(w); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadZoneXorFile reads a zone XOR index from path.
func ReadZoneXorFile(path string) (*ZoneXorIndex, error) {
	out := &ZoneXorIndex{Zones: make(map[uint32]*XorFilter)}
	err := readFramed(path, magicZoneXor, func(r io.Reader) error {
		var countBuf [4]byte
		if _, err := io.ReadFull(r, countBuf[:]); err != nil {
			return err
		}
		n := binary.LittleEndian.Uint32(countBuf[:])
		for i := uint32(0); i < n; i++ {
			var zoneBuf [4]byte
			if _, err := io.ReadFull(r, zoneBuf[:]); err != nil {
				return err
			}
			zoneID := binary.LittleEndian.Uint32(zoneBuf[:])
			f, err := decodeXorFilter(r)
			if err != nil {
				return err
			}
			out.Zones[zoneID] = f
		}
		return nil
	})
	return out, err
}

// writeFramed writes the shared (magic, version, flags) file header
// followed by body to path, via a temp-name-then-rename for atomicity
func writeFramed(path string, magic uint32, version uint16, body func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return coreerrors.NewStorageError(err, coreerrors.ErrorCodeIO, "failed to create index file").WithPath(path)
	}

	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], magic)
	binary.LittleEndian.PutUint16(header[4:6], version)
	if _, err := f.Write(header[:]); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := body(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func readFramed(path string, wantMagic uint32, body func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return coreerrors.NewStorageError(err, coreerrors.ErrorCodeIO, "failed to open index file").WithPath(path)
	}
	defer f.Close()

	var header [8]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return coreerrors.NewIndexCorruptionError("file_header", 0, err)
	}
	if got := binary.LittleEndian.Uint32(header[0:4]); got != wantMagic {
		return coreerrors.NewIndexCorruptionError("file_header", 0, fmt.Errorf("bad magic %08x, want %08x", got, wantMagic))
	}
	return body(f)
}
