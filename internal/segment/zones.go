// Package segment implements the immutable unit of durable storage: the
// segment writer that encodes a passive memtable into column files and
// auxiliary indexes, the reader that serves zone metadata, catalogs, and
// decoded column blocks back to the query path, and the per-shard segment
// index file that is the single source of truth for which segments exist.
package segment

import (
	"io"
	"path/filepath"

	"github.com/colonnade-db/colonnade/pkg/seginfo"
)

// ZoneMeta records one zone's identity, row range, and inclusive timestamp
// range, as persisted in the {uid}.zones file.
type ZoneMeta struct {
	ZoneID   uint32
	StartRow uint32
	EndRow   uint32
	MinTS    int64
	MaxTS    int64
}

// Rows returns the zone's row count.
func (z ZoneMeta) Rows() uint32 { return z.EndRow - z.StartRow }

const zoneMetaSize = 4 + 4 + 4 + 8 + 8

// WriteZonesFile persists the full zone list for one (segment, uid).
func WriteZonesFile(path string, zones []ZoneMeta) error {
	return writeFramedFile(path, magicZones, func(w io.Writer) error {
		if err := writeU32(w, uint32(len(zones))); err != nil {
			return err
		}
		for _, z := range zones {
			if err := writeU32(w, z.ZoneID); err != nil {
				return err
			}
			if err := writeU32(w, z.StartRow); err != nil {
				return err
			}
			if err := writeU32(w, z.EndRow); err != nil {
				return err
			}
			if err := writeU64(w, uint64(z.MinTS)); err != nil {
				return err
			}
			if err := writeU64(w, uint64(z.MaxTS)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadZonesFile loads the zone list for one (segment, uid).
func ReadZonesFile(path string) ([]ZoneMeta, error) {
	var zones []ZoneMeta
	err := readFramedFile(path, magicZones, func(r io.Reader) error {
		n, err := readU32(r)
		if err != nil {
			return err
		}
		zones = make([]ZoneMeta, n)
		for i := range zones {
			if zones[i].ZoneID, err = readU32(r); err != nil {
				return err
			}
			if zones[i].StartRow, err = readU32(r); err != nil {
				return err
			}
			if zones[i].EndRow, err = readU32(r); err != nil {
				return err
			}
			min, err := readU64(r)
			if err != nil {
				return err
			}
			max, err := readU64(r)
			if err != nil {
				return err
			}
			zones[i].MinTS = int64(min)
			zones[i].MaxTS = int64(max)
		}
		return nil
	})
	return zones, err
}

// ContextIndex maps context_id to the zone ids holding at least one of its
// rows, the {uid}.idx file enabling O(1) context lookups.
type ContextIndex struct {
	Zones map[string][]uint32
}

// WriteContextIndexFile persists idx to path.
func WriteContextIndexFile(path string, idx *ContextIndex) error {
	return writeFramedFile(path, magicCtxIndex, func(w io.Writer) error {
		if err := writeU32(w, uint32(len(idx.Zones))); err != nil {
			return err
		}
		for ctx, zones := range idx.Zones {
			if err := writeString(w, ctx); err != nil {
				return err
			}
			if err := writeU32(w, uint32(len(zones))); err != nil {
				return err
			}
			for _, z := range zones {
				if err := writeU32(w, z); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// ReadContextIndexFile loads a context index from path.
func ReadContextIndexFile(path string) (*ContextIndex, error) {
	out := &ContextIndex{Zones: make(map[string][]uint32)}
	err := readFramedFile(path, magicCtxIndex, func(r io.Reader) error {
		n, err := readU32(r)
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			ctx, err := readString(r)
			if err != nil {
				return err
			}
			count, err := readU32(r)
			if err != nil {
				return err
			}
			zones := make([]uint32, count)
			for j := range zones {
				if zones[j], err = readU32(r); err != nil {
					return err
				}
			}
			out.Zones[ctx] = zones
		}
		return nil
	})
	return out, err
}

// zonesPath, ctxIndexPath, catalogPath build the metadata file paths for a
// (segment dir, uid) pair.
func zonesPath(dir, uid string) string    { return filepath.Join(dir, seginfo.ZonesFileName(uid)) }
func ctxIndexPath(dir, uid string) string { return filepath.Join(dir, seginfo.ZoneIdxFileName(uid)) }
func catalogPath(dir, uid string) string  { return filepath.Join(dir, seginfo.CatalogFileName(uid)) }
