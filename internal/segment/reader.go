package segment

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/colonnade-db/colonnade/internal/cache"
	"github.com/colonnade-db/colonnade/internal/column"
	"github.com/colonnade-db/colonnade/internal/index"
	"github.com/colonnade-db/colonnade/internal/memtable"
	"github.com/colonnade-db/colonnade/internal/schema"
	"github.com/colonnade-db/colonnade/pkg/seginfo"
)

// Reader serves one (segment, uid)'s metadata, index structures, and
// decoded column blocks, with every load routed through the process-global
// caches. All loads are lazy; constructing a Reader does no I/O.
type Reader struct {
	Dir       string
	SegmentID uint32
	UID       string

	codec  column.Codec
	caches *cache.Caches
}

// NewReader builds a reader over the segment directory at dir.
func NewReader(dir string, segmentID uint32, uid string, codec column.Codec, caches *cache.Caches) *Reader {
	return &Reader{Dir: dir, SegmentID: segmentID, UID: uid, codec: codec, caches: caches}
}

// Zones returns the zone metadata list for this (segment, uid).
func (r *Reader) Zones() ([]ZoneMeta, error) {
	path := zonesPath(r.Dir, r.UID)
	v, err := r.caches.ZoneIndex.GetOrLoad(path, r.SegmentID, func() (any, int64, error) {
		zones, err := ReadZonesFile(path)
		if err != nil {
			return nil, 0, err
		}
		return zones, int64(len(zones) * zoneMetaSize), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]ZoneMeta), nil
}

// ZoneIDs returns every zone id for this (segment, uid), in zone order.
func (r *Reader) ZoneIDs() ([]uint32, error) {
	zones, err := r.Zones()
	if err != nil {
		return nil, err
	}
	ids := make([]uint32, len(zones))
	for i, z := range zones {
		ids[i] = z.ZoneID
	}
	return ids, nil
}

// Catalog returns the index catalog, or nil when none exists — the planner
// treats a nil catalog as "full scan only", which is also the correct
// degraded behavior for a segment whose catalog file is unreadable.
func (r *Reader) Catalog() (*index.Catalog, error) {
	path := catalogPath(r.Dir, r.UID)
	v, err := r.caches.ZoneIndex.GetOrLoad(path, r.SegmentID, func() (any, int64, error) {
		cat, err := index.ReadCatalogFile(path)
		if err != nil {
			return nil, 0, err
		}
		return cat, int64(64 * len(cat.Fields)), nil
	})
	if err != nil {
		return nil, nil
	}
	return v.(*index.Catalog), nil
}

// ContextZones returns the zone ids holding rows for ctxID, from the
// {uid}.idx context index.
func (r *Reader) ContextZones(ctxID string) ([]uint32, error) {
	path := ctxIndexPath(r.Dir, r.UID)
	v, err := r.caches.ZoneIndex.GetOrLoad(path, r.SegmentID, func() (any, int64, error) {
		idx, err := ReadContextIndexFile(path)
		if err != nil {
			return nil, 0, err
		}
		size := int64(0)
		for ctx, zones := range idx.Zones {
			size += int64(len(ctx) + 4*len(zones))
		}
		return idx, size, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ContextIndex).Zones[ctxID], nil
}

func (r *Reader) blockEntries(field string) ([]column.ZoneBlockEntry, error) {
	path := filepath.Join(r.Dir, seginfo.ZfcFileName(r.UID, field))
	v, err := r.caches.ZoneIndex.GetOrLoad(path, r.SegmentID, func() (any, int64, error) {
		entries, err := column.ReadZfc(path)
		if err != nil {
			return nil, 0, err
		}
		return entries, int64(len(entries) * 24), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]column.ZoneBlockEntry), nil
}

// Block loads, decompresses, and decodes one (field, zone) column block
// through the block cache, keyed by (canonical column file path, zone id).
// Concurrent loads for the same key are single-flighted.
func (r *Reader) Block(field string, zoneID uint32) (*column.Block, error) {
	entries, err := r.blockEntries(field)
	if err != nil {
		return nil, err
	}
	var entry *column.ZoneBlockEntry
	for i := range entries {
		if entries[i].ZoneID == zoneID {
			entry = &entries[i]
			break
		}
	}
	if entry == nil {
		return nil, os.ErrNotExist
	}

	colPath := filepath.Join(r.Dir, seginfo.ColumnFileName(r.UID, field))
	canonical, err := filepath.Abs(colPath)
	if err != nil {
		canonical = filepath.Clean(colPath)
	}
	key := cache.BlockKey(canonical, zoneID)
	return r.caches.Block.GetOrLoad(key, r.SegmentID, func() (*column.Block, int64, error) {
		block, err := column.ReadBlockAt(colPath, *entry, r.codec)
		if err != nil {
			return nil, 0, err
		}
		size := int64(len(block.Aux) + len(block.Data) + 16)
		return block, size, nil
	})
}

// Values wraps Block in the zero-copy typed accessor view.
func (r *Reader) Values(field string, zoneID uint32) (*column.Values, error) {
	block, err := r.Block(field, zoneID)
	if err != nil {
		return nil, err
	}
	return column.NewValues(block), nil
}

// loadFilter routes one auxiliary index file through the filter cache.
// A missing file yields (nil, nil): the catalog says what was built, so a
// miss here only happens for kinds that were never built or for in-flight
// segments, both of which degrade to scanning.
func (r *Reader) loadFilter(filename string, decode func(path string) (any, int64, error)) (any, error) {
	path := filepath.Join(r.Dir, filename)
	v, err := r.caches.Filter.GetOrLoad(path, r.SegmentID, func() (any, int64, error) {
		return decode(path)
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

// XorField loads the segment-level XOR field filter for field.
func (r *Reader) XorField(field string) (*index.XorFilter, error) {
	v, err := r.loadFilter(seginfo.XorFilterFileName(r.UID, field), func(path string) (any, int64, error) {
		f, err := index.ReadXorFieldFile(path)
		return f, 1024, err
	})
	if v == nil || err != nil {
		return nil, err
	}
	return v.(*index.XorFilter), nil
}

// ZoneXor loads the per-zone XOR index for field.
func (r *Reader) ZoneXor(field string) (*index.ZoneXorIndex, error) {
	v, err := r.loadFilter(seginfo.ZoneXorFileName(r.UID, field), func(path string) (any, int64, error) {
		f, err := index.ReadZoneXorFile(path)
		if err != nil {
			return nil, 0, err
		}
		return f, int64(1024 * len(f.Zones)), nil
	})
	if v == nil || err != nil {
		return nil, err
	}
	return v.(*index.ZoneXorIndex), nil
}

// RangeFilter loads the SuRF range filter for field.
func (r *Reader) RangeFilter(field string) (*index.RangeFilter, error) {
	v, err := r.loadFilter(seginfo.SuRFFileName(r.UID, field), func(path string) (any, int64, error) {
		f, err := index.ReadRangeFilterFile(path)
		if err != nil {
			return nil, 0, err
		}
		return f, int64(64 * len(f.Zones)), nil
	})
	if v == nil || err != nil {
		return nil, err
	}
	return v.(*index.RangeFilter), nil
}

// EnumBitmaps loads the enum bitmap set for field.
func (r *Reader) EnumBitmaps(field string) (*index.EnumBitmapSet, error) {
	v, err := r.loadFilter(seginfo.EnumBitmapFileName(r.UID, field), func(path string) (any, int64, error) {
		f, err := index.ReadEnumBitmapFile(path)
		if err != nil {
			return nil, 0, err
		}
		return f, int64(512 * len(f.Zones)), nil
	})
	if v == nil || err != nil {
		return nil, err
	}
	return v.(*index.EnumBitmapSet), nil
}

// Calendar loads the temporal calendar for field.
func (r *Reader) Calendar(field string) (*index.Calendar, error) {
	v, err := r.loadFilter(seginfo.CalendarFileName(r.UID, field), func(path string) (any, int64, error) {
		f, err := index.ReadCalendarFile(path)
		if err != nil {
			return nil, 0, err
		}
		return f, int64(20 * len(f.Zones)), nil
	})
	if v == nil || err != nil {
		return nil, err
	}
	return v.(*index.Calendar), nil
}

// Events reconstructs every stored event for this (segment, uid) in row
// order, decoding all columns. Compaction's zone cursors read through this
// to merge input segments.
func (r *Reader) Events(sch *schema.Schema) ([]*memtable.Event, error) {
	zones, err := r.Zones()
	if err != nil {
		return nil, err
	}
	fields := Fields(sch)

	var out []*memtable.Event
	for _, z := range zones {
		cols := make(map[string]*column.Values, len(fields))
		for _, f := range fields {
			vals, err := r.Values(f.Name, z.ZoneID)
			if err != nil {
				return nil, err
			}
			cols[f.Name] = vals
		}

		rows := int(z.Rows())
		for i := 0; i < rows; i++ {
			ev := &memtable.Event{UID: r.UID, Payload: make(map[string]any)}
			for _, f := range fields {
				vals := cols[f.Name]
				if vals.IsNull(i) {
					continue
				}
				v := decodeValueAt(vals, i, f.Type)
				switch f.Name {
				case FieldEventID:
					ev.EventID, _ = v.(int64)
				case FieldContextID:
					ev.ContextID, _ = v.(string)
				case FieldTimestamp:
					ev.Timestamp, _ = v.(int64)
				default:
					ev.Payload[f.Name] = v
				}
			}
			out = append(out, ev)
		}
	}
	return out, nil
}

func decodeValueAt(vals *column.Values, i int, t schema.LogicalType) any {
	switch t {
	case schema.TypeI64, schema.TypeTimestamp:
		return vals.GetI64At(i)
	case schema.TypeU64:
		return vals.GetU64At(i)
	case schema.TypeDate:
		return int64(vals.GetDateAt(i))
	case schema.TypeF64:
		return vals.GetF64At(i)
	case schema.TypeBool:
		return vals.GetBoolAt(i)
	default:
		return string(vals.GetStrAt(i))
	}
}

