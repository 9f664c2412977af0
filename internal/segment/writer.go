package segment

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/colonnade-db/colonnade/internal/column"
	"github.com/colonnade-db/colonnade/internal/index"
	"github.com/colonnade-db/colonnade/internal/memtable"
	"github.com/colonnade-db/colonnade/internal/schema"
	coreerrors "github.com/colonnade-db/colonnade/pkg/errors"
	"github.com/colonnade-db/colonnade/pkg/seginfo"
)

// WriteConfig carries everything the segment writer needs to encode one
// passive memtable into one immutable segment directory.
type WriteConfig struct {
	Dir           string
	SegmentID     uint32
	EventsPerZone int
	Codec         column.Codec
	Registry      schema.Registry
	Logger        *zap.SugaredLogger
}

// Manifest summarizes what a completed segment write produced, feeding the
// segment index entry the flush manager commits.
type Manifest struct {
	SegmentID uint32
	UIDs      []string
	Rows      map[string]uint32
}

// ZonePlan is one zone's worth of events in insertion order, with its
// metadata already computed.
type ZonePlan struct {
	Meta   ZoneMeta
	Events []*memtable.Event
}

// PlanZones partitions events (already in insertion order) into zones of at
// most eventsPerZone rows, recording each zone's row range and timestamp
// range.
func PlanZones(events []*memtable.Event, eventsPerZone int) []ZonePlan {
	if eventsPerZone <= 0 {
		eventsPerZone = len(events)
	}

	var plans []ZonePlan
	for start := 0; start < len(events); start += eventsPerZone {
		end := start + eventsPerZone
		if end > len(events) {
			end = len(events)
		}
		chunk := events[start:end]

		minTS, maxTS := chunk[0].Timestamp, chunk[0].Timestamp
		for _, ev := range chunk[1:] {
			if ev.Timestamp < minTS {
				minTS = ev.Timestamp
			}
			if ev.Timestamp > maxTS {
				maxTS = ev.Timestamp
			}
		}
		plans = append(plans, ZonePlan{
			Meta: ZoneMeta{
				ZoneID:   uint32(len(plans)),
				StartRow: uint32(start),
				EndRow:   uint32(end),
				MinTS:    minTS,
				MaxTS:    maxTS,
			},
			Events: chunk,
		})
	}
	return plans
}

// Write encodes mt into the segment directory at cfg.Dir: per UID, column
// files with their zone->block indexes, the auxiliary index files the
// field-category policy prescribes, zone metadata, the context index, and
// the index catalog. The directory must already exist; the caller makes
// the segment visible by committing it to the segment index afterwards.
func Write(cfg *WriteConfig, mt *memtable.Memtable) (*Manifest, error) {
	manifest := &Manifest{SegmentID: cfg.SegmentID, Rows: make(map[string]uint32)}

	for _, uid := range mt.UIDs() {
		events := mt.Snapshot(uid)
		if len(events) == 0 {
			continue
		}
		sch, ok := cfg.Registry.GetSchemaByUID(uid)
		if !ok {
			return nil, coreerrors.NewSchemaUnknownError("", "").WithDetail("uid", uid)
		}
		if err := writeUID(cfg, uid, sch, events); err != nil {
			return nil, err
		}
		manifest.UIDs = append(manifest.UIDs, uid)
		manifest.Rows[uid] = uint32(len(events))
	}

	return manifest, nil
}

func writeUID(cfg *WriteConfig, uid string, sch *schema.Schema, events []*memtable.Event) error {
	plans := PlanZones(events, cfg.EventsPerZone)
	fields := Fields(sch)
	catalog := index.NewCatalog()

	for _, field := range fields {
		if err := writeColumn(cfg, uid, field, plans, catalog); err != nil {
			return coreerrors.NewStorageError(err, coreerrors.ErrorCodeFlushFailed, "failed to write column").
				WithSegmentID(int(cfg.SegmentID)).WithFileName(seginfo.ColumnFileName(uid, field.Name))
		}
	}

	metas := make([]ZoneMeta, len(plans))
	ctxIdx := &ContextIndex{Zones: make(map[string][]uint32)}
	for i, zp := range plans {
		metas[i] = zp.Meta
		seen := make(map[string]struct{})
		for _, ev := range zp.Events {
			if _, dup := seen[ev.ContextID]; dup {
				continue
			}
			seen[ev.ContextID] = struct{}{}
			ctxIdx.Zones[ev.ContextID] = append(ctxIdx.Zones[ev.ContextID], zp.Meta.ZoneID)
		}
	}

	if err := WriteZonesFile(zonesPath(cfg.Dir, uid), metas); err != nil {
		return err
	}
	if err := WriteContextIndexFile(ctxIndexPath(cfg.Dir, uid), ctxIdx); err != nil {
		return err
	}
	return index.WriteCatalogFile(catalogPath(cfg.Dir, uid), catalog)
}

// writeColumn emits one field's .col/.zfc pair plus whatever auxiliary
// indexes the field-category policy table prescribes, recording what was
// actually built in the catalog.
func writeColumn(cfg *WriteConfig, uid string, field FieldLayout, plans []ZonePlan, catalog *index.Catalog) error {
	isTemporal := field.Type.IsTemporal() || field.Name == FieldTimestamp
	isEnum := field.Type == schema.TypeEnum
	isEnvelopeKey := field.Name == FieldContextID || field.Name == FieldEventID
	want := index.CategoryIndexes(isTemporal, isEnum, isEnvelopeKey)

	colPath := filepath.Join(cfg.Dir, seginfo.ColumnFileName(uid, field.Name))
	zfcPath := filepath.Join(cfg.Dir, seginfo.ZfcFileName(uid, field.Name))
	colTmp, zfcTmp := colPath+".tmp", zfcPath+".tmp"

	w, err := column.NewWriter(colTmp, cfg.Codec)
	if err != nil {
		return err
	}

	segKeys := make(map[uint64]struct{})
	zoneXor := &index.ZoneXorIndex{Zones: make(map[uint32]*index.XorFilter)}
	var surfBounds []index.ZoneBounds
	var calRanges []index.ZoneRange
	var enumSet *index.EnumBitmapSet
	if isEnum {
		enumSet = index.NewEnumBitmapSet(field.Variants)
	}

	for _, zp := range plans {
		raw, nulls := extractZone(field, zp.Events)

		block, err := encodeBlock(field.Type, raw, nulls)
		if err != nil {
			return err
		}
		if err := w.WriteZone(zp.Meta.ZoneID, block); err != nil {
			return err
		}

		zoneKeys := make(map[uint64]struct{})
		var minKey, maxKey []byte
		var tsMin, tsMax int64
		tsSeen := false
		for row, v := range raw {
			if nulls[row] {
				continue
			}

			if isEnum {
				if variant, ok := asStr(v); ok {
					enumSet.Set(zp.Meta.ZoneID, uint32(row), variant)
				}
			}
			if isTemporal {
				if ts, ok := asI64(v); ok {
					if !tsSeen || ts < tsMin {
						tsMin = ts
					}
					if !tsSeen || ts > tsMax {
						tsMax = ts
					}
					tsSeen = true
				}
			}

			key, ok := keyBytes(field.Type, v)
			if !ok {
				continue
			}
			h := index.HashValue(key)
			zoneKeys[h] = struct{}{}
			segKeys[h] = struct{}{}
			if minKey == nil || string(key) < string(minKey) {
				minKey = append([]byte(nil), key...)
			}
			if maxKey == nil || string(key) > string(maxKey) {
				maxKey = append([]byte(nil), key...)
			}
		}

		if want&index.KindZoneXor != 0 && len(zoneKeys) > 0 {
			f, err := index.BuildXorFilter(hashSlice(zoneKeys))
			if err != nil {
				return err
			}
			zoneXor.Zones[zp.Meta.ZoneID] = f
		}
		if want&index.KindSuRF != 0 && minKey != nil {
			surfBounds = append(surfBounds, index.ZoneBounds{ZoneID: zp.Meta.ZoneID, Min: minKey, Max: maxKey})
		}
		if isTemporal && tsSeen {
			zr := index.ZoneRange{ZoneID: zp.Meta.ZoneID, MinTS: tsMin, MaxTS: tsMax}
			calRanges = append(calRanges, zr)
			tfiPath := filepath.Join(cfg.Dir, seginfo.ZoneTemporalFileName(uid, field.Name, zp.Meta.ZoneID))
			if err := index.WriteZoneTemporalIndexFile(tfiPath, zr); err != nil {
				return err
			}
		}
	}

	if err := w.Close(zfcTmp); err != nil {
		return err
	}
	if err := os.Rename(colTmp, colPath); err != nil {
		return err
	}
	if err := os.Rename(zfcTmp, zfcPath); err != nil {
		return err
	}

	if want&index.KindXorField != 0 && len(segKeys) > 0 {
		f, err := index.BuildXorFilter(hashSlice(segKeys))
		if err != nil {
			return err
		}
		if err := index.WriteXorFieldFile(filepath.Join(cfg.Dir, seginfo.XorFilterFileName(uid, field.Name)), f); err != nil {
			return err
		}
		catalog.Record(field.Name, index.KindXorField)
	}
	if want&index.KindZoneXor != 0 && len(zoneXor.Zones) > 0 {
		if err := index.WriteZoneXorFile(filepath.Join(cfg.Dir, seginfo.ZoneXorFileName(uid, field.Name)), zoneXor); err != nil {
			return err
		}
		catalog.Record(field.Name, index.KindZoneXor)
	}
	if want&index.KindSuRF != 0 && len(surfBounds) > 0 {
		rf := index.BuildRangeFilter(surfBounds)
		if err := index.WriteRangeFilterFile(filepath.Join(cfg.Dir, seginfo.SuRFFileName(uid, field.Name)), rf); err != nil {
			return err
		}
		catalog.Record(field.Name, index.KindSuRF)
	}
	if isEnum && len(enumSet.Zones) > 0 {
		if err := index.WriteEnumBitmapFile(filepath.Join(cfg.Dir, seginfo.EnumBitmapFileName(uid, field.Name)), enumSet); err != nil {
			return err
		}
		catalog.Record(field.Name, index.KindEnumBitmap)
	}
	if isTemporal && len(calRanges) > 0 {
		cal := index.BuildCalendar(calRanges)
		if err := index.WriteCalendarFile(filepath.Join(cfg.Dir, seginfo.CalendarFileName(uid, field.Name)), cal); err != nil {
			return err
		}
		catalog.Record(field.Name, index.KindCalendar)
	}

	return nil
}

// extractZone pulls one field's raw values out of a zone's events, marking
// missing and unconvertible entries null.
func extractZone(field FieldLayout, events []*memtable.Event) (raw []any, nulls []bool) {
	raw = make([]any, len(events))
	nulls = make([]bool, len(events))
	for i, ev := range events {
		v, ok := fieldValue(ev, field.Name)
		if !ok || v == nil {
			nulls[i] = true
			continue
		}
		raw[i] = v
	}
	return raw, nulls
}

// encodeBlock builds the typed column block for one zone: fixed-width
// blocks with an optional null bitmap for numeric types, VarBytes with an
// offset table for strings, enums, and JSON.
func encodeBlock(t schema.LogicalType, raw []any, nulls []bool) (*column.Block, error) {
	n := uint32(len(raw))
	switch t {
	case schema.TypeI64, schema.TypeTimestamp:
		values := make([]int64, len(raw))
		for i, v := range raw {
			if nulls[i] {
				continue
			}
			values[i], _ = asI64(v)
		}
		return column.EncodeNumeric(column.PhysI64, n, column.EncodeI64(values), nulls)
	case schema.TypeU64:
		values := make([]uint64, len(raw))
		for i, v := range raw {
			if nulls[i] {
				continue
			}
			iv, _ := asI64(v)
			values[i] = uint64(iv)
		}
		return column.EncodeNumeric(column.PhysU64, n, column.EncodeU64(values), nulls)
	case schema.TypeDate:
		values := make([]int32, len(raw))
		for i, v := range raw {
			if nulls[i] {
				continue
			}
			iv, _ := asI64(v)
			values[i] = int32(iv)
		}
		return column.EncodeNumeric(column.PhysI32Date, n, column.EncodeDate(values), nulls)
	case schema.TypeF64:
		values := make([]float64, len(raw))
		for i, v := range raw {
			if nulls[i] {
				continue
			}
			values[i], _ = asF64(v)
		}
		return column.EncodeNumeric(column.PhysF64, n, column.EncodeF64(values), nulls)
	case schema.TypeBool:
		values := make([]bool, len(raw))
		for i, v := range raw {
			if nulls[i] {
				continue
			}
			values[i], _ = v.(bool)
		}
		return column.EncodeNumeric(column.PhysBool, n, column.EncodeBool(values), nulls)
	default: // String, Enum, JSON
		values := make([][]byte, len(raw))
		for i, v := range raw {
			if nulls[i] {
				continue
			}
			key, ok := keyBytes(t, v)
			if !ok {
				nulls[i] = true
				continue
			}
			values[i] = key
		}
		return column.EncodeVarBytes(values, nulls)
	}
}

func hashSlice(set map[uint64]struct{}) []uint64 {
	out := make([]uint64, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	return out
}
