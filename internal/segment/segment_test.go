package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/colonnade-db/colonnade/internal/cache"
	"github.com/colonnade-db/colonnade/internal/column"
	"github.com/colonnade-db/colonnade/internal/index"
	"github.com/colonnade-db/colonnade/internal/memtable"
	"github.com/colonnade-db/colonnade/internal/schema"
	"github.com/colonnade-db/colonnade/pkg/logger"
	"github.com/colonnade-db/colonnade/pkg/options"
)

func testRegistry(t *testing.T) (*schema.MemRegistry, string) {
	t.Helper()
	reg := schema.NewMemRegistry()
	sch, err := reg.Register("order", []schema.FieldDef{
		{Name: "amount", Type: schema.TypeI64},
		{Name: "country", Type: schema.TypeString, Optional: true},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg, sch.UID
}

func testMemtable(uid string, n int) *memtable.Memtable {
	mt := memtable.New()
	for i := 0; i < n; i++ {
		mt.Insert(&memtable.Event{
			EventID:   int64(i + 1),
			UID:       uid,
			ContextID: fmt.Sprintf("ctx-%d", i%4),
			Timestamp: int64(1000 + i),
			Payload:   map[string]any{"amount": int64(i), "country": "US"},
		})
	}
	return mt
}

func writeTestSegment(t *testing.T, dir string, reg *schema.MemRegistry, mt *memtable.Memtable, eventsPerZone int) *Manifest {
	t.Helper()
	cfg := &WriteConfig{
		Dir:           dir,
		SegmentID:     0,
		EventsPerZone: eventsPerZone,
		Codec:         column.NewCodec(),
		Registry:      reg,
		Logger:        logger.Nop(),
	}
	manifest, err := Write(cfg, mt)
	if err != nil {
		t.Fatalf("write segment: %v", err)
	}
	return manifest
}

func testCaches() *cache.Caches {
	return cache.NewCaches(options.NewDefaultOptions().Cache)
}

func TestWriteAndReadBack(t *testing.T) {
	dir := t.TempDir()
	reg, uid := testRegistry(t)
	mt := testMemtable(uid, 100)

	manifest := writeTestSegment(t, dir, reg, mt, 16)
	if len(manifest.UIDs) != 1 || manifest.UIDs[0] != uid {
		t.Fatalf("unexpected manifest uids: %v", manifest.UIDs)
	}
	if manifest.Rows[uid] != 100 {
		t.Fatalf("unexpected row count: %d", manifest.Rows[uid])
	}

	r := NewReader(dir, 0, uid, column.NewCodec(), testCaches())

	zones, err := r.Zones()
	if err != nil {
		t.Fatalf("zones: %v", err)
	}
	// sum_of_zone_row_counts == segment_row_count
	var total uint32
	for _, z := range zones {
		total += z.Rows()
	}
	if total != 100 {
		t.Fatalf("zone rows sum to %d, want 100", total)
	}

	// Column files share the zone partitioning and row count.
	for _, field := range []string{"event_id", "context_id", "timestamp", "amount", "country"} {
		var colTotal int
		for _, z := range zones {
			vals, err := r.Values(field, z.ZoneID)
			if err != nil {
				t.Fatalf("values %s/%d: %v", field, z.ZoneID, err)
			}
			if vals.Len() != int(z.Rows()) {
				t.Fatalf("field %s zone %d: %d rows, want %d", field, z.ZoneID, vals.Len(), z.Rows())
			}
			colTotal += vals.Len()
		}
		if colTotal != 100 {
			t.Fatalf("field %s rows sum to %d, want 100", field, colTotal)
		}
	}
}

func TestEventsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	reg, uid := testRegistry(t)
	mt := testMemtable(uid, 50)

	writeTestSegment(t, dir, reg, mt, 16)

	sch, _ := reg.GetSchemaByUID(uid)
	r := NewReader(dir, 0, uid, column.NewCodec(), testCaches())
	events, err := r.Events(sch)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 50 {
		t.Fatalf("got %d events, want 50", len(events))
	}

	original := mt.Snapshot(uid)
	for i, ev := range events {
		want := original[i]
		if ev.EventID != want.EventID || ev.ContextID != want.ContextID || ev.Timestamp != want.Timestamp {
			t.Fatalf("event %d envelope mismatch: got %+v want %+v", i, ev, want)
		}
		if ev.Payload["amount"] != want.Payload["amount"] {
			t.Fatalf("event %d amount mismatch: got %v want %v", i, ev.Payload["amount"], want.Payload["amount"])
		}
	}
}

func TestContextIndexLookup(t *testing.T) {
	dir := t.TempDir()
	reg, uid := testRegistry(t)
	mt := testMemtable(uid, 64)

	writeTestSegment(t, dir, reg, mt, 16)

	r := NewReader(dir, 0, uid, column.NewCodec(), testCaches())
	zones, err := r.ContextZones("ctx-0")
	if err != nil {
		t.Fatalf("context zones: %v", err)
	}
	if len(zones) == 0 {
		t.Fatal("expected ctx-0 to appear in at least one zone")
	}
	missing, err := r.ContextZones("ctx-nope")
	if err != nil {
		t.Fatalf("context zones: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("expected no zones for unknown context, got %v", missing)
	}
}

func TestCatalogRecordsPolicyIndexes(t *testing.T) {
	dir := t.TempDir()
	reg, uid := testRegistry(t)
	mt := testMemtable(uid, 64)

	writeTestSegment(t, dir, reg, mt, 16)

	r := NewReader(dir, 0, uid, column.NewCodec(), testCaches())
	cat, err := r.Catalog()
	if err != nil || cat == nil {
		t.Fatalf("catalog: cat=%v err=%v", cat, err)
	}

	// Primitive fields carry the full XOR+SuRF set.
	for _, kind := range []index.Kind{index.KindXorField, index.KindZoneXor, index.KindSuRF} {
		if !cat.Has("amount", kind) {
			t.Fatalf("amount missing %v", kind)
		}
	}
	// The envelope timestamp routes to the calendar.
	if !cat.Has("timestamp", index.KindCalendar) {
		t.Fatal("timestamp missing calendar")
	}
	// context_id gets XOR filters but no SuRF.
	if !cat.Has("context_id", index.KindZoneXor) || cat.Has("context_id", index.KindSuRF) {
		t.Fatal("context_id index set does not match the category policy")
	}
}

func TestSegmentIndexCommitAndRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segments.idx")

	ix, err := OpenIndex(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	id, err := ix.NextID(0, 10000)
	if err != nil || id != 0 {
		t.Fatalf("first L0 id: got %d err=%v", id, err)
	}
	if err := ix.Commit([]Entry{{ID: id, UIDs: []string{"order_0"}, CoveredLogID: 3}}, nil); err != nil {
		t.Fatalf("commit: %v", err)
	}

	reopened, err := OpenIndex(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !reopened.Contains(0) {
		t.Fatal("reopened index lost committed entry")
	}
	if reopened.MaxCoveredLogID() != 3 {
		t.Fatalf("covered log id: got %d want 3", reopened.MaxCoveredLogID())
	}

	next, err := reopened.NextID(0, 10000)
	if err != nil || next != 1 {
		t.Fatalf("ids must never be reused: got %d err=%v", next, err)
	}
	l1, err := reopened.NextID(1, 10000)
	if err != nil || l1 != 10000 {
		t.Fatalf("L1 allocation: got %d err=%v", l1, err)
	}
}

func TestCorruptZonesFileIsAnError(t *testing.T) {
	dir := t.TempDir()
	reg, uid := testRegistry(t)
	writeTestSegment(t, dir, reg, testMemtable(uid, 8), 4)

	// Truncate the zones file mid-record.
	path := zonesPath(dir, uid)
	if err := os.WriteFile(path, []byte{0x01, 0x02}, 0644); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	r := NewReader(dir, 0, uid, column.NewCodec(), testCaches())
	if _, err := r.Zones(); err == nil {
		t.Fatal("expected corrupt zones file to surface an error")
	}
}
