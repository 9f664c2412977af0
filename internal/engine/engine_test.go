package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/colonnade-db/colonnade/internal/aggregate"
	"github.com/colonnade-db/colonnade/internal/cache"
	"github.com/colonnade-db/colonnade/internal/column"
	"github.com/colonnade-db/colonnade/internal/filter"
	"github.com/colonnade-db/colonnade/internal/planner"
	"github.com/colonnade-db/colonnade/internal/pruner"
	"github.com/colonnade-db/colonnade/internal/query"
	"github.com/colonnade-db/colonnade/internal/schema"
	"github.com/colonnade-db/colonnade/internal/segment"
	"github.com/colonnade-db/colonnade/internal/sequence"
	"github.com/colonnade-db/colonnade/pkg/logger"
	"github.com/colonnade-db/colonnade/pkg/options"
)

func testOptions(dir string) *options.Options {
	opts := options.NewDefaultOptions()
	opts.DataDir = dir
	opts.ShardCount = 1
	opts.FlushThreshold = 1 << 20 // rotate only on explicit flush
	opts.Segment.EventsPerZone = 64
	opts.WAL.Fsync = false
	opts.WAL.Buffered = false
	opts.CompactionInterval = time.Hour // ticked manually
	return &opts
}

func openEngine(t *testing.T, dir string, reg schema.Registry) *Engine {
	t.Helper()
	e, err := New(context.Background(), &Config{
		Options:  testOptions(dir),
		Logger:   logger.Nop(),
		Registry: reg,
		Caches:   cache.NewCaches(options.NewDefaultOptions().Cache),
	})
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	return e
}

func orderRegistry(t *testing.T) *schema.MemRegistry {
	t.Helper()
	reg := schema.NewMemRegistry()
	if _, err := reg.Register("order", []schema.FieldDef{
		{Name: "amount", Type: schema.TypeI64},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func collect(t *testing.T, e *Engine, spec *query.Spec) []query.Row {
	t.Helper()
	stream, err := e.Query(context.Background(), spec)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	rows, err := stream.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	return rows
}

func amounts(rows []query.Row) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r["amount"].I64
	}
	return out
}

// Scenario 1: ingest -> query straight from the memtable.
func TestIngestThenQuery(t *testing.T) {
	reg := orderRegistry(t)
	e := openEngine(t, t.TempDir(), reg)
	defer e.Close()

	ctx := context.Background()
	store := func(ctxID string, amount, ts int64) {
		if _, err := e.Store(ctx, "order", ctxID, ts, map[string]any{"amount": amount}); err != nil {
			t.Fatalf("store: %v", err)
		}
	}
	store("ctx-1", 10, 1000)
	store("ctx-1", 20, 2000)
	store("ctx-2", 5, 1500)

	rows := collect(t, e, &query.Spec{EventType: "order", ContextID: "ctx-1"})
	if got := amounts(rows); len(got) != 2 || got[0] != 10 || got[1] != 20 {
		t.Fatalf("expected amounts [10 20] in ingest order, got %v", got)
	}
}

// Scenario 2: flush, simulate restart, query again through the segment path.
func TestFlushAndRestart(t *testing.T) {
	dir := t.TempDir()
	reg := orderRegistry(t)
	ctx := context.Background()

	e := openEngine(t, dir, reg)
	for _, ev := range []struct {
		ctxID  string
		amount int64
		ts     int64
	}{{"ctx-1", 10, 1000}, {"ctx-1", 20, 2000}, {"ctx-2", 5, 1500}} {
		if _, err := e.Store(ctx, "order", ev.ctxID, ev.ts, map[string]any{"amount": ev.amount}); err != nil {
			t.Fatalf("store: %v", err)
		}
	}
	if err := e.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	e = openEngine(t, dir, reg)
	defer e.Close()

	rows := collect(t, e, &query.Spec{EventType: "order", ContextID: "ctx-1"})
	if got := amounts(rows); len(got) != 2 || got[0] != 10 || got[1] != 20 {
		t.Fatalf("expected amounts [10 20] after restart, got %v", got)
	}
}

// Unflushed rows must survive a restart through WAL recovery.
func TestWALRecoveryAfterCrash(t *testing.T) {
	dir := t.TempDir()
	reg := orderRegistry(t)
	ctx := context.Background()

	e := openEngine(t, dir, reg)
	if _, err := e.Store(ctx, "order", "ctx-1", 1000, map[string]any{"amount": int64(7)}); err != nil {
		t.Fatalf("store: %v", err)
	}
	// Close without flushing: the row exists only in WAL + memtable.
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	e = openEngine(t, dir, reg)
	defer e.Close()

	rows := collect(t, e, &query.Spec{EventType: "order", ContextID: "ctx-1"})
	if got := amounts(rows); len(got) != 1 || got[0] != 7 {
		t.Fatalf("expected recovered amount [7], got %v", got)
	}
}

// Scenario 3: range query pruned by the SuRF filter touches few zones.
func TestRangePruneBySuRF(t *testing.T) {
	dir := t.TempDir()
	reg := orderRegistry(t)
	ctx := context.Background()

	e := openEngine(t, dir, reg)
	defer e.Close()

	for i := int64(0); i < 1024; i++ {
		if _, err := e.Store(ctx, "order", "ctx-1", 1000+i, map[string]any{"amount": i}); err != nil {
			t.Fatalf("store %d: %v", i, err)
		}
	}
	if err := e.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	where := filter.NewLeaf(&filter.Predicate{
		Column: "amount",
		Op:     planner.OpGt,
		Value:  filter.ScalarI64(1000),
	})
	rows := collect(t, e, &query.Spec{EventType: "order", Where: where})
	if len(rows) != 23 {
		t.Fatalf("expected exactly 23 rows for amount > 1000, got %d", len(rows))
	}

	// The SuRF probe must admit at most 10% of the segment's zones.
	uid, _ := reg.GetUID("order")
	segDir := filepath.Join(dir, "shard-000", "segments", "00000")
	r := segment.NewReader(segDir, 0, uid, column.NewCodec(), cache.NewCaches(options.NewDefaultOptions().Cache))
	zones, err := r.ZoneIDs()
	if err != nil {
		t.Fatalf("zones: %v", err)
	}
	rf, err := r.RangeFilter("amount")
	if err != nil || rf == nil {
		t.Fatalf("range filter: rf=%v err=%v", rf, err)
	}
	lo := filter.ScalarI64(1000).Bytes()
	hi := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	admitted, ok := pruner.ZoneSuRF(rf, lo, hi, len(zones))
	if !ok {
		t.Fatal("surf probe fell through to full scan")
	}
	if int(admitted.GetCardinality())*10 > len(zones) {
		t.Fatalf("surf admitted %d of %d zones, want <= 10%%", admitted.GetCardinality(), len(zones))
	}
}

// Scenario 4: enum equality served by the enum bitmap.
func TestEnumEquality(t *testing.T) {
	dir := t.TempDir()
	reg := schema.NewMemRegistry()
	if _, err := reg.Register("login", []schema.FieldDef{
		{Name: "kind", Type: schema.TypeEnum, Variants: []string{"android", "web", "ios"}},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	e := openEngine(t, dir, reg)
	defer e.Close()

	ctx := context.Background()
	variants := []string{"android", "web", "ios"}
	for i := 0; i < 300; i++ {
		payload := map[string]any{"kind": variants[i%3]}
		if _, err := e.Store(ctx, "login", fmt.Sprintf("u-%d", i), int64(1000+i), payload); err != nil {
			t.Fatalf("store: %v", err)
		}
	}
	if err := e.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	where := filter.NewLeaf(&filter.Predicate{
		Column: "kind",
		Op:     planner.OpEq,
		Value:  filter.ScalarStr("ios"),
	})
	rows := collect(t, e, &query.Spec{EventType: "login", Where: where})
	if len(rows) != 100 {
		t.Fatalf("expected 100 ios rows, got %d", len(rows))
	}

	// The catalog must route enum equality to the enum bitmap, not the
	// XOR filters.
	uid, _ := reg.GetUID("login")
	segDir := filepath.Join(dir, "shard-000", "segments", "00000")
	r := segment.NewReader(segDir, 0, uid, column.NewCodec(), cache.NewCaches(options.NewDefaultOptions().Cache))
	cat, err := r.Catalog()
	if err != nil || cat == nil {
		t.Fatalf("catalog: %v", err)
	}
	strat := planner.Plan(cat, "kind", schema.TypeEnum, true, planner.OpEq)
	if strat != planner.StrategyEnumBitmap {
		t.Fatalf("planner chose %v, want enum_bitmap", strat)
	}
}

// Scenario 5: group-by with a day bucket.
func TestGroupByWithDayBucket(t *testing.T) {
	reg := schema.NewMemRegistry()
	if _, err := reg.Register("visit", []schema.FieldDef{
		{Name: "country", Type: schema.TypeString},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	e := openEngine(t, t.TempDir(), reg)
	defer e.Close()

	ctx := context.Background()
	day1 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC).UnixMilli()
	day2 := time.Date(2024, 1, 2, 11, 0, 0, 0, time.UTC).UnixMilli()
	for _, ev := range []struct {
		country string
		ts      int64
	}{{"US", day1}, {"US", day1 + 60000}, {"DE", day2}} {
		if _, err := e.Store(ctx, "visit", "c", ev.ts, map[string]any{"country": ev.country}); err != nil {
			t.Fatalf("store: %v", err)
		}
	}

	rows := collect(t, e, &query.Spec{
		EventType:  "visit",
		Aggregates: []aggregate.Spec{{Op: aggregate.CountAll, Alias: "count"}},
		GroupBy:    []string{"country"},
		Bucket:     aggregate.TimeBucketing{Granularity: aggregate.BucketDay},
	})
	if len(rows) != 2 {
		t.Fatalf("expected 2 groups, got %d: %v", len(rows), rows)
	}

	day1Start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	day2Start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).UnixMilli()
	byCountry := make(map[string]query.Row)
	for _, r := range rows {
		byCountry[r["country"].Str] = r
	}
	if r := byCountry["US"]; r["count"].I64 != 2 || r["bucket"].I64 != day1Start {
		t.Fatalf("US group wrong: %v", r)
	}
	if r := byCountry["DE"]; r["count"].I64 != 1 || r["bucket"].I64 != day2Start {
		t.Fatalf("DE group wrong: %v", r)
	}
}

// Scenario 6: two-event sequence linked by user_id.
func TestSequenceFollowedBy(t *testing.T) {
	reg := schema.NewMemRegistry()
	for _, et := range []string{"page_view", "order"} {
		if _, err := reg.Register(et, []schema.FieldDef{
			{Name: "user_id", Type: schema.TypeString},
		}); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	e := openEngine(t, t.TempDir(), reg)
	defer e.Close()

	ctx := context.Background()
	store := func(et, user string, ts int64) {
		if _, err := e.Store(ctx, et, user, ts, map[string]any{"user_id": user}); err != nil {
			t.Fatalf("store: %v", err)
		}
	}
	store("page_view", "user1", 1000)
	store("page_view", "user2", 2000)
	store("order", "user1", 1500)

	stepRows := func(et string) []sequence.Row {
		rows := collect(t, e, &query.Spec{EventType: et})
		out := make([]sequence.Row, len(rows))
		for i, r := range rows {
			out[i] = sequence.Row{
				LinkValue: r["user_id"],
				Timestamp: r["timestamp"].I64,
				RowIndex:  i,
			}
		}
		return out
	}

	matches := sequence.TwoPointer(stepRows("page_view"), stepRows("order"), sequence.Link{Strict: true})
	if len(matches) != 1 {
		t.Fatalf("expected exactly one match, got %d", len(matches))
	}
	m := matches[0]
	if m.Rows[0].Timestamp != 1000 || m.Rows[1].Timestamp != 1500 {
		t.Fatalf("wrong match pairing: %+v", m)
	}
}

func TestOrderByOffsetLimit(t *testing.T) {
	reg := orderRegistry(t)
	e := openEngine(t, t.TempDir(), reg)
	defer e.Close()

	ctx := context.Background()
	for i := int64(0); i < 10; i++ {
		if _, err := e.Store(ctx, "order", fmt.Sprintf("c-%d", i), 1000+i, map[string]any{"amount": i}); err != nil {
			t.Fatalf("store: %v", err)
		}
	}

	rows := collect(t, e, &query.Spec{
		EventType:  "order",
		OrderBy:    "amount",
		Descending: true,
		Offset:     2,
		Limit:      3,
	})
	if got := amounts(rows); len(got) != 3 || got[0] != 7 || got[1] != 6 || got[2] != 5 {
		t.Fatalf("expected [7 6 5], got %v", got)
	}
}

func TestReplayOrderedByEventID(t *testing.T) {
	reg := orderRegistry(t)
	e := openEngine(t, t.TempDir(), reg)
	defer e.Close()

	ctx := context.Background()
	for i := int64(0); i < 5; i++ {
		if _, err := e.Store(ctx, "order", "ctx-r", 1000+i, map[string]any{"amount": i}); err != nil {
			t.Fatalf("store: %v", err)
		}
	}
	// Flush half the history so replay spans segments and memtable.
	if err := e.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	for i := int64(5); i < 8; i++ {
		if _, err := e.Store(ctx, "order", "ctx-r", 1000+i, map[string]any{"amount": i}); err != nil {
			t.Fatalf("store: %v", err)
		}
	}

	stream, err := e.Replay(ctx, "ctx-r", nil)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	rows, err := stream.Collect(ctx)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(rows) != 8 {
		t.Fatalf("expected 8 replayed events, got %d", len(rows))
	}
	var last int64 = -1
	for _, r := range rows {
		id := r["event_id"].I64
		if id <= last {
			t.Fatalf("event ids not strictly increasing: %d after %d", id, last)
		}
		last = id
	}

	since := int64(1005)
	stream, err = e.Replay(ctx, "ctx-r", &since)
	if err != nil {
		t.Fatalf("replay since: %v", err)
	}
	rows, err = stream.Collect(ctx)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 events since ts 1005, got %d", len(rows))
	}
}

func TestUnknownEventTypeRejected(t *testing.T) {
	reg := orderRegistry(t)
	e := openEngine(t, t.TempDir(), reg)
	defer e.Close()

	if _, err := e.Store(context.Background(), "nope", "c", 1, nil); err == nil {
		t.Fatal("expected SchemaUnknown for unregistered event_type")
	}
	if _, err := e.Query(context.Background(), &query.Spec{EventType: "nope"}); err == nil {
		t.Fatal("expected SchemaUnknown for unknown query event_type")
	}
}

func TestCompactionPromotesFlushedSegments(t *testing.T) {
	dir := t.TempDir()
	reg := orderRegistry(t)
	opts := testOptions(dir)
	opts.SegmentsPerMerge = 4

	e, err := New(context.Background(), &Config{
		Options:  opts,
		Logger:   logger.Nop(),
		Registry: reg,
		Caches:   cache.NewCaches(options.NewDefaultOptions().Cache),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer e.Close()

	ctx := context.Background()
	for batch := int64(0); batch < 4; batch++ {
		for i := int64(0); i < 8; i++ {
			amount := batch*8 + i
			if _, err := e.Store(ctx, "order", fmt.Sprintf("c-%d", i), 1000+amount, map[string]any{"amount": amount}); err != nil {
				t.Fatalf("store: %v", err)
			}
		}
		if err := e.Flush(ctx); err != nil {
			t.Fatalf("flush %d: %v", batch, err)
		}
	}

	e.Compact(ctx)

	// All 32 rows must survive the promotion to L1.
	rows := collect(t, e, &query.Spec{EventType: "order"})
	if len(rows) != 32 {
		t.Fatalf("expected 32 rows after compaction, got %d", len(rows))
	}
}
