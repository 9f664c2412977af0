package shard

import (
	"context"
	"testing"
	"time"

	"github.com/colonnade-db/colonnade/internal/cache"
	"github.com/colonnade-db/colonnade/internal/filter"
	"github.com/colonnade-db/colonnade/internal/planner"
	"github.com/colonnade-db/colonnade/internal/query"
	"github.com/colonnade-db/colonnade/internal/schema"
	"github.com/colonnade-db/colonnade/pkg/logger"
	"github.com/colonnade-db/colonnade/pkg/options"
)

func testShard(t *testing.T, dir string, reg schema.Registry, flushThreshold int) *Shard {
	t.Helper()
	opts := options.NewDefaultOptions()
	opts.DataDir = dir
	opts.FlushThreshold = flushThreshold
	opts.WAL.Fsync = false
	opts.WAL.Buffered = false
	opts.Segment.EventsPerZone = 8
	opts.CompactionInterval = time.Hour

	s, err := Open(context.Background(), &Config{
		ID:       0,
		Dir:      dir,
		Options:  &opts,
		Registry: reg,
		Caches:   cache.NewCaches(opts.Cache),
		Logger:   logger.Nop(),
	})
	if err != nil {
		t.Fatalf("open shard: %v", err)
	}
	return s
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

func TestAutoRotationFlushesAtThreshold(t *testing.T) {
	reg := orderRegistry(t)
	s := testShard(t, t.TempDir(), reg, 10)
	defer s.Close()

	ctx := context.Background()
	for i := int64(0); i < 25; i++ {
		if _, err := s.Store(ctx, "order", "ctx-1", 1000+i, map[string]any{"amount": i}); err != nil {
			t.Fatalf("store %d: %v", i, err)
		}
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	// Threshold crossings plus the final flush must have committed
	// multiple L0 segments, and no event may be lost or duplicated.
	if snapshot := s.index.Snapshot(); len(snapshot) < 2 {
		t.Fatalf("expected several flushed segments, got %+v", snapshot)
	}
	rows, _, err := s.CollectPartials(ctx, &query.Spec{EventType: "order"})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(rows) != 25 {
		t.Fatalf("expected 25 rows across segments and memtable, got %d", len(rows))
	}

	seen := make(map[int64]bool)
	for _, r := range rows {
		id := r["event_id"].I64
		if seen[id] {
			t.Fatalf("event %d duplicated", id)
		}
		seen[id] = true
	}
}

func TestEventIDsStrictlyIncreasing(t *testing.T) {
	reg := orderRegistry(t)
	s := testShard(t, t.TempDir(), reg, 1<<20)
	defer s.Close()

	ctx := context.Background()
	var last int64 = -1
	for i := int64(0); i < 100; i++ {
		id, err := s.Store(ctx, "order", "ctx-1", 1000+i, map[string]any{"amount": i})
		if err != nil {
			t.Fatalf("store: %v", err)
		}
		if id <= last {
			t.Fatalf("event id %d not greater than previous %d", id, last)
		}
		last = id
	}
}

func TestValidationRejectsBadPayloads(t *testing.T) {
	reg := schema.NewMemRegistry()
	if _, err := reg.Register("login", []schema.FieldDef{
		{Name: "kind", Type: schema.TypeEnum, Variants: []string{"web", "ios"}},
		{Name: "note", Type: schema.TypeString, Optional: true},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	s := testShard(t, t.TempDir(), reg, 1<<20)
	defer s.Close()

	ctx := context.Background()
	cases := []map[string]any{
		{"kind": "web", "bogus": 1},  // undeclared field
		{"note": "missing required"}, // required enum absent
		{"kind": "desktop"},          // unknown variant
	}
	for i, payload := range cases {
		if _, err := s.Store(ctx, "login", "c", 1, payload); err == nil {
			t.Fatalf("case %d: expected validation failure for %v", i, payload)
		}
	}

	if _, err := s.Store(ctx, "login", "c", 1, map[string]any{"kind": "ios"}); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
}

func TestNotPredicateComplementsWithinUID(t *testing.T) {
	reg := orderRegistry(t)
	s := testShard(t, t.TempDir(), reg, 1<<20)
	defer s.Close()

	ctx := context.Background()
	for i := int64(0); i < 20; i++ {
		if _, err := s.Store(ctx, "order", "ctx-1", 1000+i, map[string]any{"amount": i}); err != nil {
			t.Fatalf("store: %v", err)
		}
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	where := &filter.Not{Child: filter.NewLeaf(&filter.Predicate{
		Column: "amount",
		Op:     planner.OpLt,
		Value:  filter.ScalarI64(5),
	})}
	rows, _, err := s.CollectPartials(ctx, &query.Spec{EventType: "order", Where: where})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(rows) != 15 {
		t.Fatalf("NOT(amount < 5) should match 15 rows, got %d", len(rows))
	}
}

func TestRecoveryReplaysOnlyUncoveredLogs(t *testing.T) {
	dir := t.TempDir()
	reg := orderRegistry(t)
	ctx := context.Background()

	s := testShard(t, dir, reg, 1<<20)
	for i := int64(0); i < 5; i++ {
		if _, err := s.Store(ctx, "order", "ctx-1", 1000+i, map[string]any{"amount": i}); err != nil {
			t.Fatalf("store: %v", err)
		}
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	// Two more rows after the flush live only in the WAL.
	for i := int64(5); i < 7; i++ {
		if _, err := s.Store(ctx, "order", "ctx-1", 1000+i, map[string]any{"amount": i}); err != nil {
			t.Fatalf("store: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s = testShard(t, dir, reg, 1<<20)
	defer s.Close()

	if got := s.rotator.Active().Len(); got != 2 {
		t.Fatalf("recovery should replay exactly the 2 unflushed rows, got %d", got)
	}
	rows, _, err := s.CollectPartials(ctx, &query.Spec{EventType: "order"})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(rows) != 7 {
		t.Fatalf("expected 7 total rows after recovery, got %d", len(rows))
	}
}
