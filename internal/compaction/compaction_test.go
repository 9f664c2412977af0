package compaction

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/colonnade-db/colonnade/internal/cache"
	"github.com/colonnade-db/colonnade/internal/column"
	"github.com/colonnade-db/colonnade/internal/memtable"
	"github.com/colonnade-db/colonnade/internal/schema"
	"github.com/colonnade-db/colonnade/internal/segment"
	"github.com/colonnade-db/colonnade/pkg/logger"
	"github.com/colonnade-db/colonnade/pkg/options"
	"github.com/colonnade-db/colonnade/pkg/seginfo"
)

func entry(id uint32, uids ...string) segment.Entry {
	return segment.Entry{ID: id, UIDs: uids}
}

func TestPolicyBatchesOfK(t *testing.T) {
	p := Policy{K: 4, IDsPerLevel: 10000}

	entries := []segment.Entry{
		entry(0, "a"), entry(1, "a"), entry(2, "a"), entry(3, "a"),
		entry(4, "a"), entry(5, "a"), entry(6, "a"), entry(7, "a"),
		entry(8, "a"), // leftover of 1: below the forced threshold
	}
	plans := p.Plans(entries)
	if len(plans) != 2 {
		t.Fatalf("expected 2 plans, got %d", len(plans))
	}
	for _, plan := range plans {
		if len(plan.Inputs) != 4 {
			t.Fatalf("expected batches of exactly k, got %d", len(plan.Inputs))
		}
	}
}

func TestPolicyForcedLeftover(t *testing.T) {
	p := Policy{K: 4, IDsPerLevel: 10000}

	// 3 leftovers >= ceil(2k/3) forces a partial batch.
	entries := []segment.Entry{entry(0, "a"), entry(1, "a"), entry(2, "a")}
	plans := p.Plans(entries)
	if len(plans) != 1 || len(plans[0].Inputs) != 3 {
		t.Fatalf("expected one forced leftover plan of 3, got %+v", plans)
	}

	// 2 leftovers stay below the threshold.
	plans = p.Plans(entries[:2])
	if len(plans) != 0 {
		t.Fatalf("expected no plan below the forced threshold, got %+v", plans)
	}
}

func TestPolicyIdempotentOnCompactedSet(t *testing.T) {
	p := Policy{K: 4, IDsPerLevel: 10000}

	// One segment already promoted to L1: nothing to do.
	plans := p.Plans([]segment.Entry{entry(10000, "a")})
	if len(plans) != 0 {
		t.Fatalf("expected no plans for an already-compacted set, got %+v", plans)
	}
}

func TestPolicyGroupsByLevel(t *testing.T) {
	p := Policy{K: 2, IDsPerLevel: 10000}

	entries := []segment.Entry{
		entry(0, "a"), entry(1, "a"), // L0 pair
		entry(10000, "a"), entry(10001, "a"), // L1 pair
	}
	plans := p.Plans(entries)
	if len(plans) != 2 {
		t.Fatalf("expected one plan per level, got %d", len(plans))
	}
	if plans[0].Level != 0 || plans[1].Level != 1 {
		t.Fatalf("levels out of order: %+v", plans)
	}
}

type compactionFixture struct {
	shardDir string
	reg      *schema.MemRegistry
	uid      string
	index    *segment.Index
	caches   *cache.Caches
	worker   *Worker
}

func newFixture(t *testing.T) *compactionFixture {
	t.Helper()
	shardDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(shardDir, "segments"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	reg := schema.NewMemRegistry()
	sch, err := reg.Register("order", []schema.FieldDef{
		{Name: "amount", Type: schema.TypeI64},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	ix, err := segment.OpenIndex(filepath.Join(shardDir, "segments.idx"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}

	caches := cache.NewCaches(options.NewDefaultOptions().Cache)
	worker := NewWorker(&Config{
		ShardDir:       shardDir,
		SegmentsSubdir: "segments",
		EventsPerZone:  8,
		IDsPerLevel:    10000,
		Codec:          column.NewCodec(),
		Registry:       reg,
		Index:          ix,
		Caches:         caches,
		Logger:         logger.Nop(),
	})

	return &compactionFixture{
		shardDir: shardDir,
		reg:      reg,
		uid:      sch.UID,
		index:    ix,
		caches:   caches,
		worker:   worker,
	}
}

// writeInput flushes a batch of events as one committed L0 segment.
func (f *compactionFixture) writeInput(t *testing.T, firstEventID int64, contexts []string) uint32 {
	t.Helper()
	id, err := f.index.NextID(0, 10000)
	if err != nil {
		t.Fatalf("next id: %v", err)
	}

	mt := memtable.New()
	for i, ctx := range contexts {
		mt.Insert(&memtable.Event{
			EventID:   firstEventID + int64(i),
			UID:       f.uid,
			ContextID: ctx,
			Timestamp: 1000 + firstEventID + int64(i),
			Payload:   map[string]any{"amount": firstEventID + int64(i)},
		})
	}

	dir := seginfo.DirPath(f.shardDir, "segments", id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	manifest, err := segment.Write(&segment.WriteConfig{
		Dir:           dir,
		SegmentID:     id,
		EventsPerZone: 8,
		Codec:         column.NewCodec(),
		Registry:      f.reg,
		Logger:        logger.Nop(),
	}, mt)
	if err != nil {
		t.Fatalf("write segment: %v", err)
	}
	if err := f.index.Commit([]segment.Entry{{ID: id, UIDs: manifest.UIDs}}, nil); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return id
}

func TestWorkerMergePreservesEvents(t *testing.T) {
	f := newFixture(t)

	in1 := f.writeInput(t, 1, []string{"ctx-b", "ctx-a", "ctx-c"})
	in2 := f.writeInput(t, 10, []string{"ctx-a", "ctx-d"})

	plans := Policy{K: 2, IDsPerLevel: 10000}.Plans(f.index.Snapshot())
	if len(plans) != 1 {
		t.Fatalf("expected 1 plan, got %d", len(plans))
	}
	if err := f.worker.Run(context.Background(), plans[0]); err != nil {
		t.Fatalf("run: %v", err)
	}

	snapshot := f.index.Snapshot()
	if len(snapshot) != 1 || snapshot[0].ID != 10000 {
		t.Fatalf("expected only the L1 output listed, got %+v", snapshot)
	}
	for _, id := range []uint32{in1, in2} {
		dir := seginfo.DirPath(f.shardDir, "segments", id)
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Fatalf("input segment %d not unlinked", id)
		}
	}

	sch, _ := f.reg.GetSchemaByUID(f.uid)
	outDir := seginfo.DirPath(f.shardDir, "segments", 10000)
	reader := segment.NewReader(outDir, 10000, f.uid, column.NewCodec(), f.caches)
	events, err := reader.Events(sch)
	if err != nil {
		t.Fatalf("read merged events: %v", err)
	}

	// The multiset of events survives the merge.
	if len(events) != 5 {
		t.Fatalf("expected 5 merged events, got %d", len(events))
	}
	var ids []int64
	for _, ev := range events {
		ids = append(ids, ev.EventID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	want := []int64{1, 2, 3, 10, 11}
	for i, id := range want {
		if ids[i] != id {
			t.Fatalf("merged event ids %v, want %v", ids, want)
		}
	}

	// Merge order is by context_id, ties by input order.
	var contexts []string
	for _, ev := range events {
		contexts = append(contexts, ev.ContextID)
	}
	wantOrder := []string{"ctx-a", "ctx-a", "ctx-b", "ctx-c", "ctx-d"}
	for i := range wantOrder {
		if contexts[i] != wantOrder[i] {
			t.Fatalf("merge order %v, want %v", contexts, wantOrder)
		}
	}
}

func TestWorkerFailureLeavesInputsIntact(t *testing.T) {
	f := newFixture(t)

	in := f.writeInput(t, 1, []string{"ctx-a", "ctx-b"})
	f.writeInput(t, 5, []string{"ctx-c"})

	// A plan referencing a UID the registry doesn't know fails the merge.
	plans := Policy{K: 2, IDsPerLevel: 10000}.Plans(f.index.Snapshot())
	plans[0].Inputs[0].UIDs = append(plans[0].Inputs[0].UIDs, "ghost_uid")

	if err := f.worker.Run(context.Background(), plans[0]); err == nil {
		t.Fatal("expected merge failure")
	}

	if !f.index.Contains(in) {
		t.Fatal("failed compaction must leave inputs listed")
	}
	dir := seginfo.DirPath(f.shardDir, "segments", 10000)
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("partial output not removed after failure")
	}
}
