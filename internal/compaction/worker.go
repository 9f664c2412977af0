package compaction

import (
	"container/heap"
	"context"
	"os"
	"sort"

	"go.uber.org/zap"

	"github.com/colonnade-db/colonnade/internal/cache"
	"github.com/colonnade-db/colonnade/internal/column"
	"github.com/colonnade-db/colonnade/internal/memtable"
	"github.com/colonnade-db/colonnade/internal/schema"
	"github.com/colonnade-db/colonnade/internal/segment"
	coreerrors "github.com/colonnade-db/colonnade/pkg/errors"
	"github.com/colonnade-db/colonnade/pkg/filesys"
	"github.com/colonnade-db/colonnade/pkg/seginfo"
)

// ZoneCursor walks one input segment's rows for one UID ordered by
// context_id, keeping stored order among rows of the same context.
type ZoneCursor struct {
	input int // position of this cursor's segment in the plan's input order
	rows  []*memtable.Event
	pos   int
}

func (c *ZoneCursor) current() *memtable.Event { return c.rows[c.pos] }
func (c *ZoneCursor) exhausted() bool          { return c.pos >= len(c.rows) }

// ZoneMerger is the k-way heap merge over input cursors, ordered by
// context_id with ties broken by input order and, within one input, by
// original row order.
type ZoneMerger struct {
	cursors []*ZoneCursor
}

func (m *ZoneMerger) Len() int { return len(m.cursors) }
func (m *ZoneMerger) Less(i, j int) bool {
	a, b := m.cursors[i].current(), m.cursors[j].current()
	if a.ContextID != b.ContextID {
		return a.ContextID < b.ContextID
	}
	if m.cursors[i].input != m.cursors[j].input {
		return m.cursors[i].input < m.cursors[j].input
	}
	return m.cursors[i].pos < m.cursors[j].pos
}
func (m *ZoneMerger) Swap(i, j int) { m.cursors[i], m.cursors[j] = m.cursors[j], m.cursors[i] }
func (m *ZoneMerger) Push(x any)    { m.cursors = append(m.cursors, x.(*ZoneCursor)) }
func (m *ZoneMerger) Pop() any {
	old := m.cursors
	n := len(old)
	item := old[n-1]
	m.cursors = old[:n-1]
	return item
}

// Drain emits every row across all cursors in merged order.
func (m *ZoneMerger) Drain(emit func(*memtable.Event)) {
	heap.Init(m)
	for m.Len() > 0 {
		top := m.cursors[0]
		emit(top.current())
		top.pos++
		if top.exhausted() {
			heap.Pop(m)
		} else {
			heap.Fix(m, 0)
		}
	}
}

// Config wires a Worker into its shard.
type Config struct {
	ShardDir       string
	SegmentsSubdir string
	EventsPerZone  int
	IDsPerLevel    uint32

	Codec    column.Codec
	Registry schema.Registry
	Index    *segment.Index
	Caches   *cache.Caches
	Logger   *zap.SugaredLogger
}

// Worker executes compaction plans: merge the inputs' rows per UID, write
// one new segment at the next level, commit the index swap, then unlink the
// inputs and invalidate their cache entries. A failed plan leaves its
// inputs untouched and removes the partial output.
type Worker struct {
	cfg *Config
}

// NewWorker builds a Worker.
func NewWorker(cfg *Config) *Worker { return &Worker{cfg: cfg} }

// Run executes one plan to completion.
func (w *Worker) Run(ctx context.Context, plan Plan) error {
	outID, err := w.cfg.Index.NextID(plan.Level+1, w.cfg.IDsPerLevel)
	if err != nil {
		return err
	}

	outDir := seginfo.DirPath(w.cfg.ShardDir, w.cfg.SegmentsSubdir, outID)
	if err := w.merge(ctx, plan, outID, outDir); err != nil {
		os.RemoveAll(outDir)
		w.cfg.Index.Release(outID)
		return coreerrors.NewCompactionFailedError(plan.Level, plan.InputIDs(), "merge", err).
			WithOutputSegment(outID)
	}

	for _, input := range plan.Inputs {
		dir := seginfo.DirPath(w.cfg.ShardDir, w.cfg.SegmentsSubdir, input.ID)
		if err := os.RemoveAll(dir); err != nil {
			w.cfg.Logger.Warnw("failed to unlink compacted input segment",
				"segmentID", input.ID, "error", err)
		}
		w.cfg.Caches.Invalidate(input.ID)
	}

	w.cfg.Logger.Infow("compaction complete",
		"level", plan.Level, "inputs", plan.InputIDs(), "output", outID)
	return nil
}

func (w *Worker) merge(ctx context.Context, plan Plan, outID uint32, outDir string) error {
	if err := filesys.CreateDir(outDir, 0755, true); err != nil {
		return err
	}

	merged := memtable.New()
	for _, uid := range plan.UIDs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		sch, ok := w.cfg.Registry.GetSchemaByUID(uid)
		if !ok {
			return coreerrors.NewSchemaUnknownError("", "").WithDetail("uid", uid)
		}

		merger := &ZoneMerger{}
		for inputPos, input := range plan.Inputs {
			if !containsUID(input.UIDs, uid) {
				continue
			}
			dir := seginfo.DirPath(w.cfg.ShardDir, w.cfg.SegmentsSubdir, input.ID)
			reader := segment.NewReader(dir, input.ID, uid, w.cfg.Codec, w.cfg.Caches)
			rows, err := reader.Events(sch)
			if err != nil {
				return err
			}
			// Segments store rows in insertion order; the heap merge needs
			// each cursor sorted by context_id.
			sort.SliceStable(rows, func(i, j int) bool { return rows[i].ContextID < rows[j].ContextID })
			if len(rows) > 0 {
				merger.cursors = append(merger.cursors, &ZoneCursor{input: inputPos, rows: rows})
			}
		}
		merger.Drain(func(ev *memtable.Event) { merged.Insert(ev) })
	}

	manifest, err := segment.Write(&segment.WriteConfig{
		Dir:           outDir,
		SegmentID:     outID,
		EventsPerZone: w.cfg.EventsPerZone,
		Codec:         w.cfg.Codec,
		Registry:      w.cfg.Registry,
		Logger:        w.cfg.Logger,
	}, merged)
	if err != nil {
		return err
	}

	if err := filesys.SyncDir(outDir); err != nil {
		return err
	}

	var coveredLogID uint64
	for _, input := range plan.Inputs {
		if input.CoveredLogID > coveredLogID {
			coveredLogID = input.CoveredLogID
		}
	}
	return w.cfg.Index.Commit([]segment.Entry{{
		ID:           outID,
		UIDs:         manifest.UIDs,
		CoveredLogID: coveredLogID,
	}}, plan.InputIDs())
}

func containsUID(uids []string, uid string) bool {
	for _, u := range uids {
		if u == uid {
			return true
		}
	}
	return false
}
