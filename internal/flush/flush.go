// Package flush implements the per-shard flush manager: a serial worker
// that drains passive memtables into segment directories, verifies them,
// commits them to the segment index, and reclaims covered WAL log files.
// Segment ids are emitted in queue order because the worker is strictly
// serial.
package flush

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/colonnade-db/colonnade/internal/column"
	"github.com/colonnade-db/colonnade/internal/memtable"
	"github.com/colonnade-db/colonnade/internal/schema"
	"github.com/colonnade-db/colonnade/internal/segment"
	"github.com/colonnade-db/colonnade/internal/wal"
	coreerrors "github.com/colonnade-db/colonnade/pkg/errors"
	"github.com/colonnade-db/colonnade/pkg/filesys"
	"github.com/colonnade-db/colonnade/pkg/seginfo"
)

// State tracks one outstanding segment's flush lifecycle: only
// Verified segments may have their passive buffers dropped.
type State uint8

const (
	StateFlushing State = iota
	StateWritten
	StateVerified
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateFlushing:
		return "flushing"
	case StateWritten:
		return "written"
	case StateVerified:
		return "verified"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Tracker records the lifecycle state of every outstanding segment id.
type Tracker struct {
	mu     sync.Mutex
	states map[uint32]State
}

// NewTracker returns an empty lifecycle tracker.
func NewTracker() *Tracker {
	return &Tracker{states: make(map[uint32]State)}
}

// Set records segmentID's current state.
func (t *Tracker) Set(segmentID uint32, s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[segmentID] = s
}

// Get returns segmentID's state, or ok=false if it was never tracked or
// already forgotten.
func (t *Tracker) Get(segmentID uint32) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[segmentID]
	return s, ok
}

// Forget drops a finished segment from the tracker.
func (t *Tracker) Forget(segmentID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, segmentID)
}

const (
	verifyAttempts = 3
	verifyBackoff  = 50 * time.Millisecond

	flushAttempts = 3
	flushBackoff  = 100 * time.Millisecond
)

// Config wires a Manager into its shard.
type Config struct {
	ShardDir       string
	SegmentsSubdir string
	WALDir         string
	EventsPerZone  int

	Codec    column.Codec
	Registry schema.Registry
	Index    *segment.Index
	Rotator  *memtable.Rotator
	WAL      *wal.WAL
	Logger   *zap.SugaredLogger
}

// Manager owns one shard's flush queue and worker.
type Manager struct {
	cfg     *Config
	tracker *Tracker

	jobs chan *memtable.PassiveEntry
	wg   sync.WaitGroup

	mu      sync.Mutex
	pending int
	idle    *sync.Cond
	closed  bool
}

// NewManager builds a Manager and starts its serial flush worker.
func NewManager(cfg *Config) *Manager {
	m := &Manager{
		cfg:     cfg,
		tracker: NewTracker(),
		jobs:    make(chan *memtable.PassiveEntry, 16),
	}
	m.idle = sync.NewCond(&m.mu)

	m.wg.Add(1)
	go m.worker()
	return m
}

// Tracker exposes the lifecycle tracker for tests and diagnostics.
func (m *Manager) Tracker() *Tracker { return m.tracker }

// QueueForFlush enqueues a sealed passive memtable for flushing under its
// pre-allocated segment id.
func (m *Manager) QueueForFlush(entry *memtable.PassiveEntry) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.pending++
	m.mu.Unlock()

	m.tracker.Set(entry.SegmentID, StateFlushing)
	m.jobs <- entry
}

// Wait blocks until every queued flush has completed (or terminally
// failed), respecting ctx. Used by the flush() command surface: return only
// when all current passive buffers are verified.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.mu.Lock()
		for m.pending > 0 {
			m.idle.Wait()
		}
		m.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs, drains the queue, and joins the worker.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	close(m.jobs)
	m.wg.Wait()
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for entry := range m.jobs {
		m.runJob(entry)

		m.mu.Lock()
		m.pending--
		if m.pending == 0 {
			m.idle.Broadcast()
		}
		m.mu.Unlock()
	}
}

// runJob drives one flush to completion with bounded retries. On terminal
// failure the passive buffer stays in the rotator's set — the data remains
// queryable in memory and is retried by the next explicit flush.
func (m *Manager) runJob(entry *memtable.PassiveEntry) {
	var err error
	for attempt := 1; attempt <= flushAttempts; attempt++ {
		if err = m.flushOne(entry); err == nil {
			return
		}
		m.cfg.Logger.Errorw("flush attempt failed",
			"segmentID", entry.SegmentID, "attempt", attempt, "error", err)
		time.Sleep(flushBackoff * time.Duration(attempt))
	}

	m.tracker.Set(entry.SegmentID, StateFailed)
	m.cfg.Logger.Errorw("flush failed terminally; passive buffer retained",
		"segmentID", entry.SegmentID, "error", err)
}

func (m *Manager) flushOne(entry *memtable.PassiveEntry) error {
	dir := seginfo.DirPath(m.cfg.ShardDir, m.cfg.SegmentsSubdir, entry.SegmentID)

	if err := filesys.CreateDir(dir, 0755, true); err != nil {
		return coreerrors.NewFlushFailedError("create_dir", entry.SegmentID, err)
	}

	manifest, err := segment.Write(&segment.WriteConfig{
		Dir:           dir,
		SegmentID:     entry.SegmentID,
		EventsPerZone: m.cfg.EventsPerZone,
		Codec:         m.cfg.Codec,
		Registry:      m.cfg.Registry,
		Logger:        m.cfg.Logger,
	}, entry.Table)
	if err != nil {
		return coreerrors.NewFlushFailedError("segment_write", entry.SegmentID, err)
	}

	if err := filesys.SyncDir(dir); err != nil {
		return coreerrors.NewFlushFailedError("fsync_dir", entry.SegmentID, err)
	}
	m.tracker.Set(entry.SegmentID, StateWritten)

	if err := m.cfg.Index.Commit([]segment.Entry{{
		ID:           entry.SegmentID,
		UIDs:         manifest.UIDs,
		CoveredLogID: entry.FirstLogID,
	}}, nil); err != nil {
		return coreerrors.NewFlushFailedError("index_commit", entry.SegmentID, err)
	}

	if err := m.verify(dir, entry.SegmentID); err != nil {
		return err
	}
	m.tracker.Set(entry.SegmentID, StateVerified)

	// The segment is durable and visible: the passive buffer can be
	// reclaimed, and WAL files strictly below the covering log id with it.
	m.cfg.Rotator.ReleasePassive(entry.SegmentID)
	if err := wal.Truncate(m.cfg.WALDir, entry.FirstLogID); err != nil {
		m.cfg.Logger.Warnw("wal reclaim failed; will retry after next flush",
			"segmentID", entry.SegmentID, "error", err)
	}

	m.cfg.Logger.Infow("segment flushed",
		"segmentID", entry.SegmentID, "uids", manifest.UIDs, "coveredLogID", entry.FirstLogID)
	return nil
}

// verify confirms the segment is queryable — directory present and listed
// in the segment index — with bounded retries.
func (m *Manager) verify(dir string, segmentID uint32) error {
	var lastErr error
	for attempt := 1; attempt <= verifyAttempts; attempt++ {
		exists, err := filesys.Exists(dir)
		switch {
		case err != nil:
			lastErr = err
		case !exists:
			lastErr = coreerrors.NewSegmentVerificationFailedError(segmentID, nil).
				WithStage("directory_missing")
		case !m.cfg.Index.Contains(segmentID):
			lastErr = coreerrors.NewSegmentVerificationFailedError(segmentID, nil).
				WithStage("index_missing")
		default:
			return nil
		}
		time.Sleep(verifyBackoff * time.Duration(attempt))
	}
	return lastErr
}
