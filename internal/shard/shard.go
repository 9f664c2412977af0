// Package shard implements one independent shard of the engine: its WAL,
// active and passive memtables, segment index, flush manager, and
// compactor. There is no cross-shard shared mutable state on the write
// path; everything here is owned by exactly one shard.
package shard

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/colonnade-db/colonnade/internal/cache"
	"github.com/colonnade-db/colonnade/internal/column"
	"github.com/colonnade-db/colonnade/internal/compaction"
	"github.com/colonnade-db/colonnade/internal/eventid"
	"github.com/colonnade-db/colonnade/internal/flush"
	"github.com/colonnade-db/colonnade/internal/memtable"
	"github.com/colonnade-db/colonnade/internal/query"
	"github.com/colonnade-db/colonnade/internal/schema"
	"github.com/colonnade-db/colonnade/internal/segment"
	"github.com/colonnade-db/colonnade/internal/wal"
	coreerrors "github.com/colonnade-db/colonnade/pkg/errors"
	"github.com/colonnade-db/colonnade/pkg/filesys"
	"github.com/colonnade-db/colonnade/pkg/options"
	"github.com/colonnade-db/colonnade/pkg/seginfo"
)

// segmentIndexFile is the per-shard segment index filename.
const segmentIndexFile = "segments.idx"

// Config carries everything needed to open one shard.
type Config struct {
	ID       uint32
	Dir      string
	Options  *options.Options
	Registry schema.Registry
	Caches   *cache.Caches
	Logger   *zap.SugaredLogger
}

// Shard owns one partition's full write and read path.
type Shard struct {
	id       uint32
	dir      string
	opts     *options.Options
	log      *zap.SugaredLogger
	registry schema.Registry
	caches   *cache.Caches
	codec    column.Codec

	wal       *wal.WAL
	rotator   *memtable.Rotator
	gen       *eventid.Generator
	index     *segment.Index
	flusher   *flush.Manager
	compactor *compaction.Compactor
}

// walRecord is the WAL payload framing of one event, JSON-encoded inside
// the log's length+CRC record frame.
type walRecord struct {
	EventID   int64          `json:"id"`
	UID       string         `json:"uid"`
	ContextID string         `json:"ctx"`
	Timestamp int64          `json:"ts"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Open creates or recovers a shard: directories, segment index, WAL replay
// into a fresh memtable, and background flush and compaction workers.
// An unreadable segment index aborts shard startup.
func Open(ctx context.Context, cfg *Config) (*Shard, error) {
	if err := filesys.CreateDir(cfg.Dir, 0755, true); err != nil {
		return nil, coreerrors.NewStorageError(err, coreerrors.ErrorCodeIO, "failed to create shard directory").WithPath(cfg.Dir)
	}
	segRoot := filepath.Join(cfg.Dir, cfg.Options.Segment.Directory)
	if err := filesys.CreateDir(segRoot, 0755, true); err != nil {
		return nil, coreerrors.NewStorageError(err, coreerrors.ErrorCodeIO, "failed to create segment directory").WithPath(segRoot)
	}

	index, err := segment.OpenIndex(filepath.Join(cfg.Dir, segmentIndexFile))
	if err != nil {
		return nil, err
	}

	walDir := filepath.Join(cfg.Dir, cfg.Options.WAL.Directory)
	w, err := wal.Open(ctx, &wal.Config{Dir: walDir, Options: &cfg.Options.WAL, Logger: cfg.Logger})
	if err != nil {
		return nil, err
	}

	s := &Shard{
		id:       cfg.ID,
		dir:      cfg.Dir,
		opts:     cfg.Options,
		log:      cfg.Logger,
		registry: cfg.Registry,
		caches:   cfg.Caches,
		codec:    column.NewCodec(),
		wal:      w,
		rotator:  memtable.NewRotator(cfg.Options.FlushThreshold, cfg.Options.MaxInflightPassives),
		gen:      eventid.New(cfg.ID),
		index:    index,
	}

	if err := s.recover(walDir); err != nil {
		w.Close()
		return nil, err
	}

	s.flusher = flush.NewManager(&flush.Config{
		ShardDir:       cfg.Dir,
		SegmentsSubdir: cfg.Options.Segment.Directory,
		WALDir:         walDir,
		EventsPerZone:  cfg.Options.Segment.EventsPerZone,
		Codec:          s.codec,
		Registry:       cfg.Registry,
		Index:          index,
		Rotator:        s.rotator,
		WAL:            w,
		Logger:         cfg.Logger,
	})

	worker := compaction.NewWorker(&compaction.Config{
		ShardDir:       cfg.Dir,
		SegmentsSubdir: cfg.Options.Segment.Directory,
		EventsPerZone:  cfg.Options.Segment.EventsPerZone,
		IDsPerLevel:    cfg.Options.Segment.IDsPerLevel,
		Codec:          s.codec,
		Registry:       cfg.Registry,
		Index:          index,
		Caches:         cfg.Caches,
		Logger:         cfg.Logger,
	})
	s.compactor = compaction.NewCompactor(
		compaction.Policy{K: cfg.Options.SegmentsPerMerge, IDsPerLevel: cfg.Options.Segment.IDsPerLevel},
		worker, index, cfg.Options.CompactionInterval, cfg.Logger,
	)
	s.compactor.Start(ctx)

	return s, nil
}

// recover replays every WAL log not fully covered by the segment index
// into the fresh active memtable.
func (s *Shard) recover(walDir string) error {
	since := s.index.MaxCoveredLogID()
	replayed := 0
	err := wal.Replay(walDir, since, func(_ uint64, payload []byte) error {
		var rec walRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return coreerrors.NewStorageError(err, coreerrors.ErrorCodeRecoveryFailed, "undecodable wal record")
		}
		s.rotator.Active().Insert(&memtable.Event{
			EventID:   rec.EventID,
			UID:       rec.UID,
			ContextID: rec.ContextID,
			Timestamp: rec.Timestamp,
			Payload:   rec.Payload,
		})
		replayed++
		return nil
	})
	if err != nil {
		return err
	}
	if replayed > 0 {
		s.log.Infow("wal recovery complete", "shard", s.id, "events", replayed, "sinceLogID", since)
	}
	return nil
}

// Store validates, assigns an event id, appends to the WAL, and inserts
// into the active memtable — WAL strictly first, so a failed append leaves
// the memtable untouched. It triggers rotation once the memtable crosses
// the flush threshold.
func (s *Shard) Store(ctx context.Context, eventType, contextID string, timestamp int64, payload map[string]any) (int64, error) {
	uid, ok := s.registry.GetUID(eventType)
	if !ok {
		return 0, coreerrors.NewSchemaUnknownError(eventType, "")
	}
	sch, ok := s.registry.GetSchemaByUID(uid)
	if !ok {
		return 0, coreerrors.NewSchemaUnknownError(eventType, "")
	}
	if err := validatePayload(sch, payload); err != nil {
		return 0, err
	}

	id := s.gen.Next()
	rec := walRecord{EventID: id, UID: uid, ContextID: contextID, Timestamp: timestamp, Payload: payload}
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, coreerrors.NewValidationFailedError(eventType, "", err)
	}

	if err := s.wal.Append(uint64(id), data); err != nil {
		return 0, err
	}
	s.rotator.Active().Insert(&memtable.Event{
		EventID:   id,
		UID:       uid,
		ContextID: contextID,
		Timestamp: timestamp,
		Payload:   payload,
	})

	if s.rotator.ShouldRotate() {
		if err := s.rotate(ctx); err != nil {
			// The event is durable and queryable; rotation is retried on
			// the next store or explicit flush.
			s.log.Warnw("memtable rotation failed", "shard", s.id, "error", err)
		}
	}
	return id, nil
}

// validatePayload rejects unknown fields, missing required fields, and
// enum values outside the declared variant set.
func validatePayload(sch *schema.Schema, payload map[string]any) error {
	for name := range payload {
		if _, ok := sch.FieldByName(name); !ok {
			return coreerrors.NewValidationFailedError(sch.EventType, name, nil).
				WithMessage("field not declared in schema")
		}
	}
	for _, f := range sch.Fields {
		v, present := payload[f.Name]
		if !present || v == nil {
			if !f.Optional {
				return coreerrors.NewValidationFailedError(sch.EventType, f.Name, nil).
					WithMessage("required field missing")
			}
			continue
		}
		if f.Type == schema.TypeEnum {
			variant, _ := v.(string)
			if !containsString(f.Variants, variant) {
				return coreerrors.NewValidationFailedError(sch.EventType, f.Name, nil).
					WithMessage("value is not a declared enum variant")
			}
		}
	}
	return nil
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// rotate swaps the active memtable into the passive set under a freshly
// allocated L0 segment id, rotating the WAL first so the passive buffer's
// events live entirely below the new log id.
func (s *Shard) rotate(ctx context.Context) error {
	segID, err := s.index.NextID(0, s.opts.Segment.IDsPerLevel)
	if err != nil {
		return err
	}
	coveringLogID, err := s.wal.Rotate()
	if err != nil {
		s.index.Release(segID)
		return err
	}
	entry, err := s.rotator.Rotate(ctx, segID, coveringLogID)
	if err != nil {
		s.index.Release(segID)
		return err
	}
	s.flusher.QueueForFlush(entry)
	return nil
}

// Flush forces a rotation of any buffered rows and blocks until every
// queued flush has finished, verified or terminally failed.
func (s *Shard) Flush(ctx context.Context) error {
	if s.rotator.Active().Len() > 0 {
		if err := s.rotate(ctx); err != nil {
			return err
		}
	}
	// Passive buffers whose earlier flush failed terminally are retried on
	// every explicit flush; their data stayed queryable in memory.
	for _, p := range s.rotator.Passives() {
		if state, ok := s.flusher.Tracker().Get(p.SegmentID); ok && state == flush.StateFailed {
			s.flusher.QueueForFlush(p)
		}
	}
	return s.flusher.Wait(ctx)
}

// CompactNow runs one synchronous compaction tick, used by tests and
// maintenance tooling; the background compactor covers steady state.
func (s *Shard) CompactNow(ctx context.Context) {
	s.compactor.Tick(ctx)
}

// Replay streams every event for contextID (optionally at or after
// sinceTS) in event-id order, reading segments through the per-context
// zone index and both memtable sets.
func (s *Shard) Replay(ctx context.Context, contextID string, sinceTS *int64) ([]query.Row, error) {
	var events []*memtable.Event

	for _, entry := range s.index.Snapshot() {
		dir := seginfo.DirPath(s.dir, s.opts.Segment.Directory, entry.ID)
		for _, uid := range entry.UIDs {
			sch, ok := s.registry.GetSchemaByUID(uid)
			if !ok {
				continue
			}
			reader := segment.NewReader(dir, entry.ID, uid, s.codec, s.caches)
			zoneIDs, err := reader.ContextZones(contextID)
			if err != nil || len(zoneIDs) == 0 {
				continue
			}
			all, err := reader.Events(sch)
			if err != nil {
				return nil, err
			}
			for _, ev := range all {
				if ev.ContextID == contextID {
					events = append(events, ev)
				}
			}
		}
	}

	for _, mt := range s.memtables() {
		for _, uid := range mt.UIDs() {
			events = append(events, mt.ForContext(uid, contextID)...)
		}
	}

	sort.Slice(events, func(i, j int) bool { return events[i].EventID < events[j].EventID })

	rows := make([]query.Row, 0, len(events))
	for _, ev := range events {
		if sinceTS != nil && ev.Timestamp < *sinceTS {
			continue
		}
		rows = append(rows, s.eventRow(ev))
	}
	return rows, nil
}

// memtables returns the active memtable plus every passive buffer, the
// full in-memory read set a query must consult.
func (s *Shard) memtables() []*memtable.Memtable {
	out := []*memtable.Memtable{s.rotator.Active()}
	for _, p := range s.rotator.Passives() {
		if p.Table.Len() > 0 {
			out = append(out, p.Table)
		}
	}
	return out
}

// Close stops background workers and closes the WAL. It does not force a
// final flush; buffered rows are recovered from the WAL on next open.
func (s *Shard) Close() error {
	s.compactor.Close()
	s.flusher.Close()
	return s.wal.Close()
}
