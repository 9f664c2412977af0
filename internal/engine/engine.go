// Package engine provides the top-level sharded event-store engine: the
// public store/query/flush/replay surface over a configurable number of
// independent shards partitioning events by a stable hash of context_id.
// Each shard owns its own memtable, WAL, segment directory, flush queue,
// and compactor; the engine routes writes, fans queries out, and merges
// partial results.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/colonnade-db/colonnade/internal/aggregate"
	"github.com/colonnade-db/colonnade/internal/cache"
	"github.com/colonnade-db/colonnade/internal/filter"
	"github.com/colonnade-db/colonnade/internal/query"
	"github.com/colonnade-db/colonnade/internal/schema"
	"github.com/colonnade-db/colonnade/internal/shard"
	"github.com/colonnade-db/colonnade/pkg/options"
)

var (
	// ErrEngineClosed is returned when attempting to perform operations on
	// a closed engine.
	ErrEngineClosed = errors.New("operation failed: cannot access closed engine")
)

// Engine is the public entry point. It is safe for concurrent use; the
// per-shard single-writer discipline is enforced internally.
type Engine struct {
	opts     *options.Options
	log      *zap.SugaredLogger
	registry schema.Registry
	caches   *cache.Caches
	shards   []*shard.Shard
	closed   atomic.Bool
	cancel   context.CancelFunc
}

// Config holds the parameters needed to open an Engine.
type Config struct {
	Options  *options.Options
	Logger   *zap.SugaredLogger
	Registry schema.Registry

	// Caches optionally injects a private cache set; nil uses the
	// process-global one.
	Caches *cache.Caches
}

// New opens (or recovers) every shard under Options.DataDir and starts
// their background flush and compaction workers. A shard whose segment
// index is unreadable aborts the whole open.
func New(ctx context.Context, config *Config) (*Engine, error) {
	if config == nil || config.Options == nil || config.Logger == nil || config.Registry == nil {
		return nil, errors.New("engine: options, logger, and registry are required")
	}

	caches := config.Caches
	if caches == nil {
		caches = cache.Global()
	}

	// Background workers outlive the opening context; they stop on Close.
	bgCtx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		opts:     config.Options,
		log:      config.Logger,
		registry: config.Registry,
		caches:   caches,
		cancel:   cancel,
	}

	for i := 0; i < config.Options.ShardCount; i++ {
		dir := filepath.Join(config.Options.DataDir, fmt.Sprintf("shard-%03d", i))
		sh, err := shard.Open(bgCtx, &shard.Config{
			ID:       uint32(i),
			Dir:      dir,
			Options:  config.Options,
			Registry: config.Registry,
			Caches:   caches,
			Logger:   config.Logger.Named(fmt.Sprintf("shard-%03d", i)),
		})
		if err != nil {
			cancel()
			for _, open := range e.shards {
				open.Close()
			}
			return nil, err
		}
		e.shards = append(e.shards, sh)
	}

	config.Logger.Infow("engine opened",
		"dataDir", config.Options.DataDir, "shards", config.Options.ShardCount)
	return e, nil
}

// shardFor routes a context_id to its owning shard by stable hash.
func (e *Engine) shardFor(contextID string) *shard.Shard {
	return e.shards[xxhash.Sum64String(contextID)%uint64(len(e.shards))]
}

// Store ingests one event and returns its assigned event id. The event is
// durable (per the configured WAL policy) before Store returns.
func (e *Engine) Store(ctx context.Context, eventType, contextID string, timestamp int64, payload map[string]any) (int64, error) {
	if e.closed.Load() {
		return 0, ErrEngineClosed
	}
	return e.shardFor(contextID).Store(ctx, eventType, contextID, timestamp, payload)
}

// Flush forces every shard to rotate its active memtable and blocks until
// all passive buffers are verified.
func (e *Engine) Flush(ctx context.Context) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, sh := range e.shards {
		sh := sh
		g.Go(func() error { return sh.Flush(gctx) })
	}
	return g.Wait()
}

// Compact runs one synchronous compaction pass on every shard. The
// background compactors cover steady state; this exists for tests and
// maintenance tooling.
func (e *Engine) Compact(ctx context.Context) {
	for _, sh := range e.shards {
		sh.CompactNow(ctx)
	}
}

// Query executes spec and returns a stream of result rows. Shards are
// queried concurrently; their partials are merged here — aggregate partial
// states across shards, ordered rows by a k-way merge honoring offset and
// limit.
func (e *Engine) Query(ctx context.Context, spec *query.Spec) (*query.Stream, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	if err := spec.Validate(e.registry); err != nil {
		return nil, err
	}

	partials := make([][]query.Row, len(e.shards))
	sinks := make([]*aggregate.Sink, len(e.shards))

	g, gctx := errgroup.WithContext(ctx)
	for i, sh := range e.shards {
		i, sh := i, sh
		g.Go(func() error {
			rows, sink, err := sh.CollectPartials(gctx, spec)
			if err != nil {
				return err
			}
			partials[i] = rows
			sinks[i] = sink
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var rows []query.Row
	if spec.IsAggregate() {
		rows = e.mergeAggregates(spec, sinks)
	} else {
		rows = mergeRows(spec, partials)
	}

	stream := query.NewStream(64)
	go func() {
		for _, row := range rows {
			if err := stream.Send(ctx, row); err != nil {
				stream.CloseWith(err)
				return
			}
		}
		stream.CloseWith(nil)
	}()
	return stream, nil
}

// mergeAggregates folds every shard's partial sink into the first and
// finalizes.
func (e *Engine) mergeAggregates(spec *query.Spec, sinks []*aggregate.Sink) []query.Row {
	var merged *aggregate.Sink
	for _, s := range sinks {
		if s == nil {
			continue
		}
		if merged == nil {
			merged = s
			continue
		}
		merged.Merge(s)
	}
	if merged == nil {
		return nil
	}

	var rows []query.Row
	for _, ar := range merged.Close() {
		row := make(query.Row, len(spec.GroupBy)+len(ar.Aggregate)+1)
		if spec.Bucket.Granularity != aggregate.BucketNone {
			row["bucket"] = filter.ScalarTimestamp(ar.Bucket)
		}
		for i, name := range spec.GroupBy {
			if i < len(ar.GroupBy) {
				row[name] = ar.GroupBy[i]
			}
		}
		for name, v := range ar.Aggregate {
			row[name] = v
		}
		rows = append(rows, row)
	}
	return rows
}

// mergeRows combines per-shard row sets: with an order-by column each
// shard's rows are sorted then k-way merged; otherwise shards concatenate
// in shard order. Offset and limit apply to the merged stream.
func mergeRows(spec *query.Spec, partials [][]query.Row) []query.Row {
	var merged []query.Row
	if spec.OrderBy == "" {
		for _, rows := range partials {
			merged = append(merged, rows...)
		}
	} else {
		for _, rows := range partials {
			sortRows(rows, spec.OrderBy, spec.Descending)
		}
		merged = kWayMerge(partials, spec.OrderBy, spec.Descending)
	}

	if spec.Offset > 0 {
		if spec.Offset >= len(merged) {
			return nil
		}
		merged = merged[spec.Offset:]
	}
	if spec.Limit > 0 && len(merged) > spec.Limit {
		merged = merged[:spec.Limit]
	}
	return merged
}

// rowLess orders rows by column; rows missing the column sort last
// regardless of direction.
func rowLess(a, b query.Row, column string, desc bool) bool {
	av, aok := a[column]
	bv, bok := b[column]
	if !aok || !bok {
		return aok
	}
	cmp := av.Compare(bv)
	if desc {
		return cmp > 0
	}
	return cmp < 0
}

func sortRows(rows []query.Row, column string, desc bool) {
	sort.SliceStable(rows, func(i, j int) bool { return rowLess(rows[i], rows[j], column, desc) })
}

// kWayMerge merges already-sorted per-shard row slices, taking the
// smallest (or largest) head each step with shard order as the tie break.
func kWayMerge(sorted [][]query.Row, column string, desc bool) []query.Row {
	cursors := make([]int, len(sorted))
	total := 0
	for _, rows := range sorted {
		total += len(rows)
	}

	merged := make([]query.Row, 0, total)
	for len(merged) < total {
		best := -1
		for i, rows := range sorted {
			if cursors[i] >= len(rows) {
				continue
			}
			if best == -1 || rowLess(rows[cursors[i]], sorted[best][cursors[best]], column, desc) {
				best = i
			}
		}
		merged = append(merged, sorted[best][cursors[best]])
		cursors[best]++
	}
	return merged
}

// Replay streams every event for contextID in event-id order, optionally
// from sinceTS onward.
func (e *Engine) Replay(ctx context.Context, contextID string, sinceTS *int64) (*query.Stream, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	rows, err := e.shardFor(contextID).Replay(ctx, contextID, sinceTS)
	if err != nil {
		return nil, err
	}

	stream := query.NewStream(64)
	go func() {
		for _, row := range rows {
			if err := stream.Send(ctx, row); err != nil {
				stream.CloseWith(err)
				return
			}
		}
		stream.CloseWith(nil)
	}()
	return stream, nil
}

// Close gracefully shuts down every shard, stopping background workers and
// closing WALs. Buffered rows are recovered from the WAL on next open.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrEngineClosed
	}
	e.cancel()

	var err error
	for _, sh := range e.shards {
		err = multierr.Append(err, sh.Close())
	}
	return err
}
