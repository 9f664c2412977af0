// Package options provides data structures and functions for configuring
// the Colonnade engine. It defines every parameter that controls ingest,
// flush, compaction, WAL durability, and cache behavior, following the
// functional-options pattern: a zero-value-safe Options struct built from
// NewDefaultOptions and refined by chaining OptionFunc values.
package options

import (
	"strings"
	"time"
)

// WALOptions controls durability and batching of the write-ahead log.
// These map directly onto the wal.* configuration keys consumed by the core.
type WALOptions struct {
	// Fsync, when true, fsyncs after every append (wal.fsync). When false,
	// the log is fsynced every FsyncEveryN records (Buffered only), on
	// rotation, on Sync and on Close; there is no time-based sync.
	Fsync bool `json:"fsync"`

	// Buffered enables user-space buffering of WAL writes (wal.buffered).
	Buffered bool `json:"buffered"`

	// BufferSize is the size in bytes of the buffered writer (wal.buffer_size).
	BufferSize int `json:"bufferSize"`

	// FsyncEveryN forces an fsync every N records when Buffered is true and
	// Fsync is false (wal.fsync_every_n). Zero disables the counter-based sync.
	FsyncEveryN int `json:"fsyncEveryN"`

	// SegmentMaxBytes is the size threshold at which a WAL log file rotates.
	SegmentMaxBytes int64 `json:"segmentMaxBytes"`

	// Directory names the per-shard subdirectory holding wal-{NNNNN}.log files.
	Directory string `json:"directory"`
}

// SegmentOptions controls the on-disk segment writer and naming convention.
type SegmentOptions struct {
	// EventsPerZone bounds how many events are grouped into one zone,
	// the atomic unit of read pruning (engine.events_per_zone).
	EventsPerZone int `json:"eventsPerZone"`

	// Directory names the per-shard subdirectory holding segment directories.
	Directory string `json:"directory"`

	// IDsPerLevel is the number of segment ids reserved per compaction level
	// (L0 = [0, IDsPerLevel), L1 = [IDsPerLevel, 2*IDsPerLevel), ...).
	IDsPerLevel uint32 `json:"idsPerLevel"`
}

// CacheOptions controls the byte budgets of the process-global caches.
type CacheOptions struct {
	// BlockCacheBytes bounds the decompressed column block cache.
	BlockCacheBytes int64 `json:"blockCacheBytes"`

	// ZoneIndexCacheBytes bounds the cache of decoded zone/compressed-column
	// indexes (.zones, .zfc, .idx, .cat).
	ZoneIndexCacheBytes int64 `json:"zoneIndexCacheBytes"`

	// FilterCacheBytes bounds the cache of decoded XOR/SuRF/enum/calendar
	// filter structures.
	FilterCacheBytes int64 `json:"filterCacheBytes"`
}

// Options defines the full configuration surface of a Colonnade engine.
type Options struct {
	// DataDir is the base path under which every shard directory lives.
	DataDir string `json:"dataDir"`

	// ShardCount is the number of independent shards partitioning events by
	// a stable hash of context_id (engine.shard_count).
	ShardCount int `json:"shardCount"`

	// FlushThreshold is the memtable row-count threshold that triggers
	// rotation into the passive buffer set (engine.flush_threshold).
	FlushThreshold int `json:"flushThreshold"`

	// MaxInflightPassives caps the passive buffer set; further rotations
	// block until a flush completes (engine.max_inflight_passives).
	MaxInflightPassives int `json:"maxInflightPassives"`

	// SegmentsPerMerge is k in the k-way count compaction policy
	// (engine.segments_per_merge).
	SegmentsPerMerge int `json:"segmentsPerMerge"`

	// CompactionInterval is how often the compaction policy tick runs
	// (engine.compaction_interval_s).
	CompactionInterval time.Duration `json:"compactionInterval"`

	// WAL configures write-ahead log durability and rotation.
	WAL WALOptions `json:"wal"`

	// Segment configures the segment writer and zone sizing.
	Segment SegmentOptions `json:"segment"`

	// Cache configures the process-global cache byte budgets.
	Cache CacheOptions `json:"cache"`
}

// OptionFunc is a function type that modifies the engine's configuration.
type OptionFunc func(*Options)

// WithDefaultOptions resets every field to its documented default.
func WithDefaultOptions() OptionFunc {
	return func(o *Options) {
		*o = NewDefaultOptions()
	}
}

// WithDataDir sets the primary data directory.
func WithDataDir(directory string) OptionFunc {
	return func(o *Options) {
		directory = strings.TrimSpace(directory)
		if directory != "" {
			o.DataDir = directory
		}
	}
}

// WithShardCount sets the number of independent shards.
func WithShardCount(n int) OptionFunc {
	return func(o *Options) {
		if n > 0 {
			o.ShardCount = n
		}
	}
}

// WithEventsPerZone sets the maximum row count of a zone.
func WithEventsPerZone(n int) OptionFunc {
	return func(o *Options) {
		if n > 0 {
			o.Segment.EventsPerZone = n
		}
	}
}

// WithFlushThreshold sets the memtable rotation row-count threshold.
func WithFlushThreshold(n int) OptionFunc {
	return func(o *Options) {
		if n > 0 {
			o.FlushThreshold = n
		}
	}
}

// WithMaxInflightPassives caps the number of passive memtables awaiting flush.
func WithMaxInflightPassives(n int) OptionFunc {
	return func(o *Options) {
		if n > 0 {
			o.MaxInflightPassives = n
		}
	}
}

// WithSegmentsPerMerge sets k in the k-way count compaction policy.
func WithSegmentsPerMerge(k int) OptionFunc {
	return func(o *Options) {
		if k >= MinSegmentsPerMerge && k <= MaxSegmentsPerMerge {
			o.SegmentsPerMerge = k
		}
	}
}

// WithCompactionInterval sets how often the compaction policy tick runs.
func WithCompactionInterval(interval time.Duration) OptionFunc {
	return func(o *Options) {
		if interval > 0 {
			o.CompactionInterval = interval
		}
	}
}

// WithWALFsync toggles fsync-after-every-write durability.
func WithWALFsync(fsync bool) OptionFunc {
	return func(o *Options) { o.WAL.Fsync = fsync }
}

// WithWALBuffered toggles user-space write buffering.
func WithWALBuffered(buffered bool, bufferSize int) OptionFunc {
	return func(o *Options) {
		o.WAL.Buffered = buffered
		if bufferSize > 0 {
			o.WAL.BufferSize = bufferSize
		}
	}
}

// WithWALFsyncEveryN forces a periodic fsync every N buffered records.
func WithWALFsyncEveryN(n int) OptionFunc {
	return func(o *Options) {
		if n >= 0 {
			o.WAL.FsyncEveryN = n
		}
	}
}

// WithCacheBudgets overrides the three process-global cache byte budgets.
func WithCacheBudgets(blockBytes, zoneIndexBytes, filterBytes int64) OptionFunc {
	return func(o *Options) {
		if blockBytes > 0 {
			o.Cache.BlockCacheBytes = blockBytes
		}
		if zoneIndexBytes > 0 {
			o.Cache.ZoneIndexCacheBytes = zoneIndexBytes
		}
		if filterBytes > 0 {
			o.Cache.FilterCacheBytes = filterBytes
		}
	}
}
