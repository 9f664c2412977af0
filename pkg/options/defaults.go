package options

import "time"

const (
	// DefaultDataDir is the base directory where Colonnade stores shard data
	// when no other directory is specified at open time.
	DefaultDataDir = "/var/lib/colonnade"

	// DefaultShardCount is the number of independent single-writer shards a
	// freshly opened engine partitions context_id across (engine.shard_count).
	DefaultShardCount = 8

	// DefaultEventsPerZone bounds the row count of a zone, the atomic unit
	// of read pruning (engine.events_per_zone).
	DefaultEventsPerZone = 4096

	// DefaultFlushThreshold is the memtable row count that triggers rotation
	// into the passive buffer set (engine.flush_threshold).
	DefaultFlushThreshold = 65536

	// DefaultMaxInflightPassives caps the passive buffer set per shard
	// (engine.max_inflight_passives).
	DefaultMaxInflightPassives = 2

	// MinSegmentsPerMerge and MaxSegmentsPerMerge bound k, the fan-in of the
	// k-way count compaction policy (engine.segments_per_merge).
	MinSegmentsPerMerge = 4
	MaxSegmentsPerMerge = 8

	// DefaultSegmentsPerMerge is the default k for the compaction policy.
	DefaultSegmentsPerMerge = 4

	// DefaultCompactionInterval is how often the compaction policy tick runs
	// (engine.compaction_interval_s).
	DefaultCompactionInterval = 30 * time.Second

	// DefaultIDsPerLevel is the number of segment ids reserved per
	// compaction level (L0 = [0, 10000), L1 = [10000, 20000), ...).
	DefaultIDsPerLevel uint32 = 10000

	// DefaultWALBufferSize is the size in bytes of the buffered WAL writer
	// when wal.buffered is enabled.
	DefaultWALBufferSize = 256 * 1024

	// DefaultWALSegmentMaxBytes is the size threshold at which a WAL log
	// file rotates to the next sequence number.
	DefaultWALSegmentMaxBytes int64 = 64 * 1024 * 1024

	// DefaultWALFsyncEveryN forces a periodic fsync every N buffered
	// records. Zero disables the counter-based sync; buffered records then
	// reach the file when the buffer fills and are fsynced only on
	// rotation, Sync and Close.
	DefaultWALFsyncEveryN = 0

	// DefaultWALDirectory and DefaultSegmentDirectory name the per-shard
	// subdirectories holding WAL log files and segment directories.
	DefaultWALDirectory     = "wal"
	DefaultSegmentDirectory = "segments"

	// DefaultBlockCacheBytes bounds the decompressed column block cache.
	DefaultBlockCacheBytes int64 = 256 * 1024 * 1024

	// DefaultZoneIndexCacheBytes bounds the cache of decoded zone catalogs
	// and compressed-column indexes.
	DefaultZoneIndexCacheBytes int64 = 64 * 1024 * 1024

	// DefaultFilterCacheBytes bounds the cache of decoded XOR/SuRF/enum/
	// calendar filter structures.
	DefaultFilterCacheBytes int64 = 64 * 1024 * 1024
)

// defaultOptions holds the baseline configuration every NewDefaultOptions
// call returns a copy of.
var defaultOptions = Options{
	DataDir:             DefaultDataDir,
	ShardCount:          DefaultShardCount,
	FlushThreshold:      DefaultFlushThreshold,
	MaxInflightPassives: DefaultMaxInflightPassives,
	SegmentsPerMerge:    DefaultSegmentsPerMerge,
	CompactionInterval:  DefaultCompactionInterval,
	WAL: WALOptions{
		Fsync:           false,
		Buffered:        true,
		BufferSize:      DefaultWALBufferSize,
		FsyncEveryN:     DefaultWALFsyncEveryN,
		SegmentMaxBytes: DefaultWALSegmentMaxBytes,
		Directory:       DefaultWALDirectory,
	},
	Segment: SegmentOptions{
		EventsPerZone: DefaultEventsPerZone,
		Directory:     DefaultSegmentDirectory,
		IDsPerLevel:   DefaultIDsPerLevel,
	},
	Cache: CacheOptions{
		BlockCacheBytes:     DefaultBlockCacheBytes,
		ZoneIndexCacheBytes: DefaultZoneIndexCacheBytes,
		FilterCacheBytes:    DefaultFilterCacheBytes,
	},
}

// NewDefaultOptions returns a fresh copy of the baseline configuration.
func NewDefaultOptions() Options {
	return defaultOptions
}
