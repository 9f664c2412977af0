// Package eventid generates the monotonic 64-bit identifier assigned to
// every stored event. Each shard owns exactly one Generator; ids it
// produces are strictly increasing for the life of the shard, even across
// backwards clock skew.
package eventid

import (
	"sync"
	"time"
)

// Epoch is the fixed reference point ids are measured from. Keeping it
// recent maximizes the useful range of the 41-bit timestamp component.
const Epoch = int64(1_700_000_000_000) // 2023-11-14T22:13:20Z, ms since Unix epoch

const (
	shardBits    = 10
	sequenceBits = 12

	shardShift = sequenceBits
	timeShift  = sequenceBits + shardBits

	maxShard    = (1 << shardBits) - 1
	maxSequence = (1 << sequenceBits) - 1
)

// Generator produces EventId values of the form
// (timestamp-ms since Epoch) << timeShift | shard << shardShift | sequence.
// A single Generator must not be shared across shards; each shard owns one.
type Generator struct {
	mu       sync.Mutex
	shard    uint32
	lastMs   int64
	sequence uint32

	// now is overridable in tests to simulate clock skew deterministically.
	now func() int64
}

// New builds a Generator for the given shard index. shard must fit in
// shardBits; callers with more shards than that must partition differently
// upstream, which the engine's configured shard_count never exceeds.
func New(shard uint32) *Generator {
	if shard > maxShard {
		shard = shard % (maxShard + 1)
	}
	return &Generator{
		shard: shard,
		now:   func() int64 { return time.Now().UnixMilli() },
	}
}

// Next returns the next monotonic event id. On backwards clock skew the
// generator holds the previous millisecond and keeps incrementing the
// per-ms sequence, rolling into the next logical millisecond if the
// sequence space for the current one is exhausted.
func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now()
	if ms < Epoch {
		// buildID would clamp any pre-Epoch reading to the same elapsed 0;
		// treat such readings as Epoch so the sequence keeps ids ordered.
		ms = Epoch
	}
	if ms < g.lastMs {
		// Clock moved backwards; pin to the last observed millisecond so
		// ids stay monotonic instead of regressing.
		ms = g.lastMs
	}

	if ms == g.lastMs {
		g.sequence++
		if g.sequence > maxSequence {
			// Sequence space exhausted within this millisecond: advance the
			// logical clock by one and reset, staying monotonic without
			// waiting on the wall clock.
			ms++
			g.sequence = 0
		}
	} else {
		g.sequence = 0
	}

	g.lastMs = ms
	return buildID(ms, g.shard, g.sequence)
}

func buildID(ms int64, shard, sequence uint32) int64 {
	elapsed := ms - Epoch
	if elapsed < 0 {
		elapsed = 0
	}
	return (elapsed << timeShift) | (int64(shard) << shardShift) | int64(sequence)
}

// Decompose splits an EventId back into its timestamp (ms since Unix
// epoch), shard, and sequence components. Primarily useful for diagnostics
// and tests.
func Decompose(id int64) (timestampMs int64, shard uint32, sequence uint32) {
	sequence = uint32(id & maxSequence)
	shard = uint32((id >> shardShift) & maxShard)
	elapsed := id >> timeShift
	return elapsed + Epoch, shard, sequence
}
