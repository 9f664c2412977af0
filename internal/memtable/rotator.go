package memtable

import (
	"context"
	"sync"

	coreerrors "github.com/colonnade-db/colonnade/pkg/errors"
)

// PassiveEntry pairs a sealed memtable with the WAL log id it started at,
// so the flush manager knows which log files it may reclaim once the
// resulting segment is verified.
type PassiveEntry struct {
	Table        *Memtable
	SegmentID    uint32
	FirstLogID   uint64
}

// Rotator owns the active memtable and the passive buffer set for one
// shard. Rotation is atomic from the caller's point of view: Rotate swaps
// in a fresh memtable and seals the old one in a single locked step.
type Rotator struct {
	mu sync.Mutex

	threshold    int
	maxPassives  int
	active       *Memtable
	passives     []*PassiveEntry
	passiveFreed chan struct{}
}

// NewRotator builds a Rotator whose active memtable rotates once it
// reaches rowThreshold rows, and whose passive buffer set admits at most
// maxInflightPassives entries before further rotations block.
func NewRotator(rowThreshold, maxInflightPassives int) *Rotator {
	return &Rotator{
		threshold:    rowThreshold,
		maxPassives:  maxInflightPassives,
		active:       New(),
		passiveFreed: make(chan struct{}, 1),
	}
}

// Active returns the current active memtable for inserts and reads.
func (r *Rotator) Active() *Memtable {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Passives returns a snapshot of the current passive buffer set, safe to
// range over without racing concurrent rotations.
func (r *Rotator) Passives() []*PassiveEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*PassiveEntry, len(r.passives))
	copy(out, r.passives)
	return out
}

// ShouldRotate reports whether the active memtable has crossed the
// configured row threshold.
func (r *Rotator) ShouldRotate() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active.Len() >= r.threshold
}

// Rotate seals the active memtable into the passive set under the given
// segment id and WAL log id, and installs a fresh active memtable. It
// blocks, respecting ctx cancellation, until the passive set has room
// (max_inflight_passives).
func (r *Rotator) Rotate(ctx context.Context, segmentID uint32, firstLogID uint64) (*PassiveEntry, error) {
	for {
		r.mu.Lock()
		if len(r.passives) < r.maxPassives {
			break
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, coreerrors.NewCompactionError(ctx.Err(), coreerrors.ErrorCodeFlushFailed, "rotation blocked: passive buffer set full").
				WithStage("rotate")
		case <-r.passiveFreed:
		}
	}
	defer r.mu.Unlock()

	r.active.Seal()
	entry := &PassiveEntry{Table: r.active, SegmentID: segmentID, FirstLogID: firstLogID}
	r.passives = append(r.passives, entry)
	r.active = New()
	return entry, nil
}

// ReleasePassive removes a verified passive entry from the set and wakes
// any rotation blocked on capacity. Called by the flush manager after a
// segment reaches the Verified lifecycle state.
func (r *Rotator) ReleasePassive(segmentID uint32) {
	r.mu.Lock()
	idx := -1
	for i, p := range r.passives {
		if p.SegmentID == segmentID {
			idx = i
			break
		}
	}
	if idx >= 0 {
		r.passives = append(r.passives[:idx], r.passives[idx+1:]...)
	}
	r.mu.Unlock()

	select {
	case r.passiveFreed <- struct{}{}:
	default:
	}
}
