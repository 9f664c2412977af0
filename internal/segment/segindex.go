package segment

import (
	"errors"
	"io"
	"os"
	"sort"
	"sync"

	coreerrors "github.com/colonnade-db/colonnade/pkg/errors"
	"github.com/colonnade-db/colonnade/pkg/seginfo"
)

// Entry is one segment's record in the shard's segment index file: its id,
// the event_type UIDs it contains, and the WAL log id below which every
// event it holds has been durably flushed.
type Entry struct {
	ID           uint32
	UIDs         []string
	CoveredLogID uint64
}

// Index is the per-shard segment index: the single source of truth for
// which segments exist and which UIDs they contain. Flush and
// compaction both rewrite it under the same coordination lock; readers take
// consistent snapshots.
type Index struct {
	mu       sync.Mutex
	path     string
	entries  map[uint32]Entry
	reserved map[uint32]struct{}
}

// OpenIndex loads the segment index at path, or returns an empty index if
// the file does not exist yet. A corrupt index file is fatal to shard
// startup.
func OpenIndex(path string) (*Index, error) {
	ix := &Index{
		path:     path,
		entries:  make(map[uint32]Entry),
		reserved: make(map[uint32]struct{}),
	}

	err := readFramedFile(path, magicSegIndex, func(r io.Reader) error {
		n, err := readU32(r)
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			var e Entry
			if e.ID, err = readU32(r); err != nil {
				return err
			}
			if e.CoveredLogID, err = readU64(r); err != nil {
				return err
			}
			count, err := readU32(r)
			if err != nil {
				return err
			}
			e.UIDs = make([]string, count)
			for j := range e.UIDs {
				if e.UIDs[j], err = readString(r); err != nil {
					return err
				}
			}
			ix.entries[e.ID] = e
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ix, nil
		}
		return nil, coreerrors.NewStorageError(err, coreerrors.ErrorCodeRecoveryFailed, "segment index unreadable").WithPath(path)
	}
	return ix, nil
}

// Snapshot returns every entry sorted ascending by segment id — the
// consistent read-time view of which segments a query may touch.
func (ix *Index) Snapshot() []Entry {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	out := make([]Entry, 0, len(ix.entries))
	for _, e := range ix.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Contains reports whether id is listed in the index.
func (ix *Index) Contains(id uint32) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, ok := ix.entries[id]
	return ok
}

// MaxCoveredLogID returns the highest CoveredLogID of any listed segment:
// every WAL log below it is covered, so WAL replay starts at this id.
func (ix *Index) MaxCoveredLogID() uint64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var max uint64
	for _, e := range ix.entries {
		if e.CoveredLogID > max {
			max = e.CoveredLogID
		}
	}
	return max
}

// NextID allocates the next unused segment id within level's id range,
// reserving it so a concurrent flush and compaction never collide. The
// allocation scans past every listed and reserved id, and Commit keeps
// removed ids reserved, so a committed id is not handed out again while
// the process runs. The index file stores only listed ids: after a
// restart, an id removed before it can be allocated again if it lies
// above every listed id of its level.
func (ix *Index) NextID(level int, idsPerLevel uint32) (uint32, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	start, end := seginfo.LevelRange(level, idsPerLevel)
	next := start
	for id := range ix.entries {
		if id >= start && id < end && id+1 > next {
			next = id + 1
		}
	}
	for id := range ix.reserved {
		if id >= start && id < end && id+1 > next {
			next = id + 1
		}
	}
	if next >= end {
		return 0, coreerrors.NewCompactionError(nil, coreerrors.ErrorCodeCompactionFailed, "segment id range exhausted for level").
			WithLevel(level)
	}
	ix.reserved[next] = struct{}{}
	return next, nil
}

// Commit atomically rewrites the index file adding add and removing the ids
// in remove, then updates the in-memory view. Only after the rename does
// any new segment become visible to readers.
func (ix *Index) Commit(add []Entry, remove []uint32) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	next := make(map[uint32]Entry, len(ix.entries)+len(add))
	for id, e := range ix.entries {
		next[id] = e
	}
	for _, id := range remove {
		delete(next, id)
	}
	for _, e := range add {
		next[e.ID] = e
	}

	ids := make([]uint32, 0, len(next))
	for id := range next {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	err := writeFramedFile(ix.path, magicSegIndex, func(w io.Writer) error {
		if err := writeU32(w, uint32(len(ids))); err != nil {
			return err
		}
		for _, id := range ids {
			e := next[id]
			if err := writeU32(w, e.ID); err != nil {
				return err
			}
			if err := writeU64(w, e.CoveredLogID); err != nil {
				return err
			}
			if err := writeU32(w, uint32(len(e.UIDs))); err != nil {
				return err
			}
			for _, uid := range e.UIDs {
				if err := writeString(w, uid); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return coreerrors.NewStorageError(err, coreerrors.ErrorCodeIO, "failed to rewrite segment index").WithPath(ix.path)
	}

	ix.entries = next
	for _, e := range add {
		delete(ix.reserved, e.ID)
	}
	for _, id := range remove {
		ix.reserved[id] = struct{}{}
	}
	return nil
}

// Release drops a reservation made by NextID when the flush or compaction
// holding it failed before Commit. A later NextID may hand the id out
// again, which is safe because it never reached the index.
func (ix *Index) Release(id uint32) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.reserved, id)
}
