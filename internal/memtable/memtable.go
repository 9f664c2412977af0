// Package memtable implements the active in-memory event buffer. Inserts
// are WAL-first at the caller level (internal/shard enforces the ordering);
// the memtable itself keeps each UID's events in insertion order. It does
// not sort them by (context_id, event_id).
package memtable

import (
	"sort"
	"sync"
)

// Event is the in-memory representation of one stored event, grouped by
// the UID of its event_type schema so the segment writer can partition by
// UID directly on flush.
type Event struct {
	EventID   int64
	UID       string
	ContextID string
	Timestamp int64
	Payload   map[string]any
}

// Memtable is a concurrent-safe buffer of events awaiting flush.
// Writers insert sequentially under a single per-shard lock; readers take
// a point-in-time snapshot that is safe to iterate without holding a lock.
type Memtable struct {
	mu     sync.RWMutex
	byUID  map[string][]*Event // insertion order preserved per UID
	rows   int
	sealed bool
}

// New returns an empty, writable Memtable.
func New() *Memtable {
	return &Memtable{byUID: make(map[string][]*Event)}
}

// Insert appends ev to its UID's row set. Insert cannot fail:
// callers are expected to have already durably appended to the WAL.
func (m *Memtable) Insert(ev *Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byUID[ev.UID] = append(m.byUID[ev.UID], ev)
	m.rows++
}

// Len returns the total row count across every UID.
func (m *Memtable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rows
}

// UIDs returns the set of event_type UIDs with at least one buffered row,
// sorted for deterministic flush ordering.
func (m *Memtable) UIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	uids := make([]string, 0, len(m.byUID))
	for uid := range m.byUID {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	return uids
}

// Snapshot returns the events for uid in insertion order. The returned
// slice is a copy: callers may hold and iterate it without racing future
// inserts (which the engine does not perform once a memtable is sealed,
// but readers may still query an active memtable concurrently).
func (m *Memtable) Snapshot(uid string) []*Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.byUID[uid]
	out := make([]*Event, len(rows))
	copy(out, rows)
	return out
}

// ForContext returns every event for uid whose ContextID matches ctx, in
// insertion order. Used to serve replay() and point queries against a
// still-active memtable.
func (m *Memtable) ForContext(uid, ctx string) []*Event {
	rows := m.Snapshot(uid)
	out := make([]*Event, 0)
	for _, ev := range rows {
		if ev.ContextID == ctx {
			out = append(out, ev)
		}
	}
	return out
}

// Seal marks the memtable read-only. Rotation calls Seal before handing the
// memtable to the passive buffer set; a sealed memtable must never receive
// further inserts.
func (m *Memtable) Seal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sealed = true
}

// Sealed reports whether Seal has been called.
func (m *Memtable) Sealed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sealed
}
