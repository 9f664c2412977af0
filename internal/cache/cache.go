// Package cache implements the process-global read caches: the decompressed
// column block cache, the zone-index cache (.zones/.zfc/.idx/.cat decoded
// forms), and the filter cache (XOR/SuRF/enum/calendar structures). Each is
// an LRU over a byte budget with single-flighted misses — the first caller
// performs the load, all concurrent callers for the same key await its
// result.
package cache

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	coreerrors "github.com/colonnade-db/colonnade/pkg/errors"
)

// maxEntries bounds the LRU's entry count; the effective limit is the byte
// budget, which evicts long before this is reached.
const maxEntries = 1 << 20

// Stats is a point-in-time snapshot of one cache's counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Bytes     int64
	Entries   int
}

type entry[V any] struct {
	value V
	size  int64
	segID uint32
}

// Cache is a byte-budgeted LRU keyed by string (callers build keys from the
// canonical file path plus zone id). Loads are single-flighted; a failed
// load is surfaced to every waiter and never inserted.
type Cache[V any] struct {
	mu        sync.Mutex
	lru       *lru.Cache[string, *entry[V]]
	budget    atomic.Int64
	bytes     int64
	bySegment map[uint32]map[string]struct{}

	group singleflight.Group

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New builds a cache with the given byte budget.
func New[V any](budgetBytes int64) *Cache[V] {
	c := &Cache[V]{bySegment: make(map[uint32]map[string]struct{})}
	c.budget.Store(budgetBytes)

	// The evict callback runs under c.mu for every removal path (LRU
	// pressure, Invalidate, Remove), keeping the byte count and the
	// per-segment reverse index consistent.
	l, _ := lru.NewWithEvict(maxEntries, func(key string, e *entry[V]) {
		c.bytes -= e.size
		if keys, ok := c.bySegment[e.segID]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(c.bySegment, e.segID)
			}
		}
		c.evictions.Add(1)
	})
	c.lru = l
	return c
}

// GetOrLoad returns the cached value for key, or runs load to produce it.
// Concurrent callers for the same key share one load. size is the value's
// resident byte footprint, charged against the budget; segmentID scopes the
// entry for Invalidate.
func (c *Cache[V]) GetOrLoad(key string, segmentID uint32, load func() (V, int64, error)) (V, error) {
	c.mu.Lock()
	if e, ok := c.lru.Get(key); ok {
		c.mu.Unlock()
		c.hits.Add(1)
		return e.value, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the flight: a previous flight may have inserted
		// the entry between our miss and this call.
		c.mu.Lock()
		if e, ok := c.lru.Get(key); ok {
			c.mu.Unlock()
			return e.value, nil
		}
		c.mu.Unlock()

		c.misses.Add(1)
		value, size, err := load()
		if err != nil {
			return nil, coreerrors.NewCacheLoadFailedError("decode", err).WithDetail("key", key)
		}
		c.insert(key, segmentID, value, size)
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

func (c *Cache[V]) insert(key string, segmentID uint32, value V, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Add(key, &entry[V]{value: value, size: size, segID: segmentID})
	c.bytes += size
	keys, ok := c.bySegment[segmentID]
	if !ok {
		keys = make(map[string]struct{})
		c.bySegment[segmentID] = keys
	}
	keys[key] = struct{}{}

	budget := c.budget.Load()
	for c.bytes > budget && c.lru.Len() > 1 {
		c.lru.RemoveOldest()
	}
}

// Invalidate drops every entry loaded for segmentID, called when a segment
// is removed by compaction.
func (c *Cache[V]) Invalidate(segmentID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.bySegment[segmentID]
	for key := range keys {
		c.lru.Remove(key)
	}
}

// ResizeBytes changes the byte budget, evicting immediately if the cache is
// now over it.
func (c *Cache[V]) ResizeBytes(budgetBytes int64) {
	c.budget.Store(budgetBytes)
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.bytes > budgetBytes && c.lru.Len() > 0 {
		c.lru.RemoveOldest()
	}
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	bytes := c.bytes
	entries := c.lru.Len()
	c.mu.Unlock()
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Bytes:     bytes,
		Entries:   entries,
	}
}
