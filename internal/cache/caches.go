package cache

import (
	"fmt"
	"sync"

	"github.com/colonnade-db/colonnade/internal/column"
	"github.com/colonnade-db/colonnade/pkg/options"
)

// Caches bundles the three process-global caches. They are singletons by
// intent (see Global) but injectable: every reader takes a *Caches so tests
// can run with private instances and tight budgets.
type Caches struct {
	// Block caches decompressed column blocks keyed by (canonical file
	// path, zone_id).
	Block *Cache[*column.Block]

	// ZoneIndex caches decoded zone metadata, compressed-column indexes,
	// context indexes, and catalogs, keyed by file path.
	ZoneIndex *Cache[any]

	// Filter caches decoded XOR/SuRF/enum/calendar structures, keyed by
	// file path.
	Filter *Cache[any]
}

// NewCaches builds a fresh cache set with the configured byte budgets.
func NewCaches(opts options.CacheOptions) *Caches {
	return &Caches{
		Block:     New[*column.Block](opts.BlockCacheBytes),
		ZoneIndex: New[any](opts.ZoneIndexCacheBytes),
		Filter:    New[any](opts.FilterCacheBytes),
	}
}

// Invalidate drops every cached entry for segmentID across all three caches.
func (c *Caches) Invalidate(segmentID uint32) {
	c.Block.Invalidate(segmentID)
	c.ZoneIndex.Invalidate(segmentID)
	c.Filter.Invalidate(segmentID)
}

// BlockKey builds the block-cache key from a column file's canonical path
// and a zone id.
func BlockKey(canonicalPath string, zoneID uint32) string {
	return fmt.Sprintf("%s#%d", canonicalPath, zoneID)
}

var (
	globalOnce sync.Once
	global     *Caches
)

// Global returns the process-wide cache set, created on first use with the
// default budgets. Engines constructed without an explicit cache set share
// this one.
func Global() *Caches {
	globalOnce.Do(func() {
		global = NewCaches(options.NewDefaultOptions().Cache)
	})
	return global
}
