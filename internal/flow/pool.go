package flow

import "sync"

// BatchPool recycles ColumnBatch allocations across batches sharing the
// same BatchSchema, keyed by BatchSchema.Key().
type BatchPool struct {
	mu    sync.Mutex
	freed map[string][]*ColumnBatch
}

// NewBatchPool returns an empty pool.
func NewBatchPool() *BatchPool {
	return &BatchPool{freed: make(map[string][]*ColumnBatch)}
}

// Get returns a recycled batch for schema if one is free, otherwise
// allocates a fresh one with the given row-capacity hint.
func (p *BatchPool) Get(s *BatchSchema, capacity int) *ColumnBatch {
	key := s.Key()

	p.mu.Lock()
	free := p.freed[key]
	if n := len(free); n > 0 {
		b := free[n-1]
		p.freed[key] = free[:n-1]
		p.mu.Unlock()
		b.reset(s)
		return b
	}
	p.mu.Unlock()

	return NewColumnBatch(s, capacity)
}

// Put returns b to the pool for reuse by future Get calls with the same
// schema key.
func (p *BatchPool) Put(b *ColumnBatch) {
	if b == nil || b.Schema == nil {
		return
	}
	key := b.Schema.Key()
	p.mu.Lock()
	p.freed[key] = append(p.freed[key], b)
	p.mu.Unlock()
}
