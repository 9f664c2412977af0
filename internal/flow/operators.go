package flow

import (
	"container/heap"
	"context"
	"fmt"

	"github.com/colonnade-db/colonnade/internal/filter"
	"github.com/colonnade-db/colonnade/internal/memtable"
	"github.com/colonnade-db/colonnade/internal/schema"
)

// ZoneLoader decodes one candidate zone's needed columns into a batch.
// Supplied by the caller (the query executor, via internal/segment and
// internal/cache) so SegmentSource stays free of storage-layer concerns.
type ZoneLoader func(ctx context.Context, zoneID uint32) (*ColumnBatch, error)

// SegmentSource iterates zoneIDs in order, loading and forwarding one
// batch per zone, then closes out. It stops early (without error) if a
// Send observes ctx cancellation from a closed downstream.
func SegmentSource(ctx context.Context, out *BatchChannel, zoneIDs []uint32, load ZoneLoader) error {
	defer out.Close()
	for _, zoneID := range zoneIDs {
		if ctx.Err() != nil {
			return nil
		}
		batch, err := load(ctx, zoneID)
		if err != nil {
			return fmt.Errorf("flow: segment source zone %d: %w", zoneID, err)
		}
		if batch == nil || batch.Rows == 0 {
			continue
		}
		if err := out.Send(ctx, batch); err != nil {
			return nil
		}
	}
	return nil
}

// scalarFromAny converts one decoded payload value (as stored in a
// memtable.Event) to a filter.Scalar of the given logical type.
func scalarFromAny(v any, kind schema.LogicalType) (filter.Scalar, bool) {
	if v == nil {
		return filter.Scalar{Kind: kind}, true
	}
	switch kind {
	case schema.TypeI64, schema.TypeU64, schema.TypeTimestamp, schema.TypeDate:
		switch n := v.(type) {
		case int64:
			return filter.Scalar{Kind: kind, I64: n}, false
		case int:
			return filter.Scalar{Kind: kind, I64: int64(n)}, false
		case float64:
			return filter.Scalar{Kind: kind, I64: int64(n)}, false
		}
	case schema.TypeF64:
		switch n := v.(type) {
		case float64:
			return filter.Scalar{Kind: kind, F64: n}, false
		case int64:
			return filter.Scalar{Kind: kind, F64: float64(n)}, false
		}
	case schema.TypeBool:
		if b, ok := v.(bool); ok {
			return filter.Scalar{Kind: kind, Bool: b}, false
		}
	default:
		if s, ok := v.(string); ok {
			return filter.Scalar{Kind: kind, Str: s}, false
		}
	}
	return filter.Scalar{Kind: kind}, true
}

// MemTableSource projects events into batches of at most batchSize rows
// matching s, reading the envelope columns (event_id, context_id,
// timestamp) from the event itself and every other field from its Payload.
func MemTableSource(ctx context.Context, out *BatchChannel, pool *BatchPool, s *BatchSchema, events []*memtable.Event, batchSize int) error {
	defer out.Close()

	batch := pool.Get(s, batchSize)
	flush := func() error {
		if batch.Rows == 0 {
			return nil
		}
		if err := out.Send(ctx, batch); err != nil {
			return err
		}
		batch = pool.Get(s, batchSize)
		return nil
	}

	for _, ev := range events {
		if ctx.Err() != nil {
			return nil
		}
		values := make(map[string]filter.Scalar, len(s.Fields))
		nulls := make(map[string]bool, len(s.Fields))
		for _, f := range s.Fields {
			raw, present := ev.Payload[f.Name]
			switch f.Name {
			case "event_id":
				raw, present = ev.EventID, true
			case "context_id":
				raw, present = ev.ContextID, true
			case "timestamp":
				raw, present = ev.Timestamp, true
			}
			var v filter.Scalar
			var isNull bool
			if !present {
				v, isNull = filter.Scalar{Kind: f.Type}, true
			} else {
				v, isNull = scalarFromAny(raw, f.Type)
			}
			values[f.Name] = v
			nulls[f.Name] = isNull
		}
		batch.AppendRow(values, nulls)
		if batch.Rows >= batchSize {
			if err := flush(); err != nil {
				return nil
			}
		}
	}
	return flush()
}

// FilterOp evaluates preds row-by-row against each input batch (residual
// evaluation after zone pruning has narrowed the candidate set) and
// forwards a new batch containing only matching rows.
func FilterOp(ctx context.Context, in, out *BatchChannel, pool *BatchPool, preds []*filter.Predicate) error {
	defer out.Close()
	for {
		batch, ok, err := in.Recv(ctx)
		if err != nil || !ok {
			return err
		}

		result := pool.Get(batch.Schema, batch.Rows)
		for i := 0; i < batch.Rows; i++ {
			if rowMatches(batch, i, preds) {
				appendRowAt(result, batch, i)
			}
		}
		if result.Rows == 0 {
			continue
		}
		if err := out.Send(ctx, result); err != nil {
			return nil
		}
	}
}

// FilterFuncOp is FilterOp's general form: match decides row survival, so
// callers can evaluate arbitrary predicate trees (OR/NOT residuals) rather
// than a flat AND of leaves.
func FilterFuncOp(ctx context.Context, in, out *BatchChannel, pool *BatchPool, match func(*ColumnBatch, int) bool) error {
	defer out.Close()
	for {
		batch, ok, err := in.Recv(ctx)
		if err != nil || !ok {
			return err
		}

		result := pool.Get(batch.Schema, batch.Rows)
		for i := 0; i < batch.Rows; i++ {
			if match(batch, i) {
				appendRowAt(result, batch, i)
			}
		}
		if result.Rows == 0 {
			continue
		}
		if err := out.Send(ctx, result); err != nil {
			return nil
		}
	}
}

func rowMatches(batch *ColumnBatch, row int, preds []*filter.Predicate) bool {
	for _, p := range preds {
		col := batch.Get(p.Column)
		if col == nil || col.IsNull(row) {
			return false
		}
		if !filter.Matches(p, col.ScalarAt(row)) {
			return false
		}
	}
	return true
}

func appendRowAt(dst, src *ColumnBatch, row int) {
	values := make(map[string]filter.Scalar, len(dst.Schema.Fields))
	nulls := make(map[string]bool, len(dst.Schema.Fields))
	for _, f := range dst.Schema.Fields {
		col := src.Get(f.Name)
		if col == nil {
			nulls[f.Name] = true
			continue
		}
		values[f.Name] = col.ScalarAt(row)
		nulls[f.Name] = col.IsNull(row)
	}
	dst.AppendRow(values, nulls)
}

// ProjectOp selects and reorders columns from each input batch into
// outSchema. An identity projection (outSchema equal to the input schema)
// still copies through the pool so downstream operators always own their
// batch.
func ProjectOp(ctx context.Context, in, out *BatchChannel, pool *BatchPool, outSchema *BatchSchema) error {
	defer out.Close()
	for {
		batch, ok, err := in.Recv(ctx)
		if err != nil || !ok {
			return err
		}
		projected := pool.Get(outSchema, batch.Rows)
		for i := 0; i < batch.Rows; i++ {
			appendRowAt(projected, batch, i)
		}
		if err := out.Send(ctx, projected); err != nil {
			return nil
		}
	}
}

// mergeSource is one input stream to OrderedStreamMerger: a channel plus
// its current unread batch/row cursor.
type mergeSource struct {
	in        *BatchChannel
	batch     *ColumnBatch
	row       int
	index     int // input order, for stable tie-breaking
	exhausted bool
}

func (s *mergeSource) advance(ctx context.Context) error {
	s.row++
	for s.batch == nil || s.row >= s.batch.Rows {
		b, ok, err := s.in.Recv(ctx)
		if err != nil {
			return err
		}
		if !ok {
			s.exhausted = true
			return nil
		}
		s.batch = b
		s.row = 0
		if s.batch.Rows == 0 {
			continue
		}
		return nil
	}
	return nil
}

type mergeHeap struct {
	sources []*mergeSource
	column  string
	desc    bool
}

func (h *mergeHeap) Len() int { return len(h.sources) }
func (h *mergeHeap) Less(i, j int) bool {
	a := h.sources[i].batch.Get(h.column).ScalarAt(h.sources[i].row)
	b := h.sources[j].batch.Get(h.column).ScalarAt(h.sources[j].row)
	cmp := a.Compare(b)
	if cmp == 0 {
		return h.sources[i].index < h.sources[j].index
	}
	if h.desc {
		return cmp > 0
	}
	return cmp < 0
}
func (h *mergeHeap) Swap(i, j int) { h.sources[i], h.sources[j] = h.sources[j], h.sources[i] }
func (h *mergeHeap) Push(x any)    { h.sources = append(h.sources, x.(*mergeSource)) }
func (h *mergeHeap) Pop() any {
	old := h.sources
	n := len(old)
	item := old[n-1]
	h.sources = old[:n-1]
	return item
}

// OrderedStreamMerger performs a k-way merge of already-sorted per-shard
// streams by column, honoring offset/limit and ascending/descending order.
func OrderedStreamMerger(ctx context.Context, ins []*BatchChannel, out *BatchChannel, pool *BatchPool, outSchema *BatchSchema, column string, desc bool, offset, limit int) error {
	defer out.Close()

	h := &mergeHeap{column: column, desc: desc}
	for i, in := range ins {
		s := &mergeSource{in: in, row: -1, index: i}
		if err := s.advance(ctx); err != nil {
			return err
		}
		if !s.exhausted {
			heap.Push(h, s)
		}
	}
	heap.Init(h)

	result := pool.Get(outSchema, 1)
	emitted := 0
	skipped := 0
	flush := func() error {
		if result.Rows == 0 {
			return nil
		}
		if err := out.Send(ctx, result); err != nil {
			return err
		}
		result = pool.Get(outSchema, 1)
		return nil
	}

	for h.Len() > 0 {
		if limit > 0 && emitted >= limit {
			break
		}
		top := h.sources[0]
		if skipped < offset {
			skipped++
		} else {
			appendRowAt(result, top.batch, top.row)
			emitted++
			if result.Rows >= 1024 {
				if err := flush(); err != nil {
					return nil
				}
			}
		}
		if err := top.advance(ctx); err != nil {
			return err
		}
		if top.exhausted {
			heap.Pop(h)
		} else {
			heap.Fix(h, 0)
		}
	}
	return flush()
}
