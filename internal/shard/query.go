package shard

import (
	"context"
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring"
	"golang.org/x/sync/errgroup"

	"github.com/colonnade-db/colonnade/internal/aggregate"
	"github.com/colonnade-db/colonnade/internal/column"
	"github.com/colonnade-db/colonnade/internal/filter"
	"github.com/colonnade-db/colonnade/internal/flow"
	"github.com/colonnade-db/colonnade/internal/memtable"
	"github.com/colonnade-db/colonnade/internal/planner"
	"github.com/colonnade-db/colonnade/internal/pruner"
	"github.com/colonnade-db/colonnade/internal/query"
	"github.com/colonnade-db/colonnade/internal/schema"
	"github.com/colonnade-db/colonnade/internal/segment"
	"github.com/colonnade-db/colonnade/pkg/seginfo"
)

// queryBatchSize bounds the row count of batches the sources emit.
const queryBatchSize = 1024

// CollectPartials executes spec against this shard and returns its partial
// results: filtered, projected event rows for plain queries, or a partial
// aggregate sink the engine merges across shards. Rows carry no
// cross-shard ordering; the engine's merge applies order/offset/limit.
func (s *Shard) CollectPartials(ctx context.Context, spec *query.Spec) ([]query.Row, *aggregate.Sink, error) {
	uids, err := s.uidsFor(spec)
	if err != nil {
		return nil, nil, err
	}

	var sink *aggregate.Sink
	if spec.IsAggregate() {
		sink = aggregate.NewSink(spec.Aggregates, spec.GroupBy, effectiveTimeField(spec), spec.Bucket)
	}

	var rows []query.Row
	for _, uid := range uids {
		uidRows, err := s.collectUID(ctx, spec, uid, sink)
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, uidRows...)
	}
	return rows, sink, nil
}

// effectiveTimeField resolves the bucketing column, defaulting to the
// envelope timestamp.
func effectiveTimeField(spec *query.Spec) string {
	if !spec.IsAggregate() || spec.Bucket.Granularity == aggregate.BucketNone {
		return ""
	}
	if spec.TimeField != "" {
		return spec.TimeField
	}
	return segment.FieldTimestamp
}

// uidsFor resolves the UID set a spec touches: one for a named event_type,
// or every UID known to this shard's segments and memtables for wildcards.
func (s *Shard) uidsFor(spec *query.Spec) ([]string, error) {
	if !spec.IsWildcard() {
		uid, ok := s.registry.GetUID(spec.EventType)
		if !ok {
			return nil, nil
		}
		return []string{uid}, nil
	}

	seen := make(map[string]struct{})
	var uids []string
	add := func(uid string) {
		if _, ok := seen[uid]; !ok {
			seen[uid] = struct{}{}
			uids = append(uids, uid)
		}
	}
	for _, entry := range s.index.Snapshot() {
		for _, uid := range entry.UIDs {
			add(uid)
		}
	}
	for _, mt := range s.memtables() {
		for _, uid := range mt.UIDs() {
			add(uid)
		}
	}
	return uids, nil
}

func (s *Shard) collectUID(ctx context.Context, spec *query.Spec, uid string, sink *aggregate.Sink) ([]query.Row, error) {
	sch, ok := s.registry.GetSchemaByUID(uid)
	if !ok {
		return nil, nil
	}

	layout := segment.Fields(sch)
	fieldsByName := make(map[string]segment.FieldLayout, len(layout))
	for _, f := range layout {
		fieldsByName[f.Name] = f
	}
	bschema := batchSchemaFor(spec, layout)
	fg := compileFilter(spec)

	// One reader per visible segment; the index snapshot taken here is the
	// query's consistent view of durable state.
	readers := make(map[uint32]*segment.Reader)
	universe := make(filter.Universe)
	for _, entry := range s.index.Snapshot() {
		if !containsString(entry.UIDs, uid) {
			continue
		}
		dir := seginfo.DirPath(s.dir, s.opts.Segment.Directory, entry.ID)
		r := segment.NewReader(dir, entry.ID, uid, s.codec, s.caches)
		zoneIDs, err := r.ZoneIDs()
		if err != nil {
			// Corrupt zone metadata makes the segment unqueryable for this
			// UID; skip it with a warning rather than failing the query.
			s.log.Warnw("skipping unreadable segment", "segmentID", entry.ID, "uid", uid, "error", err)
			continue
		}
		readers[entry.ID] = r
		universe[entry.ID] = zoneBitmap(zoneIDs)
	}

	candidates := filter.NewZoneSet()
	if fg == nil {
		for segID, bm := range universe {
			candidates.Put(segID, bm)
		}
	} else {
		// A pruned candidate set is a superset of the inner predicate's
		// matching rows, so complementing it at zone level could drop
		// zones that still hold rows satisfying the negation. Negated
		// leaves therefore resolve to the empty set — their complement is
		// the full universe — and the residual row filter applies the
		// negation exactly.
		negated := make(map[*filter.Predicate]bool)
		for _, leaf := range fg.Leaves() {
			if leaf.Negated {
				negated[leaf.Predicate] = true
			}
		}
		candidates = fg.Evaluate(s.leafResolver(readers, universe, fieldsByName, negated), universe)
	}

	pool := flow.NewBatchPool()
	var rows []query.Row
	consume := func(ctx context.Context, in *flow.BatchChannel) error {
		for {
			batch, ok, err := in.Recv(ctx)
			if err != nil || !ok {
				return err
			}
			if sink != nil {
				sink.Observe(batch)
				pool.Put(batch)
				continue
			}
			for i := 0; i < batch.Rows; i++ {
				rows = append(rows, batchRow(batch, i, sch.EventType))
			}
			pool.Put(batch)
		}
	}

	// Segment pipelines run serially per segment, oldest data first:
	// higher levels hold compacted (older) history, and within a level ids
	// are allocated in commit order, so visiting levels descending and ids
	// ascending preserves ingest order. Each pipeline is source ->
	// residual filter -> consumer, each stage its own task connected by
	// bounded channels.
	segIDs := make([]uint32, 0, len(readers))
	for segID := range readers {
		segIDs = append(segIDs, segID)
	}
	perLevel := s.opts.Segment.IDsPerLevel
	sort.Slice(segIDs, func(i, j int) bool {
		li, lj := seginfo.Level(segIDs[i], perLevel), seginfo.Level(segIDs[j], perLevel)
		if li != lj {
			return li > lj
		}
		return segIDs[i] < segIDs[j]
	})

	for _, segID := range segIDs {
		r := readers[segID]
		bm := candidates.BySegment[segID]
		if bm == nil || bm.IsEmpty() {
			continue
		}
		metas, err := r.Zones()
		if err != nil {
			continue
		}
		metaByID := make(map[uint32]segment.ZoneMeta, len(metas))
		for _, m := range metas {
			metaByID[m.ZoneID] = m
		}

		reader := r
		loader := func(ctx context.Context, zoneID uint32) (*flow.ColumnBatch, error) {
			return zoneBatch(reader, bschema, pool, metaByID[zoneID])
		}
		if err := s.runPipeline(ctx, fg, pool, bm.ToArray(), loader, nil, bschema, consume); err != nil {
			return nil, err
		}
	}

	// Memtable sources cover the active table and every passive buffer;
	// queries must read both alongside segments.
	for _, mt := range s.memtables() {
		events := mt.Snapshot(uid)
		if len(events) == 0 {
			continue
		}
		if err := s.runPipeline(ctx, fg, pool, nil, nil, events, bschema, consume); err != nil {
			return nil, err
		}
	}

	return rows, nil
}

// runPipeline wires one source (segment zones or memtable events) through
// the optional residual filter into consume.
func (s *Shard) runPipeline(
	ctx context.Context,
	fg *filter.FilterGroup,
	pool *flow.BatchPool,
	zoneIDs []uint32,
	loader flow.ZoneLoader,
	events []*memtable.Event,
	bschema *flow.BatchSchema,
	consume func(context.Context, *flow.BatchChannel) error,
) error {
	g, gctx := errgroup.WithContext(ctx)
	src := flow.NewBatchChannel(2)

	if loader != nil {
		g.Go(func() error { return flow.SegmentSource(gctx, src, zoneIDs, loader) })
	} else {
		g.Go(func() error { return flow.MemTableSource(gctx, src, pool, bschema, events, queryBatchSize) })
	}

	tail := src
	if fg != nil {
		filtered := flow.NewBatchChannel(2)
		g.Go(func() error {
			return flow.FilterFuncOp(gctx, src, filtered, pool, func(b *flow.ColumnBatch, i int) bool {
				return fg.MatchesRow(func(p *filter.Predicate) (filter.Scalar, bool) {
					col := b.Get(p.Column)
					if col == nil || col.IsNull(i) {
						return filter.Scalar{}, false
					}
					return col.ScalarAt(i), true
				})
			})
		})
		tail = filtered
	}

	g.Go(func() error { return consume(gctx, tail) })
	return g.Wait()
}

// batchSchemaFor derives the column set a query needs decoded: the
// envelope always, then either every schema field or the union of
// projection, predicate, grouping, ordering, and bucketing columns.
func batchSchemaFor(spec *query.Spec, layout []segment.FieldLayout) *flow.BatchSchema {
	if len(spec.ReturnFields) == 0 {
		fields := make([]flow.FieldSpec, len(layout))
		for i, f := range layout {
			fields[i] = flow.FieldSpec{Name: f.Name, Type: f.Type}
		}
		return &flow.BatchSchema{Fields: fields}
	}

	needed := map[string]struct{}{
		segment.FieldEventID:   {},
		segment.FieldContextID: {},
		segment.FieldTimestamp: {},
	}
	for _, f := range spec.ReturnFields {
		needed[f] = struct{}{}
	}
	for _, c := range whereColumns(spec.Where) {
		needed[c] = struct{}{}
	}
	for _, f := range spec.GroupBy {
		needed[f] = struct{}{}
	}
	for _, a := range spec.Aggregates {
		if a.Field != "" {
			needed[a.Field] = struct{}{}
		}
	}
	if tf := effectiveTimeField(spec); tf != "" {
		needed[tf] = struct{}{}
	}
	if spec.OrderBy != "" {
		needed[spec.OrderBy] = struct{}{}
	}

	var fields []flow.FieldSpec
	for _, f := range layout {
		if _, ok := needed[f.Name]; ok {
			fields = append(fields, flow.FieldSpec{Name: f.Name, Type: f.Type})
		}
	}
	return &flow.BatchSchema{Fields: fields}
}

func whereColumns(n filter.Node) []string {
	if n == nil {
		return nil
	}
	var out []string
	var walk func(filter.Node)
	walk = func(n filter.Node) {
		switch t := n.(type) {
		case *filter.Leaf:
			out = append(out, t.Predicate.Column)
		case *filter.And:
			for _, c := range t.Children {
				walk(c)
			}
		case *filter.Or:
			for _, c := range t.Children {
				walk(c)
			}
		case *filter.Not:
			walk(t.Child)
		}
	}
	walk(n)
	return out
}

// compileFilter combines the spec's where tree with its optional
// context_id constraint into one normalized FilterGroup.
func compileFilter(spec *query.Spec) *filter.FilterGroup {
	var nodes []filter.Node
	if spec.ContextID != "" {
		nodes = append(nodes, filter.NewLeaf(&filter.Predicate{
			Column: segment.FieldContextID,
			Op:     planner.OpEq,
			Value:  filter.ScalarStr(spec.ContextID),
		}))
	}
	if spec.Where != nil {
		nodes = append(nodes, spec.Where)
	}
	switch len(nodes) {
	case 0:
		return nil
	case 1:
		return filter.Compile(nodes[0])
	default:
		return filter.Compile(&filter.And{Children: nodes})
	}
}

// leafResolver produces each leaf predicate's candidate zones per segment,
// routing through the planner and pruner.
func (s *Shard) leafResolver(readers map[uint32]*segment.Reader, universe filter.Universe, fieldsByName map[string]segment.FieldLayout, negated map[*filter.Predicate]bool) filter.LeafZones {
	return func(p *filter.Predicate) *filter.ZoneSet {
		out := filter.NewZoneSet()
		if negated[p] {
			return out
		}
		for segID, allBm := range universe {
			fl, known := fieldsByName[p.Column]
			if !known {
				// Column absent from this UID's layout: no row can match.
				out.Put(segID, roaring.New())
				continue
			}

			r := readers[segID]
			allZones := allBm.ToArray()
			cat, _ := r.Catalog()
			strat := planner.Plan(cat, p.Column, fl.Type, fl.Type == schema.TypeEnum, p.Op)
			out.Put(segID, s.pruneLeaf(r, strat, p, allZones))
		}
		return out
	}
}

// pruneLeaf resolves one (strategy, predicate) pair into a candidate zone
// bitmap. Any missing index structure degrades to a full scan rather than
// an incorrect empty result, which also covers segments still being
// flushed.
func (s *Shard) pruneLeaf(r *segment.Reader, strat planner.Strategy, p *filter.Predicate, allZones []uint32) *roaring.Bitmap {
	full := func() *roaring.Bitmap { return pruner.FullScan(allZones) }

	switch strat {
	case planner.StrategyTemporalEq, planner.StrategyTemporalRange:
		cal, err := r.Calendar(p.Column)
		if err != nil || cal == nil {
			return full()
		}
		from, to := temporalWindow(p)
		return pruner.TemporalRange(cal, from, to)

	case planner.StrategyEnumBitmap:
		set, err := r.EnumBitmaps(p.Column)
		if err != nil || set == nil {
			return full()
		}
		switch p.Op {
		case planner.OpEq:
			return pruner.EnumEq(set, allZones, p.Value.Str)
		case planner.OpNeq:
			return pruner.EnumNeq(set, allZones, p.Value.Str)
		case planner.OpIn:
			out := roaring.New()
			for _, v := range p.Values {
				out.Or(pruner.EnumEq(set, allZones, v.Str))
			}
			return out
		default:
			return full()
		}

	case planner.StrategyZoneSuRF:
		rf, err := r.RangeFilter(p.Column)
		if err != nil || rf == nil {
			return full()
		}
		lo, hi := encodedWindow(p)
		zones, ok := pruner.ZoneSuRF(rf, lo, hi, len(allZones))
		if !ok {
			return full()
		}
		return zones

	case planner.StrategyZoneXorIndex:
		idx, err := r.ZoneXor(p.Column)
		if err != nil || idx == nil {
			return full()
		}
		switch p.Op {
		case planner.OpEq:
			return pruner.ZoneXorProbe(idx, allZones, p.Value.Bytes())
		case planner.OpIn:
			out := roaring.New()
			for _, v := range p.Values {
				out.Or(pruner.ZoneXorProbe(idx, allZones, v.Bytes()))
			}
			return out
		default:
			// Inequality can match values the filter never saw; only a
			// scan is sound.
			return full()
		}

	case planner.StrategyXorPresence:
		f, err := r.XorField(p.Column)
		if err != nil || f == nil {
			return full()
		}
		switch p.Op {
		case planner.OpEq:
			return pruner.XorPresence(f, p.Value.Bytes(), allZones)
		case planner.OpIn:
			out := roaring.New()
			for _, v := range p.Values {
				out.Or(pruner.XorPresence(f, v.Bytes(), allZones))
			}
			return out
		default:
			return full()
		}

	default:
		return full()
	}
}

// temporalWindow maps a temporal predicate to the inclusive [from, to]
// range the calendar is probed with. The window is a superset of the
// predicate; residual evaluation trims it exactly.
func temporalWindow(p *filter.Predicate) (from, to int64) {
	v := p.Value.I64
	switch p.Op {
	case planner.OpEq:
		return v, v
	case planner.OpLt, planner.OpLte:
		return math.MinInt64, v
	case planner.OpGt, planner.OpGte:
		return v, math.MaxInt64
	default:
		return math.MinInt64, math.MaxInt64
	}
}

// encodedWindow maps a range predicate to the order-preserving encoded
// [lo, hi] pair the range-filter bounds are compared against.
func encodedWindow(p *filter.Predicate) (lo, hi []byte) {
	enc := p.Value.Bytes()
	var top []byte
	for i := 0; i < len(enc)+8; i++ {
		top = append(top, 0xFF)
	}
	switch p.Op {
	case planner.OpLt, planner.OpLte:
		return nil, enc
	case planner.OpGt, planner.OpGte:
		return enc, top
	default:
		return enc, enc
	}
}

func zoneBitmap(ids []uint32) *roaring.Bitmap {
	bm := roaring.New()
	for _, id := range ids {
		bm.Add(id)
	}
	return bm
}

// zoneBatch decodes one zone's needed columns into a batch.
func zoneBatch(r *segment.Reader, bschema *flow.BatchSchema, pool *flow.BatchPool, meta segment.ZoneMeta) (*flow.ColumnBatch, error) {
	rows := int(meta.Rows())
	batch := pool.Get(bschema, rows)

	decoded := make(map[string]*column.Values, len(bschema.Fields))
	for _, f := range bschema.Fields {
		vals, err := r.Values(f.Name, meta.ZoneID)
		if err != nil {
			return nil, err
		}
		decoded[f.Name] = vals
	}

	for i := 0; i < rows; i++ {
		values := make(map[string]filter.Scalar, len(bschema.Fields))
		nulls := make(map[string]bool)
		for _, f := range bschema.Fields {
			vals := decoded[f.Name]
			if vals.IsNull(i) {
				nulls[f.Name] = true
				continue
			}
			values[f.Name] = filter.ScalarAt(vals, i, f.Type)
		}
		batch.AppendRow(values, nulls)
	}
	return batch, nil
}

// batchRow converts one batch row to a result row, tagging it with its
// event_type for wildcard queries.
func batchRow(b *flow.ColumnBatch, i int, eventType string) query.Row {
	row := make(query.Row, len(b.Schema.Fields)+1)
	for _, f := range b.Schema.Fields {
		col := b.Get(f.Name)
		if col == nil || col.IsNull(i) {
			continue
		}
		row[f.Name] = col.ScalarAt(i)
	}
	row["event_type"] = filter.ScalarStr(eventType)
	return row
}

// eventRow converts a memtable event directly to a result row (replay path).
func (s *Shard) eventRow(ev *memtable.Event) query.Row {
	row := make(query.Row, len(ev.Payload)+4)
	row[segment.FieldEventID] = filter.ScalarI64(ev.EventID)
	row[segment.FieldContextID] = filter.ScalarStr(ev.ContextID)
	row[segment.FieldTimestamp] = filter.ScalarTimestamp(ev.Timestamp)
	if sch, ok := s.registry.GetSchemaByUID(ev.UID); ok {
		row["event_type"] = filter.ScalarStr(sch.EventType)
		for _, f := range sch.Fields {
			v, present := ev.Payload[f.Name]
			if !present || v == nil {
				continue
			}
			if sc, isNull := scalarFromPayload(v, f.Type); !isNull {
				row[f.Name] = sc
			}
		}
	}
	return row
}

func scalarFromPayload(v any, kind schema.LogicalType) (filter.Scalar, bool) {
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
		case int:
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
