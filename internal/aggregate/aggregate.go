// Package aggregate implements the aggregate sink: group-by + time-bucket
// partial states, mergeable across batches and shards, flushed in
// insertion order once input closes.
package aggregate

import (
	"fmt"
	"math"
	"time"

	"github.com/colonnade-db/colonnade/internal/filter"
	"github.com/colonnade-db/colonnade/internal/flow"
	"github.com/colonnade-db/colonnade/internal/schema"
)

// OpKind is one of the supported aggregate operations.
type OpKind uint8

const (
	CountAll OpKind = iota
	CountField
	CountUnique
	Sum
	Avg
	Min
	Max
)

// Spec describes one requested aggregate column: its op and, for
// CountField/CountUnique/Sum/Avg/Min/Max, the field it operates over.
type Spec struct {
	Op    OpKind
	Field string
	Alias string
}

func (s Spec) outputName() string {
	if s.Alias != "" {
		return s.Alias
	}
	if s.Field == "" {
		return opName(s.Op)
	}
	return fmt.Sprintf("%s_%s", opName(s.Op), s.Field)
}

func opName(op OpKind) string {
	switch op {
	case CountAll:
		return "count"
	case CountField:
		return "count_field"
	case CountUnique:
		return "count_unique"
	case Sum:
		return "sum"
	case Avg:
		return "avg"
	case Min:
		return "min"
	case Max:
		return "max"
	default:
		return "unknown"
	}
}

// Bucket is a calendar time-bucketing granularity.
type Bucket uint8

const (
	BucketNone Bucket = iota
	BucketMinute
	BucketHour
	BucketDay
	BucketWeek
	BucketMonth
)

// TimeBucketing configures optional time bucketing of the group key.
type TimeBucketing struct {
	Granularity Bucket
	Location    *time.Location // defaults to UTC when nil
	WeekStart   time.Weekday   // only consulted when Granularity == BucketWeek
}

func (tb TimeBucketing) loc() *time.Location {
	if tb.Location == nil {
		return time.UTC
	}
	return tb.Location
}

// Truncate maps a millis-since-epoch timestamp to its bucket start, in
// millis, aligned to wall-clock boundaries in tb's timezone. BucketNone
// returns ts unchanged, which callers treat as "no bucketing".
func (tb TimeBucketing) Truncate(ts int64) int64 {
	if tb.Granularity == BucketNone {
		return ts
	}
	t := time.UnixMilli(ts).In(tb.loc())
	switch tb.Granularity {
	case BucketMinute:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, tb.loc()).UnixMilli()
	case BucketHour:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, tb.loc()).UnixMilli()
	case BucketDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, tb.loc()).UnixMilli()
	case BucketWeek:
		d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, tb.loc())
		delta := (int(d.Weekday()) - int(tb.WeekStart) + 7) % 7
		return d.AddDate(0, 0, -delta).UnixMilli()
	case BucketMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, tb.loc()).UnixMilli()
	default:
		return ts
	}
}

// groupKey is the (bucket?, group_values) composite key: a string
// fingerprint is sufficient since group output doesn't need the original
// typed values back beyond what's already re-derivable from the row.
type groupKey string

func makeGroupKey(bucket int64, values []filter.Scalar) groupKey {
	s := fmt.Sprintf("%d|", bucket)
	for _, v := range values {
		s += fmt.Sprintf("%v|", scalarKeyPart(v))
	}
	return groupKey(s)
}

func scalarKeyPart(v filter.Scalar) any {
	switch {
	case v.Str != "":
		return v.Str
	case v.I64 != 0:
		return v.I64
	case v.F64 != 0:
		return v.F64
	default:
		return v.Bool
	}
}

// opState holds one Spec's mergeable partial state.
type opState struct {
	spec     Spec
	count    int64
	sum      float64
	sumI     int64
	isFloat  bool
	min      *filter.Scalar
	max      *filter.Scalar
	uniqueSt map[string]struct{}
}

func newOpState(spec Spec) *opState {
	s := &opState{spec: spec}
	if spec.Op == CountUnique {
		s.uniqueSt = make(map[string]struct{})
	}
	return s
}

func (s *opState) observe(col *flow.ColumnData, row int) {
	switch s.spec.Op {
	case CountAll:
		s.count++
	case CountField:
		// Null rows never count toward a field count.
		if col != nil && !col.IsNull(row) {
			s.count++
		}
	case CountUnique:
		if col == nil || col.IsNull(row) {
			return
		}
		s.uniqueSt[fmt.Sprint(scalarKeyPart(col.ScalarAt(row)))] = struct{}{}
	case Sum, Avg:
		if col == nil || col.IsNull(row) {
			return
		}
		v := col.ScalarAt(row)
		if col.Kind == schema.TypeF64 {
			s.isFloat = true
			s.sum += v.F64
		} else {
			s.sumI += v.I64
		}
		s.count++
	case Min:
		if col == nil || col.IsNull(row) {
			return
		}
		v := col.ScalarAt(row)
		if s.min == nil || v.Compare(*s.min) < 0 {
			s.min = &v
		}
	case Max:
		if col == nil || col.IsNull(row) {
			return
		}
		v := col.ScalarAt(row)
		if s.max == nil || v.Compare(*s.max) > 0 {
			s.max = &v
		}
	}
}

// merge folds other's partial state into s. Avg keeps both sum and count
// until finalize so partials stay mergeable.
func (s *opState) merge(other *opState) {
	switch s.spec.Op {
	case CountAll, CountField:
		s.count += other.count
	case CountUnique:
		for k := range other.uniqueSt {
			s.uniqueSt[k] = struct{}{}
		}
	case Sum, Avg:
		s.sum += other.sum
		s.sumI += other.sumI
		s.isFloat = s.isFloat || other.isFloat
		s.count += other.count
	case Min:
		if other.min != nil && (s.min == nil || other.min.Compare(*s.min) < 0) {
			s.min = other.min
		}
	case Max:
		if other.max != nil && (s.max == nil || other.max.Compare(*s.max) > 0) {
			s.max = other.max
		}
	}
}

// finalize produces the scalar output value for s's op.
func (s *opState) finalize() filter.Scalar {
	switch s.spec.Op {
	case CountAll, CountField:
		return filter.ScalarI64(s.count)
	case CountUnique:
		return filter.ScalarI64(int64(len(s.uniqueSt)))
	case Sum:
		if s.isFloat {
			return filter.ScalarF64(s.sum + float64(s.sumI))
		}
		return filter.ScalarI64(s.sumI)
	case Avg:
		if s.count == 0 {
			return filter.ScalarF64(math.NaN())
		}
		total := s.sum + float64(s.sumI)
		return filter.ScalarF64(total / float64(s.count))
	case Min:
		if s.min == nil {
			return filter.Scalar{}
		}
		return *s.min
	case Max:
		if s.max == nil {
			return filter.Scalar{}
		}
		return *s.max
	default:
		return filter.Scalar{}
	}
}

// group holds one group key's ordered op states plus the original group
// column values (for output) and insertion order.
type group struct {
	order  int
	bucket int64
	values []filter.Scalar
	states []*opState
}

// Sink accumulates rows into groups keyed by (time bucket?, group_by
// values) and flushes them in first-seen order once Close is called.
type Sink struct {
	specs     []Spec
	groupBy   []string
	timeField string
	bucketing TimeBucketing
	groups    map[groupKey]*group
	order     []groupKey
	nextOrder int
}

// NewSink builds an aggregate sink. groupBy lists the field names to group
// on (possibly empty, meaning a single overall group); timeField, when
// non-empty, supplies the timestamp bucketed per bucketing.
func NewSink(specs []Spec, groupBy []string, timeField string, bucketing TimeBucketing) *Sink {
	return &Sink{
		specs:     specs,
		groupBy:   groupBy,
		timeField: timeField,
		bucketing: bucketing,
		groups:    make(map[groupKey]*group),
	}
}

// Observe folds every row of batch into its group's partial state.
func (s *Sink) Observe(batch *flow.ColumnBatch) {
	for row := 0; row < batch.Rows; row++ {
		var bucket int64
		if s.timeField != "" {
			if col := batch.Get(s.timeField); col != nil && !col.IsNull(row) {
				bucket = s.bucketing.Truncate(col.ScalarAt(row).I64)
			}
		}

		values := make([]filter.Scalar, len(s.groupBy))
		for i, field := range s.groupBy {
			if col := batch.Get(field); col != nil && !col.IsNull(row) {
				values[i] = col.ScalarAt(row)
			}
		}

		key := makeGroupKey(bucket, values)
		g, ok := s.groups[key]
		if !ok {
			g = &group{order: s.nextOrder, bucket: bucket, values: values, states: make([]*opState, len(s.specs))}
			for i, spec := range s.specs {
				g.states[i] = newOpState(spec)
			}
			s.groups[key] = g
			s.order = append(s.order, key)
			s.nextOrder++
		}

		for i, st := range g.states {
			col := batch.Get(s.specs[i].Field)
			st.observe(col, row)
		}
	}
}

// Merge folds other's accumulated groups into s, for combining per-batch
// or per-shard partials.
func (s *Sink) Merge(other *Sink) {
	for _, key := range other.order {
		og := other.groups[key]
		g, ok := s.groups[key]
		if !ok {
			g = &group{order: s.nextOrder, bucket: og.bucket, values: og.values, states: og.states}
			s.groups[key] = g
			s.order = append(s.order, key)
			s.nextOrder++
			continue
		}
		for i := range g.states {
			g.states[i].merge(og.states[i])
		}
	}
}

// Row is one finalized output row: the group key columns, bucket (if
// configured) and finalized aggregate values, by output column name.
type Row struct {
	Bucket    int64
	GroupBy   []filter.Scalar
	Aggregate map[string]filter.Scalar
}

// Close flushes every group in first-seen order.
func (s *Sink) Close() []Row {
	rows := make([]Row, 0, len(s.order))
	for _, key := range s.order {
		g := s.groups[key]
		out := make(map[string]filter.Scalar, len(g.states))
		for i, st := range g.states {
			out[s.specs[i].outputName()] = st.finalize()
		}
		rows = append(rows, Row{Bucket: g.bucket, GroupBy: g.values, Aggregate: out})
	}
	return rows
}
