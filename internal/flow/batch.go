// Package flow implements the streaming execution pipeline: batches, a
// batch pool, bounded metrics-carrying channels, and the operator set that
// decodes candidate zones into typed batches, applies predicates and
// projection, and feeds aggregate or ordered-merge sinks.
package flow

import (
	"strings"

	"github.com/colonnade-db/colonnade/internal/filter"
	"github.com/colonnade-db/colonnade/internal/schema"
)

// FieldSpec names one field of a BatchSchema.
type FieldSpec struct {
	Name string
	Type schema.LogicalType
}

// BatchSchema is the ordered, named, typed column layout shared by every
// ColumnBatch an operator emits. Batch pools are keyed by schema; Key is
// that fingerprint.
type BatchSchema struct {
	Fields []FieldSpec
}

// Key returns a canonical string fingerprint for schema-keyed pooling.
func (s *BatchSchema) Key() string {
	var b strings.Builder
	for i, f := range s.Fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(f.Name)
		b.WriteByte(':')
		b.WriteString(f.Type.String())
	}
	return b.String()
}

func (s *BatchSchema) indexOf(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// ColumnData is one materialized column within a batch: a dense typed
// slice plus an optional null mask. Exactly one of the typed slices is
// populated, per Kind.
type ColumnData struct {
	Kind schema.LogicalType
	I64  []int64
	F64  []float64
	Str  []string
	Bool []bool
	Null []bool // nil when the column has no nulls
}

func newColumnData(kind schema.LogicalType, capacity int) *ColumnData {
	c := &ColumnData{Kind: kind}
	switch kind {
	case schema.TypeI64, schema.TypeU64, schema.TypeTimestamp, schema.TypeDate:
		c.I64 = make([]int64, 0, capacity)
	case schema.TypeF64:
		c.F64 = make([]float64, 0, capacity)
	case schema.TypeBool:
		c.Bool = make([]bool, 0, capacity)
	default:
		c.Str = make([]string, 0, capacity)
	}
	return c
}

func (c *ColumnData) reset() {
	c.I64 = c.I64[:0]
	c.F64 = c.F64[:0]
	c.Str = c.Str[:0]
	c.Bool = c.Bool[:0]
	c.Null = nil
}

// Len returns the number of rows currently stored in the column.
func (c *ColumnData) Len() int {
	switch c.Kind {
	case schema.TypeI64, schema.TypeU64, schema.TypeTimestamp, schema.TypeDate:
		return len(c.I64)
	case schema.TypeF64:
		return len(c.F64)
	case schema.TypeBool:
		return len(c.Bool)
	default:
		return len(c.Str)
	}
}

// IsNull reports whether row i is null.
func (c *ColumnData) IsNull(i int) bool { return c.Null != nil && i < len(c.Null) && c.Null[i] }

// ScalarAt reads row i as a filter.Scalar.
func (c *ColumnData) ScalarAt(i int) filter.Scalar {
	switch c.Kind {
	case schema.TypeI64, schema.TypeU64, schema.TypeTimestamp, schema.TypeDate:
		return filter.Scalar{Kind: c.Kind, I64: c.I64[i]}
	case schema.TypeF64:
		return filter.Scalar{Kind: c.Kind, F64: c.F64[i]}
	case schema.TypeBool:
		return filter.Scalar{Kind: c.Kind, Bool: c.Bool[i]}
	default:
		return filter.Scalar{Kind: c.Kind, Str: c.Str[i]}
	}
}

func (c *ColumnData) appendScalar(v filter.Scalar, null bool) {
	if null {
		for len(c.Null) < c.Len() {
			c.Null = append(c.Null, false)
		}
	}
	switch c.Kind {
	case schema.TypeI64, schema.TypeU64, schema.TypeTimestamp, schema.TypeDate:
		c.I64 = append(c.I64, v.I64)
	case schema.TypeF64:
		c.F64 = append(c.F64, v.F64)
	case schema.TypeBool:
		c.Bool = append(c.Bool, v.Bool)
	default:
		c.Str = append(c.Str, v.Str)
	}
	if null {
		c.Null = append(c.Null, true)
	} else if c.Null != nil {
		c.Null = append(c.Null, false)
	}
}

// ColumnBatch is an immutable, column-oriented, schema-tagged chunk of at
// most N rows sharing the same BatchSchema.
type ColumnBatch struct {
	Schema  *BatchSchema
	Columns map[string]*ColumnData
	Rows    int
}

// Get returns the named column, or nil if the batch doesn't carry it.
func (b *ColumnBatch) Get(name string) *ColumnData { return b.Columns[name] }

// NewColumnBatch constructs an empty batch for schema with capacity hint.
func NewColumnBatch(s *BatchSchema, capacity int) *ColumnBatch {
	cols := make(map[string]*ColumnData, len(s.Fields))
	for _, f := range s.Fields {
		cols[f.Name] = newColumnData(f.Type, capacity)
	}
	return &ColumnBatch{Schema: s, Columns: cols}
}

// AppendRow appends one row's values (by field name) to the batch.
// Fields of the schema absent from values are appended as null zero
// values.
func (b *ColumnBatch) AppendRow(values map[string]filter.Scalar, nulls map[string]bool) {
	for _, f := range b.Schema.Fields {
		col := b.Columns[f.Name]
		v, ok := values[f.Name]
		isNull := nulls[f.Name] || !ok
		col.appendScalar(v, isNull)
	}
	b.Rows++
}

func (b *ColumnBatch) reset(s *BatchSchema) {
	b.Schema = s
	b.Rows = 0
	if b.Columns == nil {
		b.Columns = make(map[string]*ColumnData, len(s.Fields))
	}
	for _, f := range s.Fields {
		if c, ok := b.Columns[f.Name]; ok && c.Kind == f.Type {
			c.reset()
			continue
		}
		b.Columns[f.Name] = newColumnData(f.Type, 0)
	}
}
