package segment

import (
	"encoding/json"

	"github.com/colonnade-db/colonnade/internal/index"
	"github.com/colonnade-db/colonnade/internal/memtable"
	"github.com/colonnade-db/colonnade/internal/schema"
)

// Built-in envelope columns every (segment, uid) carries in addition to the
// payload fields declared by the schema.
const (
	FieldEventID   = "event_id"
	FieldContextID = "context_id"
	FieldTimestamp = "timestamp"
)

// FieldLayout is one column of a (segment, uid): its name, logical type,
// enum variants when applicable, and whether it is an envelope built-in
// rather than a payload field.
type FieldLayout struct {
	Name     string
	Type     schema.LogicalType
	Optional bool
	Variants []string
	Builtin  bool
}

// Fields returns the full ordered column layout for a schema: the envelope
// built-ins first, then every payload field that doesn't shadow one. A
// payload field named event_id, context_id or timestamp is left out; the
// built-in column keeps its own type.
func Fields(sch *schema.Schema) []FieldLayout {
	out := []FieldLayout{
		{Name: FieldEventID, Type: schema.TypeI64, Builtin: true},
		{Name: FieldContextID, Type: schema.TypeString, Builtin: true},
		{Name: FieldTimestamp, Type: schema.TypeTimestamp, Builtin: true},
	}
	for _, f := range sch.Fields {
		if f.Name == FieldEventID || f.Name == FieldContextID || f.Name == FieldTimestamp {
			continue
		}
		out = append(out, FieldLayout{
			Name:     f.Name,
			Type:     f.Type,
			Optional: f.Optional,
			Variants: f.Variants,
		})
	}
	return out
}

// fieldValue reads one column's raw value from an event: envelope built-ins
// come from the event itself, everything else from the payload.
func fieldValue(ev *memtable.Event, name string) (any, bool) {
	switch name {
	case FieldEventID:
		return ev.EventID, true
	case FieldContextID:
		return ev.ContextID, true
	case FieldTimestamp:
		return ev.Timestamp, true
	default:
		v, ok := ev.Payload[name]
		return v, ok
	}
}

func asI64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func asF64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func asStr(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	default:
		return "", false
	}
}

// keyBytes derives the index key encoding for one value under its logical
// type — the same bytes Scalar.Bytes produces on the query side, so XOR
// probes and SuRF bounds line up with what the writer hashed and encoded.
func keyBytes(t schema.LogicalType, v any) ([]byte, bool) {
	switch t {
	case schema.TypeI64, schema.TypeU64, schema.TypeTimestamp, schema.TypeDate:
		n, ok := asI64(v)
		if !ok {
			return nil, false
		}
		return index.EncodeOrderedI64(n), true
	case schema.TypeF64:
		f, ok := asF64(v)
		if !ok {
			return nil, false
		}
		return index.EncodeOrderedF64(f), true
	case schema.TypeBool:
		b, ok := v.(bool)
		if !ok {
			return nil, false
		}
		if b {
			return []byte{1}, true
		}
		return []byte{0}, true
	default:
		s, ok := asStr(v)
		if !ok {
			// JSON payloads may arrive as decoded objects; their index key
			// is the canonical serialized form.
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, false
			}
			return raw, true
		}
		return []byte(s), true
	}
}
