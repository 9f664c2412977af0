package filter

import (
	"github.com/colonnade-db/colonnade/internal/column"
	"github.com/colonnade-db/colonnade/internal/planner"
	"github.com/colonnade-db/colonnade/internal/schema"
)

// ScalarAt reads row i of vals as a Scalar of the given logical type. Used
// by residual row evaluation once zone pruning has narrowed the candidate
// set but a leaf still needs confirming against decoded values (false
// positives from XOR/SuRF filters, or predicates the planner couldn't
// route to any index at all).
func ScalarAt(vals *column.Values, i int, kind schema.LogicalType) Scalar {
	switch kind {
	case schema.TypeI64:
		return Scalar{Kind: kind, I64: vals.GetI64At(i)}
	case schema.TypeU64:
		return Scalar{Kind: kind, I64: int64(vals.GetU64At(i))}
	case schema.TypeTimestamp:
		return Scalar{Kind: kind, I64: vals.GetI64At(i)}
	case schema.TypeDate:
		return Scalar{Kind: kind, I64: int64(vals.GetDateAt(i))}
	case schema.TypeF64:
		return Scalar{Kind: kind, F64: vals.GetF64At(i)}
	case schema.TypeBool:
		return Scalar{Kind: kind, Bool: vals.GetBoolAt(i)}
	default: // String, Enum, JSON
		return Scalar{Kind: kind, Str: string(vals.GetStrAt(i))}
	}
}

// Matches evaluates p's comparison against value directly (not via an
// index), the row-by-row residual evaluation FilterOp performs once a
// batch has been decoded.
func Matches(p *Predicate, value Scalar) bool {
	switch p.Op {
	case planner.OpEq:
		return value.Compare(p.Value) == 0
	case planner.OpNeq:
		return value.Compare(p.Value) != 0
	case planner.OpLt:
		return value.Compare(p.Value) < 0
	case planner.OpLte:
		return value.Compare(p.Value) <= 0
	case planner.OpGt:
		return value.Compare(p.Value) > 0
	case planner.OpGte:
		return value.Compare(p.Value) >= 0
	case planner.OpIn:
		for _, v := range p.Values {
			if value.Compare(v) == 0 {
				return true
			}
		}
		return false
	default:
		return false
	}
}
