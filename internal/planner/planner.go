// Package planner implements the index planner: a pure function of
// (predicate, segment index catalog, field schema) that picks exactly one
// pruning strategy, with no filesystem probing. Precedence: temporal,
// then enum, then SuRF-for-range, then zone-XOR, then field-XOR, then
// full scan.
package planner

import (
	"github.com/colonnade-db/colonnade/internal/index"
	"github.com/colonnade-db/colonnade/internal/schema"
)

// Op is one of the comparison operators a predicate leaf can carry.
type Op uint8

const (
	OpEq Op = iota
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpIn
)

// IsRange reports whether op is a range comparison (not equality or IN).
func (o Op) IsRange() bool {
	return o == OpLt || o == OpLte || o == OpGt || o == OpGte
}

func (o Op) String() string {
	switch o {
	case OpEq:
		return "=="
	case OpNeq:
		return "!="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpIn:
		return "IN"
	default:
		return "unknown"
	}
}

// Strategy identifies the pruning strategy the planner selected for one
// predicate leaf against one segment.
type Strategy uint8

const (
	StrategyFullScan Strategy = iota
	StrategyTemporalEq
	StrategyTemporalRange
	StrategyEnumBitmap
	StrategyZoneSuRF
	StrategyZoneXorIndex
	StrategyXorPresence
)

func (s Strategy) String() string {
	switch s {
	case StrategyTemporalEq:
		return "temporal_eq"
	case StrategyTemporalRange:
		return "temporal_range"
	case StrategyEnumBitmap:
		return "enum_bitmap"
	case StrategyZoneSuRF:
		return "zone_surf"
	case StrategyZoneXorIndex:
		return "zone_xor_index"
	case StrategyXorPresence:
		return "xor_presence"
	default:
		return "full_scan"
	}
}

// isTimestampNamed routes a field literally named timestamp to temporal
// strategies even when its declared type isn't Timestamp.
func isTimestampNamed(field string) bool { return field == "timestamp" }

// Plan chooses the strategy for one predicate leaf. cat may be nil (no
// catalog built yet for this segment, e.g. it's still flushing), in which
// case the result is always FullScan. Plan never touches the filesystem;
// every decision comes from cat and the field's declared schema type.
func Plan(cat *index.Catalog, field string, fieldType schema.LogicalType, isEnum bool, op Op) Strategy {
	if cat == nil {
		return StrategyFullScan
	}

	if fieldType.IsTemporal() || isTimestampNamed(field) {
		if cat.Has(field, index.KindCalendar) {
			switch {
			case op == OpEq:
				return StrategyTemporalEq
			case op.IsRange():
				return StrategyTemporalRange
			}
		}
	}

	if isEnum && cat.Has(field, index.KindEnumBitmap) {
		return StrategyEnumBitmap
	}

	if op.IsRange() && cat.Has(field, index.KindSuRF) {
		return StrategyZoneSuRF
	}

	if cat.Has(field, index.KindZoneXor) {
		return StrategyZoneXorIndex
	}

	if cat.Has(field, index.KindXorField) {
		return StrategyXorPresence
	}

	return StrategyFullScan
}
