package planner

import (
	"testing"

	"github.com/colonnade-db/colonnade/internal/index"
	"github.com/colonnade-db/colonnade/internal/schema"
)

func catalogWith(field string, kinds index.Kind) *index.Catalog {
	cat := index.NewCatalog()
	cat.Record(field, kinds)
	return cat
}

func TestPlan_NoCatalog(t *testing.T) {
	if got := Plan(nil, "amount", schema.TypeI64, false, OpEq); got != StrategyFullScan {
		t.Fatalf("got %v, want FullScan", got)
	}
}

func TestPlan_Temporal(t *testing.T) {
	cat := catalogWith("ts", index.KindCalendar)
	if got := Plan(cat, "ts", schema.TypeTimestamp, false, OpEq); got != StrategyTemporalEq {
		t.Fatalf("got %v, want TemporalEq", got)
	}
	if got := Plan(cat, "ts", schema.TypeTimestamp, false, OpGt); got != StrategyTemporalRange {
		t.Fatalf("got %v, want TemporalRange", got)
	}
}

func TestPlan_TimestampNamedField(t *testing.T) {
	cat := catalogWith("timestamp", index.KindCalendar)
	if got := Plan(cat, "timestamp", schema.TypeI64, false, OpEq); got != StrategyTemporalEq {
		t.Fatalf("got %v, want TemporalEq for literally-named timestamp field", got)
	}
}

func TestPlan_Enum(t *testing.T) {
	cat := catalogWith("kind", index.KindEnumBitmap)
	if got := Plan(cat, "kind", schema.TypeEnum, true, OpEq); got != StrategyEnumBitmap {
		t.Fatalf("got %v, want EnumBitmap", got)
	}
}

func TestPlan_RangePrefersSurfOverZoneXor(t *testing.T) {
	cat := index.NewCatalog()
	cat.Record("amount", index.KindSuRF|index.KindZoneXor|index.KindXorField)
	if got := Plan(cat, "amount", schema.TypeI64, false, OpGt); got != StrategyZoneSuRF {
		t.Fatalf("got %v, want ZoneSuRF", got)
	}
}

func TestPlan_EqualityPrefersZoneXorOverFieldXor(t *testing.T) {
	cat := index.NewCatalog()
	cat.Record("amount", index.KindZoneXor|index.KindXorField)
	if got := Plan(cat, "amount", schema.TypeI64, false, OpEq); got != StrategyZoneXorIndex {
		t.Fatalf("got %v, want ZoneXorIndex", got)
	}
}

func TestPlan_FallsBackToFieldXor(t *testing.T) {
	cat := catalogWith("amount", index.KindXorField)
	if got := Plan(cat, "amount", schema.TypeI64, false, OpEq); got != StrategyXorPresence {
		t.Fatalf("got %v, want XorPresence", got)
	}
}

func TestPlan_NoIndexesFullScan(t *testing.T) {
	cat := index.NewCatalog()
	if got := Plan(cat, "amount", schema.TypeI64, false, OpEq); got != StrategyFullScan {
		t.Fatalf("got %v, want FullScan", got)
	}
}

func TestOp_IsRange(t *testing.T) {
	for op, want := range map[Op]bool{
		OpEq: false, OpNeq: false, OpIn: false,
		OpLt: true, OpLte: true, OpGt: true, OpGte: true,
	} {
		if got := op.IsRange(); got != want {
			t.Fatalf("op %v: IsRange() = %v, want %v", op, got, want)
		}
	}
}
