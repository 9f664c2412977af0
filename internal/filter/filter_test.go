package filter

import (
	"testing"

	"github.com/RoaringBitmap/roaring"
	"github.com/colonnade-db/colonnade/internal/planner"
)

func bm(ids ...uint32) *roaring.Bitmap {
	b := roaring.New()
	for _, id := range ids {
		b.Add(id)
	}
	return b
}

func zoneSetOf(segmentID uint32, ids ...uint32) *ZoneSet {
	z := NewZoneSet()
	z.Put(segmentID, bm(ids...))
	return z
}

func TestFilterGroup_And(t *testing.T) {
	p1 := &Predicate{Column: "amount", Op: planner.OpGt, Value: ScalarI64(10)}
	p2 := &Predicate{Column: "country", Op: planner.OpEq, Value: ScalarStr("US")}

	fg := Compile(&And{Children: []Node{NewLeaf(p1), NewLeaf(p2)}})

	zones := map[*Predicate]*ZoneSet{
		p1: zoneSetOf(0, 1, 2, 3),
		p2: zoneSetOf(0, 2, 3, 4),
	}
	result := fg.Evaluate(func(p *Predicate) *ZoneSet { return zones[p] }, nil)
	got := result.BySegment[0]
	if got.GetCardinality() != 2 || !got.Contains(2) || !got.Contains(3) {
		t.Fatalf("unexpected intersection: %v", got.ToArray())
	}
}

func TestFilterGroup_Or(t *testing.T) {
	p1 := &Predicate{Column: "a", Op: planner.OpEq, Value: ScalarI64(1)}
	p2 := &Predicate{Column: "b", Op: planner.OpEq, Value: ScalarI64(2)}
	fg := Compile(&Or{Children: []Node{NewLeaf(p1), NewLeaf(p2)}})

	zones := map[*Predicate]*ZoneSet{
		p1: zoneSetOf(0, 1),
		p2: zoneSetOf(0, 2),
	}
	result := fg.Evaluate(func(p *Predicate) *ZoneSet { return zones[p] }, nil)
	got := result.BySegment[0]
	if got.GetCardinality() != 2 {
		t.Fatalf("unexpected union: %v", got.ToArray())
	}
}

func TestFilterGroup_NotLeaf(t *testing.T) {
	p1 := &Predicate{Column: "a", Op: planner.OpEq, Value: ScalarI64(1)}
	fg := Compile(&Not{Child: NewLeaf(p1)})

	zones := map[*Predicate]*ZoneSet{p1: zoneSetOf(0, 1, 2)}
	universe := Universe{0: bm(0, 1, 2, 3, 4)}
	result := fg.Evaluate(func(p *Predicate) *ZoneSet { return zones[p] }, universe)
	got := result.BySegment[0]
	if got.GetCardinality() != 3 || !got.Contains(0) || !got.Contains(3) || !got.Contains(4) {
		t.Fatalf("unexpected complement: %v", got.ToArray())
	}
}

func TestFilterGroup_NotNotCancels(t *testing.T) {
	p1 := &Predicate{Column: "a", Op: planner.OpEq, Value: ScalarI64(1)}
	fg := Compile(&Not{Child: &Not{Child: NewLeaf(p1)}})
	leaves := fg.Leaves()
	if len(leaves) != 1 || leaves[0].Negated {
		t.Fatalf("expected single non-negated leaf after NOT NOT cancellation")
	}
}

func TestFilterGroup_DeMorganAnd(t *testing.T) {
	p1 := &Predicate{Column: "a", Op: planner.OpEq, Value: ScalarI64(1)}
	p2 := &Predicate{Column: "b", Op: planner.OpEq, Value: ScalarI64(2)}
	fg := Compile(&Not{Child: &And{Children: []Node{NewLeaf(p1), NewLeaf(p2)}}})

	leaves := fg.Leaves()
	if len(leaves) != 2 || !leaves[0].Negated || !leaves[1].Negated {
		t.Fatalf("expected NOT(AND) to push Not onto both leaves")
	}
}

func TestFilterGroup_EmptyChildShortCircuitsAnd(t *testing.T) {
	p1 := &Predicate{Column: "a", Op: planner.OpEq, Value: ScalarI64(1)}
	p2 := &Predicate{Column: "b", Op: planner.OpEq, Value: ScalarI64(2)}
	fg := Compile(&And{Children: []Node{NewLeaf(p1), NewLeaf(p2)}})

	zones := map[*Predicate]*ZoneSet{
		p1: NewZoneSet(), // empty
		p2: zoneSetOf(0, 1, 2),
	}
	result := fg.Evaluate(func(p *Predicate) *ZoneSet { return zones[p] }, nil)
	if !result.IsEmpty() {
		t.Fatalf("expected empty result, got %v", result.BySegment)
	}
}

func TestMatches(t *testing.T) {
	p := &Predicate{Op: planner.OpGte, Value: ScalarI64(10)}
	if !Matches(p, ScalarI64(10)) || !Matches(p, ScalarI64(20)) || Matches(p, ScalarI64(9)) {
		t.Fatalf("Gte comparison incorrect")
	}

	in := &Predicate{Op: planner.OpIn, Values: []Scalar{ScalarStr("a"), ScalarStr("b")}}
	if !Matches(in, ScalarStr("b")) || Matches(in, ScalarStr("c")) {
		t.Fatalf("IN comparison incorrect")
	}
}
