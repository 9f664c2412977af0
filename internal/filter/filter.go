// Package filter compiles predicates to a FilterGroup tree:
// leaf nodes each carrying one Predicate, combined under
// And/Or/Not. Candidate zone sets are collected once per leaf and combined
// with roaring-bitmap set algebra; Not is pushed down to leaves via De
// Morgan's rewrite before evaluation, so only leaves are ever complemented.
package filter

import "github.com/colonnade-db/colonnade/internal/planner"

// Predicate is one leaf comparison: column op value(s).
type Predicate struct {
	UID    string
	Column string
	Op     planner.Op
	Value  Scalar
	Values []Scalar // populated when Op == planner.OpIn
}

// Node is one node of a FilterGroup tree.
type Node interface{ isNode() }

// Leaf wraps a Predicate, with Negated tracking whether an odd number of
// enclosing Not nodes have been pushed down onto it during normalization.
type Leaf struct {
	Predicate *Predicate
	Negated   bool
}

func (*Leaf) isNode() {}

// And is the conjunction of its children.
type And struct{ Children []Node }

func (*And) isNode() {}

// Or is the disjunction of its children.
type Or struct{ Children []Node }

func (*Or) isNode() {}

// Not negates its child. User-facing trees may use Not freely; Normalize
// eliminates every Not node before evaluation.
type Not struct{ Child Node }

func (*Not) isNode() {}

// NewLeaf wraps a predicate as an unnegated leaf node.
func NewLeaf(p *Predicate) Node { return &Leaf{Predicate: p} }

// FilterGroup is a compiled predicate tree ready for zone-set evaluation.
type FilterGroup struct {
	root Node
}

// Compile normalizes root (pushing Not down to leaves) and returns a
// FilterGroup ready to Evaluate.
func Compile(root Node) *FilterGroup {
	return &FilterGroup{root: normalize(root, false)}
}

// normalize eliminates Not nodes: NOT of a leaf flips Negated; NOT of
// And/Or rewrites to Or/And of Not'd children (De Morgan); NOT of NOT
// cancels by flipping negate back off as recursion unwinds.
func normalize(n Node, negate bool) Node {
	switch t := n.(type) {
	case *Leaf:
		return &Leaf{Predicate: t.Predicate, Negated: t.Negated != negate}
	case *Not:
		return normalize(t.Child, !negate)
	case *And:
		children := make([]Node, len(t.Children))
		for i, c := range t.Children {
			children[i] = normalize(c, negate)
		}
		if negate {
			return &Or{Children: children}
		}
		return &And{Children: children}
	case *Or:
		children := make([]Node, len(t.Children))
		for i, c := range t.Children {
			children[i] = normalize(c, negate)
		}
		if negate {
			return &And{Children: children}
		}
		return &Or{Children: children}
	default:
		return n
	}
}

// LeafZones resolves a single (unnegated) predicate's candidate zones —
// the result of running it through the planner and pruner. Callers (the
// shard/query executor) supply this, since it requires access to the
// segment catalogs and loaded index structures the filter package itself
// has no business touching.
type LeafZones func(p *Predicate) *ZoneSet

// Evaluate resolves every leaf via resolve and combines them per the
// normalized tree, complementing negated leaves within universe.
func (fg *FilterGroup) Evaluate(resolve LeafZones, universe Universe) *ZoneSet {
	return evalNode(fg.root, resolve, universe)
}

func evalNode(n Node, resolve LeafZones, universe Universe) *ZoneSet {
	switch t := n.(type) {
	case *Leaf:
		zones := resolve(t.Predicate)
		if t.Negated {
			return complement(zones, universe)
		}
		return zones
	case *And:
		results := make([]*ZoneSet, len(t.Children))
		for i, c := range t.Children {
			results[i] = evalNode(c, resolve, universe)
		}
		return intersect(results)
	case *Or:
		results := make([]*ZoneSet, len(t.Children))
		for i, c := range t.Children {
			results[i] = evalNode(c, resolve, universe)
		}
		return union(results)
	default:
		return NewZoneSet()
	}
}

// Leaves returns every Leaf reachable from the (already normalized) tree,
// in left-to-right order, so callers can resolve each predicate's zones
// once and cache by the leaf's identity before calling Evaluate.
func (fg *FilterGroup) Leaves() []*Leaf {
	var out []*Leaf
	var walk func(Node)
	walk = func(n Node) {
		switch t := n.(type) {
		case *Leaf:
			out = append(out, t)
		case *And:
			for _, c := range t.Children {
				walk(c)
			}
		case *Or:
			for _, c := range t.Children {
				walk(c)
			}
		}
	}
	walk(fg.root)
	return out
}
