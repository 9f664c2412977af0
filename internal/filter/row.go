package filter

// RowValue supplies one predicate's column value for the row under
// evaluation. ok=false means the value is null or the column is absent;
// a null value fails the leaf, negated or not, so nulls never match any
// comparison.
type RowValue func(p *Predicate) (Scalar, bool)

// MatchesRow evaluates the normalized tree against a single decoded row —
// the residual evaluation that confirms rows inside candidate zones, since
// zone pruning admits false positives.
func (fg *FilterGroup) MatchesRow(get RowValue) bool {
	return rowNode(fg.root, get)
}

func rowNode(n Node, get RowValue) bool {
	switch t := n.(type) {
	case *Leaf:
		v, ok := get(t.Predicate)
		if !ok {
			return false
		}
		if t.Negated {
			return !Matches(t.Predicate, v)
		}
		return Matches(t.Predicate, v)
	case *And:
		for _, c := range t.Children {
			if !rowNode(c, get) {
				return false
			}
		}
		return true
	case *Or:
		for _, c := range t.Children {
			if rowNode(c, get) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
