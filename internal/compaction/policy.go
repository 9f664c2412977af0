// Package compaction implements the k-way count compaction policy and the
// merge worker that promotes segments across levels: batches of k
// same-level segments merge into one segment at the next level, preserving
// per-context row order via a k-way heap merge.
package compaction

import (
	"sort"

	"github.com/colonnade-db/colonnade/internal/segment"
	"github.com/colonnade-db/colonnade/pkg/seginfo"
)

// Plan is one compaction unit: the input segments at Level whose merge
// produces a single segment at Level+1. A plan carries every UID its inputs
// contain, so one read pass serves all of them.
type Plan struct {
	Level  int
	Inputs []segment.Entry
}

// InputIDs returns the plan's input segment ids in order.
func (p Plan) InputIDs() []uint32 {
	ids := make([]uint32, len(p.Inputs))
	for i, e := range p.Inputs {
		ids[i] = e.ID
	}
	return ids
}

// UIDs returns the sorted union of event_type UIDs across the plan's inputs.
func (p Plan) UIDs() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range p.Inputs {
		for _, uid := range e.UIDs {
			if _, ok := seen[uid]; !ok {
				seen[uid] = struct{}{}
				out = append(out, uid)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Policy is the k-way count policy: at each level, every k segments (in id
// order) form one plan. Leftovers smaller than k are forced into a plan
// only once they reach forcedLeftover(k), about two thirds of k, so the
// policy doesn't churn on small merges.
type Policy struct {
	K           int
	IDsPerLevel uint32
}

// forcedLeftover returns the leftover count at which a partial batch is
// compacted anyway.
func forcedLeftover(k int) int { return (2*k + 2) / 3 }

// Plans derives every runnable plan from a segment index snapshot. Entries
// are grouped by level and sorted by id; each full group of K yields one
// plan, and a trailing partial group yields one only past the forced
// threshold. A plan with fewer than two inputs is never emitted.
func (p Policy) Plans(entries []segment.Entry) []Plan {
	byLevel := make(map[int][]segment.Entry)
	for _, e := range entries {
		level := seginfo.Level(e.ID, p.IDsPerLevel)
		byLevel[level] = append(byLevel[level], e)
	}

	levels := make([]int, 0, len(byLevel))
	for level := range byLevel {
		levels = append(levels, level)
	}
	sort.Ints(levels)

	var plans []Plan
	for _, level := range levels {
		group := byLevel[level]
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })

		i := 0
		for ; i+p.K <= len(group); i += p.K {
			plans = append(plans, Plan{Level: level, Inputs: group[i : i+p.K]})
		}
		if leftover := group[i:]; len(leftover) >= forcedLeftover(p.K) && len(leftover) >= 2 {
			plans = append(plans, Plan{Level: level, Inputs: leftover})
		}
	}
	return plans
}
