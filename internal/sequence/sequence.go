// Package sequence implements the sequence matcher: ordered patterns of N
// event types joined by a common link field, matched pairwise by
// TwoPointer for N==2 and by a multi-link grouping strategy for N>=3.
package sequence

import (
	"fmt"
	"sort"

	"github.com/colonnade-db/colonnade/internal/filter"
	"github.com/colonnade-db/colonnade/internal/memtable"
)

// Row is one candidate row for a pattern step: its link-field value,
// timestamp, and enough addressing information for the materializer to
// fetch the full event later.
type Row struct {
	LinkValue filter.Scalar
	Timestamp int64
	ZoneID    uint32
	RowIndex  int
}

// Link constrains the ordering between one pattern step and the next.
type Link struct {
	// Strict requires prev.ts < next.ts; otherwise prev.ts <= next.ts is
	// accepted.
	Strict bool
}

// Pattern is an N-event ordered pattern joined by one common link field,
// with N-1 inter-step Links.
type Pattern struct {
	EventTypes []string
	Links      []Link
}

// Match is one surviving instance of the pattern: exactly len(EventTypes)
// rows, index-aligned with Pattern.EventTypes.
type Match struct {
	Rows []Row
}

func linkKey(v filter.Scalar) string {
	switch {
	case v.Str != "":
		return "s:" + v.Str
	case v.I64 != 0:
		return fmt.Sprintf("i:%d", v.I64)
	case v.F64 != 0:
		return fmt.Sprintf("f:%v", v.F64)
	default:
		return fmt.Sprintf("b:%v", v.Bool)
	}
}

func satisfies(link Link, prevTS, nextTS int64) bool {
	if link.Strict {
		return prevTS < nextTS
	}
	return prevTS <= nextTS
}

// TwoPointer matches exactly two event types: every (a, b) pair sharing a
// link value whose timestamps satisfy link is emitted. Both per-type row
// sets are grouped by link value in maps, so neither needs to be sorted;
// the order of the returned matches is not defined.
func TwoPointer(a, b []Row, link Link) []Match {
	aGroups := groupByLink(a)
	bGroups := groupByLink(b)

	var matches []Match
	for key, aRows := range aGroups {
		bRows, ok := bGroups[key]
		if !ok {
			continue
		}
		for _, ar := range aRows {
			for _, br := range bRows {
				if satisfies(link, ar.Timestamp, br.Timestamp) {
					matches = append(matches, Match{Rows: []Row{ar, br}})
				}
			}
		}
	}
	return matches
}

func groupByLink(rows []Row) map[string][]Row {
	out := make(map[string][]Row)
	for _, r := range rows {
		k := linkKey(r.LinkValue)
		out[k] = append(out[k], r)
	}
	return out
}

// MultiLink matches three or more event types: rows are grouped by link
// value, then for each link value present in every step the per-step rows
// are walked in order, enforcing each step's Link constraint.
func MultiLink(steps [][]Row, links []Link) []Match {
	if len(steps) < 2 || len(links) != len(steps)-1 {
		return nil
	}

	grouped := make([]map[string][]Row, len(steps))
	for i, rows := range steps {
		grouped[i] = groupByLink(rows)
	}

	// A link value only produces matches if every step has at least one
	// row for it; intersect over the first step's keys for determinism.
	var keys []string
	for k := range grouped[0] {
		present := true
		for i := 1; i < len(grouped); i++ {
			if _, ok := grouped[i][k]; !ok {
				present = false
				break
			}
		}
		if present {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var matches []Match
	for _, k := range keys {
		matches = append(matches, walkLinkValue(grouped, links, k)...)
	}
	return matches
}

func walkLinkValue(grouped []map[string][]Row, links []Link, key string) []Match {
	var out []Match
	var walk func(step int, acc []Row)
	walk = func(step int, acc []Row) {
		if step == len(grouped) {
			rows := make([]Row, len(acc))
			copy(rows, acc)
			out = append(out, Match{Rows: rows})
			return
		}
		for _, r := range grouped[step][key] {
			if step > 0 && !satisfies(links[step-1], acc[step-1].Timestamp, r.Timestamp) {
				continue
			}
			walk(step+1, append(acc, r))
		}
	}
	walk(0, make([]Row, 0, len(grouped)))
	return out
}

// RowLoader fetches the full event for one matched row of the named event
// type, from whichever zone/row it was indexed at.
type RowLoader func(eventType string, row Row) (*memtable.Event, error)

// Materialize reconstructs full events for every row of every surviving
// match, only for matches passed in.
func Materialize(pattern Pattern, matches []Match, load RowLoader) ([][]*memtable.Event, error) {
	out := make([][]*memtable.Event, 0, len(matches))
	for _, m := range matches {
		events := make([]*memtable.Event, len(m.Rows))
		for i, r := range m.Rows {
			ev, err := load(pattern.EventTypes[i], r)
			if err != nil {
				return nil, fmt.Errorf("sequence: materialize step %d: %w", i, err)
			}
			events[i] = ev
		}
		out = append(out, events)
	}
	return out, nil
}
