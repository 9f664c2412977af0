package filter

import "github.com/RoaringBitmap/roaring"

// ZoneSet is a candidate zone set spanning possibly many segments: the
// result of pruning one leaf, or of combining several under AND/OR/NOT.
type ZoneSet struct {
	BySegment map[uint32]*roaring.Bitmap
}

// NewZoneSet returns an empty zone set.
func NewZoneSet() *ZoneSet {
	return &ZoneSet{BySegment: make(map[uint32]*roaring.Bitmap)}
}

// Put records zones as the candidate set for segmentID, replacing any
// existing entry.
func (z *ZoneSet) Put(segmentID uint32, zones *roaring.Bitmap) {
	z.BySegment[segmentID] = zones
}

// IsEmpty reports whether every segment's bitmap is empty or absent.
func (z *ZoneSet) IsEmpty() bool {
	for _, bm := range z.BySegment {
		if bm != nil && !bm.IsEmpty() {
			return false
		}
	}
	return true
}

// Universe maps segment id to the full set of zone ids for the UID being
// queried, as recorded in that segment's zone metadata.
type Universe map[uint32]*roaring.Bitmap

func emptyBitmap(bm *roaring.Bitmap) *roaring.Bitmap {
	if bm == nil {
		return roaring.New()
	}
	return bm
}

// intersect computes the AND of zone sets. A segment absent from any
// operand contributes an empty result for that segment — this also gives
// the "empty child under AND short-circuits" rule for free, since
// intersecting with an empty bitmap is always empty.
func intersect(sets []*ZoneSet) *ZoneSet {
	out := NewZoneSet()
	if len(sets) == 0 {
		return out
	}
	segmentIDs := candidateSegments(sets)
	for _, segID := range segmentIDs {
		acc := emptyBitmap(sets[0].BySegment[segID]).Clone()
		for _, s := range sets[1:] {
			acc.And(emptyBitmap(s.BySegment[segID]))
		}
		out.Put(segID, acc)
	}
	return out
}

// union computes the OR of zone sets.
func union(sets []*ZoneSet) *ZoneSet {
	out := NewZoneSet()
	segmentIDs := candidateSegments(sets)
	for _, segID := range segmentIDs {
		acc := roaring.New()
		for _, s := range sets {
			acc.Or(emptyBitmap(s.BySegment[segID]))
		}
		out.Put(segID, acc)
	}
	return out
}

// complement computes NOT of a zone set within universe.
func complement(set *ZoneSet, universe Universe) *ZoneSet {
	out := NewZoneSet()
	for segID, all := range universe {
		admitted := emptyBitmap(set.BySegment[segID])
		out.Put(segID, roaring.AndNot(all, admitted))
	}
	return out
}

func candidateSegments(sets []*ZoneSet) []uint32 {
	seen := make(map[uint32]struct{})
	var ids []uint32
	for _, s := range sets {
		for segID := range s.BySegment {
			if _, ok := seen[segID]; !ok {
				seen[segID] = struct{}{}
				ids = append(ids, segID)
			}
		}
	}
	return ids
}
