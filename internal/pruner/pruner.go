// Package pruner resolves a planner.Strategy into a set of candidate zones
// for one (segment, field) predicate. It operates purely on already-loaded
// index structures — callers (the filter engine, via the segment cache)
// are responsible for I/O; the pruner itself never opens a file.
//
// Candidate zone sets are represented as roaring bitmaps of zone ids,
// scoped to a single segment, so the filter engine can combine them under
// AND/OR/NOT with RoaringBitmap's native set algebra.
package pruner

import (
	"github.com/RoaringBitmap/roaring"

	"github.com/colonnade-db/colonnade/internal/index"
)

// surfFallthroughRatio: if a SuRF probe admits more than this fraction of
// a segment's zones, the filter adds no value and the caller should fall
// back to FullScan.
const surfFallthroughRatio = 0.9

// zoneSet builds a bitmap from a slice of zone ids.
func zoneSet(ids []uint32) *roaring.Bitmap {
	bm := roaring.New()
	for _, id := range ids {
		bm.Add(id)
	}
	return bm
}

// FullScan returns every zone id in allZones as the candidate set.
func FullScan(allZones []uint32) *roaring.Bitmap { return zoneSet(allZones) }

// TemporalEq returns the zones whose calendar range contains ts, confirmed
// only at calendar granularity — callers that need exact per-row results
// still residual-evaluate after decoding.
func TemporalEq(cal *index.Calendar, ts int64) *roaring.Bitmap {
	return zoneSet(cal.Intersecting(ts, ts))
}

// TemporalRange returns the zones whose calendar range intersects
// [fromTS, toTS].
func TemporalRange(cal *index.Calendar, fromTS, toTS int64) *roaring.Bitmap {
	return zoneSet(cal.Intersecting(fromTS, toTS))
}

// EnumEq returns the zones, among zoneIDs, with at least one row carrying
// variant.
func EnumEq(set *index.EnumBitmapSet, zoneIDs []uint32, variant string) *roaring.Bitmap {
	out := roaring.New()
	for _, z := range zoneIDs {
		if rows := set.VariantRows(z, variant); rows != nil && !rows.IsEmpty() {
			out.Add(z)
		}
	}
	return out
}

// EnumNeq returns the zones, among zoneIDs, with at least one row carrying
// a variant other than the excluded one.
func EnumNeq(set *index.EnumBitmapSet, zoneIDs []uint32, excluded string) *roaring.Bitmap {
	out := roaring.New()
	for _, z := range zoneIDs {
		if set.HasAnyOtherVariant(z, excluded) {
			out.Add(z)
		}
	}
	return out
}

// ZoneSuRF probes rf for the encoded range [lo, hi]. If the admitted
// fraction of totalZones exceeds surfFallthroughRatio, ok is false and the
// caller should fall back to FullScan instead of using the returned bitmap.
func ZoneSuRF(rf *index.RangeFilter, lo, hi []byte, totalZones int) (zones *roaring.Bitmap, ok bool) {
	admitted := rf.Intersecting(lo, hi)
	if totalZones > 0 && float64(len(admitted))/float64(totalZones) > surfFallthroughRatio {
		return nil, false
	}
	return zoneSet(admitted), true
}

// ZoneXorProbe returns the zones, among zoneIDs, whose per-zone binary-fuse
// filter admits value. False positives are expected and resolved by
// residual evaluation.
func ZoneXorProbe(idx *index.ZoneXorIndex, zoneIDs []uint32, value []byte) *roaring.Bitmap {
	out := roaring.New()
	for _, z := range zoneIDs {
		if idx.Probe(z, value) {
			out.Add(z)
		}
	}
	return out
}

// XorPresence probes the segment-level field filter. The filter only knows
// whether value occurs anywhere in the segment, so a positive probe admits
// every zone in allZones; a negative probe admits none.
func XorPresence(filter *index.XorFilter, value []byte, allZones []uint32) *roaring.Bitmap {
	if filter == nil || !filter.Contains(value) {
		return roaring.New()
	}
	return FullScan(allZones)
}
