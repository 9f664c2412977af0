// Temporal calendar (.cal) and zone temporal index (.tfi): a segment-level
// sorted index of zone time ranges plus per-zone (min_ts, max_ts), used for
// TemporalEq/TemporalRange pruning on timestamp/date fields.
package index

import (
	"encoding/binary"
	"io"
	"sort"
)

const (
	magicCalendar uint32 = 0x43414C31 // "CAL1"
	magicZTI      uint32 = 0x5A544931 // "ZTI1"
	calVersion    uint16 = 1
)

// ZoneRange records one zone's row range and inclusive timestamp range.
type ZoneRange struct {
	ZoneID uint32
	MinTS  int64
	MaxTS  int64
}

// Calendar is the segment-level sorted index of zone time ranges for one
// temporal field. Entries are sorted by MinTS; Intersecting scans every
// entry.
type Calendar struct {
	Zones []ZoneRange
}

// BuildCalendar sorts ranges by MinTS and returns the calendar.
func BuildCalendar(ranges []ZoneRange) *Calendar {
	out := append([]ZoneRange(nil), ranges...)
	sort.Slice(out, func(i, j int) bool { return out[i].MinTS < out[j].MinTS })
	return &Calendar{Zones: out}
}

// Intersecting returns the zone ids whose [MinTS, MaxTS] overlaps
// [fromTS, toTS]. For a point query pass fromTS == toTS.
func (c *Calendar) Intersecting(fromTS, toTS int64) []uint32 {
	var out []uint32
	// Binary search would require a non-overlapping sweep structure; zone
	// time ranges in a single segment can overlap slightly at boundaries,
	// so this scans the (typically small, tens-to-low-hundreds) per-segment
	// zone list directly rather than building an interval tree.
	for _, z := range c.Zones {
		if z.MaxTS >= fromTS && z.MinTS <= toTS {
			out = append(out, z.ZoneID)
		}
	}
	return out
}

// WriteCalendarFile writes the segment-level calendar to path.
func WriteCalendarFile(path string, c *Calendar) error {
	return writeFramed(path, magicCalendar, calVersion, func(w io.Writer) error {
		var countBuf [4]byte
		binary.LittleEndian.PutUint32(countBuf[:], uint32(len(c.Zones)))
		if _, err := w.Write(countBuf[:]); err != nil {
			return err
		}
		for _, z := range c.Zones {
			var rec [20]byte
			binary.LittleEndian.PutUint32(rec[0:4], z.ZoneID)
			binary.LittleEndian.PutUint64(rec[4:12], uint64(z.MinTS))
			binary.LittleEndian.PutUint64(rec[12:20], uint64(z.MaxTS))
			if _, err := w.Write(rec[:]); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadCalendarFile reads a segment-level calendar from path.
func ReadCalendarFile(path string) (*Calendar, error) {
	out := &Calendar{}
	err := readFramed(path, magicCalendar, func(r io.Reader) error {
		var countBuf [4]byte
		if _, err := io.ReadFull(r, countBuf[:]); err != nil {
			return err
		}
		n := binary.LittleEndian.Uint32(countBuf[:])
		out.Zones = make([]ZoneRange, n)
		for i := range out.Zones {
			var rec [20]byte
			if _, err := io.ReadFull(r, rec[:]); err != nil {
				return err
			}
			out.Zones[i] = ZoneRange{
				ZoneID: binary.LittleEndian.Uint32(rec[0:4]),
				MinTS:  int64(binary.LittleEndian.Uint64(rec[4:12])),
				MaxTS:  int64(binary.LittleEndian.Uint64(rec[12:20])),
			}
		}
		return nil
	})
	return out, err
}

// WriteZoneTemporalIndexFile writes the per-zone (min_ts, max_ts) file
// ({uid}_{field}_{zone}.tfi) used to confirm a calendar candidate without
// decoding the full column.
func WriteZoneTemporalIndexFile(path string, z ZoneRange) error {
	return writeFramed(path, magicZTI, calVersion, func(w io.Writer) error {
		var rec [20]byte
		binary.LittleEndian.PutUint32(rec[0:4], z.ZoneID)
		binary.LittleEndian.PutUint64(rec[4:12], uint64(z.MinTS))
		binary.LittleEndian.PutUint64(rec[12:20], uint64(z.MaxTS))
		_, err := w.Write(rec[:])
		return err
	})
}

// ReadZoneTemporalIndexFile reads a single zone's temporal index.
func ReadZoneTemporalIndexFile(path string) (ZoneRange, error) {
	var out ZoneRange
	err := readFramed(path, magicZTI, func(r io.Reader) error {
		var rec [20]byte
		if _, err := io.ReadFull(r, rec[:]); err != nil {
			return err
		}
		out = ZoneRange{
			ZoneID: binary.LittleEndian.Uint32(rec[0:4]),
			MinTS:  int64(binary.LittleEndian.Uint64(rec[4:12])),
			MaxTS:  int64(binary.LittleEndian.Uint64(rec[12:20])),
		}
		return nil
	})
	return out, err
}
