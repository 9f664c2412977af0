// Package seginfo provides naming and discovery utilities for segment
// directories. Every segment is identified by a 32-bit numeric id
// partitioned into levels of IDsPerLevel ids each (L0 = [0, N), L1 =
// [N, 2N), ...); its directory name is the zero-padded five-digit id
package seginfo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/colonnade-db/colonnade/pkg/filesys"
)

// DirWidth is the fixed zero-padded width of a segment directory name.
const DirWidth = 5

// DirName returns the zero-padded directory name for segment id.
func DirName(id uint32) string {
	return fmt.Sprintf("%0*d", DirWidth, id)
}

// DirPath returns the full path of the segment directory for id under
// shardDir's segment root (shardDir/segmentsSubdir/{id}).
func DirPath(shardDir, segmentsSubdir string, id uint32) string {
	return filepath.Join(shardDir, segmentsSubdir, DirName(id))
}

// ParseDirName parses a zero-padded segment directory name back into its id.
func ParseDirName(name string) (uint32, error) {
	id, err := strconv.ParseUint(name, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("seginfo: invalid segment directory name %q: %w", name, err)
	}
	return uint32(id), nil
}

// Level returns the compaction level a segment id belongs to, given
// idsPerLevel ids reserved per level (L0 = [0, idsPerLevel), L1 =
// [idsPerLevel, 2*idsPerLevel), ...).
func Level(id uint32, idsPerLevel uint32) int {
	if idsPerLevel == 0 {
		return 0
	}
	return int(id / idsPerLevel)
}

// LevelRange returns the [start, end) id range owned by level, given
// idsPerLevel ids reserved per level.
func LevelRange(level int, idsPerLevel uint32) (start, end uint32) {
	start = uint32(level) * idsPerLevel
	end = start + idsPerLevel
	return
}

// ListSegmentDirs returns every segment id with a directory present under
// shardDir/segmentsSubdir, sorted ascending. This is a filesystem scan used
// only for diagnostics and startup sanity checks; the segment index file
// (internal/shard) remains the single source of truth for which segments
// are visible to readers.
func ListSegmentDirs(shardDir, segmentsSubdir string) ([]uint32, error) {
	root := filepath.Join(shardDir, segmentsSubdir)
	exists, err := filesys.Exists(root)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var ids []uint32
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := ParseDirName(e.Name())
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ColumnFileName returns the filename of a column's .col file for uid/field.
func ColumnFileName(uid, field string) string { return fmt.Sprintf("%s_%s.col", uid, field) }

// ZfcFileName returns the filename of a column's zone->block offset table.
func ZfcFileName(uid, field string) string { return fmt.Sprintf("%s_%s.zfc", uid, field) }

// XorFilterFileName returns the filename of a field's XOR field filter.
func XorFilterFileName(uid, field string) string { return fmt.Sprintf("%s_%s.xf", uid, field) }

// ZoneXorFileName returns the filename of a field's zone XOR index.
func ZoneXorFileName(uid, field string) string { return fmt.Sprintf("%s_%s.zxf", uid, field) }

// SuRFFileName returns the filename of a field's SuRF range filter.
func SuRFFileName(uid, field string) string { return fmt.Sprintf("%s_%s.zsf", uid, field) }

// EnumBitmapFileName returns the filename of a field's enum bitmap.
func EnumBitmapFileName(uid, field string) string { return fmt.Sprintf("%s_%s.ebm", uid, field) }

// CalendarFileName returns the filename of a field's temporal calendar.
func CalendarFileName(uid, field string) string { return fmt.Sprintf("%s_%s.cal", uid, field) }

// ZoneTemporalFileName returns the filename of one zone's temporal index.
func ZoneTemporalFileName(uid, field string, zone uint32) string {
	return fmt.Sprintf("%s_%s_%d.tfi", uid, field, zone)
}

// ZonesFileName returns the filename of a uid's zone metadata file.
func ZonesFileName(uid string) string { return uid + ".zones" }

// ZoneIdxFileName returns the filename of a uid's context_id -> zone_ids
// index file.
func ZoneIdxFileName(uid string) string { return uid + ".idx" }

// CatalogFileName returns the filename of a uid's index catalog file.
func CatalogFileName(uid string) string { return uid + ".cat" }
