package column

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	coreerrors "github.com/colonnade-db/colonnade/pkg/errors"
)

// Magic/version identify the .col and .zfc file kinds in their shared
// binary header.
const (
	magicCol uint32 = 0x434F4C31 // "COL1"
	magicZfc uint32 = 0x5A464331 // "ZFC1"
	version  uint16 = 1
)

const fileHeaderSize = 8 // magic:u32 + version:u16 + flags:u16

func writeFileHeader(w io.Writer, magic uint32) error {
	var buf [fileHeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	binary.LittleEndian.PutUint16(buf[4:6], version)
	// bytes 6-7: flags, unused
	_, err := w.Write(buf[:])
	return err
}

func readFileHeader(r io.Reader, wantMagic uint32) error {
	var buf [fileHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fmt.Errorf("column: short file header: %w", err)
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != wantMagic {
		return fmt.Errorf("column: bad magic %08x, want %08x", magic, wantMagic)
	}
	return nil
}

// ZoneBlockEntry is one row of a .zfc compressed-column index: where a
// zone's compressed block lives in the .col file and how large it is
// compressed and uncompressed.
type ZoneBlockEntry struct {
	ZoneID           uint32
	BlockStart       uint64
	CompressedLen    uint32
	UncompressedLen  uint32
	RowCount         uint32
}

const zfcEntrySize = 4 + 8 + 4 + 4 + 4

// Writer incrementally appends compressed blocks to a .col file while
// building its companion .zfc index.
type Writer struct {
	colFile *os.File
	colBuf  *bufio.Writer
	codec   Codec
	offset  uint64
	entries []ZoneBlockEntry
}

// NewWriter creates colPath (truncating any prior contents) and prepares to
// append compressed blocks to it.
func NewWriter(colPath string, codec Codec) (*Writer, error) {
	f, err := os.OpenFile(colPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, coreerrors.NewStorageError(err, coreerrors.ErrorCodeIO, "failed to create column file").WithPath(colPath)
	}
	buf := bufio.NewWriter(f)
	if err := writeFileHeader(buf, magicCol); err != nil {
		f.Close()
		return nil, coreerrors.NewStorageError(err, coreerrors.ErrorCodeIO, "failed to write column file header").WithPath(colPath)
	}
	return &Writer{colFile: f, colBuf: buf, codec: codec, offset: fileHeaderSize}, nil
}

// WriteZone compresses block and appends it, recording a .zfc entry for zoneID.
func (w *Writer) WriteZone(zoneID uint32, block *Block) error {
	uncompressed := block.Bytes()
	framed := w.codec.Compress(uncompressed)

	n, err := w.colBuf.Write(framed)
	if err != nil {
		return coreerrors.NewStorageError(err, coreerrors.ErrorCodeIO, "failed to append column block")
	}

	w.entries = append(w.entries, ZoneBlockEntry{
		ZoneID:          zoneID,
		BlockStart:      w.offset,
		CompressedLen:   uint32(len(framed)),
		UncompressedLen: uint32(len(uncompressed)),
		RowCount:        block.Header.RowCount,
	})
	w.offset += uint64(n)
	return nil
}

// Close flushes and closes the .col file, then writes the companion .zfc
// index file at zfcPath.
func (w *Writer) Close(zfcPath string) error {
	if err := w.colBuf.Flush(); err != nil {
		w.colFile.Close()
		return coreerrors.NewStorageError(err, coreerrors.ErrorCodeIO, "failed to flush column file")
	}
	if err := w.colFile.Sync(); err != nil {
		w.colFile.Close()
		return coreerrors.NewStorageError(err, coreerrors.ErrorCodeIO, "failed to fsync column file")
	}
	if err := w.colFile.Close(); err != nil {
		return coreerrors.NewStorageError(err, coreerrors.ErrorCodeIO, "failed to close column file")
	}

	return writeZfc(zfcPath, w.entries)
}

func writeZfc(path string, entries []ZoneBlockEntry) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return coreerrors.NewStorageError(err, coreerrors.ErrorCodeIO, "failed to create zfc file").WithPath(path)
	}
	defer f.Close()

	buf := bufio.NewWriter(f)
	if err := writeFileHeader(buf, magicZfc); err != nil {
		return err
	}

	var rec [zfcEntrySize]byte
	for _, e := range entries {
		binary.LittleEndian.PutUint32(rec[0:4], e.ZoneID)
		binary.LittleEndian.PutUint64(rec[4:12], e.BlockStart)
		binary.LittleEndian.PutUint32(rec[12:16], e.CompressedLen)
		binary.LittleEndian.PutUint32(rec[16:20], e.UncompressedLen)
		binary.LittleEndian.PutUint32(rec[20:24], e.RowCount)
		if _, err := buf.Write(rec[:]); err != nil {
			return coreerrors.NewStorageError(err, coreerrors.ErrorCodeIO, "failed to write zfc entry").WithPath(path)
		}
	}
	if err := buf.Flush(); err != nil {
		return coreerrors.NewStorageError(err, coreerrors.ErrorCodeIO, "failed to flush zfc file").WithPath(path)
	}
	return f.Sync()
}

// ReadZfc loads the full compressed-column index for a column file.
func ReadZfc(path string) ([]ZoneBlockEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, coreerrors.NewStorageError(err, coreerrors.ErrorCodeIO, "failed to open zfc file").WithPath(path)
	}
	defer f.Close()

	if err := readFileHeader(f, magicZfc); err != nil {
		return nil, coreerrors.NewStorageError(err, coreerrors.ErrorCodeSegmentCorrupted, "bad zfc file header").WithPath(path)
	}

	var entries []ZoneBlockEntry
	var rec [zfcEntrySize]byte
	for {
		_, err := io.ReadFull(f, rec[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, coreerrors.NewStorageError(err, coreerrors.ErrorCodeSegmentCorrupted, "truncated zfc entry").WithPath(path)
		}
		entries = append(entries, ZoneBlockEntry{
			ZoneID:          binary.LittleEndian.Uint32(rec[0:4]),
			BlockStart:      binary.LittleEndian.Uint64(rec[4:12]),
			CompressedLen:   binary.LittleEndian.Uint32(rec[12:16]),
			UncompressedLen: binary.LittleEndian.Uint32(rec[16:20]),
			RowCount:        binary.LittleEndian.Uint32(rec[20:24]),
		})
	}
	return entries, nil
}

// ReadBlockAt opens colPath, seeks to entry.BlockStart, reads exactly its
// compressed bytes, and decompresses+decodes them into a Block. Column
// reader callers (internal/cache) wrap this with single-flighted caching
// keyed by (path, zone_id).
func ReadBlockAt(colPath string, entry ZoneBlockEntry, codec Codec) (*Block, error) {
	f, err := os.Open(colPath)
	if err != nil {
		return nil, coreerrors.NewStorageError(err, coreerrors.ErrorCodeIO, "failed to open column file").WithPath(colPath)
	}
	defer f.Close()

	framed := make([]byte, entry.CompressedLen)
	if _, err := f.ReadAt(framed, int64(entry.BlockStart)); err != nil {
		return nil, coreerrors.NewStorageError(err, coreerrors.ErrorCodeIO, "failed to read column block bytes").
			WithPath(colPath).WithOffset(int(entry.BlockStart))
	}

	uncompressed, err := codec.Decompress(framed)
	if err != nil {
		return nil, coreerrors.NewStorageError(err, coreerrors.ErrorCodeSegmentCorrupted, "failed to decompress column block").WithPath(colPath)
	}

	return DecodeBlock(uncompressed)
}
