package segment

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	coreerrors "github.com/colonnade-db/colonnade/pkg/errors"
)

// File kind magics for the segment-level metadata files. Every file starts
// with the shared header magic:u32 | version:u16 | flags:u16.
const (
	magicZones    uint32 = 0x5A4F4E31 // "ZON1"
	magicCtxIndex uint32 = 0x49445831 // "IDX1"
	magicSegIndex uint32 = 0x53494431 // "SID1"
	fileVersion   uint16 = 1
)

const fileHeaderSize = 8

// writeFramedFile writes header+body to path via a temp name and atomic
// rename, fsyncing before the rename.
func writeFramedFile(path string, magic uint32, body func(w io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return coreerrors.NewStorageError(err, coreerrors.ErrorCodeIO, "failed to create segment metadata file").WithPath(path)
	}

	w := bufio.NewWriter(f)
	var header [fileHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], magic)
	binary.LittleEndian.PutUint16(header[4:6], fileVersion)
	if _, err := w.Write(header[:]); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := body(w); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func readFramedFile(path string, wantMagic uint32, body func(r io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return coreerrors.NewStorageError(err, coreerrors.ErrorCodeIO, "failed to open segment metadata file").WithPath(path)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var header [fileHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return coreerrors.NewStorageError(err, coreerrors.ErrorCodeHeaderReadFailure, "short segment metadata header").WithPath(path)
	}
	if got := binary.LittleEndian.Uint32(header[0:4]); got != wantMagic {
		return coreerrors.NewStorageError(
			fmt.Errorf("bad magic %08x, want %08x", got, wantMagic),
			coreerrors.ErrorCodeSegmentCorrupted, "segment metadata magic mismatch").WithPath(path)
	}
	return body(r)
}

func writeU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func writeU64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func writeString(w io.Writer, s string) error {
	if err := writeU32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
