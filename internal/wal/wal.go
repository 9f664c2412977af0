// Package wal implements the per-shard write-ahead log: a monotonically
// numbered sequence of log files holding length-framed, CRC-checked
// records. Every event is appended here before it becomes visible in the
// memtable; WALOptions decides when appended records are fsynced.
//
// Segment files are named wal-{NNNNN}.log; log ids are globally monotonic
// within a shard and never reused. A log rotates to the next id once it
// crosses its configured size threshold.
package wal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	coreerrors "github.com/colonnade-db/colonnade/pkg/errors"
	"github.com/colonnade-db/colonnade/pkg/filesys"
	"github.com/colonnade-db/colonnade/pkg/options"
	"go.uber.org/zap"
)

const filePrefix = "wal-"
const fileSuffix = ".log"
const idWidth = 5

// Config carries everything needed to open a shard's WAL directory.
type Config struct {
	Dir     string
	Options *options.WALOptions
	Logger  *zap.SugaredLogger
}

// WAL owns the active log file for one shard and the bookkeeping needed to
// rotate, fsync, and replay it.
type WAL struct {
	mu sync.Mutex

	dir     string
	opts    *options.WALOptions
	log     *zap.SugaredLogger
	closed  bool

	activeID   uint64
	activeFile *os.File
	writer     *bufio.Writer
	rawWriter  io.Writer // the writer records actually go through (buffered or raw)
	size       int64

	unsyncedCount int
}

// Open opens (or creates) the WAL directory, recovers the highest existing
// log id, and positions a fresh or continued active log file for writes.
func Open(ctx context.Context, cfg *Config) (*WAL, error) {
	if cfg == nil || cfg.Options == nil || cfg.Logger == nil {
		return nil, coreerrors.NewConfigurationValidationError("wal.Config", "options and logger are required")
	}

	if err := filesys.CreateDir(cfg.Dir, 0755, true); err != nil {
		return nil, coreerrors.NewStorageError(err, coreerrors.ErrorCodeIO, "failed to create wal directory").WithPath(cfg.Dir)
	}

	ids, err := listLogIDs(cfg.Dir)
	if err != nil {
		return nil, coreerrors.NewStorageError(err, coreerrors.ErrorCodeIO, "failed to list wal segments").WithPath(cfg.Dir)
	}

	w := &WAL{dir: cfg.Dir, opts: cfg.Options, log: cfg.Logger}

	var activeID uint64
	if len(ids) > 0 {
		activeID = ids[len(ids)-1]
	}

	if err := w.openActive(activeID); err != nil {
		return nil, err
	}

	cfg.Logger.Infow("wal opened", "dir", cfg.Dir, "activeID", w.activeID, "size", w.size)
	return w, nil
}

func (w *WAL) openActive(id uint64) error {
	path := logPath(w.dir, id)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return coreerrors.NewStorageError(err, coreerrors.ErrorCodeIO, "failed to open wal segment").
			WithPath(path).WithSegmentID(int(id))
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return coreerrors.NewStorageError(err, coreerrors.ErrorCodeIO, "failed to stat wal segment").WithPath(path)
	}

	w.activeID = id
	w.activeFile = f
	w.size = fi.Size()

	if w.opts.Buffered {
		w.writer = bufio.NewWriterSize(f, max(w.opts.BufferSize, 4096))
		w.rawWriter = w.writer
	} else {
		w.writer = nil
		w.rawWriter = f
	}

	return nil
}

// Append frames and writes one record to the active log, rotating
// first if the log has crossed its size threshold. WAL write failure fails
// the ingest and is surfaced to the caller; the memtable must not be
// mutated until Append returns nil.
func (w *WAL) Append(recordID uint64, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return coreerrors.NewStorageError(nil, coreerrors.ErrorCodeIO, "wal is closed").WithSegmentID(int(w.activeID))
	}

	if w.opts.SegmentMaxBytes > 0 && w.size >= w.opts.SegmentMaxBytes {
		if err := w.rotateLocked(); err != nil {
			return err
		}
	}

	n, err := writeRecord(w.rawWriter, payload)
	if err != nil {
		return coreerrors.NewStorageError(err, coreerrors.ErrorCodeWalWriteFailed, "wal append failed").
			WithSegmentID(int(w.activeID)).WithOffset(int(w.size))
	}
	w.size += int64(n)

	if w.opts.Fsync {
		if err := w.syncLocked(); err != nil {
			return err
		}
	} else if w.opts.Buffered && w.opts.FsyncEveryN > 0 {
		w.unsyncedCount++
		if w.unsyncedCount >= w.opts.FsyncEveryN {
			if err := w.syncLocked(); err != nil {
				return err
			}
			w.unsyncedCount = 0
		}
	}

	return nil
}

// Sync flushes any buffered bytes and fsyncs the active log file.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

func (w *WAL) syncLocked() error {
	if w.writer != nil {
		if err := w.writer.Flush(); err != nil {
			return coreerrors.NewStorageError(err, coreerrors.ErrorCodeWalWriteFailed, "wal buffer flush failed").
				WithSegmentID(int(w.activeID))
		}
	}
	if err := w.activeFile.Sync(); err != nil {
		return coreerrors.NewStorageError(err, coreerrors.ErrorCodeWalWriteFailed, "wal fsync failed").
			WithSegmentID(int(w.activeID))
	}
	w.unsyncedCount = 0
	return nil
}

func (w *WAL) rotateLocked() error {
	if err := w.syncLocked(); err != nil {
		return err
	}
	if err := w.activeFile.Close(); err != nil {
		return coreerrors.NewStorageError(err, coreerrors.ErrorCodeIO, "failed to close rotated wal segment").
			WithSegmentID(int(w.activeID))
	}

	nextID := w.activeID + 1
	if err := w.openActive(nextID); err != nil {
		return err
	}

	w.log.Infow("wal rotated", "previousID", nextID-1, "activeID", w.activeID)
	return nil
}

// Rotate forces a rotation to a fresh log file regardless of size,
// returning the new active log id. The shard rotates the WAL alongside
// every memtable rotation so each passive buffer's events live entirely in
// log files below the new id; those files become reclaimable once the
// buffer's segment is verified.
func (w *WAL) Rotate() (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, coreerrors.NewStorageError(nil, coreerrors.ErrorCodeIO, "wal is closed")
	}
	if err := w.rotateLocked(); err != nil {
		return 0, err
	}
	return w.activeID, nil
}

// ActiveID returns the log id currently being written to.
func (w *WAL) ActiveID() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activeID
}

// Close flushes, syncs, and closes the active log file. Idempotent.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.syncLocked(); err != nil {
		return err
	}
	return w.activeFile.Close()
}

// Replay walks every log file whose id is >= sinceID in ascending order and
// invokes fn for every fully-framed record. A torn trailing record (short
// read or bad CRC at the very end of the last file) is truncated silently,
// since it represents an interrupted append that was never acknowledged.
// A corrupt record found before the end of a file is fatal to replay and
// needs operator intervention.
func Replay(dir string, sinceID uint64, fn func(id uint64, payload []byte) error) error {
	ids, err := listLogIDs(dir)
	if err != nil {
		return coreerrors.NewStorageError(err, coreerrors.ErrorCodeRecoveryFailed, "failed to list wal segments during replay").WithPath(dir)
	}

	for i, id := range ids {
		if id < sinceID {
			continue
		}
		if err := replayOne(dir, id, i == len(ids)-1, fn); err != nil {
			return err
		}
	}
	return nil
}

func replayOne(dir string, id uint64, last bool, fn func(id uint64, payload []byte) error) error {
	path := logPath(dir, id)
	f, err := os.Open(path)
	if err != nil {
		return coreerrors.NewStorageError(err, coreerrors.ErrorCodeRecoveryFailed, "failed to open wal segment for replay").
			WithPath(path).WithSegmentID(int(id))
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		payload, err := readRecord(r)
		if err == io.EOF {
			return nil
		}
		if isTornRecord(err) {
			// Interrupted append at the tail: truncate silently and stop
			// replaying this file.
			return nil
		}
		if _, bad := err.(errChecksumMismatch); bad && last {
			if _, perr := r.Peek(1); perr == io.EOF {
				// Bad CRC on the final record of the log: an interrupted
				// append, truncated like a torn record.
				return nil
			}
		}
		if err != nil {
			return coreerrors.NewStorageError(err, coreerrors.ErrorCodeRecoveryFailed, "corrupt wal record during replay").
				WithPath(path).WithSegmentID(int(id))
		}
		if err := fn(id, payload); err != nil {
			return err
		}
	}
}

func logPath(dir string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%s%0*d%s", filePrefix, idWidth, id, fileSuffix))
}

func listLogIDs(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var ids []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		idStr := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		id, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Truncate deletes every log file with id strictly less than keepFromID.
// Called by the flush manager once a segment's covering log range has been
// durably flushed.
func Truncate(dir string, keepFromID uint64) error {
	ids, err := listLogIDs(dir)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id < keepFromID {
			if err := os.Remove(logPath(dir, id)); err != nil && !os.IsNotExist(err) {
				return coreerrors.NewStorageError(err, coreerrors.ErrorCodeIO, "failed to remove reclaimed wal segment").
					WithPath(logPath(dir, id)).WithSegmentID(int(id))
			}
		}
	}
	return nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
