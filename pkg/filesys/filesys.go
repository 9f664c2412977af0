// Package filesys provides the small set of filesystem helpers the storage
// engine shares across its WAL, segment, flush, and compaction layers.
package filesys

import (
	"errors"
	"os"
)

var (
	// ErrIsNotDir is returned when a path expected to be a directory
	// resolves to a file.
	ErrIsNotDir = errors.New("path isn't a directory")
)

// CreateDir creates a directory (and any missing parents) at dirPath with
// the given permissions. When force is false an already-existing path is an
// error; when true it is accepted, but a file at the path never is.
func CreateDir(dirPath string, permission os.FileMode, force bool) error {
	stat, err := os.Stat(dirPath)
	if !force {
		if err == nil {
			return &os.PathError{Op: "mkdir", Path: dirPath, Err: os.ErrExist}
		}
		if !os.IsNotExist(err) {
			return err
		}
	}
	if stat != nil && !stat.IsDir() {
		return ErrIsNotDir
	}
	return os.MkdirAll(dirPath, permission)
}

// DeleteDir removes a directory and all its contents.
func DeleteDir(path string) error {
	return os.RemoveAll(path)
}

// Exists reports whether a file or directory exists at path. The error is
// non-nil only for failures other than absence.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// SyncDir fsyncs a directory so renames and file creations inside it are
// durable before dependent metadata (the segment index) covers them.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
