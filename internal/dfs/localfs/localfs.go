// Package localfs implements dfs.Filesystem against the local disk, for
// single-node development and the test suite. Directory listing uses
// karrick/godirwalk, which avoids the extra stat() per entry that
// os.ReadDir issues on most platforms.
package localfs

import (
	"context"
	"os"
	"path/filepath"

	"github.com/karrick/godirwalk"

	"github.com/hypertable-go/rangeserver/internal/dfs"
)

// FS is a dfs.Filesystem rooted at a local directory.
type FS struct {
	root string
}

// New returns a local filesystem backend rooted at root. root is created
// if it does not already exist.
func New(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FS{root: root}, nil
}

func (f *FS) resolve(path string) string {
	return filepath.Join(f.root, filepath.Clean("/"+path))
}

var _ dfs.Filesystem = (*FS)(nil)

func (f *FS) Open(_ context.Context, path string) (dfs.ReadFile, error) {
	fh, err := os.Open(f.resolve(path))
	if err != nil {
		return nil, err
	}
	return fh, nil
}

func (f *FS) Create(_ context.Context, path string, flags dfs.FileFlags) (dfs.WriteFile, error) {
	full := f.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}
	mode := os.O_WRONLY | os.O_CREATE
	switch {
	case flags&dfs.FlagAppend != 0:
		mode |= os.O_APPEND
	case flags&dfs.FlagOverwrite != 0:
		mode |= os.O_TRUNC
	default:
		mode |= os.O_EXCL
	}
	fh, err := os.OpenFile(full, mode, 0o644)
	if err != nil {
		return nil, err
	}
	return &file{fh}, nil
}

func (f *FS) Mkdirs(_ context.Context, path string) error {
	return os.MkdirAll(f.resolve(path), 0o755)
}

func (f *FS) Remove(_ context.Context, path string) error {
	err := os.RemoveAll(f.resolve(path))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (f *FS) Rename(_ context.Context, oldPath, newPath string) error {
	full := f.resolve(newPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.Rename(f.resolve(oldPath), full)
}

func (f *FS) Readdir(_ context.Context, path string) ([]string, error) {
	names, err := godirwalk.ReadDirnames(f.resolve(path), nil)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return names, nil
}

func (f *FS) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(f.resolve(path))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (f *FS) Length(_ context.Context, path string) (int64, error) {
	st, err := os.Stat(f.resolve(path))
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

type file struct {
	*os.File
}

func (w *file) Flush() error { return nil }
func (w *file) Sync() error  { return w.File.Sync() }
func (w *file) Tell() (int64, error) {
	return w.File.Seek(0, os.SEEK_CUR)
}
