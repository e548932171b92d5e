// Package hdfsfs implements dfs.Filesystem on top of HDFS via
// colinmarc/hdfs, the deployment most Hypertable-style installs actually
// use for the commit log and cell stores, since HDFS (unlike S3) supports
// true append and the strong read-your-writes ordering the commit log
// depends on for replay.
package hdfsfs

import (
	"context"
	"os"

	"github.com/colinmarc/hdfs/v2"

	"github.com/hypertable-go/rangeserver/internal/dfs"
)

// FS is a dfs.Filesystem backed by an HDFS client.
type FS struct {
	client *hdfs.Client
}

// New wraps an existing HDFS client, constructed via hdfs.NewClient with
// the namenode address and Kerberos options the deployment requires.
func New(client *hdfs.Client) *FS {
	return &FS{client: client}
}

var _ dfs.Filesystem = (*FS)(nil)

func (f *FS) Open(_ context.Context, path string) (dfs.ReadFile, error) {
	return f.client.Open(path)
}

func (f *FS) Create(_ context.Context, path string, flags dfs.FileFlags) (dfs.WriteFile, error) {
	if flags&dfs.FlagAppend != 0 {
	w, err := f.client.Append(path)
		if err != nil {
			return nil, err
		}
		pos := int64(0)
		if st, statErr := f.client.Stat(path); statErr == nil {
			pos = st.Size()
		}
		return &writeFile{w: w, pos: pos}, nil
	}
	if flags&dfs.FlagOverwrite != 0 {
		_ = f.client.Remove(path)
	}
	w, err := f.client.Create(path)
	if err != nil {
		return nil, err
	}
	return &writeFile{w: w}, nil
}

func (f *FS) Mkdirs(_ context.Context, path string) error {
	return f.client.MkdirAll(path, 0o755)
}

func (f *FS) Remove(_ context.Context, path string) error {
	err := f.client.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (f *FS) Rename(_ context.Context, oldPath, newPath string) error {
	return f.client.Rename(oldPath, newPath)
}

func (f *FS) Readdir(_ context.Context, path string) ([]string, error) {
	entries, err := f.client.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

func (f *FS) Exists(_ context.Context, path string) (bool, error) {
	_, err := f.client.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (f *FS) Length(_ context.Context, path string) (int64, error) {
	st, err := f.client.Stat(path)
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

type writeFile struct {
	w   *hdfs.FileWriter
	pos int64
}

func (f *writeFile) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	f.pos += int64(n)
	return n, err
}
func (f *writeFile) Close() error        { return f.w.Close() }
func (f *writeFile) Flush() error        { return f.w.Flush() }
func (f *writeFile) Sync() error         { return f.w.Flush() }
func (f *writeFile) Tell() (int64, error) { return f.pos, nil }
