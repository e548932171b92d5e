// Package s3fs implements dfs.Filesystem on top of S3, for range servers
// deployed without a colocated HDFS cluster. Writes buffer in memory and
// upload on Close/Sync via the S3 transfer manager, since S3 has no
// append semantics; the commit log's rolling-file design means those
// buffers stay bounded by the log's roll size rather than growing
// unbounded.
package s3fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/hypertable-go/rangeserver/internal/dfs"
)

// FS is a dfs.Filesystem backed by one S3 bucket and key prefix.
type FS struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// New wraps an existing S3 client. Callers construct the client (region,
// credentials, endpoint override for S3-compatible stores) with
// config.LoadDefaultConfig, matching how the rest of the pack wires the
// AWS SDK's config package.
func New(client *s3.Client, bucket, prefix string) *FS {
	return &FS{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
	}
}

var _ dfs.Filesystem = (*FS)(nil)

func (f *FS) key(path string) string {
	p := strings.TrimPrefix(path, "/")
	if f.prefix == "" {
		return p
	}
	return f.prefix + "/" + p
}

func (f *FS) Open(ctx context.Context, path string) (dfs.ReadFile, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key(path)),
	})
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(out.Body)
	_ = out.Body.Close()
	if err != nil {
		return nil, err
	}
	return &readFile{r: bytes.NewReader(data)}, nil
}

func (f *FS) Create(ctx context.Context, path string, flags dfs.FileFlags) (dfs.WriteFile, error) {
	if flags&dfs.FlagAppend != 0 {
		return nil, fmt.Errorf("s3fs: append mode is not supported, object storage has no append operation")
	}
	return &writeFile{ctx: ctx, fs: f, key: f.key(path), buf: &bytes.Buffer{}}, nil
}

func (f *FS) Mkdirs(context.Context, string) error { return nil } // S3 has no directories

func (f *FS) Remove(ctx context.Context, path string) error {
	_, err := f.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key(path)),
	})
	return err
}

func (f *FS) Rename(ctx context.Context, oldPath, newPath string) error {
	src := f.bucket + "/" + f.key(oldPath)
	_, err := f.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(f.bucket),
		CopySource: aws.String(src),
		Key:        aws.String(f.key(newPath)),
	})
	if err != nil {
		return err
	}
	return f.Remove(ctx, oldPath)
}

func (f *FS) Readdir(ctx context.Context, path string) ([]string, error) {
	prefix := f.key(path)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	out, err := f.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(f.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	if err != nil {
		return nil, err
	}
	var names []string
	for _, o := range out.Contents {
		names = append(names, strings.TrimPrefix(aws.ToString(o.Key), prefix))
	}
	for _, cp := range out.CommonPrefixes {
		names = append(names, strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/"))
	}
	return names, nil
}

func (f *FS) Exists(ctx context.Context, path string) (bool, error) {
	_, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key(path)),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (f *FS) Length(ctx context.Context, path string) (int64, error) {
	out, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key(path)),
	})
	if err != nil {
		return 0, err
	}
	return out.ContentLength, nil
}

type readFile struct {
	r *bytes.Reader
}

func (rf *readFile) Read(p []byte) (int, error)               { return rf.r.Read(p) }
func (rf *readFile) ReadAt(p []byte, off int64) (int, error)  { return rf.r.ReadAt(p, off) }
func (rf *readFile) Close() error                             { return nil }

type writeFile struct {
	ctx context.Context
	fs  *FS
	key string
	buf *bytes.Buffer
}

func (w *writeFile) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *writeFile) Flush() error                { return nil }

func (w *writeFile) Tell() (int64, error) {
	return int64(w.buf.Len()), nil
}

func (w *writeFile) Sync() error {
	_, err := w.fs.uploader.Upload(w.ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.fs.bucket),
		Key:    aws.String(w.key),
		Body:   bytes.NewReader(w.buf.Bytes()),
	})
	return err
}

func (w *writeFile) Close() error {
	return w.Sync()
}
