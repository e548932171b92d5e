package rangeserver

import (
	"context"
	"testing"
)

// Tests use the public MockFilesystem from testing.go.

func TestMockFilesystemWriteThenRead(t *testing.T) {
	ctx := context.Background()
	fs := NewMockFilesystem()

	wf, err := fs.Create(ctx, "/a/b.dat", 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := wf.Write([]byte("hello world")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := wf.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rf, err := fs.Open(ctx, "/a/b.dat")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rf.Close()

	buf := make([]byte, 5)
	n, err := rf.ReadAt(buf, 6)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != 5 || string(buf) != "world" {
		t.Errorf("ReadAt got %q, want %q", buf[:n], "world")
	}

	if n := fs.CallCounts()["create"]; n != 1 {
		t.Errorf("expected 1 create call, got %d", n)
	}
}

func TestMockFilesystemExistsAndLength(t *testing.T) {
	ctx := context.Background()
	fs := NewMockFilesystem()

	if ok, _ := fs.Exists(ctx, "/missing"); ok {
		t.Error("expected /missing to not exist")
	}

	wf, _ := fs.Create(ctx, "/x", 0)
	_, _ = wf.Write([]byte("1234"))
	_ = wf.Close()

	ok, err := fs.Exists(ctx, "/x")
	if err != nil || !ok {
		t.Fatalf("expected /x to exist, err=%v", err)
	}
	n, err := fs.Length(ctx, "/x")
	if err != nil || n != 4 {
		t.Errorf("Length() = %d, %v, want 4, nil", n, err)
	}
}

func TestMockFilesystemRename(t *testing.T) {
	ctx := context.Background()
	fs := NewMockFilesystem()

	wf, _ := fs.Create(ctx, "/old", 0)
	_, _ = wf.Write([]byte("data"))
	_ = wf.Close()

	if err := fs.Rename(ctx, "/old", "/new"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if ok, _ := fs.Exists(ctx, "/old"); ok {
		t.Error("expected /old to be gone after rename")
	}
	if ok, _ := fs.Exists(ctx, "/new"); !ok {
		t.Error("expected /new to exist after rename")
	}
}

func TestMockFilesystemReaddir(t *testing.T) {
	ctx := context.Background()
	fs := NewMockFilesystem()

	for _, p := range []string{"/dir/a", "/dir/b", "/dir/sub/c"} {
		wf, _ := fs.Create(ctx, p, 0)
		_ = wf.Close()
	}

	names, err := fs.Readdir(ctx, "/dir")
	if err != nil {
		t.Fatalf("Readdir: %v", err)
	}
	want := map[string]bool{"a": true, "b": true, "sub": true}
	if len(names) != len(want) {
		t.Fatalf("Readdir got %v, want 3 entries", names)
	}
	for _, n := range names {
		if !want[n] {
			t.Errorf("unexpected entry %q", n)
		}
	}
}
