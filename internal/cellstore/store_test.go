package cellstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/hypertable-go/rangeserver/internal/dfs/localfs"
)

func TestWriteAndScanRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}

	w, err := NewWriter(ctx, fs, "/store/cs1", 100)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	var keys [][]byte
	for i := 0; i < 50; i++ {
		k := []byte(fmt.Sprintf("row-%03d", i))
		keys = append(keys, k)
		if err := w.Add(k, []byte(fmt.Sprintf("value-%d", i))); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	r, err := OpenReader(ctx, fs, "/store/cs1")
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	if r.KeyCount() != 50 {
		t.Fatalf("KeyCount = %d, want 50", r.KeyCount())
	}
	for _, k := range keys {
		if !r.MayContain(k) {
			t.Errorf("MayContain(%q) = false, want true", k)
		}
	}
	if r.MayContain([]byte("definitely-not-present-xyz")) {
		t.Log("false positive from cuckoo filter (acceptable, just noting)")
	}

	var got []string
	err = r.Scan(nil, nil, func(k, v []byte) bool {
		got = append(got, string(k))
		return true
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 50 {
		t.Fatalf("scanned %d cells, want 50", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Fatalf("scan not in ascending order at %d: %q >= %q", i, got[i-1], got[i])
		}
	}
}

func TestScanRespectsRange(t *testing.T) {
	ctx := context.Background()
	fs, _ := localfs.New(t.TempDir())
	w, err := NewWriter(ctx, fs, "/store/cs2", 20)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i := 0; i < 20; i++ {
		k := []byte(fmt.Sprintf("k%02d", i))
		if err := w.Add(k, []byte("v")); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	r, err := OpenReader(ctx, fs, "/store/cs2")
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	var got []string
	err = r.Scan([]byte("k05"), []byte("k10"), func(k, v []byte) bool {
		got = append(got, string(k))
		return true
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 keys in [k05,k10), got %d: %v", len(got), got)
	}
}
