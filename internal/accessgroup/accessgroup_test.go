package accessgroup

import (
	"context"
	"fmt"
	"testing"

	"github.com/hypertable-go/rangeserver/internal/cellstore"
	"github.com/hypertable-go/rangeserver/internal/dfs/localfs"
	"github.com/hypertable-go/rangeserver/internal/keyspace"
)

func TestApplyAndScanLiveOnly(t *testing.T) {
	ctx := context.Background()
	fs, _ := localfs.New(t.TempDir())
	g, err := New(ctx, "default", fs, "/ag1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()

	for i := 0; i < 5; i++ {
		k := []byte(fmt.Sprintf("row-%d", i))
		if err := g.Apply(k, []byte("v")); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}

	var got int
	err = g.Scan(ctx, nil, nil, func(k, v []byte) bool {
		got++
		return true
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if got != 5 {
		t.Fatalf("scanned %d cells, want 5", got)
	}
}

func TestMinorCompactionMovesDataToStore(t *testing.T) {
	ctx := context.Background()
	fs, _ := localfs.New(t.TempDir())
	g, err := New(ctx, "default", fs, "/ag2")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()

	for i := 0; i < 10; i++ {
		k := []byte(fmt.Sprintf("k%02d", i))
		if err := g.Apply(k, []byte("v")); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}

	frozen, err := g.BeginMinorCompaction()
	if err != nil {
		t.Fatalf("BeginMinorCompaction: %v", err)
	}

	// New writes should land in the fresh live cache, not the frozen one.
	if err := g.Apply([]byte("k99"), []byte("v")); err != nil {
		t.Fatalf("Apply after freeze: %v", err)
	}

	storePath := g.NextStorePath()
	w, err := cellstore.NewWriter(ctx, fs, storePath, 20)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := frozen.Scan(nil, nil, func(k []byte, v keyspace.Value) bool {
		if err := w.Add(k, v); err != nil {
			t.Fatalf("Writer.Add: %v", err)
		}
		return true
	}); err != nil {
		t.Fatalf("frozen.Scan: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := g.FinishMinorCompaction(ctx, storePath); err != nil {
		t.Fatalf("FinishMinorCompaction: %v", err)
	}

	if g.StoreCount() != 1 {
		t.Fatalf("StoreCount = %d, want 1", g.StoreCount())
	}

	var got int
	err = g.Scan(ctx, nil, nil, func(k, v []byte) bool {
		got++
		return true
	})
	if err != nil {
		t.Fatalf("Scan after compaction: %v", err)
	}
	if got != 11 { // 10 original + k99 written after the freeze
		t.Fatalf("scanned %d cells after compaction, want 11", got)
	}
}

func TestStoreCountStartsAtZero(t *testing.T) {
	ctx := context.Background()
	fs, _ := localfs.New(t.TempDir())
	g, err := New(ctx, "default", fs, "/ag3")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()

	if g.StoreCount() != 0 {
		t.Fatalf("StoreCount = %d, want 0", g.StoreCount())
	}
}
