package cellcache

import (
	"testing"

	"github.com/hypertable-go/rangeserver/internal/keyspace"
)

func TestSetGet(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if err := c.Set([]byte("row1\x00key"), []byte("value1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := c.Get([]byte("row1\x00key"))
	if err != nil || !ok {
		t.Fatalf("Get: v=%v ok=%v err=%v", v, ok, err)
	}
	if string(v) != "value1" {
		t.Errorf("got %q", v)
	}
}

func TestScanOrdering(t *testing.T) {
	c, _ := New()
	defer c.Close()

	for _, k := range []string{"c", "a", "b"} {
		_ = c.Set([]byte(k), []byte(k+"-val"))
	}
	var got []string
	_ = c.Scan(nil, nil, func(k []byte, v keyspace.Value) bool {
		got = append(got, string(k))
		return true
	})
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("scan order = %v, want %v", got, want)
		}
	}
}

func TestFreezeRejectsWrites(t *testing.T) {
	c, _ := New()
	defer c.Close()

	c.Freeze()
	if !c.Frozen() {
		t.Fatal("expected Frozen() to be true after Freeze")
	}
	if err := c.Set([]byte("k"), []byte("v")); err == nil {
		t.Fatal("expected Set on a frozen cache to fail")
	}
}

func TestMemoryUsageTracksWrites(t *testing.T) {
	c, _ := New()
	defer c.Close()

	if c.MemoryUsage() != 0 {
		t.Fatal("expected zero memory usage on an empty cache")
	}
	_ = c.Set([]byte("key"), []byte("value"))
	if c.MemoryUsage() == 0 {
		t.Fatal("expected nonzero memory usage after a write")
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}
