package rng

import (
	"context"
	"testing"
	"time"

	"github.com/hypertable-go/rangeserver/internal/accessgroup"
	"github.com/hypertable-go/rangeserver/internal/commitlog"
	"github.com/hypertable-go/rangeserver/internal/dfs/localfs"
	"github.com/hypertable-go/rangeserver/internal/keyspace"
)

func newTestRange(t *testing.T) *Range {
	t.Helper()
	ctx := context.Background()
	fs, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}
	log, err := commitlog.Open(ctx, fs, "/log", 1<<20)
	if err != nil {
		t.Fatalf("commitlog.Open: %v", err)
	}
	r := New("r1", keyspace.RowRange{TableID: "t", StartRow: nil, EndRow: keyspace.MaxRow}, log)
	ag, err := accessgroup.New(ctx, "default", fs, "/ag")
	if err != nil {
		t.Fatalf("accessgroup.New: %v", err)
	}
	r.AddAccessGroup("default", ag)
	return r
}

func autoMutation(row string) Mutation {
	return Mutation{
		Key: &keyspace.Key{
			Row:             []byte(row),
			ColumnFamilyID:  0,
			ColumnQualifier: []byte("q"),
			Flag:            keyspace.FlagInsert,
			Ctrl:            keyspace.AutoTimestamp,
		},
		Value: keyspace.Value("v"),
	}
}

func TestAutoRevisionMonotonicAndAtLeastWallClock(t *testing.T) {
	r := newTestRange(t)
	ctx := context.Background()

	before := uint64(time.Now().UnixNano() / int64(time.Microsecond))
	m1 := autoMutation("a")
	if err := r.Update(ctx, 0, 0, []Mutation{m1}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if m1.Key.Revision < before {
		t.Fatalf("auto revision %d assigned below wall-clock floor %d", m1.Key.Revision, before)
	}
	if m1.Key.Timestamp != m1.Key.Revision {
		t.Fatalf("AUTO_TIMESTAMP insert must share timestamp and revision, got ts=%d rev=%d",
			m1.Key.Timestamp, m1.Key.Revision)
	}

	m2 := autoMutation("b")
	if err := r.Update(ctx, 0, 0, []Mutation{m2}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if m2.Key.Revision <= m1.Key.Revision {
		t.Fatalf("second auto revision %d did not advance past first %d", m2.Key.Revision, m1.Key.Revision)
	}
}

func TestTwoRangesNeverShareAnAutoRevisionOfOne(t *testing.T) {
	r1 := newTestRange(t)
	ctx := context.Background()

	m := autoMutation("a")
	if err := r1.Update(ctx, 0, 0, []Mutation{m}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if m.Key.Revision == 1 {
		t.Fatalf("a freshly loaded range's first auto-revision must not be the bare counter value 1, got %d", m.Key.Revision)
	}
}

func TestClockSkewRejectsRegressedAutoRevision(t *testing.T) {
	r := newTestRange(t)
	ctx := context.Background()

	r.lastRevision = uint64(time.Now().UnixNano()/int64(time.Microsecond)) + uint64(time.Hour/time.Microsecond)

	m := autoMutation("a")
	err := r.Update(ctx, 0, time.Second, []Mutation{m})
	if err == nil {
		t.Fatalf("expected CLOCK_SKEW when the server clock is far behind latest_range_revision")
	}
}
