package e2e

import (
	"context"
	"time"

	rootrs "github.com/hypertable-go/rangeserver"
	"github.com/hypertable-go/rangeserver/internal/config"
	"github.com/hypertable-go/rangeserver/internal/keyspace"
	rs "github.com/hypertable-go/rangeserver/internal/rangeserver"
	"github.com/hypertable-go/rangeserver/internal/rng"
)

// testConfig returns a Config small enough to exercise split/compaction
// thresholds within one scenario's handful of rows, rooted at an
// in-memory filesystem path.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.DataDirectory = "/data"
	cfg.AccessGroup.MaxFiles = 3
	cfg.AccessGroup.MergeFiles = 2
	cfg.Range.SplitSize = 1 << 20
	return cfg
}

// newTestServer starts a Server against a fresh in-memory filesystem.
// Recovery against an empty (or previously populated) filesystem runs in
// its own goroutine; every call that needs it done (Update, CreateScanner)
// blocks on the matching recovery latch internally, so callers don't need
// to synchronize on it explicitly.
func newTestServer(ctx context.Context, cfg *config.Config, fs *rootrs.MockFilesystem) *rs.Server {
	srv, err := rs.New(ctx, cfg, fs, nil)
	Expect(err).NotTo(HaveOccurred())
	return srv
}

func mustLoadRange(ctx context.Context, srv *rs.Server, tableID, rangeID string, start, end []byte, groups ...string) *rng.Range {
	bounds := keyspace.RowRange{TableID: tableID, StartRow: start, EndRow: end}
	r, err := srv.LoadRange(ctx, bounds, rangeID, 1, groups)
	Expect(err).NotTo(HaveOccurred())
	return r
}

func insertMutation(row, cq string, cfID byte, value string) rng.Mutation {
	return rng.Mutation{
		Key: &keyspace.Key{
			Row:             []byte(row),
			ColumnFamilyID:  cfID,
			ColumnQualifier: []byte(cq),
			Flag:            keyspace.FlagInsert,
			Ctrl:            keyspace.AutoTimestamp,
		},
		Value: keyspace.Value(value),
	}
}

func explicitMutation(row, cq string, cfID byte, value string, revision uint64) rng.Mutation {
	return rng.Mutation{
		Key: &keyspace.Key{
			Row:             []byte(row),
			ColumnFamilyID:  cfID,
			ColumnQualifier: []byte(cq),
			Flag:            keyspace.FlagInsert,
			Timestamp:       uint64(time.Now().UnixNano()),
			Revision:        revision,
		},
		Value: keyspace.Value(value),
	}
}
