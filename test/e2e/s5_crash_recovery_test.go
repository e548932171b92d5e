package e2e

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	rootrs "github.com/hypertable-go/rangeserver"
	"github.com/hypertable-go/rangeserver/internal/keyspace"
	"github.com/hypertable-go/rangeserver/internal/rng"
)

var _ = Describe("S5 crash recovery", func() {
	It("replays the durable commit log into a fresh server's cell cache after a restart", func() {
		ctx := context.Background()
		cfg := testConfig()
		fs := rootrs.NewMockFilesystem() // shared across the "crash", standing in for durable storage surviving the restart

		first := newTestServer(ctx, cfg, fs)
		mustLoadRange(ctx, first, "users", "r0", nil, []byte("m"), "default")

		err := first.Update(ctx, "users", "r0", []rng.Mutation{
			insertMutation("carol", "age", 1, "42"),
		}, true) // sync=true: the commit log fragment is durable before Update returns
		Expect(err).NotTo(HaveOccurred())

		// Simulate a crash: drop the process's in-memory state without a
		// graceful drain, then start a fresh Server over the same
		// filesystem as a restart would.
		Expect(first.Close()).To(Succeed())

		second := newTestServer(ctx, cfg, fs)
		defer second.Close()

		_, block, err := second.CreateScanner(ctx, "users", "r0", rng.ScanSpec{
			StartRow: []byte("carol"),
			EndRow:   keyspace.MaxRow,
		}, 100)
		Expect(err).NotTo(HaveOccurred())
		Expect(block.Cells).To(HaveLen(1))
		Expect(string(block.Cells[0].Value)).To(Equal("42"))
	})
})
