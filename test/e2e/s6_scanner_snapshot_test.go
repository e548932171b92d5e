package e2e

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	rootrs "github.com/hypertable-go/rangeserver"
	"github.com/hypertable-go/rangeserver/internal/keyspace"
	"github.com/hypertable-go/rangeserver/internal/rng"
)

var _ = Describe("S6 scanner snapshot", func() {
	It("keeps an open scanner's view fixed at its revision ceiling while new scanners see later writes", func() {
		ctx := context.Background()
		fs := rootrs.NewMockFilesystem()
		srv := newTestServer(ctx, testConfig(), fs)
		defer srv.Close()

		mustLoadRange(ctx, srv, "users", "r0", nil, []byte("m"), "default")

		first := insertMutation("dave", "age", 1, "old")
		err := srv.Update(ctx, "users", "r0", []rng.Mutation{first}, true)
		Expect(err).NotTo(HaveOccurred())
		ceiling := first.Key.Revision
		Expect(ceiling).NotTo(BeZero())

		scannerA, blockA, err := srv.CreateScanner(ctx, "users", "r0", rng.ScanSpec{
			StartRow:        []byte("dave"),
			EndRow:          keyspace.MaxRow,
			RevisionCeiling: ceiling,
		}, 100)
		Expect(err).NotTo(HaveOccurred())
		defer srv.DestroyScanner(scannerA)
		Expect(blockA.Cells).To(HaveLen(1))
		Expect(string(blockA.Cells[0].Value)).To(Equal("old"))

		second := insertMutation("dave2", "age", 1, "new")
		err = srv.Update(ctx, "users", "r0", []rng.Mutation{second}, true)
		Expect(err).NotTo(HaveOccurred())

		// Scanner A's snapshot was fixed at ceiling: draining it further
		// must not surface the post-update row.
		moreA, err := srv.FetchScanblock(scannerA, 100)
		Expect(err).NotTo(HaveOccurred())
		Expect(moreA.Cells).To(BeEmpty())
		Expect(moreA.More).To(BeFalse())

		_, blockB, err := srv.CreateScanner(ctx, "users", "r0", rng.ScanSpec{
			StartRow: []byte("dave"),
			EndRow:   keyspace.MaxRow,
		}, 100)
		Expect(err).NotTo(HaveOccurred())
		Expect(blockB.Cells).To(HaveLen(2))
	})
})
