package e2e

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	rootrs "github.com/hypertable-go/rangeserver"
	"github.com/hypertable-go/rangeserver/internal/keyspace"
	"github.com/hypertable-go/rangeserver/internal/rng"
)

var _ = Describe("S1 basic put/get", func() {
	It("returns the cell just written", func() {
		ctx := context.Background()
		fs := rootrs.NewMockFilesystem()
		srv := newTestServer(ctx, testConfig(), fs)
		defer srv.Close()

		mustLoadRange(ctx, srv, "users", "r0", nil, []byte("m"), "default")

		err := srv.Update(ctx, "users", "r0", []rng.Mutation{
			insertMutation("alice", "age", 1, "30"),
		}, true)
		Expect(err).NotTo(HaveOccurred())

		_, block, err := srv.CreateScanner(ctx, "users", "r0", rng.ScanSpec{
			StartRow: []byte("alice"),
			EndRow:   keyspace.MaxRow,
			MaxRows:  10,
		}, 100)
		Expect(err).NotTo(HaveOccurred())

		Expect(block.Cells).To(HaveLen(1))
		Expect(string(block.Cells[0].Key.Row)).To(Equal("alice"))
		Expect(string(block.Cells[0].Key.ColumnQualifier)).To(Equal("age"))
		Expect(string(block.Cells[0].Value)).To(Equal("30"))
	})
})
