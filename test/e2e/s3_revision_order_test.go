package e2e

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	rootrs "github.com/hypertable-go/rangeserver"
	"github.com/hypertable-go/rangeserver/internal/keyspace"
	"github.com/hypertable-go/rangeserver/internal/rng"
	"github.com/hypertable-go/rangeserver/internal/rserrors"
)

var _ = Describe("S3 revision order", func() {
	It("rejects a batch whose revision moves backwards, keeping the first batch durable", func() {
		ctx := context.Background()
		fs := rootrs.NewMockFilesystem()
		srv := newTestServer(ctx, testConfig(), fs)
		defer srv.Close()

		mustLoadRange(ctx, srv, "users", "r0", nil, []byte("m"), "default")

		err := srv.Update(ctx, "users", "r0", []rng.Mutation{
			explicitMutation("bob", "age", 1, "100-batch", 100),
		}, true)
		Expect(err).NotTo(HaveOccurred())

		err = srv.Update(ctx, "users", "r0", []rng.Mutation{
			explicitMutation("bob", "age", 1, "50-batch", 50),
		}, true)
		Expect(err).To(HaveOccurred())
		Expect(rserrors.IsValidation(err, rserrors.ValidationRevisionOrderError)).To(BeTrue())

		_, block, err := srv.CreateScanner(ctx, "users", "r0", rng.ScanSpec{
			StartRow: []byte("bob"),
			EndRow:   keyspace.MaxRow,
		}, 100)
		Expect(err).NotTo(HaveOccurred())
		Expect(block.Cells).To(HaveLen(1))
		Expect(string(block.Cells[0].Value)).To(Equal("100-batch"))
	})
})
