package e2e

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	rootrs "github.com/hypertable-go/rangeserver"
	"github.com/hypertable-go/rangeserver/internal/rng"
	"github.com/hypertable-go/rangeserver/internal/rserrors"
)

var _ = Describe("S2 out of range", func() {
	It("rejects a mutation whose row falls outside the range's bounds", func() {
		ctx := context.Background()
		fs := rootrs.NewMockFilesystem()
		srv := newTestServer(ctx, testConfig(), fs)
		defer srv.Close()

		mustLoadRange(ctx, srv, "users", "r0", nil, []byte("m"), "default")

		err := srv.Update(ctx, "users", "r0", []rng.Mutation{
			insertMutation("zeta", "age", 1, "9"),
		}, true)

		Expect(err).To(HaveOccurred())
		Expect(rserrors.IsValidation(err, rserrors.ValidationOutOfRange)).To(BeTrue())
	})
})
