package e2e

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	rootrs "github.com/hypertable-go/rangeserver"
	"github.com/hypertable-go/rangeserver/internal/keyspace"
	rs "github.com/hypertable-go/rangeserver/internal/rangeserver"
	"github.com/hypertable-go/rangeserver/internal/rng"
	"github.com/hypertable-go/rangeserver/internal/rserrors"
)

var _ = Describe("S4 split", func() {
	It("splits a range at its median row and routes rows to the right half afterward", func() {
		ctx := context.Background()
		cfg := testConfig()
		fs := rootrs.NewMockFilesystem()
		srv := newTestServer(ctx, cfg, fs)
		defer srv.Close()

		mustLoadRange(ctx, srv, "users", "r0", nil, []byte("m"), "default")

		rows := []string{"a", "d", "g", "k", "n"}
		for _, row := range rows {
			err := srv.Update(ctx, "users", "r0", []rng.Mutation{
				insertMutation(row, "age", 1, row+"-val"),
			}, true)
			Expect(err).NotTo(HaveOccurred())
		}

		childID, err := srv.SplitRange(ctx, "users", "r0")
		Expect(err).NotTo(HaveOccurred())
		Expect(childID).To(Equal("r0-hi"))

		snaps := srv.RangeSnapshots()
		var parent, child *rs.RangeSnapshot
		for i := range snaps {
			switch snaps[i].RangeID {
			case "r0":
				parent = &snaps[i]
			case childID:
				child = &snaps[i]
			}
		}
		Expect(parent).NotTo(BeNil())
		Expect(child).NotTo(BeNil())
		Expect(string(parent.Bounds.EndRow)).To(Equal("g"))
		Expect(string(child.Bounds.StartRow)).To(Equal("g"))
		Expect(string(child.Bounds.EndRow)).To(Equal("m"))

		// A row from the split-off half is now out of range on the parent.
		err = srv.Update(ctx, "users", "r0", []rng.Mutation{
			insertMutation("k", "age", 1, "still-there"),
		}, true)
		Expect(err).To(HaveOccurred())
		Expect(rserrors.IsValidation(err, rserrors.ValidationOutOfRange)).To(BeTrue())

		// The same row is servable on the child.
		_, block, err := srv.CreateScanner(ctx, "users", childID, rng.ScanSpec{
			StartRow: []byte("k"),
			EndRow:   keyspace.MaxRow,
		}, 100)
		Expect(err).NotTo(HaveOccurred())
		Expect(block.Cells).To(HaveLen(1))
		Expect(string(block.Cells[0].Key.Row)).To(Equal("k"))
	})
})
