// Package e2e runs the range server's core storage/scan/split/recovery
// contract end to end against internal/rangeserver.Server directly
// (skipping the wire protocol, which internal/rangeserver/conn_test.go
// already exercises on its own), covering spec.md §8's scenarios S1-S6.
// Grounded on the ginkgo/gomega suite style the retrieval pack's
// aistore fuse/fs package uses for its own scenario-driven tests.
package e2e

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestE2E(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "RangeServer E2E Suite")
}
