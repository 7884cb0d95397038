package pastis_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestPastis(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Pastis Suite")
}
