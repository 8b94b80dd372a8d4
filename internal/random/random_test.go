package random_test

import (
	"strings"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/kvcheck/internal/random"
)

func onlyLetters(b []byte) {
	for _, c := range b {
		ExpectWithOffset(1, strings.IndexByte(random.Letters, c)).To(BeNumerically(">=", 0), "unexpected byte %q", c)
	}
}

var _ = Describe("Generator", func() {
	It("draws from upper and lower case letters", func() {
		Expect(random.Letters).To(HaveLen(52))
	})

	It("returns the requested number of letters", func() {
		gen := random.New(0)

		for _, length := range []int{1, 20, 1024, 8192} {
			b := gen.Bytes(length)
			Expect(b).To(HaveLen(length))
			onlyLetters(b)
		}
	})

	It("returns nothing for zero or negative lengths", func() {
		gen := random.New(0)

		Expect(gen.Bytes(0)).To(BeEmpty())
		Expect(gen.Bytes(-1)).To(BeEmpty())
		Expect(gen.String(0)).To(Equal(""))
	})

	It("repeats a run for the same seed", func() {
		a := random.New(42)
		b := random.New(42)

		for i := 0; i < 10; i++ {
			Expect(a.String(20)).To(Equal(b.String(20)))
		}
	})

	It("returns fresh values on every call", func() {
		gen := random.New(7)

		Expect(gen.String(20)).NotTo(Equal(gen.String(20)))
	})
})
