package embedding

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("MockProvider", func() {
	var p *MockProvider

	BeforeEach(func() {
		p = NewMockProvider(64)
	})

	It("produces a vector of the configured length even for empty input", func() {
		vec, err := p.Embed(context.Background(), "")
		Expect(err).ToNot(HaveOccurred())
		Expect(vec).To(HaveLen(64))
	})

	It("is deterministic for the same input", func() {
		v1, err := p.Embed(context.Background(), "powershell.exe -EncodedCommand")
		Expect(err).ToNot(HaveOccurred())
		v2, err := p.Embed(context.Background(), "powershell.exe -EncodedCommand")
		Expect(err).ToNot(HaveOccurred())
		Expect(v1).To(Equal(v2))
	})

	It("produces different vectors for different input", func() {
		v1, _ := p.Embed(context.Background(), "alice logged in")
		v2, _ := p.Embed(context.Background(), "bob ran mimikatz")
		Expect(v1).ToNot(Equal(v2))
	})
})
