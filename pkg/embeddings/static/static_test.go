package static_test

import (
	"context"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/substrate/pkg/embeddings/static"
)

var _ = Describe("Embedder", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("produces vectors of the configured width", func() {
		e := static.NewEmbedder(128)
		vec, err := e.Embed(ctx, "some text")
		Expect(err).NotTo(HaveOccurred())
		Expect(vec).To(HaveLen(128))
	})

	It("falls back to the default width", func() {
		e := static.NewEmbedder(0)
		vec, err := e.Embed(ctx, "some text")
		Expect(err).NotTo(HaveOccurred())
		Expect(vec).To(HaveLen(static.DefaultDimensions))
	})

	It("is deterministic for identical text", func() {
		e := static.NewEmbedder(64)
		a, err := e.Embed(ctx, "the same sentence")
		Expect(err).NotTo(HaveOccurred())
		b, err := e.Embed(ctx, "the same sentence")
		Expect(err).NotTo(HaveOccurred())
		Expect(a).To(Equal(b))
	})

	It("maps different text to different vectors", func() {
		e := static.NewEmbedder(64)
		a, err := e.Embed(ctx, "one sentence")
		Expect(err).NotTo(HaveOccurred())
		b, err := e.Embed(ctx, "another sentence")
		Expect(err).NotTo(HaveOccurred())
		Expect(a).NotTo(Equal(b))
	})

	It("produces unit vectors", func() {
		e := static.NewEmbedder(64)
		vec, err := e.Embed(ctx, "normalize me")
		Expect(err).NotTo(HaveOccurred())

		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		Expect(math.Sqrt(norm)).To(BeNumerically("~", 1.0, 1e-5))
	})

	It("reports a stable model version", func() {
		e := static.NewEmbedder(64)
		Expect(e.ModelVersion()).To(Equal("static/sha256-v1"))
		Expect(e.Close()).To(Succeed())
	})
})
