package heuristic_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/substrate/pkg/insight/heuristic"
	"github.com/papercomputeco/substrate/pkg/packet"
)

var _ = Describe("Extractor", func() {
	var (
		extractor *heuristic.Extractor
		ctx       context.Context
	)

	BeforeEach(func() {
		extractor = heuristic.NewExtractor()
		ctx = context.Background()
	})

	extract := func(payload map[string]any) []packet.Statement {
		env, err := packet.New("note", payload)
		Expect(err).NotTo(HaveOccurred())

		insights, err := extractor.Extract(ctx, env)
		Expect(err).NotTo(HaveOccurred())

		stmts := make([]packet.Statement, 0, len(insights))
		for _, in := range insights {
			stmts = append(stmts, in.Statement)
		}
		return stmts
	}

	It("extracts an explicit statement object with high confidence", func() {
		env, err := packet.New("note", map[string]any{
			"statement": map[string]any{
				"subject":   "user",
				"predicate": "prefers",
				"object":    "dark mode",
			},
		})
		Expect(err).NotTo(HaveOccurred())

		insights, err := extractor.Extract(ctx, env)
		Expect(err).NotTo(HaveOccurred())
		Expect(insights).To(HaveLen(1))
		Expect(insights[0].Statement).To(Equal(packet.Statement{
			Subject:   "user",
			Predicate: "prefers",
			Object:    "dark mode",
		}))
		Expect(insights[0].Confidence).To(Equal(0.9))
	})

	It("ignores an incomplete statement object", func() {
		stmts := extract(map[string]any{
			"statement": map[string]any{
				"subject":   "user",
				"predicate": "prefers",
			},
		})
		Expect(stmts).To(BeEmpty())
	})

	It("matches a copula sentence with low confidence", func() {
		env, err := packet.New("note", map[string]any{
			"text": "Redis is the session store",
		})
		Expect(err).NotTo(HaveOccurred())

		insights, err := extractor.Extract(ctx, env)
		Expect(err).NotTo(HaveOccurred())
		Expect(insights).To(HaveLen(1))
		Expect(insights[0].Statement).To(Equal(packet.Statement{
			Subject:   "Redis",
			Predicate: "is",
			Object:    "the session store",
		}))
		Expect(insights[0].Confidence).To(Equal(0.5))
	})

	It("splits prose into sentences before matching", func() {
		stmts := extract(map[string]any{
			"text": "Deploys were slow today. Postgres is the bottleneck. We should look closer",
		})
		Expect(stmts).To(ConsistOf(packet.Statement{
			Subject:   "Postgres",
			Predicate: "is",
			Object:    "the bottleneck",
		}))
	})

	It("rejects multi-word subjects", func() {
		stmts := extract(map[string]any{
			"text": "the staging cluster is broken",
		})
		Expect(stmts).To(BeEmpty())
	})

	It("rejects a trailing copula", func() {
		stmts := extract(map[string]any{
			"text": "whatever it is",
		})
		Expect(stmts).To(BeEmpty())
	})

	It("combines explicit and pattern matches", func() {
		stmts := extract(map[string]any{
			"statement": map[string]any{
				"subject":   "cache",
				"predicate": "expires",
				"object":    "hourly",
			},
			"text": "Varnish is the cache layer",
		})
		Expect(stmts).To(HaveLen(2))
	})

	It("returns nothing for non-string payloads", func() {
		stmts := extract(map[string]any{
			"count": 42,
			"ok":    true,
		})
		Expect(stmts).To(BeEmpty())
	})
})
