package memory_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/substrate/pkg/semindex"
	"github.com/papercomputeco/substrate/pkg/semindex/memory"
)

var _ = Describe("Index", func() {
	var (
		idx *memory.Index
		ctx context.Context
	)

	BeforeEach(func() {
		idx = memory.NewIndex()
		ctx = context.Background()
	})

	It("implements semindex.Index", func() {
		var _ semindex.Index = (*memory.Index)(nil)
	})

	Describe("Index", func() {
		It("rejects an empty vector", func() {
			err := idx.Index(ctx, semindex.Document{PacketID: "p1"})
			Expect(err).To(MatchError(semindex.ErrEmptyVector))
		})

		It("upserts by packet id", func() {
			Expect(idx.Index(ctx, semindex.Document{
				PacketID: "p1", Vector: []float32{1, 0}, PacketType: "observation",
			})).To(Succeed())
			Expect(idx.Index(ctx, semindex.Document{
				PacketID: "p1", Vector: []float32{0, 1}, PacketType: "insight",
			})).To(Succeed())

			// Only the updated document remains under the id.
			matches, err := idx.Search(ctx, []float32{0, 1}, 10, semindex.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(matches).To(HaveLen(1))
			Expect(matches[0].PacketID).To(Equal("p1"))
		})
	})

	Describe("Search", func() {
		BeforeEach(func() {
			now := time.Now().UTC()
			Expect(idx.Index(ctx, semindex.Document{
				PacketID: "exact", Vector: []float32{1, 0, 0},
				PacketType: "observation", ThreadID: "t1",
				Tags: []string{"deploy"}, CreatedAt: now,
			})).To(Succeed())
			Expect(idx.Index(ctx, semindex.Document{
				PacketID: "close", Vector: []float32{0.9, 0.1, 0},
				PacketType: "observation", ThreadID: "t2",
				CreatedAt: now.Add(-time.Hour),
			})).To(Succeed())
			Expect(idx.Index(ctx, semindex.Document{
				PacketID: "far", Vector: []float32{0, 0, 1},
				PacketType: "insight", CreatedAt: now.Add(-2 * time.Hour),
			})).To(Succeed())
		})

		It("rejects k <= 0", func() {
			_, err := idx.Search(ctx, []float32{1, 0, 0}, 0, semindex.Filter{})
			Expect(err).To(MatchError(semindex.ErrInvalidK))
		})

		It("rejects an empty query vector", func() {
			_, err := idx.Search(ctx, nil, 3, semindex.Filter{})
			Expect(err).To(MatchError(semindex.ErrEmptyVector))
		})

		It("ranks by descending cosine similarity", func() {
			matches, err := idx.Search(ctx, []float32{1, 0, 0}, 3, semindex.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(matches).To(HaveLen(3))
			Expect(matches[0].PacketID).To(Equal("exact"))
			Expect(matches[1].PacketID).To(Equal("close"))
			Expect(matches[2].PacketID).To(Equal("far"))
			Expect(matches[0].Score).To(BeNumerically(">", matches[1].Score))
		})

		It("limits results to k", func() {
			matches, err := idx.Search(ctx, []float32{1, 0, 0}, 1, semindex.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(matches).To(HaveLen(1))
		})

		It("breaks score ties by most recent envelope first", func() {
			now := time.Now().UTC()
			Expect(idx.Index(ctx, semindex.Document{
				PacketID: "older-twin", Vector: []float32{0, 1, 0},
				PacketType: "note", CreatedAt: now.Add(-time.Hour),
			})).To(Succeed())
			Expect(idx.Index(ctx, semindex.Document{
				PacketID: "newer-twin", Vector: []float32{0, 1, 0},
				PacketType: "note", CreatedAt: now,
			})).To(Succeed())

			matches, err := idx.Search(ctx, []float32{0, 1, 0}, 2, semindex.Filter{
				PacketTypes: []string{"note"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(matches[0].PacketID).To(Equal("newer-twin"))
			Expect(matches[1].PacketID).To(Equal("older-twin"))
		})

		It("filters by packet type before ranking", func() {
			matches, err := idx.Search(ctx, []float32{1, 0, 0}, 3, semindex.Filter{
				PacketTypes: []string{"insight"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(matches).To(HaveLen(1))
			Expect(matches[0].PacketID).To(Equal("far"))
		})

		It("filters by thread", func() {
			matches, err := idx.Search(ctx, []float32{1, 0, 0}, 3, semindex.Filter{
				ThreadID: "t2",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(matches).To(HaveLen(1))
			Expect(matches[0].PacketID).To(Equal("close"))
		})

		It("requires every filter tag", func() {
			matches, err := idx.Search(ctx, []float32{1, 0, 0}, 3, semindex.Filter{
				Tags: []string{"deploy"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(matches).To(HaveLen(1))
			Expect(matches[0].PacketID).To(Equal("exact"))

			matches, err = idx.Search(ctx, []float32{1, 0, 0}, 3, semindex.Filter{
				Tags: []string{"deploy", "urgent"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(matches).To(BeEmpty())
		})
	})

	Describe("Remove", func() {
		It("deletes documents and tolerates missing ids", func() {
			Expect(idx.Index(ctx, semindex.Document{
				PacketID: "p1", Vector: []float32{1, 0},
			})).To(Succeed())

			Expect(idx.Remove(ctx, []string{"p1", "never-indexed"})).To(Succeed())

			matches, err := idx.Search(ctx, []float32{1, 0}, 5, semindex.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(matches).To(BeEmpty())
		})
	})
})
