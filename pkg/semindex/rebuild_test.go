package semindex_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/substrate/pkg/packet"
	"github.com/papercomputeco/substrate/pkg/semindex"
	"github.com/papercomputeco/substrate/pkg/semindex/memory"
	"github.com/papercomputeco/substrate/pkg/substrate/inmemory"
)

var _ = Describe("Rebuild", func() {
	const modelVersion = "static/sha256-v1"

	var (
		ctx  context.Context
		repo *inmemory.Driver
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = inmemory.NewDriver()
	})

	store := func(text string, vector []float32) *packet.Envelope {
		env, err := packet.New("note", map[string]any{"text": text})
		Expect(err).NotTo(HaveOccurred())
		Expect(repo.PutEnvelope(ctx, env)).To(Succeed())

		rec, err := packet.NewEmbeddingRecord(env.PacketID, modelVersion, vector)
		Expect(err).NotTo(HaveOccurred())
		Expect(repo.PutEmbedding(ctx, rec)).To(Succeed())

		return env
	}

	It("repopulates an empty index from stored embeddings", func() {
		first := store("first", []float32{1, 0, 0})
		second := store("second", []float32{0, 1, 0})

		idx := memory.NewIndex()
		n, err := semindex.Rebuild(ctx, repo, idx, modelVersion, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(2))

		matches, err := idx.Search(ctx, []float32{1, 0, 0}, 1, semindex.Filter{})
		Expect(err).NotTo(HaveOccurred())
		Expect(matches[0].PacketID).To(Equal(first.PacketID))

		matches, err = idx.Search(ctx, []float32{0, 1, 0}, 1, semindex.Filter{})
		Expect(err).NotTo(HaveOccurred())
		Expect(matches[0].PacketID).To(Equal(second.PacketID))
	})

	It("skips embeddings whose envelope was tombstoned", func() {
		kept := store("kept", []float32{1, 0, 0})
		gone := store("gone", []float32{0, 1, 0})
		Expect(repo.Tombstone(ctx, gone.PacketID, "")).To(Succeed())

		idx := memory.NewIndex()
		n, err := semindex.Rebuild(ctx, repo, idx, modelVersion, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		matches, err := idx.Search(ctx, []float32{0, 1, 0}, 5, semindex.Filter{})
		Expect(err).NotTo(HaveOccurred())
		for _, m := range matches {
			Expect(m.PacketID).To(Equal(kept.PacketID))
		}
	})

	It("ignores other model versions", func() {
		env, err := packet.New("note", map[string]any{"text": "foreign"})
		Expect(err).NotTo(HaveOccurred())
		Expect(repo.PutEnvelope(ctx, env)).To(Succeed())

		rec, err := packet.NewEmbeddingRecord(env.PacketID, "other/v9", []float32{1, 0, 0})
		Expect(err).NotTo(HaveOccurred())
		Expect(repo.PutEmbedding(ctx, rec)).To(Succeed())

		idx := memory.NewIndex()
		n, err := semindex.Rebuild(ctx, repo, idx, modelVersion, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
	})

	It("carries thread and tag filter fields into the index", func() {
		env, err := packet.New("note", map[string]any{"text": "tagged"},
			packet.WithThread("thread-rebuild"),
			packet.WithTags("infra"))
		Expect(err).NotTo(HaveOccurred())
		Expect(repo.PutEnvelope(ctx, env)).To(Succeed())

		rec, err := packet.NewEmbeddingRecord(env.PacketID, modelVersion, []float32{1, 0, 0})
		Expect(err).NotTo(HaveOccurred())
		Expect(repo.PutEmbedding(ctx, rec)).To(Succeed())

		idx := memory.NewIndex()
		_, err = semindex.Rebuild(ctx, repo, idx, modelVersion, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		matches, err := idx.Search(ctx, []float32{1, 0, 0}, 1, semindex.Filter{
			ThreadID: "thread-rebuild",
			Tags:     []string{"infra"},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(matches).To(HaveLen(1))
	})
})
