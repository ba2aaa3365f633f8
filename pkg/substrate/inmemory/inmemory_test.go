package inmemory_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/substrate/pkg/packet"
	"github.com/papercomputeco/substrate/pkg/substrate"
	"github.com/papercomputeco/substrate/pkg/substrate/inmemory"
)

func mustEnvelope(payload map[string]any, opts ...packet.Option) *packet.Envelope {
	env, err := packet.New("observation", payload, opts...)
	Expect(err).NotTo(HaveOccurred())
	return env
}

var _ = Describe("Driver", func() {
	var (
		repo *inmemory.Driver
		ctx  context.Context
	)

	BeforeEach(func() {
		repo = inmemory.NewDriver()
		ctx = context.Background()
	})

	It("implements substrate.Repository", func() {
		var _ substrate.Repository = (*inmemory.Driver)(nil)
	})

	Describe("PutEnvelope", func() {
		It("stores and retrieves an envelope", func() {
			env := mustEnvelope(map[string]any{"text": "hello"})
			Expect(repo.PutEnvelope(ctx, env)).To(Succeed())

			got, err := repo.GetEnvelope(ctx, env.PacketID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ContentHash).To(Equal(env.ContentHash))
		})

		It("rejects a duplicate packet id, reporting identical content", func() {
			env := mustEnvelope(map[string]any{"text": "hello"})
			Expect(repo.PutEnvelope(ctx, env)).To(Succeed())

			err := repo.PutEnvelope(ctx, env)
			var ae substrate.AlreadyExistsError
			Expect(errors.As(err, &ae)).To(BeTrue())
			Expect(ae.SameContent).To(BeTrue())
		})

		It("rejects a reused packet id with conflicting content", func() {
			env := mustEnvelope(map[string]any{"text": "hello"})
			Expect(repo.PutEnvelope(ctx, env)).To(Succeed())

			conflict := mustEnvelope(map[string]any{"text": "different"})
			conflict.PacketID = env.PacketID

			err := repo.PutEnvelope(ctx, conflict)
			var ae substrate.AlreadyExistsError
			Expect(errors.As(err, &ae)).To(BeTrue())
			Expect(ae.SameContent).To(BeFalse())
		})

		It("accepts the same content under different packet ids", func() {
			a := mustEnvelope(map[string]any{"text": "same"})
			b := mustEnvelope(map[string]any{"text": "same"})
			Expect(repo.PutEnvelope(ctx, a)).To(Succeed())
			Expect(repo.PutEnvelope(ctx, b)).To(Succeed())

			group, err := repo.GetByContentHash(ctx, a.ContentHash)
			Expect(err).NotTo(HaveOccurred())
			Expect(group).To(HaveLen(2))
		})
	})

	Describe("GetEnvelope", func() {
		It("returns NotFoundError for an unknown packet", func() {
			_, err := repo.GetEnvelope(ctx, "missing")
			var nf substrate.NotFoundError
			Expect(errors.As(err, &nf)).To(BeTrue())
			Expect(nf.Kind).To(Equal("envelope"))
		})

		It("returns NotFoundError for a tombstoned packet", func() {
			env := mustEnvelope(map[string]any{"text": "x"})
			Expect(repo.PutEnvelope(ctx, env)).To(Succeed())
			Expect(repo.Tombstone(ctx, env.PacketID, "")).To(Succeed())

			_, err := repo.GetEnvelope(ctx, env.PacketID)
			var nf substrate.NotFoundError
			Expect(errors.As(err, &nf)).To(BeTrue())
		})

		It("surfaces corruption when the stored payload was altered", func() {
			env := mustEnvelope(map[string]any{"text": "x"})
			Expect(repo.PutEnvelope(ctx, env)).To(Succeed())

			env.Payload["text"] = "tampered"

			_, err := repo.GetEnvelope(ctx, env.PacketID)
			var ce packet.CorruptionError
			Expect(errors.As(err, &ce)).To(BeTrue())
		})
	})

	Describe("HasEnvelope", func() {
		It("sees tombstoned rows", func() {
			env := mustEnvelope(map[string]any{"text": "x"})
			Expect(repo.PutEnvelope(ctx, env)).To(Succeed())
			Expect(repo.Tombstone(ctx, env.PacketID, "")).To(Succeed())

			ok, err := repo.HasEnvelope(ctx, env.PacketID)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})
	})

	Describe("GetThread", func() {
		It("returns envelopes in lineage order, oldest first", func() {
			root := mustEnvelope(map[string]any{"text": "first"},
				packet.WithThread("t1"))
			Expect(repo.PutEnvelope(ctx, root)).To(Succeed())

			second := mustEnvelope(map[string]any{"text": "second"},
				packet.WithThread("t1"), packet.WithLineage(root.PacketID))
			Expect(repo.PutEnvelope(ctx, second)).To(Succeed())

			third := mustEnvelope(map[string]any{"text": "third"},
				packet.WithThread("t1"), packet.WithLineage(second.PacketID))
			Expect(repo.PutEnvelope(ctx, third)).To(Succeed())

			thread, err := repo.GetThread(ctx, "t1")
			Expect(err).NotTo(HaveOccurred())
			Expect(thread).To(HaveLen(3))
			Expect(thread[0].PacketID).To(Equal(root.PacketID))
			Expect(thread[1].PacketID).To(Equal(second.PacketID))
			Expect(thread[2].PacketID).To(Equal(third.PacketID))
		})

		It("surfaces a lineage gap instead of skipping it", func() {
			orphan := mustEnvelope(map[string]any{"text": "orphan"},
				packet.WithThread("t1"), packet.WithLineage("never-written"))
			Expect(repo.PutEnvelope(ctx, orphan)).To(Succeed())

			_, err := repo.GetThread(ctx, "t1")
			var bl substrate.BrokenLineageError
			Expect(errors.As(err, &bl)).To(BeTrue())
			Expect(bl.PredecessorID).To(Equal("never-written"))
		})

		It("surfaces a second root instead of dropping one", func() {
			first := mustEnvelope(map[string]any{"text": "first root"},
				packet.WithThread("t1"))
			second := mustEnvelope(map[string]any{"text": "second root"},
				packet.WithThread("t1"))
			Expect(repo.PutEnvelope(ctx, first)).To(Succeed())
			Expect(repo.PutEnvelope(ctx, second)).To(Succeed())

			_, err := repo.GetThread(ctx, "t1")
			var bl substrate.BrokenLineageError
			Expect(errors.As(err, &bl)).To(BeTrue())
			Expect(bl.ThreadID).To(Equal("t1"))
		})

		It("surfaces a fork instead of dropping a branch", func() {
			root := mustEnvelope(map[string]any{"text": "root"},
				packet.WithThread("t1"))
			Expect(repo.PutEnvelope(ctx, root)).To(Succeed())

			left := mustEnvelope(map[string]any{"text": "left"},
				packet.WithThread("t1"), packet.WithLineage(root.PacketID))
			right := mustEnvelope(map[string]any{"text": "right"},
				packet.WithThread("t1"), packet.WithLineage(root.PacketID))
			Expect(repo.PutEnvelope(ctx, left)).To(Succeed())
			Expect(repo.PutEnvelope(ctx, right)).To(Succeed())

			_, err := repo.GetThread(ctx, "t1")
			var bl substrate.BrokenLineageError
			Expect(errors.As(err, &bl)).To(BeTrue())
			Expect(bl.PredecessorID).To(Equal(root.PacketID))
		})
	})

	Describe("Facts", func() {
		It("is idempotent by fact id", func() {
			fact, err := packet.NewFact([]string{"p1"}, packet.Statement{
				Subject: "a", Predicate: "is", Object: "b",
			}, 0.5)
			Expect(err).NotTo(HaveOccurred())

			Expect(repo.PutFact(ctx, fact)).To(Succeed())
			Expect(repo.PutFact(ctx, fact)).To(Succeed())

			facts, err := repo.GetFactsByPacket(ctx, "p1")
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(1))
		})

		It("marks facts superseded without deleting them", func() {
			fact, err := packet.NewFact([]string{"p1"}, packet.Statement{
				Subject: "a", Predicate: "is", Object: "b",
			}, 0.5)
			Expect(err).NotTo(HaveOccurred())
			Expect(repo.PutFact(ctx, fact)).To(Succeed())

			Expect(repo.SupersedeFact(ctx, fact.FactID, "newer-fact")).To(Succeed())

			facts, err := repo.GetFactsByPacket(ctx, "p1")
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(1))
			Expect(*facts[0].SupersededBy).To(Equal("newer-fact"))
			Expect(facts[0].Statement.Object).To(Equal("b"))
		})
	})

	Describe("Embeddings", func() {
		It("is idempotent by packet id and model version", func() {
			rec, err := packet.NewEmbeddingRecord("p1", "m/v1", []float32{1, 2})
			Expect(err).NotTo(HaveOccurred())

			Expect(repo.PutEmbedding(ctx, rec)).To(Succeed())
			Expect(repo.PutEmbedding(ctx, rec)).To(Succeed())

			list, err := repo.ListEmbeddings(ctx, "m/v1")
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(1))
		})

		It("keeps records per model version", func() {
			v1, _ := packet.NewEmbeddingRecord("p1", "m/v1", []float32{1})
			v2, _ := packet.NewEmbeddingRecord("p1", "m/v2", []float32{2})
			Expect(repo.PutEmbedding(ctx, v1)).To(Succeed())
			Expect(repo.PutEmbedding(ctx, v2)).To(Succeed())

			versions, err := repo.EmbeddingModelVersions(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(versions).To(Equal([]string{"m/v1", "m/v2"}))

			got, err := repo.GetEmbedding(ctx, "p1", "m/v2")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Vector).To(Equal([]float32{2}))
		})

		It("prunes a superseded model version wholesale", func() {
			v1, _ := packet.NewEmbeddingRecord("p1", "m/v1", []float32{1})
			v1b, _ := packet.NewEmbeddingRecord("p2", "m/v1", []float32{1})
			v2, _ := packet.NewEmbeddingRecord("p1", "m/v2", []float32{2})
			Expect(repo.PutEmbedding(ctx, v1)).To(Succeed())
			Expect(repo.PutEmbedding(ctx, v1b)).To(Succeed())
			Expect(repo.PutEmbedding(ctx, v2)).To(Succeed())

			n, err := repo.PruneEmbeddings(ctx, "m/v1")
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(2))

			versions, err := repo.EmbeddingModelVersions(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(versions).To(Equal([]string{"m/v2"}))
		})
	})

	Describe("Checkpoints", func() {
		It("returns the latest checkpoint for a packet", func() {
			first := packet.NewCheckpoint("p1", []packet.Stage{packet.StageIntake})
			Expect(repo.PutCheckpoint(ctx, first)).To(Succeed())

			second := packet.NewCheckpoint("p1", []packet.Stage{
				packet.StageIntake, packet.StageAttachReasoning,
			})
			Expect(repo.PutCheckpoint(ctx, second)).To(Succeed())

			latest, err := repo.GetLatestCheckpoint(ctx, "p1")
			Expect(err).NotTo(HaveOccurred())
			Expect(latest.CheckpointID).To(Equal(second.CheckpointID))
		})

		It("returns NotFoundError when the run never checkpointed", func() {
			_, err := repo.GetLatestCheckpoint(ctx, "never-ran")
			var nf substrate.NotFoundError
			Expect(errors.As(err, &nf)).To(BeTrue())
		})
	})

	Describe("Resumable", func() {
		It("reports envelopes with missing or partial checkpoints", func() {
			noCkpt := mustEnvelope(map[string]any{"text": "a"})
			Expect(repo.PutEnvelope(ctx, noCkpt)).To(Succeed())

			partial := mustEnvelope(map[string]any{"text": "b"})
			Expect(repo.PutEnvelope(ctx, partial)).To(Succeed())
			Expect(repo.PutCheckpoint(ctx, packet.NewCheckpoint(partial.PacketID,
				[]packet.Stage{packet.StageIntake, packet.StageAttachReasoning, packet.StageWrite},
			))).To(Succeed())

			done := mustEnvelope(map[string]any{"text": "c"})
			Expect(repo.PutEnvelope(ctx, done)).To(Succeed())
			Expect(repo.PutCheckpoint(ctx, packet.NewCheckpoint(done.PacketID, packet.Stages))).To(Succeed())

			ids, err := repo.Resumable(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(ConsistOf(noCkpt.PacketID, partial.PacketID))
		})
	})

	Describe("Pending embeddings", func() {
		It("tracks and clears the pending flag", func() {
			env := mustEnvelope(map[string]any{"text": "x"})
			Expect(repo.PutEnvelope(ctx, env)).To(Succeed())

			Expect(repo.MarkEmbeddingPending(ctx, env.PacketID, true)).To(Succeed())
			ids, err := repo.PendingEmbeddings(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(Equal([]string{env.PacketID}))

			Expect(repo.MarkEmbeddingPending(ctx, env.PacketID, false)).To(Succeed())
			ids, err = repo.PendingEmbeddings(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(BeEmpty())
		})
	})

	Describe("Expiry lifecycle", func() {
		It("marks, lists, and purges expired envelopes", func() {
			past := time.Now().UTC().Add(-time.Hour)
			env := mustEnvelope(map[string]any{"text": "ephemeral"},
				packet.WithTTL(past))
			Expect(repo.PutEnvelope(ctx, env)).To(Succeed())

			keeper := mustEnvelope(map[string]any{"text": "durable"})
			Expect(repo.PutEnvelope(ctx, keeper)).To(Succeed())

			n, err := repo.MarkExpired(ctx, time.Now().UTC())
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			ids, err := repo.ExpiredEnvelopes(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(Equal([]string{env.PacketID}))

			// Still inside the grace period: nothing is removed.
			purged, err := repo.PurgeExpired(ctx, time.Now().Add(-time.Hour), time.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(purged).To(BeZero())

			// Past the grace period: the row is physically removed.
			purged, err = repo.PurgeExpired(ctx, time.Now().Add(time.Hour), time.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(purged).To(Equal(1))

			ok, err := repo.HasEnvelope(ctx, env.PacketID)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())

			ok, err = repo.HasEnvelope(ctx, keeper.PacketID)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})
	})

	Describe("DuplicateGroups", func() {
		It("groups only content hashes held by more than one live envelope", func() {
			a := mustEnvelope(map[string]any{"text": "same"})
			b := mustEnvelope(map[string]any{"text": "same"})
			solo := mustEnvelope(map[string]any{"text": "unique"})
			Expect(repo.PutEnvelope(ctx, a)).To(Succeed())
			Expect(repo.PutEnvelope(ctx, b)).To(Succeed())
			Expect(repo.PutEnvelope(ctx, solo)).To(Succeed())

			groups, err := repo.DuplicateGroups(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(groups).To(HaveLen(1))
			Expect(groups[a.ContentHash]).To(HaveLen(2))
		})
	})

	Describe("Stats", func() {
		It("counts live, tombstoned, facts, and pending", func() {
			live := mustEnvelope(map[string]any{"text": "a"})
			dead := mustEnvelope(map[string]any{"text": "b"})
			Expect(repo.PutEnvelope(ctx, live)).To(Succeed())
			Expect(repo.PutEnvelope(ctx, dead)).To(Succeed())
			Expect(repo.Tombstone(ctx, dead.PacketID, "")).To(Succeed())
			Expect(repo.MarkEmbeddingPending(ctx, live.PacketID, true)).To(Succeed())

			fact, _ := packet.NewFact([]string{live.PacketID}, packet.Statement{
				Subject: "a", Predicate: "is", Object: "b",
			}, 0.5)
			Expect(repo.PutFact(ctx, fact)).To(Succeed())

			stats, err := repo.Stats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.LiveEnvelopes).To(Equal(1))
			Expect(stats.Tombstoned).To(Equal(1))
			Expect(stats.Facts).To(Equal(1))
			Expect(stats.PendingEmbeddings).To(Equal(1))
		})
	})
})
