package packet_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/substrate/pkg/packet"
)

var _ = Describe("Envelope", func() {
	Describe("New", func() {
		It("assigns a packet id, content hash, and creation time", func() {
			env, err := packet.New("observation", map[string]any{"text": "deploy failed"})
			Expect(err).NotTo(HaveOccurred())
			Expect(env.PacketID).NotTo(BeEmpty())
			Expect(env.ContentHash).To(HaveLen(64))
			Expect(env.CreatedAt).To(BeTemporally("~", time.Now(), time.Minute))
		})

		It("rejects an empty packet type", func() {
			_, err := packet.New("", map[string]any{"text": "x"})
			var ve packet.ValidationError
			Expect(errors.As(err, &ve)).To(BeTrue())
			Expect(ve.Field).To(Equal("packet_type"))
		})

		It("rejects a nil payload", func() {
			_, err := packet.New("observation", nil)
			var ve packet.ValidationError
			Expect(errors.As(err, &ve)).To(BeTrue())
			Expect(ve.Field).To(Equal("payload"))
		})

		It("rejects lineage without a thread", func() {
			_, err := packet.New("observation", map[string]any{"text": "x"},
				packet.WithLineage("some-predecessor"))
			var ve packet.ValidationError
			Expect(errors.As(err, &ve)).To(BeTrue())
			Expect(ve.Field).To(Equal("lineage"))
		})

		It("accepts lineage inside a thread", func() {
			env, err := packet.New("observation", map[string]any{"text": "x"},
				packet.WithThread("thread-1"),
				packet.WithLineage("some-predecessor"))
			Expect(err).NotTo(HaveOccurred())
			Expect(*env.ThreadID).To(Equal("thread-1"))
			Expect(*env.Lineage).To(Equal("some-predecessor"))
		})
	})

	Describe("ComputeHash", func() {
		It("is deterministic for the same content", func() {
			payload := map[string]any{"text": "hello", "count": 3.0}
			a, err := packet.ComputeHash("observation", payload)
			Expect(err).NotTo(HaveOccurred())
			b, err := packet.ComputeHash("observation", payload)
			Expect(err).NotTo(HaveOccurred())
			Expect(a).To(Equal(b))
		})

		It("gives the same digest regardless of key insertion order", func() {
			a, err := packet.ComputeHash("observation", map[string]any{
				"alpha": "1", "beta": "2", "gamma": "3",
			})
			Expect(err).NotTo(HaveOccurred())

			reordered := map[string]any{}
			reordered["gamma"] = "3"
			reordered["alpha"] = "1"
			reordered["beta"] = "2"
			b, err := packet.ComputeHash("observation", reordered)
			Expect(err).NotTo(HaveOccurred())

			Expect(a).To(Equal(b))
		})

		It("changes when the packet type changes", func() {
			payload := map[string]any{"text": "hello"}
			a, _ := packet.ComputeHash("observation", payload)
			b, _ := packet.ComputeHash("insight", payload)
			Expect(a).NotTo(Equal(b))
		})

		It("ignores metadata entirely", func() {
			env1, err := packet.New("observation", map[string]any{"text": "x"},
				packet.WithMetadata(map[string]string{"source": "ci"}))
			Expect(err).NotTo(HaveOccurred())

			env2, err := packet.New("observation", map[string]any{"text": "x"})
			Expect(err).NotTo(HaveOccurred())

			Expect(env1.ContentHash).To(Equal(env2.ContentHash))
		})
	})

	Describe("VerifyHash", func() {
		It("accepts an untouched envelope", func() {
			env, err := packet.New("observation", map[string]any{"text": "x"})
			Expect(err).NotTo(HaveOccurred())
			Expect(packet.VerifyHash(env)).To(Succeed())
		})

		It("reports corruption when the payload was altered", func() {
			env, err := packet.New("observation", map[string]any{"text": "x"})
			Expect(err).NotTo(HaveOccurred())

			env.Payload["text"] = "tampered"

			err = packet.VerifyHash(env)
			var ce packet.CorruptionError
			Expect(errors.As(err, &ce)).To(BeTrue())
			Expect(ce.PacketID).To(Equal(env.PacketID))
			Expect(ce.Stored).NotTo(Equal(ce.Computed))
		})
	})

	Describe("Amend", func() {
		It("creates a successor linked via lineage in the same thread", func() {
			orig, err := packet.New("observation", map[string]any{"text": "v1"},
				packet.WithThread("thread-1"),
				packet.WithTags("deploy"))
			Expect(err).NotTo(HaveOccurred())

			amended, err := orig.Amend(map[string]any{"text": "v2"})
			Expect(err).NotTo(HaveOccurred())

			Expect(amended.PacketID).NotTo(Equal(orig.PacketID))
			Expect(*amended.Lineage).To(Equal(orig.PacketID))
			Expect(*amended.ThreadID).To(Equal("thread-1"))
			Expect(amended.Tags).To(Equal([]string{"deploy"}))
			Expect(amended.ContentHash).NotTo(Equal(orig.ContentHash))

			// The original is untouched.
			Expect(orig.Payload["text"]).To(Equal("v1"))
		})
	})

	Describe("Expired", func() {
		It("never expires without a TTL", func() {
			env, err := packet.New("observation", map[string]any{"text": "x"})
			Expect(err).NotTo(HaveOccurred())
			Expect(env.Expired(time.Now().Add(100 * 365 * 24 * time.Hour))).To(BeFalse())
		})

		It("expires once the TTL has passed", func() {
			ttl := time.Now().UTC().Add(time.Hour)
			env, err := packet.New("observation", map[string]any{"text": "x"},
				packet.WithTTL(ttl))
			Expect(err).NotTo(HaveOccurred())

			Expect(env.Expired(ttl.Add(-time.Minute))).To(BeFalse())
			Expect(env.Expired(ttl.Add(time.Minute))).To(BeTrue())
		})
	})

	Describe("ExtractText", func() {
		It("joins string values in sorted-key order", func() {
			env, err := packet.New("observation", map[string]any{
				"zeta":  "last",
				"alpha": "first",
				"count": 3.0,
				"empty": "",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(env.ExtractText()).To(Equal("first\nlast"))
		})
	})
})

var _ = Describe("Checkpoint", func() {
	It("is incomplete until every stage is accounted for", func() {
		ck := packet.NewCheckpoint("p1", []packet.Stage{packet.StageIntake})
		Expect(ck.Complete()).To(BeFalse())

		next, ok := ck.NextStage()
		Expect(ok).To(BeTrue())
		Expect(next).To(Equal(packet.StageAttachReasoning))
	})

	It("is complete once all canonical stages are marked", func() {
		ck := packet.NewCheckpoint("p1", nil)
		for _, s := range packet.Stages {
			ck.Mark(s)
		}
		Expect(ck.Complete()).To(BeTrue())

		_, ok := ck.NextStage()
		Expect(ok).To(BeFalse())
	})

	It("counts skipped stages as covered", func() {
		ck := packet.NewCheckpoint("p1", []packet.Stage{
			packet.StageIntake,
			packet.StageAttachReasoning,
			packet.StageWrite,
			packet.StageEmbed,
		})
		ck.Skip(packet.StageExtractInsights)
		ck.Mark(packet.StageStoreInsights)
		ck.Mark(packet.StageTriggerWorldModel)
		ck.Mark(packet.StageCheckpoint)

		Expect(ck.Complete()).To(BeTrue())
		Expect(ck.StagesSkipped).To(ContainElement(packet.StageExtractInsights))
	})

	It("resumes at the first uncovered stage", func() {
		ck := packet.NewCheckpoint("p1", []packet.Stage{
			packet.StageIntake,
			packet.StageAttachReasoning,
			packet.StageWrite,
		})

		next, ok := ck.NextStage()
		Expect(ok).To(BeTrue())
		Expect(next).To(Equal(packet.StageEmbed))
	})

	It("assigns lexicographically sortable checkpoint ids", func() {
		a := packet.NewCheckpoint("p1", nil)
		b := packet.NewCheckpoint("p1", nil)
		Expect(b.CheckpointID >= a.CheckpointID).To(BeTrue())
	})
})

var _ = Describe("Fact", func() {
	It("requires at least one source packet", func() {
		_, err := packet.NewFact(nil, packet.Statement{
			Subject: "user", Predicate: "prefers", Object: "dark mode",
		}, 0.9)
		var ve packet.ValidationError
		Expect(errors.As(err, &ve)).To(BeTrue())
		Expect(ve.Field).To(Equal("source_packet_ids"))
	})

	It("rejects confidence outside [0, 1]", func() {
		stmt := packet.Statement{Subject: "a", Predicate: "b", Object: "c"}
		_, err := packet.NewFact([]string{"p1"}, stmt, 1.5)
		Expect(err).To(HaveOccurred())

		_, err = packet.NewFact([]string{"p1"}, stmt, -0.1)
		Expect(err).To(HaveOccurred())
	})

	It("creates facts with ULID ids and a derivation time", func() {
		fact, err := packet.NewFact([]string{"p1", "p2"}, packet.Statement{
			Subject: "service", Predicate: "depends on", Object: "postgres",
		}, 0.7)
		Expect(err).NotTo(HaveOccurred())
		Expect(fact.FactID).To(HaveLen(26))
		Expect(fact.SourcePacketIDs).To(HaveLen(2))
		Expect(fact.SupersededBy).To(BeNil())
	})
})

var _ = Describe("EmbeddingRecord", func() {
	It("requires packet id, model version, and a non-empty vector", func() {
		_, err := packet.NewEmbeddingRecord("", "m/v1", []float32{1})
		Expect(err).To(HaveOccurred())

		_, err = packet.NewEmbeddingRecord("p1", "", []float32{1})
		Expect(err).To(HaveOccurred())

		_, err = packet.NewEmbeddingRecord("p1", "m/v1", nil)
		Expect(err).To(HaveOccurred())

		rec, err := packet.NewEmbeddingRecord("p1", "m/v1", []float32{1, 2, 3})
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.ModelVersion).To(Equal("m/v1"))
	})
})
