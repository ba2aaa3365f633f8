package pipeline_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/substrate/pkg/pipeline"
)

var _ = Describe("Pool", func() {
	var (
		f   *fixture
		ctx context.Context
	)

	BeforeEach(func() {
		f = newFixture()
		ctx = context.Background()
	})

	It("requires a pipeline", func() {
		_, err := pipeline.NewPool(&pipeline.PoolConfig{Logger: zap.NewNop()})
		Expect(err).To(HaveOccurred())
	})

	It("ingests enqueued submissions before Close returns", func() {
		pool, err := pipeline.NewPool(&pipeline.PoolConfig{
			Pipeline: f.pipe,
			Logger:   zap.NewNop(),
		})
		Expect(err).NotTo(HaveOccurred())

		ok := pool.Enqueue(pipeline.Submission{
			PacketType: "observation",
			Payload:    map[string]any{"text": "queued work"},
		})
		Expect(ok).To(BeTrue())

		pool.Close()

		stats, err := f.repo.Stats(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.LiveEnvelopes).To(Equal(1))
	})

	It("drops submissions when the queue is full", func() {
		pool, err := pipeline.NewPool(&pipeline.PoolConfig{
			Pipeline:   f.pipe,
			NumWorkers: 1,
			QueueSize:  1,
			Logger:     zap.NewNop(),
		})
		Expect(err).NotTo(HaveOccurred())

		// Saturate the single-slot queue faster than one worker drains it.
		// At least one enqueue must be dropped once the slot is taken.
		dropped := false
		for range 100 {
			if !pool.Enqueue(pipeline.Submission{
				PacketType: "observation",
				Payload:    map[string]any{"text": "burst"},
			}) {
				dropped = true
				break
			}
		}
		Expect(dropped).To(BeTrue())

		pool.Close()
	})
})
