package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/papercomputeco/substrate/pkg/packet"
	"github.com/papercomputeco/substrate/pkg/substrate"
)

// Resume scans for packets whose latest checkpoint is missing or partial
// and re-runs each from its first incomplete stage. Call on startup,
// before accepting new submissions. Returns how many packets finished.
func (p *Pipeline) Resume(ctx context.Context) (int, error) {
	ids, err := p.cfg.Repo.Resumable(ctx)
	if err != nil {
		return 0, fmt.Errorf("scanning resumable packets: %w", err)
	}

	if len(ids) == 0 {
		return 0, nil
	}

	p.logger.Info("resuming interrupted pipeline runs", zap.Int("count", len(ids)))

	resumed := 0
	for _, id := range ids {
		if err := p.resumeOne(ctx, id); err != nil {
			p.logger.Error("resume failed",
				zap.String("packet_id", id),
				zap.Error(err),
			)
			continue
		}
		resumed++
	}

	return resumed, nil
}

// SweepPending retries embedding for every packet marked
// embedding-pending. Run on a schedule so degraded packets eventually
// complete enrichment.
func (p *Pipeline) SweepPending(ctx context.Context) (int, error) {
	ids, err := p.cfg.Repo.PendingEmbeddings(ctx)
	if err != nil {
		return 0, fmt.Errorf("scanning pending embeddings: %w", err)
	}

	completed := 0
	for _, id := range ids {
		if err := p.resumeOne(ctx, id); err != nil {
			p.logger.Warn("pending embedding retry failed",
				zap.String("packet_id", id),
				zap.Error(err),
			)
			continue
		}

		// The retry itself may have degraded again; only count packets
		// whose embedding actually landed.
		if _, err := p.cfg.Repo.GetEmbedding(ctx, id, p.cfg.Embedder.ModelVersion()); err == nil {
			completed++
		}
	}

	return completed, nil
}

// resumeOne re-enters the pipeline for a stored envelope at the first
// stage its latest checkpoint does not cover.
func (p *Pipeline) resumeOne(ctx context.Context, packetID string) error {
	env, err := p.cfg.Repo.GetEnvelope(ctx, packetID)
	if err != nil {
		return fmt.Errorf("loading envelope: %w", err)
	}

	// Carry forward stage state from the latest checkpoint into a fresh
	// record; checkpoint rows themselves are append-only.
	ck := packet.NewCheckpoint(packetID, nil)
	prev, err := p.cfg.Repo.GetLatestCheckpoint(ctx, packetID)
	switch {
	case err == nil:
		if prev.Complete() {
			return nil
		}
		ck.StagesCompleted = append(ck.StagesCompleted, prev.StagesCompleted...)
		ck.StagesSkipped = append(ck.StagesSkipped, prev.StagesSkipped...)
	default:
		var nf substrate.NotFoundError
		if !errors.As(err, &nf) {
			return fmt.Errorf("loading checkpoint: %w", err)
		}
		// No checkpoint at all: the process died between write and the
		// degraded checkpoint. The envelope is durable, so intake and
		// write are implicitly done.
		ck.Mark(packet.StageIntake)
		ck.Mark(packet.StageAttachReasoning)
		ck.Mark(packet.StageWrite)
	}

	return p.run(ctx, env, ck)
}
