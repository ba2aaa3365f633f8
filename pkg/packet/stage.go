package packet

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Stage names the steps of the ingestion pipeline, in canonical order.
type Stage string

const (
	StageIntake            Stage = "intake"
	StageAttachReasoning   Stage = "attach_reasoning"
	StageWrite             Stage = "write"
	StageEmbed             Stage = "embed"
	StageExtractInsights   Stage = "extract_insights"
	StageStoreInsights     Stage = "store_insights"
	StageTriggerWorldModel Stage = "trigger_world_model"
	StageCheckpoint        Stage = "checkpoint"
)

// Stages is the fixed, total stage sequence. No stage may be skipped except
// via the explicit degraded-mode policy of the pipeline.
var Stages = []Stage{
	StageIntake,
	StageAttachReasoning,
	StageWrite,
	StageEmbed,
	StageExtractInsights,
	StageStoreInsights,
	StageTriggerWorldModel,
	StageCheckpoint,
}

// Checkpoint marks completion of one pipeline run. A run is complete only
// when StagesCompleted plus StagesSkipped covers the full canonical
// sequence; anything less marks the packet as resumable. Skipped stages
// are best-effort stages the degraded-mode policy allowed past.
type Checkpoint struct {
	CheckpointID    string    `json:"checkpoint_id"`
	PacketID        string    `json:"packet_id"`
	StagesCompleted []Stage   `json:"stages_completed"`
	StagesSkipped   []Stage   `json:"stages_skipped,omitempty"`
	CompletedAt     time.Time `json:"completed_at"`
}

// NewCheckpoint records the stages completed for one packet's run.
// Checkpoint ids are ULIDs so the latest checkpoint for a packet sorts
// last lexicographically.
func NewCheckpoint(packetID string, completed []Stage) *Checkpoint {
	return &Checkpoint{
		CheckpointID:    ulid.Make().String(),
		PacketID:        packetID,
		StagesCompleted: completed,
		CompletedAt:     time.Now().UTC(),
	}
}

// Mark records a stage as completed.
func (c *Checkpoint) Mark(s Stage) {
	c.StagesCompleted = append(c.StagesCompleted, s)
}

// Skip records a best-effort stage that was passed over.
func (c *Checkpoint) Skip(s Stage) {
	c.StagesSkipped = append(c.StagesSkipped, s)
}

// covered returns the set of stages the checkpoint accounts for.
func (c *Checkpoint) covered() map[Stage]bool {
	done := make(map[Stage]bool, len(c.StagesCompleted)+len(c.StagesSkipped))
	for _, s := range c.StagesCompleted {
		done[s] = true
	}
	for _, s := range c.StagesSkipped {
		done[s] = true
	}
	return done
}

// Complete reports whether every canonical stage is accounted for.
func (c *Checkpoint) Complete() bool {
	done := c.covered()
	for _, s := range Stages {
		if !done[s] {
			return false
		}
	}
	return true
}

// NextStage returns the first canonical stage the checkpoint does not
// account for, i.e. the resume point. Returns false when the run is
// already complete.
func (c *Checkpoint) NextStage() (Stage, bool) {
	done := c.covered()
	for _, s := range Stages {
		if !done[s] {
			return s, true
		}
	}
	return "", false
}
