package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/substrate/pkg/packet"
	"github.com/papercomputeco/substrate/pkg/pipeline"
	"github.com/papercomputeco/substrate/pkg/substrate"
)

// SubmitRequest is the JSON body for POST /v1/submit.
type SubmitRequest struct {
	PacketType    string            `json:"packet_type"`
	Payload       map[string]any    `json:"payload"`
	ThreadID      *string           `json:"thread_id,omitempty"`
	PredecessorID *string           `json:"predecessor_packet_id,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
	TTL           *time.Time        `json:"ttl,omitempty"`
	Reasoning     map[string]string `json:"reasoning,omitempty"`
}

// SubmitResponse carries the definitive packet id for an accepted packet.
type SubmitResponse struct {
	PacketID string `json:"packet_id"`
}

// handleSubmit ingests one packet synchronously. The caller gets either
// a definitive packet id or a definitive validation failure; enrichment
// completeness is visible via checkpoints and stats, never here.
func (s *Server) handleSubmit(c *fiber.Ctx) error {
	var req SubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid JSON body"})
	}

	packetID, err := s.pipeline.Submit(c.Context(), pipeline.Submission{
		PacketType:    req.PacketType,
		Payload:       req.Payload,
		ThreadID:      req.ThreadID,
		PredecessorID: req.PredecessorID,
		Tags:          req.Tags,
		TTL:           req.TTL,
		Reasoning:     req.Reasoning,
	})
	if err != nil {
		return s.submitError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(SubmitResponse{PacketID: packetID})
}

// submitError maps pipeline failures onto HTTP statuses. Only
// validation, broken lineage, and conflicting rewrites reach callers;
// everything else is internal.
func (s *Server) submitError(c *fiber.Ctx, err error) error {
	var ve packet.ValidationError
	if errors.As(err, &ve) {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	var bl substrate.BrokenLineageError
	if errors.As(err, &bl) {
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{Error: err.Error()})
	}

	var exists substrate.AlreadyExistsError
	if errors.As(err, &exists) {
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{Error: err.Error()})
	}

	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "internal error"})
}
