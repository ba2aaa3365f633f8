package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/substrate/pkg/packet"
	"github.com/papercomputeco/substrate/pkg/substrate"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleGetEnvelope returns a single live envelope by packet id.
func (s *Server) handleGetEnvelope(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "id parameter required"})
	}

	env, err := s.repo.GetEnvelope(c.Context(), id)
	if err != nil {
		return s.readError(c, err)
	}

	return c.JSON(env)
}

// handleGetThread returns a thread's envelopes in lineage order.
func (s *Server) handleGetThread(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "id parameter required"})
	}

	envs, err := s.repo.GetThread(c.Context(), id)
	if err != nil {
		return s.readError(c, err)
	}

	return c.JSON(map[string]any{
		"thread_id": id,
		"count":     len(envs),
		"envelopes": envs,
	})
}

// handleGetFacts returns the facts derived from one envelope.
func (s *Server) handleGetFacts(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "id parameter required"})
	}

	facts, err := s.repo.GetFactsByPacket(c.Context(), id)
	if err != nil {
		return s.readError(c, err)
	}

	return c.JSON(map[string]any{
		"packet_id": id,
		"count":     len(facts),
		"facts":     facts,
	})
}

// handleStats returns the health/stats surface: store counts, pending
// embeddings, and the last consolidation run.
func (s *Server) handleStats(c *fiber.Ctx) error {
	stats, err := s.repo.Stats(c.Context())
	if err != nil {
		s.logger.Error("stats query failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to read stats"})
	}

	out := map[string]any{
		"store": stats,
	}
	if s.consolidator != nil {
		out["consolidation"] = s.consolidator.Metrics()
	}

	return c.JSON(out)
}

// readError maps repository read failures onto HTTP statuses. Corruption
// is surfaced loudly and never papered over.
func (s *Server) readError(c *fiber.Ctx, err error) error {
	var nf substrate.NotFoundError
	if errors.As(err, &nf) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: err.Error()})
	}

	var bl substrate.BrokenLineageError
	if errors.As(err, &bl) {
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{Error: err.Error()})
	}

	var corrupt packet.CorruptionError
	if errors.As(err, &corrupt) {
		s.logger.Error("corruption detected on read path",
			zap.String("packet_id", corrupt.PacketID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}

	s.logger.Error("read failed", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "internal error"})
}
