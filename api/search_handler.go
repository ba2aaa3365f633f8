package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/substrate/pkg/packet"
	"github.com/papercomputeco/substrate/pkg/semindex"
	"github.com/papercomputeco/substrate/pkg/substrate"
)

const defaultSearchK = 5

// SearchRequest is the JSON body for POST /v1/search.
type SearchRequest struct {
	Query       string   `json:"query"`
	K           int      `json:"k,omitempty"`
	PacketTypes []string `json:"packet_types,omitempty"`
	ThreadID    string   `json:"thread_id,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// SearchResult is one ranked hit with its envelope hydrated from the
// repository.
type SearchResult struct {
	PacketID string           `json:"packet_id"`
	Score    float32          `json:"score"`
	Envelope *packet.Envelope `json:"envelope"`
}

// handleSearch embeds the query text and runs a filtered KNN search.
// Hits whose envelope has been tombstoned since indexing are dropped, so
// expired or deduplicated packets never surface.
func (s *Server) handleSearch(c *fiber.Ctx) error {
	var req SearchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid JSON body"})
	}

	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "query is required"})
	}
	if req.K < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "k must be a positive integer"})
	}
	if req.K == 0 {
		req.K = defaultSearchK
	}

	vector, err := s.embedder.Embed(c.Context(), req.Query)
	if err != nil {
		s.logger.Error("query embedding failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "embedding provider unavailable"})
	}

	matches, err := s.index.Search(c.Context(), vector, req.K, semindex.Filter{
		PacketTypes: req.PacketTypes,
		ThreadID:    req.ThreadID,
		Tags:        req.Tags,
	})
	if err != nil {
		if errors.Is(err, semindex.ErrInvalidK) || errors.Is(err, semindex.ErrEmptyVector) {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
		}
		s.logger.Error("search failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "search failed"})
	}

	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		env, err := s.repo.GetEnvelope(c.Context(), m.PacketID)
		if err != nil {
			var nf substrate.NotFoundError
			if errors.As(err, &nf) {
				continue
			}
			return s.readError(c, err)
		}
		results = append(results, SearchResult{
			PacketID: m.PacketID,
			Score:    m.Score,
			Envelope: env,
		})
	}

	return c.JSON(map[string]any{
		"count":   len(results),
		"results": results,
	})
}
