package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/substrate/pkg/consolidate"
	"github.com/papercomputeco/substrate/pkg/embeddings"
	"github.com/papercomputeco/substrate/pkg/pipeline"
	"github.com/papercomputeco/substrate/pkg/semindex"
	"github.com/papercomputeco/substrate/pkg/substrate"
)

// Server is the API server for submitting to and querying the substrate
type Server struct {
	config       Config
	repo         substrate.Repository
	index        semindex.Index
	embedder     embeddings.Embedder
	pipeline     *pipeline.Pipeline
	consolidator *consolidate.Service
	logger       *zap.Logger
	app          *fiber.App
}

// NewServer creates a new API server. The repository and index are
// injected so they can be shared with the ingestion workers. The
// consolidator may be nil when the server runs without background
// consolidation.
func NewServer(
	config Config,
	repo substrate.Repository,
	index semindex.Index,
	embedder embeddings.Embedder,
	pipe *pipeline.Pipeline,
	consolidator *consolidate.Service,
	logger *zap.Logger,
) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config:       config,
		repo:         repo,
		index:        index,
		embedder:     embedder,
		pipeline:     pipe,
		consolidator: consolidator,
		logger:       logger,
		app:          app,
	}

	app.Get("/ping", s.handlePing)
	app.Post("/v1/submit", s.handleSubmit)
	app.Get("/v1/envelope/:id", s.handleGetEnvelope)
	app.Get("/v1/thread/:id", s.handleGetThread)
	app.Get("/v1/facts/:id", s.handleGetFacts)
	app.Post("/v1/search", s.handleSearch)
	app.Get("/v1/stats", s.handleStats)

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
