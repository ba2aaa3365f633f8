// Package servecmder provides the serve command that runs the substrate
// API server, ingestion workers, and background consolidation together.
package servecmder

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/papercomputeco/substrate/api"
	"github.com/papercomputeco/substrate/pkg/config"
	"github.com/papercomputeco/substrate/pkg/consolidate"
	embeddingutils "github.com/papercomputeco/substrate/pkg/embeddings/utils"
	insightutils "github.com/papercomputeco/substrate/pkg/insight/utils"
	"github.com/papercomputeco/substrate/pkg/logger"
	"github.com/papercomputeco/substrate/pkg/pipeline"
	"github.com/papercomputeco/substrate/pkg/semindex"
	semindexutils "github.com/papercomputeco/substrate/pkg/semindex/utils"
	"github.com/papercomputeco/substrate/pkg/substrate"
	substrateutils "github.com/papercomputeco/substrate/pkg/substrate/utils"
	worldmodelutils "github.com/papercomputeco/substrate/pkg/worldmodel/utils"
)

// sweepInterval is how often the pending-embedding sweep retries packets
// whose embedding stage was previously degraded.
const sweepInterval = time.Minute

// serveFlags defines the CLI flags for the serve command and the viper
// keys they bind to.
var serveFlags = config.FlagSet{
	config.FlagAPIListen: {
		Name:        "listen",
		Shorthand:   "l",
		ViperKey:    "api.listen",
		Description: "Address for API server to listen on",
	},
	config.FlagStorageDriver: {
		Name:        "storage-driver",
		ViperKey:    "storage.driver",
		Description: "Repository backend (sqlite, postgres, memory)",
	},
	config.FlagSQLite: {
		Name:        "sqlite",
		Shorthand:   "s",
		ViperKey:    "storage.sqlite_path",
		Description: "Path to SQLite database (default: in-memory)",
	},
	config.FlagPostgres: {
		Name:        "postgres",
		ViperKey:    "storage.postgres_url",
		Description: "PostgreSQL connection URL",
	},
	config.FlagIndexProvider: {
		Name:        "index-provider",
		ViperKey:    "index.provider",
		Description: "Semantic index backend (memory, sqlitevec, qdrant)",
	},
	config.FlagIndexDBPath: {
		Name:        "index-db",
		ViperKey:    "index.db_path",
		Description: "Path to sqlite-vec index database",
	},
	config.FlagIndexHost: {
		Name:        "index-host",
		ViperKey:    "index.host",
		Description: "Qdrant host",
	},
	config.FlagIndexCollection: {
		Name:        "index-collection",
		ViperKey:    "index.collection",
		Description: "Qdrant collection name",
	},
	config.FlagEmbeddingProv: {
		Name:        "embedding-provider",
		ViperKey:    "embedding.provider",
		Description: "Embedding provider (ollama, openai, static)",
	},
	config.FlagEmbeddingTgt: {
		Name:        "embedding-target",
		ViperKey:    "embedding.target",
		Description: "Embedding provider URL",
	},
	config.FlagEmbeddingModel: {
		Name:        "embedding-model",
		ViperKey:    "embedding.model",
		Description: "Embedding model name",
	},
	config.FlagEmbeddingDims: {
		Name:        "embedding-dimensions",
		ViperKey:    "embedding.dimensions",
		Description: "Embedding vector dimensions",
	},
	config.FlagWorldModelProv: {
		Name:        "world-model-provider",
		ViperKey:    "world_model.provider",
		Description: "World-model sink (nop, kafka)",
	},
	config.FlagWorldModelTopic: {
		Name:        "world-model-topic",
		ViperKey:    "world_model.topic",
		Description: "Kafka topic for insight events",
	},
	config.FlagWorkers: {
		Name:        "workers",
		Shorthand:   "w",
		ViperKey:    "pipeline.workers",
		Description: "Number of ingestion workers",
	},
}

// serveFlagKeys lists every registry key the serve command registers, in
// the order they are bound.
var serveFlagKeys = []string{
	config.FlagAPIListen,
	config.FlagStorageDriver,
	config.FlagSQLite,
	config.FlagPostgres,
	config.FlagIndexProvider,
	config.FlagIndexDBPath,
	config.FlagIndexHost,
	config.FlagIndexCollection,
	config.FlagEmbeddingProv,
	config.FlagEmbeddingTgt,
	config.FlagEmbeddingModel,
	config.FlagEmbeddingDims,
	config.FlagWorldModelProv,
	config.FlagWorldModelTopic,
	config.FlagWorkers,
}

type ServeCommander struct {
	listen        string
	storageDriver string
	sqlitePath    string
	postgresURL   string

	indexProvider   string
	indexDBPath     string
	indexHost       string
	indexCollection string

	embeddingProvider string
	embeddingTarget   string
	embeddingModel    string
	embeddingDims     uint

	worldModelProvider string
	worldModelTopic    string

	workers uint

	debug  bool
	viper  *viper.Viper
	logger *zap.Logger
}

const serveLongDesc string = `Run the substrate server.

Starts the API server, the ingestion worker pool, the pending-embedding
sweep, and the background consolidation service. On startup, any packets
with incomplete pipeline runs are resumed from their last checkpoint.

Configuration comes from CLI flags, SUBSTRATE_ environment variables, and
config.toml in the .substrate/ directory, in that order of precedence.

Examples:
  substrate serve
  substrate serve --sqlite substrate.db --listen :8081
  substrate serve --storage-driver postgres --postgres postgres://localhost/substrate
  substrate serve --embedding-provider openai --embedding-model text-embedding-3-small`

const serveShortDesc string = "Run the substrate server"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("initializing config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, serveFlags, serveFlagKeys)
			cmder.viper = v
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			return cmder.run()
		},
	}

	config.AddStringFlag(cmd, serveFlags, config.FlagAPIListen, &cmder.listen)
	config.AddStringFlag(cmd, serveFlags, config.FlagStorageDriver, &cmder.storageDriver)
	config.AddStringFlag(cmd, serveFlags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, serveFlags, config.FlagPostgres, &cmder.postgresURL)
	config.AddStringFlag(cmd, serveFlags, config.FlagIndexProvider, &cmder.indexProvider)
	config.AddStringFlag(cmd, serveFlags, config.FlagIndexDBPath, &cmder.indexDBPath)
	config.AddStringFlag(cmd, serveFlags, config.FlagIndexHost, &cmder.indexHost)
	config.AddStringFlag(cmd, serveFlags, config.FlagIndexCollection, &cmder.indexCollection)
	config.AddStringFlag(cmd, serveFlags, config.FlagEmbeddingProv, &cmder.embeddingProvider)
	config.AddStringFlag(cmd, serveFlags, config.FlagEmbeddingTgt, &cmder.embeddingTarget)
	config.AddStringFlag(cmd, serveFlags, config.FlagEmbeddingModel, &cmder.embeddingModel)
	config.AddUintFlag(cmd, serveFlags, config.FlagEmbeddingDims, &cmder.embeddingDims)
	config.AddStringFlag(cmd, serveFlags, config.FlagWorldModelProv, &cmder.worldModelProvider)
	config.AddStringFlag(cmd, serveFlags, config.FlagWorldModelTopic, &cmder.worldModelTopic)
	config.AddUintFlag(cmd, serveFlags, config.FlagWorkers, &cmder.workers)

	return cmd
}

func (c *ServeCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	v := c.viper
	ctx := context.Background()

	// Repository
	repo, err := substrateutils.NewRepository(ctx, &substrateutils.NewRepositoryOpts{
		DriverType:  v.GetString("storage.driver"),
		SQLitePath:  v.GetString("storage.sqlite_path"),
		PostgresURL: v.GetString("storage.postgres_url"),
		Logger:      c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating repository: %w", err)
	}
	defer repo.Close()

	// Semantic index
	index, err := semindexutils.NewIndex(ctx, &semindexutils.NewIndexOpts{
		ProviderType: v.GetString("index.provider"),
		DBPath:       v.GetString("index.db_path"),
		Host:         v.GetString("index.host"),
		Port:         v.GetInt("index.port"),
		Collection:   v.GetString("index.collection"),
		Dimensions:   v.GetUint("embedding.dimensions"),
		Logger:       c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating semantic index: %w", err)
	}
	defer index.Close()

	// Embedder
	embedder, err := embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{
		ProviderType: v.GetString("embedding.provider"),
		TargetURL:    v.GetString("embedding.target"),
		Model:        v.GetString("embedding.model"),
		APIKey:       v.GetString("embedding.api_key"),
		Dimensions:   v.GetInt("embedding.dimensions"),
	})
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}
	defer embedder.Close()

	// Insight extractor
	extractor, err := insightutils.NewExtractor(&insightutils.NewExtractorOpts{
		ProviderType: v.GetString("insight.provider"),
	})
	if err != nil {
		return fmt.Errorf("creating insight extractor: %w", err)
	}
	defer extractor.Close()

	// World-model sink
	sink, err := worldmodelutils.NewSink(&worldmodelutils.NewSinkOpts{
		ProviderType: v.GetString("world_model.provider"),
		Brokers:      v.GetStringSlice("world_model.brokers"),
		Topic:        v.GetString("world_model.topic"),
		Logger:       c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating world-model sink: %w", err)
	}
	defer sink.Close()

	instance, _ := os.Hostname()

	pipe, err := pipeline.New(pipeline.Config{
		Repo:      repo,
		Index:     index,
		Embedder:  embedder,
		Extractor: extractor,
		Sink:      sink,
		Logger:    c.logger,
		Instance:  instance,
	})
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	pool, err := pipeline.NewPool(&pipeline.PoolConfig{
		Pipeline:   pipe,
		NumWorkers: v.GetUint("pipeline.workers"),
		QueueSize:  v.GetUint("pipeline.queue_size"),
		Logger:     c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating worker pool: %w", err)
	}
	defer pool.Close()

	// Resume interrupted pipeline runs before accepting new traffic.
	resumed, err := pipe.Resume(ctx)
	if err != nil {
		c.logger.Warn("resume pass failed", zap.Error(err))
	} else if resumed > 0 {
		c.logger.Info("resumed interrupted pipeline runs", zap.Int("count", resumed))
	}

	consolidator, err := c.newConsolidator(repo, index, embedder.ModelVersion())
	if err != nil {
		return err
	}
	consolidator.Start()
	defer consolidator.Close()

	sweepStop := c.startSweep(pipe)
	defer close(sweepStop)

	apiConfig := api.Config{
		ListenAddr: v.GetString("api.listen"),
	}
	server := api.NewServer(apiConfig, repo, index, embedder, pipe, consolidator, c.logger)

	c.logger.Info("starting substrate server",
		zap.String("listen", apiConfig.ListenAddr),
		zap.String("storage", v.GetString("storage.driver")),
		zap.String("index", v.GetString("index.provider")),
		zap.String("embedding", embedder.ModelVersion()),
	)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Run(); err != nil {
			errChan <- fmt.Errorf("api server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("shutting down", zap.String("signal", sig.String()))
		return server.Shutdown()
	}
}

// newConsolidator builds the consolidation service from the configured
// durations.
func (c *ServeCommander) newConsolidator(
	repo substrate.Repository,
	index semindex.Index,
	modelVersion string,
) (*consolidate.Service, error) {
	v := c.viper

	interval, err := time.ParseDuration(v.GetString("consolidation.interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid consolidation.interval: %w", err)
	}

	grace, err := time.ParseDuration(v.GetString("consolidation.grace_period"))
	if err != nil {
		return nil, fmt.Errorf("invalid consolidation.grace_period: %w", err)
	}

	minAge, err := time.ParseDuration(v.GetString("consolidation.min_age"))
	if err != nil {
		return nil, fmt.Errorf("invalid consolidation.min_age: %w", err)
	}

	return consolidate.NewService(consolidate.Config{
		Repo:               repo,
		Index:              index,
		Logger:             c.logger,
		Interval:           interval,
		GracePeriod:        grace,
		MinAge:             minAge,
		ActiveModelVersion: modelVersion,
	}), nil
}

// startSweep runs the pending-embedding sweep on a fixed interval until
// the returned channel is closed.
func (c *ServeCommander) startSweep(pipe *pipeline.Pipeline) chan struct{} {
	stop := make(chan struct{})

	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				n, err := pipe.SweepPending(context.Background())
				if err != nil {
					c.logger.Warn("pending-embedding sweep failed", zap.Error(err))
					continue
				}
				if n > 0 {
					c.logger.Info("recovered pending embeddings", zap.Int("count", n))
				}
			}
		}
	}()

	return stop
}
