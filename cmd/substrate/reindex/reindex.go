// Package reindexcmder provides the reindex command for rebuilding the
// semantic index from stored embedding records.
package reindexcmder

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/papercomputeco/substrate/pkg/cliui"
	"github.com/papercomputeco/substrate/pkg/config"
	embeddingutils "github.com/papercomputeco/substrate/pkg/embeddings/utils"
	"github.com/papercomputeco/substrate/pkg/logger"
	"github.com/papercomputeco/substrate/pkg/semindex"
	semindexutils "github.com/papercomputeco/substrate/pkg/semindex/utils"
	substrateutils "github.com/papercomputeco/substrate/pkg/substrate/utils"
)

// reindexFlags defines the CLI flags for the reindex command and the viper
// keys they bind to.
var reindexFlags = config.FlagSet{
	config.FlagStorageDriver: {
		Name:        "storage-driver",
		ViperKey:    "storage.driver",
		Description: "Repository backend (sqlite, postgres, memory)",
	},
	config.FlagSQLite: {
		Name:        "sqlite",
		Shorthand:   "s",
		ViperKey:    "storage.sqlite_path",
		Description: "Path to SQLite database",
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
}

var reindexFlagKeys = []string{
	config.FlagStorageDriver,
	config.FlagSQLite,
	config.FlagPostgres,
	config.FlagIndexProvider,
	config.FlagIndexDBPath,
	config.FlagIndexHost,
	config.FlagIndexCollection,
	config.FlagEmbeddingProv,
	config.FlagEmbeddingModel,
	config.FlagEmbeddingDims,
}

type reindexCommander struct {
	storageDriver string
	sqlitePath    string
	postgresURL   string

	indexProvider   string
	indexDBPath     string
	indexHost       string
	indexCollection string

	embeddingProvider string
	embeddingModel    string
	embeddingDims     uint

	debug  bool
	viper  *viper.Viper
	logger *zap.Logger
}

const reindexLongDesc string = `Rebuild the semantic index from stored embedding records.

Replays every embedding record for the active model version into the
configured semantic index. Use this after switching index providers or when
the index has been lost or corrupted. The repository is the source of
truth; no embedding provider calls are made.

Run this against the same storage and index configuration as the server,
while the server is stopped.

Examples:
  substrate reindex --sqlite substrate.db
  substrate reindex --sqlite substrate.db --index-provider qdrant --index-host localhost`

const reindexShortDesc string = "Rebuild the semantic index"

func NewReindexCmd() *cobra.Command {
	cmder := &reindexCommander{}

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: reindexShortDesc,
		Long:  reindexLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("initializing config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, reindexFlags, reindexFlagKeys)
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

	config.AddStringFlag(cmd, reindexFlags, config.FlagStorageDriver, &cmder.storageDriver)
	config.AddStringFlag(cmd, reindexFlags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, reindexFlags, config.FlagPostgres, &cmder.postgresURL)
	config.AddStringFlag(cmd, reindexFlags, config.FlagIndexProvider, &cmder.indexProvider)
	config.AddStringFlag(cmd, reindexFlags, config.FlagIndexDBPath, &cmder.indexDBPath)
	config.AddStringFlag(cmd, reindexFlags, config.FlagIndexHost, &cmder.indexHost)
	config.AddStringFlag(cmd, reindexFlags, config.FlagIndexCollection, &cmder.indexCollection)
	config.AddStringFlag(cmd, reindexFlags, config.FlagEmbeddingProv, &cmder.embeddingProvider)
	config.AddStringFlag(cmd, reindexFlags, config.FlagEmbeddingModel, &cmder.embeddingModel)
	config.AddUintFlag(cmd, reindexFlags, config.FlagEmbeddingDims, &cmder.embeddingDims)

	return cmd
}

func (c *reindexCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	v := c.viper
	ctx := context.Background()

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

	// The embedder is only constructed to resolve the active model
	// version; no embedding calls are made during a rebuild.
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
	modelVersion := embedder.ModelVersion()
	embedder.Close()

	var indexed int
	err = cliui.Step(os.Stdout, fmt.Sprintf("Rebuilding index for %s", modelVersion), func() error {
		var stepErr error
		indexed, stepErr = semindex.Rebuild(ctx, repo, index, modelVersion, c.logger)
		return stepErr
	})
	if err != nil {
		return fmt.Errorf("rebuilding index: %w", err)
	}

	fmt.Printf("  %s Indexed %d packets\n", cliui.SuccessMark, indexed)
	return nil
}
