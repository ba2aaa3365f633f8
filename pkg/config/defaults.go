package config

const (
	defaultStorageDriver = "sqlite"

	defaultAPIListen = ":8081"

	defaultAPITarget = "http://localhost:8081"

	defaultIndexProvider   = "sqlitevec"
	defaultIndexHost       = "localhost"
	defaultIndexPort       = 6334
	defaultIndexCollection = "substrate"

	defaultEmbeddingProvider   = "ollama"
	defaultEmbeddingTarget     = "http://localhost:11434"
	defaultEmbeddingModel      = "nomic-embed-text"
	defaultEmbeddingDimensions = 768

	defaultInsightProvider = "heuristic"

	defaultWorldModelProvider = "nop"
	defaultWorldModelTopic    = "substrate.insights"

	defaultPipelineWorkers   = 3
	defaultPipelineQueueSize = 256

	defaultConsolidationInterval = "10m"
	defaultGracePeriod           = "1h"
	defaultMinAge                = "5m"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Driver: defaultStorageDriver,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Client: ClientConfig{
			APITarget: defaultAPITarget,
		},
		Index: IndexConfig{
			Provider:   defaultIndexProvider,
			Host:       defaultIndexHost,
			Port:       defaultIndexPort,
			Collection: defaultIndexCollection,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultEmbeddingProvider,
			Target:     defaultEmbeddingTarget,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
		},
		Insight: InsightConfig{
			Provider: defaultInsightProvider,
		},
		WorldModel: WorldModelConfig{
			Provider: defaultWorldModelProvider,
			Topic:    defaultWorldModelTopic,
		},
		Pipeline: PipelineConfig{
			Workers:   defaultPipelineWorkers,
			QueueSize: defaultPipelineQueueSize,
		},
		Consolidation: ConsolidationConfig{
			Interval:    defaultConsolidationInterval,
			GracePeriod: defaultGracePeriod,
			MinAge:      defaultMinAge,
		},
	}
}
