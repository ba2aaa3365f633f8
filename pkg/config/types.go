package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Config represents the persistent substrate configuration stored as
// config.toml in the .substrate/ directory. The TOML layout uses sections
// for logical grouping.
type Config struct {
	Version       int                 `toml:"version"`
	Storage       StorageConfig       `toml:"storage"`
	API           APIConfig           `toml:"api"`
	Client        ClientConfig        `toml:"client"`
	Index         IndexConfig         `toml:"index"`
	Embedding     EmbeddingConfig     `toml:"embedding"`
	Insight       InsightConfig       `toml:"insight"`
	WorldModel    WorldModelConfig    `toml:"world_model"`
	Pipeline      PipelineConfig      `toml:"pipeline"`
	Consolidation ConsolidationConfig `toml:"consolidation"`
}

// StorageConfig holds repository settings.
type StorageConfig struct {
	// Driver selects the repository backend: "sqlite", "postgres", or
	// "memory".
	Driver      string `toml:"driver,omitempty"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresURL string `toml:"postgres_url,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// ClientConfig holds settings for CLI commands that talk to a running
// substrate API server.
type ClientConfig struct {
	APITarget string `toml:"api_target,omitempty"`
}

// IndexConfig holds semantic index settings.
type IndexConfig struct {
	// Provider selects the index backend: "memory", "sqlitevec", or
	// "qdrant".
	Provider   string `toml:"provider,omitempty"`
	DBPath     string `toml:"db_path,omitempty"`
	Host       string `toml:"host,omitempty"`
	Port       int    `toml:"port,omitempty"`
	Collection string `toml:"collection,omitempty"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Model      string `toml:"model,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`
	APIKey     string `toml:"api_key,omitempty"`
}

// InsightConfig holds insight extractor settings.
type InsightConfig struct {
	Provider string `toml:"provider,omitempty"`
}

// WorldModelConfig holds world-model sink settings.
type WorldModelConfig struct {
	// Provider selects the sink: "nop" or "kafka".
	Provider string   `toml:"provider,omitempty"`
	Brokers  []string `toml:"brokers,omitempty"`
	Topic    string   `toml:"topic,omitempty"`
}

// PipelineConfig holds ingestion worker settings.
type PipelineConfig struct {
	Workers   uint `toml:"workers,omitempty"`
	QueueSize uint `toml:"queue_size,omitempty"`
}

// ConsolidationConfig holds background consolidation settings.
// Durations use Go duration syntax ("10m", "1h").
type ConsolidationConfig struct {
	Interval    string `toml:"interval,omitempty"`
	GracePeriod string `toml:"grace_period,omitempty"`
	MinAge      string `toml:"min_age,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.driver": {
		get: func(c *Config) string { return c.Storage.Driver },
		set: func(c *Config, v string) error { c.Storage.Driver = v; return nil },
	},
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"storage.postgres_url": {
		get: func(c *Config) string { return c.Storage.PostgresURL },
		set: func(c *Config, v string) error { c.Storage.PostgresURL = v; return nil },
	},
	"api.listen": {
		get: func(c *Config) string { return c.API.Listen },
		set: func(c *Config, v string) error { c.API.Listen = v; return nil },
	},
	"client.api_target": {
		get: func(c *Config) string { return c.Client.APITarget },
		set: func(c *Config, v string) error { c.Client.APITarget = v; return nil },
	},
	"index.provider": {
		get: func(c *Config) string { return c.Index.Provider },
		set: func(c *Config, v string) error { c.Index.Provider = v; return nil },
	},
	"index.db_path": {
		get: func(c *Config) string { return c.Index.DBPath },
		set: func(c *Config, v string) error { c.Index.DBPath = v; return nil },
	},
	"index.host": {
		get: func(c *Config) string { return c.Index.Host },
		set: func(c *Config, v string) error { c.Index.Host = v; return nil },
	},
	"index.port": {
		get: func(c *Config) string {
			if c.Index.Port == 0 {
				return ""
			}
			return strconv.Itoa(c.Index.Port)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for index.port: %w", err)
			}
			c.Index.Port = n
			return nil
		},
	},
	"index.collection": {
		get: func(c *Config) string { return c.Index.Collection },
		set: func(c *Config, v string) error { c.Index.Collection = v; return nil },
	},
	"embedding.provider": {
		get: func(c *Config) string { return c.Embedding.Provider },
		set: func(c *Config, v string) error { c.Embedding.Provider = v; return nil },
	},
	"embedding.target": {
		get: func(c *Config) string { return c.Embedding.Target },
		set: func(c *Config, v string) error { c.Embedding.Target = v; return nil },
	},
	"embedding.model": {
		get: func(c *Config) string { return c.Embedding.Model },
		set: func(c *Config, v string) error { c.Embedding.Model = v; return nil },
	},
	"embedding.dimensions": {
		get: func(c *Config) string {
			if c.Embedding.Dimensions == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Embedding.Dimensions), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for embedding.dimensions: %w", err)
			}
			c.Embedding.Dimensions = uint(n)
			return nil
		},
	},
	"embedding.api_key": {
		get: func(c *Config) string { return c.Embedding.APIKey },
		set: func(c *Config, v string) error { c.Embedding.APIKey = v; return nil },
	},
	"insight.provider": {
		get: func(c *Config) string { return c.Insight.Provider },
		set: func(c *Config, v string) error { c.Insight.Provider = v; return nil },
	},
	"world_model.provider": {
		get: func(c *Config) string { return c.WorldModel.Provider },
		set: func(c *Config, v string) error { c.WorldModel.Provider = v; return nil },
	},
	"world_model.brokers": {
		get: func(c *Config) string { return strings.Join(c.WorldModel.Brokers, ",") },
		set: func(c *Config, v string) error {
			c.WorldModel.Brokers = nil
			for _, b := range strings.Split(v, ",") {
				if b = strings.TrimSpace(b); b != "" {
					c.WorldModel.Brokers = append(c.WorldModel.Brokers, b)
				}
			}
			return nil
		},
	},
	"world_model.topic": {
		get: func(c *Config) string { return c.WorldModel.Topic },
		set: func(c *Config, v string) error { c.WorldModel.Topic = v; return nil },
	},
	"pipeline.workers": {
		get: func(c *Config) string {
			if c.Pipeline.Workers == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Pipeline.Workers), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for pipeline.workers: %w", err)
			}
			c.Pipeline.Workers = uint(n)
			return nil
		},
	},
	"pipeline.queue_size": {
		get: func(c *Config) string {
			if c.Pipeline.QueueSize == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Pipeline.QueueSize), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for pipeline.queue_size: %w", err)
			}
			c.Pipeline.QueueSize = uint(n)
			return nil
		},
	},
	"consolidation.interval": {
		get: func(c *Config) string { return c.Consolidation.Interval },
		set: func(c *Config, v string) error { c.Consolidation.Interval = v; return nil },
	},
	"consolidation.grace_period": {
		get: func(c *Config) string { return c.Consolidation.GracePeriod },
		set: func(c *Config, v string) error { c.Consolidation.GracePeriod = v; return nil },
	},
	"consolidation.min_age": {
		get: func(c *Config) string { return c.Consolidation.MinAge },
		set: func(c *Config, v string) error { c.Consolidation.MinAge = v; return nil },
	},
}
