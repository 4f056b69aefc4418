// Package config handles YAML configuration loading, environment
// variable expansion, and structural validation for memoryd.
package config

import "time"

// Config is the top-level configuration structure.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Rerank    RerankConfig    `yaml:"rerank"`
	Fusion    FusionConfig    `yaml:"fusion"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Registry  RegistryConfig  `yaml:"registry"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// StorageConfig names the on-disk stores.
type StorageConfig struct {
	// ConversationDB is the SQLite file holding conversation turns.
	ConversationDB string `yaml:"conversation_db"`
	// KnowledgeDB is the SQLite file tracking knowledge bases and files.
	KnowledgeDB string `yaml:"knowledge_db"`
	// VectorDir is the vector database directory. Empty means in-memory.
	VectorDir string `yaml:"vector_dir"`
}

// EmbeddingConfig configures the external embedding model.
type EmbeddingConfig struct {
	// Endpoint overrides the OpenAI-compatible base URL.
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	// CacheSize bounds the embedding cache entry count. Zero means 4096.
	CacheSize int `yaml:"cache_size"`
	// Mock swaps the external model for a deterministic local embedder.
	Mock bool `yaml:"mock"`
}

// RerankConfig configures the optional cross-encoder reranker.
type RerankConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// FusionConfig tunes result fusion.
type FusionConfig struct {
	Weights WeightsConfig `yaml:"weights"`
	// Timeout bounds each per-store query. Empty means "3s".
	Timeout string `yaml:"timeout"`
	// Limit is the default top-K per fusion query.
	Limit int `yaml:"limit"`
	// TokenBudget bounds the rendered context block.
	TokenBudget int `yaml:"token_budget"`
	// Oversample multiplies vector-store ask size for rerank headroom.
	Oversample int `yaml:"oversample"`
}

// WeightsConfig holds per-source fusion weights.
type WeightsConfig struct {
	Conversation float64 `yaml:"conversation"`
	Private      float64 `yaml:"private"`
	Public       float64 `yaml:"public"`
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	QueueSize int `yaml:"queue_size"`
	Workers   int `yaml:"workers"`
	BatchSize int `yaml:"batch_size"`
	// SweepSchedule is a cron expression with optional seconds field.
	// Empty means "*/30 * * * * *".
	SweepSchedule string `yaml:"sweep_schedule"`
	// StuckAge is how long a file may sit in processing before the
	// sweep fails it. Empty means "1h".
	StuckAge string `yaml:"stuck_age"`
}

// RegistryConfig tunes the store registry.
type RegistryConfig struct {
	// MaxIdle is how long an unused store instance survives before the
	// cleanup job closes it. Empty means "30m".
	MaxIdle string `yaml:"max_idle"`
	// CleanupSchedule is the cleanup cron expression. Empty means
	// "*/5 * * * *".
	CleanupSchedule string `yaml:"cleanup_schedule"`
}

// GatewayConfig configures the HTTP gateway.
type GatewayConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr"`
	// BearerToken protects the /api routes when set. Empty leaves the
	// gateway open, which only makes sense behind a trusted proxy.
	BearerToken string `yaml:"bearer_token"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Endpoint is the OTLP/HTTP collector address. Empty uses the
	// exporter's environment-driven default.
	Endpoint string `yaml:"endpoint"`
}

// withDefaults fills zero-valued fields with sensible defaults.
func (c *Config) withDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Storage.ConversationDB == "" {
		c.Storage.ConversationDB = "data/conversation.db"
	}
	if c.Storage.KnowledgeDB == "" {
		c.Storage.KnowledgeDB = "data/knowledge.db"
	}
	if c.Embedding.CacheSize <= 0 {
		c.Embedding.CacheSize = 4096
	}
	if c.Fusion.Weights == (WeightsConfig{}) {
		c.Fusion.Weights = WeightsConfig{Conversation: 0.8, Private: 1.5, Public: 0.6}
	}
	if c.Fusion.Timeout == "" {
		c.Fusion.Timeout = "3s"
	}
	if c.Fusion.Limit <= 0 {
		c.Fusion.Limit = 6
	}
	if c.Fusion.Oversample <= 0 {
		c.Fusion.Oversample = 2
	}
	if c.Ingest.QueueSize <= 0 {
		c.Ingest.QueueSize = 100
	}
	if c.Ingest.Workers <= 0 {
		c.Ingest.Workers = 4
	}
	if c.Ingest.BatchSize <= 0 {
		c.Ingest.BatchSize = 10
	}
	if c.Ingest.SweepSchedule == "" {
		c.Ingest.SweepSchedule = "*/30 * * * * *"
	}
	if c.Ingest.StuckAge == "" {
		c.Ingest.StuckAge = "1h"
	}
	if c.Registry.MaxIdle == "" {
		c.Registry.MaxIdle = "30m"
	}
	if c.Registry.CleanupSchedule == "" {
		c.Registry.CleanupSchedule = "*/5 * * * *"
	}
	if c.Gateway.Addr == "" {
		c.Gateway.Addr = ":8080"
	}
}

// FusionTimeout returns the per-store query timeout.
// Assumes the value has been validated.
func (c *Config) FusionTimeout() time.Duration {
	return parsedDuration(c.Fusion.Timeout, 3*time.Second)
}

// StuckAge returns the processing-timeout threshold for the sweep.
func (c *Config) StuckAge() time.Duration {
	return parsedDuration(c.Ingest.StuckAge, time.Hour)
}

// RegistryMaxIdle returns the idle store eviction threshold.
func (c *Config) RegistryMaxIdle() time.Duration {
	return parsedDuration(c.Registry.MaxIdle, 30*time.Minute)
}

func parsedDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
