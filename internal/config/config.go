// Package config provides configuration management for memkeep.
//
// Settings are resolved in layers: built-in defaults, then an optional YAML
// file, then environment variables with the MEMKEEP_ prefix. The result is
// validated before use. Each component keeps its own Config type; this
// package only aggregates and overrides them.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/memkeep/internal/ingest"
	"github.com/scrypster/memkeep/internal/janitor"
	"github.com/scrypster/memkeep/internal/llm"
	"github.com/scrypster/memkeep/internal/ranking"
	"github.com/scrypster/memkeep/internal/retrieval"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config holds all configuration settings for memkeep.
type Config struct {
	Storage   StorageConfig      `yaml:"storage"`
	Embedder  llm.EmbedderConfig `yaml:"embedder"`
	Scorer    llm.ScorerConfig   `yaml:"scorer"`
	Ingest    ingest.Config      `yaml:"ingest"`
	Retrieval retrieval.Config   `yaml:"retrieval"`
	Ranking   ranking.Config     `yaml:"ranking"`
	Janitor   janitor.Config     `yaml:"janitor"`
	Log       LogConfig          `yaml:"log"`
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	Backend string `yaml:"backend"` // memory, sqlite, postgres (default: sqlite)
	DSN     string `yaml:"dsn"`     // sqlite path or postgres DSN (default: ./data/memkeep.db)
	// VectorIndex wraps the backend with an in-process chromem index.
	VectorIndex bool `yaml:"vector_index"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: info)
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{Backend: BackendSQLite, DSN: "./data/memkeep.db"},
		Embedder: llm.EmbedderConfig{
			Provider:   llm.ProviderHash,
			BaseURL:    llm.DefaultOllamaURL,
			Model:      llm.DefaultEmbeddingModel,
			Dimensions: 256,
			Timeout:    5 * time.Second,
			CacheSize:  10000,
		},
		Scorer:    llm.ScorerConfig{Provider: llm.ProviderOverlap},
		Ingest:    ingest.DefaultConfig(),
		Retrieval: retrieval.DefaultConfig(),
		Ranking:   ranking.DefaultConfig(),
		Janitor:   janitor.DefaultConfig(),
		Log:       LogConfig{Level: "info"},
	}
}

// Load resolves the configuration: defaults, then the YAML file at path (if
// path is non-empty), then MEMKEEP_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from the environment. Unset or unparsable
// variables keep the current value.
func (c *Config) applyEnv() {
	c.Storage.Backend = getEnv("MEMKEEP_STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.DSN = getEnv("MEMKEEP_STORAGE_DSN", c.Storage.DSN)
	c.Storage.VectorIndex = getEnvBool("MEMKEEP_VECTOR_INDEX", c.Storage.VectorIndex)

	c.Embedder.Provider = getEnv("MEMKEEP_EMBEDDER", c.Embedder.Provider)
	c.Embedder.BaseURL = getEnv("MEMKEEP_OLLAMA_URL", c.Embedder.BaseURL)
	c.Embedder.Model = getEnv("MEMKEEP_EMBEDDING_MODEL", c.Embedder.Model)
	c.Embedder.Dimensions = getEnvInt("MEMKEEP_EMBEDDING_DIMENSIONS", c.Embedder.Dimensions)
	c.Embedder.Timeout = getEnvDuration("MEMKEEP_EMBEDDING_TIMEOUT", c.Embedder.Timeout)
	c.Scorer.Provider = getEnv("MEMKEEP_SCORER", c.Scorer.Provider)

	c.Ingest.AcceptThreshold = getEnvFloat("MEMKEEP_ACCEPT_THRESHOLD", c.Ingest.AcceptThreshold)
	c.Ingest.RejectThreshold = getEnvFloat("MEMKEEP_REJECT_THRESHOLD", c.Ingest.RejectThreshold)
	c.Ingest.DedupThreshold = getEnvFloat("MEMKEEP_DEDUP_THRESHOLD", c.Ingest.DedupThreshold)

	c.Retrieval.DefaultK = getEnvInt("MEMKEEP_DEFAULT_K", c.Retrieval.DefaultK)
	c.Retrieval.ChannelTimeout = getEnvDuration("MEMKEEP_CHANNEL_TIMEOUT", c.Retrieval.ChannelTimeout)
	c.Retrieval.RerankTimeout = getEnvDuration("MEMKEEP_RERANK_TIMEOUT", c.Retrieval.RerankTimeout)

	c.Ranking.HalfLifeDays = getEnvFloat("MEMKEEP_HALF_LIFE_DAYS", c.Ranking.HalfLifeDays)
	c.Ranking.DecayWeight = getEnvFloat("MEMKEEP_DECAY_WEIGHT", c.Ranking.DecayWeight)

	c.Janitor.DedupThreshold = getEnvFloat("MEMKEEP_DEDUP_THRESHOLD", c.Janitor.DedupThreshold)
	c.Janitor.Interval = getEnvDuration("MEMKEEP_JANITOR_INTERVAL", c.Janitor.Interval)
	c.Janitor.Workers = getEnvInt("MEMKEEP_JANITOR_WORKERS", c.Janitor.Workers)

	c.Log.Level = getEnv("MEMKEEP_LOG_LEVEL", c.Log.Level)
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite, BackendPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, fmt.Errorf("storage: dsn is required for %s", c.Storage.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("storage: unsupported backend %q", c.Storage.Backend))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log: unsupported level %q", c.Log.Level))
	}
	if err := c.Ingest.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("ingest: %w", err))
	}
	if err := c.Retrieval.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retrieval: %w", err))
	}
	if err := c.Ranking.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("ranking: %w", err))
	}
	if err := c.Janitor.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("janitor: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}
