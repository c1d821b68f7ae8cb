package llm

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

// Provider names accepted by the factories.
const (
	ProviderNone      = "none"
	ProviderHash      = "hash"
	ProviderOllama    = "ollama"
	ProviderOverlap   = "overlap"
	ProviderEmbedding = "embedding"
)

// EmbedderConfig selects and configures an embedding backend.
type EmbedderConfig struct {
	Provider   string        `yaml:"provider"` // none, hash, ollama
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"` // hash only
	Timeout    time.Duration `yaml:"timeout"`
	CacheSize  int64         `yaml:"cache_size"` // 0 disables the cache
}

// ScorerConfig selects a reranker.
type ScorerConfig struct {
	Provider string `yaml:"provider"` // none, overlap, embedding
}

// NewEmbedder creates the Embedder described by cfg. It returns (nil, nil)
// for the "none" provider so callers can treat embedding as disabled.
func NewEmbedder(cfg EmbedderConfig, logger *log.Logger) (Embedder, error) {
	var e Embedder
	switch cfg.Provider {
	case ProviderNone, "":
		return nil, nil
	case ProviderHash:
		e = NewHashEmbedder(cfg.Dimensions)
	case ProviderOllama:
		breaker := DefaultCircuitBreakerConfig("ollama-embedder")
		breaker.Logger = logger
		oe, err := NewOllamaEmbedder(OllamaConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
			Breaker: breaker,
		})
		if err != nil {
			return nil, err
		}
		e = oe
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", cfg.Provider)
	}

	if cfg.CacheSize > 0 {
		cached, err := NewCachedEmbedder(e, cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		return cached, nil
	}
	return e, nil
}

// NewScorer creates the reranking Scorer described by cfg, wrapped in a
// circuit breaker. The embedding scorer needs a non-nil embedder. Returns
// (nil, nil) when reranking is disabled.
func NewScorer(cfg ScorerConfig, embedder Embedder, logger *log.Logger) (Scorer, error) {
	var s Scorer
	switch cfg.Provider {
	case ProviderNone, "":
		return nil, nil
	case ProviderOverlap:
		s = OverlapScorer{}
	case ProviderEmbedding:
		if embedder == nil {
			return nil, fmt.Errorf("embedding scorer requires an embedding provider")
		}
		s = NewEmbeddingScorer(embedder)
	default:
		return nil, fmt.Errorf("unsupported scorer provider: %q", cfg.Provider)
	}
	breaker := DefaultCircuitBreakerConfig("scorer")
	breaker.Logger = logger
	return NewBreakerScorer(s, NewCircuitBreakerWithConfig(breaker)), nil
}
