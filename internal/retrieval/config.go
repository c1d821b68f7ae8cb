package retrieval

import (
	"fmt"
	"time"
)

// Config holds hybrid retrieval tuning.
type Config struct {
	// DefaultK is the result count when a query sets none (default: 10).
	DefaultK int `yaml:"default_k"`

	// ChannelK is how many hits each channel returns. Zero means the query's
	// K (default: 0).
	ChannelK int `yaml:"channel_k"`

	// RRFK is the reciprocal rank fusion constant (default: 60).
	RRFK int `yaml:"rrf_k"`

	// ChannelTimeout bounds each channel call (default: 500ms).
	ChannelTimeout time.Duration `yaml:"channel_timeout"`

	// RerankTopN is how many fused candidates the reranker reorders (default: 20).
	RerankTopN int `yaml:"rerank_top_n"`

	// RerankTimeout is the reranker's latency budget (default: 1s).
	RerankTimeout time.Duration `yaml:"rerank_timeout"`

	// RerankConcurrency bounds parallel scorer calls (default: 4).
	RerankConcurrency int `yaml:"rerank_concurrency"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultK:          10,
		RRFK:              60,
		ChannelTimeout:    500 * time.Millisecond,
		RerankTopN:        20,
		RerankTimeout:     time.Second,
		RerankConcurrency: 4,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.DefaultK < 1 {
		return fmt.Errorf("DefaultK must be >= 1, got %d", c.DefaultK)
	}
	if c.ChannelK < 0 {
		return fmt.Errorf("ChannelK must be >= 0, got %d", c.ChannelK)
	}
	if c.RRFK < 1 {
		return fmt.Errorf("RRFK must be >= 1, got %d", c.RRFK)
	}
	if c.ChannelTimeout <= 0 {
		return fmt.Errorf("ChannelTimeout must be > 0, got %v", c.ChannelTimeout)
	}
	if c.RerankTopN < 0 {
		return fmt.Errorf("RerankTopN must be >= 0, got %d", c.RerankTopN)
	}
	if c.RerankTimeout <= 0 {
		return fmt.Errorf("RerankTimeout must be > 0, got %v", c.RerankTimeout)
	}
	if c.RerankConcurrency < 1 {
		return fmt.Errorf("RerankConcurrency must be >= 1, got %d", c.RerankConcurrency)
	}
	return nil
}
