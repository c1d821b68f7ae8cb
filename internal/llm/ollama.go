package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
)

// Default Ollama connection settings.
const (
	DefaultOllamaURL      = "http://localhost:11434"
	DefaultEmbeddingModel = "nomic-embed-text"
	defaultOllamaTimeout  = 5 * time.Second
)

// OllamaConfig holds Ollama embedder configuration.
type OllamaConfig struct {
	// BaseURL is the base URL for the Ollama API (default: http://localhost:11434)
	BaseURL string

	// Model is the embedding model name (default: nomic-embed-text)
	Model string

	// Timeout bounds each request (default: 5s)
	Timeout time.Duration

	// Breaker overrides the circuit breaker settings. Zero values use defaults.
	Breaker CircuitBreakerConfig
}

// OllamaEmbedder calls a local Ollama server for embeddings. Every request
// goes through a circuit breaker so an unreachable server fails fast.
type OllamaEmbedder struct {
	client         *api.Client
	model          string
	timeout        time.Duration
	circuitBreaker *CircuitBreaker
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an embedder for the given server and model.
func NewOllamaEmbedder(cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultEmbeddingModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultOllamaTimeout
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("ollama: invalid base url %q: %w", cfg.BaseURL, err)
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "ollama-embedder"
	}

	return &OllamaEmbedder{
		client:         api.NewClient(base, &http.Client{Timeout: cfg.Timeout}),
		model:          cfg.Model,
		timeout:        cfg.Timeout,
		circuitBreaker: NewCircuitBreakerWithConfig(cfg.Breaker),
	}, nil
}

// Model returns the configured embedding model.
func (e *OllamaEmbedder) Model() string { return e.model }

// Breaker exposes the circuit breaker for health reporting.
func (e *OllamaEmbedder) Breaker() *CircuitBreaker { return e.circuitBreaker }

// Embed returns the embedding for text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := e.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return e.embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return result.([]float32), nil
}

func (e *OllamaEmbedder) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.Embed(ctx, &api.EmbedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("%w: ollama embed: %v", ErrUnavailable, err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("%w: ollama returned no embedding for model %s", ErrUnavailable, e.model)
	}
	return resp.Embeddings[0], nil
}

// HealthCheck verifies that the Ollama server answers.
func (e *OllamaEmbedder) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := e.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("%w: ollama heartbeat: %v", ErrUnavailable, err)
	}
	return nil
}
