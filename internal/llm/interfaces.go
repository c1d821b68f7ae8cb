// Package llm defines the model-backed collaborators of the memory pipeline:
// an Embedder that turns text into vectors for the vector channel and the
// duplicate checks, and a Scorer that reranks retrieval candidates.
//
// Every backend is optional. Callers treat a nil Embedder or Scorer as
// "disabled" and fall back to lexical behaviour.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by a backend that cannot serve the call right
// now (network failure, missing model, empty response).
var ErrUnavailable = errors.New("model backend unavailable")

// Embedder produces vector embeddings for semantic search.
type Embedder interface {
	// Embed returns the embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Model returns the identifier of the embedding model, used as part of
	// cache keys so vectors from different models never mix.
	Model() string
}

// Scorer judges how well candidate answers query. Scores are in [0,1].
type Scorer interface {
	Score(ctx context.Context, query, candidate string) (float64, error)
}

// ScorerFunc adapts a plain function to the Scorer interface.
type ScorerFunc func(ctx context.Context, query, candidate string) (float64, error)

// Score calls f.
func (f ScorerFunc) Score(ctx context.Context, query, candidate string) (float64, error) {
	return f(ctx, query, candidate)
}
