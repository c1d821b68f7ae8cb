package llm

import (
	"context"
	"fmt"

	"github.com/scrypster/memkeep/internal/lexical"
)

// OverlapScorer is the pattern-based reranker: term-frequency cosine between
// query and candidate after stopword removal.
type OverlapScorer struct{}

var _ Scorer = OverlapScorer{}

// Score never fails except on cancellation.
func (OverlapScorer) Score(ctx context.Context, query, candidate string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return lexical.CosineTF(query, candidate), nil
}

// EmbeddingScorer is the model-based reranker: cosine similarity of the
// query and candidate embeddings, with negative similarity clamped to 0.
type EmbeddingScorer struct {
	embedder Embedder
}

// NewEmbeddingScorer scores with the given embedder.
func NewEmbeddingScorer(e Embedder) *EmbeddingScorer {
	return &EmbeddingScorer{embedder: e}
}

// Score embeds both texts and compares them.
func (s *EmbeddingScorer) Score(ctx context.Context, query, candidate string) (float64, error) {
	q, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("embed query: %w", err)
	}
	c, err := s.embedder.Embed(ctx, candidate)
	if err != nil {
		return 0, fmt.Errorf("embed candidate: %w", err)
	}
	sim := lexical.CosineVec(q, c)
	if sim < 0 {
		return 0, nil
	}
	return sim, nil
}

// BreakerScorer guards a Scorer with a circuit breaker. Once the breaker
// opens, Score fails fast with ErrCircuitOpen so the retriever falls back to
// fused order without waiting on a broken backend.
type BreakerScorer struct {
	next    Scorer
	breaker *CircuitBreaker
}

// NewBreakerScorer wraps next. A nil breaker gets the defaults.
func NewBreakerScorer(next Scorer, breaker *CircuitBreaker) *BreakerScorer {
	if breaker == nil {
		breaker = NewCircuitBreaker("scorer")
	}
	return &BreakerScorer{next: next, breaker: breaker}
}

// Score runs the wrapped scorer through the breaker.
func (b *BreakerScorer) Score(ctx context.Context, query, candidate string) (float64, error) {
	v, err := b.breaker.Execute(ctx, func() (interface{}, error) {
		return b.next.Score(ctx, query, candidate)
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// Breaker exposes the breaker for health reporting.
func (b *BreakerScorer) Breaker() *CircuitBreaker { return b.breaker }
