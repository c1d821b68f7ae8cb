package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/scrypster/memkeep/internal/llm"
	"github.com/scrypster/memkeep/pkg/types"
)

// ErrRerankUnavailable wraps any reranker failure. The hybrid retriever
// recovers from it by keeping the fused order.
var ErrRerankUnavailable = errors.New("rerank unavailable")

// Reranker reorders hydrated fused results. Implementations must not modify
// the input slice; the caller keeps it as the fallback order.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []types.HybridResult) ([]types.HybridResult, error)
}

// Passthrough keeps the fused order unchanged.
type Passthrough struct{}

func (Passthrough) Rerank(_ context.Context, _ string, results []types.HybridResult) ([]types.HybridResult, error) {
	return results, nil
}

// ScorerReranker scores the top N results with a pairwise llm.Scorer and
// sorts them by that score. Results past N keep their fused order behind
// the reranked head.
type ScorerReranker struct {
	scorer      llm.Scorer
	topN        int
	concurrency int
}

// NewScorerReranker reranks the top topN results, running up to
// concurrency scorer calls at once.
func NewScorerReranker(scorer llm.Scorer, topN, concurrency int) *ScorerReranker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &ScorerReranker{scorer: scorer, topN: topN, concurrency: concurrency}
}

// Rerank fails as a whole if any single score fails; partial rerank orders
// would mix incomparable scales.
func (r *ScorerReranker) Rerank(ctx context.Context, query string, results []types.HybridResult) ([]types.HybridResult, error) {
	n := len(results)
	if r.topN > 0 && r.topN < n {
		n = r.topN
	}
	scores := make([]float64, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			s, err := r.scorer.Score(gctx, query, results[i].Memory.Content)
			if err != nil {
				return err
			}
			scores[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRerankUnavailable, err)
	}

	out := make([]types.HybridResult, len(results))
	copy(out, results)
	for i := 0; i < n; i++ {
		s := scores[i]
		out[i].RerankScore = &s
	}
	head := out[:n]
	sort.SliceStable(head, func(i, j int) bool {
		return *head[i].RerankScore > *head[j].RerankScore
	})
	return out, nil
}
