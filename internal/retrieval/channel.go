package retrieval

import (
	"context"
	"fmt"

	"github.com/scrypster/memkeep/internal/llm"
	"github.com/scrypster/memkeep/internal/storage"
	"github.com/scrypster/memkeep/pkg/types"
)

// Channel is one first-stage retriever. Search returns hits best first.
type Channel interface {
	Name() types.Channel
	Search(ctx context.Context, q Query, k int) ([]types.ScoredMemory, error)
}

// LexicalChannel ranks by BM25. Stores with native full-text search
// (storage.LexicalSearcher) are queried directly; for any other store the
// reader's visible memories are ranked in process.
type LexicalChannel struct {
	store storage.Store
}

// NewLexicalChannel creates the lexical channel over store.
func NewLexicalChannel(store storage.Store) *LexicalChannel {
	return &LexicalChannel{store: store}
}

func (c *LexicalChannel) Name() types.Channel { return types.ChannelLexical }

func (c *LexicalChannel) Search(ctx context.Context, q Query, k int) ([]types.ScoredMemory, error) {
	if ls, ok := c.store.(storage.LexicalSearcher); ok {
		return ls.LexicalSearch(ctx, q.UserID, q.ProjectID, q.Text, k)
	}
	ms, err := c.store.Search(ctx, q.UserID, storage.Filters{ProjectID: q.ProjectID}, 0)
	if err != nil {
		return nil, fmt.Errorf("lexical: load candidates: %w", err)
	}
	return storage.RankByBM25(ms, q.Text, k), nil
}

// VectorChannel embeds the query and runs nearest-neighbour search, natively
// when the store is a storage.VectorSearcher and by brute force otherwise.
type VectorChannel struct {
	store    storage.Store
	embedder llm.Embedder
}

// NewVectorChannel creates the vector channel over store.
func NewVectorChannel(store storage.Store, embedder llm.Embedder) *VectorChannel {
	return &VectorChannel{store: store, embedder: embedder}
}

func (c *VectorChannel) Name() types.Channel { return types.ChannelVector }

func (c *VectorChannel) Search(ctx context.Context, q Query, k int) ([]types.ScoredMemory, error) {
	vec, err := c.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("vector: embed query: %w", err)
	}
	if vs, ok := c.store.(storage.VectorSearcher); ok {
		return vs.VectorSearch(ctx, q.UserID, q.ProjectID, vec, k)
	}
	ms, err := c.store.Search(ctx, q.UserID, storage.Filters{ProjectID: q.ProjectID}, 0)
	if err != nil {
		return nil, fmt.Errorf("vector: load candidates: %w", err)
	}
	return storage.RankByVector(ms, vec, k), nil
}
