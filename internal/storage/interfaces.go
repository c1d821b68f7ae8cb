// Package storage defines the store contract the memory pipeline depends on.
//
// The core Store interface is what every component consumes. Backends may
// additionally implement LexicalSearcher and VectorSearcher; the hybrid
// retriever detects them by type assertion and prefers the native search over
// its in-process fallbacks.
package storage

import (
	"context"
	"time"

	"github.com/scrypster/memkeep/pkg/types"
)

// Store is the persistence contract consumed by the validator, retriever and
// janitor. Implementations must be safe for concurrent use.
type Store interface {
	// Store persists a memory and returns its id. An empty ID means the store
	// assigns one; a known ID is overwritten (upsert) and its Version bumped.
	Store(ctx context.Context, memory *types.Memory) (string, error)

	// Retrieve returns up to limit memories visible to userID ranked by the
	// store's own relevance measure for query.
	Retrieve(ctx context.Context, query, userID string, limit int) ([]*types.Memory, error)

	// Search returns memories visible to userID matching filters, newest
	// first. limit <= 0 means no limit.
	Search(ctx context.Context, userID string, filters Filters, limit int) ([]*types.Memory, error)

	// GetByID returns the memory or ErrNotFound.
	GetByID(ctx context.Context, id string) (*types.Memory, error)

	// Delete removes a memory. It reports false when the id did not exist.
	Delete(ctx context.Context, id string) (bool, error)

	// CompareAndDelete removes the memory only if its Version still equals
	// version. It reports false when the memory is gone or has changed.
	CompareAndDelete(ctx context.Context, id string, version int64) (bool, error)

	// Touch sets LastAccessedAt without bumping Version. A missing id
	// returns ErrNotFound.
	Touch(ctx context.Context, id string, at time.Time) error

	// Users lists every distinct owner with at least one memory.
	Users(ctx context.Context) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

// LexicalSearcher is implemented by stores with a native full-text index.
// Results are best first and scores are larger-is-better.
type LexicalSearcher interface {
	LexicalSearch(ctx context.Context, userID, projectID, query string, k int) ([]types.ScoredMemory, error)
}

// VectorSearcher is implemented by stores (or indexes) that can run nearest
// neighbour search over memory embeddings. Scores are cosine similarities.
type VectorSearcher interface {
	VectorSearch(ctx context.Context, userID, projectID string, vector []float32, k int) ([]types.ScoredMemory, error)
}
