package llm

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// DefaultCacheEntries is the embedding cache capacity in vectors.
const DefaultCacheEntries = 10_000

// CachedEmbedder memoises another Embedder in a ristretto cache keyed by
// model and text. Ingestion embeds each memory once, and the janitor and
// validator re-embed the same contents repeatedly, so most calls hit.
//
// Errors are never cached.
type CachedEmbedder struct {
	next  Embedder
	cache *ristretto.Cache
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps next with a cache holding up to maxEntries vectors.
func NewCachedEmbedder(next Embedder, maxEntries int64) (*CachedEmbedder, error) {
	if next == nil {
		return nil, fmt.Errorf("llm: cached embedder needs a backing embedder")
	}
	if maxEntries <= 0 {
		maxEntries = DefaultCacheEntries
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: create embedding cache: %w", err)
	}
	return &CachedEmbedder{next: next, cache: cache}, nil
}

// Model returns the wrapped embedder's model.
func (c *CachedEmbedder) Model() string { return c.next.Model() }

// Embed returns a cached vector when present, otherwise embeds and caches.
// Callers get their own copy of the vector.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.next.Model() + "\x00" + text
	if v, ok := c.cache.Get(key); ok {
		return append([]float32(nil), v.([]float32)...), nil
	}
	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, append([]float32(nil), vec...), 1)
	return vec, nil
}

// Wait blocks until pending cache writes are applied. Tests use it to make
// Set visible to the next Get.
func (c *CachedEmbedder) Wait() { c.cache.Wait() }

// Close releases the cache goroutines.
func (c *CachedEmbedder) Close() { c.cache.Close() }
