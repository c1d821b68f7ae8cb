package llm

import (
	"context"
	"math"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/scrypster/memkeep/internal/lexical"
)

// DefaultHashDimensions is the vector width of a HashEmbedder.
const DefaultHashDimensions = 256

// HashEmbedder is a deterministic, model-free embedder. Each content token is
// hashed into one of Dimensions buckets with a hashed sign (the "hashing
// trick"), and the vector is L2 normalised. Texts sharing vocabulary get
// similar vectors, which is enough to run the vector channel offline and in
// tests.
type HashEmbedder struct {
	dims int
}

var _ Embedder = (*HashEmbedder)(nil)

// NewHashEmbedder returns an embedder producing vectors of dims entries.
// dims <= 0 uses DefaultHashDimensions.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &HashEmbedder{dims: dims}
}

// Model identifies the bucket count so caches never mix widths.
func (h *HashEmbedder) Model() string {
	return "hash-" + strconv.Itoa(h.dims)
}

// Embed never fails except on cancellation. Text without content tokens
// yields the zero vector.
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, h.dims)
	for _, tok := range lexical.ContentTokens(text) {
		sum := xxhash.Sum64String(tok)
		idx := int(sum % uint64(h.dims))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}
