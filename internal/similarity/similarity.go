// Package similarity compares two memories' contents. The validator's
// duplicate check and the janitor's deduplicator both threshold its scores.
package similarity

import (
	"context"

	"github.com/scrypster/memkeep/internal/lexical"
	"github.com/scrypster/memkeep/internal/llm"
	"github.com/scrypster/memkeep/pkg/types"
)

// DefaultThreshold is the score above which two contents are duplicates.
const DefaultThreshold = 0.85

// Item is one side of a comparison. Vector is optional.
type Item struct {
	Text   string
	Vector []float32
}

// Of returns the comparable view of a memory.
func Of(m *types.Memory) Item {
	return Item{Text: m.Content, Vector: m.Embedding}
}

// Measure scores two items in [0,1].
type Measure interface {
	Similarity(ctx context.Context, a, b Item) (float64, error)
}

// Lexical is the pattern-based measure: term-frequency cosine over content
// tokens. It never fails.
type Lexical struct{}

func (Lexical) Similarity(_ context.Context, a, b Item) (float64, error) {
	return lexical.CosineTF(a.Text, b.Text), nil
}

// Embedding is the model-based measure. It compares stored vectors when both
// items carry one of the same width and embeds the missing sides otherwise.
// Negative cosine is clamped to 0.
type Embedding struct {
	Embedder llm.Embedder
}

func (e Embedding) Similarity(ctx context.Context, a, b Item) (float64, error) {
	va, err := e.vector(ctx, a)
	if err != nil {
		return 0, err
	}
	vb, err := e.vector(ctx, b)
	if err != nil {
		return 0, err
	}
	if len(va) != len(vb) {
		// A stored vector from another model; re-embed both texts.
		if va, err = e.Embedder.Embed(ctx, a.Text); err != nil {
			return 0, err
		}
		if vb, err = e.Embedder.Embed(ctx, b.Text); err != nil {
			return 0, err
		}
	}
	s := lexical.CosineVec(va, vb)
	if s < 0 {
		return 0, nil
	}
	return s, nil
}

func (e Embedding) vector(ctx context.Context, it Item) ([]float32, error) {
	if len(it.Vector) > 0 {
		return it.Vector, nil
	}
	return e.Embedder.Embed(ctx, it.Text)
}

// Fallback tries Primary and uses Secondary when Primary errors, so an
// embedder outage degrades duplicate detection to lexical matching instead of
// failing it.
type Fallback struct {
	Primary   Measure
	Secondary Measure
}

func (f Fallback) Similarity(ctx context.Context, a, b Item) (float64, error) {
	s, err := f.Primary.Similarity(ctx, a, b)
	if err == nil {
		return s, nil
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	return f.Secondary.Similarity(ctx, a, b)
}

// New picks the measure for an optional embedder: lexical without one,
// embedding with a lexical fallback otherwise.
func New(embedder llm.Embedder) Measure {
	if embedder == nil {
		return Lexical{}
	}
	return Fallback{Primary: Embedding{Embedder: embedder}, Secondary: Lexical{}}
}
