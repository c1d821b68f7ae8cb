package similarity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memkeep/internal/llm"
	"github.com/scrypster/memkeep/pkg/types"
)

type brokenEmbedder struct{}

func (brokenEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("down")
}
func (brokenEmbedder) Model() string { return "broken" }

func TestLexical(t *testing.T) {
	ctx := context.Background()
	s, err := Lexical{}.Similarity(ctx, Item{Text: "User prefers dark mode"}, Item{Text: "user prefers DARK mode!"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, s, 1e-9)

	s, _ = Lexical{}.Similarity(ctx, Item{Text: "User prefers dark mode"}, Item{Text: "Team uses Redis"})
	assert.Zero(t, s)
}

func TestEmbedding_UsesStoredVectors(t *testing.T) {
	m := Embedding{Embedder: brokenEmbedder{}}
	s, err := m.Similarity(context.Background(),
		Of(&types.Memory{Content: "a", Embedding: []float32{1, 0}}),
		Of(&types.Memory{Content: "b", Embedding: []float32{-1, 0}}))
	require.NoError(t, err)
	assert.Zero(t, s, "opposite vectors clamp to 0")
}

func TestEmbedding_EmbedsMissingAndMismatched(t *testing.T) {
	e := llm.NewHashEmbedder(32)
	m := Embedding{Embedder: e}
	s, err := m.Similarity(context.Background(),
		Item{Text: "editor theme dark", Vector: []float32{1, 0, 0}},
		Item{Text: "editor theme dark"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, s, 1e-6)
}

func TestFallback(t *testing.T) {
	m := New(brokenEmbedder{})
	s, err := m.Similarity(context.Background(), Item{Text: "likes tea"}, Item{Text: "likes tea"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, s, 1e-9)

	assert.IsType(t, Lexical{}, New(nil))
}
