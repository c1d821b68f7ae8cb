package storage

import (
	"sort"

	"github.com/scrypster/memkeep/internal/lexical"
	"github.com/scrypster/memkeep/pkg/types"
)

// RankByVector orders memories by cosine similarity to vector, dropping those
// without an embedding of matching dimension. Ties break on id. It is the
// brute-force path shared by backends without an ANN index.
func RankByVector(memories []*types.Memory, vector []float32, k int) []types.ScoredMemory {
	var out []types.ScoredMemory
	for _, m := range memories {
		if len(m.Embedding) == 0 || len(m.Embedding) != len(vector) {
			continue
		}
		out = append(out, types.ScoredMemory{Memory: m, Score: lexical.CosineVec(vector, m.Embedding)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Memory.ID < out[j].Memory.ID
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// RankByBM25 scores memories against query with an in-process BM25 index
// built over exactly the given set. Results with no matching term are
// dropped.
func RankByBM25(memories []*types.Memory, query string, k int) []types.ScoredMemory {
	docs := make([]lexical.Document, len(memories))
	byID := make(map[string]*types.Memory, len(memories))
	for i, m := range memories {
		docs[i] = lexical.Document{ID: m.ID, Text: m.Content}
		byID[m.ID] = m
	}
	hits := lexical.NewBM25(docs).Search(query, k)
	out := make([]types.ScoredMemory, len(hits))
	for i, h := range hits {
		out[i] = types.ScoredMemory{Memory: byID[h.ID], Score: h.Score}
	}
	return out
}
