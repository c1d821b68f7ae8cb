package lexical

import (
	"math"
	"sort"
)

const (
	// DefaultK1 controls term-frequency saturation.
	DefaultK1 = 1.2
	// DefaultB controls document-length normalisation.
	DefaultB = 0.75
)

// Document is a unit of text indexed by BM25.
type Document struct {
	ID   string
	Text string
}

// Hit is a ranked BM25 result. Rank is 1-based.
type Hit struct {
	ID    string
	Score float64
	Rank  int
}

// BM25 is an immutable Okapi BM25 index built over a fixed document set.
// It is rebuilt per query from the candidate set the store returns, which
// keeps it free of any cross-query state.
type BM25 struct {
	k1, b  float64
	docs   []indexedDoc
	df     map[string]int
	avgLen float64
}

type indexedDoc struct {
	id  string
	tf  map[string]int
	len int
}

// NewBM25 indexes docs with the default parameters.
func NewBM25(docs []Document) *BM25 {
	return NewBM25WithParams(docs, DefaultK1, DefaultB)
}

// NewBM25WithParams indexes docs with custom k1 and b.
func NewBM25WithParams(docs []Document, k1, b float64) *BM25 {
	idx := &BM25{k1: k1, b: b, df: make(map[string]int)}
	total := 0
	for _, d := range docs {
		toks := ContentTokens(d.Text)
		tf := make(map[string]int, len(toks))
		for _, t := range toks {
			tf[t]++
		}
		for t := range tf {
			idx.df[t]++
		}
		idx.docs = append(idx.docs, indexedDoc{id: d.ID, tf: tf, len: len(toks)})
		total += len(toks)
	}
	if len(docs) > 0 {
		idx.avgLen = float64(total) / float64(len(docs))
	}
	return idx
}

// idf uses the BM25+ style floor so very common terms never go negative.
func (idx *BM25) idf(term string) float64 {
	n := float64(len(idx.docs))
	df := float64(idx.df[term])
	return math.Log(1 + (n-df+0.5)/(df+0.5))
}

// Search scores every document against query and returns the top k hits with
// a positive score, best first. Ties break on document id.
func (idx *BM25) Search(query string, k int) []Hit {
	terms := ContentTokens(query)
	if len(terms) == 0 || len(idx.docs) == 0 {
		return nil
	}

	var hits []Hit
	for _, d := range idx.docs {
		score := 0.0
		for _, t := range terms {
			f := float64(d.tf[t])
			if f == 0 {
				continue
			}
			norm := 1 - idx.b
			if idx.avgLen > 0 {
				norm += idx.b * float64(d.len) / idx.avgLen
			}
			score += idx.idf(t) * (f * (idx.k1 + 1)) / (f + idx.k1*norm)
		}
		if score > 0 {
			hits = append(hits, Hit{ID: d.id, Score: score})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	for i := range hits {
		hits[i].Rank = i + 1
	}
	return hits
}
