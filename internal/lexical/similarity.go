package lexical

import "math"

// CosineTF returns the cosine similarity of the term-frequency vectors of a
// and b after stopword removal. Identical texts score 1, disjoint texts 0.
func CosineTF(a, b string) float64 {
	ta, tb := termFreq(a), termFreq(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	var dot, na, nb float64
	for t, fa := range ta {
		na += float64(fa * fa)
		if fb, ok := tb[t]; ok {
			dot += float64(fa * fb)
		}
	}
	for _, fb := range tb {
		nb += float64(fb * fb)
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func termFreq(s string) map[string]int {
	tf := make(map[string]int)
	for _, t := range ContentTokens(s) {
		tf[t]++
	}
	return tf
}

// CosineVec computes cosine similarity between two float32 vectors.
// Mismatched or zero vectors score 0.
func CosineVec(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
