// Package ranking turns fused retrieval scores into the final ordering:
// similarity blended with recency decay, then scope precedence.
package ranking

import (
	"math"
	"time"
)

const (
	// DefaultHalfLifeDays is the number of days for decay to halve without
	// any access. At 30 days a memory sits at 0.5; at 60 days, 0.25.
	DefaultHalfLifeDays = 30.0

	// DefaultDecayWeight is the share of relevance that depends on recency.
	DefaultDecayWeight = 0.3
)

// Decay returns 2^(-daysSinceAccess / halfLifeDays) in [0,1]. A lastAccessed
// in the future (clock skew) returns 1.0. A non-positive half-life disables
// decay.
func Decay(lastAccessed, now time.Time, halfLifeDays float64) float64 {
	if halfLifeDays <= 0 {
		return 1
	}
	elapsed := now.Sub(lastAccessed)
	if elapsed <= 0 {
		return 1
	}
	days := elapsed.Hours() / 24.0
	return math.Pow(2, -days/halfLifeDays)
}

// Relevance blends similarity with decay:
//
//	similarity * ((1 - decayWeight) + decay * decayWeight)
//
// clamped to [0,1]. With decayWeight 0 relevance equals similarity; with 1
// it equals similarity * decay.
func Relevance(similarity float64, lastAccessed, now time.Time, decayWeight, halfLifeDays float64) float64 {
	d := Decay(lastAccessed, now, halfLifeDays)
	return clamp(similarity * ((1 - decayWeight) + d*decayWeight))
}

func clamp(v float64) float64 {
	return math.Min(math.Max(v, 0.0), 1.0)
}
