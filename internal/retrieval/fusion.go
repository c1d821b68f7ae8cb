package retrieval

import (
	"sort"

	"github.com/scrypster/memkeep/pkg/types"
)

// Fuse combines ranked channel lists by reciprocal rank fusion: each memory
// scores the sum of 1/(k+rank) over the channels it appears in. Results are
// ordered by fused score descending, then memory id ascending. A memory
// listed twice in one channel keeps its best rank.
func Fuse(lists map[types.Channel][]types.ScoredMemory, k int) []types.HybridResult {
	byID := make(map[string]*types.HybridResult)
	for ch, hits := range lists {
		for i, h := range hits {
			if h.Memory == nil {
				continue
			}
			id := h.Memory.ID
			r, ok := byID[id]
			if !ok {
				r = &types.HybridResult{MemoryID: id, Memory: h.Memory}
				byID[id] = r
			}
			cs := channelScore(r, ch)
			if cs == nil || cs.Rank != 0 {
				continue
			}
			*cs = types.ChannelScore{Rank: i + 1, Score: h.Score}
			r.FusedScore += 1 / float64(k+i+1)
		}
	}

	out := make([]types.HybridResult, 0, len(byID))
	for _, r := range byID {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		return out[i].MemoryID < out[j].MemoryID
	})
	return out
}

// MaxFusedScore is the best fused score attainable from n channels: rank 1
// in every one of them.
func MaxFusedScore(n, k int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(n) / float64(k+1)
}

func channelScore(r *types.HybridResult, ch types.Channel) *types.ChannelScore {
	switch ch {
	case types.ChannelLexical:
		return &r.Lexical
	case types.ChannelVector:
		return &r.Vector
	default:
		return nil
	}
}
