package types

import "time"

// Channel names the retrieval channel a hit came from.
type Channel string

const (
	ChannelLexical Channel = "lexical"
	ChannelVector  Channel = "vector"
)

// ScoredMemory is a single channel hit: a memory with its channel score.
type ScoredMemory struct {
	Memory *Memory
	Score  float64
}

// ChannelScore records a memory's position and raw score in one channel.
// Rank is 1-based; zero means the memory was absent from the channel.
type ChannelScore struct {
	Rank  int     `json:"rank"`
	Score float64 `json:"score"`
}

// HybridResult is the per-candidate score bundle produced for every query.
// It is transient and never persisted.
type HybridResult struct {
	MemoryID    string       `json:"memory_id"`
	Lexical     ChannelScore `json:"lexical"`
	Vector      ChannelScore `json:"vector"`
	FusedScore  float64      `json:"fused_score"`
	RerankScore *float64     `json:"rerank_score,omitempty"`
	Memory      *Memory      `json:"memory,omitempty"`
}

// TaskStats are the counters reported by a single janitor task.
type TaskStats struct {
	Task      string        `json:"task"`
	Processed int           `json:"processed"`
	Removed   int           `json:"removed"`
	Resolved  int           `json:"resolved"`
	Errors    int           `json:"errors"`
	Duration  time.Duration `json:"duration_ms"`
}

// JanitorRunStats aggregates the task stats of one run.
type JanitorRunStats struct {
	UserID    string        `json:"user_id,omitempty"`
	Tasks     []TaskStats   `json:"tasks"`
	Processed int           `json:"processed"`
	Removed   int           `json:"removed"`
	Resolved  int           `json:"resolved"`
	Errors    int           `json:"errors"`
	Duration  time.Duration `json:"duration_ms"`
	Cancelled bool          `json:"cancelled,omitempty"`
}

// Add folds t into the aggregate counters.
func (s *JanitorRunStats) Add(t TaskStats) {
	s.Tasks = append(s.Tasks, t)
	s.Processed += t.Processed
	s.Removed += t.Removed
	s.Resolved += t.Resolved
	s.Errors += t.Errors
}

// Merge folds another run's totals into s (used when aggregating users).
func (s *JanitorRunStats) Merge(o JanitorRunStats) {
	s.Tasks = append(s.Tasks, o.Tasks...)
	s.Processed += o.Processed
	s.Removed += o.Removed
	s.Resolved += o.Resolved
	s.Errors += o.Errors
	s.Cancelled = s.Cancelled || o.Cancelled
}
