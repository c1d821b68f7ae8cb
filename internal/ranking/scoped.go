package ranking

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"github.com/scrypster/memkeep/internal/retrieval"
	"github.com/scrypster/memkeep/internal/storage"
	"github.com/scrypster/memkeep/pkg/types"
)

// relevanceEpsilon is the tolerance under which two relevances tie.
const relevanceEpsilon = 1e-9

// Config holds ranking parameters.
type Config struct {
	HalfLifeDays float64 `yaml:"half_life_days"` // default: 30
	DecayWeight  float64 `yaml:"decay_weight"`   // default: 0.3
	// TouchResults updates LastAccessedAt of returned memories (default: true).
	TouchResults bool `yaml:"touch_results"`
}

// DefaultConfig returns the standard ranking parameters.
func DefaultConfig() Config {
	return Config{HalfLifeDays: DefaultHalfLifeDays, DecayWeight: DefaultDecayWeight, TouchResults: true}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.HalfLifeDays <= 0 {
		return fmt.Errorf("HalfLifeDays must be > 0, got %v", c.HalfLifeDays)
	}
	if c.DecayWeight < 0 || c.DecayWeight > 1 {
		return fmt.Errorf("DecayWeight must be within [0,1], got %v", c.DecayWeight)
	}
	return nil
}

// Ranked is one memory in the final ordering.
type Ranked struct {
	Memory      *types.Memory
	Relevance   float64
	Similarity  float64
	Decay       float64
	FusedScore  float64
	RerankScore *float64
}

// Result is the final answer to a query.
type Result struct {
	Memories []Ranked
	Partial  bool
}

// Retriever is the first-stage source the scoped retriever ranks.
type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) (*retrieval.Response, error)
}

// Scoped ranks hybrid results by relevance with user > project > global
// precedence and touches what it returns.
type Scoped struct {
	source Retriever
	store  storage.Store
	cfg    Config
	now    func() time.Time
	logger *log.Logger
}

// Option configures a Scoped retriever.
type Option func(*Scoped)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Scoped) { s.now = now } }

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Scoped) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScoped ranks results from source. store is used to touch results and
// may be nil when cfg.TouchResults is false.
func NewScoped(source Retriever, store storage.Store, cfg Config, opts ...Option) (*Scoped, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ranking config: %w", err)
	}
	if cfg.TouchResults && store == nil {
		return nil, fmt.Errorf("%w: touching results requires a store", storage.ErrInvalidInput)
	}
	s := &Scoped{source: source, store: store, cfg: cfg, now: time.Now, logger: log.New(io.Discard)}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Retrieve runs q through the source and returns the ranked memories.
func (s *Scoped) Retrieve(ctx context.Context, q retrieval.Query) (*Result, error) {
	resp, err := s.source.Retrieve(ctx, q)
	if err != nil {
		return nil, err
	}
	now := s.now()
	ranked := s.Rank(resp, now)

	if s.cfg.TouchResults {
		for _, r := range ranked {
			if err := s.store.Touch(ctx, r.Memory.ID, now); err != nil {
				s.logger.Debug("ranking: touch failed", "id", r.Memory.ID, "err", err)
			}
		}
	}
	return &Result{Memories: ranked, Partial: resp.Partial}, nil
}

// Rank scores and orders a hybrid response without side effects.
func (s *Scoped) Rank(resp *retrieval.Response, now time.Time) []Ranked {
	out := make([]Ranked, 0, len(resp.Results))
	for _, h := range resp.Results {
		if h.Memory == nil {
			continue
		}
		sim := similarityOf(h, resp.MaxFusedScore)
		out = append(out, Ranked{
			Memory:      h.Memory,
			Relevance:   Relevance(sim, h.Memory.LastAccessedAt, now, s.cfg.DecayWeight, s.cfg.HalfLifeDays),
			Similarity:  sim,
			Decay:       Decay(h.Memory.LastAccessedAt, now, s.cfg.HalfLifeDays),
			FusedScore:  h.FusedScore,
			RerankScore: h.RerankScore,
		})
	}
	SortScoped(out)
	return out
}

// SortScoped orders by relevance descending; within relevanceEpsilon the
// narrower scope wins, then fused score, then recency, then id.
func SortScoped(rs []Ranked) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if math.Abs(a.Relevance-b.Relevance) > relevanceEpsilon {
			return a.Relevance > b.Relevance
		}
		if ra, rb := a.Memory.Scope.Rank(), b.Memory.Scope.Rank(); ra != rb {
			return ra < rb
		}
		if a.FusedScore != b.FusedScore {
			return a.FusedScore > b.FusedScore
		}
		if !a.Memory.LastAccessedAt.Equal(b.Memory.LastAccessedAt) {
			return a.Memory.LastAccessedAt.After(b.Memory.LastAccessedAt)
		}
		return a.Memory.ID < b.Memory.ID
	})
}

// similarityOf prefers the rerank score, else the fused score normalised by
// the best attainable fused score.
func similarityOf(h types.HybridResult, maxFused float64) float64 {
	if h.RerankScore != nil {
		return clamp(*h.RerankScore)
	}
	if maxFused <= 0 {
		return 0
	}
	return clamp(h.FusedScore / maxFused)
}
