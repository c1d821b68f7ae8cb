// Package retrieval implements two-stage hybrid retrieval: lexical and
// vector channels run concurrently, their rankings are merged with
// reciprocal rank fusion and an optional reranker reorders the head.
//
// A failing or slow channel degrades the response to the surviving channel
// and marks it Partial; a failing reranker falls back to fused order.
// Neither is reported to the caller as an error.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/scrypster/memkeep/internal/llm"
	"github.com/scrypster/memkeep/internal/metrics"
	"github.com/scrypster/memkeep/internal/storage"
	"github.com/scrypster/memkeep/pkg/types"
)

// ErrChannelDegraded marks a channel that failed or timed out. It is
// recorded in Response.Degraded and in metrics, never returned.
var ErrChannelDegraded = errors.New("retrieval channel degraded")

// Query is one retrieval request.
type Query struct {
	Text      string
	UserID    string
	ProjectID string // optional; enables project-scope memories
	K         int    // zero uses Config.DefaultK
}

// Degradation describes one channel failure.
type Degradation struct {
	Channel types.Channel
	Err     error // wraps ErrChannelDegraded
}

// Response is the outcome of a hybrid retrieval.
type Response struct {
	Results []types.HybridResult
	// Partial is set when a channel degraded or the caller cancelled.
	Partial  bool
	Degraded []Degradation
	Reranked bool
	// MaxFusedScore normalises FusedScore into [0,1]: the score of a memory
	// ranked first by every channel that answered.
	MaxFusedScore float64
}

// Hybrid is the two-stage retriever. It is safe for concurrent use.
type Hybrid struct {
	store      storage.Store
	channels   []Channel
	embedder   llm.Embedder
	reranker   Reranker
	cfg        Config
	logger     *log.Logger
	metrics    metrics.Sink
	onDegraded func(reason string)
	now        func() time.Time
}

// Option configures a Hybrid retriever.
type Option func(*Hybrid)

// WithEmbedder enables the vector channel. It is ignored when WithChannels
// sets the channel list explicitly, whatever the option order.
func WithEmbedder(e llm.Embedder) Option { return func(h *Hybrid) { h.embedder = e } }

// WithChannels replaces the default channel set.
func WithChannels(chs ...Channel) Option {
	return func(h *Hybrid) { h.channels = chs }
}

// WithClock sets the time source used to drop expired memories.
func WithClock(now func() time.Time) Option {
	return func(h *Hybrid) {
		if now != nil {
			h.now = now
		}
	}
}

// WithScorer enables reranking with a pairwise scorer.
func WithScorer(s llm.Scorer) Option {
	return func(h *Hybrid) {
		if s != nil {
			h.reranker = NewScorerReranker(s, h.cfg.RerankTopN, h.cfg.RerankConcurrency)
		}
	}
}

// WithReranker sets a custom reranker.
func WithReranker(r Reranker) Option { return func(h *Hybrid) { h.reranker = r } }

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(h *Hybrid) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(s metrics.Sink) Option { return func(h *Hybrid) { h.metrics = metrics.OrNop(s) } }

// OnDegraded registers a hook called (synchronously, once per query) when
// any channel degrades. The CLI wires it to the janitor scheduler trigger.
func OnDegraded(fn func(reason string)) Option { return func(h *Hybrid) { h.onDegraded = fn } }

// NewHybrid creates a retriever with the lexical channel over store. Options
// add the vector channel and reranking.
func NewHybrid(store storage.Store, cfg Config, opts ...Option) (*Hybrid, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", storage.ErrInvalidInput)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retrieval config: %w", err)
	}
	h := &Hybrid{
		store:    store,
		reranker: Passthrough{},
		cfg:      cfg,
		logger:   log.New(io.Discard),
		metrics:  metrics.Nop{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.channels == nil {
		h.channels = []Channel{NewLexicalChannel(store)}
		if h.embedder != nil {
			h.channels = append(h.channels, NewVectorChannel(store, h.embedder))
		}
	}
	if h.reranker == nil {
		h.reranker = Passthrough{}
	}
	return h, nil
}

type channelResult struct {
	hits []types.ScoredMemory
	err  error
}

// Retrieve runs the query through every channel, fuses, hydrates and
// reranks. The only errors returned are invalid queries; everything else
// degrades into a Partial response.
func (h *Hybrid) Retrieve(ctx context.Context, q Query) (*Response, error) {
	if q.UserID == "" {
		return nil, fmt.Errorf("%w: query user_id is required", storage.ErrInvalidInput)
	}
	if q.K <= 0 {
		q.K = h.cfg.DefaultK
	}
	channelK := h.cfg.ChannelK
	if channelK == 0 {
		channelK = q.K
	}

	results := make([]channelResult, len(h.channels))
	var g errgroup.Group
	for i, ch := range h.channels {
		i, ch := i, ch
		g.Go(func() error {
			results[i] = h.runChannel(ctx, ch, q, channelK)
			return nil
		})
	}
	_ = g.Wait()

	resp := &Response{}
	lists := make(map[types.Channel][]types.ScoredMemory, len(h.channels))
	for i, ch := range h.channels {
		r := results[i]
		if r.err != nil {
			resp.Degraded = append(resp.Degraded, Degradation{
				Channel: ch.Name(),
				Err:     fmt.Errorf("%w: %s: %v", ErrChannelDegraded, ch.Name(), r.err),
			})
			h.metrics.Count(metrics.ChannelDegraded, 1, "channel", string(ch.Name()))
			h.logger.Warn("retrieval: channel degraded", "channel", ch.Name(), "user_id", q.UserID, "err", r.err)
			continue
		}
		lists[ch.Name()] = r.hits
		h.metrics.Count(metrics.ChannelHits, int64(len(r.hits)), "channel", string(ch.Name()))
	}
	resp.Partial = len(resp.Degraded) > 0 || ctx.Err() != nil
	resp.MaxFusedScore = MaxFusedScore(len(lists), h.cfg.RRFK)
	if len(resp.Degraded) > 0 {
		h.metrics.Count(metrics.PartialResponses, 1)
		if h.onDegraded != nil {
			h.onDegraded(fmt.Sprintf("degraded retrieval: %d of %d channels failed", len(resp.Degraded), len(h.channels)))
		}
	}

	start := time.Now()
	fused := Fuse(lists, h.cfg.RRFK)
	h.metrics.Observe(metrics.FusionLatency, time.Since(start))

	fused = h.hydrate(ctx, fused)
	if len(fused) > q.K {
		fused = fused[:q.K]
	}
	resp.Results, resp.Reranked = h.rerank(ctx, q.Text, fused)
	h.metrics.Count(metrics.ResultCount, int64(len(resp.Results)))
	return resp, nil
}

// runChannel calls ch under the channel timeout and abandons the call when
// the deadline passes even if the channel ignores its context.
func (h *Hybrid) runChannel(ctx context.Context, ch Channel, q Query, k int) channelResult {
	cctx, cancel := context.WithTimeout(ctx, h.cfg.ChannelTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan channelResult, 1)
	go func() {
		hits, err := ch.Search(cctx, q, k)
		done <- channelResult{hits: hits, err: err}
	}()

	var r channelResult
	select {
	case r = <-done:
	case <-cctx.Done():
		r = channelResult{err: cctx.Err()}
	}
	h.metrics.Observe(metrics.ChannelLatency, time.Since(start), "channel", string(ch.Name()))
	return r
}

// hydrate re-reads every fused id so memories deleted since the channel
// answered are dropped rather than surfaced. Expired memories are dropped
// too. After the caller cancels, the re-read runs detached under the channel
// timeout, and if it still fails the channel's copy of the memory is kept.
func (h *Hybrid) hydrate(ctx context.Context, fused []types.HybridResult) []types.HybridResult {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), h.cfg.ChannelTimeout)
		defer cancel()
	}
	now := h.now()
	out := fused[:0]
	for _, r := range fused {
		m, err := h.store.GetByID(ctx, r.MemoryID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			h.metrics.Count(metrics.DanglingIDs, 1)
			continue
		case err != nil:
			h.logger.Warn("retrieval: hydrate failed", "id", r.MemoryID, "err", err)
			if r.Memory == nil {
				continue
			}
			m = r.Memory
		}
		if m.IsExpired(now) {
			h.metrics.Count(metrics.ExpiredHits, 1)
			continue
		}
		r.Memory = m
		out = append(out, r)
	}
	return out
}

func (h *Hybrid) rerank(ctx context.Context, query string, fused []types.HybridResult) ([]types.HybridResult, bool) {
	if _, ok := h.reranker.(Passthrough); ok || len(fused) == 0 {
		return fused, false
	}
	rctx, cancel := context.WithTimeout(ctx, h.cfg.RerankTimeout)
	defer cancel()

	type rerankResult struct {
		out []types.HybridResult
		err error
	}
	start := time.Now()
	done := make(chan rerankResult, 1)
	go func() {
		out, err := h.reranker.Rerank(rctx, query, fused)
		done <- rerankResult{out: out, err: err}
	}()
	var out []types.HybridResult
	var err error
	select {
	case r := <-done:
		out, err = r.out, r.err
	case <-rctx.Done():
		err = fmt.Errorf("%w: %v", ErrRerankUnavailable, rctx.Err())
	}
	h.metrics.Observe(metrics.RerankLatency, time.Since(start))
	if err != nil {
		h.metrics.Count(metrics.RerankFallback, 1)
		h.logger.Warn("retrieval: rerank fell back to fused order", "err", err)
		return fused, false
	}
	h.metrics.Count(metrics.RerankUsed, 1)
	return out, true
}
