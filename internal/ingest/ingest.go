package ingest

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/scrypster/memkeep/internal/metrics"
	"github.com/scrypster/memkeep/pkg/types"
)

// ErrNoQueue is returned when a candidate needs review but the validator was
// built without a queue.
var ErrNoQueue = errors.New("no review queue configured")

// Outcome reports what Ingest did with a candidate.
type Outcome struct {
	Result types.ValidationResult
	// MemoryID is set for tier 1.
	MemoryID string
	// PendingID is set for tier 2.
	PendingID string
}

// Ingest validates c and applies the side effect of its tier. A failed
// duplicate check still queues the candidate and returns an error wrapping
// ErrValidationUnavailable alongside the outcome.
func (v *Validator) Ingest(ctx context.Context, c Candidate) (Outcome, error) {
	c, err := v.normalise(c)
	if err != nil {
		return Outcome{}, err
	}
	res, verr := v.Validate(ctx, c)
	if verr != nil && !errors.Is(verr, ErrValidationUnavailable) {
		return Outcome{Result: res}, verr
	}
	out := Outcome{Result: res}
	v.metrics.Count(metrics.ValidationTier, 1, "tier", strconv.Itoa(int(res.Tier)))

	now := v.now().UTC()
	switch res.Tier {
	case types.TierAutoApprove:
		m := v.memoryFor(c, res, now)
		v.embed(ctx, m)
		id, err := v.store.Store(ctx, m)
		if err != nil {
			return out, fmt.Errorf("store memory: %w", err)
		}
		out.MemoryID = id
		v.logger.Info("ingest: memory stored", "id", id, "user_id", c.UserID, "confidence", res.Confidence)

	case types.TierReview:
		if v.queue == nil {
			// Keep verr so a fail-closed caller still sees ErrValidationUnavailable.
			return out, errors.Join(verr, ErrNoQueue)
		}
		p := &types.PendingMemory{
			ID:       v.ids.next(now),
			Memory:   *v.memoryFor(c, res, now),
			Result:   res,
			QueuedAt: now,
		}
		if err := v.queue.Enqueue(ctx, p); err != nil {
			return out, fmt.Errorf("enqueue for review: %w", err)
		}
		out.PendingID = p.ID
		v.logger.Info("ingest: queued for review", "pending_id", p.ID, "user_id", c.UserID, "unavailable", res.Unavailable)

	default:
		v.logger.Debug("ingest: candidate rejected", "user_id", c.UserID, "reasons", res.Reasons)
	}
	return out, verr
}

func (v *Validator) memoryFor(c Candidate, res types.ValidationResult, now time.Time) *types.Memory {
	meta := make(map[string]interface{}, len(c.Metadata)+2)
	for k, val := range c.Metadata {
		meta[k] = val
	}
	meta[types.MetaTier] = int(res.Tier)
	if len(res.Citations) > 0 {
		meta[types.MetaCitations] = res.Citations
	}
	return &types.Memory{
		UserID:         c.UserID,
		Scope:          c.Scope,
		ProjectID:      c.ProjectID,
		Content:        c.Content,
		MemoryType:     c.MemoryType,
		Confidence:     res.Confidence,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      c.ExpiresAt,
		Metadata:       meta,
	}
}

// embed attaches an embedding when an embedder is configured. Failures only
// cost the memory its vector channel presence.
func (v *Validator) embed(ctx context.Context, m *types.Memory) {
	if v.embedder == nil || len(m.Embedding) > 0 {
		return
	}
	vec, err := v.embedder.Embed(ctx, m.Content)
	if err != nil {
		v.logger.Warn("ingest: embedding failed, storing without vector", "user_id", m.UserID, "err", err)
		return
	}
	m.Embedding = vec
}

// idSource hands out ULIDs that sort by arrival, monotonic within the same
// millisecond.
type idSource struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newIDSource() *idSource {
	return &idSource{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (s *idSource) next(now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
}
