package ingest

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/scrypster/memkeep/internal/llm"
	"github.com/scrypster/memkeep/internal/storage"
	"github.com/scrypster/memkeep/pkg/types"
)

// Reviewer promotes or discards queued candidates.
type Reviewer struct {
	store    storage.Store
	queue    ReviewQueue
	embedder llm.Embedder
	now      func() time.Time
	logger   *log.Logger
}

// ReviewerOption configures a Reviewer.
type ReviewerOption func(*Reviewer)

// WithReviewEmbedder embeds approved memories that have no vector yet.
func WithReviewEmbedder(e llm.Embedder) ReviewerOption {
	return func(r *Reviewer) { r.embedder = e }
}

// WithReviewClock overrides the time source.
func WithReviewClock(now func() time.Time) ReviewerOption {
	return func(r *Reviewer) { r.now = now }
}

// WithReviewLogger sets the logger.
func WithReviewLogger(l *log.Logger) ReviewerOption {
	return func(r *Reviewer) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReviewer creates a Reviewer over store and queue.
func NewReviewer(store storage.Store, queue ReviewQueue, opts ...ReviewerOption) *Reviewer {
	r := &Reviewer{store: store, queue: queue, now: time.Now, logger: log.New(io.Discard)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// List returns pending candidates in arrival order.
func (r *Reviewer) List(ctx context.Context, userID string, limit int) ([]*types.PendingMemory, error) {
	return r.queue.List(ctx, userID, limit)
}

// Approve stores the pending memory with fresh timestamps and removes it
// from the queue. It returns the stored memory's id. Unknown ids return
// storage.ErrNotFound.
func (r *Reviewer) Approve(ctx context.Context, pendingID, reviewer string) (string, error) {
	p, err := r.queue.Get(ctx, pendingID)
	if err != nil {
		return "", fmt.Errorf("approve %s: %w", pendingID, err)
	}

	now := r.now().UTC()
	m := p.Memory.Clone()
	m.ID = ""
	m.CreatedAt = now
	m.LastAccessedAt = now
	if m.Metadata == nil {
		m.Metadata = make(map[string]interface{})
	}
	if reviewer != "" {
		m.Metadata[types.MetaReviewedBy] = reviewer
	}
	if r.embedder != nil && len(m.Embedding) == 0 {
		if vec, err := r.embedder.Embed(ctx, m.Content); err != nil {
			r.logger.Warn("review: embedding failed, storing without vector", "pending_id", pendingID, "err", err)
		} else {
			m.Embedding = vec
		}
	}

	id, err := r.store.Store(ctx, m)
	if err != nil {
		return "", fmt.Errorf("approve %s: store: %w", pendingID, err)
	}
	if _, err := r.queue.Remove(ctx, pendingID); err != nil {
		// The memory is stored; a leftover queue entry is safe to reject later.
		r.logger.Warn("review: remove approved entry failed", "pending_id", pendingID, "err", err)
	}
	r.logger.Info("review: approved", "pending_id", pendingID, "id", id, "reviewer", reviewer)
	return id, nil
}

// Reject discards the pending memory. Unknown ids return storage.ErrNotFound.
func (r *Reviewer) Reject(ctx context.Context, pendingID, reviewer string) error {
	ok, err := r.queue.Remove(ctx, pendingID)
	if err != nil {
		return fmt.Errorf("reject %s: %w", pendingID, err)
	}
	if !ok {
		return fmt.Errorf("reject %s: %w", pendingID, storage.ErrNotFound)
	}
	r.logger.Info("review: rejected", "pending_id", pendingID, "reviewer", reviewer)
	return nil
}
