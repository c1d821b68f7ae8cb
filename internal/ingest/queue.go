package ingest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/scrypster/memkeep/internal/storage"
	"github.com/scrypster/memkeep/pkg/types"
)

// ReviewQueue holds tier-2 candidates until a reviewer acts on them.
// sqlite.ReviewQueue is the persistent implementation.
type ReviewQueue interface {
	Enqueue(ctx context.Context, p *types.PendingMemory) error
	// Get returns storage.ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*types.PendingMemory, error)
	// List returns pending entries in arrival order; empty userID lists all.
	List(ctx context.Context, userID string, limit int) ([]*types.PendingMemory, error)
	Remove(ctx context.Context, id string) (bool, error)
	Len(ctx context.Context) (int, error)
}

// MemoryQueue is an in-process ReviewQueue.
type MemoryQueue struct {
	mu      sync.Mutex
	pending map[string]*types.PendingMemory
}

var _ ReviewQueue = (*MemoryQueue)(nil)

// NewMemoryQueue returns an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{pending: make(map[string]*types.PendingMemory)}
}

// Enqueue adds or replaces p. The id is required.
func (q *MemoryQueue) Enqueue(ctx context.Context, p *types.PendingMemory) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: pending memory id is required", storage.ErrInvalidInput)
	}
	c := clonePending(p)
	q.mu.Lock()
	q.pending[p.ID] = c
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) Get(ctx context.Context, id string) (*types.PendingMemory, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.pending[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return clonePending(p), nil
}

// List orders by id, which for ULIDs is arrival order.
func (q *MemoryQueue) List(ctx context.Context, userID string, limit int) ([]*types.PendingMemory, error) {
	q.mu.Lock()
	out := make([]*types.PendingMemory, 0, len(q.pending))
	for _, p := range q.pending {
		if userID == "" || p.Memory.UserID == userID {
			out = append(out, clonePending(p))
		}
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *MemoryQueue) Remove(ctx context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[id]
	delete(q.pending, id)
	return ok, nil
}

func (q *MemoryQueue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), nil
}

func clonePending(p *types.PendingMemory) *types.PendingMemory {
	c := *p
	c.Memory = *p.Memory.Clone()
	c.Result.Citations = append([]types.Citation(nil), p.Result.Citations...)
	c.Result.Reasons = append([]string(nil), p.Result.Reasons...)
	return &c
}
