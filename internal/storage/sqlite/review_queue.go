package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/scrypster/memkeep/internal/storage"
	"github.com/scrypster/memkeep/pkg/types"
)

// ReviewQueue persists tier-2 candidates in the pending_memories table of a
// MemoryStore's database. Pending ids are ULIDs, so ordering by id is
// ordering by arrival.
type ReviewQueue struct {
	db *sql.DB
}

// NewReviewQueue returns a queue sharing the store's connection.
func NewReviewQueue(store *MemoryStore) *ReviewQueue {
	return &ReviewQueue{db: store.DB()}
}

// Enqueue inserts p. Re-enqueueing an id replaces the entry.
func (q *ReviewQueue) Enqueue(ctx context.Context, p *types.PendingMemory) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: pending memory with id is required", storage.ErrInvalidInput)
	}
	mem, err := json.Marshal(p.Memory)
	if err != nil {
		return fmt.Errorf("sqlite: marshal pending memory: %w", err)
	}
	res, err := json.Marshal(p.Result)
	if err != nil {
		return fmt.Errorf("sqlite: marshal validation result: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO pending_memories (id, user_id, memory, result, queued_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			memory = excluded.memory,
			result = excluded.result,
			queued_at = excluded.queued_at`,
		p.ID, p.Memory.UserID, string(mem), string(res), formatTime(p.QueuedAt))
	if err != nil {
		return fmt.Errorf("sqlite: enqueue pending memory: %w", err)
	}
	return nil
}

// Get returns a pending entry or storage.ErrNotFound.
func (q *ReviewQueue) Get(ctx context.Context, id string) (*types.PendingMemory, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT id, memory, result, queued_at FROM pending_memories WHERE id = ?", id)
	p, err := scanPending(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get pending memory: %w", err)
	}
	return p, nil
}

// List returns pending entries in arrival order. An empty userID lists all
// users; limit <= 0 means no limit.
func (q *ReviewQueue) List(ctx context.Context, userID string, limit int) ([]*types.PendingMemory, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, memory, result, queued_at FROM pending_memories
		WHERE (? = '' OR user_id = ?)
		ORDER BY id
		LIMIT ?`, userID, userID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list pending memories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.PendingMemory
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan pending memory: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Remove deletes an entry, reporting whether it existed.
func (q *ReviewQueue) Remove(ctx context.Context, id string) (bool, error) {
	res, err := q.db.ExecContext(ctx, "DELETE FROM pending_memories WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("sqlite: remove pending memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: check rows affected: %w", err)
	}
	return n > 0, nil
}

// Len returns the number of pending entries.
func (q *ReviewQueue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pending_memories").Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count pending memories: %w", err)
	}
	return n, nil
}

func scanPending(row rowScanner) (*types.PendingMemory, error) {
	var p types.PendingMemory
	var mem, res, queued string
	if err := row.Scan(&p.ID, &mem, &res, &queued); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(mem), &p.Memory); err != nil {
		return nil, fmt.Errorf("unmarshal memory: %w", err)
	}
	if err := json.Unmarshal([]byte(res), &p.Result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	t, err := parseTime(queued)
	if err != nil {
		return nil, fmt.Errorf("parse queued_at: %w", err)
	}
	p.QueuedAt = t
	return &p, nil
}
