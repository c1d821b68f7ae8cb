// Package memstore is an in-process implementation of storage.Store.
//
// It keeps every memory in a map guarded by a RWMutex and answers lexical and
// vector queries by brute force. It backs the CLI when no database is
// configured and doubles as the store used by component tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/memkeep/internal/storage"
	"github.com/scrypster/memkeep/pkg/types"
)

var (
	_ storage.Store           = (*Store)(nil)
	_ storage.LexicalSearcher = (*Store)(nil)
	_ storage.VectorSearcher  = (*Store)(nil)
)

// Store is a concurrency-safe in-memory memory arena.
type Store struct {
	mu       sync.RWMutex
	memories map[string]*types.Memory
	closed   bool

	// now is swappable for tests.
	now func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		memories: make(map[string]*types.Memory),
		now:      time.Now,
	}
}

// Store inserts or replaces a memory. The stored copy is normalised: times in
// UTC, Version bumped, a uuid assigned when ID is empty.
func (s *Store) Store(ctx context.Context, memory *types.Memory) (string, error) {
	if memory == nil {
		return "", fmt.Errorf("%w: memory is required", storage.ErrInvalidInput)
	}
	if err := memory.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", storage.ErrClosed
	}

	m := memory.Clone()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.LastAccessedAt.IsZero() {
		m.LastAccessedAt = m.CreatedAt
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.LastAccessedAt = m.LastAccessedAt.UTC()
	if m.ExpiresAt != nil {
		t := m.ExpiresAt.UTC()
		m.ExpiresAt = &t
	}

	var version int64
	if prev, ok := s.memories[m.ID]; ok {
		version = prev.Version
	}
	m.Version = version + 1
	s.memories[m.ID] = m
	return m.ID, nil
}

// Retrieve ranks every memory visible to userID with BM25 over query.
// An empty query returns the most recently accessed memories.
func (s *Store) Retrieve(ctx context.Context, query, userID string, limit int) ([]*types.Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	visible, err := s.visible(userID, storage.Filters{})
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(query) == "" {
		sort.Slice(visible, func(i, j int) bool {
			return visible[i].LastAccessedAt.After(visible[j].LastAccessedAt)
		})
		return truncate(visible, limit), nil
	}

	hits := storage.RankByBM25(visible, query, limit)
	out := make([]*types.Memory, len(hits))
	for i, h := range hits {
		out[i] = h.Memory
	}
	return out, nil
}

// Search returns memories matching filters, newest first.
func (s *Store) Search(ctx context.Context, userID string, filters storage.Filters, limit int) ([]*types.Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := s.visible(userID, filters)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return truncate(out, limit), nil
}

// GetByID returns a copy of the memory or storage.ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id string) (*types.Memory, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	m, ok := s.memories[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return m.Clone(), nil
}

// Delete removes a memory unconditionally.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, storage.ErrClosed
	}
	if _, ok := s.memories[id]; !ok {
		return false, nil
	}
	delete(s.memories, id)
	return true, nil
}

// CompareAndDelete removes a memory only if it is still at version.
func (s *Store) CompareAndDelete(ctx context.Context, id string, version int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, storage.ErrClosed
	}
	m, ok := s.memories[id]
	if !ok || m.Version != version {
		return false, nil
	}
	delete(s.memories, id)
	return true, nil
}

// Touch updates LastAccessedAt in place.
func (s *Store) Touch(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	m, ok := s.memories[id]
	if !ok {
		return storage.ErrNotFound
	}
	m.LastAccessedAt = at.UTC()
	return nil
}

// Users returns the sorted set of owners.
func (s *Store) Users(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	seen := make(map[string]struct{})
	for _, m := range s.memories {
		seen[m.UserID] = struct{}{}
	}
	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

// Len returns the number of stored memories.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.memories)
}

// Close marks the store closed. Subsequent calls fail with storage.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// LexicalSearch runs BM25 over every memory visible to the reader.
func (s *Store) LexicalSearch(ctx context.Context, userID, projectID, query string, k int) ([]types.ScoredMemory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	visible, err := s.visible(userID, storage.Filters{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	return storage.RankByBM25(visible, query, k), nil
}

// VectorSearch ranks visible memories with embeddings by cosine similarity.
func (s *Store) VectorSearch(ctx context.Context, userID, projectID string, vector []float32, k int) ([]types.ScoredMemory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return nil, nil
	}
	visible, err := s.visible(userID, storage.Filters{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	return storage.RankByVector(visible, vector, k), nil
}

func (s *Store) visible(userID string, filters storage.Filters) ([]*types.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	var out []*types.Memory
	for _, m := range s.memories {
		if filters.Matches(m, userID) {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

func truncate(ms []*types.Memory, limit int) []*types.Memory {
	if limit > 0 && len(ms) > limit {
		return ms[:limit]
	}
	return ms
}
