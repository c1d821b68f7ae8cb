// Package chromem adds an embedded vector index in front of any storage.Store.
//
// IndexedStore writes through to the wrapped store and mirrors every memory
// that carries an embedding into a chromem-go collection, so the hybrid
// retriever's vector channel gets nearest-neighbour search even when the
// underlying store has none.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	chromem "github.com/philippgille/chromem-go"

	"github.com/scrypster/memkeep/internal/storage"
	"github.com/scrypster/memkeep/pkg/types"
)

const collectionName = "memories"

// Metadata keys stored alongside each indexed document.
const (
	metaUser    = "user_id"
	metaScope   = "scope"
	metaProject = "project_id"
)

var (
	_ storage.Store           = (*IndexedStore)(nil)
	_ storage.LexicalSearcher = (*IndexedStore)(nil)
	_ storage.VectorSearcher  = (*IndexedStore)(nil)
)

// IndexedStore decorates a storage.Store with a chromem-go vector index.
type IndexedStore struct {
	base   storage.Store
	db     *chromem.DB
	col    *chromem.Collection
	mu     sync.Mutex // serialises index mutations against base writes
	logger *log.Logger
}

// Option configures an IndexedStore.
type Option func(*IndexedStore)

// WithLogger sets the logger used for index maintenance warnings.
func WithLogger(l *log.Logger) Option {
	return func(s *IndexedStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// New wraps base with an empty in-memory index. Call Rebuild to index
// memories already present in a persistent base.
func New(base storage.Store, opts ...Option) (*IndexedStore, error) {
	if base == nil {
		return nil, fmt.Errorf("%w: base store is required", storage.ErrInvalidInput)
	}
	db := chromem.NewDB()
	// Embeddings are always supplied by the caller, so no embedding func.
	col, err := db.CreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: create collection: %w", err)
	}
	s := &IndexedStore{base: base, db: db, col: col, logger: log.New(io.Discard)}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Store writes to the base store, then indexes the memory's embedding.
// Index failures are logged; the base store remains the source of truth.
func (s *IndexedStore) Store(ctx context.Context, memory *types.Memory) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.base.Store(ctx, memory)
	if err != nil {
		return "", err
	}
	// Replace any previous vector for this id.
	if err := s.col.Delete(ctx, nil, nil, id); err != nil {
		s.logger.Warn("chromem: drop stale vector failed", "id", id, "err", err)
	}
	if len(memory.Embedding) > 0 {
		if err := s.col.AddDocument(ctx, document(id, memory)); err != nil {
			s.logger.Warn("chromem: index memory failed", "id", id, "err", err)
		}
	}
	return id, nil
}

// Retrieve delegates to the base store.
func (s *IndexedStore) Retrieve(ctx context.Context, query, userID string, limit int) ([]*types.Memory, error) {
	return s.base.Retrieve(ctx, query, userID, limit)
}

// Search delegates to the base store.
func (s *IndexedStore) Search(ctx context.Context, userID string, filters storage.Filters, limit int) ([]*types.Memory, error) {
	return s.base.Search(ctx, userID, filters, limit)
}

// GetByID delegates to the base store.
func (s *IndexedStore) GetByID(ctx context.Context, id string) (*types.Memory, error) {
	return s.base.GetByID(ctx, id)
}

// Touch delegates to the base store; access times are not indexed.
func (s *IndexedStore) Touch(ctx context.Context, id string, at time.Time) error {
	return s.base.Touch(ctx, id, at)
}

// Users delegates to the base store.
func (s *IndexedStore) Users(ctx context.Context) ([]string, error) {
	return s.base.Users(ctx)
}

// Close closes the base store. The index lives in process memory only.
func (s *IndexedStore) Close() error {
	return s.base.Close()
}

// Delete removes from the base store and then from the index.
func (s *IndexedStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok, err := s.base.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	s.unindex(ctx, id)
	return ok, nil
}

// CompareAndDelete removes from the base store and, on success, the index.
func (s *IndexedStore) CompareAndDelete(ctx context.Context, id string, version int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok, err := s.base.CompareAndDelete(ctx, id, version)
	if err != nil || !ok {
		return ok, err
	}
	s.unindex(ctx, id)
	return true, nil
}

func (s *IndexedStore) unindex(ctx context.Context, id string) {
	if err := s.col.Delete(ctx, nil, nil, id); err != nil {
		s.logger.Warn("chromem: unindex memory failed", "id", id, "err", err)
	}
}

// Rebuild indexes every memory in the base store that carries an embedding.
// It returns the number of documents indexed.
func (s *IndexedStore) Rebuild(ctx context.Context) (int, error) {
	users, err := s.base.Users(ctx)
	if err != nil {
		return 0, fmt.Errorf("chromem: list users: %w", err)
	}

	var docs []chromem.Document
	for _, u := range users {
		ms, err := s.base.Search(ctx, u, storage.Filters{OwnedOnly: true}, 0)
		if err != nil {
			return 0, fmt.Errorf("chromem: load memories for %s: %w", u, err)
		}
		for _, m := range ms {
			if len(m.Embedding) > 0 {
				docs = append(docs, document(m.ID, m))
			}
		}
	}
	if len(docs) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.col.AddDocuments(ctx, docs, 1); err != nil {
		return 0, fmt.Errorf("chromem: add documents: %w", err)
	}
	return len(docs), nil
}

// Len returns the number of indexed documents.
func (s *IndexedStore) Len() int {
	return s.col.Count()
}

// LexicalSearch delegates to the base store's native search when it has
// one, and otherwise runs BM25 over the memories visible to the reader.
func (s *IndexedStore) LexicalSearch(ctx context.Context, userID, projectID, query string, k int) ([]types.ScoredMemory, error) {
	if ls, ok := s.base.(storage.LexicalSearcher); ok {
		return ls.LexicalSearch(ctx, userID, projectID, query, k)
	}
	ms, err := s.base.Search(ctx, userID, storage.Filters{ProjectID: projectID}, 0)
	if err != nil {
		return nil, err
	}
	return storage.RankByBM25(ms, query, k), nil
}

// VectorSearch queries the index once per visibility partition (own user
// memories, the reader's project, global), merges the hits and hydrates
// them from the base store. Ids deleted from the base store meanwhile are
// skipped.
func (s *IndexedStore) VectorSearch(ctx context.Context, userID, projectID string, vector []float32, k int) ([]types.ScoredMemory, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	n := s.col.Count()
	if n == 0 {
		return nil, nil
	}
	if k > 0 && k < n {
		n = k
	}

	partitions := []map[string]string{
		{metaScope: string(types.ScopeUser), metaUser: userID},
		{metaScope: string(types.ScopeGlobal)},
	}
	if projectID != "" {
		partitions = append(partitions, map[string]string{metaScope: string(types.ScopeProject), metaProject: projectID})
	}

	var results []chromem.Result
	for _, where := range partitions {
		rs, err := s.col.QueryEmbedding(ctx, vector, n, where, nil)
		if err != nil {
			if isInsufficientDocsError(err) {
				continue
			}
			return nil, fmt.Errorf("chromem: query: %w", err)
		}
		results = append(results, rs...)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ID < results[j].ID
	})
	if k > 0 && len(results) > k {
		results = results[:k]
	}

	out := make([]types.ScoredMemory, 0, len(results))
	for _, r := range results {
		m, err := s.base.GetByID(ctx, r.ID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("chromem: hydrate %s: %w", r.ID, err)
		}
		out = append(out, types.ScoredMemory{Memory: m, Score: float64(r.Similarity)})
	}
	return out, nil
}

func document(id string, m *types.Memory) chromem.Document {
	return chromem.Document{
		ID:        id,
		Content:   m.Content,
		Embedding: append([]float32(nil), m.Embedding...),
		Metadata: map[string]string{
			metaUser:     m.UserID,
			metaScope:    string(m.Scope),
			metaProject:  m.ProjectID,
			"created_at": m.CreatedAt.UTC().Format(time.RFC3339),
		},
	}
}

// isInsufficientDocsError reports chromem's complaint that a partition has
// fewer documents than requested.
func isInsufficientDocsError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
