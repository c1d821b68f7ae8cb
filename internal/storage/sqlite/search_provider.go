package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/scrypster/memkeep/internal/lexical"
	"github.com/scrypster/memkeep/internal/storage"
	"github.com/scrypster/memkeep/pkg/types"
)

// LexicalSearch performs FTS5-backed BM25 search across memory content.
//
// The FTS5 table (memories_fts) is kept in sync with memories by triggers
// defined in schema.go. bm25() is negative with more negative meaning a
// better match, so rows are ordered ascending and the sign is flipped for
// callers, who expect larger-is-better.
func (s *MemoryStore) LexicalSearch(ctx context.Context, userID, projectID, query string, k int) ([]types.ScoredMemory, error) {
	ftsQuery := sanitiseFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	where, args := visibilityClause("m.", userID, storage.Filters{ProjectID: projectID})
	q := `
		SELECT ` + prefixed("m.", memoryColumns) + `, bm25(memories_fts) AS score
		FROM memories_fts
		JOIN memories m ON m.seq = memories_fts.rowid
		WHERE memories_fts MATCH ? AND ` + where + `
		ORDER BY score, m.id
		LIMIT ?`
	args = append([]interface{}{ftsQuery}, args...)
	args = append(args, sqlLimit(k))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: LexicalSearch MATCH %q: %w", query, err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.ScoredMemory
	for rows.Next() {
		var score float64
		m, err := scanMemory(rows, &score)
		if err != nil {
			return nil, fmt.Errorf("sqlite: LexicalSearch scan: %w", err)
		}
		out = append(out, types.ScoredMemory{Memory: m, Score: -score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: LexicalSearch rows: %w", err)
	}
	return out, nil
}

// vectorSearchMaxCandidates caps the number of embeddings loaded into memory
// during a vector search, newest first. For larger datasets use the
// Postgres backend with pgvector.
const vectorSearchMaxCandidates = 10_000

// VectorSearch ranks stored embeddings by cosine similarity in Go.
func (s *MemoryStore) VectorSearch(ctx context.Context, userID, projectID string, vector []float32, k int) ([]types.ScoredMemory, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	where, args := visibilityClause("", userID, storage.Filters{ProjectID: projectID})
	args = append(args, vectorSearchMaxCandidates)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
		WHERE embedding IS NOT NULL AND `+where+`
		ORDER BY created_at DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load embeddings: %w", err)
	}
	candidates, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}
	return storage.RankByVector(candidates, vector, k), nil
}

// sanitiseFTSQuery converts free-form input into a safe FTS5 MATCH
// expression: each content token becomes a quoted prefix term, OR'd together.
// FTS5 syntax is fragile (an unbalanced quote is a syntax error), so nothing
// from the raw query reaches MATCH unquoted.
//
// Example: "Redis for caching" → `"redis"* OR "caching"*`
func sanitiseFTSQuery(query string) string {
	seen := make(map[string]bool)
	var terms []string
	for _, tok := range lexical.ContentTokens(query) {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		terms = append(terms, `"`+tok+`"*`)
	}
	return strings.Join(terms, " OR ")
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + p
	}
	return strings.Join(parts, ", ")
}
