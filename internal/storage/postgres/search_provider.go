package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/memkeep/internal/lexical"
	"github.com/scrypster/memkeep/internal/storage"
	"github.com/scrypster/memkeep/pkg/types"
)

// vectorFallbackCandidates caps the rows loaded for brute-force cosine when
// pgvector is unavailable.
const vectorFallbackCandidates = 10_000

// LexicalSearch ranks memories with ts_rank over the content_tsv column.
//
// Query terms are OR'd so a long natural-language query still matches
// memories that share only some of its words; ts_rank then rewards the
// memories that share more.
func (s *MemoryStore) LexicalSearch(ctx context.Context, userID, projectID, query string, k int) ([]types.ScoredMemory, error) {
	tsQuery := orQuery(query)
	if tsQuery == "" {
		return nil, nil
	}

	a := &args{}
	q := a.add(tsQuery)
	where := visibilityClause(a, userID, storage.Filters{ProjectID: projectID})
	querySQL := `
		SELECT ` + memorySelectColumns + `, ts_rank(content_tsv, to_tsquery('english', ` + q + `)) AS score
		FROM memories
		WHERE content_tsv @@ to_tsquery('english', ` + q + `) AND ` + where + `
		ORDER BY score DESC, id` + limitClause(a, k)

	rows, err := s.db.QueryContext(ctx, querySQL, a.vals...)
	if err != nil {
		return nil, fmt.Errorf("postgres: LexicalSearch %q: %w", query, err)
	}
	return scanScored(rows)
}

// VectorSearch performs cosine search with pgvector's <=> operator. When the
// extension is missing it ranks the stored REAL[] embeddings in Go instead.
func (s *MemoryStore) VectorSearch(ctx context.Context, userID, projectID string, vector []float32, k int) ([]types.ScoredMemory, error) {
	if len(vector) == 0 {
		return nil, nil
	}

	if !s.pgvectorAvailable {
		a := &args{}
		where := visibilityClause(a, userID, storage.Filters{ProjectID: projectID})
		querySQL := `SELECT ` + memorySelectColumns + ` FROM memories
			WHERE embedding IS NOT NULL AND ` + where + `
			ORDER BY created_at DESC` + limitClause(a, vectorFallbackCandidates)
		rows, err := s.db.QueryContext(ctx, querySQL, a.vals...)
		if err != nil {
			return nil, fmt.Errorf("postgres: load embeddings: %w", err)
		}
		candidates, err := scanMemoryRows(rows)
		if err != nil {
			return nil, err
		}
		return storage.RankByVector(candidates, vector, k), nil
	}

	a := &args{}
	v := a.add(pgvector.NewVector(vector))
	where := visibilityClause(a, userID, storage.Filters{ProjectID: projectID})
	querySQL := `
		SELECT ` + memorySelectColumns + `, 1 - (embedding_vec <=> ` + v + `::vector) AS score
		FROM memories
		WHERE embedding_vec IS NOT NULL AND vector_dims(embedding_vec) = ` + a.add(len(vector)) + ` AND ` + where + `
		ORDER BY embedding_vec <=> ` + v + `::vector, id` + limitClause(a, k)

	rows, err := s.db.QueryContext(ctx, querySQL, a.vals...)
	if err != nil {
		return nil, fmt.Errorf("postgres: VectorSearch: %w", err)
	}
	return scanScored(rows)
}

// setVector mirrors the REAL[] embedding into the pgvector column.
func setVector(ctx context.Context, tx *sql.Tx, id string, embedding []float32) error {
	var vec interface{}
	if len(embedding) > 0 {
		vec = pgvector.NewVector(embedding)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE memories SET embedding_vec = $1 WHERE id = $2", vec, id); err != nil {
		return fmt.Errorf("postgres: store embedding vector: %w", err)
	}
	return nil
}

func scanScored(rows *sql.Rows) ([]types.ScoredMemory, error) {
	defer func() { _ = rows.Close() }()
	var out []types.ScoredMemory
	for rows.Next() {
		var score float64
		m, err := scanMemory(rows, &score)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan scored row: %w", err)
		}
		out = append(out, types.ScoredMemory{Memory: m, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows error: %w", err)
	}
	return out, nil
}

// orQuery builds a to_tsquery expression from the content tokens of query.
// Tokens are alphanumeric, so no tsquery operator can leak through.
func orQuery(query string) string {
	seen := make(map[string]bool)
	var terms []string
	for _, tok := range lexical.ContentTokens(query) {
		if !seen[tok] {
			seen[tok] = true
			terms = append(terms, tok)
		}
	}
	return strings.Join(terms, " | ")
}
