package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/memkeep/internal/storage"
	"github.com/scrypster/memkeep/pkg/types"
)

var (
	_ storage.Store           = (*MemoryStore)(nil)
	_ storage.LexicalSearcher = (*MemoryStore)(nil)
	_ storage.VectorSearcher  = (*MemoryStore)(nil)
)

// timeFormat is fixed-width so TEXT columns sort chronologically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

const memoryColumns = "id, user_id, scope, project_id, content, memory_type, confidence, " +
	"created_at, last_accessed_at, expires_at, metadata, embedding, version"

// MemoryStore implements storage.Store using SQLite.
type MemoryStore struct {
	db     *sql.DB
	logger *log.Logger
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithLogger sets the logger used for non-fatal warnings.
func WithLogger(l *log.Logger) Option {
	return func(s *MemoryStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewMemoryStore opens (or creates) a SQLite database with WAL self-healing.
// If the initial open fails due to stale WAL files left behind by a crashed
// process, it verifies no other process holds them and retries once after
// removing the stale -shm/-wal files.
func NewMemoryStore(dsn string, opts ...Option) (*MemoryStore, error) {
	logger := log.New(io.Discard)
	probe := &MemoryStore{logger: logger}
	for _, opt := range opts {
		opt(probe)
	}

	store, err := openMemoryStore(dsn, probe.logger)
	if err == nil {
		return store, nil
	}
	if !isRecoverableWALError(err) {
		return nil, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || !isWALStale(dbPath) {
		return nil, err
	}
	removeStaleWAL(dbPath, probe.logger)

	store, retryErr := openMemoryStore(dsn, probe.logger)
	if retryErr != nil {
		return nil, fmt.Errorf("sqlite: failed after WAL recovery: %w (original: %v)", retryErr, err)
	}
	probe.logger.Warn("sqlite: recovered from stale WAL files", "path", dbPath)
	return store, nil
}

func openMemoryStore(dsn string, logger *log.Logger) (*MemoryStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}

	// One connection serialises writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}

	return &MemoryStore{db: db, logger: logger}, nil
}

// DB exposes the underlying handle so the review queue can share it.
func (s *MemoryStore) DB() *sql.DB {
	return s.db
}

// Store creates or updates a memory (upsert semantics). Each write bumps
// the row's version.
func (s *MemoryStore) Store(ctx context.Context, memory *types.Memory) (string, error) {
	if memory == nil {
		return "", fmt.Errorf("%w: memory is required", storage.ErrInvalidInput)
	}
	if err := memory.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	id := memory.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	created := memory.CreatedAt
	if created.IsZero() {
		created = now
	}
	accessed := memory.LastAccessedAt
	if accessed.IsZero() {
		accessed = created
	}

	var metadata sql.NullString
	if len(memory.Metadata) > 0 {
		b, err := json.Marshal(memory.Metadata)
		if err != nil {
			return "", fmt.Errorf("sqlite: marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}

	const query = `
		INSERT INTO memories (` + memoryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			scope = excluded.scope,
			project_id = excluded.project_id,
			content = excluded.content,
			memory_type = excluded.memory_type,
			confidence = excluded.confidence,
			created_at = excluded.created_at,
			last_accessed_at = excluded.last_accessed_at,
			expires_at = excluded.expires_at,
			metadata = excluded.metadata,
			embedding = excluded.embedding,
			version = memories.version + 1
	`
	_, err := s.db.ExecContext(ctx, query,
		id,
		memory.UserID,
		string(memory.Scope),
		memory.ProjectID,
		memory.Content,
		memory.MemoryType,
		memory.Confidence,
		formatTime(created),
		formatTime(accessed),
		nullableTime(memory.ExpiresAt),
		metadata,
		encodeEmbedding(memory.Embedding),
	)
	if err != nil {
		return "", fmt.Errorf("sqlite: store memory: %w", err)
	}
	return id, nil
}

// Retrieve runs an FTS5 query over the memories visible to userID. An empty
// query returns the most recently accessed memories.
func (s *MemoryStore) Retrieve(ctx context.Context, query, userID string, limit int) ([]*types.Memory, error) {
	if strings.TrimSpace(query) == "" {
		where, args := visibilityClause("", userID, storage.Filters{})
		args = append(args, sqlLimit(limit))
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+memoryColumns+` FROM memories WHERE `+where+` ORDER BY last_accessed_at DESC, id LIMIT ?`,
			args...)
		if err != nil {
			return nil, fmt.Errorf("sqlite: retrieve recent: %w", err)
		}
		return scanMemories(rows)
	}

	hits, err := s.LexicalSearch(ctx, userID, "", query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Memory, len(hits))
	for i, h := range hits {
		out[i] = h.Memory
	}
	return out, nil
}

// Search lists memories matching filters, newest first.
func (s *MemoryStore) Search(ctx context.Context, userID string, filters storage.Filters, limit int) ([]*types.Memory, error) {
	where, args := filterClause("", userID, filters)
	args = append(args, sqlLimit(limit))
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE `+where+` ORDER BY created_at DESC, id LIMIT ?`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search: %w", err)
	}
	return scanMemories(rows)
}

// GetByID retrieves a memory by ID.
func (s *MemoryStore) GetByID(ctx context.Context, id string) (*types.Memory, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get memory: %w", err)
	}
	return m, nil
}

// Delete hard-deletes a memory by ID.
func (s *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	return s.deleteWhere(ctx, "DELETE FROM memories WHERE id = ?", id)
}

// CompareAndDelete deletes the memory only while its version is unchanged.
func (s *MemoryStore) CompareAndDelete(ctx context.Context, id string, version int64) (bool, error) {
	return s.deleteWhere(ctx, "DELETE FROM memories WHERE id = ? AND version = ?", id, version)
}

func (s *MemoryStore) deleteWhere(ctx context.Context, query string, args ...interface{}) (bool, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("sqlite: delete memory: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: check rows affected: %w", err)
	}
	return n > 0, nil
}

// Touch updates last_accessed_at without bumping the version.
func (s *MemoryStore) Touch(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, "UPDATE memories SET last_accessed_at = ? WHERE id = ?", formatTime(at), id)
	if err != nil {
		return fmt.Errorf("sqlite: touch memory: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: check rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Users lists the distinct memory owners.
func (s *MemoryStore) Users(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT user_id FROM memories ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("sqlite: list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("sqlite: scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Close flushes the WAL into the main database file and releases resources.
// The TRUNCATE checkpoint removes the -shm and -wal files so the next process
// can open the database without encountering stale WAL state.
func (s *MemoryStore) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn("sqlite: WAL checkpoint on close failed", "err", err)
	}
	return s.db.Close()
}

// visibilityClause returns the reader visibility predicate. alias prefixes
// column names when the memories table is joined.
func visibilityClause(alias, userID string, f storage.Filters) (string, []interface{}) {
	if f.OwnedOnly {
		return alias + "user_id = ?", []interface{}{userID}
	}
	clause := fmt.Sprintf(
		"((%[1]sscope = 'user' AND %[1]suser_id = ?) OR (%[1]sscope = 'project' AND %[1]sproject_id = ? AND %[1]sproject_id <> '') OR %[1]sscope = 'global')",
		alias)
	return clause, []interface{}{userID, f.ProjectID}
}

func filterClause(alias, userID string, f storage.Filters) (string, []interface{}) {
	where, args := visibilityClause(alias, userID, f)
	clauses := []string{where}
	if f.MemoryType != "" {
		clauses = append(clauses, alias+"memory_type = ?")
		args = append(args, f.MemoryType)
	}
	if f.MinConfidence > 0 {
		clauses = append(clauses, alias+"confidence >= ?")
		args = append(args, f.MinConfidence)
	}
	if len(f.Scopes) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(f.Scopes)), ", ")
		clauses = append(clauses, alias+"scope IN ("+marks+")")
		for _, sc := range f.ScopeStrings() {
			args = append(args, sc)
		}
	}
	return strings.Join(clauses, " AND "), args
}

// sqlLimit maps "no limit" onto SQLite's LIMIT -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row rowScanner, extra ...interface{}) (*types.Memory, error) {
	var (
		m                 types.Memory
		scope             string
		created, accessed string
		expires, metadata sql.NullString
		embedding         []byte
	)
	dest := []interface{}{
		&m.ID, &m.UserID, &scope, &m.ProjectID, &m.Content, &m.MemoryType, &m.Confidence,
		&created, &accessed, &expires, &metadata, &embedding, &m.Version,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	m.Scope = types.Scope(scope)
	var err error
	if m.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if m.LastAccessedAt, err = parseTime(accessed); err != nil {
		return nil, fmt.Errorf("parse last_accessed_at: %w", err)
	}
	if expires.Valid {
		t, err := parseTime(expires.String)
		if err != nil {
			return nil, fmt.Errorf("parse expires_at: %w", err)
		}
		m.ExpiresAt = &t
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	m.Embedding = decodeEmbedding(embedding)
	return &m, nil
}

func scanMemories(rows *sql.Rows) ([]*types.Memory, error) {
	defer func() { _ = rows.Close() }()
	var out []*types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan memory row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows error: %w", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

// nullableTime converts a time pointer to a nullable TEXT value.
func nullableTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// encodeEmbedding packs float32s little-endian. nil stays NULL.
func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v
}

// dbPathFromDSN extracts the filesystem path from a SQLite DSN.
// Handles bare paths and file: URIs. Returns empty string for in-memory
// databases or unparseable DSNs.
func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}
	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" {
			return ""
		}
		return path
	}
	return dsn
}

// isRecoverableWALError matches errors caused by stale WAL files left behind
// after a crash.
func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") ||
		strings.Contains(msg, "database is locked")
}

// isWALStale checks whether -shm/-wal files exist for dbPath and no other
// process holds them open. Returns false if lsof is unavailable.
func isWALStale(dbPath string) bool {
	shmPath := dbPath + "-shm"
	walPath := dbPath + "-wal"
	if !fileExists(shmPath) && !fileExists(walPath) {
		return false
	}

	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		return false
	}
	output, err := exec.Command(lsofPath, "-t", dbPath, shmPath, walPath).Output()
	if err != nil {
		// lsof exits 1 when no process has the files open.
		return true
	}
	return strings.TrimSpace(string(output)) == ""
}

func removeStaleWAL(dbPath string, logger *log.Logger) {
	for _, suffix := range []string{"-shm", "-wal"} {
		path := dbPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("sqlite: failed to remove stale WAL file", "path", path, "err", err)
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
