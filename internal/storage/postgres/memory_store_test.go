package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memkeep/internal/storage"
	"github.com/scrypster/memkeep/internal/storage/postgres"
	"github.com/scrypster/memkeep/pkg/types"
)

// postgresTestDSN returns the DSN for the test database.
// If POSTGRES_TEST_DSN is not set, tests are skipped.
func postgresTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore connects to the test database and truncates memories so
// every test starts empty.
func newTestStore(t *testing.T) *postgres.MemoryStore {
	t.Helper()
	store, err := postgres.NewMemoryStore(postgresTestDSN(t))
	require.NoError(t, err, "NewMemoryStore should succeed")
	require.NoError(t, store.TruncateForTest(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestMemory(user, content string) *types.Memory {
	return &types.Memory{
		UserID:     user,
		Scope:      types.ScopeUser,
		Content:    content,
		MemoryType: types.MemoryTypeFact,
		Confidence: 0.8,
	}
}

func TestMemoryStore_StoreGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	exp := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Microsecond)
	m := newTestMemory("u1", "Team uses Redis for caching")
	m.ExpiresAt = &exp
	m.Metadata = map[string]interface{}{types.MetaSubject: "team"}
	m.Embedding = []float32{1, 0, 0}

	id, err := store.Store(ctx, m)
	require.NoError(t, err)

	got, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, m.Content, got.Content)
	assert.Equal(t, int64(1), got.Version)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(exp))
	assert.Equal(t, "team", got.SubjectHint())
	assert.Equal(t, []float32{1, 0, 0}, got.Embedding)

	got.Content = "Team uses Valkey for caching"
	_, err = store.Store(ctx, got)
	require.NoError(t, err)
	again, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), again.Version)
}

func TestMemoryStore_NotFoundAndCompareAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	id, err := store.Store(ctx, newTestMemory("u1", "x"))
	require.NoError(t, err)

	ok, err := store.CompareAndDelete(ctx, id, 99)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.CompareAndDelete(ctx, id, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, store.Touch(ctx, id, time.Now()), storage.ErrNotFound)
}

func TestMemoryStore_SearchFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	g := newTestMemory("u2", "shared")
	g.Scope = types.ScopeGlobal
	for _, m := range []*types.Memory{newTestMemory("u1", "mine"), newTestMemory("u2", "theirs"), g} {
		_, err := store.Store(ctx, m)
		require.NoError(t, err)
	}

	got, err := store.Search(ctx, "u1", storage.Filters{}, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = store.Search(ctx, "u2", storage.Filters{OwnedOnly: true, Scopes: []types.Scope{types.ScopeGlobal}}, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "shared", got[0].Content)

	users, err := store.Users(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, users)
}

func TestMemoryStore_LexicalAndVectorSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := newTestMemory("u1", "Redis cluster has three Redis nodes")
	a.Embedding = []float32{1, 0}
	b := newTestMemory("u1", "User prefers dark mode")
	b.Embedding = []float32{0, 1}
	for _, m := range []*types.Memory{a, b} {
		_, err := store.Store(ctx, m)
		require.NoError(t, err)
	}

	hits, err := store.LexicalSearch(ctx, "u1", "", "redis nodes", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Greater(t, hits[0].Score, 0.0)

	vhits, err := store.VectorSearch(ctx, "u1", "", []float32{0.1, 0.9}, 10)
	require.NoError(t, err)
	require.Len(t, vhits, 2)
	assert.Equal(t, "User prefers dark mode", vhits[0].Memory.Content)
}
