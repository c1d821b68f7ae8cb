package janitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memkeep/internal/metrics"
	"github.com/scrypster/memkeep/internal/storage"
	"github.com/scrypster/memkeep/internal/storage/memstore"
	"github.com/scrypster/memkeep/pkg/types"
)

var base = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func put(t *testing.T, s storage.Store, m types.Memory) string {
	t.Helper()
	if m.UserID == "" {
		m.UserID = "u1"
	}
	if m.Scope == "" {
		m.Scope = types.ScopeUser
	}
	if m.Confidence == 0 {
		m.Confidence = 0.8
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = base
	}
	id, err := s.Store(context.Background(), &m)
	require.NoError(t, err)
	return id
}

func exists(t *testing.T, s storage.Store, id string) bool {
	t.Helper()
	_, err := s.GetByID(context.Background(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}

// flakyStore fails CompareAndDelete for the listed ids.
type flakyStore struct {
	inner storage.Store
	fail  map[string]bool
}

func (f *flakyStore) Store(ctx context.Context, m *types.Memory) (string, error) {
	return f.inner.Store(ctx, m)
}
func (f *flakyStore) Retrieve(ctx context.Context, q, u string, n int) ([]*types.Memory, error) {
	return f.inner.Retrieve(ctx, q, u, n)
}
func (f *flakyStore) Search(ctx context.Context, u string, fl storage.Filters, n int) ([]*types.Memory, error) {
	return f.inner.Search(ctx, u, fl, n)
}
func (f *flakyStore) GetByID(ctx context.Context, id string) (*types.Memory, error) {
	return f.inner.GetByID(ctx, id)
}
func (f *flakyStore) Delete(ctx context.Context, id string) (bool, error) {
	return f.inner.Delete(ctx, id)
}
func (f *flakyStore) CompareAndDelete(ctx context.Context, id string, v int64) (bool, error) {
	if f.fail[id] {
		return false, errors.New("disk full")
	}
	return f.inner.CompareAndDelete(ctx, id, v)
}
func (f *flakyStore) Touch(ctx context.Context, id string, at time.Time) error {
	return f.inner.Touch(ctx, id, at)
}
func (f *flakyStore) Users(ctx context.Context) ([]string, error) { return f.inner.Users(ctx) }
func (f *flakyStore) Close() error                                { return f.inner.Close() }

func TestDeduplicator_KeepsHigherConfidenceAndIsIdempotent(t *testing.T) {
	s := memstore.New()
	strong := put(t, s, types.Memory{Content: "Team uses Redis for caching", Confidence: 0.9, LastAccessedAt: base})
	weak := put(t, s, types.Memory{Content: "team uses redis for caching.", Confidence: 0.7, LastAccessedAt: base.Add(time.Hour)})
	other := put(t, s, types.Memory{Content: "User prefers dark mode"})

	d := NewDeduplicator(s, nil, DefaultConfig(), nil)
	stats, err := d.Run(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, 1, stats.Removed)
	assert.True(t, exists(t, s, strong))
	assert.False(t, exists(t, s, weak))
	assert.True(t, exists(t, s, other))

	got, err := s.GetByID(context.Background(), strong)
	require.NoError(t, err)
	assert.True(t, got.LastAccessedAt.Equal(base.Add(time.Hour)), "survivor keeps the later access time")

	again, err := d.Run(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, again.Removed)
}

func TestDeduplicator_EqualConfidencePrefersNewer(t *testing.T) {
	s := memstore.New()
	older := put(t, s, types.Memory{Content: "Deploys go to Fly", CreatedAt: base})
	newer := put(t, s, types.Memory{Content: "deploys go to fly", CreatedAt: base.Add(time.Minute)})

	stats, err := NewDeduplicator(s, nil, DefaultConfig(), nil).Run(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Removed)
	assert.True(t, exists(t, s, newer))
	assert.False(t, exists(t, s, older))
}

func TestDeduplicator_RespectsUserAndScope(t *testing.T) {
	s := memstore.New()
	a := put(t, s, types.Memory{Content: "Team uses Redis"})
	b := put(t, s, types.Memory{Content: "Team uses Redis", Scope: types.ScopeProject, ProjectID: "p1"})
	c := put(t, s, types.Memory{Content: "Team uses Redis", UserID: "u2"})

	stats, err := NewDeduplicator(s, nil, DefaultConfig(), nil).Run(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, stats.Removed)
	for _, id := range []string{a, b, c} {
		assert.True(t, exists(t, s, id))
	}
}

func TestParseClaim(t *testing.T) {
	c, ok := ParseClaim(&types.Memory{Content: "User prefers dark mode"})
	require.True(t, ok)
	assert.Equal(t, Claim{Subject: "user", Predicate: "prefers", Object: "dark mode"}, c)

	c, ok = ParseClaim(&types.Memory{Content: "I don't use vim anymore"})
	require.True(t, ok)
	assert.Equal(t, "i", c.Subject)
	assert.Equal(t, "use", c.Predicate)
	assert.True(t, c.Negated)

	c, ok = ParseClaim(&types.Memory{Content: "The API is using gRPC"})
	require.True(t, ok)
	assert.Equal(t, "is using", c.Predicate)

	c, ok = ParseClaim(&types.Memory{Content: "Light theme", Metadata: map[string]interface{}{types.MetaSubject: "Editor Theme"}})
	require.True(t, ok)
	assert.Equal(t, "editor theme", c.Subject)
	assert.Equal(t, "light theme", c.Object)

	_, ok = ParseClaim(&types.Memory{Content: "Redis"})
	assert.False(t, ok)
}

func TestContradictionHandler_NewerWins(t *testing.T) {
	s := memstore.New()
	old := put(t, s, types.Memory{Content: "User prefers dark mode", MemoryType: types.MemoryTypePreference, CreatedAt: base})
	cur := put(t, s, types.Memory{Content: "User prefers light mode", MemoryType: types.MemoryTypePreference, CreatedAt: base.Add(24 * time.Hour)})
	// Same claim as a fact: different type, never compared.
	fact := put(t, s, types.Memory{Content: "User prefers vim", MemoryType: types.MemoryTypeFact})
	// Agreeing claim is left alone.
	same := put(t, s, types.Memory{Content: "User prefers light mode", MemoryType: types.MemoryTypePreference, CreatedAt: base.Add(time.Hour)})

	stats, err := NewContradictionHandler(s, DefaultConfig(), nil).Run(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Processed)
	assert.Equal(t, 1, stats.Resolved)
	assert.False(t, exists(t, s, old))
	assert.True(t, exists(t, s, cur))
	assert.True(t, exists(t, s, fact))
	assert.True(t, exists(t, s, same))
}

func TestContradictionHandler_OppositePolarity(t *testing.T) {
	s := memstore.New()
	old := put(t, s, types.Memory{Content: "I use vim", CreatedAt: base})
	cur := put(t, s, types.Memory{Content: "I no longer use vim", CreatedAt: base.Add(time.Hour)})

	stats, err := NewContradictionHandler(s, DefaultConfig(), nil).Run(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Resolved)
	assert.False(t, exists(t, s, old))
	assert.True(t, exists(t, s, cur))
}

func TestContradictionHandler_MultiValuedFactsCoexist(t *testing.T) {
	s := memstore.New()
	ids := []string{
		put(t, s, types.Memory{Content: "The team uses Redis for caching", CreatedAt: base}),
		put(t, s, types.Memory{Content: "The team uses Postgres for storage", CreatedAt: base.Add(time.Hour)}),
		put(t, s, types.Memory{Content: "Redis is fast", CreatedAt: base}),
		put(t, s, types.Memory{Content: "Redis is single threaded", CreatedAt: base.Add(time.Hour)}),
	}

	stats, err := NewContradictionHandler(s, DefaultConfig(), nil).Run(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, stats.Resolved)
	for _, id := range ids {
		assert.True(t, exists(t, s, id))
	}
}

func TestContradictionHandler_MultiValuedNegationOnlyHitsSameObject(t *testing.T) {
	s := memstore.New()
	vim := put(t, s, types.Memory{Content: "I use vim", CreatedAt: base})
	emacs := put(t, s, types.Memory{Content: "I use emacs", CreatedAt: base.Add(time.Hour)})
	dropped := put(t, s, types.Memory{Content: "I don't use vim anymore", CreatedAt: base.Add(2 * time.Hour)})

	stats, err := NewContradictionHandler(s, DefaultConfig(), nil).Run(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Resolved)
	assert.False(t, exists(t, s, vim))
	assert.True(t, exists(t, s, emacs))
	assert.True(t, exists(t, s, dropped))
}

func TestClaimConflicts(t *testing.T) {
	prefers := Claim{Subject: "user", Predicate: "prefers", Object: "dark mode"}
	assert.True(t, prefers.Conflicts(Claim{Subject: "user", Predicate: "prefers", Object: "light mode"}))

	uses := Claim{Subject: "team", Predicate: "uses", Object: "redis"}
	assert.False(t, uses.Conflicts(Claim{Subject: "team", Predicate: "uses", Object: "postgres"}))
	assert.True(t, uses.Conflicts(Claim{Subject: "team", Predicate: "uses", Object: "redis", Negated: true}))
	assert.False(t, uses.Conflicts(uses))
}

func TestContradictionHandler_TieBreaksOnAccessThenID(t *testing.T) {
	a := &types.Memory{ID: "a", CreatedAt: base, LastAccessedAt: base}
	b := &types.Memory{ID: "b", CreatedAt: base, LastAccessedAt: base.Add(time.Second)}
	c := &types.Memory{ID: "c", CreatedAt: base, LastAccessedAt: base}
	assert.True(t, newerWins(b, a))
	assert.True(t, newerWins(c, a))
	assert.False(t, newerWins(a, c))
}

func TestExpirationCleaner_Boundary(t *testing.T) {
	s := memstore.New()
	now := base.Add(365 * 24 * time.Hour)
	past := now.Add(-time.Second)
	future := now.Add(time.Second)
	// Same instant written in another zone is still one second in the past.
	zoned := past.In(time.FixedZone("PDT", -7*3600))

	expired := put(t, s, types.Memory{Content: "temporary note", ExpiresAt: &past})
	expiredZoned := put(t, s, types.Memory{Content: "zoned note", ExpiresAt: &zoned})
	live := put(t, s, types.Memory{Content: "still valid", ExpiresAt: &future})
	ancient := put(t, s, types.Memory{Content: "no expiry", CreatedAt: base.Add(-10 * 365 * 24 * time.Hour)})

	e := NewExpirationCleaner(s, DefaultConfig(), func() time.Time { return now }, nil)
	stats, err := e.Run(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Processed)
	assert.Equal(t, 2, stats.Removed)
	assert.False(t, exists(t, s, expired))
	assert.False(t, exists(t, s, expiredZoned))
	assert.True(t, exists(t, s, live))
	assert.True(t, exists(t, s, ancient))
}

func TestRunner_ItemErrorsAreCountedNotFatal(t *testing.T) {
	inner := memstore.New()
	past := base.Add(-time.Hour)
	stuck := put(t, inner, types.Memory{Content: "stuck note", ExpiresAt: &past})
	gone := put(t, inner, types.Memory{Content: "old note", ExpiresAt: &past})
	s := &flakyStore{inner: inner, fail: map[string]bool{stuck: true}}

	rec := metrics.NewRecorder()
	r, err := NewRunner(s, DefaultConfig(), WithClock(func() time.Time { return base }), WithMetrics(rec))
	require.NoError(t, err)

	stats := r.Run(context.Background(), "u1")
	require.Len(t, stats.Tasks, 3)
	assert.Equal(t, []string{TaskDedup, TaskContradiction, TaskExpiration},
		[]string{stats.Tasks[0].Task, stats.Tasks[1].Task, stats.Tasks[2].Task})
	assert.Equal(t, 1, stats.Removed)
	assert.Equal(t, 1, stats.Errors)
	assert.True(t, exists(t, inner, stuck))
	assert.False(t, exists(t, inner, gone))
	assert.Equal(t, int64(1), rec.Counter(metrics.JanitorErrors, "task", TaskExpiration))
	assert.Equal(t, int64(1), rec.Counter(metrics.JanitorRemoved, "task", TaskExpiration))
}

type fnTask struct {
	name string
	fn   func(ctx context.Context) (types.TaskStats, error)
}

func (f fnTask) Name() string { return f.name }
func (f fnTask) Run(ctx context.Context, _ string) (types.TaskStats, error) {
	return f.fn(ctx)
}

func TestRunner_CancellationBetweenTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ranSecond atomic.Bool
	first := fnTask{name: "first", fn: func(tctx context.Context) (types.TaskStats, error) {
		cancel()
		// The running task keeps a live context.
		assert.NoError(t, tctx.Err())
		return types.TaskStats{Processed: 2, Removed: 1}, nil
	}}
	second := fnTask{name: "second", fn: func(context.Context) (types.TaskStats, error) {
		ranSecond.Store(true)
		return types.TaskStats{}, nil
	}}

	r, err := NewRunner(memstore.New(), DefaultConfig(), WithTasks(first, second))
	require.NoError(t, err)
	stats := r.Run(ctx, "u1")
	assert.True(t, stats.Cancelled)
	assert.False(t, ranSecond.Load())
	assert.Equal(t, 1, stats.Removed)
	require.Len(t, stats.Tasks, 1)
}

func TestRunner_TaskFailureDoesNotStopPipeline(t *testing.T) {
	failing := fnTask{name: "failing", fn: func(context.Context) (types.TaskStats, error) {
		return types.TaskStats{}, errors.New("store offline")
	}}
	ok := fnTask{name: "ok", fn: func(context.Context) (types.TaskStats, error) {
		return types.TaskStats{Processed: 3}, nil
	}}
	r, err := NewRunner(memstore.New(), DefaultConfig(), WithTasks(failing, ok))
	require.NoError(t, err)

	stats := r.Run(context.Background(), "u1")
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 3, stats.Processed)
	assert.Len(t, stats.Tasks, 2)
}

func TestRunner_RunAllAggregatesUsers(t *testing.T) {
	s := memstore.New()
	for _, u := range []string{"u1", "u2", "u3"} {
		put(t, s, types.Memory{UserID: u, Content: "User prefers dark mode", MemoryType: types.MemoryTypePreference, CreatedAt: base})
		put(t, s, types.Memory{UserID: u, Content: "User prefers light mode", MemoryType: types.MemoryTypePreference, CreatedAt: base.Add(time.Hour)})
		put(t, s, types.Memory{UserID: u, Content: "Team uses Redis for caching", Confidence: 0.9})
		put(t, s, types.Memory{UserID: u, Content: "team uses redis for caching", Confidence: 0.6})
	}
	cfg := DefaultConfig()
	cfg.Workers = 2
	r, err := NewRunner(s, cfg)
	require.NoError(t, err)

	total, err := r.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, total.Removed)
	assert.Equal(t, 3, total.Resolved)
	assert.Zero(t, total.Errors)
	assert.Len(t, total.Tasks, 9)
	assert.Equal(t, 6, s.Len())

	again, err := r.RunAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.Removed)
	assert.Zero(t, again.Resolved)
}

func TestRunner_RunAllFailsWhenUsersUnavailable(t *testing.T) {
	s := memstore.New()
	require.NoError(t, s.Close())
	r, err := NewRunner(s, DefaultConfig())
	require.NoError(t, err)
	_, err = r.RunAll(context.Background())
	assert.ErrorIs(t, err, storage.ErrClosed)
}

type countingRunner struct{ runs atomic.Int32 }

func (c *countingRunner) RunAll(context.Context) (types.JanitorRunStats, error) {
	c.runs.Add(1)
	return types.JanitorRunStats{}, nil
}

func TestScheduler_TriggerIsRateLimited(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TriggerEvery = time.Hour
	s, err := NewScheduler(&countingRunner{}, cfg)
	require.NoError(t, err)

	assert.True(t, s.Trigger("degraded"))
	assert.False(t, s.Trigger("degraded again"), "second trigger within the window is dropped")
}

func TestScheduler_RunsOnTrigger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TriggerEvery = 0
	runner := &countingRunner{}
	done := make(chan string, 4)
	s, err := NewScheduler(runner, cfg, OnRun(func(reason string, _ types.JanitorRunStats, _ error) {
		done <- reason
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	require.True(t, s.Trigger("degraded retrieval"))
	select {
	case reason := <-done:
		assert.Equal(t, "degraded retrieval", reason)
	case <-time.After(2 * time.Second):
		t.Fatal("triggered run did not happen")
	}
	assert.False(t, s.LastRun().IsZero())

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, int32(1), runner.runs.Load())
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.DedupThreshold = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Workers = 0
	assert.Error(t, bad.Validate())

	_, err := NewRunner(memstore.New(), Config{})
	assert.Error(t, err)
	_, err = NewScheduler(nil, cfg)
	assert.Error(t, err)
}
