package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memkeep/internal/llm"
	"github.com/scrypster/memkeep/internal/metrics"
	"github.com/scrypster/memkeep/internal/storage"
	"github.com/scrypster/memkeep/internal/storage/memstore"
	"github.com/scrypster/memkeep/pkg/types"
)

var fixedNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newTestValidator(t *testing.T, store storage.Store, opts ...Option) (*Validator, *MemoryQueue) {
	t.Helper()
	q := NewMemoryQueue()
	opts = append([]Option{WithQueue(q), WithClock(func() time.Time { return fixedNow })}, opts...)
	v, err := NewValidator(store, DefaultConfig(), opts...)
	require.NoError(t, err)
	return v, q
}

func TestValidate_DecisionConfidence(t *testing.T) {
	v, _ := newTestValidator(t, memstore.New())

	res, err := v.Validate(context.Background(), Candidate{
		Content:    "Redis is the cache",
		SourceText: "We decided to use Redis for caching",
		MemoryType: types.MemoryTypeDecision,
		UserID:     "u1",
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.85, res.Confidence, 1e-9)
	assert.False(t, res.Hedged)
	assert.Equal(t, types.TierAutoApprove, res.Tier, "first-person explicit decision")
}

func TestIngest_FirstPersonPreferenceAutoApproves(t *testing.T) {
	store := memstore.New()
	v, q := newTestValidator(t, store)

	out, err := v.Ingest(context.Background(), Candidate{
		Content:    "I prefer dark mode",
		SourceText: "I prefer dark mode",
		MemoryType: types.MemoryTypePreference,
		UserID:     "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, types.TierAutoApprove, out.Result.Tier)
	assert.InDelta(t, 0.9, out.Result.Confidence, 1e-9)
	require.NotEmpty(t, out.MemoryID)
	require.NotEmpty(t, out.Result.Citations)
	assert.Equal(t, types.CitationExplicitUserSay, out.Result.Citations[0].Type)

	m, err := store.GetByID(context.Background(), out.MemoryID)
	require.NoError(t, err)
	assert.True(t, m.CreatedAt.Equal(fixedNow))
	assert.True(t, m.LastAccessedAt.Equal(fixedNow))
	assert.Equal(t, types.ScopeUser, m.Scope)

	n, _ := q.Len(context.Background())
	assert.Zero(t, n)
}

func TestIngest_HedgedSpeculationIsNeverAutoApproved(t *testing.T) {
	store := memstore.New()
	v, q := newTestValidator(t, store)

	out, err := v.Ingest(context.Background(), Candidate{
		Content:    "Postgres for storage",
		SourceText: "Maybe we should use Postgres",
		MemoryType: types.MemoryTypeDecision,
		UserID:     "u1",
	})
	require.NoError(t, err)
	assert.True(t, out.Result.Hedged)
	assert.InDelta(t, 0.6, out.Result.Confidence, 1e-9)
	assert.Equal(t, types.TierBlock, out.Result.Tier)
	assert.NotEmpty(t, out.Result.Reasons)
	assert.Empty(t, out.MemoryID)
	assert.Zero(t, store.Len())
	n, _ := q.Len(context.Background())
	assert.Zero(t, n)
}

func TestIngest_HedgedLowConfidenceBlocked(t *testing.T) {
	v, _ := newTestValidator(t, memstore.New())
	out, err := v.Ingest(context.Background(), Candidate{
		Content:        "the build works",
		SourceText:     "I think it might work now",
		MemoryType:     types.MemoryTypeFact,
		BaseConfidence: 0.55,
		UserID:         "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, types.TierBlock, out.Result.Tier)
	assert.Less(t, out.Result.Confidence, 0.5)
}

func TestIngest_UnsupportedFactGoesToReview(t *testing.T) {
	store := memstore.New()
	v, q := newTestValidator(t, store)

	out, err := v.Ingest(context.Background(), Candidate{
		Content:    "Deploys happen on Fridays",
		SourceText: "The deploys happen on Fridays",
		MemoryType: types.MemoryTypeFact,
		UserID:     "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, types.TierReview, out.Result.Tier)
	assert.InDelta(t, 0.75, out.Result.Confidence, 1e-9)
	require.NotEmpty(t, out.PendingID)
	assert.Zero(t, store.Len())

	p, err := q.Get(context.Background(), out.PendingID)
	require.NoError(t, err)
	assert.Equal(t, "Deploys happen on Fridays", p.Memory.Content)
	assert.True(t, p.QueuedAt.Equal(fixedNow))
}

func TestIngest_DuplicateBlocked(t *testing.T) {
	store := memstore.New()
	existing, err := store.Store(context.Background(), &types.Memory{
		UserID: "u1", Scope: types.ScopeUser, Content: "User prefers dark mode",
		MemoryType: types.MemoryTypePreference, Confidence: 0.9,
	})
	require.NoError(t, err)
	v, _ := newTestValidator(t, store)

	out, err := v.Ingest(context.Background(), Candidate{
		Content:    "user prefers DARK mode!",
		SourceText: "I prefer dark mode",
		MemoryType: types.MemoryTypePreference,
		UserID:     "u1",
	})
	require.NoError(t, err)
	assert.True(t, out.Result.Duplicate)
	assert.Equal(t, existing, out.Result.DuplicateOf)
	assert.Equal(t, types.TierBlock, out.Result.Tier)
	assert.Equal(t, 1, store.Len())
}

func TestIngest_DuplicateCheckIsPerUserAndScope(t *testing.T) {
	store := memstore.New()
	_, err := store.Store(context.Background(), &types.Memory{
		UserID: "u2", Scope: types.ScopeGlobal, Content: "I prefer dark mode", Confidence: 0.9,
	})
	require.NoError(t, err)
	v, _ := newTestValidator(t, store)

	out, err := v.Ingest(context.Background(), Candidate{
		Content:    "I prefer dark mode",
		SourceText: "I prefer dark mode",
		MemoryType: types.MemoryTypePreference,
		UserID:     "u1",
	})
	require.NoError(t, err)
	assert.False(t, out.Result.Duplicate)
	assert.Equal(t, types.TierAutoApprove, out.Result.Tier)
}

func TestIngest_StoreUnavailableFailsClosed(t *testing.T) {
	store := memstore.New()
	require.NoError(t, store.Close())
	rec := metrics.NewRecorder()
	v, q := newTestValidator(t, store, WithMetrics(rec))

	out, err := v.Ingest(context.Background(), Candidate{
		Content:    "I prefer dark mode",
		SourceText: "I prefer dark mode",
		MemoryType: types.MemoryTypePreference,
		UserID:     "u1",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationUnavailable)
	assert.Equal(t, types.TierReview, out.Result.Tier)
	assert.True(t, out.Result.Unavailable)
	assert.NotEmpty(t, out.PendingID)

	n, _ := q.Len(context.Background())
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(1), rec.Counter(metrics.ValidationUnavailable))
	assert.Equal(t, int64(1), rec.Counter(metrics.ValidationTier, "tier", "2"))
}

func TestIngest_EmbedsAutoApprovedMemories(t *testing.T) {
	store := memstore.New()
	v, _ := newTestValidator(t, store, WithEmbedder(llm.NewHashEmbedder(16)))

	out, err := v.Ingest(context.Background(), Candidate{
		Content:    "I prefer dark mode",
		SourceText: "I prefer dark mode",
		MemoryType: types.MemoryTypePreference,
		UserID:     "u1",
	})
	require.NoError(t, err)
	m, err := store.GetByID(context.Background(), out.MemoryID)
	require.NoError(t, err)
	assert.Len(t, m.Embedding, 16)
}

func TestIngest_NoQueueConfigured(t *testing.T) {
	v, err := NewValidator(memstore.New(), DefaultConfig())
	require.NoError(t, err)
	_, err = v.Ingest(context.Background(), Candidate{
		Content: "Deploys happen on Fridays", SourceText: "The deploys happen on Fridays",
		MemoryType: types.MemoryTypeFact, UserID: "u1",
	})
	assert.ErrorIs(t, err, ErrNoQueue)
}

func TestIngest_NoQueueKeepsUnavailableError(t *testing.T) {
	store := memstore.New()
	require.NoError(t, store.Close())
	v, err := NewValidator(store, DefaultConfig())
	require.NoError(t, err)

	out, err := v.Ingest(context.Background(), Candidate{
		Content: "I prefer dark mode", SourceText: "I prefer dark mode",
		MemoryType: types.MemoryTypePreference, UserID: "u1",
	})
	assert.ErrorIs(t, err, ErrValidationUnavailable)
	assert.ErrorIs(t, err, ErrNoQueue)
	assert.Equal(t, types.TierReview, out.Result.Tier)
	assert.Empty(t, out.PendingID)
}

func TestValidate_HedgeInsideSpeculativeMarkerCountsOnce(t *testing.T) {
	v, _ := newTestValidator(t, memstore.New())

	res, err := v.Validate(context.Background(), Candidate{
		Content:    "I might want Go",
		MemoryType: types.MemoryTypePreference,
		UserID:     "u1",
	})
	require.NoError(t, err)
	assert.True(t, res.Hedged)
	assert.Equal(t, types.TierReview, res.Tier)
	assert.InDelta(t, 0.6, res.Confidence, 1e-9)
}

func TestValidate_InvalidCandidates(t *testing.T) {
	v, _ := newTestValidator(t, memstore.New())
	for name, c := range map[string]Candidate{
		"empty content":      {UserID: "u1", Content: "  "},
		"missing user":       {Content: "x"},
		"bad scope":          {UserID: "u1", Content: "x", Scope: "team"},
		"project without id": {UserID: "u1", Content: "x", Scope: types.ScopeProject},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Validate(context.Background(), c)
			assert.ErrorIs(t, err, storage.ErrInvalidInput)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.RejectThreshold = 0.9
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.DedupThreshold = 1.5
	assert.Error(t, cfg.Validate())

	_, err := NewValidator(memstore.New(), Config{})
	assert.Error(t, err)
}

func TestCitationDetector(t *testing.T) {
	d := NewCitationDetector(DefaultKeywords())
	src := `She said "ship it friday" and linked https://example.com/doc. Remember that my editor is vim.`
	cites := d.Detect(src)

	byType := map[types.CitationType][]string{}
	for _, c := range cites {
		byType[c.Type] = append(byType[c.Type], c.Span)
		assert.Equal(t, c.Span, src[c.Start:c.End])
	}
	assert.Equal(t, []string{"ship it friday"}, byType[types.CitationQuotedSource])
	assert.Equal(t, []string{"https://example.com/doc"}, byType[types.CitationLink])
	assert.ElementsMatch(t, []string{"Remember that", "my editor is"}, byType[types.CitationExplicitUserSay])

	for i := 1; i < len(cites); i++ {
		assert.LessOrEqual(t, cites[i-1].Start, cites[i].Start)
	}
	assert.Empty(t, d.Detect("nothing to see here"))
}
