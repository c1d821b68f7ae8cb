package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(CircuitBreakerConfig{
		Name:                 "test",
		MaxFailures:          3,
		Timeout:              50 * time.Millisecond,
		HalfOpenMaxSuccesses: 2,
	})
	ctx := context.Background()
	fail := func() (interface{}, error) { return nil, errBoom }
	ok := func() (interface{}, error) { return "ok", nil }

	for i := 0; i < 3; i++ {
		_, err := cb.Execute(ctx, fail)
		assert.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, "open", cb.State())

	_, err := cb.Execute(ctx, ok)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, uint64(1), cb.Metrics().Rejected)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, "half-open", cb.State())

	v, err := cb.Execute(ctx, ok)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	_, err = cb.Execute(ctx, ok)
	require.NoError(t, err)
	assert.Equal(t, "closed", cb.State())

	m := cb.Metrics()
	assert.Equal(t, uint64(6), m.TotalRequests)
	assert.Equal(t, uint64(3), m.TotalFailures)
	assert.Equal(t, uint64(2), m.TotalSuccesses)
}

func TestCircuitBreaker_CancelledContextSkipsCall(t *testing.T) {
	cb := NewCircuitBreaker("test")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := cb.Execute(ctx, func() (interface{}, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestHashEmbedder_DeterministicAndNormalised(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, "Team uses Redis for caching")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "team uses redis for caching")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)

	empty, err := e.Embed(ctx, "the of")
	require.NoError(t, err)
	for _, v := range empty {
		assert.Zero(t, v)
	}
	assert.Equal(t, "hash-64", e.Model())
}

type countingEmbedder struct {
	calls atomic.Int32
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (c *countingEmbedder) Model() string { return "counting" }

func TestCachedEmbedder_HitsAndCopies(t *testing.T) {
	inner := &countingEmbedder{}
	c, err := NewCachedEmbedder(inner, 100)
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	v1, err := c.Embed(ctx, "abc")
	require.NoError(t, err)
	c.Wait()

	v1[0] = 99
	v2, err := c.Embed(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 1}, v2)
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestCachedEmbedder_DoesNotCacheErrors(t *testing.T) {
	inner := &countingEmbedder{err: errBoom}
	c, err := NewCachedEmbedder(inner, 100)
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 2; i++ {
		_, err := c.Embed(context.Background(), "abc")
		assert.ErrorIs(t, err, errBoom)
		c.Wait()
	}
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestOverlapScorer(t *testing.T) {
	s := OverlapScorer{}
	ctx := context.Background()
	hi, err := s.Score(ctx, "redis caching", "Team uses Redis for caching")
	require.NoError(t, err)
	lo, err := s.Score(ctx, "redis caching", "User prefers dark mode")
	require.NoError(t, err)
	assert.Greater(t, hi, lo)
	assert.Zero(t, lo)
}

func TestEmbeddingScorer(t *testing.T) {
	s := NewEmbeddingScorer(NewHashEmbedder(128))
	got, err := s.Score(context.Background(), "dark mode", "dark mode")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got, 1e-6)

	_, err = NewEmbeddingScorer(&countingEmbedder{err: errBoom}).Score(context.Background(), "a", "b")
	assert.ErrorIs(t, err, errBoom)
}

func TestBreakerScorer_FailsFastWhenOpen(t *testing.T) {
	var calls int
	failing := ScorerFunc(func(ctx context.Context, q, c string) (float64, error) {
		calls++
		return 0, errBoom
	})
	s := NewBreakerScorer(failing, NewCircuitBreakerWithConfig(CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Hour}))

	for i := 0; i < 2; i++ {
		_, err := s.Score(context.Background(), "q", "c")
		assert.ErrorIs(t, err, errBoom)
	}
	_, err := s.Score(context.Background(), "q", "c")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, calls)
}

func TestOllamaEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"model":      req["model"],
			"embeddings": [][]float32{{0.5, 0.25}},
		})
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL, Model: "test-embed"})
	require.NoError(t, err)
	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, vec)
	assert.Equal(t, "test-embed", e.Model())
}

func TestOllamaEmbedder_UnavailableTripsBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(OllamaConfig{
		BaseURL: srv.URL,
		Breaker: CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Hour},
	})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = e.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, "open", e.Breaker().State())
}

func TestFactories(t *testing.T) {
	e, err := NewEmbedder(EmbedderConfig{Provider: "none"}, nil)
	require.NoError(t, err)
	assert.Nil(t, e)

	e, err = NewEmbedder(EmbedderConfig{Provider: ProviderHash, Dimensions: 32, CacheSize: 10}, nil)
	require.NoError(t, err)
	assert.IsType(t, &CachedEmbedder{}, e)
	assert.Equal(t, "hash-32", e.Model())

	_, err = NewEmbedder(EmbedderConfig{Provider: "openai"}, nil)
	assert.Error(t, err)

	s, err := NewScorer(ScorerConfig{Provider: ProviderOverlap}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &BreakerScorer{}, s)

	_, err = NewScorer(ScorerConfig{Provider: ProviderEmbedding}, nil, nil)
	assert.Error(t, err)

	s, err = NewScorer(ScorerConfig{}, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, s)
}
