package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memkeep/internal/config"
	"github.com/scrypster/memkeep/internal/llm"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memkeep.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, config.BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, llm.ProviderHash, cfg.Embedder.Provider)
	assert.Equal(t, 30.0, cfg.Ranking.HalfLifeDays)
	assert.Equal(t, 0.3, cfg.Ranking.DecayWeight)
	assert.Equal(t, 0.85, cfg.Janitor.DedupThreshold)
	assert.Equal(t, 60, cfg.Retrieval.RRFK)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
storage:
  backend: memory
ranking:
  half_life_days: 7
retrieval:
  channel_timeout: 250ms
janitor:
  interval: 15m
  workers: 2
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, config.BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, 7.0, cfg.Ranking.HalfLifeDays)
	assert.Equal(t, 0.3, cfg.Ranking.DecayWeight, "unset fields keep defaults")
	assert.Equal(t, 250*time.Millisecond, cfg.Retrieval.ChannelTimeout)
	assert.Equal(t, 15*time.Minute, cfg.Janitor.Interval)
	assert.Equal(t, 2, cfg.Janitor.Workers)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeFile(t, "ranking:\n  decay_weight: 0.5\n")
	t.Setenv("MEMKEEP_DECAY_WEIGHT", "0.1")
	t.Setenv("MEMKEEP_STORAGE_BACKEND", "memory")
	t.Setenv("MEMKEEP_JANITOR_INTERVAL", "2h")
	t.Setenv("MEMKEEP_VECTOR_INDEX", "YES")
	t.Setenv("MEMKEEP_DEFAULT_K", "not-a-number")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.1, cfg.Ranking.DecayWeight)
	assert.Equal(t, config.BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, 2*time.Hour, cfg.Janitor.Interval)
	assert.True(t, cfg.Storage.VectorIndex)
	assert.Equal(t, 10, cfg.Retrieval.DefaultK, "unparsable values keep the previous value")
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv("MEMKEEP_STORAGE_BACKEND", "cassandra")
		_, err := config.Load("")
		assert.ErrorContains(t, err, "unsupported backend")
	})
	t.Run("decay weight out of range", func(t *testing.T) {
		t.Setenv("MEMKEEP_DECAY_WEIGHT", "1.5")
		_, err := config.Load("")
		assert.ErrorContains(t, err, "ranking")
	})
	t.Run("bad yaml", func(t *testing.T) {
		_, err := config.Load(writeFile(t, "storage: [unclosed"))
		assert.ErrorContains(t, err, "failed to parse")
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestValidate_ReportsEverySection(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Level = "loud"
	cfg.Janitor.Workers = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "log")
	assert.ErrorContains(t, err, "janitor")
}
