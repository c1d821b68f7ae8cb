package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"

	"github.com/scrypster/memkeep/internal/config"
	"github.com/scrypster/memkeep/internal/ingest"
	"github.com/scrypster/memkeep/internal/janitor"
	"github.com/scrypster/memkeep/internal/llm"
	"github.com/scrypster/memkeep/internal/metrics"
	"github.com/scrypster/memkeep/internal/ranking"
	"github.com/scrypster/memkeep/internal/retrieval"
	"github.com/scrypster/memkeep/internal/similarity"
	"github.com/scrypster/memkeep/internal/storage"
	"github.com/scrypster/memkeep/internal/storage/chromem"
	"github.com/scrypster/memkeep/internal/storage/memstore"
	"github.com/scrypster/memkeep/internal/storage/postgres"
	"github.com/scrypster/memkeep/internal/storage/sqlite"
)

// app holds every component wired from one configuration.
type app struct {
	cfg      *config.Config
	logger   *log.Logger
	recorder *metrics.Recorder
	sink     metrics.Sink

	store    storage.Store
	queue    ingest.ReviewQueue
	embedder llm.Embedder

	validator *ingest.Validator
	reviewer  *ingest.Reviewer
	hybrid    *retrieval.Hybrid
	ranker    *ranking.Scoped
	runner    *janitor.Runner
	scheduler *janitor.Scheduler

	closers []func() error
}

func newLogger(level string, w io.Writer) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{ReportTimestamp: true, Prefix: "memkeep"})
	if lvl, err := log.ParseLevel(strings.ToLower(level)); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}

// newApp opens the store and builds the pipeline. Callers must Close it.
func newApp(ctx context.Context, cfg *config.Config, stderr io.Writer) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   newLogger(cfg.Log.Level, stderr),
		recorder: metrics.NewRecorder(),
	}
	a.sink = metrics.Tee{a.recorder, metrics.NewOTel(otel.GetMeterProvider().Meter("memkeep"))}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	embedder, err := llm.NewEmbedder(cfg.Embedder, a.logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	a.embedder = embedder
	if c, ok := embedder.(interface{ Close() }); ok {
		a.closers = append(a.closers, func() error { c.Close(); return nil })
	}
	scorer, err := llm.NewScorer(cfg.Scorer, embedder, a.logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create scorer: %w", err)
	}
	measure := similarity.New(embedder)

	a.validator, err = ingest.NewValidator(a.store, cfg.Ingest,
		ingest.WithQueue(a.queue),
		ingest.WithEmbedder(embedder),
		ingest.WithMeasure(measure),
		ingest.WithLogger(a.logger.WithPrefix("ingest")),
		ingest.WithMetrics(a.sink))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.reviewer = ingest.NewReviewer(a.store, a.queue,
		ingest.WithReviewEmbedder(embedder),
		ingest.WithReviewLogger(a.logger.WithPrefix("review")))

	a.runner, err = janitor.NewRunner(a.store, cfg.Janitor,
		janitor.WithMeasure(measure),
		janitor.WithLogger(a.logger.WithPrefix("janitor")),
		janitor.WithMetrics(a.sink))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.scheduler, err = janitor.NewScheduler(a.runner, cfg.Janitor,
		janitor.WithSchedulerLogger(a.logger.WithPrefix("janitor")))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.hybrid, err = retrieval.NewHybrid(a.store, cfg.Retrieval,
		retrieval.WithEmbedder(embedder),
		retrieval.WithScorer(scorer),
		retrieval.WithLogger(a.logger.WithPrefix("retrieval")),
		retrieval.WithMetrics(a.sink),
		retrieval.OnDegraded(func(reason string) { a.scheduler.Trigger(reason) }))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.ranker, err = ranking.NewScoped(a.hybrid, a.store, cfg.Ranking,
		ranking.WithLogger(a.logger.WithPrefix("ranking")))
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	cfg := a.cfg.Storage
	storeLog := a.logger.WithPrefix("storage")

	var base storage.Store
	switch cfg.Backend {
	case config.BackendMemory:
		base = memstore.New()
		a.queue = ingest.NewMemoryQueue()
	case config.BackendSQLite:
		if dir := sqliteDir(cfg.DSN); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		s, err := sqlite.NewMemoryStore(cfg.DSN, sqlite.WithLogger(storeLog))
		if err != nil {
			return fmt.Errorf("failed to open sqlite store: %w", err)
		}
		base = s
		a.queue = sqlite.NewReviewQueue(s)
	case config.BackendPostgres:
		s, err := postgres.NewMemoryStore(cfg.DSN, postgres.WithLogger(storeLog))
		if err != nil {
			return fmt.Errorf("failed to open postgres store: %w", err)
		}
		base = s
		storeLog.Warn("review queue is in-memory for the postgres backend; pending memories do not survive restarts")
		a.queue = ingest.NewMemoryQueue()
	default:
		return fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}

	a.store = base
	if cfg.VectorIndex {
		idx, err := chromem.New(base, chromem.WithLogger(storeLog))
		if err != nil {
			_ = base.Close()
			return err
		}
		n, err := idx.Rebuild(ctx)
		if err != nil {
			_ = idx.Close()
			return fmt.Errorf("failed to build vector index: %w", err)
		}
		storeLog.Debug("vector index built", "memories", n)
		a.store = idx
	}
	a.closers = append(a.closers, a.store.Close)
	return nil
}

// sqliteDir returns the directory a file DSN lives in, or "" for in-memory
// and URI DSNs.
func sqliteDir(dsn string) string {
	if dsn == "" || strings.HasPrefix(dsn, ":memory:") || strings.HasPrefix(dsn, "file:") {
		return ""
	}
	dir := filepath.Dir(dsn)
	if dir == "." {
		return ""
	}
	return dir
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "err", err)
		}
	}
	a.closers = nil
}
