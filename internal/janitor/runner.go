package janitor

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/scrypster/memkeep/internal/metrics"
	"github.com/scrypster/memkeep/internal/similarity"
	"github.com/scrypster/memkeep/internal/storage"
	"github.com/scrypster/memkeep/pkg/types"
)

// Runner executes the task pipeline per user.
type Runner struct {
	store   storage.Store
	tasks   []Task
	cfg     Config
	logger  *log.Logger
	metrics metrics.Sink

	measure similarity.Measure
	now     func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithMeasure sets the duplicate similarity measure (default: lexical).
func WithMeasure(m similarity.Measure) Option { return func(r *Runner) { r.measure = m } }

// WithClock overrides the time source used for expiration.
func WithClock(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

// WithTasks replaces the default pipeline.
func WithTasks(tasks ...Task) Option { return func(r *Runner) { r.tasks = tasks } }

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(s metrics.Sink) Option { return func(r *Runner) { r.metrics = metrics.OrNop(s) } }

// NewRunner creates a runner with the default pipeline: Deduplicator,
// ContradictionHandler, ExpirationCleaner.
func NewRunner(store storage.Store, cfg Config, opts ...Option) (*Runner, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", storage.ErrInvalidInput)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid janitor config: %w", err)
	}
	r := &Runner{
		store:   store,
		cfg:     cfg,
		logger:  log.New(io.Discard),
		metrics: metrics.Nop{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tasks == nil {
		r.tasks = []Task{
			NewDeduplicator(store, r.measure, cfg, r.logger),
			NewContradictionHandler(store, cfg, r.logger),
			NewExpirationCleaner(store, cfg, r.now, r.logger),
		}
	}
	return r, nil
}

// Run processes one user. Cancellation is checked only between tasks; a task
// that has started runs to completion so no task leaves a half-applied
// state.
func (r *Runner) Run(ctx context.Context, userID string) types.JanitorRunStats {
	start := time.Now()
	stats := types.JanitorRunStats{UserID: userID}
	taskCtx := context.WithoutCancel(ctx)

	for _, t := range r.tasks {
		if ctx.Err() != nil {
			stats.Cancelled = true
			break
		}
		tstart := time.Now()
		ts, err := t.Run(taskCtx, userID)
		ts.Task = t.Name()
		if err != nil {
			r.logger.Error("janitor: task failed", "task", t.Name(), "user_id", userID, "err", err)
			ts.Errors++
		}
		ts.Duration = time.Since(tstart)
		stats.Add(ts)

		r.metrics.Count(metrics.JanitorRemoved, int64(ts.Removed), "task", ts.Task)
		r.metrics.Count(metrics.JanitorResolved, int64(ts.Resolved), "task", ts.Task)
		r.metrics.Count(metrics.JanitorErrors, int64(ts.Errors), "task", ts.Task)
		r.metrics.Observe(metrics.JanitorDuration, ts.Duration, "task", ts.Task)
	}
	stats.Duration = time.Since(start)

	r.logger.Info("janitor: user run complete",
		"user_id", userID,
		"processed", stats.Processed,
		"removed", stats.Removed,
		"resolved", stats.Resolved,
		"errors", stats.Errors,
		"cancelled", stats.Cancelled,
		"duration", stats.Duration)
	return stats
}

// RunAll processes every user in the store, up to cfg.Workers at once, and
// returns the aggregate. Only failing to list users is an error.
func (r *Runner) RunAll(ctx context.Context) (types.JanitorRunStats, error) {
	start := time.Now()
	users, err := r.store.Users(ctx)
	if err != nil {
		return types.JanitorRunStats{}, fmt.Errorf("failed to list users: %w", err)
	}

	perUser := make([]types.JanitorRunStats, len(users))
	var g errgroup.Group
	g.SetLimit(r.cfg.Workers)
	for i, u := range users {
		i, u := i, u
		g.Go(func() error {
			if ctx.Err() != nil {
				perUser[i] = types.JanitorRunStats{UserID: u, Cancelled: true}
				return nil
			}
			perUser[i] = r.Run(ctx, u)
			return nil
		})
	}
	_ = g.Wait()

	var total types.JanitorRunStats
	for _, s := range perUser {
		total.Merge(s)
	}
	total.Duration = time.Since(start)
	return total, nil
}
