package janitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/scrypster/memkeep/pkg/types"
)

// ErrSchedulerRunning is returned by Start when the scheduler already runs.
var ErrSchedulerRunning = errors.New("janitor scheduler is already running")

// AllRunner is what the scheduler drives; *Runner implements it.
type AllRunner interface {
	RunAll(ctx context.Context) (types.JanitorRunStats, error)
}

// Scheduler runs the janitor on an interval and on external triggers such
// as degraded retrieval. Triggers are rate limited and coalesced: while a
// run is pending, further triggers are dropped.
type Scheduler struct {
	runner   AllRunner
	interval time.Duration
	limiter  *rate.Limiter
	trigger  chan string
	logger   *log.Logger
	onRun    func(reason string, stats types.JanitorRunStats, err error)

	mu      sync.Mutex
	running bool
	lastRun time.Time
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l *log.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// OnRun registers a hook called after every run.
func OnRun(fn func(reason string, stats types.JanitorRunStats, err error)) SchedulerOption {
	return func(s *Scheduler) { s.onRun = fn }
}

// NewScheduler creates a scheduler over runner using cfg.Interval and the
// trigger rate settings.
func NewScheduler(runner AllRunner, cfg Config, opts ...SchedulerOption) (*Scheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid janitor config: %w", err)
	}
	limit := rate.Inf
	if cfg.TriggerEvery > 0 {
		limit = rate.Every(cfg.TriggerEvery)
	}
	s := &Scheduler{
		runner:   runner,
		interval: cfg.Interval,
		limiter:  rate.NewLimiter(limit, cfg.TriggerBurst),
		trigger:  make(chan string, 1),
		logger:   log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Trigger requests a run. It never blocks and reports whether the request
// was accepted.
func (s *Scheduler) Trigger(reason string) bool {
	if !s.limiter.Allow() {
		s.logger.Debug("janitor: trigger rate limited", "reason", reason)
		return false
	}
	select {
	case s.trigger <- reason:
		s.logger.Info("janitor: run triggered", "reason", reason)
		return true
	default:
		s.logger.Debug("janitor: run already pending", "reason", reason)
		return false
	}
}

// Start blocks, running the janitor on every tick and trigger until ctx is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerRunning
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("janitor: scheduler started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("janitor: scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			s.RunNow(ctx, "interval")
		case reason := <-s.trigger:
			s.RunNow(ctx, reason)
		}
	}
}

// RunNow runs the janitor synchronously.
func (s *Scheduler) RunNow(ctx context.Context, reason string) (types.JanitorRunStats, error) {
	stats, err := s.runner.RunAll(ctx)
	if err != nil {
		s.logger.Error("janitor: run failed", "reason", reason, "err", err)
	} else {
		s.logger.Info("janitor: run complete",
			"reason", reason,
			"removed", stats.Removed,
			"resolved", stats.Resolved,
			"errors", stats.Errors,
			"duration", stats.Duration)
	}
	s.mu.Lock()
	s.lastRun = time.Now()
	s.mu.Unlock()
	if s.onRun != nil {
		s.onRun(reason, stats, err)
	}
	return stats, err
}

// LastRun returns when the last run finished (zero before the first run).
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}
