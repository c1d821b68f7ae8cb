package janitor

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/scrypster/memkeep/internal/storage"
	"github.com/scrypster/memkeep/pkg/types"
)

// ExpirationCleaner removes memories whose ExpiresAt has passed. Memories
// without an expiry are never touched.
type ExpirationCleaner struct {
	store  storage.Store
	limit  int
	now    func() time.Time
	logger *log.Logger
}

// NewExpirationCleaner creates an expiration cleaner. A nil clock uses
// time.Now.
func NewExpirationCleaner(store storage.Store, cfg Config, now func() time.Time, logger *log.Logger) *ExpirationCleaner {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &ExpirationCleaner{store: store, limit: cfg.ScanLimit, now: now, logger: logger}
}

func (e *ExpirationCleaner) Name() string { return TaskExpiration }

func (e *ExpirationCleaner) Run(ctx context.Context, userID string) (types.TaskStats, error) {
	stats := types.TaskStats{Task: TaskExpiration}
	ms, err := load(ctx, e.store, userID, e.limit)
	if err != nil {
		return stats, err
	}
	stats.Processed = len(ms)

	now := e.now()
	for _, m := range ms {
		if !m.IsExpired(now) {
			continue
		}
		ok, err := remove(ctx, e.store, m, e.logger, TaskExpiration)
		if err != nil {
			stats.Errors++
			continue
		}
		if ok {
			stats.Removed++
		}
	}
	return stats, nil
}

var _ Task = (*ExpirationCleaner)(nil)
