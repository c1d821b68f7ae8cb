package janitor

import (
	"context"
	"io"
	"sort"

	"github.com/charmbracelet/log"

	"github.com/scrypster/memkeep/internal/similarity"
	"github.com/scrypster/memkeep/internal/storage"
	"github.com/scrypster/memkeep/pkg/types"
)

// Deduplicator merges near-identical memories within one user and scope.
type Deduplicator struct {
	store     storage.Store
	measure   similarity.Measure
	threshold float64
	limit     int
	logger    *log.Logger
}

// NewDeduplicator creates a deduplicator. A nil measure compares content
// lexically.
func NewDeduplicator(store storage.Store, measure similarity.Measure, cfg Config, logger *log.Logger) *Deduplicator {
	if measure == nil {
		measure = similarity.Lexical{}
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Deduplicator{store: store, measure: measure, threshold: cfg.DedupThreshold, limit: cfg.ScanLimit, logger: logger}
}

func (d *Deduplicator) Name() string { return TaskDedup }

// Run compares every pair in each bucket, strongest memory first. A memory
// that is a duplicate of a stronger survivor is removed; the survivor
// inherits the most recent LastAccessedAt of the memories it absorbed.
// Survivors are pairwise below the threshold afterwards, so a second run
// removes nothing.
func (d *Deduplicator) Run(ctx context.Context, userID string) (types.TaskStats, error) {
	stats := types.TaskStats{Task: TaskDedup}
	ms, err := load(ctx, d.store, userID, d.limit)
	if err != nil {
		return stats, err
	}
	stats.Processed = len(ms)

	for _, bucket := range buckets(ms) {
		sort.Slice(bucket, func(i, j int) bool { return survivorFirst(bucket[i], bucket[j]) })
		removed := make([]bool, len(bucket))

		for i, keep := range bucket {
			if removed[i] {
				continue
			}
			latest := keep.LastAccessedAt
			for j := i + 1; j < len(bucket); j++ {
				if removed[j] {
					continue
				}
				cand := bucket[j]
				sim, err := d.measure.Similarity(ctx, similarity.Of(keep), similarity.Of(cand))
				if err != nil {
					d.logger.Warn("janitor: similarity failed", "a", keep.ID, "b", cand.ID, "err", err)
					stats.Errors++
					continue
				}
				if sim <= d.threshold {
					continue
				}
				ok, err := remove(ctx, d.store, cand, d.logger, TaskDedup)
				if err != nil {
					stats.Errors++
					continue
				}
				if !ok {
					continue
				}
				removed[j] = true
				stats.Removed++
				d.logger.Debug("janitor: merged duplicate", "survivor", keep.ID, "removed", cand.ID, "similarity", sim)
				if cand.LastAccessedAt.After(latest) {
					latest = cand.LastAccessedAt
				}
			}
			if latest.After(keep.LastAccessedAt) {
				if err := d.store.Touch(ctx, keep.ID, latest); err != nil {
					d.logger.Warn("janitor: touch survivor failed", "id", keep.ID, "err", err)
					stats.Errors++
				}
			}
		}
	}
	return stats, nil
}

// survivorFirst orders by higher confidence, then newer CreatedAt, then
// smaller id.
func survivorFirst(a, b *types.Memory) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

var _ Task = (*Deduplicator)(nil)
