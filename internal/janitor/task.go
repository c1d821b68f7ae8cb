// Package janitor keeps the store clean in the background. A run processes
// one user at a time through a fixed pipeline: duplicates are merged first,
// then contradictions resolved, then expired memories removed. Each step
// sees the result of the one before it.
//
// Per-item failures are logged and counted in the stats; they never abort a
// run.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"

	"github.com/scrypster/memkeep/internal/storage"
	"github.com/scrypster/memkeep/pkg/types"
)

// ErrItem wraps a failure on a single memory. It is counted, never returned
// from a run.
var ErrItem = errors.New("janitor item error")

// Task names, also used as metric labels.
const (
	TaskDedup         = "dedup"
	TaskContradiction = "contradiction"
	TaskExpiration    = "expiration"
)

// Task is one step of a per-user run. A returned error means the task could
// not run at all (for example the store could not list memories); the run
// records it and moves on to the next task.
type Task interface {
	Name() string
	Run(ctx context.Context, userID string) (types.TaskStats, error)
}

// load returns the memories owned by userID in a deterministic order.
func load(ctx context.Context, store storage.Store, userID string, limit int) ([]*types.Memory, error) {
	ms, err := store.Search(ctx, userID, storage.Filters{OwnedOnly: true}, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories for %s: %w", userID, err)
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].ID < ms[j].ID })
	return ms, nil
}

// bucketKey groups memories that may be compared with each other.
func bucketKey(m *types.Memory) string {
	if m.Scope == types.ScopeProject {
		return string(m.Scope) + "\x00" + m.ProjectID
	}
	return string(m.Scope)
}

func buckets(ms []*types.Memory) [][]*types.Memory {
	idx := make(map[string]int)
	var out [][]*types.Memory
	for _, m := range ms {
		k := bucketKey(m)
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], m)
	}
	return out
}

// remove deletes m if it is still at the version that was read. A memory
// that changed or vanished in the meantime is left alone and reported as
// not removed.
func remove(ctx context.Context, store storage.Store, m *types.Memory, logger *log.Logger, task string) (bool, error) {
	ok, err := store.CompareAndDelete(ctx, m.ID, m.Version)
	if err != nil {
		logger.Warn("janitor: delete failed", "task", task, "id", m.ID, "err", err)
		return false, fmt.Errorf("%w: delete %s: %v", ErrItem, m.ID, err)
	}
	if !ok {
		logger.Debug("janitor: memory changed before delete", "task", task, "id", m.ID)
	}
	return ok, nil
}
