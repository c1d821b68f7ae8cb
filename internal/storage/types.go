package storage

import (
	"errors"

	"github.com/scrypster/memkeep/pkg/types"
)

var (
	// ErrNotFound indicates that the requested memory was not found.
	ErrNotFound = errors.New("memory not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrClosed is returned by stores used after Close.
	ErrClosed = errors.New("store closed")
)

// Filters narrows a Search. The zero value matches every memory visible to
// the caller.
type Filters struct {
	// MemoryType filters to memories of this type. Empty means any type.
	MemoryType string

	// MinConfidence filters to memories with confidence >= this value.
	MinConfidence float64

	// Scopes restricts results to these scopes. Empty means all scopes.
	Scopes []types.Scope

	// ProjectID makes project-scoped memories of this project visible.
	ProjectID string

	// OwnedOnly restricts results to memories whose UserID is the caller,
	// regardless of scope. The janitor uses it to partition work per user.
	OwnedOnly bool
}

// Matches reports whether m satisfies the filters for the given reader.
// Backends without a query language (the in-memory store, the chromem
// index) use it directly; SQL backends mirror it in their WHERE clauses.
func (f Filters) Matches(m *types.Memory, userID string) bool {
	if f.OwnedOnly {
		if m.UserID != userID {
			return false
		}
	} else if !m.VisibleTo(userID, f.ProjectID) {
		return false
	}
	if f.MemoryType != "" && m.MemoryType != f.MemoryType {
		return false
	}
	if m.Confidence < f.MinConfidence {
		return false
	}
	if len(f.Scopes) > 0 {
		ok := false
		for _, s := range f.Scopes {
			if m.Scope == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// ScopeStrings converts the scope filter for SQL parameter binding.
func (f Filters) ScopeStrings() []string {
	out := make([]string, len(f.Scopes))
	for i, s := range f.Scopes {
		out[i] = string(s)
	}
	return out
}
