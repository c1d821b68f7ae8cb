package types

import (
	"fmt"
	"time"
)

// Scope is the visibility and precedence level of a memory.
type Scope string

const (
	ScopeUser    Scope = "user"    // Visible only to the owning user
	ScopeProject Scope = "project" // Visible to everyone working in a project
	ScopeGlobal  Scope = "global"  // Visible to every user
)

// Rank orders scopes from narrowest (0) to broadest. Unknown scopes sort last.
func (s Scope) Rank() int {
	switch s {
	case ScopeUser:
		return 0
	case ScopeProject:
		return 1
	case ScopeGlobal:
		return 2
	default:
		return 3
	}
}

// Valid reports whether s is one of the known scopes.
func (s Scope) Valid() bool {
	return s == ScopeUser || s == ScopeProject || s == ScopeGlobal
}

// Memory type values understood by the ingestion validator. Other values are
// accepted and stored but get no type-specific keyword boost.
const (
	MemoryTypePreference = "preference"
	MemoryTypeFact       = "fact"
	MemoryTypeDecision   = "decision"
)

// Well-known metadata keys.
const (
	MetaEntities     = "entities"
	MetaCitations    = "citations"
	MetaAgentContext = "agent_context"
	MetaSubject      = "subject"
	MetaTier         = "tier"
	MetaReviewedBy   = "reviewed_by"
)

// Memory is a single stored unit of knowledge extracted from a conversation.
type Memory struct {
	// Core identification fields
	ID        string `json:"id"`                   // Opaque, assigned by the store
	UserID    string `json:"user_id"`              // Owner of the memory
	Scope     Scope  `json:"scope"`                // user, project or global
	ProjectID string `json:"project_id,omitempty"` // Required when Scope is project

	// Content and classification
	Content    string  `json:"content"`
	MemoryType string  `json:"memory_type"` // preference, fact, decision, ...
	Confidence float64 `json:"confidence"`  // Always within [0,1]

	// Lifecycle timestamps
	CreatedAt      time.Time  `json:"created_at"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"` // nil = never expires

	// Open key/value map: entities, citations, agent context, subject.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Embedding is the vector used by the vector channel. Optional.
	Embedding []float32 `json:"embedding,omitempty"`

	// Version is bumped by the store on every content write and is the
	// token used by CompareAndDelete.
	Version int64 `json:"version"`
}

// Validate checks the invariants every stored memory must satisfy.
func (m *Memory) Validate() error {
	if m.UserID == "" {
		return fmt.Errorf("memory: user_id is required")
	}
	if m.Content == "" {
		return fmt.Errorf("memory: content is required")
	}
	if !m.Scope.Valid() {
		return fmt.Errorf("memory: invalid scope %q", m.Scope)
	}
	if m.Scope == ScopeProject && m.ProjectID == "" {
		return fmt.Errorf("memory: project scope requires project_id")
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("memory: confidence %f outside [0,1]", m.Confidence)
	}
	return nil
}

// IsExpired reports whether the memory has an expiry strictly before now.
// Both instants are compared in UTC so zone offsets never matter.
func (m *Memory) IsExpired(now time.Time) bool {
	if m.ExpiresAt == nil {
		return false
	}
	return m.ExpiresAt.UTC().Before(now.UTC())
}

// Clone returns a deep-enough copy for handing out of a store: the metadata
// map, embedding slice and expiry pointer are not shared with the original.
func (m *Memory) Clone() *Memory {
	if m == nil {
		return nil
	}
	c := *m
	if m.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	if m.Embedding != nil {
		c.Embedding = append([]float32(nil), m.Embedding...)
	}
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

// SubjectHint returns metadata["subject"] when it is a non-empty string.
func (m *Memory) SubjectHint() string {
	if m.Metadata == nil {
		return ""
	}
	s, _ := m.Metadata[MetaSubject].(string)
	return s
}

// VisibleTo reports whether a reader (userID, projectID) may see the memory.
func (m *Memory) VisibleTo(userID, projectID string) bool {
	switch m.Scope {
	case ScopeUser:
		return m.UserID == userID
	case ScopeProject:
		return projectID != "" && m.ProjectID == projectID
	case ScopeGlobal:
		return true
	default:
		return false
	}
}

// ClampConfidence clamps v into [0,1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
