package types

import "time"

// Tier is the provenance classification of a candidate memory.
type Tier int

const (
	TierAutoApprove Tier = 1 // Stored directly
	TierReview      Tier = 2 // Held in the review queue
	TierBlock       Tier = 3 // Rejected, nothing persisted
)

// String returns a short human readable label.
func (t Tier) String() string {
	switch t {
	case TierAutoApprove:
		return "auto-approve"
	case TierReview:
		return "review"
	case TierBlock:
		return "block"
	default:
		return "unknown"
	}
}

// CitationType classifies the evidence a citation provides.
type CitationType string

const (
	CitationQuotedSource    CitationType = "quoted-source"
	CitationLink            CitationType = "link"
	CitationExplicitUserSay CitationType = "explicit-user-statement"
)

// Citation is a span of source text that supports a claim.
type Citation struct {
	Span       string       `json:"span"`
	Type       CitationType `json:"citation_type"`
	Start      int          `json:"start"` // Byte offset into the source text
	End        int          `json:"end"`
	Confidence float64      `json:"confidence"` // Detector confidence the span is real evidence
}

// ValidationResult is the immutable outcome of one validation call.
type ValidationResult struct {
	Tier        Tier       `json:"tier"`
	Confidence  float64    `json:"confidence"`
	Citations   []Citation `json:"citations,omitempty"`
	Reasons     []string   `json:"reasons,omitempty"`
	Hedged      bool       `json:"hedged"`
	Duplicate   bool       `json:"duplicate"`
	DuplicateOf string     `json:"duplicate_of,omitempty"`

	// Unavailable is set when the duplicate check could not reach the store
	// and the result was failed closed.
	Unavailable bool `json:"unavailable,omitempty"`
}

// PendingMemory is a tier-2 candidate waiting for a reviewer.
type PendingMemory struct {
	ID       string           `json:"id"`
	Memory   Memory           `json:"memory"`
	Result   ValidationResult `json:"result"`
	QueuedAt time.Time        `json:"queued_at"`
}
