package ingest

import (
	"fmt"
	"time"
)

// Config holds the validator's thresholds and adjustments.
type Config struct {
	// BaseConfidence is used when a candidate has none (default: 0.7).
	BaseConfidence float64 `yaml:"base_confidence"`

	// AcceptThreshold is the minimum confidence for cited auto-approval (default: 0.8).
	AcceptThreshold float64 `yaml:"accept_threshold"`

	// RejectThreshold blocks hedged candidates below it (default: 0.5).
	RejectThreshold float64 `yaml:"reject_threshold"`

	// DedupThreshold is the similarity above which a candidate duplicates
	// an existing memory (default: 0.85).
	DedupThreshold float64 `yaml:"dedup_threshold"`

	// DedupCandidates is how many lexical matches the duplicate check
	// compares against (default: 20).
	DedupCandidates int `yaml:"dedup_candidates"`

	// DedupScanLimit bounds the newest-first scan of the owner's memories in
	// the same scope when lexical matches find no duplicate (default: 500).
	DedupScanLimit int `yaml:"dedup_scan_limit"`

	// SpeculativeLimit is the hedge plus speculative marker count at which a
	// unsupported candidate is blocked (default: 2).
	SpeculativeLimit int `yaml:"speculative_limit"`

	// CheckTimeout bounds the duplicate check's store calls (default: 2s).
	CheckTimeout time.Duration `yaml:"check_timeout"`

	KeywordBoost     float64 `yaml:"keyword_boost"`      // default: 0.10
	HedgePenalty     float64 `yaml:"hedge_penalty"`      // default: 0.15
	VerbatimBoost    float64 `yaml:"verbatim_boost"`     // default: 0.05
	FirstPersonBoost float64 `yaml:"first_person_boost"` // default: 0.05
}

// DefaultConfig returns a Config with the standard thresholds.
func DefaultConfig() Config {
	return Config{
		BaseConfidence:   0.7,
		AcceptThreshold:  0.8,
		RejectThreshold:  0.5,
		DedupThreshold:   0.85,
		DedupCandidates:  20,
		DedupScanLimit:   500,
		SpeculativeLimit: 2,
		CheckTimeout:     2 * time.Second,
		KeywordBoost:     0.10,
		HedgePenalty:     0.15,
		VerbatimBoost:    0.05,
		FirstPersonBoost: 0.05,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	for name, v := range map[string]float64{
		"BaseConfidence":  c.BaseConfidence,
		"AcceptThreshold": c.AcceptThreshold,
		"RejectThreshold": c.RejectThreshold,
		"DedupThreshold":  c.DedupThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, v)
		}
	}
	if c.RejectThreshold > c.AcceptThreshold {
		return fmt.Errorf("RejectThreshold (%v) must not exceed AcceptThreshold (%v)", c.RejectThreshold, c.AcceptThreshold)
	}
	if c.DedupCandidates < 1 {
		return fmt.Errorf("DedupCandidates must be >= 1, got %d", c.DedupCandidates)
	}
	if c.DedupScanLimit < 0 {
		return fmt.Errorf("DedupScanLimit must be >= 0, got %d", c.DedupScanLimit)
	}
	if c.SpeculativeLimit < 1 {
		return fmt.Errorf("SpeculativeLimit must be >= 1, got %d", c.SpeculativeLimit)
	}
	if c.CheckTimeout <= 0 {
		return fmt.Errorf("CheckTimeout must be > 0, got %v", c.CheckTimeout)
	}
	return nil
}
