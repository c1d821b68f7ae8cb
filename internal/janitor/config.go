package janitor

import (
	"fmt"
	"time"

	"github.com/scrypster/memkeep/internal/similarity"
)

// Config holds janitor parameters.
type Config struct {
	// DedupThreshold is the similarity above which two memories are duplicates.
	DedupThreshold float64 `yaml:"dedup_threshold"` // default: 0.85

	// ScanLimit bounds how many memories of one user a task loads.
	ScanLimit int `yaml:"scan_limit"` // default: 10000

	// Workers is the number of users processed concurrently by RunAll.
	Workers int `yaml:"workers"` // default: 4

	// Interval between scheduled runs.
	Interval time.Duration `yaml:"interval"` // default: 1h

	// TriggerEvery is the minimum spacing between externally triggered runs.
	TriggerEvery time.Duration `yaml:"trigger_every"` // default: 1m

	// TriggerBurst is how many triggers may be accepted back to back.
	TriggerBurst int `yaml:"trigger_burst"` // default: 1
}

// DefaultConfig returns the standard janitor parameters.
func DefaultConfig() Config {
	return Config{
		DedupThreshold: similarity.DefaultThreshold,
		ScanLimit:      10000,
		Workers:        4,
		Interval:       time.Hour,
		TriggerEvery:   time.Minute,
		TriggerBurst:   1,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.DedupThreshold <= 0 || c.DedupThreshold > 1 {
		return fmt.Errorf("DedupThreshold must be within (0,1], got %v", c.DedupThreshold)
	}
	if c.ScanLimit <= 0 {
		return fmt.Errorf("ScanLimit must be > 0, got %d", c.ScanLimit)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("Workers must be > 0, got %d", c.Workers)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("Interval must be > 0, got %v", c.Interval)
	}
	if c.TriggerEvery < 0 {
		return fmt.Errorf("TriggerEvery must be >= 0, got %v", c.TriggerEvery)
	}
	if c.TriggerBurst <= 0 {
		return fmt.Errorf("TriggerBurst must be > 0, got %d", c.TriggerBurst)
	}
	return nil
}
