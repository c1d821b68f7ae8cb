// Package metrics is the sink every pipeline component reports to. Sinks are
// passed explicitly through constructors; there is no process-wide registry.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Metric names emitted by the pipeline.
const (
	ChannelLatency   = "retrieval.channel.latency"
	ChannelHits      = "retrieval.channel.hits"
	ChannelDegraded  = "retrieval.channel.degraded"
	FusionLatency    = "retrieval.fusion.latency"
	RerankLatency    = "retrieval.rerank.latency"
	RerankUsed       = "retrieval.rerank.used"
	RerankFallback   = "retrieval.rerank.fallback"
	ResultCount      = "retrieval.results"
	PartialResponses = "retrieval.partial"
	DanglingIDs      = "retrieval.dangling_ids"
	ExpiredHits      = "retrieval.expired_hits"

	ValidationTier        = "ingest.validation.tier"
	ValidationUnavailable = "ingest.validation.unavailable"

	JanitorRemoved  = "janitor.removed"
	JanitorResolved = "janitor.resolved"
	JanitorErrors   = "janitor.errors"
	JanitorDuration = "janitor.duration"
)

// Sink receives counters and latencies. Labels are key, value pairs.
// Implementations must be safe for concurrent use.
type Sink interface {
	Count(name string, delta int64, labels ...string)
	Observe(name string, d time.Duration, labels ...string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Count(string, int64, ...string)          {}
func (Nop) Observe(string, time.Duration, ...string) {}

// OrNop returns s, or Nop when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}

// Recorder keeps every counter and observation in memory. The CLI prints
// its snapshot; tests assert against it.
type Recorder struct {
	mu           sync.Mutex
	counters     map[string]int64
	observations map[string][]time.Duration
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		counters:     make(map[string]int64),
		observations: make(map[string][]time.Duration),
	}
}

// Count adds delta to the series identified by name and labels.
func (r *Recorder) Count(name string, delta int64, labels ...string) {
	r.mu.Lock()
	r.counters[seriesKey(name, labels)] += delta
	r.mu.Unlock()
}

// Observe appends d to the series identified by name and labels.
func (r *Recorder) Observe(name string, d time.Duration, labels ...string) {
	key := seriesKey(name, labels)
	r.mu.Lock()
	r.observations[key] = append(r.observations[key], d)
	r.mu.Unlock()
}

// Counter returns the current value of a counter series.
func (r *Recorder) Counter(name string, labels ...string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[seriesKey(name, labels)]
}

// Observations returns a copy of the recorded durations of a series.
func (r *Recorder) Observations(name string, labels ...string) []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.observations[seriesKey(name, labels)]...)
}

// Snapshot returns every counter keyed by its series name, for printing.
func (r *Recorder) Snapshot() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.counters))
	for k, v := range r.counters {
		out[k] = v
	}
	return out
}

// Tee fans every measurement out to several sinks.
type Tee []Sink

func (t Tee) Count(name string, delta int64, labels ...string) {
	for _, s := range t {
		s.Count(name, delta, labels...)
	}
}

func (t Tee) Observe(name string, d time.Duration, labels ...string) {
	for _, s := range t {
		s.Observe(name, d, labels...)
	}
}

// seriesKey renders name{k=v,...} with label pairs sorted by key so the
// same labels in any order address the same series.
func seriesKey(name string, labels []string) string {
	if len(labels) < 2 {
		return name
	}
	pairs := make([]string, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		pairs = append(pairs, labels[i]+"="+labels[i+1])
	}
	sort.Strings(pairs)
	return name + "{" + strings.Join(pairs, ",") + "}"
}
