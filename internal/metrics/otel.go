package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTel forwards measurements to an OpenTelemetry meter. Counters become
// Int64Counters and latencies Float64Histograms in milliseconds; instruments
// are created on first use.
type OTel struct {
	meter      metric.Meter
	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

// NewOTel reports through meter.
func NewOTel(meter metric.Meter) *OTel {
	return &OTel{
		meter:      meter,
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

// Count adds delta to the named counter. Instrument creation errors drop the
// measurement.
func (o *OTel) Count(name string, delta int64, labels ...string) {
	c, ok := o.counter(name)
	if !ok {
		return
	}
	c.Add(context.Background(), delta, metric.WithAttributes(attrs(labels)...))
}

// Observe records d in milliseconds on the named histogram.
func (o *OTel) Observe(name string, d time.Duration, labels ...string) {
	h, ok := o.histogram(name)
	if !ok {
		return
	}
	h.Record(context.Background(), float64(d)/float64(time.Millisecond), metric.WithAttributes(attrs(labels)...))
}

func (o *OTel) counter(name string) (metric.Int64Counter, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok := o.counters[name]; ok {
		return c, true
	}
	c, err := o.meter.Int64Counter(name)
	if err != nil {
		return nil, false
	}
	o.counters[name] = c
	return c, true
}

func (o *OTel) histogram(name string) (metric.Float64Histogram, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if h, ok := o.histograms[name]; ok {
		return h, true
	}
	h, err := o.meter.Float64Histogram(name, metric.WithUnit("ms"))
	if err != nil {
		return nil, false
	}
	o.histograms[name] = h
	return h, true
}

func attrs(labels []string) []attribute.KeyValue {
	kv := make([]attribute.KeyValue, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		kv = append(kv, attribute.String(labels[i], labels[i+1]))
	}
	return kv
}
