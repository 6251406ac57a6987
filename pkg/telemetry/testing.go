// ABOUTME: Telemetry constructors and an in-memory recorder for tests
// ABOUTME: Lets real components run with telemetry disabled, exporting to a discard writer, or captured

package telemetry

import (
	"context"
	"io"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// NewForTesting returns a no-op telemetry instance for use in tests.
func NewForTesting() Telemetry {
	return NewNoop()
}

// NewDiscarding returns a real SDK-backed telemetry instance whose stdout
// exporters write to io.Discard.
func NewDiscarding() (Telemetry, error) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Writer = io.Discard
	return New(cfg)
}

// Recorder captures metrics in memory so tests can assert on them.
type Recorder struct {
	mu         sync.Mutex
	histograms map[string][]float64
	counters   map[string][]int64
	spans      map[string]int
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		histograms: make(map[string][]float64),
		counters:   make(map[string][]int64),
		spans:      make(map[string]int),
	}
}

func (r *Recorder) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.histograms[name] = append(r.histograms[name], value)
}

func (r *Recorder) RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] = append(r.counters[name], value)
}

func (r *Recorder) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	r.mu.Lock()
	r.spans[name]++
	r.mu.Unlock()
	return ctx, trace.SpanFromContext(ctx)
}

func (r *Recorder) Shutdown(ctx context.Context) error {
	return nil
}

// HistogramCount returns how many values were recorded under name.
func (r *Recorder) HistogramCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.histograms[name])
}

// CounterCount returns how many increments were recorded under name.
func (r *Recorder) CounterCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.counters[name])
}

// CounterSum returns the total of all increments recorded under name.
func (r *Recorder) CounterSum(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum int64
	for _, v := range r.counters[name] {
		sum += v
	}
	return sum
}

// SpanCount returns how many spans were started with name.
func (r *Recorder) SpanCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spans[name]
}
