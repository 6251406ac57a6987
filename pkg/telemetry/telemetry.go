// ABOUTME: Telemetry interface shared by the tree, log, store and service layers
// ABOUTME: Wraps OpenTelemetry counters, histograms and spans behind a no-op default

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry is what instrumented packages see. Only this package and its
// provider import the OpenTelemetry SDK.
type Telemetry interface {
	RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue)
	RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue)
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)

	// Shutdown exports whatever is buffered. Later calls record nothing.
	Shutdown(ctx context.Context) error
}

// ComponentMetrics is embedded by every package's metrics interface.
type ComponentMetrics interface {
	Close() error
}

// NoopTelemetry is used when telemetry is disabled.
type NoopTelemetry struct{}

func NewNoop() Telemetry {
	return &NoopTelemetry{}
}

func (*NoopTelemetry) RecordHistogram(context.Context, string, float64, ...attribute.KeyValue) {}

func (*NoopTelemetry) RecordCounter(context.Context, string, int64, ...attribute.KeyValue) {}

// StartSpan hands back ctx unchanged along with whatever span it carries.
func (*NoopTelemetry) StartSpan(ctx context.Context, _ string, _ ...attribute.KeyValue) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

func (*NoopTelemetry) Shutdown(context.Context) error { return nil }

// RecordLatency stores d in the named histogram as seconds.
func RecordLatency(ctx context.Context, tel Telemetry, name string, d time.Duration, attrs ...attribute.KeyValue) {
	tel.RecordHistogram(ctx, name, d.Seconds(), attrs...)
}

// Attribute keys.
const (
	AttrOperationType = "operation.type"
	AttrComponent     = "component"
	AttrStatus        = "status"
	AttrFileID        = "file.id"
	AttrLevel         = "level"
	AttrReason        = "reason"
)

const (
	OpTypeScan   = "scan"
	OpTypeReplay = "replay"

	StatusSuccess = "success"
	StatusError   = "error"
)

// Values of AttrComponent.
const (
	ComponentStorage  = "storage"
	ComponentTree     = "btree"
	ComponentLog      = "tlog"
	ComponentEngine   = "engine"
	ComponentService  = "service"
	ComponentIterator = "iterator"
	ComponentDump     = "dump"
)
