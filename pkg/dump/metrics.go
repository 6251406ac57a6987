// ABOUTME: Dump telemetry metrics for export and import throughput
// ABOUTME: Wraps the telemetry interface with dump specific names and a no-op fallback

package dump

import (
	"context"
	"time"

	"github.com/KevoDB/treekv/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// DumpMetrics defines the interface for dump telemetry.
type DumpMetrics interface {
	telemetry.ComponentMetrics

	// RecordExport records a finished export.
	RecordExport(ctx context.Context, duration time.Duration, entries, bytes int64, codec Codec)

	// RecordImport records a finished import.
	RecordImport(ctx context.Context, duration time.Duration, entries, bytes int64, codec Codec)
}

type dumpMetrics struct {
	tel telemetry.Telemetry
}

// NewDumpMetrics creates dump metrics. If tel is nil, returns a no-op implementation.
func NewDumpMetrics(tel telemetry.Telemetry) DumpMetrics {
	if tel == nil {
		return &noopDumpMetrics{}
	}
	return &dumpMetrics{tel: tel}
}

func (m *dumpMetrics) record(ctx context.Context, op string, duration time.Duration, entries, bytes int64, codec Codec) {
	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentDump),
		attribute.String("codec", codec.String()),
	}
	telemetry.RecordLatency(ctx, m.tel, "treekv.dump."+op+".duration", duration, attrs...)
	m.tel.RecordCounter(ctx, "treekv.dump."+op+".entries", entries, attrs...)
	m.tel.RecordCounter(ctx, "treekv.dump."+op+".bytes", bytes, attrs...)
}

func (m *dumpMetrics) RecordExport(ctx context.Context, duration time.Duration, entries, bytes int64, codec Codec) {
	m.record(ctx, "export", duration, entries, bytes, codec)
}

func (m *dumpMetrics) RecordImport(ctx context.Context, duration time.Duration, entries, bytes int64, codec Codec) {
	m.record(ctx, "import", duration, entries, bytes, codec)
}

func (m *dumpMetrics) Close() error { return nil }

type noopDumpMetrics struct{}

func (n *noopDumpMetrics) RecordExport(ctx context.Context, duration time.Duration, entries, bytes int64, codec Codec) {
}
func (n *noopDumpMetrics) RecordImport(ctx context.Context, duration time.Duration, entries, bytes int64, codec Codec) {
}
func (n *noopDumpMetrics) Close() error { return nil }
