// ABOUTME: Recovery log telemetry metrics for tracking appends, syncs, replays and corruption
// ABOUTME: Provides a telemetry backed implementation and a no-op fallback

package tlog

import (
	"context"
	"time"

	"github.com/KevoDB/treekv/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// LogMetrics defines the interface for recovery log telemetry.
// All metrics are optional - implementations can safely be no-op.
type LogMetrics interface {
	telemetry.ComponentMetrics

	// RecordAppend records one appended branch promotion record.
	RecordAppend(ctx context.Context, duration time.Duration, bytes int64)

	// RecordSync records a log fsync.
	RecordSync(ctx context.Context, duration time.Duration)

	// RecordReplay records a completed replay at open.
	RecordReplay(ctx context.Context, duration time.Duration, records int, crash bool)

	// RecordCorruption records an unreadable record that ended replay.
	RecordCorruption(ctx context.Context, reason string)
}

type logMetrics struct {
	tel telemetry.Telemetry
}

// NewLogMetrics creates a new recovery log metrics implementation.
// If tel is nil, returns a no-op implementation.
func NewLogMetrics(tel telemetry.Telemetry) LogMetrics {
	if tel == nil {
		return &noopLogMetrics{}
	}
	return &logMetrics{tel: tel}
}

// NewNoopLogMetrics creates a no-op recovery log metrics implementation for testing.
func NewNoopLogMetrics() LogMetrics {
	return &noopLogMetrics{}
}

func (m *logMetrics) RecordAppend(ctx context.Context, duration time.Duration, bytes int64) {
	telemetry.RecordLatency(ctx, m.tel, "treekv.tlog.append.duration", duration,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentLog),
	)
	m.tel.RecordCounter(ctx, "treekv.tlog.append.bytes", bytes,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentLog),
	)
}

func (m *logMetrics) RecordSync(ctx context.Context, duration time.Duration) {
	telemetry.RecordLatency(ctx, m.tel, "treekv.tlog.sync.duration", duration,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentLog),
	)
}

func (m *logMetrics) RecordReplay(ctx context.Context, duration time.Duration, records int, crash bool) {
	telemetry.RecordLatency(ctx, m.tel, "treekv.tlog.replay.duration", duration,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentLog),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeReplay),
		attribute.Bool("crash", crash),
	)
	m.tel.RecordCounter(ctx, "treekv.tlog.replay.records", int64(records),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentLog),
		attribute.Bool("crash", crash),
	)
}

func (m *logMetrics) RecordCorruption(ctx context.Context, reason string) {
	m.tel.RecordCounter(ctx, "treekv.tlog.corruption.count", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentLog),
		attribute.String(telemetry.AttrReason, reason),
	)
}

// Close releases any resources held by the metrics implementation.
func (m *logMetrics) Close() error {
	return nil
}

type noopLogMetrics struct{}

func (n *noopLogMetrics) RecordAppend(ctx context.Context, duration time.Duration, bytes int64) {}
func (n *noopLogMetrics) RecordSync(ctx context.Context, duration time.Duration)                {}
func (n *noopLogMetrics) RecordReplay(ctx context.Context, duration time.Duration, records int, crash bool) {
}
func (n *noopLogMetrics) RecordCorruption(ctx context.Context, reason string) {}
func (n *noopLogMetrics) Close() error                                        { return nil }
