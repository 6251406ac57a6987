// ABOUTME: Iterator telemetry metrics interface and implementation for tracking iterator operations
// ABOUTME: Provides instrumentation for seeks, range scans and filter efficiency

package iterator

import (
	"context"
	"time"

	"github.com/KevoDB/treekv/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// IteratorMetrics defines the interface for iterator telemetry operations.
// All metrics are optional - implementations can safely be no-op.
type IteratorMetrics interface {
	telemetry.ComponentMetrics

	// RecordSeek records positioning an iterator at its start.
	RecordSeek(ctx context.Context, duration time.Duration, reverse bool)

	// RecordRangeScan records a finished scan and how many entries it returned.
	RecordRangeScan(ctx context.Context, duration time.Duration, keysReturned int64, reverse, bounded bool)

	// RecordLobResolve records loading an out of line value during iteration.
	RecordLobResolve(ctx context.Context, duration time.Duration, bytes int64)
}

// iteratorMetrics implements IteratorMetrics using the telemetry interface.
type iteratorMetrics struct {
	tel telemetry.Telemetry
}

// NewIteratorMetrics creates a new iterator metrics implementation.
// If tel is nil, returns a no-op implementation.
func NewIteratorMetrics(tel telemetry.Telemetry) IteratorMetrics {
	if tel == nil {
		return &noopIteratorMetrics{}
	}
	return &iteratorMetrics{tel: tel}
}

// NewNoopIteratorMetrics creates a no-op iterator metrics implementation for testing.
func NewNoopIteratorMetrics() IteratorMetrics {
	return &noopIteratorMetrics{}
}

func (m *iteratorMetrics) RecordSeek(ctx context.Context, duration time.Duration, reverse bool) {
	telemetry.RecordLatency(ctx, m.tel, "treekv.iterator.seek.duration", duration,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentIterator),
		attribute.Bool("reverse", reverse),
	)
}

func (m *iteratorMetrics) RecordRangeScan(ctx context.Context, duration time.Duration, keysReturned int64, reverse, bounded bool) {
	telemetry.RecordLatency(ctx, m.tel, "treekv.iterator.range_scan.duration", duration,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentIterator),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeScan),
		attribute.Bool("reverse", reverse),
	)

	// Record keys returned in range scan
	m.tel.RecordHistogram(ctx, "treekv.iterator.range_scan.keys_returned", float64(keysReturned),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentIterator),
	)

	if bounded {
		m.tel.RecordCounter(ctx, "treekv.iterator.range_scan.with_bounds", 1,
			attribute.String(telemetry.AttrComponent, telemetry.ComponentIterator),
		)
	}
}

func (m *iteratorMetrics) RecordLobResolve(ctx context.Context, duration time.Duration, bytes int64) {
	telemetry.RecordLatency(ctx, m.tel, "treekv.iterator.lob.duration", duration,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentIterator),
	)
	m.tel.RecordCounter(ctx, "treekv.iterator.lob.bytes", bytes,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentIterator),
	)
}

// Close implements ComponentMetrics interface.
func (m *iteratorMetrics) Close() error {
	return nil
}

// noopIteratorMetrics provides a no-op implementation for testing and disabled telemetry.
type noopIteratorMetrics struct{}

func (n *noopIteratorMetrics) RecordSeek(ctx context.Context, duration time.Duration, reverse bool) {}

func (n *noopIteratorMetrics) RecordRangeScan(ctx context.Context, duration time.Duration, keysReturned int64, reverse, bounded bool) {
}

func (n *noopIteratorMetrics) RecordLobResolve(ctx context.Context, duration time.Duration, bytes int64) {
}

func (n *noopIteratorMetrics) Close() error { return nil }
