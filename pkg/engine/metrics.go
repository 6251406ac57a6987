// ABOUTME: Engine-level telemetry for operation latency, startup, recovery and sync tracking
// ABOUTME: Wraps the telemetry interface with engine specific metric names and a no-op fallback

package engine

import (
	"context"
	"time"

	"github.com/KevoDB/treekv/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// EngineMetrics defines the interface for engine-level telemetry
type EngineMetrics interface {
	telemetry.ComponentMetrics

	// RecordOperation records one public API call and its outcome.
	RecordOperation(ctx context.Context, operation string, duration time.Duration, err error)

	// RecordStartup records the time Open took, recovery included.
	RecordStartup(ctx context.Context, duration time.Duration, created bool)

	// RecordRecovery records replay of the recovery log and any repairs.
	RecordRecovery(ctx context.Context, duration time.Duration, records int, crash bool, repaired int)

	// RecordSync records a sync of data files and log, automatic or explicit.
	RecordSync(ctx context.Context, duration time.Duration, blocks int, automatic bool)
}

// engineMetrics implements EngineMetrics using the telemetry interface
type engineMetrics struct {
	tel telemetry.Telemetry
}

// NewEngineMetrics creates a new EngineMetrics instance. If tel is nil,
// returns a no-op implementation.
func NewEngineMetrics(tel telemetry.Telemetry) EngineMetrics {
	if tel == nil {
		return &noopEngineMetrics{}
	}
	return &engineMetrics{tel: tel}
}

// NewNoopEngineMetrics creates a no-op EngineMetrics for testing or when telemetry is disabled
func NewNoopEngineMetrics() EngineMetrics {
	return &noopEngineMetrics{}
}

func (m *engineMetrics) RecordOperation(ctx context.Context, operation string, duration time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			// Telemetry must never break an operation
		}
	}()

	status := "success"
	if err != nil {
		status = "error"
	}
	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentEngine),
		attribute.String(telemetry.AttrOperationType, operation),
		attribute.String(telemetry.AttrStatus, status),
	}
	telemetry.RecordLatency(ctx, m.tel, "treekv.engine.operation.duration", duration, attrs...)
	m.tel.RecordCounter(ctx, "treekv.engine.operation.count", 1, attrs...)
}

func (m *engineMetrics) RecordStartup(ctx context.Context, duration time.Duration, created bool) {
	telemetry.RecordLatency(ctx, m.tel, "treekv.engine.startup.duration", duration,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentEngine),
		attribute.Bool("created", created),
	)
}

func (m *engineMetrics) RecordRecovery(ctx context.Context, duration time.Duration, records int, crash bool, repaired int) {
	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentEngine),
		attribute.Bool("crash", crash),
	}
	telemetry.RecordLatency(ctx, m.tel, "treekv.engine.recovery.duration", duration, attrs...)
	m.tel.RecordCounter(ctx, "treekv.engine.recovery.records", int64(records), attrs...)
	if repaired > 0 {
		m.tel.RecordCounter(ctx, "treekv.engine.recovery.repairs", int64(repaired), attrs...)
	}
}

func (m *engineMetrics) RecordSync(ctx context.Context, duration time.Duration, blocks int, automatic bool) {
	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentEngine),
		attribute.Bool("automatic", automatic),
	}
	telemetry.RecordLatency(ctx, m.tel, "treekv.engine.sync.duration", duration, attrs...)
	m.tel.RecordCounter(ctx, "treekv.engine.sync.blocks", int64(blocks), attrs...)
}

// Close releases any resources held by the metrics implementation
func (m *engineMetrics) Close() error {
	return nil
}

// noopEngineMetrics provides a no-op implementation for when telemetry is disabled
type noopEngineMetrics struct{}

func (n *noopEngineMetrics) RecordOperation(ctx context.Context, operation string, duration time.Duration, err error) {
}
func (n *noopEngineMetrics) RecordStartup(ctx context.Context, duration time.Duration, created bool) {}
func (n *noopEngineMetrics) RecordRecovery(ctx context.Context, duration time.Duration, records int, crash bool, repaired int) {
}
func (n *noopEngineMetrics) RecordSync(ctx context.Context, duration time.Duration, blocks int, automatic bool) {
}
func (n *noopEngineMetrics) Close() error { return nil }
