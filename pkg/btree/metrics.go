// ABOUTME: B+ tree telemetry metrics for tracking splits, LOB extents, stale read catch-ups and repairs
// ABOUTME: Wraps the telemetry interface with tree specific names and a no-op fallback

package btree

import (
	"context"
	"time"

	"github.com/KevoDB/treekv/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// TreeMetrics defines the interface for tree telemetry.
type TreeMetrics interface {
	telemetry.ComponentMetrics

	// RecordSplit records a node or leaf split at level (-1 for leaves).
	RecordSplit(ctx context.Context, level int, duration time.Duration)

	// RecordLob records a value moved out of line into blocks blocks.
	RecordLob(ctx context.Context, bytes int64, blocks int)

	// RecordStaleRead records a reader moving right past a concurrent split.
	RecordStaleRead(ctx context.Context, leaf bool)

	// RecordRepair records a structural fix applied after replay.
	RecordRepair(ctx context.Context, kind string)
}

type treeMetrics struct {
	tel telemetry.Telemetry
}

// NewTreeMetrics creates tree metrics. If tel is nil, returns a no-op implementation.
func NewTreeMetrics(tel telemetry.Telemetry) TreeMetrics {
	if tel == nil {
		return &noopTreeMetrics{}
	}
	return &treeMetrics{tel: tel}
}

// NewNoopTreeMetrics creates a no-op tree metrics implementation for testing.
func NewNoopTreeMetrics() TreeMetrics {
	return &noopTreeMetrics{}
}

func (m *treeMetrics) RecordSplit(ctx context.Context, level int, duration time.Duration) {
	telemetry.RecordLatency(ctx, m.tel, "treekv.btree.split.duration", duration,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentTree),
		attribute.Int(telemetry.AttrLevel, level),
	)
}

func (m *treeMetrics) RecordLob(ctx context.Context, bytes int64, blocks int) {
	m.tel.RecordCounter(ctx, "treekv.btree.lob.bytes", bytes,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentTree),
	)
	m.tel.RecordCounter(ctx, "treekv.btree.lob.blocks", int64(blocks),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentTree),
	)
}

func (m *treeMetrics) RecordStaleRead(ctx context.Context, leaf bool) {
	m.tel.RecordCounter(ctx, "treekv.btree.stale_read.count", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentTree),
		attribute.Bool("leaf", leaf),
	)
}

func (m *treeMetrics) RecordRepair(ctx context.Context, kind string) {
	m.tel.RecordCounter(ctx, "treekv.btree.repair.count", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentTree),
		attribute.String(telemetry.AttrReason, kind),
	)
}

// Close releases any resources held by the metrics implementation.
func (m *treeMetrics) Close() error {
	return nil
}

type noopTreeMetrics struct{}

func (n *noopTreeMetrics) RecordSplit(ctx context.Context, level int, duration time.Duration) {}
func (n *noopTreeMetrics) RecordLob(ctx context.Context, bytes int64, blocks int)            {}
func (n *noopTreeMetrics) RecordStaleRead(ctx context.Context, leaf bool)                    {}
func (n *noopTreeMetrics) RecordRepair(ctx context.Context, kind string)                     {}
func (n *noopTreeMetrics) Close() error                                                      { return nil }
