// ABOUTME: Block store telemetry metrics for tracking block writes, syncs, handle evictions and file rolls
// ABOUTME: Wraps the telemetry interface with storage specific names and a no-op fallback

package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/KevoDB/treekv/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// StorageMetrics defines the interface for block store telemetry.
// All metrics are optional - implementations can safely be no-op.
type StorageMetrics interface {
	telemetry.ComponentMetrics

	// RecordWrite records one block or extent write.
	RecordWrite(ctx context.Context, duration time.Duration, bytes int64, lob bool)

	// RecordRead records one block or extent read.
	RecordRead(ctx context.Context, duration time.Duration, bytes int64)

	// RecordSync records a drain of the file handle cache.
	RecordSync(ctx context.Context, duration time.Duration, handles int, err error)

	// RecordEviction records a handle forced out of the cache.
	RecordEviction(ctx context.Context, file uint32)

	// RecordRoll records allocation moving to a new data file.
	RecordRoll(ctx context.Context, file uint32)
}

type storageMetrics struct {
	tel telemetry.Telemetry
}

// NewStorageMetrics creates a new storage metrics implementation.
// If tel is nil, returns a no-op implementation.
func NewStorageMetrics(tel telemetry.Telemetry) StorageMetrics {
	if tel == nil {
		return &noopStorageMetrics{}
	}
	return &storageMetrics{tel: tel}
}

// NewNoopStorageMetrics creates a no-op storage metrics implementation for testing.
func NewNoopStorageMetrics() StorageMetrics {
	return &noopStorageMetrics{}
}

func (m *storageMetrics) RecordWrite(ctx context.Context, duration time.Duration, bytes int64, lob bool) {
	telemetry.RecordLatency(ctx, m.tel, "treekv.storage.write.duration", duration,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStorage),
		attribute.Bool("lob", lob),
	)
	m.tel.RecordCounter(ctx, "treekv.storage.write.bytes", bytes,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStorage),
		attribute.Bool("lob", lob),
	)
}

func (m *storageMetrics) RecordRead(ctx context.Context, duration time.Duration, bytes int64) {
	telemetry.RecordLatency(ctx, m.tel, "treekv.storage.read.duration", duration,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStorage),
	)
	m.tel.RecordCounter(ctx, "treekv.storage.read.bytes", bytes,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStorage),
	)
}

func (m *storageMetrics) RecordSync(ctx context.Context, duration time.Duration, handles int, err error) {
	status := telemetry.StatusSuccess
	if err != nil {
		status = telemetry.StatusError
	}
	telemetry.RecordLatency(ctx, m.tel, "treekv.storage.sync.duration", duration,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStorage),
		attribute.String(telemetry.AttrStatus, status),
	)
	m.tel.RecordCounter(ctx, "treekv.storage.sync.handles", int64(handles),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStorage),
	)
}

func (m *storageMetrics) RecordEviction(ctx context.Context, file uint32) {
	m.tel.RecordCounter(ctx, "treekv.storage.eviction.count", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStorage),
		attribute.String(telemetry.AttrFileID, strconv.FormatUint(uint64(file), 10)),
	)
}

func (m *storageMetrics) RecordRoll(ctx context.Context, file uint32) {
	m.tel.RecordCounter(ctx, "treekv.storage.roll.count", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStorage),
		attribute.String(telemetry.AttrFileID, strconv.FormatUint(uint64(file), 10)),
	)
}

// Close releases any resources held by the metrics implementation.
func (m *storageMetrics) Close() error {
	return nil
}

type noopStorageMetrics struct{}

func (n *noopStorageMetrics) RecordWrite(ctx context.Context, duration time.Duration, bytes int64, lob bool) {
}
func (n *noopStorageMetrics) RecordRead(ctx context.Context, duration time.Duration, bytes int64) {}
func (n *noopStorageMetrics) RecordSync(ctx context.Context, duration time.Duration, handles int, err error) {
}
func (n *noopStorageMetrics) RecordEviction(ctx context.Context, file uint32) {}
func (n *noopStorageMetrics) RecordRoll(ctx context.Context, file uint32)     {}
func (n *noopStorageMetrics) Close() error                                    { return nil }
