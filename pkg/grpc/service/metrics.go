// ABOUTME: Service-level telemetry for request latency, status codes and streamed scan volume
// ABOUTME: Wraps the telemetry interface with gRPC service metric names and a no-op fallback

package service

import (
	"context"
	"time"

	"github.com/KevoDB/treekv/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc/codes"
)

// ServiceMetrics defines the interface for gRPC service telemetry
type ServiceMetrics interface {
	telemetry.ComponentMetrics

	// RecordRequest records one RPC with the status code it returned.
	RecordRequest(ctx context.Context, method string, duration time.Duration, code codes.Code)

	// RecordScan records the entries one Scan call streamed.
	RecordScan(ctx context.Context, entries int64, reverse bool)
}

type serviceMetrics struct {
	tel telemetry.Telemetry
}

// NewServiceMetrics creates a new ServiceMetrics instance. If tel is nil,
// returns a no-op implementation.
func NewServiceMetrics(tel telemetry.Telemetry) ServiceMetrics {
	if tel == nil {
		return &noopServiceMetrics{}
	}
	return &serviceMetrics{tel: tel}
}

func (m *serviceMetrics) RecordRequest(ctx context.Context, method string, duration time.Duration, code codes.Code) {
	defer func() {
		if r := recover(); r != nil {
			// Telemetry must never break a request
		}
	}()

	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentService),
		attribute.String(telemetry.AttrOperationType, method),
		attribute.String(telemetry.AttrStatus, code.String()),
	}
	telemetry.RecordLatency(ctx, m.tel, "treekv.service.request.duration", duration, attrs...)
	m.tel.RecordCounter(ctx, "treekv.service.request.count", 1, attrs...)
}

func (m *serviceMetrics) RecordScan(ctx context.Context, entries int64, reverse bool) {
	m.tel.RecordCounter(ctx, "treekv.service.scan.entries", entries,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentService),
		attribute.Bool("reverse", reverse),
	)
}

func (m *serviceMetrics) Close() error { return nil }

type noopServiceMetrics struct{}

func (n *noopServiceMetrics) RecordRequest(ctx context.Context, method string, duration time.Duration, code codes.Code) {
}
func (n *noopServiceMetrics) RecordScan(ctx context.Context, entries int64, reverse bool) {}
func (n *noopServiceMetrics) Close() error                                                 { return nil }
