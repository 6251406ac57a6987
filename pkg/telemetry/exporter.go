// ABOUTME: OpenTelemetry exporter factory for metric and trace destinations (stdout, OTLP)
// ABOUTME: Maps configured exporter names onto SDK exporters

package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
)

func (c *Config) writer() io.Writer {
	if c.Writer != nil {
		return c.Writer
	}
	return os.Stdout
}

// createMetricExporters returns one exporter per metric-capable destination.
// OTLP is trace-only here, so a config naming only otlp still gets stdout metrics.
func createMetricExporters(cfg Config) ([]metric.Exporter, error) {
	var exporters []metric.Exporter
	if cfg.HasExporter("stdout") || !cfg.HasExporter("otlp") {
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(cfg.writer()))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
		}
		exporters = append(exporters, exporter)
	}
	return exporters, nil
}

// createTraceExporters returns one span exporter per configured destination,
// defaulting to stdout.
func createTraceExporters(ctx context.Context, cfg Config) ([]trace.SpanExporter, error) {
	var exporters []trace.SpanExporter

	if cfg.HasExporter("otlp") {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithTimeout(cfg.ExportTimeout),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
		}
		exporters = append(exporters, exporter)
	}

	if cfg.HasExporter("stdout") || len(exporters) == 0 {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(cfg.writer()))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		exporters = append(exporters, exporter)
	}

	return exporters, nil
}
