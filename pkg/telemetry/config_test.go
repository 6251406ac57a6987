// ABOUTME: Tests for telemetry configuration validation, environment variable loading, and default values
// ABOUTME: Exercises real config operations with valid and invalid inputs

package telemetry

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ServiceName != "treekv" {
		t.Errorf("Expected default service name 'treekv', got '%s'", cfg.ServiceName)
	}
	if cfg.Enabled {
		t.Error("Expected telemetry to be disabled by default")
	}
	if len(cfg.Exporters) != 1 || cfg.Exporters[0] != "stdout" {
		t.Errorf("Expected default exporters ['stdout'], got %v", cfg.Exporters)
	}
	if cfg.OTLPEndpoint != "localhost:4317" {
		t.Errorf("Expected default OTLP endpoint 'localhost:4317', got '%s'", cfg.OTLPEndpoint)
	}
	if cfg.ExportTimeout != 30*time.Second {
		t.Errorf("Expected default export timeout 30s, got %s", cfg.ExportTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty service name", func(c *Config) { c.ServiceName = "" }},
		{"empty service version", func(c *Config) { c.ServiceVersion = "" }},
		{"negative sample rate", func(c *Config) { c.SampleRate = -0.1 }},
		{"sample rate above one", func(c *Config) { c.SampleRate = 1.1 }},
		{"zero export timeout", func(c *Config) { c.ExportTimeout = 0 }},
		{"zero batch timeout", func(c *Config) { c.BatchTimeout = 0 }},
		{"zero queue", func(c *Config) { c.MaxQueueSize = 0 }},
		{"batch above queue", func(c *Config) { c.MaxExportBatchSize = c.MaxQueueSize + 1 }},
		{"unknown exporter", func(c *Config) { c.Exporters = []string{"prometheus"} }},
		{"otlp without endpoint", func(c *Config) { c.Exporters = []string{"otlp"}; c.OTLPEndpoint = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestConfigLoadFromEnv(t *testing.T) {
	t.Setenv("TREEKV_TELEMETRY_SERVICE_NAME", "test-service")
	t.Setenv("TREEKV_TELEMETRY_SERVICE_VERSION", "2.0.0")
	t.Setenv("TREEKV_TELEMETRY_ENABLED", "true")
	t.Setenv("TREEKV_TELEMETRY_EXPORTERS", "stdout, otlp")
	t.Setenv("TREEKV_TELEMETRY_SAMPLE_RATE", "0.5")
	t.Setenv("TREEKV_TELEMETRY_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("TREEKV_TELEMETRY_EXPORT_TIMEOUT", "60s")
	t.Setenv("TREEKV_TELEMETRY_BATCH_TIMEOUT", "1s")

	cfg := DefaultConfig()
	cfg.LoadFromEnv()

	if cfg.ServiceName != "test-service" || cfg.ServiceVersion != "2.0.0" {
		t.Errorf("Service identity not loaded: %s %s", cfg.ServiceName, cfg.ServiceVersion)
	}
	if !cfg.Enabled {
		t.Error("Expected telemetry to be enabled")
	}
	if !cfg.HasExporter("stdout") || !cfg.HasExporter("otlp") || len(cfg.Exporters) != 2 {
		t.Errorf("Expected trimmed exporters [stdout otlp], got %v", cfg.Exporters)
	}
	if cfg.SampleRate != 0.5 {
		t.Errorf("Expected sample rate 0.5, got %f", cfg.SampleRate)
	}
	if cfg.OTLPEndpoint != "collector:4317" {
		t.Errorf("Expected OTLP endpoint 'collector:4317', got '%s'", cfg.OTLPEndpoint)
	}
	if cfg.ExportTimeout != 60*time.Second || cfg.BatchTimeout != time.Second {
		t.Errorf("Timeouts not loaded: %s %s", cfg.ExportTimeout, cfg.BatchTimeout)
	}
}

func TestConfigLoadFromEnvInvalidValues(t *testing.T) {
	t.Setenv("TREEKV_TELEMETRY_ENABLED", "invalid")
	t.Setenv("TREEKV_TELEMETRY_SAMPLE_RATE", "invalid")
	t.Setenv("TREEKV_TELEMETRY_EXPORT_TIMEOUT", "soon")

	cfg := DefaultConfig()
	cfg.LoadFromEnv()
	def := DefaultConfig()

	if cfg.Enabled != def.Enabled {
		t.Error("Invalid boolean should not change the value")
	}
	if cfg.SampleRate != def.SampleRate {
		t.Error("Invalid sample rate should not change the value")
	}
	if cfg.ExportTimeout != def.ExportTimeout {
		t.Error("Invalid duration should not change the value")
	}
}
