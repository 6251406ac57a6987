package engine

import (
	"bytes"

	"github.com/KevoDB/treekv/pkg/block"
	"github.com/KevoDB/treekv/pkg/common/log"
	"github.com/KevoDB/treekv/pkg/config"
	"github.com/KevoDB/treekv/pkg/telemetry"
)

// Option configures Open.
type Option func(*options)

type options struct {
	config    *config.Config
	compare   block.Comparator
	logger    log.Logger
	telemetry telemetry.Telemetry
}

func defaultOptions() *options {
	return &options{
		compare:   bytes.Compare,
		logger:    log.GetDefaultLogger(),
		telemetry: telemetry.NewNoop(),
	}
}

// WithConfig sets the configuration used when the directory holds no
// database yet. An existing database always keeps its stored configuration.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithComparator sets the key order. It is not persisted: a database must
// always be reopened with the comparator it was built with.
func WithComparator(cmp block.Comparator) Option {
	return func(o *options) {
		if cmp != nil {
			o.compare = cmp
		}
	}
}

// WithLogger sets the logger for the engine and its components.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTelemetry enables metrics and tracing through tel.
func WithTelemetry(tel telemetry.Telemetry) Option {
	return func(o *options) {
		if tel != nil {
			o.telemetry = tel
		}
	}
}
