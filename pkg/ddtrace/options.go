// Functional options for exporters, buffers and processors
package ddtrace

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Option configures runtime collaborators of exporters, buffers and processors.
type Option func(*options)

type options struct {
	logger        *zap.Logger
	meterProvider metric.MeterProvider
	runner        Runner
	flushInterval time.Duration
	exportTimeout time.Duration
}

func newOptions(opts []Option) options {
	o := options{
		logger:        zap.NewNop(),
		meterProvider: otel.GetMeterProvider(),
		runner:        GoRunner,
		exportTimeout: DefaultExportTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMeterProvider sets where exporter telemetry is recorded. Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// WithRunner sets how background work is started. Defaults to GoRunner.
func WithRunner(r Runner) Option {
	return func(o *options) {
		if r != nil {
			o.runner = r
		}
	}
}

// WithFlushInterval makes a threshold processor also flush on a timer.
func WithFlushInterval(d time.Duration) Option {
	return func(o *options) {
		o.flushInterval = d
	}
}

// WithExportTimeout bounds each background export.
func WithExportTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.exportTimeout = d
		}
	}
}
