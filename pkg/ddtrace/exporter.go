// Exporter encodes span batches and delivers them through a Transport.
package ddtrace

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

const (
	headerContentType = "Content-Type"
	headerLanguages   = "X-Datadog-Reported-Languages"
	// APIKeyHeader carries the intake credential.
	APIKeyHeader = "DD-Api-Key"

	contentTypeProtobuf = "application/x-protobuf"
	maxErrorBody        = 512
)

// BatchExporter delivers a batch of span records.
type BatchExporter interface {
	Export(ctx context.Context, spans []SpanRecord) error
}

// Exporter sends span batches to the Datadog trace intake.
// It also implements sdktrace.SpanExporter.
type Exporter struct {
	cfg       Config
	url       string
	encoder   *Encoder
	transport Transport
	logger    *zap.Logger
	metrics   *exportMetrics
	stopped   atomic.Bool
}

var _ sdktrace.SpanExporter = (*Exporter)(nil)

// NewExporter validates cfg and builds an Exporter.
func NewExporter(cfg Config, opts ...Option) (*Exporter, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	url, err := cfg.TracesURL()
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	o := newOptions(opts)
	metrics, err := newExportMetrics(o.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("creating exporter metrics: %w", err)
	}
	return &Exporter{
		cfg:       cfg,
		url:       url,
		encoder:   NewEncoder(cfg),
		transport: cfg.Transport,
		logger:    o.logger,
		metrics:   metrics,
	}, nil
}

// Config returns the effective configuration, defaults included.
func (e *Exporter) Config() Config {
	return e.cfg
}

// Export sends spans as a single payload. An empty batch sends nothing.
// Failed deliveries are not retried.
func (e *Exporter) Export(ctx context.Context, spans []SpanRecord) error {
	if e.stopped.Load() {
		return ErrExporterShutdown
	}
	if len(spans) == 0 {
		return nil
	}

	body, err := e.encoder.Encode(spans)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	err = e.send(ctx, body)
	e.metrics.recordExport(ctx, len(spans), len(body), err)
	if err != nil {
		e.logger.Warn("trace export failed",
			zap.Int("spans", len(spans)),
			zap.Int("bytes", len(body)),
			zap.Error(err),
		)
		return err
	}
	e.logger.Debug("trace export complete", zap.Int("spans", len(spans)), zap.Int("bytes", len(body)))
	return nil
}

func (e *Exporter) send(ctx context.Context, body []byte) error {
	header := http.Header{}
	header.Set(headerContentType, contentTypeProtobuf)
	header.Set(headerLanguages, LanguageName)
	header.Set(APIKeyHeader, e.cfg.APIKey)
	req := &Request{URL: e.url, Header: header, Body: body}
	resp, err := e.transport.Send(ctx, req)
	if err != nil {
		return &TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := resp.Body
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return &TransportError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("intake rejected payload: %q", msg),
		}
	}
	return nil
}

// ExportSpans implements sdktrace.SpanExporter.
func (e *Exporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	return e.Export(ctx, RecordsFromSpans(spans))
}

// Shutdown stops the exporter. Later exports return ErrExporterShutdown.
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.stopped.Store(true)
	return ctx.Err()
}
