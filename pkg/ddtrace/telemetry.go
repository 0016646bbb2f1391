// Exporter self-telemetry: exported span counts, failures and payload sizes,
// recorded through the OTel Metrics API.
package ddtrace

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/andrewh/ddspan/pkg/ddtrace"

type exportMetrics struct {
	spans    metric.Int64Counter
	failures metric.Int64Counter
	size     metric.Int64Histogram
	dropped  metric.Int64Counter
}

func newExportMetrics(mp metric.MeterProvider) (*exportMetrics, error) {
	meter := mp.Meter(meterName)

	spans, err := meter.Int64Counter("ddspan.export.spans",
		metric.WithDescription("Number of spans handed to the transport"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter("ddspan.export.errors",
		metric.WithDescription("Number of failed payload deliveries"),
	)
	if err != nil {
		return nil, err
	}

	size, err := meter.Int64Histogram("ddspan.export.payload.size",
		metric.WithUnit("By"),
		metric.WithDescription("Size of serialized payloads"),
	)
	if err != nil {
		return nil, err
	}

	dropped, err := meter.Int64Counter("ddspan.buffer.dropped",
		metric.WithDescription("Number of spans rejected by a buffer"),
	)
	if err != nil {
		return nil, err
	}

	return &exportMetrics{spans: spans, failures: failures, size: size, dropped: dropped}, nil
}

func (m *exportMetrics) recordExport(ctx context.Context, spans, bytes int, err error) {
	ctx = context.WithoutCancel(ctx)
	attrs := metric.WithAttributes(attribute.Bool("success", err == nil))
	m.spans.Add(ctx, int64(spans), attrs)
	m.size.Record(ctx, int64(bytes), attrs)
	if err != nil {
		m.failures.Add(ctx, 1)
	}
}

func (m *exportMetrics) recordDrop(ctx context.Context, reason string) {
	m.dropped.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String("reason", reason)))
}
