// Finished span capture for export
// Records are taken from the SDK at span end and owned by a buffer until exported
package ddtrace

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// ResourceKey is the attribute whose value becomes the Datadog resource name.
const ResourceKey = attribute.Key("code.namespace")

// SamplingPriorityKey is the attribute that overrides a chunk's sampling priority.
const SamplingPriorityKey = attribute.Key("sampling.priority")

// SpanRecord holds the fields of a finished span needed for export.
type SpanRecord struct {
	TraceID      trace.TraceID
	SpanID       trace.SpanID
	ParentSpanID trace.SpanID
	Name         string
	StartTime    time.Time
	Duration     time.Duration
	Status       codes.Code
	Attributes   []attribute.KeyValue
}

// RecordFromSpan captures a finished SDK span.
func RecordFromSpan(s sdktrace.ReadOnlySpan) SpanRecord {
	sc := s.SpanContext()
	elapsed := s.EndTime().Sub(s.StartTime())
	if elapsed < 0 {
		elapsed = 0
	}
	attrs := s.Attributes()
	return SpanRecord{
		TraceID:      sc.TraceID(),
		SpanID:       sc.SpanID(),
		ParentSpanID: s.Parent().SpanID(),
		Name:         s.Name(),
		StartTime:    s.StartTime(),
		Duration:     elapsed,
		Status:       s.Status().Code,
		Attributes:   append([]attribute.KeyValue(nil), attrs...),
	}
}

// RecordsFromSpans captures a batch of finished SDK spans.
func RecordsFromSpans(spans []sdktrace.ReadOnlySpan) []SpanRecord {
	records := make([]SpanRecord, 0, len(spans))
	for _, s := range spans {
		records = append(records, RecordFromSpan(s))
	}
	return records
}

// Resource returns the value of the code.namespace attribute, or "" if absent.
// Later duplicates win.
func (r SpanRecord) Resource() string {
	var resource string
	for _, kv := range r.Attributes {
		if kv.Key == ResourceKey {
			resource = kv.Value.Emit()
		}
	}
	return resource
}

// IsError reports whether the span ended with an error status.
func (r SpanRecord) IsError() bool {
	return r.Status == codes.Error
}
