// Shared fixtures for ddtrace tests
package ddtrace

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/andrewh/ddspan/pkg/ddid"
)

var testStart = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type recordingExporter struct {
	mu      sync.Mutex
	batches [][]SpanRecord
	err     error
}

func (r *recordingExporter) Export(_ context.Context, spans []SpanRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]SpanRecord(nil), spans...))
	return r.err
}

func (r *recordingExporter) Batches() [][]SpanRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]SpanRecord(nil), r.batches...)
}

func (r *recordingExporter) Total() int {
	n := 0
	for _, b := range r.Batches() {
		n += len(b)
	}
	return n
}

func wideTraceID(high, low uint64) trace.TraceID {
	id := ddid.Widen(low)
	sid := ddid.FromSpanID(high)
	copy(id[:8], sid[:])
	return id
}

func testRecord(traceHigh uint64, span uint64, opts ...func(*SpanRecord)) SpanRecord {
	r := SpanRecord{
		TraceID:   wideTraceID(traceHigh, 0xabcdef),
		SpanID:    ddid.FromSpanID(span),
		Name:      "op",
		StartTime: testStart,
		Duration:  25 * time.Millisecond,
		Status:    codes.Unset,
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

func withAttrs(kv ...attribute.KeyValue) func(*SpanRecord) {
	return func(r *SpanRecord) { r.Attributes = append(r.Attributes, kv...) }
}

func withStatus(c codes.Code) func(*SpanRecord) {
	return func(r *SpanRecord) { r.Status = c }
}

func withParent(span uint64) func(*SpanRecord) {
	return func(r *SpanRecord) { r.ParentSpanID = ddid.FromSpanID(span) }
}

func testRecords(n int) []SpanRecord {
	records := make([]SpanRecord, n)
	for i := range records {
		records[i] = testRecord(1, uint64(i+1))
	}
	return records
}

func spanIDs(records []SpanRecord) []uint64 {
	ids := make([]uint64, len(records))
	for i, r := range records {
		ids[i] = ddid.SpanID(r.SpanID)
	}
	return ids
}

func newObservedLogger() (zapcore.Core, *observer.ObservedLogs) {
	return observer.New(zapcore.DebugLevel)
}

func zapLogger(core zapcore.Core) *zap.Logger {
	return zap.New(core)
}
