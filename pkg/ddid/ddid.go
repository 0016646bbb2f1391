// Conversions between OpenTelemetry's 128-bit trace ids and Datadog's 64-bit ids.
// All conversions read and write big-endian so results do not depend on host byte order.
package ddid

import (
	"encoding/binary"

	"go.opentelemetry.io/otel/trace"
)

// Split returns the high and low 64-bit halves of a trace id.
func Split(id trace.TraceID) (high, low uint64) {
	return binary.BigEndian.Uint64(id[:8]), binary.BigEndian.Uint64(id[8:])
}

// Narrow reduces a trace id to the 64-bit value carried in the export payload.
// It keeps the high-order half and discards the low half. Ids generated by
// 64-bit tracers and widened with Widen therefore narrow to zero.
func Narrow(id trace.TraceID) uint64 {
	high, _ := Split(id)
	return high
}

// Lower returns the low-order half of a trace id, the half that survives a
// round trip through Widen.
func Lower(id trace.TraceID) uint64 {
	_, low := Split(id)
	return low
}

// Widen zero-extends a 64-bit id into the low half of a trace id.
func Widen(v uint64) trace.TraceID {
	var id trace.TraceID
	binary.BigEndian.PutUint64(id[8:], v)
	return id
}

// SpanID reinterprets a span id as an unsigned 64-bit integer.
func SpanID(id trace.SpanID) uint64 {
	return binary.BigEndian.Uint64(id[:])
}

// FromSpanID is the inverse of SpanID.
func FromSpanID(v uint64) trace.SpanID {
	var id trace.SpanID
	binary.BigEndian.PutUint64(id[:], v)
	return id
}
