// Trace grouping of span records
// Each export batch is partitioned into one group per trace id before encoding
package ddtrace

import "go.opentelemetry.io/otel/trace"

// TraceGroup is a non-empty set of spans sharing one trace id.
type TraceGroup []SpanRecord

// TraceID returns the trace id shared by the group's spans.
func (g TraceGroup) TraceID() trace.TraceID {
	if len(g) == 0 {
		return trace.TraceID{}
	}
	return g[0].TraceID
}

// GroupByTrace partitions spans into one group per distinct trace id.
// Callers must not depend on the order of groups or of spans within a group.
func GroupByTrace(spans []SpanRecord) []TraceGroup {
	index := make(map[trace.TraceID]int)
	var groups []TraceGroup
	for _, s := range spans {
		i, ok := index[s.TraceID]
		if !ok {
			i = len(groups)
			index[s.TraceID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], s)
	}
	return groups
}
