// Parsers that turn exported span files into span records for the Datadog exporter
// Handles both stdouttrace (line-delimited JSON) and OTLP protobuf JSON formats
package spanimport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/andrewh/ddspan/pkg/ddtrace"
)

// Format identifies the input span format.
type Format string

const (
	FormatAuto        Format = "auto"
	FormatStdouttrace Format = "stdouttrace"
	FormatOTLP        Format = "otlp"
)

// maxInputSize is the maximum input size to prevent OOM on large trace exports.
const maxInputSize = 256 * 1024 * 1024 // 256 MB

var errNoSpans = errors.New("no spans found in input\n\nProvide a file or pipe stdin:\n  ddspan send spans.json\n  cat spans.json | ddspan send")

// Result holds the parsed spans and the first service name found in the input.
type Result struct {
	ServiceName string
	Spans       []ddtrace.SpanRecord
}

// ParseSpans reads spans from r in the given format.
// FormatAuto inspects the first JSON object to determine the format.
func ParseSpans(r io.Reader, format Format) (*Result, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxInputSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	if len(data) > maxInputSize {
		return nil, fmt.Errorf("input exceeds maximum size of %d MB", maxInputSize/(1024*1024))
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errNoSpans
	}

	if format == FormatAuto || format == "" {
		format, err = detectFormat(data)
		if err != nil {
			return nil, err
		}
	}

	switch format {
	case FormatStdouttrace:
		return parseStdouttrace(data)
	case FormatOTLP:
		return parseOTLP(data)
	default:
		return nil, fmt.Errorf("unknown format %q, valid formats: auto, stdouttrace, otlp", format)
	}
}

// detectFormat tries the first line (for line-delimited stdouttrace), then
// the full data (for pretty-printed OTLP JSON).
func detectFormat(data []byte) (Format, error) {
	firstLine, _, hasMore := bytes.Cut(data, []byte{'\n'})
	firstLine = bytes.TrimSpace(firstLine)

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(firstLine, &probe); err == nil {
		if _, ok := probe["SpanContext"]; ok {
			return FormatStdouttrace, nil
		}
		if _, ok := probe["resourceSpans"]; ok {
			return FormatOTLP, nil
		}
	}

	if hasMore {
		if err := json.Unmarshal(data, &probe); err == nil {
			if _, ok := probe["resourceSpans"]; ok {
				return FormatOTLP, nil
			}
		}
	}

	return "", fmt.Errorf("cannot detect format: input has neither SpanContext (stdouttrace) nor resourceSpans (OTLP)")
}

// stdouttraceEvent mirrors the Go SDK's stdouttrace JSON output.
type stdouttraceEvent struct {
	Name        string `json:"Name"`
	SpanContext struct {
		TraceID    string `json:"TraceID"`
		SpanID     string `json:"SpanID"`
		TraceFlags string `json:"TraceFlags"`
	} `json:"SpanContext"`
	Parent struct {
		SpanID string `json:"SpanID"`
	} `json:"Parent"`
	StartTime  time.Time `json:"StartTime"`
	EndTime    time.Time `json:"EndTime"`
	Attributes []sdkAttr `json:"Attributes"`
	Status     struct {
		Code string `json:"Code"`
	} `json:"Status"`
	Resource []sdkAttr `json:"Resource"`
}

type sdkAttr struct {
	Key   string `json:"Key"`
	Value struct {
		Type  string          `json:"Type"`
		Value json.RawMessage `json:"Value"`
	} `json:"Value"`
}

func (a sdkAttr) keyValue() (attribute.KeyValue, error) {
	key := attribute.Key(a.Key)
	raw := a.Value.Value
	var err error
	switch a.Value.Type {
	case "STRING":
		var v string
		if err = json.Unmarshal(raw, &v); err == nil {
			return key.String(v), nil
		}
	case "INT64":
		var v int64
		if err = json.Unmarshal(raw, &v); err == nil {
			return key.Int64(v), nil
		}
	case "FLOAT64":
		var v float64
		if err = json.Unmarshal(raw, &v); err == nil {
			return key.Float64(v), nil
		}
	case "BOOL":
		var v bool
		if err = json.Unmarshal(raw, &v); err == nil {
			return key.Bool(v), nil
		}
	case "STRINGSLICE":
		var v []string
		if err = json.Unmarshal(raw, &v); err == nil {
			return key.StringSlice(v), nil
		}
	case "INT64SLICE":
		var v []int64
		if err = json.Unmarshal(raw, &v); err == nil {
			return key.Int64Slice(v), nil
		}
	case "FLOAT64SLICE":
		var v []float64
		if err = json.Unmarshal(raw, &v); err == nil {
			return key.Float64Slice(v), nil
		}
	case "BOOLSLICE":
		var v []bool
		if err = json.Unmarshal(raw, &v); err == nil {
			return key.BoolSlice(v), nil
		}
	default:
		return key.String(string(raw)), nil
	}
	return attribute.KeyValue{}, fmt.Errorf("attribute %s: %w", a.Key, err)
}

func parseStdouttrace(data []byte) (*Result, error) {
	res := &Result{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var evt stdouttraceEvent
		if err := json.Unmarshal(line, &evt); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if !sampled(evt.SpanContext.TraceFlags) {
			continue
		}

		traceID, spanID, parentID, err := decodeIDs(evt.SpanContext.TraceID, evt.SpanContext.SpanID, evt.Parent.SpanID)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		attrs := make([]attribute.KeyValue, 0, len(evt.Attributes))
		for _, a := range evt.Attributes {
			kv, err := a.keyValue()
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			attrs = append(attrs, kv)
		}

		if res.ServiceName == "" {
			for _, a := range evt.Resource {
				if a.Key == "service.name" {
					if kv, err := a.keyValue(); err == nil {
						res.ServiceName = kv.Value.AsString()
					}
				}
			}
		}

		res.Spans = append(res.Spans, ddtrace.SpanRecord{
			TraceID:      traceID,
			SpanID:       spanID,
			ParentSpanID: parentID,
			Name:         evt.Name,
			StartTime:    evt.StartTime,
			Duration:     nonNegative(evt.EndTime.Sub(evt.StartTime)),
			Status:       stdouttraceStatus(evt.Status.Code),
			Attributes:   attrs,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	if len(res.Spans) == 0 {
		return nil, errNoSpans
	}
	return res, nil
}

// sampled treats a missing flags field as sampled.
func sampled(flags string) bool {
	if flags == "" {
		return true
	}
	v, err := strconv.ParseUint(flags, 16, 8)
	if err != nil {
		return true
	}
	return trace.TraceFlags(v).IsSampled()
}

func stdouttraceStatus(code string) codes.Code {
	switch code {
	case "Error":
		return codes.Error
	case "Ok":
		return codes.Ok
	default:
		return codes.Unset
	}
}

func decodeIDs(traceHex, spanHex, parentHex string) (trace.TraceID, trace.SpanID, trace.SpanID, error) {
	traceID, err := trace.TraceIDFromHex(traceHex)
	if err != nil {
		return trace.TraceID{}, trace.SpanID{}, trace.SpanID{}, fmt.Errorf("trace id %q: %w", traceHex, err)
	}
	spanID, err := trace.SpanIDFromHex(spanHex)
	if err != nil {
		return trace.TraceID{}, trace.SpanID{}, trace.SpanID{}, fmt.Errorf("span id %q: %w", spanHex, err)
	}
	var parentID trace.SpanID
	if parentHex != "" && !isZeroID(parentHex) {
		parentID, err = trace.SpanIDFromHex(parentHex)
		if err != nil {
			return trace.TraceID{}, trace.SpanID{}, trace.SpanID{}, fmt.Errorf("parent span id %q: %w", parentHex, err)
		}
	}
	return traceID, spanID, parentID, nil
}

func parseOTLP(data []byte) (*Result, error) {
	var req coltracepb.ExportTraceServiceRequest
	opts := protojson.UnmarshalOptions{DiscardUnknown: true}
	if err := opts.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parsing OTLP: %w", err)
	}

	res := &Result{}
	for _, rs := range req.ResourceSpans {
		if res.ServiceName == "" {
			for _, attr := range rs.Resource.GetAttributes() {
				if attr.Key == "service.name" {
					res.ServiceName = attr.Value.GetStringValue()
				}
			}
		}

		for _, ss := range rs.ScopeSpans {
			for _, span := range ss.Spans {
				traceID, spanID, err := otlpIDs(span)
				if err != nil {
					return nil, fmt.Errorf("span %q: %w", span.Name, err)
				}
				var parentID trace.SpanID
				copy(parentID[:], span.ParentSpanId)

				attrs := make([]attribute.KeyValue, 0, len(span.Attributes))
				for _, attr := range span.Attributes {
					attrs = append(attrs, otlpKeyValue(attr))
				}

				start := time.Unix(0, int64(span.StartTimeUnixNano)) //nolint:gosec // nanosecond timestamps are always positive
				end := time.Unix(0, int64(span.EndTimeUnixNano))     //nolint:gosec // nanosecond timestamps are always positive

				res.Spans = append(res.Spans, ddtrace.SpanRecord{
					TraceID:      traceID,
					SpanID:       spanID,
					ParentSpanID: parentID,
					Name:         span.Name,
					StartTime:    start,
					Duration:     nonNegative(end.Sub(start)),
					Status:       otlpStatus(span.Status),
					Attributes:   attrs,
				})
			}
		}
	}

	if len(res.Spans) == 0 {
		return nil, errNoSpans
	}
	return res, nil
}

func otlpIDs(span *tracepb.Span) (trace.TraceID, trace.SpanID, error) {
	var traceID trace.TraceID
	var spanID trace.SpanID
	if len(span.TraceId) != len(traceID) {
		return traceID, spanID, fmt.Errorf("trace id has %d bytes, want %d", len(span.TraceId), len(traceID))
	}
	if len(span.SpanId) != len(spanID) {
		return traceID, spanID, fmt.Errorf("span id has %d bytes, want %d", len(span.SpanId), len(spanID))
	}
	copy(traceID[:], span.TraceId)
	copy(spanID[:], span.SpanId)
	return traceID, spanID, nil
}

func otlpStatus(s *tracepb.Status) codes.Code {
	switch s.GetCode() {
	case tracepb.Status_STATUS_CODE_ERROR:
		return codes.Error
	case tracepb.Status_STATUS_CODE_OK:
		return codes.Ok
	default:
		return codes.Unset
	}
}

// otlpKeyValue converts scalar values directly and renders arrays and maps as JSON.
func otlpKeyValue(kv *commonpb.KeyValue) attribute.KeyValue {
	key := attribute.Key(kv.Key)
	switch v := kv.Value.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return key.String(v.StringValue)
	case *commonpb.AnyValue_IntValue:
		return key.Int64(v.IntValue)
	case *commonpb.AnyValue_DoubleValue:
		return key.Float64(v.DoubleValue)
	case *commonpb.AnyValue_BoolValue:
		return key.Bool(v.BoolValue)
	case nil:
		return key.String("")
	default:
		return key.String(protojson.Format(kv.Value))
	}
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// isZeroID checks if a hex-encoded ID is all zeros.
func isZeroID(id string) bool {
	for _, c := range id {
		if c != '0' {
			return false
		}
	}
	return len(id) > 0
}
