// Unit tests for span parsing across stdouttrace and OTLP formats
// Covers format detection, id and attribute decoding, and error handling
package spanimport

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	testTraceHex  = "0102030405060708090a0b0c0d0e0f10"
	testSpanHex   = "0102030405060708"
	testParentHex = "1112131415161718"
)

func stdouttraceLine(name, spanHex, parentHex, status, flags, attrs string) string {
	return `{"Name":"` + name + `","SpanContext":{"TraceID":"` + testTraceHex + `","SpanID":"` + spanHex + `","TraceFlags":"` + flags + `"},` +
		`"Parent":{"TraceID":"` + testTraceHex + `","SpanID":"` + parentHex + `"},` +
		`"StartTime":"2024-01-01T00:00:00Z","EndTime":"2024-01-01T00:00:00.005Z",` +
		`"Attributes":[` + attrs + `],"Status":{"Code":"` + status + `"},` +
		`"Resource":[{"Key":"service.name","Value":{"Type":"STRING","Value":"checkout"}}]}`
}

func TestDetectFormat_Stdouttrace(t *testing.T) {
	format, err := detectFormat([]byte(stdouttraceLine("op", testSpanHex, "0000000000000000", "Unset", "01", "")))
	require.NoError(t, err)
	assert.Equal(t, FormatStdouttrace, format)
}

func TestDetectFormat_OTLP(t *testing.T) {
	format, err := detectFormat([]byte(`{"resourceSpans":[{"resource":{},"scopeSpans":[]}]}`))
	require.NoError(t, err)
	assert.Equal(t, FormatOTLP, format)
}

func TestDetectFormat_Unknown(t *testing.T) {
	_, err := detectFormat([]byte(`{"something":"else"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot detect format")

	_, err = detectFormat([]byte(`not json`))
	assert.ErrorContains(t, err, "cannot detect format")
}

func TestParseStdouttrace_Basic(t *testing.T) {
	attrs := `{"Key":"code.namespace","Value":{"Type":"STRING","Value":"GET /users"}},` +
		`{"Key":"http.status_code","Value":{"Type":"INT64","Value":200}},` +
		`{"Key":"cache.hit","Value":{"Type":"BOOL","Value":true}},` +
		`{"Key":"ratio","Value":{"Type":"FLOAT64","Value":0.5}},` +
		`{"Key":"tags","Value":{"Type":"STRINGSLICE","Value":["a","b"]}}`
	line := stdouttraceLine("query", testSpanHex, "0000000000000000", "Unset", "01", attrs)

	res, err := ParseSpans(strings.NewReader(line), FormatStdouttrace)
	require.NoError(t, err)
	require.Len(t, res.Spans, 1)
	assert.Equal(t, "checkout", res.ServiceName)

	s := res.Spans[0]
	assert.Equal(t, testTraceHex, s.TraceID.String())
	assert.Equal(t, testSpanHex, s.SpanID.String())
	assert.False(t, s.ParentSpanID.IsValid(), "all-zeros parent is a root span")
	assert.Equal(t, "query", s.Name)
	assert.Equal(t, 5*time.Millisecond, s.Duration)
	assert.Equal(t, codes.Unset, s.Status)
	assert.Equal(t, "GET /users", s.Resource())
	assert.Equal(t, []attribute.KeyValue{
		attribute.String("code.namespace", "GET /users"),
		attribute.Int64("http.status_code", 200),
		attribute.Bool("cache.hit", true),
		attribute.Float64("ratio", 0.5),
		attribute.StringSlice("tags", []string{"a", "b"}),
	}, s.Attributes)
}

func TestParseStdouttrace_Error(t *testing.T) {
	line := stdouttraceLine("fail", testSpanHex, testParentHex, "Error", "01", "")

	res, err := ParseSpans(strings.NewReader(line), FormatStdouttrace)
	require.NoError(t, err)
	require.Len(t, res.Spans, 1)
	assert.Equal(t, codes.Error, res.Spans[0].Status)
	assert.Equal(t, testParentHex, res.Spans[0].ParentSpanID.String())
}

func TestParseStdouttrace_SkipsUnsampled(t *testing.T) {
	input := stdouttraceLine("kept", testSpanHex, "0000000000000000", "Ok", "01", "") + "\n" +
		stdouttraceLine("dropped", testParentHex, "0000000000000000", "Ok", "00", "")

	res, err := ParseSpans(strings.NewReader(input), FormatAuto)
	require.NoError(t, err)
	require.Len(t, res.Spans, 1)
	assert.Equal(t, "kept", res.Spans[0].Name)
	assert.Equal(t, codes.Ok, res.Spans[0].Status)
}

func TestParseStdouttrace_BadIDs(t *testing.T) {
	line := strings.Replace(stdouttraceLine("op", "zz", "0000000000000000", "Unset", "01", ""), testTraceHex, "abc", 1)
	_, err := ParseSpans(strings.NewReader(line), FormatStdouttrace)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestParseStdouttrace_BadAttribute(t *testing.T) {
	line := stdouttraceLine("op", testSpanHex, "0000000000000000", "Unset", "01",
		`{"Key":"n","Value":{"Type":"INT64","Value":"not a number"}}`)
	_, err := ParseSpans(strings.NewReader(line), FormatStdouttrace)
	assert.ErrorContains(t, err, "attribute n")
}

func TestParseStdouttrace_EmptyInput(t *testing.T) {
	_, err := ParseSpans(strings.NewReader(""), FormatStdouttrace)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no spans found")
}

func TestParseOTLP_Basic(t *testing.T) {
	// Base64 "AQIDBAUGBwgJCgsMDQ4PEA==" decodes to bytes [1..16]
	input := `{
		"resourceSpans": [{
			"resource": {"attributes": [{"key": "service.name", "value": {"stringValue": "api"}}]},
			"scopeSpans": [{"scope": {"name": "api"}, "spans": [{
				"traceId": "AQIDBAUGBwgJCgsMDQ4PEA==",
				"spanId": "AQIDBAUGBwg=",
				"name": "GET /users",
				"startTimeUnixNano": "1700000000000000000",
				"endTimeUnixNano": "1700000000030000000",
				"status": {},
				"attributes": [
					{"key": "http.method", "value": {"stringValue": "GET"}},
					{"key": "http.status_code", "value": {"intValue": "404"}},
					{"key": "retry", "value": {"boolValue": true}},
					{"key": "list", "value": {"arrayValue": {"values": [{"stringValue": "x"}]}}}
				]
			}]}]
		}]
	}`

	res, err := ParseSpans(strings.NewReader(input), FormatOTLP)
	require.NoError(t, err)
	require.Len(t, res.Spans, 1)
	assert.Equal(t, "api", res.ServiceName)

	s := res.Spans[0]
	assert.Equal(t, testTraceHex, s.TraceID.String())
	assert.Equal(t, testSpanHex, s.SpanID.String())
	assert.False(t, s.ParentSpanID.IsValid())
	assert.Equal(t, "GET /users", s.Name)
	assert.Equal(t, time.Unix(0, 1700000000000000000), s.StartTime)
	assert.Equal(t, 30*time.Millisecond, s.Duration)
	assert.Equal(t, codes.Unset, s.Status)

	require.Len(t, s.Attributes, 4)
	assert.Equal(t, attribute.String("http.method", "GET"), s.Attributes[0])
	assert.Equal(t, attribute.Int64("http.status_code", 404), s.Attributes[1])
	assert.Equal(t, attribute.Bool("retry", true), s.Attributes[2])
	assert.Equal(t, attribute.STRING, s.Attributes[3].Value.Type())
	assert.Contains(t, s.Attributes[3].Value.AsString(), "x")
}

func TestParseOTLP_Error(t *testing.T) {
	input := `{
		"resourceSpans": [{
			"scopeSpans": [{"spans": [{
				"traceId": "AQIDBAUGBwgJCgsMDQ4PEA==",
				"spanId": "AQIDBAUGBwg=",
				"parentSpanId": "ERITFBUWFxg=",
				"name": "fail",
				"startTimeUnixNano": "1700000000000000000",
				"endTimeUnixNano": "1700000000030000000",
				"status": {"code": 2}
			}]}]
		}]
	}`

	res, err := ParseSpans(strings.NewReader(input), FormatOTLP)
	require.NoError(t, err)
	require.Len(t, res.Spans, 1)
	assert.Equal(t, codes.Error, res.Spans[0].Status)
	assert.Equal(t, testParentHex, res.Spans[0].ParentSpanID.String())
	assert.Empty(t, res.ServiceName)
}

func TestParseOTLP_ShortTraceID(t *testing.T) {
	input := `{"resourceSpans":[{"scopeSpans":[{"spans":[{"traceId":"AQID","spanId":"AQIDBAUGBwg=","name":"x"}]}]}]}`
	_, err := ParseSpans(strings.NewReader(input), FormatOTLP)
	assert.ErrorContains(t, err, "trace id has 3 bytes")
}

func TestParseSpans_UnknownFormat(t *testing.T) {
	_, err := ParseSpans(strings.NewReader(`{}`), Format("zipkin"))
	assert.ErrorContains(t, err, "unknown format")
}

func TestIsZeroID(t *testing.T) {
	assert.True(t, isZeroID("0000000000000000"))
	assert.True(t, isZeroID("00"))
	assert.False(t, isZeroID("0a00000000000000"))
	assert.False(t, isZeroID(""))
}
