// Package propagator reads and writes trace context in Datadog's x-datadog-* headers.
//
// Extraction never fails: malformed or missing values degrade to an empty
// context, an invalid span id or a deferred sampling decision. Parse reports
// what was degraded for callers that want to know.
package propagator

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/andrewh/ddspan/pkg/ddid"
)

const (
	TraceIDHeader          = "x-datadog-trace-id"
	ParentIDHeader         = "x-datadog-parent-id"
	SamplingPriorityHeader = "x-datadog-sampling-priority"
)

var headerFields = [...]string{TraceIDHeader, ParentIDHeader, SamplingPriorityHeader}

// TraceContext is the trace state carried between processes.
type TraceContext struct {
	TraceID trace.TraceID
	SpanID  trace.SpanID
	Flags   trace.TraceFlags
}

// IsValid reports whether a trace id is present.
func (c TraceContext) IsValid() bool {
	return c.TraceID.IsValid()
}

// Injectable reports whether both ids are present, the condition for writing headers.
func (c TraceContext) Injectable() bool {
	return c.TraceID.IsValid() && c.SpanID.IsValid()
}

func (c TraceContext) IsSampled() bool {
	return c.Flags.IsSampled()
}

func (c TraceContext) IsDeferred() bool {
	return c.Flags&FlagsDeferred != 0
}

// SpanContext converts c into a remote OTel span context.
func (c TraceContext) SpanContext() trace.SpanContext {
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    c.TraceID,
		SpanID:     c.SpanID,
		TraceFlags: c.Flags,
		Remote:     true,
	})
}

// FromSpanContext captures the ids and flags of an OTel span context.
func FromSpanContext(sc trace.SpanContext) TraceContext {
	return TraceContext{TraceID: sc.TraceID(), SpanID: sc.SpanID(), Flags: sc.TraceFlags()}
}

// ExtractError describes a header value that could not be used.
type ExtractError struct {
	Header string
	Value  string
	Err    error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("header %s=%q: %v", e.Header, e.Value, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// Extract reads a context from carrier.
func Extract(carrier propagation.TextMapCarrier) TraceContext {
	tc, _ := Parse(carrier)
	return tc
}

// Parse is Extract that also reports the header values it had to ignore.
// The returned context is the same one Extract returns.
func Parse(carrier propagation.TextMapCarrier) (TraceContext, error) {
	var mErr *multierror.Error

	rawTrace, ok := lookup(carrier, TraceIDHeader)
	if !ok {
		return TraceContext{}, nil
	}
	traceID, err := strconv.ParseUint(rawTrace, 10, 64)
	if err == nil && traceID == 0 {
		err = fmt.Errorf("trace id must be non-zero")
	}
	if err != nil {
		mErr = multierror.Append(mErr, &ExtractError{Header: TraceIDHeader, Value: rawTrace, Err: err})
		return TraceContext{}, mErr.ErrorOrNil()
	}

	tc := TraceContext{TraceID: ddid.Widen(traceID)}

	if rawParent, ok := lookup(carrier, ParentIDHeader); ok {
		parentID, err := strconv.ParseUint(rawParent, 10, 64)
		if err != nil {
			mErr = multierror.Append(mErr, &ExtractError{Header: ParentIDHeader, Value: rawParent, Err: err})
		} else {
			tc.SpanID = ddid.FromSpanID(parentID)
		}
	}

	rawPriority, ok := lookup(carrier, SamplingPriorityHeader)
	priority := DecodeSamplingPriority(rawPriority)
	if ok && !priority.Known() {
		mErr = multierror.Append(mErr, &ExtractError{
			Header: SamplingPriorityHeader,
			Value:  rawPriority,
			Err:    fmt.Errorf("unrecognized sampling priority"),
		})
	}
	tc.Flags = priority.Flags()

	return tc, mErr.ErrorOrNil()
}

// Inject writes tc into carrier. Nothing is written unless both ids are
// present. The trace id header carries the low 64 bits of the trace id, and
// the priority header is omitted when the decision is deferred.
func Inject(tc TraceContext, carrier propagation.TextMapCarrier) {
	if !tc.Injectable() {
		return
	}
	carrier.Set(TraceIDHeader, strconv.FormatUint(ddid.Lower(tc.TraceID), 10))
	carrier.Set(ParentIDHeader, strconv.FormatUint(ddid.SpanID(tc.SpanID), 10))
	if p, ok := PriorityFromFlags(tc.Flags); ok {
		carrier.Set(SamplingPriorityHeader, p.Encode())
	}
}

// Fields returns the header names this package reads and writes.
func Fields() []string {
	return append([]string(nil), headerFields[:]...)
}

func lookup(carrier propagation.TextMapCarrier, key string) (string, bool) {
	if v := carrier.Get(key); v != "" {
		return v, true
	}
	for _, k := range carrier.Keys() {
		if strings.EqualFold(k, key) {
			return carrier.Get(k), true
		}
	}
	return "", false
}

// Propagator adapts the Datadog headers to the OTel propagation API.
type Propagator struct{}

var _ propagation.TextMapPropagator = Propagator{}

// Inject writes the span context found in ctx.
func (Propagator) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	Inject(FromSpanContext(trace.SpanContextFromContext(ctx)), carrier)
}

// Extract returns ctx carrying the remote span context found in carrier.
// ctx is returned unchanged when no trace id could be read.
func (Propagator) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	tc := Extract(carrier)
	if !tc.IsValid() {
		return ctx
	}
	return trace.ContextWithRemoteSpanContext(ctx, tc.SpanContext())
}

// Fields returns the header names this propagator reads and writes.
func (Propagator) Fields() []string {
	return Fields()
}
