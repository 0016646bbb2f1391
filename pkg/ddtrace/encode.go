// Conversion of span records into the Datadog agent payload.
// One export batch becomes one AgentPayload holding a single TracerPayload
// with one TraceChunk per trace.
package ddtrace

import (
	"math"
	"runtime"

	pb "github.com/DataDog/datadog-agent/pkg/proto/pbgo/trace"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/protobuf/proto"

	"github.com/andrewh/ddspan/pkg/ddid"
)

const (
	// LanguageName identifies this tracer to the intake.
	LanguageName = "go"
	// SpanType is set on every exported span.
	SpanType = "http"
	// ChunkOrigin is set on every exported chunk.
	ChunkOrigin = "lambda"
	// DefaultPriority is used for chunks whose spans carry no sampling.priority attribute.
	DefaultPriority int32 = 1

	targetTPS = 1000
	errorTPS  = 1000
)

// Encoder turns span records into serialized payloads.
type Encoder struct {
	cfg Config
}

// NewEncoder returns an Encoder that stamps payloads with the identity in cfg.
func NewEncoder(cfg Config) *Encoder {
	return &Encoder{cfg: cfg}
}

// Encode groups spans by trace and returns the serialized payload.
func (e *Encoder) Encode(spans []SpanRecord) ([]byte, error) {
	return Marshal(e.Payload(GroupByTrace(spans)))
}

// Payload builds the agent payload for a set of trace groups.
func (e *Encoder) Payload(groups []TraceGroup) *pb.AgentPayload {
	chunks := make([]*pb.TraceChunk, 0, len(groups))
	for _, g := range groups {
		chunks = append(chunks, e.chunk(g))
	}
	return &pb.AgentPayload{
		HostName: e.cfg.HostName,
		Env:      e.cfg.Env,
		TracerPayloads: []*pb.TracerPayload{{
			ContainerID:     e.cfg.ContainerID,
			LanguageName:    LanguageName,
			LanguageVersion: runtime.Version(),
			TracerVersion:   Version,
			RuntimeID:       e.cfg.RuntimeID,
			Chunks:          chunks,
			Env:             e.cfg.Env,
			Hostname:        e.cfg.HostName,
			AppVersion:      e.cfg.AppVersion,
		}},
		Tags:         copyTags(e.cfg.Tags),
		AgentVersion: Version,
		TargetTPS:    targetTPS,
		ErrorTPS:     errorTPS,
	}
}

// Marshal serializes a payload with map keys in sorted order.
func Marshal(p *pb.AgentPayload) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(p)
}

func (e *Encoder) chunk(g TraceGroup) *pb.TraceChunk {
	spans := make([]*pb.Span, 0, len(g))
	for _, r := range g {
		spans = append(spans, e.span(r))
	}
	return &pb.TraceChunk{
		Priority: chunkPriority(g),
		Origin:   ChunkOrigin,
		Spans:    spans,
		Tags:     map[string]string{},
	}
}

func (e *Encoder) span(r SpanRecord) *pb.Span {
	var isErr int32
	if r.IsError() {
		isErr = 1
	}
	duration := r.Duration.Nanoseconds()
	if duration < 0 {
		duration = 0
	}
	return &pb.Span{
		Service:  e.cfg.ServiceName,
		Name:     r.Name,
		Resource: r.Resource(),
		TraceID:  ddid.Narrow(r.TraceID),
		SpanID:   ddid.SpanID(r.SpanID),
		ParentID: ddid.SpanID(r.ParentSpanID),
		Start:    r.StartTime.UnixNano(),
		Duration: duration,
		Error:    isErr,
		Meta:     flatten(r.Attributes),
		Metrics:  map[string]float64{},
		Type:     SpanType,
	}
}

func flatten(attrs []attribute.KeyValue) map[string]string {
	meta := make(map[string]string, len(attrs))
	for _, kv := range attrs {
		meta[string(kv.Key)] = kv.Value.Emit()
	}
	return meta
}

// chunkPriority returns the first integer sampling.priority found in the group.
func chunkPriority(g TraceGroup) int32 {
	for _, r := range g {
		for _, kv := range r.Attributes {
			if kv.Key != SamplingPriorityKey || kv.Value.Type() != attribute.INT64 {
				continue
			}
			if v := kv.Value.AsInt64(); v >= math.MinInt32 && v <= math.MaxInt32 {
				return int32(v)
			}
		}
	}
	return DefaultPriority
}

func copyTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
