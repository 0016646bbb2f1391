// Datadog sampling priority values and their mapping onto OTel trace flags
package propagator

import (
	"math"
	"strconv"

	"go.opentelemetry.io/otel/trace"
)

// SamplingPriority is a Datadog sampling decision.
type SamplingPriority int32

const (
	PriorityUserReject SamplingPriority = -1
	PriorityAutoReject SamplingPriority = 0
	PriorityAutoKeep   SamplingPriority = 1
	PriorityUserKeep   SamplingPriority = 2

	// PriorityUnrecognized stands for any value outside the four known priorities.
	PriorityUnrecognized SamplingPriority = math.MinInt32
)

// FlagsDeferred marks a context whose sampling decision has not been made.
const FlagsDeferred = trace.TraceFlags(0x02)

var priorityTable = map[SamplingPriority]struct {
	name  string
	flags trace.TraceFlags
}{
	PriorityUserReject: {"user-reject", 0},
	PriorityAutoReject: {"auto-reject", 0},
	PriorityAutoKeep:   {"auto-keep", trace.FlagsSampled},
	PriorityUserKeep:   {"user-keep", trace.FlagsSampled},
}

// DecodeSamplingPriority parses a header value. Anything other than the
// decimal form of a known priority yields PriorityUnrecognized.
func DecodeSamplingPriority(s string) SamplingPriority {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return PriorityUnrecognized
	}
	p := SamplingPriority(v)
	if _, ok := priorityTable[p]; !ok {
		return PriorityUnrecognized
	}
	return p
}

// Known reports whether p is one of the four wire priorities.
func (p SamplingPriority) Known() bool {
	_, ok := priorityTable[p]
	return ok
}

// Flags returns the trace flags for p. Unrecognized priorities are deferred.
func (p SamplingPriority) Flags() trace.TraceFlags {
	if e, ok := priorityTable[p]; ok {
		return e.flags
	}
	return FlagsDeferred
}

// Encode returns the header value for p.
func (p SamplingPriority) Encode() string {
	return strconv.FormatInt(int64(p), 10)
}

func (p SamplingPriority) String() string {
	if e, ok := priorityTable[p]; ok {
		return e.name
	}
	return "unrecognized"
}

// PriorityFromFlags picks the automatic priority matching the sampled bit.
// The second result is false when flags are deferred.
func PriorityFromFlags(flags trace.TraceFlags) (SamplingPriority, bool) {
	if flags&FlagsDeferred != 0 {
		return PriorityUnrecognized, false
	}
	if flags.IsSampled() {
		return PriorityAutoKeep, true
	}
	return PriorityAutoReject, true
}
