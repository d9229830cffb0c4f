// Package event decodes the engine's line-oriented debug output into typed
// strategy events.
//
// The engine prints one keyword-tagged line per outcome:
//
//	[orchestra] SUCCESS host=example.com strategy=4 protocol=tls successes=3 total=4
//	LOCK: host=example.com strategy=4 proto=tls
//	UNLOCK host=example.com
//
// Decoding is total: every input either yields exactly one Event or is
// reported as not an event. Malformed input never produces an error, and a
// field with an invalid numeric value discards the whole line.
package event

import (
	"fmt"

	"github.com/roach88/autolock/internal/protocol"
)

// Kind identifies the event keyword.
type Kind string

const (
	// KindLock means the engine committed to a strategy for a host.
	KindLock Kind = "LOCK"
	// KindUnlock means the engine abandoned a commitment and re-explores.
	KindUnlock Kind = "UNLOCK"
	// KindApplied reports the strategy currently in use for a flow.
	KindApplied Kind = "APPLIED"
	// KindSuccess reports a flow that got through, optionally with counters.
	KindSuccess Kind = "SUCCESS"
	// KindFail reports a failed flow with counters.
	KindFail Kind = "FAIL"
	// KindRotate reports the engine moving to its next candidate.
	KindRotate Kind = "ROTATE"
	// KindRST reports an injected reset, a hard block signal.
	KindRST Kind = "RST"
	// KindHistory carries engine-side counters for a (host, strategy).
	KindHistory Kind = "HISTORY"
	// KindPreloaded confirms the engine accepted a preload entry.
	KindPreloaded Kind = "PRELOADED"
)

// Kinds lists every recognized keyword.
var Kinds = []Kind{
	KindLock, KindUnlock, KindApplied, KindSuccess, KindFail,
	KindRotate, KindRST, KindHistory, KindPreloaded,
}

// Event is one decoded engine line.
type Event struct {
	Kind Kind

	// Host is normalized. It is inherited from the previous line when the
	// line itself carries none.
	Host string

	// Strategy is zero when the line has no strategy (UNLOCK, RST).
	Strategy int

	// Protocol is the inferred family. It is empty only for an UNLOCK
	// without a protocol tag, which applies to every family.
	Protocol protocol.Protocol

	// Label is the raw protocol tag as printed by the engine ("quic",
	// "discord", ...), empty when the protocol was inferred.
	Label string

	// Successes and Total are engine counters; HasCounters reports whether
	// the line carried them.
	Successes   int
	Total       int
	HasCounters bool

	// Raw is the original line.
	Raw string
}

// Failures derives the failure count from the engine counters.
func (e Event) Failures() int {
	return e.Total - e.Successes
}

// String renders the event in the grammar the parser accepts.
func (e Event) String() string {
	s := fmt.Sprintf("%s host=%s", e.Kind, e.Host)
	if e.Strategy > 0 {
		s += fmt.Sprintf(" strategy=%d", e.Strategy)
	}
	if e.Protocol != "" {
		s += fmt.Sprintf(" protocol=%s", e.Protocol)
	}
	if e.HasCounters {
		s += fmt.Sprintf(" successes=%d total=%d", e.Successes, e.Total)
	}
	return s
}
