package harness

import (
	"github.com/roach88/autolock/internal/commit"
	"github.com/roach88/autolock/internal/protocol"
	"github.com/roach88/autolock/internal/session"
)

// Trace event types.
const (
	TypeLine     = "line"
	TypeEvent    = "event"
	TypeLocked   = "locked"
	TypeUnlocked = "unlocked"
	TypeOutput   = "output"
)

// TraceEvent is one step of a replay: a raw line, the event it decoded
// to, or a notification the stores emitted while applying it.
type TraceEvent struct {
	Seq      int               `json:"seq"`
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	Host     string            `json:"host,omitempty"`
	Protocol protocol.Protocol `json:"protocol,omitempty"`
	Strategy int               `json:"strategy,omitempty"`
}

// Result is the outcome of a scenario replay.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace is every line, event and notification in order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds the assertion failures.
	Errors []string `json:"errors,omitempty"`

	// Locks is the final lock state.
	Locks []commit.LockEntry `json:"locks"`

	// Stats is the learner bookkeeping.
	Stats session.Stats `json:"stats"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records an assertion failure and marks the result failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}

// Output returns the output lines in trace order.
func (r *Result) Output() []string {
	var out []string
	for _, ev := range r.Trace {
		if ev.Type == TypeOutput {
			out = append(out, ev.Text)
		}
	}
	return out
}
