package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/autolock/internal/commit"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error renders the failure with the replayed lines for context.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		switch ev.Type {
		case TypeLine:
			fmt.Fprintf(&buf, "  [%d] %s\n", ev.Seq, ev.Text)
		case TypeLocked, TypeUnlocked:
			fmt.Fprintf(&buf, "  [%d] %s %s %s strategy %d\n", ev.Seq, ev.Type, ev.Protocol, ev.Host, ev.Strategy)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages; an empty slice means all passed.
func EvaluateAssertions(result *Result, assertions []Assertion, c *commit.Store) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertLocked:
			err = assertLocked(result.Trace, a, c)
		case AssertUnlocked:
			err = assertUnlocked(result.Trace, a, c)
		case AssertHistory:
			err = assertHistory(result.Trace, a, c)
		case AssertBest:
			err = assertBest(result.Trace, a, c)
		case AssertOutputContains:
			err = assertOutputContains(result, a)
		case AssertEventCount:
			err = assertEventCount(result, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %s", i, err))
		}
	}
	return errs
}

func assertLocked(trace []TraceEvent, a Assertion, c *commit.Store) error {
	got, ok := c.Lookup(a.Host, a.Protocol)
	switch {
	case !ok:
		return &AssertionError{
			Type:     AssertLocked,
			Expected: fmt.Sprintf("%s lock for %s", a.Protocol, a.Host),
			Actual:   "no lock",
			Trace:    trace,
		}
	case a.Strategy > 0 && got != a.Strategy:
		return &AssertionError{
			Type:     AssertLocked,
			Expected: fmt.Sprintf("%s %s -> strategy %d", a.Protocol, a.Host, a.Strategy),
			Actual:   fmt.Sprintf("strategy %d", got),
			Trace:    trace,
		}
	}
	return nil
}

func assertUnlocked(trace []TraceEvent, a Assertion, c *commit.Store) error {
	if got, ok := c.Lookup(a.Host, a.Protocol); ok {
		return &AssertionError{
			Type:     AssertUnlocked,
			Expected: fmt.Sprintf("no %s lock for %s", a.Protocol, a.Host),
			Actual:   fmt.Sprintf("locked to strategy %d", got),
			Trace:    trace,
		}
	}
	return nil
}

func assertHistory(trace []TraceEvent, a Assertion, c *commit.Store) error {
	var got commit.Counters
	for _, e := range c.History(a.Host) {
		if e.Strategy == a.Strategy {
			got = e.Counters
		}
	}
	want := commit.Counters{Successes: a.Successes, Failures: a.Failures}
	if got != want {
		return &AssertionError{
			Type:     AssertHistory,
			Expected: fmt.Sprintf("%s strategy %d successes=%d failures=%d", a.Host, a.Strategy, want.Successes, want.Failures),
			Actual:   fmt.Sprintf("successes=%d failures=%d", got.Successes, got.Failures),
			Trace:    trace,
		}
	}
	return nil
}

// assertBest treats strategy 0 as "no candidate".
func assertBest(trace []TraceEvent, a Assertion, c *commit.Store) error {
	got, _ := c.BestStrategyFromHistory(a.Host, 0)
	if got != a.Strategy {
		return &AssertionError{
			Type:     AssertBest,
			Expected: fmt.Sprintf("best candidate for %s is strategy %d", a.Host, a.Strategy),
			Actual:   fmt.Sprintf("strategy %d", got),
			Trace:    trace,
		}
	}
	return nil
}

func assertOutputContains(result *Result, a Assertion) error {
	output := result.Output()
	for _, line := range output {
		if strings.Contains(line, a.Text) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertOutputContains,
		Expected: fmt.Sprintf("output containing %q", a.Text),
		Actual:   fmt.Sprintf("%d output lines, none matching", len(output)),
		Trace:    result.Trace,
	}
}

func assertEventCount(result *Result, a Assertion) error {
	if got := result.Stats.Events[a.Kind]; got != a.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d %s events", a.Count, a.Kind),
			Actual:   fmt.Sprintf("%d", got),
			Trace:    result.Trace,
		}
	}
	return nil
}
