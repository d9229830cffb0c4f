package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/autolock/internal/commit"
	"github.com/roach88/autolock/internal/disallow"
	"github.com/roach88/autolock/internal/event"
	"github.com/roach88/autolock/internal/protocol"
	"github.com/roach88/autolock/internal/session"
	"github.com/roach88/autolock/internal/store"
	"github.com/roach88/autolock/internal/whitelist"
)

// Harness holds the stores one scenario runs against.
type Harness struct {
	store    *store.Store
	disallow *disallow.Store
	commit   *commit.Store
	learner  *session.Learner
	parser   *event.Parser
	tracer   *tracer
	logger   *slog.Logger
}

// tracer appends store notifications to the result once recording is on.
// Setup changes are not part of the trace.
type tracer struct {
	result    *Result
	recording bool
}

func (t *tracer) Locked(host string, p protocol.Protocol, strategy int) {
	if t.recording {
		t.result.add(TraceEvent{Type: TypeLocked, Host: host, Protocol: p, Strategy: strategy})
	}
}

func (t *tracer) Unlocked(host string, p protocol.Protocol, strategy int) {
	if t.recording {
		t.result.add(TraceEvent{Type: TypeUnlocked, Host: host, Protocol: p, Strategy: strategy})
	}
}

func (t *tracer) Output(message string) {
	if t.recording {
		t.result.add(TraceEvent{Type: TypeOutput, Text: message})
	}
}

// Run replays a scenario and evaluates its assertions.
//
// Each scenario runs in a fresh in-memory database. Lines are fed through
// the same parser and learner a live session uses, in order, from one
// goroutine.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(store.MemoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	result := NewResult()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr := &tracer{result: result}

	d := disallow.New(st, disallow.WithLogger(logger), disallow.WithObserver(tr))
	d.Load(ctx)
	c := commit.New(st, d, commit.WithLogger(logger), commit.WithObserver(tr))
	c.Load(ctx)
	w := whitelist.New(st, whitelist.WithLogger(logger))
	w.Load(ctx)

	h := &Harness{
		store:    st,
		disallow: d,
		commit:   c,
		learner:  session.NewLearner(c, d, w, tr, logger),
		parser:   event.NewParser(),
		tracer:   tr,
		logger:   logger,
	}

	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	tr.recording = true
	h.replay(ctx, scenario.Lines)
	tr.recording = false

	if err := c.Save(ctx); err != nil {
		return nil, fmt.Errorf("failed to save locks: %w", err)
	}
	result.Locks = c.Snapshot().Locks
	result.Stats = h.learner.Stats()

	for _, msg := range EvaluateAssertions(result, scenario.Assertions, c) {
		result.AddError(msg)
	}
	return result, nil
}

// executeSetup seeds the stores. Setup steps must succeed.
func (h *Harness) executeSetup(ctx context.Context, setup Setup) error {
	for i, step := range setup.Disallow {
		if _, err := h.disallow.Block(ctx, step.Host, step.Strategy); err != nil {
			return fmt.Errorf("disallow[%d]: %w", i, err)
		}
	}
	for i, step := range setup.Locks {
		if err := h.commit.Lock(ctx, step.Host, step.Strategy, step.Protocol, commit.OriginOperator); err != nil {
			return fmt.Errorf("locks[%d]: %w", i, err)
		}
	}
	for i, step := range setup.History {
		c := commit.Counters{Successes: step.Successes, Failures: step.Failures}
		if err := h.commit.MergeHistory(ctx, step.Host, step.Strategy, c); err != nil {
			return fmt.Errorf("history[%d]: %w", i, err)
		}
	}
	h.logger.Info("setup completed",
		"disallow", len(setup.Disallow), "locks", len(setup.Locks), "history", len(setup.History))
	return nil
}

func (h *Harness) replay(ctx context.Context, lines []string) {
	for _, line := range lines {
		h.learner.Line()
		h.tracer.result.add(TraceEvent{Type: TypeLine, Text: line})

		ev, ok := h.parser.Parse(line)
		if !ok {
			continue
		}
		h.tracer.result.add(TraceEvent{
			Type:     TypeEvent,
			Text:     ev.String(),
			Host:     ev.Host,
			Protocol: ev.Protocol,
			Strategy: ev.Strategy,
		})
		h.learner.Apply(ctx, ev)
	}
}
