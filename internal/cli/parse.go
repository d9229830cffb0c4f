package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/autolock/internal/event"
	"github.com/roach88/autolock/internal/notify"
	"github.com/roach88/autolock/internal/protocol"
	"github.com/roach88/autolock/internal/session"
)

// ParseOptions holds flags for the parse command.
type ParseOptions struct {
	*RootOptions
	Apply bool // apply the decoded events to the stores
}

// ParsedEvent is one decoded line.
type ParsedEvent struct {
	Line      int               `json:"line"`
	Kind      event.Kind        `json:"kind"`
	Host      string            `json:"host"`
	Protocol  protocol.Protocol `json:"protocol,omitempty"`
	Strategy  int               `json:"strategy,omitempty"`
	Successes *int              `json:"successes,omitempty"`
	Total     *int              `json:"total,omitempty"`
}

// ParseResult summarizes a parsed file.
type ParseResult struct {
	Lines   int           `json:"lines"`
	Events  []ParsedEvent `json:"events"`
	Applied bool          `json:"applied"`
}

// NewParseCommand creates the parse command.
func NewParseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ParseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Decode engine output offline",
		Long: `Decode a saved engine output stream (a session log or a capture) and
print the events it contains. Use "-" to read standard input.

With --apply the events are also fed to the learner, exactly as a live
session would, and the result is persisted.

Examples:
  autolock parse ~/.config/autolock/logs/session-0190c2a4.log
  winws2 --debug=1 ... 2>&1 | autolock parse -
  autolock parse capture.txt --apply`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Apply, "apply", false, "apply the events to the lock and history stores")
	return cmd
}

func runParse(opts *ParseOptions, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	f := newFormatter(cmd, opts.RootOptions)

	f.VerboseLog("decoding %s", path)
	var in io.Reader = cmd.InOrStdin()
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open input", err)
		}
		defer file.Close()
		in = file
	}

	var learner *session.Learner
	if opts.Apply {
		var observer notify.Observer = notify.Nop{}
		if f.Format != "json" {
			observer = lineWriter(f.diag())
		}
		a, err := openApp(ctx, opts.RootOptions, observer)
		if err != nil {
			return err
		}
		defer a.Close()
		learner = session.NewLearner(a.commit, a.disallow, a.whitelist, observer, a.logger)
		defer func() {
			if err := a.commit.Save(ctx); err != nil {
				a.logger.Error("commit store not saved", "error", err)
			}
		}()
	}

	result := ParseResult{Events: []ParsedEvent{}, Applied: opts.Apply}
	parser := event.NewParser()
	br := bufio.NewReader(in)
	for {
		line, truncated, err := session.ReadLine(br, session.MaxLineSize)
		if err == nil || len(line) > 0 {
			result.Lines++
			if learner != nil {
				learner.Line()
			}
			// An overlong line was cut short; its tail may have held any field.
			if ev, ok := parser.Parse(line); ok && !truncated {
				result.Events = append(result.Events, parsedEvent(result.Lines, ev))
				if learner != nil {
					learner.Apply(ctx, ev)
				}
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read input", err)
		}
	}

	return f.Emit(result, func(w io.Writer) error {
		for _, ev := range result.Events {
			fmt.Fprintf(w, "%d: %s\n", ev.Line, ev.String())
		}
		fmt.Fprintf(w, "%d events in %d lines\n", len(result.Events), result.Lines)
		return nil
	})
}

func parsedEvent(line int, ev event.Event) ParsedEvent {
	out := ParsedEvent{
		Line:     line,
		Kind:     ev.Kind,
		Host:     ev.Host,
		Protocol: ev.Protocol,
		Strategy: ev.Strategy,
	}
	if ev.HasCounters {
		successes, total := ev.Successes, ev.Total
		out.Successes, out.Total = &successes, &total
	}
	return out
}

// String renders the event the way the parser accepts it.
func (e ParsedEvent) String() string {
	ev := event.Event{
		Kind:     e.Kind,
		Host:     e.Host,
		Protocol: e.Protocol,
		Strategy: e.Strategy,
	}
	if e.Successes != nil && e.Total != nil {
		ev.Successes, ev.Total, ev.HasCounters = *e.Successes, *e.Total, true
	}
	return ev.String()
}
