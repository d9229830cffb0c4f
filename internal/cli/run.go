package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/autolock/internal/event"
	"github.com/roach88/autolock/internal/notify"
	"github.com/roach88/autolock/internal/session"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// Launcher overrides the os/exec launcher (for testing).
	Launcher session.Launcher
}

// RunSummary is what one session learned.
type RunSummary struct {
	SessionID    string             `json:"session_id"`
	Lines        int                `json:"lines"`
	Events       map[event.Kind]int `json:"events"`
	DroppedLocks int                `json:"dropped_locks"`
	Whitelisted  int                `json:"whitelisted"`
	Preloaded    int                `json:"preloaded"`
	Locks        int                `json:"locks"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the engine and learn from its output",
		Long: `Render the artifacts, spawn the engine and apply every event it prints
to the lock and history stores until the engine exits or autolock is
interrupted. Everything learned is persisted when the session ends.

Example:
  autolock run --config ./autolock.yaml
  autolock run --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(opts, cmd)
		},
	}
	return cmd
}

func runSession(opts *RunOptions, cmd *cobra.Command) error {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	f := newFormatter(cmd, opts.RootOptions)
	var observer notify.Observer = notify.Nop{}
	if f.Format != "json" {
		observer = lineWriter(f.Writer)
	}

	a, err := openApp(ctx, opts.RootOptions, observer)
	if err != nil {
		return err
	}
	defer a.Close()

	var runnerOpts []session.Option
	if opts.Launcher != nil {
		runnerOpts = append(runnerOpts, session.WithLauncher(opts.Launcher))
	}
	r, err := a.runner(observer, runnerOpts...)
	if err != nil {
		return err
	}

	if err := r.Start(ctx); err != nil {
		if session.IsStartupPrecondition(err) {
			return WrapExitError(ExitCommandError, "cannot start engine", err)
		}
		return WrapExitError(ExitFailure, "engine start failed", err)
	}
	id := r.LastSessionID()

	select {
	case <-r.Done():
	case <-ctx.Done():
		a.logger.Info("received signal, stopping session", "id", id)
		grace, _ := a.cfg.StopGrace()
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*grace+session.DefaultDrainTimeout+time.Second)
		defer cancel()
		if err := r.Stop(stopCtx); err != nil {
			return WrapExitError(ExitFailure, "session did not stop cleanly", err)
		}
	}

	stats := r.Stats()
	summary := RunSummary{
		SessionID:    id,
		Lines:        stats.Lines,
		Events:       stats.Events,
		DroppedLocks: stats.DroppedLocks,
		Whitelisted:  stats.Whitelisted,
		Preloaded:    stats.Preloaded,
		Locks:        len(a.commit.Snapshot().Locks),
	}
	return f.Emit(summary, func(w io.Writer) error {
		fmt.Fprintf(w, "Session %s: %d lines, %d locks held\n", summary.SessionID, summary.Lines, summary.Locks)
		kinds := make([]string, 0, len(summary.Events))
		for k := range summary.Events {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(w, "  %-10s %d\n", k, summary.Events[event.Kind(k)])
		}
		if summary.DroppedLocks > 0 {
			fmt.Fprintf(w, "  dropped %d disallowed engine locks\n", summary.DroppedLocks)
		}
		if summary.Whitelisted > 0 {
			fmt.Fprintf(w, "  ignored %d outcomes for whitelisted hosts\n", summary.Whitelisted)
		}
		return nil
	})
}

// lineWriter prints every output message on its own line. Messages come
// from the reader goroutine and from store mutations, so writes are
// serialized.
func lineWriter(w io.Writer) notify.Observer {
	var mu sync.Mutex
	return notify.Funcs{
		OnOutput: func(message string) {
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintln(w, message)
		},
	}
}
