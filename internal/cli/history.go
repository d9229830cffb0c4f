package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/autolock/internal/commit"
)

// BestCandidate is the history suggestion for one host.
type BestCandidate struct {
	Host     string `json:"host"`
	Strategy int    `json:"strategy"`
	Exclude  int    `json:"exclude,omitempty"`
}

// NewHistoryCommand creates the history command group.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect per-host strategy outcomes",
		Long: `History tallies the successes and failures of every strategy tried for
a host. It survives unlocks and is cleared by "locks clear".

Examples:
  autolock history list
  autolock history list youtube.com
  autolock history best youtube.com --exclude 3`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newHistoryListCommand(rootOpts))
	cmd.AddCommand(newHistoryBestCommand(rootOpts))
	return cmd
}

func newHistoryListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list [host]",
		Short:         "List history tallies",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			var entries []commit.HistoryEntry
			if len(args) == 1 {
				entries = a.commit.History(args[0])
			} else {
				entries = a.commit.Snapshot().History
			}
			if entries == nil {
				entries = []commit.HistoryEntry{}
			}

			return newFormatter(cmd, opts).Emit(entries, func(w io.Writer) error {
				if len(entries) == 0 {
					fmt.Fprintln(w, "No history.")
					return nil
				}
				rows := make([][]interface{}, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, []interface{}{e.Host, e.Strategy, e.Successes, e.Failures})
				}
				return table(w, "HOST\tSTRATEGY\tSUCCESSES\tFAILURES", rows)
			})
		},
	}
}

func newHistoryBestCommand(opts *RootOptions) *cobra.Command {
	var exclude int

	cmd := &cobra.Command{
		Use:   "best <host>",
		Short: "Show the best allowed strategy from history",
		Long: `Show the strategy with the highest success ratio for host, skipping
disallowed strategies and the one given by --exclude. Exits 1 when no
strategy qualifies.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			host := displayHost(args[0])
			strategy, ok := a.commit.BestStrategyFromHistory(host, exclude)
			if !ok {
				return NewExitError(ExitFailure, fmt.Sprintf("no candidate strategy in history for %s", host))
			}

			best := BestCandidate{Host: host, Strategy: strategy, Exclude: exclude}
			return newFormatter(cmd, opts).Emit(best, func(w io.Writer) error {
				fmt.Fprintf(w, "%s: strategy %d\n", best.Host, best.Strategy)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&exclude, "exclude", 0, "strategy id to skip")
	return cmd
}
