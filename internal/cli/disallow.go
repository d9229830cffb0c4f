package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/autolock/internal/commit"
	"github.com/roach88/autolock/internal/disallow"
	"github.com/roach88/autolock/internal/hostname"
)

// DisallowList is the full disallow list.
type DisallowList struct {
	Entries      []disallow.Entry `json:"entries"`
	KnownBlocked []string         `json:"known_blocked"`
}

// DisallowChange reports the outcome of a disallow mutation.
type DisallowChange struct {
	Host     string             `json:"host"`
	Strategy int                `json:"strategy"`
	Changed  bool               `json:"changed"`
	Dropped  []commit.LockEntry `json:"dropped,omitempty"`
}

// NewDisallowCommand creates the disallow command group.
func NewDisallowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disallow",
		Short: "Forbid strategies for hosts",
		Long: `A disallowed (host, strategy) pair is never locked, never suggested from
history and is pruned from the preload. Adding an entry drops any
existing lock it forbids. Built-in entries cannot be removed.

Examples:
  autolock disallow list
  autolock disallow add youtube.com 7
  autolock disallow remove youtube.com 7`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newDisallowListCommand(rootOpts))
	cmd.AddCommand(newDisallowAddCommand(rootOpts))
	cmd.AddCommand(newDisallowRemoveCommand(rootOpts))
	cmd.AddCommand(newDisallowClearCommand(rootOpts))
	return cmd
}

func newDisallowListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List disallowed pairs",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			list := DisallowList{
				Entries:      a.disallow.Entries(),
				KnownBlocked: a.disallow.KnownBlocked(),
			}
			if list.Entries == nil {
				list.Entries = []disallow.Entry{}
			}
			return newFormatter(cmd, opts).Emit(list, func(w io.Writer) error {
				rows := make([][]interface{}, 0, len(list.Entries))
				for _, e := range list.Entries {
					source := "operator"
					if e.Builtin {
						source = "built-in"
					}
					rows = append(rows, []interface{}{e.Host, e.Strategy, source})
				}
				if err := table(w, "HOST\tSTRATEGY\tSOURCE", rows); err != nil {
					return err
				}
				fmt.Fprintf(w, "\nStrategy 1 is never used for subdomains of: %v\n", list.KnownBlocked)
				return nil
			})
		},
	}
}

func newDisallowAddCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "add <host> <strategy>",
		Short:         "Disallow a strategy for a host",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			strategy, err := parseStrategy(args[1])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			changed, err := a.disallow.Block(ctx, args[0], strategy)
			if err != nil {
				if errors.Is(err, hostname.ErrInvalid) {
					return WrapExitError(ExitCommandError, "invalid host", err)
				}
				return storeError("disallow", err)
			}

			change := DisallowChange{Host: displayHost(args[0]), Strategy: strategy, Changed: changed}
			for _, c := range a.commit.Reconcile(ctx) {
				change.Dropped = append(change.Dropped, commit.LockEntry{Host: c.Host, Protocol: c.Protocol, Strategy: c.Strategy})
			}
			return newFormatter(cmd, opts).Emit(change, func(w io.Writer) error {
				if !change.Changed {
					fmt.Fprintf(w, "Strategy %d already disallowed for %s\n", change.Strategy, change.Host)
				} else {
					fmt.Fprintf(w, "Disallowed strategy %d for %s\n", change.Strategy, change.Host)
				}
				for _, l := range change.Dropped {
					fmt.Fprintf(w, "  dropped lock %s %s -> strategy %d\n", l.Protocol, l.Host, l.Strategy)
				}
				return nil
			})
		},
	}
}

func newDisallowRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "remove <host> <strategy>",
		Short:         "Allow a strategy again",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			strategy, err := parseStrategy(args[1])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			changed, err := a.disallow.Unblock(ctx, args[0], strategy)
			if err != nil {
				if errors.Is(err, disallow.ErrBuiltin) {
					return WrapExitError(ExitFailure, fmt.Sprintf("strategy %d for %s is built in", strategy, args[0]), err)
				}
				if errors.Is(err, hostname.ErrInvalid) {
					return WrapExitError(ExitCommandError, "invalid host", err)
				}
				return storeError("remove disallow entry", err)
			}

			change := DisallowChange{Host: displayHost(args[0]), Strategy: strategy, Changed: changed}
			return newFormatter(cmd, opts).Emit(change, func(w io.Writer) error {
				if !change.Changed {
					fmt.Fprintf(w, "Strategy %d was not disallowed for %s\n", change.Strategy, change.Host)
					return nil
				}
				fmt.Fprintf(w, "Allowed strategy %d for %s\n", change.Strategy, change.Host)
				return nil
			})
		},
	}
}

func newDisallowClearCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "clear",
		Short:         "Remove every operator entry",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.disallow.Clear(ctx); err != nil {
				return storeError("clear disallow list", err)
			}
			return newFormatter(cmd, opts).Emit(map[string]bool{"cleared": true}, func(w io.Writer) error {
				fmt.Fprintln(w, "Cleared operator disallow entries (built-in entries kept)")
				return nil
			})
		},
	}
}
