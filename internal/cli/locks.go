package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/autolock/internal/commit"
	"github.com/roach88/autolock/internal/hostname"
	"github.com/roach88/autolock/internal/protocol"
)

// LockChange reports the outcome of a lock mutation.
type LockChange struct {
	Host     string            `json:"host"`
	Protocol protocol.Protocol `json:"protocol,omitempty"`
	Strategy int               `json:"strategy,omitempty"`
	Removed  int               `json:"removed"`
}

// NewLocksCommand creates the locks command group.
func NewLocksCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "Inspect and edit committed strategies",
		Long: `A lock pins one strategy to a (host, protocol) pair. Locks are learned
from the engine and preloaded on the next start; these commands let an
operator inspect or override them.

Examples:
  autolock locks list
  autolock locks set youtube.com tls 4
  autolock locks unset youtube.com
  autolock locks clear`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newLocksListCommand(rootOpts))
	cmd.AddCommand(newLocksSetCommand(rootOpts))
	cmd.AddCommand(newLocksUnsetCommand(rootOpts))
	cmd.AddCommand(newLocksClearCommand(rootOpts))
	return cmd
}

func newLocksListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List committed locks",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			locks := a.commit.Snapshot().Locks
			if locks == nil {
				locks = []commit.LockEntry{}
			}
			return newFormatter(cmd, opts).Emit(locks, func(w io.Writer) error {
				if len(locks) == 0 {
					fmt.Fprintln(w, "No locks.")
					return nil
				}
				rows := make([][]interface{}, 0, len(locks))
				for _, l := range locks {
					rows = append(rows, []interface{}{l.Protocol, l.Host, l.Strategy})
				}
				return table(w, "PROTOCOL\tHOST\tSTRATEGY", rows)
			})
		},
	}
}

func newLocksSetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "set <host> <protocol> <strategy>",
		Short:         "Lock a strategy by hand",
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseProtocol(args[1])
			if err != nil {
				return err
			}
			strategy, err := parseStrategy(args[2])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.commit.Lock(ctx, args[0], strategy, p, commit.OriginOperator); err != nil {
				if errors.Is(err, commit.ErrDisallowed) {
					return WrapExitError(ExitFailure, fmt.Sprintf("strategy %d is disallowed for %s", strategy, args[0]), err)
				}
				if errors.Is(err, commit.ErrInvalidProtocol) || errors.Is(err, hostname.ErrInvalid) {
					return WrapExitError(ExitCommandError, "invalid lock", err)
				}
				return storeError("lock", err)
			}

			change := LockChange{Host: displayHost(args[0]), Protocol: p, Strategy: strategy}
			return newFormatter(cmd, opts).Emit(change, func(w io.Writer) error {
				fmt.Fprintf(w, "Locked %s %s to strategy %d\n", change.Protocol, change.Host, change.Strategy)
				return nil
			})
		},
	}
}

func newLocksUnsetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unset <host> [protocol]",
		Short: "Remove a lock",
		Long: `Remove the lock for host in one protocol family, or in every family
when no protocol is given. History is kept.`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var p protocol.Protocol
			if len(args) == 2 {
				var err error
				if p, err = parseProtocol(args[1]); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			change := LockChange{Host: displayHost(args[0]), Protocol: p}
			if p == "" {
				n, err := a.commit.UnlockHost(ctx, args[0])
				if err != nil {
					return storeError("unlock", err)
				}
				change.Removed = n
			} else {
				strategy, ok, err := a.commit.Unlock(ctx, args[0], p)
				if err != nil {
					return storeError("unlock", err)
				}
				if ok {
					change.Removed, change.Strategy = 1, strategy
				}
			}

			return newFormatter(cmd, opts).Emit(change, func(w io.Writer) error {
				if change.Removed == 0 {
					fmt.Fprintf(w, "No lock for %s\n", change.Host)
					return nil
				}
				fmt.Fprintf(w, "Removed %d lock(s) for %s\n", change.Removed, change.Host)
				return nil
			})
		},
	}
}

func newLocksClearCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "clear",
		Short:         "Remove every lock and all history",
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

			removed := len(a.commit.Snapshot().Locks)
			if err := a.commit.Clear(ctx); err != nil {
				return storeError("clear locks", err)
			}
			change := LockChange{Removed: removed}
			return newFormatter(cmd, opts).Emit(change, func(w io.Writer) error {
				fmt.Fprintf(w, "Cleared %d lock(s) and all history\n", removed)
				return nil
			})
		},
	}
}

// displayHost is the normalized spelling of an operator-typed host.
func displayHost(host string) string {
	if h, err := hostname.Normalize(host); err == nil {
		return h
	}
	return host
}

func parseProtocol(arg string) (protocol.Protocol, error) {
	p, ok := protocol.Parse(arg)
	if !ok {
		return "", NewExitError(ExitCommandError,
			fmt.Sprintf("unknown protocol %q: must be one of %v", arg, protocol.All))
	}
	return p, nil
}

func parseStrategy(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid strategy %q: must be a positive integer", arg))
	}
	return n, nil
}
