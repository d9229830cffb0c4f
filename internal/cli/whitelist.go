package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/autolock/internal/hostname"
	"github.com/roach88/autolock/internal/whitelist"
)

// WhitelistChange reports the outcome of a whitelist mutation.
type WhitelistChange struct {
	Domain  string `json:"domain"`
	Changed bool   `json:"changed"`
}

// NewWhitelistCommand creates the whitelist command group.
func NewWhitelistCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whitelist",
		Short: "Manage domains the engine never touches",
		Long: `Whitelisted domains and their subdomains are excluded from processing
by the engine. Default entries cannot be removed.

Examples:
  autolock whitelist list
  autolock whitelist add bank.example
  autolock whitelist remove bank.example`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newWhitelistListCommand(rootOpts))
	cmd.AddCommand(newWhitelistAddCommand(rootOpts))
	cmd.AddCommand(newWhitelistRemoveCommand(rootOpts))
	return cmd
}

func newWhitelistListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List whitelisted domains",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			entries := a.whitelist.Entries()
			if entries == nil {
				entries = []whitelist.Entry{}
			}
			return newFormatter(cmd, opts).Emit(entries, func(w io.Writer) error {
				rows := make([][]interface{}, 0, len(entries))
				for _, e := range entries {
					source := "operator"
					if e.IsDefault {
						source = "default"
					}
					rows = append(rows, []interface{}{e.Domain, source})
				}
				return table(w, "DOMAIN\tSOURCE", rows)
			})
		},
	}
}

func newWhitelistAddCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "add <domain>",
		Short:         "Whitelist a domain",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			changed, err := a.whitelist.Add(ctx, args[0])
			if err != nil {
				if errors.Is(err, hostname.ErrInvalid) {
					return WrapExitError(ExitCommandError, "invalid domain", err)
				}
				return storeError("update whitelist", err)
			}

			change := WhitelistChange{Domain: displayHost(args[0]), Changed: changed}
			return newFormatter(cmd, opts).Emit(change, func(w io.Writer) error {
				if !change.Changed {
					fmt.Fprintf(w, "%s is already whitelisted\n", change.Domain)
					return nil
				}
				fmt.Fprintf(w, "Whitelisted %s\n", change.Domain)
				return nil
			})
		},
	}
}

func newWhitelistRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "remove <domain>",
		Short:         "Remove a whitelisted domain",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			changed, err := a.whitelist.Remove(ctx, args[0])
			if err != nil {
				if errors.Is(err, whitelist.ErrDefault) {
					return WrapExitError(ExitFailure, fmt.Sprintf("%s is a default entry", args[0]), err)
				}
				if errors.Is(err, hostname.ErrInvalid) {
					return WrapExitError(ExitCommandError, "invalid domain", err)
				}
				return storeError("update whitelist", err)
			}

			change := WhitelistChange{Domain: displayHost(args[0]), Changed: changed}
			return newFormatter(cmd, opts).Emit(change, func(w io.Writer) error {
				if !change.Changed {
					fmt.Fprintf(w, "%s was not whitelisted\n", change.Domain)
					return nil
				}
				fmt.Fprintf(w, "Removed %s from the whitelist\n", change.Domain)
				return nil
			})
		},
	}
}
