package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/autolock/internal/sessionlog"
)

// NewLogsCommand creates the logs command group.
func NewLogsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Find the raw engine output of past sessions",
		Long: `Every session writes the engine's raw output to its own log file. Only
the most recent logs are kept. A log can be replayed with "parse".

Example:
  autolock logs list`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List session logs, oldest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogsList(rootOpts, cmd)
		},
	})
	return cmd
}

func runLogsList(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(cmd.Context(), opts, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	logs, err := a.logs().List()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list session logs", err)
	}
	if logs == nil {
		logs = []sessionlog.Info{}
	}

	return newFormatter(cmd, opts).Emit(logs, func(w io.Writer) error {
		if len(logs) == 0 {
			fmt.Fprintln(w, "No session logs.")
			return nil
		}
		rows := make([][]interface{}, 0, len(logs))
		for _, l := range logs {
			rows = append(rows, []interface{}{l.ID, l.ModTime.Local().Format(time.DateTime), l.Size, l.Path})
		}
		return table(w, "ID\tMODIFIED\tSIZE\tPATH", rows)
	})
}
