package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/autolock/internal/artifact"
	"github.com/roach88/autolock/internal/protocol"
)

// RenderResult describes the written artifacts.
type RenderResult struct {
	WorkDir       string                    `json:"work_dir"`
	StrategyFiles []string                  `json:"strategy_files"`
	Whitelist     string                    `json:"whitelist"`
	RunConfig     string                    `json:"run_config"`
	Preload       string                    `json:"preload"`
	Fingerprint   string                    `json:"fingerprint"`
	Ranges        map[string]artifact.Range `json:"ranges"`
	Locks         int                       `json:"locks"`
	Skips         int                       `json:"skips"`
}

// NewRenderCommand creates the render command.
func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Write the engine artifacts without starting it",
		Long: `Number the strategy templates and write the strategy files, whitelist,
run config and preload exactly as "run" would, then exit. Locks on
strategy ids that no longer exist are pruned.

Example:
  autolock render
  autolock render --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(rootOpts, cmd)
		},
	}
	return cmd
}

func runRender(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	f := newFormatter(cmd, opts)

	a, err := openApp(ctx, opts, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := a.runner(nil)
	if err != nil {
		return err
	}
	arts, err := r.Prepare(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to render artifacts", err)
	}

	result := RenderResult{
		WorkDir:       a.cfg.WorkDir(),
		StrategyFiles: arts.StrategyFiles,
		Whitelist:     arts.Whitelist,
		RunConfig:     arts.RunConfig,
		Preload:       arts.Preload,
		Fingerprint:   arts.Fingerprint,
		Ranges:        make(map[string]artifact.Range),
		Locks:         arts.Locks,
		Skips:         arts.Skips,
	}
	for _, p := range protocol.All {
		if rng, ok := arts.Numbering.Ranges[p]; ok {
			result.Ranges[string(p)] = rng
		}
	}

	return f.Emit(result, func(w io.Writer) error {
		fmt.Fprintf(w, "Artifacts written to %s\n", result.WorkDir)
		for _, p := range protocol.All {
			if rng, ok := result.Ranges[string(p)]; ok {
				fmt.Fprintf(w, "  %-5s strategies %d-%d\n", p, rng.First, rng.Last)
			}
		}
		fmt.Fprintf(w, "  preload: %d locks, %d skips\n", result.Locks, result.Skips)
		fmt.Fprintf(w, "  fingerprint: %s\n", result.Fingerprint)
		return nil
	})
}
