package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/autolock/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios>",
		Short: "Replay learner scenarios",
		Long: `Replay scenario files (a file or a directory of .yaml files) through the
learner against an in-memory store, check their assertions and compare
the trace with golden/<name>.golden next to each scenario.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  autolock test ./scenarios
  autolock test ./scenarios --filter "udp-*"
  autolock test ./scenarios --update
  autolock test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, path string, cmd *cobra.Command) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios not found: %s", path))
	}

	files, err := harness.Discover(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}
	files, err = filterScenarios(files, opts.Filter)
	if err != nil {
		return err
	}

	f := newFormatter(cmd, opts.RootOptions)
	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	if len(files) == 0 {
		return f.Emit(result, func(w io.Writer) error {
			fmt.Fprintln(w, "No scenarios found.")
			return nil
		})
	}

	for _, file := range files {
		f.VerboseLog("replaying %s", file)
		sr := runScenario(cmd, file, opts)
		if opts.Format != "json" {
			printScenario(f.Writer, sr)
		}
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		if result.Failed > 0 {
			if err := f.Error("E_TEST_FAILED", fmt.Sprintf("%d scenario(s) failed", result.Failed), result); err != nil {
				return err
			}
		} else if err := f.Success(result); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(f.Writer)
		fmt.Fprintf(f.Writer, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	if opts.Format != "json" {
		fmt.Fprintln(f.Writer, "✓ All scenarios passed")
	}
	return nil
}

// filterScenarios keeps files whose base name without extension matches
// the glob pattern.
func filterScenarios(files []string, pattern string) ([]string, error) {
	if pattern == "" {
		return files, nil
	}
	var out []string
	for _, file := range files {
		base := filepath.Base(file)
		matched, err := filepath.Match(pattern, strings.TrimSuffix(base, filepath.Ext(base)))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid filter pattern", err)
		}
		if matched {
			out = append(out, file)
		}
	}
	return out, nil
}

// runScenario loads, replays and checks one scenario file.
func runScenario(cmd *cobra.Command, file string, opts *TestOptions) ScenarioResult {
	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return ScenarioResult{
			Name:   filepath.Base(file),
			Errors: []string{fmt.Sprintf("failed to load scenario: %v", err)},
		}
	}

	result, err := harness.Run(cmd.Context(), scenario)
	if err != nil {
		return ScenarioResult{
			Name:   scenario.Name,
			Errors: []string{fmt.Sprintf("execution failed: %v", err)},
		}
	}

	data, err := harness.MarshalSnapshot(scenario.Name, result)
	if err != nil {
		return ScenarioResult{
			Name:   scenario.Name,
			Errors: []string{fmt.Sprintf("failed to marshal trace: %v", err)},
		}
	}

	golden := goldenFilePath(file)
	if opts.Update {
		if err := os.MkdirAll(filepath.Dir(golden), 0o755); err != nil {
			return ScenarioResult{Name: scenario.Name, Errors: []string{fmt.Sprintf("failed to create golden directory: %v", err)}}
		}
		if err := os.WriteFile(golden, data, 0o644); err != nil {
			return ScenarioResult{Name: scenario.Name, Errors: []string{fmt.Sprintf("failed to write golden file: %v", err)}}
		}
	} else if want, err := os.ReadFile(golden); err == nil {
		if !bytes.Equal(want, data) {
			result.AddError("trace does not match golden file (run with --update to regenerate)")
		}
	} else if !os.IsNotExist(err) {
		result.AddError(fmt.Sprintf("failed to read golden file: %v", err))
	}

	return ScenarioResult{
		Name:   scenario.Name,
		Pass:   result.Pass,
		Errors: result.Errors,
	}
}

func printScenario(w io.Writer, r ScenarioResult) {
	if r.Pass {
		fmt.Fprintf(w, "✓ %s\n", r.Name)
		return
	}
	fmt.Fprintf(w, "✗ %s\n", r.Name)
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

// goldenFilePath returns the path to the golden file for a scenario.
func goldenFilePath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}
