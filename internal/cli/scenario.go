package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/horizonanalytic/lattice-sub007/internal/harness"
)

// ScenarioOptions holds flags for the scenario command.
type ScenarioOptions struct {
	*RootOptions
	GoldenDir string // compare traces with <dir>/<name>.golden
	Update    bool   // regenerate golden files
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Trace  []string `json:"trace"`
	Errors []string `json:"errors,omitempty"`
}

// ScenarioReport holds the overall result.
type ScenarioReport struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scenario <file.yaml>...",
		Short: "Run scripted dispatch scenarios",
		Long: `Run scenario files against a fresh dispatch loop and print their traces.

With --golden, each trace is also compared with <dir>/<name>.golden;
--update rewrites those files instead.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (missing file, invalid scenario, etc.)

Examples:
  lattice scenario testdata/scenarios/mixed_delivery.yaml
  lattice scenario testdata/scenarios/*.yaml --golden testdata/golden
  lattice scenario testdata/scenarios/*.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.GoldenDir, "golden", "", "directory of golden trace files")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files (requires --golden)")

	return cmd
}

func runScenarios(opts *ScenarioOptions, paths []string, cmd *cobra.Command) error {
	if opts.Update && opts.GoldenDir == "" {
		return NewExitError(ExitCommandError, "--update requires --golden")
	}

	report := ScenarioReport{Total: len(paths)}
	for _, path := range paths {
		scenario, err := harness.LoadScenario(path)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("scenario %s", path), err)
		}

		result, err := harness.Run(scenario)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("scenario %s", scenario.Name), err)
		}

		if opts.GoldenDir != "" {
			if err := checkGolden(opts, scenario.Name, result); err != nil {
				return err
			}
		}

		report.Scenarios = append(report.Scenarios, ScenarioResult{
			Name:   scenario.Name,
			Pass:   result.Pass,
			Trace:  result.Trace,
			Errors: result.Errors,
		})
		if result.Pass {
			report.Passed++
		} else {
			report.Failed++
		}
	}

	f := newFormatter(opts.RootOptions, cmd)
	if f.JSON() {
		if err := f.Success(report); err != nil {
			return err
		}
	} else {
		printReport(cmd, opts.Verbose, report)
	}

	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", report.Failed, report.Total))
	}
	return nil
}

// checkGolden compares a trace with its golden file, or rewrites it with --update.
// A mismatch is recorded on the result rather than returned.
func checkGolden(opts *ScenarioOptions, name string, result *harness.Result) error {
	path := filepath.Join(opts.GoldenDir, name+".golden")
	got := harness.FormatTrace(name, result.Trace)

	if opts.Update {
		if err := os.MkdirAll(opts.GoldenDir, 0o755); err != nil {
			return WrapExitError(ExitCommandError, "failed to create golden dir", err)
		}
		if err := os.WriteFile(path, got, 0o644); err != nil {
			return WrapExitError(ExitCommandError, "failed to write golden file", err)
		}
		return nil
	}

	want, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read golden file", err)
	}
	if !bytes.Equal(want, got) {
		result.AddError(fmt.Sprintf("trace differs from %s", path))
	}
	return nil
}

func printReport(cmd *cobra.Command, verbose bool, report ScenarioReport) {
	w := cmd.OutOrStdout()
	for _, s := range report.Scenarios {
		status := "PASS"
		if !s.Pass {
			status = "FAIL"
		}
		fmt.Fprintf(w, "%s %s\n", status, s.Name)
		if verbose || !s.Pass {
			for _, line := range s.Trace {
				fmt.Fprintf(w, "    %s\n", line)
			}
		}
		for _, e := range s.Errors {
			fmt.Fprintf(w, "    %s\n", strings.ReplaceAll(strings.TrimRight(e, "\n"), "\n", "\n    "))
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", report.Passed, report.Failed, report.Total)
}
