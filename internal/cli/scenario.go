package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/rshare/internal/events"
	"github.com/roach88/rshare/internal/harness"
)

// ScenarioResult is one scenario's verdict.
type ScenarioResult struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario <file.yaml>...",
		Short: "Run page scenarios and check their assertions",
		Long: `Run page scenarios against an in-memory network and check their
assertions. See the harness package documentation for the file format.

Exits 1 if any scenario fails.

Examples:
  rshare scenario ./scenarios/shared_frame.yaml
  rshare scenario ./scenarios/*.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd, rootOpts, args)
		},
	}
	return cmd
}

func runScenarios(cmd *cobra.Command, opts *RootOptions, files []string) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	results := make([]ScenarioResult, 0, len(files))
	failed := 0
	for _, file := range files {
		s, err := harness.LoadScenario(file)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load scenario "+file, err)
		}
		res, err := harness.Run(contextOf(cmd), s)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to run scenario "+s.Name, err)
		}
		if !res.Pass {
			failed++
		}
		results = append(results, ScenarioResult{Name: s.Name, File: file, Pass: res.Pass, Errors: res.Errors})
	}

	if out.JSON() {
		if err := out.Success(results); err != nil {
			return err
		}
	} else {
		writeScenariosText(cmd.OutOrStdout(), results)
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario(s) failed", failed, len(results)))
	}
	return nil
}

func writeScenariosText(w io.Writer, results []ScenarioResult) {
	for _, r := range results {
		verdict := categoryStyle(events.CategorySuccess).Render("PASS")
		if !r.Pass {
			verdict = categoryStyle(events.CategoryDanger).Render("FAIL")
		}
		fmt.Fprintf(w, "%s %s\n", verdict, r.Name)
		for _, e := range r.Errors {
			fmt.Fprintln(w, mutedStyle.Render(e))
		}
	}
}
