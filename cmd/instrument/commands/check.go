package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// DefaultMinCoverage is the check threshold when --min-coverage is not set.
const DefaultMinCoverage = 80.0

func newCheckCmd(g *globals) *cobra.Command {
	var minCoverage float64
	cmd := &cobra.Command{
		Use:   "check [path]",
		Short: "Fail when instrumentation coverage is below a threshold",
		Long: `Runs the analysis and compares coverage, the share of recommended points
that already carry instrumentation, against --min-coverage. Exits with
status 1 when coverage is lower. Useful as a CI gate.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if minCoverage < 0 || minCoverage > 100 {
				return fmt.Errorf("--min-coverage must be between 0 and 100, got %v", minCoverage)
			}
			return runCheck(cmd, g, pathArg(args), minCoverage)
		},
	}
	cmd.Flags().Float64Var(&minCoverage, "min-coverage", DefaultMinCoverage, "minimum coverage percentage")
	return cmd
}

func runCheck(cmd *cobra.Command, g *globals, path string, minCoverage float64) error {
	s, err := newSession(cmd, g, nil, path)
	if err != nil {
		return err
	}
	defer s.close(context.Background())

	res, err := s.analyze(cmd.Context(), path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	covered := res.Stats.InstrumentationPoints - res.Stats.GapsCount
	fmt.Fprintf(out, "Coverage: %.1f%% (%d of %d points instrumented, minimum %.1f%%)\n",
		res.Stats.CoveragePercent, covered, res.Stats.InstrumentationPoints, minCoverage)
	if len(res.Failures) > 0 {
		fmt.Fprintf(out, "Skipped %d file(s) that could not be analyzed\n", len(res.Failures))
	}

	if res.Stats.CoveragePercent < minCoverage {
		fmt.Fprintf(out, "FAIL: %d gap(s) need instrumentation\n", res.Stats.GapsCount)
		for _, gap := range res.Gaps {
			fmt.Fprintf(out, "  [%s] %s (%s:%d)\n", gap.Severity, gap.Function, gap.Location.File, gap.Location.StartLine)
		}
		return &ExitError{Code: 1}
	}
	fmt.Fprintln(out, "PASS")
	return nil
}
