package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nwiizo/instrument-rs-sub000/pkg/fixer"
)

type fixOptions struct {
	apply       bool
	backup      bool
	minSeverity string
	maxFixes    int
	patch       bool
}

func newFixCmd(g *globals) *cobra.Command {
	opts := &fixOptions{}
	cmd := &cobra.Command{
		Use:   "fix [path]",
		Short: "Insert #[instrument] attributes for uncovered functions",
		Long: `Runs the analysis and inserts the suggested #[instrument] attribute above
every function with an instrumentation gap. Without --apply nothing is
written and the planned changes are shown. Every rewritten file is parsed
again; a file that no longer parses is left untouched and its fixes are
reported as failed, in which case the command exits with status 1.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFix(cmd, g, opts, pathArg(args))
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.apply, "apply", false, "write the changes (default is a dry run)")
	f.BoolVar(&opts.backup, "backup", true, "keep a .bak copy of every modified file")
	f.StringVar(&opts.minSeverity, "min-severity", "", "only fix gaps at or above this severity: critical, major, minor")
	f.IntVar(&opts.maxFixes, "max-fixes", 0, "fix at most this many gaps (0 means no limit)")
	f.BoolVar(&opts.patch, "patch", false, "print a unified diff instead of the report")
	return cmd
}

func runFix(cmd *cobra.Command, g *globals, opts *fixOptions, path string) error {
	s, err := newSession(cmd, g, nil, path)
	if err != nil {
		return err
	}
	defer s.close(context.Background())

	flags := cmd.Flags()
	if flags.Changed("apply") {
		s.cfg.Fixer.Apply = opts.apply
	}
	if flags.Changed("backup") {
		s.cfg.Fixer.Backup = opts.backup
	}
	if flags.Changed("min-severity") {
		s.cfg.Fixer.MinSeverity = opts.minSeverity
	}
	if flags.Changed("max-fixes") {
		s.cfg.Fixer.MaxFixes = opts.maxFixes
	}
	fcfg, err := s.cfg.FixerConfig()
	if err != nil {
		return err
	}
	if fcfg.MaxFixes < 0 {
		return fmt.Errorf("--max-fixes must not be negative")
	}

	res, err := s.analyze(cmd.Context(), path)
	if err != nil {
		return err
	}

	f := fixer.New(fcfg, fixer.WithRoot(res.Metadata.Root), fixer.WithLogger(s.logger))
	result := f.Fix(res.Gaps)

	out := cmd.OutOrStdout()
	if opts.patch {
		if _, err := io.WriteString(out, result.Patch()); err != nil {
			return err
		}
	} else if err := result.WriteReport(out, useColor(s.cfg.Output.Color, out)); err != nil {
		return err
	}

	s.logger.Info("fix finished",
		"gaps", result.TotalGaps,
		"applied", result.Applied,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"dry_run", result.DryRun)
	if result.Failed > 0 {
		return &ExitError{Code: 1, Err: fmt.Errorf("%d fix(es) failed", result.Failed)}
	}
	return nil
}
