// Package commands implements the instrument CLI.
package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nwiizo/instrument-rs-sub000/internal/config"
	"github.com/nwiizo/instrument-rs-sub000/internal/log"
	"github.com/nwiizo/instrument-rs-sub000/pkg/analyzer"
)

// ExitError carries a process exit code out of a command. A nil Err means
// the command already printed everything it had to say.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

// globals are the persistent flags shared by every subcommand.
type globals struct {
	configFile string
	verbose    bool
	quiet      bool
	logJSON    bool
	logger     *log.DefaultLogger
}

// NewRootCmd builds the command tree. Running it without a subcommand
// analyzes the current directory.
func NewRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "instrument [path]",
		Short: "Find where a Rust service needs tracing instrumentation",
		Long: `instrument analyzes a Rust project and reports the functions that should
carry tracing spans: HTTP and gRPC endpoints, database and external calls,
cache operations and other critical paths. It compares the recommendations
with the spans already present and can insert the missing attributes.

Commands:
  init        Write a default configuration file
  analyze     Analyze a project and print a report (default)
  check       Fail when instrumentation coverage is below a threshold
  doctor      Check the project setup before analyzing
  fix         Insert #[instrument] attributes for uncovered functions
  graph       Print the call graph or the path between two functions

Use "instrument [command] --help" for more information about a command.`,
		Version:       analyzer.Version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.setupLogger(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, g, &analyzeOptions{}, pathArg(args))
		},
	}
	root.SetVersionTemplate("instrument version {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configFile, "config", "c", "", "config file (default .instrument/config.yaml, then ~/.instrument/config.yaml)")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "log debug output")
	pf.BoolVarP(&g.quiet, "quiet", "q", false, "log errors only")
	pf.BoolVar(&g.logJSON, "log-json", false, "write logs as JSON lines")
	root.MarkFlagsMutuallyExclusive("verbose", "quiet")

	root.AddCommand(
		newInitCmd(g),
		newAnalyzeCmd(g),
		newCheckCmd(g),
		newDoctorCmd(g),
		newFixCmd(g),
		newGraphCmd(g),
	)
	return root
}

// Execute runs the CLI with os.Args and returns the exit code.
func Execute() int {
	root := NewRootCmd()
	err := root.Execute()
	if err != nil {
		var exitErr *ExitError
		if !errors.As(err, &exitErr) || exitErr.Err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
	return ExitCode(err)
}

func (g *globals) setupLogger(cmd *cobra.Command) error {
	level := log.InfoLevel
	switch {
	case g.verbose:
		level = log.DebugLevel
	case g.quiet:
		level = log.ErrorLevel
	}
	g.logger = log.New(log.LoggerConfig{
		Level:      level,
		JSONOutput: g.logJSON,
		Output:     cmd.ErrOrStderr(),
	})
	log.SetDefault(g.logger)
	return nil
}

func pathArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

// projectDir is the directory that holds path: path itself, or its parent
// when path is a file.
func projectDir(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("stat path: %w", err)
	}
	if !info.IsDir() {
		return filepath.Dir(abs), nil
	}
	return abs, nil
}

// loadConfig reads --config when given, otherwise the project and user
// configuration for dir.
func (g *globals) loadConfig(dir string) (*config.Config, error) {
	if g.configFile != "" {
		cfg, err := config.LoadFromFile(g.configFile)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
