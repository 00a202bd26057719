package commands

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nwiizo/instrument-rs-sub000/internal/healthcheck"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

func newDoctorCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor [path]",
		Short: "Check the project setup before analyzing",
		Long: `Checks the configuration, Cargo.toml, source directories and walk cache
of a project and reports anything that would make the analysis or the
inserted attributes fail.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := projectDir(pathArg(args))
			if err != nil {
				return err
			}
			result, err := healthcheck.Run(dir, g.configFile)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			out := cmd.OutOrStdout()
			displayDoctorResult(out, result, useColor("auto", out))
			if !result.OK() {
				return &ExitError{Code: 1, Err: fmt.Errorf("health check failed: one or more checks reported errors")}
			}
			return nil
		},
	}
}

func displayDoctorResult(w io.Writer, result *healthcheck.Result, color bool) {
	if result.ConfigPath != "" {
		fmt.Fprintf(w, "Using config: %s (%s)\n\n", result.ConfigPath, result.ConfigScope)
	} else {
		fmt.Fprint(w, "Using config: built-in defaults\n\n")
	}
	for _, c := range result.Checks {
		fmt.Fprintf(w, "  %s %-10s %s\n", statusIcon(c.Status, color), c.Name, c.Detail)
	}
}

func statusIcon(status healthcheck.Status, color bool) string {
	var icon string
	var style lipgloss.Style
	switch status {
	case healthcheck.StatusOK:
		icon, style = "✓", okStyle
	case healthcheck.StatusWarn:
		icon, style = "!", warnStyle
	case healthcheck.StatusError:
		icon, style = "✗", errStyle
	default:
		return "?"
	}
	if !color {
		return icon
	}
	return style.Render(icon)
}
