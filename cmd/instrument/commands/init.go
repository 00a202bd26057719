package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nwiizo/instrument-rs-sub000/internal/config"
	"github.com/nwiizo/instrument-rs-sub000/pkg/framework"
)

func newInitCmd(g *globals) *cobra.Command {
	var force, interactive bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file",
		Long: `Creates .instrument/config.yaml in the project with the default settings.
With --interactive, asks for the framework, the recommendation threshold
and span name prefixes first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, pathArg(args), force, interactive)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "answer a few questions before writing")
	return cmd
}

func runInit(cmd *cobra.Command, path string, force, interactive bool) error {
	dir, err := projectDir(path)
	if err != nil {
		return err
	}
	configPath := config.ProjectPath(dir)

	if _, err := os.Stat(configPath); err == nil && !force {
		if !interactive {
			return fmt.Errorf("config already exists at %s (use --force to overwrite)", configPath)
		}
		var overwrite bool
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title("Config file exists").
					Description(fmt.Sprintf("Overwrite existing config at %s?", configPath)).
					Affirmative("Overwrite").
					Negative("Cancel").
					Value(&overwrite),
			),
		)
		if err := form.Run(); err != nil {
			return fmt.Errorf("interactive prompt failed: %w", err)
		}
		if !overwrite {
			fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
			return nil
		}
	}

	cfg := config.DefaultConfig()
	if interactive {
		if err := askConfig(cfg); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", configPath)
	return nil
}

// askConfig fills cfg from an interactive form.
func askConfig(cfg *config.Config) error {
	options := []huh.Option[string]{huh.NewOption("Detect automatically", framework.Auto)}
	for _, name := range framework.Default().Names() {
		options = append(options, huh.NewOption(name, name))
	}

	threshold := strconv.FormatFloat(cfg.Analysis.Threshold, 'f', -1, 64)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Web framework").
				Description("Used to find HTTP and gRPC endpoints").
				Options(options...).
				Value(&cfg.Analysis.Framework),
			huh.NewInput().
				Title("Recommendation threshold").
				Description("0 reports every candidate, 1 only critical ones").
				Value(&threshold).
				Validate(func(s string) error {
					f, err := strconv.ParseFloat(s, 64)
					if err != nil || f < 0 || f > 1 {
						return fmt.Errorf("enter a number between 0 and 1")
					}
					return nil
				}),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Endpoint span prefix (optional)").
				Placeholder("http.").
				Value(&cfg.NamingRules.EndpointPrefix),
			huh.NewInput().
				Title("Database span prefix (optional)").
				Placeholder("db.").
				Value(&cfg.NamingRules.DatabasePrefix),
			huh.NewInput().
				Title("Cache span prefix (optional)").
				Placeholder("cache.").
				Value(&cfg.NamingRules.CachePrefix),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("interactive prompt failed: %w", err)
	}

	f, err := strconv.ParseFloat(threshold, 64)
	if err != nil {
		return fmt.Errorf("invalid threshold %q: %w", threshold, err)
	}
	cfg.Analysis.Threshold = f
	return nil
}
