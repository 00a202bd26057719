package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/nwiizo/instrument-rs-sub000/internal/scanner"
	"github.com/nwiizo/instrument-rs-sub000/pkg/analyzer"
	"github.com/nwiizo/instrument-rs-sub000/pkg/detector"
	"github.com/nwiizo/instrument-rs-sub000/pkg/fixer"
	"github.com/nwiizo/instrument-rs-sub000/pkg/framework"
	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

const (
	// DirName is the per-project and per-user configuration directory.
	DirName = ".instrument"
	// FileName is the configuration file inside DirName.
	FileName = "config.yaml"
	// EnvPrefix prefixes environment overrides, e.g. INSTRUMENT_ANALYSIS_THRESHOLD.
	EnvPrefix = "INSTRUMENT"
)

// Config holds all configuration for instrument
type Config struct {
	Analysis    AnalysisConfig       `yaml:"analysis" mapstructure:"analysis"`
	NamingRules detector.NamingRules `yaml:"naming_rules" mapstructure:"naming_rules"`
	Fixer       FixerConfig          `yaml:"fixer" mapstructure:"fixer"`
	Output      OutputConfig         `yaml:"output" mapstructure:"output"`
}

// AnalysisConfig selects what is scanned and what is reported.
type AnalysisConfig struct {
	Threshold       float64  `yaml:"threshold" mapstructure:"threshold" validate:"gte=0,lte=1"`
	MaxDepth        int      `yaml:"max_depth" mapstructure:"max_depth" validate:"gte=0"`
	IncludeTests    bool     `yaml:"include_tests" mapstructure:"include_tests"`
	Framework       string   `yaml:"framework" mapstructure:"framework" validate:"required"`
	ExcludePatterns []string `yaml:"exclude_patterns" mapstructure:"exclude_patterns"`
	SourceDirs      []string `yaml:"source_dirs" mapstructure:"source_dirs"`
	Workers         int      `yaml:"workers" mapstructure:"workers" validate:"gte=0"`
	// CacheDir holds the walk cache. Empty disables it.
	CacheDir string `yaml:"cache_dir" mapstructure:"cache_dir"`
}

// FixerConfig controls the fix command.
type FixerConfig struct {
	Apply       bool   `yaml:"apply" mapstructure:"apply"`
	Backup      bool   `yaml:"backup" mapstructure:"backup"`
	MinSeverity string `yaml:"min_severity" mapstructure:"min_severity" validate:"omitempty,oneof=Critical Major Minor critical major minor"`
	MaxFixes    int    `yaml:"max_fixes" mapstructure:"max_fixes" validate:"gte=0"`
}

// OutputConfig controls report rendering.
type OutputConfig struct {
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=tree json mermaid dot"`
	Color  string `yaml:"color" mapstructure:"color" validate:"oneof=auto always never"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	a := analyzer.DefaultConfig()
	return &Config{
		Analysis: AnalysisConfig{
			Threshold:       a.Threshold,
			MaxDepth:        a.MaxDepth,
			Framework:       a.Framework,
			ExcludePatterns: a.ExcludePatterns,
			SourceDirs:      []string{},
			CacheDir:        filepath.Join(DirName, "cache"),
		},
		NamingRules: a.NamingRules,
		Fixer: FixerConfig{
			Backup: true,
		},
		Output: OutputConfig{
			Format: "tree",
			Color:  "auto",
		},
	}
}

// ProjectPath returns the project-level config file under root.
func ProjectPath(root string) string {
	return filepath.Join(root, DirName, FileName)
}

// globalDir returns ~/.instrument, or "" when there is no home directory.
func globalDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, DirName)
}

// Locate returns the config file Load would read for root and its scope,
// "project" or "global". Both are empty when neither file exists.
func Locate(root string) (path, scope string) {
	if p := ProjectPath(root); isFile(p) {
		return p, "project"
	}
	if dir := globalDir(); dir != "" {
		if p := filepath.Join(dir, FileName); isFile(p) {
			return p, "global"
		}
	}
	return "", ""
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Load reads configuration for the project at root. Values come from, in
// increasing priority: defaults, the first config file found
// (root/.instrument/config.yaml, then ~/.instrument/config.yaml), a .env
// file in root, and INSTRUMENT_* environment variables. A missing config
// file is not an error.
func Load(root string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(root, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: reading .env: %v", types.ErrConfig, err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(root, DirName))
	if dir := globalDir(); dir != "" {
		v.AddConfigPath(dir)
	}
	return load(v)
}

// LoadFromFile reads configuration from a specific YAML file path
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: failed to read config file: %v", types.ErrConfig, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to decode config: %v", types.ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so that environment overrides apply
// even when no config file sets it.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("analysis.threshold", d.Analysis.Threshold)
	v.SetDefault("analysis.max_depth", d.Analysis.MaxDepth)
	v.SetDefault("analysis.include_tests", d.Analysis.IncludeTests)
	v.SetDefault("analysis.framework", d.Analysis.Framework)
	v.SetDefault("analysis.exclude_patterns", d.Analysis.ExcludePatterns)
	v.SetDefault("analysis.source_dirs", d.Analysis.SourceDirs)
	v.SetDefault("analysis.workers", d.Analysis.Workers)
	v.SetDefault("analysis.cache_dir", d.Analysis.CacheDir)

	v.SetDefault("naming_rules.endpoint_prefix", d.NamingRules.EndpointPrefix)
	v.SetDefault("naming_rules.database_prefix", d.NamingRules.DatabasePrefix)
	v.SetDefault("naming_rules.cache_prefix", d.NamingRules.CachePrefix)
	v.SetDefault("naming_rules.external_prefix", d.NamingRules.ExternalPrefix)
	attrs := make(map[string]any, len(d.NamingRules.RequiredAttributes))
	for kind, names := range d.NamingRules.RequiredAttributes {
		attrs[kind] = names
	}
	v.SetDefault("naming_rules.required_attributes", attrs)
	v.SetDefault("naming_rules.forbidden_patterns", d.NamingRules.ForbiddenPatterns)

	v.SetDefault("fixer.apply", d.Fixer.Apply)
	v.SetDefault("fixer.backup", d.Fixer.Backup)
	v.SetDefault("fixer.min_severity", d.Fixer.MinSeverity)
	v.SetDefault("fixer.max_fixes", d.Fixer.MaxFixes)

	v.SetDefault("output.format", d.Output.Format)
	v.SetDefault("output.color", d.Output.Color)
}

// Save writes the configuration to the specified YAML file path.
// It creates parent directories if they don't exist.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.NewIoError("mkdir", dir, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return types.NewIoError("write", path, err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges, the framework name, and that every
// forbidden pattern and exclude glob compiles.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fieldMessage(fe))
			}
			return fmt.Errorf("%w: %s", types.ErrConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", types.ErrConfig, err)
	}

	if name := c.Analysis.Framework; name != framework.Auto {
		if _, ok := framework.Default().Get(name); !ok {
			return fmt.Errorf("%w: unknown framework %q (known: %s)",
				types.ErrConfig, name, strings.Join(framework.Default().Names(), ", "))
		}
	}
	if _, err := detector.NewRuleChecker(c.NamingRules); err != nil {
		return err
	}
	if _, err := scanner.CompileExcludes(c.Analysis.ExcludePatterns); err != nil {
		return err
	}
	return nil
}

// fieldMessage renders a validation failure with the YAML key path.
func fieldMessage(fe validator.FieldError) string {
	key := yamlKey(fe.StructNamespace())
	switch fe.Tag() {
	case "gte":
		return fmt.Sprintf("%s must be >= %s", key, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", key, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", key, fe.Param(), fmt.Sprint(fe.Value()))
	case "required":
		return fmt.Sprintf("%s is required", key)
	}
	return fmt.Sprintf("%s failed %s", key, fe.Tag())
}

var yamlKeys = map[string]string{
	"Analysis":        "analysis",
	"Threshold":       "threshold",
	"MaxDepth":        "max_depth",
	"Framework":       "framework",
	"Workers":         "workers",
	"Fixer":           "fixer",
	"MinSeverity":     "min_severity",
	"MaxFixes":        "max_fixes",
	"Output":          "output",
	"Format":          "format",
	"Color":           "color",
	"NamingRules":     "naming_rules",
	"ExcludePatterns": "exclude_patterns",
}

// yamlKey maps "Config.Analysis.Threshold" to "analysis.threshold".
func yamlKey(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		if k, ok := yamlKeys[p]; ok {
			parts[i] = k
		}
	}
	return strings.Join(parts, ".")
}

// AnalyzerConfig returns the pipeline settings.
func (c *Config) AnalyzerConfig() analyzer.Config {
	return analyzer.Config{
		Threshold:       c.Analysis.Threshold,
		MaxDepth:        c.Analysis.MaxDepth,
		IncludeTests:    c.Analysis.IncludeTests,
		Framework:       c.Analysis.Framework,
		ExcludePatterns: c.Analysis.ExcludePatterns,
		SourceDirs:      c.Analysis.SourceDirs,
		Workers:         c.Analysis.Workers,
		NamingRules:     c.NamingRules,
	}
}

// FixerConfig returns the fixer settings.
func (c *Config) FixerConfig() (fixer.Config, error) {
	out := fixer.Config{
		Apply:    c.Fixer.Apply,
		Backup:   c.Fixer.Backup,
		MaxFixes: c.Fixer.MaxFixes,
	}
	if c.Fixer.MinSeverity != "" {
		sev, err := detector.ParseSeverity(c.Fixer.MinSeverity)
		if err != nil {
			return out, err
		}
		out.MinSeverity = sev
	}
	return out, nil
}

// CachePath resolves the cache directory against root. It returns "" when
// caching is disabled.
func (c *Config) CachePath(root string) string {
	dir := c.Analysis.CacheDir
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(root, dir)
}
