// Package healthcheck inspects a project before analysis: its config,
// manifest, sources and walk cache.
package healthcheck

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nwiizo/instrument-rs-sub000/internal/config"
	"github.com/nwiizo/instrument-rs-sub000/internal/scanner"
	"github.com/nwiizo/instrument-rs-sub000/pkg/cache"
	"github.com/nwiizo/instrument-rs-sub000/pkg/deps"
	"github.com/nwiizo/instrument-rs-sub000/pkg/framework"
)

// Status is the outcome of a single check.
type Status string

const (
	StatusOK    Status = "ok"
	StatusWarn  Status = "warn"
	StatusError Status = "error"
)

// Check is one line of the health report.
type Check struct {
	Name   string
	Status Status
	Detail string
}

// Result contains the full health check output for display.
type Result struct {
	ConfigPath  string
	ConfigScope string // "project", "global", "explicit" or "defaults"
	Checks      []Check
}

// OK reports whether no check failed. Warnings do not count.
func (r *Result) OK() bool {
	for _, c := range r.Checks {
		if c.Status == StatusError {
			return false
		}
	}
	return true
}

func (r *Result) add(name string, status Status, format string, args ...any) {
	r.Checks = append(r.Checks, Check{Name: name, Status: status, Detail: fmt.Sprintf(format, args...)})
}

// Run checks the project at root. configPath, when set, is the file given
// with --config; otherwise the file Load would pick is reported.
func Run(root, configPath string) (*Result, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat project: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	result := &Result{ConfigPath: configPath, ConfigScope: "explicit"}
	if configPath == "" {
		result.ConfigPath, result.ConfigScope = config.Locate(root)
		if result.ConfigPath == "" {
			result.ConfigScope = "defaults"
		}
	}

	cfg := checkConfig(result, root, configPath)
	project := checkManifest(result, root)
	checkFramework(result, cfg, project)
	checkSources(result, root, cfg)
	checkCache(result, root, cfg)
	return result, nil
}

func checkConfig(r *Result, root, configPath string) *config.Config {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load(root)
	}
	if err != nil {
		r.add("config", StatusError, "%v", err)
		return config.DefaultConfig()
	}
	r.add("config", StatusOK, "framework %s, threshold %g, max depth %d",
		cfg.Analysis.Framework, cfg.Analysis.Threshold, cfg.Analysis.MaxDepth)
	return cfg
}

func checkManifest(r *Result, root string) *deps.ProjectContext {
	if _, err := os.Stat(filepath.Join(root, deps.ManifestName)); err != nil {
		r.add("manifest", StatusWarn, "no %s; dependency-based classification is off", deps.ManifestName)
		return nil
	}
	project, err := deps.Analyze(root)
	if err != nil {
		r.add("manifest", StatusError, "%v", err)
		return nil
	}
	r.add("manifest", StatusOK, "%s", strings.Join(project.Summary(), "; "))

	if project.HasTracing() {
		r.add("tracing", StatusOK, "tracing crate present")
	} else {
		r.add("tracing", StatusWarn, "tracing is not a dependency; inserted #[instrument] attributes will not compile")
	}
	return project
}

func checkFramework(r *Result, cfg *config.Config, project *deps.ProjectContext) {
	name := cfg.Analysis.Framework
	if name != framework.Auto {
		if _, ok := framework.Default().Get(name); !ok {
			r.add("framework", StatusError, "unknown framework %q", name)
			return
		}
		r.add("framework", StatusOK, "%s (configured)", name)
		return
	}
	found := project.Crates(deps.KindFramework)
	if len(found) == 0 {
		r.add("framework", StatusWarn, "none detected from the manifest; sources will be checked during analysis")
		return
	}
	r.add("framework", StatusOK, "%s (from manifest)", strings.Join(found, ", "))
}

func checkSources(r *Result, root string, cfg *config.Config) {
	opts := scanner.DefaultOptions()
	opts.SourceDirs = cfg.Analysis.SourceDirs
	opts.ExcludePatterns = cfg.Analysis.ExcludePatterns
	sc, err := scanner.New(opts)
	if err != nil {
		r.add("sources", StatusError, "%v", err)
		return
	}
	files, err := sc.Scan(root)
	if err != nil {
		r.add("sources", StatusError, "%v", err)
		return
	}
	if len(files) == 0 {
		r.add("sources", StatusError, "no Rust source files found")
		return
	}
	r.add("sources", StatusOK, "%d Rust file(s)", len(files))
}

func checkCache(r *Result, root string, cfg *config.Config) {
	dir := cfg.CachePath(root)
	if dir == "" {
		r.add("cache", StatusOK, "disabled")
		return
	}
	wc, err := cache.Open(dir, cache.DefaultSize)
	if err != nil {
		r.add("cache", StatusWarn, "unreadable, it will be rebuilt: %v", err)
		return
	}
	if wc.Len() == 0 {
		r.add("cache", StatusOK, "empty (%s)", dir)
		return
	}
	r.add("cache", StatusOK, "%d file(s) cached in %s", wc.Len(), dir)
}
