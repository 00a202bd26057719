// Package fixer inserts suggested #[instrument] attributes into Rust
// source. Every mutation is re-parsed before it reaches disk, and a file
// that would no longer parse is left untouched.
package fixer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nwiizo/instrument-rs-sub000/internal/log"
	"github.com/nwiizo/instrument-rs-sub000/pkg/ast"
	"github.com/nwiizo/instrument-rs-sub000/pkg/detector"
)

// Skip reasons.
const (
	ReasonSeverity   = "Severity filter"
	ReasonMaxFixes   = "Max fixes limit reached"
	ReasonNoFunction = "No function definition at target line"
	ReasonNoFix      = "Suggested fix has no attribute"
)

// Config controls which gaps are fixed and whether files are written.
// MinSeverity "" accepts every gap; MaxFixes 0 means no limit.
type Config struct {
	Apply       bool              `json:"apply"`
	Backup      bool              `json:"backup"`
	MinSeverity detector.Severity `json:"min_severity,omitempty"`
	MaxFixes    int               `json:"max_fixes,omitempty"`
}

// Status is the outcome of one fix attempt.
type Status string

const (
	StatusApplied Status = "applied"
	StatusDryRun  Status = "dry_run"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Attempt records what happened to one gap. Reason holds the skip reason
// or the failure message. Line is the 1-based line the attribute was (or
// would be) inserted before in the original file.
type Attempt struct {
	Gap    detector.Gap `json:"gap"`
	Status Status       `json:"status"`
	Reason string       `json:"reason,omitempty"`
	Line   int          `json:"line,omitempty"`
	Diff   string       `json:"diff,omitempty"`
}

// FileResult groups the attempts for one source file. Patch is a unified
// diff of the whole file; it is empty when nothing was planned.
type FileResult struct {
	Path     string    `json:"path"`
	Attempts []Attempt `json:"attempts"`
	Backup   string    `json:"backup,omitempty"`
	Patch    string    `json:"patch,omitempty"`
}

// Result summarizes a fixer run. Applied counts dry-run attempts too.
type Result struct {
	Files     []FileResult `json:"files"`
	TotalGaps int          `json:"total_gaps"`
	Applied   int          `json:"applied"`
	Skipped   int          `json:"skipped"`
	Failed    int          `json:"failed"`
	DryRun    bool         `json:"dry_run"`
}

// Fixer applies gaps' suggested fixes to the files they name.
type Fixer struct {
	cfg    Config
	root   string
	logger log.Logger
}

// Option configures a Fixer.
type Option func(*Fixer)

// WithRoot resolves relative gap paths against root.
func WithRoot(root string) Option {
	return func(f *Fixer) {
		f.root = root
	}
}

// WithLogger sets the logger used for per-file progress.
func WithLogger(l log.Logger) Option {
	return func(f *Fixer) {
		f.logger = l
	}
}

// New creates a Fixer.
func New(cfg Config, opts ...Option) *Fixer {
	f := &Fixer{cfg: cfg, logger: log.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fix filters gaps by severity and count, then fixes each file in the
// order its first gap appears. Failures are recorded per attempt; Fix
// itself does not fail.
func (f *Fixer) Fix(gaps []detector.Gap) *Result {
	res := &Result{TotalGaps: len(gaps), DryRun: !f.cfg.Apply}

	byFile := make(map[string][]*Attempt)
	var order []string
	selected := 0
	for _, gap := range gaps {
		a := &Attempt{Gap: gap}
		switch {
		case f.cfg.MinSeverity != "" && gap.Severity.Rank() < f.cfg.MinSeverity.Rank():
			a.Status, a.Reason = StatusSkipped, ReasonSeverity
		case f.cfg.MaxFixes > 0 && selected >= f.cfg.MaxFixes:
			a.Status, a.Reason = StatusSkipped, ReasonMaxFixes
		default:
			selected++
		}
		file := gap.Location.File
		if _, ok := byFile[file]; !ok {
			order = append(order, file)
		}
		byFile[file] = append(byFile[file], a)
	}

	for _, file := range order {
		attempts := byFile[file]
		fr := f.fixFile(file, attempts)
		for _, a := range attempts {
			fr.Attempts = append(fr.Attempts, *a)
			switch a.Status {
			case StatusApplied, StatusDryRun:
				res.Applied++
			case StatusSkipped:
				res.Skipped++
			case StatusFailed:
				res.Failed++
			}
		}
		res.Files = append(res.Files, fr)
	}
	return res
}

func (f *Fixer) resolve(file string) string {
	if f.root == "" || filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(f.root, file)
}

// fixFile plans, applies and (when configured) writes the fixes for one
// file. Attempts that already carry a status are left alone.
func (f *Fixer) fixFile(file string, attempts []*Attempt) FileResult {
	fr := FileResult{Path: file}

	var pending []*Attempt
	for _, a := range attempts {
		if a.Status == "" {
			pending = append(pending, a)
		}
	}
	if len(pending) == 0 {
		return fr
	}

	path := f.resolve(file)
	content, err := os.ReadFile(path)
	if err != nil {
		failAll(pending, fmt.Sprintf("Failed to read file: %v", err))
		return fr
	}

	p := newPlanner(path, content)
	defer p.close()

	var inserts []insertion
	for _, a := range pending {
		ins, reason := p.plan(a.Gap)
		if reason != "" {
			a.Status, a.Reason = StatusSkipped, reason
			continue
		}
		a.Line = ins.line + 1
		a.Diff = lineDiff(p.lines, ins.line, ins.text)
		inserts = append(inserts, ins)
	}
	if len(inserts) == 0 {
		return fr
	}
	if use, ok := p.useDirective(); ok {
		inserts = append(inserts, use)
	}

	updated := apply(p.lines, inserts)
	fr.Patch, err = patch(file, p.lines, inserts)
	if err != nil {
		f.logger.Warn("building patch failed", "file", file, "error", err)
	}

	planned := pendingPlanned(pending)
	if !f.cfg.Apply {
		setStatus(planned, StatusDryRun)
		return fr
	}

	if err := ast.Validate(path, updated); err != nil {
		failAll(planned, fmt.Sprintf("Syntax validation failed: %v", err))
		f.logger.Warn("fix rejected", "file", file, "error", err)
		return fr
	}

	if f.cfg.Backup {
		backup, err := createBackup(path, content)
		if err != nil {
			failAll(planned, fmt.Sprintf("Failed to create backup: %v", err))
			return fr
		}
		fr.Backup = backup
	}

	if err := writeAtomic(path, updated); err != nil {
		failAll(planned, fmt.Sprintf("Failed to write file: %v", err))
		return fr
	}
	setStatus(planned, StatusApplied)
	f.logger.Debug("fixed file", "file", file, "insertions", len(planned))
	return fr
}

func pendingPlanned(attempts []*Attempt) []*Attempt {
	var out []*Attempt
	for _, a := range attempts {
		if a.Status == "" {
			out = append(out, a)
		}
	}
	return out
}

func setStatus(attempts []*Attempt, s Status) {
	for _, a := range attempts {
		a.Status = s
	}
}

func failAll(attempts []*Attempt, msg string) {
	for _, a := range attempts {
		a.Status, a.Reason = StatusFailed, msg
		a.Diff = ""
	}
}
