// Package watch re-runs a callback when Rust sources or the crate
// manifest change under a project root.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"

	"github.com/nwiizo/instrument-rs-sub000/internal/log"
	"github.com/nwiizo/instrument-rs-sub000/internal/scanner"
	"github.com/nwiizo/instrument-rs-sub000/pkg/dirty"
	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

// DefaultDebounce is the quiet period after the last event before the
// callback fires.
const DefaultDebounce = 300 * time.Millisecond

// Watcher watches a directory tree. Directories created after New are
// picked up as they appear. Saves that leave a file's content unchanged
// are not reported.
type Watcher struct {
	root     string
	fs       *fsnotify.Watcher
	debounce time.Duration
	excludes []glob.Glob
	logger   log.Logger
	contents *dirty.Tracker
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithExcludes sets the directory-name globs that are not watched.
// Defaults to scanner.DefaultExcludes.
func WithExcludes(patterns []string) Option {
	return func(w *Watcher) {
		if g, err := scanner.CompileExcludes(patterns); err == nil {
			w.excludes = g
		}
	}
}

// WithLogger sets the logger for watch errors.
func WithLogger(l log.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New starts watching root and every non-excluded directory below it.
// Close the watcher, or let Run return, to release it.
func New(root string, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, types.NewIoError("abs", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, types.NewIoError("stat", root, err)
	}
	if !info.IsDir() {
		abs = filepath.Dir(abs)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, types.NewIoError("watch", root, err)
	}
	w := &Watcher{
		root:     abs,
		fs:       fw,
		debounce: DefaultDebounce,
		logger:   log.Default(),
		contents: dirty.New(),
	}
	w.excludes, _ = scanner.CompileExcludes(scanner.DefaultExcludes)
	for _, opt := range opts {
		opt(w)
	}

	if err := w.addTree(abs, true); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

// Dirs lists the watched directories.
func (w *Watcher) Dirs() []string {
	dirs := w.fs.WatchList()
	sort.Strings(dirs)
	return dirs
}

func (w *Watcher) skipDir(path string) bool {
	if path == w.root {
		return false
	}
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return true
	}
	for _, g := range w.excludes {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// addTree watches dir and its subdirectories. With seed, the relevant
// files found are recorded as the baseline content.
func (w *Watcher) addTree(dir string, seed bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return types.NewIoError("walk", path, err)
			}
			return nil
		}
		if !d.IsDir() {
			if seed && relevant(path) {
				if err := w.contents.Seed(path); err != nil {
					w.logger.Debug("could not hash file", "path", path, "error", err)
				}
			}
			return nil
		}
		if w.skipDir(path) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			return types.NewIoError("watch", path, err)
		}
		return nil
	})
}

// relevant reports whether a change to path can alter the analysis.
func relevant(path string) bool {
	return filepath.Ext(path) == ".rs" || filepath.Base(path) == "Cargo.toml"
}

// relative turns absolute paths into sorted root-relative slash paths.
func (w *Watcher) relative(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		rel, err := filepath.Rel(w.root, p)
		if err != nil {
			rel = p
		}
		out = append(out, filepath.ToSlash(rel))
	}
	sort.Strings(out)
	return out
}

// Run calls onChange with the sorted root-relative paths that changed,
// once per burst of events. It returns nil when ctx is cancelled and
// closes the watcher on return. onChange runs on the watch goroutine, so
// events arriving while it runs are batched into the next call.
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context, changed []string)) error {
	defer w.fs.Close()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	pending := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !w.skipDir(ev.Name) {
					if err := w.addTree(ev.Name, false); err != nil {
						w.logger.Warn("could not watch new directory", "path", ev.Name, "error", err)
					}
				}
			}
			if !relevant(ev.Name) || ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			pending[ev.Name] = true
			timer.Reset(w.debounce)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			pending = make(map[string]bool)
			changed := w.relative(w.contents.Filter(paths))
			if len(changed) == 0 {
				continue
			}
			onChange(ctx, changed)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}
