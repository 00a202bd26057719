// Package scanner enumerates the Rust source files of a project. It
// honours the configured source directories, directory-name exclude globs
// and gitignore-style ignore files.
package scanner

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

// FileInfo represents information about a discovered file.
type FileInfo struct {
	Path     string // Relative path from root, slash separated
	FullPath string // Absolute path
	Size     int64  // File size in bytes
}

// Options configures the scanner behavior.
type Options struct {
	SourceDirs      []string // Directories under root to scan; empty scans root
	ExcludePatterns []string // Globs matched against directory names and relative paths
	IgnoreFiles     []string // Gitignore-style files read from every directory
	SkipHidden      bool     // Skip hidden files and directories (starting with .)
	Extension       string   // Source file extension
}

// DefaultExcludes are the directories never scanned by default.
var DefaultExcludes = []string{"target", "node_modules", ".git"}

// DefaultOptions returns scanner options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		ExcludePatterns: append([]string(nil), DefaultExcludes...),
		IgnoreFiles:     []string{".gitignore", ".instrumentignore"},
		SkipHidden:      true,
		Extension:       ".rs",
	}
}

// CompileExcludes compiles exclude globs with '/' as separator. An
// invalid pattern is a configuration error.
func CompileExcludes(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("%w: exclude pattern %q: %v", types.ErrConfig, p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// Scanner provides file tree scanning capabilities.
type Scanner struct {
	opts     Options
	excludes []glob.Glob
}

// New creates a Scanner, compiling its exclude patterns.
func New(opts Options) (*Scanner, error) {
	if opts.Extension == "" {
		opts.Extension = ".rs"
	}
	excludes, err := CompileExcludes(opts.ExcludePatterns)
	if err != nil {
		return nil, err
	}
	return &Scanner{opts: opts, excludes: excludes}, nil
}

// ignoreFile is a compiled ignore file and the directory it applies to,
// relative to the scan root.
type ignoreFile struct {
	dir string
	gi  *ignore.GitIgnore
}

// Scan returns the source files under root sorted by path. When root is
// itself a source file, it is the only result. Source directories that do
// not exist are skipped.
func (s *Scanner) Scan(root string) ([]FileInfo, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, types.NewIoError("stat", root, err)
	}
	if !info.IsDir() {
		if filepath.Ext(absRoot) != s.opts.Extension {
			return nil, nil
		}
		return []FileInfo{{Path: filepath.Base(absRoot), FullPath: absRoot, Size: info.Size()}}, nil
	}

	dirs := s.opts.SourceDirs
	if len(dirs) == 0 {
		dirs = []string{"."}
	}

	seen := make(map[string]bool)
	var files []FileInfo
	for _, dir := range dirs {
		start := filepath.Join(absRoot, dir)
		if _, err := os.Stat(start); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		found, err := s.walk(absRoot, start)
		if err != nil {
			return nil, err
		}
		for _, f := range found {
			if !seen[f.Path] {
				seen[f.Path] = true
				files = append(files, f)
			}
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func (s *Scanner) walk(absRoot, start string) ([]FileInfo, error) {
	ignores := s.loadIgnores(absRoot, absRoot)
	var files []FileInfo

	err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped.
			return nil
		}
		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path == start {
				if path != absRoot {
					ignores = append(ignores, s.loadIgnores(absRoot, path)...)
				}
				return nil
			}
			if s.opts.SkipHidden && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if s.excluded(d.Name(), rel) || ignored(ignores, rel+"/") {
				return filepath.SkipDir
			}
			ignores = append(ignores, s.loadIgnores(absRoot, path)...)
			return nil
		}

		if s.opts.SkipHidden && strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 || filepath.Ext(path) != s.opts.Extension {
			return nil
		}
		if s.excluded(d.Name(), rel) || ignored(ignores, rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, FileInfo{Path: rel, FullPath: path, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}
	return files, nil
}

func (s *Scanner) excluded(name, rel string) bool {
	for _, g := range s.excludes {
		if g.Match(name) || g.Match(rel) {
			return true
		}
	}
	return false
}

// loadIgnores compiles the ignore files present in dir.
func (s *Scanner) loadIgnores(absRoot, dir string) []ignoreFile {
	rel, err := filepath.Rel(absRoot, dir)
	if err != nil {
		return nil
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		rel = ""
	}

	var out []ignoreFile
	for _, name := range s.opts.IgnoreFiles {
		gi, err := ignore.CompileIgnoreFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		out = append(out, ignoreFile{dir: rel, gi: gi})
	}
	return out
}

// ignored matches rel against every ignore file whose directory contains
// it, using the path relative to that directory.
func ignored(ignores []ignoreFile, rel string) bool {
	for _, f := range ignores {
		p := rel
		if f.dir != "" {
			if !strings.HasPrefix(rel, f.dir+"/") {
				continue
			}
			p = strings.TrimPrefix(rel, f.dir+"/")
		}
		if f.gi.MatchesPath(p) {
			return true
		}
	}
	return false
}

// Scan is a convenience function that scans a directory with default options.
func Scan(root string) ([]FileInfo, error) {
	s, err := New(DefaultOptions())
	if err != nil {
		return nil, err
	}
	return s.Scan(root)
}
