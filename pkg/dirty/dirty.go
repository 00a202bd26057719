// Package dirty tracks file contents by hash so that a rebuild only
// happens when a file really changed, not on every save or touch.
package dirty

import (
	"errors"
	"io/fs"
	"os"
	"sort"
	"sync"

	"github.com/nwiizo/instrument-rs-sub000/pkg/ast"
	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

// Tracker remembers the last seen content hash of each file.
type Tracker struct {
	mu     sync.Mutex
	hashes map[string]string
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{hashes: make(map[string]string)}
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return ast.HashContent(data), nil
}

// Seed records the current content of path without reporting it. A
// missing file is ignored.
func (t *Tracker) Seed(path string) error {
	h, err := hashFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return types.NewIoError("read", path, err)
	}
	t.mu.Lock()
	t.hashes[path] = h
	t.mu.Unlock()
	return nil
}

// CheckAndMark reports whether path differs from what was last recorded
// and records its current content. A file seen for the first time counts
// as changed; so does removing a tracked file.
func (t *Tracker) CheckAndMark(path string) (bool, error) {
	h, err := hashFile(path)
	t.mu.Lock()
	defer t.mu.Unlock()

	old, tracked := t.hashes[path]
	if errors.Is(err, fs.ErrNotExist) {
		delete(t.hashes, path)
		return tracked, nil
	}
	if err != nil {
		return false, types.NewIoError("read", path, err)
	}
	t.hashes[path] = h
	return !tracked || old != h, nil
}

// Filter returns the subset of paths whose content changed, in sorted
// order. Paths that cannot be read are kept so the caller still sees them.
func (t *Tracker) Filter(paths []string) []string {
	var out []string
	for _, p := range paths {
		changed, err := t.CheckAndMark(p)
		if changed || err != nil {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of tracked files.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.hashes)
}

// Remove stops tracking path.
func (t *Tracker) Remove(path string) {
	t.mu.Lock()
	delete(t.hashes, path)
	t.mu.Unlock()
}
