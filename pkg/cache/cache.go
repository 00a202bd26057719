// Package cache keeps per-file walker output keyed by content hash, so an
// unchanged file is not walked again. Entries live in an LRU and can be
// persisted to disk with msgpack.
package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

// FileName is the cache file written inside the cache directory.
const FileName = "walk.cache"

// DefaultSize is the number of files kept in memory.
const DefaultSize = 4096

// formatVersion changes whenever the walker output changes shape. Files
// written with another version are ignored.
const formatVersion = 1

// Stats reports cache usage for one run.
type Stats struct {
	Length int   `json:"length"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// HitRate returns hits over lookups, or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// snapshot is the on-disk form. Entries run from least to most recently
// used so that loading restores recency.
type snapshot struct {
	Version int                   `msgpack:"version"`
	Entries []*types.FileAnalysis `msgpack:"entries"`
}

// WalkCache maps (path, content hash) to the walker output for that file.
// Cached values are shared; callers must not modify them.
type WalkCache struct {
	entries *lru.Cache[string, *types.FileAnalysis]
	path    string
	hits    atomic.Int64
	misses  atomic.Int64
	dirty   atomic.Bool
}

// New creates an in-memory cache holding up to size files.
func New(size int) (*WalkCache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	entries, err := lru.New[string, *types.FileAnalysis](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	return &WalkCache{entries: entries}, nil
}

// Open creates a cache backed by dir/walk.cache and loads it. A missing
// file is not an error.
func Open(dir string, size int) (*WalkCache, error) {
	c, err := New(size)
	if err != nil {
		return nil, err
	}
	c.path = filepath.Join(dir, FileName)
	if err := c.LoadFile(c.path); err != nil {
		return nil, err
	}
	return c, nil
}

// Key combines path and content hash. The path is part of the key
// because module paths are derived from it.
func Key(path, hash string) string {
	return hash + ":" + filepath.ToSlash(path)
}

// Get returns the walker output for path when its content hash matches.
func (c *WalkCache) Get(path, hash string) (*types.FileAnalysis, bool) {
	fa, ok := c.entries.Get(Key(path, hash))
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return fa, true
}

// Put stores fa under its own path and hash.
func (c *WalkCache) Put(fa *types.FileAnalysis) {
	if fa == nil || fa.Hash == "" {
		return
	}
	c.entries.Add(Key(fa.Path, fa.Hash), fa)
	c.dirty.Store(true)
}

// Len returns the number of cached files.
func (c *WalkCache) Len() int {
	return c.entries.Len()
}

// Stats returns usage counters.
func (c *WalkCache) Stats() Stats {
	return Stats{
		Length: c.entries.Len(),
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
}

// Save writes the cache to w with msgpack.
func (c *WalkCache) Save(w io.Writer) error {
	snap := snapshot{Version: formatVersion}
	for _, key := range c.entries.Keys() {
		if fa, ok := c.entries.Peek(key); ok {
			snap.Entries = append(snap.Entries, fa)
		}
	}
	if err := msgpack.NewEncoder(w).Encode(&snap); err != nil {
		return fmt.Errorf("failed to encode cache: %w", err)
	}
	return nil
}

// Load replaces the cache contents with entries read from r. Data written
// by another format version is dropped without error.
func (c *WalkCache) Load(r io.Reader) error {
	var snap snapshot
	if err := msgpack.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode cache: %w", err)
	}
	c.entries.Purge()
	if snap.Version != formatVersion {
		return nil
	}
	for _, fa := range snap.Entries {
		if fa != nil && fa.Hash != "" {
			c.entries.Add(Key(fa.Path, fa.Hash), fa)
		}
	}
	c.dirty.Store(false)
	return nil
}

// LoadFile loads the cache from path. A missing file is not an error.
func (c *WalkCache) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return types.NewIoError("open", path, err)
	}
	defer f.Close()
	return c.Load(f)
}

// Flush persists the cache to the file it was opened from, if anything
// changed since. In-memory caches are not flushed.
func (c *WalkCache) Flush() error {
	if c.path == "" || !c.dirty.Load() {
		return nil
	}
	if err := c.SaveFile(c.path); err != nil {
		return err
	}
	c.dirty.Store(false)
	return nil
}

// SaveFile writes the cache to path through a temp file and rename.
func (c *WalkCache) SaveFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.NewIoError("mkdir", dir, err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return types.NewIoError("create", tmpPath, err)
	}
	if err := c.Save(f); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return types.NewIoError("close", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return types.NewIoError("rename", path, err)
	}
	return nil
}
