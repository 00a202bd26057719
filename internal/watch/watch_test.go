package watch

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nwiizo/instrument-rs-sub000/internal/log"
)

// recorder collects the batches passed to the change callback.
type recorder struct {
	mu      sync.Mutex
	batches [][]string
}

func (r *recorder) onChange(_ context.Context, changed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, changed)
}

func (r *recorder) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.batches...)
}

func mkdirs(t *testing.T, root string, dirs ...string) {
	t.Helper()
	for _, d := range dirs {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0o755))
	}
}

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, rel), []byte(content), 0o644))
}

func start(t *testing.T, w *Watcher) *recorder {
	t.Helper()
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, rec.onChange) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return rec
}

func TestNew_WatchesTree(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "src/api", "target/debug", ".git/objects", "tests")

	w, err := New(root, WithLogger(log.Discard()))
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, []string{
		root,
		filepath.Join(root, "src"),
		filepath.Join(root, "src", "api"),
		filepath.Join(root, "tests"),
	}, w.Dirs())
}

func TestNew_CustomExcludes(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "src", "benches", "target")

	w, err := New(root, WithExcludes([]string{"bench*"}), WithLogger(log.Discard()))
	require.NoError(t, err)
	defer w.Close()

	dirs := w.Dirs()
	assert.Contains(t, dirs, filepath.Join(root, "target"))
	assert.NotContains(t, dirs, filepath.Join(root, "benches"))
}

func TestNew_MissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestRun_DebouncesBursts(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "src")

	w, err := New(root, WithDebounce(100*time.Millisecond), WithLogger(log.Discard()))
	require.NoError(t, err)
	rec := start(t, w)

	write(t, root, "src/lib.rs", "fn a() {}\n")
	write(t, root, "src/lib.rs", "fn a() {}\nfn b() {}\n")
	write(t, root, "Cargo.toml", "[package]\nname = \"demo\"\n")
	write(t, root, "README.md", "# demo\n")

	require.Eventually(t, func() bool { return len(rec.snapshot()) > 0 }, 5*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)

	batches := rec.snapshot()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"Cargo.toml", "src/lib.rs"}, batches[0])
}

func TestRun_IgnoresUnchangedSaves(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "src")
	write(t, root, "src/main.rs", "fn main() {}\n")
	write(t, root, "src/db.rs", "pub fn q() {}\n")

	w, err := New(root, WithDebounce(50*time.Millisecond), WithLogger(log.Discard()))
	require.NoError(t, err)
	rec := start(t, w)

	write(t, root, "src/main.rs", "fn main() {}\n")
	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, rec.snapshot(), "rewriting identical content is not a change")

	write(t, root, "src/db.rs", "pub fn q2() {}\n")
	require.Eventually(t, func() bool { return len(rec.snapshot()) > 0 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"src/db.rs"}, rec.snapshot()[0])
}

func TestRun_PicksUpNewDirectories(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "src")

	w, err := New(root, WithDebounce(50*time.Millisecond), WithLogger(log.Discard()))
	require.NoError(t, err)
	rec := start(t, w)

	mkdirs(t, root, "src/handlers")
	newDir := filepath.Join(root, "src", "handlers")
	require.Eventually(t, func() bool {
		return slices.Contains(w.fs.WatchList(), newDir)
	}, 5*time.Second, 20*time.Millisecond)

	write(t, root, "src/handlers/users.rs", "pub fn list() {}\n")

	require.Eventually(t, func() bool {
		for _, b := range rec.snapshot() {
			if slices.Contains(b, "src/handlers/users.rs") {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRun_StopsOnCancel(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, WithLogger(log.Discard()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, func(context.Context, []string) {}) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRelevant(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"src/main.rs", true},
		{"Cargo.toml", true},
		{"crates/api/Cargo.toml", true},
		{"Cargo.lock", false},
		{"README.md", false},
		{"src/main.rs.bak", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, relevant(tt.path))
		})
	}
}
