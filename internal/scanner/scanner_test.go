package scanner

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		fullPath := filepath.Join(root, path)
		if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			t.Fatalf("Failed to create directory: %v", err)
		}
		if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to create file: %v", err)
		}
	}
}

func paths(files []FileInfo) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Path)
	}
	return out
}

func equalPaths(t *testing.T, got []FileInfo, want []string) {
	t.Helper()
	gotPaths := paths(got)
	if len(gotPaths) != len(want) {
		t.Fatalf("got %v, want %v", gotPaths, want)
	}
	for i := range want {
		if gotPaths[i] != want[i] {
			t.Errorf("file %d: got %s, want %s", i, gotPaths[i], want[i])
		}
	}
}

func TestScannerScan(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{
		"src/main.rs":               "fn main() {}",
		"src/api/users.rs":          "pub fn list() {}",
		"src/README.md":             "# Test",
		"tests/it.rs":               "#[test] fn it() {}",
		".hidden/file.rs":           "fn hidden() {}",
		"target/debug/build/out.rs": "fn generated() {}",
		"node_modules/pkg/x.rs":     "fn x() {}",
		".git/config":               "[core]",
	})

	s, err := New(DefaultOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	results, err := s.Scan(tmpDir)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	equalPaths(t, results, []string{"src/api/users.rs", "src/main.rs", "tests/it.rs"})
	for _, f := range results {
		if !filepath.IsAbs(f.FullPath) {
			t.Errorf("FullPath %s is not absolute", f.FullPath)
		}
		if f.Size == 0 {
			t.Errorf("Size of %s is zero", f.Path)
		}
	}
}

func TestScannerSourceDirs(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{
		"src/lib.rs":  "pub fn a() {}",
		"lib/util.rs": "pub fn b() {}",
		"tests/it.rs": "fn c() {}",
	})

	opts := DefaultOptions()
	opts.SourceDirs = []string{"src", "lib", "missing", "src"}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	results, err := s.Scan(tmpDir)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	equalPaths(t, results, []string{"lib/util.rs", "src/lib.rs"})
}

func TestScannerIgnoreFiles(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{
		".gitignore":              "generated/\n*_pb.rs\n",
		"src/lib.rs":              "pub fn a() {}",
		"src/api_pb.rs":           "pub fn b() {}",
		"src/generated/schema.rs": "pub fn c() {}",
	})
	writeTree(t, filepath.Join(tmpDir, "src", "legacy"), map[string]string{
		".instrumentignore": "old.rs\n",
		"old.rs":            "fn old() {}",
		"new.rs":            "fn new() {}",
	})

	s, err := New(DefaultOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	results, err := s.Scan(tmpDir)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	equalPaths(t, results, []string{"src/legacy/new.rs", "src/lib.rs"})
}

func TestScannerExcludeGlobs(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{
		"src/lib.rs":         "pub fn a() {}",
		"src/bench_utils.rs": "pub fn b() {}",
		"benches/load.rs":    "fn c() {}",
		"examples/demo.rs":   "fn d() {}",
	})

	opts := DefaultOptions()
	opts.ExcludePatterns = []string{"bench*", "examples/**"}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	results, err := s.Scan(tmpDir)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	equalPaths(t, results, []string{"src/lib.rs"})
}

func TestScannerSingleFile(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{"main.rs": "fn main() {}", "notes.txt": "x"})

	results, err := Scan(filepath.Join(tmpDir, "main.rs"))
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	equalPaths(t, results, []string{"main.rs"})

	results, err = Scan(filepath.Join(tmpDir, "notes.txt"))
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no files, got %v", paths(results))
	}
}

func TestScannerMissingRoot(t *testing.T) {
	_, err := Scan(filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, types.ErrIo) {
		t.Errorf("expected ErrIo, got %v", err)
	}
}

func TestCompileExcludes(t *testing.T) {
	if _, err := CompileExcludes([]string{"target", "**/*.rs.bk"}); err != nil {
		t.Errorf("valid patterns rejected: %v", err)
	}
	_, err := CompileExcludes([]string{"[unclosed"})
	if !errors.Is(err, types.ErrConfig) {
		t.Errorf("expected ErrConfig, got %v", err)
	}
}
