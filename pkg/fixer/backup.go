package fixer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

// BackupPath returns the sibling backup path for path: src/lib.rs
// becomes src/lib.rs.bak.
func BackupPath(path string) string {
	return path + ".bak"
}

// createBackup writes the original content next to path. An existing
// backup is overwritten.
func createBackup(path string, original []byte) (string, error) {
	backup := BackupPath(path)
	if err := os.WriteFile(backup, original, fileMode(path)); err != nil {
		return "", types.NewIoError("write", backup, err)
	}
	return backup, nil
}

// RestoreBackup copies a backup over the original and removes it.
func RestoreBackup(path string) error {
	backup := BackupPath(path)
	content, err := os.ReadFile(backup)
	if err != nil {
		return types.NewIoError("read", backup, err)
	}
	if err := writeAtomic(path, content); err != nil {
		return err
	}
	if err := os.Remove(backup); err != nil {
		return types.NewIoError("remove", backup, err)
	}
	return nil
}

// writeAtomic writes content to a temp file in the same directory and
// renames it over path.
func writeAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return types.NewIoError("create temp", dir, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return types.NewIoError("write", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return types.NewIoError("close", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, fileMode(path)); err != nil {
		os.Remove(tmpPath)
		return types.NewIoError("chmod", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", types.NewIoError("rename", path, err))
	}
	return nil
}

func fileMode(path string) os.FileMode {
	if info, err := os.Stat(path); err == nil {
		return info.Mode().Perm()
	}
	return 0o644
}
