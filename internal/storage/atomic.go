// Package storage implements the proxy's content-addressed, append-style
// persistence: embedding vectors, tool metadata, and content hashes under a
// data directory, written with atomic rename + N-backup rotation so that a
// reader always observes either the old or the new file, never a torn write.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWriteFile writes data to path by writing to a temp file in the same
// directory and renaming it into place, first rotating up to backups copies
// of any existing file at path. A failed write (at any step up to the final
// rename) leaves the previous file at path intact.
func AtomicWriteFile(path string, data []byte, backups int) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	if backups > 0 {
		if err := rotateBackups(path, backups); err != nil {
			return fmt.Errorf("rotating backups for %s: %w", path, err)
		}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", tmpPath, path, err)
	}

	return nil
}

// rotateBackups shifts path.backup.N -> path.backup.N+1 up to the configured
// count, dropping the oldest, then copies the current file (if any) to
// path.backup.1.
func rotateBackups(path string, backups int) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return err
	}

	os.Remove(fmt.Sprintf("%s.backup.%d", path, backups)) //nolint:errcheck
	for i := backups - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.backup.%d", path, i)
		dst := fmt.Sprintf("%s.backup.%d", path, i+1)
		if _, err := os.Stat(src); err == nil {
			if err := os.Rename(src, dst); err != nil {
				return err
			}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return os.WriteFile(fmt.Sprintf("%s.backup.%d", path, 1), data, 0o644)
}

// ReadFileWithFallback reads path, falling back to the most recent backup
// rotation if the primary file is missing or corrupt (per §6: "loaders must
// tolerate backup rotations where exactly one of the three may be current").
func ReadFileWithFallback(path string, backups int, validate func([]byte) error) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil {
		if validate == nil || validate(data) == nil {
			return data, nil
		}
	}

	for i := 1; i <= backups; i++ {
		backupPath := fmt.Sprintf("%s.backup.%d", path, i)
		data, err := os.ReadFile(backupPath)
		if err != nil {
			continue
		}
		if validate == nil || validate(data) == nil {
			return data, nil
		}
	}

	return nil, fmt.Errorf("no valid file or backup found for %s", path)
}
