// Package storage writes report and vector files so that readers never see
// a partially written file.
package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileMode is the permission of files written by WriteAtomic.
const FileMode = 0o640

// WriteAtomic writes the output of fn to path through a temporary file in the
// same directory, then renames it into place. Parent directories are created.
// On any error the target is left untouched.
func WriteAtomic(path string, fn func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	tempPath := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), randomHex(8)))
	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, FileMode)
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}

	err = fn(f)
	if syncErr := f.Sync(); err == nil && syncErr != nil {
		err = fmt.Errorf("syncing temporary file: %w", syncErr)
	}
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("closing temporary file: %w", closeErr)
	}
	if err != nil {
		os.Remove(tempPath)
		return err
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("renaming to target: %w", err)
	}
	return nil
}

// WriteFileAtomic is WriteAtomic for an in-memory payload.
func WriteFileAtomic(path string, data []byte) error {
	return WriteAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", os.Getpid())
	}
	return hex.EncodeToString(b)
}
