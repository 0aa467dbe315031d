// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrAtomicWriteFailed is returned when the final rename into place fails.
var ErrAtomicWriteFailed = errors.New("atomic write failed")

// WriteFileAtomic replaces path with data so that readers observe either
// the old content or the new content, never a partial file.
//
// # Description
//
// Writes to a temp file in the same directory, fsyncs it, applies perm and
// renames it over path. On any failure the temp file is removed and the
// existing file is left untouched.
//
// # Inputs
//
//   - path: Destination file
//   - data: Full new content
//   - perm: Mode for the new file
//
// # Outputs
//
//   - error: Creation, write, sync or rename failure (nil on success)
//
// # Limitations
//
//   - The directory must already exist
//   - A symlinked path is replaced by a regular file
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: rename: %v", ErrAtomicWriteFailed, err)
	}

	committed = true
	return nil
}
