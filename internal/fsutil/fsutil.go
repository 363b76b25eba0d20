// Package fsutil holds the atomic file write shared by the config file and
// the file-backed key/value store.
package fsutil

import (
	"os"
	"path/filepath"
)

// WriteFileAtomic replaces path with data. The bytes go to a temp file in
// the same directory, which is fsynced, chmodded to perm and renamed over
// path, so readers see either the old or the new content. pattern names the
// temp file (see os.CreateTemp). The parent directory must exist.
func WriteFileAtomic(path string, data []byte, perm os.FileMode, pattern string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), pattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Removing after a successful rename is a harmless ENOENT.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
