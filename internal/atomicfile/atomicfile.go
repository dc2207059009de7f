// Package atomicfile writes files so readers observe either the previous
// contents or the new contents, never a partial write.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TempPrefix marks in-flight writes. Leftovers can be removed with RemoveTemps.
const TempPrefix = ".tmp-"

// Write writes data to a temp file in the target directory, syncs it and
// renames it over path.
func Write(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, TempPrefix+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err = os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	syncDir(dir)
	return nil
}

// IsTemp reports whether a file name belongs to an unfinished write.
func IsTemp(name string) bool {
	return strings.HasPrefix(name, TempPrefix)
}

// RemoveTemps deletes leftover temp files directly inside dir and returns
// how many were removed.
func RemoveTemps(dir string) int {
	des, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, de := range des {
		if !de.IsDir() && IsTemp(de.Name()) {
			if os.Remove(filepath.Join(dir, de.Name())) == nil {
				n++
			}
		}
	}
	return n
}

// syncDir flushes a directory entry so a rename survives power loss.
// Best effort: some platforms cannot fsync directories.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
