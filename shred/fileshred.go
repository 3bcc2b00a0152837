package shred

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// openFile is a seam so tests can inject per-file overwrite failures.
var openFile = func(name string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(name, flag, perm)
}

// shredFile overwrites a file with the configured number of passes in
// bounded chunks, syncs each pass, then deletes it. Returns the number
// of bytes overwritten. On any overwrite failure the caller must fall
// back to a plain delete so the file is never left with only
// partially-overwritten content.
func shredFile(path string, size int64, passes, chunkSize int) (int64, error) {
	f, err := openFile(path, os.O_WRONLY, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to open for overwrite: %w", err)
	}

	buf := make([]byte, chunkSize)
	var total int64

	for pass := 0; pass < passes; pass++ {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			return total, fmt.Errorf("seek failed on pass %d: %w", pass+1, err)
		}

		pattern := passPattern(pass, passes)
		remaining := size
		for remaining > 0 {
			n := int64(chunkSize)
			if remaining < n {
				n = remaining
			}
			fillPattern(buf[:n], pattern, size-remaining)
			if _, err := f.Write(buf[:n]); err != nil {
				f.Close()
				return total, fmt.Errorf("write failed on pass %d: %w", pass+1, err)
			}
			remaining -= n
			total += n
		}

		if err := f.Sync(); err != nil {
			f.Close()
			return total, fmt.Errorf("sync failed on pass %d: %w", pass+1, err)
		}
	}

	if err := f.Close(); err != nil {
		return total, fmt.Errorf("close failed: %w", err)
	}

	if err := os.Remove(path); err != nil {
		return total, fmt.Errorf("delete failed: %w", err)
	}

	// Post-delete existence check. If the file somehow survived, one
	// more plain delete attempt before reporting failure.
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return total, fmt.Errorf("file survived delete: %w", err)
		}
	}

	return total, nil
}

// collectTargets walks root and returns all regular files plus every
// directory strictly under root, the latter for bottom-up removal
// after the files are gone. The root itself is preserved so the handle
// the caller was configured with stays valid and reusable. Unwalkable
// entries are skipped, not fatal.
func collectTargets(root string) (files []fileTarget, dirs []string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root {
				dirs = append(dirs, path)
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if !info.Mode().IsRegular() {
			// Symlinks and other special entries are deleted outright,
			// never followed or overwritten through.
			files = append(files, fileTarget{path: path, special: true})
			return nil
		}
		files = append(files, fileTarget{path: path, size: info.Size()})
		return nil
	})

	// Deepest directories first so each removal sees an empty dir.
	sort.Slice(dirs, func(i, j int) bool {
		return len(dirs[i]) > len(dirs[j])
	})
	return files, dirs
}

type fileTarget struct {
	path    string
	size    int64
	special bool
}
