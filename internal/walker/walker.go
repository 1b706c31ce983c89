// Package walker implements recursive directory traversal for both initial
// input discovery (a directory root given on --input) and TaskRunner's
// dir-output draining (spec §4.2, §4.6 step 8). It is adapted from the
// teacher's indexing.FileScanner.ScanDirectory: a single filepath.Walk pass
// with symlink-cycle detection via a visited-real-path set.
package walker

import (
	"fmt"
	"os"
	"path/filepath"
)

// PathPair is one discovered regular file: its absolute location on disk
// and its logical item path (prefix-joined, directory components
// preserved) for attaching to output records.
type PathPair struct {
	AbsPath  string
	ItemPath string
}

// VisitFunc is called once per regular file discovered.
type VisitFunc func(PathPair) error

// Walk recursively visits every regular file under root, calling visit for
// each with an ItemPath built by joining itemPrefix with the file's path
// relative to root. Traversal order is unspecified. An error from walking
// an individual entry, or from visit itself, aborts the walk and is
// returned (spec §4.2: "failures on individual entries abort the walk and
// propagate").
func Walk(root, itemPrefix string, visit VisitFunc) error {
	visitedDirs := make(map[string]bool)

	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", path, err)
		}

		if info.IsDir() {
			realPath, err := filepath.EvalSymlinks(path)
			if err != nil {
				// An unresolvable symlinked directory can't be walked
				// further; skip it rather than abort the whole traversal.
				return filepath.SkipDir
			}
			if visitedDirs[realPath] {
				return filepath.SkipDir // prevent symlink cycles
			}
			visitedDirs[realPath] = true
			return nil
		}

		if info.Mode()&os.ModeSymlink != 0 {
			// A symlinked file: resolve and re-stat so we only ever visit
			// regular files.
			realPath, err := filepath.EvalSymlinks(path)
			if err != nil {
				return nil
			}
			fi, err := os.Stat(realPath)
			if err != nil || !fi.Mode().IsRegular() {
				return nil
			}
		} else if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = filepath.Base(path)
		}

		itemPath := filepath.ToSlash(filepath.Join(itemPrefix, rel))
		return visit(PathPair{AbsPath: path, ItemPath: itemPath})
	})
}

// Collect is Walk collecting every PathPair into a slice, for callers that
// don't need streaming delivery (small dir-output drains).
func Collect(root, itemPrefix string) ([]PathPair, error) {
	var out []PathPair
	err := Walk(root, itemPrefix, func(p PathPair) error {
		out = append(out, p)
		return nil
	})
	return out, err
}

// RemoveIfEmpty removes dir only if it contains no entries, the "empty
// rmdir after full drain" behavior spec.md's Open Questions settles on for
// non-unpacker dir-output cleanup.
func RemoveIfEmpty(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if len(entries) != 0 {
		return nil
	}
	return os.Remove(dir)
}
