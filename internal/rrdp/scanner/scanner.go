// Package scanner walks the source directory tree and produces the
// ordered set of repository objects the rest of the engine diffs and
// publishes.
package scanner

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gitlab.com/rpki/rrdpublish/internal/rrdp/hasher"
	"gitlab.com/rpki/rrdpublish/internal/rrdp/model"
)

// workerLimit bounds the number of files hashed concurrently. Hashing
// is I/O bound and embarrassingly parallel across files; the scanner
// still returns a deterministic URI-sorted slice regardless of the
// order workers finish in.
const workerLimit = 8

// Scan walks sourceDir recursively, skipping any entry whose name
// begins with "." at any path component, and returns the resulting
// repository objects sorted by URI. rsyncBase must already end in "/".
func Scan(sourceDir, rsyncBase string) ([]model.Object, error) {
	info, err := os.Stat(sourceDir)
	if err != nil {
		return nil, fmt.Errorf("source directory %s: %w", sourceDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source path %s is not a directory", sourceDir)
	}

	var paths []string
	err = filepath.WalkDir(sourceDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == sourceDir {
			return nil
		}
		if hasHiddenComponent(sourceDir, path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		// Symlinks to files are followed; os.Stat (not Lstat) resolves them.
		target, statErr := os.Stat(path)
		if statErr != nil {
			return fmt.Errorf("stat %s: %w", path, statErr)
		}
		if !target.Mode().IsRegular() {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan source directory %s: %w", sourceDir, err)
	}

	objects := make([]model.Object, len(paths))
	errs := make([]error, len(paths))

	sem := make(chan struct{}, workerLimit)
	var wg sync.WaitGroup
	for i, path := range paths {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, path string) {
			defer wg.Done()
			defer func() { <-sem }()
			obj, err := readObject(sourceDir, rsyncBase, path)
			if err != nil {
				errs[i] = err
				return
			}
			objects[i] = obj
		}(i, path)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].URI < objects[j].URI })
	return objects, nil
}

func readObject(sourceDir, rsyncBase, path string) (model.Object, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Object{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	bytes, err := io.ReadAll(f)
	if err != nil {
		return model.Object{}, fmt.Errorf("read %s: %w", path, err)
	}

	rel, err := filepath.Rel(sourceDir, path)
	if err != nil {
		return model.Object{}, fmt.Errorf("relativize %s: %w", path, err)
	}
	uri := rsyncBase + filepath.ToSlash(rel)

	return model.Object{
		URI:   uri,
		Bytes: bytes,
		Hash:  hasher.Sum(bytes),
	}, nil
}

// hasHiddenComponent reports whether any path component of path,
// relative to root, begins with ".".
func hasHiddenComponent(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
