package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// validatePath checks a user-supplied data file path against the allowed
// directories, or against tempRoot when the file is a temporary upload. All
// checks run on the resolved path so neither ".." traversal nor symlinks
// can escape the allow-list. Symlinks are rejected outright.
func validatePath(path string, allowedDirs []string, tempRoot string, temporary bool) (string, error) {
	if path == "" {
		return "", fmt.Errorf("no file path given")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	info, err := os.Lstat(abs)
	if err != nil {
		return "", fmt.Errorf("data file not accessible: %w", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return "", fmt.Errorf("symbolic links are not allowed: %s", filepath.Base(abs))
	}
	if info.IsDir() {
		return "", fmt.Errorf("path is a directory, not a file: %s", filepath.Base(abs))
	}

	// Resolve the parent chain too; a symlinked ancestor is just as much of
	// an escape as a symlinked leaf.
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	roots := allowedDirs
	if temporary {
		roots = []string{tempRoot}
	}
	for _, root := range roots {
		rootResolved, err := filepath.EvalSymlinks(root)
		if err != nil {
			continue
		}
		if contains(rootResolved, resolved) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("file is outside the allowed directories: %s", filepath.Base(abs))
}

// contains reports whether path lies under root.
func contains(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
