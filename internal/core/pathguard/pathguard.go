package pathguard

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	ErrPathEscape  = errors.New("path_escape")
	ErrInvalidRoot = errors.New("invalid_project_path")
)

// Resolve joins rel onto root and refuses anything that leaves the root.
// Leading slashes are stripped, so "/src/a.go" is root-relative.
func Resolve(root string, rel string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" || !filepath.IsAbs(root) {
		return "", ErrInvalidRoot
	}
	root = filepath.Clean(root)

	rel = strings.TrimLeft(rel, `/\`)
	abs := filepath.Join(root, filepath.FromSlash(rel))

	back, err := filepath.Rel(root, abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, rel)
	}
	if escapes(back) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, rel)
	}
	return abs, nil
}

// Rel maps an absolute path back to a slash-separated project path. The root
// itself maps to "".
func Rel(root string, abs string) (string, bool) {
	if strings.TrimSpace(abs) == "" || strings.TrimSpace(root) == "" {
		return "", false
	}
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(abs))
	if err != nil || escapes(rel) {
		return "", false
	}
	if rel == "." {
		return "", true
	}
	return filepath.ToSlash(rel), true
}

func escapes(rel string) bool {
	if rel == ".." || filepath.IsAbs(rel) {
		return true
	}
	return strings.HasPrefix(filepath.ToSlash(rel), "../")
}

// IsRoot reports whether abs names the root directory itself.
func IsRoot(root string, abs string) bool {
	return filepath.Clean(root) == filepath.Clean(abs)
}
