package walk

import (
	"errors"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// SkippedDirs are never descended into, whatever the ignore rules say.
var SkippedDirs = []string{
	".git", ".hg", ".svn",
	"node_modules", "bower_components",
	".venv", "venv", "__pycache__",
	"dist", "build", "out", "target",
	".next", ".nuxt", ".cache", "coverage",
}

type Options struct {
	IncludeGlobs []string
	ExcludeGlobs []string
	// NoIgnore disables the ignore rules but keeps SkippedDirs.
	NoIgnore bool
	Rules    *RuleSet
}

type VisitFunc func(rel string, d fs.DirEntry) error

// Walk visits every file below root that passes the filter, in lexical
// order. Returning fs.SkipAll from fn stops the walk without error.
func Walk(root string, opts Options, fn VisitFunc) error {
	f := NewFilter(opts)

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if !f.ShouldInclude(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !f.ShouldInclude(rel, false) {
			return nil
		}
		return fn(rel, d)
	})
	if errors.Is(err, fs.SkipAll) {
		return nil
	}
	return err
}

func ListFiles(root string, opts Options) ([]string, error) {
	var files []string
	err := Walk(root, opts, func(rel string, _ fs.DirEntry) error {
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

func IsSkippedDir(name string) bool {
	for _, s := range SkippedDirs {
		if s == name {
			return true
		}
	}
	return false
}

func anyGlobMatch(patterns []string, rel string) bool {
	for _, pat := range patterns {
		if MatchGlob(pat, rel) {
			return true
		}
	}
	return false
}

// MatchGlob matches rel against a doublestar pattern. Patterns without a
// slash are matched against the base name only.
func MatchGlob(pattern string, rel string) bool {
	pat := strings.TrimSpace(pattern)
	if pat == "" {
		return false
	}
	pat = strings.ReplaceAll(pat, "\\", "/")
	rel = filepath.ToSlash(rel)

	// Accept "*.js,*.sql" from single string flags.
	if strings.Contains(pat, ",") && !strings.Contains(pat, "{") {
		for _, piece := range strings.Split(pat, ",") {
			if MatchGlob(strings.TrimSpace(piece), rel) {
				return true
			}
		}
		return false
	}

	if !strings.Contains(pat, "/") {
		ok, _ := doublestar.Match(pat, path.Base(rel))
		return ok
	}

	ok, _ := doublestar.Match(strings.TrimPrefix(pat, "/"), rel)
	return ok
}
