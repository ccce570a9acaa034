package walk

import (
	"path"
	"path/filepath"
)

type Filter struct {
	opts Options
}

func NewFilter(opts Options) *Filter {
	return &Filter{opts: opts}
}

func (f *Filter) ShouldInclude(rel string, isDir bool) bool {
	if f == nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	name := path.Base(rel)

	if isDir {
		if IsSkippedDir(name) {
			return false
		}
		if !f.opts.NoIgnore && f.opts.Rules.IsIgnored(rel, true) {
			return false
		}
		return true
	}

	if !f.opts.NoIgnore && f.opts.Rules.IsIgnored(rel, false) {
		return false
	}
	if len(f.opts.IncludeGlobs) > 0 && !anyGlobMatch(f.opts.IncludeGlobs, rel) {
		return false
	}
	if anyGlobMatch(f.opts.ExcludeGlobs, rel) {
		return false
	}
	return true
}

// InSkippedDir reports whether any directory component of rel is skipped.
func InSkippedDir(rel string) bool {
	dir := path.Dir(filepath.ToSlash(rel))
	for dir != "." && dir != "/" && dir != "" {
		if IsSkippedDir(path.Base(dir)) {
			return true
		}
		dir = path.Dir(dir)
	}
	return false
}
