package search

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"workbench/internal/core/fsutil"
	"workbench/internal/model"
)

type ReplaceRequest struct {
	Query
	Replacement string
	MaxMatches  int
	MaxFiles    int
}

// Replace rewrites every match of the query under the root. Files are
// written only when their content changes, so repeating a replace whose
// pattern no longer matches touches nothing.
func (e *Engine) Replace(ctx context.Context, req ReplaceRequest) (*model.ReplaceResult, error) {
	if req.MaxMatches <= 0 {
		req.MaxMatches = DefaultMaxMatches
	}
	if req.MaxFiles <= 0 {
		req.MaxFiles = DefaultMaxFiles
	}
	m, err := Compile(req.Query)
	if err != nil {
		return nil, err
	}

	files, err := e.replaceCandidates(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	res := &model.ReplaceResult{ChangedFiles: []string{}}
	for i, rel := range files {
		if ctx.Err() != nil {
			break
		}
		if res.FilesScanned >= req.MaxFiles {
			res.MaxFilesHit = true
			break
		}
		res.FilesScanned++

		budget := req.MaxMatches - res.TotalReplacements
		n, changed, more, err := e.replaceFile(rel, m, req, budget)
		res.TotalReplacements += n
		if err != nil {
			res.Errors = append(res.Errors, model.ReplaceFileError{Path: rel, Error: err.Error()})
		}
		if changed {
			res.ChangedFiles = append(res.ChangedFiles, rel)
		}
		if more {
			res.MaxMatchesHit = true
			break
		}
		if res.TotalReplacements >= req.MaxMatches {
			// The budget is hit only if a match is actually left behind.
			res.MaxMatchesHit = e.anyMatch(ctx, files[i+1:], m)
			break
		}
	}
	return res, nil
}

func (e *Engine) replaceCandidates(ctx context.Context, q Query) ([]string, error) {
	if rg := e.ripgrep(); rg != "" {
		files, err := e.filesWithMatches(ctx, rg, q)
		if err == nil {
			sort.Strings(files)
			return files, nil
		}
		if !errors.Is(err, errRipgrepStart) {
			return nil, err
		}
	}

	var files []string
	_, err := e.candidates(q, time.Now().Add(e.opts.Timeout), func(rel string) bool {
		files = append(files, rel)
		return ctx.Err() == nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

var errBinaryFile = errors.New("binary file skipped")

// replaceFile applies at most budget replacements to one file. It reports
// how many were made, whether the file was rewritten and whether matches
// past the budget were left in place.
func (e *Engine) replaceFile(rel string, m *Matcher, req ReplaceRequest, budget int) (int, bool, bool, error) {
	if budget <= 0 {
		return 0, false, false, nil
	}
	abs := filepath.Join(e.opts.Root, filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if err != nil {
		return 0, false, false, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return 0, false, false, err
	}
	if IsBinary(data) {
		return 0, false, false, nil
	}

	text := string(data)
	next, n, more := replaceText(text, m, req, budget)
	if n == 0 || next == text {
		return n, false, more, nil
	}
	if err := fsutil.WriteFileAtomic(abs, []byte(next), info.Mode().Perm()); err != nil {
		return n, false, more, err
	}
	return n, true, more, nil
}

// anyMatch reports whether any of files still holds a match.
func (e *Engine) anyMatch(ctx context.Context, files []string, m *Matcher) bool {
	for _, rel := range files {
		if ctx.Err() != nil {
			return false
		}
		data, err := os.ReadFile(filepath.Join(e.opts.Root, filepath.FromSlash(rel)))
		if err != nil || IsBinary(data) {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			if len(m.FindLine(strings.TrimSuffix(line, "\r"))) > 0 {
				return true
			}
		}
	}
	return false
}

// replaceText works line by line so anchors and whole-word checks behave as
// they do in search.
func replaceText(text string, m *Matcher, req ReplaceRequest, budget int) (string, int, bool) {
	var b strings.Builder
	b.Grow(len(text))
	n := 0
	more := false

	rest := text
	for len(rest) > 0 {
		end := strings.IndexByte(rest, '\n')
		var line, eol string
		if end < 0 {
			line, rest = rest, ""
		} else {
			line, eol, rest = rest[:end], "\n", rest[end+1:]
		}
		if strings.HasSuffix(line, "\r") {
			line, eol = line[:len(line)-1], "\r"+eol
		}

		last := 0
		switch {
		case n < budget:
			for _, loc := range m.FindLine(line) {
				if n >= budget {
					more = true
					break
				}
				b.WriteString(line[last:loc[0]])
				if req.Regex {
					b.Write(m.Regexp().ExpandString(nil, req.Replacement, line, loc))
				} else {
					b.WriteString(req.Replacement)
				}
				last = loc[1]
				n++
			}
		case !more:
			more = len(m.FindLine(line)) > 0
		}
		b.WriteString(line[last:])
		b.WriteString(eol)
	}
	return b.String(), n, more
}
