package search

import (
	"bufio"
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"workbench/internal/core/walk"
	"workbench/internal/model"
)

func (e *Engine) walkOptions(q Query) walk.Options {
	return walk.Options{
		IncludeGlobs: q.Include,
		ExcludeGlobs: q.Exclude,
		NoIgnore:     !q.UseIgnore,
		Rules:        e.opts.Rules,
	}
}

// candidates walks the root and yields allowlisted text files.
func (e *Engine) candidates(q Query, deadline time.Time, fn func(rel string) bool) (timedOut bool, err error) {
	err = walk.Walk(e.opts.Root, e.walkOptions(q), func(rel string, d fs.DirEntry) error {
		if time.Now().After(deadline) {
			timedOut = true
			return fs.SkipAll
		}
		if !IsTextPath(rel) {
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > maxScanFileSize {
			return nil
		}
		if !fn(rel) {
			return fs.SkipAll
		}
		return nil
	})
	return timedOut, err
}

func (e *Engine) searchFallback(ctx context.Context, q Query, m *Matcher) (*model.SearchResult, error) {
	deadline := time.Now().Add(e.opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	col := newCollector(q.MaxResults, EngineFallback)
	timedOut, err := e.candidates(q, deadline, func(rel string) bool {
		if ctx.Err() != nil {
			return false
		}
		e.scanFile(col, rel, m)
		return !col.closed
	})
	if err != nil {
		return nil, err
	}
	if timedOut || ctx.Err() != nil {
		col.res.Truncated = true
	}
	return col.res, nil
}

func (e *Engine) scanFile(col *collector, rel string, m *Matcher) {
	abs := filepath.Join(e.opts.Root, filepath.FromSlash(rel))
	data, err := os.ReadFile(abs)
	if err != nil || IsBinary(data) {
		return
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxScanFileSize)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := trimLineEnding(sc.Text())
		for _, loc := range m.FindLine(line) {
			text, clipped := clipLine(line, loc[0], loc[1])
			col.add(model.SearchMatch{
				AbsolutePath: abs,
				RelativePath: rel,
				Line:         lineNo,
				Column:       column(line, loc[0]),
				LineText:     text,
				LineClipped:  clipped,
			})
		}
		if col.closed {
			return
		}
	}
}
