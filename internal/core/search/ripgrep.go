package search

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"workbench/internal/core/walk"
	"workbench/internal/model"
)

type rgData struct {
	Text  *string `json:"text"`
	Bytes *string `json:"bytes"`
}

func (d rgData) String() string {
	switch {
	case d.Text != nil:
		return *d.Text
	case d.Bytes != nil:
		b, err := base64.StdEncoding.DecodeString(*d.Bytes)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return ""
	}
}

type rgSubmatch struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type rgRecord struct {
	Type string `json:"type"`
	Data struct {
		Path       rgData       `json:"path"`
		Lines      rgData       `json:"lines"`
		LineNumber int          `json:"line_number"`
		Submatches []rgSubmatch `json:"submatches"`
	} `json:"data"`
}

// recordReader yields decoded ripgrep --json records one at a time.
type recordReader struct {
	lines *LineReader
}

func (rr *recordReader) Next() (*rgRecord, error) {
	for {
		line, err := rr.lines.Next()
		if err != nil {
			return nil, err
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var rec rgRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		return &rec, nil
	}
}

func baseArgs(q Query) []string {
	args := []string{"--no-config", "--hidden", "--no-messages", "-g", "!.git"}
	for _, d := range walk.SkippedDirs {
		if d == ".git" {
			continue
		}
		args = append(args, "-g", "!"+d+"/")
	}
	if q.CaseSensitive {
		args = append(args, "-s")
	} else {
		args = append(args, "-i")
	}
	if q.WholeWord {
		args = append(args, "-w")
	}
	if !q.Regex {
		args = append(args, "-F")
	}
	if q.UseIgnore {
		args = append(args, "--no-require-git")
	} else {
		args = append(args, "--no-ignore")
	}
	for _, g := range q.Include {
		if g = strings.TrimSpace(g); g != "" {
			args = append(args, "-g", g)
		}
	}
	for _, g := range q.Exclude {
		if g = strings.TrimSpace(g); g != "" {
			args = append(args, "-g", "!"+g)
		}
	}
	return args
}

func (e *Engine) searchRipgrep(ctx context.Context, rg string, q Query, m *Matcher) (*model.SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	args := append([]string{"--json"}, baseArgs(q)...)
	args = append(args, "-e", q.Pattern, "--", ".")
	cmd := exec.CommandContext(ctx, rg, args...)
	cmd.Dir = e.opts.Root
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errRipgrepStart, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", errRipgrepStart, err)
	}

	col := newCollector(q.MaxResults, EngineRipgrep)
	rr := &recordReader{lines: NewLineReader(stdout)}
	for !col.closed {
		rec, err := rr.Next()
		if err != nil {
			break
		}
		if rec.Type != "match" {
			continue
		}
		e.collectRecord(col, rec, m)
	}

	stoppedEarly := col.closed
	if stoppedEarly {
		cancel()
	}
	// Drain so Wait does not block on a full pipe.
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		col.res.Truncated = true
		e.log.Warn("ripgrep watchdog fired", "root", e.opts.Root, "timeout", e.opts.Timeout)
		return col.res, nil
	}
	if stoppedEarly {
		return col.res, nil
	}
	if waitErr != nil {
		var ee *exec.ExitError
		if errors.As(waitErr, &ee) {
			// 1 means no match; 2 means some files could not be read.
			if ee.ExitCode() == 1 || (ee.ExitCode() == 2 && col.res.TotalMatches > 0) {
				return col.res, nil
			}
			return nil, fmt.Errorf("ripgrep: %v: %s", waitErr, strings.TrimSpace(stderr.String()))
		}
		return nil, waitErr
	}
	return col.res, nil
}

func (e *Engine) collectRecord(col *collector, rec *rgRecord, m *Matcher) {
	rel := path.Clean(filepath.ToSlash(rec.Data.Path.String()))
	line := trimLineEnding(rec.Data.Lines.String())
	abs := filepath.Join(e.opts.Root, filepath.FromSlash(rel))

	for _, sm := range rec.Data.Submatches {
		if sm.Start < 0 || sm.End > len(line) || sm.Start >= sm.End {
			continue
		}
		if !m.Accept(line, sm.Start, sm.End) {
			continue
		}
		// Keep counting the rest of this record after the budget is hit.
		text, clipped := clipLine(line, sm.Start, sm.End)
		col.add(model.SearchMatch{
			AbsolutePath: abs,
			RelativePath: rel,
			Line:         rec.Data.LineNumber,
			Column:       column(line, sm.Start),
			LineText:     text,
			LineClipped:  clipped,
		})
	}
}

// filesWithMatches lists candidate files for replace.
func (e *Engine) filesWithMatches(ctx context.Context, rg string, q Query) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	args := append([]string{"--files-with-matches"}, baseArgs(q)...)
	args = append(args, "-e", q.Pattern, "--", ".")
	cmd := exec.CommandContext(ctx, rg, args...)
	cmd.Dir = e.opts.Root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", errRipgrepStart, err)
	}
	err := cmd.Wait()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("ripgrep timed out after %s", e.opts.Timeout)
	}
	if err != nil {
		var ee *exec.ExitError
		if !errors.As(err, &ee) || (ee.ExitCode() != 1 && stdout.Len() == 0) {
			return nil, fmt.Errorf("ripgrep: %v: %s", err, strings.TrimSpace(stderr.String()))
		}
	}

	var files []string
	lb := &LineBuffer{}
	lines := lb.Feed(stdout.Bytes())
	if tail := lb.Flush(); len(tail) > 0 {
		lines = append(lines, tail)
	}
	for _, l := range lines {
		if s := strings.TrimSpace(string(l)); s != "" {
			files = append(files, path.Clean(filepath.ToSlash(s)))
		}
	}
	return files, nil
}
