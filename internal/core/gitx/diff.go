package gitx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"

	"workbench/internal/core/pathguard"
	"workbench/internal/model"
)

func (e *Engine) isUntracked(ctx context.Context, rel string) bool {
	ch, err := e.Changes(ctx)
	if err != nil {
		return false
	}
	return ch.Letters[rel] == "?"
}

// Diff returns unified diff text for one path, or for the whole root when
// rel is empty. staged compares index against HEAD, otherwise the working
// tree against the index. Untracked files are diffed against /dev/null.
func (e *Engine) Diff(ctx context.Context, rel string, staged bool) (*model.DiffResult, error) {
	var pathspec []string
	if strings.TrimSpace(rel) != "" {
		paths, err := e.checkPaths([]string{rel})
		if err != nil {
			return nil, err
		}
		pathspec = paths
	}

	out := &model.DiffResult{Path: strings.Join(pathspec, "")}
	var statArgs, diffArgs []string
	switch {
	case len(pathspec) == 1 && !staged && e.isUntracked(ctx, pathspec[0]):
		out.Untracked = true
		statArgs = []string{"diff", "--no-index", "--numstat", "-z", "--", os.DevNull, pathspec[0]}
		diffArgs = []string{"diff", "--no-index", "--no-color", "--no-ext-diff", "--", os.DevNull, pathspec[0]}
	default:
		base := []string{"diff"}
		if staged {
			base = append(base, "--cached")
		}
		statArgs = append(append(append([]string{}, base...), "--numstat", "-z", "--"), pathspecOrDot(pathspec)...)
		diffArgs = append(append(append([]string{}, base...), "--no-color", "--no-ext-diff", "--"), pathspecOrDot(pathspec)...)
	}

	stat, err := e.runDiff(ctx, 0, statArgs...)
	if err != nil {
		return nil, err
	}
	// Binary files show up in the text as a single "Binary files differ"
	// line. Only a diff made of nothing else is reported as binary.
	binaries, files := numstatBinaries(stat.Stdout)
	out.BinaryPaths = binaries
	if len(binaries) > 0 && len(binaries) == files {
		out.Binary = true
		return out, nil
	}

	res, err := e.runDiff(ctx, e.opts.MaxDiffBytes, diffArgs...)
	if err != nil {
		return nil, err
	}
	out.Diff = string(res.Stdout)
	out.Truncated = res.Truncated
	out.Hunks, out.Additions, out.Deletions = diffStats(res.Stdout)
	return out, nil
}

func pathspecOrDot(p []string) []string {
	if len(p) == 0 {
		return []string{"."}
	}
	return p
}

// runDiff treats exit status 1 as success, which is how --no-index reports
// that the inputs differ.
func (e *Engine) runDiff(ctx context.Context, limit int, args ...string) (*Result, error) {
	res, err := e.runner.RunCapped(ctx, DiffTimeout, limit, args...)
	if code, ok := exitCode(err); ok && code == 1 {
		return res, nil
	}
	return res, err
}

// numstatBinaries parses `diff --numstat -z` output and returns the paths git
// could not count lines for ("-\t-"), along with the number of files listed.
// Renames carry an empty path field followed by the old and new names.
func numstatBinaries(out []byte) (binaries []string, files int) {
	tokens := bytes.Split(out, []byte{0})
	for i := 0; i < len(tokens); i++ {
		fields := bytes.SplitN(tokens[i], []byte{'\t'}, 3)
		if len(fields) != 3 {
			continue
		}
		name := string(fields[2])
		if name == "" && i+2 < len(tokens) {
			name = string(tokens[i+2])
			i += 2
		}
		files++
		if string(fields[0]) == "-" && string(fields[1]) == "-" {
			binaries = append(binaries, name)
		}
	}
	return binaries, files
}

func diffStats(text []byte) (hunks, added, deleted int) {
	if len(bytes.TrimSpace(text)) == 0 {
		return 0, 0, 0
	}
	files, err := godiff.ParseMultiFileDiff(text)
	if err != nil {
		return countDiffLines(text)
	}
	for _, f := range files {
		hunks += len(f.Hunks)
		st := f.Stat()
		added += int(st.Added + st.Changed)
		deleted += int(st.Deleted + st.Changed)
	}
	return hunks, added, deleted
}

// countDiffLines is used when the text was capped mid-hunk and cannot be
// parsed as a whole.
func countDiffLines(text []byte) (hunks, added, deleted int) {
	for _, line := range bytes.Split(text, []byte{'\n'}) {
		switch {
		case bytes.HasPrefix(line, []byte("@@")):
			hunks++
		case bytes.HasPrefix(line, []byte("+++")), bytes.HasPrefix(line, []byte("---")):
		case bytes.HasPrefix(line, []byte("+")):
			added++
		case bytes.HasPrefix(line, []byte("-")):
			deleted++
		}
	}
	return hunks, added, deleted
}

type fileDiffKey struct {
	path   string
	staged bool
}

// FileDiff returns both sides of a change as full text. Unstaged compares the
// index with the working file, staged compares HEAD with the index. A side
// that does not exist is empty.
func (e *Engine) FileDiff(ctx context.Context, rel string, staged bool) (*model.FileDiff, error) {
	paths, err := e.checkPaths([]string{rel})
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("path is required")
	}
	rel = paths[0]

	key := fileDiffKey{path: rel, staged: staged}
	if d, ok := e.fileDiffs.Get(key); ok {
		return d, nil
	}

	var original, modified []byte
	var origCut, modCut bool
	if staged {
		if original, origCut, err = e.show(ctx, "HEAD:./"+rel); err != nil {
			return nil, err
		}
		if modified, modCut, err = e.show(ctx, ":./"+rel); err != nil {
			return nil, err
		}
	} else {
		if original, origCut, err = e.show(ctx, ":./"+rel); err != nil {
			return nil, err
		}
		abs, err := pathguard.Resolve(e.root, rel)
		if err != nil {
			return nil, err
		}
		modified, modCut, err = readCapped(abs, e.blobLimit())
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	out := &model.FileDiff{Path: rel, Truncated: origCut || modCut}
	if bytes.IndexByte(original, 0) >= 0 || bytes.IndexByte(modified, 0) >= 0 {
		out.Binary = true
	} else {
		out.Original = string(original)
		out.Modified = string(modified)
	}
	e.fileDiffs.Put(key, out)
	return out, nil
}

func (e *Engine) blobLimit() int { return e.opts.MaxDiffBytes * 4 }

// show reads one blob, capped like the working file. Objects that do not
// exist yield empty content.
func (e *Engine) show(ctx context.Context, object string) ([]byte, bool, error) {
	res, err := e.runner.RunCapped(ctx, DiffTimeout, e.blobLimit(), "show", object)
	if err != nil {
		if _, ok := exitCode(err); ok {
			return nil, false, nil
		}
		return nil, false, err
	}
	return res.Stdout, res.Truncated, nil
}

// readCapped reads at most limit bytes of a working file, cut back to the
// last full line when the file is longer.
func readCapped(abs string, limit int) ([]byte, bool, error) {
	f, err := os.Open(abs)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, int64(limit)+1))
	if err != nil {
		return nil, false, err
	}
	if len(data) <= limit {
		return data, false, nil
	}
	return trimPartialRecord(data[:limit]), true, nil
}
