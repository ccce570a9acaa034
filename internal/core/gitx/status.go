package gitx

import (
	"bytes"
	"strconv"
	"strings"

	"workbench/internal/model"
)

// Letter collapses a porcelain XY code into one display letter. The order is
// conflict, deleted, added, renamed, copied, modified, ignored, other.
func Letter(x, y byte) string {
	switch {
	case isConflict(x, y):
		return "U"
	case x == 'D' || y == 'D':
		return "D"
	case x == 'A' || y == 'A':
		return "A"
	case x == 'R' || y == 'R':
		return "R"
	case x == 'C' || y == 'C':
		return "C"
	case x == 'M' || y == 'M' || x == 'T' || y == 'T':
		return "M"
	case x == '!' && y == '!':
		return "!"
	default:
		return "?"
	}
}

func isConflict(x, y byte) bool {
	if x == 'U' || y == 'U' {
		return true
	}
	return (x == 'A' && y == 'A') || (x == 'D' && y == 'D')
}

func newEntry(x, y byte, path, from string) model.StatusEntry {
	return model.StatusEntry{
		Path:          path,
		IndexState:    string(x),
		WorktreeState: string(y),
		RenameFrom:    from,
		Letter:        Letter(x, y),
	}
}

// ParseStatusZ parses `git status --porcelain=v1 -z`. Rename and copy records
// carry a second NUL-terminated token holding the source path.
func ParseStatusZ(out []byte, limit int) ([]model.StatusEntry, bool) {
	tokens := bytes.Split(out, []byte{0})
	var entries []model.StatusEntry
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if len(tok) < 4 || tok[2] != ' ' {
			continue
		}
		x, y := tok[0], tok[1]
		path := string(tok[3:])

		from := ""
		if x == 'R' || x == 'C' || y == 'R' || y == 'C' {
			if i+1 < len(tokens) {
				from = string(tokens[i+1])
				i++
			}
		}

		if limit > 0 && len(entries) >= limit {
			return entries, true
		}
		entries = append(entries, newEntry(x, y, path, from))
	}
	return entries, false
}

// ParseStatusLines parses the newline form, where renames are written as
// "XY from -> to" and unusual paths are C-quoted.
func ParseStatusLines(out string, limit int) ([]model.StatusEntry, bool) {
	var entries []model.StatusEntry
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if len(line) < 4 || line[2] != ' ' {
			continue
		}
		x, y := line[0], line[1]
		rest := line[3:]

		path, from := rest, ""
		if x == 'R' || x == 'C' || y == 'R' || y == 'C' {
			if i := strings.Index(rest, " -> "); i >= 0 {
				from, path = rest[:i], rest[i+4:]
			}
		}

		if limit > 0 && len(entries) >= limit {
			return entries, true
		}
		entries = append(entries, newEntry(x, y, unquotePath(path), unquotePath(from)))
	}
	return entries, false
}

func unquotePath(p string) string {
	if len(p) >= 2 && strings.HasPrefix(p, `"`) && strings.HasSuffix(p, `"`) {
		if s, err := strconv.Unquote(p); err == nil {
			return s
		}
	}
	return p
}

// BucketChanges splits status entries into the staged, unstaged, untracked
// and conflict views. An entry with both index and worktree changes shows up
// in both staged and unstaged.
func BucketChanges(entries []model.StatusEntry, truncated bool) *model.Changes {
	c := &model.Changes{
		Staged:    []model.StatusEntry{},
		Unstaged:  []model.StatusEntry{},
		Untracked: []model.StatusEntry{},
		Conflicts: []model.StatusEntry{},
		Letters:   make(map[string]string, len(entries)),
		Truncated: truncated,
	}
	for _, e := range entries {
		c.Letters[e.Path] = e.Letter
		x, y := e.IndexState, e.WorktreeState
		switch {
		case e.Letter == "U":
			c.Conflicts = append(c.Conflicts, e)
		case x == "?":
			c.Untracked = append(c.Untracked, e)
		case x == "!":
		default:
			if x != " " {
				staged := e
				staged.Letter = Letter(x[0], ' ')
				c.Staged = append(c.Staged, staged)
			}
			if y != " " {
				unstaged := e
				unstaged.Letter = Letter(' ', y[0])
				unstaged.RenameFrom = ""
				c.Unstaged = append(c.Unstaged, unstaged)
			}
		}
	}
	return c
}
