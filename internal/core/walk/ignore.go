package walk

import (
	"bufio"
	"errors"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	gitignore "github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

const (
	IgnoreFile  = ".gitignore"
	excludeFile = ".git/info/exclude"
)

type Rule struct {
	Pattern string
	Negated bool

	p gitignore.Pattern
}

// RuleSet is an ordered ignore rule list. The last matching rule decides.
type RuleSet struct {
	rules   []Rule
	dropped []string
}

func ParseRules(lines []string) *RuleSet {
	rs := &RuleSet{}
	for _, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = trimUnescapedTrailingSpace(line)

		negated := strings.HasPrefix(line, "!")
		body := strings.TrimPrefix(line, "!")
		body = strings.TrimPrefix(body, `\`)
		if strings.Trim(body, "/") == "" || !doublestar.ValidatePattern(strings.Trim(body, "/")) {
			rs.dropped = append(rs.dropped, raw)
			continue
		}

		rs.rules = append(rs.rules, Rule{
			Pattern: body,
			Negated: negated,
			p:       gitignore.ParsePattern(line, nil),
		})
	}
	return rs
}

// LoadRules reads .git/info/exclude followed by the root .gitignore, so
// .gitignore entries take precedence. Missing files are not an error.
func LoadRules(root string) (*RuleSet, error) {
	fs := osfs.New(root)

	var lines []string
	for _, name := range []string{excludeFile, IgnoreFile} {
		more, err := readLines(fs, name)
		if err != nil {
			return nil, err
		}
		lines = append(lines, more...)
	}
	return ParseRules(lines), nil
}

func readLines(fs billy.Filesystem, name string) ([]string, error) {
	data, err := util.ReadFile(fs, name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var lines []string
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

func (rs *RuleSet) IsIgnored(relPath string, isDir bool) bool {
	if rs == nil || len(rs.rules) == 0 {
		return false
	}

	relPath = strings.Trim(relPath, "/")
	if relPath == "" {
		return false
	}

	segments := strings.Split(relPath, "/")
	ignored := false
	for _, r := range rs.rules {
		switch r.p.Match(segments, isDir) {
		case gitignore.Exclude:
			ignored = true
		case gitignore.Include:
			ignored = false
		}
	}
	return ignored
}

func (rs *RuleSet) Rules() []Rule {
	if rs == nil {
		return nil
	}
	return append([]Rule(nil), rs.rules...)
}

// Dropped lists the raw lines that could not be parsed.
func (rs *RuleSet) Dropped() []string {
	if rs == nil {
		return nil
	}
	return append([]string(nil), rs.dropped...)
}

func trimUnescapedTrailingSpace(s string) string {
	for strings.HasSuffix(s, " ") && !strings.HasSuffix(s, `\ `) {
		s = s[:len(s)-1]
	}
	return s
}
