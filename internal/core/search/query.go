package search

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var ErrInvalidPattern = errors.New("invalid_pattern")

type Query struct {
	Pattern       string
	Regex         bool
	CaseSensitive bool
	WholeWord     bool
	Include       []string
	Exclude       []string
	// UseIgnore honors the project's ignore rules.
	UseIgnore  bool
	MaxResults int
}

// Matcher finds query hits within single lines. Both the ripgrep and the
// fallback paths apply the same whole-word check through it.
type Matcher struct {
	re        *regexp.Regexp
	wholeWord bool
}

func Compile(q Query) (*Matcher, error) {
	if q.Pattern == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}
	expr := q.Pattern
	if !q.Regex {
		expr = regexp.QuoteMeta(expr)
	}
	if !q.CaseSensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	return &Matcher{re: re, wholeWord: q.WholeWord}, nil
}

// FindLine returns byte ranges of the matches in line.
func (m *Matcher) FindLine(line string) [][]int {
	var out [][]int
	for _, loc := range m.re.FindAllStringSubmatchIndex(line, -1) {
		if loc[0] == loc[1] {
			continue
		}
		if m.wholeWord && !wordBounded(line, loc[0], loc[1]) {
			continue
		}
		out = append(out, loc)
	}
	return out
}

func (m *Matcher) Accept(line string, start, end int) bool {
	if !m.wholeWord {
		return true
	}
	return wordBounded(line, start, end)
}

func (m *Matcher) Regexp() *regexp.Regexp {
	return m.re
}

// wordBounded reports whether the text just before start and just after end
// are both non-word characters or line edges.
func wordBounded(line string, start, end int) bool {
	if start < 0 || end > len(line) || start > end {
		return false
	}
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(line[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(line) {
		r, _ := utf8.DecodeRuneInString(line[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// column converts a byte offset into a 1-based character column.
func column(line string, byteOffset int) int {
	if byteOffset > len(line) {
		byteOffset = len(line)
	}
	return utf8.RuneCountInString(line[:byteOffset]) + 1
}

// MaxLineText bounds SearchMatch.LineText. Longer lines are cut to a window
// around the match.
const MaxLineText = 1024

// clipLine returns at most MaxLineText bytes of line containing [start,end)
// where it fits, cut on rune boundaries.
func clipLine(line string, start, end int) (string, bool) {
	if len(line) <= MaxLineText {
		return line, false
	}
	pad := (MaxLineText - (end - start)) / 2
	if pad < 0 {
		pad = 0
	}
	lo := start - pad
	if lo < 0 {
		lo = 0
	}
	hi := lo + MaxLineText
	if hi > len(line) {
		hi = len(line)
		lo = hi - MaxLineText
	}
	for lo < hi && !utf8.RuneStart(line[lo]) {
		lo++
	}
	for hi > lo && hi < len(line) && !utf8.RuneStart(line[hi]) {
		hi--
	}
	return line[lo:hi], true
}

func trimLineEnding(s string) string {
	return strings.TrimRight(s, "\r\n")
}
