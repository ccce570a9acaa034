package search

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("read %s: %v", rel, err)
	}
	return string(b)
}

func TestReplace_LiteralAndIdempotent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "foo bar foo\r\nfoo\n")
	writeFile(t, root, "b.txt", "nothing here\n")
	writeFile(t, root, "c.txt", "foo\x00binary\n")

	for name, e := range engines(t, root) {
		writeFile(t, root, "a.txt", "foo bar foo\r\nfoo\n")

		res, err := e.Replace(context.Background(), ReplaceRequest{
			Query:       Query{Pattern: "foo", CaseSensitive: true},
			Replacement: "baz",
		})
		if err != nil {
			t.Fatalf("%s: Replace: %v", name, err)
		}
		if res.TotalReplacements != 3 || len(res.ChangedFiles) != 1 || res.ChangedFiles[0] != "a.txt" {
			t.Fatalf("%s: res=%+v", name, res)
		}
		if got := readFile(t, root, "a.txt"); got != "baz bar baz\r\nbaz\n" {
			t.Fatalf("%s: a.txt=%q", name, got)
		}
		if got := readFile(t, root, "c.txt"); !strings.HasPrefix(got, "foo\x00") {
			t.Fatalf("%s: binary file was modified", name)
		}

		again, err := e.Replace(context.Background(), ReplaceRequest{
			Query:       Query{Pattern: "foo", CaseSensitive: true},
			Replacement: "baz",
		})
		if err != nil {
			t.Fatalf("%s: Replace again: %v", name, err)
		}
		if len(again.ChangedFiles) != 0 || again.TotalReplacements != 0 {
			t.Fatalf("%s: second run changed files: %+v", name, again)
		}
	}
}

func TestReplace_RegexGroups(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "call(one, two)\n")

	e := NewEngine(Options{Root: root, DisableRipgrep: true})
	res, err := e.Replace(context.Background(), ReplaceRequest{
		Query:       Query{Pattern: `call\((\w+), (\w+)\)`, Regex: true, CaseSensitive: true},
		Replacement: "call($2, $1)",
	})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if res.TotalReplacements != 1 {
		t.Fatalf("res=%+v", res)
	}
	if got := readFile(t, root, "a.go"); got != "call(two, one)\n" {
		t.Fatalf("a.go=%q", got)
	}
}

func TestReplace_MatchBudgetNeverExceeded(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "x x x\n")
	writeFile(t, root, "b.txt", "x x x\n")

	e := NewEngine(Options{Root: root, DisableRipgrep: true})
	res, err := e.Replace(context.Background(), ReplaceRequest{
		Query:       Query{Pattern: "x", CaseSensitive: true},
		Replacement: "y",
		MaxMatches:  4,
	})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if res.TotalReplacements != 4 || !res.MaxMatchesHit {
		t.Fatalf("res=%+v", res)
	}
	if got := readFile(t, root, "a.txt") + readFile(t, root, "b.txt"); strings.Count(got, "y") != 4 {
		t.Fatalf("content=%q", got)
	}
}

func TestReplace_MatchBudgetHitOnlyWhenMatchesRemain(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "x x\n")
	writeFile(t, root, "b.txt", "x\nx\n")

	e := NewEngine(Options{Root: root, DisableRipgrep: true})
	req := ReplaceRequest{
		Query:       Query{Pattern: "x", CaseSensitive: true},
		Replacement: "y",
		MaxMatches:  4,
	}
	res, err := e.Replace(context.Background(), req)
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if res.TotalReplacements != 4 || res.MaxMatchesHit {
		t.Fatalf("exact budget: res=%+v", res)
	}

	writeFile(t, root, "a.txt", "x x\n")
	writeFile(t, root, "b.txt", "x\n")
	writeFile(t, root, "c.txt", "x\n")
	req.MaxMatches = 3
	res, err = e.Replace(context.Background(), req)
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if res.TotalReplacements != 3 || !res.MaxMatchesHit {
		t.Fatalf("match left in c.txt: res=%+v", res)
	}
	if readFile(t, root, "c.txt") != "x\n" {
		t.Fatal("c.txt should be untouched")
	}
}

func TestReplace_FileBudget(t *testing.T) {
	root := t.TempDir()
	for _, n := range []string{"a.txt", "b.txt", "c.txt"} {
		writeFile(t, root, n, "x\n")
	}

	e := NewEngine(Options{Root: root, DisableRipgrep: true})
	res, err := e.Replace(context.Background(), ReplaceRequest{
		Query:       Query{Pattern: "x", CaseSensitive: true},
		Replacement: "y",
		MaxFiles:    2,
	})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if res.FilesScanned != 2 || !res.MaxFilesHit || len(res.ChangedFiles) != 2 {
		t.Fatalf("res=%+v", res)
	}
	if readFile(t, root, "c.txt") != "x\n" {
		t.Fatal("c.txt should be untouched")
	}
}

func TestReplace_ReportsUnwritableFile(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	root := t.TempDir()
	writeFile(t, root, "ro/a.txt", "x\n")
	writeFile(t, root, "b.txt", "x\n")
	if err := os.Chmod(filepath.Join(root, "ro"), 0o555); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(filepath.Join(root, "ro"), 0o755) })

	e := NewEngine(Options{Root: root, DisableRipgrep: true})
	res, err := e.Replace(context.Background(), ReplaceRequest{
		Query:       Query{Pattern: "x", CaseSensitive: true},
		Replacement: "y",
	})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if len(res.Errors) != 1 || res.Errors[0].Path != "ro/a.txt" {
		t.Fatalf("errors=%+v", res.Errors)
	}
	if readFile(t, root, "b.txt") != "y\n" {
		t.Fatal("b.txt should still be replaced")
	}
}
