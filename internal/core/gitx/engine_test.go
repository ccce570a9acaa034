package gitx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"workbench/internal/core/pathguard"
)

func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	root := t.TempDir()
	for _, args := range [][]string{
		{"init", "-q"},
		{"config", "user.email", "dev@example.com"},
		{"config", "user.name", "Dev"},
		{"config", "commit.gpgsign", "false"},
	} {
		gitCmd(t, root, args...)
	}
	return root
}

func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
	return string(out)
}

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestEngine_StatusDiffStageCommit(t *testing.T) {
	root := initRepo(t)
	ctx := context.Background()
	write(t, root, "a.txt", "one\ntwo\n")
	gitCmd(t, root, "add", "a.txt")
	gitCmd(t, root, "commit", "-q", "-m", "init")

	e := NewEngine(Options{Root: root})

	info, err := e.Info(ctx)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if !info.IsRepo || info.Branch == "" || info.Head == "" {
		t.Fatalf("info=%+v", info)
	}

	write(t, root, "a.txt", "one\n2\n")
	write(t, root, "new.txt", "fresh\n")
	e.Invalidate()

	ch, err := e.Changes(ctx)
	if err != nil {
		t.Fatalf("Changes: %v", err)
	}
	if ch.Letters["a.txt"] != "M" || ch.Letters["new.txt"] != "?" {
		t.Fatalf("letters=%v", ch.Letters)
	}

	d, err := e.Diff(ctx, "a.txt", false)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if d.Binary || d.Hunks != 1 || d.Additions != 1 || d.Deletions != 1 {
		t.Fatalf("diff=%+v", d)
	}

	d, err = e.Diff(ctx, "new.txt", false)
	if err != nil {
		t.Fatalf("Diff untracked: %v", err)
	}
	if !d.Untracked || d.Additions != 1 || !strings.Contains(d.Diff, "+fresh") {
		t.Fatalf("untracked diff=%+v", d)
	}

	fd, err := e.FileDiff(ctx, "a.txt", false)
	if err != nil {
		t.Fatalf("FileDiff: %v", err)
	}
	if fd.Original != "one\ntwo\n" || fd.Modified != "one\n2\n" {
		t.Fatalf("fileDiff=%+v", fd)
	}

	if err := e.Stage(ctx, []string{"a.txt", "new.txt"}); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	ch, err = e.Changes(ctx)
	if err != nil {
		t.Fatalf("Changes: %v", err)
	}
	if len(ch.Staged) != 2 || len(ch.Unstaged) != 0 {
		t.Fatalf("after stage=%+v", ch)
	}

	if err := e.Unstage(ctx, []string{"new.txt"}); err != nil {
		t.Fatalf("Unstage: %v", err)
	}
	ch, _ = e.Changes(ctx)
	if ch.Letters["new.txt"] != "?" {
		t.Fatalf("after unstage letters=%v", ch.Letters)
	}

	hash, err := e.Commit(ctx, "change a\n\nwith \"quotes\" and $vars", false)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(hash) < 40 {
		t.Fatalf("hash=%q", hash)
	}
	if msg := gitCmd(t, root, "log", "-1", "--format=%B"); !strings.Contains(msg, `"quotes" and $vars`) {
		t.Fatalf("message=%q", msg)
	}

	if _, err := e.Commit(ctx, "  ", false); !errors.Is(err, ErrCommitMessageRequired) {
		t.Fatalf("empty message err=%v", err)
	}
}

func TestEngine_Discard(t *testing.T) {
	root := initRepo(t)
	ctx := context.Background()
	write(t, root, "a.txt", "keep\n")
	gitCmd(t, root, "add", "a.txt")
	gitCmd(t, root, "commit", "-q", "-m", "init")

	write(t, root, "a.txt", "changed\n")
	write(t, root, "junk.txt", "junk\n")

	e := NewEngine(Options{Root: root})
	if err := e.Discard(ctx, []string{"a.txt", "junk.txt"}); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	b, _ := os.ReadFile(filepath.Join(root, "a.txt"))
	if string(b) != "keep\n" {
		t.Fatalf("a.txt=%q", b)
	}
	if _, err := os.Stat(filepath.Join(root, "junk.txt")); !os.IsNotExist(err) {
		t.Fatalf("junk.txt still present: %v", err)
	}
}

func TestEngine_UnstageWithoutHead(t *testing.T) {
	root := initRepo(t)
	ctx := context.Background()
	write(t, root, "a.txt", "x\n")

	e := NewEngine(Options{Root: root})
	if err := e.Stage(ctx, nil); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if err := e.Unstage(ctx, []string{"a.txt"}); err != nil {
		t.Fatalf("Unstage: %v", err)
	}
	ch, err := e.Changes(ctx)
	if err != nil {
		t.Fatalf("Changes: %v", err)
	}
	if ch.Letters["a.txt"] != "?" {
		t.Fatalf("letters=%v", ch.Letters)
	}
}

func TestEngine_BinaryDiff(t *testing.T) {
	root := initRepo(t)
	ctx := context.Background()
	write(t, root, "img.bin", "\x00\x01\x02")
	gitCmd(t, root, "add", "img.bin")
	gitCmd(t, root, "commit", "-q", "-m", "bin")
	write(t, root, "img.bin", "\x00\x03\x04\x05")

	e := NewEngine(Options{Root: root})
	d, err := e.Diff(ctx, "img.bin", false)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if !d.Binary || d.Diff != "" {
		t.Fatalf("diff=%+v", d)
	}
	fd, err := e.FileDiff(ctx, "img.bin", false)
	if err != nil {
		t.Fatalf("FileDiff: %v", err)
	}
	if !fd.Binary || fd.Original != "" || fd.Modified != "" {
		t.Fatalf("fileDiff=%+v", fd)
	}
}

func TestEngine_CacheInvalidation(t *testing.T) {
	root := initRepo(t)
	ctx := context.Background()
	e := NewEngine(Options{Root: root, CacheTTL: time.Hour})

	st, err := e.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(st.Entries) != 0 {
		t.Fatalf("entries=%+v", st.Entries)
	}

	write(t, root, "a.txt", "x")
	st, _ = e.Status(ctx)
	if len(st.Entries) != 0 {
		t.Fatal("expected cached status within the window")
	}

	e.Invalidate()
	st, err = e.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(st.Entries) != 1 || st.Entries[0].Path != "a.txt" {
		t.Fatalf("entries=%+v", st.Entries)
	}
}

func TestEngine_RejectsEscapingPaths(t *testing.T) {
	root := t.TempDir()
	e := NewEngine(Options{Root: root})
	if err := e.Stage(context.Background(), []string{"../outside"}); !errors.Is(err, pathguard.ErrPathEscape) {
		t.Fatalf("err=%v", err)
	}
}

func TestEngine_InfoOutsideRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	root := t.TempDir()
	e := NewEngine(Options{Root: root})
	info, err := e.Info(context.Background())
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.IsRepo {
		t.Fatalf("info=%+v", info)
	}
}

func TestEngine_TreeDiffKeepsTextBesideBinary(t *testing.T) {
	root := initRepo(t)
	ctx := context.Background()
	write(t, root, "a.txt", "one\n")
	write(t, root, "b.bin", "\x00\x01")
	gitCmd(t, root, "add", ".")
	gitCmd(t, root, "commit", "-q", "-m", "init")
	write(t, root, "a.txt", "one\ntwo\n")
	write(t, root, "b.bin", "\x00\x02\x03")

	e := NewEngine(Options{Root: root})
	d, err := e.Diff(ctx, "", false)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if d.Binary || !strings.Contains(d.Diff, "+two") || d.Additions != 1 {
		t.Fatalf("diff=%+v", d)
	}
	if len(d.BinaryPaths) != 1 || d.BinaryPaths[0] != "b.bin" {
		t.Fatalf("binaryPaths=%v", d.BinaryPaths)
	}
}

func TestNumstatBinaries(t *testing.T) {
	out := []byte("1\t0\ta.txt\x00-\t-\tb.bin\x00-\t-\t\x00old.png\x00new.png\x00")
	bins, files := numstatBinaries(out)
	if files != 3 || len(bins) != 2 || bins[0] != "b.bin" || bins[1] != "new.png" {
		t.Fatalf("bins=%v files=%d", bins, files)
	}
}

func TestEngine_FileDiffMarksTruncatedSides(t *testing.T) {
	root := initRepo(t)
	ctx := context.Background()
	var big strings.Builder
	for i := range 200 {
		fmt.Fprintf(&big, "line %03d\n", i)
	}
	write(t, root, "big.txt", big.String())
	write(t, root, "small.txt", "s\n")
	gitCmd(t, root, "add", ".")
	gitCmd(t, root, "commit", "-q", "-m", "init")
	write(t, root, "big.txt", big.String()+"tail\n")
	write(t, root, "small.txt", "s\nt\n")

	e := NewEngine(Options{Root: root, MaxDiffBytes: 256})
	fd, err := e.FileDiff(ctx, "big.txt", false)
	if err != nil {
		t.Fatalf("FileDiff: %v", err)
	}
	limit := 256 * 4
	if !fd.Truncated || len(fd.Original) > limit || len(fd.Modified) > limit {
		t.Fatalf("truncated=%v original=%d modified=%d", fd.Truncated, len(fd.Original), len(fd.Modified))
	}
	if !strings.HasSuffix(fd.Original, "\n") || !strings.HasSuffix(fd.Modified, "\n") {
		t.Fatal("capped sides should end on a full line")
	}

	fd, err = e.FileDiff(ctx, "small.txt", false)
	if err != nil {
		t.Fatalf("FileDiff: %v", err)
	}
	if fd.Truncated || fd.Modified != "s\nt\n" {
		t.Fatalf("small=%+v", fd)
	}
}
