package gitx

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"
)

func requireSh(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func TestRunner_NotFound(t *testing.T) {
	r := &Runner{Bin: "wb-no-such-git-binary", Dir: t.TempDir()}
	_, err := r.Run(context.Background(), time.Second, "status")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want git_not_found", err)
	}
}

func TestRunner_Timeout(t *testing.T) {
	r := &Runner{Bin: requireSh(t), Dir: t.TempDir()}
	start := time.Now()
	_, err := r.Run(context.Background(), 100*time.Millisecond, "-c", "sleep 5")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err=%v, want git_timeout", err)
	}
	if time.Since(start) > 4*time.Second {
		t.Fatalf("timeout took %v", time.Since(start))
	}
}

func TestRunner_OutputCapDropsPartialLine(t *testing.T) {
	r := &Runner{Bin: requireSh(t), Dir: t.TempDir()}
	res, err := r.RunCapped(context.Background(), 5*time.Second, 1000, "-c", "while true; do echo 0123456789abc; done")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Truncated {
		t.Fatal("expected truncated result")
	}
	if len(res.Stdout) == 0 || len(res.Stdout) > 1000 {
		t.Fatalf("len=%d", len(res.Stdout))
	}
	if res.Stdout[len(res.Stdout)-1] != '\n' {
		t.Fatalf("partial line kept: %q", res.Stdout[len(res.Stdout)-20:])
	}
	for _, line := range bytes.Split(bytes.TrimSuffix(res.Stdout, []byte("\n")), []byte("\n")) {
		if string(line) != "0123456789abc" {
			t.Fatalf("line=%q", line)
		}
	}
}

func TestRunner_ExitError(t *testing.T) {
	r := &Runner{Bin: requireSh(t), Dir: t.TempDir()}
	_, err := r.Run(context.Background(), time.Second, "-c", "echo boom >&2; exit 3")
	var ee *ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("err=%v", err)
	}
	if ee.Code != 3 || ee.Stderr != "boom\n" {
		t.Fatalf("exit=%+v", ee)
	}
}
