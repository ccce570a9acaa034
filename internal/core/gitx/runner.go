package gitx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	DefaultMaxOutput = 8 << 20
	maxStderr        = 64 << 10
)

var (
	ErrNotFound      = errors.New("git_not_found")
	ErrTimeout       = errors.New("git_timeout")
	ErrNotRepository = errors.New("not_a_repository")
)

type ExitError struct {
	Args   []string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("git %s: exit status %d", strings.Join(e.Args, " "), e.Code)
	}
	return fmt.Sprintf("git %s: exit status %d: %s", strings.Join(e.Args, " "), e.Code, msg)
}

func exitCode(err error) (int, bool) {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code, true
	}
	return 0, false
}

type Result struct {
	Stdout    []byte
	Stderr    string
	Truncated bool
}

// Runner spawns git in one working directory. Every call has a hard timeout
// and a stdout cap.
type Runner struct {
	Bin       string
	Dir       string
	MaxOutput int
	Logger    *slog.Logger
}

func (r *Runner) Run(ctx context.Context, timeout time.Duration, args ...string) (*Result, error) {
	return r.run(ctx, timeout, r.MaxOutput, args...)
}

func (r *Runner) RunCapped(ctx context.Context, timeout time.Duration, limit int, args ...string) (*Result, error) {
	return r.run(ctx, timeout, limit, args...)
}

func (r *Runner) run(ctx context.Context, timeout time.Duration, limit int, args ...string) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if limit <= 0 {
		limit = DefaultMaxOutput
	}
	bin := strings.TrimSpace(r.Bin)
	if bin == "" {
		bin = "git"
	}

	deadlineCtx, cancelDeadline := context.WithTimeout(ctx, timeout)
	defer cancelDeadline()
	runCtx, kill := context.WithCancel(deadlineCtx)
	defer kill()

	cmd := exec.CommandContext(runCtx, bin, args...)
	cmd.Dir = r.Dir
	cmd.Env = append(os.Environ(), "GIT_OPTIONAL_LOCKS=0", "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")
	cmd.WaitDelay = 2 * time.Second

	stdout := &cappedBuffer{limit: limit, onFull: kill}
	stderr := &cappedBuffer{limit: maxStderr}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return nil, err
	}
	waitErr := cmd.Wait()

	res := &Result{Stderr: stderr.String()}
	if stdout.Full() {
		res.Stdout = trimPartialRecord(stdout.Bytes())
		res.Truncated = true
		r.logger().Debug("git output capped", "args", args, "limit", limit)
		return res, nil
	}
	res.Stdout = stdout.Bytes()

	if errors.Is(deadlineCtx.Err(), context.DeadlineExceeded) {
		r.logger().Warn("git timed out", "args", args, "timeout", timeout)
		return res, fmt.Errorf("%w: git %s after %s", ErrTimeout, strings.Join(args, " "), timeout)
	}
	if waitErr != nil {
		var ee *exec.ExitError
		if errors.As(waitErr, &ee) {
			return res, &ExitError{Args: args, Code: ee.ExitCode(), Stderr: res.Stderr}
		}
		return res, waitErr
	}

	r.logger().Debug("git", "args", args, "elapsed", time.Since(start))
	return res, nil
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r.Logger
}

// trimPartialRecord drops anything after the last newline or NUL.
func trimPartialRecord(b []byte) []byte {
	i := bytes.LastIndexAny(b, "\n\x00")
	if i < 0 {
		return nil
	}
	return b[:i+1]
}

type cappedBuffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	limit  int
	full   bool
	onFull func()
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.full {
		return len(p), nil
	}
	room := b.limit - b.buf.Len()
	if len(p) > room {
		b.buf.Write(p[:room])
		b.full = true
		if b.onFull != nil {
			b.onFull()
		}
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func (b *cappedBuffer) String() string {
	return string(b.Bytes())
}

func (b *cappedBuffer) Full() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.full
}
