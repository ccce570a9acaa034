package gitx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrCommitMessageRequired = errors.New("commit_message_required")

// Stage adds the given paths, including deletions. No paths stages the
// whole root.
func (e *Engine) Stage(ctx context.Context, paths []string) error {
	defer e.Invalidate()

	clean, err := e.checkPaths(paths)
	if err != nil {
		return err
	}
	if len(clean) == 0 {
		_, err := e.runner.Run(ctx, MutateTimeout, "add", "-A", "--", ".")
		return err
	}
	for _, batch := range batches(clean, pathBatchSize) {
		args := append([]string{"add", "-A", "--"}, batch...)
		if _, err := e.runner.Run(ctx, MutateTimeout, args...); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) Unstage(ctx context.Context, paths []string) error {
	defer e.Invalidate()

	clean, err := e.checkPaths(paths)
	if err != nil {
		return err
	}
	if len(clean) == 0 {
		clean = []string{"."}
	}

	hasHead := true
	if _, err := e.runner.Run(ctx, InfoTimeout, "rev-parse", "--verify", "-q", "HEAD"); err != nil {
		if _, ok := exitCode(err); !ok {
			return err
		}
		hasHead = false
	}

	for _, batch := range batches(clean, pathBatchSize) {
		var args []string
		if hasHead {
			args = append([]string{"reset", "-q", "HEAD", "--"}, batch...)
		} else {
			args = append([]string{"rm", "--cached", "-r", "-q", "--ignore-unmatch", "--"}, batch...)
		}
		if _, err := e.runner.Run(ctx, MutateTimeout, args...); err != nil {
			return err
		}
	}
	return nil
}

// Discard throws away working tree changes. Untracked paths are deleted with
// clean, tracked paths are restored from the index with checkout.
func (e *Engine) Discard(ctx context.Context, paths []string) error {
	defer e.Invalidate()

	clean, err := e.checkPaths(paths)
	if err != nil {
		return err
	}
	if len(clean) == 0 {
		return nil
	}

	e.Invalidate()
	ch, err := e.Changes(ctx)
	if err != nil {
		return err
	}

	var untracked, tracked []string
	for _, p := range clean {
		if ch.Letters[p] == "?" {
			untracked = append(untracked, p)
		} else {
			tracked = append(tracked, p)
		}
	}

	for _, batch := range batches(untracked, pathBatchSize) {
		args := append([]string{"clean", "-f", "-q", "--"}, batch...)
		if _, err := e.runner.Run(ctx, MutateTimeout, args...); err != nil {
			return err
		}
	}
	for _, batch := range batches(tracked, pathBatchSize) {
		args := append([]string{"checkout", "-q", "--"}, batch...)
		if _, err := e.runner.Run(ctx, MutateTimeout, args...); err != nil {
			return err
		}
	}
	return nil
}

// Commit writes the message to a temporary file and passes it with -F, so
// no quoting of the message is involved. It returns the new HEAD hash.
func (e *Engine) Commit(ctx context.Context, message string, amend bool) (string, error) {
	defer e.Invalidate()

	args := []string{"commit", "-q"}
	if amend {
		args = append(args, "--amend")
	}

	if strings.TrimSpace(message) == "" {
		if !amend {
			return "", ErrCommitMessageRequired
		}
		args = append(args, "--no-edit")
	} else {
		f, err := os.CreateTemp("", "wb-commit-*.txt")
		if err != nil {
			return "", err
		}
		defer os.Remove(f.Name())
		if _, err := f.WriteString(message); err != nil {
			_ = f.Close()
			return "", err
		}
		if err := f.Close(); err != nil {
			return "", err
		}
		args = append(args, "-F", f.Name())
	}

	if _, err := e.runner.Run(ctx, CommitTimeout, args...); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	res, err := e.runner.Run(ctx, InfoTimeout, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(res.Stdout)), nil
}
