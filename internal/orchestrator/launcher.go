package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"workbench/internal/backend"
)

// Process is a running backend: a request stream in, a reply stream out.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	// Wait blocks until the backend is gone.
	Wait() error
	Kill() error
}

type Launcher interface {
	Launch(ctx context.Context, projectID, root string) (Process, error)
}

// ExecLauncher runs the wbd binary, one process per project.
type ExecLauncher struct {
	Path string
	Args []string
	Env  []string
	// Stderr receives the backend's log output. Nil discards it.
	Stderr io.Writer
}

func (l ExecLauncher) Launch(ctx context.Context, projectID, root string) (Process, error) {
	if l.Path == "" {
		return nil, fmt.Errorf("backend path is required")
	}
	cmd := exec.Command(l.Path, l.Args...)
	cmd.Dir = root
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Stderr = l.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = io.Discard
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start backend for %s: %w", projectID, err)
	}
	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader      { return p.stdout }
func (p *execProcess) Wait() error            { return p.cmd.Wait() }

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// InProcessLauncher runs backend.Service on in-memory pipes. Kill cuts the
// pipes at once; the service itself winds down in the background.
type InProcessLauncher struct {
	Options backend.Options
}

func (l InProcessLauncher) Launch(ctx context.Context, projectID, root string) (Process, error) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	p := &inProcess{
		inW:    inW,
		outR:   outR,
		served: make(chan struct{}),
		killed: make(chan struct{}),
	}

	svc := backend.NewService(l.Options)
	go func() {
		defer close(p.served)
		_ = svc.Serve(context.Background(), inR, outW)
		_ = outW.Close()
	}()
	go func() {
		// Once killed, unblock a Serve that is still reading or writing.
		select {
		case <-p.killed:
			_ = inR.CloseWithError(io.ErrClosedPipe)
			_ = outW.CloseWithError(io.ErrClosedPipe)
		case <-p.served:
		}
	}()
	return p, nil
}

type inProcess struct {
	inW    *io.PipeWriter
	outR   *io.PipeReader
	served chan struct{}

	killOnce sync.Once
	killed   chan struct{}
}

func (p *inProcess) Stdin() io.WriteCloser { return p.inW }
func (p *inProcess) Stdout() io.Reader      { return p.outR }

func (p *inProcess) Wait() error {
	select {
	case <-p.served:
	case <-p.killed:
	}
	return nil
}

func (p *inProcess) Kill() error {
	p.killOnce.Do(func() {
		close(p.killed)
		_ = p.inW.CloseWithError(io.ErrClosedPipe)
		_ = p.outR.CloseWithError(io.ErrClosedPipe)
	})
	return nil
}
