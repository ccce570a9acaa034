package lsp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

const shutdownGrace = 2 * time.Second

// server is one running language server process.
type server struct {
	languageID string
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	conn       *Conn

	ready   chan struct{}
	initErr error

	exited   chan struct{}
	exitCode int
}

func startServer(root, languageID string, cfg ServerConfig, h Handlers) (*server, error) {
	bin, err := exec.LookPath(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, cfg.Command)
	}

	cmd := exec.Command(bin, cfg.Args...)
	cmd.Dir = root
	cmd.Stderr = io.Discard

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStdioUnavailable, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("%w: %v", ErrStdioUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrServerNotFound, cfg.Command)
		}
		return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
	}

	return &server{
		languageID: languageID,
		cmd:        cmd,
		stdin:      stdin,
		conn:       NewConn(stdout, stdin, h),
		ready:      make(chan struct{}),
		exited:     make(chan struct{}),
		exitCode:   -1,
	}, nil
}

// run serves the connection and reaps the process. It closes exited when
// the server is gone.
func (s *server) run() {
	_ = s.conn.Run()
	_ = s.stdin.Close()
	_ = s.cmd.Wait()
	if s.cmd.ProcessState != nil {
		s.exitCode = s.cmd.ProcessState.ExitCode()
	}
	close(s.exited)
}

func (s *server) initialize(ctx context.Context, root string) error {
	rootURI := uri.File(root)
	params := protocol.InitializeParams{
		ProcessID: int32(os.Getpid()),
		RootURI:   protocol.DocumentURI(rootURI),
		RootPath:  root,
		ClientInfo: &protocol.ClientInfo{
			Name: "workbench",
		},
		WorkspaceFolders: []protocol.WorkspaceFolder{
			{URI: string(rootURI), Name: filepath.Base(root)},
		},
	}
	if _, err := s.conn.Call(ctx, "initialize", params); err != nil {
		return fmt.Errorf("%w: %v", ErrInitializeFailed, err)
	}
	if err := s.conn.Notify("initialized", struct{}{}); err != nil {
		return fmt.Errorf("%w: %v", ErrInitializeFailed, err)
	}
	return nil
}

// waitReady blocks until the handshake finished or ctx is done.
func (s *server) waitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return s.initErr
	case <-s.exited:
		select {
		case <-s.ready:
			if s.initErr != nil {
				return s.initErr
			}
		default:
		}
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *server) shutdown(ctx context.Context) {
	select {
	case <-s.exited:
		return
	default:
	}

	sctx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()
	_, _ = s.conn.Call(sctx, "shutdown", nil)
	_ = s.conn.Notify("exit", nil)
	_ = s.stdin.Close()

	select {
	case <-s.exited:
	case <-time.After(shutdownGrace):
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		<-s.exited
	}
}
