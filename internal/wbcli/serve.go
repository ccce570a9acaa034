package wbcli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"workbench/internal/backend"
	"workbench/internal/orchestrator"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Host project backends for a UI over JSONL on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := mustOptions(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			h, err := newHost(opts)
			if err != nil {
				return err
			}
			defer h.Close()
			return ServeHost(ctx, h.orch, cmd.InOrStdin(), cmd.OutOrStdout(), opts.Logger())
		},
	}
}

type hostRequest struct {
	ID        json.RawMessage      `json:"id"`
	Op        string               `json:"op"`
	ProjectID string               `json:"projectId"`
	Root      string               `json:"root"`
	Type      string               `json:"type"`
	Fields    map[string]any       `json:"fields"`
	WindowID  string               `json:"windowId"`
	Window    *orchestrator.Window `json:"window"`
}

type hostOK struct {
	ID     json.RawMessage `json:"id"`
	OK     bool            `json:"ok"`
	Result any             `json:"result"`
}

type hostErr struct {
	ID      json.RawMessage `json:"id"`
	OK      bool            `json:"ok"`
	Error   string          `json:"error"`
	Message string          `json:"message,omitempty"`
}

type hostEvent struct {
	Event orchestrator.Event `json:"event"`
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return backend.WriteOneLine(s.w, v)
}

// ServeHost runs the host protocol until r ends or ctx is cancelled. Every
// op runs on its own goroutine; backend events are interleaved as
// {"event":{...}} lines.
func ServeHost(ctx context.Context, orch *orchestrator.Orchestrator, r io.Reader, w io.Writer, log *slog.Logger) error {
	out := &syncWriter{w: w}
	events, cancel := orch.Subscribe(0)
	defer cancel()

	var fwd sync.WaitGroup
	fwd.Add(1)
	go func() {
		defer fwd.Done()
		for ev := range events {
			if err := out.write(hostEvent{Event: ev}); err != nil {
				log.Warn("write event failed", "err", err)
			}
		}
	}()

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	var wg sync.WaitGroup
	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		br := bufio.NewReaderSize(r, 64<<10)
		for {
			line, err := backend.ReadOneLine(br)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	var err error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err = <-readErr:
			if errors.Is(err, io.EOF) {
				err = nil
			}
			break loop
		case line := <-lines:
			wg.Add(1)
			go func() {
				defer wg.Done()
				if werr := out.write(handleHostLine(ctx, orch, line)); werr != nil {
					log.Warn("write reply failed", "err", werr)
				}
			}()
		}
	}
	wg.Wait()
	cancel()
	fwd.Wait()
	return err
}

func handleHostLine(ctx context.Context, orch *orchestrator.Orchestrator, line []byte) any {
	var req hostRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return hostErr{ID: json.RawMessage("null"), Error: "bad_request", Message: err.Error()}
	}
	if len(req.ID) == 0 {
		req.ID = json.RawMessage("null")
	}
	res, err := runHostOp(ctx, orch, req)
	if err != nil {
		var rerr *orchestrator.RequestError
		if errors.As(err, &rerr) {
			return hostErr{ID: req.ID, Error: rerr.Kind, Message: rerr.Message}
		}
		return hostErr{ID: req.ID, Error: "internal_error", Message: err.Error()}
	}
	return hostOK{ID: req.ID, OK: true, Result: res}
}

func runHostOp(ctx context.Context, orch *orchestrator.Orchestrator, req hostRequest) (any, error) {
	switch req.Op {
	case "register":
		if err := orch.Register(req.ProjectID, req.Root); err != nil {
			return nil, err
		}
		return map[string]any{"projectId": req.ProjectID, "running": orch.Running(req.ProjectID)}, nil
	case "unregister":
		return map[string]bool{"removed": orch.Unregister(req.ProjectID)}, nil
	case "send":
		if req.Type == "" {
			return nil, &orchestrator.RequestError{Kind: "bad_request", Message: "type is required"}
		}
		return orch.Send(ctx, req.ProjectID, req.Type, req.Fields)
	case "window":
		if req.WindowID == "" || req.Window == nil {
			return nil, &orchestrator.RequestError{Kind: "bad_request", Message: "windowId and window are required"}
		}
		if req.Window.Active < 0 || req.Window.Active >= orchestrator.SlotCount {
			return nil, &orchestrator.RequestError{Kind: "bad_request", Message: fmt.Sprintf("active slot %d out of range", req.Window.Active)}
		}
		if err := orch.SetWindow(ctx, req.WindowID, *req.Window); err != nil {
			return nil, err
		}
		return map[string]any{"visible": orch.Visible()}, nil
	case "closeWindow":
		if err := orch.CloseWindow(ctx, req.WindowID); err != nil {
			return nil, err
		}
		return map[string]any{"visible": orch.Visible()}, nil
	case "freeze":
		return map[string]bool{"frozen": orch.Freeze(req.ProjectID)}, nil
	default:
		return nil, &orchestrator.RequestError{Kind: "unknown_request", Message: req.Op}
	}
}
