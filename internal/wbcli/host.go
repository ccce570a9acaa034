package wbcli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"workbench/internal/backend"
	"workbench/internal/config"
	"workbench/internal/orchestrator"
)

// host bundles an orchestrator with its optional metrics endpoint.
type host struct {
	orch    *orchestrator.Orchestrator
	metrics *http.Server
	opts    *Options
}

func newHost(opts *Options) (*host, error) {
	cfg := opts.Config
	log := opts.Logger()

	exe, err := os.Executable()
	if err != nil {
		exe = ""
	}
	launcher, err := backendLauncher(cfg.Backend, exe, log)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	h := &host{
		opts: opts,
		orch: orchestrator.New(orchestrator.Options{
			Launcher:    launcher,
			IdleGrace:   cfg.IdleGrace.Std(),
			InitTimeout: cfg.InitTimeout.Std(),
			Settings:    cfg.Project,
			Metrics:     orchestrator.NewMetrics(reg),
			Logger:      log,
		}),
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		h.metrics = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := h.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("metrics endpoint stopped", "addr", cfg.MetricsAddr, "err", err)
			}
		}()
	}
	return h, nil
}

// backendLauncher picks how project backends run. Each one is a separate
// wbd process unless backend.path is "in-process". An empty path looks for
// wbd beside the running executable, then on PATH.
func backendLauncher(bc config.BackendConfig, exe string, log *slog.Logger) (orchestrator.Launcher, error) {
	switch bc.Path {
	case config.InProcessBackend:
		return orchestrator.InProcessLauncher{Options: backend.Options{Logger: log}}, nil
	case "":
		path, err := findBackend(exe)
		if err != nil {
			return nil, err
		}
		bc.Path = path
	}
	log.Debug("backend binary", "path", bc.Path)
	return orchestrator.ExecLauncher{Path: bc.Path, Args: bc.Args, Stderr: os.Stderr}, nil
}

func findBackend(exe string) (string, error) {
	name := "wbd"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	if exe != "" {
		beside := filepath.Join(filepath.Dir(exe), name)
		if info, err := os.Stat(beside); err == nil && !info.IsDir() {
			return beside, nil
		}
	}
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("%s not found next to %s or on PATH; set backend.path (or %q)", name, exe, config.InProcessBackend)
}

// registerRoot registers root under its absolute path and returns that id.
func (h *host) registerRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	return abs, h.orch.Register(abs, abs)
}

func (h *host) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.orch.Shutdown(ctx); err != nil {
		h.opts.Logger().Warn("shutdown", "err", err)
	}
	if h.metrics != nil {
		_ = h.metrics.Shutdown(ctx)
	}
	if h.opts.logCloser != nil {
		_ = h.opts.logCloser.Close()
	}
}
