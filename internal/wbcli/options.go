package wbcli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"workbench/internal/config"
)

type Options struct {
	ConfigPath  string
	LogLevel    string
	LogFile     string
	BackendPath string
	MetricsAddr string

	Config config.Config

	logger    *slog.Logger
	logCloser io.Closer
}

// Prepare loads the config file and lets explicitly set flags override it.
func (o *Options) Prepare(cmd *cobra.Command) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = o.LogLevel
	}
	if flags.Changed("backend") {
		cfg.Backend.Path = strings.TrimSpace(o.BackendPath)
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = strings.TrimSpace(o.MetricsAddr)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	o.Config = cfg
	o.logger, o.logCloser = config.NewLogger(cfg.LogLevel, o.LogFile)
	return nil
}

func (o *Options) Logger() *slog.Logger {
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o.logger
}

type optionsKey struct{}

func optionsFrom(cmd *cobra.Command) *Options {
	if cmd == nil {
		return nil
	}
	root := cmd.Root()
	if root == nil {
		root = cmd
	}
	v := root.Context().Value(optionsKey{})
	opts, _ := v.(*Options)
	return opts
}

func bindFlags(cmd *cobra.Command, opts *Options) {
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", opts.ConfigPath, "config file (default: user config dir/workbench/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "log level: debug|info|warn|error")
	cmd.PersistentFlags().StringVar(&opts.LogFile, "log-file", opts.LogFile, "log file path (default: stderr)")
	cmd.PersistentFlags().StringVar(&opts.BackendPath, "backend", opts.BackendPath, "path to the wbd binary, or \"in-process\"; empty finds wbd next to wb")
	cmd.PersistentFlags().StringVar(&opts.MetricsAddr, "metrics-addr", opts.MetricsAddr, "serve Prometheus metrics on this address")
}

func ExecuteForTest(cmd *cobra.Command) (string, error) {
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

func newDefaultOptions() *Options {
	return &Options{LogLevel: "info"}
}

func withOptionsContext(cmd *cobra.Command, opts *Options) {
	cmd.SetContext(context.WithValue(context.Background(), optionsKey{}, opts))
}

func mustOptions(cmd *cobra.Command) (*Options, error) {
	opts := optionsFrom(cmd)
	if opts == nil {
		return nil, fmt.Errorf("options missing")
	}
	return opts, nil
}
