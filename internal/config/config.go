package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"workbench/internal/backend"
)

const (
	DefaultIdleGrace   = 2 * time.Minute
	DefaultInitTimeout = 30 * time.Second
)

// Config is the wb host configuration file.
type Config struct {
	Backend     BackendConfig    `yaml:"backend"`
	IdleGrace   Duration         `yaml:"idle_grace"`
	InitTimeout Duration         `yaml:"init_timeout"`
	LogLevel    string           `yaml:"log_level"`
	MetricsAddr string           `yaml:"metrics_addr,omitempty"`
	Project     backend.Settings `yaml:"project"`
}

// InProcessBackend as backend.path runs backends inside the wb process.
const InProcessBackend = "in-process"

// BackendConfig selects how backends are started. An empty Path runs the wbd
// found next to wb or on PATH.
type BackendConfig struct {
	Path string   `yaml:"path,omitempty"`
	Args []string `yaml:"args,omitempty"`
}

// Duration accepts Go duration strings ("90s", "2m") in YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", n.Line, s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func Default() Config {
	return Config{
		IdleGrace:   Duration(DefaultIdleGrace),
		InitTimeout: Duration(DefaultInitTimeout),
		LogLevel:    "info",
	}
}

// DefaultPath is $XDG_CONFIG_HOME/workbench/config.yaml or its equivalent.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user config directory: %w", err)
	}
	return filepath.Join(dir, "workbench", "config.yaml"), nil
}

// Load reads path over the defaults. An empty path means DefaultPath, and a
// missing default file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return cfg, nil
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.IdleGrace < 0 {
		return fmt.Errorf("idle_grace must be >= 0")
	}
	if c.InitTimeout < 0 {
		return fmt.Errorf("init_timeout must be >= 0")
	}
	if c.Project.SearchTimeoutMS < 0 {
		return fmt.Errorf("project.search_timeout_ms must be >= 0")
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q (expected: debug|info|warn|error)", c.LogLevel)
	}
	for lang, s := range c.Project.LSPServers {
		if strings.TrimSpace(lang) == "" {
			return fmt.Errorf("project.lsp_servers: empty language id")
		}
		if len(s.Args) > 0 && strings.TrimSpace(s.Command) == "" {
			return fmt.Errorf("project.lsp_servers.%s: args without command", lang)
		}
	}
	return nil
}

// Write saves cfg as YAML, creating parent directories.
func Write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
