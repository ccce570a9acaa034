package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"workbench/internal/core/walk"
	"workbench/internal/model"
)

const (
	DefaultTimeout    = 10 * time.Second
	DefaultMaxResults = 2000
	DefaultMaxMatches = 5000
	DefaultMaxFiles   = 1000
	maxScanFileSize   = 4 << 20

	EngineRipgrep  = "ripgrep"
	EngineFallback = "fallback"
)

type Options struct {
	Root           string
	RipgrepPath    string
	DisableRipgrep bool
	Timeout        time.Duration
	Rules          *walk.RuleSet
	Logger         *slog.Logger
}

// Engine searches one project root, preferring ripgrep and falling back to
// a built-in scanner when ripgrep cannot be started.
type Engine struct {
	opts Options
	log  *slog.Logger

	rgOnce sync.Once
	rgPath string
}

func NewEngine(opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{opts: opts, log: log}
}

// ripgrep resolves the ripgrep binary once; "" means unavailable.
func (e *Engine) ripgrep() string {
	e.rgOnce.Do(func() {
		if e.opts.DisableRipgrep {
			return
		}
		name := strings.TrimSpace(e.opts.RipgrepPath)
		if name == "" {
			name = "rg"
		}
		p, err := exec.LookPath(name)
		if err != nil {
			e.log.Info("ripgrep unavailable, using built-in scanner", "rg", name, "err", err)
			return
		}
		e.rgPath = p
	})
	return e.rgPath
}

var errRipgrepStart = errors.New("ripgrep failed to start")

func (e *Engine) Search(ctx context.Context, q Query) (*model.SearchResult, error) {
	if q.MaxResults <= 0 {
		q.MaxResults = DefaultMaxResults
	}
	m, err := Compile(q)
	if err != nil {
		return nil, err
	}

	if rg := e.ripgrep(); rg != "" {
		res, err := e.searchRipgrep(ctx, rg, q, m)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, errRipgrepStart) {
			return nil, err
		}
		e.log.Warn("ripgrep failed, falling back", "err", err)
	}
	return e.searchFallback(ctx, q, m)
}

// collector applies the result budget. The match that overflows it is
// counted before the search stops, so totals never fall below the returned
// list.
type collector struct {
	max    int
	res    *model.SearchResult
	files  map[string]struct{}
	closed bool
}

func newCollector(max int, engine string) *collector {
	return &collector{
		max:   max,
		res:   &model.SearchResult{Matches: []model.SearchMatch{}, Engine: engine},
		files: map[string]struct{}{},
	}
}

// add records one match and reports whether the caller should continue.
func (c *collector) add(m model.SearchMatch) bool {
	c.res.TotalMatches++
	if _, ok := c.files[m.RelativePath]; !ok {
		c.files[m.RelativePath] = struct{}{}
		c.res.TotalFiles++
	}
	if len(c.res.Matches) >= c.max {
		c.res.Truncated = true
		c.closed = true
		return false
	}
	c.res.Matches = append(c.res.Matches, m)
	return true
}
