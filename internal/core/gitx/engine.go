package gitx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"workbench/internal/core/cache"
	"workbench/internal/core/pathguard"
	"workbench/internal/model"
)

const (
	InfoTimeout     = 4 * time.Second
	StatusTimeout   = 8 * time.Second
	DiffTimeout     = 15 * time.Second
	MutateTimeout   = 20 * time.Second
	CommitTimeout   = 45 * time.Second
	DefaultCacheTTL = 1200 * time.Millisecond

	DefaultMaxStatusEntries = 5000
	DefaultMaxDiffBytes     = 2 << 20
	pathBatchSize           = 200
)

type Options struct {
	Root             string
	GitPath          string
	CacheTTL         time.Duration
	MaxStatusEntries int
	MaxDiffBytes     int
	Logger           *slog.Logger
}

// Engine runs git for one project root and caches the read-mostly views.
type Engine struct {
	root   string
	runner *Runner
	log    *slog.Logger
	opts   Options

	status    *cache.TTL[*model.StatusResult]
	info      *cache.TTL[*model.RepoInfo]
	changes   *cache.TTL[*model.Changes]
	fileDiffs *cache.LRU[fileDiffKey, *model.FileDiff]
	flight    singleflight.Group

	prefixMu  sync.Mutex
	prefix    string
	prefixSet bool
}

func NewEngine(opts Options) *Engine {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.MaxStatusEntries <= 0 {
		opts.MaxStatusEntries = DefaultMaxStatusEntries
	}
	if opts.MaxDiffBytes <= 0 {
		opts.MaxDiffBytes = DefaultMaxDiffBytes
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		root:      opts.Root,
		runner:    &Runner{Bin: opts.GitPath, Dir: opts.Root, Logger: log},
		log:       log,
		opts:      opts,
		status:    cache.NewTTL[*model.StatusResult](opts.CacheTTL),
		info:      cache.NewTTL[*model.RepoInfo](opts.CacheTTL),
		changes:   cache.NewTTL[*model.Changes](opts.CacheTTL),
		fileDiffs: cache.NewLRU[fileDiffKey, *model.FileDiff](64, opts.CacheTTL),
	}
}

// Invalidate drops every cached view. The watcher calls it synchronously for
// each filesystem event.
func (e *Engine) Invalidate() {
	if e == nil {
		return
	}
	e.status.Invalidate()
	e.info.Invalidate()
	e.changes.Invalidate()
	e.fileDiffs.Purge()
}

func cached[T any](e *Engine, key string, c *cache.TTL[T], compute func() (T, error)) (T, error) {
	v, gen, ok := c.Get()
	if ok {
		return v, nil
	}
	// Keyed by generation so callers arriving after an invalidation never
	// join a flight that started before it.
	res, err, _ := e.flight.Do(key+"@"+strconv.FormatUint(gen, 10), func() (any, error) {
		v, err := compute()
		if err != nil {
			return nil, err
		}
		c.Store(gen, v)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

func (e *Engine) Status(ctx context.Context) (*model.StatusResult, error) {
	return cached(e, "status", e.status, func() (*model.StatusResult, error) {
		res, err := e.runner.Run(ctx, StatusTimeout, "status", "--porcelain=v1", "-z", "--untracked-files=all", "--", ".")
		if err != nil {
			return nil, notRepo(err)
		}
		entries, truncated := ParseStatusZ(res.Stdout, e.opts.MaxStatusEntries)
		entries = stripPrefix(entries, e.repoPrefix(ctx))
		if entries == nil {
			entries = []model.StatusEntry{}
		}
		return &model.StatusResult{Entries: entries, Truncated: truncated || res.Truncated}, nil
	})
}

func (e *Engine) Info(ctx context.Context) (*model.RepoInfo, error) {
	return cached(e, "info", e.info, func() (*model.RepoInfo, error) {
		res, err := e.runner.Run(ctx, InfoTimeout, "rev-parse", "--is-inside-work-tree", "--show-toplevel")
		if err != nil {
			if _, ok := exitCode(err); ok {
				return &model.RepoInfo{IsRepo: false}, nil
			}
			return nil, err
		}
		lines := strings.Split(strings.TrimSpace(string(res.Stdout)), "\n")
		info := &model.RepoInfo{IsRepo: len(lines) > 0 && strings.TrimSpace(lines[0]) == "true"}
		if !info.IsRepo {
			return info, nil
		}
		if len(lines) > 1 {
			info.TopLevel = strings.TrimSpace(lines[1])
		}

		if res, err := e.runner.Run(ctx, InfoTimeout, "symbolic-ref", "--short", "-q", "HEAD"); err == nil {
			info.Branch = strings.TrimSpace(string(res.Stdout))
		} else if _, ok := exitCode(err); ok {
			info.Detached = true
		} else {
			return nil, err
		}
		if res, err := e.runner.Run(ctx, InfoTimeout, "rev-parse", "--short", "HEAD"); err == nil {
			info.Head = strings.TrimSpace(string(res.Stdout))
		} else if _, ok := exitCode(err); !ok {
			return nil, err
		}
		return info, nil
	})
}

func (e *Engine) Changes(ctx context.Context) (*model.Changes, error) {
	return cached(e, "changes", e.changes, func() (*model.Changes, error) {
		st, err := e.Status(ctx)
		if err != nil {
			return nil, err
		}
		return BucketChanges(st.Entries, st.Truncated), nil
	})
}

// repoPrefix is the root's path inside the repository, with a trailing slash,
// or "" when the root is the top level.
func (e *Engine) repoPrefix(ctx context.Context) string {
	e.prefixMu.Lock()
	defer e.prefixMu.Unlock()
	if e.prefixSet {
		return e.prefix
	}
	res, err := e.runner.Run(ctx, InfoTimeout, "rev-parse", "--show-prefix")
	if err != nil {
		return ""
	}
	e.prefix = strings.TrimSpace(string(res.Stdout))
	e.prefixSet = true
	return e.prefix
}

// stripPrefix rewrites repository-relative porcelain paths to root-relative
// ones.
func stripPrefix(entries []model.StatusEntry, prefix string) []model.StatusEntry {
	if prefix == "" {
		return entries
	}
	out := entries[:0]
	for _, en := range entries {
		if !strings.HasPrefix(en.Path, prefix) {
			continue
		}
		en.Path = strings.TrimPrefix(en.Path, prefix)
		en.RenameFrom = strings.TrimPrefix(en.RenameFrom, prefix)
		out = append(out, en)
	}
	return out
}

func notRepo(err error) error {
	var ee *ExitError
	if errors.As(err, &ee) && strings.Contains(strings.ToLower(ee.Stderr), "not a git repository") {
		return fmt.Errorf("%w: %v", ErrNotRepository, err)
	}
	return err
}

func batches(paths []string, size int) [][]string {
	var out [][]string
	for len(paths) > size {
		out = append(out, paths[:size])
		paths = paths[size:]
	}
	if len(paths) > 0 {
		out = append(out, paths)
	}
	return out
}

// checkPaths normalizes caller paths and rejects any that leave the root.
func (e *Engine) checkPaths(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	seen := map[string]struct{}{}
	for _, p := range paths {
		p = strings.TrimLeft(strings.TrimSpace(p), `/\`)
		if p == "" {
			continue
		}
		abs, err := pathguard.Resolve(e.root, p)
		if err != nil {
			return nil, err
		}
		rel, _ := pathguard.Rel(e.root, abs)
		if rel == "" {
			rel = "."
		}
		if _, ok := seen[rel]; ok {
			continue
		}
		seen[rel] = struct{}{}
		out = append(out, rel)
	}
	return out, nil
}
