package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"workbench/internal/core/pathguard"
	"workbench/internal/core/walk"
	"workbench/internal/model"
)

const (
	KindCreate = "create"
	KindChange = "change"
	KindRemove = "remove"
	KindRename = "rename"
)

// gitMetaFiles change when HEAD, the index or refs move. They invalidate
// caches but are not reported as changes.
var gitMetaFiles = map[string]struct{}{
	".git/HEAD":        {},
	".git/index":       {},
	".git/ORIG_HEAD":   {},
	".git/MERGE_HEAD":  {},
	".git/FETCH_HEAD":  {},
	".git/packed-refs": {},
}

type Options struct {
	Debounce time.Duration
	Rules    *walk.RuleSet
	Logger   *slog.Logger

	// OnInvalidate runs synchronously for every event, before any
	// notification for it is queued.
	OnInvalidate func()
	OnChanges    func(changes []model.WatchChange)
	OnError      func(err error)
}

type Watcher struct {
	rootAbs   string
	filter    *walk.Filter
	debouncer *Debouncer
	opts      Options
	log       *slog.Logger
	paused    *atomic.Bool

	watcher   *fsnotify.Watcher
	closeOnce sync.Once
	closed    chan struct{}
}

func NewWatcher(root string, opts Options) (*Watcher, error) {
	return newWatcher(root, opts, &atomic.Bool{})
}

func newWatcher(root string, opts Options, paused *atomic.Bool) (*Watcher, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root is required")
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	rootAbs = filepath.Clean(rootAbs)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	w := &Watcher{
		rootAbs:   rootAbs,
		filter:    walk.NewFilter(walk.Options{Rules: opts.Rules}),
		debouncer: NewDebouncer(opts.Debounce),
		opts:      opts,
		log:       log,
		paused:    paused,
		watcher:   fsw,
		closed:    make(chan struct{}),
	}
	w.debouncer.OnFire(func(changes []model.WatchChange) {
		if w.paused.Load() || w.opts.OnChanges == nil {
			return
		}
		w.opts.OnChanges(changes)
	})

	if err := w.addExistingDirs(); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	w.addGitDirs()

	return w, nil
}

func (w *Watcher) Close() error {
	if w == nil {
		return nil
	}

	w.closeOnce.Do(func() { close(w.closed) })
	w.debouncer.Stop()

	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}

// SetPaused drops queued changes when pausing. Events seen while paused
// still invalidate caches but are never delivered.
func (w *Watcher) SetPaused(paused bool) {
	if w == nil {
		return
	}
	w.paused.Store(paused)
	if paused {
		w.debouncer.Reset()
	}
}

func (w *Watcher) Run(ctx context.Context) error {
	if w == nil || w.watcher == nil {
		return fmt.Errorf("watcher is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.closed:
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", "root", w.rootAbs, "err", err)
			if w.opts.OnError != nil {
				w.opts.OnError(err)
			}
		}
	}
}

func (w *Watcher) addExistingDirs() error {
	return filepath.WalkDir(w.rootAbs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == w.rootAbs {
				return err
			}
			return filepath.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if p == w.rootAbs {
			return w.watcher.Add(p)
		}

		rel, ok := w.toRel(p)
		if !ok {
			return filepath.SkipDir
		}
		if !w.filter.ShouldInclude(rel, true) {
			return filepath.SkipDir
		}
		return w.add(p)
	})
}

// addGitDirs watches .git and .git/refs/heads without recursing into the
// object store.
func (w *Watcher) addGitDirs() {
	for _, dir := range []string{".git", ".git/refs/heads"} {
		abs := filepath.Join(w.rootAbs, filepath.FromSlash(dir))
		if st, err := os.Stat(abs); err == nil && st.IsDir() {
			_ = w.add(abs)
		}
	}
}

func (w *Watcher) add(abs string) error {
	if err := w.watcher.Add(abs); err != nil {
		// Directories can vanish between listing and adding.
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	rel, ok := w.toRel(ev.Name)
	if !ok || rel == "" {
		return
	}

	if rel == ".git" || strings.HasPrefix(rel, ".git/") {
		if isGitMeta(rel) && w.opts.OnInvalidate != nil {
			w.opts.OnInvalidate()
		}
		return
	}
	if walk.InSkippedDir(rel) {
		return
	}

	if w.opts.OnInvalidate != nil {
		w.opts.OnInvalidate()
	}

	isDir := false
	if ev.Op&(fsnotify.Create|fsnotify.Rename) != 0 {
		if st, err := os.Stat(ev.Name); err == nil && st.IsDir() {
			isDir = true
			if w.filter.ShouldInclude(rel, true) {
				_ = w.addDirRecursive(ev.Name)
			}
		}
	}

	if !w.filter.ShouldInclude(rel, isDir) || w.paused.Load() {
		return
	}

	switch {
	case ev.Op&fsnotify.Create != 0:
		w.debouncer.Push(rel, KindCreate)
	case ev.Op&fsnotify.Write != 0:
		w.debouncer.Push(rel, KindChange)
	case ev.Op&fsnotify.Remove != 0:
		w.debouncer.Push(rel, KindRemove)
	case ev.Op&fsnotify.Rename != 0:
		w.debouncer.Push(rel, KindRename)
	case ev.Op&fsnotify.Chmod != 0:
		w.debouncer.Push(rel, KindChange)
	}
}

func isGitMeta(rel string) bool {
	if _, ok := gitMetaFiles[rel]; ok {
		return true
	}
	return strings.HasPrefix(rel, ".git/refs/") && !strings.HasSuffix(rel, ".lock")
}

func (w *Watcher) toRel(abs string) (string, bool) {
	rel, ok := pathguard.Rel(w.rootAbs, abs)
	if !ok || rel == "" {
		return rel, ok
	}
	return path.Clean(rel), true
}

func (w *Watcher) addDirRecursive(absDir string) error {
	absDir = filepath.Clean(absDir)

	return filepath.WalkDir(absDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return filepath.SkipDir
		}
		if !d.IsDir() {
			return nil
		}

		rel, ok := w.toRel(p)
		if !ok {
			return nil
		}
		if !w.filter.ShouldInclude(rel, true) {
			return filepath.SkipDir
		}
		return w.add(p)
	})
}
