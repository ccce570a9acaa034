package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"workbench/internal/core/gitx"
	"workbench/internal/core/pathguard"
	"workbench/internal/core/search"
	"workbench/internal/core/walk"
	"workbench/internal/core/watch"
	"workbench/internal/lsp"
	"workbench/internal/model"
)

const closeTimeout = 5 * time.Second

type Options struct {
	Logger *slog.Logger
	// Defaults apply to every project; init settings override them.
	Defaults Settings
}

// project is everything bound by init. It never changes afterwards.
type project struct {
	root    string
	rules   *walk.RuleSet
	git     *gitx.Engine
	search  *search.Engine
	watcher *watch.Manager
	lsp     *lsp.Mux
}

// Service is the backend of one project root. It is driven by Serve or, in
// process, by Handle.
type Service struct {
	opts Options
	log  *slog.Logger

	mu   sync.RWMutex
	proj *project

	outMu sync.RWMutex
	out   *lineWriter

	closeOnce sync.Once
}

func NewService(opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{opts: opts, log: log}
}

// Serve reads requests from r until EOF and writes replies and events to w.
// Every request runs on its own goroutine; replies are written as they
// complete. On EOF Serve waits for in-flight requests, then releases the
// watcher and language servers.
func (s *Service) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	out := newLineWriter(w)
	s.outMu.Lock()
	s.out = out
	s.outMu.Unlock()

	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		s.Close()
	}()

	br := bufio.NewReaderSize(r, 64<<10)
	for {
		line, err := ReadOneLine(br)
		if err != nil {
			if errors.Is(err, ErrLineTooLong) {
				_ = out.Write(errReply{ID: nullID, Error: "bad_request", Message: err.Error()})
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		wg.Add(1)
		go func(line []byte) {
			defer wg.Done()
			reply := s.Handle(ctx, line)
			err := out.Write(reply)
			if ok, isOK := reply.(okReply); isOK && errors.Is(err, ErrLineTooLong) {
				err = out.Write(errReply{ID: ok.ID, Error: "result_too_large", Message: err.Error()})
			}
			if err != nil {
				s.log.Warn("write reply failed", "err", err)
			}
		}(line)
	}
}

var nullID = json.RawMessage("null")

// Handle executes one request line and returns its reply.
func (s *Service) Handle(ctx context.Context, line []byte) (reply any) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return errReply{ID: nullID, Error: "bad_request", Message: "invalid json"}
	}
	id := env.ID
	if len(id) == 0 {
		id = nullID
	}

	defer func() {
		if p := recover(); p != nil {
			s.log.Error("request panicked", "type", env.Type, "panic", p, "stack", string(debug.Stack()))
			reply = errReply{ID: id, Error: "internal_error", Message: fmt.Sprint(p)}
		}
	}()

	req, err := decodeRequest(env.Type, line)
	if err != nil {
		kind := "bad_request"
		if errors.Is(err, errUnknownRequest) {
			kind = "unknown_request"
		}
		return errReply{ID: id, Error: kind, Message: env.Type}
	}

	start := time.Now()
	result, err := s.dispatch(ctx, req)
	if err != nil {
		kind := failureKind(req, err)
		s.log.Debug("request failed", "type", env.Type, "kind", kind, "err", err, "elapsed", time.Since(start))
		return errReply{ID: id, Error: kind, Message: err.Error()}
	}
	s.log.Debug("request done", "type", env.Type, "elapsed", time.Since(start))
	if result == nil {
		result = struct{}{}
	}
	return okReply{ID: id, OK: true, Result: result}
}

func (s *Service) dispatch(ctx context.Context, req Request) (any, error) {
	if r, ok := req.(*InitRequest); ok {
		return s.init(r)
	}
	if _, ok := req.(*PingRequest); ok {
		return map[string]bool{"pong": true}, nil
	}

	p, err := s.project()
	if err != nil {
		return nil, err
	}

	switch r := req.(type) {
	case *ReadFileRequest:
		return p.readFile(r)
	case *WriteFileRequest:
		return p.writeFile(r)
	case *ListDirRequest:
		return p.listDir(r)
	case *StatRequest:
		return p.stat(r)
	case *MkdirRequest:
		return p.mkdir(r)
	case *RenameRequest:
		return p.rename(r)
	case *DeleteFileRequest:
		return p.deleteFile(r)
	case *DeleteDirRequest:
		return p.deleteDir(r)
	case *SearchPathsRequest:
		return p.search.Paths(ctx, search.PathQuery{
			Query:     r.Query,
			Limit:     r.Limit,
			UseIgnore: boolOr(r.UseIgnore, true),
		})

	case *GitStatusRequest:
		return p.git.Status(ctx)
	case *GitInfoRequest:
		return p.git.Info(ctx)
	case *GitChangesRequest:
		return p.git.Changes(ctx)
	case *GitDiffRequest:
		return p.git.Diff(ctx, r.Path, r.Staged)
	case *GitFileDiffRequest:
		return p.git.FileDiff(ctx, r.Path, r.Staged)
	case *GitStageRequest:
		return pathsResult(r.Paths), p.git.Stage(ctx, r.Paths)
	case *GitUnstageRequest:
		return pathsResult(r.Paths), p.git.Unstage(ctx, r.Paths)
	case *GitDiscardRequest:
		return pathsResult(r.Paths), p.git.Discard(ctx, r.Paths)
	case *GitCommitRequest:
		hash, err := p.git.Commit(ctx, r.Message, r.Amend)
		if err != nil {
			return nil, err
		}
		return &model.CommitResult{Hash: hash}, nil

	case *SearchContentRequest:
		return p.search.Search(ctx, r.query())
	case *ReplaceContentRequest:
		return p.search.Replace(ctx, search.ReplaceRequest{
			Query:       r.query(),
			Replacement: r.Replacement,
			MaxMatches:  r.MaxMatches,
			MaxFiles:    r.MaxFiles,
		})

	case *WatcherStartRequest:
		started, err := p.watcher.Start()
		if err != nil {
			return nil, err
		}
		return map[string]bool{"started": started, "running": true}, nil
	case *WatcherStopRequest:
		return map[string]bool{"stopped": p.watcher.Stop(), "running": false}, nil
	case *WatcherSetPausedRequest:
		p.watcher.SetPaused(r.Paused)
		return map[string]bool{"paused": r.Paused, "running": p.watcher.Running()}, nil

	case *LSPDidOpenRequest:
		if strings.TrimSpace(r.LanguageID) == "" {
			return nil, fmt.Errorf("%w: languageId is required", errBadRequest)
		}
		return p.lsp.DidOpen(ctx, r.LanguageID, r.Path, r.Text)
	case *LSPDidChangeRequest:
		return p.lsp.DidChange(ctx, r.Path, r.Text)
	case *LSPDidCloseRequest:
		return map[string]bool{"closed": true}, p.lsp.DidClose(r.Path)
	case *LSPRequestRequest:
		return p.lsp.Request(ctx, r.LanguageID, r.Method, r.Path, r.Line, r.Character)

	case *InitRequest, *PingRequest:
		return nil, errBadRequest
	default:
		return nil, errUnknownRequest
	}
}

func (r *SearchContentRequest) query() search.Query {
	return search.Query{
		Pattern:       r.Query,
		Regex:         r.Regex,
		CaseSensitive: r.CaseSensitive,
		WholeWord:     r.WholeWord,
		Include:       r.Include,
		Exclude:       r.Exclude,
		UseIgnore:     boolOr(r.UseIgnore, true),
		MaxResults:    r.MaxResults,
	}
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func pathsResult(paths []string) map[string]int {
	return map[string]int{"paths": len(paths)}
}

func (s *Service) project() (*project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.proj == nil {
		return nil, errNotInitialized
	}
	return s.proj, nil
}

// Root returns the bound project root, or "" before init.
func (s *Service) Root() string {
	p, err := s.project()
	if err != nil {
		return ""
	}
	return p.root
}

type initResult struct {
	Root         string   `json:"root"`
	IgnoreRules  int      `json:"ignoreRules"`
	DroppedRules []string `json:"droppedRules,omitempty"`
}

func (s *Service) init(req *InitRequest) (any, error) {
	root := strings.TrimSpace(req.Root)
	if root == "" || !filepath.IsAbs(root) {
		return nil, pathguard.ErrInvalidRoot
	}
	root = filepath.Clean(root)
	st, err := os.Stat(root)
	if err != nil || !st.IsDir() {
		return nil, fmt.Errorf("%w: %s", pathguard.ErrInvalidRoot, root)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proj != nil {
		if s.proj.root != root {
			return nil, fmt.Errorf("%w: bound to %s", errRootImmutable, s.proj.root)
		}
		return s.proj.initResult(), nil
	}

	p, err := s.newProject(root, mergeSettings(s.opts.Defaults, req.Settings))
	if err != nil {
		return nil, err
	}
	s.proj = p
	s.log.Info("project initialized", "root", root, "ignore_rules", len(p.rules.Rules()))
	return p.initResult(), nil
}

func (p *project) initResult() initResult {
	return initResult{
		Root:         p.root,
		IgnoreRules:  len(p.rules.Rules()),
		DroppedRules: p.rules.Dropped(),
	}
}

func (s *Service) newProject(root string, set Settings) (*project, error) {
	rules, err := walk.LoadRules(root)
	if err != nil {
		s.log.Warn("ignore rules unreadable", "root", root, "err", err)
		rules = walk.ParseRules(nil)
	}
	for _, d := range rules.Dropped() {
		s.log.Warn("ignore pattern dropped", "pattern", d)
	}

	p := &project{root: root, rules: rules}
	p.git = gitx.NewEngine(gitx.Options{
		Root:    root,
		GitPath: set.GitPath,
		Logger:  s.log.With("component", "git"),
	})
	p.search = search.NewEngine(search.Options{
		Root:           root,
		RipgrepPath:    set.RipgrepPath,
		DisableRipgrep: set.DisableRipgrep,
		Timeout:        time.Duration(set.SearchTimeoutMS) * time.Millisecond,
		Rules:          rules,
		Logger:         s.log.With("component", "search"),
	})
	p.watcher = watch.NewManager(root, watch.Options{
		Debounce:     time.Duration(set.DebounceMS) * time.Millisecond,
		Rules:        rules,
		Logger:       s.log.With("component", "watch"),
		OnInvalidate: p.git.Invalidate,
		OnChanges: func(changes []model.WatchChange) {
			s.emit(model.WatcherEvent{Type: model.EventWatcher, Changes: changes})
		},
		OnError: func(err error) {
			s.emit(model.WatcherErrorEvent{Type: model.EventWatcherError, Message: err.Error()})
		},
	})
	mux, err := lsp.NewMux(lsp.Options{
		Root:    root,
		Servers: set.LSPServers,
		Logger:  s.log.With("component", "lsp"),
		OnEvent: s.emit,
	})
	if err != nil {
		return nil, err
	}
	p.lsp = mux
	return p, nil
}

func mergeSettings(base, over Settings) Settings {
	out := base
	if over.GitPath != "" {
		out.GitPath = over.GitPath
	}
	if over.RipgrepPath != "" {
		out.RipgrepPath = over.RipgrepPath
	}
	if over.DisableRipgrep {
		out.DisableRipgrep = true
	}
	if over.SearchTimeoutMS > 0 {
		out.SearchTimeoutMS = over.SearchTimeoutMS
	}
	if over.DebounceMS > 0 {
		out.DebounceMS = over.DebounceMS
	}
	// One chain so an empty command at any layer stays disabled.
	out.LSPServers = lsp.MergeServers(lsp.MergeServers(lsp.DefaultServers(), base.LSPServers), over.LSPServers)
	return out
}

// emit writes an unsolicited event line. Events raised before Serve has a
// stream are dropped.
func (s *Service) emit(event any) {
	s.outMu.RLock()
	out := s.out
	s.outMu.RUnlock()
	if out == nil {
		return
	}
	if err := out.Write(event); err != nil {
		s.log.Warn("write event failed", "err", err)
	}
}

// Close stops the watcher and shuts down language servers. It is safe to
// call more than once.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		p, err := s.project()
		if err != nil {
			return
		}
		p.watcher.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		p.lsp.Close(ctx)
	})
}
