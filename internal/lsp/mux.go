package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"workbench/internal/core/pathguard"
	"workbench/internal/model"
)

const (
	DefaultInitTimeout    = 20 * time.Second
	DefaultRequestTimeout = 15 * time.Second
)

// Methods that Request forwards. Everything else is rejected.
var allowedMethods = map[string]struct{}{
	"textDocument/completion":     {},
	"textDocument/hover":          {},
	"textDocument/definition":     {},
	"textDocument/documentSymbol": {},
}

type Options struct {
	Root           string
	Servers        map[string]ServerConfig
	InitTimeout    time.Duration
	RequestTimeout time.Duration
	Logger         *slog.Logger

	// OnEvent receives model.DiagnosticsEvent and model.LSPExitEvent values.
	OnEvent func(event any)
}

// Document is an open text document tracked by the multiplexer.
type Document struct {
	URI        string `json:"uri"`
	Version    int    `json:"version"`
	LanguageID string `json:"languageId"`

	path string
	text string
}

// Mux runs one language server per language id and keeps the open document
// table for all of them.
type Mux struct {
	root    string
	servers map[string]ServerConfig
	opts    Options
	log     *slog.Logger

	mu      sync.Mutex
	running map[string]*server
	docs    map[string]*Document
	closed  bool
}

func NewMux(opts Options) (*Mux, error) {
	if strings.TrimSpace(opts.Root) == "" {
		return nil, pathguard.ErrInvalidRoot
	}
	if opts.Servers == nil {
		opts.Servers = DefaultServers()
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = DefaultInitTimeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Mux{
		root:    opts.Root,
		servers: opts.Servers,
		opts:    opts,
		log:     log,
		running: map[string]*server{},
		docs:    map[string]*Document{},
	}, nil
}

// DidOpen tracks the document at version 1. Opening an already open path
// closes the previous document first.
func (m *Mux) DidOpen(ctx context.Context, languageID, rel, text string) (*Document, error) {
	abs, err := pathguard.Resolve(m.root, rel)
	if err != nil {
		return nil, err
	}
	rel, _ = pathguard.Rel(m.root, abs)

	m.mu.Lock()
	prev := m.docs[rel]
	delete(m.docs, rel)
	m.mu.Unlock()
	if prev != nil {
		m.notifyClose(prev)
	}

	s, err := m.ensure(ctx, languageID)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		URI:        string(uri.File(abs)),
		Version:    1,
		LanguageID: languageID,
		path:       rel,
		text:       text,
	}
	m.mu.Lock()
	m.docs[rel] = doc
	out := *doc
	m.mu.Unlock()

	if err := s.conn.Notify("textDocument/didOpen", didOpenParams(doc)); err != nil {
		return nil, fmt.Errorf("didOpen: %w", err)
	}
	return &out, nil
}

// DidChange replaces the document text and bumps its version.
func (m *Mux) DidChange(ctx context.Context, rel, text string) (*Document, error) {
	rel, err := m.relKey(rel)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	doc := m.docs[rel]
	m.mu.Unlock()
	if doc == nil {
		return nil, ErrDocumentNotOpen
	}

	// A respawned server replays the table, so bump only once it is ready.
	s, err := m.ensure(ctx, doc.LanguageID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.docs[rel] != doc {
		m.mu.Unlock()
		return nil, ErrDocumentNotOpen
	}
	doc.Version++
	doc.text = text
	out := *doc
	m.mu.Unlock()
	params := didChangeParams{
		TextDocument:   versionedDocument{URI: out.URI, Version: out.Version},
		ContentChanges: []fullChange{{Text: text}},
	}
	if err := s.conn.Notify("textDocument/didChange", params); err != nil {
		return nil, fmt.Errorf("didChange: %w", err)
	}
	return &out, nil
}

// DidClose forgets the document. Closing an unknown path is a no-op.
func (m *Mux) DidClose(rel string) error {
	rel, err := m.relKey(rel)
	if err != nil {
		return err
	}
	m.mu.Lock()
	doc := m.docs[rel]
	delete(m.docs, rel)
	m.mu.Unlock()
	if doc != nil {
		m.notifyClose(doc)
	}
	return nil
}

// Request forwards a position-based query for an open document. languageID
// may be empty, in which case the document's language is used.
func (m *Mux) Request(ctx context.Context, languageID, method, rel string, line, character int) (json.RawMessage, error) {
	if _, ok := allowedMethods[method]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrMethodUnsupported, method)
	}
	rel, err := m.relKey(rel)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	doc := m.docs[rel]
	var docURI, docLang string
	if doc != nil {
		docURI, docLang = doc.URI, doc.LanguageID
	}
	m.mu.Unlock()
	if doc == nil {
		return nil, ErrDocumentNotOpen
	}
	if languageID == "" {
		languageID = docLang
	}

	s, err := m.ensure(ctx, languageID)
	if err != nil {
		return nil, err
	}

	ident := protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(docURI)}
	var params any
	if method == "textDocument/documentSymbol" {
		params = protocol.DocumentSymbolParams{TextDocument: ident}
	} else {
		if line < 0 || character < 0 {
			return nil, fmt.Errorf("invalid position %d:%d", line, character)
		}
		params = protocol.TextDocumentPositionParams{
			TextDocument: ident,
			Position:     protocol.Position{Line: uint32(line), Character: uint32(character)},
		}
	}

	rctx, cancel := context.WithTimeout(ctx, m.opts.RequestTimeout)
	defer cancel()
	result, err := s.conn.Call(rctx, method, params)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return json.RawMessage("null"), nil
	}
	return result, nil
}

// Documents returns the open documents sorted by path.
func (m *Mux) Documents() []Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Document, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}

// Close shuts every server down and rejects later use.
func (m *Mux) Close(ctx context.Context) {
	m.mu.Lock()
	m.closed = true
	servers := make([]*server, 0, len(m.running))
	for _, s := range m.running {
		servers = append(servers, s)
	}
	m.running = map[string]*server{}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(s *server) {
			defer wg.Done()
			s.shutdown(ctx)
		}(s)
	}
	wg.Wait()
}

func (m *Mux) relKey(rel string) (string, error) {
	abs, err := pathguard.Resolve(m.root, rel)
	if err != nil {
		return "", err
	}
	r, _ := pathguard.Rel(m.root, abs)
	return r, nil
}

// ensure returns a ready server for languageID, spawning it if needed. A
// freshly spawned server replays the open documents of its language.
func (m *Mux) ensure(ctx context.Context, languageID string) (*server, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrConnClosed
	}
	s := m.running[languageID]
	if s == nil {
		cfg, ok := m.servers[languageID]
		if !ok || cfg.Command == "" {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrLanguageUnsupported, languageID)
		}
		var err error
		s, err = startServer(m.root, languageID, cfg, m.handlers(languageID))
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		m.running[languageID] = s
		m.log.Info("language server started", "language", languageID, "command", cfg.Command)

		go s.run()
		go m.watchExit(s)
		go m.handshake(s)
	}
	m.mu.Unlock()

	if err := s.waitReady(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Mux) handshake(s *server) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.InitTimeout)
	defer cancel()

	err := s.initialize(ctx, m.root)
	if err == nil {
		m.mu.Lock()
		var replay []*Document
		for _, d := range m.docs {
			if d.LanguageID == s.languageID {
				cp := *d
				replay = append(replay, &cp)
			}
		}
		m.mu.Unlock()
		for _, d := range replay {
			_ = s.conn.Notify("textDocument/didOpen", didOpenParams(d))
		}
	} else {
		m.log.Warn("language server initialize failed", "language", s.languageID, "err", err)
	}
	s.initErr = err
	close(s.ready)

	if err != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}

func (m *Mux) watchExit(s *server) {
	<-s.exited

	m.mu.Lock()
	current := m.running[s.languageID] == s
	if current {
		delete(m.running, s.languageID)
	}
	m.mu.Unlock()

	m.log.Info("language server exited", "language", s.languageID, "code", s.exitCode)
	m.emit(model.LSPExitEvent{
		Type:       model.EventLSPExit,
		LanguageID: s.languageID,
		Code:       s.exitCode,
	})
}

func (m *Mux) handlers(languageID string) Handlers {
	return Handlers{
		Notify: func(method string, params json.RawMessage) {
			if method == "textDocument/publishDiagnostics" {
				m.publishDiagnostics(languageID, params)
			}
		},
	}
}

func (m *Mux) publishDiagnostics(languageID string, raw json.RawMessage) {
	var p protocol.PublishDiagnosticsParams
	if err := json.Unmarshal(raw, &p); err != nil {
		m.log.Debug("bad diagnostics payload", "language", languageID, "err", err)
		return
	}
	u := string(p.URI)
	if !strings.HasPrefix(u, "file://") {
		return
	}
	rel, ok := pathguard.Rel(m.root, uri.URI(u).Filename())
	if !ok || rel == "" {
		return
	}

	diags := p.Diagnostics
	if diags == nil {
		diags = []protocol.Diagnostic{}
	}
	m.emit(model.DiagnosticsEvent{
		Type:        model.EventLSPDiagnostics,
		LanguageID:  languageID,
		Path:        rel,
		Diagnostics: diags,
	})
}

func (m *Mux) notifyClose(doc *Document) {
	m.mu.Lock()
	s := m.running[doc.LanguageID]
	m.mu.Unlock()
	if s == nil {
		return
	}
	select {
	case <-s.ready:
		if s.initErr == nil {
			_ = s.conn.Notify("textDocument/didClose", closeParams{TextDocument: documentIdentifier{URI: doc.URI}})
		}
	default:
	}
}

func (m *Mux) emit(event any) {
	if m.opts.OnEvent != nil {
		m.opts.OnEvent(event)
	}
}

// Sync payloads are spelled out rather than taken from the protocol package:
// a full-text change must not carry a range.
type textDocumentItem struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int    `json:"version"`
	Text       string `json:"text"`
}

type openParams struct {
	TextDocument textDocumentItem `json:"textDocument"`
}

type versionedDocument struct {
	URI     string `json:"uri"`
	Version int    `json:"version"`
}

type fullChange struct {
	Text string `json:"text"`
}

type didChangeParams struct {
	TextDocument   versionedDocument `json:"textDocument"`
	ContentChanges []fullChange      `json:"contentChanges"`
}

type documentIdentifier struct {
	URI string `json:"uri"`
}

type closeParams struct {
	TextDocument documentIdentifier `json:"textDocument"`
}

func didOpenParams(d *Document) openParams {
	return openParams{TextDocument: textDocumentItem{
		URI:        d.URI,
		LanguageID: d.LanguageID,
		Version:    d.Version,
		Text:       d.text,
	}}
}
