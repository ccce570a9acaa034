package backend

import (
	"encoding/json"
	"sort"

	"workbench/internal/lsp"
)

type envelope struct {
	ID   json.RawMessage `json:"id"`
	Type string          `json:"type"`
}

type okReply struct {
	ID     json.RawMessage `json:"id"`
	OK     bool            `json:"ok"`
	Result any             `json:"result"`
}

type errReply struct {
	ID      json.RawMessage `json:"id"`
	OK      bool            `json:"ok"`
	Error   string          `json:"error"`
	Message string          `json:"message,omitempty"`
}

// Request is one decoded backend request. The set of implementations is
// closed; failedKind names the catch-all error kind of the request.
type Request interface {
	failedKind() string
}

// Settings tune a backend. Zero values keep the defaults.
type Settings struct {
	GitPath         string                      `json:"gitPath,omitempty" yaml:"git_path"`
	RipgrepPath     string                      `json:"ripgrepPath,omitempty" yaml:"ripgrep_path"`
	DisableRipgrep  bool                        `json:"disableRipgrep,omitempty" yaml:"disable_ripgrep"`
	SearchTimeoutMS int                         `json:"searchTimeoutMs,omitempty" yaml:"search_timeout_ms"`
	DebounceMS      int                         `json:"watchDebounceMs,omitempty" yaml:"watch_debounce_ms"`
	LSPServers      map[string]lsp.ServerConfig `json:"lspServers,omitempty" yaml:"lsp_servers"`
}

type InitRequest struct {
	Root     string   `json:"root"`
	Settings Settings `json:"settings"`
}

type PingRequest struct{}

type ReadFileRequest struct {
	Path string `json:"path"`
}

type WriteFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	// Encoding is "utf8" (default) or "base64".
	Encoding string `json:"encoding,omitempty"`
}

type ListDirRequest struct {
	Path           string `json:"path"`
	IncludeIgnored bool   `json:"includeIgnored,omitempty"`
}

type StatRequest struct {
	Path string `json:"path"`
}

type MkdirRequest struct {
	Path string `json:"path"`
}

type RenameRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type DeleteFileRequest struct {
	Path string `json:"path"`
}

type DeleteDirRequest struct {
	Path string `json:"path"`
}

type SearchPathsRequest struct {
	Query     string `json:"query"`
	Limit     int    `json:"limit,omitempty"`
	UseIgnore *bool  `json:"useIgnore,omitempty"`
}

type GitStatusRequest struct{}

type GitInfoRequest struct{}

type GitChangesRequest struct{}

type GitDiffRequest struct {
	Path   string `json:"path"`
	Staged bool   `json:"staged,omitempty"`
}

type GitFileDiffRequest struct {
	Path   string `json:"path"`
	Staged bool   `json:"staged,omitempty"`
}

type GitStageRequest struct {
	Paths []string `json:"paths"`
}

type GitUnstageRequest struct {
	Paths []string `json:"paths"`
}

type GitDiscardRequest struct {
	Paths []string `json:"paths"`
}

type GitCommitRequest struct {
	Message string `json:"message"`
	Amend   bool   `json:"amend,omitempty"`
}

type SearchContentRequest struct {
	Query         string   `json:"query"`
	Regex         bool     `json:"regex,omitempty"`
	CaseSensitive bool     `json:"caseSensitive,omitempty"`
	WholeWord     bool     `json:"wholeWord,omitempty"`
	Include       []string `json:"include,omitempty"`
	Exclude       []string `json:"exclude,omitempty"`
	UseIgnore     *bool    `json:"useIgnore,omitempty"`
	MaxResults    int      `json:"maxResults,omitempty"`
}

type ReplaceContentRequest struct {
	SearchContentRequest
	Replacement string `json:"replacement"`
	MaxMatches  int    `json:"maxMatches,omitempty"`
	MaxFiles    int    `json:"maxFiles,omitempty"`
}

type WatcherStartRequest struct{}

type WatcherStopRequest struct{}

type WatcherSetPausedRequest struct {
	Paused bool `json:"paused"`
}

type LSPDidOpenRequest struct {
	LanguageID string `json:"languageId"`
	Path       string `json:"path"`
	Text       string `json:"text"`
}

type LSPDidChangeRequest struct {
	Path string `json:"path"`
	Text string `json:"text"`
}

type LSPDidCloseRequest struct {
	Path string `json:"path"`
}

type LSPRequestRequest struct {
	LanguageID string `json:"languageId,omitempty"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	Line       int    `json:"line"`
	Character  int    `json:"character"`
}

func (*InitRequest) failedKind() string             { return "init_failed" }
func (*PingRequest) failedKind() string             { return "ping_failed" }
func (*ReadFileRequest) failedKind() string         { return "read_failed" }
func (*WriteFileRequest) failedKind() string        { return "write_failed" }
func (*ListDirRequest) failedKind() string          { return "list_failed" }
func (*StatRequest) failedKind() string             { return "stat_failed" }
func (*MkdirRequest) failedKind() string            { return "mkdir_failed" }
func (*RenameRequest) failedKind() string           { return "rename_failed" }
func (*DeleteFileRequest) failedKind() string       { return "delete_failed" }
func (*DeleteDirRequest) failedKind() string        { return "delete_failed" }
func (*SearchPathsRequest) failedKind() string      { return "search_failed" }
func (*GitStatusRequest) failedKind() string        { return "git_status_failed" }
func (*GitInfoRequest) failedKind() string          { return "git_info_failed" }
func (*GitChangesRequest) failedKind() string       { return "git_changes_failed" }
func (*GitDiffRequest) failedKind() string          { return "git_diff_failed" }
func (*GitFileDiffRequest) failedKind() string      { return "git_diff_failed" }
func (*GitStageRequest) failedKind() string         { return "git_stage_failed" }
func (*GitUnstageRequest) failedKind() string       { return "git_unstage_failed" }
func (*GitDiscardRequest) failedKind() string       { return "git_discard_failed" }
func (*GitCommitRequest) failedKind() string        { return "git_commit_failed" }
func (*SearchContentRequest) failedKind() string    { return "search_failed" }
func (*ReplaceContentRequest) failedKind() string   { return "replace_failed" }
func (*WatcherStartRequest) failedKind() string     { return "watcher_failed" }
func (*WatcherStopRequest) failedKind() string      { return "watcher_failed" }
func (*WatcherSetPausedRequest) failedKind() string { return "watcher_failed" }
func (*LSPDidOpenRequest) failedKind() string       { return "lsp_failed" }
func (*LSPDidChangeRequest) failedKind() string     { return "lsp_failed" }
func (*LSPDidCloseRequest) failedKind() string      { return "lsp_failed" }
func (*LSPRequestRequest) failedKind() string       { return "lsp_failed" }

var requestKinds = map[string]func() Request{
	"init":              func() Request { return &InitRequest{} },
	"ping":              func() Request { return &PingRequest{} },
	"fs:readFile":       func() Request { return &ReadFileRequest{} },
	"fs:writeFile":      func() Request { return &WriteFileRequest{} },
	"fs:listDir":        func() Request { return &ListDirRequest{} },
	"fs:stat":           func() Request { return &StatRequest{} },
	"fs:mkdir":          func() Request { return &MkdirRequest{} },
	"fs:rename":         func() Request { return &RenameRequest{} },
	"fs:deleteFile":     func() Request { return &DeleteFileRequest{} },
	"fs:deleteDir":      func() Request { return &DeleteDirRequest{} },
	"fs:searchPaths":    func() Request { return &SearchPathsRequest{} },
	"fs:gitStatus":      func() Request { return &GitStatusRequest{} },
	"fs:gitInfo":        func() Request { return &GitInfoRequest{} },
	"fs:gitChanges":     func() Request { return &GitChangesRequest{} },
	"fs:gitDiff":        func() Request { return &GitDiffRequest{} },
	"fs:gitFileDiff":    func() Request { return &GitFileDiffRequest{} },
	"fs:gitStage":       func() Request { return &GitStageRequest{} },
	"fs:gitUnstage":     func() Request { return &GitUnstageRequest{} },
	"fs:gitDiscard":     func() Request { return &GitDiscardRequest{} },
	"fs:gitCommit":      func() Request { return &GitCommitRequest{} },
	"fs:searchContent":  func() Request { return &SearchContentRequest{} },
	"fs:replaceContent": func() Request { return &ReplaceContentRequest{} },
	"watcher:start":     func() Request { return &WatcherStartRequest{} },
	"watcher:stop":      func() Request { return &WatcherStopRequest{} },
	"watcher:setPaused": func() Request { return &WatcherSetPausedRequest{} },
	"lsp:didOpen":       func() Request { return &LSPDidOpenRequest{} },
	"lsp:didChange":     func() Request { return &LSPDidChangeRequest{} },
	"lsp:didClose":      func() Request { return &LSPDidCloseRequest{} },
	"lsp:request":       func() Request { return &LSPRequestRequest{} },
}

// Kinds lists every request type the backend accepts.
func Kinds() []string {
	out := make([]string, 0, len(requestKinds))
	for k := range requestKinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func decodeRequest(kind string, line []byte) (Request, error) {
	newReq, ok := requestKinds[kind]
	if !ok {
		return nil, errUnknownRequest
	}
	req := newReq()
	if err := json.Unmarshal(line, req); err != nil {
		return nil, errBadRequest
	}
	return req, nil
}
