package model

const (
	EventWatcher        = "watcher"
	EventWatcherError   = "watcher:error"
	EventLSPDiagnostics = "lsp:diagnostics"
	EventLSPExit        = "lsp:exit"
)

type WatchChange struct {
	Kind string `json:"kind"`
	Path string `json:"path"`
}

type WatcherEvent struct {
	Type    string        `json:"type"`
	Changes []WatchChange `json:"changes"`
}

type WatcherErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type DiagnosticsEvent struct {
	Type        string `json:"type"`
	LanguageID  string `json:"languageId"`
	Path        string `json:"path"`
	Diagnostics any    `json:"diagnostics"`
}

type LSPExitEvent struct {
	Type       string `json:"type"`
	LanguageID string `json:"languageId"`
	Code       int    `json:"code"`
}
