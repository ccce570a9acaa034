package lsp

import (
	"errors"
	"fmt"
)

var (
	ErrStdioUnavailable    = errors.New("lsp_stdio_unavailable")
	ErrServerNotFound      = errors.New("lsp_server_not_found")
	ErrLanguageUnsupported = errors.New("lsp_language_unsupported")
	ErrMethodUnsupported   = errors.New("lsp_method_unsupported")
	ErrDocumentNotOpen     = errors.New("document_not_open")
	ErrInitializeFailed    = errors.New("lsp_initialize_failed")
	ErrConnClosed          = errors.New("lsp_connection_closed")
)

// ResponseError is a JSON-RPC error returned by a language server.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("lsp error %d: %s", e.Code, e.Message)
}
