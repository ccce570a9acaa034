package backend

import (
	"errors"
	"io/fs"

	"workbench/internal/core/gitx"
	"workbench/internal/core/pathguard"
	"workbench/internal/core/search"
	"workbench/internal/lsp"
)

var (
	errNotInitialized = errors.New("not_initialized")
	errRootImmutable  = errors.New("root_immutable")
	errUnknownRequest = errors.New("unknown_request")
	errBadRequest     = errors.New("bad_request")
	errTargetExists   = errors.New("target_exists")
	errFileTooLarge   = errors.New("file_too_large")
	errNotAFile       = errors.New("not_a_file")
	errNotADirectory  = errors.New("not_a_directory")
	errRootProtected  = errors.New("root_protected")
)

// kindErrors are sentinels whose text is already the wire kind.
var kindErrors = []error{
	pathguard.ErrPathEscape,
	pathguard.ErrInvalidRoot,
	errNotInitialized,
	errRootImmutable,
	errUnknownRequest,
	errBadRequest,
	errTargetExists,
	errFileTooLarge,
	errNotAFile,
	errNotADirectory,
	errRootProtected,
	gitx.ErrNotFound,
	gitx.ErrTimeout,
	gitx.ErrNotRepository,
	gitx.ErrCommitMessageRequired,
	search.ErrInvalidPattern,
	lsp.ErrStdioUnavailable,
	lsp.ErrServerNotFound,
	lsp.ErrLanguageUnsupported,
	lsp.ErrMethodUnsupported,
	lsp.ErrDocumentNotOpen,
	lsp.ErrInitializeFailed,
}

// failureKind maps an error from req to its protocol error kind.
func failureKind(req Request, err error) string {
	for _, k := range kindErrors {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	if errors.Is(err, fs.ErrNotExist) {
		switch req.(type) {
		case *ListDirRequest, *DeleteDirRequest:
			return "dir_not_found"
		default:
			return "file_not_found"
		}
	}
	return req.failedKind()
}
