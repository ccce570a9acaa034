package model

type StatusEntry struct {
	Path          string `json:"path"`
	IndexState    string `json:"indexState"`
	WorktreeState string `json:"worktreeState"`
	RenameFrom    string `json:"renameFrom,omitempty"`
	Letter        string `json:"letter"`
}

type StatusResult struct {
	Entries   []StatusEntry `json:"entries"`
	Truncated bool          `json:"truncated"`
}

type RepoInfo struct {
	IsRepo   bool   `json:"isRepo"`
	TopLevel string `json:"toplevel,omitempty"`
	Branch   string `json:"branch,omitempty"`
	Head     string `json:"head,omitempty"`
	Detached bool   `json:"detached,omitempty"`
}

type Changes struct {
	Staged    []StatusEntry     `json:"staged"`
	Unstaged  []StatusEntry     `json:"unstaged"`
	Untracked []StatusEntry     `json:"untracked"`
	Conflicts []StatusEntry     `json:"conflicts"`
	Letters   map[string]string `json:"letters"`
	Truncated bool              `json:"truncated"`
}

type DiffResult struct {
	Path      string `json:"path"`
	Diff      string `json:"diff"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Hunks     int    `json:"hunks"`
	Binary    bool   `json:"binary"`
	Untracked bool   `json:"untracked,omitempty"`
	Truncated bool   `json:"truncated"`

	// BinaryPaths lists changed files whose content is not shown as text.
	BinaryPaths []string `json:"binaryPaths,omitempty"`
}

type FileDiff struct {
	Path     string `json:"path"`
	Original string `json:"original"`
	Modified string `json:"modified"`
	Binary   bool   `json:"binary"`

	// Truncated is set when either side was cut at the size cap.
	Truncated bool `json:"truncated"`
}

type CommitResult struct {
	Hash string `json:"hash"`
}
