package model

type SearchMatch struct {
	AbsolutePath string `json:"absolutePath"`
	RelativePath string `json:"relativePath"`
	Line         int    `json:"line"`
	Column       int    `json:"column"`
	LineText     string `json:"lineText"`

	// LineClipped is set when LineText is a window around the match rather
	// than the whole line.
	LineClipped bool `json:"lineClipped,omitempty"`
}

type SearchResult struct {
	Matches      []SearchMatch `json:"matches"`
	TotalMatches int           `json:"totalMatches"`
	TotalFiles   int           `json:"totalFiles"`
	Truncated    bool          `json:"truncated"`
	Engine       string        `json:"engine"`
}

type ReplaceFileError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

type ReplaceResult struct {
	ChangedFiles      []string           `json:"changedFiles"`
	FilesScanned      int                `json:"filesScanned"`
	TotalReplacements int                `json:"totalReplacements"`
	MaxMatchesHit     bool               `json:"maxMatchesHit"`
	MaxFilesHit       bool               `json:"maxFilesHit"`
	Errors            []ReplaceFileError `json:"errors,omitempty"`
}

type PathHit struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

type PathSearchResult struct {
	Paths     []PathHit `json:"paths"`
	Truncated bool      `json:"truncated"`
}

type DirEntry struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	IsDir   bool   `json:"isDir"`
	Size    int64  `json:"size"`
	ModTime int64  `json:"mtimeMs"`
}

type FileStat struct {
	Exists  bool   `json:"exists"`
	IsDir   bool   `json:"isDir,omitempty"`
	IsFile  bool   `json:"isFile,omitempty"`
	Size    int64  `json:"size,omitempty"`
	ModTime int64  `json:"mtimeMs,omitempty"`
	Mode    string `json:"mode,omitempty"`
}

type FileContent struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	Size     int64  `json:"size"`
}
