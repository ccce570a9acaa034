package lsp

// ServerConfig is the command line used to launch a language server.
type ServerConfig struct {
	Command string   `json:"command" yaml:"command"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
}

// DefaultServers returns built-in language server mappings keyed by LSP
// language id.
func DefaultServers() map[string]ServerConfig {
	return map[string]ServerConfig{
		"go":              {Command: "gopls"},
		"typescript":      {Command: "typescript-language-server", Args: []string{"--stdio"}},
		"typescriptreact": {Command: "typescript-language-server", Args: []string{"--stdio"}},
		"javascript":      {Command: "typescript-language-server", Args: []string{"--stdio"}},
		"javascriptreact": {Command: "typescript-language-server", Args: []string{"--stdio"}},
		"python":          {Command: "pyright-langserver", Args: []string{"--stdio"}},
		"rust":            {Command: "rust-analyzer"},
		"c":               {Command: "clangd"},
		"cpp":             {Command: "clangd"},
		"java":            {Command: "jdtls"},
		"lua":             {Command: "lua-language-server"},
		"json":            {Command: "vscode-json-language-server", Args: []string{"--stdio"}},
	}
}

// MergeServers overlays override entries on base. An entry with an empty
// command removes the language.
func MergeServers(base, override map[string]ServerConfig) map[string]ServerConfig {
	out := make(map[string]ServerConfig, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		if v.Command == "" {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}
