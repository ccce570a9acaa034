package search

import (
	"bytes"
	"path"
	"strings"
)

// textExtensions is the allowlist for the built-in scanner.
var textExtensions = map[string]struct{}{}

func init() {
	for _, ext := range strings.Fields(`
		go mod sum work
		js jsx mjs cjs ts tsx mts cts vue svelte astro
		py pyi pyw rs java kt kts scala groovy gradle
		c h cpp cc cxx hpp hxx m mm cs csx swift dart
		rb erb php pl pm lua r jl ex exs erl hrl clj cljs hs ml mli fs fsx nim zig
		sh bash zsh fish ps1 psm1 psd1 bat cmd
		html htm css scss sass less
		json jsonc json5 yaml yml toml xml xsl xslt ini cfg conf env properties
		md mdx rst tex txt adoc org csv tsv log
		sql graphql gql proto tf tfvars hcl nix
		dockerfile makefile cmake mk
		svg lock editorconfig gitignore gitattributes
	`) {
		textExtensions[ext] = struct{}{}
	}
}

var textNames = map[string]struct{}{
	"makefile": {}, "dockerfile": {}, "license": {}, "readme": {},
	"gemfile": {}, "rakefile": {}, "procfile": {}, "jenkinsfile": {},
	".gitignore": {}, ".env": {}, ".editorconfig": {},
}

// IsTextPath reports whether a file name is on the text allowlist.
func IsTextPath(rel string) bool {
	name := strings.ToLower(path.Base(rel))
	if _, ok := textNames[name]; ok {
		return true
	}
	ext := strings.TrimPrefix(path.Ext(name), ".")
	if ext == "" {
		return false
	}
	_, ok := textExtensions[ext]
	return ok
}

// IsBinary reports a NUL byte anywhere in data.
func IsBinary(data []byte) bool {
	return bytes.IndexByte(data, 0) >= 0
}
