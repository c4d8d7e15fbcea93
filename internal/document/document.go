// Package document keeps local editor buffers in sync with documents held
// by the server.
package document

import (
	"path"
	"strings"
)

// Document is a snapshot of one open buffer.
type Document struct {
	ID       string
	Path     string
	Language string
	Content  string
	// Version is the server's revision. Requests carry Version+1.
	Version int
	Dirty   bool
	// Baseline is the last content the server confirmed; the next change is
	// diffed against it.
	Baseline  string
	LastSaved string
}

var languages = map[string]string{
	"js":   "javascript",
	"ts":   "typescript",
	"jsx":  "javascript",
	"tsx":  "typescript",
	"py":   "python",
	"rs":   "rust",
	"go":   "go",
	"html": "html",
	"css":  "css",
	"json": "json",
	"md":   "markdown",
}

// LanguageFor guesses the editor language from a file extension.
func LanguageFor(p string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	if lang, ok := languages[ext]; ok {
		return lang
	}
	return "plaintext"
}
