// Package extract turns uploaded files into plain text, one strategy
// per file extension. Unsupported extensions fail fast with a named
// error instead of silently producing empty content.
package extract

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat indicates no extractor is registered for the
// file's extension.
var ErrUnsupportedFormat = errors.New("extract: unsupported file format")

// Extractor converts one file on disk into plain text.
type Extractor interface {
	Extract(path string) (string, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(path string) (string, error)

// Extract implements Extractor.
func (f ExtractorFunc) Extract(path string) (string, error) {
	return f(path)
}

// Registry maps lowercase file extensions (with dot) to extractors.
type Registry struct {
	extractors map[string]Extractor
}

// NewRegistry creates a registry with the built-in extractors: plain
// text and markdown pass-through, PDF, DOCX, and HTML.
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[string]Extractor)}
	r.Register(".txt", ExtractorFunc(extractText))
	r.Register(".md", ExtractorFunc(extractText))
	r.Register(".pdf", ExtractorFunc(extractPDF))
	r.Register(".docx", ExtractorFunc(extractDocx))
	r.Register(".html", ExtractorFunc(extractHTML))
	r.Register(".htm", ExtractorFunc(extractHTML))
	return r
}

// Register adds or replaces the extractor for ext (e.g. ".csv").
func (r *Registry) Register(ext string, e Extractor) {
	r.extractors[strings.ToLower(ext)] = e
}

// Supported reports whether the extension has a registered extractor.
func (r *Registry) Supported(ext string) bool {
	_, ok := r.extractors[strings.ToLower(ext)]
	return ok
}

// Extract dispatches on the path's extension.
func (r *Registry) Extract(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	e, ok := r.extractors[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return e.Extract(path)
}
