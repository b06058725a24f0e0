// Package extract provides text extraction from supported document formats.
//
// Extraction is dispatched through a capability table keyed by file
// extension: each entry is a pure function from file bytes to plain text, so
// new formats can be registered without touching the ingestion pipeline.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedType is returned for extensions with no registered extractor.
var ErrUnsupportedType = errors.New("unsupported file type")

// ExtractFunc converts raw file bytes to plain text.
type ExtractFunc func(content []byte) (string, error)

// Extractor extracts plain text from document files via a per-extension
// dispatch table.
type Extractor struct {
	handlers map[string]ExtractFunc
}

// NewExtractor returns an Extractor with the default format handlers
// registered: markdown/plain text, PDF, DOCX, and XLSX.
func NewExtractor() *Extractor {
	e := &Extractor{handlers: make(map[string]ExtractFunc)}
	e.Register(extractPlain, ".txt", ".md", ".rst")
	e.Register(extractPDF, ".pdf")
	e.Register(extractDOCX, ".docx")
	e.Register(extractExcel, ".xlsx")
	return e
}

// Register installs fn as the handler for the given extensions (with leading
// dot, case-insensitive). Later registrations replace earlier ones.
func (e *Extractor) Register(fn ExtractFunc, exts ...string) {
	for _, ext := range exts {
		e.handlers[strings.ToLower(ext)] = fn
	}
}

// Supported reports whether the extension has a registered handler.
func (e *Extractor) Supported(ext string) bool {
	_, ok := e.handlers[strings.ToLower(ext)]
	return ok
}

// Extract reads the file at path and returns its text content.
// Returns an error wrapping ErrUnsupportedType when no handler matches.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf").
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	fn, ok := e.handlers[strings.ToLower(ext)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}
	return fn(content)
}
