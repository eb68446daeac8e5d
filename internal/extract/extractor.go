// Package extract turns note and document files into plain text for ingestion.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupported is returned for file extensions no extractor handles.
var ErrUnsupported = errors.New("unsupported file type")

// DefaultMaxBytes caps the size of a file handed to Extract.
const DefaultMaxBytes = 32 << 20

type extractFunc func(content []byte) (string, error)

var byExtension = map[string]extractFunc{
	".txt":  extractPlain,
	".md":   extractPlain,
	".pdf":  extractPDF,
	".docx": extractDOCX,
	".xlsx": extractExcel,
	".odt":  extractWithCat,
	".rtf":  extractWithCat,
}

// Extractor extracts plain text from note and document files.
type Extractor struct {
	maxBytes int64
}

// NewExtractor returns an Extractor that refuses files larger than DefaultMaxBytes.
func NewExtractor() *Extractor {
	return &Extractor{maxBytes: DefaultMaxBytes}
}

// Supported reports whether ext (with leading dot, any case) can be extracted.
func Supported(ext string) bool {
	_, ok := byExtension[strings.ToLower(ext)]
	return ok
}

// Extensions returns the supported extensions.
func Extensions() []string {
	out := make([]string, 0, len(byExtension))
	for ext := range byExtension {
		out = append(out, ext)
	}
	return out
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat file: %w", err)
	}
	if e.maxBytes > 0 && info.Size() > e.maxBytes {
		return "", fmt.Errorf("file %s is %d bytes, limit is %d", filepath.Base(path), info.Size(), e.maxBytes)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf"). An empty extension is read as plain text.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	ext = strings.ToLower(ext)
	if ext == "" {
		return extractPlain(content)
	}
	fn, ok := byExtension[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	return fn(content)
}
