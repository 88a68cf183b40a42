// Package extract turns document files into plain text for the document
// chunker.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/codementor/ragindex/internal/ragerr"
)

// Kind classifies a file for indexing
type Kind int

const (
	// KindCode is read as UTF-8 and split along code boundaries
	KindCode Kind = iota
	// KindProse is read as UTF-8 and split along paragraphs
	KindProse
	// KindDocument needs text extraction before paragraph splitting
	KindDocument
)

func (k Kind) String() string {
	switch k {
	case KindProse:
		return "prose"
	case KindDocument:
		return "document"
	default:
		return "code"
	}
}

var documentExts = map[string]func(string) (string, error){
	".pdf":  extractPDF,
	".docx": extractDOCX,
	".pptx": extractPPTX,
	".rtf":  extractRTF,
	".epub": extractEPUB,
}

var proseExts = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".rst":      true,
}

// Classify returns the kind of a file from its extension
func Classify(path string) Kind {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := documentExts[ext]; ok {
		return KindDocument
	}
	if proseExts[ext] {
		return KindProse
	}
	return KindCode
}

// IsDocument reports whether ext needs a document extractor
func IsDocument(ext string) bool {
	_, ok := documentExts[strings.ToLower(ext)]
	return ok
}

// Extractor reads text out of files of any supported kind
type Extractor struct{}

// New creates an extractor
func New() *Extractor {
	return &Extractor{}
}

// Extract returns the text of path. Documents go through their format
// extractor; other files are read as UTF-8 with invalid bytes dropped.
// Failures are returned as *ragerr.ExtractionError.
func (e *Extractor) Extract(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))

	var (
		text string
		err  error
	)
	if fn, ok := documentExts[ext]; ok {
		text, err = extractSafely(fn, path)
	} else {
		text, err = readText(path)
	}
	if err != nil {
		return "", &ragerr.ExtractionError{Path: path, Err: err}
	}
	return text, nil
}

// extractSafely turns a panic in a format parser into an error. Some
// parsers panic on malformed input instead of failing.
func extractSafely(fn func(string) (string, error), path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed file: %v", r)
		}
	}()
	return fn(path)
}

func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return strings.ToValidUTF8(string(data), ""), nil
}
