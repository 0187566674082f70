// Package extract turns source files into plain text, page by page where the
// format has pages.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	ErrUnsupported = errors.New("unsupported file type")
	ErrNoText      = errors.New("no extractable text")
)

// Page is the text of one page. Number is 1-based for paginated formats and
// 0 for formats without pages.
type Page struct {
	Number int
	Text   string
}

type extractFunc func(path string) ([]Page, error)

var extractors = map[string]extractFunc{
	".txt":  extractPlain,
	".md":   extractMarkdown,
	".pdf":  extractPDF,
	".docx": extractDOCX,
}

// SupportedExtensions returns the handled file extensions, sorted.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(extractors))
	for ext := range extractors {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Supported reports whether the file extension is handled (case-insensitive).
func Supported(filename string) bool {
	_, ok := extractors[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// Extractor reads documents from disk.
type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

// Extract returns the non-empty pages of the file. It fails with ErrUnsupported
// for unknown extensions and ErrNoText when nothing readable is left.
func (e *Extractor) Extract(ctx context.Context, path string) ([]Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fn, ok := extractors[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Base(path))
	}

	pages, err := fn(path)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", filepath.Base(path), err)
	}

	kept := pages[:0]
	for _, p := range pages {
		p.Text = strings.TrimSpace(p.Text)
		if p.Text != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoText, filepath.Base(path))
	}
	return kept, nil
}

func extractPlain(path string) ([]Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return []Page{{Text: strings.ToValidUTF8(string(data), "")}}, nil
}
