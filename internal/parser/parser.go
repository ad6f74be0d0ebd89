package parser

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Extracted is the plain text pulled out of a source file, ready for
// segmentation. Paragraphs are separated by blank lines and heading text is
// kept inline as its own paragraph, so the natural boundaries the analysis
// segmenter cuts at survive extraction.
type Extracted struct {
	Title string
	Text  string
}

// Parser converts raw document bytes into extracted plain text.
type Parser interface {
	Parse(r io.Reader, filename string) (*Extracted, error)
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
}

// ForFile returns the appropriate parser for a filename.
func ForFile(filename string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".csv":
		return &CSVParser{}, nil
	case ".html", ".htm":
		return &HTMLParser{}, nil
	case ".pdf":
		return &PDFParser{}, nil
	case ".docx":
		return &DOCXParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

// textBuilder accumulates paragraphs into blank-line separated text.
type textBuilder struct {
	sb strings.Builder
}

func (b *textBuilder) AddParagraph(s string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return
	}
	if b.sb.Len() > 0 {
		b.sb.WriteString("\n\n")
	}
	b.sb.WriteString(s)
}

func (b *textBuilder) String() string {
	return b.sb.String()
}

func titleFromFilename(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
