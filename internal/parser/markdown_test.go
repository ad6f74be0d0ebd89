package parser

import (
	"strings"
	"testing"
)

func TestMarkdownParser_HeadingsBecomeParagraphs(t *testing.T) {
	input := `# Title

Intro text.

## Section A

Section A content.

## Section B

Section B content.
`
	p := &MarkdownParser{}
	ex, err := p.Parse(strings.NewReader(input), "doc.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The first h1 becomes the document title.
	if ex.Title != "Title" {
		t.Errorf("expected title %q, got %q", "Title", ex.Title)
	}

	// Headings and body text all appear in source order as blank-line
	// separated paragraphs.
	want := []string{"Title", "Intro text.", "Section A", "Section A content.", "Section B", "Section B content."}
	pos := -1
	for _, w := range want {
		idx := strings.Index(ex.Text, w)
		if idx < 0 {
			t.Fatalf("expected text to contain %q, got %q", w, ex.Text)
		}
		if idx < pos {
			t.Errorf("expected %q to appear after previous paragraph, got %q", w, ex.Text)
		}
		pos = idx
	}
	if got := strings.Count(ex.Text, "\n\n"); got < len(want)-1 {
		t.Errorf("expected at least %d paragraph breaks, got %d", len(want)-1, got)
	}
}

func TestMarkdownParser_NoHeadingFallsBackToFilename(t *testing.T) {
	p := &MarkdownParser{}
	ex, err := p.Parse(strings.NewReader("Just a paragraph without headings."), "readme.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ex.Title != "readme" {
		t.Errorf("expected title %q, got %q", "readme", ex.Title)
	}
	if !strings.Contains(ex.Text, "Just a paragraph") {
		t.Errorf("expected paragraph text, got %q", ex.Text)
	}
}

func TestMarkdownParser_ListItems(t *testing.T) {
	input := "Overview paragraph.\n\n- first item\n- second item\n"
	p := &MarkdownParser{}
	ex, err := p.Parse(strings.NewReader(input), "list.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"Overview paragraph.", "first item", "second item"} {
		if !strings.Contains(ex.Text, want) {
			t.Errorf("expected text to contain %q, got %q", want, ex.Text)
		}
	}
}

func TestMarkdownParser_EmptyInput(t *testing.T) {
	p := &MarkdownParser{}
	ex, err := p.Parse(strings.NewReader(""), "empty.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ex.Text != "" {
		t.Errorf("expected empty text, got %q", ex.Text)
	}
}
