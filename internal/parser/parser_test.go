package parser

import (
	"strings"
	"testing"
)

func TestForFile(t *testing.T) {
	cases := []struct {
		filename string
		wantErr  bool
	}{
		{"doc.txt", false},
		{"doc.md", false},
		{"doc.markdown", false},
		{"doc.csv", false},
		{"page.html", false},
		{"page.htm", false},
		{"report.pdf", false},
		{"report.docx", false},
		{"archive.zip", true},
		{"noext", true},
	}
	for _, c := range cases {
		_, err := ForFile(c.filename)
		if (err != nil) != c.wantErr {
			t.Errorf("ForFile(%q): unexpected err=%v", c.filename, err)
		}
	}
}

func TestIsSupportedExtension(t *testing.T) {
	if !IsSupportedExtension("Report.PDF") {
		t.Error("extension check must be case-insensitive")
	}
	if IsSupportedExtension("image.png") {
		t.Error("png is not a supported document type")
	}
}

func TestHTMLParser_ExtractsBodyContent(t *testing.T) {
	input := `<html><head><title>Page Title</title><style>p{color:red}</style></head>
<body>
<nav>skip this</nav>
<h1>Welcome</h1>
<p>First paragraph.</p>
<p>Second paragraph.</p>
<script>console.log("skip")</script>
</body></html>`

	p := &HTMLParser{}
	ex, err := p.Parse(strings.NewReader(input), "page.html")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ex.Title != "Page Title" {
		t.Errorf("expected title from <title>, got %q", ex.Title)
	}
	for _, want := range []string{"Welcome", "First paragraph.", "Second paragraph."} {
		if !strings.Contains(ex.Text, want) {
			t.Errorf("expected text to contain %q, got %q", want, ex.Text)
		}
	}
	for _, skip := range []string{"skip this", "console.log", "color:red"} {
		if strings.Contains(ex.Text, skip) {
			t.Errorf("expected %q to be excluded, got %q", skip, ex.Text)
		}
	}
}

func TestCSVParser_HeadersAndRows(t *testing.T) {
	input := "name,age\nalice,30\nbob,41\n"
	p := &CSVParser{}
	ex, err := p.Parse(strings.NewReader(input), "people.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ex.Title != "people" {
		t.Errorf("expected title %q, got %q", "people", ex.Title)
	}
	if !strings.Contains(ex.Text, "Columns: name, age") {
		t.Errorf("expected column header paragraph, got %q", ex.Text)
	}
	if !strings.Contains(ex.Text, "name: alice, age: 30") {
		t.Errorf("expected labelled row, got %q", ex.Text)
	}
}

func TestCSVParser_EmptyFile(t *testing.T) {
	p := &CSVParser{}
	ex, err := p.Parse(strings.NewReader(""), "empty.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ex.Text != "" {
		t.Errorf("expected empty text, got %q", ex.Text)
	}
}

func TestTextBuilder_SkipsBlankParagraphs(t *testing.T) {
	var b textBuilder
	b.AddParagraph("first")
	b.AddParagraph("   ")
	b.AddParagraph("second")
	want := "first\n\nsecond"
	if b.String() != want {
		t.Errorf("expected %q, got %q", want, b.String())
	}
}
