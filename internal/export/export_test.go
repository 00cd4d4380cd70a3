package export

import (
	"context"
	"errors"
	"strings"
	"testing"

	"studynotes/api/internal/store"
)

func sampleNote() store.Note {
	return store.Note{
		ID:        "note_1",
		Title:     "History of Computing",
		Date:      "April 10, 2025",
		Type:      store.NoteTypeHybrid,
		Excerpt:   "The evolution of computers...",
		Content:   "## Audio Transcript\n\nVacuum tubes gave way to transistors & chips. <script>alert(1)</script>\n\n## Scanned Notes\n\n- ENIAC\n- UNIVAC",
		AudioURL:  "/uploads/lecture.mp3",
		ImageURLs: []string{"/uploads/page1.png", "/uploads/page2.png"},
	}
}

func TestContentToHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty", input: "", expected: ""},
		{name: "paragraphs", input: "First line\nsecond line\n\nNext", expected: "<p>First line<br>second line</p><p>Next</p>"},
		{name: "heading offset", input: "# Topic", expected: "<h2>Topic</h2>"},
		{name: "deeper heading", input: "### Detail", expected: "<h3>Detail</h3>"},
		{name: "not a heading", input: "#hashtag", expected: "<p>#hashtag</p>"},
		{name: "list", input: "Intro\n- one\n- two", expected: "<p>Intro</p><ul><li>one</li><li>two</li></ul>"},
		{name: "emphasis", input: "**Key** point", expected: "<p><strong>Key</strong> point</p>"},
		{name: "raw html omitted", input: "<script>alert(1)</script>", expected: "<!-- raw HTML omitted -->"},
		{name: "merged sections", input: "## Audio Transcript\n\nSpoken\n\n## Scanned Notes\n\nWritten", expected: "<h2>Audio Transcript</h2><p>Spoken</p><h2>Scanned Notes</h2><p>Written</p>"},
		{name: "escapes", input: "a < b & c", expected: "<p>a &lt; b &amp; c</p>"},
		{name: "crlf", input: "a\r\n\r\nb", expected: "<p>a</p><p>b</p>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Block separators are newlines; compare without them.
			if got := strings.ReplaceAll(ContentToHTML(tt.input), "\n", ""); got != tt.expected {
				t.Errorf("ContentToHTML(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"Lecture v1.2", "Lecture-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "note"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"é", "%C3%A9"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	for _, value := range []string{"pdf", "DOCX", " md ", "html"} {
		if _, err := ParseFormat(value); err != nil {
			t.Fatalf("ParseFormat(%q) error = %v", value, err)
		}
	}
	if _, err := ParseFormat("rtf"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestExportHTML(t *testing.T) {
	result, err := NewService(0).Export(context.Background(), sampleNote(), FormatHTML)
	if err != nil {
		t.Fatalf("Export(html) error = %v", err)
	}
	html := string(result.Data)
	if result.Filename != "History-of-Computing.html" || !strings.HasPrefix(result.MimeType, "text/html") {
		t.Fatalf("unexpected result metadata: %s %s", result.Filename, result.MimeType)
	}
	for _, want := range []string{
		"<h1>History of Computing</h1>",
		"April 10, 2025",
		"<h2>Audio Transcript</h2>",
		"transistors &amp; chips",
		"<li>ENIAC</li>",
		"/uploads/lecture.mp3",
		"/uploads/page2.png",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
	if strings.Contains(html, "&lt;h2&gt;") {
		t.Error("content HTML was escaped by the template")
	}
	if strings.Contains(html, "<script>") {
		t.Error("raw HTML in note content reached the page")
	}
}

func TestExportMarkdown(t *testing.T) {
	result, err := NewService(0).Export(context.Background(), sampleNote(), FormatMarkdown)
	if err != nil {
		t.Fatalf("Export(md) error = %v", err)
	}
	md := string(result.Data)
	if !strings.HasPrefix(md, "# History of Computing\n") {
		t.Fatalf("unexpected markdown header: %q", md)
	}
	for _, want := range []string{"[Audio recording](/uploads/lecture.mp3)", "![Page 2](/uploads/page2.png)", "- ENIAC"} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
	if result.Filename != "History-of-Computing.md" {
		t.Fatalf("unexpected filename %q", result.Filename)
	}
}

func TestExportDelegatesBinaryFormats(t *testing.T) {
	svc := NewService(0)
	var gotHTML string
	svc.pdf = func(_ context.Context, html, title string) (*Result, error) {
		gotHTML = html
		return &Result{Data: []byte("%PDF"), Filename: sanitizeFilename(title) + ".pdf", MimeType: "application/pdf"}, nil
	}
	svc.docx = func(context.Context, string, string) (*Result, error) {
		return nil, ErrDOCXDependencyMissing
	}

	result, err := svc.Export(context.Background(), sampleNote(), FormatPDF)
	if err != nil {
		t.Fatalf("Export(pdf) error = %v", err)
	}
	if string(result.Data) != "%PDF" || !strings.Contains(gotHTML, "History of Computing") {
		t.Fatalf("pdf renderer did not receive note HTML")
	}

	if _, err := svc.Export(context.Background(), sampleNote(), FormatDOCX); !errors.Is(err, ErrDOCXDependencyMissing) {
		t.Fatalf("expected ErrDOCXDependencyMissing, got %v", err)
	}
	if _, err := svc.Export(context.Background(), sampleNote(), Format("rtf")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}
