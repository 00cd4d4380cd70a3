package export

import (
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"studynotes/api/internal/store"
)

// Service renders notes into export files.
type Service struct {
	timeout time.Duration
	pdf     func(ctx context.Context, html, title string) (*Result, error)
	docx    func(ctx context.Context, html, title string) (*Result, error)
}

// NewService creates an export service. timeout bounds PDF and DOCX conversion.
func NewService(timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{timeout: timeout, pdf: exportPDF, docx: exportDOCX}
}

// Export generates note in the requested format.
func (s *Service) Export(ctx context.Context, note store.Note, format Format) (*Result, error) {
	if format == FormatMarkdown {
		return &Result{
			Data:     []byte(RenderMarkdown(note)),
			Filename: sanitizeFilename(note.Title) + ".md",
			MimeType: "text/markdown; charset=utf-8",
		}, nil
	}

	html, err := RenderNoteHTML(templateDataFor(note))
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	switch format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(note.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return s.pdf(ctx, html, note.Title)
	case FormatDOCX:
		return s.docx(ctx, html, note.Title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func templateDataFor(note store.Note) TemplateData {
	return TemplateData{
		Title:       note.Title,
		Date:        note.Date,
		Type:        note.Type,
		ContentHTML: template.HTML(ContentToHTML(note.Content)),
		AudioURL:    note.AudioURL,
		ImageURLs:   note.ImageURLs,
	}
}

// RenderMarkdown returns a Markdown rendition of note.
func RenderMarkdown(note store.Note) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", strings.TrimSpace(note.Title))
	fmt.Fprintf(&b, "_%s · %s note_\n\n", note.Date, note.Type)
	if content := strings.TrimSpace(note.Content); content != "" {
		b.WriteString(content)
		b.WriteString("\n\n")
	}
	if note.AudioURL != "" {
		fmt.Fprintf(&b, "[Audio recording](%s)\n\n", note.AudioURL)
	}
	if len(note.ImageURLs) > 0 {
		b.WriteString("## Images\n\n")
		for i, url := range note.ImageURLs {
			fmt.Fprintf(&b, "![Page %d](%s)\n", i+1, url)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
