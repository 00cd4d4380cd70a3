// Package export renders notes as HTML, Markdown, PDF and DOCX files.
package export

import (
	"errors"
	"strings"
)

// Format represents the export output format
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatDOCX     Format = "docx"
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
)

// Formats lists every supported export format.
var Formats = []Format{FormatPDF, FormatDOCX, FormatMarkdown, FormatHTML}

// ParseFormat accepts a format name case-insensitively.
func ParseFormat(value string) (Format, error) {
	candidate := Format(strings.ToLower(strings.TrimSpace(value)))
	for _, format := range Formats {
		if candidate == format {
			return format, nil
		}
	}
	return "", ErrUnsupportedFormat
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("export format not supported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
