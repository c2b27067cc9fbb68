package ingestion

import (
	"path/filepath"
	"strings"
)

// DocumentFormat enumerates supported upload formats.
type DocumentFormat string

const (
	// FormatUnknown represents an unsupported or undetected format.
	FormatUnknown DocumentFormat = ""
	// FormatMarkdown represents Markdown documents.
	FormatMarkdown DocumentFormat = "markdown"
	// FormatQuarto represents Quarto documents.
	FormatQuarto DocumentFormat = "quarto"
)

// DetectFormat infers a document format from the provided filename's
// extension.
func DetectFormat(path string) DocumentFormat {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".md", ".markdown":
		return FormatMarkdown
	case ".qmd":
		return FormatQuarto
	default:
		return FormatUnknown
	}
}
