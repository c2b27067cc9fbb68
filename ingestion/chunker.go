// Package ingestion turns uploaded documents into ordered, embedded chunks
// and drives their processing lifecycle.
package ingestion

import (
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
)

// Chunk is one segment of a document. Start is the rune offset of the segment
// in the normalized document text; SectionTitle is the title of the nearest
// preceding `##`+ heading, if any.
type Chunk struct {
	Content      string
	SectionTitle string
	Start        int
}

type sectionMark struct {
	offset int
	title  string
}

var (
	sectionHeadingRe = regexp.MustCompile(`^#{2,6}\s+(.*)$`)
	chapterHeadingRe = regexp.MustCompile(`(?m)^#\s+(.*)$`)
)

// SplitChunks cuts text into overlapping segments of roughly size runes.
// When a cut would land mid-sentence it backs up to the nearest sentence
// terminator, provided that terminator falls in the second half of the
// window. Empty segments are dropped. Overlap is clamped below size so the
// loop always makes forward progress.
func SplitChunks(text string, size, overlap int) []Chunk {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 5
	}

	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	runes := []rune(normalized)
	sections := scanSections(normalized)

	var chunks []Chunk
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = breakBoundary(runes, start, end)
		}

		content := string(runes[start:end])
		if strings.TrimSpace(content) != "" {
			chunks = append(chunks, Chunk{
				Content:      content,
				SectionTitle: sectionAt(sections, start),
				Start:        start,
			})
		}

		if end >= len(runes) {
			break
		}
		// A boundary cut can shrink the window below the overlap; never step
		// backward.
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

// breakBoundary searches backward from end for a sentence-terminating period
// or newline. A boundary only counts when it lies in the second half of the
// window, otherwise the exact cut stands.
func breakBoundary(runes []rune, start, end int) int {
	half := start + (end-start)/2
	for i := end - 1; i > half; i-- {
		if runes[i] == '.' || runes[i] == '\n' {
			return i + 1
		}
	}
	return end
}

// scanSections records the rune offset and title of every `##`+ heading line.
func scanSections(text string) []sectionMark {
	var marks []sectionMark
	offset := 0
	for _, line := range strings.Split(text, "\n") {
		if m := sectionHeadingRe.FindStringSubmatch(line); m != nil {
			title := strings.TrimSpace(m[1])
			if title != "" {
				marks = append(marks, sectionMark{offset: offset, title: title})
			}
		}
		offset += len([]rune(line)) + 1
	}
	return marks
}

// sectionAt returns the title of the last heading at or before offset.
func sectionAt(marks []sectionMark, offset int) string {
	title := ""
	for _, mark := range marks {
		if mark.offset > offset {
			break
		}
		title = mark.title
	}
	return title
}

type frontmatter struct {
	Title string `yaml:"title"`
}

// ExtractChapterTitle returns the document's title: the YAML frontmatter
// `title:` field when present, otherwise the first level-1 heading, otherwise
// the empty string.
func ExtractChapterTitle(text string) string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")

	if strings.HasPrefix(normalized, "---\n") {
		rest := normalized[len("---\n"):]
		if idx := strings.Index(rest, "\n---"); idx >= 0 {
			var fm frontmatter
			if err := yaml.Unmarshal([]byte(rest[:idx]), &fm); err == nil {
				if title := strings.TrimSpace(fm.Title); title != "" {
					return title
				}
			}
		}
	}

	if m := chapterHeadingRe.FindStringSubmatch(normalized); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}
