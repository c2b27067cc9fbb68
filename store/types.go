// Package store defines the persistence collaborator for documents, their
// embedded chunks and the chat transcript.
package store

import (
	"errors"
	"time"
)

// Document processing statuses. A document is created as StatusProcessing and
// moves to exactly one of the terminal states.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// Chat message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNotFound is returned when a document id does not exist.
var ErrNotFound = errors.New("not found")

// Document is an uploaded markdown/Quarto file and its processing state.
type Document struct {
	ID           string    `db:"id" json:"id"`
	Filename     string    `db:"filename" json:"filename"`
	Content      string    `db:"content" json:"-"`
	Size         int64     `db:"size" json:"size"`
	ChunkCount   int       `db:"chunk_count" json:"chunkCount"`
	Status       string    `db:"status" json:"status"`
	ErrorMessage string    `db:"error_message" json:"errorMessage,omitempty"`
	ChapterTitle string    `db:"chapter_title" json:"chapterTitle,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// DocumentChunk is one overlapping segment of a document together with its
// embedding. ChunkIndex is zero-based and defines traversal order.
type DocumentChunk struct {
	ID           string    `db:"id" json:"id"`
	DocumentID   string    `db:"document_id" json:"documentId"`
	Content      string    `db:"content" json:"content"`
	Embedding    []float32 `db:"embedding" json:"-"`
	ChunkIndex   int       `db:"chunk_index" json:"chunkIndex"`
	SectionTitle string    `db:"section_title" json:"sectionTitle,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// SourceRef is a denormalized citation attached to an assistant message. It
// deliberately carries no document or chunk id so it stays valid after the
// cited document is deleted.
type SourceRef struct {
	Filename     string  `json:"filename"`
	ChapterTitle string  `json:"chapterTitle,omitempty"`
	SectionTitle string  `json:"sectionTitle,omitempty"`
	Score        float64 `json:"score"`
}

// ChatMessage is one turn of the conversation. Sources is populated only for
// assistant messages that cite retrieved chunks.
type ChatMessage struct {
	ID        string      `db:"id" json:"id"`
	Role      string      `db:"role" json:"role"`
	Content   string      `db:"content" json:"content"`
	Sources   []SourceRef `json:"sources,omitempty"`
	CreatedAt time.Time   `db:"created_at" json:"createdAt"`
}
