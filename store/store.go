package store

import "context"

// Store is the persistence collaborator used by the ingestion pipeline, the
// retrieval cache and the chat service. Implementations must return chunks of
// a document in ascending chunk index order.
type Store interface {
	CreateDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	GetDocumentByFilename(ctx context.Context, filename string) (*Document, error)
	ListDocuments(ctx context.Context) ([]Document, error)
	SetDocumentTitle(ctx context.Context, id, chapterTitle string) error
	MarkDocumentCompleted(ctx context.Context, id string, chunkCount int) error
	MarkDocumentError(ctx context.Context, id, message string) error
	DeleteDocument(ctx context.Context, id string) error

	InsertChunks(ctx context.Context, chunks []DocumentChunk) error
	DeleteChunksByDocument(ctx context.Context, documentID string) error
	ListChunksByDocument(ctx context.Context, documentID string) ([]DocumentChunk, error)
	ListAllChunks(ctx context.Context) ([]DocumentChunk, error)

	InsertMessage(ctx context.Context, msg *ChatMessage) error
	ListMessages(ctx context.Context) ([]ChatMessage, error)
	ClearMessages(ctx context.Context) error

	Close() error
}
