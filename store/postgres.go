package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresStore persists documents, chunks and chat messages in Postgres,
// with chunk embeddings in a pgvector column.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *Document) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, filename, content, size, chunk_count, status, error_message, chapter_title, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`, doc.ID, doc.Filename, doc.Content, doc.Size, doc.ChunkCount, doc.Status, doc.ErrorMessage, doc.ChapterTitle)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

const documentColumns = `id, filename, content, size, chunk_count, status, error_message, chapter_title, created_at`

func scanDocument(row pgx.Row) (*Document, error) {
	var doc Document
	err := row.Scan(&doc.ID, &doc.Filename, &doc.Content, &doc.Size, &doc.ChunkCount,
		&doc.Status, &doc.ErrorMessage, &doc.ChapterTitle, &doc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return &doc, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	return scanDocument(row)
}

func (s *PostgresStore) GetDocumentByFilename(ctx context.Context, filename string) (*Document, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE filename = $1`, filename)
	return scanDocument(row)
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func (s *PostgresStore) SetDocumentTitle(ctx context.Context, id, chapterTitle string) error {
	return s.execDocumentUpdate(ctx, `UPDATE documents SET chapter_title = $2 WHERE id = $1`, id, chapterTitle)
}

func (s *PostgresStore) MarkDocumentCompleted(ctx context.Context, id string, chunkCount int) error {
	return s.execDocumentUpdate(ctx, `
		UPDATE documents SET status = $2, chunk_count = $3, error_message = '' WHERE id = $1
	`, id, StatusCompleted, chunkCount)
}

func (s *PostgresStore) MarkDocumentError(ctx context.Context, id, message string) error {
	return s.execDocumentUpdate(ctx, `
		UPDATE documents SET status = $2, error_message = $3 WHERE id = $1
	`, id, StatusError, message)
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, id string) error {
	// Chunks are removed by the ON DELETE CASCADE constraint.
	return s.execDocumentUpdate(ctx, `DELETE FROM documents WHERE id = $1`, id)
}

func (s *PostgresStore) execDocumentUpdate(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) InsertChunks(ctx context.Context, chunks []DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, chunk := range chunks {
		if _, err := tx.Exec(ctx, `
			INSERT INTO document_chunks (id, document_id, content, embedding, chunk_index, section_title, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
		`, chunk.ID, chunk.DocumentID, chunk.Content, pgvector.NewVector(chunk.Embedding), chunk.ChunkIndex, chunk.SectionTitle); err != nil {
			return fmt.Errorf("insert chunk %d: %w", chunk.ChunkIndex, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunks: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

const chunkColumns = `id, document_id, content, embedding, chunk_index, section_title, created_at`

func (s *PostgresStore) ListChunksByDocument(ctx context.Context, documentID string) ([]DocumentChunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+chunkColumns+` FROM document_chunks WHERE document_id = $1 ORDER BY chunk_index
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()
	return collectChunks(rows)
}

func (s *PostgresStore) ListAllChunks(ctx context.Context) ([]DocumentChunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+chunkColumns+` FROM document_chunks ORDER BY document_id, chunk_index
	`)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()
	return collectChunks(rows)
}

func collectChunks(rows pgx.Rows) ([]DocumentChunk, error) {
	chunks := make([]DocumentChunk, 0)
	for rows.Next() {
		var chunk DocumentChunk
		var vec pgvector.Vector
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Content, &vec,
			&chunk.ChunkIndex, &chunk.SectionTitle, &chunk.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunk.Embedding = vec.Slice()
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func (s *PostgresStore) InsertMessage(ctx context.Context, msg *ChatMessage) error {
	sources, err := json.Marshal(msg.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO chat_messages (id, role, content, sources, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, msg.ID, msg.Role, msg.Content, sources); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context) ([]ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, role, content, sources, created_at FROM chat_messages ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]ChatMessage, 0)
	for rows.Next() {
		var msg ChatMessage
		var sources []byte
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &sources, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if len(sources) > 0 {
			if err := json.Unmarshal(sources, &msg.Sources); err != nil {
				return nil, fmt.Errorf("unmarshal sources: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *PostgresStore) ClearMessages(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chat_messages`); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var _ Store = (*PostgresStore)(nil)
