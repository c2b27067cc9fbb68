package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
)

// SQLiteStore is a single-file Store implementation for local deployments.
// Embeddings are stored as little-endian float32 blobs.
type SQLiteStore struct {
	db *sqlx.DB
}

func NewSQLiteStore(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

type sqliteDocument struct {
	ID           string    `db:"id"`
	Filename     string    `db:"filename"`
	Content      string    `db:"content"`
	Size         int64     `db:"size"`
	ChunkCount   int       `db:"chunk_count"`
	Status       string    `db:"status"`
	ErrorMessage string    `db:"error_message"`
	ChapterTitle string    `db:"chapter_title"`
	CreatedAt    time.Time `db:"created_at"`
}

func (d sqliteDocument) toDocument() Document {
	return Document(d)
}

type sqliteChunk struct {
	ID           string    `db:"id"`
	DocumentID   string    `db:"document_id"`
	Content      string    `db:"content"`
	Embedding    []byte    `db:"embedding"`
	ChunkIndex   int       `db:"chunk_index"`
	SectionTitle string    `db:"section_title"`
	CreatedAt    time.Time `db:"created_at"`
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, filename, content, size, chunk_count, status, error_message, chapter_title, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.Filename, doc.Content, doc.Size, doc.ChunkCount, doc.Status, doc.ErrorMessage, doc.ChapterTitle, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *SQLiteStore) getDocumentWhere(ctx context.Context, where string, arg any) (*Document, error) {
	var row sqliteDocument
	err := s.db.GetContext(ctx, &row, `SELECT * FROM documents WHERE `+where, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query document: %w", err)
	}
	doc := row.toDocument()
	return &doc, nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	return s.getDocumentWhere(ctx, "id = ?", id)
}

func (s *SQLiteStore) GetDocumentByFilename(ctx context.Context, filename string) (*Document, error) {
	return s.getDocumentWhere(ctx, "filename = ?", filename)
}

func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]Document, error) {
	var rows []sqliteDocument
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM documents ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	docs := make([]Document, len(rows))
	for i, row := range rows {
		docs[i] = row.toDocument()
	}
	return docs, nil
}

func (s *SQLiteStore) SetDocumentTitle(ctx context.Context, id, chapterTitle string) error {
	return s.execDocumentUpdate(ctx, `UPDATE documents SET chapter_title = ? WHERE id = ?`, chapterTitle, id)
}

func (s *SQLiteStore) MarkDocumentCompleted(ctx context.Context, id string, chunkCount int) error {
	return s.execDocumentUpdate(ctx,
		`UPDATE documents SET status = ?, chunk_count = ?, error_message = '' WHERE id = ?`,
		StatusCompleted, chunkCount, id)
}

func (s *SQLiteStore) MarkDocumentError(ctx context.Context, id, message string) error {
	return s.execDocumentUpdate(ctx,
		`UPDATE documents SET status = ?, error_message = ? WHERE id = ?`,
		StatusError, message, id)
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return s.execDocumentUpdate(ctx, `DELETE FROM documents WHERE id = ?`, id)
}

func (s *SQLiteStore) execDocumentUpdate(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) InsertChunks(ctx context.Context, chunks []DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, chunk := range chunks {
		createdAt := chunk.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO document_chunks (id, document_id, content, embedding, chunk_index, section_title, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, chunk.ID, chunk.DocumentID, chunk.Content, encodeEmbedding(chunk.Embedding),
			chunk.ChunkIndex, chunk.SectionTitle, createdAt); err != nil {
			return fmt.Errorf("insert chunk %d: %w", chunk.ChunkIndex, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunks: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListChunksByDocument(ctx context.Context, documentID string) ([]DocumentChunk, error) {
	var rows []sqliteChunk
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM document_chunks WHERE document_id = ? ORDER BY chunk_index
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	return decodeChunkRows(rows)
}

func (s *SQLiteStore) ListAllChunks(ctx context.Context) ([]DocumentChunk, error) {
	var rows []sqliteChunk
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM document_chunks ORDER BY document_id, chunk_index
	`)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	return decodeChunkRows(rows)
}

func decodeChunkRows(rows []sqliteChunk) ([]DocumentChunk, error) {
	chunks := make([]DocumentChunk, len(rows))
	for i, row := range rows {
		embedding, err := decodeEmbedding(row.Embedding)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", row.ID, err)
		}
		chunks[i] = DocumentChunk{
			ID:           row.ID,
			DocumentID:   row.DocumentID,
			Content:      row.Content,
			Embedding:    embedding,
			ChunkIndex:   row.ChunkIndex,
			SectionTitle: row.SectionTitle,
			CreatedAt:    row.CreatedAt,
		}
	}
	return chunks, nil
}

func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *ChatMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	sources, err := json.Marshal(msg.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, role, content, sources, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID, msg.Role, msg.Content, string(sources), msg.CreatedAt); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context) ([]ChatMessage, error) {
	type row struct {
		ID        string    `db:"id"`
		Role      string    `db:"role"`
		Content   string    `db:"content"`
		Sources   string    `db:"sources"`
		CreatedAt time.Time `db:"created_at"`
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM chat_messages ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	messages := make([]ChatMessage, len(rows))
	for i, r := range rows {
		messages[i] = ChatMessage{ID: r.ID, Role: r.Role, Content: r.Content, CreatedAt: r.CreatedAt}
		if r.Sources != "" {
			if err := json.Unmarshal([]byte(r.Sources), &messages[i].Sources); err != nil {
				return nil, fmt.Errorf("unmarshal sources: %w", err)
			}
		}
	}
	return messages, nil
}

func (s *SQLiteStore) ClearMessages(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages`); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func encodeEmbedding(vec []float32) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, len(vec)*4))
	for _, v := range vec {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
		buf.Write(b[:])
	}
	return buf.Bytes()
}

func decodeEmbedding(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

var _ Store = (*SQLiteStore)(nil)
