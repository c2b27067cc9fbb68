package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used for tests and local development. It
// keeps the same ordering guarantees as the SQL implementations.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]*Document
	chunks    map[string][]DocumentChunk
	messages  []ChatMessage
	docOrder  []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]*Document),
		chunks:    make(map[string][]DocumentChunk),
	}
}

func (s *MemoryStore) CreateDocument(_ context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	clone := *doc
	s.documents[doc.ID] = &clone
	s.docOrder = append(s.docOrder, doc.ID)
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *doc
	return &clone, nil
}

func (s *MemoryStore) GetDocumentByFilename(_ context.Context, filename string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.docOrder {
		if doc, ok := s.documents[id]; ok && doc.Filename == filename {
			clone := *doc
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListDocuments(_ context.Context) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Document, 0, len(s.documents))
	for _, id := range s.docOrder {
		if doc, ok := s.documents[id]; ok {
			out = append(out, *doc)
		}
	}
	return out, nil
}

func (s *MemoryStore) SetDocumentTitle(_ context.Context, id, chapterTitle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return ErrNotFound
	}
	doc.ChapterTitle = chapterTitle
	return nil
}

func (s *MemoryStore) MarkDocumentCompleted(_ context.Context, id string, chunkCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return ErrNotFound
	}
	doc.Status = StatusCompleted
	doc.ChunkCount = chunkCount
	doc.ErrorMessage = ""
	return nil
}

func (s *MemoryStore) MarkDocumentError(_ context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return ErrNotFound
	}
	doc.Status = StatusError
	doc.ErrorMessage = message
	return nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[id]; !ok {
		return ErrNotFound
	}
	delete(s.documents, id)
	delete(s.chunks, id)
	for i, docID := range s.docOrder {
		if docID == id {
			s.docOrder = append(s.docOrder[:i], s.docOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) InsertChunks(_ context.Context, chunks []DocumentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chunk := range chunks {
		if chunk.CreatedAt.IsZero() {
			chunk.CreatedAt = time.Now()
		}
		s.chunks[chunk.DocumentID] = append(s.chunks[chunk.DocumentID], chunk)
	}
	return nil
}

func (s *MemoryStore) DeleteChunksByDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, documentID)
	return nil
}

func (s *MemoryStore) ListChunksByDocument(_ context.Context, documentID string) ([]DocumentChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]DocumentChunk(nil), s.chunks[documentID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (s *MemoryStore) ListAllChunks(_ context.Context) ([]DocumentChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []DocumentChunk
	for _, id := range s.docOrder {
		chunks := append([]DocumentChunk(nil), s.chunks[id]...)
		sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })
		out = append(out, chunks...)
	}
	return out, nil
}

func (s *MemoryStore) InsertMessage(_ context.Context, msg *ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context) ([]ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ChatMessage(nil), s.messages...), nil
}

func (s *MemoryStore) ClearMessages(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	return nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
