package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kerryback/book-chat/embeddings"
	"github.com/kerryback/book-chat/store"
)

// Invalidator drops the retrieval snapshot so the next search observes the
// pipeline's writes.
type Invalidator interface {
	Invalidate()
}

type Config struct {
	ChunkSize      int
	ChunkOverlap   int
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// Service runs the per-document processing pipeline: extract title, chunk,
// embed, persist, then flip the document status. Jobs are consumed from a
// bounded queue by a fixed worker pool; at most one pipeline runs per
// document id at a time.
type Service struct {
	store    store.Store
	embedder embeddings.Embedder
	cache    Invalidator
	cfg      Config
	logger   *log.Logger
	jobs     chan string

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	active map[string]*job
}

type job struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewService(st store.Store, embedder embeddings.Embedder, cache Invalidator, cfg Config, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = defaultChunkOverlap
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}

	return &Service{
		store:    st,
		embedder: embedder,
		cache:    cache,
		cfg:      cfg,
		logger:   logger,
		jobs:     make(chan string, 64),
		locks:    make(map[string]*sync.Mutex),
		active:   make(map[string]*job),
	}
}

// Start launches numWorkers goroutines consuming the job queue until ctx is
// cancelled.
func (s *Service) Start(ctx context.Context, numWorkers int) {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	for w := 1; w <= numWorkers; w++ {
		go func(w int) {
			for {
				select {
				case <-ctx.Done():
					return
				case docID := <-s.jobs:
					if err := s.Process(ctx, docID); err != nil {
						s.logger.Printf("worker %d: process document %s: %v", w, docID, err)
					}
				}
			}
		}(w)
	}
}

// Enqueue schedules a document for processing. Blocks when the queue is full.
func (s *Service) Enqueue(docID string) {
	s.jobs <- docID
}

// Cancel aborts the in-flight pipeline for docID, if any, and waits for it to
// wind down. Safe to call for documents that are not being processed.
func (s *Service) Cancel(docID string) {
	s.mu.Lock()
	j, ok := s.active[docID]
	s.mu.Unlock()
	if !ok {
		return
	}
	j.cancel()
	<-j.done
}

// Process runs the full pipeline for one document synchronously.
func (s *Service) Process(ctx context.Context, docID string) error {
	lock := s.lockFor(docID)
	lock.Lock()
	defer lock.Unlock()

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	s.mu.Lock()
	s.active[docID] = &job{cancel: cancel, done: done}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.active, docID)
		s.mu.Unlock()
		close(done)
	}()

	doc, err := s.store.GetDocument(jobCtx, docID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Printf("document %s removed before processing", docID)
			return nil
		}
		return fmt.Errorf("load document: %w", err)
	}

	if title := ExtractChapterTitle(doc.Content); title != "" {
		if err := s.store.SetDocumentTitle(jobCtx, docID, title); err != nil {
			s.logger.Printf("set chapter title for %s: %v", docID, err)
		}
	}

	// Reprocessing replaces any chunks left over from a previous run.
	if err := s.store.DeleteChunksByDocument(jobCtx, docID); err != nil {
		return s.fail(ctx, docID, fmt.Errorf("clear existing chunks: %w", err))
	}

	chunks := SplitChunks(doc.Content, s.cfg.ChunkSize, s.cfg.ChunkOverlap)

	for idx, chunk := range chunks {
		vec, err := s.embedWithRetry(jobCtx, chunk.Content)
		if err != nil {
			return s.fail(ctx, docID, fmt.Errorf("embed chunk %d: %w", idx, err))
		}

		record := store.DocumentChunk{
			ID:           uuid.NewString(),
			DocumentID:   docID,
			Content:      chunk.Content,
			Embedding:    vec,
			ChunkIndex:   idx,
			SectionTitle: chunk.SectionTitle,
		}
		if err := s.store.InsertChunks(jobCtx, []store.DocumentChunk{record}); err != nil {
			return s.fail(ctx, docID, fmt.Errorf("persist chunk %d: %w", idx, err))
		}
	}

	if err := s.store.MarkDocumentCompleted(ctx, docID, len(chunks)); err != nil {
		return s.fail(ctx, docID, fmt.Errorf("mark completed: %w", err))
	}
	s.cache.Invalidate()

	s.logger.Printf("processed %s (%d chunks)", doc.Filename, len(chunks))
	return nil
}

// fail records the terminal error status. Status writes survive job
// cancellation, so they use a detached context.
func (s *Service) fail(ctx context.Context, docID string, cause error) error {
	detached := context.WithoutCancel(ctx)
	if err := s.store.MarkDocumentError(detached, docID, cause.Error()); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Printf("mark document %s failed: %v", docID, err)
	}
	s.cache.Invalidate()
	return cause
}

// embedWithRetry retries transient provider failures with exponential
// backoff. Non-transient failures and cancellations abort immediately.
func (s *Service) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := s.cfg.RetryBaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		vectors, err := s.embedder.Embed(ctx, []string{text})
		if err == nil {
			if len(vectors) == 0 {
				return nil, fmt.Errorf("embedder returned no vectors")
			}
			return vectors[0], nil
		}
		lastErr = err
		if ctx.Err() != nil || !embeddings.IsTransient(err) {
			break
		}
	}
	return nil, lastErr
}

func (s *Service) lockFor(docID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[docID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[docID] = lock
	}
	return lock
}
