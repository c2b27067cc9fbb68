package retrieval

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kerryback/book-chat/store"
)

const (
	defaultTTL       = 5 * time.Minute
	defaultBatchSize = 100
)

// Source is the slice of the persistence layer the cache rebuilds from.
type Source interface {
	ListDocuments(ctx context.Context) ([]store.Document, error)
	ListAllChunks(ctx context.Context) ([]store.DocumentChunk, error)
}

// Cache holds a snapshot of the embedded chunks of all completed documents.
// The snapshot expires after a TTL and is dropped explicitly whenever a
// pipeline finishes or a document is deleted. Rebuilds are serialized: a
// reader that finds the snapshot missing or expired rebuilds it under the
// write lock while concurrent readers wait.
type Cache struct {
	source    Source
	ttl       time.Duration
	batchSize int
	logger    *log.Logger

	mu      sync.RWMutex
	entries []Entry
	builtAt time.Time
}

func NewCache(source Source, ttl time.Duration, batchSize int, logger *log.Logger) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Cache{source: source, ttl: ttl, batchSize: batchSize, logger: logger}
}

// Snapshot returns the current entries, rebuilding from the source when the
// snapshot is missing or past its TTL.
func (c *Cache) Snapshot(ctx context.Context) ([]Entry, error) {
	c.mu.RLock()
	if c.fresh() {
		entries := c.entries
		c.mu.RUnlock()
		return entries, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another reader may have rebuilt while we waited for the lock.
	if c.fresh() {
		return c.entries, nil
	}

	entries, err := c.rebuild(ctx)
	if err != nil {
		return nil, err
	}
	c.entries = entries
	c.builtAt = time.Now()
	c.logger.Printf("retrieval cache rebuilt: %d chunks", len(entries))
	return entries, nil
}

func (c *Cache) fresh() bool {
	return c.entries != nil && time.Since(c.builtAt) < c.ttl
}

// Invalidate drops the snapshot so the next read rebuilds, regardless of TTL.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.entries = nil
	c.builtAt = time.Time{}
	c.mu.Unlock()
}

// rebuild loads documents and chunks and joins them, keeping only chunks with
// an embedding whose document is completed.
func (c *Cache) rebuild(ctx context.Context) ([]Entry, error) {
	var (
		docs   []store.Document
		chunks []store.DocumentChunk
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		docs, err = c.source.ListDocuments(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		chunks, err = c.source.ListAllChunks(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("rebuild retrieval cache: %w", err)
	}

	completed := make(map[string]store.Document, len(docs))
	for _, doc := range docs {
		if doc.Status == store.StatusCompleted {
			completed[doc.ID] = doc
		}
	}

	entries := make([]Entry, 0, len(chunks))
	for _, chunk := range chunks {
		doc, ok := completed[chunk.DocumentID]
		if !ok || len(chunk.Embedding) == 0 {
			continue
		}
		entries = append(entries, Entry{Chunk: chunk, Document: doc})
	}
	return entries, nil
}

// Search scores the cached chunks against the query vector and returns the
// top limit matches at or above threshold. Scoring runs in fixed-size batches
// with a cancellation check between batches.
func (c *Cache) Search(ctx context.Context, query []float32, limit int, threshold float64) ([]Match, error) {
	entries, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, limit)
	for offset := 0; offset < len(entries); offset += c.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := offset + c.batchSize
		if end > len(entries) {
			end = len(entries)
		}
		for _, entry := range entries[offset:end] {
			score, err := Cosine(query, entry.Chunk.Embedding)
			if err != nil {
				return nil, err
			}
			if score >= threshold {
				matches = append(matches, Match{Entry: entry, Score: score})
			}
		}
	}

	return topMatches(matches, limit), nil
}
