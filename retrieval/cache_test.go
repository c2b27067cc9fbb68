package retrieval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kerryback/book-chat/store"
)

func seedDocument(t *testing.T, st *store.MemoryStore, status string, embeddings ...[]float32) *store.Document {
	t.Helper()
	ctx := context.Background()
	doc := &store.Document{
		ID:       uuid.NewString(),
		Filename: uuid.NewString() + ".md",
		Content:  "content",
		Status:   status,
	}
	require.NoError(t, st.CreateDocument(ctx, doc))

	chunks := make([]store.DocumentChunk, len(embeddings))
	for i, vec := range embeddings {
		chunks[i] = store.DocumentChunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			Content:    "chunk content",
			Embedding:  vec,
			ChunkIndex: i,
		}
	}
	require.NoError(t, st.InsertChunks(ctx, chunks))
	return doc
}

func TestSnapshotFiltersIncompleteAndUnembedded(t *testing.T) {
	st := store.NewMemoryStore()
	completed := seedDocument(t, st, store.StatusCompleted, []float32{1, 0}, nil)
	seedDocument(t, st, store.StatusProcessing, []float32{0, 1})
	seedDocument(t, st, store.StatusError, []float32{0, 1})

	cache := NewCache(st, time.Hour, 0, nil)
	entries, err := cache.Snapshot(context.Background())
	require.NoError(t, err)

	// Only the embedded chunk of the completed document survives.
	require.Len(t, entries, 1)
	assert.Equal(t, completed.ID, entries[0].Document.ID)
}

func TestSnapshotStaleUntilInvalidated(t *testing.T) {
	st := store.NewMemoryStore()
	seedDocument(t, st, store.StatusCompleted, []float32{1, 0})

	cache := NewCache(st, time.Hour, 0, nil)
	entries, err := cache.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)

	seedDocument(t, st, store.StatusCompleted, []float32{0, 1})

	// Within the TTL the snapshot stays as built.
	entries, err = cache.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	cache.Invalidate()
	entries, err = cache.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSnapshotRebuildsAfterTTL(t *testing.T) {
	st := store.NewMemoryStore()
	seedDocument(t, st, store.StatusCompleted, []float32{1, 0})

	cache := NewCache(st, 10*time.Millisecond, 0, nil)
	_, err := cache.Snapshot(context.Background())
	require.NoError(t, err)

	seedDocument(t, st, store.StatusCompleted, []float32{0, 1})
	time.Sleep(20 * time.Millisecond)

	entries, err := cache.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestDeletedDocumentExcludedAfterInvalidation(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	doc := seedDocument(t, st, store.StatusCompleted, []float32{1, 0})

	cache := NewCache(st, time.Hour, 0, nil)
	matches, err := cache.Search(ctx, []float32{1, 0}, 5, 0.3)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	// Deletion mid-TTL must stop surfacing the chunks once invalidated, even
	// though the TTL has not expired.
	require.NoError(t, st.DeleteDocument(ctx, doc.ID))
	cache.Invalidate()

	matches, err = cache.Search(ctx, []float32{1, 0}, 5, 0.3)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearchThresholdFiltering(t *testing.T) {
	st := store.NewMemoryStore()
	seedDocument(t, st, store.StatusCompleted,
		[]float32{1, 0},   // similarity 1.0
		[]float32{1, 1},   // similarity ~0.707
		[]float32{0, 1},   // similarity 0.0
		[]float32{-1, 0},  // similarity -1.0
	)

	cache := NewCache(st, time.Hour, 0, nil)
	matches, err := cache.Search(context.Background(), []float32{1, 0}, 10, 0.3)
	require.NoError(t, err)

	// Low-relevance candidates stay excluded even though the limit is unmet.
	require.Len(t, matches, 2)
	for _, match := range matches {
		assert.GreaterOrEqual(t, match.Score, 0.3)
	}
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
}

func TestSearchSmallBatches(t *testing.T) {
	st := store.NewMemoryStore()
	seedDocument(t, st, store.StatusCompleted,
		[]float32{1, 0}, []float32{1, 0.1}, []float32{1, 0.2}, []float32{1, 0.3}, []float32{1, 0.4})

	cache := NewCache(st, time.Hour, 2, nil)
	matches, err := cache.Search(context.Background(), []float32{1, 0}, 3, 0.3)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
}

func TestSearchDimensionMismatchIsHardError(t *testing.T) {
	st := store.NewMemoryStore()
	seedDocument(t, st, store.StatusCompleted, []float32{1, 0, 0})

	cache := NewCache(st, time.Hour, 0, nil)
	_, err := cache.Search(context.Background(), []float32{1, 0}, 5, 0.3)

	var mismatch *DimensionMismatchError
	require.ErrorAs(t, err, &mismatch)
}

// countingSource counts rebuild reads to verify concurrent readers share one
// rebuild.
type countingSource struct {
	*store.MemoryStore
	mu       sync.Mutex
	docReads int
}

func (c *countingSource) ListDocuments(ctx context.Context) ([]store.Document, error) {
	c.mu.Lock()
	c.docReads++
	c.mu.Unlock()
	return c.MemoryStore.ListDocuments(ctx)
}

func (c *countingSource) reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.docReads
}

func TestConcurrentSnapshotRebuildsOnce(t *testing.T) {
	st := store.NewMemoryStore()
	seedDocument(t, st, store.StatusCompleted, []float32{1, 0})

	source := &countingSource{MemoryStore: st}
	cache := NewCache(source, time.Hour, 0, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entries, err := cache.Snapshot(context.Background())
			assert.NoError(t, err)
			assert.Len(t, entries, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, source.reads())
}
