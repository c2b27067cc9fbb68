package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kerryback/book-chat/embeddings"
	"github.com/kerryback/book-chat/store"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	// failures holds an error to return per call, consumed in order.
	failures []error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		if err != nil {
			return nil, err
		}
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type countingInvalidator struct {
	mu    sync.Mutex
	count int
}

func (c *countingInvalidator) Invalidate() {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
}

func (c *countingInvalidator) invalidations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func newTestService(st store.Store, embedder embeddings.Embedder) (*Service, *countingInvalidator) {
	inv := &countingInvalidator{}
	svc := NewService(st, embedder, inv, Config{
		ChunkSize:      200,
		ChunkOverlap:   40,
		RetryBaseDelay: time.Millisecond,
	}, nil)
	return svc, inv
}

func createDocument(t *testing.T, st store.Store, content string) *store.Document {
	t.Helper()
	doc := &store.Document{
		ID:       uuid.NewString(),
		Filename: uuid.NewString() + ".md",
		Content:  content,
		Size:     int64(len(content)),
		Status:   store.StatusProcessing,
	}
	require.NoError(t, st.CreateDocument(context.Background(), doc))
	return doc
}

const testChapter = "---\ntitle: Term Structure\n---\n\n# Term Structure\n\n## Bonds\n\n" +
	"A zero-coupon bond pays one unit at maturity. Its price discounts that unit. " +
	"The yield curve collects these prices across maturities. Forward rates follow. " +
	"## Duration\n\nDuration measures price sensitivity to yield changes. " +
	"Convexity refines the estimate for larger moves. Hedging uses both."

func TestProcessSuccess(t *testing.T) {
	st := store.NewMemoryStore()
	embedder := &fakeEmbedder{}
	svc, inv := newTestService(st, embedder)
	doc := createDocument(t, st, testChapter)

	require.NoError(t, svc.Process(context.Background(), doc.ID))

	got, err := st.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, got.Status)
	assert.Equal(t, "Term Structure", got.ChapterTitle)
	assert.Empty(t, got.ErrorMessage)

	chunks, err := st.ListChunksByDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, len(chunks), got.ChunkCount)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.ChunkIndex)
		assert.NotEmpty(t, chunk.Embedding)
	}
	assert.GreaterOrEqual(t, inv.invalidations(), 1)
}

func TestProcessEmbedFailureMarksError(t *testing.T) {
	st := store.NewMemoryStore()
	embedder := &fakeEmbedder{failures: []error{
		&embeddings.ProviderError{Provider: "test", Err: errors.New("invalid api key")},
	}}
	svc, inv := newTestService(st, embedder)
	doc := createDocument(t, st, testChapter)

	err := svc.Process(context.Background(), doc.ID)
	require.Error(t, err)

	got, getErr := st.GetDocument(context.Background(), doc.ID)
	require.NoError(t, getErr)
	assert.Equal(t, store.StatusError, got.Status)
	assert.Contains(t, got.ErrorMessage, "invalid api key")
	assert.GreaterOrEqual(t, inv.invalidations(), 1)

	// Non-transient failures are not retried.
	assert.Equal(t, 1, embedder.callCount())
}

func TestProcessRetriesTransientFailures(t *testing.T) {
	st := store.NewMemoryStore()
	transient := &embeddings.ProviderError{Provider: "test", Err: errors.New("rate limited"), Transient: true}
	embedder := &fakeEmbedder{failures: []error{transient, transient}}
	svc, _ := newTestService(st, embedder)
	doc := createDocument(t, st, testChapter)

	require.NoError(t, svc.Process(context.Background(), doc.ID))

	got, err := st.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, got.Status)

	chunks, err := st.ListChunksByDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	// Two extra calls for the two transient failures on the first chunk.
	assert.Equal(t, len(chunks)+2, embedder.callCount())
}

func TestProcessExhaustsRetries(t *testing.T) {
	st := store.NewMemoryStore()
	transient := &embeddings.ProviderError{Provider: "test", Err: errors.New("rate limited"), Transient: true}
	embedder := &fakeEmbedder{failures: []error{transient, transient, transient}}
	svc, _ := newTestService(st, embedder)
	doc := createDocument(t, st, testChapter)

	err := svc.Process(context.Background(), doc.ID)
	require.Error(t, err)

	got, getErr := st.GetDocument(context.Background(), doc.ID)
	require.NoError(t, getErr)
	assert.Equal(t, store.StatusError, got.Status)
	assert.Equal(t, 3, embedder.callCount())
}

func TestProcessMissingDocumentIsNoop(t *testing.T) {
	st := store.NewMemoryStore()
	svc, inv := newTestService(st, &fakeEmbedder{})

	require.NoError(t, svc.Process(context.Background(), uuid.NewString()))
	assert.Equal(t, 0, inv.invalidations())
}

func TestProcessReplacesExistingChunks(t *testing.T) {
	st := store.NewMemoryStore()
	embedder := &fakeEmbedder{}
	svc, _ := newTestService(st, embedder)
	doc := createDocument(t, st, testChapter)

	stale := store.DocumentChunk{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		Content:    "stale chunk from an earlier run",
		Embedding:  []float32{0, 0, 1},
		ChunkIndex: 99,
	}
	require.NoError(t, st.InsertChunks(context.Background(), []store.DocumentChunk{stale}))

	require.NoError(t, svc.Process(context.Background(), doc.ID))

	chunks, err := st.ListChunksByDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	for _, chunk := range chunks {
		assert.NotEqual(t, stale.ID, chunk.ID)
		assert.Less(t, chunk.ChunkIndex, len(chunks))
	}
}

func TestCancelAbortsInFlightJob(t *testing.T) {
	st := store.NewMemoryStore()
	started := make(chan struct{})
	embedder := &blockingEmbedder{started: started}
	svc, _ := newTestService(st, embedder)
	doc := createDocument(t, st, testChapter)

	processDone := make(chan error, 1)
	go func() {
		processDone <- svc.Process(context.Background(), doc.ID)
	}()

	<-started
	svc.Cancel(doc.ID)

	select {
	case err := <-processDone:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("process did not stop after cancel")
	}

	got, err := st.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusError, got.Status)
}

// blockingEmbedder blocks until its context is cancelled, signalling once the
// first call begins.
type blockingEmbedder struct {
	started   chan struct{}
	startOnce sync.Once
}

func (b *blockingEmbedder) Embed(ctx context.Context, _ []string) ([][]float32, error) {
	b.startOnce.Do(func() { close(b.started) })
	<-ctx.Done()
	return nil, fmt.Errorf("embed aborted: %w", ctx.Err())
}
