package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kerryback/book-chat/llm"
	"github.com/kerryback/book-chat/retrieval"
	"github.com/kerryback/book-chat/store"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	vectors := make([][]float32, len(inputs))
	for i := range inputs {
		vectors[i] = []float32{1, 0}
	}
	return vectors, nil
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLLM struct {
	answer string
	err    error

	mu       sync.Mutex
	received []llm.Message
}

func (f *fakeLLM) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	f.mu.Lock()
	f.received = messages
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func seedCompletedDocument(t *testing.T, st store.Store, filename, chapter, section, content string) {
	t.Helper()
	ctx := context.Background()
	doc := &store.Document{
		ID:           uuid.NewString(),
		Filename:     filename,
		Content:      content,
		Status:       store.StatusCompleted,
		ChapterTitle: chapter,
	}
	require.NoError(t, st.CreateDocument(ctx, doc))
	require.NoError(t, st.InsertChunks(ctx, []store.DocumentChunk{{
		ID:           uuid.NewString(),
		DocumentID:   doc.ID,
		Content:      content,
		Embedding:    []float32{1, 0},
		SectionTitle: section,
	}}))
}

func newTestService(t *testing.T, st store.Store, embedder *fakeEmbedder, client *fakeLLM) *Service {
	t.Helper()
	cache := retrieval.NewCache(st, time.Minute, 0, nil)
	ranker := retrieval.NewHybridRanker(cache, 0.7, 0.3, nil)
	return NewService(st, cache, ranker, embedder, client, Config{TopK: 5, Threshold: 0.3}, nil)
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newTestService(t, st, &fakeEmbedder{}, &fakeLLM{answer: "unused"})

	_, err := svc.Ask(context.Background(), "   ", Options{})
	require.Error(t, err)

	msgs, err := st.ListMessages(context.Background())
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAskWithoutDocumentsSkipsEmbedding(t *testing.T) {
	st := store.NewMemoryStore()
	embedder := &fakeEmbedder{}
	svc := newTestService(t, st, embedder, &fakeLLM{answer: "unused"})

	msg, err := svc.Ask(context.Background(), "What is duration?", Options{})
	require.NoError(t, err)

	assert.Equal(t, NoDocumentsMessage, msg.Content)
	assert.Empty(t, msg.Sources)
	assert.Equal(t, 0, embedder.callCount())

	msgs, err := st.ListMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
	assert.Equal(t, store.RoleAssistant, msgs[1].Role)
}

func TestAskAnswersWithSources(t *testing.T) {
	st := store.NewMemoryStore()
	seedCompletedDocument(t, st, "ch3.md", "Term Structure", "Spot Rates",
		"Duration measures the sensitivity of a bond price to yield changes.")

	client := &fakeLLM{answer: "Duration measures interest rate sensitivity [Source 1]."}
	svc := newTestService(t, st, &fakeEmbedder{}, client)

	msg, err := svc.Ask(context.Background(), "What is duration?", Options{})
	require.NoError(t, err)

	assert.Equal(t, store.RoleAssistant, msg.Role)
	assert.Equal(t, client.answer, msg.Content)
	require.Len(t, msg.Sources, 1)
	assert.Equal(t, "ch3.md", msg.Sources[0].Filename)
	assert.Equal(t, "Term Structure", msg.Sources[0].ChapterTitle)
	assert.Equal(t, "Spot Rates", msg.Sources[0].SectionTitle)
	assert.Greater(t, msg.Sources[0].Score, 0.0)

	// The prompt grounds the model in the retrieved chunk.
	require.Len(t, client.received, 2)
	assert.Equal(t, llm.RoleSystem, client.received[0].Role)
	assert.Contains(t, client.received[1].Content, "What is duration?")
	assert.Contains(t, client.received[1].Content, "Source 1: ch3.md")
	assert.Contains(t, client.received[1].Content, "sensitivity of a bond price")
}

func TestAskLLMFailureStoresNoAssistantMessage(t *testing.T) {
	st := store.NewMemoryStore()
	seedCompletedDocument(t, st, "ch3.md", "Term Structure", "", "Bond pricing content.")

	svc := newTestService(t, st, &fakeEmbedder{}, &fakeLLM{err: errors.New("model overloaded")})

	_, err := svc.Ask(context.Background(), "What is a bond?", Options{})
	require.Error(t, err)

	msgs, err := st.ListMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
}

func TestAskSourcesSurviveDocumentDeletion(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	seedCompletedDocument(t, st, "ch3.md", "Term Structure", "", "Bond pricing content.")

	svc := newTestService(t, st, &fakeEmbedder{}, &fakeLLM{answer: "answer [Source 1]"})
	msg, err := svc.Ask(ctx, "What is a bond?", Options{})
	require.NoError(t, err)
	require.Len(t, msg.Sources, 1)

	docs, err := st.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.NoError(t, st.DeleteDocument(ctx, docs[0].ID))

	msgs, err := st.ListMessages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Len(t, msgs[1].Sources, 1)
	assert.Equal(t, "ch3.md", msgs[1].Sources[0].Filename)
	assert.Equal(t, "Term Structure", msgs[1].Sources[0].ChapterTitle)
}
