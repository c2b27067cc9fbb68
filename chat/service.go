// Package chat answers user questions grounded in retrieved document chunks,
// persisting the conversation with denormalized source citations.
package chat

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/kerryback/book-chat/embeddings"
	"github.com/kerryback/book-chat/llm"
	"github.com/kerryback/book-chat/retrieval"
	"github.com/kerryback/book-chat/store"
)

const defaultSimilarityLimit = 5

// NoDocumentsMessage is returned when no completed document is available to
// search. No embedding or retrieval call is made in that case.
const NoDocumentsMessage = "I don't have any completed documents to search yet. Upload a markdown or Quarto file and ask again once it finishes processing."

type Config struct {
	TopK      int
	Threshold float64
}

// Options tunes a single question.
type Options struct {
	Limit   int
	Section string
}

type Service struct {
	store    store.Store
	cache    *retrieval.Cache
	ranker   retrieval.Ranker
	embedder embeddings.Embedder
	llm      llm.Client
	cfg      Config
	logger   *log.Logger
}

func NewService(st store.Store, cache *retrieval.Cache, ranker retrieval.Ranker, embedder embeddings.Embedder, llmClient llm.Client, cfg Config, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaultSimilarityLimit
	}
	return &Service{
		store:    st,
		cache:    cache,
		ranker:   ranker,
		embedder: embedder,
		llm:      llmClient,
		cfg:      cfg,
		logger:   logger,
	}
}

// Ask records the user's question, retrieves supporting chunks and returns
// the persisted assistant message. Provider failures propagate to the caller;
// no degraded answer is stored.
func (s *Service) Ask(ctx context.Context, question string, opts Options) (*store.ChatMessage, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question cannot be empty")
	}

	userMsg := &store.ChatMessage{
		ID:      uuid.NewString(),
		Role:    store.RoleUser,
		Content: question,
	}
	if err := s.store.InsertMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	entries, err := s.cache.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load retrieval snapshot: %w", err)
	}
	if len(entries) == 0 {
		return s.reply(ctx, NoDocumentsMessage, nil)
	}

	vectors, err := s.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedder returned no vectors")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = s.cfg.TopK
	}
	matches, err := s.ranker.Search(ctx, vectors[0], question, retrieval.SearchOptions{
		Limit:     limit,
		Threshold: s.cfg.Threshold,
		Section:   opts.Section,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve chunks: %w", err)
	}

	if len(matches) == 0 {
		s.logger.Printf("no chunks above threshold for question, answering without context")
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt()},
		{Role: llm.RoleUser, Content: formatUserPrompt(question, buildContextPrompt(matches))},
	}

	answer, err := s.llm.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("llm generate: %w", err)
	}

	return s.reply(ctx, strings.TrimSpace(answer), toSourceRefs(matches))
}

func (s *Service) reply(ctx context.Context, answer string, sources []store.SourceRef) (*store.ChatMessage, error) {
	msg := &store.ChatMessage{
		ID:      uuid.NewString(),
		Role:    store.RoleAssistant,
		Content: answer,
		Sources: sources,
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist assistant message: %w", err)
	}
	return msg, nil
}

// toSourceRefs snapshots citation data off the matches. The refs carry no
// document or chunk ids, so they remain valid after the document is deleted.
func toSourceRefs(matches []retrieval.Match) []store.SourceRef {
	if len(matches) == 0 {
		return nil
	}
	refs := make([]store.SourceRef, len(matches))
	for i, match := range matches {
		refs[i] = store.SourceRef{
			Filename:     match.Document.Filename,
			ChapterTitle: match.Document.ChapterTitle,
			SectionTitle: match.Chunk.SectionTitle,
			Score:        match.Score,
		}
	}
	return refs
}

func buildContextPrompt(matches []retrieval.Match) string {
	var sb strings.Builder
	for idx, match := range matches {
		sb.WriteString(fmt.Sprintf("Source %d: %s", idx+1, match.Document.Filename))
		if match.Document.ChapterTitle != "" {
			sb.WriteString(fmt.Sprintf(", %s", match.Document.ChapterTitle))
		}
		if match.Chunk.SectionTitle != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", match.Chunk.SectionTitle))
		}
		sb.WriteString("\n")
		sb.WriteString(strings.TrimSpace(match.Chunk.Content))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func systemPrompt() string {
	return "You are a helpful teaching assistant answering questions about uploaded book chapters. Ground your answer in the supplied context and cite Source numbers in brackets (e.g., [Source 1]) when you draw from it. If the context does not cover the question, say so plainly before answering from general knowledge."
}

func formatUserPrompt(question, context string) string {
	var sb strings.Builder
	sb.WriteString("Question:\n")
	sb.WriteString(question)
	if strings.TrimSpace(context) != "" {
		sb.WriteString("\n\nContext from the uploaded chapters:\n")
		sb.WriteString(context)
	}
	sb.WriteString("\nAnswer in markdown, starting with the direct answer and citing the relevant Source numbers.")
	return sb.String()
}
