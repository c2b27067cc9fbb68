package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kerryback/book-chat/api"
	"github.com/kerryback/book-chat/chat"
	"github.com/kerryback/book-chat/config"
	"github.com/kerryback/book-chat/database"
	"github.com/kerryback/book-chat/embeddings"
	"github.com/kerryback/book-chat/ingestion"
	"github.com/kerryback/book-chat/llm"
	"github.com/kerryback/book-chat/retrieval"
	"github.com/kerryback/book-chat/store"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	command := "serve"
	args := os.Args[1:]
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	cfg := config.Load()

	switch command {
	case "serve":
		serveCmd(cfg, logger)
	case "clear":
		clearCmd(cfg, logger, args)
	default:
		logger.Printf("unknown command: %s", command)
		printUsage()
		os.Exit(1)
	}
}

func serveCmd(cfg config.Config, logger *log.Logger) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("store setup: %v", err)
	}
	defer st.Close()

	embedder, err := embeddings.NewEmbedder(ctx, cfg)
	if err != nil {
		logger.Fatalf("embedder setup: %v", err)
	}

	llmClient, err := llm.NewClient(ctx, cfg)
	if err != nil {
		logger.Fatalf("llm setup: %v", err)
	}

	cache := retrieval.NewCache(st, cfg.Retrieval.CacheTTL, cfg.Retrieval.BatchSize, logger)

	var ranker retrieval.Ranker
	if cfg.Retrieval.Hybrid {
		ranker = retrieval.NewHybridRanker(cache, cfg.Retrieval.SemanticWeight, cfg.Retrieval.KeywordWeight, logger)
	} else {
		ranker = retrieval.NewSemanticRanker(cache)
	}

	pipeline := ingestion.NewService(st, embedder, cache, ingestion.Config{
		ChunkSize:    cfg.Retrieval.ChunkSize,
		ChunkOverlap: cfg.Retrieval.ChunkOverlap,
	}, logger)
	pipeline.Start(ctx, cfg.Workers)

	chatSvc := chat.NewService(st, cache, ranker, embedder, llmClient, chat.Config{
		TopK:      cfg.Retrieval.TopK,
		Threshold: cfg.Retrieval.Threshold,
	}, logger)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.NewServer(st, pipeline, chatSvc, cache, cfg.MaxUploadBytes, logger),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("server shutdown: %v", err)
		}
	}()

	logger.Printf("listening on %s (store=%s embeddings=%s/%s)", cfg.HTTPAddr, cfg.StoreDriver,
		cfg.Embeddings.Provider, cfg.Embeddings.Model)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("serve: %v", err)
	}
}

func clearCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("clear", flag.ExitOnError)
	confirmed := flags.Bool("confirm", false, "skip confirmation prompt")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse clear flags: %v", err)
	}

	if !*confirmed {
		fmt.Print("This will permanently delete all documents, chunks and chat messages. Continue? [y/N]: ")
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			logger.Println("clear aborted")
			return
		}
		answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if answer != "y" && answer != "yes" {
			logger.Println("clear aborted")
			return
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("store setup: %v", err)
	}
	defer st.Close()

	docs, err := st.ListDocuments(ctx)
	if err != nil {
		logger.Fatalf("list documents: %v", err)
	}
	for _, doc := range docs {
		if err := st.DeleteDocument(ctx, doc.ID); err != nil {
			logger.Fatalf("delete document %s: %v", doc.ID, err)
		}
	}
	if err := st.ClearMessages(ctx); err != nil {
		logger.Fatalf("clear messages: %v", err)
	}

	logger.Printf("removed %d documents and the chat transcript", len(docs))
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := database.EnsurePostgresSchema(ctx, pool, cfg.Embeddings.Dimension); err != nil {
			return nil, err
		}
		return store.NewPostgresStore(pool), nil
	case config.StoreSQLite:
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := database.EnsureSQLiteSchema(ctx, db); err != nil {
			return nil, err
		}
		return store.NewSQLiteStore(db), nil
	case config.StoreMemory:
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.StoreDriver)
	}
}

func printUsage() {
	fmt.Println("Usage: book-chat <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  serve    Run the HTTP server (default)")
	fmt.Println("  clear    Remove all documents, chunks and chat messages")
}
