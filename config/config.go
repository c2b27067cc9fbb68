package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

type EmbeddingsConfig struct {
	Provider  string
	Model     string
	Dimension int
}

type LLMConfig struct {
	Provider  string
	Model     string
	MaxTokens int
}

// RetrievalConfig holds the tuning knobs for chunking, caching and ranking.
type RetrievalConfig struct {
	ChunkSize      int
	ChunkOverlap   int
	CacheTTL       time.Duration
	TopK           int
	Threshold      float64
	SemanticWeight float64
	KeywordWeight  float64
	BatchSize      int
	Hybrid         bool
}

type Config struct {
	HTTPAddr       string
	MaxUploadBytes int64
	Workers        int

	StoreDriver string
	PostgresDSN string
	SQLitePath  string

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	GeminiAPIKey  string

	Embeddings EmbeddingsConfig
	LLM        LLMConfig
	Retrieval  RetrievalConfig
}

// Load reads configuration from the environment, after loading a .env file
// when one is present in the working directory.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		MaxUploadBytes: getEnvInt64("MAX_UPLOAD_BYTES", 5<<20),
		Workers:        getEnvInt("PIPELINE_WORKERS", 2),

		StoreDriver: getEnv("STORE_DRIVER", StorePostgres),
		PostgresDSN: getEnv("POSTGRES_DSN", "postgres://localhost:5432/book-chat?sslmode=disable"),
		SQLitePath:  getEnv("SQLITE_PATH", "book-chat.db"),

		OllamaHost:    getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),

		Embeddings: EmbeddingsConfig{
			Provider:  getEnv("EMBEDDING_PROVIDER", ProviderOpenAI),
			Model:     getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimension: getEnvInt("EMBEDDING_DIMENSION", 1536),
		},
		LLM: LLMConfig{
			Provider:  getEnv("LLM_PROVIDER", ProviderOpenAI),
			Model:     getEnv("LLM_MODEL", "gpt-4o-mini"),
			MaxTokens: getEnvInt("LLM_MAX_TOKENS", 1024),
		},
		Retrieval: RetrievalConfig{
			ChunkSize:      getEnvInt("CHUNK_SIZE", 1000),
			ChunkOverlap:   getEnvInt("CHUNK_OVERLAP", 200),
			CacheTTL:       getEnvDuration("CACHE_TTL", 5*time.Minute),
			TopK:           getEnvInt("RETRIEVAL_TOP_K", 5),
			Threshold:      getEnvFloat("SIMILARITY_THRESHOLD", 0.3),
			SemanticWeight: getEnvFloat("SEMANTIC_WEIGHT", 0.7),
			KeywordWeight:  getEnvFloat("KEYWORD_WEIGHT", 0.3),
			BatchSize:      getEnvInt("SIMILARITY_BATCH_SIZE", 100),
			Hybrid:         getEnvBool("HYBRID_SEARCH", true),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
