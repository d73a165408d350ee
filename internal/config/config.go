// Package config loads configuration from environment variables and .env
// files, and persists CLI state in a JSON settings file.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Sparse index backends.
const (
	SparseBackendQdrant = "qdrant"
	SparseBackendBleve  = "bleve"
)

// Rerank backends.
const (
	RerankBackendHTTP = "http"
	RerankBackendLLM  = "llm"
	RerankBackendNone = "none"
)

// Config holds all configuration for the search service
type Config struct {
	// Server
	GRPCPort    int    `env:"GRPC_PORT" envDefault:"9090"`
	HTTPPort    int    `env:"HTTP_PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// PostgreSQL registry, a JSON file next to the settings file when empty
	DatabaseURL string `env:"DATABASE_URL"`

	// Qdrant
	QdrantAddr   string `env:"QDRANT_ADDR" envDefault:"localhost:6334"`
	QdrantAPIKey string `env:"QDRANT_API_KEY"`
	QdrantTLS    bool   `env:"QDRANT_TLS" envDefault:"false"`

	// Index names override the settings file when set
	DenseIndexName  string `env:"DENSE_INDEX_NAME"`
	SparseIndexName string `env:"SPARSE_INDEX_NAME"`
	SparseBackend   string `env:"SPARSE_BACKEND" envDefault:"qdrant"`
	BlevePath       string `env:"BLEVE_PATH"`

	// Ollama
	OllamaURL            string `env:"OLLAMA_URL" envDefault:"http://localhost:11434"`
	OllamaEmbeddingModel string `env:"OLLAMA_EMBEDDING_MODEL" envDefault:"nomic-embed-text"`
	EmbeddingDimension   int    `env:"EMBEDDING_DIMENSION"`
	EmbedConcurrency     int    `env:"EMBED_CONCURRENCY" envDefault:"4"`
	EmbedCacheSize       int    `env:"EMBED_CACHE_SIZE" envDefault:"1024"`
	OllamaLLMModel       string `env:"OLLAMA_LLM_MODEL" envDefault:"llama3.2"`

	// Reranking
	RerankBackend string `env:"RERANK_BACKEND" envDefault:"http"`
	RerankURL     string `env:"RERANK_URL" envDefault:"https://api.pinecone.io"`
	RerankAPIKey  string `env:"RERANK_API_KEY"`

	// Settings overrides, applied in memory over the settings file
	RerankingModel string `env:"RERANKING_MODEL"`
	ChunkSize      int    `env:"CHUNK_SIZE"`
	ChunkOverlap   int    `env:"CHUNK_OVERLAP"`

	// Rate limiting and retries
	IndexRateLimit   int           `env:"INDEX_RATE_LIMIT" envDefault:"1000"`
	IndexRateWindow  time.Duration `env:"INDEX_RATE_WINDOW" envDefault:"60s"`
	RerankRateLimit  int           `env:"RERANK_RATE_LIMIT" envDefault:"100"`
	RerankRateWindow time.Duration `env:"RERANK_RATE_WINDOW" envDefault:"60s"`
	RetryAttempts    int           `env:"RETRY_ATTEMPTS" envDefault:"5"`
	RetryBaseDelay   time.Duration `env:"RETRY_BASE_DELAY" envDefault:"1s"`
	CallTimeout      time.Duration `env:"CALL_TIMEOUT" envDefault:"30s"`

	// Fusion
	FusionSparseDivisor float64 `env:"FUSION_SPARSE_DIVISOR" envDefault:"10"`

	// Auth, disabled when JWTSecret is empty
	JWTSecret string        `env:"JWT_SECRET"`
	JWTExpiry time.Duration `env:"JWT_EXPIRY" envDefault:"24h"`
	JWTIssuer string        `env:"JWT_ISSUER" envDefault:"docsearch"`

	// Settings file directory, ~/.config/docsearch when empty
	ConfigDir string `env:"CONFIG_DIR"`
}

// Load loads configuration from .env file (if present) and environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated and numeric settings.
func (c *Config) Validate() error {
	switch c.SparseBackend {
	case SparseBackendQdrant, SparseBackendBleve:
	default:
		return fmt.Errorf("invalid SPARSE_BACKEND %q: must be %s or %s", c.SparseBackend, SparseBackendQdrant, SparseBackendBleve)
	}
	switch c.RerankBackend {
	case RerankBackendHTTP, RerankBackendLLM, RerankBackendNone:
	default:
		return fmt.Errorf("invalid RERANK_BACKEND %q: must be %s, %s or %s",
			c.RerankBackend, RerankBackendHTTP, RerankBackendLLM, RerankBackendNone)
	}
	if c.ChunkSize < 0 || c.ChunkOverlap < 0 {
		return fmt.Errorf("CHUNK_SIZE and CHUNK_OVERLAP must not be negative")
	}
	if c.FusionSparseDivisor <= 0 {
		return fmt.Errorf("FUSION_SPARSE_DIVISOR must be positive, got %v", c.FusionSparseDivisor)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("RETRY_ATTEMPTS must be at least 1, got %d", c.RetryAttempts)
	}
	return nil
}

// AuthEnabled reports whether API requests require a bearer token.
func (c *Config) AuthEnabled() bool { return c.JWTSecret != "" }
