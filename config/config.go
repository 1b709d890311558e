// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendQdrant   = "qdrant"
	BackendPostgres = "postgres"

	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
)

type Config struct {
	Addr string

	// VectorBackend selects the index store: "qdrant" or "postgres".
	VectorBackend string
	QdrantURL     string
	QdrantAPIKey  string
	PostgresDSN   string

	// SessionStore selects the session record store: "memory" or "redis".
	SessionStore  string
	RedisAddr     string
	RedisPassword string
	SessionTTL    time.Duration

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string

	// EmbeddingDimension, when positive, is validated against every vector
	// the embedders return.
	EmbeddingDimension int

	SearchLimit  int
	MemoryBudget int
	ChunkSize    int
	ChunkOverlap int
}

func Load() Config {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	return Config{
		Addr:               getEnv("FUND_AGENT_ADDR", ":8000"),
		VectorBackend:      getEnv("VECTOR_BACKEND", BackendQdrant),
		QdrantURL:          getEnv("QDRANT_URL", "http://localhost:6334"),
		QdrantAPIKey:       getEnv("QDRANT_API_KEY", ""),
		PostgresDSN:        getEnv("POSTGRES_DSN", "postgres://localhost:5432/fund-agent?sslmode=disable"),
		SessionStore:       getEnv("SESSION_STORE", SessionStoreMemory),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		SessionTTL:         time.Duration(getEnvInt("SESSION_TTL_HOURS", 24)) * time.Hour,
		OllamaHost:         getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", ""),
		EmbeddingDimension: getEnvInt("EMBEDDING_DIMENSION", 0),
		SearchLimit:        getEnvInt("SEARCH_LIMIT", 5),
		MemoryBudget:       getEnvInt("MEMORY_BUDGET", 6000),
		ChunkSize:          getEnvInt("CHUNK_SIZE", 200),
		ChunkOverlap:       getEnvInt("CHUNK_OVERLAP", 30),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
