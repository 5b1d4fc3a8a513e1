package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime option. Values come from the environment,
// optionally seeded from a .env file in the working directory.
type Config struct {
	ListenAddr string
	UploadDir  string

	OpenAIBaseURL string
	OpenAIAPIKey  string
	ChatModel     string
	EmbedModel    string
	EmbedDim      int

	VectorBackend    string // "qdrant" or "postgres"
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string
	PostgresDSN      string

	MongoURI        string
	MongoDB         string
	MongoCollection string

	CloudinaryURL string

	RerankModel   string
	RerankBaseURL string

	MemoryBackend string
	MemoryDSN     string

	SearchFallback string

	JWTSecret            string
	JWTExpiry            time.Duration
	DefaultAdminEmail    string
	DefaultAdminPassword string
}

// Load reads the configuration from the environment. A missing .env
// file is not an error.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "error", err)
	}

	return Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8000"),
		UploadDir:  getEnv("UPLOAD_DIR", "uploaded_pdfs"),

		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		ChatModel:     getEnv("CHAT_MODEL", "gpt-4o-mini"),
		EmbedModel:    getEnv("EMBED_MODEL", "text-embedding-3-small"),
		EmbedDim:      getEnvInt("EMBED_DIM", 1024),

		VectorBackend:    getEnv("VECTOR_BACKEND", "qdrant"),
		QdrantURL:        getEnv("QDRANT_URL", "localhost:6334"),
		QdrantAPIKey:     os.Getenv("QDRANT_API_KEY"),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "pdf_chunks"),
		PostgresDSN:      os.Getenv("POSTGRES_DSN"),

		MongoURI:        getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDB:         getEnv("MONGODB_DB", "manualiq"),
		MongoCollection: getEnv("MONGODB_COLLECTION", "pdf_manuals"),

		CloudinaryURL: os.Getenv("CLOUDINARY_URL"),

		RerankModel:   os.Getenv("RERANK_MODEL"),
		RerankBaseURL: os.Getenv("RERANK_BASE_URL"),

		MemoryBackend: os.Getenv("MEMORY_BACKEND"),
		MemoryDSN:     os.Getenv("MEMORY_DSN"),

		SearchFallback: getEnv("SEARCH_FALLBACK", "strict"),

		JWTSecret:            getEnv("JWT_SECRET", "change-me"),
		JWTExpiry:            time.Duration(getEnvInt("JWT_EXPIRY_MINUTES", 30)) * time.Minute,
		DefaultAdminEmail:    os.Getenv("DEFAULT_ADMIN_EMAIL"),
		DefaultAdminPassword: os.Getenv("DEFAULT_ADMIN_PASSWORD"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}
