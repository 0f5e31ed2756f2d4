package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	SslCertPath string
	Port        string

	AIAPIKey   string
	EmbedModel string
	EmbedDim   int

	ChunkSize           int
	ChunkOverlap        int
	EmbedBatchSize      int
	EmbedMaxRetries     int
	EmbedRetryBaseDelay time.Duration
	ProcessTimeout      time.Duration
	IngestWorkers       int
	MaxUploadBytes      int64

	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
}

// LoadConfig loads the environment variables and returns the config.
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		SslCertPath: getEnv("SSL_CERT_PATH", ""),
		Port:        getEnv("PORT", "8080"),

		AIAPIKey:   getEnv("GEMINI_API_KEY", ""),
		EmbedModel: getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:   getEnvInt("EMBED_DIM", 1024),

		ChunkSize:           getEnvInt("CHUNK_SIZE", 512),
		ChunkOverlap:        getEnvInt("CHUNK_OVERLAP", 50),
		EmbedBatchSize:      getEnvInt("EMBED_BATCH_SIZE", 8),
		EmbedMaxRetries:     getEnvInt("EMBED_MAX_RETRIES", 3),
		EmbedRetryBaseDelay: getEnvDuration("EMBED_RETRY_BASE_DELAY", 500*time.Millisecond),
		ProcessTimeout:      getEnvDuration("PROCESS_TIMEOUT", 5*time.Minute),
		IngestWorkers:       getEnvInt("INGEST_WORKERS", 4),
		MaxUploadBytes:      int64(getEnvInt("MAX_UPLOAD_BYTES", 50<<20)),

		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", ""),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}

	return cfg
}

// ArchiveEnabled reports whether raw uploads should be copied to object storage.
func (c *Config) ArchiveEnabled() bool {
	return c.AwsAccessKey != "" && c.AwsSecretKey != "" && c.BucketName != ""
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}
