package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	BackendGemini = "gemini"
	BackendOllama = "ollama"
)

type Config struct {
	// Analyzer
	AnalyzerBackend string
	GeminiAPIKey    string
	OllamaURL       string
	OllamaModel     string

	// Cache
	CacheDBPath string

	// Ingestion
	MaxBatchItems int

	// Server
	Port        string
	Environment string
}

func Load() (*Config, error) {
	// A local .env is convenient in development and absent in production.
	_ = godotenv.Load()

	cfg := &Config{
		AnalyzerBackend: getEnv("ANALYZER_BACKEND", BackendGemini),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		OllamaURL:       getEnv("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:     getEnv("OLLAMA_MODEL", "llama3.2-vision"),

		CacheDBPath: getEnv("CACHE_DB_PATH", ""),

		MaxBatchItems: getEnvInt("MAX_BATCH_ITEMS", 20),

		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.AnalyzerBackend {
	case BackendGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required with the gemini backend")
		}
	case BackendOllama:
		if c.OllamaURL == "" {
			return fmt.Errorf("OLLAMA_URL is required with the ollama backend")
		}
	default:
		return fmt.Errorf("unknown ANALYZER_BACKEND %q", c.AnalyzerBackend)
	}
	if c.MaxBatchItems <= 0 {
		return fmt.Errorf("MAX_BATCH_ITEMS must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}
