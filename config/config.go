// Package config centralizes environment configuration for the chatbot backend.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime settings for the service
type Config struct {
	Port string

	// Gemini settings
	GeminiModel string
	APIKeys     []string

	// Quota settings
	MaxRPDPerKey int
	RpdDBPath    string

	// Retrieval settings
	MaxChunks         int
	CorpusArtifactKey string
	SourceDir         string

	// Retry settings
	MaxRetries int
	RetryDelay time.Duration
}

const keyPlaceholder = "YOUR_GEMINI_API_KEY_HERE"

// Load reads configuration from environment variables with defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		APIKeys:           loadAPIKeys(),
		MaxRPDPerKey:      getEnvInt("MAX_RPD_PER_KEY", 250),
		RpdDBPath:         getEnv("RPD_DB_PATH", "./data/rpd.db"),
		MaxChunks:         getEnvInt("MAX_CONTEXT_CHUNKS", 5),
		CorpusArtifactKey: getEnv("CORPUS_ARTIFACT_PATH", "processed-pdfs.json"),
		SourceDir:         getEnv("CORPUS_SOURCE_DIR", "./data/sources"),
		MaxRetries:        getEnvInt("GEMINI_MAX_RETRIES", 3),
		RetryDelay:        getEnvDuration("GEMINI_RETRY_DELAY", time.Second),
	}

	return cfg, cfg.Validate()
}

// loadAPIKeys collects GEMINI_API_KEY plus the numbered GEMINI_API_KEY_N
// variants, skipping empty values and the sample placeholder. Zero keys is
// allowed: the service then degrades to local analysis and "no capacity"
// replies instead of refusing to start.
func loadAPIKeys() []string {
	names := []string{"GEMINI_API_KEY"}
	for i := 1; i <= 9; i++ {
		names = append(names, fmt.Sprintf("GEMINI_API_KEY_%d", i))
	}

	var keys []string
	for _, name := range names {
		key := os.Getenv(name)
		if key == "" || key == keyPlaceholder {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

func (c *Config) Validate() error {
	if c.MaxRPDPerKey <= 0 {
		return fmt.Errorf("MAX_RPD_PER_KEY must be positive, got %d", c.MaxRPDPerKey)
	}
	if c.MaxChunks <= 0 {
		return fmt.Errorf("MAX_CONTEXT_CHUNKS must be positive, got %d", c.MaxChunks)
	}
	if c.MaxRetries < 1 || c.MaxRetries > 10 {
		return fmt.Errorf("GEMINI_MAX_RETRIES must be 1-10, got %d", c.MaxRetries)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
