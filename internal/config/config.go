// Package config provides configuration for the analysis service.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the service configuration.
type Config struct {
	// Server settings
	HTTPPort int
	APIKey   string

	// Database
	DatabaseURL string

	// Upstream services
	MediaURL        string
	InferenceURL    string
	InferenceAPIKey string

	// Run execution
	RunTimeout   time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration

	// Per-resource concurrency caps
	MediaConcurrency  int
	VisionConcurrency int
	STTConcurrency    int
	LLMConcurrency    int

	// Event fan-out
	TimelineWindow int

	// WebSocket keepalive
	WSPingInterval time.Duration
	WSWriteTimeout time.Duration

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:          getEnvInt("HTTP_PORT", 8080),
		APIKey:            getEnv("API_KEY", ""),
		DatabaseURL:       getEnv("DATABASE_URL", "file:mas.db?cache=shared&mode=rwc"),
		MediaURL:          getEnv("MEDIA_URL", "http://localhost:8090"),
		InferenceURL:      getEnv("INFERENCE_URL", "http://localhost:8091"),
		InferenceAPIKey:   getEnv("INFERENCE_API_KEY", ""),
		RunTimeout:        time.Duration(getEnvInt("RUN_TIMEOUT_MS", 600000)) * time.Millisecond,
		MaxAttempts:       getEnvInt("MAX_ATTEMPTS", 3),
		RetryBackoff:      time.Duration(getEnvInt("RETRY_BACKOFF_MS", 500)) * time.Millisecond,
		MediaConcurrency:  getEnvInt("MEDIA_CONCURRENCY", 2),
		VisionConcurrency: getEnvInt("VISION_CONCURRENCY", 4),
		STTConcurrency:    getEnvInt("STT_CONCURRENCY", 4),
		LLMConcurrency:    getEnvInt("LLM_CONCURRENCY", 8),
		TimelineWindow:    getEnvInt("TIMELINE_WINDOW", 200),
		WSPingInterval:    time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WSWriteTimeout:    time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
