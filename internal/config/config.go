package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every tunable the server reads at startup.
type Config struct {
	Addr   string
	DBPath string

	// How long an empty room lingers before its final save and teardown.
	TeardownGrace time.Duration
	// Quiet period before an edited document is flushed to storage.
	SaveDebounce time.Duration

	// Presence entries idle longer than this are evicted by the janitor.
	AwarenessIdle   time.Duration
	JanitorInterval time.Duration

	// Per-connection inbound message rate.
	RateLimit int
	RateBurst int
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		Addr:   getEnv("INKWELL_ADDR", ":8080"),
		DBPath: getEnv("INKWELL_DB_PATH", "./data/inkwell.db"),

		TeardownGrace: getEnvDuration("INKWELL_TEARDOWN_GRACE", 30*time.Second),
		SaveDebounce:  getEnvDuration("INKWELL_SAVE_DEBOUNCE", 500*time.Millisecond),

		AwarenessIdle:   getEnvDuration("INKWELL_AWARENESS_IDLE", 30*time.Second),
		JanitorInterval: getEnvDuration("INKWELL_JANITOR_INTERVAL", 10*time.Second),

		RateLimit: getEnvInt("INKWELL_RATE_LIMIT", 100),
		RateBurst: getEnvInt("INKWELL_RATE_BURST", 200),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
