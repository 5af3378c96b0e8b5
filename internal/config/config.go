package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"
)

// Config contains all runtime settings for the chat and reminder service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	Timezone string
	Location *time.Location

	LogLevel  string
	LogFormat string

	GatewayMode          string
	GeminiAPIKey         string
	GeminiModel          string
	GeminiBaseURL        string
	GeminiRequestTimeout time.Duration

	MemoStoreURL string
	MemoStoreKey string

	ReminderTickInterval time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "memochat"),
		AllowAnyOrigin:   false,
		// The reference deployment targets users in Taiwan.
		Timezone:      envOrDefault("APP_TIMEZONE", "Asia/Taipei"),
		LogLevel:      envOrDefault("APP_LOG_LEVEL", "info"),
		LogFormat:     envOrDefault("APP_LOG_FORMAT", "json"),
		GatewayMode:   envOrDefault("GATEWAY_MODE", "rest"),
		GeminiAPIKey:  stringsTrimSpace("GEMINI_API_KEY"),
		GeminiModel:   envOrDefault("GEMINI_MODEL", "gemini-3-flash-preview"),
		GeminiBaseURL: envOrDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		// 0 means no client-side timeout.
		GeminiRequestTimeout: 0,
		MemoStoreURL:         stringsTrimSpace("MEMO_STORE_URL"),
		MemoStoreKey:         envOrDefault("MEMO_STORE_KEY", "memos"),
		ShutdownTimeout:      15 * time.Second,
		ReminderTickInterval: 10 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.GeminiRequestTimeout, err = durationFromEnv("GEMINI_REQUEST_TIMEOUT", cfg.GeminiRequestTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ReminderTickInterval, err = durationFromEnv("REMINDER_TICK_INTERVAL", cfg.ReminderTickInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints and resolves the timezone. It is
// called by Load and again after CLI flag overrides.
func (c *Config) Validate() error {
	loc, err := time.LoadLocation(strings.TrimSpace(c.Timezone))
	if err != nil {
		return fmt.Errorf("APP_TIMEZONE parse error: %w", err)
	}
	c.Location = loc

	switch strings.ToLower(strings.TrimSpace(c.GatewayMode)) {
	case "rest", "genai", "mock":
	default:
		return fmt.Errorf("invalid GATEWAY_MODE: %q (expected rest|genai|mock)", c.GatewayMode)
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "json", "console":
	default:
		return fmt.Errorf("invalid APP_LOG_FORMAT: %q (expected json|console)", c.LogFormat)
	}
	if c.ReminderTickInterval < time.Second {
		return fmt.Errorf("REMINDER_TICK_INTERVAL must be at least 1s")
	}
	if c.GeminiRequestTimeout < 0 {
		return fmt.Errorf("GEMINI_REQUEST_TIMEOUT must be >= 0")
	}
	if strings.TrimSpace(c.MemoStoreKey) == "" {
		return fmt.Errorf("MEMO_STORE_KEY must not be empty")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
