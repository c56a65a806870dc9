package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// PlanLimits holds the two fixed-window rate limits for a plan tier.
type PlanLimits struct {
	PerMinute int
	PerMonth  int
}

// Config holds all configuration for the gateway
type Config struct {
	// Server
	Port string
	Env  string

	// Database (API key / tenant store)
	DatabaseURL string

	// Redis-compatible store (counters, cache, usage ledger)
	RedisURL string

	// Provider API Keys
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GeminiAPIKey    string

	// Rate limiting, keyed by plan tier. Unknown plans fall back to "free".
	RateLimits map[string]PlanLimits

	// Caching
	CacheTTLSeconds int
	CacheEnabled    bool

	// Completion defaults
	DefaultModel     string
	DefaultMaxTokens int
	MaxTokensLimit   int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		Env:             getEnv("ENV", "development"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		RateLimits: map[string]PlanLimits{
			"free":       {PerMinute: getEnvInt("FREE_RPM", 10), PerMonth: getEnvInt("FREE_RPMONTH", 1000)},
			"pro":        {PerMinute: getEnvInt("PRO_RPM", 100), PerMonth: getEnvInt("PRO_RPMONTH", 100000)},
			"enterprise": {PerMinute: getEnvInt("ENTERPRISE_RPM", 1000), PerMonth: getEnvInt("ENTERPRISE_RPMONTH", 1000000)},
		},
		CacheTTLSeconds:  getEnvInt("CACHE_TTL_SECONDS", 3600),
		CacheEnabled:     getEnvBool("CACHE_ENABLED", true),
		DefaultModel:     getEnv("DEFAULT_MODEL", "gpt-3.5-turbo"),
		DefaultMaxTokens: getEnvInt("DEFAULT_MAX_TOKENS", 1000),
		MaxTokensLimit:   getEnvInt("MAX_TOKENS_LIMIT", 4000),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	// At least one provider API key is required
	if cfg.OpenAIAPIKey == "" && cfg.AnthropicAPIKey == "" && cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("at least one provider API key is required (OPENAI_API_KEY, ANTHROPIC_API_KEY, or GEMINI_API_KEY)")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
