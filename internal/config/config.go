// Package config loads Arcana configuration from environment variables.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider identifiers for generation and judging.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Config holds all configuration values.
type Config struct {
	// HTTP server
	ListenAddr string

	// SurrealDB connection (durable job/event/metrics store)
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Redis (fast KV: job snapshots, idempotency keys)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Generation providers, in fallback order.
	PrimaryProvider  string
	PrimaryModel     string
	FallbackProvider string
	FallbackModel    string
	ProviderTimeout  time.Duration
	OpenAIAPIKey     string
	AnthropicAPIKey  string
	OllamaHost       string

	// Judge model for async evaluation.
	JudgeProvider string
	JudgeModel    string
	JudgeTimeout  time.Duration

	// Prompt dimensions carried into eval records.
	PromptVersion string
	Variant       string

	// Job lifecycle
	JobTTL       time.Duration
	JobRetention time.Duration

	// Archival / alerting schedule (cron spec) and alert webhook.
	ArchiveSchedule string
	AlertWebhookURL string
	MinAlertSample  int

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		ListenAddr: getEnv("ARCANA_LISTEN_ADDR", ":8484"),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "arcana"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "readings"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		RedisAddr:     getEnv("ARCANA_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("ARCANA_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("ARCANA_REDIS_DB", 0),

		PrimaryProvider:  getEnv("ARCANA_PRIMARY_PROVIDER", ProviderOpenAI),
		PrimaryModel:     getEnv("ARCANA_PRIMARY_MODEL", "gpt-4o"),
		FallbackProvider: getEnv("ARCANA_FALLBACK_PROVIDER", ProviderAnthropic),
		FallbackModel:    getEnv("ARCANA_FALLBACK_MODEL", "claude-3-5-sonnet-20241022"),
		ProviderTimeout:  getEnvDuration("ARCANA_PROVIDER_TIMEOUT", 45*time.Second),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		OllamaHost:       getEnv("OLLAMA_HOST", "http://localhost:11434"),

		JudgeProvider: getEnv("ARCANA_JUDGE_PROVIDER", ProviderOpenAI),
		JudgeModel:    getEnv("ARCANA_JUDGE_MODEL", "gpt-4o-mini"),
		JudgeTimeout:  getEnvDuration("ARCANA_JUDGE_TIMEOUT", 30*time.Second),

		PromptVersion: getEnv("ARCANA_PROMPT_VERSION", "v3"),
		Variant:       getEnv("ARCANA_VARIANT", "default"),

		JobTTL:       getEnvDuration("ARCANA_JOB_TTL", 10*time.Minute),
		JobRetention: getEnvDuration("ARCANA_JOB_RETENTION", 24*time.Hour),

		ArchiveSchedule: getEnv("ARCANA_ARCHIVE_SCHEDULE", "@hourly"),
		AlertWebhookURL: getEnv("ARCANA_ALERT_WEBHOOK_URL", ""),
		MinAlertSample:  getEnvInt("ARCANA_MIN_ALERT_SAMPLE", 20),

		LogFile:  getEnv("ARCANA_LOG_FILE", "/tmp/arcana.log"),
		LogLevel: parseLogLevel(getEnv("ARCANA_LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
