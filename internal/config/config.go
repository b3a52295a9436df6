package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// LLM provider identifiers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderBedrock   = "bedrock"
	ProviderInline    = "inline" // execute batch requests synchronously, dev only
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// LLM provider
	LLMProvider     string
	LLMModel        string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	OllamaHost      string
	BedrockModelID  string

	// Generation / difficulty request tuning
	TemperatureGeneration float64
	TemperatureDifficulty float64
	MaxOrigins            int // 0 = no limit; trims the generation batch for smoke runs

	// Comparison scheduling
	GroupSize         int // G: members per comparison group
	TargetComparisons int // T: committed groups each origin should appear in
	MaxFailedAttempts int // A: seed attempts before an origin is given up on
	BatchWindow       string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "knowforge"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "pipeline"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		LLMProvider:     getEnv("KNOWFORGE_LLM_PROVIDER", ProviderOpenAI),
		LLMModel:        getEnv("KNOWFORGE_LLM_MODEL", "gpt-4o-mini"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		BedrockModelID:  getEnv("BEDROCK_MODEL_ID", "anthropic.claude-3-haiku-20240307-v1:0"),

		TemperatureGeneration: getEnvFloat("KNOWFORGE_TEMP_GENERATION", 0.2),
		TemperatureDifficulty: getEnvFloat("KNOWFORGE_TEMP_DIFFICULTY", 0.1),
		MaxOrigins:            getEnvInt("KNOWFORGE_MAX_ORIGINS", 0),

		GroupSize:         getEnvInt("KNOWFORGE_GROUP_SIZE", 5),
		TargetComparisons: getEnvInt("KNOWFORGE_TARGET_COMPARISONS", 3),
		MaxFailedAttempts: getEnvInt("KNOWFORGE_MAX_FAILED_ATTEMPTS", 3),
		BatchWindow:       getEnv("KNOWFORGE_BATCH_WINDOW", "24h"),

		LogFile:  getEnv("KNOWFORGE_LOG_FILE", "/tmp/knowforge.log"),
		LogLevel: parseLogLevel(getEnv("KNOWFORGE_LOG_LEVEL", "INFO")),
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

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
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
