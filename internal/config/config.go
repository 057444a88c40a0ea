package config

import (
	"os"
	"strconv"
	"time"

	"github.com/MikeSquared-Agency/mentor/internal/ledger"
)

type Config struct {
	Port            int
	LogLevel        string
	ResultsDir      string
	UploadDir       string
	UploadMaxMB     int
	AnthropicAPIKey string
	AnthropicModel  string
	AgentMaxTokens  int
	AgentTimeout    time.Duration
	AgentWorkers    int
	NatsURL         string
	NatsToken       string
	SlackBotToken   string
	SlackChannel    string

	PlateauWindowDays   int
	PlateauMinEvents    int
	PlateauMinAdditions int
	HighDedupRate       float64
	LowUniqueness       float64
	SimilarityThreshold float64
}

func Load() Config {
	return Config{
		Port:            envInt("MENTOR_PORT", 8000),
		LogLevel:        envStr("LOG_LEVEL", "info"),
		ResultsDir:      envStr("RESULTS_DIR", "comprehensive_results"),
		UploadDir:       envStr("UPLOAD_DIR", "uploads"),
		UploadMaxMB:     envInt("UPLOAD_MAX_MB", 32),
		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  envStr("MENTOR_MODEL", "claude-sonnet-4-20250514"),
		AgentMaxTokens:  envInt("AGENT_MAX_TOKENS", 4000),
		AgentTimeout:    time.Duration(envInt("AGENT_TIMEOUT_SECONDS", 120)) * time.Second,
		AgentWorkers:    envInt("AGENT_CONCURRENCY", 4),
		NatsURL:         envStr("NATS_URL", ""),
		NatsToken:       envStr("NATS_TOKEN", ""),
		SlackBotToken:   envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:    envStr("SLACK_LESSONS_CHANNEL", ""),

		PlateauWindowDays:   envInt("PLATEAU_WINDOW_DAYS", 7),
		PlateauMinEvents:    envInt("PLATEAU_MIN_EVENTS", 3),
		PlateauMinAdditions: envInt("PLATEAU_MIN_ADDITIONS", 3),
		HighDedupRate:       envFloat("PLATEAU_HIGH_DEDUP_RATE", 0.8),
		LowUniqueness:       envFloat("PLATEAU_LOW_UNIQUENESS", 0.2),
		SimilarityThreshold: envFloat("DEDUP_SIMILARITY_THRESHOLD", 0.85),
	}
}

// Ledger returns the ledger tuning derived from the environment. Knobs that
// are not exposed keep their defaults.
func (c Config) Ledger() ledger.Config {
	lc := ledger.DefaultConfig()
	lc.SimilarityThreshold = c.SimilarityThreshold
	lc.PlateauWindow = time.Duration(c.PlateauWindowDays) * 24 * time.Hour
	lc.MinEvents = c.PlateauMinEvents
	lc.MinAdditions = c.PlateauMinAdditions
	lc.HighDedupRate = c.HighDedupRate
	lc.LowUniqueness = c.LowUniqueness
	return lc
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
