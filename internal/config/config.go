package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the kbchat chat plane.
type Config struct {
	Port    int
	Version string

	OpenAI     OpenAIConfig
	Embeddings EmbeddingsConfig
	Pgvector   PgvectorConfig
	Dedup      DedupConfig
	Messenger  MessengerConfig
	Telemetry  TelemetryConfig

	// ApologyText is the fixed, localized apology sent when completion
	// generation fails unrecoverably.
	ApologyText string

	// AckText is the immediate acknowledgment sent for media events
	// before background analysis starts.
	AckText string
}

type OpenAIConfig struct {
	APIKey      string
	ChatModel   string
	VisionModel string
}

type EmbeddingsConfig struct {
	Provider       string // "openai" or "ollama"
	OpenAIModel    string
	OllamaEndpoint string
	OllamaModel    string
}

type PgvectorConfig struct {
	// URL enables the pgvector-backed store; empty keeps the in-memory store.
	URL string
}

type DedupConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

type MessengerConfig struct {
	ReplyURL      string
	PushURL       string
	AccessToken   string
	ChannelSecret string // HMAC secret for inbound webhook signatures
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from the environment with sensible defaults.
// A .env file in the working directory is honored when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:    envInt("KBCHAT_PORT", 8080),
		Version: envStr("KBCHAT_VERSION", "0.1.0"),
		OpenAI: OpenAIConfig{
			APIKey:      envStr("OPENAI_API_KEY", ""),
			ChatModel:   envStr("KBCHAT_CHAT_MODEL", "gpt-4o-mini"),
			VisionModel: envStr("KBCHAT_VISION_MODEL", "gpt-4o-mini"),
		},
		Embeddings: EmbeddingsConfig{
			Provider:       envStr("KBCHAT_EMBEDDING_PROVIDER", "openai"),
			OpenAIModel:    envStr("KBCHAT_EMBEDDING_MODEL", "text-embedding-3-small"),
			OllamaEndpoint: envStr("KBCHAT_OLLAMA_ENDPOINT", "http://localhost:11434"),
			OllamaModel:    envStr("KBCHAT_OLLAMA_MODEL", "nomic-embed-text"),
		},
		Pgvector: PgvectorConfig{
			URL: envStr("KBCHAT_PGVECTOR_URL", ""),
		},
		Dedup: DedupConfig{
			TTL:           envDuration("KBCHAT_DEDUP_TTL", time.Hour),
			SweepInterval: envDuration("KBCHAT_DEDUP_SWEEP_INTERVAL", 30*time.Minute),
		},
		Messenger: MessengerConfig{
			ReplyURL:      envStr("KBCHAT_MESSENGER_REPLY_URL", ""),
			PushURL:       envStr("KBCHAT_MESSENGER_PUSH_URL", ""),
			AccessToken:   envStr("KBCHAT_MESSENGER_ACCESS_TOKEN", ""),
			ChannelSecret: envStr("KBCHAT_MESSENGER_CHANNEL_SECRET", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "kbchat"),
		},
		ApologyText: envStr("KBCHAT_APOLOGY_TEXT",
			"Sorry, something went wrong while preparing your answer. Please try again in a moment."),
		AckText: envStr("KBCHAT_ACK_TEXT",
			"Got your image! Give me a moment to take a look."),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
