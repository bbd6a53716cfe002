package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	HTTPAddr string

	CORSAllowAll   bool
	CORSOrigins    []string
	CORSAllowCreds bool

	// Zadarma gateway
	GatewayBaseURL   string
	GatewayAPIKey    string
	GatewaySecret    string
	GatewayFrom      string
	GatewaySIPID     string
	WebhookSecret    string
	VerifyWebhookSig bool

	// Moonshot (Kimi) response engine
	MoonshotAPIKey  string
	MoonshotBaseURL string
	MoonshotModel   string

	// TTS
	TTSLang       string
	VoiceCacheDir string
	AudioBaseURL  string

	// Lead store
	StateFile      string
	PersistEvery   int
	TranscriptsDir string

	// Campaign definition
	CampaignFile string

	// Scheduler
	RedisURL         string
	AsynqQueue       string
	AsynqConcurrency int

	// Batch report email
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	ReportFrom   string
	ReportTo     string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:      getEnv("APP_ENV", "development"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		CORSAllowAll:   corsAllowAll,
		CORSOrigins:    corsOrigins,
		CORSAllowCreds: strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),

		GatewayBaseURL:   getEnv("ZADARMA_BASE_URL", "https://api.zadarma.com/v1"),
		GatewayAPIKey:    getEnv("ZADARMA_API_KEY", ""),
		GatewaySecret:    getEnv("ZADARMA_SECRET", ""),
		GatewayFrom:      getEnv("ZADARMA_FROM_NUMBER", ""),
		GatewaySIPID:     getEnv("ZADARMA_SIP_ID", ""),
		WebhookSecret:    getEnv("ZADARMA_WEBHOOK_SECRET", ""),
		VerifyWebhookSig: strings.EqualFold(getEnv("ZADARMA_VERIFY_WEBHOOK", "true"), "true"),

		MoonshotAPIKey:  getEnv("MOONSHOT_API_KEY", ""),
		MoonshotBaseURL: getEnv("MOONSHOT_BASE_URL", ""),
		MoonshotModel:   getEnv("MOONSHOT_MODEL", ""),

		TTSLang:       getEnv("TTS_LANG", "es"),
		VoiceCacheDir: getEnv("VOICE_CACHE_DIR", "voice-cache"),
		AudioBaseURL:  getEnv("AUDIO_BASE_URL", ""),

		StateFile:      getEnv("STATE_FILE", "cache/state.json"),
		PersistEvery:   getIntEnv("STATE_PERSIST_EVERY", 10),
		TranscriptsDir: getEnv("TRANSCRIPTS_DIR", "transcriptions"),

		CampaignFile: getEnv("CAMPAIGN_FILE", "campaign.yaml"),

		RedisURL:         getEnv("REDIS_URL", ""),
		AsynqQueue:       getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency: getIntEnv("ASYNQ_CONCURRENCY", 1),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getIntEnv("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		ReportFrom:   getEnv("REPORT_FROM_ADDRESS", ""),
		ReportTo:     getEnv("REPORT_TO_ADDRESS", ""),
	}

	if cfg.GatewayAPIKey == "" || cfg.GatewaySecret == "" {
		return nil, fmt.Errorf("ZADARMA_API_KEY and ZADARMA_SECRET are required")
	}
	if cfg.GatewayFrom == "" {
		return nil, fmt.Errorf("ZADARMA_FROM_NUMBER is required")
	}
	if cfg.VerifyWebhookSig && cfg.WebhookSecret == "" {
		// The gateway signs webhooks with the API secret by default.
		cfg.WebhookSecret = cfg.GatewaySecret
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}

	return cfg, nil
}

// ReportEnabled reports whether the batch summary email is configured.
func (c *Config) ReportEnabled() bool {
	return c.SMTPHost != "" && c.ReportFrom != "" && c.ReportTo != ""
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

func getIntEnv(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
