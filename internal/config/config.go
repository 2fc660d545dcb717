// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"voiceguard-service/internal/service/risk"
)

// Config holds all environment-driven settings.
type Config struct {
	Service       ServiceConfig
	Call          CallConfig
	Risk          risk.Config
	Kafka         KafkaConfig
	Store         StoreConfig
	Analysis      AnalysisConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds identity and listener settings.
type ServiceConfig struct {
	Principal   string
	Environment string
	HTTPPort    string
	GRPCPort    string
	MetricsPort string
}

// CallConfig holds call simulation settings.
type CallConfig struct {
	TickInterval time.Duration
	CatalogPath  string // empty uses the built-in records
	WatchCatalog bool
	QueueSize    int
}

// KafkaConfig holds event publishing settings.
type KafkaConfig struct {
	Enabled        bool
	Brokers        []string
	ClientID       string
	Principal      string
	TopicLifecycle string
	TopicSnapshot  string
	TopicAnalysis  string
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	Path string
}

// AnalysisConfig holds AI analysis flow settings.
type AnalysisConfig struct {
	Provider      string // mock, gateway
	GatewayURL    string
	APIKey        string
	Model         string
	Language      string
	Timeout       time.Duration
	MaxRetries    int
	RatePerSecond float64
	Burst         int
	EnrichEvery   int // caller segments between enrichments, 0 disables
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment and an optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-voiceguard")

	cfg := &Config{
		Service: ServiceConfig{
			Principal:   principal,
			Environment: envOrDefault("ENVIRONMENT", "local"),
			HTTPPort:    envOrDefault("HTTP_PORT", "8080"),
			GRPCPort:    envOrDefault("GRPC_PORT", "50051"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
		Call: CallConfig{
			TickInterval: envOrDefaultDuration("CALL_TICK_INTERVAL", 4*time.Second),
			CatalogPath:  envOrDefault("CALL_CATALOG_PATH", ""),
			WatchCatalog: envOrDefaultBool("CALL_CATALOG_WATCH", true),
			QueueSize:    clampInt(envOrDefaultInt("MONITOR_QUEUE_SIZE", 256), 8, 4096),
		},
		Risk: loadRisk(),
		Kafka: KafkaConfig{
			Enabled:        envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:        envOrDefaultList("KAFKA_BROKERS", []string{"localhost:9092"}),
			ClientID:       envOrDefault("KAFKA_CLIENT_ID", "voiceguard-service"),
			Principal:      envOrDefault("KAFKA_PRINCIPAL", principal),
			TopicLifecycle: envOrDefault("KAFKA_TOPIC_LIFECYCLE", "voiceguard.call.lifecycle"),
			TopicSnapshot:  envOrDefault("KAFKA_TOPIC_SNAPSHOT", "voiceguard.call.snapshot"),
			TopicAnalysis:  envOrDefault("KAFKA_TOPIC_ANALYSIS", "voiceguard.call.analysis"),
		},
		Store: StoreConfig{
			Path: envOrDefault("STORE_PATH", "./voiceguard.db"),
		},
		Analysis: AnalysisConfig{
			Provider:      strings.ToLower(envOrDefault("ANALYSIS_PROVIDER", "mock")),
			GatewayURL:    envOrDefault("ANALYSIS_GATEWAY_URL", "http://localhost:4000/v1"),
			APIKey:        envOrDefault("ANALYSIS_API_KEY", ""),
			Model:         envOrDefault("ANALYSIS_MODEL", "gemini-2.0-flash"),
			Language:      envOrDefault("ANALYSIS_LANGUAGE", "en"),
			Timeout:       envOrDefaultDuration("ANALYSIS_TIMEOUT", 30*time.Second),
			MaxRetries:    clampInt(envOrDefaultInt("ANALYSIS_MAX_RETRIES", 3), 0, 10),
			RatePerSecond: envOrDefaultFloat("ANALYSIS_RATE_PER_SECOND", 1),
			Burst:         clampInt(envOrDefaultInt("ANALYSIS_BURST", 2), 1, 100),
			EnrichEvery:   clampInt(envOrDefaultInt("ANALYSIS_ENRICH_EVERY", 2), 0, 100),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
	}
	if cfg.Call.TickInterval <= 0 {
		cfg.Call.TickInterval = 4 * time.Second
	}
	return cfg
}

// loadRisk reads the evaluator constants. An inconsistent set falls back to
// the defaults as a whole.
func loadRisk() risk.Config {
	def := risk.DefaultConfig()
	cfg := risk.Config{
		Lexicon:             envOrDefaultList("RISK_LEXICON", def.Lexicon),
		PointsPerMatch:      envOrDefaultInt("RISK_POINTS_PER_MATCH", def.PointsPerMatch),
		MaxScore:            envOrDefaultInt("RISK_MAX_SCORE", def.MaxScore),
		MediumAbove:         envOrDefaultInt("RISK_MEDIUM_ABOVE", def.MediumAbove),
		HighAbove:           envOrDefaultInt("RISK_HIGH_ABOVE", def.HighAbove),
		UrgencyTerms:        envOrDefaultList("RISK_URGENCY_TERMS", def.UrgencyTerms),
		ImpersonationTerms:  envOrDefaultList("RISK_IMPERSONATION_TERMS", def.ImpersonationTerms),
		ThreatTerms:         envOrDefaultList("RISK_THREAT_TERMS", def.ThreatTerms),
		VoiceprintPenalty:   envOrDefaultInt("RISK_VOICEPRINT_PENALTY", def.VoiceprintPenalty),
		SyntheticVoiceBelow: envOrDefaultInt("RISK_SYNTHETIC_VOICE_BELOW", def.SyntheticVoiceBelow),
		Rationale:           envOrDefault("RISK_RATIONALE", def.Rationale),
	}
	if err := cfg.Validate(); err != nil {
		log.Warn().Err(err).Msg("Invalid risk configuration, using defaults")
		return def
	}
	return cfg
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// envOrDefaultList splits a comma-separated value, dropping empty items.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func clampInt(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
