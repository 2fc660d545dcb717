package config

import (
	"slices"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"SERVICE_PRINCIPAL", "HTTP_PORT", "GRPC_PORT", "LOG_LEVEL",
		"CALL_TICK_INTERVAL", "CALL_CATALOG_PATH", "MONITOR_QUEUE_SIZE",
		"KAFKA_ENABLED", "KAFKA_BROKERS", "ANALYSIS_PROVIDER", "RISK_LEXICON",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Service.Principal != "svc-voiceguard" {
		t.Errorf("expected default principal 'svc-voiceguard', got %s", cfg.Service.Principal)
	}
	if cfg.Service.GRPCPort != "50051" || cfg.Service.HTTPPort != "8080" {
		t.Errorf("unexpected default ports %s/%s", cfg.Service.GRPCPort, cfg.Service.HTTPPort)
	}
	if cfg.Call.TickInterval != 4*time.Second {
		t.Errorf("expected default tick 4s, got %v", cfg.Call.TickInterval)
	}
	if cfg.Call.CatalogPath != "" {
		t.Errorf("expected built-in catalog, got %q", cfg.Call.CatalogPath)
	}
	if cfg.Call.QueueSize != 256 {
		t.Errorf("expected default queue 256, got %d", cfg.Call.QueueSize)
	}
	if cfg.Kafka.Enabled {
		t.Error("expected Kafka disabled by default")
	}
	if !slices.Equal(cfg.Kafka.Brokers, []string{"localhost:9092"}) {
		t.Errorf("unexpected default brokers %v", cfg.Kafka.Brokers)
	}
	if cfg.Analysis.Provider != "mock" {
		t.Errorf("expected default provider 'mock', got %s", cfg.Analysis.Provider)
	}
	if cfg.Risk.PointsPerMatch != 15 || cfg.Risk.MediumAbove != 40 || cfg.Risk.HighAbove != 75 {
		t.Errorf("unexpected default risk constants %+v", cfg.Risk)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("SERVICE_PRINCIPAL", "custom-principal")
	t.Setenv("GRPC_PORT", "9999")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CALL_TICK_INTERVAL", "1500ms")
	t.Setenv("CALL_CATALOG_PATH", "/etc/voiceguard/calls.yaml")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("ANALYSIS_PROVIDER", "Gateway")
	t.Setenv("ANALYSIS_RATE_PER_SECOND", "0.5")
	t.Setenv("RISK_LEXICON", "gift card, wire")
	t.Setenv("RISK_POINTS_PER_MATCH", "20")

	cfg := Load()

	if cfg.Service.Principal != "custom-principal" || cfg.Service.GRPCPort != "9999" {
		t.Errorf("unexpected service config %+v", cfg.Service)
	}
	if cfg.Call.TickInterval != 1500*time.Millisecond {
		t.Errorf("expected 1.5s tick, got %v", cfg.Call.TickInterval)
	}
	if cfg.Call.CatalogPath != "/etc/voiceguard/calls.yaml" {
		t.Errorf("unexpected catalog path %q", cfg.Call.CatalogPath)
	}
	if !cfg.Kafka.Enabled || !slices.Equal(cfg.Kafka.Brokers, []string{"k1:9092", "k2:9092"}) {
		t.Errorf("unexpected kafka config %+v", cfg.Kafka)
	}
	if cfg.Analysis.Provider != "gateway" || cfg.Analysis.RatePerSecond != 0.5 {
		t.Errorf("unexpected analysis config %+v", cfg.Analysis)
	}
	if !slices.Equal(cfg.Risk.Lexicon, []string{"gift card", "wire"}) || cfg.Risk.PointsPerMatch != 20 {
		t.Errorf("unexpected risk config %+v", cfg.Risk)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_InvalidValues_FallbackToDefaults(t *testing.T) {
	t.Setenv("CALL_TICK_INTERVAL", "invalid")
	t.Setenv("MONITOR_QUEUE_SIZE", "1000000")
	t.Setenv("KAFKA_ENABLED", "maybe")
	t.Setenv("ANALYSIS_MAX_RETRIES", "x")

	cfg := Load()

	if cfg.Call.TickInterval != 4*time.Second {
		t.Errorf("expected default tick on invalid input, got %v", cfg.Call.TickInterval)
	}
	if cfg.Call.QueueSize != 4096 {
		t.Errorf("expected queue clamped to 4096, got %d", cfg.Call.QueueSize)
	}
	if cfg.Kafka.Enabled {
		t.Error("expected Kafka disabled on invalid input")
	}
	if cfg.Analysis.MaxRetries != 3 {
		t.Errorf("expected default retries on invalid input, got %d", cfg.Analysis.MaxRetries)
	}
}

func TestLoad_NonPositiveTickFallsBack(t *testing.T) {
	t.Setenv("CALL_TICK_INTERVAL", "-2s")

	if got := Load().Call.TickInterval; got != 4*time.Second {
		t.Errorf("expected default tick, got %v", got)
	}
}

func TestLoad_InconsistentRiskFallsBackToDefaults(t *testing.T) {
	t.Setenv("RISK_MEDIUM_ABOVE", "90")
	t.Setenv("RISK_POINTS_PER_MATCH", "50")

	cfg := Load()

	if cfg.Risk.MediumAbove != 40 || cfg.Risk.PointsPerMatch != 15 {
		t.Errorf("expected default risk config, got %+v", cfg.Risk)
	}
}

func TestLoad_KafkaPrincipal_FallsBackToServicePrincipal(t *testing.T) {
	t.Setenv("SERVICE_PRINCIPAL", "my-service")
	t.Setenv("KAFKA_PRINCIPAL", "")

	cfg := Load()

	if cfg.Kafka.Principal != "my-service" {
		t.Errorf("expected Kafka principal to fall back to service principal, got %s", cfg.Kafka.Principal)
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		expected bool
	}{
		{"true string", "true", false, true},
		{"false string", "false", true, false},
		{"1", "1", false, true},
		{"0", "0", true, false},
		{"TRUE uppercase", "TRUE", false, true},
		{"invalid", "invalid", true, true},
		{"empty", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_BOOL_VAR", tt.envValue)

			got := envOrDefaultBool("TEST_BOOL_VAR", tt.def)
			if got != tt.expected {
				t.Errorf("envOrDefaultBool(%s, %v) = %v, want %v", tt.envValue, tt.def, got, tt.expected)
			}
		})
	}
}

func TestEnvOrDefaultList(t *testing.T) {
	def := []string{"a"}
	tests := []struct {
		value    string
		expected []string
	}{
		{"", def},
		{" , ,", def},
		{"x", []string{"x"}},
		{" x ,y ", []string{"x", "y"}},
	}
	for _, tt := range tests {
		t.Setenv("TEST_LIST_VAR", tt.value)
		if got := envOrDefaultList("TEST_LIST_VAR", def); !slices.Equal(got, tt.expected) {
			t.Errorf("envOrDefaultList(%q) = %v, want %v", tt.value, got, tt.expected)
		}
	}
}
