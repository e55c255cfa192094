// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestDefaultConfig_IsValid verifies the built-in defaults pass validation
func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected default config to validate, got: %v", err)
	}
}

// TestDefaultConfig_Values spot-checks load-bearing defaults
func TestDefaultConfig_Values(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Session.IdleTimeout != 30*time.Minute {
		t.Errorf("Expected session idle timeout 30m, got %v", cfg.Session.IdleTimeout)
	}
	if cfg.Session.Shards != 16 {
		t.Errorf("Expected 16 session shards, got %d", cfg.Session.Shards)
	}
	if cfg.Models.ScoreTimeout != 2*time.Second {
		t.Errorf("Expected model score timeout 2s, got %v", cfg.Models.ScoreTimeout)
	}
	if cfg.Ensemble.Mode != "weighted_mean" {
		t.Errorf("Expected ensemble mode weighted_mean, got %q", cfg.Ensemble.Mode)
	}
	if cfg.Ensemble.DisagreementStdDev != 0.3 {
		t.Errorf("Expected disagreement stddev 0.3, got %v", cfg.Ensemble.DisagreementStdDev)
	}
	if cfg.Calibration.Quantile != 0.95 {
		t.Errorf("Expected calibration quantile 0.95, got %v", cfg.Calibration.Quantile)
	}
	if cfg.Alerting.Cooldown != 10*time.Minute {
		t.Errorf("Expected alert cooldown 10m, got %v", cfg.Alerting.Cooldown)
	}
	if cfg.Alerting.CriticalMargin != 0.15 {
		t.Errorf("Expected critical margin 0.15, got %v", cfg.Alerting.CriticalMargin)
	}
	if len(cfg.Models.Enabled) != 4 {
		t.Errorf("Expected 4 enabled models, got %d", len(cfg.Models.Enabled))
	}
	if cfg.NATS.EventsTopic != "vigilo.events.raw" {
		t.Errorf("Expected events topic vigilo.events.raw, got %q", cfg.NATS.EventsTopic)
	}
}

// TestLoadWithKoanf_Defaults loads with no file and no env overrides
func TestLoadWithKoanf_Defaults(t *testing.T) {
	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("Expected load to succeed, got: %v", err)
	}

	if cfg.Server.Port != 8472 {
		t.Errorf("Expected default port 8472, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Expected default log level info, got %q", cfg.Logging.Level)
	}
}

// TestLoadWithKoanf_EnvOverride verifies environment variables override defaults
func TestLoadWithKoanf_EnvOverride(t *testing.T) {
	t.Setenv("VIGILO_SESSION_IDLE_TIMEOUT", "45m")
	t.Setenv("VIGILO_CALIBRATION_QUANTILE", "0.99")
	t.Setenv("VIGILO_MODELS_ENABLED", "iforest,seqmarkov")
	t.Setenv("VIGILO_NATS_ENABLED", "false")
	t.Setenv("VIGILO_HTTP_PORT", "9100")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("Expected load to succeed, got: %v", err)
	}

	if cfg.Session.IdleTimeout != 45*time.Minute {
		t.Errorf("Expected idle timeout 45m from env, got %v", cfg.Session.IdleTimeout)
	}
	if cfg.Calibration.Quantile != 0.99 {
		t.Errorf("Expected quantile 0.99 from env, got %v", cfg.Calibration.Quantile)
	}
	if len(cfg.Models.Enabled) != 2 || cfg.Models.Enabled[0] != "iforest" || cfg.Models.Enabled[1] != "seqmarkov" {
		t.Errorf("Expected enabled models [iforest seqmarkov] from env, got %v", cfg.Models.Enabled)
	}
	if cfg.NATS.Enabled {
		t.Error("Expected NATS disabled from env")
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Expected port 9100 from env, got %d", cfg.Server.Port)
	}
}

// TestLoadWithKoanf_UnmappedEnvIgnored verifies unknown VIGILO_ variables are skipped
func TestLoadWithKoanf_UnmappedEnvIgnored(t *testing.T) {
	t.Setenv("VIGILO_TOTALLY_UNKNOWN_SETTING", "surprise")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("Expected load to succeed with unmapped env var, got: %v", err)
	}
	if cfg.Server.Port != 8472 {
		t.Errorf("Expected defaults untouched, got port %d", cfg.Server.Port)
	}
}

// TestLoadWithKoanf_YAMLFile verifies file values load and env still wins
func TestLoadWithKoanf_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vigilo.yaml")
	yaml := `
session:
  idle_timeout: 1h
  max_events: 500
ensemble:
  mode: max
  weights:
    iforest: 2.0
    recon: 1.0
alerting:
  webhook:
    url: https://hooks.example.com/vigilo
    headers:
      Authorization: Bearer test-token
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("VIGILO_SESSION_MAX_EVENTS", "750") // env beats file

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("Expected load to succeed, got: %v", err)
	}

	if cfg.Session.IdleTimeout != time.Hour {
		t.Errorf("Expected idle timeout 1h from file, got %v", cfg.Session.IdleTimeout)
	}
	if cfg.Session.MaxEvents != 750 {
		t.Errorf("Expected max events 750 from env override, got %d", cfg.Session.MaxEvents)
	}
	if cfg.Ensemble.Mode != "max" {
		t.Errorf("Expected ensemble mode max from file, got %q", cfg.Ensemble.Mode)
	}
	if cfg.Ensemble.Weights["iforest"] != 2.0 {
		t.Errorf("Expected iforest weight 2.0 from file, got %v", cfg.Ensemble.Weights["iforest"])
	}
	if cfg.Alerting.Webhook.URL != "https://hooks.example.com/vigilo" {
		t.Errorf("Expected webhook URL from file, got %q", cfg.Alerting.Webhook.URL)
	}
	if cfg.Alerting.Webhook.Headers["Authorization"] != "Bearer test-token" {
		t.Errorf("Expected webhook header from file, got %v", cfg.Alerting.Webhook.Headers)
	}
}

// TestLoadWithKoanf_InvalidEnvFailsValidation verifies bad env values fail fast
func TestLoadWithKoanf_InvalidEnvFailsValidation(t *testing.T) {
	t.Setenv("VIGILO_CALIBRATION_QUANTILE", "1.5")

	_, err := LoadWithKoanf()
	if err == nil {
		t.Fatal("Expected validation error for quantile 1.5, got nil")
	}
	if !strings.Contains(err.Error(), "VIGILO_CALIBRATION_QUANTILE") {
		t.Errorf("Expected error to name the offending variable, got: %v", err)
	}
}

// TestValidate_Sections exercises every section validator with one bad value each
func TestValidate_Sections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "dedup window too small",
			mutate:  func(c *Config) { c.Ingest.DedupWindow = 1 },
			wantErr: "VIGILO_INGEST_DEDUP_WINDOW",
		},
		{
			name:    "dedup ttl too short",
			mutate:  func(c *Config) { c.Ingest.DedupTTL = time.Millisecond },
			wantErr: "VIGILO_INGEST_DEDUP_TTL",
		},
		{
			name:    "idle timeout too short",
			mutate:  func(c *Config) { c.Session.IdleTimeout = time.Second },
			wantErr: "VIGILO_SESSION_IDLE_TIMEOUT",
		},
		{
			name:    "max events below two",
			mutate:  func(c *Config) { c.Session.MaxEvents = 1 },
			wantErr: "VIGILO_SESSION_MAX_EVENTS",
		},
		{
			name:    "too many shards",
			mutate:  func(c *Config) { c.Session.Shards = 1000 },
			wantErr: "VIGILO_SESSION_SHARDS",
		},
		{
			name:    "bad offhours hour",
			mutate:  func(c *Config) { c.Features.OffHoursStart = 24 },
			wantErr: "VIGILO_FEATURES_OFFHOURS_START",
		},
		{
			name:    "invalid internal cidr",
			mutate:  func(c *Config) { c.Features.InternalCIDRs = []string{"not-a-cidr"} },
			wantErr: "VIGILO_FEATURES_INTERNAL_CIDRS",
		},
		{
			name:    "baseline alpha above one",
			mutate:  func(c *Config) { c.Features.BaselineAlpha = 1.5 },
			wantErr: "VIGILO_FEATURES_BASELINE_ALPHA",
		},
		{
			name:    "no models enabled",
			mutate:  func(c *Config) { c.Models.Enabled = nil },
			wantErr: "VIGILO_MODELS_ENABLED",
		},
		{
			name:    "unknown model enabled",
			mutate:  func(c *Config) { c.Models.Enabled = []string{"lstm"} },
			wantErr: "unknown model",
		},
		{
			name:    "score timeout too long",
			mutate:  func(c *Config) { c.Models.ScoreTimeout = 5 * time.Minute },
			wantErr: "VIGILO_MODELS_SCORE_TIMEOUT",
		},
		{
			name:    "iforest sample size too small",
			mutate:  func(c *Config) { c.Models.IForest.SampleSize = 2 },
			wantErr: "VIGILO_MODELS_IFOREST_SAMPLE_SIZE",
		},
		{
			name:    "recon learning rate zero",
			mutate:  func(c *Config) { c.Models.Recon.LearningRate = 0 },
			wantErr: "VIGILO_MODELS_RECON_LEARNING_RATE",
		},
		{
			name:    "ocsvm nu above one",
			mutate:  func(c *Config) { c.Models.OCSVM.Nu = 1.1 },
			wantErr: "VIGILO_MODELS_OCSVM_NU",
		},
		{
			name:    "seqmarkov window below two",
			mutate:  func(c *Config) { c.Models.SeqMarkov.Window = 1 },
			wantErr: "VIGILO_MODELS_SEQMARKOV_WINDOW",
		},
		{
			name:    "bad ensemble mode",
			mutate:  func(c *Config) { c.Ensemble.Mode = "median" },
			wantErr: "VIGILO_ENSEMBLE_MODE",
		},
		{
			name:    "negative ensemble weight",
			mutate:  func(c *Config) { c.Ensemble.Weights = map[string]float64{"iforest": -1} },
			wantErr: "non-negative",
		},
		{
			name:    "weights for unknown model",
			mutate:  func(c *Config) { c.Ensemble.Weights = map[string]float64{"lstm": 1} },
			wantErr: "unknown model",
		},
		{
			name:    "all-zero weights",
			mutate:  func(c *Config) { c.Ensemble.Weights = map[string]float64{"iforest": 0, "recon": 0} },
			wantErr: "positive sum",
		},
		{
			name:    "quantile at one",
			mutate:  func(c *Config) { c.Calibration.Quantile = 1.0 },
			wantErr: "VIGILO_CALIBRATION_QUANTILE",
		},
		{
			name:    "window below min samples",
			mutate:  func(c *Config) { c.Calibration.Window = 50 },
			wantErr: "VIGILO_CALIBRATION_WINDOW",
		},
		{
			name:    "zero cooldown",
			mutate:  func(c *Config) { c.Alerting.Cooldown = 0 },
			wantErr: "VIGILO_ALERTING_COOLDOWN",
		},
		{
			name:    "warning margin above critical",
			mutate:  func(c *Config) { c.Alerting.WarningMargin = 0.5 },
			wantErr: "VIGILO_ALERTING_WARNING_MARGIN",
		},
		{
			name:    "webhook url without scheme",
			mutate:  func(c *Config) { c.Alerting.Webhook.URL = "hooks.example.com/vigilo" },
			wantErr: "VIGILO_ALERTING_WEBHOOK_URL",
		},
		{
			name:    "retry max below base",
			mutate:  func(c *Config) { c.Alerting.Webhook.RetryMax = time.Millisecond },
			wantErr: "VIGILO_ALERTING_WEBHOOK_RETRY_MAX",
		},
		{
			name:    "empty wal dir",
			mutate:  func(c *Config) { c.Alerting.WAL.Dir = "" },
			wantErr: "VIGILO_ALERTING_WAL_DIR",
		},
		{
			name:    "bad nats url scheme",
			mutate:  func(c *Config) { c.NATS.URL = "http://localhost:4222" },
			wantErr: "VIGILO_NATS_URL",
		},
		{
			name:    "nats memory too low",
			mutate:  func(c *Config) { c.NATS.MaxMemory = 1024 },
			wantErr: "VIGILO_NATS_MAX_MEMORY",
		},
		{
			name: "duplicate nats topics",
			mutate: func(c *Config) {
				c.NATS.EventsTopic = "vigilo.same"
				c.NATS.AlertsTopic = "vigilo.same"
			},
			wantErr: "must not share topic",
		},
		{
			name:    "empty database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "VIGILO_DUCKDB_PATH",
		},
		{
			name:    "database batch too large",
			mutate:  func(c *Config) { c.Database.BatchSize = 50000 },
			wantErr: "VIGILO_DATABASE_BATCH_SIZE",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "VIGILO_HTTP_PORT",
		},
		{
			name:    "default page size above max",
			mutate:  func(c *Config) { c.API.DefaultPageSize = 500 },
			wantErr: "VIGILO_API_DEFAULT_PAGE_SIZE",
		},
		{
			name:    "rate limit requests zero",
			mutate:  func(c *Config) { c.API.RateLimitReqs = 0 },
			wantErr: "VIGILO_API_RATE_LIMIT_REQS",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "VIGILO_LOG_LEVEL",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "VIGILO_LOG_FORMAT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

// TestValidate_DisabledSectionsSkipped verifies disabled sections skip their checks
func TestValidate_DisabledSectionsSkipped(t *testing.T) {
	cfg := defaultConfig()
	cfg.NATS.Enabled = false
	cfg.NATS.URL = "garbage"
	cfg.Database.Enabled = false
	cfg.Database.Path = ""
	cfg.API.RateLimitDisabled = true
	cfg.API.RateLimitReqs = 0

	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected disabled sections to skip validation, got: %v", err)
	}
}

// TestValidate_WebhookOptional verifies an empty webhook URL is valid (log-only mode)
func TestValidate_WebhookOptional(t *testing.T) {
	cfg := defaultConfig()
	cfg.Alerting.Webhook.URL = ""

	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected empty webhook URL to validate, got: %v", err)
	}
}

// TestEnvTransformFunc verifies mapping of environment variable names to config paths
func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		expected string
	}{
		{"session idle timeout", "VIGILO_SESSION_IDLE_TIMEOUT", "session.idle_timeout"},
		{"model score timeout", "VIGILO_MODELS_SCORE_TIMEOUT", "models.score_timeout"},
		{"iforest trees", "VIGILO_MODELS_IFOREST_TREES", "models.iforest.trees"},
		{"ensemble mode", "VIGILO_ENSEMBLE_MODE", "ensemble.mode"},
		{"calibration quantile", "VIGILO_CALIBRATION_QUANTILE", "calibration.quantile"},
		{"webhook url", "VIGILO_ALERTING_WEBHOOK_URL", "alerting.webhook.url"},
		{"nats url", "VIGILO_NATS_URL", "nats.url"},
		{"duckdb path", "VIGILO_DUCKDB_PATH", "database.path"},
		{"http port", "VIGILO_HTTP_PORT", "server.port"},
		{"log level", "VIGILO_LOG_LEVEL", "logging.level"},
		{"unmapped key skipped", "VIGILO_RANDOM_UNKNOWN", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := envTransformFunc(tt.key)
			if result != tt.expected {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.key, result, tt.expected)
			}
		})
	}
}

// TestIsProduction verifies environment mode detection
func TestIsProduction(t *testing.T) {
	tests := []struct {
		environment string
		production  bool
		development bool
	}{
		{"production", true, false},
		{"prod", true, false},
		{"PRODUCTION", true, false},
		{"development", false, true},
		{"dev", false, true},
		{"", false, true},
		{"staging", false, false},
	}

	for _, tt := range tests {
		t.Run("env_"+tt.environment, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Server.Environment = tt.environment

			if cfg.IsProduction() != tt.production {
				t.Errorf("IsProduction() with %q = %v, want %v", tt.environment, cfg.IsProduction(), tt.production)
			}
			if cfg.IsDevelopment() != tt.development {
				t.Errorf("IsDevelopment() with %q = %v, want %v", tt.environment, cfg.IsDevelopment(), tt.development)
			}
		})
	}
}

// TestValidateHTTPURL verifies webhook URL validation rules
func TestValidateHTTPURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"https url", "https://hooks.example.com/vigilo", false},
		{"http url with port", "http://localhost:9000/hook", false},
		{"missing scheme", "hooks.example.com", true},
		{"wrong scheme", "ftp://hooks.example.com", true},
		{"scheme only", "https://", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateHTTPURL(tt.url, "TEST_URL")
			if (err != nil) != tt.wantErr {
				t.Errorf("validateHTTPURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

// TestValidateNATSURL verifies NATS URL validation rules
func TestValidateNATSURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"nats scheme", "nats://127.0.0.1:4222", false},
		{"tls scheme", "tls://nats.example.com:4222", false},
		{"websocket scheme", "ws://localhost:8080", false},
		{"http scheme rejected", "http://localhost:4222", true},
		{"missing host", "nats://", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateNATSURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateNATSURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}
