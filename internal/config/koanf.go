// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"vigilo.yaml",
	"vigilo.yml",
	"/etc/vigilo/vigilo.yaml",
	"/etc/vigilo/vigilo.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "VIGILO_CONFIG_PATH"

// envPrefix is stripped from environment variables before mapping to config paths.
const envPrefix = "VIGILO_"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Ingest: IngestConfig{
			DedupWindow:    8192,
			DedupTTL:       5 * time.Minute,
			MaxRecordBytes: 64 * 1024,
		},
		Session: SessionConfig{
			IdleTimeout:        30 * time.Minute,
			MaxEvents:          1000,
			MaxOpen:            100000,
			Shards:             16,
			SweepInterval:      30 * time.Second,
			TerminationActions: []string{"logout", "session_end"},
		},
		Features: FeaturesConfig{
			BurstWindow:     time.Minute,
			BurstThreshold:  10,
			OffHoursStart:   22,
			OffHoursEnd:     6,
			InternalCIDRs:   []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"},
			BaselineAlpha:   0.3,
			SubWindowEvents: 10,
		},
		Models: ModelsConfig{
			Enabled:       []string{"iforest", "recon", "ocsvm", "seqmarkov"},
			ScoreTimeout:  2 * time.Second,
			StateDir:      "/data/models",
			MinFitSamples: 20,
			ScoreNorm:     "quantile",
			IForest: IForestConfig{
				Trees:      100,
				SampleSize: 256,
				Seed:       42,
			},
			Recon: ReconConfig{
				HiddenUnits:  8,
				Epochs:       50,
				LearningRate: 0.01,
				Seed:         42,
			},
			OCSVM: OCSVMConfig{
				Nu:      0.1,
				Gamma:   0.5,
				Tol:     1e-3,
				MaxIter: 1000,
			},
			SeqMarkov: SeqMarkovConfig{
				Window: 10,
			},
		},
		Ensemble: EnsembleConfig{
			Mode:               "weighted_mean",
			Weights:            nil, // nil = equal weights over contributors
			DisagreementStdDev: 0.3,
		},
		Calibration: CalibrationConfig{
			Quantile:   0.95,
			MinSamples: 100,
			Window:     10000,
			Bins:       1000,
			Interval:   time.Minute,
		},
		Alerting: AlertingConfig{
			Cooldown:       10 * time.Minute,
			WarningMargin:  0.05,
			CriticalMargin: 0.15,
			Webhook: WebhookConfig{
				URL:           "", // empty = log-only delivery
				Timeout:       10 * time.Second,
				MaxRetries:    5,
				RetryBase:     500 * time.Millisecond,
				RetryMax:      30 * time.Second,
				RatePerMinute: 60,
			},
			WAL: WALConfig{
				Dir:            "/data/wal",
				Retention:      24 * time.Hour,
				ReplayInterval: time.Minute,
			},
		},
		NATS: NATSConfig{
			Enabled:             true,
			URL:                 "nats://127.0.0.1:4222",
			EmbeddedServer:      true,
			StoreDir:            "/data/nats/jetstream",
			MaxMemory:           1 << 30,  // 1GB
			MaxStore:            10 << 30, // 10GB
			StreamRetentionDays: 7,
			SubscribersCount:    4,
			DurableName:         "vigilo-pipeline",
			QueueGroup:          "scorers",
			EventsTopic:         "vigilo.events.raw",
			AlertsTopic:         "vigilo.alerts",
			VerdictsTopic:       "vigilo.verdicts",
			// Router defaults (Watermill Router middleware)
			RouterRetryCount:           3,
			RouterRetryInitialInterval: 100 * time.Millisecond,
			RouterPoisonQueueEnabled:   true,
			RouterPoisonQueueTopic:     "vigilo.events.poison",
			RouterCloseTimeout:         30 * time.Second,
		},
		Database: DatabaseConfig{
			Enabled:       true,
			Path:          "/data/vigilo.duckdb",
			MaxMemory:     "2GB",
			Threads:       0, // 0 = use runtime.NumCPU()
			BatchSize:     500,
			FlushInterval: 5 * time.Second,
			RetentionDays: 30,
		},
		Server: ServerConfig{
			Port:        8472,
			Host:        "0.0.0.0",
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		API: APIConfig{
			DefaultPageSize:   20,
			MaxPageSize:       100,
			CacheTTL:          30 * time.Second,
			RateLimitReqs:     100,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
			CORSOrigins:       []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
//
// This function provides:
//   - Type-safe configuration unmarshaling
//   - Clear precedence: ENV > File > Defaults
//   - Support for nested configuration via koanf struct tags
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	// Transform environment variable names to koanf paths:
	// VIGILO_SESSION_IDLE_TIMEOUT -> session.idle_timeout
	// VIGILO_CALIBRATION_QUANTILE -> calibration.quantile
	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Post-process slice fields from comma-separated strings
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	// Unmarshal into Config struct
	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	// Check environment variable first
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	// Search default paths
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"session.termination_actions",
	"features.internal_cidrs",
	"models.enabled",
	"api.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// This is necessary because env vars come in as strings, but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// If it's already a slice (from YAML file), skip
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		// If it's a string, split by comma
		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc transforms environment variable names to koanf config paths.
// Only explicitly mapped variables are honored; everything else is skipped so
// unrelated VIGILO_-prefixed variables cannot pollute the configuration.
//
// Examples:
//   - VIGILO_SESSION_IDLE_TIMEOUT -> session.idle_timeout
//   - VIGILO_MODELS_SCORE_TIMEOUT -> models.score_timeout
//   - VIGILO_NATS_URL -> nats.url
//   - VIGILO_HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))

	envMappings := map[string]string{
		// Ingest mappings
		"ingest_dedup_window":     "ingest.dedup_window",
		"ingest_dedup_ttl":        "ingest.dedup_ttl",
		"ingest_max_record_bytes": "ingest.max_record_bytes",

		// Session mappings
		"session_idle_timeout":        "session.idle_timeout",
		"session_max_events":          "session.max_events",
		"session_max_open":            "session.max_open",
		"session_shards":              "session.shards",
		"session_sweep_interval":      "session.sweep_interval",
		"session_termination_actions": "session.termination_actions",

		// Features mappings
		"features_burst_window":      "features.burst_window",
		"features_burst_threshold":   "features.burst_threshold",
		"features_offhours_start":    "features.offhours_start",
		"features_offhours_end":      "features.offhours_end",
		"features_internal_cidrs":    "features.internal_cidrs",
		"features_baseline_alpha":    "features.baseline_alpha",
		"features_sub_window_events": "features.sub_window_events",

		// Models mappings
		"models_enabled":         "models.enabled",
		"models_score_timeout":   "models.score_timeout",
		"models_score_norm":      "models.score_norm",
		"models_state_dir":       "models.state_dir",
		"models_min_fit_samples": "models.min_fit_samples",
		// Isolation forest settings
		"models_iforest_trees":       "models.iforest.trees",
		"models_iforest_sample_size": "models.iforest.sample_size",
		"models_iforest_seed":        "models.iforest.seed",
		// Reconstruction model settings
		"models_recon_hidden_units":  "models.recon.hidden_units",
		"models_recon_epochs":        "models.recon.epochs",
		"models_recon_learning_rate": "models.recon.learning_rate",
		"models_recon_seed":          "models.recon.seed",
		// One-class SVM settings
		"models_ocsvm_nu":       "models.ocsvm.nu",
		"models_ocsvm_gamma":    "models.ocsvm.gamma",
		"models_ocsvm_tol":      "models.ocsvm.tol",
		"models_ocsvm_max_iter": "models.ocsvm.max_iter",
		// Sequence model settings
		"models_seqmarkov_window": "models.seqmarkov.window",

		// Ensemble mappings
		"ensemble_mode":                "ensemble.mode",
		"ensemble_disagreement_stddev": "ensemble.disagreement_stddev",

		// Calibration mappings
		"calibration_quantile":    "calibration.quantile",
		"calibration_min_samples": "calibration.min_samples",
		"calibration_window":      "calibration.window",
		"calibration_bins":        "calibration.bins",
		"calibration_interval":    "calibration.interval",

		// Alerting mappings
		"alerting_cooldown":                "alerting.cooldown",
		"alerting_warning_margin":          "alerting.warning_margin",
		"alerting_critical_margin":         "alerting.critical_margin",
		"alerting_webhook_url":             "alerting.webhook.url",
		"alerting_webhook_timeout":         "alerting.webhook.timeout",
		"alerting_webhook_max_retries":     "alerting.webhook.max_retries",
		"alerting_webhook_retry_base":      "alerting.webhook.retry_base",
		"alerting_webhook_retry_max":       "alerting.webhook.retry_max",
		"alerting_webhook_rate_per_minute": "alerting.webhook.rate_per_minute",
		"alerting_wal_dir":                 "alerting.wal.dir",
		"alerting_wal_retention":           "alerting.wal.retention",
		"alerting_wal_replay_interval":     "alerting.wal.replay_interval",

		// NATS mappings
		"nats_enabled":        "nats.enabled",
		"nats_url":            "nats.url",
		"nats_embedded":       "nats.embedded_server",
		"nats_store_dir":      "nats.store_dir",
		"nats_max_memory":     "nats.max_memory",
		"nats_max_store":      "nats.max_store",
		"nats_retention_days": "nats.stream_retention_days",
		"nats_subscribers":    "nats.subscribers_count",
		"nats_durable_name":   "nats.durable_name",
		"nats_queue_group":    "nats.queue_group",
		"nats_events_topic":   "nats.events_topic",
		"nats_alerts_topic":   "nats.alerts_topic",
		"nats_verdicts_topic": "nats.verdicts_topic",
		// Router configuration environment mappings
		"nats_router_retry_count":    "nats.router_retry_count",
		"nats_router_retry_interval": "nats.router_retry_initial_interval",
		"nats_router_poison_enabled": "nats.router_poison_queue_enabled",
		"nats_router_poison_topic":   "nats.router_poison_queue_topic",
		"nats_router_close_timeout":  "nats.router_close_timeout",

		// Database mappings
		"database_enabled":        "database.enabled",
		"duckdb_path":             "database.path",
		"duckdb_max_memory":       "database.max_memory",
		"duckdb_threads":          "database.threads",
		"database_batch_size":     "database.batch_size",
		"database_flush_interval": "database.flush_interval",
		"database_retention_days": "database.retention_days",

		// Server mappings
		"http_port":    "server.port",
		"http_host":    "server.host",
		"http_timeout": "server.timeout",
		"environment":  "server.environment",

		// API mappings
		"api_default_page_size":   "api.default_page_size",
		"api_max_page_size":       "api.max_page_size",
		"api_cache_ttl":           "api.cache_ttl",
		"api_rate_limit_reqs":     "api.rate_limit_reqs",
		"api_rate_limit_window":   "api.rate_limit_window",
		"api_rate_limit_disabled": "api.rate_limit_disabled",
		"api_cors_origins":        "api.cors_origins",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// For unmapped keys, return empty string to skip them
	// This prevents random environment variables from polluting config
	return ""
}

// WatchConfigFile sets up a file watcher for hot-reload capability.
// Note: The caller is responsible for mutex protection when accessing
// configuration during reloads.
//
// Example usage:
//
//	var cfgMu sync.RWMutex
//	var cfg *Config
//
//	err := WatchConfigFile(configPath, func() {
//	    cfgMu.Lock()
//	    defer cfgMu.Unlock()
//	    newCfg, err := LoadWithKoanf()
//	    if err != nil {
//	        log.Printf("Config reload failed: %v", err)
//	        return
//	    }
//	    cfg = newCfg
//	})
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)

	// Start watching the file for changes
	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
