// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateIngest,
		c.validateSession,
		c.validateFeatures,
		c.validateModels,
		c.validateEnsemble,
		c.validateCalibration,
		c.validateAlerting,
		c.validateNATS,
		c.validateDatabase,
		c.validateServer,
		c.validateAPI,
		c.validateLogging,
	}

	for _, validator := range validators {
		if err := validator(); err != nil {
			return err
		}
	}
	return nil
}

// Ingest limit constants
const (
	ingestMinDedupWindow = 64
	ingestMaxDedupWindow = 1 << 20
	ingestMinRecordBytes = 256
	ingestMaxRecordBytes = 16 << 20
)

// validateIngest validates normalizer configuration
func (c *Config) validateIngest() error {
	if c.Ingest.DedupWindow < ingestMinDedupWindow || c.Ingest.DedupWindow > ingestMaxDedupWindow {
		return fmt.Errorf("VIGILO_INGEST_DEDUP_WINDOW must be between %d and %d", ingestMinDedupWindow, ingestMaxDedupWindow)
	}
	if c.Ingest.DedupTTL < time.Second {
		return fmt.Errorf("VIGILO_INGEST_DEDUP_TTL must be at least 1s")
	}
	if c.Ingest.MaxRecordBytes < ingestMinRecordBytes || c.Ingest.MaxRecordBytes > ingestMaxRecordBytes {
		return fmt.Errorf("VIGILO_INGEST_MAX_RECORD_BYTES must be between %d and %d", ingestMinRecordBytes, ingestMaxRecordBytes)
	}
	return nil
}

// Session limit constants
const (
	sessionMaxShards  = 256
	sessionMaxEvents  = 100000
	sessionMinTimeout = time.Minute
)

// validateSession validates session tracker configuration
func (c *Config) validateSession() error {
	if c.Session.IdleTimeout < sessionMinTimeout {
		return fmt.Errorf("VIGILO_SESSION_IDLE_TIMEOUT must be at least 1m")
	}
	if c.Session.MaxEvents < 2 || c.Session.MaxEvents > sessionMaxEvents {
		return fmt.Errorf("VIGILO_SESSION_MAX_EVENTS must be between 2 and %d", sessionMaxEvents)
	}
	if c.Session.MaxOpen < 1 {
		return fmt.Errorf("VIGILO_SESSION_MAX_OPEN must be at least 1")
	}
	if c.Session.Shards < 1 || c.Session.Shards > sessionMaxShards {
		return fmt.Errorf("VIGILO_SESSION_SHARDS must be between 1 and %d", sessionMaxShards)
	}
	if c.Session.SweepInterval < time.Second {
		return fmt.Errorf("VIGILO_SESSION_SWEEP_INTERVAL must be at least 1s")
	}
	return nil
}

// validateFeatures validates feature extraction configuration
func (c *Config) validateFeatures() error {
	if c.Features.BurstWindow < time.Second {
		return fmt.Errorf("VIGILO_FEATURES_BURST_WINDOW must be at least 1s")
	}
	if c.Features.BurstThreshold < 2 {
		return fmt.Errorf("VIGILO_FEATURES_BURST_THRESHOLD must be at least 2")
	}
	if err := c.validateOffHours(); err != nil {
		return err
	}
	if err := c.validateInternalCIDRs(); err != nil {
		return err
	}
	if c.Features.BaselineAlpha <= 0 || c.Features.BaselineAlpha > 1 {
		return fmt.Errorf("VIGILO_FEATURES_BASELINE_ALPHA must be in (0, 1]")
	}
	if c.Features.SubWindowEvents < 2 {
		return fmt.Errorf("VIGILO_FEATURES_SUB_WINDOW_EVENTS must be at least 2")
	}
	return nil
}

// validateOffHours validates the off-hours boundary hours
func (c *Config) validateOffHours() error {
	if c.Features.OffHoursStart < 0 || c.Features.OffHoursStart > 23 {
		return fmt.Errorf("VIGILO_FEATURES_OFFHOURS_START must be an hour between 0 and 23")
	}
	if c.Features.OffHoursEnd < 0 || c.Features.OffHoursEnd > 23 {
		return fmt.Errorf("VIGILO_FEATURES_OFFHOURS_END must be an hour between 0 and 23")
	}
	return nil
}

// validateInternalCIDRs validates that every internal network parses
func (c *Config) validateInternalCIDRs() error {
	for _, cidr := range c.Features.InternalCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("VIGILO_FEATURES_INTERNAL_CIDRS contains invalid CIDR %q: %w", cidr, err)
		}
	}
	return nil
}

// knownModels defines the model families the registry can construct
var knownModels = map[string]bool{
	"iforest":   true,
	"recon":     true,
	"ocsvm":     true,
	"seqmarkov": true,
}

// Model limit constants
const (
	modelMinScoreTimeout = 100 * time.Millisecond
	modelMaxScoreTimeout = time.Minute
)

// validateModels validates model registry and hyperparameter configuration
func (c *Config) validateModels() error {
	if len(c.Models.Enabled) == 0 {
		return fmt.Errorf("VIGILO_MODELS_ENABLED must list at least one model")
	}
	for _, id := range c.Models.Enabled {
		if !knownModels[id] {
			return fmt.Errorf("VIGILO_MODELS_ENABLED contains unknown model %q (valid: iforest, recon, ocsvm, seqmarkov)", id)
		}
	}
	if c.Models.ScoreTimeout < modelMinScoreTimeout || c.Models.ScoreTimeout > modelMaxScoreTimeout {
		return fmt.Errorf("VIGILO_MODELS_SCORE_TIMEOUT must be between %v and %v", modelMinScoreTimeout, modelMaxScoreTimeout)
	}
	if c.Models.MinFitSamples < 2 {
		return fmt.Errorf("VIGILO_MODELS_MIN_FIT_SAMPLES must be at least 2")
	}
	if c.Models.ScoreNorm != "minmax" && c.Models.ScoreNorm != "quantile" {
		return fmt.Errorf("VIGILO_MODELS_SCORE_NORM must be minmax or quantile, got %q", c.Models.ScoreNorm)
	}

	hyperValidators := []func() error{
		c.validateIForest,
		c.validateRecon,
		c.validateOCSVM,
		c.validateSeqMarkov,
	}
	for _, validator := range hyperValidators {
		if err := validator(); err != nil {
			return err
		}
	}
	return nil
}

// validateIForest validates isolation forest hyperparameters
func (c *Config) validateIForest() error {
	if c.Models.IForest.Trees < 1 || c.Models.IForest.Trees > 1000 {
		return fmt.Errorf("VIGILO_MODELS_IFOREST_TREES must be between 1 and 1000")
	}
	if c.Models.IForest.SampleSize < 8 || c.Models.IForest.SampleSize > 4096 {
		return fmt.Errorf("VIGILO_MODELS_IFOREST_SAMPLE_SIZE must be between 8 and 4096")
	}
	return nil
}

// validateRecon validates reconstruction model hyperparameters
func (c *Config) validateRecon() error {
	if c.Models.Recon.HiddenUnits < 1 || c.Models.Recon.HiddenUnits > 64 {
		return fmt.Errorf("VIGILO_MODELS_RECON_HIDDEN_UNITS must be between 1 and 64")
	}
	if c.Models.Recon.Epochs < 1 || c.Models.Recon.Epochs > 10000 {
		return fmt.Errorf("VIGILO_MODELS_RECON_EPOCHS must be between 1 and 10000")
	}
	if c.Models.Recon.LearningRate <= 0 || c.Models.Recon.LearningRate > 1 {
		return fmt.Errorf("VIGILO_MODELS_RECON_LEARNING_RATE must be in (0, 1]")
	}
	return nil
}

// validateOCSVM validates one-class SVM hyperparameters
func (c *Config) validateOCSVM() error {
	if c.Models.OCSVM.Nu <= 0 || c.Models.OCSVM.Nu > 1 {
		return fmt.Errorf("VIGILO_MODELS_OCSVM_NU must be in (0, 1]")
	}
	if c.Models.OCSVM.Gamma <= 0 {
		return fmt.Errorf("VIGILO_MODELS_OCSVM_GAMMA must be positive")
	}
	if c.Models.OCSVM.Tol <= 0 {
		return fmt.Errorf("VIGILO_MODELS_OCSVM_TOL must be positive")
	}
	if c.Models.OCSVM.MaxIter < 1 || c.Models.OCSVM.MaxIter > 100000 {
		return fmt.Errorf("VIGILO_MODELS_OCSVM_MAX_ITER must be between 1 and 100000")
	}
	return nil
}

// validateSeqMarkov validates sequence model hyperparameters
func (c *Config) validateSeqMarkov() error {
	if c.Models.SeqMarkov.Window < 2 || c.Models.SeqMarkov.Window > 1000 {
		return fmt.Errorf("VIGILO_MODELS_SEQMARKOV_WINDOW must be between 2 and 1000")
	}
	return nil
}

// validEnsembleModes defines the allowed fusion modes
var validEnsembleModes = map[string]bool{
	"weighted_mean": true,
	"max":           true,
}

// validateEnsemble validates score fusion configuration
func (c *Config) validateEnsemble() error {
	if !validEnsembleModes[c.Ensemble.Mode] {
		return fmt.Errorf("VIGILO_ENSEMBLE_MODE must be one of: weighted_mean, max")
	}
	if c.Ensemble.DisagreementStdDev < 0 || c.Ensemble.DisagreementStdDev > 1 {
		return fmt.Errorf("VIGILO_ENSEMBLE_DISAGREEMENT_STDDEV must be between 0 and 1")
	}
	return c.validateEnsembleWeights()
}

// validateEnsembleWeights validates explicit fusion weights when configured
func (c *Config) validateEnsembleWeights() error {
	if len(c.Ensemble.Weights) == 0 {
		return nil // equal weights
	}

	sum := 0.0
	for id, w := range c.Ensemble.Weights {
		if !knownModels[id] {
			return fmt.Errorf("ensemble.weights contains unknown model %q", id)
		}
		if w < 0 {
			return fmt.Errorf("ensemble.weights[%s] must be non-negative", id)
		}
		sum += w
	}
	if sum <= 0 {
		return fmt.Errorf("ensemble.weights must have a positive sum")
	}
	return nil
}

// validateCalibration validates threshold calibration configuration
func (c *Config) validateCalibration() error {
	if c.Calibration.Quantile <= 0 || c.Calibration.Quantile >= 1 {
		return fmt.Errorf("VIGILO_CALIBRATION_QUANTILE must be in (0, 1)")
	}
	if c.Calibration.MinSamples < 10 {
		return fmt.Errorf("VIGILO_CALIBRATION_MIN_SAMPLES must be at least 10")
	}
	if c.Calibration.Window < c.Calibration.MinSamples {
		return fmt.Errorf("VIGILO_CALIBRATION_WINDOW must be at least VIGILO_CALIBRATION_MIN_SAMPLES (%d)", c.Calibration.MinSamples)
	}
	if c.Calibration.Bins < 10 || c.Calibration.Bins > 100000 {
		return fmt.Errorf("VIGILO_CALIBRATION_BINS must be between 10 and 100000")
	}
	if c.Calibration.Interval < time.Second {
		return fmt.Errorf("VIGILO_CALIBRATION_INTERVAL must be at least 1s")
	}
	return nil
}

// validateAlerting validates alert construction and delivery configuration
func (c *Config) validateAlerting() error {
	if c.Alerting.Cooldown <= 0 {
		return fmt.Errorf("VIGILO_ALERTING_COOLDOWN must be positive")
	}
	if err := c.validateSeverityMargins(); err != nil {
		return err
	}
	if err := c.validateWebhook(); err != nil {
		return err
	}
	return c.validateWAL()
}

// validateSeverityMargins validates the warning/critical margin ordering
func (c *Config) validateSeverityMargins() error {
	if c.Alerting.WarningMargin < 0 || c.Alerting.WarningMargin > 1 {
		return fmt.Errorf("VIGILO_ALERTING_WARNING_MARGIN must be between 0 and 1")
	}
	if c.Alerting.CriticalMargin < 0 || c.Alerting.CriticalMargin > 1 {
		return fmt.Errorf("VIGILO_ALERTING_CRITICAL_MARGIN must be between 0 and 1")
	}
	if c.Alerting.WarningMargin > c.Alerting.CriticalMargin {
		return fmt.Errorf("VIGILO_ALERTING_WARNING_MARGIN must not exceed VIGILO_ALERTING_CRITICAL_MARGIN")
	}
	return nil
}

// validateWebhook validates webhook delivery configuration
func (c *Config) validateWebhook() error {
	if c.Alerting.Webhook.URL != "" {
		if err := validateHTTPURL(c.Alerting.Webhook.URL, "VIGILO_ALERTING_WEBHOOK_URL"); err != nil {
			return fmt.Errorf("VIGILO_ALERTING_WEBHOOK_URL is invalid: %w", err)
		}
	}
	if c.Alerting.Webhook.Timeout < time.Second {
		return fmt.Errorf("VIGILO_ALERTING_WEBHOOK_TIMEOUT must be at least 1s")
	}
	if c.Alerting.Webhook.MaxRetries < 0 || c.Alerting.Webhook.MaxRetries > 20 {
		return fmt.Errorf("VIGILO_ALERTING_WEBHOOK_MAX_RETRIES must be between 0 and 20")
	}
	if c.Alerting.Webhook.RetryBase <= 0 {
		return fmt.Errorf("VIGILO_ALERTING_WEBHOOK_RETRY_BASE must be positive")
	}
	if c.Alerting.Webhook.RetryMax < c.Alerting.Webhook.RetryBase {
		return fmt.Errorf("VIGILO_ALERTING_WEBHOOK_RETRY_MAX must be at least VIGILO_ALERTING_WEBHOOK_RETRY_BASE")
	}
	if c.Alerting.Webhook.RatePerMinute < 1 || c.Alerting.Webhook.RatePerMinute > 60000 {
		return fmt.Errorf("VIGILO_ALERTING_WEBHOOK_RATE_PER_MINUTE must be between 1 and 60000")
	}
	return nil
}

// validateWAL validates the undelivered-alert WAL configuration
func (c *Config) validateWAL() error {
	if c.Alerting.WAL.Dir == "" {
		return fmt.Errorf("VIGILO_ALERTING_WAL_DIR is required")
	}
	if c.Alerting.WAL.Retention < time.Minute {
		return fmt.Errorf("VIGILO_ALERTING_WAL_RETENTION must be at least 1m")
	}
	if c.Alerting.WAL.ReplayInterval < time.Second {
		return fmt.Errorf("VIGILO_ALERTING_WAL_REPLAY_INTERVAL must be at least 1s")
	}
	return nil
}

// NATS limit constants
const (
	natsMinMemory      = 64 * 1024 * 1024  // 64MB
	natsMinStore       = 100 * 1024 * 1024 // 100MB
	natsMaxRetention   = 365
	natsMinRetention   = 1
	natsMaxSubscribers = 32
)

// validateNATS validates NATS configuration (only if enabled)
func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}

	if err := validateNATSURL(c.NATS.URL); err != nil {
		return fmt.Errorf("VIGILO_NATS_URL is invalid: %w", err)
	}
	if c.NATS.MaxMemory < natsMinMemory {
		return fmt.Errorf("VIGILO_NATS_MAX_MEMORY must be at least 64MB (67108864 bytes)")
	}
	if c.NATS.MaxStore < natsMinStore {
		return fmt.Errorf("VIGILO_NATS_MAX_STORE must be at least 100MB (104857600 bytes)")
	}
	if c.NATS.StreamRetentionDays < natsMinRetention || c.NATS.StreamRetentionDays > natsMaxRetention {
		return fmt.Errorf("VIGILO_NATS_RETENTION_DAYS must be between 1 and 365")
	}
	if c.NATS.SubscribersCount < 1 || c.NATS.SubscribersCount > natsMaxSubscribers {
		return fmt.Errorf("VIGILO_NATS_SUBSCRIBERS must be between 1 and 32")
	}
	return c.validateNATSTopics()
}

// validateNATSTopics validates that all topics are set and distinct
func (c *Config) validateNATSTopics() error {
	topics := map[string]string{
		"VIGILO_NATS_EVENTS_TOPIC":   c.NATS.EventsTopic,
		"VIGILO_NATS_ALERTS_TOPIC":   c.NATS.AlertsTopic,
		"VIGILO_NATS_VERDICTS_TOPIC": c.NATS.VerdictsTopic,
	}
	seen := make(map[string]string, len(topics))
	for name, topic := range topics {
		if topic == "" {
			return fmt.Errorf("%s is required", name)
		}
		if other, dup := seen[topic]; dup {
			return fmt.Errorf("%s and %s must not share topic %q", name, other, topic)
		}
		seen[topic] = name
	}
	return nil
}

// validateDatabase validates DuckDB store configuration
func (c *Config) validateDatabase() error {
	if !c.Database.Enabled {
		return nil
	}

	if c.Database.Path == "" {
		return fmt.Errorf("VIGILO_DUCKDB_PATH is required when VIGILO_DATABASE_ENABLED=true")
	}
	if c.Database.BatchSize < 1 || c.Database.BatchSize > 10000 {
		return fmt.Errorf("VIGILO_DATABASE_BATCH_SIZE must be between 1 and 10000")
	}
	if c.Database.FlushInterval < 100*time.Millisecond || c.Database.FlushInterval > time.Hour {
		return fmt.Errorf("VIGILO_DATABASE_FLUSH_INTERVAL must be between 100ms and 1h")
	}
	if c.Database.RetentionDays < 1 || c.Database.RetentionDays > 3650 {
		return fmt.Errorf("VIGILO_DATABASE_RETENTION_DAYS must be between 1 and 3650")
	}
	return nil
}

// validateServer validates server configuration
func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("VIGILO_HTTP_PORT must be between 1 and 65535")
	}
	return nil
}

// Rate limit constants
const (
	minRateLimitRequests = 1           // Minimum 1 request allowed
	maxRateLimitRequests = 100000      // Maximum 100K requests per window
	minRateLimitWindow   = time.Second // Minimum 1 second window
	maxRateLimitWindow   = time.Hour   // Maximum 1 hour window
)

// validateAPI validates API pagination and rate limiting configuration
func (c *Config) validateAPI() error {
	if c.API.DefaultPageSize < 1 || c.API.DefaultPageSize > c.API.MaxPageSize {
		return fmt.Errorf("VIGILO_API_DEFAULT_PAGE_SIZE must be between 1 and VIGILO_API_MAX_PAGE_SIZE (%d)", c.API.MaxPageSize)
	}
	if c.API.MaxPageSize < 1 || c.API.MaxPageSize > 10000 {
		return fmt.Errorf("VIGILO_API_MAX_PAGE_SIZE must be between 1 and 10000")
	}
	if c.API.CacheTTL < 0 {
		return fmt.Errorf("VIGILO_API_CACHE_TTL must not be negative")
	}
	return c.validateRateLimits()
}

// validateRateLimits validates rate limiting configuration bounds.
// Ensures rate limit values are within sensible ranges to prevent
// misconfiguration that could lead to DoS or ineffective protection.
func (c *Config) validateRateLimits() error {
	if c.API.RateLimitDisabled {
		return nil
	}

	if c.API.RateLimitReqs < minRateLimitRequests || c.API.RateLimitReqs > maxRateLimitRequests {
		return fmt.Errorf("VIGILO_API_RATE_LIMIT_REQS must be between %d and %d", minRateLimitRequests, maxRateLimitRequests)
	}
	if c.API.RateLimitWindow < minRateLimitWindow || c.API.RateLimitWindow > maxRateLimitWindow {
		return fmt.Errorf("VIGILO_API_RATE_LIMIT_WINDOW must be between %v and %v", minRateLimitWindow, maxRateLimitWindow)
	}
	return nil
}

// IsProduction returns true if the application is running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Server.Environment)
	return env == "production" || env == "prod"
}

// IsDevelopment returns true if the application is running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Server.Environment)
	return env == "" || env == "development" || env == "dev"
}

// validLogLevels defines the allowed log levels
var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validLogFormats defines the allowed log formats
var validLogFormats = map[string]bool{
	"json":    true,
	"console": true,
}

// validateLogging validates logging configuration
func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("VIGILO_LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if c.Logging.Format != "" && !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("VIGILO_LOG_FORMAT must be one of: json, console")
	}
	return nil
}
