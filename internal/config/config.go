// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package config

import (
	"time"
)

// Config holds all application configuration loaded from environment variables and config files.
// Provides centralized configuration management for every pipeline stage: ingest, session
// tracking, feature extraction, model scoring, ensemble fusion, calibration, and alerting.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in sensible defaults for all settings
//  2. Config File: Optional YAML config file (vigilo.yaml) for persistent settings
//  3. Environment Variables: Override any setting via VIGILO_-prefixed variables
//
// Configuration Categories:
//
//  1. Pipeline:
//     - Ingest: Normalizer deduplication window
//     - Session: Session lifecycle (idle timeout, capacity, shard count)
//     - Features: Extraction windows, off-hours boundaries, internal networks
//
//  2. Detection:
//     - Models: Per-family hyperparameters and the scoring deadline
//     - Ensemble: Fusion mode, weights, disagreement threshold
//     - Calibration: Threshold quantile and reservoir sizing
//     - Alerting: Cool-down, severity margins, webhook delivery, WAL
//
//  3. Infrastructure:
//     - NATS: Event transport with Watermill/NATS JetStream
//     - Database: DuckDB configuration (path, memory, batching)
//     - Server: HTTP server configuration (port, host, timeout)
//     - API: Pagination, rate limiting, response caching
//
//  4. Observability:
//     - Logging: Log levels and output formats
//
// Example - Load configuration from environment:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal("Failed to load config:", err)
//	}
//	// cfg.Session.IdleTimeout, cfg.Database.Path, etc. are now populated
//
// Thread Safety:
// Config is immutable after Load() and safe for concurrent read access from multiple goroutines.
type Config struct {
	Ingest      IngestConfig      `koanf:"ingest"`
	Session     SessionConfig     `koanf:"session"`
	Features    FeaturesConfig    `koanf:"features"`
	Models      ModelsConfig      `koanf:"models"`
	Ensemble    EnsembleConfig    `koanf:"ensemble"`
	Calibration CalibrationConfig `koanf:"calibration"`
	Alerting    AlertingConfig    `koanf:"alerting"`
	NATS        NATSConfig        `koanf:"nats"`
	Database    DatabaseConfig    `koanf:"database"`
	Server      ServerConfig      `koanf:"server"`
	API         APIConfig         `koanf:"api"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// IngestConfig holds normalizer settings.
//
// The deduplication window drops exact re-deliveries: two records with the same
// (session_id, timestamp, action, resource) content hash arriving within the
// window are treated as one. Sized for at-least-once transports that redeliver
// within seconds, not as a long-horizon dedup store.
//
// Environment Variables:
//   - VIGILO_INGEST_DEDUP_WINDOW: Max content hashes held (default: 8192)
//   - VIGILO_INGEST_DEDUP_TTL: How long a hash suppresses duplicates (default: 5m)
//   - VIGILO_INGEST_MAX_RECORD_BYTES: Reject raw records larger than this (default: 65536)
type IngestConfig struct {
	DedupWindow    int           `koanf:"dedup_window"`
	DedupTTL       time.Duration `koanf:"dedup_ttl"`
	MaxRecordBytes int           `koanf:"max_record_bytes"`
}

// SessionConfig holds session tracker settings.
//
// Sessions close four ways: an explicit termination action arrives, the idle
// timeout elapses with no new events, the event buffer hits MaxEvents, or the
// pipeline drains on shutdown. Closed sessions flow to feature extraction
// regardless of close reason.
//
// Environment Variables:
//   - VIGILO_SESSION_IDLE_TIMEOUT: Close sessions idle longer than this (default: 30m)
//   - VIGILO_SESSION_MAX_EVENTS: Flush a session at this many events (default: 1000)
//   - VIGILO_SESSION_MAX_OPEN: Hard cap on concurrently open sessions (default: 100000)
//   - VIGILO_SESSION_SHARDS: Hash partitions; one goroutine owns each (default: 16)
//   - VIGILO_SESSION_SWEEP_INTERVAL: Idle scan cadence (default: 30s)
//   - VIGILO_SESSION_TERMINATION_ACTIONS: Actions that close a session (default: logout,session_end)
type SessionConfig struct {
	IdleTimeout        time.Duration `koanf:"idle_timeout"`
	MaxEvents          int           `koanf:"max_events"`
	MaxOpen            int           `koanf:"max_open"`
	Shards             int           `koanf:"shards"`
	SweepInterval      time.Duration `koanf:"sweep_interval"`
	TerminationActions []string      `koanf:"termination_actions"`
}

// FeaturesConfig holds feature extraction settings.
//
// Off-hours are the interval [OffHoursStart, 24) union [0, OffHoursEnd) in the
// event's UTC hour. InternalCIDRs decide the internal_ratio feature:
// destination addresses outside every listed network count as external.
// SubWindowEvents controls how sessions are chunked into the per-window mini
// vectors consumed by the sequence model.
//
// Environment Variables:
//   - VIGILO_FEATURES_BURST_WINDOW: Trailing window for burst detection (default: 60s)
//   - VIGILO_FEATURES_BURST_THRESHOLD: Events within the window that count as a burst (default: 10)
//   - VIGILO_FEATURES_OFFHOURS_START: First off-hours hour, inclusive (default: 22)
//   - VIGILO_FEATURES_OFFHOURS_END: First on-hours hour of the morning (default: 6)
//   - VIGILO_FEATURES_INTERNAL_CIDRS: Networks considered internal (default: RFC 1918)
//   - VIGILO_FEATURES_BASELINE_ALPHA: EWMA weight for per-user hour baselines (default: 0.3)
//   - VIGILO_FEATURES_SUB_WINDOW_EVENTS: Events per sequence sub-window (default: 10)
type FeaturesConfig struct {
	BurstWindow     time.Duration `koanf:"burst_window"`
	BurstThreshold  int           `koanf:"burst_threshold"`
	OffHoursStart   int           `koanf:"offhours_start"`
	OffHoursEnd     int           `koanf:"offhours_end"`
	InternalCIDRs   []string      `koanf:"internal_cidrs"`
	BaselineAlpha   float64       `koanf:"baseline_alpha"`
	SubWindowEvents int           `koanf:"sub_window_events"`
}

// ModelsConfig holds the model registry and per-family hyperparameters.
//
// Enabled lists which detector families participate in scoring. Models not
// listed are never constructed. ScoreTimeout bounds a single Score call; a
// model that exceeds it contributes a degraded (excluded) score for that
// session rather than stalling the verdict.
//
// Environment Variables:
//   - VIGILO_MODELS_ENABLED: Families to run (default: iforest,recon,ocsvm,seqmarkov)
//   - VIGILO_MODELS_SCORE_TIMEOUT: Per-model scoring deadline (default: 2s)
//   - VIGILO_MODELS_STATE_DIR: Directory for persisted model state (default: /data/models)
//   - VIGILO_MODELS_MIN_FIT_SAMPLES: Refuse to train below this many vectors (default: 20)
type ModelsConfig struct {
	Enabled       []string        `koanf:"enabled"`
	ScoreTimeout  time.Duration   `koanf:"score_timeout"`
	StateDir      string          `koanf:"state_dir"`
	MinFitSamples int             `koanf:"min_fit_samples"`
	ScoreNorm     string          `koanf:"score_norm"` // Raw-score normalization: minmax or quantile (default: quantile)
	IForest       IForestConfig   `koanf:"iforest"`
	Recon         ReconConfig     `koanf:"recon"`
	OCSVM         OCSVMConfig     `koanf:"ocsvm"`
	SeqMarkov     SeqMarkovConfig `koanf:"seqmarkov"`
}

// IForestConfig holds isolation forest hyperparameters.
type IForestConfig struct {
	Trees      int   `koanf:"trees"`       // Number of isolation trees (default: 100)
	SampleSize int   `koanf:"sample_size"` // Subsample per tree (default: 256)
	Seed       int64 `koanf:"seed"`        // RNG seed for reproducible forests (default: 42)
}

// ReconConfig holds reconstruction model hyperparameters.
type ReconConfig struct {
	HiddenUnits  int     `koanf:"hidden_units"`  // Bottleneck width (default: 8)
	Epochs       int     `koanf:"epochs"`        // Training passes over the data (default: 50)
	LearningRate float64 `koanf:"learning_rate"` // SGD step size (default: 0.01)
	Seed         int64   `koanf:"seed"`          // RNG seed for weight init (default: 42)
}

// OCSVMConfig holds one-class SVM hyperparameters.
type OCSVMConfig struct {
	Nu      float64 `koanf:"nu"`       // Upper bound on training outlier fraction (default: 0.1)
	Gamma   float64 `koanf:"gamma"`    // RBF kernel width (default: 0.5)
	Tol     float64 `koanf:"tol"`      // Optimization convergence tolerance (default: 0.001)
	MaxIter int     `koanf:"max_iter"` // Optimization iteration cap (default: 1000)
}

// SeqMarkovConfig holds sequence model hyperparameters.
type SeqMarkovConfig struct {
	Window int `koanf:"window"` // Sub-windows scored per transition sequence (default: 10)
}

// EnsembleConfig holds score fusion settings.
//
// Weights maps model ID to fusion weight. An empty map means equal weights.
// When a model degrades for a session, its weight is dropped and the rest are
// renormalized over the contributors, so the fused score stays a weighted mean
// of what actually ran. Weights are YAML-only; there is no env mapping for
// map-valued settings.
//
// Environment Variables:
//   - VIGILO_ENSEMBLE_MODE: "weighted_mean" or "max" (default: weighted_mean)
//   - VIGILO_ENSEMBLE_DISAGREEMENT_STDDEV: Flag verdicts whose contributing
//     scores have a population standard deviation above this (default: 0.3)
type EnsembleConfig struct {
	Mode               string             `koanf:"mode"`
	Weights            map[string]float64 `koanf:"weights"`
	DisagreementStdDev float64            `koanf:"disagreement_stddev"`
}

// CalibrationConfig holds threshold calibration settings.
//
// The calibrator keeps the last Window fused scores, bins them into Bins
// equal-width buckets on [0,1], and republishes the Quantile cut as the alert
// threshold every Interval once MinSamples scores have been seen. Until then
// the pipeline is uncalibrated and never alerts.
//
// Environment Variables:
//   - VIGILO_CALIBRATION_QUANTILE: Score quantile published as threshold (default: 0.95)
//   - VIGILO_CALIBRATION_MIN_SAMPLES: Scores required before first publish (default: 100)
//   - VIGILO_CALIBRATION_WINDOW: Sliding score reservoir size (default: 10000)
//   - VIGILO_CALIBRATION_BINS: Histogram resolution for quantile lookup (default: 1000)
//   - VIGILO_CALIBRATION_INTERVAL: Recalibration cadence (default: 1m)
type CalibrationConfig struct {
	Quantile   float64       `koanf:"quantile"`
	MinSamples int           `koanf:"min_samples"`
	Window     int           `koanf:"window"`
	Bins       int           `koanf:"bins"`
	Interval   time.Duration `koanf:"interval"`
}

// AlertingConfig holds alert construction and delivery settings.
//
// Severity is margin-based: critical when the fused score clears the threshold
// by CriticalMargin or more, warning at WarningMargin, info otherwise. The
// cool-down suppresses repeat alerts for a session unless severity increased.
//
// Environment Variables:
//   - VIGILO_ALERTING_COOLDOWN: Per-session repeat suppression window (default: 10m)
//   - VIGILO_ALERTING_WARNING_MARGIN: Margin over threshold for warning (default: 0.05)
//   - VIGILO_ALERTING_CRITICAL_MARGIN: Margin over threshold for critical (default: 0.15)
type AlertingConfig struct {
	Cooldown       time.Duration `koanf:"cooldown"`
	WarningMargin  float64       `koanf:"warning_margin"`
	CriticalMargin float64       `koanf:"critical_margin"`
	Webhook        WebhookConfig `koanf:"webhook"`
	WAL            WALConfig     `koanf:"wal"`
}

// WebhookConfig holds outbound alert delivery settings.
//
// An empty URL disables delivery; alerts are still logged and stored. Retries
// use exponential backoff with jitter between RetryBase and RetryMax. Headers
// are sent verbatim on every request and are YAML-only (for bearer tokens and
// the like).
//
// Environment Variables:
//   - VIGILO_ALERTING_WEBHOOK_URL: Delivery endpoint; empty = log-only (default: "")
//   - VIGILO_ALERTING_WEBHOOK_TIMEOUT: Per-attempt HTTP timeout (default: 10s)
//   - VIGILO_ALERTING_WEBHOOK_MAX_RETRIES: Attempts after the first failure (default: 5)
//   - VIGILO_ALERTING_WEBHOOK_RETRY_BASE: Initial backoff (default: 500ms)
//   - VIGILO_ALERTING_WEBHOOK_RETRY_MAX: Backoff ceiling (default: 30s)
//   - VIGILO_ALERTING_WEBHOOK_RATE_PER_MINUTE: Outbound request ceiling (default: 60)
type WebhookConfig struct {
	URL           string            `koanf:"url"`
	Timeout       time.Duration     `koanf:"timeout"`
	MaxRetries    int               `koanf:"max_retries"`
	RetryBase     time.Duration     `koanf:"retry_base"`
	RetryMax      time.Duration     `koanf:"retry_max"`
	RatePerMinute int               `koanf:"rate_per_minute"`
	Headers       map[string]string `koanf:"headers"`
}

// WALConfig holds the undelivered-alert write-ahead log settings.
//
// Alerts that exhaust their retries are parked in a Badger store and replayed
// every ReplayInterval until delivered or older than Retention.
//
// Environment Variables:
//   - VIGILO_ALERTING_WAL_DIR: Badger directory (default: /data/wal)
//   - VIGILO_ALERTING_WAL_RETENTION: Drop parked alerts older than this (default: 24h)
//   - VIGILO_ALERTING_WAL_REPLAY_INTERVAL: Replay scan cadence (default: 1m)
type WALConfig struct {
	Dir            string        `koanf:"dir"`
	Retention      time.Duration `koanf:"retention"`
	ReplayInterval time.Duration `koanf:"replay_interval"`
}

// NATSConfig holds event transport settings for Watermill over NATS JetStream.
//
// With EmbeddedServer enabled the process runs its own JetStream-enabled NATS
// server and connects to it over the loopback URL; point URL at an external
// cluster and disable the embedded server for multi-node deployments. When
// Enabled is false the pipeline falls back to an in-process Pub/Sub, which is
// also what the tests use.
//
// Environment Variables:
//   - VIGILO_NATS_ENABLED: Use NATS transport (default: true)
//   - VIGILO_NATS_URL: Server URL (default: nats://127.0.0.1:4222)
//   - VIGILO_NATS_EMBEDDED: Run the embedded server (default: true)
//   - VIGILO_NATS_STORE_DIR: JetStream storage directory (default: /data/nats/jetstream)
//   - VIGILO_NATS_SUBSCRIBERS: Parallel consumers per topic (default: 4)
type NATSConfig struct {
	Enabled             bool          `koanf:"enabled"`
	URL                 string        `koanf:"url"`
	EmbeddedServer      bool          `koanf:"embedded_server"`
	StoreDir            string        `koanf:"store_dir"`
	MaxMemory           int64         `koanf:"max_memory"`
	MaxStore            int64         `koanf:"max_store"`
	StreamRetentionDays int           `koanf:"stream_retention_days"`
	SubscribersCount    int           `koanf:"subscribers_count"`
	DurableName         string        `koanf:"durable_name"`
	QueueGroup          string        `koanf:"queue_group"`
	EventsTopic         string        `koanf:"events_topic"`
	AlertsTopic         string        `koanf:"alerts_topic"`
	VerdictsTopic       string        `koanf:"verdicts_topic"`
	// Router settings (Watermill Router middleware)
	RouterRetryCount           int           `koanf:"router_retry_count"`
	RouterRetryInitialInterval time.Duration `koanf:"router_retry_initial_interval"`
	RouterPoisonQueueEnabled   bool          `koanf:"router_poison_queue_enabled"`
	RouterPoisonQueueTopic     string        `koanf:"router_poison_queue_topic"`
	RouterCloseTimeout         time.Duration `koanf:"router_close_timeout"`
}

// DatabaseConfig holds DuckDB settings for the verdict and alert store.
//
// The store is an audit surface, not a pipeline dependency: when the database
// is disabled or unavailable the pipeline keeps scoring and alerting and only
// the history endpoints degrade.
//
// Environment Variables:
//   - VIGILO_DATABASE_ENABLED: Persist events, verdicts, alerts (default: true)
//   - VIGILO_DATABASE_PATH: DuckDB file path (default: /data/vigilo.duckdb)
//   - VIGILO_DATABASE_BATCH_SIZE: Rows per batched insert (default: 500)
//   - VIGILO_DATABASE_FLUSH_INTERVAL: Max buffering delay (default: 5s)
//   - VIGILO_DATABASE_RETENTION_DAYS: Prune rows older than this (default: 30)
type DatabaseConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Path          string        `koanf:"path"`
	MaxMemory     string        `koanf:"max_memory"`
	Threads       int           `koanf:"threads"` // 0 = use runtime.NumCPU()
	BatchSize     int           `koanf:"batch_size"`
	FlushInterval time.Duration `koanf:"flush_interval"`
	RetentionDays int           `koanf:"retention_days"`
}

// ServerConfig holds HTTP server settings for the ops API.
type ServerConfig struct {
	Port        int           `koanf:"port"`
	Host        string        `koanf:"host"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"` // "development" or "production"
}

// APIConfig holds pagination, rate limiting, and response cache settings.
type APIConfig struct {
	DefaultPageSize   int           `koanf:"default_page_size"`
	MaxPageSize       int           `koanf:"max_page_size"`
	CacheTTL          time.Duration `koanf:"cache_ttl"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // trace, debug, info, warn, error
	Format string `koanf:"format"` // json, console
	Caller bool   `koanf:"caller"` // annotate entries with file:line
}

// Load loads configuration with layered precedence: defaults, then an optional
// YAML file, then VIGILO_-prefixed environment variables. The result has been
// validated.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
