// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus Metrics Integration for Production Observability
// This package provides comprehensive instrumentation for:
// - Ingest throughput and rejection rates (normalizer)
// - Session lifecycle (tracker)
// - Model scoring latency and degradation (ensemble)
// - Threshold calibration state
// - Alert dispatch outcomes and WAL depth
// - Database, broker, API, and WebSocket plumbing

var (
	// Ingest Metrics
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_total",
			Help: "Total number of raw records accepted by the normalizer",
		},
		[]string{"format"}, // "json", "syslog", "kv"
	)

	EventsMalformed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_malformed_total",
			Help: "Total number of raw records rejected as malformed",
		},
		[]string{"reason"}, // "missing_field", "bad_timestamp", "bad_status", "negative_bytes", "unparseable"
	)

	EventsDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_duplicates_total",
			Help: "Total number of records dropped by the deduplication window",
		},
	)

	// Session Metrics
	SessionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessions_open",
			Help: "Current number of open sessions across all shards",
		},
	)

	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessions_closed_total",
			Help: "Total number of sessions closed",
		},
		[]string{"reason"}, // "terminated", "idle_timeout", "capacity", "drain"
	)

	SessionLateEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "session_late_events_total",
			Help: "Total number of events inserted out of arrival order",
		},
	)

	SessionEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "session_events_dropped_total",
			Help: "Total number of events dropped because the tracker was at its open-session cap",
		},
	)

	// Feature Metrics
	FeatureVectorsBuilt = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feature_vectors_built_total",
			Help: "Total number of feature vectors extracted from closed sessions",
		},
	)

	FeatureExtractionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feature_extraction_duration_seconds",
			Help:    "Duration of per-session feature extraction in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)

	// Model Metrics
	ModelScoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "model_score_duration_seconds",
			Help:    "Duration of a single model scoring call in seconds",
			Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		},
		[]string{"model"},
	)

	ModelScoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_score_errors_total",
			Help: "Total number of failed model scoring calls",
		},
		[]string{"model", "reason"}, // "not_ready", "timeout", "schema_mismatch", "error"
	)

	ModelTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_timeouts_total",
			Help: "Total number of model scoring calls cut off by the per-model deadline",
		},
		[]string{"model"},
	)

	ModelFitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "model_fit_duration_seconds",
			Help:    "Duration of model training in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
		[]string{"model"},
	)

	ModelFitSamples = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "model_fit_samples",
			Help:    "Number of feature vectors per training run",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 5000, 10000},
		},
	)

	ModelVersion = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "model_version",
			Help: "Current fitted version of each model (0 = never fitted)",
		},
		[]string{"model"},
	)

	// Ensemble Metrics
	VerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ensemble_verdicts_total",
			Help: "Total number of verdicts produced",
		},
		[]string{"decision"}, // "alert", "no_alert", "uncalibrated"
	)

	FusedScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ensemble_fused_score",
			Help:    "Distribution of fused anomaly scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
	)

	Disagreements = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ensemble_disagreements_total",
			Help: "Total number of verdicts flagged for high model disagreement",
		},
	)

	DegradedScores = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ensemble_degraded_scores_total",
			Help: "Total number of per-model scores excluded from fusion",
		},
		[]string{"model", "reason"},
	)

	// Calibration Metrics
	CalibrationThreshold = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "calibration_threshold",
			Help: "Currently published alert threshold (0 when uncalibrated)",
		},
	)

	CalibrationSamples = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "calibration_samples",
			Help: "Number of scores in the calibration reservoir",
		},
	)

	Recalibrations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "calibration_recalibrations_total",
			Help: "Total number of published threshold updates",
		},
	)

	// Alerting Metrics
	AlertsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_dispatched_total",
			Help: "Total number of alerts handed to delivery",
		},
		[]string{"severity"}, // "info", "warning", "critical"
	)

	AlertsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alerts_suppressed_total",
			Help: "Total number of alerts suppressed by the cool-down window",
		},
	)

	AlertsUndelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alerts_undelivered_total",
			Help: "Total number of alerts parked as undelivered after retry exhaustion",
		},
	)

	AlertDeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "alert_delivery_duration_seconds",
			Help:    "Duration of webhook delivery attempts in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	AlertRetryAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alert_retry_attempts_total",
			Help: "Total number of alert delivery retries",
		},
	)

	// Write-Ahead Log Metrics
	WALDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wal_depth",
			Help: "Current number of undelivered alerts parked in the WAL",
		},
	)

	WALReplayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wal_replayed_total",
			Help: "Total number of parked alerts replayed from the WAL",
		},
	)

	WALExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wal_expired_total",
			Help: "Total number of parked alerts dropped after exceeding their retention",
		},
	)

	// Broker Metrics
	BrokerMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_published_total",
			Help: "Total number of messages published to the broker",
		},
		[]string{"topic"},
	)

	BrokerMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_consumed_total",
			Help: "Total number of messages consumed from the broker",
		},
		[]string{"topic"},
	)

	BrokerPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_publish_errors_total",
			Help: "Total number of failed broker publishes",
		},
		[]string{"topic"},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets, // 0.005s, 0.01s, 0.025s, 0.05s, 0.1s, 0.25s, 0.5s, 1s, 2.5s, 5s, 10s
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table", "error_type"},
	)

	DBBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "duckdb_batch_size",
			Help:    "Number of rows per batched insert",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}, // Optimized for API latency
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// WebSocket Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent",
		},
	)

	WSErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_errors_total",
			Help: "Total number of WebSocket errors",
		},
		[]string{"error_type"},
	)

	// Cache Metrics (General)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"}, // "api_response", "dedup"
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Current number of cached entries",
		},
		[]string{"cache_type"},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordEventIngested records one accepted record by input format
func RecordEventIngested(format string) {
	EventsIngested.WithLabelValues(format).Inc()
}

// RecordEventMalformed records one rejected record by rejection reason
func RecordEventMalformed(reason string) {
	EventsMalformed.WithLabelValues(reason).Inc()
}

// RecordEventDuplicate records one record dropped by the dedup window
func RecordEventDuplicate() {
	EventsDuplicate.Inc()
}

// RecordSessionClosed records a session closure and its reason
func RecordSessionClosed(reason string) {
	SessionsClosed.WithLabelValues(reason).Inc()
}

// UpdateOpenSessions sets the open session gauge
func UpdateOpenSessions(count int64) {
	SessionsOpen.Set(float64(count))
}

// RecordFeatureExtraction records one completed feature extraction
func RecordFeatureExtraction(duration time.Duration) {
	FeatureVectorsBuilt.Inc()
	FeatureExtractionDuration.Observe(duration.Seconds())
}

// RecordModelScore records the latency of a successful scoring call
func RecordModelScore(model string, duration time.Duration) {
	ModelScoreDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordModelScoreError records a failed scoring call by reason
func RecordModelScoreError(model, reason string) {
	ModelScoreErrors.WithLabelValues(model, reason).Inc()
	if reason == "timeout" {
		ModelTimeouts.WithLabelValues(model).Inc()
	}
}

// RecordModelFit records a completed training run
func RecordModelFit(model string, duration time.Duration, samples int) {
	ModelFitDuration.WithLabelValues(model).Observe(duration.Seconds())
	ModelFitSamples.Observe(float64(samples))
}

// SetModelVersion publishes the fitted version of a model
func SetModelVersion(model string, version int) {
	ModelVersion.WithLabelValues(model).Set(float64(version))
}

// RecordVerdict records one ensemble verdict
func RecordVerdict(decision string, fusedScore float64, disagreement bool) {
	VerdictsTotal.WithLabelValues(decision).Inc()
	FusedScores.Observe(fusedScore)
	if disagreement {
		Disagreements.Inc()
	}
}

// RecordDegradedScore records a model score excluded from fusion
func RecordDegradedScore(model, reason string) {
	DegradedScores.WithLabelValues(model, reason).Inc()
}

// PublishThreshold records a recalibration and its published values
func PublishThreshold(threshold float64, samples int) {
	CalibrationThreshold.Set(threshold)
	CalibrationSamples.Set(float64(samples))
	Recalibrations.Inc()
}

// RecordAlertDispatched records a delivered alert by severity
func RecordAlertDispatched(severity string, duration time.Duration) {
	AlertsDispatched.WithLabelValues(severity).Inc()
	AlertDeliveryDuration.Observe(duration.Seconds())
}

// RecordAlertSuppressed records an alert suppressed by the cool-down window
func RecordAlertSuppressed() {
	AlertsSuppressed.Inc()
}

// RecordAlertUndelivered records an alert parked after retry exhaustion
func RecordAlertUndelivered() {
	AlertsUndelivered.Inc()
}

// RecordAlertRetry records one delivery retry attempt
func RecordAlertRetry() {
	AlertRetryAttempts.Inc()
}

// UpdateWALDepth sets the undelivered alert gauge
func UpdateWALDepth(depth int64) {
	WALDepth.Set(float64(depth))
}

// RecordWALReplayed records a parked alert replayed for delivery
func RecordWALReplayed() {
	WALReplayed.Inc()
}

// RecordWALExpired records a parked alert dropped by retention
func RecordWALExpired() {
	WALExpired.Inc()
}

// RecordBrokerPublish records a broker publish and its outcome
func RecordBrokerPublish(topic string, err error) {
	if err != nil {
		BrokerPublishErrors.WithLabelValues(topic).Inc()
		return
	}
	BrokerMessagesPublished.WithLabelValues(topic).Inc()
}

// RecordBrokerConsume records a consumed broker message
func RecordBrokerConsume(topic string) {
	BrokerMessagesConsumed.WithLabelValues(topic).Inc()
}

// RecordDBQuery records a database query metric
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		errorType := err.Error()
		// Truncate long error messages
		if len(errorType) > 50 {
			errorType = errorType[:50]
		}
		DBQueryErrors.WithLabelValues(operation, table, errorType).Inc()
	}
}

// RecordDBBatch records the size of a batched insert
func RecordDBBatch(rows int) {
	DBBatchSize.Observe(float64(rows))
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
