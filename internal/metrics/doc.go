// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

/*
Package metrics provides Prometheus metrics collection and export for observability.

All collectors are registered with the default registry via promauto at package
load. Components record through the exported Record* / Update* helpers rather than
touching collectors directly, which keeps label sets consistent at call sites.

# Overview

The package instruments every pipeline stage:

  - Ingest: accepted records by format, rejections by reason, dedup drops
  - Sessions: open gauge, closures by reason, out-of-order insertions
  - Features: vectors built, extraction latency
  - Models: per-model score latency, errors by reason, timeouts, fit runs, versions
  - Ensemble: verdicts by decision, fused score distribution, disagreements,
    degraded scores
  - Calibration: published threshold, reservoir size, recalibration count
  - Alerting: dispatches by severity, cool-down suppressions, retries,
    undelivered parks, WAL depth
  - Plumbing: broker publishes/consumes, DuckDB query latency, API requests,
    circuit breaker states, WebSocket connections, cache hit rates

# Metrics Endpoint

Metrics are exposed at the /metrics endpoint in Prometheus text format:

	curl http://localhost:8472/metrics

# Usage Example

Recording a scoring call from the ensemble:

	start := time.Now()
	score, err := m.Score(ctx, vec)
	if err != nil {
	    metrics.RecordModelScoreError(m.ID(), "timeout")
	} else {
	    metrics.RecordModelScore(m.ID(), time.Since(start))
	}

Example PromQL queries:

	# Ingest rate by format
	rate(ingest_events_total[5m])

	# p95 scoring latency per model
	histogram_quantile(0.95, rate(model_score_duration_seconds_bucket[5m]))

	# Alert rate by severity
	rate(alerts_dispatched_total[5m])

	# Fraction of verdicts flagged for disagreement
	rate(ensemble_disagreements_total[5m]) / rate(ensemble_verdicts_total[5m])

# Cardinality Management

Label values are drawn from small fixed sets: model IDs (4), close reasons (4),
decisions (3), severities (3), rejection reasons (5). API endpoint labels are
chi route patterns, never raw paths. User and session IDs are never used as
labels.

# Thread Safety

All recording functions are safe for concurrent use from multiple goroutines.
The Prometheus client library handles synchronization internally.
*/
package metrics
