// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package metrics

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestRecordEventIngested tests ingest metric recording per format
func TestRecordEventIngested(t *testing.T) {
	formats := []string{"json", "syslog", "kv"}

	for _, format := range formats {
		t.Run("format_"+format, func(t *testing.T) {
			RecordEventIngested(format)
		})
	}
}

// TestRecordEventMalformed tests rejection metric recording per reason
func TestRecordEventMalformed(t *testing.T) {
	reasons := []string{"missing_field", "bad_timestamp", "bad_status", "negative_bytes", "unparseable"}

	for _, reason := range reasons {
		t.Run("reason_"+reason, func(t *testing.T) {
			RecordEventMalformed(reason)
		})
	}
}

// TestRecordSessionClosed tests session closure recording for every reason
func TestRecordSessionClosed(t *testing.T) {
	reasons := []string{"terminated", "idle_timeout", "capacity", "drain"}

	for _, reason := range reasons {
		t.Run("reason_"+reason, func(t *testing.T) {
			RecordSessionClosed(reason)
		})
	}
}

// TestUpdateOpenSessions tests the open session gauge
func TestUpdateOpenSessions(t *testing.T) {
	counts := []int64{0, 10, 100, 5, 0}

	for _, count := range counts {
		UpdateOpenSessions(count)
	}

	UpdateOpenSessions(42)
	if got := testutil.ToFloat64(SessionsOpen); got != 42 {
		t.Errorf("Expected sessions_open gauge 42, got %v", got)
	}
}

// TestRecordModelScore tests per-model latency recording
func TestRecordModelScore(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		duration time.Duration
	}{
		{"fast iforest score", "iforest", 500 * time.Microsecond},
		{"recon score", "recon", 2 * time.Millisecond},
		{"slow ocsvm score", "ocsvm", 150 * time.Millisecond},
		{"seqmarkov score", "seqmarkov", 1 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordModelScore(tt.model, tt.duration)
		})
	}
}

// TestRecordModelScoreError_TimeoutAlsoCountsTimeout verifies the timeout
// reason increments both the error counter and the timeout counter
func TestRecordModelScoreError_TimeoutAlsoCountsTimeout(t *testing.T) {
	before := testutil.ToFloat64(ModelTimeouts.WithLabelValues("ocsvm"))

	RecordModelScoreError("ocsvm", "timeout")

	after := testutil.ToFloat64(ModelTimeouts.WithLabelValues("ocsvm"))
	if after != before+1 {
		t.Errorf("Expected timeout counter to increment from %v, got %v", before, after)
	}
}

// TestRecordModelScoreError_NonTimeout verifies non-timeout reasons leave
// the timeout counter untouched
func TestRecordModelScoreError_NonTimeout(t *testing.T) {
	before := testutil.ToFloat64(ModelTimeouts.WithLabelValues("recon"))

	RecordModelScoreError("recon", "not_ready")
	RecordModelScoreError("recon", "schema_mismatch")
	RecordModelScoreError("recon", "error")

	after := testutil.ToFloat64(ModelTimeouts.WithLabelValues("recon"))
	if after != before {
		t.Errorf("Expected timeout counter unchanged at %v, got %v", before, after)
	}
}

// TestRecordVerdict tests verdict recording across decisions
func TestRecordVerdict(t *testing.T) {
	tests := []struct {
		name         string
		decision     string
		fusedScore   float64
		disagreement bool
	}{
		{"alert verdict", "alert", 0.91, false},
		{"no alert verdict", "no_alert", 0.12, false},
		{"uncalibrated verdict", "uncalibrated", 0.55, false},
		{"disagreement flagged", "alert", 0.617, true},
		{"boundary score zero", "no_alert", 0.0, false},
		{"boundary score one", "alert", 1.0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordVerdict(tt.decision, tt.fusedScore, tt.disagreement)
		})
	}
}

// TestRecordVerdict_DisagreementCounter verifies only flagged verdicts
// increment the disagreement counter
func TestRecordVerdict_DisagreementCounter(t *testing.T) {
	before := testutil.ToFloat64(Disagreements)

	RecordVerdict("alert", 0.8, false)
	RecordVerdict("alert", 0.8, true)
	RecordVerdict("no_alert", 0.2, false)

	after := testutil.ToFloat64(Disagreements)
	if after != before+1 {
		t.Errorf("Expected disagreement counter to increment by 1 from %v, got %v", before, after)
	}
}

// TestPublishThreshold tests calibration gauge publication
func TestPublishThreshold(t *testing.T) {
	PublishThreshold(0.87, 500)

	if got := testutil.ToFloat64(CalibrationThreshold); got != 0.87 {
		t.Errorf("Expected calibration_threshold 0.87, got %v", got)
	}
	if got := testutil.ToFloat64(CalibrationSamples); got != 500 {
		t.Errorf("Expected calibration_samples 500, got %v", got)
	}

	// Republishing overwrites the gauges
	PublishThreshold(0.91, 1000)
	if got := testutil.ToFloat64(CalibrationThreshold); got != 0.91 {
		t.Errorf("Expected calibration_threshold 0.91 after republish, got %v", got)
	}
}

// TestAlertingMetrics tests alert outcome recording
func TestAlertingMetrics(t *testing.T) {
	severities := []string{"info", "warning", "critical"}

	for _, severity := range severities {
		t.Run("severity_"+severity, func(t *testing.T) {
			RecordAlertDispatched(severity, 50*time.Millisecond)
		})
	}

	RecordAlertSuppressed()
	RecordAlertUndelivered()
	RecordAlertRetry()
}

// TestWALMetrics tests WAL gauge and counter updates
func TestWALMetrics(t *testing.T) {
	depths := []int64{0, 5, 50, 3, 0}

	for _, depth := range depths {
		UpdateWALDepth(depth)
	}

	RecordWALReplayed()
	RecordWALExpired()

	UpdateWALDepth(7)
	if got := testutil.ToFloat64(WALDepth); got != 7 {
		t.Errorf("Expected wal_depth 7, got %v", got)
	}
}

// TestRecordBrokerPublish tests broker publish outcome routing
func TestRecordBrokerPublish(t *testing.T) {
	topic := "vigilo.events.raw"

	okBefore := testutil.ToFloat64(BrokerMessagesPublished.WithLabelValues(topic))
	errBefore := testutil.ToFloat64(BrokerPublishErrors.WithLabelValues(topic))

	RecordBrokerPublish(topic, nil)
	RecordBrokerPublish(topic, errors.New("nats: connection closed"))

	okAfter := testutil.ToFloat64(BrokerMessagesPublished.WithLabelValues(topic))
	errAfter := testutil.ToFloat64(BrokerPublishErrors.WithLabelValues(topic))

	if okAfter != okBefore+1 {
		t.Errorf("Expected publish counter +1 from %v, got %v", okBefore, okAfter)
	}
	if errAfter != errBefore+1 {
		t.Errorf("Expected publish error counter +1 from %v, got %v", errBefore, errAfter)
	}
}

// TestRecordDBQuery tests database query metric recording
func TestRecordDBQuery(t *testing.T) {
	tests := []struct {
		name      string
		operation string
		table     string
		duration  time.Duration
		err       error
	}{
		{
			name:      "successful SELECT query",
			operation: "SELECT",
			table:     "verdicts",
			duration:  10 * time.Millisecond,
			err:       nil,
		},
		{
			name:      "successful batched INSERT",
			operation: "INSERT",
			table:     "session_events",
			duration:  5 * time.Millisecond,
			err:       nil,
		},
		{
			name:      "failed query with short error",
			operation: "INSERT",
			table:     "alerts",
			duration:  100 * time.Millisecond,
			err:       errors.New("connection refused"),
		},
		{
			name:      "failed query with long error - should truncate to 50 chars",
			operation: "SELECT",
			table:     "score_history",
			duration:  50 * time.Millisecond,
			err:       errors.New("this is a very long error message that exceeds fifty characters and should be truncated properly"),
		},
		{
			name:      "fast query under 1ms",
			operation: "SELECT",
			table:     "alerts",
			duration:  500 * time.Microsecond,
			err:       nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Record the query - should not panic
			RecordDBQuery(tt.operation, tt.table, tt.duration, tt.err)
		})
	}
}

// TestRecordDBQuery_ErrorTruncation verifies error messages are truncated at 50 chars
func TestRecordDBQuery_ErrorTruncation(t *testing.T) {
	// Error with exactly 50 characters
	err50 := errors.New(strings.Repeat("a", 50))
	RecordDBQuery("SELECT", "test", time.Millisecond, err50)

	// Error with 51 characters - should truncate
	err51 := errors.New(strings.Repeat("b", 51))
	RecordDBQuery("SELECT", "test", time.Millisecond, err51)

	// Error with 100 characters - should truncate
	err100 := errors.New(strings.Repeat("c", 100))
	RecordDBQuery("SELECT", "test", time.Millisecond, err100)
}

// TestRecordAPIRequest tests API request metric recording
func TestRecordAPIRequest(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		endpoint   string
		statusCode string
		duration   time.Duration
	}{
		{
			name:       "successful health check",
			method:     "GET",
			endpoint:   "/api/v1/health",
			statusCode: "200",
			duration:   2 * time.Millisecond,
		},
		{
			name:       "successful alert listing",
			method:     "GET",
			endpoint:   "/api/v1/alerts",
			statusCode: "200",
			duration:   25 * time.Millisecond,
		},
		{
			name:       "fit trigger accepted",
			method:     "POST",
			endpoint:   "/api/v1/models/fit",
			statusCode: "202",
			duration:   5 * time.Millisecond,
		},
		{
			name:       "not found request",
			method:     "GET",
			endpoint:   "/api/v1/unknown",
			statusCode: "404",
			duration:   2 * time.Millisecond,
		},
		{
			name:       "rate limited request",
			method:     "GET",
			endpoint:   "/api/v1/verdicts",
			statusCode: "429",
			duration:   1 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordAPIRequest(tt.method, tt.endpoint, tt.statusCode, tt.duration)
		})
	}
}

// TestTrackActiveRequest_RequestLifecycle simulates realistic request lifecycle
func TestTrackActiveRequest_RequestLifecycle(t *testing.T) {
	// Simulate multiple concurrent requests
	for i := 0; i < 10; i++ {
		TrackActiveRequest(true) // Request starts
	}

	// Some requests complete
	for i := 0; i < 5; i++ {
		TrackActiveRequest(false) // Request ends
	}

	// More requests start
	for i := 0; i < 3; i++ {
		TrackActiveRequest(true)
	}

	// All remaining complete
	for i := 0; i < 8; i++ {
		TrackActiveRequest(false)
	}
}

// TestCircuitBreakerMetrics tests circuit breaker metric recording
func TestCircuitBreakerMetrics(t *testing.T) {
	cbName := "alert_webhook"

	// Test state changes (0=closed, 1=half-open, 2=open)
	CircuitBreakerState.WithLabelValues(cbName).Set(0) // closed
	CircuitBreakerState.WithLabelValues(cbName).Set(2) // open
	CircuitBreakerState.WithLabelValues(cbName).Set(1) // half-open

	// Test request counts
	CircuitBreakerRequests.WithLabelValues(cbName, "success").Inc()
	CircuitBreakerRequests.WithLabelValues(cbName, "failure").Inc()
	CircuitBreakerRequests.WithLabelValues(cbName, "rejected").Inc()

	// Test state transitions
	CircuitBreakerTransitions.WithLabelValues(cbName, "closed", "open").Inc()
	CircuitBreakerTransitions.WithLabelValues(cbName, "open", "half-open").Inc()
	CircuitBreakerTransitions.WithLabelValues(cbName, "half-open", "closed").Inc()
}

// TestWebSocketMetrics tests WebSocket metric recording
func TestWebSocketMetrics(t *testing.T) {
	WSConnections.Set(10)
	WSConnections.Inc()
	WSConnections.Dec()

	WSMessagesSent.Add(100)

	WSErrors.WithLabelValues("connection_closed").Inc()
	WSErrors.WithLabelValues("write_timeout").Inc()
}

// TestCacheMetrics tests general cache metrics
func TestCacheMetrics(t *testing.T) {
	cacheTypes := []string{"api_response", "dedup"}

	for _, cacheType := range cacheTypes {
		CacheHits.WithLabelValues(cacheType).Add(100)
		CacheMisses.WithLabelValues(cacheType).Add(20)
		CacheSize.WithLabelValues(cacheType).Set(50)
	}
}

// TestConcurrentMetricRecording tests thread safety of metric recording
func TestConcurrentMetricRecording(t *testing.T) {
	var wg sync.WaitGroup
	numGoroutines := 100
	operationsPerGoroutine := 50

	// Test concurrent ingest recording
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < operationsPerGoroutine; j++ {
				RecordEventIngested("json")
				if j%7 == 0 {
					RecordEventMalformed("bad_timestamp")
				}
			}
		}(i)
	}

	// Test concurrent model score recording
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < operationsPerGoroutine; j++ {
				RecordModelScore("iforest", time.Duration(j)*time.Microsecond)
			}
		}(i)
	}

	// Test concurrent verdict recording
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < operationsPerGoroutine; j++ {
				RecordVerdict("no_alert", 0.3, false)
			}
		}(i)
	}

	// Test concurrent alert recording
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < operationsPerGoroutine; j++ {
				RecordAlertDispatched("warning", time.Millisecond)
			}
		}(i)
	}

	wg.Wait()
}

// TestMetricsRegistration verifies all metrics are properly registered
func TestMetricsRegistration(t *testing.T) {
	metrics := []prometheus.Collector{
		EventsIngested,
		EventsMalformed,
		EventsDuplicate,
		SessionsOpen,
		SessionsClosed,
		SessionLateEvents,
		SessionEventsDropped,
		FeatureVectorsBuilt,
		FeatureExtractionDuration,
		ModelScoreDuration,
		ModelScoreErrors,
		ModelTimeouts,
		ModelFitDuration,
		ModelFitSamples,
		ModelVersion,
		VerdictsTotal,
		FusedScores,
		Disagreements,
		DegradedScores,
		CalibrationThreshold,
		CalibrationSamples,
		Recalibrations,
		AlertsDispatched,
		AlertsSuppressed,
		AlertsUndelivered,
		AlertDeliveryDuration,
		AlertRetryAttempts,
		WALDepth,
		WALReplayed,
		WALExpired,
		BrokerMessagesPublished,
		BrokerMessagesConsumed,
		BrokerPublishErrors,
		DBQueryDuration,
		DBQueryErrors,
		DBBatchSize,
		APIRequestsTotal,
		APIRequestDuration,
		APIActiveRequests,
		APIRateLimitHits,
		CircuitBreakerState,
		CircuitBreakerRequests,
		CircuitBreakerTransitions,
		WSConnections,
		WSMessagesSent,
		WSErrors,
		CacheHits,
		CacheMisses,
		CacheSize,
		AppInfo,
		AppUptime,
	}

	// Verify each metric can be described
	for _, m := range metrics {
		ch := make(chan *prometheus.Desc, 10)
		m.Describe(ch)
		close(ch)

		// Should have at least one descriptor
		count := 0
		for range ch {
			count++
		}
		if count == 0 {
			t.Errorf("Metric has no descriptors")
		}
	}
}

// TestMetricGathering tests that metrics can be gathered using testutil
func TestMetricGathering(t *testing.T) {
	// Record some metrics
	RecordEventIngested("json")
	RecordAPIRequest("GET", "/test", "200", time.Millisecond)

	// Verify we can lint the metrics (checks for consistency issues)
	problems, err := testutil.GatherAndLint(prometheus.DefaultGatherer)
	if err != nil {
		t.Logf("Lint errors (may be expected): %v", err)
	}
	for _, p := range problems {
		t.Logf("Metric lint problem: %s", p.Text)
	}
}

// Benchmark tests for metrics performance

func BenchmarkRecordEventIngested(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RecordEventIngested("json")
	}
}

func BenchmarkRecordModelScore(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RecordModelScore("iforest", 500*time.Microsecond)
	}
}

func BenchmarkRecordVerdict(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RecordVerdict("no_alert", 0.42, false)
	}
}

func BenchmarkRecordDBQuery(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RecordDBQuery("INSERT", "session_events", 10*time.Millisecond, nil)
	}
}
