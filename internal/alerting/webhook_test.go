// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package alerting

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/vigilosec/vigilo/internal/config"
	"github.com/vigilosec/vigilo/internal/models"
)

func testWebhookCfg(url string) config.WebhookConfig {
	return config.WebhookConfig{
		URL:           url,
		Timeout:       5 * time.Second,
		MaxRetries:    3,
		RetryBase:     time.Millisecond,
		RetryMax:      10 * time.Millisecond,
		RatePerMinute: 60000,
	}
}

func testAlert() models.Alert {
	return models.Alert{
		AlertID:    uuid.New().String(),
		SessionID:  "sess-webhook",
		CreatedAt:  time.Now().UTC(),
		FusedScore: 0.8,
		Threshold:  0.5,
		Severity:   models.SeverityWarning,
		Status:     models.DeliveryPending,
	}
}

func TestWebhookSink_PostsAlertJSON(t *testing.T) {
	var (
		mu       sync.Mutex
		method   string
		ctype    string
		auth     string
		received models.Alert
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		method = r.Method
		ctype = r.Header.Get("Content-Type")
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
	}))
	defer server.Close()

	cfg := testWebhookCfg(server.URL)
	cfg.Headers = map[string]string{"Authorization": "Bearer lab-token"}
	sink := NewWebhookSink(cfg)

	alert := testAlert()
	if err := sink.Deliver(context.Background(), alert); err != nil {
		t.Fatalf("Deliver(): %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPost {
		t.Fatalf("method = %s, want POST", method)
	}
	if ctype != "application/json" {
		t.Fatalf("content type = %q", ctype)
	}
	if auth != "Bearer lab-token" {
		t.Fatalf("authorization = %q", auth)
	}
	if received.AlertID != alert.AlertID || received.SessionID != alert.SessionID {
		t.Fatalf("received alert %s/%s, want %s/%s",
			received.AlertID, received.SessionID, alert.AlertID, alert.SessionID)
	}
}

func TestWebhookSink_RetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewWebhookSink(testWebhookCfg(server.URL))
	if err := sink.Deliver(context.Background(), testAlert()); err != nil {
		t.Fatalf("Deliver(): %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestWebhookSink_RetriesAreBounded(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testWebhookCfg(server.URL)
	cfg.MaxRetries = 2
	sink := NewWebhookSink(cfg)

	err := sink.Deliver(context.Background(), testAlert())
	if err == nil {
		t.Fatal("Deliver() succeeded against a failing endpoint")
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("attempts = %d, want 3 (initial + 2 retries)", got)
	}
}

func TestWebhookSink_ClientErrorsAreNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	sink := NewWebhookSink(testWebhookCfg(server.URL))

	err := sink.Deliver(context.Background(), testAlert())
	if err == nil {
		t.Fatal("Deliver() succeeded on a rejected payload")
	}
	var status *statusError
	if !errors.As(err, &status) || status.Code != http.StatusBadRequest {
		t.Fatalf("error = %v, want status 400", err)
	}
	if got := attempts.Load(); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
}

func TestWebhookSink_BreakerShedsAfterConsecutiveFailures(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testWebhookCfg(server.URL)
	cfg.MaxRetries = 0
	sink := NewWebhookSink(cfg)

	for i := 0; i < breakerFailures; i++ {
		if err := sink.Deliver(context.Background(), testAlert()); err == nil {
			t.Fatalf("Deliver %d succeeded against a failing endpoint", i)
		}
	}
	tripped := attempts.Load()

	err := sink.Deliver(context.Background(), testAlert())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("error after trip = %v, want open breaker", err)
	}
	if got := attempts.Load(); got != tripped {
		t.Fatalf("open breaker still reached the endpoint (%d -> %d attempts)", tripped, got)
	}
}

func TestWebhookSink_RateLimiterSpacesDeliveries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	cfg := testWebhookCfg(server.URL)
	cfg.RatePerMinute = 600 // one request per 100ms
	sink := NewWebhookSink(cfg)

	start := time.Now()
	for i := 0; i < 2; i++ {
		if err := sink.Deliver(context.Background(), testAlert()); err != nil {
			t.Fatalf("Deliver %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("two deliveries completed in %v, limiter not applied", elapsed)
	}
}

func TestWebhookSink_CancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("cancelled delivery reached the endpoint")
	}))
	defer server.Close()

	sink := NewWebhookSink(testWebhookCfg(server.URL))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sink.Deliver(ctx, testAlert()); err == nil {
		t.Fatal("Deliver() with cancelled context succeeded")
	}
}
