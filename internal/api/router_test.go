// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package api

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/vigilosec/vigilo/internal/model"
)

func TestRouter_RequestIDPropagation(t *testing.T) {
	srv := newTestServer(t, testConfig(), Deps{})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("X-Request-ID", "req-integration-42")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body := decodeEnvelope(t, res)
	if body.Meta == nil || body.Meta.RequestID != "req-integration-42" {
		t.Fatalf("meta = %+v, want echoed request id", body.Meta)
	}
}

func TestRouter_GeneratesRequestID(t *testing.T) {
	srv := newTestServer(t, testConfig(), Deps{})

	body := decodeEnvelope(t, get(t, srv.URL+"/healthz"))
	if body.Meta == nil || body.Meta.RequestID == "" {
		t.Fatal("no request id generated")
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	cfg := testConfig()
	cfg.API.CORSOrigins = []string{"http://dashboard.lab.internal"}
	srv := newTestServer(t, cfg, Deps{})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/alerts", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Origin", "http://dashboard.lab.internal")
	req.Header.Set("Access-Control-Request-Method", "GET")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight status = %d", res.StatusCode)
	}
	if got := res.Header.Get("Access-Control-Allow-Origin"); got != "http://dashboard.lab.internal" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestRouter_CORSRejectsUnknownOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.API.CORSOrigins = []string{"http://dashboard.lab.internal"}
	srv := newTestServer(t, cfg, Deps{})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/alerts", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", "GET")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	defer res.Body.Close()

	if got := res.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q for unlisted origin", got)
	}
}

func TestRouter_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.API.RateLimitDisabled = false
	cfg.API.RateLimitReqs = 3
	cfg.API.RateLimitWindow = time.Minute

	m := &fakeModels{health: map[string]model.Health{"iforest": {Fitted: true, Version: 1}}}
	srv := newTestServer(t, cfg, Deps{Models: m})

	for i := 0; i < 3; i++ {
		res := get(t, srv.URL+"/api/v1/models")
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, res.StatusCode)
		}
	}

	res := get(t, srv.URL+"/api/v1/models")
	body := decodeEnvelope(t, res)
	if res.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", res.StatusCode)
	}
	if body.Error == nil || body.Error.Code != ErrCodeTooManyRequests {
		t.Fatalf("error = %+v, want %s", body.Error, ErrCodeTooManyRequests)
	}

	// Liveness sits outside the throttled group.
	healthRes := get(t, srv.URL+"/healthz")
	healthRes.Body.Close()
	if healthRes.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d while rate limited", healthRes.StatusCode)
	}
}

func TestRouter_UnknownRoute(t *testing.T) {
	srv := newTestServer(t, testConfig(), Deps{})

	res := get(t, srv.URL+"/api/v1/nonexistent")
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", res.StatusCode)
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, testConfig(), Deps{})

	res := get(t, srv.URL+"/metrics")
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(raw), "go_goroutines") {
		t.Error("metrics exposition missing runtime collectors")
	}
}

func TestRouter_GzipResponses(t *testing.T) {
	m := &fakeModels{health: map[string]model.Health{"iforest": {Fitted: true, Version: 1}}}
	srv := newTestServer(t, testConfig(), Deps{Models: m})

	// Setting Accept-Encoding by hand disables the transport's
	// transparent decompression, exposing the raw encoding.
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/models", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Accept-Encoding", "gzip")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer res.Body.Close()

	if got := res.Header.Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", got)
	}

	zr, err := gzip.NewReader(res.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer zr.Close()

	var body APIResponse
	if err := json.NewDecoder(zr).Decode(&body); err != nil {
		t.Fatalf("decode gzipped body: %v", err)
	}
	if !body.Success {
		t.Fatalf("success = false: %+v", body.Error)
	}
}
