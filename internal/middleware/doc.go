// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

/*
Package middleware provides HTTP middleware for the ops API.

This package implements infrastructure middleware for Prometheus metrics
instrumentation and gzip compression. Both middlewares use the standard
func(http.Handler) http.Handler signature so they compose with chi's
r.Use along with the CORS and rate-limit middlewares built in the api
package.

Key Components:

  - PrometheusMetrics: HTTP request/response instrumentation (request
    counts, latency histograms, in-flight gauge)
  - Compression: Gzip compression for responses when the client accepts it

Middleware Stack:

The ops API applies middleware in this order:

	r.Use(api.RequestIDWithLogging()) // request_id + correlation_id in context
	r.Use(chimiddleware.RealIP)       // real client IP behind proxies
	r.Use(chimiddleware.Recoverer)    // panic recovery
	r.Use(mw.CORS())                  // preflight handling (api package)
	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.Compression)

WebSocket upgrade requests bypass compression: gzip would break the
connection hijack.
*/
package middleware
