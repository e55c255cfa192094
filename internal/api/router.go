// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

// Package api provides HTTP routing using Chi router.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vigilosec/vigilo/internal/middleware"
)

// Router wires the ops endpoints into a Chi mux.
type Router struct {
	handler *Handler
	mw      *Middleware
}

// NewRouter creates a router over the given handler and middleware stack.
func NewRouter(handler *Handler, mw *Middleware) *Router {
	return &Router{handler: handler, mw: mw}
}

// Setup configures all HTTP routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to every route in order.
	r.Use(RequestIDWithLogging())  // X-Request-ID plus logging context
	r.Use(chimiddleware.RealIP)    // Real IP from X-Forwarded-For
	r.Use(chimiddleware.Recoverer) // Recover from handler panics
	r.Use(router.mw.CORS())        // Global so OPTIONS preflight works

	// Liveness and Prometheus exposition sit outside the rate limit so
	// orchestrators and scrapers are never throttled.
	r.Get("/healthz", router.handler.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.mw.RateLimit())
		r.Use(middleware.PrometheusMetrics)
		r.Use(middleware.Compression)

		r.Get("/health", router.handler.Health)
		r.Get("/stats", router.handler.Stats)
		r.Get("/alerts", router.handler.Alerts)
		r.Get("/verdicts", router.handler.Verdicts)
		r.Get("/models", router.handler.Models)
		r.Get("/calibration", router.handler.Calibration)
		r.Post("/calibration/recalibrate", router.handler.Recalibrate)
		r.Get("/ws/alerts", router.handler.AlertsFeed)
	})

	return r
}
