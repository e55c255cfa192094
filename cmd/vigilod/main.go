// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

// Package main is the entry point for the Vigilo detection daemon.
//
// Vigilo is a streaming anomaly-detection pipeline for security telemetry.
// It ingests raw endpoint and auth events from a broker, groups them into
// per-entity sessions, extracts behavioral features, scores each session
// with an ensemble of unsupervised detectors, and dispatches alerts for
// sessions that clear a self-calibrating threshold.
//
// # Application Architecture
//
// The daemon initializes components in the following order:
//
//  1. Configuration: Load settings from environment variables and config files (Koanf v2)
//  2. Store: Open DuckDB for verdict/alert history (optional - see Degraded Mode)
//  3. Models: Build the detector registry and load fitted state from disk
//  4. Calibration: Prime the threshold calibrator from recent benign scores
//  5. Transport: Connect to NATS JetStream (embedded by default)
//  6. Alerting: Wire broker/webhook sinks, the undelivered-alert log, and cooldown state
//  7. Pipeline: Assemble the ingest-to-dispatch Watermill router
//  8. HTTP Server: REST ops API plus the WebSocket alert feed
//
// All long-running components run under a suture supervisor tree; crashes
// restart the failed service with exponential backoff while the rest of
// the process keeps serving.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest priority wins):
//   - Environment variables, VIGILO_-prefixed (see internal/config)
//   - Config file (config.yaml)
//   - Built-in defaults
//
// # Degraded Mode
//
// DuckDB is optional. If the store cannot be opened (locked file, bad
// path, read-only volume) the daemon logs a warning and keeps scoring:
// verdicts and alerts still flow to the broker and webhook, the threshold
// calibrates from the live score stream, and only history-backed surfaces
// (list endpoints, calibrator priming, cooldown seeding) are lost. Store
// endpoints answer 503 until the process is restarted with a working
// database. Set VIGILO_DATABASE_ENABLED=false to run storeless on purpose.
//
// # Signal Handling
//
// The daemon handles graceful shutdown on SIGINT and SIGTERM:
//   - Stops broker intake and drains open sessions through scoring
//   - Flushes the event appender and closes DuckDB
//   - Waits for in-flight HTTP requests to complete (10s timeout)
//
// # Example Usage
//
// Lab default (embedded NATS, local DuckDB):
//
//	export VIGILO_DUCKDB_PATH=/data/vigilo.duckdb
//	./vigilod
//
// External broker with webhook alerting:
//
//	export VIGILO_NATS_EMBEDDED=false
//	export VIGILO_NATS_URL=nats://nats:4222
//	export VIGILO_ALERTING_WEBHOOK_URL=https://soar.lab.internal/hooks/vigilo
//	./vigilod
//
// Storeless (scoring only, no history):
//
//	export VIGILO_DATABASE_ENABLED=false
//	./vigilod
//
// # Port 8472
//
// The default port 8472 has no IANA service-name assignment, so it never
// fights common lab tooling for a bind.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vigilosec/vigilo/internal/alerting"
	"github.com/vigilosec/vigilo/internal/api"
	"github.com/vigilosec/vigilo/internal/calibration"
	"github.com/vigilosec/vigilo/internal/config"
	"github.com/vigilosec/vigilo/internal/ensemble"
	"github.com/vigilosec/vigilo/internal/features"
	"github.com/vigilosec/vigilo/internal/logging"
	"github.com/vigilosec/vigilo/internal/model"
	"github.com/vigilosec/vigilo/internal/pipeline"
	"github.com/vigilosec/vigilo/internal/store"
	"github.com/vigilosec/vigilo/internal/supervisor"
	"github.com/vigilosec/vigilo/internal/supervisor/services"
	ws "github.com/vigilosec/vigilo/internal/websocket"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		// Use default logger for config errors (config not yet available)
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize zerolog with configuration
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Str("version", version).Msg("Starting Vigilo with supervisor tree")

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Str("nats_url", cfg.NATS.URL).
		Bool("nats_embedded", cfg.NATS.EmbeddedServer).
		Str("environment", cfg.Server.Environment).
		Msg("Configuration loaded")

	// Open the store. Failure here is degraded, not fatal: the pipeline
	// scores and alerts without history, and store-backed API endpoints
	// answer 503.
	var (
		st       *store.Store
		appender *store.EventAppender
		janitor  *store.Janitor
	)
	if cfg.Database.Enabled {
		st, err = store.Open(cfg.Database)
		if err != nil {
			logging.Warn().Err(err).Msg("Failed to open store - continuing without persistence")
		} else {
			defer func() {
				if err := st.Close(); err != nil {
					logging.Error().Err(err).Msg("Error closing store")
				}
			}()
			appender, err = store.NewEventAppender(st, cfg.Database.BatchSize, cfg.Database.FlushInterval)
			if err != nil {
				logging.Fatal().Err(err).Msg("Failed to create event appender")
			}
			janitor = store.NewJanitor(st, cfg.Database.RetentionDays)
			logging.Info().Msg("Store initialized successfully")
		}
	} else {
		logging.Info().Msg("Store disabled (VIGILO_DATABASE_ENABLED=false) - running without persistence")
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create structured logger for supervisor using our slog adapter
	// This bridges zerolog to slog for sutureslog compatibility
	slogLogger := logging.NewSlogLogger()

	// Create supervisor tree
	tree, err := supervisor.NewSupervisorTree(slogLogger, supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	// Create WebSocket hub for the live alert feed (before the API handler)
	wsHub := ws.NewHub()

	// Build the detector registry and restore fitted state saved by
	// vigilo-train. Missing state files are normal on first boot; the
	// detectors then abstain and every verdict is benign until a trained
	// state directory is mounted.
	registry, err := model.NewRegistry(cfg.Models)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build model registry")
	}
	if err := registry.LoadAll(); err != nil {
		logging.Warn().Err(err).Msg("Failed to load model state - detectors start unfitted")
	}
	for id, h := range registry.Health() {
		logging.Info().
			Str("model", id).
			Bool("fitted", h.Fitted).
			Int("state_version", h.Version).
			Msg("Detector registered")
	}

	// Threshold calibrator, primed from verdict history when the store is
	// up so the first recalibration does not start from an empty window.
	calibrator := calibration.New(cfg.Calibration)
	if st != nil {
		scores, err := st.RecentBenignScores(ctx, cfg.Calibration.Window)
		if err != nil {
			logging.Warn().Err(err).Msg("Failed to load benign score history")
		} else if len(scores) > 0 {
			calibrator.Prime(scores)
			logging.Info().Int("scores", len(scores)).Msg("Calibrator primed from verdict history")
		}
	}

	scorer := ensemble.NewScorer(cfg.Ensemble, cfg.Models.ScoreTimeout, registry, calibrator)

	// Broker transport. Unlike the store this is fatal: without a broker
	// there is no event intake and nothing for the process to do.
	transport, err := pipeline.NewTransport(ctx, cfg.NATS)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize broker transport")
	}
	defer func() {
		if err := transport.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing broker transport")
		}
	}()

	// Alert delivery: every alert goes to the broker; the webhook sink is
	// added when a URL is configured.
	sinks := []alerting.Sink{alerting.NewBrokerSink(transport.Publisher(), cfg.NATS.AlertsTopic)}
	if cfg.Alerting.Webhook.URL != "" {
		sinks = append(sinks, alerting.NewWebhookSink(cfg.Alerting.Webhook))
		logging.Info().Str("url", cfg.Alerting.Webhook.URL).Msg("Webhook alert sink enabled")
	} else {
		logging.Info().Msg("Webhook sink disabled (VIGILO_ALERTING_WEBHOOK_URL not set)")
	}

	undelivered, err := alerting.OpenUndeliveredLog(cfg.Alerting.WAL)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open undelivered alert log")
	}
	defer func() {
		if err := undelivered.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing undelivered alert log")
		}
	}()

	dispatcher := alerting.NewDispatcher(cfg.Alerting, sinks, undelivered)
	if st != nil {
		recent, err := st.RecentAlerts(ctx, time.Now().Add(-cfg.Alerting.Cooldown))
		if err != nil {
			logging.Warn().Err(err).Msg("Failed to load recent alerts for cooldown seeding")
		} else if len(recent) > 0 {
			dispatcher.Seed(recent)
			logging.Info().Int("alerts", len(recent)).Msg("Cooldown ledger seeded from alert history")
		}
	}

	// Replayer redrives parked alerts until delivered or expired. It
	// updates delivery status in the store when one is available.
	replayer := alerting.NewReplayer(undelivered, sinks, cfg.Alerting.WAL)
	if st != nil {
		replayer.SetStatusUpdater(st)
	}

	engine, err := features.NewEngine(cfg.Features)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build feature engine")
	}

	// Assemble the detection pipeline: broker intake through alert
	// dispatch. Store and appender may be nil in degraded mode.
	pipe, err := pipeline.New(cfg, pipeline.Deps{
		Transport:  transport,
		Features:   engine,
		Scorer:     scorer,
		Calibrator: calibrator,
		Dispatcher: dispatcher,
		Store:      st,
		Appender:   appender,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build detection pipeline")
	}

	// Live alert feed: its own durable subscriber, so WebSocket fanout
	// never competes with pipeline consumers for messages.
	feedSub, err := transport.Subscriber("alert-feed")
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create alert feed subscriber")
	}
	feed := ws.NewAlertFeed(wsHub, feedSub, cfg.NATS.AlertsTopic)

	apiDeps := api.Deps{
		Calibrator: calibrator,
		Models:     registry,
		Pipeline:   pipe,
		Hub:        wsHub,
		Version:    version,
	}
	if st != nil {
		// Assigned conditionally so a nil *store.Store never hides inside
		// a non-nil interface value.
		apiDeps.Store = st
	}
	handler := api.NewHandler(cfg, apiDeps)
	router := api.NewRouter(handler, api.NewMiddleware(cfg.API))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	// === ADD SERVICES TO SUPERVISOR TREE ===

	// Data layer services
	if janitor != nil {
		tree.AddDataService(janitor)
		logging.Info().Int("retention_days", cfg.Database.RetentionDays).Msg("Store janitor added to supervisor tree")
	}
	tree.AddDataService(replayer)
	logging.Info().Msg("Alert replayer added to supervisor tree")

	// Detection layer services
	tree.AddDetectionService(services.NewPipelineService(pipe))
	tree.AddDetectionService(calibrator)
	logging.Info().Msg("Detection pipeline and calibrator added to supervisor tree")

	// API layer services
	tree.AddAPIService(wsHub)
	tree.AddAPIService(feed)
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	// === START SUPERVISOR TREE ===

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	// Wait for supervisor to finish (either from signal or error)
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Wait for the error channel to close (supervisor finished)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	// Report any services that failed to stop within timeout
	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Vigilo stopped gracefully")
}
