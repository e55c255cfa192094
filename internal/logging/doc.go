// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

// Package logging provides centralized zerolog-based structured logging
// for Vigilo.
//
// Every component logs through this package so output format, level, and
// correlation-ID propagation stay consistent from ingest to dispatch.
//
// # Quick Start
//
//	import "github.com/vigilosec/vigilo/internal/logging"
//
//	// Initialize at application startup
//	logging.Init(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	})
//
//	// Log messages with structured fields
//	logging.Info().Str("session_id", sid).Msg("session closed")
//	logging.Error().Err(err).Str("model", id).Msg("scoring failed")
//
//	// Context-aware logging (correlation IDs travel with the event)
//	logging.Ctx(ctx).Info().Msg("verdict published")
//
// # Conventions
//
// Always terminate log chains with .Msg() or .Send():
//
//	logging.Info().Str("key", "value").Msg("message")  // Correct
//	logging.Info().Str("key", "value")                 // WRONG - log not emitted
//
// Prefer structured fields over string formatting:
//
//	logging.Info().
//	    Str("session_id", sid).
//	    Int("events", n).
//	    Dur("elapsed", d).
//	    Msg("features extracted")
//
// Component loggers carry a default component field:
//
//	trackerLog := logging.WithComponent("session")
//	trackerLog.Info().Msg("tracker started")
//
// # slog Adapter
//
// NewSlogLogger bridges to libraries that require *slog.Logger, notably
// sutureslog for supervision-tree events.
//
// # Thread Safety
//
// All exported functions are safe for concurrent use. The global logger
// is protected by sync.RWMutex for configuration changes.
package logging
