// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

// Package session assembles normalized telemetry events into per-session
// windows and hands each closed window to the feature engine.
//
// # Partitioning
//
// The tracker owns N shards; a session lives on shard
// fnv64a(session_id) % N. Each shard is a single goroutine that owns its
// sessions outright, so a session's event buffer has exactly one writer
// and no lock spans sessions. Submit applies backpressure when a shard's
// buffer is full instead of dropping.
//
// # Ordering
//
// Events are kept in timestamp order inside the buffer. The common case is
// an append; a late arrival (timestamp before the current tail) is placed
// by binary search while the session is open. Equal timestamps preserve
// arrival order.
//
// # Close Reasons
//
// A session closes and is emitted for exactly one of four reasons:
//
//   - terminated: an action from the configured termination set arrived
//     (default logout, session_end); the terminating event is part of the
//     window
//   - idle_timeout: no events arrived for the idle window (default 30m,
//     measured on the arrival clock, not event time)
//   - capacity: the buffer reached its per-session cap; the window is
//     flushed and a later event with the same id starts a fresh window
//   - drain: shutdown; buffered events are applied and every open session
//     is flushed so partial windows are scored rather than lost
//
// When the tracker-wide open-session cap is reached, events addressing new
// sessions are dropped and counted, never buffered unboundedly.
package session
