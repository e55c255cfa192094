// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

// Package features turns closed session windows into the fixed-width
// numeric vectors the model layer scores.
//
// # Schema
//
// The vector layout is frozen per schema version: FeatureNames lists
// the features in order, and SchemaHash is the BLAKE2b digest of that
// list. Every vector and every trained model carries the hash; a model
// refuses to score a vector built under a different layout, which turns
// silent feature drift into a loud SchemaMismatch.
//
// # Extraction
//
// Extraction is incremental: each event folds into running counters,
// distinct-sets, and Welford accumulators in O(1) amortized, so cost
// scales with event count, not with event count squared. Gaps, rates,
// and ratios with a zero denominator are emitted as zero rather than
// NaN. Given the same events and configuration the output is
// bit-identical, including the port-entropy sum, which accumulates in
// sorted port order.
//
// # Sub-Windows
//
// Alongside the session vector, Extract chunks the event stream into
// consecutive mini windows of SubWindowEvents events and emits one
// vector per chunk. The sequence model consumes these as its
// observation sequence. The final partial chunk is included so short
// sessions still produce at least one sub-window.
//
// # User Baselines
//
// The hour_deviation feature compares the session's mean event hour
// with a per-user EWMA baseline maintained across closed sessions. The
// baseline is read before a session is folded in, so a session is
// always judged against the user's prior behavior. A user's first
// session has no baseline and scores zero deviation.
package features
