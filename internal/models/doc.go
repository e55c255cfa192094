// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

/*
Package models defines the data structures shared across the Vigilo pipeline.

This package is the single source of truth for the shapes that cross
component boundaries: canonical session events out of the normalizer,
assembled sessions out of the tracker, feature vectors out of the feature
engine, per-model scores and fused verdicts out of the ensemble, and alerts
out of the dispatcher.

Model Categories:

 1. Telemetry Models:
    - SessionEvent: one normalized telemetry record
    - Session: an assembled, ordered window of one session's events

 2. Scoring Models:
    - FeatureVector: fixed-schema numeric features for one session
    - ModelScore: one detector's normalized score
    - Verdict: the fused scoring outcome, including degraded detectors

 3. Alerting Models:
    - Alert: an above-threshold verdict prepared for delivery
    - Severity: ordered alert severity (info < warning < critical)

Structs here carry data and cheap derived accessors only. Parsing,
validation, and scoring logic live in the components that own them.
JSON tags target goccy/go-json, which is tag-compatible with encoding/json.
*/
package models
