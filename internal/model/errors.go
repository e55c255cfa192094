// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package model

import "errors"

var (
	// ErrNotReady is returned by Score before the first successful Fit
	// or Load. The ensemble converts it into a degraded entry rather
	// than failing the round.
	ErrNotReady = errors.New("model not fitted")

	// ErrSchemaMismatch is returned when a vector's feature schema hash
	// differs from the hash the model was fitted against, or when
	// loading state saved under a different schema.
	ErrSchemaMismatch = errors.New("feature schema mismatch")

	// ErrInsufficientSamples is returned by Fit when the training set is
	// smaller than the configured minimum.
	ErrInsufficientSamples = errors.New("too few training samples")
)
