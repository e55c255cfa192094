// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

// Package model defines the detector contract and the shared machinery
// every detector family builds on: the registry, score normalization,
// feature standardization, persistence envelopes, and label-based
// evaluation.
//
// # Families
//
// Each detector family lives in its own subpackage (iforest, recon,
// ocsvm, seqmarkov) and registers a Factory from init, so the set of
// constructible families is exactly the set of imported subpackages.
// The Registry builds the enabled families from configuration, trains
// them as a group, and persists their state between restarts.
//
// # Scores
//
// Detectors produce two numbers per session: a raw score in whatever
// unit the algorithm natively emits (path length ratio, reconstruction
// error, decision margin, chain negative log-likelihood) and a
// normalized score on [0,1] the ensemble can fuse. Normalization
// parameters are fitted on the training score distribution at Fit time
// and travel with the persisted state.
//
// # Persistence
//
// Save wraps fitted parameters in an Envelope carrying the model id,
// version, and the feature schema hash in force at fit time. Load
// refuses envelopes whose schema hash differs from the running
// schema, so a redeployed binary with a changed feature set quietly
// retrains instead of scoring garbage.
package model
