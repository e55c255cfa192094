// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

// Package pipeline wires the detection stages into one running service:
// a Watermill router consumes raw telemetry from the broker, the
// normalizer and session tracker turn records into closed session
// windows, and a pool of scoring workers runs each window through
// feature extraction, the model ensemble, calibration, and alert
// dispatch.
//
// # Transport
//
// The broker behind the router is chosen at runtime. With NATS enabled
// the transport speaks JetStream, optionally against an embedded
// nats-server, with durable queue-group consumers and a pre-provisioned
// stream covering every configured topic. With NATS disabled it falls
// back to an in-process Go channel Pub/Sub with identical semantics
// minus durability, which is also what the tests run against.
//
// # Delivery contract
//
// A raw record is acked once its fate is decided: accepted into a
// session, recognized as a duplicate, or rejected as malformed.
// Malformed records are acked, not retried, because reparsing cannot
// succeed; the router's retry middleware and poison queue only see
// errors from downstream backpressure. Session windows emitted during
// drain are still scored: workers hold detached per-session contexts so
// cancellation of the serve context stops intake without cutting off
// in-flight verdicts.
package pipeline
