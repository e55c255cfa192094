// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

// Package normalizer converts heterogeneous raw telemetry records into
// canonical SessionEvents. It is the single entry point of the detection
// pipeline: downstream components never see raw records.
//
// # Input Formats
//
// Three formats are auto-detected per record:
//
//   - JSON objects in the canonical schema (timestamp, session_id, user_id,
//     source_ip, action, resource, status_code, bytes_transferred, plus the
//     optional attack_type and is_malicious lab labels)
//   - positional syslog-like lines:
//     <ts> <session_id> <user_id> <source_ip> <action> <resource> <status> <bytes>
//   - key=value telemetry pairs, double-quoted values allowed:
//     ts=1709285700 session_id=s-114 action="drop table" status=500
//
// Timestamps are accepted as RFC3339/RFC3339Nano, "2006-01-02 15:04:05"
// (assumed UTC), or Unix epoch seconds/milliseconds, and are normalized to
// UTC. Sources may send a superset of the schema; unknown JSON fields and
// key=value keys are ignored.
//
// # Validation
//
// A record is rejected with ErrMalformedRecord when the timestamp, session
// id, or action is absent or unparsable, when the status code falls outside
// [100,600) (0 means the source has no status), or when bytes_transferred
// is negative. The concrete *MalformedError carries a low-cardinality
// rejection reason that labels the ingest_malformed_total metric.
//
// # Deduplication
//
// At-least-once transports redeliver; the normalizer suppresses exact
// duplicates with a blake2b-256 content hash over (session_id, timestamp,
// action, resource) held in a bounded TTL'd LRU window. A duplicate is a
// no-op success, not an error: Normalize returns (nil, nil).
//
// # Example Usage
//
//	n := normalizer.New(cfg.Ingest)
//
//	ev, err := n.Normalize(raw)
//	if errors.Is(err, normalizer.ErrMalformedRecord) {
//		// route the raw record to the poison topic
//	}
//	if ev != nil {
//		tracker.Submit(ev)
//	}
package normalizer
