// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

/*
Package cache provides thread-safe in-memory data structures shared across
the Vigilo pipeline.

The structures here back the hot paths that cannot afford a database round
trip per event:

  - LRUCache: bounded dedup window with TTL; the normalizer records content
    hashes here and drops duplicates in O(1)
  - MinHeap: timestamp-ordered keyed heap; the alert dispatcher's cool-down
    ledger evicts expired sessions oldest-first through it
  - SlidingWindowCounter: bucketed rolling counter behind the feature
    engine's burst-rate features
  - FenwickTree: O(log n) prefix sums; the threshold calibrator's binned
    score histogram answers quantile queries through it
  - AhoCorasick / PatternMatcher: multi-keyword matcher; the feature engine
    classifies event actions (auth, privilege escalation, suspicious verbs)
    in a single pass per action string
  - Cache (Cacher): TTL response memoization for the ops API's list
    endpoints

All structures are safe for concurrent use. None of them persist anything;
durable state lives in internal/store and the alerting WAL.
*/
package cache
