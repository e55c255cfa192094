// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package features

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// SchemaVersion identifies the feature vector layout. Bump it whenever
// FeatureNames changes in any way: order, spelling, or length.
const SchemaVersion = 1

// Feature indices into FeatureVector.Values. The order is the schema;
// models trained against one layout refuse vectors from another.
const (
	IdxEventCount = iota
	IdxFailedAuthCount
	IdxPrivEscalationCount
	IdxDistinctResources
	IdxCommandBurstCount
	IdxSuspiciousActionRatio
	IdxErrorRate
	IdxConnectionFanout
	IdxBytesTotal
	IdxBytesRate
	IdxPortEntropy
	IdxInternalRatio
	IdxDurationSeconds
	IdxIntereventMeanSeconds
	IdxIntereventStddevSeconds
	IdxHourOfDayMean
	IdxHourDeviation
	IdxBurstFlag
	IdxOffhoursRatio

	// FeatureCount is the fixed width of every vector this package emits.
	FeatureCount = iota
)

// FeatureNames lists the schema's features in vector order.
var FeatureNames = [FeatureCount]string{
	IdxEventCount:              "event_count",
	IdxFailedAuthCount:         "failed_auth_count",
	IdxPrivEscalationCount:     "priv_escalation_count",
	IdxDistinctResources:       "distinct_resources",
	IdxCommandBurstCount:       "command_burst_count",
	IdxSuspiciousActionRatio:   "suspicious_action_ratio",
	IdxErrorRate:               "error_rate",
	IdxConnectionFanout:        "connection_fanout",
	IdxBytesTotal:              "bytes_total",
	IdxBytesRate:               "bytes_rate",
	IdxPortEntropy:             "port_entropy",
	IdxInternalRatio:           "internal_ratio",
	IdxDurationSeconds:         "duration_seconds",
	IdxIntereventMeanSeconds:   "interevent_mean_seconds",
	IdxIntereventStddevSeconds: "interevent_stddev_seconds",
	IdxHourOfDayMean:           "hour_of_day_mean",
	IdxHourDeviation:           "hour_deviation",
	IdxBurstFlag:               "burst_flag",
	IdxOffhoursRatio:           "offhours_ratio",
}

var schemaHash = computeSchemaHash()

// SchemaHash returns the hex BLAKE2b-256 digest of the ordered feature
// names. It is stamped on every vector and persisted with trained models
// so that a model never scores a vector with a different layout.
func SchemaHash() string {
	return schemaHash
}

func computeSchemaHash() string {
	sum := blake2b.Sum256([]byte(strings.Join(FeatureNames[:], ",")))
	return hex.EncodeToString(sum[:])
}
