// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package models

import "time"

// Severity is the ordered alert severity level.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordering of a severity for comparisons; higher is more
// severe. Unknown severities rank below info.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// Exceeds reports whether s is strictly more severe than other.
func (s Severity) Exceeds(other Severity) bool {
	return s.Rank() > other.Rank()
}

// DeliveryStatus tracks how far an alert got toward its sinks.
type DeliveryStatus string

const (
	DeliveryPending     DeliveryStatus = "pending"
	DeliveryDelivered   DeliveryStatus = "delivered"
	DeliveryUndelivered DeliveryStatus = "undelivered"
)

// Enrichment is the context attached to an alert for triage.
type Enrichment struct {
	UserID   string `json:"user_id"`
	SourceIP string `json:"source_ip,omitempty"`
}

// ContributingModel is one detector's entry in an alert, ordered by
// score so the top contributor reads first.
type ContributingModel struct {
	ModelID string  `json:"model_id"`
	Score   float64 `json:"score"`
}

// Alert is an above-threshold verdict prepared for delivery.
//
// CreatedAt is the time the alert was first raised for its session and
// technique; a severity upgrade within the dedup cool-down re-dispatches
// with the original CreatedAt preserved.
type Alert struct {
	AlertID   string    `json:"alert_id"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`

	FusedScore         float64             `json:"fused_score"`
	Threshold          float64             `json:"threshold"`
	ContributingModels []ContributingModel `json:"contributing_models"`
	Severity           Severity            `json:"severity"`
	Enrichment         Enrichment          `json:"enrichment"`
	Technique          string              `json:"technique,omitempty"`
	Disagreement       bool                `json:"disagreement"`

	Status DeliveryStatus `json:"status,omitempty"`
}
