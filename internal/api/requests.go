// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

// Package api provides HTTP request validation structs with
// go-playground/validator tags. Every list endpoint validates its query
// parameters through these before touching the store.
package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vigilosec/vigilo/internal/config"
	"github.com/vigilosec/vigilo/internal/store"
	"github.com/vigilosec/vigilo/internal/validation"
)

// AlertsRequest represents the validated query parameters for /alerts.
//
// Fields:
//   - Limit: Results per page (1-1000, default from config)
//   - Offset: Offset-based pagination (0-1000000)
//   - SessionID: Filter to one session
//   - Severities: Filter by severity (comma-separated in the query string)
//   - Since/Until: Creation-time range (RFC3339)
type AlertsRequest struct {
	Limit      int      `validate:"min=1,max=1000"`
	Offset     int      `validate:"min=0,max=1000000"`
	SessionID  string   `validate:"omitempty,max=256"`
	Severities []string `validate:"omitempty,dive,oneof=info warning critical"`
	Since      string   `validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Until      string   `validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// VerdictsRequest represents the validated query parameters for /verdicts.
//
// Fields:
//   - Limit: Results per page (1-1000, default from config)
//   - Offset: Offset-based pagination (0-1000000)
//   - SessionID: Filter to one session
//   - Decisions: Filter by decision (comma-separated in the query string)
//   - Since: Lower bound on scoring time (RFC3339)
type VerdictsRequest struct {
	Limit     int      `validate:"min=1,max=1000"`
	Offset    int      `validate:"min=0,max=1000000"`
	SessionID string   `validate:"omitempty,max=256"`
	Decisions []string `validate:"omitempty,dive,oneof=alert no_alert uncalibrated"`
	Since     string   `validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// parseAlertsRequest extracts and validates alert list parameters. The
// static tag bounds catch abuse; the configured MaxPageSize is applied
// afterwards as a silent clamp.
func parseAlertsRequest(r *http.Request, cfg config.APIConfig) (*AlertsRequest, *APIError) {
	req := &AlertsRequest{
		Limit:      getIntParam(r, "limit", cfg.DefaultPageSize),
		Offset:     getIntParam(r, "offset", 0),
		SessionID:  r.URL.Query().Get("session_id"),
		Severities: parseCommaSeparated(r.URL.Query().Get("severity")),
		Since:      r.URL.Query().Get("since"),
		Until:      r.URL.Query().Get("until"),
	}

	if apiErr := validateRequest(req); apiErr != nil {
		return nil, apiErr
	}

	if cfg.MaxPageSize > 0 && req.Limit > cfg.MaxPageSize {
		req.Limit = cfg.MaxPageSize
	}
	return req, nil
}

// parseVerdictsRequest extracts and validates verdict list parameters.
func parseVerdictsRequest(r *http.Request, cfg config.APIConfig) (*VerdictsRequest, *APIError) {
	req := &VerdictsRequest{
		Limit:     getIntParam(r, "limit", cfg.DefaultPageSize),
		Offset:    getIntParam(r, "offset", 0),
		SessionID: r.URL.Query().Get("session_id"),
		Decisions: parseCommaSeparated(r.URL.Query().Get("decision")),
		Since:     r.URL.Query().Get("since"),
	}

	if apiErr := validateRequest(req); apiErr != nil {
		return nil, apiErr
	}

	if cfg.MaxPageSize > 0 && req.Limit > cfg.MaxPageSize {
		req.Limit = cfg.MaxPageSize
	}
	return req, nil
}

// Filter converts the request into a store filter. Time fields have
// already passed datetime validation, so parse failures cannot happen
// here; a zero time is simply left unset.
func (req *AlertsRequest) Filter() store.AlertFilter {
	return store.AlertFilter{
		SessionID:  req.SessionID,
		Severities: req.Severities,
		Since:      parseTimePtr(req.Since),
		Until:      parseTimePtr(req.Until),
		Limit:      req.Limit,
		Offset:     req.Offset,
	}
}

// Filter converts the request into a store filter.
func (req *VerdictsRequest) Filter() store.VerdictFilter {
	return store.VerdictFilter{
		SessionID: req.SessionID,
		Decisions: req.Decisions,
		Since:     parseTimePtr(req.Since),
		Limit:     req.Limit,
		Offset:    req.Offset,
	}
}

// validateRequest validates a struct using the shared validator and
// converts failures into the API error shape.
func validateRequest(v interface{}) *APIError {
	validationErr := validation.ValidateStruct(v)
	if validationErr == nil {
		return nil
	}

	converted := validationErr.ToAPIError()
	return &APIError{
		Code:    converted.Code,
		Message: converted.Message,
		Details: converted.Details,
	}
}

// getIntParam extracts an integer query parameter with a default value.
// Non-numeric input falls back to the default and is then range-checked
// by struct validation.
func getIntParam(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// parseCommaSeparated parses a comma-separated string into a slice
func parseCommaSeparated(value string) []string {
	if value == "" {
		return nil
	}

	var result []string
	for _, part := range strings.Split(value, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseTimePtr parses an RFC3339 string, returning nil for empty or
// unparseable input.
func parseTimePtr(value string) *time.Time {
	if value == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	return &ts
}
