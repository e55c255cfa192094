// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

// Package validation provides struct validation using go-playground/validator v10.
//
// This package wraps the go-playground/validator library to provide a thread-safe
// singleton validator instance with user-friendly error messages. It integrates
// with the API error format for consistent error responses.
//
// # Overview
//
// The package provides:
//   - Thread-safe singleton validator (initialized once, cached struct info)
//   - Error translation to human-readable messages
//   - APIError conversion matching the ops API error format
//   - Future v11 compatibility with WithRequiredStructEnabled
//
// # Quick Start
//
//	type AlertsRequest struct {
//	    Limit    int    `validate:"min=1,max=1000"`
//	    Offset   int    `validate:"min=0"`
//	    Severity string `validate:"omitempty,oneof=info warning critical"`
//	}
//
//	func handler(w http.ResponseWriter, r *http.Request) {
//	    req := AlertsRequest{...}
//	    if verr := validation.ValidateStruct(&req); verr != nil {
//	        apiErr := verr.ToAPIError()
//	        // write 400 with apiErr.Code, apiErr.Message, apiErr.Details
//	        return
//	    }
//	    // proceed with valid request
//	}
//
// # Error Types
//
// ValidationError represents a single field validation failure, exposing the
// field name, the tag that failed, the tag parameter, the offending value,
// and a human-readable message. RequestValidationError aggregates multiple
// field errors and converts to the API format via ToAPIError.
//
// # API Error Integration
//
// The ToAPIError method produces errors matching the ops API format:
//
//	// Single field error
//	{
//	    "code": "VALIDATION_FAILED",
//	    "message": "Severity must be one of: info warning critical",
//	    "details": {"field": "Severity", "tag": "oneof", "value": "urgent"}
//	}
//
//	// Multiple field errors
//	{
//	    "code": "VALIDATION_FAILED",
//	    "message": "Limit: must be at least 1; Since: must be a valid date/time in RFC3339 format",
//	    "details": {
//	        "fields": [
//	            {"field": "Limit", "tag": "min", "message": "..."},
//	            {"field": "Since", "tag": "datetime", "message": "..."}
//	        ]
//	    }
//	}
//
// # Thread Safety
//
// The singleton validator is initialized once and safe for concurrent use.
// The validator caches struct reflection information, so the first validation
// of a struct type pays the reflection cost and subsequent validations are
// cheap.
package validation
