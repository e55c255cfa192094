// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

/*
Package api provides the ops HTTP surface: health probes, Prometheus
metrics, read endpoints over stored alerts and verdicts, detector and
calibration status, an explicit recalibration trigger, and a WebSocket
feed of dispatched alerts.

Routing uses chi with production middleware from its ecosystem
(go-chi/cors for CORS, go-chi/httprate for rate limiting) plus the
request-ID and Prometheus middlewares shared with the rest of the
process. Request parameters are validated with go-playground/validator
via the validation package before any store query runs.

All endpoints return a uniform JSON envelope:

	{
	    "success": true,
	    "data": {...},
	    "meta": {"request_id": "...", "timestamp": "...", "duration_ms": 3}
	}

or, on failure:

	{
	    "success": false,
	    "error": {"code": "VALIDATION_FAILED", "message": "...", "details": {...}}
	}

The API is deliberately unauthenticated: it binds to the lab operator's
network, and access control is the deployment's concern, not this
service's. List endpoints run against the store and answer 503 when the
process is running without one; everything else works storeless.
*/
package api
