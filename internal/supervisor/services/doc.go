// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

/*
Package services provides suture.Service wrappers for components whose
lifecycles don't fit supervision directly.

Most Vigilo services (the calibrator, the alert replayer, the store
janitor, the WebSocket hub and feed) implement suture.Service natively:
Serve blocks until the context is canceled and returns ctx.Err(). Two
components can't, and live here instead:

HTTP Server (HTTPServerService):
  - *http.Server blocks in ListenAndServe and stops via Shutdown
  - The wrapper runs ListenAndServe in a goroutine, shuts down with a
    bounded drain timeout, and converts http.ErrServerClosed to nil

Pipeline (PipelineService):
  - The pipeline's message router is single-run; after it stops the
    tracker shards are drained and a restart cannot succeed
  - The wrapper escalates a live-context failure to
    suture.ErrTerminateSupervisorTree so the process exits and the
    init system restarts it with a fresh pipeline

Both wrappers take interfaces, not concrete types, so the tests here
run against mocks without binding a socket or a broker.
*/
package services
