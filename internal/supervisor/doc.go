// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

/*
Package supervisor provides process supervision for Vigilo using suture v4.

This package implements a hierarchical supervisor tree that manages the
lifecycle of all long-running services in the detector. It provides
Erlang/OTP-style supervision with automatic restart, failure isolation,
and graceful shutdown.

# Overview

The supervisor tree organizes services into three layers for failure
isolation:

	RootSupervisor ("vigilo")
	├── DataSupervisor ("data-layer")
	│   ├── store.Janitor (retention pruning)
	│   └── alerting.Replayer (undelivered-alert sweeps)
	├── DetectionSupervisor ("detection-layer")
	│   ├── services.PipelineService (ingest → score → dispatch)
	│   └── calibration.Calibrator (periodic threshold recalibration)
	└── APISupervisor ("api-layer")
	    ├── services.HTTPServerService (ops API)
	    ├── websocket.Hub (client fan-out)
	    └── websocket.AlertFeed (broker → hub bridge)

This hierarchy ensures that:
  - A wedged retention sweep can't stall scoring
  - A crashed WebSocket hub doesn't interrupt alert delivery to sinks
  - The ops API keeps answering while the calibrator restarts

# Service Contract

Most Vigilo components implement suture.Service directly: their Serve
methods block until the context is canceled and return ctx.Err() on
orderly shutdown. Two components cannot, and get wrappers in the
services subpackage:

  - *http.Server blocks in ListenAndServe and shuts down through a
    separate Shutdown call; HTTPServerService translates between the
    two lifecycles.
  - The pipeline is single-run (its message router cannot be re-run
    after it stops), so PipelineService converts a pipeline failure
    into suture.ErrTerminateSupervisorTree: the process exits nonzero
    and the init system restarts it with a fresh router.

# Restart Semantics

Crashed services are restarted with exponential backoff. Each failure
increments a counter that decays over FailureDecay seconds; when it
crosses FailureThreshold the layer waits FailureBackoff before the
next restart. A service returning suture.ErrDoNotRestart is removed
without restart; one returning suture.ErrTerminateSupervisorTree
stops the whole tree. UnstoppedServiceReport names services that
ignored the shutdown timeout, which is the first thing to check when
shutdown hangs.

# Usage

	logger := logging.NewSlogLogger()
	tree, err := supervisor.NewSupervisorTree(logger, supervisor.DefaultTreeConfig())
	if err != nil {
		return err
	}

	tree.AddDataService(janitor)
	tree.AddDataService(replayer)
	tree.AddDetectionService(services.NewPipelineService(pipe))
	tree.AddDetectionService(calibrator)
	tree.AddAPIService(hub)
	tree.AddAPIService(feed)
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))

	return tree.Serve(ctx)

Supervision events (starts, failures, backoff) are logged through the
sutureslog hook, which main feeds with logging.NewSlogLogger so they
land in the same zerolog stream as everything else.

# What Is NOT Supervised

DuckDB is intentionally not supervised: it is an embedded library, not
a long-running service, and its pooled handle is owned by the store.
The NATS transport likewise lives inside the pipeline's service scope;
an embedded broker that dies takes the router down with it, which the
PipelineService escalates to a process restart.
*/
package supervisor
