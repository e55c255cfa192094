// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package services

import (
	"context"
	"errors"

	"github.com/thejerf/suture/v4"
)

// Pipeline matches the detection pipeline's Serve method.
type Pipeline interface {
	Serve(ctx context.Context) error
}

// PipelineService wraps the detection pipeline as a supervised service.
//
// The pipeline is single-run: once its message router has stopped, the
// tracker shards are drained and the router cannot be re-run. A plain
// restart would fail instantly and spin through suture's backoff
// forever. So a pipeline failure terminates the whole tree instead —
// the process exits nonzero and the init system brings it back with a
// freshly built pipeline.
type PipelineService struct {
	pipeline Pipeline
	name     string
}

// NewPipelineService creates a new pipeline service wrapper.
func NewPipelineService(pipeline Pipeline) *PipelineService {
	return &PipelineService{
		pipeline: pipeline,
		name:     "pipeline",
	}
}

// Serve implements suture.Service.
//
// An error during orderly shutdown (context already canceled) passes
// through untouched; an error while the context is still live is
// escalated to suture.ErrTerminateSupervisorTree.
func (s *PipelineService) Serve(ctx context.Context) error {
	err := s.pipeline.Serve(ctx)
	if err != nil && ctx.Err() == nil {
		return errors.Join(suture.ErrTerminateSupervisorTree, err)
	}
	return err
}

// String implements fmt.Stringer for logging.
// Suture uses this to identify the service in log messages.
func (s *PipelineService) String() string {
	return s.name
}
