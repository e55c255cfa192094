// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/vigilosec/vigilo/internal/alerting"
	"github.com/vigilosec/vigilo/internal/calibration"
	"github.com/vigilosec/vigilo/internal/config"
	"github.com/vigilosec/vigilo/internal/ensemble"
	"github.com/vigilosec/vigilo/internal/features"
	"github.com/vigilosec/vigilo/internal/logging"
	"github.com/vigilosec/vigilo/internal/models"
	"github.com/vigilosec/vigilo/internal/normalizer"
	"github.com/vigilosec/vigilo/internal/session"
	"github.com/vigilosec/vigilo/internal/store"
)

const (
	// closedBuffer decouples shard goroutines from scoring workers.
	// When full, session emission blocks the shard, which backpressures
	// Submit and ultimately nacks broker deliveries.
	closedBuffer = 256

	// scoreWorkers bounds concurrent feature extraction and model
	// scoring.
	scoreWorkers = 4

	// sessionBudget caps the end-to-end scoring of one session. Workers
	// run on detached contexts so drain-time sessions finish even after
	// the serve context is canceled.
	sessionBudget = 30 * time.Second
)

// Deps carries the pipeline's downstream stages. Transport, Features,
// Scorer, Calibrator, and Dispatcher are required. Store and Appender
// are optional: without them the pipeline still scores and dispatches,
// it just keeps no history.
type Deps struct {
	Transport  *Transport
	Features   *features.Engine
	Scorer     *ensemble.Scorer
	Calibrator *calibration.Calibrator
	Dispatcher *alerting.Dispatcher
	Store      *store.Store
	Appender   *store.EventAppender
}

// Pipeline is the end-to-end detection service: broker intake through
// alert dispatch. It implements suture.Service; Serve blocks until the
// context is canceled and sessions have drained.
type Pipeline struct {
	cfg  config.NATSConfig
	deps Deps
	log  zerolog.Logger

	tracker *session.Tracker
	ingest  *IngestHandler
	router  *message.Router
	closed  chan *models.Session

	ran atomic.Bool
}

// New wires the intake handler, session tracker, and router. The
// returned pipeline is single-use: after Serve returns it cannot be
// restarted, because durable consumers and drained trackers do not
// survive their shutdown.
func New(cfg *config.Config, deps Deps) (*Pipeline, error) {
	switch {
	case deps.Transport == nil:
		return nil, errors.New("transport required")
	case deps.Features == nil:
		return nil, errors.New("feature engine required")
	case deps.Scorer == nil:
		return nil, errors.New("scorer required")
	case deps.Calibrator == nil:
		return nil, errors.New("calibrator required")
	case deps.Dispatcher == nil:
		return nil, errors.New("dispatcher required")
	}

	log := logging.With().Str("component", "pipeline").Logger()
	p := &Pipeline{
		cfg:    cfg.NATS,
		deps:   deps,
		log:    log,
		closed: make(chan *models.Session, closedBuffer),
	}

	p.tracker = session.New(cfg.Session, p.enqueue)
	p.ingest = newIngestHandler(
		normalizer.New(cfg.Ingest),
		p.tracker,
		deps.Appender,
		cfg.NATS.EventsTopic,
		log,
	)

	router, err := newRouter(cfg.NATS, deps.Transport.Publisher(), newWMLogger(log))
	if err != nil {
		return nil, err
	}
	p.router = router

	sub, err := deps.Transport.Subscriber("ingest")
	if err != nil {
		return nil, err
	}
	router.AddConsumerHandler("ingest", cfg.NATS.EventsTopic, sub, p.ingest.Handle)

	return p, nil
}

// Serve runs the pipeline until ctx is canceled. Shutdown order
// matters: the router stops intake first, then the tracker drains its
// shards (emitting every open session), then the workers finish scoring
// what was emitted, and only then does the audit appender flush.
func (p *Pipeline) Serve(ctx context.Context) error {
	if p.ran.Swap(true) {
		return errors.New("pipeline cannot be restarted")
	}

	if err := p.tracker.Start(ctx); err != nil {
		return fmt.Errorf("start session tracker: %w", err)
	}
	if p.deps.Appender != nil {
		if err := p.deps.Appender.Start(ctx); err != nil {
			return fmt.Errorf("start audit appender: %w", err)
		}
	}

	var workers sync.WaitGroup
	for i := 0; i < scoreWorkers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			p.scoreLoop()
		}()
	}

	p.log.Info().
		Str("events_topic", p.cfg.EventsTopic).
		Int("score_workers", scoreWorkers).
		Msg("pipeline started")

	runErr := p.router.Run(ctx)

	p.tracker.Stop()
	close(p.closed)
	workers.Wait()

	if p.deps.Appender != nil {
		if err := p.deps.Appender.Close(); err != nil {
			p.log.Warn().Err(err).Msg("close audit appender")
		}
	}

	stats := p.ingest.Stats()
	p.log.Info().
		Int64("received", stats.Received).
		Int64("accepted", stats.Accepted).
		Int64("malformed", stats.Malformed).
		Int64("duplicate", stats.Duplicate).
		Msg("pipeline stopped")

	if runErr != nil {
		return fmt.Errorf("router: %w", runErr)
	}
	return ctx.Err()
}

// String implements suture's service naming.
func (p *Pipeline) String() string { return "pipeline" }

// Stats exposes intake counters for the ops API.
func (p *Pipeline) Stats() IngestStats {
	return p.ingest.Stats()
}

// OpenSessions reports the tracker's current open-session count.
func (p *Pipeline) OpenSessions() int64 {
	return p.tracker.OpenSessions()
}

// enqueue is the tracker's emit callback. It runs on a shard goroutine,
// so a blocking send here deliberately stalls that shard when scoring
// falls behind.
func (p *Pipeline) enqueue(sess *models.Session) {
	p.closed <- sess
}

func (p *Pipeline) scoreLoop() {
	for sess := range p.closed {
		ctx, cancel := context.WithTimeout(context.Background(), sessionBudget)
		p.score(ctx, sess)
		cancel()
	}
}

// score runs one closed session through the back half of the pipeline:
// features, ensemble, calibration, persistence, verdict publication,
// and alert dispatch.
func (p *Pipeline) score(ctx context.Context, sess *models.Session) {
	vec, err := p.deps.Features.Extract(sess)
	if err != nil {
		p.log.Warn().
			Err(err).
			Str("session_id", sess.ID).
			Str("reason", string(sess.Reason)).
			Msg("feature extraction")
		return
	}

	verdict := p.deps.Scorer.Score(ctx, *vec)
	p.deps.Calibrator.Observe(verdict)

	if p.deps.Store != nil {
		if err := p.deps.Store.SaveVerdict(ctx, &verdict); err != nil {
			p.log.Warn().Err(err).Str("session_id", sess.ID).Msg("save verdict")
		}
	}

	p.publishVerdict(ctx, &verdict)

	alert, err := p.deps.Dispatcher.Dispatch(ctx, verdict, vec)
	if err != nil {
		p.log.Error().Err(err).Str("session_id", sess.ID).Msg("alert dispatch")
		return
	}
	if alert != nil && p.deps.Store != nil {
		if err := p.deps.Store.SaveAlert(ctx, alert); err != nil {
			p.log.Warn().Err(err).Str("alert_id", alert.AlertID).Msg("save alert")
		}
	}
}

// publishVerdict emits every verdict, alert or not, to the verdicts
// topic for evaluation consumers. Failures are logged, not retried:
// the store carries the durable copy.
func (p *Pipeline) publishVerdict(ctx context.Context, v *models.Verdict) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.log.Error().Err(err).Str("session_id", v.SessionID).Msg("marshal verdict")
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("session_id", v.SessionID)
	msg.Metadata.Set("decision", string(v.Decision))
	msg.SetContext(ctx)

	if err := p.deps.Transport.Publisher().Publish(p.cfg.VerdictsTopic, msg); err != nil {
		p.log.Warn().Err(err).Str("session_id", v.SessionID).Msg("publish verdict")
	}
}
