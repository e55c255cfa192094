// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package session

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigilosec/vigilo/internal/config"
	"github.com/vigilosec/vigilo/internal/logging"
	"github.com/vigilosec/vigilo/internal/models"
)

// ErrStopped is returned by Submit after the tracker has shut down.
var ErrStopped = errors.New("session tracker stopped")

// shardBufferSize is the per-shard event channel depth. Submit blocks when
// a shard's buffer is full, applying backpressure to the ingest path.
const shardBufferSize = 256

// Handler receives each closed session. Handlers run on the owning shard's
// goroutine: a slow handler stalls only that shard, but it should still
// hand off promptly.
type Handler func(*models.Session)

// Tracker assembles normalized events into per-session windows and emits
// each window when it closes.
//
// Session ids are hash-partitioned across shards and each shard is owned
// by exactly one goroutine, so no lock is ever held across sessions and a
// session's buffer has a single writer.
type Tracker struct {
	cfg   config.SessionConfig
	emit  Handler
	log   zerolog.Logger
	open  atomic.Int64
	drops atomic.Int64

	shards []*shard
	stopCh chan struct{}

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// New creates a Tracker. The emit handler receives every closed session;
// it may be nil when the caller only wants tracking side effects (tests).
func New(cfg config.SessionConfig, emit Handler) *Tracker {
	if cfg.Shards <= 0 {
		cfg.Shards = 16
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 1000
	}
	if cfg.MaxOpen <= 0 {
		cfg.MaxOpen = 100000
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}

	t := &Tracker{
		cfg:    cfg,
		emit:   emit,
		log:    logging.With().Str("component", "session_tracker").Logger(),
		stopCh: make(chan struct{}),
	}

	terminations := make(map[string]struct{}, len(cfg.TerminationActions))
	for _, action := range cfg.TerminationActions {
		terminations[action] = struct{}{}
	}

	t.shards = make([]*shard, cfg.Shards)
	for i := range t.shards {
		t.shards[i] = newShard(i, t, terminations)
	}

	return t
}

// Start launches one goroutine per shard. It is safe to call once; further
// calls are no-ops.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return nil
	}
	t.running = true

	t.log.Info().
		Int("shards", len(t.shards)).
		Dur("idle_timeout", t.cfg.IdleTimeout).
		Msg("Starting session tracker")

	for _, sh := range t.shards {
		t.wg.Add(1)
		go sh.run(ctx)
	}
	return nil
}

// Stop drains the tracker: every buffered event is applied, then all open
// sessions are closed with reason drain and emitted. Blocks until all
// shards have finished.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	close(t.stopCh)
	t.mu.Unlock()

	t.wg.Wait()
	t.log.Info().Int64("drops", t.drops.Load()).Msg("Session tracker stopped")
}

// Submit routes one event to its owning shard, blocking while the shard's
// buffer is full. Returns ErrStopped after Stop and the context error on
// cancellation.
func (t *Tracker) Submit(ctx context.Context, ev *models.SessionEvent) error {
	sh := t.shards[shardIndex(ev.SessionID, len(t.shards))]

	select {
	case <-t.stopCh:
		return ErrStopped
	default:
	}

	select {
	case sh.events <- ev:
		return nil
	case <-t.stopCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OpenSessions returns the number of currently open sessions.
func (t *Tracker) OpenSessions() int64 {
	return t.open.Load()
}

// shardIndex picks the shard for a session id: fnv64a(session_id) % n.
func shardIndex(sessionID string, n int) int {
	h := fnv.New64a()
	h.Write([]byte(sessionID)) //nolint:errcheck // hash.Write never fails
	return int(h.Sum64() % uint64(n))
}
