// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package session

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigilosec/vigilo/internal/metrics"
	"github.com/vigilosec/vigilo/internal/models"
)

// shard owns a disjoint set of sessions. All of its state is touched only
// by the goroutine running run(), so none of it is locked.
type shard struct {
	id           int
	tracker      *Tracker
	terminations map[string]struct{}
	events       chan *models.SessionEvent
	sessions     map[string]*openSession
	log          zerolog.Logger
}

// openSession is a session still accepting events. lastSeen is arrival
// wall-clock time, not event time: idle detection follows the stream, not
// the (possibly historical) timestamps inside it.
type openSession struct {
	userID   string
	events   []models.SessionEvent
	lastSeen time.Time
}

func newShard(id int, t *Tracker, terminations map[string]struct{}) *shard {
	return &shard{
		id:           id,
		tracker:      t,
		terminations: terminations,
		events:       make(chan *models.SessionEvent, shardBufferSize),
		sessions:     make(map[string]*openSession),
		log:          t.log.With().Int("shard", id).Logger(),
	}
}

// run is the shard's event loop. It exits after draining on shutdown.
func (s *shard) run(ctx context.Context) {
	defer s.tracker.wg.Done()

	ticker := time.NewTicker(s.tracker.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case <-s.tracker.stopCh:
			s.shutdown()
			return
		case ev := <-s.events:
			s.apply(ev)
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

// shutdown applies any events still buffered, then closes every open
// session with reason drain so partial windows are scored rather than lost.
func (s *shard) shutdown() {
	for {
		select {
		case ev := <-s.events:
			s.apply(ev)
		default:
			s.closeAll(models.CloseReasonDrain)
			return
		}
	}
}

// apply adds one event to its session, creating the session when absent,
// then checks the close conditions in order: explicit termination first,
// buffer capacity second.
func (s *shard) apply(ev *models.SessionEvent) {
	sess, ok := s.sessions[ev.SessionID]
	if !ok {
		if s.tracker.open.Load() >= int64(s.tracker.cfg.MaxOpen) {
			metrics.SessionEventsDropped.Inc()
			s.tracker.drops.Add(1)
			s.log.Warn().Str("session_id", ev.SessionID).Msg("Open-session cap reached, dropping event")
			return
		}
		sess = &openSession{
			userID: ev.UserID,
			events: make([]models.SessionEvent, 0, 16),
		}
		s.sessions[ev.SessionID] = sess
		metrics.UpdateOpenSessions(s.tracker.open.Add(1))
	}

	sess.insert(ev)
	sess.lastSeen = time.Now()
	if sess.userID == "" {
		sess.userID = ev.UserID
	}

	if _, terminal := s.terminations[ev.Action]; terminal {
		s.close(ev.SessionID, sess, models.CloseReasonTerminated)
		return
	}
	if len(sess.events) >= s.tracker.cfg.MaxEvents {
		s.close(ev.SessionID, sess, models.CloseReasonCapacity)
	}
}

// insert places the event in timestamp order. The common case is an
// append; a late arrival is placed by binary search. Equal timestamps
// keep arrival order.
func (o *openSession) insert(ev *models.SessionEvent) {
	n := len(o.events)
	if n == 0 || !ev.Timestamp.Before(o.events[n-1].Timestamp) {
		o.events = append(o.events, *ev)
		return
	}

	i := sort.Search(n, func(j int) bool { return o.events[j].Timestamp.After(ev.Timestamp) })
	o.events = append(o.events, models.SessionEvent{})
	copy(o.events[i+1:], o.events[i:])
	o.events[i] = *ev
	metrics.SessionLateEvents.Inc()
}

// sweep closes sessions whose last arrival is older than the idle timeout.
func (s *shard) sweep(now time.Time) {
	for id, sess := range s.sessions {
		if now.Sub(sess.lastSeen) >= s.tracker.cfg.IdleTimeout {
			s.close(id, sess, models.CloseReasonIdle)
		}
	}
}

// closeAll closes every open session with the given reason.
func (s *shard) closeAll(reason models.CloseReason) {
	for id, sess := range s.sessions {
		s.close(id, sess, reason)
	}
}

// close removes the session from the shard and emits the assembled window.
// A later event with the same session id starts a fresh window.
func (s *shard) close(id string, sess *openSession, reason models.CloseReason) {
	delete(s.sessions, id)
	metrics.UpdateOpenSessions(s.tracker.open.Add(-1))
	metrics.RecordSessionClosed(string(reason))

	closed := &models.Session{
		ID:     id,
		UserID: sess.userID,
		Events: sess.events,
		Reason: reason,
	}
	if len(sess.events) > 0 {
		closed.StartTime = sess.events[0].Timestamp
		closed.EndTime = sess.events[len(sess.events)-1].Timestamp
	}

	s.log.Debug().
		Str("session_id", id).
		Str("reason", string(reason)).
		Int("events", len(closed.Events)).
		Msg("Session closed")

	if s.tracker.emit != nil {
		s.tracker.emit(closed)
	}
}
