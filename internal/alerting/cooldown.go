// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package alerting

import (
	"time"

	"github.com/vigilosec/vigilo/internal/cache"
	"github.com/vigilosec/vigilo/internal/models"
)

// Entries beyond this trigger an opportunistic prune of expired
// sessions on the next record.
const ledgerPruneSize = 4096

type ledgerEntry struct {
	severity  models.Severity
	createdAt time.Time // first raise in the current alert chain
}

// cooldownLedger tracks the last dispatched alert per session so
// repeats inside the cool-down window are suppressed unless severity
// increased. A severity upgrade within the window re-dispatches but
// keeps the chain's original CreatedAt, so triage sees one escalating
// incident rather than a fresh one.
//
// Entries sit on a dispatch-time-ordered heap keyed by session, so a
// prune pops expired sessions oldest-first instead of sweeping the
// whole set.
type cooldownLedger struct {
	window  time.Duration
	entries *cache.MinHeap[ledgerEntry] // entry timestamp = last dispatch
}

func newCooldownLedger(window time.Duration) *cooldownLedger {
	return &cooldownLedger{
		window:  window,
		entries: cache.NewMinHeap[ledgerEntry](0),
	}
}

// admit decides whether an alert for the session may dispatch at now
// with the given severity. When admitted, createdAt is the timestamp
// the alert must carry: the chain's original time for an in-window
// severity upgrade, now for a fresh chain.
func (l *cooldownLedger) admit(sessionID string, severity models.Severity, now time.Time) (ok bool, createdAt time.Time) {
	entry := l.entries.Get(sessionID)
	if entry != nil && now.Sub(entry.Timestamp) < l.window {
		if !severity.Exceeds(entry.Value.severity) {
			return false, time.Time{}
		}
		return true, entry.Value.createdAt
	}
	return true, now
}

// record stores a dispatched alert. Call only after a successful admit.
func (l *cooldownLedger) record(sessionID string, severity models.Severity, createdAt, now time.Time) {
	if l.entries.Len() >= ledgerPruneSize {
		l.entries.PopBefore(now.Add(-l.window))
	}
	l.entries.Push(sessionID, ledgerEntry{severity: severity, createdAt: createdAt}, now)
}

// seed restores ledger state from persisted alerts on restart, so a
// crash inside the cool-down window does not double-alert a session.
func (l *cooldownLedger) seed(sessionID string, severity models.Severity, createdAt, dispatched time.Time) {
	l.entries.Push(sessionID, ledgerEntry{severity: severity, createdAt: createdAt}, dispatched)
}
