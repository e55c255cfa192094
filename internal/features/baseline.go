// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package features

import "sync"

// BaselineStore keeps a per-user typical activity hour as an EWMA over
// that user's closed sessions. The hour_deviation feature compares a
// session's mean event hour against this baseline; a user who always
// works 09:00-17:00 and suddenly produces a 03:00 session deviates by
// six hours even though 03:00 is unremarkable for the fleet.
//
// Baselines live in memory only. They warm up from the stream after a
// restart, which is acceptable for a lab deployment: the first session
// per user scores a zero deviation and seeds the average.
type BaselineStore struct {
	mu    sync.RWMutex
	alpha float64
	hours map[string]float64
}

// NewBaselineStore creates an empty store. Alpha is the EWMA weight of
// the newest session; values outside (0, 1] fall back to 0.3.
func NewBaselineStore(alpha float64) *BaselineStore {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	return &BaselineStore{
		alpha: alpha,
		hours: make(map[string]float64),
	}
}

// Get returns the user's baseline hour and whether one exists yet.
func (b *BaselineStore) Get(userID string) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	hour, ok := b.hours[userID]
	return hour, ok
}

// Update folds a closed session's mean event hour into the user's
// baseline. The first observation seeds the baseline directly.
func (b *BaselineStore) Update(userID string, hour float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev, ok := b.hours[userID]
	if !ok {
		b.hours[userID] = hour
		return
	}
	b.hours[userID] = b.alpha*hour + (1-b.alpha)*prev
}

// Len returns the number of users with a baseline.
func (b *BaselineStore) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.hours)
}
