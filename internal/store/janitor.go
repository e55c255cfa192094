// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigilosec/vigilo/internal/logging"
)

const janitorInterval = time.Hour

// Janitor prunes rows past the retention horizon on a fixed sweep
// interval. Runs under the supervision tree.
type Janitor struct {
	store     *Store
	retention time.Duration
	log       zerolog.Logger
}

// NewJanitor creates a janitor keeping retentionDays of history.
func NewJanitor(store *Store, retentionDays int) *Janitor {
	return &Janitor{
		store:     store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		log:       logging.With().Str("component", "store-janitor").Logger(),
	}
}

// Serve sweeps once at startup and then hourly until ctx is canceled.
func (j *Janitor) Serve(ctx context.Context) error {
	j.sweep(ctx)

	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info().Msg("Store janitor stopped")
			return ctx.Err()
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) String() string { return "store-janitor" }

func (j *Janitor) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-j.retention)
	if err := j.store.PruneBefore(ctx, cutoff); err != nil {
		j.log.Error().Err(err).Time("cutoff", cutoff).Msg("Retention prune failed")
	}
}
