// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/vigilosec/vigilo/internal/config"
	"github.com/vigilosec/vigilo/internal/logging"
	"github.com/vigilosec/vigilo/internal/metrics"
	"github.com/vigilosec/vigilo/internal/models"
)

// ErrLogClosed is returned by all operations after Close.
var ErrLogClosed = errors.New("undelivered log is closed")

const parkedPrefix = "parked:"

// ParkedAlert is one alert waiting for redelivery to one sink.
type ParkedAlert struct {
	Alert         models.Alert `json:"alert"`
	Sink          string       `json:"sink"`
	Reason        string       `json:"reason"`
	ParkedAt      time.Time    `json:"parked_at"`
	Attempts      int          `json:"attempts"`
	LastAttemptAt time.Time    `json:"last_attempt_at,omitempty"`
	LastError     string       `json:"last_error,omitempty"`
}

// UndeliveredLog is the durable park for alerts whose sink delivery
// failed after retries. Entries are keyed by alert and sink, so an
// alert that reached the broker but not the webhook is replayed to the
// webhook only. Badger's native TTL at twice the retention backstops
// the replayer's explicit expiry.
type UndeliveredLog struct {
	db  *badger.DB
	cfg config.WALConfig
	log zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// OpenUndeliveredLog opens (or creates) the Badger store at cfg.Dir.
func OpenUndeliveredLog(cfg config.WALConfig) (*UndeliveredLog, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open undelivered log: %w", err)
	}

	l := &UndeliveredLog{
		db:  db,
		cfg: cfg,
		log: logging.With().Str("component", "alerting").Str("store", "undelivered").Logger(),
	}

	depth, err := l.count()
	if err != nil {
		l.log.Warn().Err(err).Msg("Failed to count parked alerts at open")
	} else {
		metrics.UpdateWALDepth(depth)
	}

	l.log.Info().
		Str("dir", cfg.Dir).
		Dur("retention", cfg.Retention).
		Int64("parked", depth).
		Msg("Undelivered alert log opened")
	return l, nil
}

func parkedKey(alertID, sink string) []byte {
	return []byte(parkedPrefix + alertID + ":" + sink)
}

// Park implements Parker: persist one alert for later redelivery.
func (l *UndeliveredLog) Park(ctx context.Context, alert models.Alert, sink, reason string) error {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return ErrLogClosed
	}
	l.mu.RUnlock()

	alert.Status = models.DeliveryUndelivered
	entry := ParkedAlert{
		Alert:    alert,
		Sink:     sink,
		Reason:   reason,
		ParkedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("marshal parked alert: %w", err)
	}

	err = l.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(parkedKey(alert.AlertID, sink), data)
		if l.cfg.Retention > 0 {
			e = e.WithTTL(2 * l.cfg.Retention)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("park alert: %w", err)
	}

	l.bumpDepth()
	return nil
}

// Pending returns every parked alert, oldest parking order not
// guaranteed. Malformed entries are logged and skipped, never fatal.
func (l *UndeliveredLog) Pending(ctx context.Context) ([]ParkedAlert, error) {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return nil, ErrLogClosed
	}
	l.mu.RUnlock()

	var entries []ParkedAlert
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(parkedPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			var entry ParkedAlert
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				l.log.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("Skipping malformed parked alert")
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate parked alerts: %w", err)
	}
	return entries, nil
}

// Resolve removes a parked alert after successful redelivery or
// expiry.
func (l *UndeliveredLog) Resolve(ctx context.Context, alertID, sink string) error {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return ErrLogClosed
	}
	l.mu.RUnlock()

	err := l.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(parkedKey(alertID, sink))
	})
	if err != nil {
		return fmt.Errorf("resolve parked alert: %w", err)
	}

	l.bumpDepth()
	return nil
}

// MarkAttempt records a failed redelivery attempt on a parked alert.
func (l *UndeliveredLog) MarkAttempt(ctx context.Context, alertID, sink, lastError string) error {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return ErrLogClosed
	}
	l.mu.RUnlock()

	key := parkedKey(alertID, sink)
	return l.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil // resolved concurrently
		}
		if err != nil {
			return fmt.Errorf("get parked alert: %w", err)
		}

		var entry ParkedAlert
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return fmt.Errorf("unmarshal parked alert: %w", err)
		}

		entry.Attempts++
		entry.LastAttemptAt = time.Now().UTC()
		entry.LastError = lastError

		data, err := json.Marshal(&entry)
		if err != nil {
			return fmt.Errorf("marshal parked alert: %w", err)
		}
		e := badger.NewEntry(key, data)
		if l.cfg.Retention > 0 {
			e = e.WithTTL(2 * l.cfg.Retention)
		}
		return txn.SetEntry(e)
	})
}

// Depth returns the number of parked alerts.
func (l *UndeliveredLog) Depth() (int64, error) {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return 0, ErrLogClosed
	}
	l.mu.RUnlock()
	return l.count()
}

// Close shuts the store down. Further calls return ErrLogClosed.
func (l *UndeliveredLog) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	if err := l.db.Close(); err != nil {
		return fmt.Errorf("close undelivered log: %w", err)
	}
	l.log.Info().Msg("Undelivered alert log closed")
	return nil
}

func (l *UndeliveredLog) count() (int64, error) {
	var n int64
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(parkedPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (l *UndeliveredLog) bumpDepth() {
	if depth, err := l.count(); err == nil {
		metrics.UpdateWALDepth(depth)
	}
}

// StatusUpdater records that an alert finally reached its sinks.
// *store.Store satisfies it.
type StatusUpdater interface {
	UpdateAlertStatus(ctx context.Context, alertID string, status models.DeliveryStatus) error
}

// Replayer periodically redrives parked alerts to their sinks. Each
// cycle: expired entries are dropped with a log line, the rest are
// re-attempted once. Per-entry failures never stop the sweep.
type Replayer struct {
	parked *UndeliveredLog
	sinks  map[string]Sink
	status StatusUpdater
	cfg    config.WALConfig
	log    zerolog.Logger
}

// NewReplayer wires the replay loop over the same sinks the dispatcher
// uses.
func NewReplayer(parked *UndeliveredLog, sinks []Sink, cfg config.WALConfig) *Replayer {
	bySink := make(map[string]Sink, len(sinks))
	for _, s := range sinks {
		bySink[s.Name()] = s
	}
	return &Replayer{
		parked: parked,
		sinks:  bySink,
		cfg:    cfg,
		log:    logging.With().Str("component", "alerting").Str("service", "replay").Logger(),
	}
}

// SetStatusUpdater enables delivered-status write-back: when a sweep
// redelivers every parked entry an alert still had, the alert's stored
// status flips to delivered. Without an updater replay still works,
// the audit record just keeps saying undelivered.
func (r *Replayer) SetStatusUpdater(u StatusUpdater) {
	r.status = u
}

// Serve implements suture.Service: sweep on the replay interval until
// the context ends.
func (r *Replayer) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.ReplayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("Alert replayer stopped")
			return ctx.Err()
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// String implements fmt.Stringer for supervisor logs.
func (r *Replayer) String() string { return "alert-replay" }

func (r *Replayer) sweep(ctx context.Context) {
	entries, err := r.parked.Pending(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("Replay sweep failed to list parked alerts")
		return
	}
	if len(entries) == 0 {
		return
	}

	remaining := make(map[string]int, len(entries))
	delivered := make(map[string]int, len(entries))
	for _, entry := range entries {
		remaining[entry.Alert.AlertID]++
	}

	var redelivered, failed, expired int
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return
		default:
		}

		switch r.replay(ctx, entry) {
		case replayDelivered:
			redelivered++
			delivered[entry.Alert.AlertID]++
		case replayFailed:
			failed++
		case replayExpired:
			expired++
		}
	}

	r.markDelivered(ctx, remaining, delivered)

	r.log.Info().
		Int("redelivered", redelivered).
		Int("failed", failed).
		Int("expired", expired).
		Msg("Alert replay sweep complete")
}

// markDelivered flips the stored status of alerts whose every parked
// entry in this sweep was redelivered. Alerts with any entry still
// failed or expired keep their undelivered record.
func (r *Replayer) markDelivered(ctx context.Context, remaining, delivered map[string]int) {
	if r.status == nil {
		return
	}
	for alertID, n := range delivered {
		if n != remaining[alertID] {
			continue
		}
		if err := r.status.UpdateAlertStatus(ctx, alertID, models.DeliveryDelivered); err != nil {
			r.log.Warn().Err(err).Str("alert_id", alertID).Msg("Failed to update delivered status")
			continue
		}
		r.log.Debug().Str("alert_id", alertID).Msg("Alert status updated to delivered")
	}
}

type replayOutcome int

const (
	replayDelivered replayOutcome = iota
	replayFailed
	replayExpired
)

func (r *Replayer) replay(ctx context.Context, entry ParkedAlert) replayOutcome {
	if r.cfg.Retention > 0 && time.Since(entry.ParkedAt) > r.cfg.Retention {
		if err := r.parked.Resolve(ctx, entry.Alert.AlertID, entry.Sink); err != nil {
			r.log.Error().Err(err).Str("alert_id", entry.Alert.AlertID).Msg("Failed to drop expired alert")
			return replayFailed
		}
		metrics.RecordWALExpired()
		r.log.Warn().
			Str("alert_id", entry.Alert.AlertID).
			Str("sink", entry.Sink).
			Int("attempts", entry.Attempts).
			Msg("Parked alert expired undelivered")
		return replayExpired
	}

	sink, ok := r.sinks[entry.Sink]
	if !ok {
		// Sink removed from config since the alert was parked.
		if err := r.parked.Resolve(ctx, entry.Alert.AlertID, entry.Sink); err != nil {
			r.log.Error().Err(err).Str("alert_id", entry.Alert.AlertID).Msg("Failed to drop orphaned alert")
		}
		r.log.Warn().
			Str("alert_id", entry.Alert.AlertID).
			Str("sink", entry.Sink).
			Msg("Dropping parked alert for unknown sink")
		return replayExpired
	}

	if err := sink.Deliver(ctx, entry.Alert); err != nil {
		if markErr := r.parked.MarkAttempt(ctx, entry.Alert.AlertID, entry.Sink, err.Error()); markErr != nil {
			r.log.Error().Err(markErr).Str("alert_id", entry.Alert.AlertID).Msg("Failed to record replay attempt")
		}
		r.log.Debug().
			Err(err).
			Str("alert_id", entry.Alert.AlertID).
			Str("sink", entry.Sink).
			Int("attempts", entry.Attempts+1).
			Msg("Replay attempt failed")
		return replayFailed
	}

	if err := r.parked.Resolve(ctx, entry.Alert.AlertID, entry.Sink); err != nil {
		r.log.Error().Err(err).Str("alert_id", entry.Alert.AlertID).Msg("Failed to resolve redelivered alert")
		return replayFailed
	}
	metrics.RecordWALReplayed()
	r.log.Info().
		Str("alert_id", entry.Alert.AlertID).
		Str("sink", entry.Sink).
		Msg("Parked alert redelivered")
	return replayDelivered
}
