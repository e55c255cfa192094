// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigilosec/vigilo/internal/logging"
	"github.com/vigilosec/vigilo/internal/models"
)

// flushTimeout bounds a single flush regardless of how the flush was
// triggered. Flushes run on detached contexts: the caller's context may
// be canceled the moment its message handler returns, but buffered rows
// still have to reach the database.
const flushTimeout = 30 * time.Second

// EventWriter persists a batch of normalized events. *Store implements
// it; tests substitute a recorder.
type EventWriter interface {
	InsertEvents(ctx context.Context, events []models.SessionEvent) error
}

// AppenderStats is a snapshot of appender counters for health reporting.
type AppenderStats struct {
	Received   int64
	Flushed    int64
	FlushCount int64
	Errors     int64
	BufferSize int
}

// EventAppender buffers normalized events and writes them to the store
// in batches, when the batch fills or the flush interval elapses.
// Appends never block on the database; a full batch flushes on a
// background goroutine. On flush failure the batch is dropped after
// logging: events are an audit record here, the session tracker owns
// the authoritative copy in flight.
type EventAppender struct {
	writer        EventWriter
	batchSize     int
	flushInterval time.Duration
	log           zerolog.Logger

	mu     sync.Mutex
	buffer []models.SessionEvent

	// Serializes flushes so timer and batch triggers cannot interleave
	// and reorder inserts.
	flushMu sync.Mutex

	closed   atomic.Bool
	started  atomic.Bool
	stopChan chan struct{}
	doneChan chan struct{}
	flushWg  sync.WaitGroup

	received   atomic.Int64
	flushed    atomic.Int64
	flushCount atomic.Int64
	errors     atomic.Int64
}

// NewEventAppender creates an appender writing batches to writer.
func NewEventAppender(writer EventWriter, batchSize int, flushInterval time.Duration) (*EventAppender, error) {
	if writer == nil {
		return nil, fmt.Errorf("writer required")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive")
	}
	if flushInterval <= 0 {
		return nil, fmt.Errorf("flush interval must be positive")
	}
	return &EventAppender{
		writer:        writer,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		log:           logging.With().Str("component", "event-appender").Logger(),
		buffer:        make([]models.SessionEvent, 0, batchSize),
		stopChan:      make(chan struct{}),
		doneChan:      make(chan struct{}),
	}, nil
}

// Start begins the periodic flush timer. Idempotent.
func (a *EventAppender) Start(ctx context.Context) error {
	if a.closed.Load() {
		return fmt.Errorf("appender is closed")
	}
	if a.started.Swap(true) {
		return nil
	}
	go a.flushLoop(ctx)
	return nil
}

// Append buffers one event. When the buffer reaches the batch size an
// asynchronous flush is triggered.
func (a *EventAppender) Append(ctx context.Context, event models.SessionEvent) error {
	if a.closed.Load() {
		return fmt.Errorf("appender is closed")
	}

	a.mu.Lock()
	a.buffer = append(a.buffer, event)
	needsFlush := len(a.buffer) >= a.batchSize
	a.mu.Unlock()
	a.received.Add(1)

	if needsFlush {
		a.flushWg.Add(1)
		go func() {
			defer a.flushWg.Done()
			flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			defer cancel()
			if err := a.flush(flushCtx); err != nil {
				a.log.Warn().Err(err).Msg("Async event flush failed")
			}
		}()
	}
	return nil
}

// Flush synchronously writes all buffered events, waiting first for any
// in-flight async flush.
func (a *EventAppender) Flush(ctx context.Context) error {
	a.flushWg.Wait()
	return a.flush(ctx)
}

// Close stops the flush loop and writes any remaining events. Safe to
// call more than once.
func (a *EventAppender) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	if a.started.Load() {
		close(a.stopChan)
		<-a.doneChan
	}
	a.flushWg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	return a.flush(ctx)
}

// Stats returns a snapshot of the appender counters.
func (a *EventAppender) Stats() AppenderStats {
	a.mu.Lock()
	size := len(a.buffer)
	a.mu.Unlock()
	return AppenderStats{
		Received:   a.received.Load(),
		Flushed:    a.flushed.Load(),
		FlushCount: a.flushCount.Load(),
		Errors:     a.errors.Load(),
		BufferSize: size,
	}
}

// flushLoop flushes on the interval until Close or ctx cancellation.
// The parent context only signals shutdown; each flush runs on its own
// detached timeout.
func (a *EventAppender) flushLoop(ctx context.Context) {
	defer close(a.doneChan)

	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopChan:
			return
		case <-ticker.C:
			flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			if err := a.flush(flushCtx); err != nil {
				a.log.Warn().Err(err).Msg("Interval event flush failed")
			}
			cancel()
		}
	}
}

func (a *EventAppender) flush(ctx context.Context) error {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.mu.Lock()
	if len(a.buffer) == 0 {
		a.mu.Unlock()
		return nil
	}
	events := a.buffer
	a.buffer = make([]models.SessionEvent, 0, a.batchSize)
	a.mu.Unlock()

	// Write in batch-sized chunks so one long buffer cannot balloon a
	// single transaction.
	for start := 0; start < len(events); start += a.batchSize {
		end := start + a.batchSize
		if end > len(events) {
			end = len(events)
		}
		if err := a.writer.InsertEvents(ctx, events[start:end]); err != nil {
			a.errors.Add(1)
			return fmt.Errorf("flush %d events: %w", end-start, err)
		}
		a.flushed.Add(int64(end - start))
	}
	a.flushCount.Add(1)
	return nil
}
