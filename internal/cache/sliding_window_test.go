// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package cache

import (
	"sync"
	"testing"
	"time"
)

func TestSlidingWindowCounter_Basic(t *testing.T) {
	sw := NewSlidingWindowCounter(time.Minute, 6)

	sw.IncrementOne()
	sw.IncrementOne()
	sw.Increment(3)

	if count := sw.Count(); count != 5 {
		t.Errorf("Expected count 5, got %d", count)
	}
}

func TestSlidingWindowCounter_ExplicitClock(t *testing.T) {
	sw := NewSlidingWindowCounter(time.Minute, 6)

	base := time.Now()
	sw.IncrementAt(base, 2)
	sw.IncrementAt(base.Add(5*time.Second), 3)

	if count := sw.CountAt(base.Add(6 * time.Second)); count != 5 {
		t.Errorf("Expected count 5 within window, got %d", count)
	}
}

func TestSlidingWindowCounter_Expiry(t *testing.T) {
	sw := NewSlidingWindowCounter(time.Minute, 6)

	base := time.Now()
	sw.IncrementAt(base, 10)

	// After more than the full window, everything expires.
	if count := sw.CountAt(base.Add(2 * time.Minute)); count != 0 {
		t.Errorf("Expected count 0 after window expiry, got %d", count)
	}
}

func TestSlidingWindowCounter_PartialExpiry(t *testing.T) {
	sw := NewSlidingWindowCounter(time.Minute, 6) // 10s buckets

	base := time.Now()
	sw.IncrementAt(base, 5)
	sw.IncrementAt(base.Add(30*time.Second), 3)

	// 50s after base: first bucket still inside the 60s window.
	if count := sw.CountAt(base.Add(50 * time.Second)); count != 8 {
		t.Errorf("Expected count 8 at 50s, got %d", count)
	}

	// 70s after base: the first bucket has rolled out.
	if count := sw.CountAt(base.Add(70 * time.Second)); count != 3 {
		t.Errorf("Expected count 3 at 70s, got %d", count)
	}
}

func TestSlidingWindowCounter_NeverRewinds(t *testing.T) {
	sw := NewSlidingWindowCounter(time.Minute, 6)

	base := time.Now()
	sw.IncrementAt(base.Add(30*time.Second), 1)

	// An out-of-order timestamp lands in the current bucket.
	sw.IncrementAt(base, 1)

	if count := sw.CountAt(base.Add(31 * time.Second)); count != 2 {
		t.Errorf("Expected count 2 with out-of-order increment, got %d", count)
	}
}

func TestSlidingWindowCounter_Reset(t *testing.T) {
	sw := NewSlidingWindowCounter(time.Minute, 6)

	sw.Increment(42)
	sw.Reset()

	if count := sw.Count(); count != 0 {
		t.Errorf("Expected count 0 after reset, got %d", count)
	}
}

func TestSlidingWindowCounter_Concurrent(t *testing.T) {
	sw := NewSlidingWindowCounter(time.Minute, 10)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sw.IncrementOne()
			}
		}()
	}
	wg.Wait()

	if count := sw.Count(); count != 1000 {
		t.Errorf("Expected count 1000, got %d", count)
	}
}
