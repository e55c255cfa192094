// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package cache

import (
	"sync"
	"time"
)

// SlidingWindowCounter implements a memory-efficient sliding window counter.
// It divides time into buckets and sums them to get the count within the
// window.
//
// The health endpoint reads these for recent-activity rates (malformed
// records in the last 5 minutes, alerts dispatched in the last 5 minutes)
// without touching the store.
//
// The *At variants take an explicit clock so callers that advance on event
// time instead of wall time stay deterministic. A timestamp earlier than
// the window's current position counts into the current bucket; the window
// never rewinds.
//
// Complexity:
//   - Increment: O(1)
//   - Count: O(k) where k = number of buckets (typically 10-60)
//   - Memory: O(k) per counter
type SlidingWindowCounter struct {
	mu         sync.Mutex
	buckets    []int64       // circular buffer of bucket counts
	bucketSize time.Duration // duration of each bucket
	windowSize time.Duration // total window duration
	numBuckets int           // number of buckets
	current    int           // current bucket index
	lastUpdate time.Time     // window position of the current bucket
}

// NewSlidingWindowCounter creates a new sliding window counter.
// The window is divided into the specified number of buckets.
//
// Example: NewSlidingWindowCounter(5*time.Minute, 10) creates a 5-minute
// window with 30-second buckets.
func NewSlidingWindowCounter(windowSize time.Duration, numBuckets int) *SlidingWindowCounter {
	return NewSlidingWindowCounterAt(windowSize, numBuckets, time.Now())
}

// NewSlidingWindowCounterAt creates a counter whose window starts at the
// given time. Callers that feed historical timestamps (replayed event
// streams) must anchor the window at their first timestamp, not at wall
// clock, or the window would never rotate.
func NewSlidingWindowCounterAt(windowSize time.Duration, numBuckets int, start time.Time) *SlidingWindowCounter {
	if numBuckets <= 0 {
		numBuckets = 10
	}
	if windowSize <= 0 {
		windowSize = 5 * time.Minute
	}

	return &SlidingWindowCounter{
		buckets:    make([]int64, numBuckets),
		bucketSize: windowSize / time.Duration(numBuckets),
		windowSize: windowSize,
		numBuckets: numBuckets,
		current:    0,
		lastUpdate: start,
	}
}

// Increment adds delta to the current bucket using wall-clock time.
func (sw *SlidingWindowCounter) Increment(delta int64) {
	sw.IncrementAt(time.Now(), delta)
}

// IncrementOne adds 1 to the current bucket using wall-clock time.
func (sw *SlidingWindowCounter) IncrementOne() {
	sw.Increment(1)
}

// IncrementAt adds delta to the bucket at the given time.
func (sw *SlidingWindowCounter) IncrementAt(now time.Time, delta int64) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.advance(now)
	sw.buckets[sw.current] += delta
}

// Count returns the sum of all buckets in the window at wall-clock time.
func (sw *SlidingWindowCounter) Count() int64 {
	return sw.CountAt(time.Now())
}

// CountAt returns the sum of all buckets in the window at the given time.
func (sw *SlidingWindowCounter) CountAt(now time.Time) int64 {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.advance(now)

	var total int64
	for _, count := range sw.buckets {
		total += count
	}
	return total
}

// Reset clears all buckets.
func (sw *SlidingWindowCounter) Reset() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	for i := range sw.buckets {
		sw.buckets[i] = 0
	}
	sw.current = 0
	sw.lastUpdate = time.Now()
}

// advance moves the window forward based on elapsed time.
// Must be called with lock held.
func (sw *SlidingWindowCounter) advance(now time.Time) {
	elapsed := now.Sub(sw.lastUpdate)

	bucketsElapsed := int(elapsed / sw.bucketSize)

	if bucketsElapsed <= 0 {
		// Same bucket, or time went backwards: never rewind.
		return
	}

	if bucketsElapsed >= sw.numBuckets {
		// Entire window has elapsed, clear all.
		for i := range sw.buckets {
			sw.buckets[i] = 0
		}
		sw.current = 0
	} else {
		// Clear only the elapsed buckets.
		for i := 0; i < bucketsElapsed; i++ {
			sw.current = (sw.current + 1) % sw.numBuckets
			sw.buckets[sw.current] = 0
		}
	}

	sw.lastUpdate = now
}
