// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package cache

import (
	"sync"
)

// FenwickTree (Binary Indexed Tree) provides O(log n) range sum queries and
// updates over a fixed number of buckets.
//
// The threshold calibrator keeps its score history as a binned histogram on
// this tree: adding a score is Update(bin, +1), evicting one is
// Update(bin, -1), and a quantile query is a binary search over PrefixSum.
// That keeps recalibration O(log n) per sample instead of re-sorting the
// whole history.
//
// Time Complexity:
//   - Update: O(log n)
//   - Range Query: O(log n)
//   - Point Query: O(log n)
type FenwickTree struct {
	mu   sync.RWMutex
	tree []int64 // 1-indexed for cleaner bit manipulation
	n    int     // Number of elements (buckets)
}

// NewFenwickTree creates a new Fenwick Tree with n buckets.
func NewFenwickTree(n int) *FenwickTree {
	if n <= 0 {
		n = 1
	}
	return &FenwickTree{
		tree: make([]int64, n+1), // 1-indexed
		n:    n,
	}
}

// Update adds delta to the value at index i (0-indexed).
// Time complexity: O(log n)
func (ft *FenwickTree) Update(i int, delta int64) {
	if i < 0 || i >= ft.n {
		return
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()

	i++ // Convert to 1-indexed
	for i <= ft.n {
		ft.tree[i] += delta
		i += i & (-i) // Add last set bit
	}
}

// PrefixSum returns the sum of elements from index 0 to i (inclusive, 0-indexed).
// Time complexity: O(log n)
func (ft *FenwickTree) PrefixSum(i int) int64 {
	if i < 0 {
		return 0
	}
	if i >= ft.n {
		i = ft.n - 1
	}

	ft.mu.RLock()
	defer ft.mu.RUnlock()

	return ft.prefixSum(i)
}

// prefixSum computes the prefix sum with the lock held.
func (ft *FenwickTree) prefixSum(i int) int64 {
	i++ // Convert to 1-indexed
	var sum int64
	for i > 0 {
		sum += ft.tree[i]
		i -= i & (-i) // Remove last set bit
	}
	return sum
}

// RangeSum returns the sum of elements from index left to right (inclusive, 0-indexed).
// Time complexity: O(log n)
func (ft *FenwickTree) RangeSum(left, right int) int64 {
	if left < 0 {
		left = 0
	}
	if right >= ft.n {
		right = ft.n - 1
	}
	if left > right {
		return 0
	}

	if left == 0 {
		return ft.PrefixSum(right)
	}
	return ft.PrefixSum(right) - ft.PrefixSum(left-1)
}

// Get returns the value at index i (0-indexed).
// Time complexity: O(log n)
func (ft *FenwickTree) Get(i int) int64 {
	if i < 0 || i >= ft.n {
		return 0
	}
	return ft.RangeSum(i, i)
}

// Set sets the value at index i to val (0-indexed).
// Time complexity: O(log n)
func (ft *FenwickTree) Set(i int, val int64) {
	current := ft.Get(i)
	ft.Update(i, val-current)
}

// Size returns the number of buckets.
func (ft *FenwickTree) Size() int {
	return ft.n
}

// Total returns the sum of all elements.
// Time complexity: O(log n)
func (ft *FenwickTree) Total() int64 {
	return ft.PrefixSum(ft.n - 1)
}

// FindByPrefixSum returns the smallest index i such that PrefixSum(i) >= target.
// Returns Size() if the total is below target. This is the quantile lookup:
// for quantile q over N samples, target = ceil(q*N).
// Time complexity: O(log n)
func (ft *FenwickTree) FindByPrefixSum(target int64) int {
	if target <= 0 {
		return 0
	}

	ft.mu.RLock()
	defer ft.mu.RUnlock()

	// Standard BIT descent: walk down from the highest power of two.
	pos := 0
	remaining := target

	highBit := 1
	for highBit<<1 <= ft.n {
		highBit <<= 1
	}

	for bit := highBit; bit > 0; bit >>= 1 {
		next := pos + bit
		if next <= ft.n && ft.tree[next] < remaining {
			pos = next
			remaining -= ft.tree[next]
		}
	}

	// pos is the count of leading buckets whose sum stays below target,
	// so the 0-indexed answer is pos itself.
	return pos
}

// Clear resets all values to zero.
func (ft *FenwickTree) Clear() {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	for i := range ft.tree {
		ft.tree[i] = 0
	}
}
