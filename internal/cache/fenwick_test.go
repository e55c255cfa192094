// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package cache

import (
	"sync"
	"testing"
)

func TestFenwickTree_UpdateAndPrefixSum(t *testing.T) {
	ft := NewFenwickTree(10)

	ft.Update(0, 5)
	ft.Update(3, 2)
	ft.Update(7, 1)

	if sum := ft.PrefixSum(0); sum != 5 {
		t.Errorf("Expected prefix sum 5 at 0, got %d", sum)
	}
	if sum := ft.PrefixSum(3); sum != 7 {
		t.Errorf("Expected prefix sum 7 at 3, got %d", sum)
	}
	if sum := ft.PrefixSum(9); sum != 8 {
		t.Errorf("Expected prefix sum 8 at 9, got %d", sum)
	}
}

func TestFenwickTree_RangeSum(t *testing.T) {
	ft := NewFenwickTree(10)

	for i := 0; i < 10; i++ {
		ft.Update(i, 1)
	}

	if sum := ft.RangeSum(2, 5); sum != 4 {
		t.Errorf("Expected range sum 4, got %d", sum)
	}
	if sum := ft.RangeSum(0, 9); sum != 10 {
		t.Errorf("Expected range sum 10, got %d", sum)
	}
	if sum := ft.RangeSum(5, 2); sum != 0 {
		t.Errorf("Expected range sum 0 for inverted range, got %d", sum)
	}
}

func TestFenwickTree_GetSet(t *testing.T) {
	ft := NewFenwickTree(5)

	ft.Set(2, 10)
	if val := ft.Get(2); val != 10 {
		t.Errorf("Expected 10, got %d", val)
	}

	ft.Set(2, 3)
	if val := ft.Get(2); val != 3 {
		t.Errorf("Expected 3 after overwrite, got %d", val)
	}
	if total := ft.Total(); total != 3 {
		t.Errorf("Expected total 3, got %d", total)
	}
}

func TestFenwickTree_NegativeDelta(t *testing.T) {
	ft := NewFenwickTree(5)

	ft.Update(1, 5)
	ft.Update(1, -2)

	if val := ft.Get(1); val != 3 {
		t.Errorf("Expected 3 after negative delta, got %d", val)
	}
}

func TestFenwickTree_OutOfRange(t *testing.T) {
	ft := NewFenwickTree(5)

	ft.Update(-1, 10) // ignored
	ft.Update(5, 10)  // ignored

	if total := ft.Total(); total != 0 {
		t.Errorf("Expected total 0 after out-of-range updates, got %d", total)
	}
	if sum := ft.PrefixSum(-1); sum != 0 {
		t.Errorf("Expected 0 for negative prefix index, got %d", sum)
	}
}

func TestFenwickTree_FindByPrefixSum(t *testing.T) {
	// Bins: index 0 has 3, index 2 has 4, index 4 has 3; total 10.
	ft := NewFenwickTree(8)
	ft.Update(0, 3)
	ft.Update(2, 4)
	ft.Update(4, 3)

	tests := []struct {
		target int64
		want   int
	}{
		{1, 0},  // first sample sits in bin 0
		{3, 0},  // third sample still in bin 0
		{4, 2},  // fourth sample is the first in bin 2
		{7, 2},  // seventh sample is the last in bin 2
		{8, 4},  // eighth sample is the first in bin 4
		{10, 4}, // last sample in bin 4
	}

	for _, tt := range tests {
		if got := ft.FindByPrefixSum(tt.target); got != tt.want {
			t.Errorf("FindByPrefixSum(%d) = %d, want %d", tt.target, got, tt.want)
		}
	}

	// Target above the total falls off the end.
	if got := ft.FindByPrefixSum(11); got != ft.Size() {
		t.Errorf("Expected Size() for unreachable target, got %d", got)
	}
	if got := ft.FindByPrefixSum(0); got != 0 {
		t.Errorf("Expected 0 for zero target, got %d", got)
	}
}

func TestFenwickTree_Clear(t *testing.T) {
	ft := NewFenwickTree(5)

	ft.Update(0, 7)
	ft.Clear()

	if total := ft.Total(); total != 0 {
		t.Errorf("Expected total 0 after clear, got %d", total)
	}
}

func TestFenwickTree_Concurrent(t *testing.T) {
	ft := NewFenwickTree(100)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ft.Update(j%100, 1)
				ft.PrefixSum(j % 100)
			}
		}(i)
	}
	wg.Wait()

	if total := ft.Total(); total != 1000 {
		t.Errorf("Expected total 1000, got %d", total)
	}
}
