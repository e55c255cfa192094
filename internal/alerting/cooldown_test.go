// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

package alerting

import (
	"fmt"
	"testing"
	"time"

	"github.com/vigilosec/vigilo/internal/models"
)

func TestCooldownLedger_SuppressesWithinWindow(t *testing.T) {
	ledger := newCooldownLedger(10 * time.Minute)
	t0 := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	ok, createdAt := ledger.admit("sess-a", models.SeverityWarning, t0)
	if !ok || !createdAt.Equal(t0) {
		t.Fatalf("first admit = %v at %v", ok, createdAt)
	}
	ledger.record("sess-a", models.SeverityWarning, t0, t0)

	// Five minutes later the same severity stays quiet.
	if ok, _ := ledger.admit("sess-a", models.SeverityWarning, t0.Add(5*time.Minute)); ok {
		t.Fatal("equal severity admitted inside the window")
	}

	// A severity escalation passes and keeps the original chain start.
	ok, createdAt = ledger.admit("sess-a", models.SeverityCritical, t0.Add(5*time.Minute))
	if !ok {
		t.Fatal("escalated severity suppressed inside the window")
	}
	if !createdAt.Equal(t0) {
		t.Fatalf("escalation createdAt = %v, want original %v", createdAt, t0)
	}
	ledger.record("sess-a", models.SeverityCritical, t0, t0.Add(5*time.Minute))

	// After the escalation the bar is critical; warnings stay quiet.
	if ok, _ := ledger.admit("sess-a", models.SeverityWarning, t0.Add(7*time.Minute)); ok {
		t.Fatal("lower severity admitted after escalation")
	}
	if ok, _ := ledger.admit("sess-a", models.SeverityCritical, t0.Add(7*time.Minute)); ok {
		t.Fatal("repeated critical admitted inside the window")
	}

	// Twenty minutes after the last dispatch the chain starts fresh.
	ok, createdAt = ledger.admit("sess-a", models.SeverityWarning, t0.Add(25*time.Minute))
	if !ok {
		t.Fatal("admit refused after window expiry")
	}
	if !createdAt.Equal(t0.Add(25 * time.Minute)) {
		t.Fatalf("fresh chain createdAt = %v", createdAt)
	}
}

func TestCooldownLedger_SuppressedAttemptsDoNotExtendWindow(t *testing.T) {
	ledger := newCooldownLedger(10 * time.Minute)
	t0 := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	ledger.record("sess-b", models.SeverityInfo, t0, t0)

	if ok, _ := ledger.admit("sess-b", models.SeverityInfo, t0.Add(9*time.Minute)); ok {
		t.Fatal("repeat admitted inside the window")
	}
	// The suppressed attempt at nine minutes must not restart the clock.
	if ok, _ := ledger.admit("sess-b", models.SeverityInfo, t0.Add(11*time.Minute)); !ok {
		t.Fatal("admit refused after the original window expired")
	}
}

func TestCooldownLedger_SessionsAreIndependent(t *testing.T) {
	ledger := newCooldownLedger(10 * time.Minute)
	t0 := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	ledger.record("sess-c", models.SeverityWarning, t0, t0)

	if ok, _ := ledger.admit("sess-d", models.SeverityWarning, t0.Add(time.Minute)); !ok {
		t.Fatal("unrelated session suppressed")
	}
}

func TestCooldownLedger_PruneEvictsExpiredEntries(t *testing.T) {
	ledger := newCooldownLedger(10 * time.Minute)
	t0 := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	for i := 0; i < ledgerPruneSize; i++ {
		id := fmt.Sprintf("sess-%d", i)
		ledger.record(id, models.SeverityInfo, t0, t0)
	}

	// The next record an hour later sweeps every expired entry.
	ledger.record("sess-fresh", models.SeverityInfo, t0.Add(time.Hour), t0.Add(time.Hour))

	if n := ledger.entries.Len(); n != 1 {
		t.Fatalf("ledger holds %d entries after prune, want 1", n)
	}
	if ledger.entries.Get("sess-fresh") == nil {
		t.Fatal("prune evicted the live entry")
	}
}
