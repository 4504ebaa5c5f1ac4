// ticketsync - Resumable Helpdesk Ticket Synchronization
// Copyright 2026 Halodesk
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/halodesk/ticketsync

package sync

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func newRefreshFixture(t *testing.T) (*fixture, *Refresher) {
	t.Helper()

	f := newFixture(t)
	r := NewRefresher(f.cfg, f.api, f.records, f.settings, nil)
	return f, r
}

func TestRefreshUpdatesModifiedTickets(t *testing.T) {
	f, r := newRefreshFixture(t)
	f.api.add(mkTicket("T-0", 0), mkTicket("T-1", 60))

	ctx := context.Background()
	if _, err := f.orch.ContinueSync(ctx); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	// T-0 gets modified upstream.
	f.api.mu.Lock()
	f.api.tickets[0].Status = "closed"
	f.api.tickets[0].ModifiedAt = periodBase + 500
	f.api.mu.Unlock()

	summary, err := r.ContinueRefresh(ctx)
	if err != nil {
		t.Fatalf("ContinueRefresh failed: %v", err)
	}
	if !summary.Complete {
		t.Error("expected complete refresh")
	}
	if f.records.rows["T-0"].Status != "closed" {
		t.Errorf("expected refreshed status closed, got %q", f.records.rows["T-0"].Status)
	}
}

func TestRefreshNeverAppends(t *testing.T) {
	f, r := newRefreshFixture(t)
	f.api.add(mkTicket("T-0", 0))

	ctx := context.Background()
	if _, err := f.orch.ContinueSync(ctx); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	// A ticket the sync pass has not pulled yet must not sneak in via
	// refresh.
	f.api.add(mkTicket("T-unseen", 100))

	summary, err := r.ContinueRefresh(ctx)
	if err != nil {
		t.Fatalf("ContinueRefresh failed: %v", err)
	}
	if !summary.Complete {
		t.Error("expected complete refresh")
	}
	if _, ok := f.records.rows["T-unseen"]; ok {
		t.Error("refresh appended an unsynced ticket")
	}
	if len(f.records.rows) != 1 {
		t.Errorf("expected 1 row, got %d", len(f.records.rows))
	}
}

func TestRefreshLastRunAdvancesOnlyOnCompletion(t *testing.T) {
	f, r := newRefreshFixture(t)
	for i := 0; i < 9; i++ {
		f.api.add(mkTicket(fmt.Sprintf("T-%d", i), int64(i*60)))
	}

	ctx := context.Background()
	if _, err := f.orch.ContinueSync(ctx); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	// Interrupted refresh: quantum allows one page of three.
	sessionStart := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := &stepClock{t: sessionStart, step: time.Minute}
	f.cfg.Sync.Quantum = 90 * time.Second
	r.now = clock.Now

	summary, err := r.ContinueRefresh(ctx)
	if err != nil {
		t.Fatalf("interrupted refresh failed: %v", err)
	}
	if summary.Complete {
		t.Fatal("expected the quantum to interrupt the refresh")
	}

	cursor, err := loadRefreshCursor(ctx, f.settings)
	if err != nil {
		t.Fatalf("load refresh cursor failed: %v", err)
	}
	if cursor.LastRun != 0 {
		t.Errorf("LastRun advanced on an incomplete pass: %d", cursor.LastRun)
	}
	if cursor.StartedAt == 0 {
		t.Error("expected in-flight pass to keep its start time")
	}
	startedAt := cursor.StartedAt
	if cursor.PageIndex == 0 {
		t.Error("expected page progress to persist")
	}

	// Completing session: LastRun becomes the pass's original start
	// time, not the later session's.
	f.cfg.Sync.Quantum = time.Hour
	r.now = time.Now
	summary, err = r.ContinueRefresh(ctx)
	if err != nil {
		t.Fatalf("completing refresh failed: %v", err)
	}
	if !summary.Complete {
		t.Fatal("expected refresh to complete")
	}
	cursor, _ = loadRefreshCursor(ctx, f.settings)
	if cursor.LastRun != startedAt {
		t.Errorf("LastRun = %d, want pass start %d", cursor.LastRun, startedAt)
	}
	if cursor.StartedAt != 0 || cursor.PageIndex != 0 {
		t.Errorf("expected cleared in-flight state, got %+v", cursor)
	}
}

func TestRefreshFiltersByLastRun(t *testing.T) {
	f, r := newRefreshFixture(t)
	f.api.add(mkTicket("T-0", 0), mkTicket("T-1", 60))

	ctx := context.Background()
	if _, err := f.orch.ContinueSync(ctx); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if _, err := r.ContinueRefresh(ctx); err != nil {
		t.Fatalf("first refresh failed: %v", err)
	}

	callsBefore := f.api.searchCalls
	summary, err := r.ContinueRefresh(ctx)
	if err != nil {
		t.Fatalf("second refresh failed: %v", err)
	}
	if !summary.Complete {
		t.Error("expected complete refresh")
	}
	// Nothing modified since the first pass: one empty page, no writes.
	if summary.RecordsProcessed != 0 {
		t.Errorf("expected 0 records, got %d", summary.RecordsProcessed)
	}
	if f.api.searchCalls != callsBefore+1 {
		t.Errorf("expected 1 search call, got %d", f.api.searchCalls-callsBefore)
	}
}
