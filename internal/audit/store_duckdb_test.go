// ticketsync - Resumable Helpdesk Ticket Synchronization
// Copyright 2026 Halodesk
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/halodesk/ticketsync

package audit

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
)

func newDuckDBStore(t *testing.T) *DuckDBStore {
	t.Helper()

	conn, err := sql.Open("duckdb", filepath.Join(t.TempDir(), "ops.db"))
	if err != nil {
		t.Fatalf("Failed to open duckdb: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	store, err := NewDuckDBStore(conn)
	if err != nil {
		t.Fatalf("Failed to create audit store: %v", err)
	}
	return store
}

func TestDuckDBStoreSaveAndQuery(t *testing.T) {
	store := newDuckDBStore(t)
	ctx := context.Background()

	e := NewEvent("gateway.search", OutcomeSuccess)
	e.Endpoint = "/api/v1/tickets/search"
	e.Status = 200
	e.DurationMs = 42
	if err := store.Save(ctx, e); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(ctx, NewEvent("session.start", OutcomeSuccess)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	events, err := store.Query(ctx, QueryFilter{Operation: "gateway.search"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Endpoint != "/api/v1/tickets/search" || events[0].DurationMs != 42 {
		t.Errorf("unexpected event %+v", events[0])
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 events, got %d", count)
	}
}

func TestDuckDBStoreDeleteBefore(t *testing.T) {
	store := newDuckDBStore(t)
	ctx := context.Background()

	old := NewEvent("gateway.search", OutcomeFailure)
	old.Timestamp = time.Now().UTC().AddDate(0, 0, -100)
	if err := store.Save(ctx, old); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(ctx, NewEvent("gateway.search", OutcomeSuccess)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	deleted, err := store.DeleteBefore(ctx, time.Now().UTC().AddDate(0, 0, -90))
	if err != nil {
		t.Fatalf("DeleteBefore failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
	count, _ := store.Count(ctx)
	if count != 1 {
		t.Errorf("expected 1 remaining, got %d", count)
	}
}
