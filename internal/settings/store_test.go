// ticketsync - Resumable Helpdesk Ticket Synchronization
// Copyright 2026 Halodesk
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/halodesk/ticketsync

package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/dgraph-io/badger/v4"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("Failed to open badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestStoreGetSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := s.Set(ctx, "Sync-2025-2026-Cursor", `{"mode":"PAGINATING"}`); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := s.Get(ctx, "Sync-2025-2026-Cursor")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != `{"mode":"PAGINATING"}` {
		t.Errorf("unexpected value: %s", got)
	}
}

func TestStoreDeleteIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	// Second delete of an absent key must not error.
	if err := s.Delete(ctx, "k"); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStoreDeletePrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	keys := []string{
		"Sync-2025-2026-Cursor",
		"Sync-2025-2026-PageSize-Loaded",
		"Refresh-2025-2026-Cursor",
	}
	for _, k := range keys {
		if err := s.Set(ctx, k, "x"); err != nil {
			t.Fatalf("Set %s failed: %v", k, err)
		}
	}

	if err := s.DeletePrefix(ctx, "Sync-2025-2026-"); err != nil {
		t.Fatalf("DeletePrefix failed: %v", err)
	}

	remaining, err := s.GetAll(ctx, "")
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected 1 remaining key, got %d: %v", len(remaining), remaining)
	}
	if _, ok := remaining["Refresh-2025-2026-Cursor"]; !ok {
		t.Errorf("refresh cursor should survive sync prefix delete")
	}
}

func TestStoreJSONRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	type cursor struct {
		Mode string `json:"mode"`
		Page int    `json:"page"`
	}

	if err := s.SetJSON(ctx, "c", &cursor{Mode: "PAGINATING", Page: 7}); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}
	var out cursor
	if err := s.GetJSON(ctx, "c", &out); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if out.Mode != "PAGINATING" || out.Page != 7 {
		t.Errorf("unexpected round trip: %+v", out)
	}
}

func TestBatchReadThroughAndFlush(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "existing", "old"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	b := s.NewBatch()
	b.Set("existing", "new")
	b.Set("staged", "v1")
	b.Delete("existing-gone")

	// Pending writes are visible through the batch only.
	if got, err := b.Get(ctx, "existing"); err != nil || got != "new" {
		t.Errorf("batch read = %q, %v; want new", got, err)
	}
	if got, err := s.Get(ctx, "existing"); err != nil || got != "old" {
		t.Errorf("store read before flush = %q, %v; want old", got, err)
	}
	if _, err := s.Get(ctx, "staged"); !errors.Is(err, ErrNotFound) {
		t.Errorf("staged key reached disk before flush: %v", err)
	}

	if err := b.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if got, _ := s.Get(ctx, "existing"); got != "new" {
		t.Errorf("expected flushed value new, got %q", got)
	}
	if got, _ := s.Get(ctx, "staged"); got != "v1" {
		t.Errorf("expected flushed value v1, got %q", got)
	}
	if b.Len() != 0 {
		t.Errorf("batch should be empty after flush, has %d", b.Len())
	}

	// Flushing an empty batch is a no-op.
	if err := b.Flush(ctx); err != nil {
		t.Errorf("empty Flush failed: %v", err)
	}
}

func TestBatchDeleteShadowsStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	b := s.NewBatch()
	b.Delete("k")
	if _, err := b.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound through batch, got %v", err)
	}

	if err := b.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected key deleted after flush, got %v", err)
	}
}
