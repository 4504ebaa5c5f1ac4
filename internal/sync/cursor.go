// ticketsync - Resumable Helpdesk Ticket Synchronization
// Copyright 2026 Halodesk
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/halodesk/ticketsync

// Package sync implements the resumable synchronization engine: the
// paginating/incremental sync pass, the modified-since refresh pass,
// and the durable cursors both resume from.
package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/halodesk/ticketsync/internal/settings"
)

// Mode is the phase of the sync cursor's lifecycle.
type Mode string

const (
	// ModeNotStarted means no page has ever been fetched.
	ModeNotStarted Mode = "NOT_STARTED"
	// ModePaginating means the initial full pull is in progress.
	ModePaginating Mode = "PAGINATING"
	// ModePaginationComplete means the full pull finished and the
	// watermark is seeded; the next step is incremental.
	ModePaginationComplete Mode = "PAGINATION_COMPLETE"
	// ModeIncremental means sessions pull only tickets created after
	// the watermark.
	ModeIncremental Mode = "INCREMENTAL"
	// ModeUpToDate means the last incremental pass found nothing new.
	ModeUpToDate Mode = "UP_TO_DATE"
)

// Settings store keys. The -Loaded suffix marks configuration values
// locked in by the first successful batch.
const (
	keySyncCursor      = "Sync-Cursor"
	keyPeriodLoaded    = "Sync-PeriodId-Loaded"
	keyPageSizeLoaded  = "Sync-PageSize-Loaded"
	keyBatchSizeLoaded = "Sync-BatchSize-Loaded"
	keyRefreshCursor   = "Refresh-Cursor"

	syncKeyPrefix    = "Sync-"
	refreshKeyPrefix = "Refresh-"
)

// SyncCursor is the durable position of the sync pass. It is persisted
// after every page so a killed session resumes exactly where it
// stopped.
type SyncCursor struct {
	Mode Mode `json:"mode"`

	// PageIndex is the next page to fetch. During incremental sync it
	// is normally 0 and only advances on watermark ties.
	PageIndex int `json:"pageIndex"`

	// KnownLastPage is the final page index computed from the total
	// row count of the first fetched page, or -1 before that. It is
	// never recomputed: later count drift must not move the goalpost.
	KnownLastPage int `json:"knownLastPage"`

	// Watermark is the highest created-at timestamp (epoch seconds)
	// written so far. Incremental sessions pull strictly after it.
	Watermark int64 `json:"watermark"`
}

// newSyncCursor returns the cursor of a never-started period.
func newSyncCursor() *SyncCursor {
	return &SyncCursor{Mode: ModeNotStarted, KnownLastPage: -1}
}

// RefreshCursor is the durable position of the refresh pass.
type RefreshCursor struct {
	// LastRun is the modified-since floor (epoch seconds). It only
	// advances when a pass completes, to the time that pass started,
	// so tickets modified mid-pass are seen next time.
	LastRun int64 `json:"lastRunTimestamp"`

	// StartedAt is nonzero while a pass is in flight.
	StartedAt int64 `json:"startedAt"`

	// PageIndex is the next page of the in-flight pass.
	PageIndex int `json:"pageIndex"`
}

// loadSyncCursor reads the sync cursor, returning a fresh one when the
// period has never been synced.
func loadSyncCursor(ctx context.Context, s *settings.Store) (*SyncCursor, error) {
	var cursor SyncCursor
	err := s.GetJSON(ctx, keySyncCursor, &cursor)
	if errors.Is(err, settings.ErrNotFound) {
		return newSyncCursor(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load sync cursor: %w", err)
	}
	return &cursor, nil
}

// loadRefreshCursor reads the refresh cursor, zero-valued when absent.
func loadRefreshCursor(ctx context.Context, s *settings.Store) (*RefreshCursor, error) {
	var cursor RefreshCursor
	err := s.GetJSON(ctx, keyRefreshCursor, &cursor)
	if errors.Is(err, settings.ErrNotFound) {
		return &RefreshCursor{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load refresh cursor: %w", err)
	}
	return &cursor, nil
}

// lastPageIndex computes the index of the final page for a total row
// count, or -1 for an empty result set.
func lastPageIndex(total, pageSize int) int {
	if total <= 0 {
		return -1
	}
	return (total - 1) / pageSize
}
