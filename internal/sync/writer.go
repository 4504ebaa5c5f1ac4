// ticketsync - Resumable Helpdesk Ticket Synchronization
// Copyright 2026 Halodesk
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/halodesk/ticketsync

package sync

import (
	"context"
	"fmt"

	"github.com/halodesk/ticketsync/internal/models/helpdesk"
	"github.com/halodesk/ticketsync/internal/store"
)

// WriteMode selects how a batch lands in the record store.
type WriteMode int

const (
	// WriteAppend inserts without existence checks; a row that already
	// exists under the same key is rewritten, so a page re-fetched
	// after an interrupted session lands cleanly.
	WriteAppend WriteMode = iota
	// WriteUpsert updates known IDs and appends the rest.
	WriteUpsert
	// WriteUpsertExisting updates known IDs and drops the rest. The
	// refresh pass uses it so tickets not yet paginated in are not
	// smuggled past the sync cursor.
	WriteUpsertExisting
)

// RecordStore is the slice of the record store the writer needs.
// *store.DB implements it; tests substitute an in-memory fake.
type RecordStore interface {
	AppendRows(ctx context.Context, records []store.Record) error
	UpsertRows(ctx context.Context, records []store.Record, index store.IDIndex, existingOnly bool) (store.UpsertResult, error)
	BuildIDIndex(ctx context.Context, periodID string) (store.IDIndex, error)
	CountByPeriod(ctx context.Context, periodID string) (int, error)
	PurgePeriod(ctx context.Context, periodID string) (int64, error)
}

// BatchWriter writes ticket batches for one session. Upsert modes lazily
// build the period's ID index on first use and keep it current across
// batches, so existence checks never hit the database per record.
type BatchWriter struct {
	records  RecordStore
	periodID string
	mode     WriteMode
	index    store.IDIndex
}

// NewBatchWriter creates a writer for one session.
func NewBatchWriter(records RecordStore, periodID string, mode WriteMode) *BatchWriter {
	return &BatchWriter{records: records, periodID: periodID, mode: mode}
}

// Write persists one batch and reports what happened to it.
func (w *BatchWriter) Write(ctx context.Context, records []store.Record) (store.UpsertResult, error) {
	if w.mode == WriteAppend {
		if err := w.records.AppendRows(ctx, records); err != nil {
			return store.UpsertResult{}, err
		}
		return store.UpsertResult{Appended: len(records)}, nil
	}

	if w.index == nil {
		index, err := w.records.BuildIDIndex(ctx, w.periodID)
		if err != nil {
			return store.UpsertResult{}, fmt.Errorf("build session id index: %w", err)
		}
		w.index = index
	}
	return w.records.UpsertRows(ctx, records, w.index, w.mode == WriteUpsertExisting)
}

// mergeRecords flattens tickets and their SLA metrics into store rows.
// Tickets missing from slaByID get NULL metric columns; team IDs with
// no entry in teamNames get a NULL name.
func mergeRecords(periodID string, tickets []helpdesk.Ticket, slaByID map[string]helpdesk.SLAMetric, teamNames map[string]string) []store.Record {
	records := make([]store.Record, 0, len(tickets))
	for i := range tickets {
		t := &tickets[i]
		r := store.Record{
			PeriodID:   periodID,
			TicketID:   t.ID,
			Number:     t.Number,
			Subject:    t.Subject,
			Status:     t.Status,
			Priority:   t.Priority,
			Category:   t.Category,
			TeamID:     t.TeamID,
			Assignee:   t.Assignee,
			Requester:  t.Requester,
			CreatedAt:  t.CreatedAt,
			ModifiedAt: t.ModifiedAt,
			ClosedAt:   t.ClosedAt,
		}
		if t.TeamID != nil {
			if name, ok := teamNames[*t.TeamID]; ok {
				r.TeamName = &name
			}
		}
		if m, ok := slaByID[t.ID]; ok {
			r.ResponseThresholdMins = m.ResponseThresholdMins
			r.ResponseActualMins = m.ResponseActualMins
			r.ResolutionThresholdMins = m.ResolutionThresholdMins
			r.ResolutionActualMins = m.ResolutionActualMins
			r.ResponseBreached = m.Breached(helpdesk.SLAClockResponse)
			r.ResolutionBreached = m.Breached(helpdesk.SLAClockResolution)
			r.SLAClockRunning = m.ClockRunning
		}
		records = append(records, r)
	}
	return records
}
