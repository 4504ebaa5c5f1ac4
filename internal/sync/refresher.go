// ticketsync - Resumable Helpdesk Ticket Synchronization
// Copyright 2026 Halodesk
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/halodesk/ticketsync

package sync

import (
	"context"
	"time"

	"github.com/halodesk/ticketsync/internal/audit"
	"github.com/halodesk/ticketsync/internal/config"
	"github.com/halodesk/ticketsync/internal/gateway"
	"github.com/halodesk/ticketsync/internal/logging"
	"github.com/halodesk/ticketsync/internal/metrics"
	"github.com/halodesk/ticketsync/internal/models/helpdesk"
	"github.com/halodesk/ticketsync/internal/settings"
)

// Refresher drives the refresh pass: re-pull tickets modified since the
// last completed pass and update their stored rows. Refresh never
// appends; a ticket the sync pass has not pulled yet stays absent until
// pagination reaches it.
type Refresher struct {
	cfg      *config.Config
	api      gateway.API
	records  RecordStore
	settings *settings.Store
	enricher *Enricher
	auditor  *audit.Logger

	// teamNames maps team ID to display name, fetched once per session.
	teamNames map[string]string

	now func() time.Time
}

// NewRefresher wires a refresher.
func NewRefresher(cfg *config.Config, api gateway.API, records RecordStore, st *settings.Store, auditor *audit.Logger) *Refresher {
	return &Refresher{
		cfg:      cfg,
		api:      api,
		records:  records,
		settings: st,
		enricher: NewEnricher(api),
		auditor:  auditor,
		now:      time.Now,
	}
}

// ContinueRefresh runs one refresh session under the execution
// quantum. The modified-since floor only advances when a pass
// completes, and it advances to the time that pass started, so a
// ticket modified while the pass ran is caught by the next one.
func (r *Refresher) ContinueRefresh(ctx context.Context) (*Summary, error) {
	start := r.now()
	deadline := start.Add(r.cfg.Sync.Quantum)
	summary := &Summary{}
	defer func() {
		summary.ElapsedMs = r.now().Sub(start).Milliseconds()
		metrics.SyncSessionDuration.WithLabelValues("refresh").Observe(float64(summary.ElapsedMs) / 1000)
	}()

	cursor, err := loadRefreshCursor(ctx, r.settings)
	if err != nil {
		return summary, err
	}
	if cursor.StartedAt == 0 {
		cursor.StartedAt = start.Unix()
		cursor.PageIndex = 0
	}

	// Connectivity check before the first page, matching the sync pass.
	if err := r.api.Ping(ctx); err != nil {
		metrics.SyncErrors.WithLabelValues(errorType(err)).Inc()
		r.logEvent("refresh.error", audit.OutcomeFailure, err.Error())
		return summary, err
	}
	r.teamNames = fetchTeamNames(ctx, r.api)

	writer := NewBatchWriter(r.records, r.cfg.Sync.PeriodID, WriteUpsertExisting)
	pageSize := r.cfg.Refresh.PageSize

	logging.Info().
		Str("period_id", r.cfg.Sync.PeriodID).
		Int64("modified_since", cursor.LastRun).
		Int("page_index", cursor.PageIndex).
		Msg("Refresh session starting")

	for {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		if !r.now().Before(deadline) {
			logging.Info().Int("page_index", cursor.PageIndex).Msg("Execution quantum expired, refresh yielding")
			break
		}

		batch := r.settings.NewBatch()

		since := cursor.LastRun
		filter := &helpdesk.SearchFilter{ModifiedSince: &since}
		resp, err := r.api.SearchTickets(ctx, gateway.Page{
			Index:   cursor.PageIndex,
			Size:    pageSize,
			SortBy:  helpdesk.SortByModified,
			SortDir: helpdesk.SortAscending,
		}, filter)
		if err != nil {
			metrics.SyncErrors.WithLabelValues(errorType(err)).Inc()
			r.logEvent("refresh.error", audit.OutcomeFailure, err.Error())
			return summary, err
		}

		done := len(resp.Items) < pageSize
		if len(resp.Items) > 0 {
			if err := r.writeChunk(ctx, resp.Items, writer, summary); err != nil {
				metrics.SyncErrors.WithLabelValues("internal").Inc()
				return summary, err
			}
			cursor.PageIndex++
		}

		if done {
			cursor.LastRun = cursor.StartedAt
			cursor.StartedAt = 0
			cursor.PageIndex = 0
			summary.Complete = true
		}

		if err := batch.SetJSON(keyRefreshCursor, cursor); err != nil {
			return summary, err
		}
		if err := batch.Flush(ctx); err != nil {
			return summary, err
		}
		if done {
			break
		}
	}

	if summary.Complete {
		r.logEvent("refresh.complete", audit.OutcomeSuccess, "")
	}
	logging.Info().
		Int("batches", summary.BatchesProcessed).
		Int("records", summary.RecordsProcessed).
		Bool("complete", summary.Complete).
		Msg("Refresh session finished")
	return summary, nil
}

func (r *Refresher) writeChunk(ctx context.Context, tickets []helpdesk.Ticket, writer *BatchWriter, summary *Summary) error {
	batchSize := r.cfg.Sync.BatchSize
	for offset := 0; offset < len(tickets); offset += batchSize {
		end := offset + batchSize
		if end > len(tickets) {
			end = len(tickets)
		}
		chunk := tickets[offset:end]

		ids := make([]string, len(chunk))
		for i := range chunk {
			ids[i] = chunk[i].ID
		}
		slaByID := r.enricher.FetchFor(ctx, ids)

		result, err := writer.Write(ctx, mergeRecords(r.cfg.Sync.PeriodID, chunk, slaByID, r.teamNames))
		if err != nil {
			return err
		}
		summary.BatchesProcessed++
		summary.RecordsProcessed += result.Updated
		if result.Dropped > 0 {
			logging.Debug().Int("dropped", result.Dropped).Msg("Refresh skipped tickets not yet synced")
		}
		metrics.SyncBatchSize.Observe(float64(len(chunk)))
		metrics.SyncRecordsProcessed.WithLabelValues("refresh").Add(float64(result.Updated))
	}
	return nil
}

func (r *Refresher) logEvent(operation string, outcome audit.Outcome, details string) {
	if r.auditor == nil {
		return
	}
	e := audit.NewEvent(operation, outcome)
	e.Details = details
	r.auditor.Log(e)
}
