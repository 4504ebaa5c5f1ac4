// ticketsync - Resumable Helpdesk Ticket Synchronization
// Copyright 2026 Halodesk
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/halodesk/ticketsync

package sync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/halodesk/ticketsync/internal/audit"
	"github.com/halodesk/ticketsync/internal/config"
	"github.com/halodesk/ticketsync/internal/gateway"
	"github.com/halodesk/ticketsync/internal/logging"
	"github.com/halodesk/ticketsync/internal/metrics"
	"github.com/halodesk/ticketsync/internal/models/helpdesk"
	"github.com/halodesk/ticketsync/internal/settings"
)

// Summary reports what a session accomplished.
type Summary struct {
	BatchesProcessed int   `json:"batchesProcessed"`
	RecordsProcessed int   `json:"recordsProcessed"`
	Complete         bool  `json:"complete"`
	ElapsedMs        int64 `json:"elapsedMs"`
}

// Orchestrator drives the sync pass: initial pagination of the period,
// then incremental pulls past the watermark. Each session runs at most
// one execution quantum; progress is durable after every page, so any
// number of sessions compose into one logical sync.
type Orchestrator struct {
	cfg      *config.Config
	api      gateway.API
	records  RecordStore
	settings *settings.Store
	enricher *Enricher
	auditor  *audit.Logger

	// teamNames maps team ID to display name, fetched once per session.
	teamNames map[string]string

	// now is the clock; tests inject a fake to step through quanta.
	now func() time.Time
}

// NewOrchestrator wires a sync orchestrator.
func NewOrchestrator(cfg *config.Config, api gateway.API, records RecordStore, st *settings.Store, auditor *audit.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		api:      api,
		records:  records,
		settings: st,
		enricher: NewEnricher(api),
		auditor:  auditor,
		now:      time.Now,
	}
}

// ContinueSync runs one session: resume from the durable cursor, work
// until up to date or the quantum expires, persist the cursor after
// every page. Complete is true only when the period is fully up to
// date at return.
func (o *Orchestrator) ContinueSync(ctx context.Context) (*Summary, error) {
	start := o.now()
	deadline := start.Add(o.cfg.Sync.Quantum)
	summary := &Summary{}
	defer func() {
		summary.ElapsedMs = o.now().Sub(start).Milliseconds()
		metrics.SyncSessionDuration.WithLabelValues("sync").Observe(float64(summary.ElapsedMs) / 1000)
	}()

	// Locked configuration is checked before any network traffic.
	if err := o.checkLockedConfig(ctx); err != nil {
		metrics.SyncErrors.WithLabelValues("config_mismatch").Inc()
		return summary, err
	}

	cursor, err := loadSyncCursor(ctx, o.settings)
	if err != nil {
		return summary, err
	}
	if cursor.Mode == ModeNotStarted {
		cursor.Mode = ModePaginating
		cursor.KnownLastPage = -1
	}
	// A new session re-checks for tickets created since the last one,
	// unless the period lies fully in the past and nothing can be
	// created in it anymore.
	if cursor.Mode == ModeUpToDate {
		if o.cfg.Sync.PeriodIsHistorical(start) {
			summary.Complete = true
			return summary, nil
		}
		cursor.Mode = ModeIncremental
		cursor.PageIndex = 0
	}

	periodStart, periodEnd, err := o.cfg.Sync.PeriodWindow()
	if err != nil {
		return summary, err
	}

	writer := o.writerFor(cursor.Mode)
	snapshotLocked, err := o.snapshotExists(ctx)
	if err != nil {
		return summary, err
	}

	// Connectivity check before the first page: a dead endpoint or a
	// bad credential fails the session here, before any cursor
	// movement.
	if err := o.api.Ping(ctx); err != nil {
		metrics.SyncErrors.WithLabelValues(errorType(err)).Inc()
		o.logSessionEvent("session.error", audit.OutcomeFailure, err.Error())
		return summary, err
	}
	o.teamNames = fetchTeamNames(ctx, o.api)

	o.logSessionEvent("session.start", audit.OutcomeSuccess, string(cursor.Mode))
	logging.Info().
		Str("period_id", o.cfg.Sync.PeriodID).
		Str("mode", string(cursor.Mode)).
		Int("page_index", cursor.PageIndex).
		Msg("Sync session starting")

	for {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		if !o.now().Before(deadline) {
			o.logSessionEvent("session.quantum_expired", audit.OutcomeSuccess, string(cursor.Mode))
			logging.Info().Str("mode", string(cursor.Mode)).Msg("Execution quantum expired, session yielding")
			break
		}
		if cursor.Mode == ModePaginationComplete {
			// Pagination finished: continue incrementally under an
			// upsert writer, or stand down right away for a period
			// that lies fully in the past.
			if o.cfg.Sync.PeriodIsHistorical(o.now()) {
				cursor.Mode = ModeUpToDate
			} else {
				cursor.Mode = ModeIncremental
				cursor.PageIndex = 0
				writer = o.writerFor(ModeIncremental)
			}
			transition := o.settings.NewBatch()
			if err := transition.SetJSON(keySyncCursor, cursor); err != nil {
				return summary, err
			}
			if err := transition.Flush(ctx); err != nil {
				return summary, err
			}
			continue
		}
		if cursor.Mode == ModeUpToDate {
			summary.Complete = true
			break
		}

		batch := o.settings.NewBatch()

		var stepErr error
		switch cursor.Mode {
		case ModePaginating:
			stepErr = o.paginateStep(ctx, cursor, writer, summary, periodStart, periodEnd, &snapshotLocked, batch)
		case ModeIncremental:
			stepErr = o.incrementalStep(ctx, cursor, writer, summary, periodStart, periodEnd, &snapshotLocked, batch)
		default:
			stepErr = fmt.Errorf("unexpected cursor mode %q", cursor.Mode)
		}
		if stepErr != nil {
			metrics.SyncErrors.WithLabelValues(errorType(stepErr)).Inc()
			o.logSessionEvent("session.error", audit.OutcomeFailure, stepErr.Error())
			return summary, stepErr
		}

		// One flush per iteration: the cursor and any locked values
		// land after the page's records are durable.
		if err := batch.SetJSON(keySyncCursor, cursor); err != nil {
			return summary, err
		}
		if err := batch.Flush(ctx); err != nil {
			return summary, err
		}
	}

	if summary.Complete {
		o.logSessionEvent("session.complete", audit.OutcomeSuccess, "")
	}
	logging.Info().
		Int("batches", summary.BatchesProcessed).
		Int("records", summary.RecordsProcessed).
		Bool("complete", summary.Complete).
		Msg("Sync session finished")
	return summary, nil
}

// paginateStep fetches and writes one page of the initial pull.
func (o *Orchestrator) paginateStep(ctx context.Context, cursor *SyncCursor, writer *BatchWriter, summary *Summary, periodStart, periodEnd time.Time, snapshotLocked *bool, batch *settings.Batch) error {
	from := periodStart.Unix()
	to := periodEnd.Unix()
	filter := &helpdesk.SearchFilter{CreatedFrom: &from, CreatedTo: &to}

	resp, err := o.api.SearchTickets(ctx, gateway.Page{
		Index:   cursor.PageIndex,
		Size:    o.cfg.Sync.PageSize,
		SortBy:  helpdesk.SortByCreated,
		SortDir: helpdesk.SortAscending,
	}, filter)
	if err != nil {
		return err
	}

	// The final page index is fixed by the first page's total and
	// never recomputed: tickets created during pagination grow the
	// count, but they belong to the incremental phase.
	if cursor.KnownLastPage < 0 {
		if total := resp.Paging.TotalCount(); total >= 0 {
			cursor.KnownLastPage = lastPageIndex(total, o.cfg.Sync.PageSize)
			logging.Debug().Int("total", total).Int("last_page", cursor.KnownLastPage).Msg("Pagination extent fixed")
		}
	}

	// An empty page always ends pagination, even when the stale count
	// promised more: the API's answer beats our arithmetic.
	if len(resp.Items) == 0 {
		cursor.Mode = ModePaginationComplete
		logging.Info().Int("page_index", cursor.PageIndex).Msg("Empty page, pagination complete")
		return nil
	}

	if err := o.writeChunks(ctx, resp.Items, writer, summary, "sync", snapshotLocked, batch); err != nil {
		return err
	}

	for i := range resp.Items {
		if resp.Items[i].CreatedAt > cursor.Watermark {
			cursor.Watermark = resp.Items[i].CreatedAt
		}
	}
	cursor.PageIndex++
	if cursor.KnownLastPage >= 0 && cursor.PageIndex > cursor.KnownLastPage {
		cursor.Mode = ModePaginationComplete
		logging.Info().Int("pages", cursor.PageIndex).Msg("Final known page written, pagination complete")
	}
	return nil
}

// incrementalStep pulls tickets created strictly after the watermark.
func (o *Orchestrator) incrementalStep(ctx context.Context, cursor *SyncCursor, writer *BatchWriter, summary *Summary, periodStart, periodEnd time.Time, snapshotLocked *bool, batch *settings.Batch) error {
	// The watermark is zero when pagination saw no rows; floor the
	// window at the period start so earlier tickets stay out.
	from := cursor.Watermark
	if ps := periodStart.Unix(); from < ps {
		from = ps
	}
	to := periodEnd.Unix()
	filter := &helpdesk.SearchFilter{CreatedFrom: &from, CreatedTo: &to}

	resp, err := o.api.SearchTickets(ctx, gateway.Page{
		Index:   cursor.PageIndex,
		Size:    o.cfg.Sync.PageSize,
		SortBy:  helpdesk.SortByCreated,
		SortDir: helpdesk.SortAscending,
	}, filter)
	if err != nil {
		return err
	}
	if len(resp.Items) == 0 {
		cursor.Mode = ModeUpToDate
		return nil
	}

	// The API's created-from filter is inclusive; drop rows at or
	// before the watermark so a boundary ticket is never duplicated.
	fresh := make([]helpdesk.Ticket, 0, len(resp.Items))
	maxCreated := int64(0)
	for i := range resp.Items {
		if resp.Items[i].CreatedAt > maxCreated {
			maxCreated = resp.Items[i].CreatedAt
		}
		if resp.Items[i].CreatedAt > cursor.Watermark {
			fresh = append(fresh, resp.Items[i])
		}
	}

	if len(fresh) == 0 {
		// A full page of watermark ties cannot advance the watermark;
		// step the page index instead so the next fetch moves past
		// them.
		if maxCreated == cursor.Watermark && len(resp.Items) == o.cfg.Sync.PageSize {
			cursor.PageIndex++
			logging.Debug().Int("page_index", cursor.PageIndex).Msg("Watermark tie page, advancing page index")
			return nil
		}
		cursor.Mode = ModeUpToDate
		return nil
	}

	if err := o.writeChunks(ctx, fresh, writer, summary, "sync", snapshotLocked, batch); err != nil {
		return err
	}
	cursor.Watermark = maxCreated
	cursor.PageIndex = 0
	if len(resp.Items) < o.cfg.Sync.PageSize {
		cursor.Mode = ModeUpToDate
	}
	return nil
}

// writeChunks enriches and writes tickets in batch-size chunks. The
// first successful chunk locks the running configuration.
func (o *Orchestrator) writeChunks(ctx context.Context, tickets []helpdesk.Ticket, writer *BatchWriter, summary *Summary, session string, snapshotLocked *bool, batch *settings.Batch) error {
	batchSize := o.cfg.Sync.BatchSize
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
		slaByID := o.enricher.FetchFor(ctx, ids)

		result, err := writer.Write(ctx, mergeRecords(o.cfg.Sync.PeriodID, chunk, slaByID, o.teamNames))
		if err != nil {
			return fmt.Errorf("write batch: %w", err)
		}

		summary.BatchesProcessed++
		summary.RecordsProcessed += result.Appended + result.Updated
		metrics.SyncBatchSize.Observe(float64(len(chunk)))
		metrics.SyncRecordsProcessed.WithLabelValues(session).Add(float64(result.Appended + result.Updated))

		if !*snapshotLocked {
			o.stageSnapshot(batch)
			*snapshotLocked = true
		}
	}
	return nil
}

func (o *Orchestrator) writerFor(mode Mode) *BatchWriter {
	writeMode := WriteAppend
	if mode != ModePaginating {
		writeMode = WriteUpsert
	}
	return NewBatchWriter(o.records, o.cfg.Sync.PeriodID, writeMode)
}

// checkLockedConfig compares the running configuration against the
// values locked by the first successful batch. It is a precondition of
// every session, checked before any network call.
func (o *Orchestrator) checkLockedConfig(ctx context.Context) error {
	stored, err := o.settings.Get(ctx, keyPeriodLoaded)
	if errors.Is(err, settings.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if stored != o.cfg.Sync.PeriodID {
		return fmt.Errorf("%w: period %q locked, %q configured", ErrConfigMismatch, stored, o.cfg.Sync.PeriodID)
	}

	checks := []struct {
		key     string
		current int
	}{
		{keyPageSizeLoaded, o.cfg.Sync.PageSize},
		{keyBatchSizeLoaded, o.cfg.Sync.BatchSize},
	}
	for _, c := range checks {
		raw, err := o.settings.Get(ctx, c.key)
		if errors.Is(err, settings.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		locked, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("corrupt locked value %s=%q: %w", c.key, raw, err)
		}
		if locked != c.current {
			return fmt.Errorf("%w: %s locked at %d, %d configured", ErrConfigMismatch, c.key, locked, c.current)
		}
	}
	return nil
}

func (o *Orchestrator) snapshotExists(ctx context.Context) (bool, error) {
	_, err := o.settings.Get(ctx, keyPeriodLoaded)
	if errors.Is(err, settings.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (o *Orchestrator) stageSnapshot(batch *settings.Batch) {
	batch.Set(keyPeriodLoaded, o.cfg.Sync.PeriodID)
	batch.Set(keyPageSizeLoaded, strconv.Itoa(o.cfg.Sync.PageSize))
	batch.Set(keyBatchSizeLoaded, strconv.Itoa(o.cfg.Sync.BatchSize))
	logging.Info().
		Str("period_id", o.cfg.Sync.PeriodID).
		Int("page_size", o.cfg.Sync.PageSize).
		Int("batch_size", o.cfg.Sync.BatchSize).
		Msg("Configuration locked for this dataset")
}

// FullReset purges the period's records and every durable cursor,
// returning the engine to a never-synced state. The locked
// configuration is cleared too, so a new configuration may start
// fresh.
func (o *Orchestrator) FullReset(ctx context.Context) error {
	purged, err := o.records.PurgePeriod(ctx, o.cfg.Sync.PeriodID)
	if err != nil {
		return fmt.Errorf("purge records: %w", err)
	}
	if err := o.settings.DeletePrefix(ctx, syncKeyPrefix); err != nil {
		return fmt.Errorf("clear sync state: %w", err)
	}
	if err := o.settings.DeletePrefix(ctx, refreshKeyPrefix); err != nil {
		return fmt.Errorf("clear refresh state: %w", err)
	}
	o.logSessionEvent("session.reset", audit.OutcomeSuccess, fmt.Sprintf("purged %d records", purged))
	logging.Info().Str("period_id", o.cfg.Sync.PeriodID).Int64("purged", purged).Msg("Full reset completed")
	return nil
}

// Status describes the durable state for the status command.
type Status struct {
	Cursor       *SyncCursor    `json:"cursor"`
	Refresh      *RefreshCursor `json:"refresh"`
	StoredCount  int            `json:"storedCount"`
	LockedPeriod string         `json:"lockedPeriod,omitempty"`
}

// Status reads the cursors and record count without touching the
// network.
func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	cursor, err := loadSyncCursor(ctx, o.settings)
	if err != nil {
		return nil, err
	}
	refresh, err := loadRefreshCursor(ctx, o.settings)
	if err != nil {
		return nil, err
	}
	count, err := o.records.CountByPeriod(ctx, o.cfg.Sync.PeriodID)
	if err != nil {
		return nil, err
	}
	status := &Status{Cursor: cursor, Refresh: refresh, StoredCount: count}
	if locked, err := o.settings.Get(ctx, keyPeriodLoaded); err == nil {
		status.LockedPeriod = locked
	}
	return status, nil
}

func (o *Orchestrator) logSessionEvent(operation string, outcome audit.Outcome, details string) {
	if o.auditor == nil {
		return
	}
	e := audit.NewEvent(operation, outcome)
	e.Details = details
	o.auditor.Log(e)
}

// errorType buckets an error for the failure counter.
func errorType(err error) string {
	if errors.Is(err, ErrConfigMismatch) {
		return "config_mismatch"
	}
	if kind := gateway.KindOf(err); kind != "" {
		return string(kind)
	}
	return "internal"
}
