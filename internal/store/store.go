// ticketsync - Resumable Helpdesk Ticket Synchronization
// Copyright 2026 Halodesk
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/halodesk/ticketsync

// Package store persists synced ticket records in DuckDB. Records are
// keyed by (period_id, ticket_id); enrichment columns live alongside
// the ticket fields so a batch lands in one transaction.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/halodesk/ticketsync/internal/config"
	"github.com/halodesk/ticketsync/internal/logging"
	"github.com/halodesk/ticketsync/internal/metrics"
)

// Record is one flattened ticket row: the ticket fields plus the SLA
// enrichment columns. Pointer fields map to nullable columns.
type Record struct {
	PeriodID  string
	TicketID  string
	Number    *int
	Subject   string
	Status    string
	Priority  string
	Category  *string
	TeamID    *string
	TeamName  *string
	Assignee  *string
	Requester string

	CreatedAt  int64
	ModifiedAt int64
	ClosedAt   *int64

	ResponseThresholdMins   *int
	ResponseActualMins      *int
	ResolutionThresholdMins *int
	ResolutionActualMins    *int
	ResponseBreached        bool
	ResolutionBreached      bool
	SLAClockRunning         bool
}

// UpsertResult reports what happened to a batch of rows.
type UpsertResult struct {
	Appended int
	Updated  int
	Dropped  int
}

// DB wraps the DuckDB connection holding ticket records.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the record store at cfg.Path and ensures the
// schema exists.
func Open(cfg *config.StoreConfig) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	dbDir := filepath.Dir(cfg.Path)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", dbDir, err)
		}
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
		cfg.Path, numThreads, cfg.MaxMemory)
	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	// DuckDB is embedded; a single connection avoids write contention.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	logging.Debug().Str("path", cfg.Path).Msg("Record store opened")
	return db, nil
}

// Conn exposes the underlying connection for components that share the
// database file, such as the operations log.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Close closes the database.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	const schema = `
		CREATE TABLE IF NOT EXISTS tickets (
			period_id                 VARCHAR NOT NULL,
			ticket_id                 VARCHAR NOT NULL,
			ticket_number             INTEGER,
			subject                   VARCHAR NOT NULL,
			status                    VARCHAR NOT NULL,
			priority                  VARCHAR NOT NULL,
			category                  VARCHAR,
			team_id                   VARCHAR,
			team_name                 VARCHAR,
			assignee                  VARCHAR,
			requester                 VARCHAR NOT NULL,
			created_at                BIGINT NOT NULL,
			modified_at               BIGINT NOT NULL,
			closed_at                 BIGINT,
			response_threshold_mins   INTEGER,
			response_actual_mins      INTEGER,
			resolution_threshold_mins INTEGER,
			resolution_actual_mins    INTEGER,
			response_breached         BOOLEAN NOT NULL DEFAULT false,
			resolution_breached       BOOLEAN NOT NULL DEFAULT false,
			sla_clock_running         BOOLEAN NOT NULL DEFAULT false,
			synced_at                 BIGINT NOT NULL,
			PRIMARY KEY (period_id, ticket_id)
		)`
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("create tickets table: %w", err)
	}
	return nil
}

const insertColumns = `period_id, ticket_id, ticket_number, subject, status, priority,
		category, team_id, team_name, assignee, requester, created_at, modified_at, closed_at,
		response_threshold_mins, response_actual_mins,
		resolution_threshold_mins, resolution_actual_mins,
		response_breached, resolution_breached,
		sla_clock_running, synced_at`

func recordArgs(r *Record, syncedAt int64) []interface{} {
	return []interface{}{
		r.PeriodID, r.TicketID, r.Number, r.Subject, r.Status, r.Priority,
		r.Category, r.TeamID, r.TeamName, r.Assignee, r.Requester,
		r.CreatedAt, r.ModifiedAt, r.ClosedAt,
		r.ResponseThresholdMins, r.ResponseActualMins,
		r.ResolutionThresholdMins, r.ResolutionActualMins,
		r.ResponseBreached, r.ResolutionBreached,
		r.SLAClockRunning, syncedAt,
	}
}

// AppendRows inserts records, replacing any existing row with the same
// key. The pagination pass re-fetches its current page after an
// interrupted session, so the same row may arrive twice; replacement
// keeps the re-write idempotent instead of colliding on the primary
// key.
func (db *DB) AppendRows(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	start := time.Now()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT OR REPLACE INTO tickets (%s) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		insertColumns))
	if err != nil {
		return fmt.Errorf("prepare append: %w", err)
	}
	defer stmt.Close()

	syncedAt := time.Now().Unix()
	for i := range records {
		if _, err := stmt.ExecContext(ctx, recordArgs(&records[i], syncedAt)...); err != nil {
			return fmt.Errorf("append ticket %s: %w", records[i].TicketID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}

	metrics.StoreWriteDuration.WithLabelValues("append").Observe(time.Since(start).Seconds())
	return nil
}

// UpsertRows writes records against the session ID index. Records whose
// ID is in the index are updated in place; the rest are appended, or
// dropped when existingOnly is set. The index is updated with appended
// IDs so a later batch in the same session updates rather than
// duplicates.
func (db *DB) UpsertRows(ctx context.Context, records []Record, index IDIndex, existingOnly bool) (UpsertResult, error) {
	var result UpsertResult
	if len(records) == 0 {
		return result, nil
	}
	start := time.Now()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	insertStmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO tickets (%s) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		insertColumns))
	if err != nil {
		return result, fmt.Errorf("prepare insert: %w", err)
	}
	defer insertStmt.Close()

	updateStmt, err := tx.PrepareContext(ctx, `
		UPDATE tickets SET
			ticket_number = ?, subject = ?, status = ?, priority = ?,
			category = ?, team_id = ?, team_name = ?, assignee = ?, requester = ?,
			created_at = ?, modified_at = ?, closed_at = ?,
			response_threshold_mins = ?, response_actual_mins = ?,
			resolution_threshold_mins = ?, resolution_actual_mins = ?,
			response_breached = ?, resolution_breached = ?,
			sla_clock_running = ?, synced_at = ?
		WHERE period_id = ? AND ticket_id = ?`)
	if err != nil {
		return result, fmt.Errorf("prepare update: %w", err)
	}
	defer updateStmt.Close()

	syncedAt := time.Now().Unix()
	for i := range records {
		r := &records[i]
		if index.Has(r.TicketID) {
			_, err := updateStmt.ExecContext(ctx,
				r.Number, r.Subject, r.Status, r.Priority,
				r.Category, r.TeamID, r.TeamName, r.Assignee, r.Requester,
				r.CreatedAt, r.ModifiedAt, r.ClosedAt,
				r.ResponseThresholdMins, r.ResponseActualMins,
				r.ResolutionThresholdMins, r.ResolutionActualMins,
				r.ResponseBreached, r.ResolutionBreached,
				r.SLAClockRunning, syncedAt,
				r.PeriodID, r.TicketID)
			if err != nil {
				return result, fmt.Errorf("update ticket %s: %w", r.TicketID, err)
			}
			result.Updated++
			continue
		}
		if existingOnly {
			result.Dropped++
			continue
		}
		if _, err := insertStmt.ExecContext(ctx, recordArgs(r, syncedAt)...); err != nil {
			return result, fmt.Errorf("insert ticket %s: %w", r.TicketID, err)
		}
		index.Add(r.TicketID)
		result.Appended++
	}
	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("commit upsert: %w", err)
	}

	metrics.StoreWriteDuration.WithLabelValues("upsert").Observe(time.Since(start).Seconds())
	return result, nil
}

// CountByPeriod returns the number of stored tickets for a period.
func (db *DB) CountByPeriod(ctx context.Context, periodID string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tickets WHERE period_id = ?`, periodID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count period %s: %w", periodID, err)
	}
	return count, nil
}

// PurgePeriod removes every ticket for a period. Used by full reset.
func (db *DB) PurgePeriod(ctx context.Context, periodID string) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM tickets WHERE period_id = ?`, periodID)
	if err != nil {
		return 0, fmt.Errorf("purge period %s: %w", periodID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	logging.Info().Str("period_id", periodID).Int64("rows", n).Msg("Period purged from record store")
	return n, nil
}
