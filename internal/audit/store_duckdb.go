// ticketsync - Resumable Helpdesk Ticket Synchronization
// Copyright 2026 Halodesk
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/halodesk/ticketsync

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// DuckDBStore persists events in an ops_log table, sharing the record
// store's database file.
type DuckDBStore struct {
	conn *sql.DB
}

// NewDuckDBStore creates the store and ensures its table exists.
func NewDuckDBStore(conn *sql.DB) (*DuckDBStore, error) {
	const schema = `
		CREATE TABLE IF NOT EXISTS ops_log (
			id          VARCHAR PRIMARY KEY,
			timestamp   TIMESTAMP NOT NULL,
			operation   VARCHAR NOT NULL,
			endpoint    VARCHAR,
			outcome     VARCHAR NOT NULL,
			attempt     INTEGER NOT NULL DEFAULT 0,
			status      INTEGER NOT NULL DEFAULT 0,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			details     VARCHAR
		)`
	if _, err := conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("create ops_log table: %w", err)
	}
	return &DuckDBStore{conn: conn}, nil
}

// Save inserts one event.
func (s *DuckDBStore) Save(ctx context.Context, event *Event) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO ops_log (id, timestamp, operation, endpoint, outcome, attempt, status, duration_ms, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Timestamp, event.Operation, event.Endpoint,
		string(event.Outcome), event.Attempt, event.Status, event.DurationMs, event.Details)
	if err != nil {
		return fmt.Errorf("save audit event: %w", err)
	}
	return nil
}

// Query returns events matching the filter, newest first.
func (s *DuckDBStore) Query(ctx context.Context, filter QueryFilter) ([]*Event, error) {
	var conds []string
	var args []interface{}
	if filter.Operation != "" {
		conds = append(conds, "operation = ?")
		args = append(args, filter.Operation)
	}
	if filter.Outcome != "" {
		conds = append(conds, "outcome = ?")
		args = append(args, string(filter.Outcome))
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.Since)
	}

	query := "SELECT id, timestamp, operation, endpoint, outcome, attempt, status, duration_ms, details FROM ops_log"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var outcome string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Operation, &e.Endpoint,
			&outcome, &e.Attempt, &e.Status, &e.DurationMs, &e.Details); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Outcome = Outcome(outcome)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// Count returns the number of stored events.
func (s *DuckDBStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM ops_log`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count audit events: %w", err)
	}
	return count, nil
}

// DeleteBefore removes events older than the cutoff. Used by retention.
func (s *DuckDBStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM ops_log WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete audit events: %w", err)
	}
	return res.RowsAffected()
}
