// ticketsync - Resumable Helpdesk Ticket Synchronization
// Copyright 2026 Halodesk
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/halodesk/ticketsync

package store

import (
	"context"
	"fmt"
)

// IDIndex is the set of ticket IDs already present for a period. It is
// built once per session so upsert decisions never query the database
// per record.
type IDIndex map[string]struct{}

// Has reports whether the ID is in the index.
func (ix IDIndex) Has(id string) bool {
	_, ok := ix[id]
	return ok
}

// Add records an ID appended during this session.
func (ix IDIndex) Add(id string) {
	ix[id] = struct{}{}
}

// BuildIDIndex loads every ticket ID stored for the period.
func (db *DB) BuildIDIndex(ctx context.Context, periodID string) (IDIndex, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT ticket_id FROM tickets WHERE period_id = ?`, periodID)
	if err != nil {
		return nil, fmt.Errorf("build id index: %w", err)
	}
	defer rows.Close()

	index := make(IDIndex)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan ticket id: %w", err)
		}
		index.Add(id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ticket ids: %w", err)
	}
	return index, nil
}
