// ticketsync - Resumable Helpdesk Ticket Synchronization
// Copyright 2026 Halodesk
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/halodesk/ticketsync

// Package audit records an operations log of upstream API traffic and
// session lifecycle events. Writes are buffered so a slow log never
// stalls the sync loop.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies what happened to the logged operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeRetry   Outcome = "retry"
	OutcomeSkip    Outcome = "skip"
)

// Event is one operations log entry.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// Operation names the action: gateway.search, gateway.sla,
	// session.start, session.quantum_expired, session.complete.
	Operation string  `json:"operation"`
	Endpoint  string  `json:"endpoint,omitempty"`
	Outcome   Outcome `json:"outcome"`

	// Attempt is 0 for first tries, >0 for retries.
	Attempt    int    `json:"attempt,omitempty"`
	Status     int    `json:"status,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Details    string `json:"details,omitempty"`
}

// NewEvent creates an event stamped with a fresh ID and the current time.
func NewEvent(operation string, outcome Outcome) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Operation: operation,
		Outcome:   outcome,
	}
}

// QueryFilter narrows Query results. Zero fields match everything.
type QueryFilter struct {
	Operation string
	Outcome   Outcome
	Since     time.Time
	Limit     int
}

// Store persists events.
type Store interface {
	Save(ctx context.Context, event *Event) error
	Query(ctx context.Context, filter QueryFilter) ([]*Event, error)
	Count(ctx context.Context) (int, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
