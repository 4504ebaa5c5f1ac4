// ticketsync - Resumable Helpdesk Ticket Synchronization
// Copyright 2026 Halodesk
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/halodesk/ticketsync

// Package helpdesk defines the typed payloads of the upstream helpdesk
// REST API: the paginated ticket search, the teams reference list, and
// the batched SLA metrics lookup.
package helpdesk

import (
	"time"
)

// TicketSearchResponse is the envelope of POST /api/v1/tickets/search.
type TicketSearchResponse struct {
	Items  []Ticket `json:"Items"`
	Paging Paging   `json:"Paging"`
}

// Paging reports the total result size for a search. Some deployments
// return Total instead of TotalRows; TotalCount() folds both.
type Paging struct {
	TotalRows *int `json:"TotalRows"`
	Total     *int `json:"Total"`
}

// TotalCount returns the reported total row count, preferring TotalRows.
// Returns -1 when the API reported neither field.
func (p *Paging) TotalCount() int {
	if p.TotalRows != nil {
		return *p.TotalRows
	}
	if p.Total != nil {
		return *p.Total
	}
	return -1
}

// Ticket is a single ticket record as returned by the search endpoint.
//
// Pointer fields distinguish null from the zero value; the API returns
// null for fields that do not apply (e.g. ClosedAt on an open ticket).
type Ticket struct {
	ID        string  `json:"Id"`
	Number    *int    `json:"Number"`
	Subject   string  `json:"Subject"`
	Status    string  `json:"Status"`
	Priority  string  `json:"Priority"`
	Category  *string `json:"Category"`
	TeamID    *string `json:"TeamId"`
	Assignee  *string `json:"Assignee"`
	Requester string  `json:"Requester"`

	// Epoch seconds. CreatedAt orders pagination and drives the
	// incremental watermark; ModifiedAt drives the refresh pass.
	CreatedAt  int64  `json:"CreatedAt"`
	ModifiedAt int64  `json:"ModifiedAt"`
	ClosedAt   *int64 `json:"ClosedAt"`
}

// Created returns the creation timestamp as UTC time.
func (t *Ticket) Created() time.Time {
	return time.Unix(t.CreatedAt, 0).UTC()
}

// Modified returns the modification timestamp as UTC time.
func (t *Ticket) Modified() time.Time {
	return time.Unix(t.ModifiedAt, 0).UTC()
}

// SearchFilter is the request body of the search endpoint. Zero-valued
// fields are omitted so the same struct serves pagination (created
// window) and refresh (modified-since) queries.
type SearchFilter struct {
	CreatedFrom   *int64 `json:"createdFrom,omitempty"`
	CreatedTo     *int64 `json:"createdTo,omitempty"`
	ModifiedSince *int64 `json:"modifiedSince,omitempty"`
}

// Sort field and direction constants for the search endpoint.
const (
	SortByCreated  = "CreatedAt"
	SortByModified = "ModifiedAt"
	SortAscending  = "asc"
)
