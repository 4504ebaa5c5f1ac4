// ticketsync - Resumable Helpdesk Ticket Synchronization
// Copyright 2026 Halodesk
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/halodesk/ticketsync

package helpdesk

// TeamsResponse is the payload of GET /api/v1/teams. The endpoint is
// cheap and unpaginated; it doubles as the connectivity probe.
type TeamsResponse struct {
	Teams []Team `json:"Teams"`
}

// Team is an assignment group in the helpdesk.
type Team struct {
	ID   string `json:"Id"`
	Name string `json:"Name"`
}
