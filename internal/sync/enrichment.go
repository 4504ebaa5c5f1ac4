// ticketsync - Resumable Helpdesk Ticket Synchronization
// Copyright 2026 Halodesk
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/halodesk/ticketsync

package sync

import (
	"context"

	"github.com/halodesk/ticketsync/internal/gateway"
	"github.com/halodesk/ticketsync/internal/logging"
	"github.com/halodesk/ticketsync/internal/metrics"
	"github.com/halodesk/ticketsync/internal/models/helpdesk"
)

// Enricher resolves SLA metrics for a batch of tickets in one lookup.
type Enricher struct {
	api gateway.API
}

// NewEnricher creates an enricher over the gateway.
func NewEnricher(api gateway.API) *Enricher {
	return &Enricher{api: api}
}

// FetchFor returns SLA metrics keyed by ticket ID. Enrichment is best
// effort: a failed lookup yields an empty map and the batch is written
// without metrics rather than failing the session.
func (e *Enricher) FetchFor(ctx context.Context, ticketIDs []string) map[string]helpdesk.SLAMetric {
	result := make(map[string]helpdesk.SLAMetric, len(ticketIDs))
	if len(ticketIDs) == 0 {
		return result
	}

	resp, err := e.api.GetSLAMetrics(ctx, ticketIDs)
	if err != nil {
		logging.Warn().Err(err).Int("tickets", len(ticketIDs)).Msg("SLA lookup failed, writing batch without metrics")
		metrics.EnrichmentMisses.Inc()
		return result
	}
	for _, m := range resp.Metrics {
		result[m.TicketID] = m
	}
	return result
}

// fetchTeamNames pulls the team reference list once per session so
// written rows carry a resolved team name next to the raw ID. Best
// effort: a failed fetch leaves the name column NULL.
func fetchTeamNames(ctx context.Context, api gateway.API) map[string]string {
	resp, err := api.GetTeams(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("Team list fetch failed, rows will carry team IDs only")
		return map[string]string{}
	}
	names := make(map[string]string, len(resp.Teams))
	for _, t := range resp.Teams {
		names[t.ID] = t.Name
	}
	return names
}
