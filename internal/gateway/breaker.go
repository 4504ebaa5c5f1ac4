// ticketsync - Resumable Helpdesk Ticket Synchronization
// Copyright 2026 Halodesk
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/halodesk/ticketsync

package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/halodesk/ticketsync/internal/logging"
	"github.com/halodesk/ticketsync/internal/models/helpdesk"
)

// BreakerClient wraps an API with a circuit breaker so a flapping
// helpdesk does not burn the whole execution quantum on retries.
//
// The breaker opens after a 60% failure rate over at least 10 requests
// and probes recovery after 2 minutes.
type BreakerClient struct {
	api API
	cb  *gobreaker.CircuitBreaker[interface{}]
}

// NewBreakerClient wraps api with circuit breaker protection.
func NewBreakerClient(api API) *BreakerClient {
	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        "helpdesk-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state transition")
		},
	})
	return &BreakerClient{api: api, cb: cb}
}

func (b *BreakerClient) execute(endpoint string, fn func() (interface{}, error)) (interface{}, error) {
	result, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &Error{Kind: KindCircuitOpen, Endpoint: endpoint, Err: err}
		}
		return nil, err
	}
	return result, nil
}

// castResult type-asserts a breaker result.
func castResult[T any](result interface{}, err error) (*T, error) {
	if err != nil {
		return nil, err
	}
	typed, ok := result.(*T)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %T", result)
	}
	return typed, nil
}

// Ping verifies connectivity through the breaker.
func (b *BreakerClient) Ping(ctx context.Context) error {
	_, err := b.execute("/api/v1/teams", func() (interface{}, error) {
		return nil, b.api.Ping(ctx)
	})
	return err
}

// SearchTickets fetches one search page through the breaker.
func (b *BreakerClient) SearchTickets(ctx context.Context, page Page, filter *helpdesk.SearchFilter) (*helpdesk.TicketSearchResponse, error) {
	return castResult[helpdesk.TicketSearchResponse](b.execute("/api/v1/tickets/search", func() (interface{}, error) {
		return b.api.SearchTickets(ctx, page, filter)
	}))
}

// GetTeams fetches the team list through the breaker.
func (b *BreakerClient) GetTeams(ctx context.Context) (*helpdesk.TeamsResponse, error) {
	return castResult[helpdesk.TeamsResponse](b.execute("/api/v1/teams", func() (interface{}, error) {
		return b.api.GetTeams(ctx)
	}))
}

// GetSLAMetrics fetches SLA clocks through the breaker.
func (b *BreakerClient) GetSLAMetrics(ctx context.Context, ticketIDs []string) (*helpdesk.SLAMetricsResponse, error) {
	return castResult[helpdesk.SLAMetricsResponse](b.execute("/api/v1/sla/metrics", func() (interface{}, error) {
		return b.api.GetSLAMetrics(ctx, ticketIDs)
	}))
}
