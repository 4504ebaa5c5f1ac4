// ticketsync - Resumable Helpdesk Ticket Synchronization
// Copyright 2026 Halodesk
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/halodesk/ticketsync

// Package gateway is the HTTP layer talking to the helpdesk REST API.
// It owns retry-with-backoff for transient failures, inter-request
// throttling, error classification, and the circuit breaker. Callers
// above this layer never construct URLs or inspect status codes.
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/halodesk/ticketsync/internal/audit"
	"github.com/halodesk/ticketsync/internal/config"
	"github.com/halodesk/ticketsync/internal/logging"
	"github.com/halodesk/ticketsync/internal/metrics"
	"github.com/halodesk/ticketsync/internal/models/helpdesk"
)

// maxErrorBodySize limits how much of an error response is read for
// diagnostics.
const maxErrorBodySize = 64 * 1024

// readBodyForError reads at most maxErrorBodySize bytes for error
// reporting.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}

// API is the typed surface of the helpdesk. Orchestrators depend on
// this interface; tests substitute a fake.
type API interface {
	Ping(ctx context.Context) error
	SearchTickets(ctx context.Context, page Page, filter *helpdesk.SearchFilter) (*helpdesk.TicketSearchResponse, error)
	GetTeams(ctx context.Context) (*helpdesk.TeamsResponse, error)
	GetSLAMetrics(ctx context.Context, ticketIDs []string) (*helpdesk.SLAMetricsResponse, error)
}

// Page addresses one page of a sorted search.
type Page struct {
	Index   int
	Size    int
	SortBy  string
	SortDir string
}

// Client talks to the helpdesk API over HTTP.
type Client struct {
	baseURL string
	token   string
	siteID  string
	client  *http.Client
	limiter *rate.Limiter
	auditor *audit.Logger

	maxRetries     int
	retryBaseDelay time.Duration
}

// NewClient builds a client from configuration. The throttle interval
// becomes a rate limit applied after each successful call, so back to
// back pages never hammer the API.
func NewClient(cfg *config.HelpdeskConfig, throttle time.Duration, auditor *audit.Logger) *Client {
	var limiter *rate.Limiter
	if throttle > 0 {
		limiter = rate.NewLimiter(rate.Every(throttle), 1)
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		siteID:  cfg.SiteID,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter:        limiter,
		auditor:        auditor,
		maxRetries:     3,
		retryBaseDelay: 2 * time.Second,
	}
}

// retryableStatus reports whether the status merits a retry. Only rate
// limiting and transient unavailability qualify; everything else is a
// hard API answer.
func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// do performs one API call with retry-on-transient and throttling.
// body may be nil for GET requests. On success the decoded result is
// written into result.
func (c *Client) do(ctx context.Context, operation, method, path string, query map[string]string, body, result interface{}) error {
	start := time.Now()
	endpoint := path
	defer func() {
		metrics.GatewayRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindDecode, Endpoint: endpoint, Err: fmt.Errorf("marshal request: %w", err)}
		}
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		reqURL += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt > 0 {
			// Backoff doubles each attempt: base, 2x, 4x.
			delay := c.retryBaseDelay * time.Duration(1<<uint(attempt-1))
			logging.Warn().
				Str("endpoint", endpoint).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Retrying helpdesk request after transient failure")
			metrics.GatewayRetries.WithLabelValues(endpoint).Inc()
			c.logAttempt(operation, endpoint, audit.OutcomeRetry, attempt, 0, start, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		var reader io.Reader
		if bodyBytes != nil {
			reader = bytes.NewReader(bodyBytes)
		} else {
			reader = http.NoBody
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/json")
		// The tenant header is optional; single-site deployments leave
		// it unconfigured.
		if c.siteID != "" {
			req.Header.Set("X-Site-Id", c.siteID)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			// Network failures are transient: retry.
			lastErr = err
			continue
		}

		if retryableStatus(resp.StatusCode) {
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			// Honor Retry-After when present on the final read; the
			// body carries nothing useful.
			_ = resp.Body.Close()
			if ra := resp.Header.Get("Retry-After"); ra != "" && attempt < c.maxRetries {
				if seconds, perr := strconv.Atoi(ra); perr == nil {
					select {
					case <-time.After(time.Duration(seconds) * time.Second):
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			errBody := readBodyForError(resp.Body)
			_ = resp.Body.Close()
			metrics.GatewayRequests.WithLabelValues(endpoint, "http_error").Inc()
			c.logAttempt(operation, endpoint, audit.OutcomeFailure, attempt, resp.StatusCode, start, nil)
			return &Error{
				Kind:     KindHTTPStatus,
				Endpoint: endpoint,
				Status:   resp.StatusCode,
				Body:     string(errBody),
			}
		}

		decodeErr := json.NewDecoder(resp.Body).Decode(result)
		_ = resp.Body.Close()
		if decodeErr != nil {
			metrics.GatewayRequests.WithLabelValues(endpoint, "decode_error").Inc()
			c.logAttempt(operation, endpoint, audit.OutcomeFailure, attempt, resp.StatusCode, start, decodeErr)
			return &Error{Kind: KindDecode, Endpoint: endpoint, Status: resp.StatusCode, Err: decodeErr}
		}

		metrics.GatewayRequests.WithLabelValues(endpoint, "success").Inc()
		c.logAttempt(operation, endpoint, audit.OutcomeSuccess, attempt, resp.StatusCode, start, nil)

		// Pace the next call; a single-page session pays nothing extra
		// because the token bucket starts full.
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		return nil
	}

	metrics.GatewayRequests.WithLabelValues(endpoint, "transient_error").Inc()
	c.logAttempt(operation, endpoint, audit.OutcomeFailure, c.maxRetries, 0, start, lastErr)
	return &Error{Kind: KindTransientExhausted, Endpoint: endpoint, Err: lastErr}
}

func (c *Client) logAttempt(operation, endpoint string, outcome audit.Outcome, attempt, status int, start time.Time, err error) {
	if c.auditor == nil {
		return
	}
	e := audit.NewEvent(operation, outcome)
	e.Endpoint = endpoint
	e.Attempt = attempt
	e.Status = status
	e.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		e.Details = err.Error()
	}
	c.auditor.Log(e)
}

// Ping verifies connectivity and credentials via the teams endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.GetTeams(ctx)
	return err
}

// SearchTickets fetches one page of the sorted ticket search.
func (c *Client) SearchTickets(ctx context.Context, page Page, filter *helpdesk.SearchFilter) (*helpdesk.TicketSearchResponse, error) {
	if filter == nil {
		filter = &helpdesk.SearchFilter{}
	}
	query := map[string]string{
		"pageIndex": strconv.Itoa(page.Index),
		"pageSize":  strconv.Itoa(page.Size),
		"sortBy":    page.SortBy,
		"sortDir":   page.SortDir,
	}
	var resp helpdesk.TicketSearchResponse
	if err := c.do(ctx, "gateway.search", http.MethodPost, "/api/v1/tickets/search", query, filter, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTeams fetches the assignment group list.
func (c *Client) GetTeams(ctx context.Context) (*helpdesk.TeamsResponse, error) {
	var resp helpdesk.TeamsResponse
	if err := c.do(ctx, "gateway.teams", http.MethodGet, "/api/v1/teams", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetSLAMetrics fetches SLA clocks for a batch of ticket IDs.
func (c *Client) GetSLAMetrics(ctx context.Context, ticketIDs []string) (*helpdesk.SLAMetricsResponse, error) {
	req := &helpdesk.SLAMetricsRequest{TicketIds: ticketIDs}
	var resp helpdesk.SLAMetricsResponse
	if err := c.do(ctx, "gateway.sla", http.MethodPost, "/api/v1/sla/metrics", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
