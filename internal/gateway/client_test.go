// ticketsync - Resumable Helpdesk Ticket Synchronization
// Copyright 2026 Halodesk
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/halodesk/ticketsync

package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/halodesk/ticketsync/internal/config"
	"github.com/halodesk/ticketsync/internal/models/helpdesk"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.HelpdeskConfig{
		BaseURL: server.URL,
		Token:   "test-token",
		SiteID:  "site-1",
		Timeout: 5 * time.Second,
	}
	client := NewClient(cfg, 0, nil)
	// Keep retry backoff out of test wall time.
	client.retryBaseDelay = time.Millisecond
	return client, server
}

func TestSearchTicketsDecodesPage(t *testing.T) {
	var gotAuth, gotSite, gotQuery string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotSite = r.Header.Get("X-Site-Id")
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"Items": [{"Id": "T-1", "Subject": "s", "Status": "open", "Priority": "P3", "Requester": "u", "CreatedAt": 100, "ModifiedAt": 100}],
			"Paging": {"TotalRows": 321}
		}`))
	})
	client, _ := newTestClient(t, handler)

	from := int64(50)
	resp, err := client.SearchTickets(context.Background(), Page{
		Index:   2,
		Size:    100,
		SortBy:  helpdesk.SortByCreated,
		SortDir: helpdesk.SortAscending,
	}, &helpdesk.SearchFilter{CreatedFrom: &from})
	if err != nil {
		t.Fatalf("SearchTickets failed: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ID != "T-1" {
		t.Errorf("unexpected items: %+v", resp.Items)
	}
	if resp.Paging.TotalCount() != 321 {
		t.Errorf("expected total 321, got %d", resp.Paging.TotalCount())
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("unexpected Authorization header %q", gotAuth)
	}
	if gotSite != "site-1" {
		t.Errorf("unexpected X-Site-Id header %q", gotSite)
	}
	want := "pageIndex=2&pageSize=100&sortBy=CreatedAt&sortDir=asc"
	if gotQuery != want {
		t.Errorf("expected query %q, got %q", want, gotQuery)
	}
}

func TestSiteHeaderOmittedWhenUnconfigured(t *testing.T) {
	var hasSite bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasSite = r.Header["X-Site-Id"]
		w.Write([]byte(`{"Teams": []}`))
	})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(&config.HelpdeskConfig{
		BaseURL: server.URL,
		Token:   "test-token",
		Timeout: 5 * time.Second,
	}, 0, nil)

	if _, err := client.GetTeams(context.Background()); err != nil {
		t.Fatalf("GetTeams failed: %v", err)
	}
	if hasSite {
		t.Error("X-Site-Id sent despite empty site configuration")
	}
}

func TestTransientFailureRetriesThenExhausts(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	client, _ := newTestClient(t, handler)

	_, err := client.GetTeams(context.Background())
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	var ge *Error
	if !errors.As(err, &ge) || ge.Kind != KindTransientExhausted {
		t.Fatalf("expected transient_exhausted, got %v", err)
	}
	// Initial attempt plus three retries.
	if got := calls.Load(); got != 4 {
		t.Errorf("expected 4 calls, got %d", got)
	}
}

func TestTransientFailureRecovers(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"Teams": [{"Id": "t1", "Name": "Infra"}]}`))
	})
	client, _ := newTestClient(t, handler)

	resp, err := client.GetTeams(context.Background())
	if err != nil {
		t.Fatalf("GetTeams failed: %v", err)
	}
	if len(resp.Teams) != 1 || resp.Teams[0].Name != "Infra" {
		t.Errorf("unexpected teams: %+v", resp.Teams)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 calls, got %d", got)
	}
}

func TestBackoffDelaysDouble(t *testing.T) {
	var mu sync.Mutex
	var attempts []time.Time
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts = append(attempts, time.Now())
		n := len(attempts)
		mu.Unlock()
		if n <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"Teams": []}`))
	})
	client, _ := newTestClient(t, handler)
	base := 20 * time.Millisecond
	client.retryBaseDelay = base

	if _, err := client.GetTeams(context.Background()); err != nil {
		t.Fatalf("GetTeams failed: %v", err)
	}
	if len(attempts) != 4 {
		t.Fatalf("expected 4 attempts, got %d", len(attempts))
	}

	// Gaps follow base, 2x, 4x. Scheduling jitter only stretches them,
	// so assert the lower bounds and the strict growth.
	gaps := []time.Duration{
		attempts[1].Sub(attempts[0]),
		attempts[2].Sub(attempts[1]),
		attempts[3].Sub(attempts[2]),
	}
	for i, want := range []time.Duration{base, 2 * base, 4 * base} {
		if gaps[i] < want {
			t.Errorf("gap %d = %v, want at least %v", i+1, gaps[i], want)
		}
	}
}

func TestNonRetryableStatusFailsImmediately(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error": "bad token"}`))
	})
	client, _ := newTestClient(t, handler)

	_, err := client.GetTeams(context.Background())
	var ge *Error
	if !errors.As(err, &ge) || ge.Kind != KindHTTPStatus {
		t.Fatalf("expected http_status error, got %v", err)
	}
	if ge.Status != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", ge.Status)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("403 must not retry, got %d calls", got)
	}
}

func TestDecodeFailureIsClassified(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})
	client, _ := newTestClient(t, handler)

	_, err := client.GetTeams(context.Background())
	if KindOf(err) != KindDecode {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestGetSLAMetricsSendsBatchBody(t *testing.T) {
	var gotBody string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.Write([]byte(`{"Metrics": [{"TicketId": "T-1", "ClockRunning": true}]}`))
	})
	client, _ := newTestClient(t, handler)

	resp, err := client.GetSLAMetrics(context.Background(), []string{"T-1", "T-2"})
	if err != nil {
		t.Fatalf("GetSLAMetrics failed: %v", err)
	}
	want := `{"TicketIds":["T-1","T-2"]}`
	if gotBody != want {
		t.Errorf("expected body %s, got %s", want, gotBody)
	}
	if len(resp.Metrics) != 1 || !resp.Metrics[0].ClockRunning {
		t.Errorf("unexpected metrics: %+v", resp.Metrics)
	}
}

func TestContextCancellationStopsRetries(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	client, _ := newTestClient(t, handler)
	client.retryBaseDelay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.GetTeams(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
