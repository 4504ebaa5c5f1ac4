// ticketsync - Resumable Helpdesk Ticket Synchronization
// Copyright 2026 Halodesk
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/halodesk/ticketsync

// Package metrics defines the Prometheus collectors for the sync
// engine. Collectors register on the default registry via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ticketsync"

var (
	// GatewayRequests counts upstream API calls by endpoint and outcome
	// (success, http_error, transient_error, decode_error).
	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gateway_requests_total",
		Help:      "Upstream helpdesk API requests by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	// GatewayRetries counts retry attempts after transient failures.
	GatewayRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gateway_retries_total",
		Help:      "Retry attempts against the helpdesk API by endpoint",
	}, []string{"endpoint"})

	// GatewayRequestDuration observes wall time of upstream calls,
	// including retries.
	GatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "gateway_request_duration_seconds",
		Help:      "Duration of helpdesk API calls including retries",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})

	// SyncBatchSize observes the number of records per processed batch.
	SyncBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_batch_size",
		Help:      "Records per processed batch",
		Buckets:   []float64{1, 10, 25, 50, 100, 250, 500},
	})

	// SyncRecordsProcessed counts records written per period and mode.
	SyncRecordsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_records_processed_total",
		Help:      "Ticket records written to the store by session type",
	}, []string{"session"})

	// SyncErrors counts fatal session failures by error type.
	SyncErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_errors_total",
		Help:      "Fatal sync session errors by type",
	}, []string{"error_type"})

	// SyncSessionDuration observes total session wall time.
	SyncSessionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_session_duration_seconds",
		Help:      "Wall time of a sync session up to quantum expiry",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 240, 480},
	}, []string{"session"})

	// LockContention counts lease acquisition failures.
	LockContention = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lock_contention_total",
		Help:      "Sessions skipped or rejected because the lease was held",
	})

	// StoreWriteDuration observes record store write transactions.
	StoreWriteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "store_write_duration_seconds",
		Help:      "Duration of record store write transactions by mode",
		Buckets:   prometheus.DefBuckets,
	}, []string{"mode"})

	// EnrichmentMisses counts batches whose SLA lookup failed and was
	// tolerated with empty metrics.
	EnrichmentMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enrichment_misses_total",
		Help:      "Batches written without SLA metrics after lookup failure",
	})
)
