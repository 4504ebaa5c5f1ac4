// ticketsync - Resumable Helpdesk Ticket Synchronization
// Copyright 2026 Halodesk
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/halodesk/ticketsync

package gateway

import (
	"errors"
	"fmt"
)

// Kind classifies a gateway failure for the orchestrator's error
// handling: transient exhaustion and HTTP errors end the session
// without touching cursors; decode errors indicate an API contract
// drift.
type Kind string

const (
	// KindTransientExhausted means retries for a 429/503/network
	// failure ran out.
	KindTransientExhausted Kind = "transient_exhausted"
	// KindHTTPStatus is any non-2xx status outside the retryable set.
	KindHTTPStatus Kind = "http_status"
	// KindCircuitOpen means the circuit breaker rejected the call.
	KindCircuitOpen Kind = "circuit_open"
	// KindDecode means the response body did not match the expected
	// shape.
	KindDecode Kind = "decode"
)

// Error is a classified gateway failure.
type Error struct {
	Kind     Kind
	Endpoint string
	Status   int
	Body     string
	Err      error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("gateway: %s returned status %d: %s", e.Endpoint, e.Status, e.Body)
	case KindTransientExhausted:
		return fmt.Sprintf("gateway: %s failed after retries: %v", e.Endpoint, e.Err)
	case KindCircuitOpen:
		return fmt.Sprintf("gateway: %s rejected, circuit open: %v", e.Endpoint, e.Err)
	default:
		return fmt.Sprintf("gateway: %s: %v", e.Endpoint, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the gateway error kind, or empty for foreign errors.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}
