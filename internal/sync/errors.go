// ticketsync - Resumable Helpdesk Ticket Synchronization
// Copyright 2026 Halodesk
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/halodesk/ticketsync

package sync

import "errors"

// ErrConfigMismatch means the running configuration differs from the
// values locked in by the first successful batch. Continuing would mix
// incompatible page boundaries in one dataset; the session fails
// before any network call. A full reset clears the locked values.
var ErrConfigMismatch = errors.New("sync: configuration differs from locked values, full reset required")
