// ticketsync - Resumable Helpdesk Ticket Synchronization
// Copyright 2026 Halodesk
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/halodesk/ticketsync

// Package lock implements the single-session lease guarding sync,
// refresh, and reset. The lease lives in the settings database with a
// TTL longer than the execution quantum, so a crashed session never
// wedges the lock permanently.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/halodesk/ticketsync/internal/logging"
)

const leaseKey = "ticketsync:session-lease"

// retryInterval paces lease polling while an interactive caller waits.
const retryInterval = 250 * time.Millisecond

// ErrBusy is returned when another session holds the lease and the
// caller's wait budget is exhausted.
var ErrBusy = errors.New("lock: another sync session is active")

// Lease describes the current lock holder.
type Lease struct {
	Token      string    `json:"token"`
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Manager acquires and releases the session lease.
type Manager struct {
	db       *badger.DB
	leaseTTL time.Duration
}

// NewManager creates a lock manager over the settings database.
// leaseTTL must exceed the execution quantum so an interrupted session
// can resume under its own lease before expiry clears it.
func NewManager(db *badger.DB, leaseTTL time.Duration) *Manager {
	return &Manager{db: db, leaseTTL: leaseTTL}
}

// TryAcquire attempts to take the lease. With wait == 0 it fails fast
// with ErrBusy (background invocations skip the run entirely). With a
// positive wait it polls until the lease frees or the budget runs out
// (interactive invocations tolerate a short contention window).
//
// The returned Handle must be released when the session ends.
func (m *Manager) TryAcquire(ctx context.Context, holder string, wait time.Duration) (*Handle, error) {
	deadline := time.Now().Add(wait)
	for {
		h, err := m.acquireOnce(holder)
		if err == nil {
			logging.Debug().
				Str("holder", holder).
				Str("token", h.lease.Token).
				Time("expires_at", h.lease.ExpiresAt).
				Msg("Session lease acquired")
			return h, nil
		}
		if !errors.Is(err, ErrBusy) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

func (m *Manager) acquireOnce(holder string) (*Handle, error) {
	lease := Lease{
		Token:      uuid.New().String(),
		Holder:     holder,
		AcquiredAt: time.Now().UTC(),
	}
	lease.ExpiresAt = lease.AcquiredAt.Add(m.leaseTTL)

	err := m.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(leaseKey))
		if err == nil {
			var current Lease
			if verr := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &current)
			}); verr == nil && time.Now().Before(current.ExpiresAt) {
				return fmt.Errorf("%w (holder=%s)", ErrBusy, current.Holder)
			}
			// Expired or unreadable lease: claim it.
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		data, err := json.Marshal(&lease)
		if err != nil {
			return fmt.Errorf("marshal lease: %w", err)
		}
		entry := badger.NewEntry([]byte(leaseKey), data).WithTTL(m.leaseTTL)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return nil, err
	}
	return &Handle{mgr: m, lease: lease}, nil
}

// Holder returns the lease currently on record, or nil when the lock
// is free. Used by the status command.
func (m *Manager) Holder(ctx context.Context) (*Lease, error) {
	var lease Lease
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(leaseKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &lease)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read lease: %w", err)
	}
	if lease.Token == "" || time.Now().After(lease.ExpiresAt) {
		return nil, nil
	}
	return &lease, nil
}

// Handle is an acquired lease. Release is idempotent and only removes
// the lease if this handle still owns it.
type Handle struct {
	mgr   *Manager
	lease Lease
}

// Lease returns a copy of the held lease.
func (h *Handle) Lease() Lease {
	return h.lease
}

// Release frees the lease. Calling Release more than once, or after
// another session has claimed an expired lease, is safe: the record is
// only deleted when the stored token matches this handle's.
func (h *Handle) Release(ctx context.Context) error {
	err := h.mgr.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(leaseKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var current Lease
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &current)
		}); err != nil {
			return err
		}
		if current.Token != h.lease.Token {
			return nil
		}
		return txn.Delete([]byte(leaseKey))
	})
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
