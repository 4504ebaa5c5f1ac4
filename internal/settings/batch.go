// ticketsync - Resumable Helpdesk Ticket Synchronization
// Copyright 2026 Halodesk
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/halodesk/ticketsync

package settings

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Batch accumulates setting writes in memory and flushes them in a
// single transaction. Reads through a Batch see its pending writes, so
// cursor code can stage updates during a page and persist them once
// after the batch of records lands in the record store.
//
// A Batch is not safe for concurrent use.
type Batch struct {
	store   *Store
	pending map[string]string
	deletes map[string]struct{}
}

// NewBatch creates an empty write batch over the store.
func (s *Store) NewBatch() *Batch {
	return &Batch{
		store:   s,
		pending: make(map[string]string),
		deletes: make(map[string]struct{}),
	}
}

// Get reads through the batch: pending writes win over stored values.
func (b *Batch) Get(ctx context.Context, key string) (string, error) {
	if v, ok := b.pending[key]; ok {
		return v, nil
	}
	if _, ok := b.deletes[key]; ok {
		return "", ErrNotFound
	}
	return b.store.Get(ctx, key)
}

// Set stages a write. Nothing reaches disk until Flush.
func (b *Batch) Set(key, value string) {
	delete(b.deletes, key)
	b.pending[key] = value
}

// SetJSON marshals v and stages it under key.
func (b *Batch) SetJSON(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	b.Set(key, string(data))
	return nil
}

// GetJSON reads through the batch and unmarshals into out.
func (b *Batch) GetJSON(ctx context.Context, key string, out interface{}) error {
	raw, err := b.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// Delete stages a key removal.
func (b *Batch) Delete(key string) {
	delete(b.pending, key)
	b.deletes[key] = struct{}{}
}

// Len reports the number of staged operations.
func (b *Batch) Len() int {
	return len(b.pending) + len(b.deletes)
}

// Flush writes all staged operations in one transaction and clears the
// batch. Flushing an empty batch is a no-op.
func (b *Batch) Flush(ctx context.Context) error {
	if b.Len() == 0 {
		return nil
	}
	err := b.store.db.Update(func(txn *badger.Txn) error {
		for key, value := range b.pending {
			if err := txn.Set([]byte(key), []byte(value)); err != nil {
				return fmt.Errorf("set %s: %w", key, err)
			}
		}
		for key := range b.deletes {
			if err := txn.Delete([]byte(key)); err != nil {
				return fmt.Errorf("delete %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("flush settings batch: %w", err)
	}
	b.pending = make(map[string]string)
	b.deletes = make(map[string]struct{})
	return nil
}
