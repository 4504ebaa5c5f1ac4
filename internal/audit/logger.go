// ticketsync - Resumable Helpdesk Ticket Synchronization
// Copyright 2026 Halodesk
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/halodesk/ticketsync

package audit

import (
	"context"
	"sync"
	"time"

	"github.com/halodesk/ticketsync/internal/config"
	"github.com/halodesk/ticketsync/internal/logging"
)

// Logger buffers events and writes them asynchronously. A full buffer
// drops the event rather than blocking the sync loop.
type Logger struct {
	cfg       *config.AuditConfig
	store     Store
	eventChan chan *Event
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewLogger starts the async writer. A nil store or disabled config
// yields a logger that discards everything.
func NewLogger(store Store, cfg *config.AuditConfig) *Logger {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	l := &Logger{
		cfg:       cfg,
		store:     store,
		eventChan: make(chan *Event, bufferSize),
		stopChan:  make(chan struct{}),
	}
	l.wg.Add(1)
	go l.asyncWriter()
	return l
}

// Log enqueues an event. Never blocks.
func (l *Logger) Log(event *Event) {
	if !l.cfg.Enabled || l.store == nil {
		return
	}
	select {
	case l.eventChan <- event:
	default:
		logging.Warn().Str("operation", event.Operation).Msg("Audit buffer full, event dropped")
	}
}

// Close stops the writer after draining buffered events.
func (l *Logger) Close() {
	l.stopOnce.Do(func() {
		close(l.stopChan)
	})
	l.wg.Wait()
}

// Cleanup removes events past the retention window.
func (l *Logger) Cleanup(ctx context.Context) error {
	if l.store == nil || l.cfg.RetentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -l.cfg.RetentionDays)
	n, err := l.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		logging.Debug().Int64("deleted", n).Msg("Audit retention cleanup")
	}
	return nil
}

func (l *Logger) asyncWriter() {
	defer l.wg.Done()

	for {
		select {
		case <-l.stopChan:
			for {
				select {
				case event := <-l.eventChan:
					l.writeEvent(event)
				default:
					return
				}
			}
		case event := <-l.eventChan:
			l.writeEvent(event)
		}
	}
}

func (l *Logger) writeEvent(event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.store.Save(ctx, event); err != nil {
		logging.Warn().Err(err).Str("operation", event.Operation).Msg("Failed to persist audit event")
	}
}
