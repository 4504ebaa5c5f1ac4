// ticketsync - Resumable Helpdesk Ticket Synchronization
// Copyright 2026 Halodesk
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/halodesk/ticketsync

// Package config loads and validates ticketsync configuration from layered
// sources: built-in defaults, an optional YAML file, and environment
// variables (highest priority).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for ticketsync.
type Config struct {
	Helpdesk HelpdeskConfig `koanf:"helpdesk"`
	Sync     SyncConfig     `koanf:"sync"`
	Refresh  RefreshConfig  `koanf:"refresh"`
	Store    StoreConfig    `koanf:"store"`
	Lock     LockConfig     `koanf:"lock"`
	Audit    AuditConfig    `koanf:"audit"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// HelpdeskConfig describes the upstream helpdesk REST API.
type HelpdeskConfig struct {
	// BaseURL is the API root, e.g. https://desk.example.com
	BaseURL string `koanf:"base_url" validate:"required,url"`

	// Token is the bearer token for every request.
	Token string `koanf:"token" validate:"required"`

	// SiteID, when set, is sent as the X-Site-Id tenant header.
	SiteID string `koanf:"site_id"`

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration `koanf:"timeout" validate:"min=1s"`
}

// SyncConfig controls the paginated/incremental ticket load.
type SyncConfig struct {
	// PeriodID identifies the logical load period (e.g. "2025-2026").
	// All cursor state and record rows are keyed by this value.
	PeriodID string `koanf:"period_id" validate:"required"`

	// PeriodStart and PeriodEnd bound the load window, as YYYY-MM-DD dates.
	PeriodStart string `koanf:"period_start" validate:"required"`
	PeriodEnd   string `koanf:"period_end" validate:"required"`

	// PageSize is the search page size during historical pagination.
	PageSize int `koanf:"page_size" validate:"min=1,max=500"`

	// BatchSize is how many tickets share one SLA lookup and one
	// store write.
	BatchSize int `koanf:"batch_size" validate:"min=1,max=500"`

	// Throttle is the minimum spacing between successive API calls.
	Throttle time.Duration `koanf:"throttle" validate:"min=0"`

	// Quantum is the execution budget for one invocation. Sessions stop at
	// the first loop check past this bound; an in-flight call may overrun.
	Quantum time.Duration `koanf:"quantum" validate:"min=10s"`
}

// RefreshConfig controls the modified-since refresh pass.
type RefreshConfig struct {
	// PageSize is the page size for modified-since pages.
	PageSize int `koanf:"page_size" validate:"min=1,max=500"`
}

// StoreConfig describes the durable stores.
type StoreConfig struct {
	// Path is the DuckDB database file for the ticket record store.
	Path string `koanf:"path" validate:"required"`

	// SettingsPath is the BadgerDB directory for settings, cursors and
	// the session lock lease.
	SettingsPath string `koanf:"settings_path" validate:"required"`

	// MaxMemory caps DuckDB memory usage (e.g. "1GB").
	MaxMemory string `koanf:"max_memory"`

	// Threads sets DuckDB worker threads; 0 uses runtime.NumCPU().
	Threads int `koanf:"threads" validate:"min=0"`
}

// LockConfig tunes the session lock.
type LockConfig struct {
	// LeaseTTL is how long a lease outlives its last acquisition. Must
	// exceed the sync quantum so a crashed holder expires within one cycle.
	LeaseTTL time.Duration `koanf:"lease_ttl" validate:"min=1m"`

	// InteractiveWait is how long interactive invocations wait for the
	// lock before reporting busy. Background invocations never wait.
	InteractiveWait time.Duration `koanf:"interactive_wait" validate:"min=0"`
}

// AuditConfig tunes the operations log.
type AuditConfig struct {
	Enabled       bool `koanf:"enabled"`
	BufferSize    int  `koanf:"buffer_size" validate:"min=1"`
	RetentionDays int  `koanf:"retention_days" validate:"min=1"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// periodDateLayout is the expected format of PeriodStart/PeriodEnd.
const periodDateLayout = "2006-01-02"

// PeriodWindow parses the configured period bounds. The end date is
// inclusive: the returned end is midnight UTC after the configured day.
func (c *SyncConfig) PeriodWindow() (start, end time.Time, err error) {
	start, err = time.Parse(periodDateLayout, c.PeriodStart)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid sync.period_start %q: %w", c.PeriodStart, err)
	}
	end, err = time.Parse(periodDateLayout, c.PeriodEnd)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid sync.period_end %q: %w", c.PeriodEnd, err)
	}
	end = end.AddDate(0, 0, 1)
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("sync.period_end %q precedes sync.period_start %q", c.PeriodEnd, c.PeriodStart)
	}
	return start, end, nil
}

// PeriodIsHistorical reports whether the configured period lies fully in
// the past. A historical period never transitions to incremental mode.
func (c *SyncConfig) PeriodIsHistorical(now time.Time) bool {
	_, end, err := c.PeriodWindow()
	if err != nil {
		return false
	}
	return end.Before(now)
}
