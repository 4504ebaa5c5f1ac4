// ticketsync - Resumable Helpdesk Ticket Synchronization
// Copyright 2026 Halodesk
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/halodesk/ticketsync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"ticketsync.yaml",
	"ticketsync.yml",
	"/etc/ticketsync/config.yaml",
	"/etc/ticketsync/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "TICKETSYNC_CONFIG"

// Default returns a Config with all defaults applied and required
// fields left empty.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with all defaults applied. These are
// loaded first, then overridden by config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Helpdesk: HelpdeskConfig{
			BaseURL: "",
			Token:   "",
			SiteID:  "",
			Timeout: 30 * time.Second,
		},
		Sync: SyncConfig{
			PeriodID:    "",
			PeriodStart: "",
			PeriodEnd:   "",
			PageSize:    100,
			BatchSize:   100,
			Throttle:    2 * time.Second,
			Quantum:     4 * time.Minute,
		},
		Refresh: RefreshConfig{
			PageSize: 100,
		},
		Store: StoreConfig{
			Path:         "/data/ticketsync.duckdb",
			SettingsPath: "/data/ticketsync-settings",
			MaxMemory:    "1GB",
			Threads:      0,
		},
		Lock: LockConfig{
			LeaseTTL:        6 * time.Minute,
			InteractiveWait: 5 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:       true,
			BufferSize:    1000,
			RetentionDays: 90,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from layered sources:
//  1. Defaults (struct above)
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are skipped so unrelated environment noise cannot
// pollute the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		"helpdesk_base_url": "helpdesk.base_url",
		"helpdesk_token":    "helpdesk.token",
		"helpdesk_site_id":  "helpdesk.site_id",
		"helpdesk_timeout":  "helpdesk.timeout",

		"sync_period_id":    "sync.period_id",
		"sync_period_start": "sync.period_start",
		"sync_period_end":   "sync.period_end",
		"sync_page_size":    "sync.page_size",
		"sync_batch_size":   "sync.batch_size",
		"sync_throttle":     "sync.throttle",
		"sync_quantum":      "sync.quantum",

		"refresh_page_size": "refresh.page_size",

		"store_path":          "store.path",
		"store_settings_path": "store.settings_path",
		"store_max_memory":    "store.max_memory",
		"store_threads":       "store.threads",

		"lock_lease_ttl":        "lock.lease_ttl",
		"lock_interactive_wait": "lock.interactive_wait",

		"audit_enabled":        "audit.enabled",
		"audit_buffer_size":    "audit.buffer_size",
		"audit_retention_days": "audit.retention_days",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
