// ticketsync - Resumable Helpdesk Ticket Synchronization
// Copyright 2026 Halodesk
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/halodesk/ticketsync

// Command ticketsync runs one synchronization session against the
// helpdesk API. It is designed to be invoked repeatedly (cron or
// manual): each invocation works for at most one execution quantum and
// persists its position, so any number of invocations compose into one
// logical sync.
//
// Usage:
//
//	ticketsync sync [--background]     continue the sync pass
//	ticketsync refresh [--background]  continue the refresh pass
//	ticketsync reset --yes             purge the period and all cursors
//	ticketsync status                  print durable state, no network
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/halodesk/ticketsync/internal/audit"
	"github.com/halodesk/ticketsync/internal/config"
	"github.com/halodesk/ticketsync/internal/gateway"
	"github.com/halodesk/ticketsync/internal/lock"
	"github.com/halodesk/ticketsync/internal/logging"
	"github.com/halodesk/ticketsync/internal/metrics"
	"github.com/halodesk/ticketsync/internal/settings"
	"github.com/halodesk/ticketsync/internal/store"
	"github.com/halodesk/ticketsync/internal/sync"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 1
	}
	command := args[0]
	flags := flag.NewFlagSet(command, flag.ExitOnError)
	background := flags.Bool("background", false, "unattended invocation: skip silently if another session is active")
	yes := flags.Bool("yes", false, "confirm destructive operations")
	if err := flags.Parse(args[1:]); err != nil {
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ticketsync: %v\n", err)
		return 1
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(cfg)
	if err != nil {
		logging.Error().Err(err).Msg("Startup failed")
		return 1
	}
	defer app.close()

	switch command {
	case "sync":
		return app.runLocked(ctx, *background, func() (*sync.Summary, error) {
			return app.orch.ContinueSync(ctx)
		})
	case "refresh":
		return app.runLocked(ctx, *background, func() (*sync.Summary, error) {
			return app.refresher.ContinueRefresh(ctx)
		})
	case "reset":
		if !*yes {
			fmt.Fprintln(os.Stderr, "ticketsync: reset purges all synced data; re-run with --yes to confirm")
			return 1
		}
		return app.runReset(ctx)
	case "status":
		return app.runStatus(ctx)
	default:
		usage()
		return 1
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: ticketsync <sync|refresh|reset|status> [flags]")
}

// app holds the wired components of one invocation.
type app struct {
	cfg       *config.Config
	settings  *settings.Store
	records   *store.DB
	auditor   *audit.Logger
	locks     *lock.Manager
	orch      *sync.Orchestrator
	refresher *sync.Refresher
}

func newApp(cfg *config.Config) (*app, error) {
	st, err := settings.Open(cfg.Store.SettingsPath)
	if err != nil {
		return nil, err
	}
	records, err := store.Open(&cfg.Store)
	if err != nil {
		st.Close()
		return nil, err
	}

	auditStore, err := audit.NewDuckDBStore(records.Conn())
	if err != nil {
		records.Close()
		st.Close()
		return nil, err
	}
	auditor := audit.NewLogger(auditStore, &cfg.Audit)

	api := gateway.NewBreakerClient(gateway.NewClient(&cfg.Helpdesk, cfg.Sync.Throttle, auditor))

	return &app{
		cfg:       cfg,
		settings:  st,
		records:   records,
		auditor:   auditor,
		locks:     lock.NewManager(st.DB(), cfg.Lock.LeaseTTL),
		orch:      sync.NewOrchestrator(cfg, api, records, st, auditor),
		refresher: sync.NewRefresher(cfg, api, records, st, auditor),
	}, nil
}

func (a *app) close() {
	if a.auditor != nil {
		a.auditor.Close()
	}
	if a.records != nil {
		if err := a.records.Close(); err != nil {
			logging.Warn().Err(err).Msg("Record store close failed")
		}
	}
	if a.settings != nil {
		if err := a.settings.Close(); err != nil {
			logging.Warn().Err(err).Msg("Settings store close failed")
		}
	}
}

// runLocked acquires the session lease, runs the session, prints the
// summary. Background invocations skip silently when the lease is
// held; interactive ones wait briefly and then report the contention.
func (a *app) runLocked(ctx context.Context, background bool, session func() (*sync.Summary, error)) int {
	wait := a.cfg.Lock.InteractiveWait
	if background {
		wait = 0
	}

	holder := fmt.Sprintf("%s-%s", hostnameOrDefault(), uuid.New().String()[:8])
	handle, err := a.locks.TryAcquire(ctx, holder, wait)
	if errors.Is(err, lock.ErrBusy) {
		metrics.LockContention.Inc()
		a.logContention()
		if background {
			logging.Info().Msg("Another session is active, skipping this invocation")
			return 0
		}
		fmt.Fprintln(os.Stderr, "ticketsync: another session is active, try again later")
		return 1
	}
	if err != nil {
		logging.Error().Err(err).Msg("Lease acquisition failed")
		return 1
	}
	defer func() {
		if err := handle.Release(context.Background()); err != nil {
			logging.Warn().Err(err).Msg("Lease release failed")
		}
	}()

	summary, err := session()
	if summary != nil {
		printJSON(summary)
	}
	if err != nil {
		logging.Error().Err(err).Msg("Session failed")
		return 1
	}
	return 0
}

// logContention records a skipped invocation in the operations log, so
// unattended runs leave a trace beyond stderr.
func (a *app) logContention() {
	e := audit.NewEvent("session.skip", audit.OutcomeSkip)
	e.Details = "session lease held by another invocation"
	a.auditor.Log(e)
}

func (a *app) runReset(ctx context.Context) int {
	handle, err := a.locks.TryAcquire(ctx, "reset", a.cfg.Lock.InteractiveWait)
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			a.logContention()
			fmt.Fprintln(os.Stderr, "ticketsync: another session is active, try again later")
		} else {
			logging.Error().Err(err).Msg("Lease acquisition failed")
		}
		return 1
	}
	defer handle.Release(context.Background()) //nolint:errcheck

	if err := a.orch.FullReset(ctx); err != nil {
		logging.Error().Err(err).Msg("Reset failed")
		return 1
	}
	fmt.Println("reset complete")
	return 0
}

func (a *app) runStatus(ctx context.Context) int {
	status, err := a.orch.Status(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Status failed")
		return 1
	}
	printJSON(status)
	if holder, err := a.locks.Holder(ctx); err == nil && holder != nil {
		fmt.Fprintf(os.Stderr, "active session: %s (expires %s)\n", holder.Holder, holder.ExpiresAt.Format("15:04:05"))
	}
	return 0
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "ticketsync: encode output: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func hostnameOrDefault() string {
	name, err := os.Hostname()
	if err != nil {
		return "ticketsync"
	}
	return name
}
