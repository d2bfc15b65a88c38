// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

// Package main is the entry point for the Tabsync server.
//
// The server is the authoritative side of the system: it owns the DuckDB
// ticket log and table state, runs the add-item approval workflow, and fans
// alerts and notifications out to connected devices over WebSocket.
//
// # Startup order
//
//  1. Configuration: Koanf v2 layered load (defaults, YAML file, TABSYNC_* env)
//  2. Database: DuckDB ticket log, table state, requests, notifications
//  3. Notifier: persisted notification rows plus in-process pub/sub
//  4. Detection: anti-theft void heuristics (optional, TABSYNC_DETECTION__ENABLED)
//  5. Services: tables, tickets, requests, stale-request sweeper
//  6. WebSocket hub and notification fanout
//  7. HTTP server: REST API under /api/v1 plus /metrics and /ws
//
// All long-running components run under a three-layer suture supervisor tree
// (data, messaging, api) and restart independently on failure.
//
// # Signal handling
//
// SIGINT and SIGTERM trigger a graceful shutdown: the HTTP server drains
// in-flight requests, the hub closes client connections, and the supervisor
// waits for every service up to its shutdown timeout.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/coverpoint/tabsync/internal/api"
	"github.com/coverpoint/tabsync/internal/backup"
	"github.com/coverpoint/tabsync/internal/config"
	"github.com/coverpoint/tabsync/internal/database"
	"github.com/coverpoint/tabsync/internal/detection"
	"github.com/coverpoint/tabsync/internal/logging"
	"github.com/coverpoint/tabsync/internal/notify"
	"github.com/coverpoint/tabsync/internal/requests"
	"github.com/coverpoint/tabsync/internal/supervisor"
	"github.com/coverpoint/tabsync/internal/tables"
	"github.com/coverpoint/tabsync/internal/tickets"
	ws "github.com/coverpoint/tabsync/internal/websocket"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		// Use default logger for config errors (config not yet available)
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Bool("detection_enabled", cfg.Detection.Enabled).
		Int("admin_count", len(cfg.Staff.AdminIDs)).
		Msg("Starting Tabsync server")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Notifier persists rows and publishes to the in-process pub/sub the
	// websocket fanout subscribes to.
	notifier := notify.New(db, notify.NewStaticDirectory(cfg.Staff.AdminIDs))
	defer func() {
		if err := notifier.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing notifier")
		}
	}()

	if len(cfg.Staff.AdminIDs) == 0 {
		logging.Warn().Msg("No admin IDs configured (TABSYNC_STAFF__ADMIN_IDS) - anti-theft alerts have nowhere to go")
	}

	engine := initDetection(cfg, notifier, db)

	wsHub := ws.NewHub()
	fanout := ws.NewFanout(wsHub, notifier)

	tableSvc := tables.New(db, wsHub)
	ticketSvc := tickets.New(db, tableSvc, notifier, dispatcher(engine))
	requestSvc := requests.New(db, tableSvc, notifier, cfg.Requests)
	sweeper := requests.NewSweeper(requestSvc, db)

	handler := api.NewHandler(ticketSvc, tableSvc, requestSvc, db, db, db, nil)
	wsHandler := api.NewWSHandler(wsHub, nil)
	router := api.NewRouter(handler, wsHandler, cfg.Security)

	// Bridge zerolog to slog for sutureslog
	slogLogger := logging.NewSlogLogger()

	tree := supervisor.NewTree("tabsync", slogLogger, supervisor.DefaultTreeConfig())

	tree.AddDataService(sweeper)
	if cfg.Backup.Enabled {
		backupMgr, err := backup.NewManager(cfg.Backup, db)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize backup manager")
		}
		tree.AddDataService(backup.NewScheduler(backupMgr, cfg.Backup.Interval))
		logging.Info().
			Str("dir", cfg.Backup.Dir).
			Dur("interval", cfg.Backup.Interval).
			Msg("Backup scheduler added to supervisor tree")
	}
	tree.AddMessagingService(wsHub)
	tree.AddMessagingService(fanout)
	if engine != nil {
		tree.AddMessagingService(engine)
		logging.Info().Msg("Detection engine added to supervisor tree")
	}
	httpServer := supervisor.NewHTTPServer(cfg.Server, router.Setup())
	tree.AddAPIService(httpServer)
	logging.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Application stopped gracefully")
}

// initDetection builds the anti-theft engine with both void heuristics
// registered. Returns nil when detection is disabled; ticket voids then
// skip dispatch entirely.
func initDetection(cfg *config.Config, sink detection.AlertSink, db *database.DB) *detection.Engine {
	if !cfg.Detection.Enabled {
		logging.Info().Msg("Detection engine disabled (TABSYNC_DETECTION__ENABLED=false)")
		return nil
	}

	engine := detection.NewEngine(cfg.Detection, sink, db)
	engine.Register(detection.NewVoidVolumeDetector(cfg.Detection, db))
	engine.Register(detection.NewPostPaymentVoidDetector(cfg.Detection, db))

	logging.Info().
		Int("ticket_void_threshold", cfg.Detection.TicketVoidThreshold).
		Int("item_void_threshold", cfg.Detection.ItemVoidThreshold).
		Dur("volume_window", cfg.Detection.VolumeWindow).
		Dur("post_payment_window", cfg.Detection.PostPaymentWindow).
		Msg("Detection engine initialized")

	return engine
}

// dispatcher keeps a nil *Engine from becoming a non-nil Dispatcher
// interface value.
func dispatcher(engine *detection.Engine) tickets.Dispatcher {
	if engine == nil {
		return nil
	}
	return engine
}
