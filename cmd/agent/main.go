// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

// Package main is the entry point for the Tabsync device agent.
//
// The agent is the device-side daemon a POS terminal embeds or runs next
// to. It owns the durable offline outbox (BadgerDB) and the optimistic
// table-occupancy cache, and keeps both converged with the server:
//
//   - the outbox syncer replays queued ticket writes in strict order
//     whenever the server is reachable, stopping at the first failure
//   - the occupancy poller reconciles the local open-table cache against
//     GET /api/v1/tables/open under the anti-flicker rule
//
// Both loops run under a suture supervisor tree and survive server
// outages; the terminal keeps taking orders against local state and the
// queue drains when connectivity returns.
//
// The device identity (business and user) comes from TABSYNC_UPSTREAM__BUSINESS_ID
// and TABSYNC_UPSTREAM__USER_ID; writes replayed from the outbox carry the
// identity of the staff member who queued them.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/coverpoint/tabsync/internal/client"
	"github.com/coverpoint/tabsync/internal/config"
	"github.com/coverpoint/tabsync/internal/logging"
	"github.com/coverpoint/tabsync/internal/occupancy"
	"github.com/coverpoint/tabsync/internal/outbox"
	"github.com/coverpoint/tabsync/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	if cfg.Upstream.BusinessID == "" || cfg.Upstream.UserID == "" {
		logging.Fatal().Msg("TABSYNC_UPSTREAM__BUSINESS_ID and TABSYNC_UPSTREAM__USER_ID must be set")
	}

	logging.Info().
		Str("upstream", cfg.Upstream.URL).
		Str("business_id", cfg.Upstream.BusinessID).
		Str("outbox_path", cfg.Outbox.Path).
		Msg("Starting Tabsync device agent")

	ob, err := outbox.Open(cfg.Outbox)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open outbox")
	}
	defer func() {
		if err := ob.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing outbox")
		}
	}()

	if depth, err := ob.Depth(); err == nil && depth > 0 {
		logging.Info().Int("depth", depth).Msg("Outbox holds queued writes from a previous run")
	}

	upstream := client.New(cfg.Upstream)
	syncer := outbox.NewSyncer(ob, upstream, cfg.Outbox.SyncInterval)

	cache := occupancy.New(cfg.Occupancy.AntiFlickerTTL)
	poller := occupancy.NewPoller(cache, upstream, cfg.Occupancy.PollInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tree := supervisor.NewTree("tabsync-agent", logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddDataService(syncer)
	tree.AddMessagingService(poller)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

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

	logging.Info().Msg("Agent stopped gracefully")
}
