// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

package requests

import (
	"context"
	"time"

	"github.com/coverpoint/tabsync/internal/logging"
	"github.com/coverpoint/tabsync/internal/models"
)

// StaleTableLister enumerates long-open tables across all businesses.
type StaleTableLister interface {
	ListStaleOpenTables(ctx context.Context, openedBefore time.Time) ([]models.TableState, error)
}

// Sweeper periodically force-rejects requests on tables that have been open
// longer than the stale cutoff. It runs under the supervision tree.
type Sweeper struct {
	svc    *Service
	lister StaleTableLister
}

// NewSweeper creates the background sweep service.
func NewSweeper(svc *Service, lister StaleTableLister) *Sweeper {
	return &Sweeper{svc: svc, lister: lister}
}

// Serve runs the sweep loop until the context is cancelled.
func (w *Sweeper) Serve(ctx context.Context) error {
	interval := w.svc.cfg.SweepInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep runs one pass. Failures are logged and retried next tick.
func (w *Sweeper) sweep(ctx context.Context) {
	cutoff := w.svc.now().Add(-w.svc.cfg.StaleCutoff)
	stale, err := w.lister.ListStaleOpenTables(ctx, cutoff)
	if err != nil {
		logging.Error().Err(err).Msg("stale table sweep lookup failed")
		return
	}

	for _, table := range stale {
		n, err := w.svc.cancelActive(ctx, table.BusinessID, table.Area, table.Label)
		if err != nil {
			logging.Error().
				Err(err).
				Str("table", table.Key().String()).
				Msg("stale request sweep failed for table")
			continue
		}
		if n > 0 {
			logging.Info().
				Str("table", table.Key().String()).
				Int("cancelled", n).
				Msg("swept stale requests on long-open table")
		}
	}
}
