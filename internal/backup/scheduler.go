// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

package backup

import (
	"context"
	"time"

	"github.com/coverpoint/tabsync/internal/logging"
)

// Scheduler takes snapshots on a fixed interval, shaped for the
// supervision tree. A failed snapshot waits for the next tick.
type Scheduler struct {
	mgr      *Manager
	interval time.Duration
}

// NewScheduler creates a snapshot loop over the manager.
func NewScheduler(mgr *Manager, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Scheduler{mgr: mgr, interval: interval}
}

// Serve snapshots on a timer until ctx is canceled. The first snapshot
// lands one full interval after startup.
func (s *Scheduler) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.mgr.Create(ctx); err != nil {
				logging.Error().Err(err).Msg("scheduled snapshot failed")
			}
		}
	}
}
