// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

package occupancy

import (
	"context"
	"time"

	"github.com/coverpoint/tabsync/internal/logging"
	"github.com/coverpoint/tabsync/internal/models"
)

// DefaultPollInterval is the reconciliation cadence when none is configured.
const DefaultPollInterval = 5 * time.Second

// OpenTablesSource answers which tables the server holds open for this
// device's business. internal/client provides the HTTP implementation.
type OpenTablesSource interface {
	GetOpenTables(ctx context.Context) ([]models.TableKey, error)
}

// Poller reconciles the cache against the server on a timer, shaped for
// the supervision tree.
type Poller struct {
	cache    *Cache
	src      OpenTablesSource
	interval time.Duration
}

// NewPoller creates a reconciliation loop over the cache.
func NewPoller(cache *Cache, src OpenTablesSource, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{cache: cache, src: src, interval: interval}
}

// Serve polls until ctx is canceled. Poll failures keep the last cached
// state; the device keeps operating on local knowledge while offline.
func (p *Poller) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	serverOpen, err := p.src.GetOpenTables(ctx)
	if err != nil {
		logging.Debug().Err(err).Msg("open-tables poll failed, keeping cached state")
		return
	}
	p.cache.Reconcile(serverOpen)
}
