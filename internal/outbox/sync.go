// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/coverpoint/tabsync/internal/logging"
	"github.com/coverpoint/tabsync/internal/metrics"
	"github.com/coverpoint/tabsync/internal/models"
)

// Upstream is the server surface replay talks to. internal/client provides
// the HTTP implementation.
type Upstream interface {
	// Online probes reachability. Sync is a no-op when it returns false.
	Online(ctx context.Context) bool

	// OpenTable performs the table-open side effect.
	OpenTable(ctx context.Context, area, label string) error

	// AppendTicket submits the ticket write with the given idempotency
	// key. A deduped response is success.
	AppendTicket(ctx context.Context, payload models.OutboxPayload, idempotencyKey string) (deduped bool, err error)

	// ReplicateCovers persists the covers count server-side. Best effort.
	ReplicateCovers(ctx context.Context, area, label string, covers int) error
}

// Syncer replays the queue against an upstream.
type Syncer struct {
	outbox   *Outbox
	upstream Upstream
	interval time.Duration
}

// NewSyncer creates a replay runner over the queue.
func NewSyncer(o *Outbox, upstream Upstream, interval time.Duration) *Syncer {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Syncer{outbox: o, upstream: upstream, interval: interval}
}

// Serve replays on a timer until ctx is canceled, shaped for the
// supervision tree. Failures pause the queue until the next tick.
func (s *Syncer) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Replay immediately on startup so a restart drains right away.
	if err := s.Sync(ctx); err != nil {
		logging.Warn().Err(err).Msg("startup outbox sync failed")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil {
				logging.Warn().Err(err).Msg("outbox sync failed")
			}
		}
	}
}

// Sync replays queued items strictly in enqueue order. For each item the
// table-open side effect runs first when requested, then the ticket write
// with the item id as idempotency key, then best-effort secondary effects;
// the item is removed only after the primary write succeeded. The first
// failure halts the cycle (no reordering, no skipping) so a stuck item
// never silently drops a later one. Offline is a clean no-op.
func (s *Syncer) Sync(ctx context.Context) error {
	if !s.upstream.Online(ctx) {
		return nil
	}

	start := time.Now()
	defer func() { metrics.OutboxSyncDuration.Observe(time.Since(start).Seconds()) }()

	items, err := s.outbox.Items(ctx)
	if err != nil {
		return fmt.Errorf("load outbox items: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	replayed := 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.replayOne(ctx, item); err != nil {
			s.outbox.totalFailures.Add(1)
			s.outbox.recordAttempt(item, err)
			metrics.OutboxReplays.WithLabelValues("failed").Inc()
			logging.Warn().Err(err).
				Str("item_id", item.ID).
				Int("replayed", replayed).
				Int("remaining", len(items)-replayed).
				Msg("outbox replay halted")
			break
		}
		replayed++
	}

	s.outbox.updateDepthMetric()
	if replayed > 0 {
		logging.Info().Int("count", replayed).Msg("outbox items replayed")
	}
	return nil
}

func (s *Syncer) replayOne(ctx context.Context, item *Item) error {
	p := item.Payload

	// Side effect before the write so openedAt predates the entry.
	if p.OpensTable {
		if err := s.upstream.OpenTable(ctx, p.Area, p.TableLabel); err != nil {
			return fmt.Errorf("table-open side effect: %w", err)
		}
	}

	deduped, err := s.upstream.AppendTicket(ctx, p, item.ID)
	if err != nil {
		return fmt.Errorf("ticket write: %w", err)
	}

	if p.Covers != nil {
		if err := s.upstream.ReplicateCovers(ctx, p.Area, p.TableLabel, *p.Covers); err != nil {
			logging.Warn().Err(err).
				Str("item_id", item.ID).
				Msg("covers replication failed, continuing")
		}
	}

	if err := s.outbox.remove(item.Seq); err != nil {
		// The write landed; a removal failure means one extra replay
		// which the idempotency key absorbs.
		return fmt.Errorf("remove replayed item: %w", err)
	}

	s.outbox.totalReplayed.Add(1)
	result := "ok"
	if deduped {
		result = "deduped"
	}
	metrics.OutboxReplays.WithLabelValues(result).Inc()
	return nil
}
