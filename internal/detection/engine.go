// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

package detection

import (
	"context"
	"time"

	"github.com/coverpoint/tabsync/internal/cache"
	"github.com/coverpoint/tabsync/internal/config"
	"github.com/coverpoint/tabsync/internal/logging"
	"github.com/coverpoint/tabsync/internal/metrics"
	"github.com/coverpoint/tabsync/internal/models"
)

// AlertSink delivers a triggered alert to the business's admins.
type AlertSink interface {
	NotifyAdmins(ctx context.Context, businessID string, typ models.NotificationType, msg string) error
}

// AlertHistory answers whether an alert with the given signature already
// went out recently. Backed by the notification log so cooldowns survive
// restarts.
type AlertHistory interface {
	HasRecentAlert(ctx context.Context, businessID string, typ models.NotificationType, messagePrefix string, since time.Time) (bool, error)
}

// Engine runs detectors over void events, fire-and-forget. Dispatch never
// blocks the caller and detection errors never surface to the operation
// that triggered them.
type Engine struct {
	cfg       config.DetectionConfig
	detectors []Detector
	sink      AlertSink
	history   AlertHistory

	// cooldowns is the fast path over AlertHistory: signature -> struct{}
	// with the cooldown as TTL.
	cooldowns *cache.Cache

	queue chan *VoidEvent
	now   func() time.Time
}

// NewEngine creates a detection engine. Register detectors before Serve.
func NewEngine(cfg config.DetectionConfig, sink AlertSink, history AlertHistory) *Engine {
	return &Engine{
		cfg:       cfg,
		sink:      sink,
		history:   history,
		cooldowns: cache.New(cfg.AlertCooldown),
		queue:     make(chan *VoidEvent, cfg.QueueSize),
		now:       time.Now,
	}
}

// Register adds a detector to the engine.
func (e *Engine) Register(d Detector) {
	e.detectors = append(e.detectors, d)
	logging.Info().Str("detector", string(d.Type())).Msg("registered detector")
}

// Dispatch queues a void event for evaluation. It never blocks: when the
// queue is full the event is dropped and counted, since detection must not
// add latency or failure modes to void operations.
func (e *Engine) Dispatch(event *VoidEvent) {
	if !e.cfg.Enabled {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.now()
	}

	select {
	case e.queue <- event:
	default:
		metrics.DetectionEvents.WithLabelValues("engine", "dropped").Inc()
		logging.Warn().
			Str("actor_id", event.ActorID).
			Str("table", event.Table().String()).
			Msg("detection queue full, event dropped")
	}
}

// Serve drains the queue until ctx is canceled. It is shaped to run under
// the supervision tree.
func (e *Engine) Serve(ctx context.Context) error {
	logging.Info().
		Int("detectors", len(e.detectors)).
		Int("queue_size", e.cfg.QueueSize).
		Msg("detection engine started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-e.queue:
			e.process(ctx, event)
		}
	}
}

func (e *Engine) process(ctx context.Context, event *VoidEvent) {
	for _, d := range e.detectors {
		alert, err := d.Check(ctx, event)
		if err != nil {
			metrics.DetectionEvents.WithLabelValues(string(d.Type()), "error").Inc()
			logging.Error().Err(err).
				Str("detector", string(d.Type())).
				Str("actor_id", event.ActorID).
				Msg("detector check failed")
			continue
		}
		if alert == nil {
			metrics.DetectionEvents.WithLabelValues(string(d.Type()), "clear").Inc()
			continue
		}
		metrics.DetectionEvents.WithLabelValues(string(d.Type()), "triggered").Inc()
		e.emit(ctx, alert)
	}
}

// emit delivers an alert unless the same signature already alerted within
// the cooldown window.
func (e *Engine) emit(ctx context.Context, alert *Alert) {
	key := alert.BusinessID + "|" + alert.Signature
	if _, hit := e.cooldowns.Get(key); hit {
		metrics.DetectionEvents.WithLabelValues(string(alert.RuleType), "cooldown").Inc()
		return
	}

	recent, err := e.history.HasRecentAlert(ctx, alert.BusinessID, alert.Type,
		alert.Signature, e.now().Add(-e.cfg.AlertCooldown))
	if err != nil {
		// On lookup failure prefer a possible duplicate over a missed alert.
		logging.Warn().Err(err).Str("signature", alert.Signature).Msg("alert cooldown lookup failed")
	} else if recent {
		e.cooldowns.SetWithTTL(key, struct{}{}, e.cfg.AlertCooldown)
		metrics.DetectionEvents.WithLabelValues(string(alert.RuleType), "cooldown").Inc()
		return
	}

	if err := e.sink.NotifyAdmins(ctx, alert.BusinessID, alert.Type, alert.Message); err != nil {
		logging.Error().Err(err).
			Str("signature", alert.Signature).
			Msg("alert delivery failed")
		return
	}
	e.cooldowns.SetWithTTL(key, struct{}{}, e.cfg.AlertCooldown)

	logging.Info().
		Str("rule", string(alert.RuleType)).
		Str("actor_id", alert.ActorID).
		Msg("alert emitted")
}
