// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

// Package notify delivers per-user audit and alert notifications. Rows are
// persisted synchronously so the detectors can query them; live delivery to
// connected devices goes over an in-process Watermill pub/sub that the
// websocket hub subscribes to.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/coverpoint/tabsync/internal/logging"
	"github.com/coverpoint/tabsync/internal/metrics"
	"github.com/coverpoint/tabsync/internal/models"
)

// Topic is the in-process pub/sub topic notifications are published on.
const Topic = "notifications"

// Store persists notification rows.
type Store interface {
	InsertNotification(ctx context.Context, n *models.Notification) error
}

// AdminDirectory resolves the admin user IDs alerts fan out to.
type AdminDirectory interface {
	AdminIDs(businessID string) []string
}

// StaticDirectory is an AdminDirectory backed by a fixed configured list.
// Tabsync does not own staff records; the list comes from configuration and
// applies to every business the instance serves.
type StaticDirectory struct {
	ids []string
}

// NewStaticDirectory builds a directory from configured admin user IDs.
func NewStaticDirectory(adminIDs []string) *StaticDirectory {
	ids := make([]string, len(adminIDs))
	copy(ids, adminIDs)
	return &StaticDirectory{ids: ids}
}

// AdminIDs returns the configured admin user IDs.
func (d *StaticDirectory) AdminIDs(string) []string {
	return d.ids
}

// Notifier persists notifications and broadcasts them to live subscribers.
type Notifier struct {
	store  Store
	dir    AdminDirectory
	pubsub *gochannel.GoChannel

	mu     sync.Mutex
	closed bool
}

// New creates a Notifier over the given store and admin directory.
func New(store Store, dir AdminDirectory) *Notifier {
	ps := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            64,
		BlockPublishUntilSubscriberAck: false,
	}, wmLogger{})

	return &Notifier{
		store:  store,
		dir:    dir,
		pubsub: ps,
	}
}

// Notify persists a notification and broadcasts it to live subscribers.
// Persistence failures are returned; broadcast failures are only logged
// since connected devices re-fetch on reconnect.
func (n *Notifier) Notify(ctx context.Context, notification *models.Notification) error {
	if err := n.store.InsertNotification(ctx, notification); err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}

	n.publish(notification)
	return nil
}

// NotifyAdmins fans an alert out to every admin of the business, one
// notification row per admin. The first persistence failure is returned;
// remaining admins are still attempted.
func (n *Notifier) NotifyAdmins(ctx context.Context, businessID string, typ models.NotificationType, msg string) error {
	admins := n.dir.AdminIDs(businessID)
	if len(admins) == 0 {
		logging.Warn().
			Str("business_id", businessID).
			Str("type", string(typ)).
			Msg("no admins configured, alert dropped")
		return nil
	}

	metrics.AlertsEmitted.WithLabelValues(string(typ)).Inc()

	var firstErr error
	for _, adminID := range admins {
		notification := &models.Notification{
			BusinessID: businessID,
			UserID:     adminID,
			Type:       typ,
			Message:    msg,
		}
		if err := n.Notify(ctx, notification); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			logging.Error().Err(err).
				Str("admin_id", adminID).
				Str("type", string(typ)).
				Msg("failed to deliver admin alert")
		}
	}
	return firstErr
}

// Subscribe returns a channel of live notification messages. The channel
// closes when ctx is canceled or the notifier shuts down. Message payloads
// are JSON-encoded models.Notification values.
func (n *Notifier) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return n.pubsub.Subscribe(ctx, Topic)
}

// Close shuts down the pub/sub. Persisted rows are unaffected.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	return n.pubsub.Close()
}

func (n *Notifier) publish(notification *models.Notification) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.mu.Unlock()

	data, err := json.Marshal(notification)
	if err != nil {
		logging.Error().Err(err).Msg("marshal notification for broadcast")
		return
	}

	msg := message.NewMessage(notification.ID.String(), data)
	msg.Metadata.Set("user_id", notification.UserID)
	msg.Metadata.Set("type", string(notification.Type))

	if err := n.pubsub.Publish(Topic, msg); err != nil {
		logging.Warn().Err(err).
			Str("notification_id", notification.ID.String()).
			Msg("broadcast notification failed")
	}
}

// wmLogger adapts the process logger to watermill.LoggerAdapter. Watermill's
// info-level chatter is demoted to debug to keep operational logs quiet.
type wmLogger struct {
	fields watermill.LogFields
}

func (l wmLogger) apply(ev *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range l.fields {
		ev = ev.Interface(k, v)
	}
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	return ev
}

func (l wmLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.apply(logging.Error().Err(err), fields).Msg(msg)
}

func (l wmLogger) Info(msg string, fields watermill.LogFields) {
	l.apply(logging.Debug(), fields).Msg(msg)
}

func (l wmLogger) Debug(msg string, fields watermill.LogFields) {
	l.apply(logging.Debug(), fields).Msg(msg)
}

func (l wmLogger) Trace(msg string, fields watermill.LogFields) {
	l.apply(logging.Debug(), fields).Msg(msg)
}

func (l wmLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	merged := make(watermill.LogFields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return wmLogger{fields: merged}
}
