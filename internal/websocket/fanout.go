// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

package websocket

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/coverpoint/tabsync/internal/logging"
	"github.com/coverpoint/tabsync/internal/models"
)

// Subscriber is the pub/sub feed the fanout drains.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan *message.Message, error)
}

// Fanout drains notifications off the pub/sub topic and pushes each one to
// its user's connected devices. Runs under the supervision tree next to
// the hub.
type Fanout struct {
	hub *Hub
	sub Subscriber
}

// NewFanout wires the notification feed to the hub.
func NewFanout(hub *Hub, sub Subscriber) *Fanout {
	return &Fanout{hub: hub, sub: sub}
}

// Serve drains the feed until the context is cancelled.
func (f *Fanout) Serve(ctx context.Context) error {
	messages, err := f.sub.Subscribe(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return ctx.Err()
			}
			f.push(msg)
			msg.Ack()
		}
	}
}

func (f *Fanout) push(msg *message.Message) {
	var notification models.Notification
	if err := json.Unmarshal(msg.Payload, &notification); err != nil {
		logging.Warn().Err(err).Msg("malformed notification on pub/sub feed")
		return
	}
	f.hub.SendToUser(notification.BusinessID, notification.UserID,
		MessageTypeNotification, &notification)
}
