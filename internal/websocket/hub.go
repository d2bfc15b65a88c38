// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

// Package websocket pushes table state changes, notifications, and manager
// alerts to connected POS devices.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/coverpoint/tabsync/internal/logging"
)

// Message types pushed to devices.
const (
	MessageTypeTableState   = "table_state"
	MessageTypeNotification = "notification"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
)

// Message is one frame on the wire.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// frame is a message with its delivery scope. An empty userID fans out to
// every client of the business.
type frame struct {
	businessID string
	userID     string
	msg        Message
}

// Hub maintains the set of connected device clients and routes frames to
// them. Table state changes fan out business-wide; notifications go to the
// one user they belong to.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan frame
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a hub ready to Serve.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan frame, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Serve runs the hub loop until the context is cancelled. Lifecycle events
// are drained before broadcasts so client state is settled when a frame
// fans out.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.add(client)
			continue
		case client := <-h.Unregister:
			h.remove(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.add(client)
		case client := <-h.Unregister:
			h.remove(client)
		case f := <-h.broadcast:
			h.deliver(f)
		}
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()
	logging.Info().
		Str("user_id", client.userID).
		Int("total_clients", total).
		Msg("device connected")
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	logging.Info().
		Str("user_id", client.userID).
		Int("total_clients", total).
		Msg("device disconnected")
}

// deliver fans a frame out to its audience. Clients are walked in connect
// order so delivery order is stable. A client with a full send buffer is
// dropped; its pumps will notice the closed channel and tear down.
func (h *Hub) deliver(f frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		if f.businessID != "" && client.businessID != f.businessID {
			continue
		}
		if f.userID != "" && client.userID != f.userID {
			continue
		}
		select {
		case client.send <- f.msg:
		default:
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
	}
}

func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	closed := len(h.clients)
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	logging.Info().
		Str("component", "websocket-hub").
		AnErr("reason", ctx.Err()).
		Int("clients_closed", closed).
		Msg("websocket hub stopped")
}

// BroadcastJSON fans a frame out to every connected client. Payloads carry
// their own business scoping.
func (h *Hub) BroadcastJSON(messageType string, data interface{}) {
	h.enqueue(frame{msg: Message{Type: messageType, Data: data}})
}

// BroadcastToBusiness fans a frame out to every client of one business.
func (h *Hub) BroadcastToBusiness(businessID, messageType string, data interface{}) {
	h.enqueue(frame{
		businessID: businessID,
		msg:        Message{Type: messageType, Data: data},
	})
}

// SendToUser delivers a frame to one user's connected devices.
func (h *Hub) SendToUser(businessID, userID, messageType string, data interface{}) {
	h.enqueue(frame{
		businessID: businessID,
		userID:     userID,
		msg:        Message{Type: messageType, Data: data},
	})
}

func (h *Hub) enqueue(f frame) {
	select {
	case h.broadcast <- f:
	default:
		logging.Warn().
			Str("message_type", f.msg.Type).
			Msg("broadcast channel full, dropping frame")
	}
}

// ClientCount returns the number of connected devices.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
