// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

package api

import (
	"net/http"

	gorillaws "github.com/gorilla/websocket"

	"github.com/coverpoint/tabsync/internal/logging"
	"github.com/coverpoint/tabsync/internal/websocket"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Device identity is header-verified below; origin checks belong to
	// the CORS layer in front.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// WSHandler upgrades device connections and registers them with the hub.
type WSHandler struct {
	hub  *websocket.Hub
	auth Authenticator
}

// NewWSHandler creates the websocket endpoint handler.
func NewWSHandler(hub *websocket.Hub, auth Authenticator) *WSHandler {
	if auth == nil {
		auth = &HeaderAuthenticator{}
	}
	return &WSHandler{hub: hub, auth: auth}
}

// ServeHTTP implements GET /api/v1/ws.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	actor, err := h.auth.Authenticate(r)
	if err != nil {
		respondError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid identity")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := websocket.NewClient(h.hub, conn, actor.BusinessID, actor.UserID)
	h.hub.Register <- client
	client.Start()
}
