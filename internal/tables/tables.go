// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

// Package tables is the server-side occupancy map: which tables are open,
// since when. Writes go to the store first and then fan out to connected
// devices, so a missed broadcast is healed by the next poll.
package tables

import (
	"context"
	"fmt"
	"time"

	"github.com/coverpoint/tabsync/internal/logging"
	"github.com/coverpoint/tabsync/internal/models"
)

// Store is the occupancy persistence the service runs on.
type Store interface {
	SetTableOpen(ctx context.Context, businessID, area, label string, open bool) error
	ListOpenTables(ctx context.Context, businessID string) ([]models.TableState, error)
	TableOpenSince(ctx context.Context, businessID, area, label string) (time.Time, error)
}

// Broadcaster pushes table-state changes to connected devices. Delivery is
// best effort; devices reconcile against ListOpen on their poll cadence.
type Broadcaster interface {
	BroadcastJSON(messageType string, data interface{})
}

// StateChange is the broadcast payload for an occupancy transition.
type StateChange struct {
	BusinessID string    `json:"business_id"`
	Area       string    `json:"area"`
	Label      string    `json:"label"`
	Open       bool      `json:"open"`
	At         time.Time `json:"at"`
}

// Service coordinates occupancy writes and fan-out.
type Service struct {
	store       Store
	broadcaster Broadcaster
}

// New creates the occupancy service. broadcaster may be nil.
func New(store Store, broadcaster Broadcaster) *Service {
	return &Service{store: store, broadcaster: broadcaster}
}

// Open marks a table open. Opening an already-open table is a no-op that
// preserves the original opened-at timestamp.
func (s *Service) Open(ctx context.Context, businessID, area, label string) error {
	if err := s.store.SetTableOpen(ctx, businessID, area, label, true); err != nil {
		return fmt.Errorf("open table %s:%s: %w", area, label, err)
	}
	s.broadcast(businessID, area, label, true)
	return nil
}

// Close marks a table closed. Closing a closed table is a no-op.
func (s *Service) Close(ctx context.Context, businessID, area, label string) error {
	if err := s.store.SetTableOpen(ctx, businessID, area, label, false); err != nil {
		return fmt.Errorf("close table %s:%s: %w", area, label, err)
	}
	s.broadcast(businessID, area, label, false)
	return nil
}

// ListOpen returns the open tables of a business, oldest first.
func (s *Service) ListOpen(ctx context.Context, businessID string) ([]models.TableState, error) {
	return s.store.ListOpenTables(ctx, businessID)
}

// OpenSince returns when the table was opened. database.ErrNotFound means
// the table is closed.
func (s *Service) OpenSince(ctx context.Context, businessID, area, label string) (time.Time, error) {
	return s.store.TableOpenSince(ctx, businessID, area, label)
}

func (s *Service) broadcast(businessID, area, label string, open bool) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.BroadcastJSON("table_state", StateChange{
		BusinessID: businessID,
		Area:       area,
		Label:      label,
		Open:       open,
		At:         time.Now().UTC(),
	})
	logging.Debug().
		Str("table", area+":"+label).
		Bool("open", open).
		Msg("table state broadcast")
}
