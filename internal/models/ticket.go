// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

// Package models defines the domain types shared across Tabsync components:
// ticket log entries, table state, add-item requests, notifications, and the
// standard API response envelope.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntryKind distinguishes what a ticket log entry records.
type EntryKind string

const (
	// EntryKindSend records items sent to a table ("Send Items").
	EntryKindSend EntryKind = "send"

	// EntryKindPayment records a payment taken on a table ("Pay").
	// The post-payment void detector keys off the timestamp of the most
	// recent payment entry for a table.
	EntryKindPayment EntryKind = "payment"
)

// Valid reports whether the kind is a known entry kind.
func (k EntryKind) Valid() bool {
	return k == EntryKindSend || k == EntryKindPayment
}

// TableKey addresses a table within a business: a service zone (area)
// containing addressable tables (label), e.g. "Main:T1".
type TableKey struct {
	Area  string `json:"area"`
	Label string `json:"label"`
}

// String returns the canonical "area:label" form.
func (t TableKey) String() string {
	return fmt.Sprintf("%s:%s", t.Area, t.Label)
}

// TicketItem is a single line on a ticket.
//
// Voided is monotonic: once set it is never cleared. Voided items stay in
// the stored entry for audit and are filtered out of "latest" reads.
type TicketItem struct {
	Name      string  `json:"name" validate:"required"`
	Qty       int     `json:"qty" validate:"required,min=1"`
	UnitPrice float64 `json:"unit_price" validate:"gte=0"`
	VATRate   float64 `json:"vat_rate" validate:"gte=0,lte=1"`
	Note      string  `json:"note,omitempty"`
	Voided    bool    `json:"voided,omitempty"`
}

// TicketLogEntry is one logical "send" or "payment" event for a table.
//
// Entries are append-biased: they are created on Send Items/Pay, mutated
// only by void operations, and never deleted. The latest entry per
// (business, area, label) is the source of truth for what is currently
// on the table.
type TicketLogEntry struct {
	ID             uuid.UUID    `json:"id"`
	BusinessID     string       `json:"business_id"`
	Area           string       `json:"area"`
	TableLabel     string       `json:"table_label"`
	UserID         string       `json:"user_id"`
	Kind           EntryKind    `json:"kind"`
	Covers         *int         `json:"covers,omitempty"`
	Items          []TicketItem `json:"items"`
	Note           string       `json:"note,omitempty"`
	IdempotencyKey string       `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Table returns the entry's table key.
func (e *TicketLogEntry) Table() TableKey {
	return TableKey{Area: e.Area, Label: e.TableLabel}
}

// ActiveItems returns the non-voided items of the entry.
func (e *TicketLogEntry) ActiveItems() []TicketItem {
	items := make([]TicketItem, 0, len(e.Items))
	for _, it := range e.Items {
		if !it.Voided {
			items = append(items, it)
		}
	}
	return items
}

// FullyVoided reports whether every item on the entry is voided.
// A fully voided ticket has no remaining balance and closes its table.
func (e *TicketLogEntry) FullyVoided() bool {
	if len(e.Items) == 0 {
		return false
	}
	for _, it := range e.Items {
		if !it.Voided {
			return false
		}
	}
	return true
}

// AppendResult reports the outcome of a ticket log append.
// Deduped is true when an idempotency key matched an existing entry and no
// new write was performed; callers treat that as success.
type AppendResult struct {
	ID      uuid.UUID `json:"id"`
	Deduped bool      `json:"deduped,omitempty"`
}

// TableState is one composite-keyed occupancy row for a table.
//
// OpenedAt is set on the closed-to-open transition only. Repeated opens are
// idempotent no-ops on the timestamp; closing removes the row entirely.
type TableState struct {
	BusinessID string    `json:"business_id"`
	Area       string    `json:"area"`
	Label      string    `json:"label"`
	OpenedAt   time.Time `json:"opened_at"`
}

// Key returns the row's table key.
func (s TableState) Key() TableKey {
	return TableKey{Area: s.Area, Label: s.Label}
}
