// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

package models

// OutboxPayload is one pending ticket write queued on a device while the
// network is unavailable. The queue item's id doubles as the idempotency
// key when the write is replayed.
type OutboxPayload struct {
	Kind       EntryKind    `json:"kind"`
	UserID     string       `json:"user_id"`
	Area       string       `json:"area"`
	TableLabel string       `json:"table_label"`
	Covers     *int         `json:"covers,omitempty"`
	Items      []TicketItem `json:"items"`
	Note       string       `json:"note,omitempty"`

	// OpensTable requests the table-open side effect before the ticket
	// write, so openedAt semantics hold even for queued writes.
	OpensTable bool `json:"opens_table,omitempty"`
}

// Table returns the payload's table key.
func (p OutboxPayload) Table() TableKey {
	return TableKey{Area: p.Area, Label: p.TableLabel}
}
