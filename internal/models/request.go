// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// RequestStatus is the lifecycle state of an add-item request.
//
// The only legal paths are:
//
//	PENDING -> APPROVED -> APPLIED
//	PENDING -> REJECTED
//
// Stale sweeps may also force APPROVED -> REJECTED before the owning client
// has applied the items.
type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestApproved RequestStatus = "APPROVED"
	RequestRejected RequestStatus = "REJECTED"
	RequestApplied  RequestStatus = "APPLIED"
)

// ErrIllegalTransition is returned when a status transition violates the
// request lifecycle.
var ErrIllegalTransition = errors.New("illegal request status transition")

// requestTransitions is the full transition table for RequestStatus.
var requestTransitions = map[RequestStatus]map[RequestStatus]bool{
	RequestPending: {
		RequestApproved: true,
		RequestRejected: true,
	},
	RequestApproved: {
		RequestApplied: true,
		// Stale sweep force-rejects APPROVED requests that were never applied.
		RequestRejected: true,
	},
	RequestRejected: {},
	RequestApplied:  {},
}

// Valid reports whether the status is a known lifecycle state.
func (s RequestStatus) Valid() bool {
	_, ok := requestTransitions[s]
	return ok
}

// Terminal reports whether no further transitions are possible.
func (s RequestStatus) Terminal() bool {
	return len(requestTransitions[s]) == 0
}

// CanTransition reports whether moving from s to next is legal.
func (s RequestStatus) CanTransition(next RequestStatus) bool {
	return requestTransitions[s][next]
}

// Transition validates and returns the next status, or ErrIllegalTransition.
func (s RequestStatus) Transition(next RequestStatus) (RequestStatus, error) {
	if !s.CanTransition(next) {
		return s, ErrIllegalTransition
	}
	return next, nil
}

// TicketRequest is an add-item approval request: one staff member proposing
// additional items on a table owned by another staff member.
type TicketRequest struct {
	ID          uuid.UUID     `json:"id"`
	BusinessID  string        `json:"business_id"`
	RequesterID string        `json:"requester_id"`
	OwnerID     string        `json:"owner_id"`
	Area        string        `json:"area"`
	TableLabel  string        `json:"table_label"`
	Items       []TicketItem  `json:"items"`
	Note        string        `json:"note,omitempty"`
	Status      RequestStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	DecidedAt   *time.Time    `json:"decided_at,omitempty"`
}

// Table returns the request's table key.
func (r *TicketRequest) Table() TableKey {
	return TableKey{Area: r.Area, Label: r.TableLabel}
}
