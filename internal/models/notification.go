// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType categorizes audit and alert notifications.
//
// Void notifications double as the audit substrate the anti-theft detectors
// query: the volume detector counts an actor's recent void notifications,
// and the cooldown check searches for a prior alert with the same signature
// prefix.
type NotificationType string

const (
	// NotifyVoidItem records a single item void by an actor.
	NotifyVoidItem NotificationType = "void_item"

	// NotifyVoidTicket records a whole-ticket void by an actor.
	NotifyVoidTicket NotificationType = "void_ticket"

	// NotifyRequestCreated tells an owner a request awaits their decision.
	NotifyRequestCreated NotificationType = "request_created"

	// NotifyRequestDecided tells a requester their request was decided.
	NotifyRequestDecided NotificationType = "request_decided"

	// NotifyRequestExpired records a stale-sweep force rejection.
	NotifyRequestExpired NotificationType = "request_expired"

	// NotifyAlertVoidVolume is the manager alert for excess void volume.
	NotifyAlertVoidVolume NotificationType = "alert_void_volume"

	// NotifyAlertPostPaymentVoid is the manager alert for a void shortly
	// after a payment on the same table.
	NotifyAlertPostPaymentVoid NotificationType = "alert_post_payment_void"
)

// Notification is a per-user audit or alert record.
type Notification struct {
	ID         uuid.UUID        `json:"id"`
	BusinessID string           `json:"business_id"`
	UserID     string           `json:"user_id"`
	Type       NotificationType `json:"type"`
	Message    string           `json:"message"`
	CreatedAt  time.Time        `json:"created_at"`
	ReadAt     *time.Time       `json:"read_at,omitempty"`
}

// Role is the coarse staff role resolved by the external auth collaborator.
type Role string

const (
	RoleWaiter Role = "waiter"
	RoleAdmin  Role = "admin"
)

// Identity describes the authenticated actor on a request. Session issuance
// and verification are external; Tabsync only consumes the resolved identity.
type Identity struct {
	UserID     string `json:"user_id"`
	BusinessID string `json:"business_id"`
	Role       Role   `json:"role"`

	// AdminApproved is true when a non-admin actor presented a valid
	// admin-approval token for a privileged operation (e.g. a void).
	// Token verification is the external collaborator's job.
	AdminApproved bool `json:"admin_approved,omitempty"`
}

// IsAdmin reports whether the actor holds the admin role.
func (id Identity) IsAdmin() bool {
	return id.Role == RoleAdmin
}

// MayVoid reports whether the actor may perform void operations.
func (id Identity) MayVoid() bool {
	return id.IsAdmin() || id.AdminApproved
}
