// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

// Package detection implements the anti-theft heuristics over void
// operations. Detectors are advisory: they emit admin alerts, never block
// the triggering operation, and every alert carries the caveat that a
// legitimate explanation may exist.
package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/coverpoint/tabsync/internal/models"
)

// RuleType identifies an anti-theft detection rule.
type RuleType string

const (
	// RuleTypeVoidVolume flags actors with an unusual number of voids in a
	// trailing window.
	RuleTypeVoidVolume RuleType = "void_volume"

	// RuleTypePostPaymentVoid flags voids shortly after a payment on the
	// same table, the classic skim pattern.
	RuleTypePostPaymentVoid RuleType = "post_payment_void"
)

// VoidScope is what a void event removed.
type VoidScope string

const (
	ScopeItem   VoidScope = "item"
	ScopeTicket VoidScope = "ticket"
)

// VoidEvent describes one completed void operation. Events are dispatched
// after the void committed; detection failure never affects the void.
type VoidEvent struct {
	BusinessID string
	ActorID    string
	Scope      VoidScope
	Area       string
	TableLabel string
	ItemName   string
	OccurredAt time.Time
}

// Table returns the table key of the event.
func (e *VoidEvent) Table() models.TableKey {
	return models.TableKey{Area: e.Area, Label: e.TableLabel}
}

// Alert is a triggered rule outcome bound for the business's admins.
type Alert struct {
	RuleType   RuleType
	BusinessID string
	ActorID    string

	// Type is the notification type the alert is delivered as.
	Type models.NotificationType

	// Signature is the stable message prefix used for cooldown matching:
	// one alert per signature per cooldown window.
	Signature string

	// Message is the full human-readable alert text. It always begins
	// with Signature.
	Message string
}

// Detector evaluates a void event against one rule. A nil alert with a nil
// error means the rule did not trigger.
type Detector interface {
	Type() RuleType
	Check(ctx context.Context, event *VoidEvent) (*Alert, error)
}

// volumeSignature builds the cooldown signature for a void-volume alert.
func volumeSignature(actorID string) string {
	return fmt.Sprintf("[void-volume %s]", actorID)
}

// postPaymentSignature builds the cooldown signature for a post-payment
// void alert. It includes the table so distinct incidents are not collapsed.
func postPaymentSignature(actorID, area, label string) string {
	return fmt.Sprintf("[post-payment-void %s %s:%s]", actorID, area, label)
}
