// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/coverpoint/tabsync/internal/config"
	"github.com/coverpoint/tabsync/internal/models"
)

// VoidAuditHistory exposes the void audit trail detectors count over. The
// audit substrate is the notification log: every void writes a void_item or
// void_ticket notification for the acting user.
type VoidAuditHistory interface {
	CountRecentByTypeAndUser(ctx context.Context, businessID, userID string, since time.Time, types ...models.NotificationType) (int, error)
}

// VoidVolumeDetector flags actors whose void count in a trailing window
// crosses a threshold: separately for whole-ticket voids and item voids,
// since a waiter legitimately voids single items far more often than whole
// tickets.
type VoidVolumeDetector struct {
	cfg     config.DetectionConfig
	history VoidAuditHistory

	now func() time.Time
}

// NewVoidVolumeDetector creates the volume detector over the audit history.
func NewVoidVolumeDetector(cfg config.DetectionConfig, history VoidAuditHistory) *VoidVolumeDetector {
	return &VoidVolumeDetector{
		cfg:     cfg,
		history: history,
		now:     time.Now,
	}
}

// Type returns the rule type.
func (d *VoidVolumeDetector) Type() RuleType {
	return RuleTypeVoidVolume
}

// Check counts the actor's voids in the trailing window, including the
// event that triggered this check, and alerts when either threshold is met.
func (d *VoidVolumeDetector) Check(ctx context.Context, event *VoidEvent) (*Alert, error) {
	since := d.now().Add(-d.cfg.VolumeWindow)

	var (
		auditType models.NotificationType
		threshold int
		noun      string
	)
	switch event.Scope {
	case ScopeTicket:
		auditType = models.NotifyVoidTicket
		threshold = d.cfg.TicketVoidThreshold
		noun = "tickets"
	case ScopeItem:
		auditType = models.NotifyVoidItem
		threshold = d.cfg.ItemVoidThreshold
		noun = "items"
	default:
		return nil, fmt.Errorf("unknown void scope %q", event.Scope)
	}

	count, err := d.history.CountRecentByTypeAndUser(ctx, event.BusinessID, event.ActorID, since, auditType)
	if err != nil {
		return nil, fmt.Errorf("count recent voids: %w", err)
	}
	if count < threshold {
		return nil, nil
	}

	sig := volumeSignature(event.ActorID)
	return &Alert{
		RuleType:   RuleTypeVoidVolume,
		BusinessID: event.BusinessID,
		ActorID:    event.ActorID,
		Type:       models.NotifyAlertVoidVolume,
		Signature:  sig,
		Message: fmt.Sprintf("%s voided %d %s in the last %s. This may warrant a look; there can be a legitimate reason.",
			sig, count, noun, d.cfg.VolumeWindow),
	}, nil
}
