// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

package detection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coverpoint/tabsync/internal/config"
	"github.com/coverpoint/tabsync/internal/database"
	"github.com/coverpoint/tabsync/internal/models"
)

// PaymentHistory exposes the last payment timestamp per table.
type PaymentHistory interface {
	LastPaymentAt(ctx context.Context, businessID, area, label string) (time.Time, error)
}

// PostPaymentVoidDetector flags voids that land within a short window after
// a payment on the same table. Taking a cash payment and then voiding the
// ticket is the classic way a sale disappears from the books, but the same
// sequence also occurs on honest corrections, so the alert is advisory.
type PostPaymentVoidDetector struct {
	cfg      config.DetectionConfig
	payments PaymentHistory

	now func() time.Time
}

// NewPostPaymentVoidDetector creates the post-payment detector.
func NewPostPaymentVoidDetector(cfg config.DetectionConfig, payments PaymentHistory) *PostPaymentVoidDetector {
	return &PostPaymentVoidDetector{
		cfg:      cfg,
		payments: payments,
		now:      time.Now,
	}
}

// Type returns the rule type.
func (d *PostPaymentVoidDetector) Type() RuleType {
	return RuleTypePostPaymentVoid
}

// Check alerts when the table saw a payment within the configured window
// before this void. Tables with no payment history never trigger.
func (d *PostPaymentVoidDetector) Check(ctx context.Context, event *VoidEvent) (*Alert, error) {
	paidAt, err := d.payments.LastPaymentAt(ctx, event.BusinessID, event.Area, event.TableLabel)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last payment lookup: %w", err)
	}

	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = d.now()
	}

	elapsed := occurred.Sub(paidAt)
	if elapsed < 0 || elapsed > d.cfg.PostPaymentWindow {
		return nil, nil
	}

	sig := postPaymentSignature(event.ActorID, event.Area, event.TableLabel)
	return &Alert{
		RuleType:   RuleTypePostPaymentVoid,
		BusinessID: event.BusinessID,
		ActorID:    event.ActorID,
		Type:       models.NotifyAlertPostPaymentVoid,
		Signature:  sig,
		Message: fmt.Sprintf("%s void %d minute(s) after a payment on the same table. This can indicate a skimmed sale, or a legitimate correction.",
			sig, int(elapsed.Round(time.Minute).Minutes())),
	}, nil
}
