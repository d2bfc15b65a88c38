// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

// Package tickets is the service layer over the ticket log: sends, payment
// records, latest-entry reads, and the void overlay operations. Voids are
// the only mutation and they only ever add flags; nothing is hard-deleted.
package tickets

import (
	"context"
	"errors"
	"fmt"

	"github.com/coverpoint/tabsync/internal/database"
	"github.com/coverpoint/tabsync/internal/detection"
	"github.com/coverpoint/tabsync/internal/logging"
	"github.com/coverpoint/tabsync/internal/metrics"
	"github.com/coverpoint/tabsync/internal/models"
	"github.com/coverpoint/tabsync/internal/validation"
)

// ErrVoidNotPermitted indicates the actor lacks admin role or approval.
var ErrVoidNotPermitted = errors.New("void requires admin role or admin approval")

// Store is the ticket log persistence the service runs on.
type Store interface {
	AppendTicketEntry(ctx context.Context, entry *models.TicketLogEntry) (models.AppendResult, error)
	LatestTicketEntry(ctx context.Context, businessID, area, label string) (*models.TicketLogEntry, error)
	VoidItemOnLatest(ctx context.Context, businessID, area, label, name string) (*models.TicketLogEntry, error)
	VoidTicketOnLatest(ctx context.Context, businessID, area, label, reason string) (*models.TicketLogEntry, error)
}

// Tables is the occupancy side of ticket operations.
type Tables interface {
	Open(ctx context.Context, businessID, area, label string) error
	Close(ctx context.Context, businessID, area, label string) error
}

// Notifier records void audit notifications. Failures are best effort:
// logged and swallowed, never surfaced to the void caller.
type Notifier interface {
	Notify(ctx context.Context, n *models.Notification) error
}

// Dispatcher feeds completed voids to the anti-theft engine.
type Dispatcher interface {
	Dispatch(event *detection.VoidEvent)
}

// SendInput is one "Send Items" or "Pay" submission.
type SendInput struct {
	Area           string              `json:"area" validate:"required"`
	TableLabel     string              `json:"table_label" validate:"required"`
	Covers         *int                `json:"covers,omitempty" validate:"omitempty,min=1"`
	Items          []models.TicketItem `json:"items" validate:"required,min=1,dive"`
	Note           string              `json:"note,omitempty"`
	IdempotencyKey string              `json:"idempotency_key,omitempty"`
}

// Service coordinates ticket log writes with occupancy, audit, and
// detection side effects.
type Service struct {
	store      Store
	tables     Tables
	notifier   Notifier
	dispatcher Dispatcher
}

// New creates the ticket service. notifier and dispatcher may be nil.
func New(store Store, tables Tables, notifier Notifier, dispatcher Dispatcher) *Service {
	return &Service{
		store:      store,
		tables:     tables,
		notifier:   notifier,
		dispatcher: dispatcher,
	}
}

// Send validates and appends a send entry for the actor's business. The
// table is opened before the ticket write so the occupancy timestamp is in
// place by the time the entry lands; repeat opens are no-ops.
func (s *Service) Send(ctx context.Context, actor models.Identity, in SendInput) (models.AppendResult, error) {
	if err := validation.ValidateStruct(in); err != nil {
		metrics.TicketAppends.WithLabelValues(string(models.EntryKindSend), "invalid").Inc()
		return models.AppendResult{}, err
	}

	if err := s.tables.Open(ctx, actor.BusinessID, in.Area, in.TableLabel); err != nil {
		metrics.TicketAppends.WithLabelValues(string(models.EntryKindSend), "error").Inc()
		return models.AppendResult{}, fmt.Errorf("open table before send: %w", err)
	}

	entry := &models.TicketLogEntry{
		BusinessID:     actor.BusinessID,
		Area:           in.Area,
		TableLabel:     in.TableLabel,
		UserID:         actor.UserID,
		Kind:           models.EntryKindSend,
		Covers:         in.Covers,
		Items:          in.Items,
		Note:           in.Note,
		IdempotencyKey: in.IdempotencyKey,
	}

	res, err := s.store.AppendTicketEntry(ctx, entry)
	if err != nil {
		metrics.TicketAppends.WithLabelValues(string(models.EntryKindSend), "error").Inc()
		return models.AppendResult{}, err
	}

	result := "ok"
	if res.Deduped {
		result = "deduped"
	}
	metrics.TicketAppends.WithLabelValues(string(models.EntryKindSend), result).Inc()

	logging.Ctx(ctx).Debug().
		Str("table", in.Area+":"+in.TableLabel).
		Bool("deduped", res.Deduped).
		Int("items", len(in.Items)).
		Msg("ticket entry appended")

	return res, nil
}

// RecordPayment appends a payment entry for a table. Payments do not close
// the table here; the close comes through the occupancy endpoint so split
// payments keep the table open until staff say otherwise.
func (s *Service) RecordPayment(ctx context.Context, actor models.Identity, area, label, idempotencyKey string) (models.AppendResult, error) {
	entry := &models.TicketLogEntry{
		BusinessID:     actor.BusinessID,
		Area:           area,
		TableLabel:     label,
		UserID:         actor.UserID,
		Kind:           models.EntryKindPayment,
		Items:          []models.TicketItem{},
		IdempotencyKey: idempotencyKey,
	}

	res, err := s.store.AppendTicketEntry(ctx, entry)
	if err != nil {
		metrics.TicketAppends.WithLabelValues(string(models.EntryKindPayment), "error").Inc()
		return models.AppendResult{}, err
	}

	result := "ok"
	if res.Deduped {
		result = "deduped"
	}
	metrics.TicketAppends.WithLabelValues(string(models.EntryKindPayment), result).Inc()
	return res, nil
}

// Latest returns the table's most recent send entry with voided items
// filtered out, or nil when the table has no entries.
func (s *Service) Latest(ctx context.Context, businessID, area, label string) (*models.TicketLogEntry, error) {
	entry, err := s.store.LatestTicketEntry(ctx, businessID, area, label)
	if errors.Is(err, database.ErrNotFound) {
		// A table with no entries is an answer, not an error.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	filtered := *entry
	filtered.Items = entry.ActiveItems()
	return &filtered, nil
}

// VoidItem flags the first item matching name on the table's latest entry.
// The table stays open even when every line ends up voided; only VoidTicket
// clears occupancy.
func (s *Service) VoidItem(ctx context.Context, actor models.Identity, area, label, name string) (*models.TicketLogEntry, error) {
	if !actor.MayVoid() {
		metrics.VoidOperations.WithLabelValues("item", "forbidden").Inc()
		return nil, ErrVoidNotPermitted
	}

	entry, err := s.store.VoidItemOnLatest(ctx, actor.BusinessID, area, label, name)
	if err != nil {
		metrics.VoidOperations.WithLabelValues("item", "error").Inc()
		return nil, err
	}
	metrics.VoidOperations.WithLabelValues("item", "ok").Inc()

	s.audit(ctx, actor, models.NotifyVoidItem,
		fmt.Sprintf("voided %s on %s:%s", name, area, label))
	s.dispatch(actor, detection.ScopeItem, area, label, name)

	return entry, nil
}

// VoidTicket flags every item on the table's latest entry and closes the
// table. The void annotation lands in the entry note for audit.
func (s *Service) VoidTicket(ctx context.Context, actor models.Identity, area, label, reason string) (*models.TicketLogEntry, error) {
	if !actor.MayVoid() {
		metrics.VoidOperations.WithLabelValues("ticket", "forbidden").Inc()
		return nil, ErrVoidNotPermitted
	}

	entry, err := s.store.VoidTicketOnLatest(ctx, actor.BusinessID, area, label, reason)
	if err != nil {
		metrics.VoidOperations.WithLabelValues("ticket", "error").Inc()
		return nil, err
	}
	metrics.VoidOperations.WithLabelValues("ticket", "ok").Inc()

	if closeErr := s.tables.Close(ctx, actor.BusinessID, area, label); closeErr != nil {
		logging.Error().Err(closeErr).
			Str("table", area+":"+label).
			Msg("close table after ticket void failed")
	}

	s.audit(ctx, actor, models.NotifyVoidTicket,
		fmt.Sprintf("voided ticket on %s:%s", area, label))
	s.dispatch(actor, detection.ScopeTicket, area, label, "")

	return entry, nil
}

// audit writes the void audit notification against the acting user. The
// detectors count these rows, so the audit write precedes the dispatch.
func (s *Service) audit(ctx context.Context, actor models.Identity, typ models.NotificationType, msg string) {
	if s.notifier == nil {
		return
	}
	n := &models.Notification{
		BusinessID: actor.BusinessID,
		UserID:     actor.UserID,
		Type:       typ,
		Message:    msg,
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		logging.Warn().Err(err).
			Str("type", string(typ)).
			Msg("void audit notification failed")
	}
}

func (s *Service) dispatch(actor models.Identity, scope detection.VoidScope, area, label, itemName string) {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.Dispatch(&detection.VoidEvent{
		BusinessID: actor.BusinessID,
		ActorID:    actor.UserID,
		Scope:      scope,
		Area:       area,
		TableLabel: label,
		ItemName:   itemName,
	})
}
