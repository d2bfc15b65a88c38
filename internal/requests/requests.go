// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

// Package requests implements the add-item approval workflow: a staff member
// proposes items for a table another staff member owns, the owner (or an
// admin) approves or rejects, and the owning device applies approved items
// to the ticket. A background sweep force-rejects requests stranded on
// tables that have been open too long.
package requests

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coverpoint/tabsync/internal/config"
	"github.com/coverpoint/tabsync/internal/database"
	"github.com/coverpoint/tabsync/internal/logging"
	"github.com/coverpoint/tabsync/internal/models"
	"github.com/coverpoint/tabsync/internal/validation"
)

// ErrNotPermitted is returned when the actor may not decide or apply the
// request.
var ErrNotPermitted = errors.New("actor may not act on this request")

// Store is the persistence surface the workflow needs.
type Store interface {
	InsertTicketRequest(ctx context.Context, req *models.TicketRequest) error
	GetTicketRequest(ctx context.Context, businessID string, id uuid.UUID) (*models.TicketRequest, error)
	TransitionRequestStatus(ctx context.Context, businessID string, id uuid.UUID, from, to models.RequestStatus) error
	ListRequestsForOwner(ctx context.Context, businessID, ownerID string, statuses ...models.RequestStatus) ([]models.TicketRequest, error)
	ListActiveRequestsForTable(ctx context.Context, businessID, area, label string) ([]models.TicketRequest, error)
}

// Tables resolves table occupancy for staleness checks.
type Tables interface {
	OpenSince(ctx context.Context, businessID, area, label string) (time.Time, error)
}

// Notifier delivers workflow notifications. Delivery failures are logged
// and never fail the workflow operation itself.
type Notifier interface {
	Notify(ctx context.Context, notification *models.Notification) error
	NotifyAdmins(ctx context.Context, businessID string, typ models.NotificationType, msg string) error
}

// CreateInput is a new add-item request.
type CreateInput struct {
	OwnerID    string              `json:"owner_id" validate:"required"`
	Area       string              `json:"area" validate:"required"`
	TableLabel string              `json:"table_label" validate:"required"`
	Items      []models.TicketItem `json:"items" validate:"required,min=1,dive"`
	Note       string              `json:"note,omitempty"`
}

// Service runs the approval workflow.
type Service struct {
	store    Store
	tables   Tables
	notifier Notifier
	cfg      config.RequestsConfig
	now      func() time.Time
}

// New creates the workflow service. notifier may be nil.
func New(store Store, tables Tables, notifier Notifier, cfg config.RequestsConfig) *Service {
	return &Service{
		store:    store,
		tables:   tables,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Create records a PENDING request and notifies the table owner.
func (s *Service) Create(ctx context.Context, actor models.Identity, input CreateInput) (*models.TicketRequest, error) {
	if verr := validation.ValidateStruct(input); verr != nil {
		return nil, verr
	}

	req := &models.TicketRequest{
		ID:          uuid.New(),
		BusinessID:  actor.BusinessID,
		RequesterID: actor.UserID,
		OwnerID:     input.OwnerID,
		Area:        input.Area,
		TableLabel:  input.TableLabel,
		Items:       input.Items,
		Note:        input.Note,
		Status:      models.RequestPending,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.InsertTicketRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	s.notify(ctx, req.BusinessID, req.OwnerID, models.NotifyRequestCreated,
		fmt.Sprintf("%s requested %d item(s) on %s:%s",
			actor.UserID, len(req.Items), req.Area, req.TableLabel))
	return req, nil
}

// Approve moves a PENDING request to APPROVED. Only the table owner or an
// admin may decide.
func (s *Service) Approve(ctx context.Context, actor models.Identity, id uuid.UUID) error {
	return s.decide(ctx, actor, id, models.RequestApproved)
}

// Reject moves a PENDING request to REJECTED. Only the table owner or an
// admin may decide.
func (s *Service) Reject(ctx context.Context, actor models.Identity, id uuid.UUID) error {
	return s.decide(ctx, actor, id, models.RequestRejected)
}

func (s *Service) decide(ctx context.Context, actor models.Identity, id uuid.UUID, to models.RequestStatus) error {
	req, err := s.store.GetTicketRequest(ctx, actor.BusinessID, id)
	if err != nil {
		return err
	}
	if req.OwnerID != actor.UserID && !actor.IsAdmin() {
		return ErrNotPermitted
	}

	if err := s.store.TransitionRequestStatus(ctx, actor.BusinessID, id, models.RequestPending, to); err != nil {
		return err
	}

	verdict := "approved"
	if to == models.RequestRejected {
		verdict = "rejected"
	}
	s.notify(ctx, req.BusinessID, req.RequesterID, models.NotifyRequestDecided,
		fmt.Sprintf("your request for %s:%s was %s", req.Area, req.TableLabel, verdict))
	return nil
}

// MarkApplied moves APPROVED requests to APPLIED after the owning device has
// written the items to the ticket. Repeats are tolerated: a request already
// past APPROVED counts as done. Returns the number of requests transitioned.
func (s *Service) MarkApplied(ctx context.Context, actor models.Identity, ids []uuid.UUID) (int, error) {
	applied := 0
	for _, id := range ids {
		req, err := s.store.GetTicketRequest(ctx, actor.BusinessID, id)
		if err != nil {
			return applied, err
		}
		if req.OwnerID != actor.UserID {
			return applied, ErrNotPermitted
		}

		err = s.store.TransitionRequestStatus(ctx, actor.BusinessID, id,
			models.RequestApproved, models.RequestApplied)
		if errors.Is(err, database.ErrStatusConflict) {
			// Already applied (or swept); safe to skip on retry.
			continue
		}
		if err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// ListForOwner returns the actor's undecided and not-yet-applied requests.
func (s *Service) ListForOwner(ctx context.Context, actor models.Identity) ([]models.TicketRequest, error) {
	return s.store.ListRequestsForOwner(ctx, actor.BusinessID, actor.UserID,
		models.RequestPending, models.RequestApproved)
}

// PollApproved returns the actor's APPROVED requests awaiting apply. The
// owning device polls this and writes the items to the ticket.
func (s *Service) PollApproved(ctx context.Context, actor models.Identity) ([]models.TicketRequest, error) {
	return s.store.ListRequestsForOwner(ctx, actor.BusinessID, actor.UserID,
		models.RequestApproved)
}

// CancelStaleForTable force-rejects the active requests on a table, but only
// when the table has been open longer than the cutoff. cutoff <= 0 falls
// back to the configured default. A closed or recently opened table is a
// no-op. Returns the number of requests rejected.
func (s *Service) CancelStaleForTable(ctx context.Context, actor models.Identity, area, label string, cutoff time.Duration) (int, error) {
	if cutoff <= 0 {
		cutoff = s.cfg.StaleCutoff
	}

	openedAt, err := s.tables.OpenSince(ctx, actor.BusinessID, area, label)
	if errors.Is(err, database.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("staleness check %s:%s: %w", area, label, err)
	}
	if s.now().Sub(openedAt) <= cutoff {
		return 0, nil
	}

	return s.cancelActive(ctx, actor.BusinessID, area, label)
}

// cancelActive rejects every PENDING and APPROVED request on a table. Both
// parties hear about each request; admins get one summary per table.
func (s *Service) cancelActive(ctx context.Context, businessID, area, label string) (int, error) {
	active, err := s.store.ListActiveRequestsForTable(ctx, businessID, area, label)
	if err != nil {
		return 0, fmt.Errorf("list active requests %s:%s: %w", area, label, err)
	}

	cancelled := 0
	for i := range active {
		req := &active[i]
		err := s.store.TransitionRequestStatus(ctx, businessID, req.ID,
			req.Status, models.RequestRejected)
		if errors.Is(err, database.ErrStatusConflict) {
			// Decided concurrently; leave it be.
			continue
		}
		if err != nil {
			return cancelled, err
		}
		cancelled++

		msg := fmt.Sprintf("request for %s:%s expired with the table still open", area, label)
		s.notify(ctx, businessID, req.RequesterID, models.NotifyRequestExpired, msg)
		if req.OwnerID != req.RequesterID {
			s.notify(ctx, businessID, req.OwnerID, models.NotifyRequestExpired, msg)
		}
	}

	if cancelled > 0 && s.notifier != nil {
		msg := fmt.Sprintf("%d stale request(s) on %s:%s expired with the table still open",
			cancelled, area, label)
		if err := s.notifier.NotifyAdmins(ctx, businessID, models.NotifyRequestExpired, msg); err != nil {
			logging.Warn().Err(err).Str("table", area+":"+label).
				Msg("admin expiry notification delivery failed")
		}
	}
	return cancelled, nil
}

func (s *Service) notify(ctx context.Context, businessID, userID string, typ models.NotificationType, msg string) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.Notify(ctx, &models.Notification{
		BusinessID: businessID,
		UserID:     userID,
		Type:       typ,
		Message:    msg,
	})
	if err != nil {
		logging.Warn().
			Err(err).
			Str("user_id", userID).
			Str("type", string(typ)).
			Msg("request notification delivery failed")
	}
}
