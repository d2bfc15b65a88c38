// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/coverpoint/tabsync/internal/database"
	"github.com/coverpoint/tabsync/internal/logging"
	"github.com/coverpoint/tabsync/internal/models"
	"github.com/coverpoint/tabsync/internal/requests"
	"github.com/coverpoint/tabsync/internal/tickets"
	"github.com/coverpoint/tabsync/internal/validation"
)

// HeaderIdempotencyKey carries the write's idempotency key. A header value
// takes precedence over the body field.
const HeaderIdempotencyKey = "Idempotency-Key"

// NotificationStore is the notification read surface of the handlers.
type NotificationStore interface {
	ListNotificationsForUser(ctx context.Context, businessID, userID string, unreadOnly bool, limit int) ([]models.Notification, error)
	MarkNotificationsRead(ctx context.Context, businessID, userID string) error
}

// CoversStore persists a late covers count onto the latest ticket entry.
type CoversStore interface {
	SetCoversOnLatest(ctx context.Context, businessID, area, label string, covers int) error
}

// Pinger reports storage liveness for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler carries the services behind the HTTP surface.
type Handler struct {
	tickets       *tickets.Service
	tables        TablesService
	requests      *requests.Service
	notifications NotificationStore
	covers        CoversStore
	pinger        Pinger
	auth          Authenticator
}

// TablesService is the occupancy surface of the handlers.
type TablesService interface {
	Open(ctx context.Context, businessID, area, label string) error
	Close(ctx context.Context, businessID, area, label string) error
	ListOpen(ctx context.Context, businessID string) ([]models.TableState, error)
}

// NewHandler wires the services into a handler set.
func NewHandler(
	ticketSvc *tickets.Service,
	tableSvc TablesService,
	requestSvc *requests.Service,
	notifications NotificationStore,
	covers CoversStore,
	pinger Pinger,
	auth Authenticator,
) *Handler {
	if auth == nil {
		auth = &HeaderAuthenticator{}
	}
	return &Handler{
		tickets:       ticketSvc,
		tables:        tableSvc,
		requests:      requestSvc,
		notifications: notifications,
		covers:        covers,
		pinger:        pinger,
		auth:          auth,
	}
}

// identity resolves the actor or writes the 401 response.
func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	actor, err := h.auth.Authenticate(r)
	if err != nil {
		respondError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid identity")
		return models.Identity{}, false
	}
	return actor, true
}

// serviceError maps domain errors onto the response taxonomy.
func serviceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validation.RequestValidationError
	switch {
	case errors.As(err, &verr):
		apiErr := verr.ToAPIError()
		respondErrorDetails(w, r, http.StatusBadRequest, &models.APIError{
			Code:    apiErr.Code,
			Message: apiErr.Message,
			Details: apiErr.Details,
		})
	case errors.Is(err, tickets.ErrVoidNotPermitted),
		errors.Is(err, requests.ErrNotPermitted):
		respondError(w, r, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, database.ErrNotFound),
		errors.Is(err, database.ErrItemNotFound):
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, database.ErrStatusConflict),
		errors.Is(err, models.ErrIllegalTransition):
		respondError(w, r, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		logging.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "internal error")
	}
}

// HealthLive is the liveness probe.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady reports readiness, including storage reachability.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "storage unavailable")
			return
		}
	}
	respond(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// ticketWriteRequest is the POST /tickets body. Kind defaults to "send".
type ticketWriteRequest struct {
	Kind models.EntryKind `json:"kind,omitempty"`
	tickets.SendInput
}

// TicketWrite appends a send or payment entry to the ticket log.
func (h *Handler) TicketWrite(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req ticketWriteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if key := r.Header.Get(HeaderIdempotencyKey); key != "" {
		req.IdempotencyKey = key
	}
	if req.Kind == "" {
		req.Kind = models.EntryKindSend
	}
	if !req.Kind.Valid() {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, "unknown entry kind")
		return
	}

	var result models.AppendResult
	var err error
	if req.Kind == models.EntryKindPayment {
		if req.Area == "" || req.TableLabel == "" {
			respondError(w, r, http.StatusBadRequest, ErrCodeValidation, "area and table_label are required")
			return
		}
		result, err = h.tickets.RecordPayment(r.Context(), actor, req.Area, req.TableLabel, req.IdempotencyKey)
	} else {
		result, err = h.tickets.Send(r.Context(), actor, req.SendInput)
	}
	if err != nil {
		serviceError(w, r, err)
		return
	}

	respond(w, r, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"id":      result.ID,
		"deduped": result.Deduped,
	})
}

// TicketLatest returns the latest send entry for a table with voided items
// filtered out.
func (h *Handler) TicketLatest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}

	area := r.URL.Query().Get("area")
	label := r.URL.Query().Get("table")
	if area == "" || label == "" {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, "area and table query parameters are required")
		return
	}

	entry, err := h.tickets.Latest(r.Context(), actor.BusinessID, area, label)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, entry)
}

type voidItemRequest struct {
	Area       string `json:"area"`
	TableLabel string `json:"table_label"`
	ItemName   string `json:"item_name"`
}

// VoidItem voids the first matching item on a table's latest entry.
func (h *Handler) VoidItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req voidItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Area == "" || req.TableLabel == "" || req.ItemName == "" {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, "area, table_label and item_name are required")
		return
	}

	entry, err := h.tickets.VoidItem(r.Context(), actor, req.Area, req.TableLabel, req.ItemName)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, entry)
}

type voidTicketRequest struct {
	Area       string `json:"area"`
	TableLabel string `json:"table_label"`
	Reason     string `json:"reason,omitempty"`
}

// VoidTicket voids every item on a table's latest entry and closes the
// table.
func (h *Handler) VoidTicket(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req voidTicketRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Area == "" || req.TableLabel == "" {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, "area and table_label are required")
		return
	}

	entry, err := h.tickets.VoidTicket(r.Context(), actor, req.Area, req.TableLabel, req.Reason)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, entry)
}

// TablesOpen lists the open tables of the actor's business.
func (h *Handler) TablesOpen(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}

	states, err := h.tables.ListOpen(r.Context(), actor.BusinessID)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	if states == nil {
		states = []models.TableState{}
	}
	respond(w, r, http.StatusOK, states)
}

type tableStateRequest struct {
	Area  string `json:"area"`
	Label string `json:"label"`
	Open  bool   `json:"open"`
}

// SetTableState opens or closes a table.
func (h *Handler) SetTableState(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req tableStateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Area == "" || req.Label == "" {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, "area and label are required")
		return
	}

	var err error
	if req.Open {
		err = h.tables.Open(r.Context(), actor.BusinessID, req.Area, req.Label)
	} else {
		err = h.tables.Close(r.Context(), actor.BusinessID, req.Area, req.Label)
	}
	if err != nil {
		serviceError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, map[string]bool{"ok": true})
}

type coversRequest struct {
	Area   string `json:"area"`
	Label  string `json:"label"`
	Covers int    `json:"covers"`
}

// SetCovers records a late covers count on the table's latest entry.
func (h *Handler) SetCovers(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req coversRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Area == "" || req.Label == "" || req.Covers < 1 {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, "area, label and a positive covers count are required")
		return
	}

	if err := h.covers.SetCoversOnLatest(r.Context(), actor.BusinessID, req.Area, req.Label, req.Covers); err != nil {
		serviceError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, map[string]bool{"ok": true})
}

// RequestCreate records a new add-item request.
func (h *Handler) RequestCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}

	var input requests.CreateInput
	if !decodeBody(w, r, &input) {
		return
	}

	req, err := h.requests.Create(r.Context(), actor, input)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, req)
}

type decisionRequest struct {
	ID uuid.UUID `json:"id"`
}

// RequestApprove approves a pending request.
func (h *Handler) RequestApprove(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.requests.Approve)
}

// RequestReject rejects a pending request.
func (h *Handler) RequestReject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.requests.Reject)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, op func(context.Context, models.Identity, uuid.UUID) error) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req decisionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID == uuid.Nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, "id is required")
		return
	}

	if err := op(r.Context(), actor, req.ID); err != nil {
		serviceError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, map[string]bool{"ok": true})
}

type markAppliedRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

// RequestMarkApplied marks approved requests as applied to the ticket.
func (h *Handler) RequestMarkApplied(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req markAppliedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, "ids is required")
		return
	}

	applied, err := h.requests.MarkApplied(r.Context(), actor, req.IDs)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, map[string]int{"applied": applied})
}

// RequestListForOwner lists the actor's undecided and approved requests.
func (h *Handler) RequestListForOwner(w http.ResponseWriter, r *http.Request) {
	h.listRequests(w, r, h.requests.ListForOwner)
}

// RequestPollApproved lists the actor's approved requests awaiting apply.
func (h *Handler) RequestPollApproved(w http.ResponseWriter, r *http.Request) {
	h.listRequests(w, r, h.requests.PollApproved)
}

func (h *Handler) listRequests(w http.ResponseWriter, r *http.Request, op func(context.Context, models.Identity) ([]models.TicketRequest, error)) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}

	list, err := op(r.Context(), actor)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	if list == nil {
		list = []models.TicketRequest{}
	}
	respond(w, r, http.StatusOK, list)
}

type cancelStaleRequest struct {
	Area        string `json:"area"`
	TableLabel  string `json:"table_label"`
	CutoffHours int    `json:"cutoff_hours,omitempty"`
}

// RequestCancelStale force-rejects the active requests on a long-open
// table.
func (h *Handler) RequestCancelStale(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req cancelStaleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Area == "" || req.TableLabel == "" {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, "area and table_label are required")
		return
	}

	cutoff := time.Duration(req.CutoffHours) * time.Hour
	cancelled, err := h.requests.CancelStaleForTable(r.Context(), actor, req.Area, req.TableLabel, cutoff)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, map[string]int{"cancelled": cancelled})
}

// Notifications lists the actor's notifications, newest first.
func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}

	unreadOnly := r.URL.Query().Get("unread") == "true"
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			respondError(w, r, http.StatusBadRequest, ErrCodeValidation, "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}

	list, err := h.notifications.ListNotificationsForUser(r.Context(), actor.BusinessID, actor.UserID, unreadOnly, limit)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Notification{}
	}
	respond(w, r, http.StatusOK, list)
}

// NotificationsMarkRead marks all of the actor's notifications read.
func (h *Handler) NotificationsMarkRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.identity(w, r)
	if !ok {
		return
	}

	if err := h.notifications.MarkNotificationsRead(r.Context(), actor.BusinessID, actor.UserID); err != nil {
		serviceError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, map[string]bool{"ok": true})
}
