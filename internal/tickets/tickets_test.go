// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

package tickets

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/coverpoint/tabsync/internal/database"
	"github.com/coverpoint/tabsync/internal/detection"
	"github.com/coverpoint/tabsync/internal/models"
)

type mockStore struct {
	appended []*models.TicketLogEntry
	latest   *models.TicketLogEntry
	voidErr  error
}

func (m *mockStore) AppendTicketEntry(_ context.Context, entry *models.TicketLogEntry) (models.AppendResult, error) {
	entry.ID = uuid.New()
	m.appended = append(m.appended, entry)
	return models.AppendResult{ID: entry.ID}, nil
}

func (m *mockStore) LatestTicketEntry(_ context.Context, _, _, _ string) (*models.TicketLogEntry, error) {
	if m.latest == nil {
		return nil, database.ErrNotFound
	}
	return m.latest, nil
}

func (m *mockStore) VoidItemOnLatest(_ context.Context, _, _, _, name string) (*models.TicketLogEntry, error) {
	if m.voidErr != nil {
		return nil, m.voidErr
	}
	for i := range m.latest.Items {
		if m.latest.Items[i].Name == name && !m.latest.Items[i].Voided {
			m.latest.Items[i].Voided = true
			return m.latest, nil
		}
	}
	return nil, errors.New("item not found")
}

func (m *mockStore) VoidTicketOnLatest(_ context.Context, _, _, _, _ string) (*models.TicketLogEntry, error) {
	if m.voidErr != nil {
		return nil, m.voidErr
	}
	for i := range m.latest.Items {
		m.latest.Items[i].Voided = true
	}
	return m.latest, nil
}

type mockTables struct {
	opened  []string
	closed  []string
	openErr error
}

func (m *mockTables) Open(_ context.Context, _, area, label string) error {
	if m.openErr != nil {
		return m.openErr
	}
	m.opened = append(m.opened, area+":"+label)
	return nil
}

func (m *mockTables) Close(_ context.Context, _, area, label string) error {
	m.closed = append(m.closed, area+":"+label)
	return nil
}

type mockNotifier struct {
	notifications []*models.Notification
	err           error
}

func (m *mockNotifier) Notify(_ context.Context, n *models.Notification) error {
	if m.err != nil {
		return m.err
	}
	m.notifications = append(m.notifications, n)
	return nil
}

type mockDispatcher struct {
	events []*detection.VoidEvent
}

func (m *mockDispatcher) Dispatch(e *detection.VoidEvent) {
	m.events = append(m.events, e)
}

func waiter() models.Identity {
	return models.Identity{UserID: "w1", BusinessID: "biz1", Role: models.RoleWaiter}
}

func admin() models.Identity {
	return models.Identity{UserID: "a1", BusinessID: "biz1", Role: models.RoleAdmin}
}

func validSend() SendInput {
	return SendInput{
		Area:       "Main",
		TableLabel: "T1",
		Items: []models.TicketItem{
			{Name: "Pasta", Qty: 2, UnitPrice: 10, VATRate: 0.1},
		},
	}
}

func TestSendOpensTableFirst(t *testing.T) {
	store := &mockStore{}
	tbl := &mockTables{}
	svc := New(store, tbl, nil, nil)

	res, err := svc.Send(context.Background(), waiter(), validSend())
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if res.ID == uuid.Nil {
		t.Error("no entry id returned")
	}
	if len(tbl.opened) != 1 || tbl.opened[0] != "Main:T1" {
		t.Errorf("opened = %v, want table opened before write", tbl.opened)
	}
	if len(store.appended) != 1 {
		t.Fatalf("appended = %d entries", len(store.appended))
	}
	entry := store.appended[0]
	if entry.Kind != models.EntryKindSend || entry.UserID != "w1" || entry.BusinessID != "biz1" {
		t.Errorf("entry = %+v", entry)
	}
}

func TestSendValidation(t *testing.T) {
	svc := New(&mockStore{}, &mockTables{}, nil, nil)

	tests := []struct {
		name string
		in   SendInput
	}{
		{"no items", SendInput{Area: "Main", TableLabel: "T1"}},
		{"missing area", SendInput{TableLabel: "T1", Items: validSend().Items}},
		{"zero qty item", SendInput{Area: "Main", TableLabel: "T1",
			Items: []models.TicketItem{{Name: "Pasta", Qty: 0}}}},
		{"zero covers", func() SendInput {
			in := validSend()
			zero := 0
			in.Covers = &zero
			return in
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Send(context.Background(), waiter(), tt.in); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSendTableOpenFailure(t *testing.T) {
	store := &mockStore{}
	tbl := &mockTables{openErr: errors.New("db down")}
	svc := New(store, tbl, nil, nil)

	if _, err := svc.Send(context.Background(), waiter(), validSend()); err == nil {
		t.Fatal("expected error when table open fails")
	}
	if len(store.appended) != 0 {
		t.Error("entry appended despite failed table open")
	}
}

func TestRecordPayment(t *testing.T) {
	store := &mockStore{}
	tbl := &mockTables{}
	svc := New(store, tbl, nil, nil)

	if _, err := svc.RecordPayment(context.Background(), waiter(), "Main", "T1", "pay-1"); err != nil {
		t.Fatalf("RecordPayment() error = %v", err)
	}
	if len(store.appended) != 1 || store.appended[0].Kind != models.EntryKindPayment {
		t.Fatalf("appended = %+v", store.appended)
	}
	if store.appended[0].IdempotencyKey != "pay-1" {
		t.Errorf("idempotency key = %q", store.appended[0].IdempotencyKey)
	}
	if len(tbl.closed) != 0 {
		t.Error("payment closed the table; close is a separate occupancy call")
	}
}

func TestLatestFiltersVoided(t *testing.T) {
	store := &mockStore{latest: &models.TicketLogEntry{
		Items: []models.TicketItem{
			{Name: "Pasta", Qty: 2, Voided: true},
			{Name: "Cola", Qty: 1},
		},
	}}
	svc := New(store, &mockTables{}, nil, nil)

	entry, err := svc.Latest(context.Background(), "biz1", "Main", "T1")
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if len(entry.Items) != 1 || entry.Items[0].Name != "Cola" {
		t.Errorf("items = %+v, want voided filtered", entry.Items)
	}
	// The stored entry keeps the voided line.
	if len(store.latest.Items) != 2 {
		t.Error("filtering mutated the stored entry")
	}
}

func TestLatestMissingTableIsNil(t *testing.T) {
	svc := New(&mockStore{}, &mockTables{}, nil, nil)

	entry, err := svc.Latest(context.Background(), "biz1", "Main", "T9")
	if err != nil {
		t.Fatalf("Latest() error = %v, want nil for empty table", err)
	}
	if entry != nil {
		t.Errorf("entry = %+v, want nil", entry)
	}
}

func TestVoidItemRequiresPermission(t *testing.T) {
	svc := New(&mockStore{}, &mockTables{}, nil, nil)

	_, err := svc.VoidItem(context.Background(), waiter(), "Main", "T1", "Pasta")
	if !errors.Is(err, ErrVoidNotPermitted) {
		t.Errorf("err = %v, want ErrVoidNotPermitted", err)
	}

	// Waiter carrying admin approval may void.
	approved := waiter()
	approved.AdminApproved = true
	store := &mockStore{latest: &models.TicketLogEntry{
		Items: []models.TicketItem{{Name: "Pasta", Qty: 1}, {Name: "Cola", Qty: 1}},
	}}
	svc = New(store, &mockTables{}, nil, nil)
	if _, err := svc.VoidItem(context.Background(), approved, "Main", "T1", "Pasta"); err != nil {
		t.Errorf("VoidItem() with approval error = %v", err)
	}
}

func TestVoidItemSideEffects(t *testing.T) {
	store := &mockStore{latest: &models.TicketLogEntry{
		Items: []models.TicketItem{{Name: "Pasta", Qty: 1}, {Name: "Cola", Qty: 1}},
	}}
	tbl := &mockTables{}
	notifier := &mockNotifier{}
	dispatcher := &mockDispatcher{}
	svc := New(store, tbl, notifier, dispatcher)

	if _, err := svc.VoidItem(context.Background(), admin(), "Main", "T1", "Pasta"); err != nil {
		t.Fatalf("VoidItem() error = %v", err)
	}

	if len(tbl.closed) != 0 {
		t.Error("table closed while items remain")
	}
	if len(notifier.notifications) != 1 || notifier.notifications[0].Type != models.NotifyVoidItem {
		t.Errorf("notifications = %+v", notifier.notifications)
	}
	if notifier.notifications[0].UserID != "a1" {
		t.Errorf("audit user = %s, want acting admin", notifier.notifications[0].UserID)
	}
	if len(dispatcher.events) != 1 || dispatcher.events[0].Scope != detection.ScopeItem {
		t.Errorf("events = %+v", dispatcher.events)
	}
}

func TestVoidLastItemKeepsTableOpen(t *testing.T) {
	store := &mockStore{latest: &models.TicketLogEntry{
		Items: []models.TicketItem{{Name: "Pasta", Qty: 1}},
	}}
	tbl := &mockTables{}
	svc := New(store, tbl, nil, nil)

	entry, err := svc.VoidItem(context.Background(), admin(), "Main", "T1", "Pasta")
	if err != nil {
		t.Fatalf("VoidItem() error = %v", err)
	}
	if !entry.FullyVoided() {
		t.Error("entry not fully voided")
	}
	// Occupancy is VoidTicket's job; item voids never close the table.
	if len(tbl.closed) != 0 {
		t.Errorf("closed = %v, want none", tbl.closed)
	}
}

func TestVoidTicketClosesTableAndDispatches(t *testing.T) {
	store := &mockStore{latest: &models.TicketLogEntry{
		Items: []models.TicketItem{{Name: "Pasta", Qty: 1}, {Name: "Cola", Qty: 1}},
	}}
	tbl := &mockTables{}
	notifier := &mockNotifier{}
	dispatcher := &mockDispatcher{}
	svc := New(store, tbl, notifier, dispatcher)

	entry, err := svc.VoidTicket(context.Background(), admin(), "Main", "T1", "wrong order")
	if err != nil {
		t.Fatalf("VoidTicket() error = %v", err)
	}
	if !entry.FullyVoided() {
		t.Error("entry not fully voided")
	}
	if len(tbl.closed) != 1 || tbl.closed[0] != "Main:T1" {
		t.Errorf("closed = %v", tbl.closed)
	}
	if len(notifier.notifications) != 1 || notifier.notifications[0].Type != models.NotifyVoidTicket {
		t.Errorf("notifications = %+v", notifier.notifications)
	}
	if len(dispatcher.events) != 1 || dispatcher.events[0].Scope != detection.ScopeTicket {
		t.Errorf("events = %+v", dispatcher.events)
	}
}

func TestVoidAuditFailureIsSwallowed(t *testing.T) {
	store := &mockStore{latest: &models.TicketLogEntry{
		Items: []models.TicketItem{{Name: "Pasta", Qty: 1}, {Name: "Cola", Qty: 1}},
	}}
	notifier := &mockNotifier{err: errors.New("notify down")}
	svc := New(store, &mockTables{}, notifier, nil)

	if _, err := svc.VoidItem(context.Background(), admin(), "Main", "T1", "Pasta"); err != nil {
		t.Errorf("VoidItem() error = %v, audit failure must not propagate", err)
	}
}
