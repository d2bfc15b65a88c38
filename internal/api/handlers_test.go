// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/coverpoint/tabsync/internal/config"
	"github.com/coverpoint/tabsync/internal/database"
	"github.com/coverpoint/tabsync/internal/models"
	"github.com/coverpoint/tabsync/internal/requests"
	"github.com/coverpoint/tabsync/internal/tables"
	"github.com/coverpoint/tabsync/internal/tickets"
)

// newTestServer wires real services over an in-memory store.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	db, err := database.NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	tableSvc := tables.New(db, nil)
	ticketSvc := tickets.New(db, tableSvc, nil, nil)
	requestSvc := requests.New(db, tableSvc, nil, config.RequestsConfig{
		StaleCutoff:   12 * time.Hour,
		SweepInterval: time.Minute,
	})

	handler := NewHandler(ticketSvc, tableSvc, requestSvc, db, db, db, nil)
	router := NewRouter(handler, nil, config.SecurityConfig{
		RateLimitDisabled: true,
		CORSOrigins:       []string{"*"},
	})

	srv := httptest.NewServer(router.Setup())
	t.Cleanup(srv.Close)
	return srv
}

type identityOpt struct {
	userID   string
	role     string
	approval string
}

func doRequest(t *testing.T, srv *httptest.Server, method, path string, body interface{}, id identityOpt) (*http.Response, models.APIResponse) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id.userID != "" {
		req.Header.Set(HeaderUserID, id.userID)
		req.Header.Set(HeaderBusinessID, "biz-1")
	}
	if id.role != "" {
		req.Header.Set(HeaderUserRole, id.role)
	}
	if id.approval != "" {
		req.Header.Set(HeaderAdminApproval, id.approval)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var envelope models.APIResponse
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
	}
	return resp, envelope
}

func decodeData(t *testing.T, envelope models.APIResponse, dst interface{}) {
	t.Helper()
	raw, err := json.Marshal(envelope.Data)
	if err != nil {
		t.Fatalf("remarshal data: %v", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

var waiterID = identityOpt{userID: "waiter-1"}

func sendBody() map[string]interface{} {
	return map[string]interface{}{
		"area":        "Main",
		"table_label": "T1",
		"items": []map[string]interface{}{
			{"name": "Espresso", "qty": 2, "unit_price": 2.5},
		},
	}
}

func TestTicketWriteOpensTable(t *testing.T) {
	srv := newTestServer(t)

	resp, envelope := doRequest(t, srv, http.MethodPost, "/api/v1/tickets", sendBody(), waiterID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %+v", resp.StatusCode, envelope)
	}

	var result struct {
		OK      bool   `json:"ok"`
		ID      string `json:"id"`
		Deduped bool   `json:"deduped"`
	}
	decodeData(t, envelope, &result)
	if !result.OK || result.ID == "" || result.Deduped {
		t.Errorf("result = %+v", result)
	}

	// The write opened the table.
	_, envelope = doRequest(t, srv, http.MethodGet, "/api/v1/tables/open", nil, waiterID)
	var states []models.TableState
	decodeData(t, envelope, &states)
	if len(states) != 1 || states[0].Label != "T1" {
		t.Errorf("open tables = %+v", states)
	}
}

func TestTicketWriteIdempotencyHeaderPrecedence(t *testing.T) {
	srv := newTestServer(t)

	body := sendBody()
	body["idempotency_key"] = "body-key"

	post := func() models.APIResponse {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/tickets", bytes.NewReader(mustJSON(t, body)))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderUserID, "waiter-1")
		req.Header.Set(HeaderBusinessID, "biz-1")
		req.Header.Set(HeaderIdempotencyKey, "header-key")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		defer resp.Body.Close()
		var envelope models.APIResponse
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return envelope
	}

	post()
	envelope := post()

	var result struct {
		Deduped bool `json:"deduped"`
	}
	decodeData(t, envelope, &result)
	if !result.Deduped {
		t.Error("second write with the same header key should dedup")
	}
}

func TestTicketWriteValidation(t *testing.T) {
	srv := newTestServer(t)

	body := sendBody()
	body["items"] = []map[string]interface{}{}
	resp, envelope := doRequest(t, srv, http.MethodPost, "/api/v1/tickets", body, waiterID)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if envelope.Error == nil || envelope.Error.Code != ErrCodeValidation {
		t.Errorf("error = %+v", envelope.Error)
	}
}

func TestTicketWriteUnauthenticated(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doRequest(t, srv, http.MethodPost, "/api/v1/tickets", sendBody(), identityOpt{})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestTicketLatestFiltersVoided(t *testing.T) {
	srv := newTestServer(t)

	body := sendBody()
	body["items"] = []map[string]interface{}{
		{"name": "Espresso", "qty": 1, "unit_price": 2.5},
		{"name": "Cola", "qty": 1, "unit_price": 3},
	}
	doRequest(t, srv, http.MethodPost, "/api/v1/tickets", body, waiterID)

	admin := identityOpt{userID: "admin-1", role: "admin"}
	resp, _ := doRequest(t, srv, http.MethodPost, "/api/v1/tickets/void-item", map[string]string{
		"area": "Main", "table_label": "T1", "item_name": "Cola",
	}, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("void status = %d", resp.StatusCode)
	}

	_, envelope := doRequest(t, srv, http.MethodGet, "/api/v1/tickets/latest?area=Main&table=T1", nil, waiterID)
	var entry models.TicketLogEntry
	decodeData(t, envelope, &entry)
	if len(entry.Items) != 1 || entry.Items[0].Name != "Espresso" {
		t.Errorf("latest items = %+v", entry.Items)
	}
}

func TestTicketLatestMissingIsNullData(t *testing.T) {
	srv := newTestServer(t)

	resp, envelope := doRequest(t, srv, http.MethodGet, "/api/v1/tickets/latest?area=Main&table=T9", nil, waiterID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if envelope.Status != "success" {
		t.Errorf("status = %q, want success", envelope.Status)
	}
	if envelope.Data != nil {
		t.Errorf("data = %+v, want null for a table with no entries", envelope.Data)
	}
}

func TestVoidItemForbiddenForWaiter(t *testing.T) {
	srv := newTestServer(t)

	doRequest(t, srv, http.MethodPost, "/api/v1/tickets", sendBody(), waiterID)

	resp, envelope := doRequest(t, srv, http.MethodPost, "/api/v1/tickets/void-item", map[string]string{
		"area": "Main", "table_label": "T1", "item_name": "Espresso",
	}, waiterID)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	if envelope.Error == nil || envelope.Error.Code != ErrCodeForbidden {
		t.Errorf("error = %+v", envelope.Error)
	}
}

func TestVoidItemWithApprovalToken(t *testing.T) {
	srv := newTestServer(t)

	doRequest(t, srv, http.MethodPost, "/api/v1/tickets", sendBody(), waiterID)

	approved := identityOpt{userID: "waiter-1", approval: "token-from-admin"}
	resp, _ := doRequest(t, srv, http.MethodPost, "/api/v1/tickets/void-item", map[string]string{
		"area": "Main", "table_label": "T1", "item_name": "Espresso",
	}, approved)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 with approval token", resp.StatusCode)
	}
}

func TestVoidTicketClosesTable(t *testing.T) {
	srv := newTestServer(t)

	doRequest(t, srv, http.MethodPost, "/api/v1/tickets", sendBody(), waiterID)

	admin := identityOpt{userID: "admin-1", role: "admin"}
	resp, _ := doRequest(t, srv, http.MethodPost, "/api/v1/tickets/void-ticket", map[string]string{
		"area": "Main", "table_label": "T1", "reason": "walkout",
	}, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	_, envelope := doRequest(t, srv, http.MethodGet, "/api/v1/tables/open", nil, waiterID)
	var states []models.TableState
	decodeData(t, envelope, &states)
	if len(states) != 0 {
		t.Errorf("open tables after void ticket = %+v", states)
	}
}

func TestTableStateRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doRequest(t, srv, http.MethodPost, "/api/v1/tables/open", map[string]interface{}{
		"area": "Patio", "label": "P2", "open": true,
	}, waiterID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("open status = %d", resp.StatusCode)
	}

	_, envelope := doRequest(t, srv, http.MethodGet, "/api/v1/tables/open", nil, waiterID)
	var states []models.TableState
	decodeData(t, envelope, &states)
	if len(states) != 1 || states[0].Area != "Patio" {
		t.Errorf("open tables = %+v", states)
	}

	doRequest(t, srv, http.MethodPost, "/api/v1/tables/open", map[string]interface{}{
		"area": "Patio", "label": "P2", "open": false,
	}, waiterID)

	_, envelope = doRequest(t, srv, http.MethodGet, "/api/v1/tables/open", nil, waiterID)
	states = nil
	decodeData(t, envelope, &states)
	if len(states) != 0 {
		t.Errorf("open tables after close = %+v", states)
	}
}

func TestSetCovers(t *testing.T) {
	srv := newTestServer(t)

	doRequest(t, srv, http.MethodPost, "/api/v1/tickets", sendBody(), waiterID)

	resp, _ := doRequest(t, srv, http.MethodPost, "/api/v1/tables/covers", map[string]interface{}{
		"area": "Main", "label": "T1", "covers": 4,
	}, waiterID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("covers status = %d", resp.StatusCode)
	}

	_, envelope := doRequest(t, srv, http.MethodGet, "/api/v1/tickets/latest?area=Main&table=T1", nil, waiterID)
	var entry models.TicketLogEntry
	decodeData(t, envelope, &entry)
	if entry.Covers == nil || *entry.Covers != 4 {
		t.Errorf("covers = %v", entry.Covers)
	}
}

func TestRequestWorkflowEndToEnd(t *testing.T) {
	srv := newTestServer(t)
	owner := identityOpt{userID: "owner-1"}

	// Owner has the table open for a while.
	doRequest(t, srv, http.MethodPost, "/api/v1/tables/open", map[string]interface{}{
		"area": "Main", "label": "T1", "open": true,
	}, owner)

	resp, envelope := doRequest(t, srv, http.MethodPost, "/api/v1/requests/create", map[string]interface{}{
		"owner_id":    "owner-1",
		"area":        "Main",
		"table_label": "T1",
		"items": []map[string]interface{}{
			{"name": "Tiramisu", "qty": 1, "unit_price": 6},
		},
	}, waiterID)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, body = %+v", resp.StatusCode, envelope)
	}
	var created models.TicketRequest
	decodeData(t, envelope, &created)
	if created.Status != models.RequestPending {
		t.Errorf("status = %s", created.Status)
	}

	// A stranger may not decide.
	resp, _ = doRequest(t, srv, http.MethodPost, "/api/v1/requests/approve",
		map[string]string{"id": created.ID.String()}, identityOpt{userID: "waiter-9"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("stranger approve status = %d, want 403", resp.StatusCode)
	}

	// The owner approves.
	resp, _ = doRequest(t, srv, http.MethodPost, "/api/v1/requests/approve",
		map[string]string{"id": created.ID.String()}, owner)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status = %d", resp.StatusCode)
	}

	// Approving again conflicts.
	resp, _ = doRequest(t, srv, http.MethodPost, "/api/v1/requests/approve",
		map[string]string{"id": created.ID.String()}, owner)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("repeat approve status = %d, want 409", resp.StatusCode)
	}

	// The owner's device polls and applies.
	_, envelope = doRequest(t, srv, http.MethodGet, "/api/v1/requests/poll-approved", nil, owner)
	var approved []models.TicketRequest
	decodeData(t, envelope, &approved)
	if len(approved) != 1 {
		t.Fatalf("poll-approved = %+v", approved)
	}

	resp, envelope = doRequest(t, srv, http.MethodPost, "/api/v1/requests/mark-applied",
		map[string]interface{}{"ids": []string{created.ID.String()}}, owner)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark-applied status = %d", resp.StatusCode)
	}
	var appliedResult struct {
		Applied int `json:"applied"`
	}
	decodeData(t, envelope, &appliedResult)
	if appliedResult.Applied != 1 {
		t.Errorf("applied = %d", appliedResult.Applied)
	}
}

func TestRequestCancelStaleRecentTable(t *testing.T) {
	srv := newTestServer(t)
	owner := identityOpt{userID: "owner-1"}

	doRequest(t, srv, http.MethodPost, "/api/v1/tables/open", map[string]interface{}{
		"area": "Main", "label": "T1", "open": true,
	}, owner)
	doRequest(t, srv, http.MethodPost, "/api/v1/requests/create", map[string]interface{}{
		"owner_id":    "owner-1",
		"area":        "Main",
		"table_label": "T1",
		"items":       []map[string]interface{}{{"name": "Cola", "qty": 1, "unit_price": 3}},
	}, waiterID)

	// The table was just opened, so nothing is stale yet.
	resp, envelope := doRequest(t, srv, http.MethodPost, "/api/v1/requests/cancel-stale-for-table",
		map[string]interface{}{"area": "Main", "table_label": "T1"}, owner)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel-stale status = %d", resp.StatusCode)
	}
	var result struct {
		Cancelled int `json:"cancelled"`
	}
	decodeData(t, envelope, &result)
	if result.Cancelled != 0 {
		t.Errorf("cancelled = %d, want 0", result.Cancelled)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doRequest(t, srv, http.MethodGet, "/api/v1/health/live", nil, identityOpt{})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("live status = %d", resp.StatusCode)
	}
	resp, _ = doRequest(t, srv, http.MethodGet, "/api/v1/health/ready", nil, identityOpt{})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("ready status = %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}
