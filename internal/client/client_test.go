// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/coverpoint/tabsync/internal/config"
	"github.com/coverpoint/tabsync/internal/models"
)

func testConfig(url string) config.UpstreamConfig {
	return config.UpstreamConfig{
		URL:               url,
		Timeout:           2 * time.Second,
		BusinessID:        "biz-1",
		UserID:            "waiter-1",
		PollRatePerSecond: 100,
		RetryAttempts:     3,
		RetryDelay:        10 * time.Millisecond,
	}
}

func writeEnvelope(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "success",
		"data":   data,
	})
}

func TestOnline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/health/live" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	if !c.Online(context.Background()) {
		t.Error("expected online against healthy server")
	}

	srv.Close()
	if c.Online(context.Background()) {
		t.Error("expected offline after server shutdown")
	}
}

func TestAppendTicketSendsIdempotencyKeyAndIdentity(t *testing.T) {
	var gotKey, gotUser, gotBiz string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(HeaderIdempotencyKey)
		gotUser = r.Header.Get(HeaderUserID)
		gotBiz = r.Header.Get(HeaderBusinessID)
		writeEnvelope(w, http.StatusOK, map[string]interface{}{
			"ok": true,
			"id": "abc",
		})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	payload := models.OutboxPayload{
		Kind:       models.EntryKindSend,
		UserID:     "waiter-1",
		Area:       "Main",
		TableLabel: "T1",
		Items:      []models.TicketItem{{Name: "Espresso", Qty: 2, UnitPrice: 2.5}},
	}
	deduped, err := c.AppendTicket(context.Background(), payload, "key-123")
	if err != nil {
		t.Fatalf("AppendTicket: %v", err)
	}
	if deduped {
		t.Error("expected fresh append, got deduped")
	}
	if gotKey != "key-123" {
		t.Errorf("idempotency key = %q, want key-123", gotKey)
	}
	if gotUser != "waiter-1" || gotBiz != "biz-1" {
		t.Errorf("identity headers = %q/%q", gotUser, gotBiz)
	}
}

func TestAppendTicketDeduped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]interface{}{
			"ok":      true,
			"deduped": true,
			"id":      "abc",
		})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	deduped, err := c.AppendTicket(context.Background(), models.OutboxPayload{}, "key-123")
	if err != nil {
		t.Fatalf("AppendTicket: %v", err)
	}
	if !deduped {
		t.Error("expected deduped result")
	}
}

func TestWriteNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	err := c.OpenTable(context.Background(), "Main", "T1")
	if err == nil {
		t.Fatal("expected error from 500 response")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("write attempted %d times, want exactly 1", n)
	}
	if IsPermanent(err) {
		t.Error("500 should classify as transient")
	}
}

func TestGetRetriedOnTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeEnvelope(w, http.StatusOK, []models.TableState{
			{Area: "Main", Label: "T1"},
		})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	keys, err := c.GetOpenTables(context.Background())
	if err != nil {
		t.Fatalf("GetOpenTables: %v", err)
	}
	if len(keys) != 1 || keys[0].Label != "T1" {
		t.Errorf("keys = %+v", keys)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("GET attempted %d times, want 3", n)
	}
}

func TestGetNotRetriedOnPermanentFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "error",
			"error":  map[string]string{"code": "FORBIDDEN", "message": "not allowed"},
		})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	_, err := c.GetOpenTables(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsPermanent(err) {
		t.Errorf("403 should classify as permanent: %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("GET attempted %d times, want 1", n)
	}
}

func TestGetLatestMissingTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "error",
			"error":  map[string]string{"code": "NOT_FOUND", "message": "no entries"},
		})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	entry, err := c.GetLatest(context.Background(), "Main", "T9")
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if entry != nil {
		t.Errorf("entry = %+v, want nil for missing table", entry)
	}
}

func TestGetLatestDecodesEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("table"); got != "T1" {
			t.Errorf("table query = %q", got)
		}
		writeEnvelope(w, http.StatusOK, models.TicketLogEntry{
			Area:       "Main",
			TableLabel: "T1",
			Kind:       models.EntryKindSend,
			Items:      []models.TicketItem{{Name: "Cola", Qty: 1}},
		})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	entry, err := c.GetLatest(context.Background(), "Main", "T1")
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if entry == nil || len(entry.Items) != 1 || entry.Items[0].Name != "Cola" {
		t.Errorf("entry = %+v", entry)
	}
}

func TestStatusErrorClassification(t *testing.T) {
	tests := []struct {
		code      int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusForbidden, true},
		{http.StatusNotFound, true},
		{http.StatusConflict, true},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusBadGateway, false},
	}
	for _, tt := range tests {
		se := &StatusError{Code: tt.code}
		if se.Permanent() != tt.permanent {
			t.Errorf("code %d: permanent = %v, want %v", tt.code, se.Permanent(), tt.permanent)
		}
	}
}
