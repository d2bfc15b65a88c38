// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

package detection

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coverpoint/tabsync/internal/config"
	"github.com/coverpoint/tabsync/internal/database"
	"github.com/coverpoint/tabsync/internal/models"
)

func testDetectionConfig() config.DetectionConfig {
	return config.DetectionConfig{
		Enabled:             true,
		TicketVoidThreshold: 3,
		ItemVoidThreshold:   6,
		VolumeWindow:        60 * time.Minute,
		PostPaymentWindow:   10 * time.Minute,
		AlertCooldown:       60 * time.Minute,
		QueueSize:           16,
	}
}

type mockAuditHistory struct {
	counts map[models.NotificationType]int
	err    error
}

func (m *mockAuditHistory) CountRecentByTypeAndUser(_ context.Context, _, _ string, _ time.Time, types ...models.NotificationType) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	total := 0
	for _, t := range types {
		total += m.counts[t]
	}
	return total, nil
}

func TestVoidVolumeDetector(t *testing.T) {
	tests := []struct {
		name      string
		scope     VoidScope
		counts    map[models.NotificationType]int
		wantAlert bool
	}{
		{
			name:      "ticket voids below threshold",
			scope:     ScopeTicket,
			counts:    map[models.NotificationType]int{models.NotifyVoidTicket: 2},
			wantAlert: false,
		},
		{
			name:      "ticket voids at threshold",
			scope:     ScopeTicket,
			counts:    map[models.NotificationType]int{models.NotifyVoidTicket: 3},
			wantAlert: true,
		},
		{
			name:      "item voids below threshold",
			scope:     ScopeItem,
			counts:    map[models.NotificationType]int{models.NotifyVoidItem: 5},
			wantAlert: false,
		},
		{
			name:      "item voids at threshold",
			scope:     ScopeItem,
			counts:    map[models.NotificationType]int{models.NotifyVoidItem: 6},
			wantAlert: true,
		},
		{
			name:  "item count does not trip ticket rule",
			scope: ScopeTicket,
			counts: map[models.NotificationType]int{
				models.NotifyVoidItem:   10,
				models.NotifyVoidTicket: 1,
			},
			wantAlert: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewVoidVolumeDetector(testDetectionConfig(), &mockAuditHistory{counts: tt.counts})
			alert, err := d.Check(context.Background(), &VoidEvent{
				BusinessID: "biz1",
				ActorID:    "w1",
				Scope:      tt.scope,
			})
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			if (alert != nil) != tt.wantAlert {
				t.Errorf("alert = %v, wantAlert = %v", alert, tt.wantAlert)
			}
			if alert != nil {
				if alert.Type != models.NotifyAlertVoidVolume {
					t.Errorf("alert type = %s", alert.Type)
				}
				if !strings.HasPrefix(alert.Message, alert.Signature) {
					t.Errorf("message %q does not start with signature %q", alert.Message, alert.Signature)
				}
			}
		})
	}
}

func TestVoidVolumeDetectorHistoryError(t *testing.T) {
	d := NewVoidVolumeDetector(testDetectionConfig(), &mockAuditHistory{err: errors.New("db down")})
	_, err := d.Check(context.Background(), &VoidEvent{Scope: ScopeItem})
	if err == nil {
		t.Fatal("expected error from history failure")
	}
}

type mockPaymentHistory struct {
	paidAt time.Time
	err    error
}

func (m *mockPaymentHistory) LastPaymentAt(_ context.Context, _, _, _ string) (time.Time, error) {
	if m.err != nil {
		return time.Time{}, m.err
	}
	return m.paidAt, nil
}

func TestPostPaymentVoidDetector(t *testing.T) {
	now := time.Date(2026, 8, 30, 20, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		payments  *mockPaymentHistory
		wantAlert bool
		wantMsg   string
		wantErr   bool
	}{
		{
			name:      "void shortly after payment",
			payments:  &mockPaymentHistory{paidAt: now.Add(-3 * time.Minute)},
			wantAlert: true,
			wantMsg:   "3 minute(s) after a payment",
		},
		{
			name:      "void at window edge",
			payments:  &mockPaymentHistory{paidAt: now.Add(-10 * time.Minute)},
			wantAlert: true,
			wantMsg:   "10 minute(s) after a payment",
		},
		{
			name:      "void long after payment",
			payments:  &mockPaymentHistory{paidAt: now.Add(-45 * time.Minute)},
			wantAlert: false,
		},
		{
			name:      "no payment on record",
			payments:  &mockPaymentHistory{err: database.ErrNotFound},
			wantAlert: false,
		},
		{
			name:     "lookup failure",
			payments: &mockPaymentHistory{err: errors.New("db down")},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewPostPaymentVoidDetector(testDetectionConfig(), tt.payments)
			d.now = func() time.Time { return now }

			alert, err := d.Check(context.Background(), &VoidEvent{
				BusinessID: "biz1",
				ActorID:    "w1",
				Scope:      ScopeTicket,
				Area:       "Main",
				TableLabel: "T1",
				OccurredAt: now,
			})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			if (alert != nil) != tt.wantAlert {
				t.Errorf("alert = %v, wantAlert = %v", alert, tt.wantAlert)
			}
			if alert != nil {
				if alert.Type != models.NotifyAlertPostPaymentVoid {
					t.Errorf("alert type = %s", alert.Type)
				}
				if !strings.Contains(alert.Message, tt.wantMsg) {
					t.Errorf("message %q does not mention %q", alert.Message, tt.wantMsg)
				}
			}
		})
	}
}

type mockSink struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (m *mockSink) NotifyAdmins(_ context.Context, businessID string, typ models.NotificationType, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, businessID+"|"+string(typ)+"|"+msg)
	return nil
}

func (m *mockSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockAlertHistory struct {
	recent bool
	err    error
}

func (m *mockAlertHistory) HasRecentAlert(_ context.Context, _ string, _ models.NotificationType, _ string, _ time.Time) (bool, error) {
	return m.recent, m.err
}

type stubDetector struct {
	alert *Alert
	err   error
}

func (d *stubDetector) Type() RuleType { return RuleTypeVoidVolume }

func (d *stubDetector) Check(context.Context, *VoidEvent) (*Alert, error) {
	return d.alert, d.err
}

func testAlert() *Alert {
	return &Alert{
		RuleType:   RuleTypeVoidVolume,
		BusinessID: "biz1",
		ActorID:    "w1",
		Type:       models.NotifyAlertVoidVolume,
		Signature:  "[void-volume w1]",
		Message:    "[void-volume w1] over threshold",
	}
}

func TestEngineEmitsAlertOnce(t *testing.T) {
	sink := &mockSink{}
	e := NewEngine(testDetectionConfig(), sink, &mockAlertHistory{})
	e.Register(&stubDetector{alert: testAlert()})

	event := &VoidEvent{BusinessID: "biz1", ActorID: "w1", Scope: ScopeTicket, OccurredAt: time.Now()}
	e.process(context.Background(), event)
	e.process(context.Background(), event)

	if got := sink.count(); got != 1 {
		t.Errorf("sink calls = %d, want 1 (cooldown suppresses repeat)", got)
	}
}

func TestEngineCooldownFromHistory(t *testing.T) {
	// A restart loses the in-memory cooldown; the persisted alert still
	// suppresses the duplicate.
	sink := &mockSink{}
	e := NewEngine(testDetectionConfig(), sink, &mockAlertHistory{recent: true})
	e.Register(&stubDetector{alert: testAlert()})

	e.process(context.Background(), &VoidEvent{BusinessID: "biz1", ActorID: "w1", Scope: ScopeTicket})
	if got := sink.count(); got != 0 {
		t.Errorf("sink calls = %d, want 0", got)
	}
}

func TestEngineDetectorErrorDoesNotStopOthers(t *testing.T) {
	sink := &mockSink{}
	e := NewEngine(testDetectionConfig(), sink, &mockAlertHistory{})
	e.Register(&stubDetector{err: errors.New("boom")})
	e.Register(&stubDetector{alert: testAlert()})

	e.process(context.Background(), &VoidEvent{BusinessID: "biz1", ActorID: "w1", Scope: ScopeTicket})
	if got := sink.count(); got != 1 {
		t.Errorf("sink calls = %d, want 1", got)
	}
}

func TestEngineDispatchNeverBlocks(t *testing.T) {
	cfg := testDetectionConfig()
	cfg.QueueSize = 1
	e := NewEngine(cfg, &mockSink{}, &mockAlertHistory{})

	// No consumer running: the second dispatch must drop, not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			e.Dispatch(&VoidEvent{BusinessID: "biz1", ActorID: "w1", Scope: ScopeItem})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch blocked on full queue")
	}
}

func TestEngineDispatchDisabled(t *testing.T) {
	cfg := testDetectionConfig()
	cfg.Enabled = false
	cfg.QueueSize = 1
	e := NewEngine(cfg, &mockSink{}, &mockAlertHistory{})

	for i := 0; i < 5; i++ {
		e.Dispatch(&VoidEvent{BusinessID: "biz1", ActorID: "w1", Scope: ScopeItem})
	}
	if len(e.queue) != 0 {
		t.Errorf("queue depth = %d, want 0 when disabled", len(e.queue))
	}
}

func TestEngineServeProcessesQueue(t *testing.T) {
	sink := &mockSink{}
	e := NewEngine(testDetectionConfig(), sink, &mockAlertHistory{})
	e.Register(&stubDetector{alert: testAlert()})

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- e.Serve(ctx) }()

	e.Dispatch(&VoidEvent{BusinessID: "biz1", ActorID: "w1", Scope: ScopeTicket})

	deadline := time.After(2 * time.Second)
	for sink.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("alert not emitted")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-served; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() error = %v, want context.Canceled", err)
	}
}
