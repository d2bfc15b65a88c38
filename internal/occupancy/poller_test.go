// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

package occupancy

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coverpoint/tabsync/internal/models"
)

type fakeSource struct {
	calls atomic.Int64
	open  []models.TableKey
	err   error
}

func (s *fakeSource) GetOpenTables(context.Context) ([]models.TableKey, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.open, nil
}

func TestPollerReconcilesOnTick(t *testing.T) {
	cache := New(time.Millisecond)
	src := &fakeSource{open: []models.TableKey{tk("Main", "T1")}}
	p := NewPoller(cache, src, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()

	deadline := time.After(time.Second)
	for !cache.IsOpen("Main", "T1") {
		select {
		case <-deadline:
			t.Fatal("poll result never reached the cache")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve returned %v, want context.Canceled", err)
	}
}

func TestPollerKeepsStateOnFailure(t *testing.T) {
	cache := New(time.Millisecond)
	cache.SetOpen("Main", "T2", true)
	src := &fakeSource{err: errors.New("upstream unreachable")}
	p := NewPoller(cache, src, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_ = p.Serve(ctx)

	if src.calls.Load() == 0 {
		t.Fatal("source never polled")
	}
	if !cache.IsOpen("Main", "T2") {
		t.Error("failed poll wiped cached state")
	}
}
