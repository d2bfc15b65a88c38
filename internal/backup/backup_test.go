// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coverpoint/tabsync/internal/config"
)

type fakeSource struct {
	path        string
	checkpoints int
}

func (s *fakeSource) Checkpoint(context.Context) error {
	s.checkpoints++
	return nil
}

func (s *fakeSource) Path() string { return s.path }

func newTestSource(t *testing.T) *fakeSource {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tabsync.duckdb")
	if err := os.WriteFile(path, []byte("ticket log bytes"), 0o600); err != nil {
		t.Fatal(err)
	}
	return &fakeSource{path: path}
}

func newTestManager(t *testing.T, cfg config.BackupConfig) (*Manager, *fakeSource) {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	src := newTestSource(t)
	mgr, err := NewManager(cfg, src)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr, src
}

func TestCreateCopiesDatabaseFile(t *testing.T) {
	mgr, src := newTestManager(t, config.BackupConfig{MaxCount: 5})

	snap, err := mgr.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if src.checkpoints != 1 {
		t.Errorf("checkpoints = %d, want 1", src.checkpoints)
	}
	if snap.SizeBytes != int64(len("ticket log bytes")) {
		t.Errorf("SizeBytes = %d", snap.SizeBytes)
	}

	data, err := os.ReadFile(filepath.Join(mgr.cfg.Dir, snap.FileName))
	if err != nil {
		t.Fatalf("snapshot file: %v", err)
	}
	if string(data) != "ticket log bytes" {
		t.Errorf("snapshot content mismatch: %q", data)
	}
}

func TestCreateRejectsInMemorySource(t *testing.T) {
	mgr, err := NewManager(config.BackupConfig{Dir: t.TempDir()}, &fakeSource{path: ""})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := mgr.Create(context.Background()); err == nil {
		t.Fatal("expected error for in-memory source")
	}
}

func TestRetentionPrunesOldestBeyondMaxCount(t *testing.T) {
	mgr, _ := newTestManager(t, config.BackupConfig{MaxCount: 2})

	base := time.Date(2026, 8, 30, 3, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		tick := base.Add(time.Duration(i) * time.Hour)
		mgr.now = func() time.Time { return tick }
		if _, err := mgr.Create(context.Background()); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}

	snaps := mgr.List()
	if len(snaps) != 2 {
		t.Fatalf("kept %d snapshots, want 2", len(snaps))
	}
	if !snaps[0].CreatedAt.After(snaps[1].CreatedAt) {
		t.Error("List not newest-first")
	}
	if got := snaps[0].CreatedAt; !got.Equal(base.Add(3 * time.Hour)) {
		t.Errorf("newest snapshot at %v", got)
	}

	for _, s := range snaps {
		if _, err := os.Stat(filepath.Join(mgr.cfg.Dir, s.FileName)); err != nil {
			t.Errorf("kept snapshot missing on disk: %v", err)
		}
	}
}

func TestRetentionPrunesByAgeButKeepsNewest(t *testing.T) {
	mgr, _ := newTestManager(t, config.BackupConfig{MaxAge: time.Hour})

	base := time.Date(2026, 8, 30, 3, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return base }
	if _, err := mgr.Create(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Next run two hours later: the first snapshot is past MaxAge.
	later := base.Add(2 * time.Hour)
	mgr.now = func() time.Time { return later }
	if _, err := mgr.Create(context.Background()); err != nil {
		t.Fatal(err)
	}

	snaps := mgr.List()
	if len(snaps) != 1 {
		t.Fatalf("kept %d snapshots, want 1", len(snaps))
	}
	if !snaps[0].CreatedAt.Equal(later) {
		t.Errorf("kept snapshot at %v, want the newest", snaps[0].CreatedAt)
	}
}

func TestMetadataSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	mgr, _ := newTestManager(t, config.BackupConfig{Dir: dir, MaxCount: 5})

	if _, err := mgr.Create(context.Background()); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewManager(config.BackupConfig{Dir: dir, MaxCount: 5}, newTestSource(t))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := len(reopened.List()); got != 1 {
		t.Errorf("reopened manager sees %d snapshots, want 1", got)
	}
}
