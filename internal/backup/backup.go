// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

// Package backup takes periodic snapshots of the DuckDB store. The ticket
// log is the financial record of the venue; a corrupted disk without a
// recent snapshot means disputed tabs with no evidence. Snapshots are
// plain file copies taken after a CHECKPOINT, pruned by a count-and-age
// retention policy, with metadata tracked in metadata.json next to the
// snapshot files.
package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/coverpoint/tabsync/internal/config"
	"github.com/coverpoint/tabsync/internal/logging"
)

// metadataFileName sits alongside the snapshot files in the backup dir.
const metadataFileName = "metadata.json"

// Source is the database side of a snapshot: flush, then expose the file.
type Source interface {
	// Checkpoint flushes the WAL so the database file is self-contained.
	Checkpoint(ctx context.Context) error

	// Path returns the database file path. Empty for in-memory stores,
	// which cannot be backed up.
	Path() string
}

// Snapshot describes one completed backup.
type Snapshot struct {
	ID        string    `json:"id"`
	FileName  string    `json:"file_name"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
}

// metadataStore is the persisted metadata.json shape.
type metadataStore struct {
	Snapshots []*Snapshot `json:"snapshots"`
	LastRun   *time.Time  `json:"last_run,omitempty"`
}

// Manager creates snapshots and enforces retention.
type Manager struct {
	cfg config.BackupConfig
	src Source

	mu       sync.Mutex
	metadata metadataStore
	now      func() time.Time
}

// NewManager creates the backup directory and loads existing metadata.
func NewManager(cfg config.BackupConfig, src Source) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("backup directory not configured")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create backup directory %s: %w", cfg.Dir, err)
	}

	m := &Manager{cfg: cfg, src: src, now: time.Now}
	if err := m.loadMetadata(); err != nil {
		logging.Warn().Err(err).Msg("backup metadata unreadable, starting fresh")
		m.metadata = metadataStore{}
	}
	return m, nil
}

// Create takes one snapshot: checkpoint, copy the database file into the
// backup dir, record metadata, prune per retention.
func (m *Manager) Create(ctx context.Context) (*Snapshot, error) {
	dbPath := m.src.Path()
	if dbPath == "" {
		return nil, fmt.Errorf("database is not file-backed, nothing to snapshot")
	}

	if err := m.src.Checkpoint(ctx); err != nil {
		return nil, fmt.Errorf("checkpoint before snapshot: %w", err)
	}

	now := m.now().UTC()
	snap := &Snapshot{
		ID:        uuid.New().String(),
		FileName:  fmt.Sprintf("tabsync-%s.duckdb", now.Format("20060102-150405")),
		CreatedAt: now,
	}

	size, err := copyFile(dbPath, filepath.Join(m.cfg.Dir, snap.FileName))
	if err != nil {
		return nil, fmt.Errorf("copy database file: %w", err)
	}
	snap.SizeBytes = size

	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata.Snapshots = append(m.metadata.Snapshots, snap)
	m.metadata.LastRun = &now
	m.pruneLocked(now)
	if err := m.saveMetadataLocked(); err != nil {
		logging.Warn().Err(err).Msg("backup metadata save failed")
	}

	logging.Info().
		Str("file", snap.FileName).
		Int64("size_bytes", snap.SizeBytes).
		Msg("database snapshot created")

	return snap, nil
}

// List returns known snapshots, newest first.
func (m *Manager) List() []*Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Snapshot, len(m.metadata.Snapshots))
	copy(out, m.metadata.Snapshots)
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// pruneLocked removes snapshots beyond MaxCount or older than MaxAge,
// always keeping the newest one. Callers hold m.mu.
func (m *Manager) pruneLocked(now time.Time) {
	snaps := m.metadata.Snapshots
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})

	keep := snaps[:0]
	for i, s := range snaps {
		tooMany := m.cfg.MaxCount > 0 && i >= m.cfg.MaxCount
		tooOld := m.cfg.MaxAge > 0 && now.Sub(s.CreatedAt) > m.cfg.MaxAge
		if i > 0 && (tooMany || tooOld) {
			if err := os.Remove(filepath.Join(m.cfg.Dir, s.FileName)); err != nil && !os.IsNotExist(err) {
				logging.Warn().Err(err).Str("file", s.FileName).Msg("snapshot removal failed")
				keep = append(keep, s)
				continue
			}
			logging.Debug().Str("file", s.FileName).Msg("snapshot pruned")
			continue
		}
		keep = append(keep, s)
	}
	m.metadata.Snapshots = keep
}

func (m *Manager) loadMetadata() error {
	data, err := os.ReadFile(filepath.Join(m.cfg.Dir, metadataFileName))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &m.metadata)
}

func (m *Manager) saveMetadataLocked() error {
	data, err := json.MarshalIndent(&m.metadata, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(m.cfg.Dir, metadataFileName), data, 0o600)
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close() //nolint:errcheck // read side

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if err != nil {
		out.Close() //nolint:errcheck // already failing
		return 0, err
	}
	if err := out.Sync(); err != nil {
		out.Close() //nolint:errcheck // already failing
		return 0, err
	}
	return n, out.Close()
}
