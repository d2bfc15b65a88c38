// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/coverpoint/tabsync/internal/metrics"
	"github.com/coverpoint/tabsync/internal/models"
)

// SetTableOpen records a table as open or closed.
//
// Opening is a conditional insert: when the row already exists the call is
// an idempotent no-op and opened_at keeps its original closed-to-open
// timestamp. Closing deletes the row. Both directions are safe to repeat.
func (db *DB) SetTableOpen(ctx context.Context, businessID, area, label string, open bool) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecordDBQuery("set_table_open", time.Since(start)) }()

	if open {
		_, err := db.conn.ExecContext(ctx,
			`INSERT INTO table_state (business_id, area, label, opened_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT DO NOTHING`,
			businessID, area, label, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("open table %s:%s: %w", area, label, err)
		}
		return nil
	}

	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM table_state WHERE business_id = ? AND area = ? AND label = ?`,
		businessID, area, label,
	)
	if err != nil {
		return fmt.Errorf("close table %s:%s: %w", area, label, err)
	}
	return nil
}

// ListOpenTables returns all open tables for a business, oldest first.
func (db *DB) ListOpenTables(ctx context.Context, businessID string) ([]models.TableState, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_open_tables", time.Since(start)) }()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT business_id, area, label, opened_at FROM table_state
		WHERE business_id = ? ORDER BY opened_at`,
		businessID,
	)
	if err != nil {
		return nil, fmt.Errorf("list open tables: %w", err)
	}
	defer rows.Close()

	var states []models.TableState
	for rows.Next() {
		var s models.TableState
		if err := rows.Scan(&s.BusinessID, &s.Area, &s.Label, &s.OpenedAt); err != nil {
			return nil, fmt.Errorf("scan table state: %w", err)
		}
		states = append(states, s)
	}
	return states, rows.Err()
}

// ListStaleOpenTables returns open tables across all businesses whose
// closed-to-open timestamp predates the cutoff. Feeds the background sweep
// that force-rejects requests left behind on long-open tables.
func (db *DB) ListStaleOpenTables(ctx context.Context, openedBefore time.Time) ([]models.TableState, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_stale_open_tables", time.Since(start)) }()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT business_id, area, label, opened_at FROM table_state
		WHERE opened_at < ? ORDER BY opened_at`,
		openedBefore.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list stale open tables: %w", err)
	}
	defer rows.Close()

	var states []models.TableState
	for rows.Next() {
		var s models.TableState
		if err := rows.Scan(&s.BusinessID, &s.Area, &s.Label, &s.OpenedAt); err != nil {
			return nil, fmt.Errorf("scan table state: %w", err)
		}
		states = append(states, s)
	}
	return states, rows.Err()
}

// TableOpenSince returns the opened_at timestamp for an open table, or
// ErrNotFound when the table is closed.
func (db *DB) TableOpenSince(ctx context.Context, businessID, area, label string) (time.Time, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var ts time.Time
	err := db.conn.QueryRowContext(ctx,
		`SELECT opened_at FROM table_state WHERE business_id = ? AND area = ? AND label = ?`,
		businessID, area, label,
	).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("table open lookup: %w", err)
	}
	return ts, nil
}
