// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coverpoint/tabsync/internal/metrics"
	"github.com/coverpoint/tabsync/internal/models"
)

// InsertNotification persists a notification row.
func (db *DB) InsertNotification(ctx context.Context, n *models.Notification) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecordDBQuery("insert_notification", time.Since(start)) }()

	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO notifications (id, business_id, user_id, type, message, created_at, read_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)`,
		n.ID.String(), n.BusinessID, n.UserID, string(n.Type), n.Message, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// CountRecentByTypeAndUser counts a user's notifications of the given types
// created at or after since. The volume detector uses this over the void
// audit records of an actor.
func (db *DB) CountRecentByTypeAndUser(ctx context.Context, businessID, userID string, since time.Time, types ...models.NotificationType) (int, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if len(types) == 0 {
		return 0, nil
	}

	query := `SELECT COUNT(*) FROM notifications
		WHERE business_id = ? AND user_id = ? AND created_at >= ? AND type IN (`
	args := []interface{}{businessID, userID, since}
	for i, t := range types {
		if i > 0 {
			query += ", "
		}
		query += "?"
		args = append(args, string(t))
	}
	query += ")"

	var count int
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	return count, nil
}

// HasRecentAlert reports whether any admin already received an alert of the
// given type whose message starts with the signature prefix at or after
// since. This is the cooldown gate for the heuristics engine; it survives
// restarts where the in-memory cooldown cache does not.
func (db *DB) HasRecentAlert(ctx context.Context, businessID string, typ models.NotificationType, messagePrefix string, since time.Time) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications
		WHERE business_id = ? AND type = ? AND created_at >= ?
		AND message LIKE ? || '%'`,
		businessID, string(typ), since, messagePrefix,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("recent alert lookup: %w", err)
	}
	return count > 0, nil
}

// ListNotificationsForUser returns a user's notifications, newest first,
// optionally only unread ones.
func (db *DB) ListNotificationsForUser(ctx context.Context, businessID, userID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, business_id, user_id, type, message, created_at, read_at
		FROM notifications WHERE business_id = ? AND user_id = ?`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC LIMIT ?`

	rows, err := db.conn.QueryContext(ctx, query, businessID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var (
			idStr  string
			typ    string
			readAt sql.NullTime
			n      models.Notification
		)
		if err := rows.Scan(&idStr, &n.BusinessID, &n.UserID, &typ, &n.Message, &n.CreatedAt, &readAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.ID, err = uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("parse notification id: %w", err)
		}
		n.Type = models.NotificationType(typ)
		if readAt.Valid {
			t := readAt.Time
			n.ReadAt = &t
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationsRead stamps read_at on all of a user's unread
// notifications. Repeat calls are no-ops.
func (db *DB) MarkNotificationsRead(ctx context.Context, businessID, userID string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx,
		`UPDATE notifications SET read_at = ? WHERE business_id = ? AND user_id = ? AND read_at IS NULL`,
		time.Now().UTC(), businessID, userID,
	)
	if err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}
