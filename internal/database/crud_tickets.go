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
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/coverpoint/tabsync/internal/metrics"
	"github.com/coverpoint/tabsync/internal/models"
)

// ErrItemNotFound indicates no item on the latest entry matched the name.
var ErrItemNotFound = errors.New("no matching item on latest ticket entry")

// AppendTicketEntry inserts a new ticket log entry.
//
// When entry.IdempotencyKey is set and an entry with the same key already
// exists for the business, no new row is written and the existing entry's
// id is returned with Deduped=true. This makes outbox replay safe under
// retries and duplicate delivery.
func (db *DB) AppendTicketEntry(ctx context.Context, entry *models.TicketLogEntry) (models.AppendResult, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecordDBQuery("append_ticket_entry", time.Since(start)) }()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Kind == "" {
		entry.Kind = models.EntryKindSend
	}

	if entry.IdempotencyKey != "" {
		if id, ok, err := db.findByIdempotencyKey(ctx, entry.BusinessID, entry.IdempotencyKey); err != nil {
			return models.AppendResult{}, err
		} else if ok {
			return models.AppendResult{ID: id, Deduped: true}, nil
		}
	}

	itemsJSON, err := json.Marshal(entry.Items)
	if err != nil {
		return models.AppendResult{}, fmt.Errorf("marshal items: %w", err)
	}

	var idemKey interface{}
	if entry.IdempotencyKey != "" {
		idemKey = entry.IdempotencyKey
	}
	var covers interface{}
	if entry.Covers != nil {
		covers = *entry.Covers
	}

	query := `INSERT INTO ticket_log (
		id, business_id, area, table_label, user_id, kind, covers, items, note, idempotency_key, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = db.conn.ExecContext(ctx, query,
		entry.ID.String(), entry.BusinessID, entry.Area, entry.TableLabel, entry.UserID,
		string(entry.Kind), covers, string(itemsJSON), entry.Note, idemKey, entry.CreatedAt,
	)
	if err != nil {
		// A concurrent replay may have won the unique-index race on the
		// idempotency key. Treat that as a dedup hit, not a failure.
		if entry.IdempotencyKey != "" && isUniqueViolation(err) {
			if id, ok, selErr := db.findByIdempotencyKey(ctx, entry.BusinessID, entry.IdempotencyKey); selErr == nil && ok {
				return models.AppendResult{ID: id, Deduped: true}, nil
			}
		}
		return models.AppendResult{}, fmt.Errorf("insert ticket entry: %w", err)
	}

	return models.AppendResult{ID: entry.ID}, nil
}

// findByIdempotencyKey returns the id of the entry carrying the key, if any.
func (db *DB) findByIdempotencyKey(ctx context.Context, businessID, key string) (uuid.UUID, bool, error) {
	var idStr string
	err := db.conn.QueryRowContext(ctx,
		`SELECT id FROM ticket_log WHERE business_id = ? AND idempotency_key = ?`,
		businessID, key,
	).Scan(&idStr)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("idempotency lookup: %w", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("parse entry id: %w", err)
	}
	return id, true, nil
}

// isUniqueViolation reports whether the error looks like a unique
// constraint failure. DuckDB has no structured error codes over
// database/sql, so this matches the message.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

// LatestTicketEntry returns the most recent "send" entry for a table, or
// ErrNotFound. It is the authority for what is currently ordered on the
// table; voided items are NOT filtered here, callers decide.
func (db *DB) LatestTicketEntry(ctx context.Context, businessID, area, label string) (*models.TicketLogEntry, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecordDBQuery("latest_ticket_entry", time.Since(start)) }()

	query := `SELECT id, business_id, area, table_label, user_id, kind, covers, items, note, idempotency_key, created_at
		FROM ticket_log
		WHERE business_id = ? AND area = ? AND table_label = ? AND kind = ?
		ORDER BY created_at DESC
		LIMIT 1`

	row := db.conn.QueryRowContext(ctx, query, businessID, area, label, string(models.EntryKindSend))
	return scanTicketEntry(row)
}

// LastPaymentAt returns the timestamp of the most recent payment entry for
// a table. Returns ErrNotFound when the table has no recorded payment.
func (db *DB) LastPaymentAt(ctx context.Context, businessID, area, label string) (time.Time, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var ts time.Time
	err := db.conn.QueryRowContext(ctx,
		`SELECT created_at FROM ticket_log
		WHERE business_id = ? AND area = ? AND table_label = ? AND kind = ?
		ORDER BY created_at DESC LIMIT 1`,
		businessID, area, label, string(models.EntryKindPayment),
	).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("last payment lookup: %w", err)
	}
	return ts, nil
}

// VoidItemOnLatest flags the first item matching name on the table's latest
// entry as voided, in place, and returns the updated entry.
//
// Known limitation, preserved deliberately: matching is by item name only,
// not line identity. When two distinct lines share a name, only the first
// match is voided.
func (db *DB) VoidItemOnLatest(ctx context.Context, businessID, area, label, name string) (*models.TicketLogEntry, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecordDBQuery("void_item", time.Since(start)) }()

	entry, err := db.LatestTicketEntry(ctx, businessID, area, label)
	if err != nil {
		return nil, err
	}

	matched := false
	for i := range entry.Items {
		if entry.Items[i].Name == name {
			entry.Items[i].Voided = true
			matched = true
			break
		}
	}
	if !matched {
		return nil, ErrItemNotFound
	}

	if err := db.rewriteItems(ctx, entry, entry.Note); err != nil {
		return nil, err
	}
	return entry, nil
}

// VoidTicketOnLatest flags every item on the table's latest entry as voided
// and appends a void annotation to the note. Returns the updated entry.
// Clearing the occupancy row is the caller's responsibility so the two
// effects stay independently auditable.
func (db *DB) VoidTicketOnLatest(ctx context.Context, businessID, area, label, reason string) (*models.TicketLogEntry, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecordDBQuery("void_ticket", time.Since(start)) }()

	entry, err := db.LatestTicketEntry(ctx, businessID, area, label)
	if err != nil {
		return nil, err
	}

	for i := range entry.Items {
		entry.Items[i].Voided = true
	}

	annotation := "[voided]"
	if reason != "" {
		annotation = fmt.Sprintf("[voided: %s]", reason)
	}
	note := entry.Note
	if note != "" {
		note += " "
	}
	note += annotation

	if err := db.rewriteItems(ctx, entry, note); err != nil {
		return nil, err
	}
	entry.Note = note
	return entry, nil
}

// SetCoversOnLatest records the covers count on the table's latest send
// entry. Used by outbox replay as a best-effort secondary effect.
func (db *DB) SetCoversOnLatest(ctx context.Context, businessID, area, label string, covers int) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	entry, err := db.LatestTicketEntry(ctx, businessID, area, label)
	if err != nil {
		return err
	}

	_, err = db.conn.ExecContext(ctx,
		`UPDATE ticket_log SET covers = ? WHERE id = ?`,
		covers, entry.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("set covers: %w", err)
	}
	return nil
}

// rewriteItems persists the entry's mutated items (and note) in place.
// This is the only mutation the ticket log permits.
func (db *DB) rewriteItems(ctx context.Context, entry *models.TicketLogEntry, note string) error {
	itemsJSON, err := json.Marshal(entry.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}

	res, err := db.conn.ExecContext(ctx,
		`UPDATE ticket_log SET items = ?, note = ? WHERE id = ?`,
		string(itemsJSON), note, entry.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("update ticket entry: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for entry scanning.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanTicketEntry scans one ticket_log row into a model.
func scanTicketEntry(row rowScanner) (*models.TicketLogEntry, error) {
	var (
		idStr     string
		kind      string
		covers    sql.NullInt64
		itemsJSON string
		idemKey   sql.NullString
		entry     models.TicketLogEntry
	)

	err := row.Scan(&idStr, &entry.BusinessID, &entry.Area, &entry.TableLabel, &entry.UserID,
		&kind, &covers, &itemsJSON, &entry.Note, &idemKey, &entry.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ticket entry: %w", err)
	}

	entry.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse entry id: %w", err)
	}
	entry.Kind = models.EntryKind(kind)
	if covers.Valid {
		c := int(covers.Int64)
		entry.Covers = &c
	}
	if idemKey.Valid {
		entry.IdempotencyKey = idemKey.String
	}
	if err := json.Unmarshal([]byte(itemsJSON), &entry.Items); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}

	return &entry, nil
}
