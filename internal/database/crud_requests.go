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

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/coverpoint/tabsync/internal/metrics"
	"github.com/coverpoint/tabsync/internal/models"
)

// InsertTicketRequest persists a new add-item request.
func (db *DB) InsertTicketRequest(ctx context.Context, req *models.TicketRequest) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecordDBQuery("insert_ticket_request", time.Since(start)) }()

	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if req.Status == "" {
		req.Status = models.RequestPending
	}

	itemsJSON, err := json.Marshal(req.Items)
	if err != nil {
		return fmt.Errorf("marshal request items: %w", err)
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO ticket_requests (
			id, business_id, requester_id, owner_id, area, table_label, items, note, status, created_at, decided_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		req.ID.String(), req.BusinessID, req.RequesterID, req.OwnerID,
		req.Area, req.TableLabel, string(itemsJSON), req.Note, string(req.Status), req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ticket request: %w", err)
	}
	return nil
}

// GetTicketRequest retrieves a request by id, scoped to a business.
func (db *DB) GetTicketRequest(ctx context.Context, businessID string, id uuid.UUID) (*models.TicketRequest, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		`SELECT id, business_id, requester_id, owner_id, area, table_label, items, note, status, created_at, decided_at
		FROM ticket_requests WHERE business_id = ? AND id = ?`,
		businessID, id.String(),
	)
	return scanTicketRequest(row)
}

// TransitionRequestStatus moves a request from one status to another with a
// guarded conditional update. Returns ErrStatusConflict if the request was
// not in the expected prior status, which keeps concurrent approvals safe
// without a transaction.
func (db *DB) TransitionRequestStatus(ctx context.Context, businessID string, id uuid.UUID, from, to models.RequestStatus) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecordDBQuery("transition_request", time.Since(start)) }()

	if _, err := from.Transition(to); err != nil {
		return err
	}

	res, err := db.conn.ExecContext(ctx,
		`UPDATE ticket_requests SET status = ?, decided_at = ?
		WHERE business_id = ? AND id = ? AND status = ?`,
		string(to), time.Now().UTC(), businessID, id.String(), string(from),
	)
	if err != nil {
		return fmt.Errorf("transition request %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition request %s: %w", id, err)
	}
	if n == 0 {
		return ErrStatusConflict
	}

	metrics.RequestTransitions.WithLabelValues(string(to)).Inc()
	return nil
}

// ListRequestsForOwner returns an owner's requests in the given statuses,
// newest first.
func (db *DB) ListRequestsForOwner(ctx context.Context, businessID, ownerID string, statuses ...models.RequestStatus) ([]models.TicketRequest, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if len(statuses) == 0 {
		statuses = []models.RequestStatus{models.RequestPending}
	}

	query := `SELECT id, business_id, requester_id, owner_id, area, table_label, items, note, status, created_at, decided_at
		FROM ticket_requests WHERE business_id = ? AND owner_id = ? AND status IN (`
	args := []interface{}{businessID, ownerID}
	for i, s := range statuses {
		if i > 0 {
			query += ", "
		}
		query += "?"
		args = append(args, string(s))
	}
	query += `) ORDER BY created_at DESC`

	return db.queryRequests(ctx, query, args...)
}

// ListActiveRequestsForTable returns PENDING and APPROVED requests for a
// table, oldest first. Used by the stale sweep.
func (db *DB) ListActiveRequestsForTable(ctx context.Context, businessID, area, label string) ([]models.TicketRequest, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT id, business_id, requester_id, owner_id, area, table_label, items, note, status, created_at, decided_at
		FROM ticket_requests
		WHERE business_id = ? AND area = ? AND table_label = ? AND status IN (?, ?)
		ORDER BY created_at`

	return db.queryRequests(ctx, query, businessID, area, label,
		string(models.RequestPending), string(models.RequestApproved))
}

func (db *DB) queryRequests(ctx context.Context, query string, args ...interface{}) ([]models.TicketRequest, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	var reqs []models.TicketRequest
	for rows.Next() {
		req, err := scanTicketRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *req)
	}
	return reqs, rows.Err()
}

// scanTicketRequest scans one ticket_requests row.
func scanTicketRequest(row rowScanner) (*models.TicketRequest, error) {
	var (
		idStr     string
		itemsJSON string
		status    string
		decidedAt sql.NullTime
		req       models.TicketRequest
	)

	err := row.Scan(&idStr, &req.BusinessID, &req.RequesterID, &req.OwnerID,
		&req.Area, &req.TableLabel, &itemsJSON, &req.Note, &status, &req.CreatedAt, &decidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ticket request: %w", err)
	}

	req.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse request id: %w", err)
	}
	req.Status = models.RequestStatus(status)
	if decidedAt.Valid {
		t := decidedAt.Time
		req.DecidedAt = &t
	}
	if err := json.Unmarshal([]byte(itemsJSON), &req.Items); err != nil {
		return nil, fmt.Errorf("unmarshal request items: %w", err)
	}

	return &req, nil
}
