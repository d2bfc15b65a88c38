// Tabsync - Restaurant POS Ticket and Table State Synchronization
// Copyright 2026 M. Reyes (coverpoint)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/coverpoint/tabsync

package database

import (
	"context"
	"fmt"
)

// Schema notes:
//
// ticket_log is append-biased: rows are inserted on Send Items/Pay, the
// items JSON is rewritten by void operations, and rows are never deleted.
//
// table_state replaces the legacy per-business "tables:open"/"tables:openAt"
// JSON blobs with one composite-keyed row per open table. The conditional
// insert (ON CONFLICT DO NOTHING) preserves opened_at across repeated opens
// and removes the read-modify-write race the blob layout had; observable
// semantics are unchanged.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS ticket_log (
		id              VARCHAR PRIMARY KEY,
		business_id     VARCHAR NOT NULL,
		area            VARCHAR NOT NULL,
		table_label     VARCHAR NOT NULL,
		user_id         VARCHAR NOT NULL,
		kind            VARCHAR NOT NULL DEFAULT 'send',
		covers          INTEGER,
		items           VARCHAR NOT NULL,
		note            VARCHAR NOT NULL DEFAULT '',
		idempotency_key VARCHAR,
		created_at      TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ticket_log_table
		ON ticket_log (business_id, area, table_label, created_at)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_ticket_log_idem
		ON ticket_log (business_id, idempotency_key)`,

	`CREATE TABLE IF NOT EXISTS table_state (
		business_id VARCHAR NOT NULL,
		area        VARCHAR NOT NULL,
		label       VARCHAR NOT NULL,
		opened_at   TIMESTAMP NOT NULL,
		PRIMARY KEY (business_id, area, label)
	)`,

	`CREATE TABLE IF NOT EXISTS ticket_requests (
		id           VARCHAR PRIMARY KEY,
		business_id  VARCHAR NOT NULL,
		requester_id VARCHAR NOT NULL,
		owner_id     VARCHAR NOT NULL,
		area         VARCHAR NOT NULL,
		table_label  VARCHAR NOT NULL,
		items        VARCHAR NOT NULL,
		note         VARCHAR NOT NULL DEFAULT '',
		status       VARCHAR NOT NULL,
		created_at   TIMESTAMP NOT NULL,
		decided_at   TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ticket_requests_owner
		ON ticket_requests (business_id, owner_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_ticket_requests_table
		ON ticket_requests (business_id, area, table_label, status)`,

	`CREATE TABLE IF NOT EXISTS notifications (
		id          VARCHAR PRIMARY KEY,
		business_id VARCHAR NOT NULL,
		user_id     VARCHAR NOT NULL,
		type        VARCHAR NOT NULL,
		message     VARCHAR NOT NULL,
		created_at  TIMESTAMP NOT NULL,
		read_at     TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_user
		ON notifications (business_id, user_id, type, created_at)`,
}

// initSchema creates all tables and indexes if they do not exist.
func (db *DB) initSchema(ctx context.Context) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
