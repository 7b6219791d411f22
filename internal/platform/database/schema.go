// Package database owns the relational schema. The engine stores each
// aggregate as one JSONB document with the columns it filters on pulled
// out beside it, so the schema stays small enough to keep inline.
package database

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS batches (
	id            TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	owner         UUID NOT NULL,
	doc           JSONB NOT NULL,
	registered_at TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS batches_owner_idx ON batches (owner);
CREATE INDEX IF NOT EXISTS batches_status_idx ON batches (status);

CREATE TABLE IF NOT EXISTS principals (
	id           UUID PRIMARY KEY,
	name         TEXT NOT NULL,
	roles        JSONB NOT NULL,
	licenses     JSONB NOT NULL,
	api_key_hash TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL,
	revoked_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS audit_events (
	id          UUID PRIMARY KEY,
	category    TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	actor       TEXT NOT NULL DEFAULT '',
	batch_id    TEXT NOT NULL DEFAULT '',
	action      TEXT NOT NULL,
	decision    TEXT NOT NULL DEFAULT '',
	reason      TEXT NOT NULL DEFAULT '',
	evidence    TEXT NOT NULL DEFAULT '',
	request_id  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS audit_events_batch_idx ON audit_events (batch_id, occurred_at);

CREATE TABLE IF NOT EXISTS outbox (
	id             UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id   TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	payload        JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	published_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS outbox_pending_idx ON outbox (created_at) WHERE published_at IS NULL;
`

// EnsureSchema creates the ledger tables if they do not exist. Idempotent.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
