// Package migrations applies the embedded schema for the wallet layer's
// Postgres store. Statements are idempotent so Apply can run on every
// startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS feature_sets (
		version        BIGINT PRIMARY KEY,
		features       JSONB NOT NULL,
		to_initialize  JSONB NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS wallet_accounts (
		account          TEXT PRIMARY KEY,
		current_version  BIGINT NOT NULL DEFAULT 0,
		lock_locker      TEXT NOT NULL DEFAULT '',
		lock_expires_at  TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS init_records (
		account     TEXT NOT NULL,
		module      TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (account, module)
	)`,
	`CREATE TABLE IF NOT EXISTS storage_modules (
		address     TEXT PRIMARY KEY,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS upgrade_records (
		id            TEXT PRIMARY KEY,
		account       TEXT NOT NULL,
		from_version  BIGINT NOT NULL,
		to_version    BIGINT NOT NULL,
		requester     TEXT NOT NULL,
		initialized   JSONB NOT NULL,
		success       BOOLEAN NOT NULL,
		reason        TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_upgrade_records_account ON upgrade_records (account, created_at)`,
	`CREATE TABLE IF NOT EXISTS account_nonces (
		account  TEXT PRIMARY KEY,
		nonce    BIGINT NOT NULL DEFAULT 0
	)`,
}

// Apply runs every migration statement in order.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
