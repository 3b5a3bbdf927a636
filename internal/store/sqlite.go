// Package store provides SQLite-backed persistence for the negotiation engine.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id       TEXT PRIMARY KEY,
	sku              TEXT NOT NULL,
	user_id          TEXT NOT NULL,
	segment          TEXT NOT NULL DEFAULT 'returning',
	quantity         INTEGER NOT NULL DEFAULT 1,
	language         TEXT NOT NULL DEFAULT 'en',
	base_price       INTEGER NOT NULL,
	floor_price      INTEGER NOT NULL,
	max_rounds       INTEGER NOT NULL DEFAULT 3,
	current_round    INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL DEFAULT 'active',
	state_version    INTEGER NOT NULL DEFAULT 1,
	final_price      INTEGER NOT NULL DEFAULT 0,
	discount_token   TEXT NOT NULL DEFAULT '',
	discount_applied INTEGER NOT NULL DEFAULT 0,
	accepted_at_unix INTEGER NOT NULL DEFAULT 0,
	rejected_round   INTEGER NOT NULL DEFAULT 0,
	expires_at_unix  INTEGER NOT NULL,
	created_at_unix  INTEGER NOT NULL,
	updated_at_unix  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_token ON sessions(discount_token) WHERE discount_token != '';

CREATE TABLE IF NOT EXISTS rounds (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id    TEXT NOT NULL,
	round_no      INTEGER NOT NULL,
	user_offer    INTEGER NOT NULL,
	status        TEXT NOT NULL,
	counter_price INTEGER NOT NULL DEFAULT 0,
	justification TEXT NOT NULL DEFAULT '',
	perks_json    TEXT NOT NULL DEFAULT '[]',
	bundles_json  TEXT NOT NULL DEFAULT '[]',
	source        TEXT NOT NULL DEFAULT '',
	created_at_unix INTEGER NOT NULL,
	UNIQUE(session_id, round_no)
);
CREATE INDEX IF NOT EXISTS idx_rounds_session ON rounds(session_id, round_no);

CREATE TABLE IF NOT EXISTS fraud_flags (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id      TEXT NOT NULL,
	user_id         TEXT NOT NULL DEFAULT '',
	kind            TEXT NOT NULL,
	severity        TEXT NOT NULL DEFAULT 'medium',
	detail          TEXT NOT NULL DEFAULT '',
	created_at_unix INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fraud_session ON fraud_flags(session_id);

CREATE TABLE IF NOT EXISTS discount_records (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id          TEXT NOT NULL,
	sku                 TEXT NOT NULL,
	user_id             TEXT NOT NULL,
	base_price          INTEGER NOT NULL,
	final_price         INTEGER NOT NULL,
	discount_amount     INTEGER NOT NULL,
	discount_pct        REAL NOT NULL DEFAULT 0.0,
	rounds              INTEGER NOT NULL DEFAULT 0,
	seconds_to_decision INTEGER NOT NULL DEFAULT 0,
	created_at_unix     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_discounts_sku ON discount_records(sku);

CREATE TABLE IF NOT EXISTS negotiation_rules (
	sku                TEXT PRIMARY KEY,
	base_price         INTEGER NOT NULL,
	min_price          INTEGER NOT NULL,
	max_discount_pct   REAL NOT NULL DEFAULT 0.0,
	max_rounds         INTEGER NOT NULL DEFAULT 3,
	stock_level        INTEGER NOT NULL DEFAULT 0,
	segment_rules_json TEXT NOT NULL DEFAULT '{}',
	perks_json         TEXT NOT NULL DEFAULT '[]',
	bundles_json       TEXT NOT NULL DEFAULT '[]',
	enabled            INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS products (
	sku          TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	price        INTEGER NOT NULL,
	stock_level  INTEGER NOT NULL DEFAULT 0,
	on_clearance INTEGER NOT NULL DEFAULT 0
);
`

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Limit connections to 1 for SQLite (WAL allows concurrent reads but single writer).
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}
