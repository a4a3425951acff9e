/*
Package sqlite provides the SQLite backend for the points ledger.

PURPOSE:
  Opens the database file, creates the schema and returns a sqlstore.Store
  configured with the SQLite dialect. This is the default backend.

INDEXES:
  - idx_entries_account_seq:     History and per-account reports (hot path)
  - idx_entries_created_at:      Time-bounded reports
  - idx_entries_one_reversal:    At most one reversal per entry
  - idx_codes_status_expires:    Expiry sweeper scan
  - idx_accounts_balance:        Leaderboard

CONCURRENCY:
  SQLite has a single writer. Write transactions are serialized in-process
  and opened with BEGIN IMMEDIATE, so the CAS read-check-write never sees a
  SQLITE_BUSY upgrade failure halfway through.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := ledger.NewService(store)

MIGRATION:
  Schema is auto-migrated on New(). Every statement is IF NOT EXISTS.

SEE ALSO:
  - store/sqlstore: Shared SQL implementation
  - store/postgres: PostgreSQL backend
*/
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/points-ledger/store/sqlstore"
)

// Schema is the SQLite DDL. Timestamps are fixed-width UTC text.
const Schema = `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		version INTEGER NOT NULL DEFAULT 0,
		role TEXT NOT NULL DEFAULT 'resident',
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_balance
		ON accounts(balance DESC, id);

	-- Append-only ledger
	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		account_id TEXT NOT NULL,
		delta INTEGER NOT NULL CHECK (delta <> 0),
		kind TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		related_entry_id TEXT REFERENCES ledger_entries(id),
		resulting_balance INTEGER NOT NULL CHECK (resulting_balance >= 0),
		version INTEGER NOT NULL,
		idempotency_key TEXT UNIQUE,
		actor TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_account_seq
		ON ledger_entries(account_id, seq);
	CREATE INDEX IF NOT EXISTS idx_entries_created_at
		ON ledger_entries(created_at);

	-- CRITICAL: an entry can be reversed at most once
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_one_reversal
		ON ledger_entries(related_entry_id)
		WHERE kind = 'reversal';

	CREATE TABLE IF NOT EXISTS redemption_codes (
		code TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		points_used INTEGER NOT NULL CHECK (points_used > 0),
		status TEXT NOT NULL,
		issued_entry_id TEXT NOT NULL UNIQUE REFERENCES ledger_entries(id),
		expires_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_codes_status_expires
		ON redemption_codes(status, expires_at);
`

// Dialect is the SQLite flavour of sqlstore.
var Dialect = sqlstore.Dialect{
	Name:            "sqlite",
	EncodeTime:      sqlstore.FormatTime,
	UniqueViolation: uniqueViolation,
	SingleWriter:    true,
}

// New opens (or creates) the database at dbPath and migrates it.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*sqlstore.Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection to :memory: is its own database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return sqlstore.New(db, Dialect), nil
}

func uniqueViolation(err error) (string, bool) {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return "", false
	}
	if se.ExtendedCode != sqlite3.ErrConstraintUnique && se.ExtendedCode != sqlite3.ErrConstraintPrimaryKey {
		return "", false
	}
	// "UNIQUE constraint failed: ledger_entries.idempotency_key"
	return se.Error(), true
}
