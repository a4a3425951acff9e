/*
Package postgres provides the PostgreSQL backend for the points ledger.

PURPOSE:
  Same tables and semantics as the SQLite backend, for deployments with
  more than one service instance. Opened through pgx's database/sql driver.

CONCURRENCY:
  - CAS is a conditional UPDATE; a concurrent writer on the same row makes
    the loser match zero rows under READ COMMITTED, which surfaces as
    ledger.ErrConflict.
  - Entry inserts take a transaction-scoped advisory lock so seq values are
    handed out in commit order. Report snapshots pinned to a seq then never
    miss a late-committing lower seq.

SEE ALSO:
  - store/sqlstore: Shared SQL implementation
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/warp/points-ledger/store/sqlstore"
)

const uniqueViolationCode = "23505"

// Schema is the PostgreSQL DDL. Constraint names are chosen so that the
// violated column appears in them.
const Schema = `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		version BIGINT NOT NULL DEFAULT 0,
		role TEXT NOT NULL DEFAULT 'resident',
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_balance ON accounts (balance DESC, id);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL CONSTRAINT ledger_entries_id_key UNIQUE,
		account_id TEXT NOT NULL,
		delta BIGINT NOT NULL CHECK (delta <> 0),
		kind TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		related_entry_id TEXT REFERENCES ledger_entries (id),
		resulting_balance BIGINT NOT NULL CHECK (resulting_balance >= 0),
		version BIGINT NOT NULL,
		idempotency_key TEXT CONSTRAINT ledger_entries_idempotency_key_key UNIQUE,
		actor TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_account_seq ON ledger_entries (account_id, seq);
	CREATE INDEX IF NOT EXISTS idx_entries_created_at ON ledger_entries (created_at);
	CREATE UNIQUE INDEX IF NOT EXISTS ledger_entries_related_entry_id_reversal_key
		ON ledger_entries (related_entry_id) WHERE kind = 'reversal';

	CREATE TABLE IF NOT EXISTS redemption_codes (
		code TEXT CONSTRAINT redemption_codes_code_pkey PRIMARY KEY,
		account_id TEXT NOT NULL,
		points_used BIGINT NOT NULL CHECK (points_used > 0),
		status TEXT NOT NULL,
		issued_entry_id TEXT NOT NULL CONSTRAINT redemption_codes_issued_entry_id_key UNIQUE
			REFERENCES ledger_entries (id),
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_codes_status_expires ON redemption_codes (status, expires_at);
`

// appendLockKey is an arbitrary constant shared by every ledger writer.
const appendLockKey = 7_340_101

var Dialect = sqlstore.Dialect{
	Name:            "postgres",
	Placeholder:     sqlstore.PositionalPlaceholder,
	UniqueViolation: uniqueViolation,
	AppendLock:      fmt.Sprintf("SELECT pg_advisory_xact_lock(%d)", appendLockKey),
}

// Options tune the connection pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// SkipMigrate leaves the schema alone (managed elsewhere).
	SkipMigrate bool
}

func (o Options) withDefaults() Options {
	if o.MaxOpenConns == 0 {
		o.MaxOpenConns = 50
	}
	if o.MaxIdleConns == 0 {
		o.MaxIdleConns = 25
	}
	if o.ConnMaxLifetime == 0 {
		o.ConnMaxLifetime = 15 * time.Minute
	}
	if o.ConnMaxIdleTime == 0 {
		o.ConnMaxIdleTime = 5 * time.Minute
	}
	return o
}

// Open connects to dsn, verifies the connection and migrates the schema.
func Open(ctx context.Context, dsn string, opts Options) (*sqlstore.Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	opts = opts.withDefaults()
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	if !opts.SkipMigrate {
		if err := Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}
	return sqlstore.New(db, Dialect), nil
}

// NewFromDB wraps an already-open database.
func NewFromDB(db *sql.DB) *sqlstore.Store {
	return sqlstore.New(db, Dialect)
}

func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolationCode {
		return "", false
	}
	return pgErr.ConstraintName, true
}
