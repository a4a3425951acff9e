/*
Package sqlstore implements ledger.TxStore on top of database/sql.

PURPOSE:
  One implementation of the ledger persistence contract shared by the
  SQLite and PostgreSQL backends. The backends only contribute a schema,
  a Dialect (placeholders, time encoding, constraint errors) and a way to
  open the *sql.DB.

KEY TABLES:
  accounts:          id -> balance, version, role (CAS on version)
  ledger_entries:    Append-only. seq is the commit order and the cursor
  redemption_codes:  code -> status, one row per redemption entry

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on ledger_entries
  - Corrections via reversal entries only
  - At most one reversal per entry (unique index on related_entry_id)

CONSTRAINT MAPPING:
  ledger_entries.idempotency_key  -> ledger.ErrDuplicateIdempotencyKey
  ledger_entries.related_entry_id -> ledger.ErrAlreadyReversed
  redemption_codes.code           -> ledger.ErrDuplicateCode

SEE ALSO:
  - ledger/store.go: Interface definitions
  - store/sqlite, store/postgres: Backends
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/warp/points-ledger/ids"
	"github.com/warp/points-ledger/ledger"
)

// =============================================================================
// DIALECT
// =============================================================================

// Dialect captures what differs between SQL backends.
type Dialect struct {
	Name string

	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string

	// EncodeTime converts a timestamp into the value bound for time columns.
	EncodeTime func(t time.Time) any

	// UniqueViolation reports whether err is a unique-constraint failure and
	// returns text naming the violated column or constraint.
	UniqueViolation func(err error) (string, bool)

	// AppendLock, when set, is executed before every entry insert so that
	// seq order equals commit order under concurrent writers.
	AppendLock string

	// SingleWriter serializes WithTx in-process (SQLite has one writer).
	SingleWriter bool
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// STORE
// =============================================================================

type Store struct {
	db      *sql.DB
	q       querier
	dialect Dialect
	wmu     *sync.Mutex
	inTx    bool
	now     func() time.Time
}

var _ ledger.TxStore = (*Store)(nil)

// New wraps an open database. The schema must already exist.
func New(db *sql.DB, d Dialect) *Store {
	s := &Store{db: db, q: db, dialect: d, now: time.Now}
	if d.SingleWriter {
		s.wmu = &sync.Mutex{}
	}
	return s
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping is used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites ? placeholders for the dialect.
func (s *Store) rebind(query string) string {
	if s.dialect.Placeholder == nil {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.dialect.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) t(v time.Time) any {
	v = v.UTC()
	if s.dialect.EncodeTime == nil {
		return v
	}
	return s.dialect.EncodeTime(v)
}

func (s *Store) unique(err error) (string, bool) {
	if err == nil || s.dialect.UniqueViolation == nil {
		return "", false
	}
	return s.dialect.UniqueViolation(err)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction. fn must only use the
// Store it is given.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if s.wmu != nil {
		s.wmu.Lock()
		defer s.wmu.Unlock()
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	txStore := &Store{db: s.db, q: sqlTx, dialect: s.dialect, inTx: true, now: s.now}
	if err := fn(txStore); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `id, balance, version, role, updated_at`

func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	row := s.q.QueryRowContext(ctx, s.rebind(`SELECT `+accountColumns+` FROM accounts WHERE id = ?`), string(id))
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{ID: id, Role: ledger.DefaultRole}, nil
	}
	return a, err
}

func (s *Store) CompareAndSwapAccount(ctx context.Context, id ledger.AccountID, expected, balance int64) (ledger.Account, error) {
	if balance < 0 {
		return ledger.Account{}, fmt.Errorf("refusing negative balance %d for %s", balance, id)
	}
	now := s.t(s.now())

	var row *sql.Row
	if expected == 0 {
		// Missing row, or a row created by SetRole that was never credited.
		row = s.q.QueryRowContext(ctx, s.rebind(`
			INSERT INTO accounts (id, balance, version, role, updated_at)
			VALUES (?, ?, 1, ?, ?)
			ON CONFLICT (id) DO UPDATE
				SET balance = excluded.balance, version = 1, updated_at = excluded.updated_at
				WHERE accounts.version = 0
			RETURNING `+accountColumns), string(id), balance, string(ledger.DefaultRole), now)
	} else {
		row = s.q.QueryRowContext(ctx, s.rebind(`
			UPDATE accounts SET balance = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?
			RETURNING `+accountColumns), balance, now, string(id), expected)
	}

	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		var actual int64
		if err := s.q.QueryRowContext(ctx, s.rebind(`SELECT version FROM accounts WHERE id = ?`), string(id)).Scan(&actual); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return ledger.Account{}, fmt.Errorf("failed to read account version: %w", err)
		}
		return ledger.Account{}, &ledger.ConflictError{AccountID: id, Expected: expected, Actual: actual}
	}
	if err != nil {
		return ledger.Account{}, fmt.Errorf("failed to update account: %w", err)
	}
	return a, nil
}

func (s *Store) SetRole(ctx context.Context, id ledger.AccountID, role ledger.Role) error {
	_, err := s.q.ExecContext(ctx, s.rebind(`
		INSERT INTO accounts (id, balance, version, role, updated_at)
		VALUES (?, 0, 0, ?, ?)
		ON CONFLICT (id) DO UPDATE SET role = excluded.role`),
		string(id), string(role), s.t(s.now()))
	if err != nil {
		return fmt.Errorf("failed to set role: %w", err)
	}
	return nil
}

func (s *Store) TopBalances(ctx context.Context, limit int, role ledger.Role) ([]ledger.AccountBalance, error) {
	query := `SELECT id, role, balance FROM accounts`
	var args []any
	switch {
	case role == ledger.DefaultRole:
		// rows written before roles had a default carry ''
		query += ` WHERE role IN (?, '')`
		args = append(args, string(role))
	case role != "":
		query += ` WHERE role = ?`
		args = append(args, string(role))
	}
	query += ` ORDER BY balance DESC, id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var out []ledger.AccountBalance
	for rows.Next() {
		var (
			b        ledger.AccountBalance
			id, role string
		)
		if err := rows.Scan(&id, &role, &b.Balance); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		b.AccountID = ledger.AccountID(id)
		b.Role = ledger.Role(role)
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanAccount(row *sql.Row) (ledger.Account, error) {
	var (
		a        ledger.Account
		id, role string
		updated  dbTime
	)
	if err := row.Scan(&id, &a.Balance, &a.Version, &role, &updated); err != nil {
		return ledger.Account{}, err
	}
	a.ID = ledger.AccountID(id)
	a.Role = ledger.Role(role)
	a.UpdatedAt = updated.Time
	return a, nil
}

// =============================================================================
// ENTRIES - Append-only
// =============================================================================

const entryColumns = `seq, id, account_id, delta, kind, reason, related_entry_id,
	resulting_balance, version, idempotency_key, actor, created_at`

func (s *Store) AppendEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	if e.ID == "" {
		e.ID = ledger.EntryID(ids.New())
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	e.Timestamp = e.Timestamp.UTC()

	if s.dialect.AppendLock != "" {
		if _, err := s.q.ExecContext(ctx, s.dialect.AppendLock); err != nil {
			return ledger.Entry{}, fmt.Errorf("failed to lock entry sequence: %w", err)
		}
	}

	err := s.q.QueryRowContext(ctx, s.rebind(`
		INSERT INTO ledger_entries
		(id, account_id, delta, kind, reason, related_entry_id,
		 resulting_balance, version, idempotency_key, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING seq`),
		string(e.ID),
		string(e.AccountID),
		e.Delta,
		string(e.Kind),
		e.Reason,
		nullString(string(e.RelatedEntryID)),
		e.ResultingBalance,
		e.Version,
		nullString(e.IdempotencyKey),
		e.Actor,
		s.t(e.Timestamp),
	).Scan(&e.Seq)

	if detail, ok := s.unique(err); ok {
		switch {
		case strings.Contains(detail, "related_entry_id"):
			return ledger.Entry{}, ledger.ErrAlreadyReversed
		case strings.Contains(detail, "idempotency_key"):
			return ledger.Entry{}, ledger.ErrDuplicateIdempotencyKey
		}
		return ledger.Entry{}, fmt.Errorf("failed to append entry: %w", err)
	}
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("failed to append entry: %w", err)
	}
	return e, nil
}

func (s *Store) GetEntry(ctx context.Context, id ledger.EntryID) (ledger.Entry, error) {
	return s.getEntry(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = ?`, string(id))
}

func (s *Store) FindEntryByIdempotencyKey(ctx context.Context, key string) (ledger.Entry, error) {
	return s.getEntry(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE idempotency_key = ?`, key)
}

func (s *Store) FindReversal(ctx context.Context, id ledger.EntryID) (ledger.Entry, bool, error) {
	e, err := s.getEntry(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE related_entry_id = ? AND kind = ?`,
		string(id), string(ledger.KindReversal))
	if errors.Is(err, ledger.ErrNotFound) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, err
	}
	return e, true, nil
}

func (s *Store) getEntry(ctx context.Context, query string, args ...any) (ledger.Entry, error) {
	rows, err := s.q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("failed to query entry: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return ledger.Entry{}, err
		}
		return ledger.Entry{}, ledger.ErrNotFound
	}
	return scanEntry(rows)
}

func (s *Store) ListEntries(ctx context.Context, f ledger.EntryFilter) (ledger.EntryPage, error) {
	limit := ledger.NormalizeLimit(f.Limit)

	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE seq > ?`
	args := []any{f.After.Seq()}
	if f.AccountID != "" {
		query += ` AND account_id = ?`
		args = append(args, string(f.AccountID))
	}
	if f.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(f.Kind))
	}
	if !f.From.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, s.t(f.From))
	}
	if !f.To.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, s.t(f.To))
	}
	if f.UntilSeq > 0 {
		query += ` AND seq <= ?`
		args = append(args, f.UntilSeq)
	}
	query += ` ORDER BY seq ASC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return ledger.EntryPage{}, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var page ledger.EntryPage
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return ledger.EntryPage{}, err
		}
		page.Entries = append(page.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return ledger.EntryPage{}, err
	}
	if len(page.Entries) > limit {
		page.Entries = page.Entries[:limit]
		page.Next = ledger.CursorFromSeq(page.Entries[limit-1].Seq)
	}
	return page, nil
}

func (s *Store) HighWaterMark(ctx context.Context) (int64, error) {
	var hw int64
	if err := s.q.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM ledger_entries`).Scan(&hw); err != nil {
		return 0, fmt.Errorf("failed to read high-water mark: %w", err)
	}
	return hw, nil
}

func scanEntry(rows *sql.Rows) (ledger.Entry, error) {
	var (
		e                         ledger.Entry
		id, account, kind, reason string
		related, idempotency      sql.NullString
		actor                     string
		created                   dbTime
	)
	err := rows.Scan(
		&e.Seq, &id, &account, &e.Delta, &kind, &reason, &related,
		&e.ResultingBalance, &e.Version, &idempotency, &actor, &created,
	)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("failed to scan entry: %w", err)
	}
	e.ID = ledger.EntryID(id)
	e.AccountID = ledger.AccountID(account)
	e.Kind = ledger.Kind(kind)
	e.Reason = reason
	e.RelatedEntryID = ledger.EntryID(related.String)
	e.IdempotencyKey = idempotency.String
	e.Actor = actor
	e.Timestamp = created.Time
	return e, nil
}

// =============================================================================
// REDEMPTION CODES
// =============================================================================

const codeColumns = `code, account_id, points_used, status, issued_entry_id, expires_at, created_at, updated_at`

func (s *Store) InsertCode(ctx context.Context, c ledger.RedemptionCode) error {
	_, err := s.q.ExecContext(ctx, s.rebind(`
		INSERT INTO redemption_codes (`+codeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		c.Code, string(c.AccountID), c.PointsUsed, string(c.Status), string(c.IssuedEntryID),
		s.t(c.ExpiresAt), s.t(c.CreatedAt), s.t(c.UpdatedAt),
	)
	if detail, ok := s.unique(err); ok && !strings.Contains(detail, "issued_entry_id") {
		return ledger.ErrDuplicateCode
	}
	if err != nil {
		return fmt.Errorf("failed to insert redemption code: %w", err)
	}
	return nil
}

func (s *Store) GetCode(ctx context.Context, code string) (ledger.RedemptionCode, error) {
	return s.getCode(ctx, `SELECT `+codeColumns+` FROM redemption_codes WHERE code = ?`, code)
}

func (s *Store) GetCodeByEntry(ctx context.Context, id ledger.EntryID) (ledger.RedemptionCode, error) {
	return s.getCode(ctx, `SELECT `+codeColumns+` FROM redemption_codes WHERE issued_entry_id = ?`, string(id))
}

func (s *Store) getCode(ctx context.Context, query string, args ...any) (ledger.RedemptionCode, error) {
	rows, err := s.q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return ledger.RedemptionCode{}, fmt.Errorf("failed to query redemption code: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return ledger.RedemptionCode{}, err
		}
		return ledger.RedemptionCode{}, ledger.ErrNotFound
	}
	return scanCode(rows)
}

func (s *Store) TransitionCode(ctx context.Context, code string, from, to ledger.CodeStatus, at time.Time) (ledger.RedemptionCode, error) {
	res, err := s.q.ExecContext(ctx, s.rebind(`
		UPDATE redemption_codes SET status = ?, updated_at = ?
		WHERE code = ? AND status = ?`),
		string(to), s.t(at), code, string(from))
	if err != nil {
		return ledger.RedemptionCode{}, fmt.Errorf("failed to update redemption code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ledger.RedemptionCode{}, err
	}

	c, err := s.GetCode(ctx, code)
	if err != nil {
		return ledger.RedemptionCode{}, err
	}
	if n == 0 {
		return ledger.RedemptionCode{}, fmt.Errorf("%w: %s is %s, not %s", ledger.ErrInvalidTransition, code, c.Status, from)
	}
	return c, nil
}

func (s *Store) ActiveCodesExpiring(ctx context.Context, before time.Time, limit int) ([]ledger.RedemptionCode, error) {
	if limit <= 0 {
		limit = ledger.DefaultPageSize
	}
	rows, err := s.q.QueryContext(ctx, s.rebind(`
		SELECT `+codeColumns+` FROM redemption_codes
		WHERE status = ? AND expires_at <= ?
		ORDER BY expires_at ASC
		LIMIT ?`),
		string(ledger.CodeActive), s.t(before), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring codes: %w", err)
	}
	defer rows.Close()

	var out []ledger.RedemptionCode
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCode(rows *sql.Rows) (ledger.RedemptionCode, error) {
	var (
		c                         ledger.RedemptionCode
		account, status, entry    string
		expires, created, updated dbTime
	)
	err := rows.Scan(&c.Code, &account, &c.PointsUsed, &status, &entry, &expires, &created, &updated)
	if err != nil {
		return ledger.RedemptionCode{}, fmt.Errorf("failed to scan redemption code: %w", err)
	}
	c.AccountID = ledger.AccountID(account)
	c.Status = ledger.CodeStatus(status)
	c.IssuedEntryID = ledger.EntryID(entry)
	c.ExpiresAt = expires.Time
	c.CreatedAt = created.Time
	c.UpdatedAt = updated.Time
	return c, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// TimeLayout is the fixed-width UTC layout used where timestamps are
// stored as text. Fixed width keeps lexical and chronological order equal.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t with TimeLayout.
func FormatTime(t time.Time) any {
	return t.UTC().Format(TimeLayout)
}

// PositionalPlaceholder renders $1, $2, ...
func PositionalPlaceholder(n int) string {
	return "$" + strconv.Itoa(n)
}

// dbTime scans timestamps stored either natively or as text.
type dbTime struct {
	time.Time
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	}
	return fmt.Errorf("cannot scan %T into time", src)
}

func (t *dbTime) parse(s string) error {
	for _, layout := range []string{TimeLayout, time.RFC3339Nano} {
		if v, err := time.Parse(layout, s); err == nil {
			t.Time = v.UTC()
			return nil
		}
	}
	return fmt.Errorf("cannot parse time %q", s)
}
