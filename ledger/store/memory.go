// Package store provides in-process ledger.TxStore implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/points-ledger/ids"
	"github.com/warp/points-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	accounts  map[ledger.AccountID]ledger.Account
	entries   []ledger.Entry // ordered by Seq
	byID      map[ledger.EntryID]int
	byKey     map[string]int
	reversals map[ledger.EntryID]int
	codes     map[string]ledger.RedemptionCode
	codeByEnt map[ledger.EntryID]string
	seq       int64
	now       func() time.Time
}

var _ ledger.TxStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		accounts:  make(map[ledger.AccountID]ledger.Account),
		byID:      make(map[ledger.EntryID]int),
		byKey:     make(map[string]int),
		reversals: make(map[ledger.EntryID]int),
		codes:     make(map[string]ledger.RedemptionCode),
		codeByEnt: make(map[ledger.EntryID]string),
		now:       time.Now,
	}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) GetAccount(_ context.Context, id ledger.AccountID) (ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAccountLocked(id), nil
}

func (m *Memory) getAccountLocked(id ledger.AccountID) ledger.Account {
	if a, ok := m.accounts[id]; ok {
		return a
	}
	return ledger.Account{ID: id, Role: ledger.DefaultRole}
}

func (m *Memory) CompareAndSwapAccount(_ context.Context, id ledger.AccountID, expected, balance int64) (ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.casLocked(id, expected, balance)
}

func (m *Memory) casLocked(id ledger.AccountID, expected, balance int64) (ledger.Account, error) {
	cur := m.getAccountLocked(id)
	if cur.Version != expected {
		return ledger.Account{}, &ledger.ConflictError{AccountID: id, Expected: expected, Actual: cur.Version}
	}
	if balance < 0 {
		return ledger.Account{}, &ledger.InsufficientBalanceError{AccountID: id, Available: cur.Balance, Requested: cur.Balance - balance}
	}
	cur.Balance = balance
	cur.Version++
	cur.UpdatedAt = m.now().UTC()
	m.accounts[id] = cur
	return cur, nil
}

func (m *Memory) SetRole(_ context.Context, id ledger.AccountID, role ledger.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.getAccountLocked(id)
	a.Role = role
	m.accounts[id] = a
	return nil
}

func (m *Memory) TopBalances(_ context.Context, limit int, role ledger.Role) ([]ledger.AccountBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ledger.AccountBalance, 0, len(m.accounts))
	for _, a := range m.accounts {
		if role != "" && a.Role != role {
			continue
		}
		out = append(out, ledger.AccountBalance{AccountID: a.ID, Role: a.Role, Balance: a.Balance})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Balance != out[j].Balance {
			return out[i].Balance > out[j].Balance
		}
		return out[i].AccountID < out[j].AccountID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// =============================================================================
// ENTRIES - Append-only
// =============================================================================

func (m *Memory) AppendEntry(_ context.Context, e ledger.Entry) (ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(e)
}

func (m *Memory) appendLocked(e ledger.Entry) (ledger.Entry, error) {
	if e.IdempotencyKey != "" {
		if _, dup := m.byKey[e.IdempotencyKey]; dup {
			return ledger.Entry{}, ledger.ErrDuplicateIdempotencyKey
		}
	}
	if e.Kind == ledger.KindReversal {
		if _, dup := m.reversals[e.RelatedEntryID]; dup {
			return ledger.Entry{}, ledger.ErrAlreadyReversed
		}
	}
	if e.ID == "" {
		e.ID = ledger.EntryID(ids.New())
	}
	if _, dup := m.byID[e.ID]; dup {
		return ledger.Entry{}, fmt.Errorf("entry %s already exists", e.ID)
	}
	m.seq++
	e.Seq = m.seq

	idx := len(m.entries)
	m.entries = append(m.entries, e)
	m.byID[e.ID] = idx
	if e.IdempotencyKey != "" {
		m.byKey[e.IdempotencyKey] = idx
	}
	if e.Kind == ledger.KindReversal {
		m.reversals[e.RelatedEntryID] = idx
	}
	return e, nil
}

func (m *Memory) GetEntry(_ context.Context, id ledger.EntryID) (ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.byID[id]
	if !ok {
		return ledger.Entry{}, ledger.ErrNotFound
	}
	return m.entries[idx], nil
}

func (m *Memory) FindEntryByIdempotencyKey(_ context.Context, key string) (ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.byKey[key]
	if !ok {
		return ledger.Entry{}, ledger.ErrNotFound
	}
	return m.entries[idx], nil
}

func (m *Memory) FindReversal(_ context.Context, id ledger.EntryID) (ledger.Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.reversals[id]
	if !ok {
		return ledger.Entry{}, false, nil
	}
	return m.entries[idx], true, nil
}

func (m *Memory) ListEntries(_ context.Context, f ledger.EntryFilter) (ledger.EntryPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := ledger.NormalizeLimit(f.Limit)
	after := f.After.Seq()

	// Seq is dense and 1-based, so entries[after:] starts right past the cursor.
	start := int(after)
	if start > len(m.entries) {
		start = len(m.entries)
	}
	var page ledger.EntryPage
	for _, e := range m.entries[start:] {
		if f.UntilSeq > 0 && e.Seq > f.UntilSeq {
			break
		}
		if !f.Matches(e) {
			continue
		}
		if len(page.Entries) == limit {
			page.Next = ledger.CursorFromSeq(page.Entries[limit-1].Seq)
			break
		}
		page.Entries = append(page.Entries, e)
	}
	return page, nil
}

func (m *Memory) HighWaterMark(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seq, nil
}

// =============================================================================
// REDEMPTION CODES
// =============================================================================

func (m *Memory) InsertCode(_ context.Context, c ledger.RedemptionCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertCodeLocked(c)
}

func (m *Memory) insertCodeLocked(c ledger.RedemptionCode) error {
	if _, dup := m.codes[c.Code]; dup {
		return ledger.ErrDuplicateCode
	}
	if _, dup := m.codeByEnt[c.IssuedEntryID]; dup {
		return fmt.Errorf("entry %s already has a code", c.IssuedEntryID)
	}
	m.codes[c.Code] = c
	m.codeByEnt[c.IssuedEntryID] = c.Code
	return nil
}

func (m *Memory) GetCode(_ context.Context, code string) (ledger.RedemptionCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.codes[code]
	if !ok {
		return ledger.RedemptionCode{}, ledger.ErrNotFound
	}
	return c, nil
}

func (m *Memory) GetCodeByEntry(_ context.Context, id ledger.EntryID) (ledger.RedemptionCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	code, ok := m.codeByEnt[id]
	if !ok {
		return ledger.RedemptionCode{}, ledger.ErrNotFound
	}
	return m.codes[code], nil
}

func (m *Memory) TransitionCode(_ context.Context, code string, from, to ledger.CodeStatus, at time.Time) (ledger.RedemptionCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	if !ok {
		return ledger.RedemptionCode{}, ledger.ErrNotFound
	}
	if c.Status != from {
		return ledger.RedemptionCode{}, fmt.Errorf("%w: %s is %s, not %s", ledger.ErrInvalidTransition, code, c.Status, from)
	}
	c.Status = to
	c.UpdatedAt = at
	m.codes[code] = c
	return c, nil
}

func (m *Memory) ActiveCodesExpiring(_ context.Context, before time.Time, limit int) ([]ledger.RedemptionCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.RedemptionCode
	for _, c := range m.codes {
		if c.Status == ledger.CodeActive && !c.ExpiresAt.After(before) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn while holding the write lock. Writes go straight to
// the maps; on error the snapshot taken at the start is restored.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	accounts  map[ledger.AccountID]ledger.Account
	entries   int
	byKey     map[string]int
	reversals map[ledger.EntryID]int
	codes     map[string]ledger.RedemptionCode
	codeByEnt map[ledger.EntryID]string
	seq       int64
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		accounts:  make(map[ledger.AccountID]ledger.Account, len(m.accounts)),
		entries:   len(m.entries),
		byKey:     make(map[string]int, len(m.byKey)),
		reversals: make(map[ledger.EntryID]int, len(m.reversals)),
		codes:     make(map[string]ledger.RedemptionCode, len(m.codes)),
		codeByEnt: make(map[ledger.EntryID]string, len(m.codeByEnt)),
		seq:       m.seq,
	}
	for k, v := range m.accounts {
		s.accounts[k] = v
	}
	for k, v := range m.byKey {
		s.byKey[k] = v
	}
	for k, v := range m.reversals {
		s.reversals[k] = v
	}
	for k, v := range m.codes {
		s.codes[k] = v
	}
	for k, v := range m.codeByEnt {
		s.codeByEnt[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	// Entries are append-only, so truncating drops exactly what fn added.
	for _, e := range m.entries[s.entries:] {
		delete(m.byID, e.ID)
	}
	m.entries = m.entries[:s.entries]
	m.accounts = s.accounts
	m.byKey = s.byKey
	m.reversals = s.reversals
	m.codes = s.codes
	m.codeByEnt = s.codeByEnt
	m.seq = s.seq
}

// txView runs Store methods against the parent without re-locking.
type txView struct {
	m *Memory
}

func (v *txView) GetAccount(_ context.Context, id ledger.AccountID) (ledger.Account, error) {
	return v.m.getAccountLocked(id), nil
}

func (v *txView) CompareAndSwapAccount(_ context.Context, id ledger.AccountID, expected, balance int64) (ledger.Account, error) {
	return v.m.casLocked(id, expected, balance)
}

func (v *txView) AppendEntry(_ context.Context, e ledger.Entry) (ledger.Entry, error) {
	return v.m.appendLocked(e)
}

func (v *txView) GetEntry(_ context.Context, id ledger.EntryID) (ledger.Entry, error) {
	idx, ok := v.m.byID[id]
	if !ok {
		return ledger.Entry{}, ledger.ErrNotFound
	}
	return v.m.entries[idx], nil
}

func (v *txView) FindEntryByIdempotencyKey(_ context.Context, key string) (ledger.Entry, error) {
	idx, ok := v.m.byKey[key]
	if !ok {
		return ledger.Entry{}, ledger.ErrNotFound
	}
	return v.m.entries[idx], nil
}

func (v *txView) FindReversal(_ context.Context, id ledger.EntryID) (ledger.Entry, bool, error) {
	idx, ok := v.m.reversals[id]
	if !ok {
		return ledger.Entry{}, false, nil
	}
	return v.m.entries[idx], true, nil
}

func (v *txView) ListEntries(context.Context, ledger.EntryFilter) (ledger.EntryPage, error) {
	return ledger.EntryPage{}, fmt.Errorf("ListEntries is not supported inside a transaction")
}

func (v *txView) HighWaterMark(context.Context) (int64, error) {
	return v.m.seq, nil
}

func (v *txView) InsertCode(_ context.Context, c ledger.RedemptionCode) error {
	return v.m.insertCodeLocked(c)
}

func (v *txView) GetCode(_ context.Context, code string) (ledger.RedemptionCode, error) {
	c, ok := v.m.codes[code]
	if !ok {
		return ledger.RedemptionCode{}, ledger.ErrNotFound
	}
	return c, nil
}

func (v *txView) GetCodeByEntry(_ context.Context, id ledger.EntryID) (ledger.RedemptionCode, error) {
	code, ok := v.m.codeByEnt[id]
	if !ok {
		return ledger.RedemptionCode{}, ledger.ErrNotFound
	}
	return v.m.codes[code], nil
}

func (v *txView) TransitionCode(_ context.Context, code string, from, to ledger.CodeStatus, at time.Time) (ledger.RedemptionCode, error) {
	c, ok := v.m.codes[code]
	if !ok {
		return ledger.RedemptionCode{}, ledger.ErrNotFound
	}
	if c.Status != from {
		return ledger.RedemptionCode{}, fmt.Errorf("%w: %s is %s, not %s", ledger.ErrInvalidTransition, code, c.Status, from)
	}
	c.Status = to
	c.UpdatedAt = at
	v.m.codes[code] = c
	return c, nil
}

func (v *txView) ActiveCodesExpiring(context.Context, time.Time, int) ([]ledger.RedemptionCode, error) {
	return nil, fmt.Errorf("ActiveCodesExpiring is not supported inside a transaction")
}

func (v *txView) SetRole(_ context.Context, id ledger.AccountID, role ledger.Role) error {
	a := v.m.getAccountLocked(id)
	a.Role = role
	v.m.accounts[id] = a
	return nil
}

func (v *txView) TopBalances(context.Context, int, ledger.Role) ([]ledger.AccountBalance, error) {
	return nil, fmt.Errorf("TopBalances is not supported inside a transaction")
}
