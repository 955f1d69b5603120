// Package store provides an in-memory ledger.TxStore.
package store

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/warp/points-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps balances and history in maps. History per user is kept in
// append order, which is also CreatedAt order because ApplyDelta never
// moves a user's stamp backwards.
type Memory struct {
	mu          sync.RWMutex
	balances    map[ledger.UserID]ledger.Balance
	history     map[ledger.UserID][]ledger.HistoryEntry
	idempotency map[string]ledger.HistoryEntry
}

func NewMemory() *Memory {
	return &Memory{
		balances:    make(map[ledger.UserID]ledger.Balance),
		history:     make(map[ledger.UserID][]ledger.HistoryEntry),
		idempotency: make(map[string]ledger.HistoryEntry),
	}
}

var (
	_ ledger.TxStore        = (*Memory)(nil)
	_ ledger.SnapshotReader = (*Memory)(nil)
)

func (m *Memory) GetBalance(_ context.Context, userID ledger.UserID) (ledger.Balance, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBalanceLocked(userID)
}

func (m *Memory) getBalanceLocked(userID ledger.UserID) (ledger.Balance, bool, error) {
	b, ok := m.balances[userID]
	return b, ok, nil
}

func (m *Memory) ListBalances(_ context.Context, offset, limit int) ([]ledger.Balance, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listBalancesLocked(offset, limit)
}

func (m *Memory) listBalancesLocked(offset, limit int) ([]ledger.Balance, int, error) {
	all := make([]ledger.Balance, 0, len(m.balances))
	for _, b := range m.balances {
		all = append(all, b)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].UserID < all[j].UserID
	})
	return window(all, offset, limit), len(all), nil
}

func (m *Memory) ListHistory(_ context.Context, userID ledger.UserID, offset, limit int) ([]ledger.HistoryEntry, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listHistoryLocked(userID, offset, limit)
}

func (m *Memory) listHistoryLocked(userID ledger.UserID, offset, limit int) ([]ledger.HistoryEntry, int, error) {
	entries := m.history[userID]
	total := len(entries)
	if offset < 0 || offset >= total {
		return nil, total, nil
	}

	// Newest first without reordering the stored slice.
	var out []ledger.HistoryEntry
	for i := total - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, total, nil
}

func (m *Memory) FindByIdempotencyKey(_ context.Context, key string) (ledger.HistoryEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.idempotency[key]
	return e, ok, nil
}

// ReadSnapshot runs fn with the read lock held, so no write can land
// between its reads.
func (m *Memory) ReadSnapshot(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&snapshotView{parent: m})
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn with the write lock held. Writes are applied directly
// and undone from a snapshot if fn fails or ctx is done before commit.
//
// The lock is store-wide, but fn only does map operations; per-user
// serialization of whole adjustments is the engine's job.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	if err := ctx.Err(); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	balances    map[ledger.UserID]ledger.Balance
	history     map[ledger.UserID][]ledger.HistoryEntry
	idempotency map[string]ledger.HistoryEntry
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		balances:    make(map[ledger.UserID]ledger.Balance, len(m.balances)),
		history:     make(map[ledger.UserID][]ledger.HistoryEntry, len(m.history)),
		idempotency: make(map[string]ledger.HistoryEntry, len(m.idempotency)),
	}
	for k, v := range m.balances {
		s.balances[k] = v
	}
	for k, v := range m.history {
		// Appends after the snapshot never touch indexes below len(v), so
		// sharing the backing array is safe once the length is fixed.
		s.history[k] = v[:len(v):len(v)]
	}
	for k, v := range m.idempotency {
		s.idempotency[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.balances = s.balances
	m.history = s.history
	m.idempotency = s.idempotency
}

type txView struct {
	parent *Memory
}

func (tv *txView) ApplyDelta(_ context.Context, userID ledger.UserID, delta int64, at time.Time) (ledger.Applied, error) {
	b, ok := tv.parent.balances[userID]
	if !ok {
		b = ledger.ZeroBalance(userID)
	}
	before := b.Balance
	if (delta > 0 && before > math.MaxInt64-delta) || (delta < 0 && before < math.MinInt64-delta) {
		return ledger.Applied{}, ledger.ErrBalanceOverflow
	}
	b.Balance += delta
	if at.After(b.UpdatedAt) {
		b.UpdatedAt = at
	}
	tv.parent.balances[userID] = b
	return ledger.Applied{Before: before, After: b.Balance, At: b.UpdatedAt}, nil
}

func (tv *txView) AppendHistory(_ context.Context, entry ledger.HistoryEntry) error {
	if entry.IdempotencyKey != "" {
		if _, exists := tv.parent.idempotency[entry.IdempotencyKey]; exists {
			return ledger.ErrDuplicateIdempotencyKey
		}
		tv.parent.idempotency[entry.IdempotencyKey] = entry
	}
	tv.parent.history[entry.UserID] = append(tv.parent.history[entry.UserID], entry)
	return nil
}

func (tv *txView) FindByIdempotencyKey(_ context.Context, key string) (ledger.HistoryEntry, bool, error) {
	e, ok := tv.parent.idempotency[key]
	return e, ok, nil
}

// snapshotView reads without taking the lock again; the caller holds RLock.
type snapshotView struct {
	parent *Memory
}

func (sv *snapshotView) GetBalance(_ context.Context, userID ledger.UserID) (ledger.Balance, bool, error) {
	return sv.parent.getBalanceLocked(userID)
}

func (sv *snapshotView) ListBalances(_ context.Context, offset, limit int) ([]ledger.Balance, int, error) {
	return sv.parent.listBalancesLocked(offset, limit)
}

func (sv *snapshotView) ListHistory(_ context.Context, userID ledger.UserID, offset, limit int) ([]ledger.HistoryEntry, int, error) {
	return sv.parent.listHistoryLocked(userID, offset, limit)
}

func (sv *snapshotView) FindByIdempotencyKey(_ context.Context, key string) (ledger.HistoryEntry, bool, error) {
	e, ok := sv.parent.idempotency[key]
	return e, ok, nil
}

func window[T any](all []T, offset, limit int) []T {
	if offset < 0 || offset >= len(all) || limit <= 0 {
		return nil
	}
	end := min(offset+limit, len(all))
	out := make([]T, end-offset)
	copy(out, all[offset:end])
	return out
}
