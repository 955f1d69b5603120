/*
store.go - Persistence interfaces for balances and history

PURPOSE:
  Separates the engine from the database. Two logical tables back the
  ledger: balances (one row per user) and point_history (append-only).

KEY INTERFACES:
  Store:   read side, used directly by the query layer
  Tx:      operations available inside a unit of work
  TxStore: Store + WithTx, required by the engine
  SnapshotReader: optional, several reads from one snapshot

APPEND-ONLY CONTRACT:
  - The balance row only moves through Tx.ApplyDelta
  - History only grows through Tx.AppendHistory
  - NO Update() or Delete() methods exist

ATOMICITY:
  WithTx commits iff fn returns nil and ctx is still live. Readers never see
  a balance write without its history entry or vice versa.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, for tests and dev
  - store/sqlite/sqlite.go: durable SQLite
*/
package ledger

import (
	"context"
	"time"
)

// Store is the read side of the ledger's persistence.
type Store interface {
	// GetBalance returns the stored row. ok is false when the user has none.
	GetBalance(ctx context.Context, userID UserID) (b Balance, ok bool, err error)

	// ListBalances returns balance rows ordered by UpdatedAt descending,
	// along with the total number of rows.
	ListBalances(ctx context.Context, offset, limit int) ([]Balance, int, error)

	// ListHistory returns the user's entries ordered by CreatedAt descending
	// (later insertion first on ties), along with the user's total count.
	ListHistory(ctx context.Context, userID UserID, offset, limit int) ([]HistoryEntry, int, error)

	// FindByIdempotencyKey looks up a previously appended entry.
	FindByIdempotencyKey(ctx context.Context, key string) (HistoryEntry, bool, error)
}

// Tx is the write surface available inside a unit of work.
type Tx interface {
	// ApplyDelta adds delta to the user's balance, creating the row at zero
	// first if it does not exist, and returns the values on either side.
	// It is a single increment-and-fetch: no separate existence check.
	//
	// The row's UpdatedAt never moves backwards: it becomes the later of at
	// and the stored stamp, and that effective stamp is returned in
	// Applied.At. A total outside int64 is ErrBalanceOverflow.
	ApplyDelta(ctx context.Context, userID UserID, delta int64, at time.Time) (Applied, error)

	// AppendHistory persists an entry. Returns ErrDuplicateIdempotencyKey if
	// the entry carries a key that already exists.
	AppendHistory(ctx context.Context, entry HistoryEntry) error

	// FindByIdempotencyKey sees the same snapshot as the writes above.
	FindByIdempotencyKey(ctx context.Context, key string) (HistoryEntry, bool, error)
}

// Applied is the outcome of one ApplyDelta.
type Applied struct {
	Before int64
	After  int64
	At     time.Time
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, or ctx is done before commit, the transaction is
	// rolled back. Otherwise it is committed.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// SnapshotReader is implemented by stores that can serve several reads from
// one consistent snapshot. Optional; GetSummary uses it when present.
type SnapshotReader interface {
	ReadSnapshot(ctx context.Context, fn func(Store) error) error
}

// UserDirectory resolves display names for the username projection.
// Missing ids are simply absent from the result.
type UserDirectory interface {
	DisplayNames(ctx context.Context, ids []UserID) (map[UserID]string, error)
}
