/*
Package sqlite provides a SQLite-backed implementation of the ledger stores.

INTERFACES IMPLEMENTED:
  ledger.TxStore:        balances + point_history in one unit of work
  ledger.SnapshotReader: multi-query reads from one WAL snapshot
  directory.Source:      username projection from the users table

KEY TABLES:
  balances:      one row per user, created by the first adjustment
  point_history: immutable record of every adjustment
  users:         display projection (id -> username), owned by the identity
                 system and mirrored here for joins at query time

APPEND-ONLY ENFORCEMENT:
  - Triggers abort any UPDATE or DELETE on point_history
  - CHECK (balance_after = balance_before + amount) on every row
  - CHECK on type restricts it to the closed enumeration

ATOMIC INCREMENT:
  ApplyDelta is a single statement:
    INSERT ... ON CONFLICT(user_id) DO UPDATE SET balance = balance + ? RETURNING balance
  The row is created at zero and incremented in one step, so there is no
  read-then-write window even across processes sharing the file. updated_at
  only moves forward, and a sum outside int64 is refused.

CONCURRENCY:
  Opened with WAL, a busy timeout and BEGIN IMMEDIATE for write
  transactions. Writers queue on the database lock; readers use deferred
  transactions and see a stable snapshot without blocking writers. A writer
  that still cannot get the lock gets ledger.ErrConcurrentModification.

USAGE:
  store, err := sqlite.New("./data/points.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  l := ledger.New(store)

MIGRATION:
  Schema is auto-migrated on New().
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/points-ledger/ledger"
)

// timeLayout is fixed-width so TEXT ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// busyTimeout is how long a writer waits on the database lock.
const busyTimeout = 5 * time.Second

// Store implements the ledger persistence interfaces using SQLite.
type Store struct {
	db   *sql.DB
	path string
}

var (
	_ ledger.TxStore        = (*Store)(nil)
	_ ledger.SnapshotReader = (*Store)(nil)
)

// New opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	inMemory := dbPath == ":memory:"
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate",
		dbPath, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if inMemory {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, path: dbPath}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string { return s.path }

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	-- Current balance, one row per user
	CREATE TABLE IF NOT EXISTS balances (
		user_id TEXT PRIMARY KEY,
		balance INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_balances_updated_at
		ON balances(updated_at DESC, user_id);

	-- Adjustment history (append-only)
	CREATE TABLE IF NOT EXISTS point_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		amount INTEGER NOT NULL CHECK (amount <> 0),
		balance_before INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		description TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('WHEEL', 'SPEND', 'ADMIN-ADJUST', 'ADMIN-BONUS')),
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL,
		CHECK (balance_after = balance_before + amount)
	);

	-- Hot path: one user's history, newest first
	CREATE INDEX IF NOT EXISTS idx_point_history_user_created
		ON point_history(user_id, created_at DESC, seq DESC);

	CREATE TRIGGER IF NOT EXISTS point_history_no_update
		BEFORE UPDATE ON point_history
	BEGIN
		SELECT RAISE(ABORT, 'point_history is append-only');
	END;

	CREATE TRIGGER IF NOT EXISTS point_history_no_delete
		BEFORE DELETE ON point_history
	BEGIN
		SELECT RAISE(ABORT, 'point_history is append-only');
	END;

	-- Username projection
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// READ SIDE (ledger.Store)
// =============================================================================

// querier is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) GetBalance(ctx context.Context, userID ledger.UserID) (ledger.Balance, bool, error) {
	return getBalance(ctx, s.db, userID)
}

func (s *Store) ListBalances(ctx context.Context, offset, limit int) ([]ledger.Balance, int, error) {
	return listBalances(ctx, s.db, offset, limit)
}

func (s *Store) ListHistory(ctx context.Context, userID ledger.UserID, offset, limit int) ([]ledger.HistoryEntry, int, error) {
	return listHistory(ctx, s.db, userID, offset, limit)
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (ledger.HistoryEntry, bool, error) {
	return findByIdempotencyKey(ctx, s.db, key)
}

func getBalance(ctx context.Context, q querier, userID ledger.UserID) (ledger.Balance, bool, error) {
	var (
		b         ledger.Balance
		updatedAt string
	)
	err := q.QueryRowContext(ctx,
		"SELECT user_id, balance, updated_at FROM balances WHERE user_id = ?",
		userID,
	).Scan(&b.UserID, &b.Balance, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Balance{}, false, nil
	}
	if err != nil {
		return ledger.Balance{}, false, fmt.Errorf("failed to get balance: %w", mapError(err))
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return ledger.Balance{}, false, err
	}
	return b, true, nil
}

func listBalances(ctx context.Context, q querier, offset, limit int) ([]ledger.Balance, int, error) {
	var total int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM balances").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count balances: %w", mapError(err))
	}
	if offset < 0 {
		return nil, total, nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT user_id, balance, updated_at
		FROM balances
		ORDER BY updated_at DESC, user_id ASC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query balances: %w", mapError(err))
	}
	defer rows.Close()

	var balances []ledger.Balance
	for rows.Next() {
		var (
			b         ledger.Balance
			updatedAt string
		)
		if err := rows.Scan(&b.UserID, &b.Balance, &updatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan balance: %w", err)
		}
		if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, 0, err
		}
		balances = append(balances, b)
	}
	return balances, total, rows.Err()
}

const historyColumns = `id, user_id, amount, balance_before, balance_after,
	description, type, idempotency_key, created_at`

func listHistory(ctx context.Context, q querier, userID ledger.UserID, offset, limit int) ([]ledger.HistoryEntry, int, error) {
	var total int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM point_history WHERE user_id = ?", userID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count history: %w", mapError(err))
	}
	if offset < 0 {
		return nil, total, nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT `+historyColumns+`
		FROM point_history
		WHERE user_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query history: %w", mapError(err))
	}
	defer rows.Close()

	var entries []ledger.HistoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

func findByIdempotencyKey(ctx context.Context, q querier, key string) (ledger.HistoryEntry, bool, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+historyColumns+" FROM point_history WHERE idempotency_key = ?", key)
	if err != nil {
		return ledger.HistoryEntry{}, false, fmt.Errorf("failed to query idempotency key: %w", mapError(err))
	}
	defer rows.Close()

	if !rows.Next() {
		return ledger.HistoryEntry{}, false, rows.Err()
	}
	e, err := scanEntry(rows)
	if err != nil {
		return ledger.HistoryEntry{}, false, err
	}
	return e, true, nil
}

func scanEntry(rows *sql.Rows) (ledger.HistoryEntry, error) {
	var (
		e              ledger.HistoryEntry
		idempotencyKey sql.NullString
		createdAt      string
	)
	err := rows.Scan(
		&e.ID, &e.UserID, &e.Amount, &e.BalanceBefore, &e.BalanceAfter,
		&e.Description, &e.Type, &idempotencyKey, &createdAt,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan history entry: %w", err)
	}
	e.IdempotencyKey = idempotencyKey.String
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return e, err
	}
	return e, nil
}

// ReadSnapshot runs fn inside a deferred read transaction on one
// connection. Under WAL every query in fn sees the same snapshot.
func (s *Store) ReadSnapshot(ctx context.Context, fn func(ledger.Store) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", mapError(err))
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN DEFERRED"); err != nil {
		return fmt.Errorf("failed to begin read snapshot: %w", mapError(err))
	}
	// Read-only; rollback even if ctx is already cancelled so the connection
	// goes back to the pool outside a transaction.
	defer conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK")

	return fn(readView{q: conn})
}

type readView struct {
	q querier
}

func (v readView) GetBalance(ctx context.Context, userID ledger.UserID) (ledger.Balance, bool, error) {
	return getBalance(ctx, v.q, userID)
}

func (v readView) ListBalances(ctx context.Context, offset, limit int) ([]ledger.Balance, int, error) {
	return listBalances(ctx, v.q, offset, limit)
}

func (v readView) ListHistory(ctx context.Context, userID ledger.UserID, offset, limit int) ([]ledger.HistoryEntry, int, error) {
	return listHistory(ctx, v.q, userID, offset, limit)
}

func (v readView) FindByIdempotencyKey(ctx context.Context, key string) (ledger.HistoryEntry, bool, error) {
	return findByIdempotencyKey(ctx, v.q, key)
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction (BEGIN IMMEDIATE).
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

// ApplyDelta skips the update when the sum would leave int64; the upsert
// then returns no row. Stamps are fixed-width UTC text, so max() on them is
// chronological.
func (ts *txStore) ApplyDelta(ctx context.Context, userID ledger.UserID, delta int64, at time.Time) (ledger.Applied, error) {
	stamp := formatTime(at)
	var (
		after     int64
		updatedAt string
	)
	err := ts.tx.QueryRowContext(ctx, `
		INSERT INTO balances (user_id, balance, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			balance = balances.balance + excluded.balance,
			updated_at = max(balances.updated_at, excluded.updated_at)
		WHERE excluded.balance = 0
			OR (excluded.balance > 0 AND balances.balance <= 9223372036854775807 - excluded.balance)
			OR (excluded.balance < 0 AND balances.balance >= (-9223372036854775807 - 1) - excluded.balance)
		RETURNING balance, updated_at
	`, userID, delta, stamp, stamp).Scan(&after, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Applied{}, ledger.ErrBalanceOverflow
	}
	if err != nil {
		return ledger.Applied{}, fmt.Errorf("failed to apply delta: %w", mapError(err))
	}
	effective, err := parseTime(updatedAt)
	if err != nil {
		return ledger.Applied{}, err
	}
	return ledger.Applied{Before: after - delta, After: after, At: effective}, nil
}

func (ts *txStore) AppendHistory(ctx context.Context, e ledger.HistoryEntry) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO point_history
		(id, user_id, amount, balance_before, balance_after, description, type, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.UserID,
		e.Amount,
		e.BalanceBefore,
		e.BalanceAfter,
		e.Description,
		e.Type,
		nullString(e.IdempotencyKey),
		formatTime(e.CreatedAt),
	)
	if err != nil {
		if isIdempotencyConflict(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append history: %w", mapError(err))
	}
	return nil
}

func (ts *txStore) FindByIdempotencyKey(ctx context.Context, key string) (ledger.HistoryEntry, bool, error) {
	return findByIdempotencyKey(ctx, ts.tx, key)
}

// =============================================================================
// USER STORE
// =============================================================================

// User is a mirrored identity record used for the username projection.
type User struct {
	ID        ledger.UserID
	Username  string
	CreatedAt time.Time
}

// SaveUser inserts or renames a user.
func (s *Store) SaveUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username
	`, u.ID, u.Username, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save user: %w", mapError(err))
	}
	return nil
}

// GetUser returns nil, nil when the user is unknown.
func (s *Store) GetUser(ctx context.Context, id ledger.UserID) (*User, error) {
	var (
		u         User
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, created_at FROM users WHERE id = ?", id,
	).Scan(&u.ID, &u.Username, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", mapError(err))
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns all users ordered by username.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, username, created_at FROM users ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", mapError(err))
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var (
			u         User
			createdAt string
		)
		if err := rows.Scan(&u.ID, &u.Username, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		if u.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// maxLookupBatch keeps IN (...) lists well under SQLite's variable limit.
const maxLookupBatch = 500

// DisplayNames returns usernames for the given ids. Unknown ids are absent.
func (s *Store) DisplayNames(ctx context.Context, ids []ledger.UserID) (map[ledger.UserID]string, error) {
	names := make(map[ledger.UserID]string, len(ids))
	for start := 0; start < len(ids); start += maxLookupBatch {
		batch := ids[start:min(start+maxLookupBatch, len(ids))]

		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		query := "SELECT id, username FROM users WHERE id IN (?" + strings.Repeat(",?", len(batch)-1) + ")"

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to look up usernames: %w", mapError(err))
		}
		for rows.Next() {
			var (
				id   ledger.UserID
				name string
			)
			if err := rows.Scan(&id, &name); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan username: %w", err)
			}
			names[id] = name
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return names, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// mapError translates lock contention into ledger.ErrConcurrentModification
// and leaves everything else untouched.
func mapError(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", ledger.ErrConcurrentModification, err)
	}
	return err
}

func isIdempotencyConflict(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) &&
		se.ExtendedCode == sqlite3.ErrConstraintUnique &&
		strings.Contains(se.Error(), "point_history.idempotency_key")
}
