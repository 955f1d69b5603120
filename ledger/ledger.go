/*
ledger.go - The write path: AdjustBalance

PURPOSE:
  AdjustBalance is the only operation that changes a balance. It applies a
  signed delta and appends the matching history entry as one unit of work.

FLOW:
  1. Validate the adjustment (no storage access on failure)
  2. Take the per-user lock (other users proceed in parallel)
  3. WithTx:
       a. replay check by idempotency key, if one was supplied
       b. ApplyDelta: upsert-or-default + increment-and-fetch
       c. AppendHistory with before/after and the stamp from (b)
  4. Commit, or roll back everything

CONCURRENCY:
  Two adjustments for the same user never read the same balanceBefore: the
  KeyLocker serializes them inside this process and ApplyDelta is an atomic
  increment at the storage layer, so even writers in other processes cannot
  lose an update. The chain of (before, after) pairs per user is therefore
  gap-free in commit order.

TIMESTAMPS:
  CreatedAt is the stamp ApplyDelta settled on, never earlier than the
  user's previous entry. A wall clock that steps back cannot reorder a
  user's history.

CANCELLATION:
  A call cancelled before commit has no effect. After commit the effect is
  durable and cancellation is a no-op.

RETRIES:
  None. A failed call returns ErrLedgerWriteFailed and the caller decides.
  Callers that may resubmit should send an IdempotencyKey: a repeated key
  returns the entry committed the first time instead of applying twice.

EXAMPLE:
  l := ledger.New(store, ledger.WithLogger(log))
  entry, err := l.AdjustBalance(ctx, ledger.Adjustment{
      UserID: "u-1", Amount: 100, Description: "bonus", Type: ledger.EntryAdminBonus,
  })
  // entry.BalanceBefore == 0, entry.BalanceAfter == 100
*/
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/warp/points-ledger/observability"
)

// Ledger orchestrates balance mutation and history append, and serves the
// read side (see query.go).
type Ledger struct {
	store       TxStore
	locks       *KeyLocker
	users       UserDirectory
	limits      PageLimits
	summarySize int
	log         *slog.Logger
	now         func() time.Time
	newID       func() EntryID
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// WithClock overrides time.Now for CreatedAt/UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithIDGenerator(gen func() EntryID) Option {
	return func(l *Ledger) { l.newID = gen }
}

// WithUserDirectory enables the username projection on reads.
func WithUserDirectory(users UserDirectory) Option {
	return func(l *Ledger) { l.users = users }
}

func WithPageLimits(limits PageLimits) Option {
	return func(l *Ledger) { l.limits = limits }
}

// WithSummarySize sets how many recent entries GetSummary returns.
func WithSummarySize(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.summarySize = n
		}
	}
}

func New(store TxStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:       store,
		locks:       NewKeyLocker(),
		limits:      DefaultPageLimits(),
		summarySize: DefaultSummarySize,
		log:         observability.Discard(),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       func() EntryID { return EntryID(uuid.NewString()) },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AdjustBalance applies adj.Amount to the user's balance and records the
// history entry. See the file comment for the full contract.
func (l *Ledger) AdjustBalance(ctx context.Context, adj Adjustment) (HistoryEntry, error) {
	if err := adj.Validate(); err != nil {
		observability.AdjustmentsTotal.WithLabelValues(adj.Type.String(), observability.ResultInvalid).Inc()
		return HistoryEntry{}, err
	}

	waitStart := time.Now()
	unlock, err := l.locks.Lock(ctx, adj.UserID)
	observability.LockWaitSeconds.Observe(time.Since(waitStart).Seconds())
	if err != nil {
		return HistoryEntry{}, l.writeFailed(adj, "lock", err)
	}
	defer unlock()

	var (
		entry    HistoryEntry
		replayed bool
		stage    = "begin"
	)
	err = l.store.WithTx(ctx, func(tx Tx) error {
		if adj.IdempotencyKey != "" {
			stage = "lookup"
			prior, ok, err := tx.FindByIdempotencyKey(ctx, adj.IdempotencyKey)
			if err != nil {
				return err
			}
			if ok {
				if !sameAdjustment(prior, adj) {
					return &ValidationError{Field: "idempotencyKey", Reason: "already used for a different adjustment"}
				}
				entry, replayed = prior, true
				stage = "commit"
				return nil
			}
		}

		stage = "apply"
		applied, err := tx.ApplyDelta(ctx, adj.UserID, adj.Amount, l.now())
		if err != nil {
			return err
		}

		stage = "append"
		entry = HistoryEntry{
			ID:             l.newID(),
			UserID:         adj.UserID,
			Amount:         adj.Amount,
			BalanceBefore:  applied.Before,
			BalanceAfter:   applied.After,
			Description:    adj.Description,
			Type:           adj.Type,
			IdempotencyKey: adj.IdempotencyKey,
			CreatedAt:      applied.At,
		}
		if err := tx.AppendHistory(ctx, entry); err != nil {
			return err
		}

		stage = "commit"
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidAdjustment) {
			observability.AdjustmentsTotal.WithLabelValues(adj.Type.String(), observability.ResultInvalid).Inc()
			return HistoryEntry{}, err
		}
		return HistoryEntry{}, l.writeFailed(adj, stage, err)
	}

	if replayed {
		observability.AdjustmentsTotal.WithLabelValues(adj.Type.String(), observability.ResultReplayed).Inc()
		l.log.Info("adjustment replayed",
			"user_id", adj.UserID,
			"entry_id", entry.ID,
			"idempotency_key", adj.IdempotencyKey,
		)
		return entry, nil
	}

	observability.AdjustmentsTotal.WithLabelValues(adj.Type.String(), observability.ResultOK).Inc()
	observability.AdjustedAmountTotal.WithLabelValues(string(entry.Action())).Add(float64(abs(entry.Amount)))
	l.log.Info("points adjusted",
		"user_id", entry.UserID,
		"entry_id", entry.ID,
		"type", entry.Type,
		"amount", entry.Amount,
		"balance_before", entry.BalanceBefore,
		"balance_after", entry.BalanceAfter,
	)
	return entry, nil
}

func (l *Ledger) writeFailed(adj Adjustment, stage string, err error) error {
	observability.AdjustmentsTotal.WithLabelValues(adj.Type.String(), observability.ResultFailed).Inc()
	observability.LedgerWriteFailures.WithLabelValues(stage).Inc()
	l.log.Error("adjustment failed",
		"user_id", adj.UserID,
		"type", adj.Type,
		"amount", adj.Amount,
		"stage", stage,
		"error", err,
	)
	return &WriteError{UserID: adj.UserID, Op: stage, Err: err}
}

// sameAdjustment reports whether a replayed key refers to the same request.
func sameAdjustment(prior HistoryEntry, adj Adjustment) bool {
	return prior.UserID == adj.UserID &&
		prior.Amount == adj.Amount &&
		prior.Type == adj.Type &&
		prior.Description == adj.Description
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
