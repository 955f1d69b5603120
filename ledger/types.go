/*
Package ledger provides the points ledger engine.

PURPOSE:
  Tracks, per user, a current point balance and an append-only history of
  every change applied to it. Points are whole numbers; there are no
  fractional points and no "set balance" operation. The only way a balance
  moves is a signed delta applied through Ledger.AdjustBalance.

KEY CONCEPTS IN THIS FILE (types.go):
  - Balance: one row per user, created lazily on the first adjustment
  - HistoryEntry: immutable record of one adjustment (before, after, delta)
  - EntryType: closed set of categories (wheel, spend, admin adjust/bonus)
  - Adjustment: the input of AdjustBalance

INVARIANTS:
  1. balanceAfter = balanceBefore + amount for every HistoryEntry
  2. For one user, entries ordered by CreatedAt chain: each BalanceBefore
     equals the previous BalanceAfter (0 for the first entry)
  3. The last BalanceAfter equals the stored Balance

SEE ALSO:
  - ledger.go: AdjustBalance (the only write path)
  - query.go: read-side operations
  - store.go: persistence interfaces
*/
package ledger

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// UserID is an opaque reference to a user owned by the identity system.
// The ledger never validates existence.
type UserID string

// EntryID identifies a single history entry.
type EntryID string

// =============================================================================
// ENTRY TYPE - Closed enumeration
// =============================================================================

type EntryType string

const (
	EntryWheel       EntryType = "WHEEL"        // Reward wheel credit
	EntrySpend       EntryType = "SPEND"        // Points spent
	EntryAdminAdjust EntryType = "ADMIN-ADJUST" // Manual admin correction
	EntryAdminBonus  EntryType = "ADMIN-BONUS"  // Admin bonus grant
)

// AllEntryTypes returns the closed set in declaration order.
func AllEntryTypes() []EntryType {
	return []EntryType{EntryWheel, EntrySpend, EntryAdminAdjust, EntryAdminBonus}
}

func (t EntryType) Valid() bool {
	switch t {
	case EntryWheel, EntrySpend, EntryAdminAdjust, EntryAdminBonus:
		return true
	}
	return false
}

func (t EntryType) String() string { return string(t) }

// ParseEntryType accepts the canonical spelling only. Case is not folded:
// stored rows and API payloads must agree byte for byte.
func ParseEntryType(s string) (EntryType, error) {
	t := EntryType(s)
	if !t.Valid() {
		return "", &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown entry type %q", s)}
	}
	return t, nil
}

// =============================================================================
// BALANCE
// =============================================================================

// Balance is the current point total for a user.
type Balance struct {
	UserID    UserID
	Balance   int64
	UpdatedAt time.Time

	// Username is a display projection filled at query time. Never persisted
	// with the balance row.
	Username string
}

// ZeroBalance is the implicit balance of a user that has no row yet.
func ZeroBalance(userID UserID) Balance {
	return Balance{UserID: userID}
}

// Exists reports whether the balance was loaded from a stored row rather
// than projected as the implicit zero.
func (b Balance) Exists() bool { return !b.UpdatedAt.IsZero() }

// =============================================================================
// HISTORY ENTRY
// =============================================================================

type Action string

const (
	ActionPlus  Action = "plus"
	ActionMinus Action = "minus"
)

// HistoryEntry records one adjustment. Entries are never updated or deleted.
type HistoryEntry struct {
	ID             EntryID
	UserID         UserID
	Amount         int64
	BalanceBefore  int64
	BalanceAfter   int64
	Description    string
	Type           EntryType
	IdempotencyKey string
	CreatedAt      time.Time

	Username string // display projection, see Balance.Username
}

// Action is the direction sign of the entry.
func (e HistoryEntry) Action() Action {
	if e.Amount >= 0 {
		return ActionPlus
	}
	return ActionMinus
}

// Consistent reports whether the entry satisfies after = before + amount.
func (e HistoryEntry) Consistent() bool {
	return e.BalanceAfter == e.BalanceBefore+e.Amount
}

// =============================================================================
// ADJUSTMENT - Input of AdjustBalance
// =============================================================================

const (
	// MaxDescriptionLength bounds the free-text audit note.
	MaxDescriptionLength = 500

	// MaxAbsAmount bounds a single delta so balances stay far from int64 overflow.
	MaxAbsAmount = 1_000_000_000_000
)

type Adjustment struct {
	UserID      UserID
	Amount      int64
	Description string
	Type        EntryType

	// IdempotencyKey is optional. When set, a second adjustment carrying the
	// same key returns the entry committed by the first one.
	IdempotencyKey string
}

// Validate checks the adjustment before any storage access.
func (a Adjustment) Validate() error {
	if strings.TrimSpace(string(a.UserID)) == "" {
		return &ValidationError{Field: "userId", Reason: "must not be empty"}
	}
	if a.Amount == 0 {
		return &ValidationError{Field: "amount", Reason: "must not be zero"}
	}
	if a.Amount > MaxAbsAmount || a.Amount < -MaxAbsAmount {
		return &ValidationError{Field: "amount", Reason: fmt.Sprintf("must be within ±%d", int64(MaxAbsAmount))}
	}
	if strings.TrimSpace(a.Description) == "" {
		return &ValidationError{Field: "description", Reason: "must not be empty"}
	}
	if len(a.Description) > MaxDescriptionLength {
		return &ValidationError{Field: "description", Reason: fmt.Sprintf("must be at most %d bytes", MaxDescriptionLength)}
	}
	if !a.Type.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown entry type %q", a.Type)}
	}
	return nil
}

// =============================================================================
// SUMMARY
// =============================================================================

// Summary is the current balance plus the most recent history window.
type Summary struct {
	UserID  UserID
	Balance int64
	History []HistoryEntry
}
