/*
errors.go - Error taxonomy of the ledger

ERROR CATEGORIES:
  1. ErrInvalidAdjustment - rejected before any storage access; the caller
     fixes the input and resubmits
  2. ErrLedgerWriteFailed - the balance+history unit of work did not commit;
     nothing was applied
  3. ErrLedgerReadFailed - a query could not reach the store
  4. Store sentinels - only ever seen inside this package and the stores;
     they reach callers wrapped in a WriteError

A missing balance row is NOT an error. GetBalance/GetHistory return the zero
state instead.

USAGE:
  entry, err := l.AdjustBalance(ctx, adj)
  switch {
  case errors.Is(err, ledger.ErrInvalidAdjustment):
      // 400
  case errors.Is(err, ledger.ErrLedgerWriteFailed):
      // 500/503
  }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAdjustment is returned for a zero amount, an empty description,
	// an unknown entry type or a blank user id.
	ErrInvalidAdjustment = errors.New("invalid adjustment")

	// ErrLedgerWriteFailed is returned when the atomic balance+history write
	// could not be committed.
	ErrLedgerWriteFailed = errors.New("ledger write failed")

	// ErrLedgerReadFailed is returned when a query could not be served by
	// the store.
	ErrLedgerReadFailed = errors.New("ledger read failed")

	// ErrConcurrentModification is returned by stores when the database
	// reports the row or file as busy.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateIdempotencyKey is returned by stores when an entry with the
	// same idempotency key was already appended.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrBalanceOverflow is returned by stores when a delta would take the
	// balance outside the int64 range.
	ErrBalanceOverflow = errors.New("balance overflow")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field of an Adjustment.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid adjustment: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidAdjustment
}

// WriteError wraps a storage failure that aborted an adjustment.
type WriteError struct {
	UserID UserID
	Op     string // stage that failed: "lock", "apply", "append", "commit"
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("ledger write failed for user %s at %s: %v", e.UserID, e.Op, e.Err)
}

func (e *WriteError) Unwrap() []error {
	return []error{ErrLedgerWriteFailed, e.Err}
}

// ReadError wraps a storage failure on the query side.
type ReadError struct {
	UserID UserID // empty for listings across users
	Op     string
	Err    error
}

func (e *ReadError) Error() string {
	if e.UserID == "" {
		return fmt.Sprintf("ledger read failed at %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("ledger read failed for user %s at %s: %v", e.UserID, e.Op, e.Err)
}

func (e *ReadError) Unwrap() []error {
	return []error{ErrLedgerReadFailed, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAdjustment)
}

// IsRetryable returns true if resubmitting the same adjustment may succeed.
// The engine never retries on its own.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
