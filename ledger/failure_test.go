package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-ledger/ledger"
)

// =============================================================================
// MOCK STORE
// =============================================================================

type mockTx struct {
	mock.Mock
}

func (m *mockTx) ApplyDelta(ctx context.Context, userID ledger.UserID, delta int64, at time.Time) (ledger.Applied, error) {
	args := m.Called(ctx, userID, delta, at)
	return args.Get(0).(ledger.Applied), args.Error(1)
}

func (m *mockTx) AppendHistory(ctx context.Context, entry ledger.HistoryEntry) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *mockTx) FindByIdempotencyKey(ctx context.Context, key string) (ledger.HistoryEntry, bool, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(ledger.HistoryEntry), args.Bool(1), args.Error(2)
}

// mockStore runs fn against tx unless WithTx itself is told to fail.
type mockStore struct {
	mock.Mock
	tx *mockTx
}

func (m *mockStore) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	if err := m.Called(ctx).Error(0); err != nil {
		return err
	}
	return fn(m.tx)
}

func (m *mockStore) GetBalance(ctx context.Context, userID ledger.UserID) (ledger.Balance, bool, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(ledger.Balance), args.Bool(1), args.Error(2)
}

func (m *mockStore) ListBalances(ctx context.Context, offset, limit int) ([]ledger.Balance, int, error) {
	args := m.Called(ctx, offset, limit)
	return args.Get(0).([]ledger.Balance), args.Int(1), args.Error(2)
}

func (m *mockStore) ListHistory(ctx context.Context, userID ledger.UserID, offset, limit int) ([]ledger.HistoryEntry, int, error) {
	args := m.Called(ctx, userID, offset, limit)
	return args.Get(0).([]ledger.HistoryEntry), args.Int(1), args.Error(2)
}

func (m *mockStore) FindByIdempotencyKey(ctx context.Context, key string) (ledger.HistoryEntry, bool, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(ledger.HistoryEntry), args.Bool(1), args.Error(2)
}

func newMockLedger() (*ledger.Ledger, *mockStore) {
	s := &mockStore{tx: &mockTx{}}
	return ledger.New(s), s
}

var errDiskFull = errors.New("database or disk is full")

// =============================================================================
// WRITE FAILURES
// =============================================================================

func TestAdjustBalance_ApplyFails_WriteErrorAtApply(t *testing.T) {
	// GIVEN: A store whose balance increment fails
	// WHEN: AdjustBalance runs
	// THEN: ErrLedgerWriteFailed, stage "apply", no history append attempted

	l, s := newMockLedger()
	s.On("WithTx", mock.Anything).Return(nil)
	s.tx.On("ApplyDelta", mock.Anything, ledger.UserID("u-1"), int64(10), mock.Anything).
		Return(ledger.Applied{}, errDiskFull)

	_, err := l.AdjustBalance(context.Background(), adj("u-1", 10, ledger.EntryWheel))

	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrLedgerWriteFailed)
	assert.ErrorIs(t, err, errDiskFull)
	assert.NotErrorIs(t, err, ledger.ErrInvalidAdjustment)
	assert.False(t, ledger.IsRetryable(err))

	var we *ledger.WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "apply", we.Op)
	assert.Equal(t, ledger.UserID("u-1"), we.UserID)

	s.tx.AssertNotCalled(t, "AppendHistory", mock.Anything, mock.Anything)
}

func TestAdjustBalance_AppendFails_WriteErrorAtAppend(t *testing.T) {
	l, s := newMockLedger()
	s.On("WithTx", mock.Anything).Return(nil)
	s.tx.On("ApplyDelta", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(ledger.Applied{Before: 5, After: 15, At: time.Now()}, nil)
	s.tx.On("AppendHistory", mock.Anything, mock.MatchedBy(func(e ledger.HistoryEntry) bool {
		return e.BalanceBefore == 5 && e.BalanceAfter == 15 && e.Amount == 10
	})).Return(errDiskFull)

	_, err := l.AdjustBalance(context.Background(), adj("u-1", 10, ledger.EntryWheel))

	var we *ledger.WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "append", we.Op)
	s.tx.AssertExpectations(t)
}

func TestAdjustBalance_Contention_Retryable(t *testing.T) {
	l, s := newMockLedger()
	s.On("WithTx", mock.Anything).Return(nil)
	s.tx.On("ApplyDelta", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(ledger.Applied{}, ledger.ErrConcurrentModification)

	_, err := l.AdjustBalance(context.Background(), adj("u-1", 10, ledger.EntryWheel))

	assert.ErrorIs(t, err, ledger.ErrLedgerWriteFailed)
	assert.True(t, ledger.IsRetryable(err))
}

func TestAdjustBalance_BeginFails(t *testing.T) {
	l, s := newMockLedger()
	s.On("WithTx", mock.Anything).Return(errors.New("unable to open database file"))

	_, err := l.AdjustBalance(context.Background(), adj("u-1", 10, ledger.EntryWheel))

	var we *ledger.WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "begin", we.Op)
}

func TestAdjustBalance_Invalid_NeverTouchesStore(t *testing.T) {
	l, s := newMockLedger()

	_, err := l.AdjustBalance(context.Background(), adj("u-1", 0, ledger.EntryWheel))

	assert.ErrorIs(t, err, ledger.ErrInvalidAdjustment)
	s.AssertNotCalled(t, "WithTx", mock.Anything)
}

func TestAdjustBalance_IdempotencyLookupFails(t *testing.T) {
	l, s := newMockLedger()
	s.On("WithTx", mock.Anything).Return(nil)
	s.tx.On("FindByIdempotencyKey", mock.Anything, "k-1").
		Return(ledger.HistoryEntry{}, false, errDiskFull)

	a := adj("u-1", 10, ledger.EntryWheel)
	a.IdempotencyKey = "k-1"
	_, err := l.AdjustBalance(context.Background(), a)

	var we *ledger.WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "lookup", we.Op)
	s.tx.AssertNotCalled(t, "ApplyDelta", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// =============================================================================
// READ FAILURES
// =============================================================================

func TestQueries_StoreFailure_WrappedAsReadError(t *testing.T) {
	l, s := newMockLedger()
	s.On("GetBalance", mock.Anything, ledger.UserID("u-1")).
		Return(ledger.Balance{}, false, errDiskFull)
	s.On("ListHistory", mock.Anything, ledger.UserID("u-1"), mock.Anything, mock.Anything).
		Return([]ledger.HistoryEntry(nil), 0, errDiskFull)
	s.On("ListBalances", mock.Anything, mock.Anything, mock.Anything).
		Return([]ledger.Balance(nil), 0, errDiskFull)

	ctx := context.Background()
	_, balanceErr := l.GetBalance(ctx, "u-1")
	_, historyErr := l.GetHistory(ctx, "u-1", ledger.Page{})
	_, summaryErr := l.GetSummary(ctx, "u-1")
	_, listErr := l.ListAllBalances(ctx, ledger.Page{})

	for name, err := range map[string]error{
		"balance": balanceErr, "history": historyErr, "summary": summaryErr, "list": listErr,
	} {
		assert.ErrorIs(t, err, ledger.ErrLedgerReadFailed, name)
		assert.ErrorIs(t, err, errDiskFull, name)
		assert.NotErrorIs(t, err, ledger.ErrLedgerWriteFailed, name)

		var re *ledger.ReadError
		assert.ErrorAs(t, err, &re, name)
	}
}
