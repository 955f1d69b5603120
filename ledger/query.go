/*
query.go - Read side of the ledger

OPERATIONS:
  GetBalance:      stored row, or the implicit zero when the user has none
  GetHistory:      one page of entries, newest first
  GetSummary:      balance + the newest SummarySize entries
  ListAllBalances: one page of balance rows, most recently updated first

All reads are side-effect free. GetBalance never creates a row. Each read
runs against committed state only; the stores guarantee a balance change is
never visible without its history entry.

USERNAMES:
  When a UserDirectory is wired, Username is filled on every returned
  Balance and HistoryEntry. A failed lookup leaves names empty and is logged;
  it never fails the read.
*/
package ledger

import (
	"context"
	"errors"
)

// GetBalance returns the user's balance, or a zero projection if no
// adjustment has ever been applied.
func (l *Ledger) GetBalance(ctx context.Context, userID UserID) (Balance, error) {
	b, err := loadBalance(ctx, l.store, userID)
	if err != nil {
		return Balance{}, err
	}
	names := l.displayNames(ctx, []UserID{userID})
	b.Username = names[userID]
	return b, nil
}

// GetHistory returns one page of the user's entries, newest first. A page
// past the end is empty with HasNextPage false.
func (l *Ledger) GetHistory(ctx context.Context, userID UserID, p Page) (HistoryPage, error) {
	p = l.limits.Normalize(p)
	var (
		items []HistoryEntry
		total int
	)
	err := l.readSnapshot(ctx, userID, func(s Store) error {
		var err error
		if items, total, err = s.ListHistory(ctx, userID, p.Offset(), p.PageSize); err != nil {
			return &ReadError{UserID: userID, Op: "list history", Err: err}
		}
		return nil
	})
	if err != nil {
		return HistoryPage{}, err
	}
	l.fillEntryNames(ctx, items)
	return HistoryPage{Items: nonNil(items), Meta: NewPageMeta(p, total)}, nil
}

// GetSummary returns the current balance and the newest entries. Both parts
// come from one snapshot when the store implements SnapshotReader, so the
// newest entry's BalanceAfter equals the balance.
func (l *Ledger) GetSummary(ctx context.Context, userID UserID) (Summary, error) {
	var (
		b     Balance
		items []HistoryEntry
	)
	read := func(s Store) error {
		var err error
		if b, err = loadBalance(ctx, s, userID); err != nil {
			return err
		}
		if items, _, err = s.ListHistory(ctx, userID, 0, l.summarySize); err != nil {
			return &ReadError{UserID: userID, Op: "recent history", Err: err}
		}
		return nil
	}

	if err := l.readSnapshot(ctx, userID, read); err != nil {
		return Summary{}, err
	}

	l.fillEntryNames(ctx, items)
	return Summary{UserID: userID, Balance: b.Balance, History: nonNil(items)}, nil
}

// ListAllBalances returns one page of every user's balance row, most
// recently updated first.
func (l *Ledger) ListAllBalances(ctx context.Context, p Page) (BalancePage, error) {
	p = l.limits.Normalize(p)
	var (
		items []Balance
		total int
	)
	err := l.readSnapshot(ctx, "", func(s Store) error {
		var err error
		if items, total, err = s.ListBalances(ctx, p.Offset(), p.PageSize); err != nil {
			return &ReadError{Op: "list balances", Err: err}
		}
		return nil
	})
	if err != nil {
		return BalancePage{}, err
	}

	if len(items) > 0 {
		ids := make([]UserID, len(items))
		for i, b := range items {
			ids[i] = b.UserID
		}
		names := l.displayNames(ctx, ids)
		for i := range items {
			items[i].Username = names[items[i].UserID]
		}
	}
	if items == nil {
		items = []Balance{}
	}
	return BalancePage{Items: items, Meta: NewPageMeta(p, total)}, nil
}

func loadBalance(ctx context.Context, s Store, userID UserID) (Balance, error) {
	b, ok, err := s.GetBalance(ctx, userID)
	if err != nil {
		return Balance{}, &ReadError{UserID: userID, Op: "get balance", Err: err}
	}
	if !ok {
		return ZeroBalance(userID), nil
	}
	return b, nil
}

func (l *Ledger) fillEntryNames(ctx context.Context, items []HistoryEntry) {
	if len(items) == 0 {
		return
	}
	seen := make(map[UserID]bool)
	var ids []UserID
	for _, e := range items {
		if !seen[e.UserID] {
			seen[e.UserID] = true
			ids = append(ids, e.UserID)
		}
	}
	names := l.displayNames(ctx, ids)
	for i := range items {
		items[i].Username = names[items[i].UserID]
	}
}

func (l *Ledger) displayNames(ctx context.Context, ids []UserID) map[UserID]string {
	if l.users == nil || len(ids) == 0 {
		return nil
	}
	names, err := l.users.DisplayNames(ctx, ids)
	if err != nil {
		l.log.Warn("username projection unavailable", "users", len(ids), "error", err)
		return nil
	}
	return names
}

// readSnapshot runs fn against one consistent snapshot when the store can
// provide one, and directly against the store otherwise. Errors leave as
// ReadError.
func (l *Ledger) readSnapshot(ctx context.Context, userID UserID, fn func(Store) error) error {
	var err error
	if sr, ok := l.store.(SnapshotReader); ok {
		err = sr.ReadSnapshot(ctx, fn)
	} else {
		err = fn(l.store)
	}
	if err == nil {
		return nil
	}
	var re *ReadError
	if errors.As(err, &re) {
		return err
	}
	return &ReadError{UserID: userID, Op: "snapshot", Err: err}
}

func nonNil(items []HistoryEntry) []HistoryEntry {
	if items == nil {
		return []HistoryEntry{}
	}
	return items
}
