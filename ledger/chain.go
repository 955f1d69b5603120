package ledger

import (
	"context"
	"fmt"
	"slices"

	"github.com/warp/points-ledger/observability"
)

// verifyBatch is the page size used when walking a user's full history.
const verifyBatch = 500

// ChainBreak describes one place where the history chain does not link.
type ChainBreak struct {
	Index   int // position in oldest-first order
	EntryID EntryID
	Reason  string
}

// ChainReport is the result of VerifyChain.
type ChainReport struct {
	UserID        UserID
	Entries       int
	StoredBalance int64
	ChainBalance  int64 // BalanceAfter of the newest entry, 0 if none
	Breaks        []ChainBreak
}

func (r ChainReport) OK() bool { return len(r.Breaks) == 0 }

// VerifyChain walks the user's history oldest-first and checks that every
// entry satisfies after = before + amount, that each entry's before equals
// the previous after (0 for the first), and that the last after equals the
// stored balance.
//
// The per-user lock is held while reading so adjustments from this process
// cannot interleave with the walk.
func (l *Ledger) VerifyChain(ctx context.Context, userID UserID) (ChainReport, error) {
	unlock, err := l.locks.Lock(ctx, userID)
	if err != nil {
		return ChainReport{}, &ReadError{UserID: userID, Op: "lock", Err: err}
	}
	defer unlock()

	var (
		stored  Balance
		entries []HistoryEntry
	)
	err = l.readSnapshot(ctx, userID, func(s Store) error {
		var err error
		if stored, err = loadBalance(ctx, s, userID); err != nil {
			return err
		}
		for offset := 0; ; offset += verifyBatch {
			batch, total, err := s.ListHistory(ctx, userID, offset, verifyBatch)
			if err != nil {
				return &ReadError{UserID: userID, Op: "walk history", Err: err}
			}
			entries = append(entries, batch...)
			if len(batch) == 0 || len(entries) >= total {
				return nil
			}
		}
	})
	if err != nil {
		return ChainReport{}, err
	}

	// ListHistory is newest first.
	slices.Reverse(entries)

	report := ChainReport{
		UserID:        userID,
		Entries:       len(entries),
		StoredBalance: stored.Balance,
	}
	var prevAfter int64
	for i, e := range entries {
		if !e.Consistent() {
			report.Breaks = append(report.Breaks, ChainBreak{
				Index: i, EntryID: e.ID,
				Reason: fmt.Sprintf("after %d != before %d + amount %d", e.BalanceAfter, e.BalanceBefore, e.Amount),
			})
		}
		if e.BalanceBefore != prevAfter {
			report.Breaks = append(report.Breaks, ChainBreak{
				Index: i, EntryID: e.ID,
				Reason: fmt.Sprintf("before %d != previous after %d", e.BalanceBefore, prevAfter),
			})
		}
		prevAfter = e.BalanceAfter
	}
	report.ChainBalance = prevAfter

	if report.ChainBalance != report.StoredBalance {
		report.Breaks = append(report.Breaks, ChainBreak{
			Index:  len(entries) - 1,
			Reason: fmt.Sprintf("stored balance %d != chain balance %d", report.StoredBalance, report.ChainBalance),
		})
	}

	if !report.OK() {
		observability.ChainBreaks.Add(float64(len(report.Breaks)))
		l.log.Warn("history chain broken", "user_id", userID, "breaks", len(report.Breaks))
	}
	return report, nil
}
