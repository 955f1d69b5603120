package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/points-ledger/ledger"
)

func init() {
	rootCmd.AddCommand(adjustCmd)
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(balancesCmd)
	rootCmd.AddCommand(verifyCmd)

	adjustCmd.Flags().StringP("user", "u", "", "User id")
	adjustCmd.Flags().Int64P("amount", "a", 0, "Signed point delta")
	adjustCmd.Flags().StringP("description", "d", "", "Audit note")
	adjustCmd.Flags().StringP("type", "t", string(ledger.EntryAdminAdjust), "Entry type: WHEEL, SPEND, ADMIN-ADJUST, ADMIN-BONUS")
	adjustCmd.Flags().StringP("key", "k", "", "Idempotency key")
	adjustCmd.MarkFlagRequired("user")
	adjustCmd.MarkFlagRequired("amount")
	adjustCmd.MarkFlagRequired("description")

	for _, c := range []*cobra.Command{historyCmd, balancesCmd} {
		c.Flags().IntP("page", "p", ledger.DefaultPage, "Page number (1-based)")
		c.Flags().IntP("limit", "l", ledger.DefaultPageSize, "Items per page")
	}
}

// ─── adjust ─────────────────────────────────────────────────────────────────

var adjustCmd = &cobra.Command{
	Use:   "adjust",
	Short: "Apply a signed adjustment to a user's balance",
	Example: `  pointsd adjust -u u-alice -a 100 -d "Welcome bonus" -t ADMIN-BONUS
  pointsd adjust -u u-alice -a -30 -d "Coffee" -t SPEND -k order-8812`,
	Args: cobra.NoArgs,
	RunE: runAdjust,
}

func runAdjust(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")
	amount, _ := cmd.Flags().GetInt64("amount")
	description, _ := cmd.Flags().GetString("description")
	typ, _ := cmd.Flags().GetString("type")
	key, _ := cmd.Flags().GetString("key")

	entryType, err := ledger.ParseEntryType(typ)
	if err != nil {
		return err
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	entry, err := a.ledger.AdjustBalance(cmd.Context(), ledger.Adjustment{
		UserID:         ledger.UserID(user),
		Amount:         amount,
		Description:    description,
		Type:           entryType,
		IdempotencyKey: key,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Entry:   %s\n", entry.ID)
	fmt.Fprintf(out, "User:    %s\n", entry.UserID)
	fmt.Fprintf(out, "Amount:  %+d (%s)\n", entry.Amount, entry.Type)
	fmt.Fprintf(out, "Balance: %d -> %d\n", entry.BalanceBefore, entry.BalanceAfter)
	return nil
}

// ─── balance ────────────────────────────────────────────────────────────────

var balanceCmd = &cobra.Command{
	Use:   "balance USER_ID",
	Short: "Show a user's current balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		b, err := a.ledger.GetBalance(cmd.Context(), ledger.UserID(args[0]))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", displayUser(b.UserID, b.Username), b.Balance)
		return nil
	},
}

// ─── history ────────────────────────────────────────────────────────────────

var historyCmd = &cobra.Command{
	Use:   "history USER_ID",
	Short: "List a user's adjustments, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		page, limit := pageFlags(cmd)

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.ledger.GetHistory(cmd.Context(), ledger.UserID(args[0]), ledger.Page{Page: page, PageSize: limit})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printEntries(out, result.Items)
		printMeta(out, result.Meta)
		return nil
	},
}

// ─── summary ────────────────────────────────────────────────────────────────

var summaryCmd = &cobra.Command{
	Use:   "summary USER_ID",
	Short: "Show a user's balance and most recent adjustments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.ledger.GetSummary(cmd.Context(), ledger.UserID(args[0]))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Balance: %d\n\n", s.Balance)
		printEntries(out, s.History)
		return nil
	},
}

// ─── balances ───────────────────────────────────────────────────────────────

var balancesCmd = &cobra.Command{
	Use:   "balances",
	Short: "List every user's balance, most recently updated first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		page, limit := pageFlags(cmd)

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.ledger.ListAllBalances(cmd.Context(), ledger.Page{Page: page, PageSize: limit})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "USER\tBALANCE\tUPDATED")
		for _, b := range result.Items {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", displayUser(b.UserID, b.Username), b.Balance, b.UpdatedAt.Format(time.RFC3339))
		}
		tw.Flush()
		printMeta(out, result.Meta)
		return nil
	},
}

// ─── verify ─────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify USER_ID",
	Short: "Check a user's history chain against the stored balance",
	Long: `Walk the user's history oldest-first and check that every entry links to
the previous one and that the last entry matches the stored balance. Exits
non-zero when the chain is broken.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.ledger.VerifyChain(cmd.Context(), ledger.UserID(args[0]))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Entries: %d\nStored:  %d\nChain:   %d\n", report.Entries, report.StoredBalance, report.ChainBalance)
		if report.OK() {
			fmt.Fprintln(out, "OK")
			return nil
		}
		for _, b := range report.Breaks {
			fmt.Fprintf(out, "BREAK #%d %s: %s\n", b.Index, b.EntryID, b.Reason)
		}
		return fmt.Errorf("history chain for %s has %d break(s)", report.UserID, len(report.Breaks))
	},
}

// Helper functions

func pageFlags(cmd *cobra.Command) (page, limit int) {
	page, _ = cmd.Flags().GetInt("page")
	limit, _ = cmd.Flags().GetInt("limit")
	return page, limit
}

func displayUser(id ledger.UserID, username string) string {
	if username == "" {
		return string(id)
	}
	return fmt.Sprintf("%s (%s)", id, username)
}

func printEntries(w io.Writer, entries []ledger.HistoryEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tTYPE\tAMOUNT\tBEFORE\tAFTER\tDESCRIPTION")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%+d\t%d\t%d\t%s\n",
			e.CreatedAt.Format(time.RFC3339), e.Type, e.Amount, e.BalanceBefore, e.BalanceAfter, e.Description)
	}
	tw.Flush()
}

func printMeta(w io.Writer, m ledger.PageMeta) {
	fmt.Fprintf(w, "\nPage %d/%d (%d total)\n", m.Page, m.TotalPages, m.TotalItems)
}
