package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// ─── Manual Review CLI ──────────────────────────────────────────────────────
// A reviewer resolves what the engine could not: link a transaction to a
// payment, undo a manual link, or discard a transaction that is not rent.

func init() {
	rootCmd.AddCommand(matchCmd)
	rootCmd.AddCommand(unmatchCmd)
	rootCmd.AddCommand(discardCmd)
	rootCmd.AddCommand(auditCmd)

	for _, c := range []*cobra.Command{matchCmd, unmatchCmd, discardCmd} {
		c.Flags().String("user", "", "Acting user (default $PROPLEDGER_USER or $USER)")
	}
	discardCmd.Flags().StringP("reason", "r", "", "Why the transaction is not rent")
}

func actingUser(cmd *cobra.Command) (string, error) {
	u, _ := cmd.Flags().GetString("user")
	if u == "" {
		u = defaultUser()
	}
	if u == "" {
		return "", fmt.Errorf("--user is required")
	}
	return u, nil
}

// ─── match ──────────────────────────────────────────────────────────────────

var matchCmd = &cobra.Command{
	Use:   "match TRANSACTION_ID PAYMENT_ID",
	Short: "Manually link a transaction to a payment",
	Args:  cobra.ExactArgs(2),
	RunE:  runMatch,
}

func runMatch(cmd *cobra.Command, args []string) error {
	user, err := actingUser(cmd)
	if err != nil {
		return err
	}
	d, err := openDaemon(cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Engine.ManualReconciliation(cmd.Context(), args[0], args[1], user); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ %s matched to %s\n", args[0], args[1])
	return nil
}

// ─── unmatch ────────────────────────────────────────────────────────────────

var unmatchCmd = &cobra.Command{
	Use:   "unmatch TRANSACTION_ID",
	Short: "Reverse a manual match",
	Long:  `Return a manually matched transaction to the review queue and reopen its payment. Auto matches cannot be reversed.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runUnmatch,
}

func runUnmatch(cmd *cobra.Command, args []string) error {
	user, err := actingUser(cmd)
	if err != nil {
		return err
	}
	d, err := openDaemon(cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Engine.ReverseManualMatch(cmd.Context(), args[0], user); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ %s is unmatched\n", args[0])
	return nil
}

// ─── discard ────────────────────────────────────────────────────────────────

var discardCmd = &cobra.Command{
	Use:   "discard TRANSACTION_ID",
	Short: "Mark a transaction as not rent",
	Long:  `Discarded transactions never return to automatic or manual matching.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runDiscard,
}

func runDiscard(cmd *cobra.Command, args []string) error {
	user, err := actingUser(cmd)
	if err != nil {
		return err
	}
	reason, err := requiredString(cmd, "reason")
	if err != nil {
		return err
	}
	d, err := openDaemon(cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Engine.DiscardTransaction(cmd.Context(), args[0], reason, user); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ %s discarded\n", args[0])
	return nil
}

// ─── audit ──────────────────────────────────────────────────────────────────

var auditCmd = &cobra.Command{
	Use:   "audit TRANSACTION_ID",
	Short: "Show the manual-action trail of a transaction",
	Args:  cobra.ExactArgs(1),
	RunE:  runAudit,
}

func runAudit(cmd *cobra.Command, args []string) error {
	d, err := openDaemon(cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	entries, err := d.Engine.Audit(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if wantJSON(cmd) {
		return printJSON(out, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No manual actions recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tACTION\tPAYMENT\tUSER\tREASON")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.At.Format(time.RFC3339), e.Action, e.PaymentID, e.UserID, e.Reason)
	}
	return tw.Flush()
}
