package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/propledger/propledger/internal/app/reconcile"
)

// ─── Reconciliation CLI ─────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(runsCmd)

	runCmd.Flags().String("company", "", "Company to reconcile")
	runCmd.Flags().String("connection", "", "Restrict to one bank connection")
	runCmd.Flags().Int("days-back", 0, "Window size in days (default from policy)")
	runCmd.Flags().Int("threshold", 0, "Auto-approve threshold 0-100 (default from policy)")
	runCmd.Flags().Bool("dry-run", false, "Compute outcomes without writing anything")

	statsCmd.Flags().String("company", "", "Company")
	reviewCmd.Flags().String("company", "", "Company")
	runsCmd.Flags().String("company", "", "Company")
	runsCmd.Flags().Int("limit", 10, "Number of runs to show")
}

// ─── run ────────────────────────────────────────────────────────────────────

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile a company's recent bank transactions",
	Long: `Scan UNMATCHED inbound transactions in the window, score them against
outstanding payments and commit every match at or above the threshold.
With --dry-run nothing is written and every outcome is printed.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	company, err := requiredString(cmd, "company")
	if err != nil {
		return err
	}
	opts := reconcile.Options{CompanyID: company}
	opts.BankConnectionID, _ = cmd.Flags().GetString("connection")
	opts.DaysBack, _ = cmd.Flags().GetInt("days-back")
	opts.DryRun, _ = cmd.Flags().GetBool("dry-run")
	if cmd.Flags().Changed("threshold") {
		t, _ := cmd.Flags().GetInt("threshold")
		opts.AutoApproveThreshold = &t
	}

	d, err := openDaemon(cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	res, err := d.Engine.Run(cmd.Context(), opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if wantJSON(cmd) {
		return printJSON(out, res)
	}

	mode := "live"
	if res.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(out, "Reconciliation %s for %s (%s to %s, threshold %d)\n", mode, company,
		res.WindowFrom.Format(time.DateOnly), res.WindowTo.Format(time.DateOnly), res.AutoApproveThreshold)
	if res.RunID != "" {
		fmt.Fprintf(out, "  Run:                 %s\n", res.RunID)
	}
	fmt.Fprintf(out, "  Scanned:             %d\n", res.TransactionsScanned)
	fmt.Fprintf(out, "  Reconciled:          %d\n", res.PaymentsReconciled)
	fmt.Fprintf(out, "  Needs review:        %d (%d without candidate)\n", res.ManualReviewRequired, res.NoCandidate)
	fmt.Fprintf(out, "  Conflicts:           %d\n", res.Conflicts)
	fmt.Fprintf(out, "  Discarded (skipped): %d\n", res.DiscardedSkipped)
	for _, f := range res.Failures {
		fmt.Fprintf(out, "  ⚠️  %s -> %s: %s\n", f.TransactionID, f.PaymentID, f.Error)
	}

	if res.DryRun && len(res.Outcomes) > 0 {
		fmt.Fprintln(out)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TRANSACTION\tAMOUNT\tOUTCOME\tPAYMENT\tSCORE")
		for _, o := range res.Outcomes {
			payment := "-"
			if o.Payment != nil {
				payment = o.Payment.ID
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", o.Transaction.ID, o.Transaction.Amount, o.Kind, payment, o.Score())
		}
		tw.Flush()
	}
	if !res.Success {
		return fmt.Errorf("%d item(s) failed to commit", len(res.Failures))
	}
	return nil
}

// ─── stats ──────────────────────────────────────────────────────────────────

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show reconciliation counts for a company",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	company, err := requiredString(cmd, "company")
	if err != nil {
		return err
	}
	d, err := openDaemon(cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	s, err := d.Engine.ReconciliationStats(cmd.Context(), company)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if wantJSON(cmd) {
		return printJSON(out, s)
	}
	fmt.Fprintf(out, "Company %s\n", company)
	fmt.Fprintf(out, "  Unmatched:         %d (%d without suggestion)\n", s.Unmatched, s.UnmatchedNoSuggestion)
	fmt.Fprintf(out, "  Matched (auto):    %d\n", s.MatchedAuto)
	fmt.Fprintf(out, "  Matched (manual):  %d\n", s.MatchedManual)
	fmt.Fprintf(out, "  Discarded:         %d\n", s.Discarded)
	fmt.Fprintf(out, "  Reconciled amount: %s\n", s.TotalReconciledAmount)
	return nil
}

// ─── review ─────────────────────────────────────────────────────────────────

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "List unmatched transactions with their best suggestion",
	Args:  cobra.NoArgs,
	RunE:  runReview,
}

func runReview(cmd *cobra.Command, args []string) error {
	company, err := requiredString(cmd, "company")
	if err != nil {
		return err
	}
	d, err := openDaemon(cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	items, err := d.Engine.TransactionsForManualReview(cmd.Context(), company)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if wantJSON(cmd) {
		return printJSON(out, items)
	}
	if len(items) == 0 {
		fmt.Fprintln(out, "Nothing to review.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TRANSACTION\tPOSTED\tAMOUNT\tSUGGESTION\tSCORE\tAMOUNT/DATE/NAME")
	for _, it := range items {
		suggestion, score, parts := "-", "-", "-"
		if it.BestCandidatePayment != nil {
			suggestion = it.BestCandidatePayment.ID
			score = fmt.Sprint(*it.BestScore)
			parts = fmt.Sprintf("%d/%d/%d", it.Breakdown.Amount, it.Breakdown.Date, it.Breakdown.Name)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", it.Transaction.ID,
			it.Transaction.PostedDate.Format(time.DateOnly), it.Transaction.Amount, suggestion, score, parts)
	}
	return tw.Flush()
}

// ─── runs ───────────────────────────────────────────────────────────────────

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show the journal of live runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

func runRuns(cmd *cobra.Command, args []string) error {
	company, err := requiredString(cmd, "company")
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")

	d, err := openDaemon(cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	runs, err := d.Engine.Runs(cmd.Context(), company, limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if wantJSON(cmd) {
		return printJSON(out, runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tRUN\tSCANNED\tRECONCILED\tREVIEW\tFAILURES")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n", r.StartedAt.Format(time.RFC3339), r.ID,
			r.TransactionsScanned, r.PaymentsReconciled, r.ManualReviewRequired, r.Failures)
	}
	return tw.Flush()
}
