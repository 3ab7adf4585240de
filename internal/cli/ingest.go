package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/propledger/propledger/internal/app/ingest"
	"github.com/propledger/propledger/internal/domain"
)

// ─── Import and scope CLI ───────────────────────────────────────────────────
// Feeds and rent rolls arrive as CSV. Companies, bank connections and
// contracts are registered with `scope` before anything is imported.

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.AddCommand(importTransactionsCmd)
	importCmd.AddCommand(importPaymentsCmd)

	rootCmd.AddCommand(scopeCmd)
	scopeCmd.AddCommand(scopeCompanyCmd)
	scopeCmd.AddCommand(scopeConnectionCmd)
	scopeCmd.AddCommand(scopeContractCmd)

	importTransactionsCmd.Flags().String("company", "", "Company that owns the connection")
	importTransactionsCmd.Flags().String("connection", "", "Bank connection the feed came from")

	scopeConnectionCmd.Flags().String("company", "", "Owning company")
	scopeConnectionCmd.Flags().String("label", "", "Display label")
	scopeContractCmd.Flags().String("company", "", "Owning company")
	scopeContractCmd.Flags().String("tenant", "", "Tenant name as it appears on bank transfers")
	scopeContractCmd.Flags().String("unit", "", "Unit label")
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import bank feeds and rent payments from CSV",
}

// ─── import transactions ────────────────────────────────────────────────────

var importTransactionsCmd = &cobra.Command{
	Use:   "transactions FILE",
	Short: "Import a bank feed export",
	Long: `Import bank feed rows. Required columns: external_id, posted_date
(YYYY-MM-DD), amount. Optional: id, description, counterparty_name.
Rows already imported for the connection are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runImportTransactions,
}

func runImportTransactions(cmd *cobra.Command, args []string) error {
	company, err := requiredString(cmd, "company")
	if err != nil {
		return err
	}
	connection, err := requiredString(cmd, "connection")
	if err != nil {
		return err
	}
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open feed: %w", err)
	}
	defer f.Close()

	d, err := openDaemon(cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	rep, err := ingest.Transactions(cmd.Context(), f, d.DB, company, connection)
	if err != nil {
		return err
	}
	return printReport(cmd, rep)
}

// ─── import payments ────────────────────────────────────────────────────────

var importPaymentsCmd = &cobra.Command{
	Use:   "payments FILE",
	Short: "Import a rent roll",
	Long: `Import rent payments. Required columns: contract_id, amount_due,
due_date (YYYY-MM-DD). Optional: id, period_label. Existing payments keep
their status and get their terms refreshed.`,
	Args: cobra.ExactArgs(1),
	RunE: runImportPayments,
}

func runImportPayments(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open rent roll: %w", err)
	}
	defer f.Close()

	d, err := openDaemon(cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	rep, err := ingest.Payments(cmd.Context(), f, d.DB)
	if err != nil {
		return err
	}
	return printReport(cmd, rep)
}

func printReport(cmd *cobra.Command, rep *ingest.Report) error {
	out := cmd.OutOrStdout()
	if wantJSON(cmd) {
		return printJSON(out, rep)
	}
	fmt.Fprintf(out, "✅ %d rows: %d imported, %d already present, %d rejected\n",
		rep.Rows, rep.Inserted, rep.Skipped, len(rep.Errors))
	for _, e := range rep.Errors {
		fmt.Fprintf(out, "   line %d: %s\n", e.Line, e.Err)
	}
	return nil
}

// ─── scope ──────────────────────────────────────────────────────────────────

var scopeCmd = &cobra.Command{
	Use:   "scope",
	Short: "Register companies, bank connections and contracts",
}

var scopeCompanyCmd = &cobra.Command{
	Use:   "company ID NAME",
	Short: "Create or rename a company",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		if err := d.DB.UpsertCompany(cmd.Context(), domain.Company{ID: args[0], Name: args[1]}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Company %s\n", args[0])
		return nil
	},
}

var scopeConnectionCmd = &cobra.Command{
	Use:   "connection ID",
	Short: "Register a bank connection for a company",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		company, err := requiredString(cmd, "company")
		if err != nil {
			return err
		}
		label, _ := cmd.Flags().GetString("label")

		d, err := openDaemon(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		conn := domain.BankConnection{ID: args[0], CompanyID: company, Label: label}
		if err := d.DB.UpsertBankConnection(cmd.Context(), conn); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Connection %s (company %s)\n", args[0], company)
		return nil
	},
}

var scopeContractCmd = &cobra.Command{
	Use:   "contract ID",
	Short: "Register a lease contract and its tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		company, err := requiredString(cmd, "company")
		if err != nil {
			return err
		}
		tenant, err := requiredString(cmd, "tenant")
		if err != nil {
			return err
		}
		unit, _ := cmd.Flags().GetString("unit")

		d, err := openDaemon(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		c := domain.Contract{ID: args[0], CompanyID: company, TenantName: tenant, UnitLabel: unit}
		if err := d.DB.UpsertContract(cmd.Context(), c); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Contract %s (company %s)\n", args[0], company)
		return nil
	},
}
