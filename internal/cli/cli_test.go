package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/propledger/propledger/internal/daemon"
)

// execute runs the root command with fresh flag values and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(t, args...)
	if err != nil {
		t.Fatalf("propledger %s: %v", strings.Join(args, " "), err)
	}
	return out
}

// setupHome registers c1/b1/k1 and imports one exact match and one stray
// transaction dated relative to today.
func setupHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv(daemon.HomeEnv, home)
	t.Setenv("PROPLEDGER_USER", "")
	t.Setenv("USER", "")

	mustExecute(t, "scope", "company", "c1", "Acme Rentals")
	mustExecute(t, "scope", "connection", "b1", "--company", "c1")
	mustExecute(t, "scope", "contract", "k1", "--company", "c1", "--tenant", "Juan Perez")

	today := time.Now().UTC()
	due := today.AddDate(0, 0, -5).Format(time.DateOnly)
	posted := today.AddDate(0, 0, -3).Format(time.DateOnly)

	payments := writeFile(t, home, "rent.csv",
		"id,contract_id,amount_due,due_date\np1,k1,1200.00,"+due+"\n")
	feed := writeFile(t, home, "feed.csv",
		"id,external_id,posted_date,amount,counterparty_name\n"+
			"t1,e1,"+posted+",1200.00,Juan Perez\n"+
			"t2,e2,"+posted+",37.50,Corner Shop\n")

	mustExecute(t, "import", "payments", payments)
	out := mustExecute(t, "import", "transactions", feed, "--company", "c1", "--connection", "b1")
	if !strings.Contains(out, "2 imported") {
		t.Fatalf("import output = %q", out)
	}
	return home
}

func TestCLI_ImportIsIdempotent(t *testing.T) {
	home := setupHome(t)

	out := mustExecute(t, "import", "transactions", filepath.Join(home, "feed.csv"),
		"--company", "c1", "--connection", "b1", "--json")
	var rep struct {
		Inserted int `json:"inserted"`
		Skipped  int `json:"skipped"`
	}
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if rep.Inserted != 0 || rep.Skipped != 2 {
		t.Errorf("re-import = %+v, want 0 inserted and 2 skipped", rep)
	}
}

func TestCLI_RunStatsReview(t *testing.T) {
	setupHome(t)

	out := mustExecute(t, "run", "--company", "c1", "--dry-run", "--json")
	var dry struct {
		RunID              string `json:"run_id"`
		DryRun             bool   `json:"dry_run"`
		PaymentsReconciled int    `json:"payments_reconciled"`
		Outcomes           []struct {
			Kind string `json:"kind"`
		} `json:"outcomes"`
	}
	if err := json.Unmarshal([]byte(out), &dry); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if !dry.DryRun || dry.RunID != "" || dry.PaymentsReconciled != 1 || len(dry.Outcomes) != 2 {
		t.Errorf("dry run = %+v", dry)
	}

	// The dry run wrote nothing.
	out = mustExecute(t, "stats", "--company", "c1", "--json")
	if !strings.Contains(out, `"matched_auto": 0`) {
		t.Errorf("stats after dry run = %s", out)
	}

	out = mustExecute(t, "run", "--company", "c1")
	if !strings.Contains(out, "Reconciled:          1") {
		t.Errorf("live run output = %q", out)
	}

	out = mustExecute(t, "stats", "--company", "c1", "--json")
	var stats struct {
		Unmatched             int    `json:"unmatched"`
		MatchedAuto           int    `json:"matched_auto"`
		UnmatchedNoSuggestion int    `json:"unmatched_no_suggestion"`
		TotalReconciledAmount string `json:"total_reconciled_amount"`
	}
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if stats.MatchedAuto != 1 || stats.Unmatched != 1 || stats.UnmatchedNoSuggestion != 1 || stats.TotalReconciledAmount != "1200.00" {
		t.Errorf("stats = %+v", stats)
	}

	out = mustExecute(t, "review", "--company", "c1")
	if !strings.Contains(out, "t2") || strings.Contains(out, "t1") {
		t.Errorf("review = %q, want only t2", out)
	}

	out = mustExecute(t, "runs", "--company", "c1", "--json")
	var runs []map[string]interface{}
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(runs) != 1 {
		t.Errorf("journal has %d runs, want 1 (dry runs are not journaled)", len(runs))
	}
}

func TestCLI_ManualActions(t *testing.T) {
	setupHome(t)

	if _, err := execute(t, "match", "t2", "p1"); err == nil {
		t.Error("match without a user should fail")
	}
	mustExecute(t, "match", "t2", "p1", "--user", "ana")

	if _, err := execute(t, "match", "t1", "p1", "--user", "ana"); err == nil {
		t.Error("matching a paid payment should fail")
	}

	mustExecute(t, "unmatch", "t2", "--user", "ana")

	if _, err := execute(t, "discard", "t2", "--user", "ana"); err == nil {
		t.Error("discard without a reason should fail")
	}
	mustExecute(t, "discard", "t2", "--user", "ana", "--reason", "card purchase")

	out := mustExecute(t, "audit", "t2")
	for _, want := range []string{"MANUAL_MATCH", "REVERSE", "DISCARD"} {
		if !strings.Contains(out, want) {
			t.Errorf("audit output missing %s:\n%s", want, out)
		}
	}
}

func TestCLI_ScheduleOnce(t *testing.T) {
	setupHome(t)
	mustExecute(t, "scope", "company", "c2", "Empty Co")

	out := mustExecute(t, "schedule", "--once")
	if !strings.Contains(out, "✅ c1: 1 reconciled") || !strings.Contains(out, "✅ c2: 0 reconciled") {
		t.Errorf("schedule output = %q", out)
	}
}

func TestCLI_ScopeErrors(t *testing.T) {
	setupHome(t)

	if _, err := execute(t, "run", "--company", "nope"); err == nil {
		t.Error("unknown company should fail")
	}
	if _, err := execute(t, "run"); err == nil {
		t.Error("missing --company should fail")
	}
	if _, err := execute(t, "run", "--company", "c1", "--threshold", "101"); err == nil {
		t.Error("threshold above 100 should fail")
	}
}
