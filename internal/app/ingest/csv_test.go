package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/propledger/propledger/internal/domain"
	"github.com/propledger/propledger/internal/infra/sqlite"
)

var ctx = context.Background()

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	must(t, db.UpsertCompany(ctx, domain.Company{ID: "c1", Name: "Acme Rentals"}))
	must(t, db.UpsertCompany(ctx, domain.Company{ID: "c2", Name: "Other"}))
	must(t, db.UpsertBankConnection(ctx, domain.BankConnection{ID: "b1", CompanyID: "c1"}))
	must(t, db.UpsertBankConnection(ctx, domain.BankConnection{ID: "b2", CompanyID: "c2"}))
	must(t, db.UpsertContract(ctx, domain.Contract{ID: "k1", CompanyID: "c1", TenantName: "Juan Perez"}))
	return db
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

const feed = `external_id,posted_date,amount,description,counterparty_name
e1,2026-02-03,1200.00,Transfer rent feb,Juan Perez
e2,2026-02-04,"1,5",bad amount,
e3,03/02/2026,500.00,bad date,
e4,2026-02-05,-45.125,Bank fee,
`

func TestTransactions_ImportsAndReportsBadRows(t *testing.T) {
	db := newTestDB(t)

	rep, err := Transactions(ctx, strings.NewReader(feed), db, "c1", "b1")
	if err != nil {
		t.Fatalf("Transactions() error: %v", err)
	}
	if rep.Rows != 4 || rep.Inserted != 2 || rep.Skipped != 0 {
		t.Errorf("report = %+v, want 4 rows, 2 inserted", rep)
	}
	if len(rep.Errors) != 2 {
		t.Fatalf("errors = %+v, want 2", rep.Errors)
	}
	if rep.Errors[0].Line != 3 || rep.Errors[1].Line != 4 {
		t.Errorf("error lines = %d,%d, want 3,4", rep.Errors[0].Line, rep.Errors[1].Line)
	}

	txs, err := db.ListTransactions(ctx, domain.TransactionQuery{CompanyID: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 2 {
		t.Fatalf("stored %d transactions, want 2", len(txs))
	}
	byExt := map[string]domain.BankTransaction{}
	for _, tx := range txs {
		byExt[tx.ExternalID] = tx
	}
	if byExt["e1"].CounterpartyName != "Juan Perez" || byExt["e1"].Status != domain.TxUnmatched {
		t.Errorf("e1 = %+v", byExt["e1"])
	}
	// Amounts are rounded half away from zero at the boundary.
	if got := byExt["e4"].Amount.String(); got != "-45.13" {
		t.Errorf("e4 amount = %s, want -45.13", got)
	}
	if byExt["e1"].ID == "" {
		t.Error("missing id column should yield a generated id")
	}
}

func TestTransactions_Idempotent(t *testing.T) {
	db := newTestDB(t)

	if _, err := Transactions(ctx, strings.NewReader(feed), db, "c1", "b1"); err != nil {
		t.Fatal(err)
	}
	rep, err := Transactions(ctx, strings.NewReader(feed), db, "c1", "b1")
	if err != nil {
		t.Fatal(err)
	}
	if rep.Inserted != 0 || rep.Skipped != 2 {
		t.Errorf("re-import = %+v, want 0 inserted, 2 skipped", rep)
	}
}

func TestTransactions_ScopeAborts(t *testing.T) {
	db := newTestDB(t)

	_, err := Transactions(ctx, strings.NewReader(feed), db, "c1", "b2")
	if !errors.Is(err, domain.ErrScope) {
		t.Fatalf("foreign connection error = %v, want ErrScope", err)
	}
	n, err := db.CountTransactions(ctx, domain.TransactionQuery{CompanyID: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("stored %d rows after scope error, want 0", n)
	}
}

func TestTransactions_Header(t *testing.T) {
	db := newTestDB(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"missing amount", "external_id,posted_date\ne1,2026-02-03\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Transactions(ctx, strings.NewReader(tt.body), db, "c1", "b1")
			if !errors.Is(err, domain.ErrInvalidOptions) {
				t.Errorf("error = %v, want ErrInvalidOptions", err)
			}
		})
	}
}

func TestTransactions_HeaderIsCaseAndBOMInsensitive(t *testing.T) {
	db := newTestDB(t)

	body := "\ufeffExternal_ID, Posted_Date, Amount\ne9,2026-02-03,10.00\n"
	rep, err := Transactions(ctx, strings.NewReader(body), db, "c1", "b1")
	if err != nil {
		t.Fatalf("Transactions() error: %v", err)
	}
	if rep.Inserted != 1 {
		t.Errorf("inserted = %d, want 1", rep.Inserted)
	}
}

func TestTransactions_WrongFieldCount(t *testing.T) {
	db := newTestDB(t)

	body := "external_id,posted_date,amount\ne1,2026-02-03\ne2,2026-02-03,5.00\n"
	rep, err := Transactions(ctx, strings.NewReader(body), db, "c1", "b1")
	if err != nil {
		t.Fatalf("Transactions() error: %v", err)
	}
	if rep.Rows != 2 || rep.Inserted != 1 || len(rep.Errors) != 1 {
		t.Errorf("report = %+v, want 2 rows, 1 inserted, 1 error", rep)
	}
}

func TestPayments_Upsert(t *testing.T) {
	db := newTestDB(t)

	body := `id,contract_id,amount_due,due_date,period_label
p1,k1,1200.00,2026-02-01,2026-02
p2,k1,1200.00,2026-03-01,2026-03
p3,k1,zero,2026-04-01,2026-04
`
	rep, err := Payments(ctx, strings.NewReader(body), db)
	if err != nil {
		t.Fatalf("Payments() error: %v", err)
	}
	if rep.Inserted != 2 || len(rep.Errors) != 1 {
		t.Errorf("report = %+v, want 2 upserted, 1 error", rep)
	}

	p, err := db.GetPayment(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != domain.PaymentPending || p.PayerName != "Juan Perez" || p.PeriodLabel != "2026-02" {
		t.Errorf("p1 = %+v", p)
	}

	// Re-importing refreshes terms without touching status.
	body = "id,contract_id,amount_due,due_date\np1,k1,1250.00,2026-02-01\n"
	if _, err := Payments(ctx, strings.NewReader(body), db); err != nil {
		t.Fatal(err)
	}
	p, err = db.GetPayment(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if p.AmountDue.String() != "1250.00" {
		t.Errorf("p1 amount = %s, want 1250.00", p.AmountDue)
	}
}
