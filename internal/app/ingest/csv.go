// Package ingest loads bank feed rows and rent payments from CSV files into
// the store. Feed imports are idempotent: a row whose (connection, external
// id) is already present is skipped.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/propledger/propledger/internal/domain"
)

// DateLayout is the only accepted date format.
const DateLayout = "2006-01-02"

// FeedWriter appends normalized bank feed rows.
type FeedWriter interface {
	ImportTransaction(ctx context.Context, t domain.BankTransaction) (inserted bool, err error)
}

// PaymentWriter creates or refreshes rent payments.
type PaymentWriter interface {
	UpsertPayment(ctx context.Context, p domain.Payment) (string, error)
}

// RowError reports one rejected line. Rejected rows never stop the import.
type RowError struct {
	Line int    `json:"line"`
	Err  string `json:"error"`
}

// Report summarizes one import.
type Report struct {
	Rows     int        `json:"rows"`
	Inserted int        `json:"inserted"`
	Skipped  int        `json:"skipped"`
	Errors   []RowError `json:"errors,omitempty"`
}

// Required header columns. Optional: id, description, counterparty_name for
// feeds; id, period_label for payments.
var (
	transactionColumns = []string{"external_id", "posted_date", "amount"}
	paymentColumns     = []string{"contract_id", "amount_due", "due_date"}
)

// Transactions imports a bank feed export for one connection of companyID.
// A scope error aborts the import; malformed rows are reported and skipped.
func Transactions(ctx context.Context, r io.Reader, w FeedWriter, companyID, connectionID string) (*Report, error) {
	rep := &Report{}
	err := each(r, transactionColumns, rep, func(row record) error {
		posted, err := row.date("posted_date")
		if err != nil {
			return err
		}
		amount, err := domain.ParseMoney(row.get("amount"))
		if err != nil {
			return err
		}
		inserted, err := w.ImportTransaction(ctx, domain.BankTransaction{
			ID:               row.get("id"),
			CompanyID:        companyID,
			BankConnectionID: connectionID,
			ExternalID:       row.get("external_id"),
			PostedDate:       posted,
			Amount:           amount,
			Description:      row.get("description"),
			CounterpartyName: row.get("counterparty_name"),
		})
		if err != nil {
			return err
		}
		if inserted {
			rep.Inserted++
		} else {
			rep.Skipped++
		}
		return nil
	})
	if err != nil {
		return rep, err
	}
	log.Printf("[ingest] feed %s/%s: %d rows, %d inserted, %d skipped, %d rejected",
		companyID, connectionID, rep.Rows, rep.Inserted, rep.Skipped, len(rep.Errors))
	return rep, nil
}

// Payments imports a rent roll. Existing payments get their terms refreshed.
func Payments(ctx context.Context, r io.Reader, w PaymentWriter) (*Report, error) {
	rep := &Report{}
	err := each(r, paymentColumns, rep, func(row record) error {
		due, err := row.date("due_date")
		if err != nil {
			return err
		}
		amount, err := domain.ParseMoney(row.get("amount_due"))
		if err != nil {
			return err
		}
		if _, err := w.UpsertPayment(ctx, domain.Payment{
			ID:          row.get("id"),
			ContractID:  row.get("contract_id"),
			AmountDue:   amount,
			DueDate:     due,
			PeriodLabel: row.get("period_label"),
		}); err != nil {
			return err
		}
		rep.Inserted++
		return nil
	})
	if err != nil {
		return rep, err
	}
	log.Printf("[ingest] payments: %d rows, %d upserted, %d rejected", rep.Rows, rep.Inserted, len(rep.Errors))
	return rep, nil
}

// ─── CSV plumbing ───────────────────────────────────────────────────────────

type record struct {
	index  map[string]int
	fields []string
}

func (r record) get(name string) string {
	i, ok := r.index[name]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

func (r record) date(name string) (time.Time, error) {
	d, err := time.Parse(DateLayout, r.get(name))
	if err != nil {
		return time.Time{}, fmt.Errorf("%s %q: want YYYY-MM-DD", name, r.get(name))
	}
	return d, nil
}

// each reads the header, then calls fn per data row. Errors from fn are
// recorded against the row unless they are setup errors, which abort.
func each(r io.Reader, required []string, rep *Report, fn func(record) error) error {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return fmt.Errorf("empty file: %w", domain.ErrInvalidOptions)
	}
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	index, err := headerIndex(header, required)
	if err != nil {
		return err
	}

	for {
		fields, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) && errors.Is(perr.Err, csv.ErrFieldCount) {
				rep.Rows++
				rep.Errors = append(rep.Errors, RowError{Line: perr.Line, Err: "wrong number of fields"})
				continue
			}
			return fmt.Errorf("read csv: %w", err)
		}
		line, _ := cr.FieldPos(0)
		rep.Rows++

		if err := fn(record{index: index, fields: fields}); err != nil {
			if domain.IsSetupError(err) {
				return err
			}
			rep.Errors = append(rep.Errors, RowError{Line: line, Err: err.Error()})
		}
	}
}

func headerIndex(header []string, required []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, c := range required {
		if _, ok := index[c]; !ok {
			return nil, fmt.Errorf("missing column %q: %w", c, domain.ErrInvalidOptions)
		}
	}
	return index, nil
}
