package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/propledger/propledger/internal/domain"
)

// ─── Payment Operations ─────────────────────────────────────────────────────

const paymentSelect = `
	SELECT p.id, p.contract_id, c.company_id, p.amount_due, p.due_date, p.period_label,
		c.tenant_name, p.status, COALESCE(p.settled_by_transaction_id, '')
	FROM payments p JOIN contracts c ON c.id = p.contract_id`

// UpsertPayment inserts a payment or refreshes its terms. Status is only
// written on insert; reconciliation owns it afterwards.
func (db *DB) UpsertPayment(ctx context.Context, p domain.Payment) (string, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = domain.PaymentPending
	}
	if !p.AmountDue.IsPositive() {
		return "", fmt.Errorf("payment %s: amount due must be positive", p.ID)
	}
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO payments (id, contract_id, amount_due, due_date, period_label, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount_due   = excluded.amount_due,
			due_date     = excluded.due_date,
			period_label = excluded.period_label
	`, p.ID, p.ContractID, p.AmountDue, formatDate(p.DueDate), p.PeriodLabel, string(p.Status))
	if err != nil {
		return "", fmt.Errorf("upsert payment %s: %w", p.ID, err)
	}
	return p.ID, nil
}

// GetPayment implements domain.CandidateStore.
func (db *DB) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	p, err := scanPayment(db.db.QueryRowContext(ctx, paymentSelect+` WHERE p.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payment %s: %w", id, domain.ErrNotFound)
	}
	return p, err
}

// ListOutstandingPayments implements domain.CandidateStore.
func (db *DB) ListOutstandingPayments(ctx context.Context, companyID string) ([]domain.Payment, error) {
	return listOutstandingPayments(ctx, db.db, companyID)
}

func listOutstandingPayments(ctx context.Context, qr querier, companyID string) ([]domain.Payment, error) {
	rows, err := qr.QueryContext(ctx, paymentSelect+`
		WHERE c.company_id = ? AND p.status IN ('PENDING', 'OVERDUE')
		ORDER BY p.id
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list outstanding payments: %w", err)
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPayment(r rowScanner) (*domain.Payment, error) {
	var (
		p           domain.Payment
		due, status string
	)
	if err := r.Scan(&p.ID, &p.ContractID, &p.CompanyID, &p.AmountDue, &due, &p.PeriodLabel,
		&p.PayerName, &status, &p.SettledByTransaction); err != nil {
		return nil, err
	}
	var err error
	p.DueDate, err = parseDate(due)
	if err != nil {
		return nil, fmt.Errorf("payment %s due_date: %w", p.ID, err)
	}
	p.Status = domain.PaymentStatus(status)
	return &p, nil
}
