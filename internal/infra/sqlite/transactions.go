package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/propledger/propledger/internal/domain"
)

// ─── Bank Transaction Operations ────────────────────────────────────────────

const txColumns = `id, company_id, bank_connection_id, external_id, posted_date, amount,
	description, counterparty_name, status, matched_payment_id, match_confidence,
	matched_by, matched_by_user, matched_at, discard_reason, discarded_by, discarded_at`

// ImportTransaction appends one feed row. Rows are keyed by
// (bank_connection_id, external_id); a repeated key is skipped and
// reported with inserted = false.
func (db *DB) ImportTransaction(ctx context.Context, t domain.BankTransaction) (inserted bool, err error) {
	if t.ExternalID == "" {
		return false, fmt.Errorf("external id required")
	}
	if t.BankConnectionID == "" {
		return false, fmt.Errorf("bank connection required: %w", domain.ErrScope)
	}
	if err := db.ValidateScope(ctx, t.CompanyID, t.BankConnectionID); err != nil {
		return false, err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	res, err := db.db.ExecContext(ctx, `
		INSERT INTO bank_transactions
			(id, company_id, bank_connection_id, external_id, posted_date, amount, description, counterparty_name, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'UNMATCHED')
		ON CONFLICT(bank_connection_id, external_id) DO NOTHING
	`, t.ID, t.CompanyID, t.BankConnectionID, t.ExternalID, formatDate(t.PostedDate),
		t.Amount, t.Description, t.CounterpartyName)
	if err != nil {
		return false, persistenceErr("insert transaction "+t.ExternalID, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// GetTransaction implements domain.CandidateStore.
func (db *DB) GetTransaction(ctx context.Context, id string) (*domain.BankTransaction, error) {
	row := db.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM bank_transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transaction %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTransactions implements domain.CandidateStore. Rows come back ordered
// by id so callers see a stable snapshot order.
func (db *DB) ListTransactions(ctx context.Context, q domain.TransactionQuery) ([]domain.BankTransaction, error) {
	return listTransactions(ctx, db.db, q)
}

func listTransactions(ctx context.Context, qr querier, q domain.TransactionQuery) ([]domain.BankTransaction, error) {
	where, args := transactionFilter(q)
	rows, err := qr.QueryContext(ctx,
		`SELECT `+txColumns+` FROM bank_transactions WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.BankTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// CountTransactions implements domain.CandidateStore.
func (db *DB) CountTransactions(ctx context.Context, q domain.TransactionQuery) (int, error) {
	where, args := transactionFilter(q)
	var n int
	err := db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bank_transactions WHERE `+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

// Counts implements domain.CandidateStore. The reconciled total is summed
// in decimal, never through SQLite's REAL arithmetic.
func (db *DB) Counts(ctx context.Context, companyID string) (domain.Counts, error) {
	return counts(ctx, db.db, companyID)
}

func counts(ctx context.Context, qr querier, companyID string) (domain.Counts, error) {
	var c domain.Counts

	rows, err := qr.QueryContext(ctx, `
		SELECT status, COALESCE(matched_by, ''), COUNT(*)
		FROM bank_transactions WHERE company_id = ?
		GROUP BY status, matched_by
	`, companyID)
	if err != nil {
		return c, fmt.Errorf("count by status: %w", err)
	}
	for rows.Next() {
		var status, by string
		var n int
		if err := rows.Scan(&status, &by, &n); err != nil {
			rows.Close()
			return c, err
		}
		switch domain.TxStatus(status) {
		case domain.TxUnmatched:
			c.Unmatched += n
		case domain.TxDiscarded:
			c.Discarded += n
		case domain.TxMatched:
			if domain.MatchSource(by) == domain.MatchedByManual {
				c.MatchedManual += n
			} else {
				c.MatchedAuto += n
			}
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return c, err
	}

	amounts, err := qr.QueryContext(ctx, `
		SELECT amount FROM bank_transactions WHERE company_id = ? AND status = 'MATCHED'
	`, companyID)
	if err != nil {
		return c, fmt.Errorf("reconciled amounts: %w", err)
	}
	defer amounts.Close()
	for amounts.Next() {
		var m domain.Money
		if err := amounts.Scan(&m); err != nil {
			return c, err
		}
		c.TotalReconciledAmount = c.TotalReconciledAmount.Add(m)
	}
	return c, amounts.Err()
}

// Snapshot implements domain.CandidateStore.
func (db *DB) Snapshot(ctx context.Context, companyID string) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		q := domain.TransactionQuery{CompanyID: companyID, Status: domain.TxUnmatched}
		if snap.Unmatched, err = listTransactions(ctx, tx, q); err != nil {
			return err
		}
		if snap.Outstanding, err = listOutstandingPayments(ctx, tx, companyID); err != nil {
			return err
		}
		snap.Counts, err = counts(ctx, tx, companyID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func transactionFilter(q domain.TransactionQuery) (string, []any) {
	clauses := []string{"company_id = ?"}
	args := []any{q.CompanyID}
	if q.BankConnectionID != "" {
		clauses = append(clauses, "bank_connection_id = ?")
		args = append(args, q.BankConnectionID)
	}
	if q.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(q.Status))
	}
	if !q.PostedFrom.IsZero() {
		clauses = append(clauses, "posted_date >= ?")
		args = append(args, formatDate(q.PostedFrom))
	}
	if !q.PostedTo.IsZero() {
		clauses = append(clauses, "posted_date <= ?")
		args = append(args, formatDate(q.PostedTo))
	}
	return strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(r rowScanner) (*domain.BankTransaction, error) {
	var (
		t                                 domain.BankTransaction
		posted, status                    string
		matchedPayment, matchedBy, byUser sql.NullString
		matchedAt, reason, discardedBy    sql.NullString
		discardedAt                       sql.NullString
		confidence                        sql.NullInt64
	)
	err := r.Scan(&t.ID, &t.CompanyID, &t.BankConnectionID, &t.ExternalID, &posted, &t.Amount,
		&t.Description, &t.CounterpartyName, &status, &matchedPayment, &confidence,
		&matchedBy, &byUser, &matchedAt, &reason, &discardedBy, &discardedAt)
	if err != nil {
		return nil, err
	}

	t.PostedDate, err = parseDate(posted)
	if err != nil {
		return nil, fmt.Errorf("transaction %s posted_date: %w", t.ID, err)
	}
	t.Status = domain.TxStatus(status)
	t.MatchedPaymentID = matchedPayment.String
	if confidence.Valid {
		v := int(confidence.Int64)
		t.MatchConfidence = &v
	}
	t.MatchedBy = domain.MatchSource(matchedBy.String)
	t.MatchedByUser = byUser.String
	t.MatchedAt = parseNullTime(matchedAt)
	t.DiscardReason = reason.String
	t.DiscardedBy = discardedBy.String
	t.DiscardedAt = parseNullTime(discardedAt)
	return &t, nil
}
