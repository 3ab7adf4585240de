package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/propledger/propledger/internal/domain"
)

// ─── Run Journal ────────────────────────────────────────────────────────────

// RecordRun implements domain.RunJournal.
func (db *DB) RecordRun(ctx context.Context, r domain.RunRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO reconciliation_runs (
			id, company_id, bank_connection_id, window_from, window_to, auto_approve_threshold,
			transactions_scanned, payments_reconciled, manual_review_required, discarded_skipped,
			failures, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.CompanyID, nullString(r.BankConnectionID), formatDate(r.WindowFrom), formatDate(r.WindowTo),
		r.AutoApproveThreshold, r.TransactionsScanned, r.PaymentsReconciled, r.ManualReviewRequired,
		r.DiscardedSkipped, r.Failures, formatTime(r.StartedAt), formatTime(r.FinishedAt))
	if err != nil {
		return persistenceErr("record run", err)
	}
	return nil
}

// ListRuns implements domain.RunJournal, newest first.
func (db *DB) ListRuns(ctx context.Context, companyID string, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, company_id, COALESCE(bank_connection_id, ''), window_from, window_to,
			auto_approve_threshold, transactions_scanned, payments_reconciled,
			manual_review_required, discarded_skipped, failures, started_at, finished_at
		FROM reconciliation_runs WHERE company_id = ?
		ORDER BY started_at DESC, id DESC LIMIT ?
	`, companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []domain.RunRecord
	for rows.Next() {
		var (
			r                 domain.RunRecord
			from, to          string
			started, finished string
		)
		if err := rows.Scan(&r.ID, &r.CompanyID, &r.BankConnectionID, &from, &to,
			&r.AutoApproveThreshold, &r.TransactionsScanned, &r.PaymentsReconciled,
			&r.ManualReviewRequired, &r.DiscardedSkipped, &r.Failures, &started, &finished); err != nil {
			return nil, err
		}
		r.WindowFrom, _ = parseDate(from)
		r.WindowTo, _ = parseDate(to)
		r.StartedAt, _ = time.Parse(timeLayout, started)
		r.FinishedAt, _ = time.Parse(timeLayout, finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ─── Audit Trail ────────────────────────────────────────────────────────────

// ListAudit implements domain.AuditLog, oldest first.
func (db *DB) ListAudit(ctx context.Context, transactionID string) ([]domain.AuditEntry, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, action, transaction_id, payment_id, user_id, reason, at
		FROM audit_entries WHERE transaction_id = ?
		ORDER BY at, rowid
	`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e               domain.AuditEntry
			action, at      string
			payment, reason sql.NullString
		)
		if err := rows.Scan(&e.ID, &action, &e.TransactionID, &payment, &e.UserID, &reason, &at); err != nil {
			return nil, err
		}
		e.Action = domain.AuditAction(action)
		e.PaymentID = payment.String
		e.Reason = reason.String
		e.At, _ = time.Parse(timeLayout, at)
		out = append(out, e)
	}
	return out, rows.Err()
}
