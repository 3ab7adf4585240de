package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/propledger/propledger/internal/domain"
)

// ─── Guarded Match Writes ───────────────────────────────────────────────────
// Every write re-checks the current state inside the same transaction.
// A guard that no longer holds rolls back and returns domain.ErrConflict.

// CommitAutoMatch links a transaction to a payment on behalf of the engine.
func (db *DB) CommitAutoMatch(ctx context.Context, transactionID, paymentID string, score int, at time.Time) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE bank_transactions SET
				status = 'MATCHED', matched_payment_id = ?, match_confidence = ?,
				matched_by = 'AUTO', matched_by_user = NULL, matched_at = ?
			WHERE id = ? AND status = 'UNMATCHED'
		`, paymentID, score, formatTime(at), transactionID)
		if err := guard(res, err, "auto match transaction "+transactionID); err != nil {
			return err
		}
		return settlePayment(ctx, tx, paymentID, transactionID, at)
	})
}

// CommitManualMatch links a transaction to a payment on behalf of userID.
// Manual matches carry no confidence score.
func (db *DB) CommitManualMatch(ctx context.Context, transactionID, paymentID, userID string, at time.Time) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		txCompany, txStatus, err := lockTransaction(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		var payCompany, payStatus string
		err = tx.QueryRowContext(ctx, `
			SELECT c.company_id, p.status FROM payments p JOIN contracts c ON c.id = p.contract_id
			WHERE p.id = ?
		`, paymentID).Scan(&payCompany, &payStatus)
		if err == sql.ErrNoRows {
			return fmt.Errorf("payment %s: %w", paymentID, domain.ErrNotFound)
		}
		if err != nil {
			return persistenceErr("load payment", err)
		}
		if payCompany != txCompany {
			return fmt.Errorf("payment %s is not in company %s: %w", paymentID, txCompany, domain.ErrScope)
		}
		if domain.TxStatus(txStatus) != domain.TxUnmatched {
			return fmt.Errorf("transaction %s is %s: %w", transactionID, txStatus, domain.ErrConflict)
		}
		if !domain.PaymentStatus(payStatus).Outstanding() {
			return fmt.Errorf("payment %s is %s: %w", paymentID, payStatus, domain.ErrConflict)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE bank_transactions SET
				status = 'MATCHED', matched_payment_id = ?, match_confidence = NULL,
				matched_by = 'MANUAL', matched_by_user = ?, matched_at = ?
			WHERE id = ? AND status = 'UNMATCHED'
		`, paymentID, userID, formatTime(at), transactionID)
		if err := guard(res, err, "manual match transaction "+transactionID); err != nil {
			return err
		}
		if err := settlePayment(ctx, tx, paymentID, transactionID, at); err != nil {
			return err
		}
		return insertAudit(ctx, tx, domain.AuditEntry{
			Action: domain.AuditManualMatch, TransactionID: transactionID,
			PaymentID: paymentID, UserID: userID, At: at,
		})
	})
}

// ReverseManualMatch returns a manually matched transaction to UNMATCHED and
// reopens its payment. Auto matches are rejected with domain.ErrConflict.
func (db *DB) ReverseManualMatch(ctx context.Context, transactionID, userID string, at time.Time) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var status, by, paymentID sql.NullString
		err := tx.QueryRowContext(ctx, `
			SELECT status, matched_by, matched_payment_id FROM bank_transactions WHERE id = ?
		`, transactionID).Scan(&status, &by, &paymentID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("transaction %s: %w", transactionID, domain.ErrNotFound)
		}
		if err != nil {
			return persistenceErr("load transaction", err)
		}
		if domain.TxStatus(status.String) != domain.TxMatched || domain.MatchSource(by.String) != domain.MatchedByManual {
			return fmt.Errorf("transaction %s is not manually matched: %w", transactionID, domain.ErrConflict)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE bank_transactions SET
				status = 'UNMATCHED', matched_payment_id = NULL, match_confidence = NULL,
				matched_by = NULL, matched_by_user = NULL, matched_at = NULL
			WHERE id = ? AND status = 'MATCHED' AND matched_by = 'MANUAL'
		`, transactionID)
		if err := guard(res, err, "reverse transaction "+transactionID); err != nil {
			return err
		}

		// A reopened payment is overdue when its due date has already passed.
		res, err = tx.ExecContext(ctx, `
			UPDATE payments SET
				status = CASE WHEN due_date < ? THEN 'OVERDUE' ELSE 'PENDING' END,
				settled_by_transaction_id = NULL, paid_at = NULL
			WHERE id = ? AND status = 'PAID' AND settled_by_transaction_id = ?
		`, formatDate(at), paymentID.String, transactionID)
		if err := guard(res, err, "reopen payment "+paymentID.String); err != nil {
			return err
		}
		return insertAudit(ctx, tx, domain.AuditEntry{
			Action: domain.AuditReverse, TransactionID: transactionID,
			PaymentID: paymentID.String, UserID: userID, At: at,
		})
	})
}

// Discard marks an unmatched transaction as permanently non-matchable.
func (db *DB) Discard(ctx context.Context, transactionID, reason, userID string, at time.Time) error {
	if reason == "" {
		return fmt.Errorf("discard reason required: %w", domain.ErrInvalidOptions)
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, status, err := lockTransaction(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if domain.TxStatus(status) != domain.TxUnmatched {
			return fmt.Errorf("transaction %s is %s: %w", transactionID, status, domain.ErrConflict)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE bank_transactions SET
				status = 'DISCARDED', discard_reason = ?, discarded_by = ?, discarded_at = ?
			WHERE id = ? AND status = 'UNMATCHED'
		`, reason, userID, formatTime(at), transactionID)
		if err := guard(res, err, "discard transaction "+transactionID); err != nil {
			return err
		}
		return insertAudit(ctx, tx, domain.AuditEntry{
			Action: domain.AuditDiscard, TransactionID: transactionID,
			UserID: userID, Reason: reason, At: at,
		})
	})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func lockTransaction(ctx context.Context, tx *sql.Tx, id string) (companyID, status string, err error) {
	err = tx.QueryRowContext(ctx, `SELECT company_id, status FROM bank_transactions WHERE id = ?`, id).
		Scan(&companyID, &status)
	if err == sql.ErrNoRows {
		return "", "", fmt.Errorf("transaction %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return "", "", persistenceErr("load transaction", err)
	}
	return companyID, status, nil
}

func settlePayment(ctx context.Context, tx *sql.Tx, paymentID, transactionID string, at time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE payments SET status = 'PAID', settled_by_transaction_id = ?, paid_at = ?
		WHERE id = ? AND status IN ('PENDING', 'OVERDUE')
	`, transactionID, formatTime(at), paymentID)
	return guard(res, err, "settle payment "+paymentID)
}

// guard turns a zero-row conditional update into domain.ErrConflict.
func guard(res sql.Result, err error, op string) error {
	if err != nil {
		return persistenceErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistenceErr(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrConflict)
	}
	return nil
}

func insertAudit(ctx context.Context, tx *sql.Tx, e domain.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_entries (id, action, transaction_id, payment_id, user_id, reason, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, string(e.Action), e.TransactionID, nullString(e.PaymentID), e.UserID,
		nullString(e.Reason), formatTime(e.At))
	if err != nil {
		return persistenceErr("insert audit", err)
	}
	return nil
}
