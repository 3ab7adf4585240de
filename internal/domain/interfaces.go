package domain

import (
	"context"
	"time"
)

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// CandidateStore is the read side the engine scans.
type CandidateStore interface {
	// ValidateScope returns ErrScope when the company is unknown or the
	// connection (if non-empty) does not belong to it.
	ValidateScope(ctx context.Context, companyID, bankConnectionID string) error

	ListTransactions(ctx context.Context, q TransactionQuery) ([]BankTransaction, error)
	CountTransactions(ctx context.Context, q TransactionQuery) (int, error)

	// ListOutstandingPayments returns PENDING and OVERDUE payments of the
	// company, regardless of due date.
	ListOutstandingPayments(ctx context.Context, companyID string) ([]Payment, error)

	GetTransaction(ctx context.Context, id string) (*BankTransaction, error)
	GetPayment(ctx context.Context, id string) (*Payment, error)

	Counts(ctx context.Context, companyID string) (Counts, error)

	// Snapshot reads every UNMATCHED transaction, the outstanding payments
	// and the counts of a company inside one read transaction.
	Snapshot(ctx context.Context, companyID string) (*Snapshot, error)
}

// MatchWriter commits outcomes. Every method re-checks state inside one
// database transaction and returns ErrConflict when the guard fails.
type MatchWriter interface {
	CommitAutoMatch(ctx context.Context, transactionID, paymentID string, score int, at time.Time) error
	CommitManualMatch(ctx context.Context, transactionID, paymentID, userID string, at time.Time) error
	ReverseManualMatch(ctx context.Context, transactionID, userID string, at time.Time) error
	Discard(ctx context.Context, transactionID, reason, userID string, at time.Time) error
}

// RunJournal persists live run summaries.
type RunJournal interface {
	RecordRun(ctx context.Context, rec RunRecord) error
	ListRuns(ctx context.Context, companyID string, limit int) ([]RunRecord, error)
}

// AuditLog reads the manual-action trail.
type AuditLog interface {
	ListAudit(ctx context.Context, transactionID string) ([]AuditEntry, error)
}

// Store is everything the reconciliation engine needs from persistence.
type Store interface {
	CandidateStore
	MatchWriter
	RunJournal
	AuditLog
	ListCompanies(ctx context.Context) ([]Company, error)
}
