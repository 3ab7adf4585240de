// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture: bank transactions,
// payments and the reconciliation outcomes that link them.
package domain

import (
	"time"
)

// ─── Bank Transaction Types ─────────────────────────────────────────────────

// TxStatus is the reconciliation state of a bank transaction.
type TxStatus string

const (
	TxUnmatched TxStatus = "UNMATCHED"
	TxMatched   TxStatus = "MATCHED"
	TxDiscarded TxStatus = "DISCARDED"
)

// MatchSource records who committed a match.
type MatchSource string

const (
	MatchedByAuto   MatchSource = "AUTO"
	MatchedByManual MatchSource = "MANUAL"
)

// BankTransaction is one normalized movement from a bank feed.
// The feed is append-only; only the reconciliation fields change.
type BankTransaction struct {
	ID               string    `json:"id"`
	CompanyID        string    `json:"company_id"`
	BankConnectionID string    `json:"bank_connection_id"`
	ExternalID       string    `json:"external_id"`
	PostedDate       time.Time `json:"posted_date"`
	Amount           Money     `json:"amount"` // positive = inbound
	Description      string    `json:"description,omitempty"`
	CounterpartyName string    `json:"counterparty_name,omitempty"`

	Status           TxStatus    `json:"status"`
	MatchedPaymentID string      `json:"matched_payment_id,omitempty"`
	MatchConfidence  *int        `json:"match_confidence,omitempty"`
	MatchedBy        MatchSource `json:"matched_by,omitempty"`
	MatchedByUser    string      `json:"matched_by_user,omitempty"`
	MatchedAt        *time.Time  `json:"matched_at,omitempty"`
	DiscardReason    string      `json:"discard_reason,omitempty"`
	DiscardedBy      string      `json:"discarded_by,omitempty"`
	DiscardedAt      *time.Time  `json:"discarded_at,omitempty"`
}

// IsInbound reports whether the movement credits the account.
func (t BankTransaction) IsInbound() bool {
	return t.Amount.IsPositive()
}

// ─── Payment Types ──────────────────────────────────────────────────────────

// PaymentStatus is the lifecycle state of a rent/contract payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentOverdue   PaymentStatus = "OVERDUE"
	PaymentPaid      PaymentStatus = "PAID"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

// Outstanding reports whether the payment can still be settled.
func (s PaymentStatus) Outstanding() bool {
	return s == PaymentPending || s == PaymentOverdue
}

// Payment is an obligation under a contract.
type Payment struct {
	ID                   string        `json:"id"`
	ContractID           string        `json:"contract_id"`
	CompanyID            string        `json:"company_id"`
	AmountDue            Money         `json:"amount_due"`
	DueDate              time.Time     `json:"due_date"`
	PeriodLabel          string        `json:"period_label,omitempty"`
	PayerName            string        `json:"payer_name,omitempty"`
	Status               PaymentStatus `json:"status"`
	SettledByTransaction string        `json:"settled_by_transaction_id,omitempty"`
}

// ─── Scope Types ────────────────────────────────────────────────────────────

// Company is the tenant boundary of every reconciliation scope.
type Company struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// BankConnection is a company's link to one bank account feed.
type BankConnection struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	Label     string `json:"label,omitempty"`
}

// Contract carries the tenant a payment is expected from.
type Contract struct {
	ID         string `json:"id"`
	CompanyID  string `json:"company_id"`
	TenantName string `json:"tenant_name"`
	UnitLabel  string `json:"unit_label,omitempty"`
}

// ─── Audit Types ────────────────────────────────────────────────────────────

// AuditAction names a human action against a transaction.
type AuditAction string

const (
	AuditManualMatch AuditAction = "MANUAL_MATCH"
	AuditReverse     AuditAction = "REVERSE_MANUAL_MATCH"
	AuditDiscard     AuditAction = "DISCARD"
)

// AuditEntry is one append-only audit row.
type AuditEntry struct {
	ID            string      `json:"id"`
	Action        AuditAction `json:"action"`
	TransactionID string      `json:"transaction_id"`
	PaymentID     string      `json:"payment_id,omitempty"`
	UserID        string      `json:"user_id"`
	Reason        string      `json:"reason,omitempty"`
	At            time.Time   `json:"at"`
}

// ─── Query Types ────────────────────────────────────────────────────────────

// TransactionQuery filters transactions inside one company.
// Zero-valued fields do not filter.
type TransactionQuery struct {
	CompanyID        string
	BankConnectionID string
	Status           TxStatus
	PostedFrom       time.Time
	PostedTo         time.Time
}

// Counts is the point-in-time rollup of transaction states for a company.
type Counts struct {
	Unmatched             int   `json:"unmatched"`
	MatchedAuto           int   `json:"matched_auto"`
	MatchedManual         int   `json:"matched_manual"`
	Discarded             int   `json:"discarded"`
	TotalReconciledAmount Money `json:"total_reconciled_amount"`
}

// Snapshot is a company's open work and status rollup, read at one instant.
type Snapshot struct {
	Unmatched   []BankTransaction
	Outstanding []Payment
	Counts      Counts
}

// ─── Run Journal ────────────────────────────────────────────────────────────

// RunRecord is the persisted summary of one live reconciliation run.
type RunRecord struct {
	ID                   string    `json:"id"`
	CompanyID            string    `json:"company_id"`
	BankConnectionID     string    `json:"bank_connection_id,omitempty"`
	WindowFrom           time.Time `json:"window_from"`
	WindowTo             time.Time `json:"window_to"`
	AutoApproveThreshold int       `json:"auto_approve_threshold"`
	TransactionsScanned  int       `json:"transactions_scanned"`
	PaymentsReconciled   int       `json:"payments_reconciled"`
	ManualReviewRequired int       `json:"manual_review_required"`
	DiscardedSkipped     int       `json:"discarded_skipped"`
	Failures             int       `json:"failures"`
	StartedAt            time.Time `json:"started_at"`
	FinishedAt           time.Time `json:"finished_at"`
}

// ─── Date Helpers ───────────────────────────────────────────────────────────

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the signed whole-day distance b - a.
func DaysBetween(a, b time.Time) int {
	return int(DateOnly(b).Sub(DateOnly(a)).Hours() / 24)
}
