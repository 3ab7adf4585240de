package sqlite

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema statements, applied in order on Open.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS companies (
			id   TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS bank_connections (
			id         TEXT PRIMARY KEY,
			company_id TEXT NOT NULL REFERENCES companies(id),
			label      TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_connections_company ON bank_connections(company_id)`,

		// Payments reach their company through the contract.
		`CREATE TABLE IF NOT EXISTS contracts (
			id          TEXT PRIMARY KEY,
			company_id  TEXT NOT NULL REFERENCES companies(id),
			tenant_name TEXT NOT NULL DEFAULT '',
			unit_label  TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contracts_company ON contracts(company_id)`,

		`CREATE TABLE IF NOT EXISTS payments (
			id                        TEXT PRIMARY KEY,
			contract_id               TEXT NOT NULL REFERENCES contracts(id),
			amount_due                TEXT NOT NULL,
			due_date                  TEXT NOT NULL,
			period_label              TEXT NOT NULL DEFAULT '',
			status                    TEXT NOT NULL DEFAULT 'PENDING',
			settled_by_transaction_id TEXT,
			paid_at                   TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_contract_status ON payments(contract_id, status)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_settled_by
			ON payments(settled_by_transaction_id) WHERE settled_by_transaction_id IS NOT NULL`,

		`CREATE TABLE IF NOT EXISTS bank_transactions (
			id                 TEXT PRIMARY KEY,
			company_id         TEXT NOT NULL REFERENCES companies(id),
			bank_connection_id TEXT NOT NULL REFERENCES bank_connections(id),
			external_id        TEXT NOT NULL,
			posted_date        TEXT NOT NULL,
			amount             TEXT NOT NULL,
			description        TEXT NOT NULL DEFAULT '',
			counterparty_name  TEXT NOT NULL DEFAULT '',
			status             TEXT NOT NULL DEFAULT 'UNMATCHED',
			matched_payment_id TEXT REFERENCES payments(id),
			match_confidence   INTEGER,
			matched_by         TEXT,
			matched_by_user    TEXT,
			matched_at         TEXT,
			discard_reason     TEXT,
			discarded_by       TEXT,
			discarded_at       TEXT,
			created_at         TEXT NOT NULL DEFAULT (datetime('now')),
			UNIQUE(bank_connection_id, external_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_scope ON bank_transactions(company_id, status, posted_date)`,
		// At most one live match per payment, re-checked by the database itself.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_matched_payment
			ON bank_transactions(matched_payment_id) WHERE status = 'MATCHED'`,

		`CREATE TABLE IF NOT EXISTS audit_entries (
			id             TEXT PRIMARY KEY,
			action         TEXT NOT NULL,
			transaction_id TEXT NOT NULL,
			payment_id     TEXT,
			user_id        TEXT NOT NULL,
			reason         TEXT,
			at             TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_transaction ON audit_entries(transaction_id, at)`,

		`CREATE TABLE IF NOT EXISTS reconciliation_runs (
			id                     TEXT PRIMARY KEY,
			company_id             TEXT NOT NULL,
			bank_connection_id     TEXT,
			window_from            TEXT NOT NULL,
			window_to              TEXT NOT NULL,
			auto_approve_threshold INTEGER NOT NULL,
			transactions_scanned   INTEGER NOT NULL DEFAULT 0,
			payments_reconciled    INTEGER NOT NULL DEFAULT 0,
			manual_review_required INTEGER NOT NULL DEFAULT 0,
			discarded_skipped      INTEGER NOT NULL DEFAULT 0,
			failures               INTEGER NOT NULL DEFAULT 0,
			started_at             TEXT NOT NULL,
			finished_at            TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_company ON reconciliation_runs(company_id, started_at)`,
	}
}
