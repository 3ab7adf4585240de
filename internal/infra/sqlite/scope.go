package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/propledger/propledger/internal/domain"
)

// ─── Scope Operations ───────────────────────────────────────────────────────
// Companies, bank connections and contracts are owned by the CRUD side of
// the platform; these writers exist for imports and fixtures.

// UpsertCompany inserts or renames a company.
func (db *DB) UpsertCompany(ctx context.Context, c domain.Company) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO companies (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, c.ID, c.Name)
	return err
}

// UpsertBankConnection inserts or relabels a bank connection.
func (db *DB) UpsertBankConnection(ctx context.Context, c domain.BankConnection) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO bank_connections (id, company_id, label) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET label = excluded.label
	`, c.ID, c.CompanyID, c.Label)
	return err
}

// UpsertContract inserts or updates a contract's tenant data.
func (db *DB) UpsertContract(ctx context.Context, c domain.Contract) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO contracts (id, company_id, tenant_name, unit_label) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_name = excluded.tenant_name,
			unit_label  = excluded.unit_label
	`, c.ID, c.CompanyID, c.TenantName, c.UnitLabel)
	return err
}

// ListCompanies returns all companies ordered by id.
func (db *DB) ListCompanies(ctx context.Context) ([]domain.Company, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT id, name FROM companies ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Company
	for rows.Next() {
		var c domain.Company
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ValidateScope implements domain.CandidateStore.
func (db *DB) ValidateScope(ctx context.Context, companyID, bankConnectionID string) error {
	if companyID == "" {
		return fmt.Errorf("company id required: %w", domain.ErrScope)
	}

	var one int
	err := db.db.QueryRowContext(ctx, `SELECT 1 FROM companies WHERE id = ?`, companyID).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("company %s: %w", companyID, domain.ErrScope)
	}
	if err != nil {
		return fmt.Errorf("validate company: %w", err)
	}

	if bankConnectionID == "" {
		return nil
	}
	var owner string
	err = db.db.QueryRowContext(ctx, `SELECT company_id FROM bank_connections WHERE id = ?`, bankConnectionID).Scan(&owner)
	if err == sql.ErrNoRows || (err == nil && owner != companyID) {
		return fmt.Errorf("bank connection %s not in company %s: %w", bankConnectionID, companyID, domain.ErrScope)
	}
	if err != nil {
		return fmt.Errorf("validate bank connection: %w", err)
	}
	return nil
}
