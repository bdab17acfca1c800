package org

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-fin/meridian/internal/platform/db"
)

// Repository persists organizations and companies.
type Repository interface {
	InsertOrganization(ctx context.Context, o Organization) error
	GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error)
	UpdateOrganization(ctx context.Context, o Organization) error
	DeleteOrganization(ctx context.Context, id uuid.UUID) error
	CountCompanies(ctx context.Context, orgID uuid.UUID) (int, error)

	InsertCompany(ctx context.Context, c Company) error
	GetCompany(ctx context.Context, orgID, id uuid.UUID) (*Company, error)
	ListCompanies(ctx context.Context, orgID uuid.UUID) ([]Company, error)
	UpdateCompany(ctx context.Context, c Company) error
	CountUnpostedEntries(ctx context.Context, companyID uuid.UUID) (int, error)
	IsRetainedEarningsAccount(ctx context.Context, companyID, accountID uuid.UUID) (bool, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the PostgreSQL-backed tenant store.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) InsertOrganization(ctx context.Context, o Organization) error {
	const q = `
		INSERT INTO organizations (id, name, reporting_currency, locale, decimal_places, sod_enabled, ic_tolerance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.pool.Exec(ctx, q, o.ID, o.Name, o.ReportingCurrency, o.Locale, o.DecimalPlaces,
		o.SoDEnabled, o.ICTolerance.String(), o.CreatedAt, o.UpdatedAt)
	if _, ok := db.UniqueViolation(err); ok {
		return ErrOrgNameExists
	}
	if err != nil {
		return fmt.Errorf("org: insert organization: %w", err)
	}
	return nil
}

func (r *pgRepository) GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error) {
	const q = `
		SELECT id, name, reporting_currency, locale, decimal_places, sod_enabled, ic_tolerance::text, created_at, updated_at
		FROM organizations WHERE id = $1`
	var (
		o         Organization
		tolerance string
	)
	err := r.pool.QueryRow(ctx, q, id).Scan(&o.ID, &o.Name, &o.ReportingCurrency, &o.Locale, &o.DecimalPlaces,
		&o.SoDEnabled, &tolerance, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrgNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("org: get organization: %w", err)
	}
	o.ICTolerance, err = decimal.NewFromString(tolerance)
	if err != nil {
		return nil, fmt.Errorf("org: parse ic tolerance: %w", err)
	}
	return &o, nil
}

func (r *pgRepository) UpdateOrganization(ctx context.Context, o Organization) error {
	const q = `
		UPDATE organizations
		SET name = $2, locale = $3, decimal_places = $4, sod_enabled = $5, ic_tolerance = $6, updated_at = $7
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, o.ID, o.Name, o.Locale, o.DecimalPlaces, o.SoDEnabled, o.ICTolerance.String(), o.UpdatedAt)
	if _, ok := db.UniqueViolation(err); ok {
		return ErrOrgNameExists
	}
	if err != nil {
		return fmt.Errorf("org: update organization: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrgNotFound
	}
	return nil
}

func (r *pgRepository) DeleteOrganization(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("org: delete organization: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrgNotFound
	}
	return nil
}

func (r *pgRepository) CountCompanies(ctx context.Context, orgID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM companies WHERE org_id = $1`, orgID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("org: count companies: %w", err)
	}
	return n, nil
}

const companyColumns = `id, org_id, name, jurisdiction, functional_currency, reporting_currency,
	fiscal_year_end_month, fiscal_year_end_day, retained_earnings_account_id, status, created_at, updated_at`

func scanCompany(row pgx.Row) (*Company, error) {
	var c Company
	err := row.Scan(&c.ID, &c.OrgID, &c.Name, &c.Jurisdiction, &c.FunctionalCurrency, &c.ReportingCurrency,
		&c.FiscalYearEndMonth, &c.FiscalYearEndDay, &c.RetainedEarningsAccountID, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *pgRepository) InsertCompany(ctx context.Context, c Company) error {
	const q = `
		INSERT INTO companies (id, org_id, name, jurisdiction, functional_currency, reporting_currency,
			fiscal_year_end_month, fiscal_year_end_day, retained_earnings_account_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.pool.Exec(ctx, q, c.ID, c.OrgID, c.Name, c.Jurisdiction, c.FunctionalCurrency, c.ReportingCurrency,
		c.FiscalYearEndMonth, c.FiscalYearEndDay, c.RetainedEarningsAccountID, c.Status, c.CreatedAt, c.UpdatedAt)
	if _, ok := db.UniqueViolation(err); ok {
		return ErrCompanyNameExists
	}
	if err != nil {
		return fmt.Errorf("org: insert company: %w", err)
	}
	return nil
}

func (r *pgRepository) GetCompany(ctx context.Context, orgID, id uuid.UUID) (*Company, error) {
	q := `SELECT ` + companyColumns + ` FROM companies WHERE org_id = $1 AND id = $2`
	c, err := scanCompany(r.pool.QueryRow(ctx, q, orgID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCompanyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("org: get company: %w", err)
	}
	return c, nil
}

func (r *pgRepository) ListCompanies(ctx context.Context, orgID uuid.UUID) ([]Company, error) {
	q := `SELECT ` + companyColumns + ` FROM companies WHERE org_id = $1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, q, orgID)
	if err != nil {
		return nil, fmt.Errorf("org: list companies: %w", err)
	}
	defer rows.Close()

	var out []Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("org: scan company: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("org: iterate companies: %w", err)
	}
	return out, nil
}

func (r *pgRepository) UpdateCompany(ctx context.Context, c Company) error {
	const q = `
		UPDATE companies
		SET name = $3, jurisdiction = $4, reporting_currency = $5, retained_earnings_account_id = $6,
			status = $7, updated_at = $8
		WHERE org_id = $1 AND id = $2`
	tag, err := r.pool.Exec(ctx, q, c.OrgID, c.ID, c.Name, c.Jurisdiction, c.ReportingCurrency,
		c.RetainedEarningsAccountID, c.Status, c.UpdatedAt)
	if _, ok := db.UniqueViolation(err); ok {
		return ErrCompanyNameExists
	}
	if err != nil {
		return fmt.Errorf("org: update company: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCompanyNotFound
	}
	return nil
}

func (r *pgRepository) CountUnpostedEntries(ctx context.Context, companyID uuid.UUID) (int, error) {
	const q = `
		SELECT count(*) FROM journal_entries
		WHERE company_id = $1 AND status IN ('Draft', 'PendingApproval', 'Approved')`
	var n int
	if err := r.pool.QueryRow(ctx, q, companyID).Scan(&n); err != nil {
		return 0, fmt.Errorf("org: count unposted entries: %w", err)
	}
	return n, nil
}

func (r *pgRepository) IsRetainedEarningsAccount(ctx context.Context, companyID, accountID uuid.UUID) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1 FROM accounts
			WHERE id = $1 AND company_id = $2 AND type = 'Equity' AND is_retained_earnings AND is_active
		)`
	var ok bool
	if err := r.pool.QueryRow(ctx, q, accountID, companyID).Scan(&ok); err != nil {
		return false, fmt.Errorf("org: check retained earnings account: %w", err)
	}
	return ok, nil
}
