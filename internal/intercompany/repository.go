package intercompany

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-fin/meridian/internal/ledger"
	"github.com/meridian-fin/meridian/internal/org"
	"github.com/meridian-fin/meridian/internal/shared"
)

// Filter narrows transaction listings.
type Filter struct {
	Status    MatchingStatus
	CompanyID *uuid.UUID
	From      *shared.Date
	To        *shared.Date
	Page      shared.Page
}

// Repository persists intercompany transactions.
type Repository interface {
	Insert(ctx context.Context, t Transaction) error
	Get(ctx context.Context, orgID, id uuid.UUID) (*Transaction, error)
	List(ctx context.Context, orgID uuid.UUID, f Filter) ([]Transaction, error)
	Update(ctx context.Context, t Transaction) error
	Delete(ctx context.Context, orgID, id uuid.UUID) error

	EntryTotal(ctx context.Context, companyID, entryID uuid.UUID) (decimal.Decimal, error)
	Tolerance(ctx context.Context, orgID uuid.UUID) (decimal.Decimal, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the PostgreSQL-backed intercompany store.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

const txColumns = `id, org_id, from_company_id, to_company_id, type, date, amount::text, currency,
	from_entry_id, to_entry_id, status, variance::text, explanation, created_by, created_at, updated_at`

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var (
		t                Transaction
		amount, variance string
	)
	err := row.Scan(&t.ID, &t.OrgID, &t.FromCompanyID, &t.ToCompanyID, &t.Type, &t.Date, &amount, &t.Currency,
		&t.FromEntryID, &t.ToEntryID, &t.Status, &variance, &t.Explanation, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("intercompany: parse amount: %w", err)
	}
	if t.Variance, err = decimal.NewFromString(variance); err != nil {
		return nil, fmt.Errorf("intercompany: parse variance: %w", err)
	}
	return &t, nil
}

func (r *pgRepository) Insert(ctx context.Context, t Transaction) error {
	const q = `
		INSERT INTO intercompany_transactions (id, org_id, from_company_id, to_company_id, type, date,
			amount, currency, from_entry_id, to_entry_id, status, variance, explanation, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err := r.pool.Exec(ctx, q, t.ID, t.OrgID, t.FromCompanyID, t.ToCompanyID, t.Type, t.Date,
		t.Amount.String(), t.Currency, t.FromEntryID, t.ToEntryID, t.Status, t.Variance.String(),
		t.Explanation, t.CreatedBy, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("intercompany: insert: %w", err)
	}
	return nil
}

func (r *pgRepository) Get(ctx context.Context, orgID, id uuid.UUID) (*Transaction, error) {
	q := `SELECT ` + txColumns + ` FROM intercompany_transactions WHERE org_id = $1 AND id = $2`
	t, err := scanTransaction(r.pool.QueryRow(ctx, q, orgID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("intercompany: get: %w", err)
	}
	return t, nil
}

func (r *pgRepository) List(ctx context.Context, orgID uuid.UUID, f Filter) ([]Transaction, error) {
	q := `SELECT ` + txColumns + ` FROM intercompany_transactions WHERE org_id = $1`
	args := []any{orgID}
	if f.Status != "" {
		args = append(args, f.Status)
		q += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if f.CompanyID != nil {
		args = append(args, *f.CompanyID)
		q += fmt.Sprintf(` AND (from_company_id = $%d OR to_company_id = $%d)`, len(args), len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		q += fmt.Sprintf(` AND date >= $%d`, len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		q += fmt.Sprintf(` AND date <= $%d`, len(args))
	}
	args = append(args, f.Page.Limit, f.Page.Offset)
	q += fmt.Sprintf(` ORDER BY date DESC, created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("intercompany: list: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("intercompany: scan: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *pgRepository) Update(ctx context.Context, t Transaction) error {
	const q = `
		UPDATE intercompany_transactions
		SET from_entry_id = $3, to_entry_id = $4, status = $5, variance = $6, explanation = $7, updated_at = $8
		WHERE org_id = $1 AND id = $2`
	tag, err := r.pool.Exec(ctx, q, t.OrgID, t.ID, t.FromEntryID, t.ToEntryID, t.Status,
		t.Variance.String(), t.Explanation, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("intercompany: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgRepository) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM intercompany_transactions WHERE org_id = $1 AND id = $2`, orgID, id)
	if err != nil {
		return fmt.Errorf("intercompany: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EntryTotal sums a Posted entry's functional debits, which for a balanced
// entry equals its functional credits.
func (r *pgRepository) EntryTotal(ctx context.Context, companyID, entryID uuid.UUID) (decimal.Decimal, error) {
	const q = `
		SELECT COALESCE(sum(l.functional_debit), 0)::text
		FROM journal_entries e
		JOIN journal_entry_lines l ON l.entry_id = e.id
		WHERE e.company_id = $1 AND e.id = $2 AND e.status = 'Posted'
		GROUP BY e.id`
	var total string
	err := r.pool.QueryRow(ctx, q, companyID, entryID).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ledger.ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("intercompany: entry total: %w", err)
	}
	d, err := decimal.NewFromString(total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("intercompany: parse entry total: %w", err)
	}
	return d, nil
}

func (r *pgRepository) Tolerance(ctx context.Context, orgID uuid.UUID) (decimal.Decimal, error) {
	var tolerance string
	err := r.pool.QueryRow(ctx, `SELECT ic_tolerance::text FROM organizations WHERE id = $1`, orgID).Scan(&tolerance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, org.ErrOrgNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("intercompany: tolerance: %w", err)
	}
	return decimal.NewFromString(tolerance)
}
