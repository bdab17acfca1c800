package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-fin/meridian/internal/platform/db"
)

// ListFilter narrows account listings.
type ListFilter struct {
	Type       AccountType
	ActiveOnly bool
	Postable   *bool
	Search     string
}

// Repository persists chart-of-accounts nodes.
type Repository interface {
	Insert(ctx context.Context, a Account) error
	InsertAll(ctx context.Context, companyID uuid.UUID, accounts []Account) error
	Get(ctx context.Context, companyID, id uuid.UUID) (*Account, error)
	GetByNumber(ctx context.Context, companyID uuid.UUID, number string) (*Account, error)
	List(ctx context.Context, companyID uuid.UUID, f ListFilter) ([]Account, error)
	Update(ctx context.Context, a Account) error
	Reparent(ctx context.Context, companyID, id uuid.UUID, parentID *uuid.UUID, newLevel int) error
	Ancestors(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error)
	SubtreeHeight(ctx context.Context, id uuid.UUID) (int, error)
	CountActiveChildren(ctx context.Context, id uuid.UUID) (int, error)
	CountPostedLines(ctx context.Context, id uuid.UUID) (int, error)
	HasAnyAccounts(ctx context.Context, companyID uuid.UUID) (bool, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the PostgreSQL-backed account store.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

const accountColumns = `id, company_id, number, name, type, category, normal_balance, parent_id,
	hierarchy_level, is_postable, is_active, cash_flow, is_intercompany, intercompany_partner_id,
	currency_restriction, is_retained_earnings, created_at, updated_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.CompanyID, &a.Number, &a.Name, &a.Type, &a.Category, &a.NormalBalance, &a.ParentID,
		&a.HierarchyLevel, &a.IsPostable, &a.IsActive, &a.CashFlow, &a.IsIntercompany, &a.IntercompanyPartnerID,
		&a.CurrencyRestriction, &a.IsRetainedEarnings, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func mapAccountUnique(err error) error {
	constraint, ok := db.UniqueViolation(err)
	if !ok {
		return nil
	}
	if strings.Contains(constraint, "retained") {
		return ErrRetainedEarningsDup
	}
	return ErrNumberExists
}

const insertAccountSQL = `
	INSERT INTO accounts (id, company_id, number, name, type, category, normal_balance, parent_id,
		hierarchy_level, is_postable, is_active, cash_flow, is_intercompany, intercompany_partner_id,
		currency_restriction, is_retained_earnings, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

func insertArgs(a Account) []any {
	return []any{a.ID, a.CompanyID, a.Number, a.Name, a.Type, a.Category, a.NormalBalance, a.ParentID,
		a.HierarchyLevel, a.IsPostable, a.IsActive, a.CashFlow, a.IsIntercompany, a.IntercompanyPartnerID,
		a.CurrencyRestriction, a.IsRetainedEarnings, a.CreatedAt, a.UpdatedAt}
}

func (r *pgRepository) Insert(ctx context.Context, a Account) error {
	_, err := r.pool.Exec(ctx, insertAccountSQL, insertArgs(a)...)
	if mapped := mapAccountUnique(err); mapped != nil {
		return mapped
	}
	if err != nil {
		return fmt.Errorf("accounts: insert: %w", err)
	}
	return nil
}

// InsertAll creates a whole chart in one transaction, failing if the company
// already has accounts. Rows must arrive parents-first.
func (r *pgRepository) InsertAll(ctx context.Context, companyID uuid.UUID, accounts []Account) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE company_id = $1)`, companyID).Scan(&exists); err != nil {
			return fmt.Errorf("accounts: template guard: %w", err)
		}
		if exists {
			return ErrCompanyHasAccounts
		}
		for _, a := range accounts {
			if _, err := tx.Exec(ctx, insertAccountSQL, insertArgs(a)...); err != nil {
				if mapped := mapAccountUnique(err); mapped != nil {
					return mapped
				}
				return fmt.Errorf("accounts: insert template row %s: %w", a.Number, err)
			}
		}
		return nil
	})
}

func (r *pgRepository) Get(ctx context.Context, companyID, id uuid.UUID) (*Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE company_id = $1 AND id = $2`
	a, err := scanAccount(r.pool.QueryRow(ctx, q, companyID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("accounts: get: %w", err)
	}
	return a, nil
}

func (r *pgRepository) GetByNumber(ctx context.Context, companyID uuid.UUID, number string) (*Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE company_id = $1 AND number = $2`
	a, err := scanAccount(r.pool.QueryRow(ctx, q, companyID, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("accounts: get by number: %w", err)
	}
	return a, nil
}

func (r *pgRepository) List(ctx context.Context, companyID uuid.UUID, f ListFilter) ([]Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE company_id = $1`
	args := []any{companyID}
	if f.Type != "" {
		args = append(args, f.Type)
		q += fmt.Sprintf(` AND type = $%d`, len(args))
	}
	if f.ActiveOnly {
		q += ` AND is_active`
	}
	if f.Postable != nil {
		args = append(args, *f.Postable)
		q += fmt.Sprintf(` AND is_postable = $%d`, len(args))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		q += fmt.Sprintf(` AND (name ILIKE $%d OR number LIKE $%d)`, len(args), len(args))
	}
	q += ` ORDER BY number ASC`

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("accounts: list: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("accounts: scan: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("accounts: iterate: %w", err)
	}
	return out, nil
}

func (r *pgRepository) Update(ctx context.Context, a Account) error {
	const q = `
		UPDATE accounts
		SET name = $3, category = $4, is_postable = $5, is_active = $6, cash_flow = $7,
			is_intercompany = $8, intercompany_partner_id = $9, currency_restriction = $10, updated_at = $11
		WHERE company_id = $1 AND id = $2`
	tag, err := r.pool.Exec(ctx, q, a.CompanyID, a.ID, a.Name, a.Category, a.IsPostable, a.IsActive,
		a.CashFlow, a.IsIntercompany, a.IntercompanyPartnerID, a.CurrencyRestriction, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("accounts: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Reparent moves a node and shifts hierarchy levels for its whole subtree in
// one transaction.
func (r *pgRepository) Reparent(ctx context.Context, companyID, id uuid.UUID, parentID *uuid.UUID, newLevel int) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var oldLevel int
		err := tx.QueryRow(ctx, `SELECT hierarchy_level FROM accounts WHERE company_id = $1 AND id = $2 FOR UPDATE`, companyID, id).Scan(&oldLevel)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAccountNotFound
		}
		if err != nil {
			return fmt.Errorf("accounts: lock for reparent: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE accounts SET parent_id = $3, updated_at = now() WHERE company_id = $1 AND id = $2`, companyID, id, parentID); err != nil {
			return fmt.Errorf("accounts: reparent: %w", err)
		}
		const shift = `
			WITH RECURSIVE subtree AS (
				SELECT id FROM accounts WHERE id = $1
				UNION ALL
				SELECT a.id FROM accounts a JOIN subtree s ON a.parent_id = s.id
			)
			UPDATE accounts SET hierarchy_level = hierarchy_level + $2
			WHERE id IN (SELECT id FROM subtree)`
		if _, err := tx.Exec(ctx, shift, id, newLevel-oldLevel); err != nil {
			return fmt.Errorf("accounts: shift subtree levels: %w", err)
		}
		return nil
	})
}

func (r *pgRepository) Ancestors(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	const q = `
		WITH RECURSIVE chain AS (
			SELECT id, parent_id, 1 AS depth FROM accounts WHERE id = $1
			UNION ALL
			SELECT a.id, a.parent_id, c.depth + 1 FROM accounts a JOIN chain c ON a.id = c.parent_id
			WHERE c.depth < 64
		)
		SELECT id FROM chain WHERE id <> $1 ORDER BY depth ASC`
	rows, err := r.pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("accounts: ancestors: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var aid uuid.UUID
		if err := rows.Scan(&aid); err != nil {
			return nil, fmt.Errorf("accounts: scan ancestor: %w", err)
		}
		out = append(out, aid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("accounts: iterate ancestors: %w", err)
	}
	return out, nil
}

// SubtreeHeight returns the number of levels in the subtree rooted at id,
// counting id itself as 1.
func (r *pgRepository) SubtreeHeight(ctx context.Context, id uuid.UUID) (int, error) {
	const q = `
		WITH RECURSIVE subtree AS (
			SELECT id, 1 AS depth FROM accounts WHERE id = $1
			UNION ALL
			SELECT a.id, s.depth + 1 FROM accounts a JOIN subtree s ON a.parent_id = s.id
			WHERE s.depth < 64
		)
		SELECT COALESCE(MAX(depth), 0) FROM subtree`
	var h int
	if err := r.pool.QueryRow(ctx, q, id).Scan(&h); err != nil {
		return 0, fmt.Errorf("accounts: subtree height: %w", err)
	}
	return h, nil
}

func (r *pgRepository) CountActiveChildren(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM accounts WHERE parent_id = $1 AND is_active`, id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("accounts: count active children: %w", err)
	}
	return n, nil
}

func (r *pgRepository) CountPostedLines(ctx context.Context, id uuid.UUID) (int, error) {
	const q = `
		SELECT count(*)
		FROM journal_entry_lines l
		JOIN journal_entries e ON e.id = l.entry_id
		WHERE l.account_id = $1 AND e.status IN ('Posted', 'Reversed')`
	var n int
	if err := r.pool.QueryRow(ctx, q, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("accounts: count posted lines: %w", err)
	}
	return n, nil
}

func (r *pgRepository) HasAnyAccounts(ctx context.Context, companyID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE company_id = $1)`, companyID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("accounts: has any: %w", err)
	}
	return exists, nil
}
