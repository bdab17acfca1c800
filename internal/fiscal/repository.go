package fiscal

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-fin/meridian/internal/platform/db"
	"github.com/meridian-fin/meridian/internal/shared"
)

// Repository persists fiscal years, periods and reopen history.
type Repository interface {
	InsertYearWithPeriods(ctx context.Context, y FiscalYear, periods []FiscalPeriod) error
	GetYear(ctx context.Context, companyID, yearID uuid.UUID) (*FiscalYear, error)
	GetYearByNumber(ctx context.Context, companyID uuid.UUID, year int) (*FiscalYear, error)
	ListYears(ctx context.Context, companyID uuid.UUID) ([]FiscalYear, error)
	CountOverlappingYears(ctx context.Context, companyID uuid.UUID, start, end shared.Date) (int, error)
	UpdateYearStatus(ctx context.Context, yearID uuid.UUID, status YearStatus) error

	GetPeriod(ctx context.Context, companyID, periodID uuid.UUID) (*FiscalPeriod, error)
	GetPeriodByRef(ctx context.Context, companyID uuid.UUID, ref PeriodRef) (*FiscalPeriod, error)
	ListPeriods(ctx context.Context, yearID uuid.UUID) ([]FiscalPeriod, error)
	ResolveForDate(ctx context.Context, companyID uuid.UUID, date shared.Date) (*FiscalPeriod, error)
	UpdatePeriod(ctx context.Context, p FiscalPeriod) error
	AppendReopenEvent(ctx context.Context, e ReopenEvent) error
	ListReopenHistory(ctx context.Context, periodID uuid.UUID) ([]ReopenEvent, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the PostgreSQL-backed calendar store.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

const yearColumns = `id, company_id, year, start_date, end_date, status, created_at, updated_at`

func scanYear(row pgx.Row) (*FiscalYear, error) {
	var y FiscalYear
	if err := row.Scan(&y.ID, &y.CompanyID, &y.Year, &y.StartDate, &y.EndDate, &y.Status, &y.CreatedAt, &y.UpdatedAt); err != nil {
		return nil, err
	}
	return &y, nil
}

const periodColumns = `id, fiscal_year_id, company_id, number, name, start_date, end_date, is_adjustment, status, closed_by, closed_at`

func scanPeriod(row pgx.Row) (*FiscalPeriod, error) {
	var p FiscalPeriod
	err := row.Scan(&p.ID, &p.FiscalYearID, &p.CompanyID, &p.Number, &p.Name, &p.StartDate, &p.EndDate,
		&p.IsAdjustment, &p.Status, &p.ClosedBy, &p.ClosedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *pgRepository) InsertYearWithPeriods(ctx context.Context, y FiscalYear, periods []FiscalPeriod) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		const yearSQL = `
			INSERT INTO fiscal_years (id, company_id, year, start_date, end_date, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
		_, err := tx.Exec(ctx, yearSQL, y.ID, y.CompanyID, y.Year, y.StartDate, y.EndDate, y.Status, y.CreatedAt, y.UpdatedAt)
		if _, ok := db.UniqueViolation(err); ok {
			return ErrYearExists
		}
		if err != nil {
			return fmt.Errorf("fiscal: insert year: %w", err)
		}

		const periodSQL = `
			INSERT INTO fiscal_periods (id, fiscal_year_id, company_id, number, name, start_date, end_date, is_adjustment, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
		for _, p := range periods {
			if _, err := tx.Exec(ctx, periodSQL, p.ID, p.FiscalYearID, p.CompanyID, p.Number, p.Name,
				p.StartDate, p.EndDate, p.IsAdjustment, p.Status); err != nil {
				return fmt.Errorf("fiscal: insert period %d: %w", p.Number, err)
			}
		}
		return nil
	})
}

func (r *pgRepository) GetYear(ctx context.Context, companyID, yearID uuid.UUID) (*FiscalYear, error) {
	q := `SELECT ` + yearColumns + ` FROM fiscal_years WHERE company_id = $1 AND id = $2`
	y, err := scanYear(r.pool.QueryRow(ctx, q, companyID, yearID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrYearNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fiscal: get year: %w", err)
	}
	return y, nil
}

func (r *pgRepository) GetYearByNumber(ctx context.Context, companyID uuid.UUID, year int) (*FiscalYear, error) {
	q := `SELECT ` + yearColumns + ` FROM fiscal_years WHERE company_id = $1 AND year = $2`
	y, err := scanYear(r.pool.QueryRow(ctx, q, companyID, year))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrYearNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fiscal: get year by number: %w", err)
	}
	return y, nil
}

func (r *pgRepository) ListYears(ctx context.Context, companyID uuid.UUID) ([]FiscalYear, error) {
	q := `SELECT ` + yearColumns + ` FROM fiscal_years WHERE company_id = $1 ORDER BY year ASC`
	rows, err := r.pool.Query(ctx, q, companyID)
	if err != nil {
		return nil, fmt.Errorf("fiscal: list years: %w", err)
	}
	defer rows.Close()

	var out []FiscalYear
	for rows.Next() {
		y, err := scanYear(rows)
		if err != nil {
			return nil, fmt.Errorf("fiscal: scan year: %w", err)
		}
		out = append(out, *y)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fiscal: iterate years: %w", err)
	}
	return out, nil
}

func (r *pgRepository) CountOverlappingYears(ctx context.Context, companyID uuid.UUID, start, end shared.Date) (int, error) {
	const q = `
		SELECT count(*) FROM fiscal_years
		WHERE company_id = $1 AND start_date <= $3 AND end_date >= $2`
	var n int
	if err := r.pool.QueryRow(ctx, q, companyID, start, end).Scan(&n); err != nil {
		return 0, fmt.Errorf("fiscal: count overlapping years: %w", err)
	}
	return n, nil
}

func (r *pgRepository) UpdateYearStatus(ctx context.Context, yearID uuid.UUID, status YearStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE fiscal_years SET status = $2, updated_at = now() WHERE id = $1`, yearID, status)
	if err != nil {
		return fmt.Errorf("fiscal: update year status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrYearNotFound
	}
	return nil
}

func (r *pgRepository) GetPeriod(ctx context.Context, companyID, periodID uuid.UUID) (*FiscalPeriod, error) {
	q := `SELECT ` + periodColumns + ` FROM fiscal_periods WHERE company_id = $1 AND id = $2`
	p, err := scanPeriod(r.pool.QueryRow(ctx, q, companyID, periodID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPeriodNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fiscal: get period: %w", err)
	}
	return p, nil
}

func (r *pgRepository) GetPeriodByRef(ctx context.Context, companyID uuid.UUID, ref PeriodRef) (*FiscalPeriod, error) {
	const q = `
		SELECT ` + periodColumns + `
		FROM fiscal_periods p
		WHERE p.company_id = $1 AND p.number = $3
		  AND p.fiscal_year_id = (SELECT id FROM fiscal_years WHERE company_id = $1 AND year = $2)`
	p, err := scanPeriod(r.pool.QueryRow(ctx, q, companyID, ref.Year, ref.Period))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPeriodNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fiscal: get period by ref: %w", err)
	}
	return p, nil
}

func (r *pgRepository) ListPeriods(ctx context.Context, yearID uuid.UUID) ([]FiscalPeriod, error) {
	q := `SELECT ` + periodColumns + ` FROM fiscal_periods WHERE fiscal_year_id = $1 ORDER BY number ASC`
	rows, err := r.pool.Query(ctx, q, yearID)
	if err != nil {
		return nil, fmt.Errorf("fiscal: list periods: %w", err)
	}
	defer rows.Close()

	var out []FiscalPeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, fmt.Errorf("fiscal: scan period: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fiscal: iterate periods: %w", err)
	}
	return out, nil
}

// ResolveForDate finds the regular period containing the date. Adjustment
// periods share the year-end date and are only addressed explicitly.
func (r *pgRepository) ResolveForDate(ctx context.Context, companyID uuid.UUID, date shared.Date) (*FiscalPeriod, error) {
	const q = `
		SELECT ` + periodColumns + `
		FROM fiscal_periods
		WHERE company_id = $1 AND NOT is_adjustment AND start_date <= $2 AND end_date >= $2`
	p, err := scanPeriod(r.pool.QueryRow(ctx, q, companyID, date))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPeriodNotFoundDate
	}
	if err != nil {
		return nil, fmt.Errorf("fiscal: resolve period for date: %w", err)
	}
	return p, nil
}

func (r *pgRepository) UpdatePeriod(ctx context.Context, p FiscalPeriod) error {
	const q = `
		UPDATE fiscal_periods SET status = $2, closed_by = $3, closed_at = $4 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, p.ID, p.Status, p.ClosedBy, p.ClosedAt)
	if err != nil {
		return fmt.Errorf("fiscal: update period: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPeriodNotFound
	}
	return nil
}

func (r *pgRepository) AppendReopenEvent(ctx context.Context, e ReopenEvent) error {
	const q = `
		INSERT INTO fiscal_period_reopen_log (id, period_id, reopened_by, reopened_at, reason)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.pool.Exec(ctx, q, e.ID, e.PeriodID, e.ReopenedBy, e.ReopenedAt, e.Reason); err != nil {
		return fmt.Errorf("fiscal: append reopen event: %w", err)
	}
	return nil
}

func (r *pgRepository) ListReopenHistory(ctx context.Context, periodID uuid.UUID) ([]ReopenEvent, error) {
	const q = `
		SELECT id, period_id, reopened_by, reopened_at, reason
		FROM fiscal_period_reopen_log WHERE period_id = $1 ORDER BY reopened_at ASC`
	rows, err := r.pool.Query(ctx, q, periodID)
	if err != nil {
		return nil, fmt.Errorf("fiscal: list reopen history: %w", err)
	}
	defer rows.Close()

	var out []ReopenEvent
	for rows.Next() {
		var e ReopenEvent
		if err := rows.Scan(&e.ID, &e.PeriodID, &e.ReopenedBy, &e.ReopenedAt, &e.Reason); err != nil {
			return nil, fmt.Errorf("fiscal: scan reopen event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fiscal: iterate reopen history: %w", err)
	}
	return out, nil
}
