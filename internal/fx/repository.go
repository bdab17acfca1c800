package fx

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-fin/meridian/internal/platform/db"
	"github.com/meridian-fin/meridian/internal/shared"
)

// Repository persists exchange rates.
type Repository interface {
	Insert(ctx context.Context, rate ExchangeRate) error
	InsertBatch(ctx context.Context, rates []ExchangeRate) error
	GetForDate(ctx context.Context, orgID uuid.UUID, from, to string, t RateType, date shared.Date) (*ExchangeRate, error)
	GetClosest(ctx context.Context, orgID uuid.UUID, from, to string, t RateType, date shared.Date) (*ExchangeRate, error)
	ListWindow(ctx context.Context, orgID uuid.UUID, from, to string, t RateType, w Window) ([]ExchangeRate, error)
	List(ctx context.Context, orgID uuid.UUID, page shared.Page) ([]ExchangeRate, error)
	Delete(ctx context.Context, orgID, rateID uuid.UUID) error
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the PostgreSQL-backed rate store.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

const rateColumns = `id, org_id, from_currency, to_currency, effective_date, rate_type, rate::text, source, created_at`

func scanRate(row pgx.Row) (*ExchangeRate, error) {
	var (
		r       ExchangeRate
		rateStr string
	)
	if err := row.Scan(&r.ID, &r.OrgID, &r.FromCurrency, &r.ToCurrency, &r.EffectiveDate, &r.Type, &rateStr, &r.Source, &r.CreatedAt); err != nil {
		return nil, err
	}
	rate, err := decimal.NewFromString(rateStr)
	if err != nil {
		return nil, fmt.Errorf("fx: decode rate: %w", err)
	}
	r.Rate = rate
	return &r, nil
}

func (r *pgRepository) Insert(ctx context.Context, rate ExchangeRate) error {
	const q = `
		INSERT INTO exchange_rates (id, org_id, from_currency, to_currency, effective_date, rate_type, rate, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.pool.Exec(ctx, q,
		rate.ID, rate.OrgID, rate.FromCurrency, rate.ToCurrency,
		rate.EffectiveDate, rate.Type, rate.Rate.String(), rate.Source, rate.CreatedAt)
	if _, ok := db.UniqueViolation(err); ok {
		return ErrRateDuplicate
	}
	if err != nil {
		return fmt.Errorf("fx: insert rate: %w", err)
	}
	return nil
}

func (r *pgRepository) InsertBatch(ctx context.Context, rates []ExchangeRate) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		const q = `
			INSERT INTO exchange_rates (id, org_id, from_currency, to_currency, effective_date, rate_type, rate, source, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
		for _, rate := range rates {
			_, err := tx.Exec(ctx, q,
				rate.ID, rate.OrgID, rate.FromCurrency, rate.ToCurrency,
				rate.EffectiveDate, rate.Type, rate.Rate.String(), rate.Source, rate.CreatedAt)
			if _, ok := db.UniqueViolation(err); ok {
				return ErrRateDuplicate
			}
			if err != nil {
				return fmt.Errorf("fx: insert rate batch: %w", err)
			}
		}
		return nil
	})
}

func (r *pgRepository) GetForDate(ctx context.Context, orgID uuid.UUID, from, to string, t RateType, date shared.Date) (*ExchangeRate, error) {
	q := `SELECT ` + rateColumns + `
		FROM exchange_rates
		WHERE org_id = $1 AND from_currency = $2 AND to_currency = $3 AND rate_type = $4 AND effective_date = $5`
	rate, err := scanRate(r.pool.QueryRow(ctx, q, orgID, from, to, t, date))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fx: get rate for date: %w", err)
	}
	return rate, nil
}

func (r *pgRepository) GetClosest(ctx context.Context, orgID uuid.UUID, from, to string, t RateType, date shared.Date) (*ExchangeRate, error) {
	q := `SELECT ` + rateColumns + `
		FROM exchange_rates
		WHERE org_id = $1 AND from_currency = $2 AND to_currency = $3 AND rate_type = $4 AND effective_date <= $5
		ORDER BY effective_date DESC, created_at DESC
		LIMIT 1`
	rate, err := scanRate(r.pool.QueryRow(ctx, q, orgID, from, to, t, date))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fx: get closest rate: %w", err)
	}
	return rate, nil
}

func (r *pgRepository) ListWindow(ctx context.Context, orgID uuid.UUID, from, to string, t RateType, w Window) ([]ExchangeRate, error) {
	q := `SELECT ` + rateColumns + `
		FROM exchange_rates
		WHERE org_id = $1 AND from_currency = $2 AND to_currency = $3 AND rate_type = $4
		  AND effective_date BETWEEN $5 AND $6
		ORDER BY effective_date ASC`
	rows, err := r.pool.Query(ctx, q, orgID, from, to, t, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("fx: list window: %w", err)
	}
	defer rows.Close()
	return collectRates(rows)
}

func (r *pgRepository) List(ctx context.Context, orgID uuid.UUID, page shared.Page) ([]ExchangeRate, error) {
	q := `SELECT ` + rateColumns + `
		FROM exchange_rates
		WHERE org_id = $1
		ORDER BY effective_date DESC, created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, q, orgID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("fx: list rates: %w", err)
	}
	defer rows.Close()
	return collectRates(rows)
}

func (r *pgRepository) Delete(ctx context.Context, orgID, rateID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM exchange_rates WHERE org_id = $1 AND id = $2`, orgID, rateID)
	if err != nil {
		return fmt.Errorf("fx: delete rate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRateNotFound
	}
	return nil
}

func collectRates(rows pgx.Rows) ([]ExchangeRate, error) {
	var out []ExchangeRate
	for rows.Next() {
		rate, err := scanRate(rows)
		if err != nil {
			return nil, fmt.Errorf("fx: scan rate: %w", err)
		}
		out = append(out, *rate)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fx: iterate rates: %w", err)
	}
	return out, nil
}
