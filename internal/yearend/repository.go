package yearend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-fin/meridian/internal/fiscal"
	"github.com/meridian-fin/meridian/internal/ledger"
	"github.com/meridian-fin/meridian/internal/org"
	"github.com/meridian-fin/meridian/internal/platform/db"
	"github.com/meridian-fin/meridian/internal/shared"
)

// CloseContext is the company slice the close needs.
type CloseContext struct {
	OrgID                     uuid.UUID
	FunctionalCurrency        string
	RetainedEarningsAccountID *uuid.UUID
}

// CloseParams drives the atomic close transaction.
type CloseParams struct {
	CompanyID uuid.UUID
	YearID    uuid.UUID
	OrgID     uuid.UUID
	ActorID   uuid.UUID
	Entries   []ledger.JournalEntry
	At        time.Time
}

// ReopenParams drives the atomic reopen transaction. Reversals[i] negates
// Originals[i].
type ReopenParams struct {
	CompanyID uuid.UUID
	YearID    uuid.UUID
	OrgID     uuid.UUID
	ActorID   uuid.UUID
	Originals []uuid.UUID
	Reversals []ledger.JournalEntry
	At        time.Time
}

// Repository persists year-end close state transitions.
type Repository interface {
	CloseContext(ctx context.Context, companyID uuid.UUID) (*CloseContext, error)
	CountUnposted(ctx context.Context, companyID uuid.UUID, from, to shared.Date) (int, error)
	ClosingEntryIDs(ctx context.Context, companyID uuid.UUID, year int) ([]uuid.UUID, error)
	Close(ctx context.Context, p CloseParams) (periodsClosed int, err error)
	Reopen(ctx context.Context, p ReopenParams) (periodsReopened int, err error)
}

type pgRepository struct {
	pool   *pgxpool.Pool
	ledger ledger.Repository
	audit  shared.TxAuditSink
}

// NewRepository builds the PostgreSQL-backed close store. Closing and
// reversing entries are written through the journal repository inside the
// same transaction as the calendar transition.
func NewRepository(pool *pgxpool.Pool, ledgerRepo ledger.Repository, audit shared.TxAuditSink) Repository {
	return &pgRepository{pool: pool, ledger: ledgerRepo, audit: audit}
}

func (r *pgRepository) CloseContext(ctx context.Context, companyID uuid.UUID) (*CloseContext, error) {
	const q = `SELECT org_id, functional_currency, retained_earnings_account_id FROM companies WHERE id = $1`
	var cc CloseContext
	err := r.pool.QueryRow(ctx, q, companyID).Scan(&cc.OrgID, &cc.FunctionalCurrency, &cc.RetainedEarningsAccountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, org.ErrCompanyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("yearend: close context: %w", err)
	}
	return &cc, nil
}

func (r *pgRepository) CountUnposted(ctx context.Context, companyID uuid.UUID, from, to shared.Date) (int, error) {
	const q = `
		SELECT count(*) FROM journal_entries
		WHERE company_id = $1 AND transaction_date >= $2 AND transaction_date <= $3
			AND status NOT IN ('Posted', 'Reversed')`
	var n int
	if err := r.pool.QueryRow(ctx, q, companyID, from, to).Scan(&n); err != nil {
		return 0, fmt.Errorf("yearend: count unposted: %w", err)
	}
	return n, nil
}

func (r *pgRepository) ClosingEntryIDs(ctx context.Context, companyID uuid.UUID, year int) ([]uuid.UUID, error) {
	const q = `
		SELECT id FROM journal_entries
		WHERE company_id = $1 AND fiscal_year = $2 AND type = 'Closing' AND status = 'Posted'
		ORDER BY entry_number ASC`
	rows, err := r.pool.Query(ctx, q, companyID, year)
	if err != nil {
		return nil, fmt.Errorf("yearend: list closing entries: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("yearend: scan closing entry id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func lockYearTx(ctx context.Context, tx pgx.Tx, companyID, yearID uuid.UUID) (fiscal.YearStatus, error) {
	const q = `SELECT status FROM fiscal_years WHERE company_id = $1 AND id = $2 FOR UPDATE`
	var status fiscal.YearStatus
	err := tx.QueryRow(ctx, q, companyID, yearID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fiscal.ErrYearNotFound
	}
	if err != nil {
		return "", fmt.Errorf("yearend: lock year: %w", err)
	}
	return status, nil
}

func (r *pgRepository) Close(ctx context.Context, p CloseParams) (int, error) {
	var periodsClosed int
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		status, err := lockYearTx(ctx, tx, p.CompanyID, p.YearID)
		if err != nil {
			return err
		}
		if status != fiscal.YearOpen {
			return fiscal.ErrYearTransition
		}

		for i := range p.Entries {
			err := r.ledger.InsertPostedTx(ctx, tx, &p.Entries[i], shared.AuditRecord{
				OrgID:   p.OrgID,
				ActorID: p.ActorID,
				Action:  "journal_entry.post",
				Entity:  "journal_entry",
				Meta:    map[string]any{"source": "year_end_close"},
				At:      p.At,
			})
			if err != nil {
				return err
			}
		}

		const closePeriods = `
			UPDATE fiscal_periods SET status = 'Closed', closed_by = $2, closed_at = $3
			WHERE fiscal_year_id = $1 AND status = 'Open'`
		tag, err := tx.Exec(ctx, closePeriods, p.YearID, p.ActorID, p.At)
		if err != nil {
			return fmt.Errorf("yearend: close periods: %w", err)
		}
		periodsClosed = int(tag.RowsAffected())

		const closeYear = `UPDATE fiscal_years SET status = 'Closed', updated_at = $2 WHERE id = $1`
		if _, err := tx.Exec(ctx, closeYear, p.YearID, p.At); err != nil {
			return fmt.Errorf("yearend: close year: %w", err)
		}

		return r.audit.RecordTx(ctx, tx, shared.AuditRecord{
			OrgID:    p.OrgID,
			ActorID:  p.ActorID,
			Action:   "fiscal_year.close",
			Entity:   "fiscal_year",
			EntityID: p.YearID.String(),
			Meta:     map[string]any{"closingEntries": len(p.Entries), "periodsClosed": periodsClosed},
			At:       p.At,
		})
	})
	return periodsClosed, err
}

func (r *pgRepository) Reopen(ctx context.Context, p ReopenParams) (int, error) {
	var periodsReopened int
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		status, err := lockYearTx(ctx, tx, p.CompanyID, p.YearID)
		if err != nil {
			return err
		}
		if status != fiscal.YearClosed {
			return fiscal.ErrYearTransition
		}

		// Periods reopen first so the reversing entries land in an Open
		// calendar.
		const reopenPeriods = `
			UPDATE fiscal_periods SET status = 'Open', closed_by = NULL, closed_at = NULL
			WHERE fiscal_year_id = $1 AND status = 'Closed'
			RETURNING id`
		rows, err := tx.Query(ctx, reopenPeriods, p.YearID)
		if err != nil {
			return fmt.Errorf("yearend: reopen periods: %w", err)
		}
		periodIDs, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
		if err != nil {
			return fmt.Errorf("yearend: collect reopened periods: %w", err)
		}
		periodsReopened = len(periodIDs)

		const reopenEvent = `
			INSERT INTO fiscal_period_reopen_log (id, period_id, reopened_by, reopened_at, reason)
			VALUES ($1, $2, $3, $4, $5)`
		for _, periodID := range periodIDs {
			if _, err := tx.Exec(ctx, reopenEvent, uuid.New(), periodID, p.ActorID, p.At, "year-end reopen"); err != nil {
				return fmt.Errorf("yearend: append reopen event: %w", err)
			}
		}

		for i := range p.Reversals {
			err := r.ledger.InsertPostedTx(ctx, tx, &p.Reversals[i], shared.AuditRecord{
				OrgID:   p.OrgID,
				ActorID: p.ActorID,
				Action:  "journal_entry.post",
				Entity:  "journal_entry",
				Meta:    map[string]any{"source": "year_end_reopen"},
				At:      p.At,
			})
			if err != nil {
				return err
			}
			const link = `
				UPDATE journal_entries SET status = 'Reversed', reversing_entry_id = $3, updated_at = $4
				WHERE company_id = $1 AND id = $2 AND status = 'Posted'`
			tag, err := tx.Exec(ctx, link, p.CompanyID, p.Originals[i], p.Reversals[i].ID, p.At)
			if err != nil {
				return fmt.Errorf("yearend: link reversal: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return ledger.ErrAlreadyReversed
			}
		}

		const reopenYear = `UPDATE fiscal_years SET status = 'Open', updated_at = $2 WHERE id = $1`
		if _, err := tx.Exec(ctx, reopenYear, p.YearID, p.At); err != nil {
			return fmt.Errorf("yearend: reopen year: %w", err)
		}

		return r.audit.RecordTx(ctx, tx, shared.AuditRecord{
			OrgID:    p.OrgID,
			ActorID:  p.ActorID,
			Action:   "fiscal_year.reopen",
			Entity:   "fiscal_year",
			EntityID: p.YearID.String(),
			Meta:     map[string]any{"reversingEntries": len(p.Reversals), "periodsReopened": periodsReopened},
			At:       p.At,
		})
	})
	return periodsReopened, err
}
