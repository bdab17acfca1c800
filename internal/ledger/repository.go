package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-fin/meridian/internal/accounts"
	"github.com/meridian-fin/meridian/internal/fiscal"
	"github.com/meridian-fin/meridian/internal/org"
	"github.com/meridian-fin/meridian/internal/platform/db"
	"github.com/meridian-fin/meridian/internal/shared"
)

// EntryFilter narrows entry listings.
type EntryFilter struct {
	Status    EntryStatus
	Type      EntryType
	From      *shared.Date
	To        *shared.Date
	AccountID *uuid.UUID
	Search    string
	Page      shared.Page
}

// CompanyContext is the posting-relevant slice of the tenant hierarchy.
type CompanyContext struct {
	OrgID              uuid.UUID
	FunctionalCurrency string
	CompanyActive      bool
	SoDEnabled         bool
}

// PostingAccount is the subset of an account checked on create and post.
type PostingAccount struct {
	NormalBalance       accounts.NormalBalance
	IsActive            bool
	IsPostable          bool
	CurrencyRestriction string
}

// LineValuation carries the functional-currency computation for one line.
type LineValuation struct {
	LineID           uuid.UUID
	ExchangeRate     decimal.Decimal
	FunctionalDebit  decimal.Decimal
	FunctionalCredit decimal.Decimal
}

// PostParams drives the atomic posting transaction.
type PostParams struct {
	CompanyID  uuid.UUID
	EntryID    uuid.UUID
	OrgID      uuid.UUID
	ActorID    uuid.UUID
	BaseDate   shared.Date
	At         time.Time
	Valuations []LineValuation
}

// AccountBalance is one account's accumulated functional-currency activity.
type AccountBalance struct {
	AccountID     uuid.UUID
	Number        string
	Name          string
	Type          accounts.AccountType
	Category      string
	NormalBalance accounts.NormalBalance
	IsIC          bool
	CashFlow      accounts.CashFlowCategory
	Debits        decimal.Decimal
	Credits       decimal.Decimal
}

// Balance returns the signed balance per the account's normal side.
func (b AccountBalance) Balance() decimal.Decimal {
	if b.NormalBalance == accounts.NormalCredit {
		return b.Credits.Sub(b.Debits)
	}
	return b.Debits.Sub(b.Credits)
}

// Repository persists journal entries and computes derived balances.
type Repository interface {
	Insert(ctx context.Context, e JournalEntry) error
	Get(ctx context.Context, companyID, entryID uuid.UUID) (*JournalEntry, error)
	List(ctx context.Context, companyID uuid.UUID, f EntryFilter) ([]JournalEntry, error)
	ReplaceDraft(ctx context.Context, e JournalEntry) error
	DeleteDraft(ctx context.Context, companyID, entryID uuid.UUID) error
	UpdateStatus(ctx context.Context, companyID, entryID uuid.UUID, from, to EntryStatus, at time.Time) error

	CompanyContext(ctx context.Context, companyID uuid.UUID) (*CompanyContext, error)
	AccountsForPosting(ctx context.Context, companyID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]PostingAccount, error)

	Post(ctx context.Context, p PostParams) (*JournalEntry, error)
	Reverse(ctx context.Context, orgID, actorID uuid.UUID, original *JournalEntry, reversing JournalEntry, at time.Time) (*JournalEntry, error)
	InsertPostedTx(ctx context.Context, tx pgx.Tx, e *JournalEntry, audit shared.AuditRecord) error

	BalancesAsOf(ctx context.Context, companyID uuid.UUID, asOf shared.Date) ([]AccountBalance, error)
	BalancesInWindow(ctx context.Context, companyID uuid.UUID, from, to shared.Date) ([]AccountBalance, error)
}

type pgRepository struct {
	pool  *pgxpool.Pool
	audit shared.TxAuditSink
}

// NewRepository builds the PostgreSQL-backed journal store. The audit sink is
// written inside posting transactions so the trail commits with the ledger.
func NewRepository(pool *pgxpool.Pool, audit shared.TxAuditSink) Repository {
	return &pgRepository{pool: pool, audit: audit}
}

const entryColumns = `id, company_id, entry_number, type, status, currency, transaction_date,
	document_date, posting_date, fiscal_year, fiscal_period, reference, description, source_module,
	created_by, created_at, updated_at, posted_by, posted_at, reversed_entry_id, reversing_entry_id`

func scanEntry(row pgx.Row) (*JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(&e.ID, &e.CompanyID, &e.EntryNumber, &e.Type, &e.Status, &e.Currency, &e.TransactionDate,
		&e.DocumentDate, &e.PostingDate, &e.FiscalYear, &e.FiscalPeriod, &e.Reference, &e.Description, &e.SourceModule,
		&e.CreatedBy, &e.CreatedAt, &e.UpdatedAt, &e.PostedBy, &e.PostedAt, &e.ReversedEntryID, &e.ReversingEntryID)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

const lineColumns = `id, entry_id, line_number, account_id, debit::text, credit::text,
	functional_debit::text, functional_credit::text, exchange_rate::text, memo, dimensions,
	intercompany_partner_id, matching_line_id`

func scanLine(row pgx.Row) (*Line, error) {
	var (
		l                              Line
		debit, credit, fDebit, fCredit string
		rate                           string
	)
	err := row.Scan(&l.ID, &l.EntryID, &l.LineNumber, &l.AccountID, &debit, &credit,
		&fDebit, &fCredit, &rate, &l.Memo, &l.Dimensions, &l.IntercompanyPartnerID, &l.MatchingLineID)
	if err != nil {
		return nil, err
	}
	for _, pair := range []struct {
		src string
		dst *decimal.Decimal
	}{
		{debit, &l.Debit}, {credit, &l.Credit}, {fDebit, &l.FunctionalDebit}, {fCredit, &l.FunctionalCredit}, {rate, &l.ExchangeRate},
	} {
		d, err := decimal.NewFromString(pair.src)
		if err != nil {
			return nil, fmt.Errorf("ledger: parse amount %q: %w", pair.src, err)
		}
		*pair.dst = d
	}
	return &l, nil
}

const insertEntrySQL = `
	INSERT INTO journal_entries (id, company_id, entry_number, type, status, currency, transaction_date,
		document_date, posting_date, fiscal_year, fiscal_period, reference, description, source_module,
		created_by, created_at, updated_at, posted_by, posted_at, reversed_entry_id, reversing_entry_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

const insertLineSQL = `
	INSERT INTO journal_entry_lines (id, entry_id, line_number, account_id, debit, credit,
		functional_debit, functional_credit, exchange_rate, memo, dimensions, intercompany_partner_id, matching_line_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

func execInsertEntry(ctx context.Context, tx pgx.Tx, e JournalEntry) error {
	_, err := tx.Exec(ctx, insertEntrySQL,
		e.ID, e.CompanyID, e.EntryNumber, e.Type, e.Status, e.Currency, e.TransactionDate,
		e.DocumentDate, e.PostingDate, e.FiscalYear, e.FiscalPeriod, e.Reference, e.Description, e.SourceModule,
		e.CreatedBy, e.CreatedAt, e.UpdatedAt, e.PostedBy, e.PostedAt, e.ReversedEntryID, e.ReversingEntryID)
	if err != nil {
		return fmt.Errorf("ledger: insert entry: %w", err)
	}
	for _, l := range e.Lines {
		_, err := tx.Exec(ctx, insertLineSQL,
			l.ID, l.EntryID, l.LineNumber, l.AccountID, l.Debit.String(), l.Credit.String(),
			l.FunctionalDebit.String(), l.FunctionalCredit.String(), l.ExchangeRate.String(),
			l.Memo, l.Dimensions, l.IntercompanyPartnerID, l.MatchingLineID)
		if err != nil {
			return fmt.Errorf("ledger: insert line %d: %w", l.LineNumber, err)
		}
	}
	return nil
}

func (r *pgRepository) Insert(ctx context.Context, e JournalEntry) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return execInsertEntry(ctx, tx, e)
	})
}

func (r *pgRepository) Get(ctx context.Context, companyID, entryID uuid.UUID) (*JournalEntry, error) {
	q := `SELECT ` + entryColumns + ` FROM journal_entries WHERE company_id = $1 AND id = $2`
	e, err := scanEntry(r.pool.QueryRow(ctx, q, companyID, entryID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get entry: %w", err)
	}
	lines, err := r.entryLines(ctx, entryID)
	if err != nil {
		return nil, err
	}
	e.Lines = lines
	return e, nil
}

func (r *pgRepository) entryLines(ctx context.Context, entryID uuid.UUID) ([]Line, error) {
	q := `SELECT ` + lineColumns + ` FROM journal_entry_lines WHERE entry_id = $1 ORDER BY line_number ASC`
	rows, err := r.pool.Query(ctx, q, entryID)
	if err != nil {
		return nil, fmt.Errorf("ledger: load lines: %w", err)
	}
	defer rows.Close()

	var out []Line
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan line: %w", err)
		}
		out = append(out, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate lines: %w", err)
	}
	return out, nil
}

func (r *pgRepository) List(ctx context.Context, companyID uuid.UUID, f EntryFilter) ([]JournalEntry, error) {
	q := `SELECT ` + entryColumns + ` FROM journal_entries WHERE company_id = $1`
	args := []any{companyID}
	if f.Status != "" {
		args = append(args, f.Status)
		q += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		q += fmt.Sprintf(` AND type = $%d`, len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		q += fmt.Sprintf(` AND transaction_date >= $%d`, len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		q += fmt.Sprintf(` AND transaction_date <= $%d`, len(args))
	}
	if f.AccountID != nil {
		args = append(args, *f.AccountID)
		q += fmt.Sprintf(` AND id IN (SELECT entry_id FROM journal_entry_lines WHERE account_id = $%d)`, len(args))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		q += fmt.Sprintf(` AND (reference ILIKE $%d OR description ILIKE $%d)`, len(args), len(args))
	}
	args = append(args, f.Page.Limit, f.Page.Offset)
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list entries: %w", err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan entry: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate entries: %w", err)
	}
	return out, nil
}

// ReplaceDraft rewrites header fields and lines while the entry is Draft.
func (r *pgRepository) ReplaceDraft(ctx context.Context, e JournalEntry) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		const q = `
			UPDATE journal_entries
			SET transaction_date = $3, document_date = $4, posting_date = $5, reference = $6,
				description = $7, updated_at = $8
			WHERE company_id = $1 AND id = $2 AND status = 'Draft'`
		tag, err := tx.Exec(ctx, q, e.CompanyID, e.ID, e.TransactionDate, e.DocumentDate, e.PostingDate,
			e.Reference, e.Description, e.UpdatedAt)
		if err != nil {
			return fmt.Errorf("ledger: update draft: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return statusErr(StatusPosted, StatusDraft)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM journal_entry_lines WHERE entry_id = $1`, e.ID); err != nil {
			return fmt.Errorf("ledger: clear draft lines: %w", err)
		}
		for _, l := range e.Lines {
			_, err := tx.Exec(ctx, insertLineSQL,
				l.ID, l.EntryID, l.LineNumber, l.AccountID, l.Debit.String(), l.Credit.String(),
				l.FunctionalDebit.String(), l.FunctionalCredit.String(), l.ExchangeRate.String(),
				l.Memo, l.Dimensions, l.IntercompanyPartnerID, l.MatchingLineID)
			if err != nil {
				return fmt.Errorf("ledger: insert line %d: %w", l.LineNumber, err)
			}
		}
		return nil
	})
}

func (r *pgRepository) DeleteDraft(ctx context.Context, companyID, entryID uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM journal_entry_lines WHERE entry_id = $1`, entryID); err != nil {
			return fmt.Errorf("ledger: delete lines: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM journal_entries WHERE company_id = $1 AND id = $2 AND status = 'Draft'`, companyID, entryID)
		if err != nil {
			return fmt.Errorf("ledger: delete entry: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrStatus
		}
		return nil
	})
}

// UpdateStatus applies a workflow transition guarded by the expected current
// status, so a concurrent transition loses cleanly.
func (r *pgRepository) UpdateStatus(ctx context.Context, companyID, entryID uuid.UUID, from, to EntryStatus, at time.Time) error {
	const q = `
		UPDATE journal_entries SET status = $3, updated_at = $4
		WHERE company_id = $1 AND id = $2 AND status = $5`
	tag, err := r.pool.Exec(ctx, q, companyID, entryID, to, at, from)
	if err != nil {
		return fmt.Errorf("ledger: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return statusErr(from, to)
	}
	return nil
}

func (r *pgRepository) CompanyContext(ctx context.Context, companyID uuid.UUID) (*CompanyContext, error) {
	const q = `
		SELECT c.org_id, c.functional_currency, c.status = 'Active', o.sod_enabled
		FROM companies c
		JOIN organizations o ON o.id = c.org_id
		WHERE c.id = $1`
	var cc CompanyContext
	err := r.pool.QueryRow(ctx, q, companyID).Scan(&cc.OrgID, &cc.FunctionalCurrency, &cc.CompanyActive, &cc.SoDEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, org.ErrCompanyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: company context: %w", err)
	}
	return &cc, nil
}

func (r *pgRepository) AccountsForPosting(ctx context.Context, companyID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]PostingAccount, error) {
	const q = `
		SELECT id, normal_balance, is_active, is_postable, currency_restriction
		FROM accounts WHERE company_id = $1 AND id = ANY($2)`
	rows, err := r.pool.Query(ctx, q, companyID, ids)
	if err != nil {
		return nil, fmt.Errorf("ledger: load posting accounts: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]PostingAccount, len(ids))
	for rows.Next() {
		var (
			id uuid.UUID
			pa PostingAccount
		)
		if err := rows.Scan(&id, &pa.NormalBalance, &pa.IsActive, &pa.IsPostable, &pa.CurrencyRestriction); err != nil {
			return nil, fmt.Errorf("ledger: scan posting account: %w", err)
		}
		out[id] = pa
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate posting accounts: %w", err)
	}
	return out, nil
}

// resolvePeriodTx finds the regular period containing date, inside the
// posting transaction so a concurrent close cannot slip between check and
// commit.
func resolvePeriodTx(ctx context.Context, tx pgx.Tx, companyID uuid.UUID, date shared.Date) (year, number int, status fiscal.PeriodStatus, err error) {
	const q = `
		SELECT y.year, p.number, p.status
		FROM fiscal_periods p
		JOIN fiscal_years y ON y.id = p.fiscal_year_id
		WHERE p.company_id = $1 AND NOT p.is_adjustment AND p.start_date <= $2 AND p.end_date >= $2`
	err = tx.QueryRow(ctx, q, companyID, date).Scan(&year, &number, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, "", fiscal.ErrPeriodNotFoundDate
	}
	if err != nil {
		return 0, 0, "", fmt.Errorf("ledger: resolve period: %w", err)
	}
	return year, number, status, nil
}

// nextEntryNumberTx serialises per-company number assignment on the sequence
// row; numbers are monotonic and never repeat across committed posts.
func nextEntryNumberTx(ctx context.Context, tx pgx.Tx, companyID uuid.UUID) (int64, error) {
	const q = `
		INSERT INTO entry_number_sequences (company_id, next_value) VALUES ($1, 1)
		ON CONFLICT (company_id) DO UPDATE SET next_value = entry_number_sequences.next_value + 1
		RETURNING next_value`
	var n int64
	if err := tx.QueryRow(ctx, q, companyID).Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger: next entry number: %w", err)
	}
	return n, nil
}

func (r *pgRepository) Post(ctx context.Context, p PostParams) (*JournalEntry, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var status EntryStatus
		lockQ := `SELECT status FROM journal_entries WHERE company_id = $1 AND id = $2 FOR UPDATE`
		if err := tx.QueryRow(ctx, lockQ, p.CompanyID, p.EntryID).Scan(&status); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("ledger: lock entry: %w", err)
		}
		if status != StatusApproved {
			return statusErr(status, StatusPosted)
		}

		year, number, periodStatus, err := resolvePeriodTx(ctx, tx, p.CompanyID, p.BaseDate)
		if err != nil {
			return err
		}
		if periodStatus != fiscal.PeriodOpen {
			return fiscal.ErrPeriodClosed
		}

		entryNumber, err := nextEntryNumberTx(ctx, tx, p.CompanyID)
		if err != nil {
			return err
		}

		for _, v := range p.Valuations {
			const lineQ = `
				UPDATE journal_entry_lines
				SET functional_debit = $2, functional_credit = $3, exchange_rate = $4
				WHERE id = $1`
			if _, err := tx.Exec(ctx, lineQ, v.LineID,
				v.FunctionalDebit.String(), v.FunctionalCredit.String(), v.ExchangeRate.String()); err != nil {
				return fmt.Errorf("ledger: value line: %w", err)
			}
		}

		const headQ = `
			UPDATE journal_entries
			SET status = 'Posted', entry_number = $3, posted_by = $4, posted_at = $5,
				fiscal_year = $6, fiscal_period = $7, updated_at = $5
			WHERE company_id = $1 AND id = $2`
		if _, err := tx.Exec(ctx, headQ, p.CompanyID, p.EntryID, entryNumber, p.ActorID, p.At, year, number); err != nil {
			return fmt.Errorf("ledger: mark posted: %w", err)
		}

		return r.audit.RecordTx(ctx, tx, shared.AuditRecord{
			OrgID:    p.OrgID,
			ActorID:  p.ActorID,
			Action:   "journal_entry.post",
			Entity:   "journal_entry",
			EntityID: p.EntryID.String(),
			Meta:     map[string]any{"entryNumber": entryNumber},
			At:       p.At,
		})
	})
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, p.CompanyID, p.EntryID)
}

func (r *pgRepository) Reverse(ctx context.Context, orgID, actorID uuid.UUID, original *JournalEntry, reversing JournalEntry, at time.Time) (*JournalEntry, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var (
			status      EntryStatus
			reversingID *uuid.UUID
		)
		lockQ := `SELECT status, reversing_entry_id FROM journal_entries WHERE company_id = $1 AND id = $2 FOR UPDATE`
		if err := tx.QueryRow(ctx, lockQ, original.CompanyID, original.ID).Scan(&status, &reversingID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("ledger: lock entry: %w", err)
		}
		if status == StatusReversed || reversingID != nil {
			return ErrAlreadyReversed
		}
		if status != StatusPosted {
			return statusErr(status, StatusReversed)
		}

		year, number, periodStatus, err := resolvePeriodTx(ctx, tx, original.CompanyID, reversing.TransactionDate)
		if err != nil {
			return err
		}
		if periodStatus != fiscal.PeriodOpen {
			return fiscal.ErrPeriodClosed
		}
		reversing.FiscalYear = &year
		reversing.FiscalPeriod = &number

		entryNumber, err := nextEntryNumberTx(ctx, tx, original.CompanyID)
		if err != nil {
			return err
		}
		reversing.EntryNumber = &entryNumber

		if err := execInsertEntry(ctx, tx, reversing); err != nil {
			return err
		}

		const linkQ = `
			UPDATE journal_entries SET status = 'Reversed', reversing_entry_id = $3, updated_at = $4
			WHERE company_id = $1 AND id = $2`
		if _, err := tx.Exec(ctx, linkQ, original.CompanyID, original.ID, reversing.ID, at); err != nil {
			return fmt.Errorf("ledger: link reversal: %w", err)
		}

		return r.audit.RecordTx(ctx, tx, shared.AuditRecord{
			OrgID:    orgID,
			ActorID:  actorID,
			Action:   "journal_entry.reverse",
			Entity:   "journal_entry",
			EntityID: original.ID.String(),
			Meta:     map[string]any{"reversingEntryId": reversing.ID.String(), "entryNumber": entryNumber},
			At:       at,
		})
	})
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, original.CompanyID, reversing.ID)
}

// InsertPostedTx writes a fully formed system entry (closing or reversing)
// inside the caller's transaction, assigning its entry number and audit row
// there. Year-end close and reopen drive this.
func (r *pgRepository) InsertPostedTx(ctx context.Context, tx pgx.Tx, e *JournalEntry, audit shared.AuditRecord) error {
	entryNumber, err := nextEntryNumberTx(ctx, tx, e.CompanyID)
	if err != nil {
		return err
	}
	e.EntryNumber = &entryNumber
	if err := execInsertEntry(ctx, tx, *e); err != nil {
		return err
	}
	audit.EntityID = e.ID.String()
	return r.audit.RecordTx(ctx, tx, audit)
}

const balanceSelect = `
	SELECT a.id, a.number, a.name, a.type, a.category, a.normal_balance, a.is_intercompany, a.cash_flow,
		COALESCE(t.debits, 0)::text, COALESCE(t.credits, 0)::text
	FROM accounts a
	LEFT JOIN (
		SELECT l.account_id, sum(l.functional_debit) AS debits, sum(l.functional_credit) AS credits
		FROM journal_entry_lines l
		JOIN journal_entries e ON e.id = l.entry_id
		WHERE e.company_id = $1 AND e.status IN ('Posted', 'Reversed') AND %s
		GROUP BY l.account_id
	) t ON t.account_id = a.id
	WHERE a.company_id = $1
	ORDER BY a.number ASC`

func (r *pgRepository) BalancesAsOf(ctx context.Context, companyID uuid.UUID, asOf shared.Date) ([]AccountBalance, error) {
	q := fmt.Sprintf(balanceSelect, `e.transaction_date <= $2`)
	return r.queryBalances(ctx, q, companyID, asOf)
}

func (r *pgRepository) BalancesInWindow(ctx context.Context, companyID uuid.UUID, from, to shared.Date) ([]AccountBalance, error) {
	q := fmt.Sprintf(balanceSelect, `e.transaction_date >= $2 AND e.transaction_date <= $3`)
	return r.queryBalances(ctx, q, companyID, from, to)
}

func (r *pgRepository) queryBalances(ctx context.Context, q string, args ...any) ([]AccountBalance, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: balances: %w", err)
	}
	defer rows.Close()

	var out []AccountBalance
	for rows.Next() {
		var (
			b               AccountBalance
			debits, credits string
		)
		if err := rows.Scan(&b.AccountID, &b.Number, &b.Name, &b.Type, &b.Category, &b.NormalBalance, &b.IsIC, &b.CashFlow,
			&debits, &credits); err != nil {
			return nil, fmt.Errorf("ledger: scan balance: %w", err)
		}
		if b.Debits, err = decimal.NewFromString(debits); err != nil {
			return nil, fmt.Errorf("ledger: parse debits: %w", err)
		}
		if b.Credits, err = decimal.NewFromString(credits); err != nil {
			return nil, fmt.Errorf("ledger: parse credits: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate balances: %w", err)
	}
	return out, nil
}
