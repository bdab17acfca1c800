package consolidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-fin/meridian/internal/shared"
)

// RunRef identifies a run together with its tenant, for the reconciler.
type RunRef struct {
	OrgID uuid.UUID
	RunID uuid.UUID
}

// Repository persists groups, rules, runs and the run-scoped pipeline output.
type Repository interface {
	InsertGroup(ctx context.Context, g Group) error
	GetGroup(ctx context.Context, orgID, groupID uuid.UUID) (*Group, error)
	ListGroups(ctx context.Context, orgID uuid.UUID, page shared.Page) ([]Group, error)
	UpdateGroup(ctx context.Context, g Group) error
	DeleteGroup(ctx context.Context, orgID, groupID uuid.UUID) error

	InsertMember(ctx context.Context, m Member) error
	UpdateMember(ctx context.Context, m Member) error
	DeleteMember(ctx context.Context, groupID, memberID uuid.UUID) error

	InsertRule(ctx context.Context, r EliminationRule) error
	GetRule(ctx context.Context, groupID, ruleID uuid.UUID) (*EliminationRule, error)
	ListRules(ctx context.Context, groupID uuid.UUID, activeOnly bool) ([]EliminationRule, error)
	UpdateRule(ctx context.Context, r EliminationRule) error
	DeleteRule(ctx context.Context, groupID, ruleID uuid.UUID) error

	InsertRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, orgID, runID uuid.UUID) (*Run, error)
	ListRuns(ctx context.Context, orgID, groupID uuid.UUID, page shared.Page) ([]Run, error)
	SaveRun(ctx context.Context, run *Run) error
	HasActiveRun(ctx context.Context, groupID uuid.UUID, year, period int) (bool, error)
	SetCancelRequested(ctx context.Context, runID uuid.UUID) error
	CancelRequested(ctx context.Context, runID uuid.UUID) (bool, error)
	StalledRuns(ctx context.Context, idleSince time.Time) ([]RunRef, error)

	AcquireRunLock(ctx context.Context, key int64) (release func(context.Context), ok bool, err error)

	ReplaceBalances(ctx context.Context, runID uuid.UUID, rows []MemberBalance) error
	RunBalances(ctx context.Context, runID uuid.UUID) ([]MemberBalance, error)
	ReplaceEntries(ctx context.Context, runID uuid.UUID, entries []EliminationEntry) error
	RunEntries(ctx context.Context, runID uuid.UUID) ([]EliminationEntry, error)
	ReplaceTrialBalance(ctx context.Context, runID uuid.UUID, rows []TBLine) error
	TrialBalance(ctx context.Context, runID uuid.UUID) ([]TBLine, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the PostgreSQL-backed consolidation store.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *pgRepository) InsertGroup(ctx context.Context, g Group) error {
	const q = `
		INSERT INTO consolidation_groups (id, org_id, name, reporting_currency, parent_company_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, q, g.ID, g.OrgID, g.Name, g.ReportingCurrency, g.ParentCompanyID,
		g.IsActive, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("consolidation: insert group: %w", err)
	}
	return nil
}

func (r *pgRepository) GetGroup(ctx context.Context, orgID, groupID uuid.UUID) (*Group, error) {
	const q = `
		SELECT id, org_id, name, reporting_currency, parent_company_id, is_active, created_at, updated_at
		FROM consolidation_groups WHERE org_id = $1 AND id = $2`
	var g Group
	err := r.pool.QueryRow(ctx, q, orgID, groupID).Scan(&g.ID, &g.OrgID, &g.Name, &g.ReportingCurrency,
		&g.ParentCompanyID, &g.IsActive, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consolidation: get group: %w", err)
	}
	if g.Members, err = r.members(ctx, groupID); err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *pgRepository) members(ctx context.Context, groupID uuid.UUID) ([]Member, error) {
	const q = `
		SELECT id, group_id, company_id, ownership_pct::text, method, acquisition_date, goodwill::text, created_at
		FROM consolidation_members WHERE group_id = $1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, q, groupID)
	if err != nil {
		return nil, fmt.Errorf("consolidation: members: %w", err)
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var (
			m             Member
			pct, goodwill string
		)
		if err := rows.Scan(&m.ID, &m.GroupID, &m.CompanyID, &pct, &m.Method, &m.AcquisitionDate,
			&goodwill, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("consolidation: scan member: %w", err)
		}
		if m.OwnershipPct, err = decimal.NewFromString(pct); err != nil {
			return nil, fmt.Errorf("consolidation: parse ownership: %w", err)
		}
		if m.Goodwill, err = decimal.NewFromString(goodwill); err != nil {
			return nil, fmt.Errorf("consolidation: parse goodwill: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *pgRepository) ListGroups(ctx context.Context, orgID uuid.UUID, page shared.Page) ([]Group, error) {
	const q = `
		SELECT id, org_id, name, reporting_currency, parent_company_id, is_active, created_at, updated_at
		FROM consolidation_groups WHERE org_id = $1 ORDER BY name ASC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, q, orgID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("consolidation: list groups: %w", err)
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.OrgID, &g.Name, &g.ReportingCurrency, &g.ParentCompanyID,
			&g.IsActive, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("consolidation: scan group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *pgRepository) UpdateGroup(ctx context.Context, g Group) error {
	const q = `
		UPDATE consolidation_groups SET name = $3, is_active = $4, updated_at = $5
		WHERE org_id = $1 AND id = $2`
	tag, err := r.pool.Exec(ctx, q, g.OrgID, g.ID, g.Name, g.IsActive, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("consolidation: update group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrGroupNotFound
	}
	return nil
}

func (r *pgRepository) DeleteGroup(ctx context.Context, orgID, groupID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM consolidation_groups WHERE org_id = $1 AND id = $2`, orgID, groupID)
	if err != nil {
		return fmt.Errorf("consolidation: delete group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrGroupNotFound
	}
	return nil
}

func (r *pgRepository) InsertMember(ctx context.Context, m Member) error {
	const q = `
		INSERT INTO consolidation_members (id, group_id, company_id, ownership_pct, method, acquisition_date, goodwill, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, q, m.ID, m.GroupID, m.CompanyID, m.OwnershipPct.String(), m.Method,
		m.AcquisitionDate, m.Goodwill.String(), m.CreatedAt)
	if isUniqueViolation(err) {
		return ErrMemberExists
	}
	if err != nil {
		return fmt.Errorf("consolidation: insert member: %w", err)
	}
	return nil
}

func (r *pgRepository) UpdateMember(ctx context.Context, m Member) error {
	const q = `
		UPDATE consolidation_members SET ownership_pct = $3, method = $4, goodwill = $5
		WHERE group_id = $1 AND id = $2`
	tag, err := r.pool.Exec(ctx, q, m.GroupID, m.ID, m.OwnershipPct.String(), m.Method, m.Goodwill.String())
	if err != nil {
		return fmt.Errorf("consolidation: update member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMemberNotFound
	}
	return nil
}

func (r *pgRepository) DeleteMember(ctx context.Context, groupID, memberID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM consolidation_members WHERE group_id = $1 AND id = $2`, groupID, memberID)
	if err != nil {
		return fmt.Errorf("consolidation: delete member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMemberNotFound
	}
	return nil
}

const ruleColumns = `id, group_id, name, type, source_selectors, target_selectors,
	minimum_amount::text, is_automatic, priority, is_active, created_at, updated_at`

func scanRule(row pgx.Row) (*EliminationRule, error) {
	var (
		rule        EliminationRule
		source, tgt []byte
		minimum     *string
	)
	err := row.Scan(&rule.ID, &rule.GroupID, &rule.Name, &rule.Type, &source, &tgt,
		&minimum, &rule.IsAutomatic, &rule.Priority, &rule.IsActive, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(source, &rule.SourceSelectors); err != nil {
		return nil, fmt.Errorf("consolidation: decode source selectors: %w", err)
	}
	if err := json.Unmarshal(tgt, &rule.TargetSelectors); err != nil {
		return nil, fmt.Errorf("consolidation: decode target selectors: %w", err)
	}
	if minimum != nil {
		d, err := decimal.NewFromString(*minimum)
		if err != nil {
			return nil, fmt.Errorf("consolidation: parse minimum amount: %w", err)
		}
		rule.MinimumAmount = &d
	}
	return &rule, nil
}

func (r *pgRepository) InsertRule(ctx context.Context, rule EliminationRule) error {
	source, err := json.Marshal(rule.SourceSelectors)
	if err != nil {
		return fmt.Errorf("consolidation: encode source selectors: %w", err)
	}
	tgt, err := json.Marshal(rule.TargetSelectors)
	if err != nil {
		return fmt.Errorf("consolidation: encode target selectors: %w", err)
	}
	var minimum *string
	if rule.MinimumAmount != nil {
		s := rule.MinimumAmount.String()
		minimum = &s
	}
	const q = `
		INSERT INTO elimination_rules (id, group_id, name, type, source_selectors, target_selectors,
			minimum_amount, is_automatic, priority, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err = r.pool.Exec(ctx, q, rule.ID, rule.GroupID, rule.Name, rule.Type, source, tgt,
		minimum, rule.IsAutomatic, rule.Priority, rule.IsActive, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("consolidation: insert rule: %w", err)
	}
	return nil
}

func (r *pgRepository) GetRule(ctx context.Context, groupID, ruleID uuid.UUID) (*EliminationRule, error) {
	q := `SELECT ` + ruleColumns + ` FROM elimination_rules WHERE group_id = $1 AND id = $2`
	rule, err := scanRule(r.pool.QueryRow(ctx, q, groupID, ruleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consolidation: get rule: %w", err)
	}
	return rule, nil
}

func (r *pgRepository) ListRules(ctx context.Context, groupID uuid.UUID, activeOnly bool) ([]EliminationRule, error) {
	q := `SELECT ` + ruleColumns + ` FROM elimination_rules WHERE group_id = $1`
	if activeOnly {
		q += ` AND is_active`
	}
	q += ` ORDER BY priority ASC, created_at ASC`
	rows, err := r.pool.Query(ctx, q, groupID)
	if err != nil {
		return nil, fmt.Errorf("consolidation: list rules: %w", err)
	}
	defer rows.Close()

	var out []EliminationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("consolidation: scan rule: %w", err)
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

func (r *pgRepository) UpdateRule(ctx context.Context, rule EliminationRule) error {
	var minimum *string
	if rule.MinimumAmount != nil {
		s := rule.MinimumAmount.String()
		minimum = &s
	}
	const q = `
		UPDATE elimination_rules SET name = $3, priority = $4, minimum_amount = $5, is_active = $6, updated_at = $7
		WHERE group_id = $1 AND id = $2`
	tag, err := r.pool.Exec(ctx, q, rule.GroupID, rule.ID, rule.Name, rule.Priority, minimum,
		rule.IsActive, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("consolidation: update rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (r *pgRepository) DeleteRule(ctx context.Context, groupID, ruleID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM elimination_rules WHERE group_id = $1 AND id = $2`, groupID, ruleID)
	if err != nil {
		return fmt.Errorf("consolidation: delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

const runColumns = `id, org_id, group_id, year, period, as_of_date, status, steps, options,
	cancel_requested, initiated_by, initiated_at, started_at, completed_at, duration_ms, error_message`

func scanRun(row pgx.Row) (*Run, error) {
	var (
		run            Run
		steps, options []byte
	)
	err := row.Scan(&run.ID, &run.OrgID, &run.GroupID, &run.Year, &run.Period, &run.AsOfDate,
		&run.Status, &steps, &options, &run.CancelRequested, &run.InitiatedBy, &run.InitiatedAt,
		&run.StartedAt, &run.CompletedAt, &run.DurationMS, &run.ErrorMessage)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(steps, &run.Steps); err != nil {
		return nil, fmt.Errorf("consolidation: decode steps: %w", err)
	}
	if err := json.Unmarshal(options, &run.Options); err != nil {
		return nil, fmt.Errorf("consolidation: decode options: %w", err)
	}
	return &run, nil
}

func (r *pgRepository) InsertRun(ctx context.Context, run Run) error {
	steps, err := json.Marshal(run.Steps)
	if err != nil {
		return fmt.Errorf("consolidation: encode steps: %w", err)
	}
	options, err := json.Marshal(run.Options)
	if err != nil {
		return fmt.Errorf("consolidation: encode options: %w", err)
	}
	const q = `
		INSERT INTO consolidation_runs (id, org_id, group_id, year, period, as_of_date, status, steps, options,
			cancel_requested, initiated_by, initiated_at, started_at, completed_at, duration_ms, error_message, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, now())`
	_, err = r.pool.Exec(ctx, q, run.ID, run.OrgID, run.GroupID, run.Year, run.Period, run.AsOfDate,
		run.Status, steps, options, run.CancelRequested, run.InitiatedBy, run.InitiatedAt,
		run.StartedAt, run.CompletedAt, run.DurationMS, run.ErrorMessage)
	if err != nil {
		return fmt.Errorf("consolidation: insert run: %w", err)
	}
	return nil
}

func (r *pgRepository) GetRun(ctx context.Context, orgID, runID uuid.UUID) (*Run, error) {
	q := `SELECT ` + runColumns + ` FROM consolidation_runs WHERE org_id = $1 AND id = $2`
	run, err := scanRun(r.pool.QueryRow(ctx, q, orgID, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consolidation: get run: %w", err)
	}
	return run, nil
}

func (r *pgRepository) ListRuns(ctx context.Context, orgID, groupID uuid.UUID, page shared.Page) ([]Run, error) {
	q := `SELECT ` + runColumns + ` FROM consolidation_runs
		WHERE org_id = $1 AND group_id = $2 ORDER BY initiated_at DESC LIMIT $3 OFFSET $4`
	rows, err := r.pool.Query(ctx, q, orgID, groupID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("consolidation: list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("consolidation: scan run: %w", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func (r *pgRepository) SaveRun(ctx context.Context, run *Run) error {
	steps, err := json.Marshal(run.Steps)
	if err != nil {
		return fmt.Errorf("consolidation: encode steps: %w", err)
	}
	const q = `
		UPDATE consolidation_runs
		SET status = $2, steps = $3, started_at = $4, completed_at = $5, duration_ms = $6,
			error_message = $7, updated_at = now()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, run.ID, run.Status, steps, run.StartedAt, run.CompletedAt,
		run.DurationMS, run.ErrorMessage)
	if err != nil {
		return fmt.Errorf("consolidation: save run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (r *pgRepository) HasActiveRun(ctx context.Context, groupID uuid.UUID, year, period int) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1 FROM consolidation_runs
			WHERE group_id = $1 AND year = $2 AND period = $3 AND status IN ('Pending', 'InProgress'))`
	var active bool
	if err := r.pool.QueryRow(ctx, q, groupID, year, period).Scan(&active); err != nil {
		return false, fmt.Errorf("consolidation: active run check: %w", err)
	}
	return active, nil
}

func (r *pgRepository) SetCancelRequested(ctx context.Context, runID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE consolidation_runs SET cancel_requested = true, updated_at = now() WHERE id = $1`, runID)
	if err != nil {
		return fmt.Errorf("consolidation: request cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (r *pgRepository) CancelRequested(ctx context.Context, runID uuid.UUID) (bool, error) {
	var requested bool
	err := r.pool.QueryRow(ctx, `SELECT cancel_requested FROM consolidation_runs WHERE id = $1`, runID).Scan(&requested)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrRunNotFound
	}
	if err != nil {
		return false, fmt.Errorf("consolidation: cancel flag: %w", err)
	}
	return requested, nil
}

func (r *pgRepository) StalledRuns(ctx context.Context, idleSince time.Time) ([]RunRef, error) {
	const q = `
		SELECT org_id, id FROM consolidation_runs
		WHERE status = 'InProgress' AND updated_at < $1
		ORDER BY updated_at ASC`
	rows, err := r.pool.Query(ctx, q, idleSince)
	if err != nil {
		return nil, fmt.Errorf("consolidation: stalled runs: %w", err)
	}
	defer rows.Close()

	var out []RunRef
	for rows.Next() {
		var ref RunRef
		if err := rows.Scan(&ref.OrgID, &ref.RunID); err != nil {
			return nil, fmt.Errorf("consolidation: scan stalled run: %w", err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// AcquireRunLock takes the session advisory lock serialising runs per
// (group, period) on a dedicated pooled connection. The caller must invoke
// release exactly once when ok.
func (r *pgRepository) AcquireRunLock(ctx context.Context, key int64) (func(context.Context), bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("consolidation: acquire lock conn: %w", err)
	}
	var got bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&got); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("consolidation: try advisory lock: %w", err)
	}
	if !got {
		conn.Release()
		return nil, false, nil
	}
	release := func(ctx context.Context) {
		_, _ = conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, key)
		conn.Release()
	}
	return release, true, nil
}

func (r *pgRepository) ReplaceBalances(ctx context.Context, runID uuid.UUID, balances []MemberBalance) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("consolidation: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM consolidation_balances WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("consolidation: clear balances: %w", err)
	}
	rows := make([][]any, 0, len(balances))
	for _, b := range balances {
		rows = append(rows, []any{runID, b.CompanyID, b.AccountID, b.Number, b.Name, string(b.Type),
			b.Category, b.IsIC, b.Local.String(), b.Translated.String(), b.RateUsed.String()})
	}
	_, err = tx.CopyFrom(ctx, pgx.Identifier{"consolidation_balances"},
		[]string{"run_id", "company_id", "account_id", "number", "name", "type", "category",
			"is_ic", "local", "translated", "rate_used"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("consolidation: copy balances: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *pgRepository) RunBalances(ctx context.Context, runID uuid.UUID) ([]MemberBalance, error) {
	const q = `
		SELECT company_id, account_id, number, name, type, category, is_ic,
			local::text, translated::text, rate_used::text
		FROM consolidation_balances WHERE run_id = $1 ORDER BY company_id, number`
	rows, err := r.pool.Query(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("consolidation: run balances: %w", err)
	}
	defer rows.Close()

	var out []MemberBalance
	for rows.Next() {
		var (
			b                       MemberBalance
			local, translated, rate string
		)
		if err := rows.Scan(&b.CompanyID, &b.AccountID, &b.Number, &b.Name, &b.Type, &b.Category,
			&b.IsIC, &local, &translated, &rate); err != nil {
			return nil, fmt.Errorf("consolidation: scan balance: %w", err)
		}
		b.RunID = runID
		if b.Local, err = decimal.NewFromString(local); err != nil {
			return nil, fmt.Errorf("consolidation: parse local: %w", err)
		}
		if b.Translated, err = decimal.NewFromString(translated); err != nil {
			return nil, fmt.Errorf("consolidation: parse translated: %w", err)
		}
		if b.RateUsed, err = decimal.NewFromString(rate); err != nil {
			return nil, fmt.Errorf("consolidation: parse rate: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *pgRepository) ReplaceEntries(ctx context.Context, runID uuid.UUID, entries []EliminationEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("consolidation: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM consolidation_entries WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("consolidation: clear entries: %w", err)
	}
	for _, e := range entries {
		lines, err := json.Marshal(e.Lines)
		if err != nil {
			return fmt.Errorf("consolidation: encode lines: %w", err)
		}
		const q = `
			INSERT INTO consolidation_entries (id, run_id, rule_id, description, lines, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`
		if _, err := tx.Exec(ctx, q, e.ID, runID, e.RuleID, e.Description, lines, e.CreatedAt); err != nil {
			return fmt.Errorf("consolidation: insert entry: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (r *pgRepository) RunEntries(ctx context.Context, runID uuid.UUID) ([]EliminationEntry, error) {
	const q = `
		SELECT id, rule_id, description, lines, created_at
		FROM consolidation_entries WHERE run_id = $1 ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("consolidation: run entries: %w", err)
	}
	defer rows.Close()

	var out []EliminationEntry
	for rows.Next() {
		var (
			e     EliminationEntry
			lines []byte
		)
		if err := rows.Scan(&e.ID, &e.RuleID, &e.Description, &lines, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("consolidation: scan entry: %w", err)
		}
		e.RunID = runID
		if err := json.Unmarshal(lines, &e.Lines); err != nil {
			return nil, fmt.Errorf("consolidation: decode lines: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *pgRepository) ReplaceTrialBalance(ctx context.Context, runID uuid.UUID, lines []TBLine) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("consolidation: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM consolidation_tb WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("consolidation: clear trial balance: %w", err)
	}
	rows := make([][]any, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, []any{runID, l.AccountNumber, l.AccountName, string(l.Type), l.Category,
			l.Aggregated.String(), l.Elimination.String(), l.NCI.String(), l.Consolidated.String()})
	}
	_, err = tx.CopyFrom(ctx, pgx.Identifier{"consolidation_tb"},
		[]string{"run_id", "account_number", "account_name", "type", "category",
			"aggregated", "elimination", "nci", "consolidated"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("consolidation: copy trial balance: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *pgRepository) TrialBalance(ctx context.Context, runID uuid.UUID) ([]TBLine, error) {
	const q = `
		SELECT account_number, account_name, type, category,
			aggregated::text, elimination::text, nci::text, consolidated::text
		FROM consolidation_tb WHERE run_id = $1 ORDER BY account_number ASC`
	rows, err := r.pool.Query(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("consolidation: trial balance: %w", err)
	}
	defer rows.Close()

	var out []TBLine
	for rows.Next() {
		var (
			l                     TBLine
			agg, elim, nci, total string
		)
		if err := rows.Scan(&l.AccountNumber, &l.AccountName, &l.Type, &l.Category,
			&agg, &elim, &nci, &total); err != nil {
			return nil, fmt.Errorf("consolidation: scan tb line: %w", err)
		}
		if l.Aggregated, err = decimal.NewFromString(agg); err != nil {
			return nil, fmt.Errorf("consolidation: parse aggregated: %w", err)
		}
		if l.Elimination, err = decimal.NewFromString(elim); err != nil {
			return nil, fmt.Errorf("consolidation: parse elimination: %w", err)
		}
		if l.NCI, err = decimal.NewFromString(nci); err != nil {
			return nil, fmt.Errorf("consolidation: parse nci: %w", err)
		}
		if l.Consolidated, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("consolidation: parse consolidated: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
