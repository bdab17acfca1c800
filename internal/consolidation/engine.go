package consolidation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-fin/meridian/internal/accounts"
	"github.com/meridian-fin/meridian/internal/apperr"
	"github.com/meridian-fin/meridian/internal/fiscal"
	"github.com/meridian-fin/meridian/internal/fx"
	"github.com/meridian-fin/meridian/internal/intercompany"
	"github.com/meridian-fin/meridian/internal/ledger"
	"github.com/meridian-fin/meridian/internal/money"
	"github.com/meridian-fin/meridian/internal/org"
	"github.com/meridian-fin/meridian/internal/shared"
)

// CompanySource resolves member companies. org.Service satisfies it.
type CompanySource interface {
	GetCompany(ctx context.Context, orgID, id uuid.UUID) (*org.Company, error)
}

// CalendarSource resolves member fiscal periods. fiscal.Repository satisfies it.
type CalendarSource interface {
	GetYearByNumber(ctx context.Context, companyID uuid.UUID, year int) (*fiscal.FiscalYear, error)
	ListPeriods(ctx context.Context, yearID uuid.UUID) ([]fiscal.FiscalPeriod, error)
}

// BalanceSource reads member trial balances. ledger.Repository satisfies it.
type BalanceSource interface {
	BalancesAsOf(ctx context.Context, companyID uuid.UUID, asOf shared.Date) ([]ledger.AccountBalance, error)
}

// RateSource resolves translation rates. fx.Service satisfies it.
type RateSource interface {
	GetPeriodAverage(ctx context.Context, orgID uuid.UUID, from, to string, w fx.Window) (decimal.Decimal, error)
	GetPeriodClosing(ctx context.Context, orgID uuid.UUID, from, to string, w fx.Window) (decimal.Decimal, error)
	GetClosest(ctx context.Context, orgID uuid.UUID, from, to string, t fx.RateType, date shared.Date) (*fx.ExchangeRate, error)
}

// ICSource lists intercompany transactions. intercompany.Repository satisfies it.
type ICSource interface {
	List(ctx context.Context, orgID uuid.UUID, f intercompany.Filter) ([]intercompany.Transaction, error)
}

const (
	defaultStepTimeout = 10 * time.Minute
	memberConcurrency  = 4
)

// errRunCancelled aborts a step at a yield point once the cancel flag is
// observed. It never surfaces as a step failure.
var errRunCancelled = errors.New("consolidation run cancelled")

// Engine drives a consolidation run through the seven-step pipeline. The
// persisted run record is the ground truth: completed steps are trusted on
// resume, everything else re-executes from scratch.
type Engine struct {
	logger      *slog.Logger
	repo        Repository
	companies   CompanySource
	calendar    CalendarSource
	balances    BalanceSource
	rates       RateSource
	ic          ICSource
	now         func() time.Time
	stepTimeout time.Duration
}

// NewEngine wires the pipeline engine.
func NewEngine(logger *slog.Logger, repo Repository, companies CompanySource, calendar CalendarSource,
	balances BalanceSource, rates RateSource, ic ICSource) *Engine {
	return &Engine{
		logger:      logger,
		repo:        repo,
		companies:   companies,
		calendar:    calendar,
		balances:    balances,
		rates:       rates,
		ic:          ic,
		now:         time.Now,
		stepTimeout: defaultStepTimeout,
	}
}

// WithNow overrides the clock for tests.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithStepTimeout overrides the per-step soft timeout.
func (e *Engine) WithStepTimeout(d time.Duration) *Engine {
	e.stepTimeout = d
	return e
}

// runState carries pipeline intermediates within one Execute call. Every
// field can be reloaded from persisted step output, so a resumed run starts
// with an empty state and lazily hydrates what the next step needs.
type runState struct {
	group    *Group
	members  map[uuid.UUID]Member
	balances []MemberBalance
	tb       []TBLine
	warnings []string
}

// Execute drives the run to a terminal status. Completed and Cancelled runs
// are left untouched; Pending, InProgress and Failed runs advance from their
// first non-completed step.
func (e *Engine) Execute(ctx context.Context, orgID, runID uuid.UUID) error {
	run, err := e.repo.GetRun(ctx, orgID, runID)
	if err != nil {
		return err
	}
	if run.Status == RunCompleted || run.Status == RunCancelled {
		return nil
	}

	release, ok, err := e.repo.AcquireRunLock(ctx, shared.ConsolidationLockKey(run.GroupID, run.Year, run.Period))
	if err != nil {
		return err
	}
	if !ok {
		return ErrRunActive
	}
	defer release(context.WithoutCancel(ctx))

	if run.Options.ForceRegeneration {
		run.Steps = NewSteps()
	}
	for i := range run.Steps {
		if run.Steps[i].Status == StepFailed || run.Steps[i].Status == StepInProgress {
			run.Steps[i].Status = StepPending
		}
	}
	run.Status = RunInProgress
	run.ErrorMessage = ""
	if run.StartedAt == nil {
		started := e.now()
		run.StartedAt = &started
	}
	if err := e.repo.SaveRun(ctx, run); err != nil {
		return err
	}

	state := &runState{}
	for i := range run.Steps {
		step := &run.Steps[i]
		if step.Status == StepCompleted {
			continue
		}
		cancelled, err := e.repo.CancelRequested(ctx, run.ID)
		if err != nil {
			return err
		}
		if cancelled {
			return e.finishCancelled(ctx, run)
		}

		started := e.now()
		step.Status = StepInProgress
		step.StartedAt = &started
		step.Error = ""
		if err := e.repo.SaveRun(ctx, run); err != nil {
			return err
		}

		stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
		stepErr := e.runStep(stepCtx, run, step, state)
		cancel()

		done := e.now()
		step.CompletedAt = &done
		step.DurationMS = done.Sub(started).Milliseconds()
		if errors.Is(stepErr, errRunCancelled) {
			return e.finishCancelled(ctx, run)
		}
		if stepErr != nil {
			step.Status = StepFailed
			step.Error = stepErr.Error()
			return e.finishFailed(ctx, run, stepErr)
		}
		step.Status = StepCompleted
		if err := e.repo.SaveRun(ctx, run); err != nil {
			return err
		}
		e.logger.Info("consolidation step completed",
			slog.String("runId", run.ID.String()),
			slog.String("step", string(step.Name)),
			slog.Int64("durationMs", step.DurationMS))
	}

	completed := e.now()
	run.Status = RunCompleted
	run.CompletedAt = &completed
	run.DurationMS = completed.Sub(*run.StartedAt).Milliseconds()
	if err := e.repo.SaveRun(ctx, run); err != nil {
		return err
	}
	e.logger.Info("consolidation run completed",
		slog.String("runId", run.ID.String()),
		slog.String("groupId", run.GroupID.String()),
		slog.Int64("durationMs", run.DurationMS))
	return nil
}

// finishCancelled marks every non-completed step Skipped and the run
// Cancelled. Partial output stays in the run-scoped tables but is never
// served: reports require a Completed run.
func (e *Engine) finishCancelled(ctx context.Context, run *Run) error {
	for i := range run.Steps {
		if run.Steps[i].Status != StepCompleted {
			run.Steps[i].Status = StepSkipped
		}
	}
	completed := e.now()
	run.Status = RunCancelled
	run.CompletedAt = &completed
	if run.StartedAt != nil {
		run.DurationMS = completed.Sub(*run.StartedAt).Milliseconds()
	}
	e.logger.Info("consolidation run cancelled", slog.String("runId", run.ID.String()))
	return e.repo.SaveRun(ctx, run)
}

func (e *Engine) finishFailed(ctx context.Context, run *Run, cause error) error {
	completed := e.now()
	run.Status = RunFailed
	run.CompletedAt = &completed
	run.ErrorMessage = cause.Error()
	if run.StartedAt != nil {
		run.DurationMS = completed.Sub(*run.StartedAt).Milliseconds()
	}
	e.logger.Error("consolidation run failed",
		slog.String("runId", run.ID.String()),
		slog.Any("error", cause))
	if err := e.repo.SaveRun(ctx, run); err != nil {
		return err
	}
	return cause
}

func (e *Engine) runStep(ctx context.Context, run *Run, step *Step, state *runState) error {
	if err := e.ensureGroup(ctx, run, state); err != nil {
		return err
	}
	switch step.Name {
	case StepValidate:
		return e.stepValidate(ctx, run, step, state)
	case StepTranslate:
		return e.stepTranslate(ctx, run, step, state)
	case StepAggregate:
		return e.stepAggregate(ctx, run, step, state)
	case StepMatchIC:
		return e.stepMatchIC(ctx, run, step, state)
	case StepEliminate:
		return e.stepEliminate(ctx, run, step, state)
	case StepNCI:
		return e.stepNCI(ctx, run, step, state)
	case StepGenerateTB:
		return e.stepGenerateTB(ctx, run, step, state)
	}
	return fmt.Errorf("consolidation: unknown step %q", step.Name)
}

func (e *Engine) ensureGroup(ctx context.Context, run *Run, state *runState) error {
	if state.group != nil {
		return nil
	}
	group, err := e.repo.GetGroup(ctx, run.OrgID, run.GroupID)
	if err != nil {
		return err
	}
	state.group = group
	state.members = make(map[uuid.UUID]Member, len(group.Members))
	for _, m := range group.Members {
		state.members[m.CompanyID] = m
	}
	return nil
}

func (e *Engine) ensureBalances(ctx context.Context, run *Run, state *runState) error {
	if state.balances != nil {
		return nil
	}
	rows, err := e.repo.RunBalances(ctx, run.ID)
	if err != nil {
		return err
	}
	state.balances = rows
	return nil
}

func (e *Engine) ensureTB(ctx context.Context, run *Run, state *runState) error {
	if state.tb != nil {
		return nil
	}
	rows, err := e.repo.TrialBalance(ctx, run.ID)
	if err != nil {
		return err
	}
	state.tb = rows
	return nil
}

// stepValidate checks the group, its members, their fiscal periods and trial
// balances. Blocking problems fail the step; intercompany imbalances are
// warnings that fail only when ContinueOnWarnings is off.
func (e *Engine) stepValidate(ctx context.Context, run *Run, step *Step, state *runState) error {
	var (
		mu     sync.Mutex
		blocks []string
		warns  []string
	)
	addBlock := func(msg string) {
		mu.Lock()
		blocks = append(blocks, msg)
		mu.Unlock()
	}

	if !state.group.IsActive {
		blocks = append(blocks, "consolidation group is not active")
	}
	if len(state.group.Members) == 0 {
		blocks = append(blocks, "consolidation group has no members")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(memberConcurrency)
	for _, m := range state.group.Members {
		m := m
		g.Go(func() error {
			company, err := e.companies.GetCompany(gctx, run.OrgID, m.CompanyID)
			if err != nil {
				addBlock(fmt.Sprintf("member company %s not found", m.CompanyID))
				return nil
			}
			if company.Status != org.CompanyActive {
				addBlock(fmt.Sprintf("member company %s is not active", company.Name))
			}
			if !run.Options.SkipValidation {
				period, err := e.memberPeriod(gctx, m.CompanyID, run.Year, run.Period)
				if err != nil {
					addBlock(fmt.Sprintf("company %s has no fiscal period %d/%d", company.Name, run.Year, run.Period))
				} else if period.Status != fiscal.PeriodClosed {
					addBlock(fmt.Sprintf("fiscal period %d/%d is not closed for company %s", run.Year, run.Period, company.Name))
				}
			}
			bals, err := e.balances.BalancesAsOf(gctx, m.CompanyID, run.AsOfDate)
			if err != nil {
				return err
			}
			total := decimal.Zero
			for _, b := range bals {
				total = total.Add(b.Debits).Sub(b.Credits)
			}
			if !total.IsZero() {
				addBlock(fmt.Sprintf("trial balance of company %s is out of balance by %s", company.Name, total.Abs().String()))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	icWarns, err := e.intercompanyWarnings(ctx, run, state)
	if err != nil {
		return err
	}
	warns = append(warns, icWarns...)

	sort.Strings(blocks)
	step.Details = map[string]any{"errors": blocks, "warnings": warns}
	if len(blocks) > 0 {
		return apperr.With(ErrValidationFailed, map[string]any{"errors": blocks})
	}
	if len(warns) > 0 && !run.Options.ContinueOnWarnings {
		return apperr.With(ErrValidationFailed, map[string]any{"warnings": warns})
	}
	state.warnings = warns
	return nil
}

// icPageLimit caps each page fetched from the intercompany store.
const icPageLimit = 200

// listIntercompany pages through every intercompany transaction dated on or
// before the run's as-of date. Large organizations routinely exceed a single
// page, so the fetch loops until a short page.
func (e *Engine) listIntercompany(ctx context.Context, run *Run) ([]intercompany.Transaction, error) {
	var all []intercompany.Transaction
	for offset := 0; ; offset += icPageLimit {
		page, err := e.ic.List(ctx, run.OrgID, intercompany.Filter{
			To:   &run.AsOfDate,
			Page: shared.NormalizePage(icPageLimit, offset),
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < icPageLimit {
			return all, nil
		}
	}
}

func (e *Engine) intercompanyWarnings(ctx context.Context, run *Run, state *runState) ([]string, error) {
	txs, err := e.listIntercompany(ctx, run)
	if err != nil {
		return nil, err
	}
	var warns []string
	for _, t := range txs {
		_, fromMember := state.members[t.FromCompanyID]
		_, toMember := state.members[t.ToCompanyID]
		if !fromMember || !toMember {
			continue
		}
		if t.Status == intercompany.StatusMatched || t.Status == intercompany.StatusVarianceApproved {
			continue
		}
		warns = append(warns, fmt.Sprintf("intercompany transaction %s is %s", t.ID, t.Status))
	}
	return warns, nil
}

func (e *Engine) memberPeriod(ctx context.Context, companyID uuid.UUID, year, period int) (*fiscal.FiscalPeriod, error) {
	fy, err := e.calendar.GetYearByNumber(ctx, companyID, year)
	if err != nil {
		return nil, err
	}
	periods, err := e.calendar.ListPeriods(ctx, fy.ID)
	if err != nil {
		return nil, err
	}
	for i := range periods {
		if periods[i].Number == period {
			return &periods[i], nil
		}
	}
	return nil, fiscal.ErrPeriodNotFound
}

// stepTranslate converts every member's balances into the group reporting
// currency: average rate for income-statement accounts, closing rate for
// assets and liabilities, historical rate for equity. The translation
// residual lands on the accumulated-OCI row.
func (e *Engine) stepTranslate(ctx context.Context, run *Run, step *Step, state *runState) error {
	results := make([][]MemberBalance, len(state.group.Members))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(memberConcurrency)
	for i, m := range state.group.Members {
		i, m := i, m
		g.Go(func() error {
			rows, err := e.translateMember(gctx, run, state.group, m)
			if err != nil {
				return err
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var all []MemberBalance
	for _, rows := range results {
		all = append(all, rows...)
	}
	if err := e.repo.ReplaceBalances(ctx, run.ID, all); err != nil {
		return err
	}
	state.balances = all
	step.Details = map[string]any{"members": len(state.group.Members), "accounts": len(all)}
	return nil
}

func (e *Engine) translateMember(ctx context.Context, run *Run, group *Group, m Member) ([]MemberBalance, error) {
	company, err := e.companies.GetCompany(ctx, run.OrgID, m.CompanyID)
	if err != nil {
		return nil, err
	}
	bals, err := e.balances.BalancesAsOf(ctx, m.CompanyID, run.AsOfDate)
	if err != nil {
		return nil, err
	}

	same := company.FunctionalCurrency == group.ReportingCurrency
	var average, closing, historical decimal.Decimal
	if !same {
		period, err := e.memberPeriod(ctx, m.CompanyID, run.Year, run.Period)
		if err != nil {
			return nil, err
		}
		w := fx.Window{Start: period.StartDate, End: period.EndDate}
		pair := company.FunctionalCurrency + "/" + group.ReportingCurrency
		if average, err = e.rates.GetPeriodAverage(ctx, run.OrgID, company.FunctionalCurrency, group.ReportingCurrency, w); err != nil {
			return nil, fmt.Errorf("no average rate for %s in period %d/%d: %w", pair, run.Year, run.Period, err)
		}
		if closing, err = e.rates.GetPeriodClosing(ctx, run.OrgID, company.FunctionalCurrency, group.ReportingCurrency, w); err != nil {
			return nil, fmt.Errorf("no closing rate for %s in period %d/%d: %w", pair, run.Year, run.Period, err)
		}
		hist, err := e.rates.GetClosest(ctx, run.OrgID, company.FunctionalCurrency, group.ReportingCurrency, fx.RateHistorical, m.AcquisitionDate)
		switch {
		case err == nil:
			historical = hist.Rate
		case errors.Is(err, fx.ErrRateNotFound):
			historical = closing
		default:
			return nil, err
		}
	}

	var (
		out   []MemberBalance
		total decimal.Decimal
	)
	for _, b := range bals {
		if b.Debits.IsZero() && b.Credits.IsZero() {
			continue
		}
		local := b.Debits.Sub(b.Credits)
		row := MemberBalance{
			RunID:     run.ID,
			CompanyID: m.CompanyID,
			AccountID: b.AccountID,
			Number:    b.Number,
			Name:      b.Name,
			Type:      b.Type,
			Category:  b.Category,
			IsIC:      b.IsIC,
			Local:     local,
		}
		if same {
			row.RateUsed = decimal.NewFromInt(1)
			row.Translated = local
		} else {
			switch b.Type {
			case accounts.TypeRevenue, accounts.TypeExpense:
				row.RateUsed = average
			case accounts.TypeEquity:
				row.RateUsed = historical
			default:
				row.RateUsed = closing
			}
			row.Translated = money.RoundBank(local.Mul(row.RateUsed), money.DefaultScale)
		}
		total = total.Add(row.Translated)
		out = append(out, row)
	}

	// Mixed rates leave a residual; it is the period's translation
	// adjustment and belongs in accumulated OCI.
	if !same && !total.IsZero() {
		out = append(out, MemberBalance{
			RunID:      run.ID,
			CompanyID:  m.CompanyID,
			Number:     ctaAccountNumber,
			Name:       ctaAccountName,
			Type:       accounts.TypeEquity,
			Category:   "AccumulatedOCI",
			Local:      decimal.Zero,
			Translated: total.Neg(),
			RateUsed:   decimal.Zero,
		})
	}
	return out, nil
}

type tbKey struct {
	number   string
	accType  accounts.AccountType
	category string
}

func keyOf(b MemberBalance) tbKey {
	return tbKey{number: b.Number, accType: b.Type, category: b.Category}
}

func lineKey(l TBLine) tbKey {
	return tbKey{number: l.AccountNumber, accType: l.Type, category: l.Category}
}

// stepAggregate sums translated balances across full-consolidation members
// per (number, type, category). Same number with diverging semantics stays on
// separate rows and raises a warning.
func (e *Engine) stepAggregate(ctx context.Context, run *Run, step *Step, state *runState) error {
	if err := e.ensureBalances(ctx, run, state); err != nil {
		return err
	}

	rows := make(map[tbKey]*TBLine)
	keysByNumber := make(map[string]map[tbKey]struct{})
	for _, b := range state.balances {
		m, ok := state.members[b.CompanyID]
		if ok && m.Method == EquityMethod {
			continue
		}
		k := keyOf(b)
		row, ok := rows[k]
		if !ok {
			row = &TBLine{
				AccountNumber: b.Number,
				AccountName:   b.Name,
				Type:          b.Type,
				Category:      b.Category,
			}
			rows[k] = row
			if keysByNumber[b.Number] == nil {
				keysByNumber[b.Number] = make(map[tbKey]struct{})
			}
			keysByNumber[b.Number][k] = struct{}{}
		}
		row.Aggregated = row.Aggregated.Add(b.Translated)
	}

	var warns []string
	for number, keys := range keysByNumber {
		if len(keys) > 1 {
			warns = append(warns, fmt.Sprintf("account number %s has diverging type or category across members", number))
		}
	}
	sort.Strings(warns)

	tb := sortedLines(rows)
	if err := e.repo.ReplaceTrialBalance(ctx, run.ID, tb); err != nil {
		return err
	}
	state.tb = tb
	step.Details = map[string]any{"rows": len(tb), "warnings": warns}
	return nil
}

func sortedLines(rows map[tbKey]*TBLine) []TBLine {
	out := make([]TBLine, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountNumber != out[j].AccountNumber {
			return out[i].AccountNumber < out[j].AccountNumber
		}
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// stepMatchIC pairs matched intercompany transactions between group members
// for the period and records them as elimination pair drafts. Account-level
// elimination is owned by the rules in the next step.
func (e *Engine) stepMatchIC(ctx context.Context, run *Run, step *Step, state *runState) error {
	txs, err := e.listIntercompany(ctx, run)
	if err != nil {
		return err
	}

	var drafts []map[string]any
	for _, t := range txs {
		_, fromMember := state.members[t.FromCompanyID]
		_, toMember := state.members[t.ToCompanyID]
		if !fromMember || !toMember {
			continue
		}
		if t.Status != intercompany.StatusMatched && t.Status != intercompany.StatusVarianceApproved {
			continue
		}
		drafts = append(drafts, map[string]any{
			"transactionId": t.ID.String(),
			"type":          t.Type,
			"amount":        t.Amount.String(),
			"currency":      t.Currency,
		})
	}
	step.Details = map[string]any{"pairs": len(drafts), "drafts": drafts}
	return nil
}

// stepEliminate evaluates active rules by ascending priority. Each rule
// offsets its source rows against its target rows by the smaller absolute
// total, emitting a balanced entry into the run-scoped ledger.
func (e *Engine) stepEliminate(ctx context.Context, run *Run, step *Step, state *runState) error {
	if err := e.ensureBalances(ctx, run, state); err != nil {
		return err
	}
	if err := e.ensureTB(ctx, run, state); err != nil {
		return err
	}
	rules, err := e.repo.ListRules(ctx, run.GroupID, true)
	if err != nil {
		return err
	}

	rows := make(map[tbKey]*TBLine, len(state.tb))
	for i := range state.tb {
		// A retried attempt may load a trial balance that already carries
		// this step's persisted output; the column is recomputed in full.
		state.tb[i].Elimination = decimal.Zero
		rows[lineKey(state.tb[i])] = &state.tb[i]
	}

	var (
		entries []EliminationEntry
		applied []map[string]any
	)
	for _, rule := range rules {
		cancelled, err := e.repo.CancelRequested(ctx, run.ID)
		if err != nil {
			return err
		}
		if cancelled {
			return errRunCancelled
		}

		entry, detail := e.applyRule(run, rule, state, rows)
		applied = append(applied, detail)
		if entry == nil {
			continue
		}
		if !entry.Balanced() {
			return fmt.Errorf("elimination rule %q produced an unbalanced entry", rule.Name)
		}
		entries = append(entries, *entry)
	}

	tb := make([]TBLine, 0, len(rows))
	for _, row := range rows {
		tb = append(tb, *row)
	}
	state.tb = sortedSlice(tb)
	if err := e.repo.ReplaceEntries(ctx, run.ID, entries); err != nil {
		return err
	}
	if err := e.repo.ReplaceTrialBalance(ctx, run.ID, state.tb); err != nil {
		return err
	}
	step.Details = map[string]any{"rulesEvaluated": len(rules), "entries": len(entries), "rules": applied}
	return nil
}

func sortedSlice(tb []TBLine) []TBLine {
	sort.Slice(tb, func(i, j int) bool {
		if tb[i].AccountNumber != tb[j].AccountNumber {
			return tb[i].AccountNumber < tb[j].AccountNumber
		}
		if tb[i].Type != tb[j].Type {
			return tb[i].Type < tb[j].Type
		}
		return tb[i].Category < tb[j].Category
	})
	return tb
}

// applyRule computes the offset for one rule and mutates the affected rows'
// Elimination column. A nil entry means the rule matched nothing actionable.
func (e *Engine) applyRule(run *Run, rule EliminationRule, state *runState, rows map[tbKey]*TBLine) (*EliminationEntry, map[string]any) {
	detail := map[string]any{"rule": rule.Name, "type": string(rule.Type)}

	srcByKey, srcTotal := matchBalances(state, rule.SourceSelectors)
	tgtByKey, tgtTotal := matchBalances(state, rule.TargetSelectors)
	if srcTotal.IsZero() || tgtTotal.IsZero() {
		detail["outcome"] = "no matching balances"
		return nil, detail
	}
	if srcTotal.Sign() == tgtTotal.Sign() {
		detail["outcome"] = "source and target balances do not offset"
		return nil, detail
	}

	amount := decimal.Min(srcTotal.Abs(), tgtTotal.Abs())
	if rule.MinimumAmount != nil && amount.LessThan(*rule.MinimumAmount) {
		detail["outcome"] = "below minimum amount"
		detail["amount"] = amount.String()
		return nil, detail
	}

	entry := EliminationEntry{
		ID:          uuid.New(),
		RunID:       run.ID,
		RuleID:      &rule.ID,
		Description: rule.Name,
		CreatedAt:   e.now(),
	}
	entry.Lines = append(entry.Lines, allocate(rows, srcByKey, srcTotal, amount)...)
	entry.Lines = append(entry.Lines, allocate(rows, tgtByKey, tgtTotal, amount)...)

	detail["outcome"] = "applied"
	detail["amount"] = amount.String()
	return &entry, detail
}

// matchBalances sums translated full-consolidation balances per trial-balance
// key over every balance a selector covers.
func matchBalances(state *runState, selectors []AccountSelector) (map[tbKey]decimal.Decimal, decimal.Decimal) {
	byKey := make(map[tbKey]decimal.Decimal)
	total := decimal.Zero
	for _, b := range state.balances {
		m, ok := state.members[b.CompanyID]
		if ok && m.Method == EquityMethod {
			continue
		}
		for _, s := range selectors {
			if s.Matches(b) {
				k := keyOf(b)
				byKey[k] = byKey[k].Add(b.Translated)
				total = total.Add(b.Translated)
				break
			}
		}
	}
	return byKey, total
}

// allocate spreads the elimination amount across the matched rows pro rata,
// pushing any rounding residue onto the last row so the legs sum exactly.
func allocate(rows map[tbKey]*TBLine, byKey map[tbKey]decimal.Decimal, total, amount decimal.Decimal) []EliminationLine {
	keys := make([]tbKey, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].number != keys[j].number {
			return keys[i].number < keys[j].number
		}
		if keys[i].accType != keys[j].accType {
			return keys[i].accType < keys[j].accType
		}
		return keys[i].category < keys[j].category
	})

	sign := decimal.NewFromInt(int64(total.Sign()))
	target := amount.Mul(sign).Neg()
	var (
		lines     []EliminationLine
		allocated decimal.Decimal
	)
	for i, k := range keys {
		var adj decimal.Decimal
		if i == len(keys)-1 {
			adj = target.Sub(allocated)
		} else {
			share := byKey[k].Abs().Div(total.Abs())
			adj = money.RoundBank(target.Mul(share), money.DefaultScale)
		}
		allocated = allocated.Add(adj)
		row := rows[k]
		if row == nil {
			row = &TBLine{AccountNumber: k.number, Type: k.accType, Category: k.category}
			rows[k] = row
		}
		row.Elimination = row.Elimination.Add(adj)

		line := EliminationLine{
			AccountNumber: row.AccountNumber,
			AccountName:   row.AccountName,
			Type:          row.Type,
			Category:      row.Category,
		}
		if adj.Sign() >= 0 {
			line.Debit = adj
			line.Credit = decimal.Zero
		} else {
			line.Debit = decimal.Zero
			line.Credit = adj.Neg()
		}
		lines = append(lines, line)
	}
	return lines
}

// stepNCI allocates the non-controlling share of each partly-owned
// subsidiary's equity and earnings to the NCI row, and brings equity-method
// investees in as a single-line pickup.
func (e *Engine) stepNCI(ctx context.Context, run *Run, step *Step, state *runState) error {
	if err := e.ensureBalances(ctx, run, state); err != nil {
		return err
	}
	if err := e.ensureTB(ctx, run, state); err != nil {
		return err
	}

	rows := make(map[tbKey]*TBLine, len(state.tb))
	for i := range state.tb {
		// Same retry contract as the eliminate step: recompute the NCI
		// column instead of stacking on a previous attempt's output.
		state.tb[i].NCI = decimal.Zero
		rows[lineKey(state.tb[i])] = &state.tb[i]
	}
	ensureRow := func(number, name string, t accounts.AccountType, category string) *TBLine {
		k := tbKey{number: number, accType: t, category: category}
		if row, ok := rows[k]; ok {
			return row
		}
		row := &TBLine{AccountNumber: number, AccountName: name, Type: t, Category: category}
		rows[k] = row
		return row
	}

	nciTotal := decimal.Zero
	pickupTotal := decimal.Zero
	for _, m := range state.group.Members {
		switch {
		case m.Method == FullConsolidation && m.OwnershipPct.LessThan(hundred):
			frac := m.NCIFraction()
			for _, b := range state.balances {
				if b.CompanyID != m.CompanyID {
					continue
				}
				switch b.Type {
				case accounts.TypeEquity, accounts.TypeRevenue, accounts.TypeExpense:
				default:
					continue
				}
				move := money.RoundBank(b.Translated.Mul(frac), money.DefaultScale)
				if move.IsZero() {
					continue
				}
				row := ensureRow(b.Number, b.Name, b.Type, b.Category)
				row.NCI = row.NCI.Sub(move)
				nciTotal = nciTotal.Add(move)
			}
		case m.Method == EquityMethod:
			netIncome := decimal.Zero
			for _, b := range state.balances {
				if b.CompanyID != m.CompanyID {
					continue
				}
				if b.Type == accounts.TypeRevenue || b.Type == accounts.TypeExpense {
					netIncome = netIncome.Add(b.Translated)
				}
			}
			pickup := money.RoundBank(netIncome.Mul(m.OwnershipFraction()), money.DefaultScale)
			if pickup.IsZero() {
				continue
			}
			investment := ensureRow(emInvestmentNumber, emInvestmentName, accounts.TypeAsset, "Investments")
			income := ensureRow(emIncomeNumber, emIncomeName, accounts.TypeRevenue, "EquityMethod")
			investment.NCI = investment.NCI.Add(pickup.Neg())
			income.NCI = income.NCI.Add(pickup)
			pickupTotal = pickupTotal.Add(pickup.Neg())
		}
	}
	if !nciTotal.IsZero() {
		nci := ensureRow(nciAccountNumber, nciAccountName, accounts.TypeEquity, "NonControllingInterest")
		nci.NCI = nci.NCI.Add(nciTotal)
	}

	tb := make([]TBLine, 0, len(rows))
	for _, row := range rows {
		tb = append(tb, *row)
	}
	state.tb = sortedSlice(tb)
	if err := e.repo.ReplaceTrialBalance(ctx, run.ID, state.tb); err != nil {
		return err
	}
	step.Details = map[string]any{
		"nciAllocated":       nciTotal.Abs().String(),
		"equityMethodPickup": pickupTotal.String(),
	}
	return nil
}

// stepGenerateTB finalises every row and proves the consolidated columns
// still balance in the reporting currency.
func (e *Engine) stepGenerateTB(ctx context.Context, run *Run, step *Step, state *runState) error {
	if err := e.ensureTB(ctx, run, state); err != nil {
		return err
	}

	totalDebits, totalCredits := decimal.Zero, decimal.Zero
	for i := range state.tb {
		row := &state.tb[i]
		row.Consolidated = row.Aggregated.Add(row.Elimination).Add(row.NCI)
		if row.Consolidated.Sign() >= 0 {
			totalDebits = totalDebits.Add(row.Consolidated)
		} else {
			totalCredits = totalCredits.Add(row.Consolidated.Neg())
		}
	}
	if !totalDebits.Equal(totalCredits) {
		return apperr.With(ErrUnbalanced, map[string]any{
			"totalDebits":  totalDebits.String(),
			"totalCredits": totalCredits.String(),
		})
	}
	if err := e.repo.ReplaceTrialBalance(ctx, run.ID, state.tb); err != nil {
		return err
	}
	step.Details = map[string]any{
		"rows":         len(state.tb),
		"totalDebits":  totalDebits.String(),
		"totalCredits": totalCredits.String(),
	}
	return nil
}
