package yearend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/meridian-fin/meridian/internal/accounts"
	"github.com/meridian-fin/meridian/internal/apperr"
	"github.com/meridian-fin/meridian/internal/fiscal"
	"github.com/meridian-fin/meridian/internal/ledger"
	"github.com/meridian-fin/meridian/internal/shared"
)

// CalendarSource resolves fiscal years and periods. *fiscal* repositories
// satisfy it.
type CalendarSource interface {
	GetYearByNumber(ctx context.Context, companyID uuid.UUID, year int) (*fiscal.FiscalYear, error)
	ListPeriods(ctx context.Context, yearID uuid.UUID) ([]fiscal.FiscalPeriod, error)
}

// LedgerSource is the slice of the journal repository the close reads.
type LedgerSource interface {
	Get(ctx context.Context, companyID, entryID uuid.UUID) (*ledger.JournalEntry, error)
	BalancesInWindow(ctx context.Context, companyID uuid.UUID, from, to shared.Date) ([]ledger.AccountBalance, error)
	InsertPostedTx(ctx context.Context, tx pgx.Tx, e *ledger.JournalEntry, audit shared.AuditRecord) error
}

// Service executes year-end close previews, closes and reopens.
type Service struct {
	logger   *slog.Logger
	repo     Repository
	calendar CalendarSource
	ledger   LedgerSource
	now      func() time.Time
}

// NewService wires the year-end engine.
func NewService(logger *slog.Logger, repo Repository, calendar CalendarSource, ledgerSource LedgerSource) *Service {
	return &Service{logger: logger, repo: repo, calendar: calendar, ledger: ledgerSource, now: time.Now}
}

// WithNow overrides the clock for tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// Preview computes the close dry-run: income statement totals and blockers.
func (s *Service) Preview(ctx context.Context, companyID uuid.UUID, year int) (*Preview, error) {
	y, err := s.calendar.GetYearByNumber(ctx, companyID, year)
	if err != nil {
		return nil, err
	}
	cc, err := s.repo.CloseContext(ctx, companyID)
	if err != nil {
		return nil, err
	}
	balances, err := s.ledger.BalancesInWindow(ctx, companyID, y.StartDate, y.EndDate)
	if err != nil {
		return nil, err
	}
	unposted, err := s.repo.CountUnposted(ctx, companyID, y.StartDate, y.EndDate)
	if err != nil {
		return nil, err
	}

	p := &Preview{Year: year, RetainedEarningsAccountID: cc.RetainedEarningsAccountID}
	debits, credits := decimal.Zero, decimal.Zero
	for _, b := range balances {
		debits = debits.Add(b.Debits)
		credits = credits.Add(b.Credits)
		switch b.Type {
		case accounts.TypeRevenue:
			p.TotalRevenue = p.TotalRevenue.Add(b.Balance())
		case accounts.TypeExpense:
			p.TotalExpenses = p.TotalExpenses.Add(b.Balance())
		}
	}
	p.NetIncome = p.TotalRevenue.Sub(p.TotalExpenses)

	if y.Status != fiscal.YearOpen {
		p.Blockers = append(p.Blockers, Blocker{Code: BlockerYearNotOpen,
			Message: fmt.Sprintf("fiscal year %d is %s", year, y.Status)})
	}
	if cc.RetainedEarningsAccountID == nil {
		p.Blockers = append(p.Blockers, Blocker{Code: BlockerRetainedEarnings,
			Message: "company has no retained-earnings account configured"})
	}
	if unposted > 0 {
		p.Blockers = append(p.Blockers, Blocker{Code: BlockerUnpostedEntries,
			Message: fmt.Sprintf("%d journal entries in the year are not Posted", unposted)})
	}
	if !debits.Equal(credits) {
		p.Blockers = append(p.Blockers, Blocker{Code: BlockerTrialBalance,
			Message: fmt.Sprintf("trial balance off by %s", debits.Sub(credits).Abs())})
	}
	return p, nil
}

// Close rolls the year's net income into retained earnings and closes the
// calendar. The closing entries, period closes and year close commit in one
// transaction.
func (s *Service) Close(ctx context.Context, companyID, actorID uuid.UUID, year int) (*CloseResult, error) {
	y, err := s.calendar.GetYearByNumber(ctx, companyID, year)
	if err != nil {
		return nil, err
	}
	if y.Status != fiscal.YearOpen {
		return nil, fiscal.ErrYearTransition
	}
	cc, err := s.repo.CloseContext(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if cc.RetainedEarningsAccountID == nil {
		return nil, ErrRetainedEarnings
	}
	unposted, err := s.repo.CountUnposted(ctx, companyID, y.StartDate, y.EndDate)
	if err != nil {
		return nil, err
	}
	if unposted > 0 {
		return nil, apperr.With(ErrUnpostedEntries, map[string]any{"count": unposted})
	}
	balances, err := s.ledger.BalancesInWindow(ctx, companyID, y.StartDate, y.EndDate)
	if err != nil {
		return nil, err
	}
	debits, credits := decimal.Zero, decimal.Zero
	for _, b := range balances {
		debits = debits.Add(b.Debits)
		credits = credits.Add(b.Credits)
	}
	if !debits.Equal(credits) {
		return nil, apperr.With(ErrTrialBalance, map[string]any{
			"totalDebits":  debits.String(),
			"totalCredits": credits.String(),
		})
	}

	periods, err := s.calendar.ListPeriods(ctx, y.ID)
	if err != nil {
		return nil, err
	}
	target := closingPeriod(periods)
	if target == nil {
		return nil, fiscal.ErrPeriodNotFound
	}

	now := s.now()
	entry, netIncome := buildClosingEntry(companyID, actorID, cc, y, target, balances, now)

	var entries []ledger.JournalEntry
	if entry != nil {
		entries = append(entries, *entry)
	}
	periodsClosed, err := s.repo.Close(ctx, CloseParams{
		CompanyID: companyID,
		YearID:    y.ID,
		OrgID:     cc.OrgID,
		ActorID:   actorID,
		Entries:   entries,
		At:        now,
	})
	if err != nil {
		return nil, err
	}

	res := &CloseResult{NetIncome: netIncome, PeriodsClosed: periodsClosed}
	for _, e := range entries {
		res.ClosingEntryIDs = append(res.ClosingEntryIDs, e.ID)
	}
	s.logger.Info("fiscal year closed",
		slog.String("companyId", companyID.String()),
		slog.Int("year", year),
		slog.String("netIncome", netIncome.String()))
	return res, nil
}

// Reopen reverses the year's closing entries and reopens the calendar.
func (s *Service) Reopen(ctx context.Context, companyID, actorID uuid.UUID, year int) (*ReopenResult, error) {
	y, err := s.calendar.GetYearByNumber(ctx, companyID, year)
	if err != nil {
		return nil, err
	}
	if y.Status != fiscal.YearClosed {
		return nil, fiscal.ErrYearTransition
	}
	cc, err := s.repo.CloseContext(ctx, companyID)
	if err != nil {
		return nil, err
	}
	ids, err := s.repo.ClosingEntryIDs(ctx, companyID, year)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNoClosingEntries
	}

	now := s.now()
	var reversals []ledger.JournalEntry
	for _, id := range ids {
		original, err := s.ledger.Get(ctx, companyID, id)
		if err != nil {
			return nil, err
		}
		rev := ledger.BuildReversal(original, original.TransactionDate, actorID, now)
		rev.FiscalYear = original.FiscalYear
		rev.FiscalPeriod = original.FiscalPeriod
		reversals = append(reversals, rev)
	}

	periodsReopened, err := s.repo.Reopen(ctx, ReopenParams{
		CompanyID: companyID,
		YearID:    y.ID,
		OrgID:     cc.OrgID,
		ActorID:   actorID,
		Originals: ids,
		Reversals: reversals,
		At:        now,
	})
	if err != nil {
		return nil, err
	}

	res := &ReopenResult{PeriodsReopened: periodsReopened}
	for _, rev := range reversals {
		res.ReversingEntryIDs = append(res.ReversingEntryIDs, rev.ID)
	}
	s.logger.Info("fiscal year reopened",
		slog.String("companyId", companyID.String()),
		slog.Int("year", year),
		slog.Int("reversingEntries", len(reversals)))
	return res, nil
}

// closingPeriod picks the adjustment period when the year has one, else the
// last regular period.
func closingPeriod(periods []fiscal.FiscalPeriod) *fiscal.FiscalPeriod {
	var last *fiscal.FiscalPeriod
	for i := range periods {
		p := &periods[i]
		if p.IsAdjustment {
			return p
		}
		if last == nil || p.Number > last.Number {
			last = p
		}
	}
	return last
}

// buildClosingEntry zeroes every Revenue and Expense balance and offsets the
// difference against retained earnings. Returns nil when the year has no
// income-statement activity.
func buildClosingEntry(companyID, actorID uuid.UUID, cc *CloseContext, y *fiscal.FiscalYear,
	target *fiscal.FiscalPeriod, balances []ledger.AccountBalance, at time.Time) (*ledger.JournalEntry, decimal.Decimal) {

	entry := ledger.JournalEntry{
		ID:              uuid.New(),
		CompanyID:       companyID,
		Type:            ledger.TypeClosing,
		Status:          ledger.StatusPosted,
		Currency:        cc.FunctionalCurrency,
		TransactionDate: target.EndDate,
		FiscalYear:      &y.Year,
		FiscalPeriod:    &target.Number,
		Description:     fmt.Sprintf("Year-end close FY%d", y.Year),
		SourceModule:    "yearend",
		CreatedBy:       actorID,
		CreatedAt:       at,
		UpdatedAt:       at,
		PostedBy:        &actorID,
		PostedAt:        &at,
	}

	one := decimal.NewFromInt(1)
	netIncome := decimal.Zero
	lineNo := 0
	addLine := func(accountID uuid.UUID, debit, credit decimal.Decimal) {
		lineNo++
		entry.Lines = append(entry.Lines, ledger.Line{
			ID:               uuid.New(),
			EntryID:          entry.ID,
			LineNumber:       lineNo,
			AccountID:        accountID,
			Debit:            debit,
			Credit:           credit,
			FunctionalDebit:  debit,
			FunctionalCredit: credit,
			ExchangeRate:     one,
		})
	}

	for _, b := range balances {
		if b.Type != accounts.TypeRevenue && b.Type != accounts.TypeExpense {
			continue
		}
		bal := b.Balance()
		if bal.IsZero() {
			continue
		}
		if b.Type == accounts.TypeRevenue {
			netIncome = netIncome.Add(bal)
		} else {
			netIncome = netIncome.Sub(bal)
		}
		// Zero the account against its normal side.
		closesWithDebit := b.NormalBalance == accounts.NormalCredit
		if bal.IsNegative() {
			closesWithDebit = !closesWithDebit
			bal = bal.Neg()
		}
		if closesWithDebit {
			addLine(b.AccountID, bal, decimal.Zero)
		} else {
			addLine(b.AccountID, decimal.Zero, bal)
		}
	}
	if lineNo == 0 {
		return nil, decimal.Zero
	}

	switch {
	case netIncome.IsPositive():
		addLine(*cc.RetainedEarningsAccountID, decimal.Zero, netIncome)
	case netIncome.IsNegative():
		addLine(*cc.RetainedEarningsAccountID, netIncome.Neg(), decimal.Zero)
	}
	return &entry, netIncome
}
