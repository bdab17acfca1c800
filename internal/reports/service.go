package reports

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/meridian-fin/meridian/internal/accounts"
	"github.com/meridian-fin/meridian/internal/consolidation"
	"github.com/meridian-fin/meridian/internal/fiscal"
	"github.com/meridian-fin/meridian/internal/ledger"
	"github.com/meridian-fin/meridian/internal/org"
	"github.com/meridian-fin/meridian/internal/shared"
)

// CompanySource resolves companies. org.Service satisfies it.
type CompanySource interface {
	GetCompany(ctx context.Context, orgID, id uuid.UUID) (*org.Company, error)
}

// CalendarSource resolves fiscal periods. fiscal.Repository satisfies it.
type CalendarSource interface {
	GetYearByNumber(ctx context.Context, companyID uuid.UUID, year int) (*fiscal.FiscalYear, error)
	ListPeriods(ctx context.Context, yearID uuid.UUID) ([]fiscal.FiscalPeriod, error)
}

// BalanceSource reads posted account balances. ledger.Repository satisfies it.
type BalanceSource interface {
	BalancesAsOf(ctx context.Context, companyID uuid.UUID, asOf shared.Date) ([]ledger.AccountBalance, error)
	BalancesInWindow(ctx context.Context, companyID uuid.UUID, from, to shared.Date) ([]ledger.AccountBalance, error)
}

// RunSource serves completed consolidation output. consolidation.Service
// satisfies it.
type RunSource interface {
	TrialBalance(ctx context.Context, orgID, runID uuid.UUID) (*consolidation.Run, string, []consolidation.TBLine, error)
}

// cacheTTL bounds how long a rendered report may be served without rereading
// the ledger. Reports are pure functions of posted state, so staleness only
// shows up as a short lag after a post.
const cacheTTL = 30 * time.Second

// cashNumberPrefix identifies cash and cash-equivalent accounts. The built-in
// templates reserve the 11xx block for cash and banks.
const cashNumberPrefix = "11"

type cacheEntry struct {
	value   any
	expires time.Time
}

// Service renders financial statements. Concurrent requests for the same
// report collapse into one ledger read via singleflight.
type Service struct {
	logger    *slog.Logger
	companies CompanySource
	calendar  CalendarSource
	balances  BalanceSource
	runs      RunSource
	now       func() time.Time

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewService wires the reporting service.
func NewService(logger *slog.Logger, companies CompanySource, calendar CalendarSource,
	balances BalanceSource, runs RunSource) *Service {
	return &Service{
		logger:    logger,
		companies: companies,
		calendar:  calendar,
		balances:  balances,
		runs:      runs,
		now:       time.Now,
		cache:     make(map[string]cacheEntry),
	}
}

// WithNow overrides the clock for tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) cached(key string, fill func() (any, error)) (any, error) {
	s.mu.Lock()
	if e, ok := s.cache[key]; ok && s.now().Before(e.expires) {
		s.mu.Unlock()
		return e.value, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do(key, func() (any, error) {
		v, err := fill()
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cache[key] = cacheEntry{value: v, expires: s.now().Add(cacheTTL)}
		s.mu.Unlock()
		return v, nil
	})
	return v, err
}

// naturalAmount folds an account's activity onto its statement-natural side:
// assets and expenses debit-positive, everything else credit-positive. Contra
// accounts come out negative.
func naturalAmount(t accounts.AccountType, debits, credits decimal.Decimal) decimal.Decimal {
	switch t {
	case accounts.TypeAsset, accounts.TypeExpense:
		return debits.Sub(credits)
	default:
		return credits.Sub(debits)
	}
}

// TrialBalance lists every account with posted activity up to asOf.
func (s *Service) TrialBalance(ctx context.Context, orgID, companyID uuid.UUID, asOf shared.Date) (*TrialBalance, error) {
	if asOf.IsZero() {
		return nil, ErrBadAsOfDate
	}
	key := fmt.Sprintf("tb:%s:%s", companyID, asOf)
	v, err := s.cached(key, func() (any, error) {
		return s.buildTrialBalance(ctx, orgID, companyID, asOf)
	})
	if err != nil {
		return nil, err
	}
	return v.(*TrialBalance), nil
}

func (s *Service) buildTrialBalance(ctx context.Context, orgID, companyID uuid.UUID, asOf shared.Date) (*TrialBalance, error) {
	company, err := s.companies.GetCompany(ctx, orgID, companyID)
	if err != nil {
		return nil, err
	}
	bals, err := s.balances.BalancesAsOf(ctx, companyID, asOf)
	if err != nil {
		return nil, err
	}

	tb := &TrialBalance{
		CompanyID:   companyID,
		CompanyName: company.Name,
		Currency:    company.FunctionalCurrency,
		AsOf:        asOf,
	}
	for _, b := range bals {
		if b.Debits.IsZero() && b.Credits.IsZero() {
			continue
		}
		row := TBRow{
			AccountID: b.AccountID,
			Number:    b.Number,
			Name:      b.Name,
			Type:      b.Type,
			Category:  b.Category,
		}
		signed := b.Debits.Sub(b.Credits)
		if signed.Sign() >= 0 {
			row.Debit = signed
		} else {
			row.Credit = signed.Neg()
		}
		tb.TotalDebits = tb.TotalDebits.Add(row.Debit)
		tb.TotalCredits = tb.TotalCredits.Add(row.Credit)
		tb.Rows = append(tb.Rows, row)
	}
	sort.Slice(tb.Rows, func(i, j int) bool { return tb.Rows[i].Number < tb.Rows[j].Number })
	return tb, nil
}

// BalanceSheet renders the classified statement of financial position.
func (s *Service) BalanceSheet(ctx context.Context, orgID, companyID uuid.UUID, asOf shared.Date) (*BalanceSheet, error) {
	if asOf.IsZero() {
		return nil, ErrBadAsOfDate
	}
	key := fmt.Sprintf("bs:%s:%s", companyID, asOf)
	v, err := s.cached(key, func() (any, error) {
		return s.buildBalanceSheet(ctx, orgID, companyID, asOf)
	})
	if err != nil {
		return nil, err
	}
	return v.(*BalanceSheet), nil
}

func (s *Service) buildBalanceSheet(ctx context.Context, orgID, companyID uuid.UUID, asOf shared.Date) (*BalanceSheet, error) {
	company, err := s.companies.GetCompany(ctx, orgID, companyID)
	if err != nil {
		return nil, err
	}
	bals, err := s.balances.BalancesAsOf(ctx, companyID, asOf)
	if err != nil {
		return nil, err
	}

	bs := &BalanceSheet{
		CompanyID:   companyID,
		CompanyName: company.Name,
		Currency:    company.FunctionalCurrency,
		AsOf:        asOf,
	}
	netIncome := decimal.Zero
	for _, b := range bals {
		if b.Type == accounts.TypeRevenue || b.Type == accounts.TypeExpense {
			netIncome = netIncome.Add(b.Credits.Sub(b.Debits))
		}
	}
	bs.Assets = sectionize(bals, accounts.TypeAsset)
	bs.Liabilities = sectionize(bals, accounts.TypeLiability)
	bs.Equity = sectionize(bals, accounts.TypeEquity)
	if !netIncome.IsZero() {
		bs.Equity = append(bs.Equity, StatementSection{
			Title: "Current Period Earnings",
			Lines: []StatementLine{{Name: "Current Period Earnings", Amount: netIncome}},
			Total: netIncome,
		})
	}
	for _, sec := range bs.Assets {
		bs.TotalAssets = bs.TotalAssets.Add(sec.Total)
	}
	for _, sec := range bs.Liabilities {
		bs.TotalLiabilities = bs.TotalLiabilities.Add(sec.Total)
	}
	for _, sec := range bs.Equity {
		bs.TotalEquity = bs.TotalEquity.Add(sec.Total)
	}
	return bs, nil
}

// sectionize groups one account type's non-zero balances by category, ordered
// by account number within and across sections.
func sectionize(bals []ledger.AccountBalance, t accounts.AccountType) []StatementSection {
	var filtered []ledger.AccountBalance
	for _, b := range bals {
		if b.Type != t || (b.Debits.IsZero() && b.Credits.IsZero()) {
			continue
		}
		filtered = append(filtered, b)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Number < filtered[j].Number })

	var (
		out   []StatementSection
		index = map[string]int{}
	)
	for _, b := range filtered {
		i, ok := index[b.Category]
		if !ok {
			i = len(out)
			index[b.Category] = i
			out = append(out, StatementSection{Title: b.Category})
		}
		amount := naturalAmount(b.Type, b.Debits, b.Credits)
		out[i].Lines = append(out[i].Lines, StatementLine{Number: b.Number, Name: b.Name, Amount: amount})
		out[i].Total = out[i].Total.Add(amount)
	}
	return out
}

// IncomeStatement renders the period P&L, optionally comparative against the
// preceding regular period. When the prior fiscal year does not exist the
// statement silently degrades to single-period.
func (s *Service) IncomeStatement(ctx context.Context, orgID, companyID uuid.UUID, year, period int, comparative bool) (*IncomeStatement, error) {
	key := fmt.Sprintf("is:%s:%d:%d:%t", companyID, year, period, comparative)
	v, err := s.cached(key, func() (any, error) {
		return s.buildIncomeStatement(ctx, orgID, companyID, year, period, comparative)
	})
	if err != nil {
		return nil, err
	}
	return v.(*IncomeStatement), nil
}

func (s *Service) buildIncomeStatement(ctx context.Context, orgID, companyID uuid.UUID, year, period int, comparative bool) (*IncomeStatement, error) {
	company, err := s.companies.GetCompany(ctx, orgID, companyID)
	if err != nil {
		return nil, err
	}
	window, err := s.periodWindow(ctx, companyID, year, period)
	if err != nil {
		return nil, err
	}
	current, err := s.balances.BalancesInWindow(ctx, companyID, window.StartDate, window.EndDate)
	if err != nil {
		return nil, err
	}

	is := &IncomeStatement{
		CompanyID:   companyID,
		CompanyName: company.Name,
		Currency:    company.FunctionalCurrency,
		Year:        year,
		Period:      period,
	}

	prior := map[string]decimal.Decimal{}
	if comparative {
		py, pp := priorRef(year, period)
		pw, err := s.periodWindow(ctx, companyID, py, pp)
		switch {
		case err == nil:
			rows, err := s.balances.BalancesInWindow(ctx, companyID, pw.StartDate, pw.EndDate)
			if err != nil {
				return nil, err
			}
			for _, b := range rows {
				if b.Type == accounts.TypeRevenue || b.Type == accounts.TypeExpense {
					prior[b.Number] = naturalAmount(b.Type, b.Debits, b.Credits)
				}
			}
			is.Comparative = true
			is.PriorYear = py
			is.PriorPeriod = pp
		default:
			s.logger.Debug("comparative period unavailable",
				slog.String("companyId", companyID.String()),
				slog.Int("year", year), slog.Int("period", period))
		}
	}

	appendLines := func(t accounts.AccountType) []ComparativeLine {
		var lines []ComparativeLine
		for _, b := range current {
			if b.Type != t {
				continue
			}
			amount := naturalAmount(b.Type, b.Debits, b.Credits)
			p := prior[b.Number]
			delete(prior, b.Number)
			if amount.IsZero() && p.IsZero() {
				continue
			}
			lines = append(lines, ComparativeLine{Number: b.Number, Name: b.Name, Amount: amount, Prior: p})
		}
		sort.Slice(lines, func(i, j int) bool { return lines[i].Number < lines[j].Number })
		return lines
	}
	is.Revenue = appendLines(accounts.TypeRevenue)
	is.Expenses = appendLines(accounts.TypeExpense)

	for _, l := range is.Revenue {
		is.TotalRevenue = is.TotalRevenue.Add(l.Amount)
		is.PriorRevenue = is.PriorRevenue.Add(l.Prior)
	}
	for _, l := range is.Expenses {
		is.TotalExpenses = is.TotalExpenses.Add(l.Amount)
		is.PriorExpenses = is.PriorExpenses.Add(l.Prior)
	}
	is.NetIncome = is.TotalRevenue.Sub(is.TotalExpenses)
	is.PriorNet = is.PriorRevenue.Sub(is.PriorExpenses)
	return is, nil
}

// priorRef returns the period immediately preceding (year, period); period 1
// compares against the last regular period of the previous year.
func priorRef(year, period int) (int, int) {
	if period > 1 {
		return year, period - 1
	}
	return year - 1, 12
}

// CashFlow renders the period cash-flow statement. Cash movements classify by
// each account's cash-flow category; the indirect presentation starts from
// net income and adjusts operating working-capital movements.
func (s *Service) CashFlow(ctx context.Context, orgID, companyID uuid.UUID, year, period int, method CashFlowMethod) (*CashFlowStatement, error) {
	if !ValidCashFlowMethod(method) {
		return nil, ErrBadMethod
	}
	key := fmt.Sprintf("cf:%s:%d:%d:%s", companyID, year, period, method)
	v, err := s.cached(key, func() (any, error) {
		return s.buildCashFlow(ctx, orgID, companyID, year, period, method)
	})
	if err != nil {
		return nil, err
	}
	return v.(*CashFlowStatement), nil
}

func isCashAccount(b ledger.AccountBalance) bool {
	return b.Type == accounts.TypeAsset && strings.HasPrefix(b.Number, cashNumberPrefix)
}

func (s *Service) buildCashFlow(ctx context.Context, orgID, companyID uuid.UUID, year, period int, method CashFlowMethod) (*CashFlowStatement, error) {
	company, err := s.companies.GetCompany(ctx, orgID, companyID)
	if err != nil {
		return nil, err
	}
	window, err := s.periodWindow(ctx, companyID, year, period)
	if err != nil {
		return nil, err
	}
	movements, err := s.balances.BalancesInWindow(ctx, companyID, window.StartDate, window.EndDate)
	if err != nil {
		return nil, err
	}
	opening, err := s.balances.BalancesAsOf(ctx, companyID, window.StartDate.AddDays(-1))
	if err != nil {
		return nil, err
	}
	closing, err := s.balances.BalancesAsOf(ctx, companyID, window.EndDate)
	if err != nil {
		return nil, err
	}

	cf := &CashFlowStatement{
		CompanyID:   companyID,
		CompanyName: company.Name,
		Currency:    company.FunctionalCurrency,
		Year:        year,
		Period:      period,
		Method:      method,
	}
	for _, b := range opening {
		if isCashAccount(b) {
			cf.CashAtStart = cf.CashAtStart.Add(b.Debits.Sub(b.Credits))
		}
	}
	for _, b := range closing {
		if isCashAccount(b) {
			cf.CashAtEnd = cf.CashAtEnd.Add(b.Debits.Sub(b.Credits))
		}
	}

	netIncome := decimal.Zero
	for _, b := range movements {
		if b.Type == accounts.TypeRevenue || b.Type == accounts.TypeExpense {
			netIncome = netIncome.Add(b.Credits.Sub(b.Debits))
		}
	}

	sorted := append([]ledger.AccountBalance(nil), movements...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })
	for _, b := range sorted {
		if isCashAccount(b) || b.CashFlow == accounts.CashFlowNone || b.CashFlow == "" {
			continue
		}
		if b.Debits.IsZero() && b.Credits.IsZero() {
			continue
		}
		// Cash provided is positive: a debit build-up in a non-cash account
		// consumed cash somewhere else.
		contribution := b.Credits.Sub(b.Debits)
		line := StatementLine{Number: b.Number, Name: b.Name, Amount: contribution}
		income := b.Type == accounts.TypeRevenue || b.Type == accounts.TypeExpense
		switch b.CashFlow {
		case accounts.CashFlowOperating:
			if method == CashFlowIndirect && income {
				// Already inside net income.
				continue
			}
			cf.Operating = append(cf.Operating, line)
			cf.NetOperating = cf.NetOperating.Add(contribution)
		case accounts.CashFlowInvesting:
			cf.Investing = append(cf.Investing, line)
			cf.NetInvesting = cf.NetInvesting.Add(contribution)
		case accounts.CashFlowFinancing:
			cf.Financing = append(cf.Financing, line)
			cf.NetFinancing = cf.NetFinancing.Add(contribution)
		}
	}
	if method == CashFlowIndirect {
		cf.NetIncome = netIncome
		cf.NetOperating = cf.NetOperating.Add(netIncome)
	}
	cf.NetChange = cf.NetOperating.Add(cf.NetInvesting).Add(cf.NetFinancing)
	cf.Reconciled = cf.CashAtStart.Add(cf.NetChange).Equal(cf.CashAtEnd)
	return cf, nil
}

// EquityStatement renders the statement of changes in equity for one fiscal
// year, with the year's net income shown separately from per-account
// movements.
func (s *Service) EquityStatement(ctx context.Context, orgID, companyID uuid.UUID, year int) (*EquityStatement, error) {
	key := fmt.Sprintf("eq:%s:%d", companyID, year)
	v, err := s.cached(key, func() (any, error) {
		return s.buildEquityStatement(ctx, orgID, companyID, year)
	})
	if err != nil {
		return nil, err
	}
	return v.(*EquityStatement), nil
}

func (s *Service) buildEquityStatement(ctx context.Context, orgID, companyID uuid.UUID, year int) (*EquityStatement, error) {
	company, err := s.companies.GetCompany(ctx, orgID, companyID)
	if err != nil {
		return nil, err
	}
	fy, err := s.calendar.GetYearByNumber(ctx, companyID, year)
	if err != nil {
		return nil, err
	}
	opening, err := s.balances.BalancesAsOf(ctx, companyID, fy.StartDate.AddDays(-1))
	if err != nil {
		return nil, err
	}
	movements, err := s.balances.BalancesInWindow(ctx, companyID, fy.StartDate, fy.EndDate)
	if err != nil {
		return nil, err
	}

	es := &EquityStatement{
		CompanyID:   companyID,
		CompanyName: company.Name,
		Currency:    company.FunctionalCurrency,
		Year:        year,
	}
	type acct struct {
		name     string
		opening  decimal.Decimal
		movement decimal.Decimal
	}
	byNumber := map[string]*acct{}
	ensure := func(number, name string) *acct {
		a, ok := byNumber[number]
		if !ok {
			a = &acct{name: name}
			byNumber[number] = a
		}
		return a
	}
	for _, b := range opening {
		if b.Type != accounts.TypeEquity || (b.Debits.IsZero() && b.Credits.IsZero()) {
			continue
		}
		ensure(b.Number, b.Name).opening = b.Credits.Sub(b.Debits)
	}
	for _, b := range movements {
		switch {
		case b.Type == accounts.TypeEquity && !(b.Debits.IsZero() && b.Credits.IsZero()):
			ensure(b.Number, b.Name).movement = b.Credits.Sub(b.Debits)
		case b.Type == accounts.TypeRevenue || b.Type == accounts.TypeExpense:
			es.NetIncome = es.NetIncome.Add(b.Credits.Sub(b.Debits))
		}
	}

	numbers := make([]string, 0, len(byNumber))
	for n := range byNumber {
		numbers = append(numbers, n)
	}
	sort.Strings(numbers)
	for _, n := range numbers {
		a := byNumber[n]
		row := EquityRow{
			Number:   n,
			Name:     a.name,
			Opening:  a.opening,
			Movement: a.movement,
			Closing:  a.opening.Add(a.movement),
		}
		es.Rows = append(es.Rows, row)
		es.TotalOpening = es.TotalOpening.Add(row.Opening)
		es.TotalClosing = es.TotalClosing.Add(row.Closing)
	}
	es.TotalClosing = es.TotalClosing.Add(es.NetIncome)
	return es, nil
}

// ConsolidatedBalanceSheet derives the group statement of financial position
// from a completed run's consolidated trial balance.
func (s *Service) ConsolidatedBalanceSheet(ctx context.Context, orgID, runID uuid.UUID) (*ConsolidatedStatement, error) {
	run, currency, tb, err := s.runs.TrialBalance(ctx, orgID, runID)
	if err != nil {
		return nil, err
	}
	netIncome := decimal.Zero
	for _, l := range tb {
		if l.Type == accounts.TypeRevenue || l.Type == accounts.TypeExpense {
			netIncome = netIncome.Sub(l.Consolidated)
		}
	}
	sections := []StatementSection{
		consolidatedSection("Assets", tb, accounts.TypeAsset),
		consolidatedSection("Liabilities", tb, accounts.TypeLiability),
		consolidatedSection("Equity", tb, accounts.TypeEquity),
	}
	if !netIncome.IsZero() {
		sections[2].Lines = append(sections[2].Lines, StatementLine{Name: "Current Period Earnings", Amount: netIncome})
		sections[2].Total = sections[2].Total.Add(netIncome)
	}
	out := &ConsolidatedStatement{
		RunID:    run.ID,
		GroupID:  run.GroupID,
		Currency: currency,
		AsOf:     run.AsOfDate,
		Sections: sections,
	}
	out.Total = sections[0].Total
	return out, nil
}

// ConsolidatedIncomeStatement derives the group P&L from a completed run's
// consolidated trial balance.
func (s *Service) ConsolidatedIncomeStatement(ctx context.Context, orgID, runID uuid.UUID) (*ConsolidatedStatement, error) {
	run, currency, tb, err := s.runs.TrialBalance(ctx, orgID, runID)
	if err != nil {
		return nil, err
	}
	revenue := consolidatedSection("Revenue", tb, accounts.TypeRevenue)
	expenses := consolidatedSection("Expenses", tb, accounts.TypeExpense)
	out := &ConsolidatedStatement{
		RunID:    run.ID,
		GroupID:  run.GroupID,
		Currency: currency,
		AsOf:     run.AsOfDate,
		Sections: []StatementSection{revenue, expenses},
	}
	out.Total = revenue.Total.Sub(expenses.Total)
	return out, nil
}

func consolidatedSection(title string, tb []consolidation.TBLine, t accounts.AccountType) StatementSection {
	sec := StatementSection{Title: title}
	for _, l := range tb {
		if l.Type != t || l.Consolidated.IsZero() {
			continue
		}
		amount := naturalAmount(t, l.Consolidated, decimal.Zero)
		sec.Lines = append(sec.Lines, StatementLine{Number: l.AccountNumber, Name: l.AccountName, Amount: amount})
		sec.Total = sec.Total.Add(amount)
	}
	return sec
}

func (s *Service) periodWindow(ctx context.Context, companyID uuid.UUID, year, period int) (*fiscal.FiscalPeriod, error) {
	fy, err := s.calendar.GetYearByNumber(ctx, companyID, year)
	if err != nil {
		return nil, err
	}
	periods, err := s.calendar.ListPeriods(ctx, fy.ID)
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
