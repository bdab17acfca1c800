package consolidation

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-fin/meridian/internal/accounts"
	"github.com/meridian-fin/meridian/internal/fiscal"
	"github.com/meridian-fin/meridian/internal/fx"
	"github.com/meridian-fin/meridian/internal/intercompany"
	"github.com/meridian-fin/meridian/internal/ledger"
	"github.com/meridian-fin/meridian/internal/org"
	"github.com/meridian-fin/meridian/internal/shared"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

type fakeConsolRepo struct {
	groups    map[uuid.UUID]*Group
	rules     map[uuid.UUID][]EliminationRule
	runs      map[uuid.UUID]*Run
	balances  map[uuid.UUID][]MemberBalance
	entries   map[uuid.UUID][]EliminationEntry
	tb        map[uuid.UUID][]TBLine
	cancelled map[uuid.UUID]bool

	saveHook    func(run *Run)
	saveErr     func(run *Run) error
	entriesFail error
}

func newFakeConsolRepo() *fakeConsolRepo {
	return &fakeConsolRepo{
		groups:    map[uuid.UUID]*Group{},
		rules:     map[uuid.UUID][]EliminationRule{},
		runs:      map[uuid.UUID]*Run{},
		balances:  map[uuid.UUID][]MemberBalance{},
		entries:   map[uuid.UUID][]EliminationEntry{},
		tb:        map[uuid.UUID][]TBLine{},
		cancelled: map[uuid.UUID]bool{},
	}
}

func (f *fakeConsolRepo) InsertGroup(ctx context.Context, g Group) error {
	cp := g
	f.groups[g.ID] = &cp
	return nil
}

func (f *fakeConsolRepo) GetGroup(ctx context.Context, orgID, groupID uuid.UUID) (*Group, error) {
	g, ok := f.groups[groupID]
	if !ok || g.OrgID != orgID {
		return nil, ErrGroupNotFound
	}
	cp := *g
	cp.Members = append([]Member(nil), g.Members...)
	return &cp, nil
}

func (f *fakeConsolRepo) ListGroups(ctx context.Context, orgID uuid.UUID, page shared.Page) ([]Group, error) {
	var out []Group
	for _, g := range f.groups {
		if g.OrgID == orgID {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (f *fakeConsolRepo) UpdateGroup(ctx context.Context, g Group) error {
	stored, ok := f.groups[g.ID]
	if !ok {
		return ErrGroupNotFound
	}
	g.Members = stored.Members
	*stored = g
	return nil
}

func (f *fakeConsolRepo) DeleteGroup(ctx context.Context, orgID, groupID uuid.UUID) error {
	delete(f.groups, groupID)
	return nil
}

func (f *fakeConsolRepo) InsertMember(ctx context.Context, m Member) error {
	g := f.groups[m.GroupID]
	for _, existing := range g.Members {
		if existing.CompanyID == m.CompanyID {
			return ErrMemberExists
		}
	}
	g.Members = append(g.Members, m)
	return nil
}

func (f *fakeConsolRepo) UpdateMember(ctx context.Context, m Member) error {
	g := f.groups[m.GroupID]
	for i := range g.Members {
		if g.Members[i].ID == m.ID {
			g.Members[i] = m
			return nil
		}
	}
	return ErrMemberNotFound
}

func (f *fakeConsolRepo) DeleteMember(ctx context.Context, groupID, memberID uuid.UUID) error {
	g := f.groups[groupID]
	for i := range g.Members {
		if g.Members[i].ID == memberID {
			g.Members = append(g.Members[:i], g.Members[i+1:]...)
			return nil
		}
	}
	return ErrMemberNotFound
}

func (f *fakeConsolRepo) InsertRule(ctx context.Context, r EliminationRule) error {
	f.rules[r.GroupID] = append(f.rules[r.GroupID], r)
	return nil
}

func (f *fakeConsolRepo) GetRule(ctx context.Context, groupID, ruleID uuid.UUID) (*EliminationRule, error) {
	for _, r := range f.rules[groupID] {
		if r.ID == ruleID {
			cp := r
			return &cp, nil
		}
	}
	return nil, ErrRuleNotFound
}

func (f *fakeConsolRepo) ListRules(ctx context.Context, groupID uuid.UUID, activeOnly bool) ([]EliminationRule, error) {
	var out []EliminationRule
	for _, r := range f.rules[groupID] {
		if activeOnly && !r.IsActive {
			continue
		}
		out = append(out, r)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Priority < out[i].Priority {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (f *fakeConsolRepo) UpdateRule(ctx context.Context, r EliminationRule) error {
	rules := f.rules[r.GroupID]
	for i := range rules {
		if rules[i].ID == r.ID {
			rules[i] = r
			return nil
		}
	}
	return ErrRuleNotFound
}

func (f *fakeConsolRepo) DeleteRule(ctx context.Context, groupID, ruleID uuid.UUID) error {
	rules := f.rules[groupID]
	for i := range rules {
		if rules[i].ID == ruleID {
			f.rules[groupID] = append(rules[:i], rules[i+1:]...)
			return nil
		}
	}
	return ErrRuleNotFound
}

func (f *fakeConsolRepo) InsertRun(ctx context.Context, run Run) error {
	cp := run
	f.runs[run.ID] = &cp
	return nil
}

func (f *fakeConsolRepo) GetRun(ctx context.Context, orgID, runID uuid.UUID) (*Run, error) {
	run, ok := f.runs[runID]
	if !ok || run.OrgID != orgID {
		return nil, ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (f *fakeConsolRepo) ListRuns(ctx context.Context, orgID, groupID uuid.UUID, page shared.Page) ([]Run, error) {
	var out []Run
	for _, run := range f.runs {
		if run.OrgID == orgID && run.GroupID == groupID {
			out = append(out, *run)
		}
	}
	return out, nil
}

func (f *fakeConsolRepo) SaveRun(ctx context.Context, run *Run) error {
	if f.saveErr != nil {
		if err := f.saveErr(run); err != nil {
			return err
		}
	}
	cp := *run
	f.runs[run.ID] = &cp
	if f.saveHook != nil {
		f.saveHook(run)
	}
	return nil
}

func (f *fakeConsolRepo) HasActiveRun(ctx context.Context, groupID uuid.UUID, year, period int) (bool, error) {
	for _, run := range f.runs {
		if run.GroupID == groupID && run.Year == year && run.Period == period &&
			(run.Status == RunPending || run.Status == RunInProgress) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeConsolRepo) SetCancelRequested(ctx context.Context, runID uuid.UUID) error {
	f.cancelled[runID] = true
	if run, ok := f.runs[runID]; ok {
		run.CancelRequested = true
	}
	return nil
}

func (f *fakeConsolRepo) CancelRequested(ctx context.Context, runID uuid.UUID) (bool, error) {
	return f.cancelled[runID], nil
}

func (f *fakeConsolRepo) StalledRuns(ctx context.Context, idleSince time.Time) ([]RunRef, error) {
	return nil, nil
}

func (f *fakeConsolRepo) AcquireRunLock(ctx context.Context, key int64) (func(context.Context), bool, error) {
	return func(context.Context) {}, true, nil
}

func (f *fakeConsolRepo) ReplaceBalances(ctx context.Context, runID uuid.UUID, rows []MemberBalance) error {
	f.balances[runID] = append([]MemberBalance(nil), rows...)
	return nil
}

func (f *fakeConsolRepo) RunBalances(ctx context.Context, runID uuid.UUID) ([]MemberBalance, error) {
	return append([]MemberBalance(nil), f.balances[runID]...), nil
}

func (f *fakeConsolRepo) ReplaceEntries(ctx context.Context, runID uuid.UUID, entries []EliminationEntry) error {
	if f.entriesFail != nil {
		err := f.entriesFail
		f.entriesFail = nil
		return err
	}
	f.entries[runID] = append([]EliminationEntry(nil), entries...)
	return nil
}

func (f *fakeConsolRepo) RunEntries(ctx context.Context, runID uuid.UUID) ([]EliminationEntry, error) {
	return append([]EliminationEntry(nil), f.entries[runID]...), nil
}

func (f *fakeConsolRepo) ReplaceTrialBalance(ctx context.Context, runID uuid.UUID, rows []TBLine) error {
	f.tb[runID] = append([]TBLine(nil), rows...)
	return nil
}

func (f *fakeConsolRepo) TrialBalance(ctx context.Context, runID uuid.UUID) ([]TBLine, error) {
	return append([]TBLine(nil), f.tb[runID]...), nil
}

type fakeSources struct {
	companies    map[uuid.UUID]*org.Company
	years        map[uuid.UUID]*fiscal.FiscalYear
	periods      map[uuid.UUID][]fiscal.FiscalPeriod
	balances     map[uuid.UUID][]ledger.AccountBalance
	averages     map[string]decimal.Decimal
	closings     map[string]decimal.Decimal
	historicals  map[string]decimal.Decimal
	txs          []intercompany.Transaction
	balanceCalls int
}

func newFakeSources() *fakeSources {
	return &fakeSources{
		companies:   map[uuid.UUID]*org.Company{},
		years:       map[uuid.UUID]*fiscal.FiscalYear{},
		periods:     map[uuid.UUID][]fiscal.FiscalPeriod{},
		balances:    map[uuid.UUID][]ledger.AccountBalance{},
		averages:    map[string]decimal.Decimal{},
		closings:    map[string]decimal.Decimal{},
		historicals: map[string]decimal.Decimal{},
	}
}

func (f *fakeSources) GetCompany(ctx context.Context, orgID, id uuid.UUID) (*org.Company, error) {
	c, ok := f.companies[id]
	if !ok {
		return nil, org.ErrCompanyNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeSources) GetYearByNumber(ctx context.Context, companyID uuid.UUID, year int) (*fiscal.FiscalYear, error) {
	fy, ok := f.years[companyID]
	if !ok || fy.Year != year {
		return nil, fiscal.ErrYearNotFound
	}
	return fy, nil
}

func (f *fakeSources) ListPeriods(ctx context.Context, yearID uuid.UUID) ([]fiscal.FiscalPeriod, error) {
	return f.periods[yearID], nil
}

func (f *fakeSources) BalancesAsOf(ctx context.Context, companyID uuid.UUID, asOf shared.Date) ([]ledger.AccountBalance, error) {
	f.balanceCalls++
	return append([]ledger.AccountBalance(nil), f.balances[companyID]...), nil
}

func (f *fakeSources) GetPeriodAverage(ctx context.Context, orgID uuid.UUID, from, to string, w fx.Window) (decimal.Decimal, error) {
	rate, ok := f.averages[from+to]
	if !ok {
		return decimal.Zero, fx.ErrRateNotFound
	}
	return rate, nil
}

func (f *fakeSources) GetPeriodClosing(ctx context.Context, orgID uuid.UUID, from, to string, w fx.Window) (decimal.Decimal, error) {
	rate, ok := f.closings[from+to]
	if !ok {
		return decimal.Zero, fx.ErrRateNotFound
	}
	return rate, nil
}

func (f *fakeSources) GetClosest(ctx context.Context, orgID uuid.UUID, from, to string, t fx.RateType, date shared.Date) (*fx.ExchangeRate, error) {
	rate, ok := f.historicals[from+to]
	if !ok {
		return nil, fx.ErrRateNotFound
	}
	return &fx.ExchangeRate{FromCurrency: from, ToCurrency: to, Type: t, Rate: rate}, nil
}

func (f *fakeSources) List(ctx context.Context, orgID uuid.UUID, flt intercompany.Filter) ([]intercompany.Transaction, error) {
	start := flt.Page.Offset
	if start > len(f.txs) {
		start = len(f.txs)
	}
	end := len(f.txs)
	if flt.Page.Limit > 0 && start+flt.Page.Limit < end {
		end = start + flt.Page.Limit
	}
	return append([]intercompany.Transaction(nil), f.txs[start:end]...), nil
}

type pipelineFixture struct {
	engine *Engine
	repo   *fakeConsolRepo
	srcs   *fakeSources
	orgID  uuid.UUID
	group  *Group
	parent uuid.UUID
	sub    uuid.UUID
}

// twoCompanyFixture wires a parent owning one subsidiary, both with balanced
// June 2025 books: the parent carries a 1000 investment in the sub and 500 of
// intercompany revenue, the sub mirrors 1000 equity and 500 of expense.
func twoCompanyFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	repo := newFakeConsolRepo()
	srcs := newFakeSources()
	orgID := uuid.New()
	parentID := uuid.New()
	subID := uuid.New()

	for _, c := range []struct {
		id       uuid.UUID
		name     string
		currency string
	}{
		{parentID, "Parent Corp", "USD"},
		{subID, "Sub Inc", "USD"},
	} {
		srcs.companies[c.id] = &org.Company{
			ID:                 c.id,
			OrgID:              orgID,
			Name:               c.name,
			FunctionalCurrency: c.currency,
			ReportingCurrency:  "USD",
			Status:             org.CompanyActive,
		}
		fy := &fiscal.FiscalYear{ID: uuid.New(), CompanyID: c.id, Year: 2025, Status: fiscal.YearOpen}
		srcs.years[c.id] = fy
		periods := fiscal.SynthesizePeriods(fy.ID, c.id, 2025, shared.NewDate(2025, time.January, 1), false)
		for i := range periods {
			periods[i].Status = fiscal.PeriodClosed
		}
		srcs.periods[fy.ID] = periods
	}

	balance := func(number, name string, typ accounts.AccountType, category string, debit, credit string) ledger.AccountBalance {
		return ledger.AccountBalance{
			AccountID: uuid.New(),
			Number:    number,
			Name:      name,
			Type:      typ,
			Category:  category,
			Debits:    dec(t, debit),
			Credits:   dec(t, credit),
		}
	}
	srcs.balances[parentID] = []ledger.AccountBalance{
		balance("1000", "Cash", accounts.TypeAsset, "CashAndEquivalents", "500.00", "0"),
		balance("1500", "Investment in Sub", accounts.TypeAsset, "Investments", "1000.00", "0"),
		balance("3000", "Common Stock", accounts.TypeEquity, "OwnersEquity", "0", "1000.00"),
		balance("4100", "IC Revenue", accounts.TypeRevenue, "Intercompany", "0", "500.00"),
	}
	srcs.balances[subID] = []ledger.AccountBalance{
		balance("1000", "Cash", accounts.TypeAsset, "CashAndEquivalents", "500.00", "0"),
		balance("3000", "Share Capital", accounts.TypeEquity, "ShareCapital", "0", "1000.00"),
		balance("5100", "IC Expense", accounts.TypeExpense, "Intercompany", "500.00", "0"),
	}

	group := &Group{
		ID:                uuid.New(),
		OrgID:             orgID,
		Name:              "World Group",
		ReportingCurrency: "USD",
		ParentCompanyID:   parentID,
		IsActive:          true,
		Members: []Member{
			{ID: uuid.New(), CompanyID: parentID, OwnershipPct: dec(t, "100"), Method: FullConsolidation},
			{ID: uuid.New(), CompanyID: subID, OwnershipPct: dec(t, "100"), Method: FullConsolidation,
				AcquisitionDate: shared.NewDate(2024, time.January, 1)},
		},
	}
	group.Members[0].GroupID = group.ID
	group.Members[1].GroupID = group.ID
	repo.groups[group.ID] = group

	engine := NewEngine(slog.Default(), repo, srcs, srcs, srcs, srcs, srcs).
		WithNow(func() time.Time { return time.Date(2025, 7, 5, 9, 0, 0, 0, time.UTC) })

	return &pipelineFixture{
		engine: engine,
		repo:   repo,
		srcs:   srcs,
		orgID:  orgID,
		group:  group,
		parent: parentID,
		sub:    subID,
	}
}

func (p *pipelineFixture) addStandardRules(t *testing.T) {
	t.Helper()
	p.repo.rules[p.group.ID] = []EliminationRule{
		{
			ID:      uuid.New(),
			GroupID: p.group.ID,
			Name:    "Eliminate investment in sub",
			Type:    RuleInvestment,
			SourceSelectors: []AccountSelector{
				{Kind: SelectByRange, From: "1500", To: "1500"},
			},
			TargetSelectors: []AccountSelector{
				{Kind: SelectByCategory, Category: "ShareCapital"},
			},
			Priority: 10,
			IsActive: true,
		},
		{
			ID:      uuid.New(),
			GroupID: p.group.ID,
			Name:    "Eliminate intercompany revenue and expense",
			Type:    RuleRevenueExpense,
			SourceSelectors: []AccountSelector{
				{Kind: SelectByRange, From: "4100", To: "4100"},
			},
			TargetSelectors: []AccountSelector{
				{Kind: SelectByRange, From: "5100", To: "5100"},
			},
			Priority: 20,
			IsActive: true,
		},
	}
}

func (p *pipelineFixture) newRun(options RunOptions) *Run {
	run := &Run{
		ID:          uuid.New(),
		OrgID:       p.orgID,
		GroupID:     p.group.ID,
		Year:        2025,
		Period:      6,
		AsOfDate:    shared.NewDate(2025, time.June, 30),
		Status:      RunPending,
		Steps:       NewSteps(),
		Options:     options,
		InitiatedBy: uuid.New(),
		InitiatedAt: time.Date(2025, 7, 5, 8, 0, 0, 0, time.UTC),
	}
	p.repo.runs[run.ID] = run
	return run
}

func findLine(t *testing.T, tb []TBLine, number string) TBLine {
	t.Helper()
	for _, l := range tb {
		if l.AccountNumber == number {
			return l
		}
	}
	t.Fatalf("no trial balance row for account %s", number)
	return TBLine{}
}

func assertBalanced(t *testing.T, tb []TBLine) {
	t.Helper()
	total := decimal.Zero
	for _, l := range tb {
		total = total.Add(l.Consolidated)
	}
	if !total.IsZero() {
		t.Fatalf("consolidated trial balance out of balance by %s", total)
	}
}

func TestPipelineEliminatesIntercompany(t *testing.T) {
	fixture := twoCompanyFixture(t)
	fixture.addStandardRules(t)
	run := fixture.newRun(RunOptions{})

	if err := fixture.engine.Execute(context.Background(), fixture.orgID, run.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}

	stored := fixture.repo.runs[run.ID]
	if stored.Status != RunCompleted {
		t.Fatalf("expected Completed, got %s (%s)", stored.Status, stored.ErrorMessage)
	}
	for _, step := range stored.Steps {
		if step.Status != StepCompleted {
			t.Fatalf("step %s is %s, want Completed", step.Name, step.Status)
		}
	}

	tb := fixture.repo.tb[run.ID]
	assertBalanced(t, tb)

	investment := findLine(t, tb, "1500")
	if !investment.Consolidated.IsZero() {
		t.Fatalf("investment must eliminate to zero, got %s", investment.Consolidated)
	}
	for _, l := range tb {
		if l.AccountNumber == "3000" && l.Category == "ShareCapital" && !l.Consolidated.IsZero() {
			t.Fatalf("sub equity must eliminate to zero, got %s", l.Consolidated)
		}
	}
	revenue := findLine(t, tb, "4100")
	if !revenue.Consolidated.IsZero() {
		t.Fatalf("IC revenue must eliminate to zero, got %s", revenue.Consolidated)
	}
	expense := findLine(t, tb, "5100")
	if !expense.Consolidated.IsZero() {
		t.Fatalf("IC expense must eliminate to zero, got %s", expense.Consolidated)
	}
	cash := findLine(t, tb, "1000")
	if !cash.Consolidated.Equal(dec(t, "1000.00")) {
		t.Fatalf("cash must aggregate to 1000.00, got %s", cash.Consolidated)
	}

	entries := fixture.repo.entries[run.ID]
	if len(entries) != 2 {
		t.Fatalf("expected 2 elimination entries, got %d", len(entries))
	}
	for _, e := range entries {
		if !e.Balanced() {
			t.Fatalf("elimination entry %q is unbalanced", e.Description)
		}
	}
}

func TestPipelineTranslatesForeignSubsidiary(t *testing.T) {
	fixture := twoCompanyFixture(t)
	fixture.srcs.companies[fixture.sub].FunctionalCurrency = "EUR"
	fixture.srcs.averages["EURUSD"] = dec(t, "1.10")
	fixture.srcs.closings["EURUSD"] = dec(t, "1.20")
	// No Historical rate stored: equity falls back to the closing rate.
	run := fixture.newRun(RunOptions{})

	if err := fixture.engine.Execute(context.Background(), fixture.orgID, run.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := fixture.repo.runs[run.ID].Status; got != RunCompleted {
		t.Fatalf("expected Completed, got %s", got)
	}

	var subCash, subEquity, subExpense, cta *MemberBalance
	for i, b := range fixture.repo.balances[run.ID] {
		if b.CompanyID != fixture.sub {
			continue
		}
		switch b.Number {
		case "1000":
			subCash = &fixture.repo.balances[run.ID][i]
		case "3000":
			subEquity = &fixture.repo.balances[run.ID][i]
		case "5100":
			subExpense = &fixture.repo.balances[run.ID][i]
		case ctaAccountNumber:
			cta = &fixture.repo.balances[run.ID][i]
		}
	}
	if subCash == nil || !subCash.Translated.Equal(dec(t, "600.00")) {
		t.Fatalf("sub cash must translate at closing rate to 600.00, got %+v", subCash)
	}
	if subEquity == nil || !subEquity.Translated.Equal(dec(t, "-1200.00")) {
		t.Fatalf("sub equity must translate at historical fallback to -1200.00, got %+v", subEquity)
	}
	if subExpense == nil || !subExpense.Translated.Equal(dec(t, "550.00")) {
		t.Fatalf("sub expense must translate at average rate to 550.00, got %+v", subExpense)
	}
	if cta == nil || !cta.Translated.Equal(dec(t, "50.00")) {
		t.Fatalf("translation residual must land on accumulated OCI as 50.00, got %+v", cta)
	}

	assertBalanced(t, fixture.repo.tb[run.ID])
}

func TestPipelineTranslateFailsWithoutRates(t *testing.T) {
	fixture := twoCompanyFixture(t)
	fixture.srcs.companies[fixture.sub].FunctionalCurrency = "EUR"
	run := fixture.newRun(RunOptions{})

	err := fixture.engine.Execute(context.Background(), fixture.orgID, run.ID)
	if err == nil {
		t.Fatal("expected translation failure without rates")
	}
	stored := fixture.repo.runs[run.ID]
	if stored.Status != RunFailed {
		t.Fatalf("expected Failed, got %s", stored.Status)
	}
	if stored.Steps[1].Status != StepFailed {
		t.Fatalf("translate step must fail, got %s", stored.Steps[1].Status)
	}
}

func TestPipelineAllocatesNonControllingInterest(t *testing.T) {
	fixture := twoCompanyFixture(t)
	fixture.group.Members[1].OwnershipPct = dec(t, "80")
	run := fixture.newRun(RunOptions{})

	if err := fixture.engine.Execute(context.Background(), fixture.orgID, run.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}

	tb := fixture.repo.tb[run.ID]
	assertBalanced(t, tb)

	nci := findLine(t, tb, nciAccountNumber)
	// 20% of sub equity (credit 1000) less 20% of sub expense (debit 500).
	if !nci.NCI.Equal(dec(t, "-100.00")) {
		t.Fatalf("NCI row must carry -100.00, got %s", nci.NCI)
	}
	var subEquity TBLine
	for _, l := range tb {
		if l.AccountNumber == "3000" && l.Category == "ShareCapital" {
			subEquity = l
		}
	}
	if !subEquity.NCI.Equal(dec(t, "200.00")) {
		t.Fatalf("sub equity NCI reclass must be 200.00, got %s", subEquity.NCI)
	}
}

func TestPipelinePicksUpEquityMethodInvestee(t *testing.T) {
	fixture := twoCompanyFixture(t)
	fixture.group.Members[1].Method = EquityMethod
	fixture.group.Members[1].OwnershipPct = dec(t, "40")
	run := fixture.newRun(RunOptions{})

	if err := fixture.engine.Execute(context.Background(), fixture.orgID, run.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}

	tb := fixture.repo.tb[run.ID]
	assertBalanced(t, tb)

	// The sub's own accounts stay out of the aggregation.
	for _, l := range tb {
		if l.AccountNumber == "5100" {
			t.Fatal("equity-method investee accounts must not aggregate")
		}
	}
	// Sub net income is a 500 loss; 40% pickup lands on two synthetic rows.
	investment := findLine(t, tb, emInvestmentNumber)
	if !investment.NCI.Equal(dec(t, "-200.00")) {
		t.Fatalf("equity pickup must reduce the investment row by 200.00, got %s", investment.NCI)
	}
	income := findLine(t, tb, emIncomeNumber)
	if !income.NCI.Equal(dec(t, "200.00")) {
		t.Fatalf("equity pickup income must be a 200.00 loss share, got %s", income.NCI)
	}
}

func TestPipelineResumesAfterCrash(t *testing.T) {
	fixture := twoCompanyFixture(t)
	fixture.addStandardRules(t)
	run := fixture.newRun(RunOptions{})

	boom := errors.New("connection reset")
	fixture.repo.entriesFail = boom
	if err := fixture.engine.Execute(context.Background(), fixture.orgID, run.ID); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}

	stored := fixture.repo.runs[run.ID]
	if stored.Status != RunFailed {
		t.Fatalf("expected Failed after crash, got %s", stored.Status)
	}
	for i := 0; i < 4; i++ {
		if stored.Steps[i].Status != StepCompleted {
			t.Fatalf("step %s must stay Completed, got %s", stored.Steps[i].Name, stored.Steps[i].Status)
		}
	}
	if stored.Steps[4].Status != StepFailed {
		t.Fatalf("eliminate step must be Failed, got %s", stored.Steps[4].Status)
	}

	callsAfterCrash := fixture.srcs.balanceCalls
	if err := fixture.engine.Execute(context.Background(), fixture.orgID, run.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if fixture.srcs.balanceCalls != callsAfterCrash {
		t.Fatal("resume must trust completed steps instead of reloading member balances")
	}

	resumed := fixture.repo.runs[run.ID]
	if resumed.Status != RunCompleted {
		t.Fatalf("expected Completed after resume, got %s", resumed.Status)
	}
	tb := fixture.repo.tb[run.ID]
	assertBalanced(t, tb)
	if inv := findLine(t, tb, "1500"); !inv.Consolidated.IsZero() {
		t.Fatalf("resumed run must produce the same eliminations, investment = %s", inv.Consolidated)
	}
}

func TestPipelineEliminateRetryRecomputesColumn(t *testing.T) {
	fixture := twoCompanyFixture(t)
	fixture.addStandardRules(t)
	run := fixture.newRun(RunOptions{})

	// Fail the save that would mark the eliminate step Completed. Its trial
	// balance is already persisted at that point, so the retry starts from a
	// trial balance that carries the first attempt's eliminations.
	boom := errors.New("connection reset")
	failed := false
	fixture.repo.saveErr = func(r *Run) error {
		if !failed && r.Steps[4].Status == StepCompleted {
			failed = true
			return boom
		}
		return nil
	}

	if err := fixture.engine.Execute(context.Background(), fixture.orgID, run.ID); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if inv := findLine(t, fixture.repo.tb[run.ID], "1500"); inv.Elimination.IsZero() {
		t.Fatal("first attempt must have persisted its eliminations")
	}

	if err := fixture.engine.Execute(context.Background(), fixture.orgID, run.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got := fixture.repo.runs[run.ID].Status; got != RunCompleted {
		t.Fatalf("expected Completed after resume, got %s", got)
	}

	tb := fixture.repo.tb[run.ID]
	assertBalanced(t, tb)
	inv := findLine(t, tb, "1500")
	if !inv.Elimination.Equal(dec(t, "-1000")) {
		t.Fatalf("retried eliminate must not stack on persisted output, got %s", inv.Elimination)
	}
	if !inv.Consolidated.IsZero() {
		t.Fatalf("investment must still eliminate to zero, got %s", inv.Consolidated)
	}
}

func TestPipelineNCIRetryRecomputesColumn(t *testing.T) {
	fixture := twoCompanyFixture(t)
	fixture.group.Members[1].OwnershipPct = dec(t, "80")
	run := fixture.newRun(RunOptions{})

	boom := errors.New("connection reset")
	failed := false
	fixture.repo.saveErr = func(r *Run) error {
		if !failed && r.Steps[5].Status == StepCompleted {
			failed = true
			return boom
		}
		return nil
	}

	if err := fixture.engine.Execute(context.Background(), fixture.orgID, run.ID); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if err := fixture.engine.Execute(context.Background(), fixture.orgID, run.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}

	tb := fixture.repo.tb[run.ID]
	assertBalanced(t, tb)
	if nci := findLine(t, tb, nciAccountNumber); !nci.NCI.Equal(dec(t, "-100.00")) {
		t.Fatalf("retried NCI allocation must not stack, got %s", nci.NCI)
	}
	for _, l := range tb {
		if l.AccountNumber == "3000" && l.Category == "ShareCapital" && !l.NCI.Equal(dec(t, "200.00")) {
			t.Fatalf("sub equity NCI reclass must stay 200.00, got %s", l.NCI)
		}
	}
}

func TestPipelineIntercompanyPagesThroughAllTransactions(t *testing.T) {
	fixture := twoCompanyFixture(t)
	tx := func(status intercompany.MatchingStatus) intercompany.Transaction {
		return intercompany.Transaction{
			ID:            uuid.New(),
			OrgID:         fixture.orgID,
			FromCompanyID: fixture.parent,
			ToCompanyID:   fixture.sub,
			Type:          "Sale",
			Date:          shared.NewDate(2025, time.June, 10),
			Amount:        dec(t, "10.00"),
			Currency:      "USD",
			Status:        status,
		}
	}
	for i := 0; i < 205; i++ {
		fixture.srcs.txs = append(fixture.srcs.txs, tx(intercompany.StatusMatched))
	}
	// One unmatched transaction beyond the first page must still warn.
	fixture.srcs.txs = append(fixture.srcs.txs, tx(intercompany.StatusUnmatched))

	run := fixture.newRun(RunOptions{ContinueOnWarnings: true})
	if err := fixture.engine.Execute(context.Background(), fixture.orgID, run.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}

	stored := fixture.repo.runs[run.ID]
	if stored.Status != RunCompleted {
		t.Fatalf("expected Completed, got %s", stored.Status)
	}
	warns, _ := stored.Steps[0].Details["warnings"].([]string)
	if len(warns) != 1 {
		t.Fatalf("expected 1 validation warning, got %d", len(warns))
	}
	pairs, _ := stored.Steps[3].Details["pairs"].(int)
	if pairs != 205 {
		t.Fatalf("expected 205 matched pairs across pages, got %d", pairs)
	}
}

func TestPipelineCancelSkipsRemainingSteps(t *testing.T) {
	fixture := twoCompanyFixture(t)
	run := fixture.newRun(RunOptions{})

	// Request cancellation as soon as the translate step has persisted.
	fixture.repo.saveHook = func(r *Run) {
		if r.Steps[1].Status == StepCompleted {
			fixture.repo.cancelled[r.ID] = true
		}
	}

	if err := fixture.engine.Execute(context.Background(), fixture.orgID, run.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}

	stored := fixture.repo.runs[run.ID]
	if stored.Status != RunCancelled {
		t.Fatalf("expected Cancelled, got %s", stored.Status)
	}
	if stored.Steps[0].Status != StepCompleted || stored.Steps[1].Status != StepCompleted {
		t.Fatal("steps finished before the cancel must stay Completed")
	}
	for i := 2; i < len(stored.Steps); i++ {
		if stored.Steps[i].Status != StepSkipped {
			t.Fatalf("step %s must be Skipped, got %s", stored.Steps[i].Name, stored.Steps[i].Status)
		}
	}
}

func TestPipelineValidateBlocksOpenPeriod(t *testing.T) {
	fixture := twoCompanyFixture(t)
	fy := fixture.srcs.years[fixture.sub]
	periods := fixture.srcs.periods[fy.ID]
	for i := range periods {
		periods[i].Status = fiscal.PeriodOpen
	}

	run := fixture.newRun(RunOptions{})
	if err := fixture.engine.Execute(context.Background(), fixture.orgID, run.ID); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if got := fixture.repo.runs[run.ID].Status; got != RunFailed {
		t.Fatalf("expected Failed, got %s", got)
	}

	// skipValidation waives the period-status check.
	rerun := fixture.newRun(RunOptions{SkipValidation: true})
	if err := fixture.engine.Execute(context.Background(), fixture.orgID, rerun.ID); err != nil {
		t.Fatalf("execute with skipValidation: %v", err)
	}
	if got := fixture.repo.runs[rerun.ID].Status; got != RunCompleted {
		t.Fatalf("expected Completed, got %s", got)
	}
}

func TestPipelineUnmatchedIntercompanyWarns(t *testing.T) {
	fixture := twoCompanyFixture(t)
	fixture.srcs.txs = []intercompany.Transaction{{
		ID:            uuid.New(),
		OrgID:         fixture.orgID,
		FromCompanyID: fixture.parent,
		ToCompanyID:   fixture.sub,
		Status:        intercompany.StatusUnmatched,
		Date:          shared.NewDate(2025, time.June, 10),
	}}

	run := fixture.newRun(RunOptions{})
	if err := fixture.engine.Execute(context.Background(), fixture.orgID, run.ID); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected warning to block by default, got %v", err)
	}

	rerun := fixture.newRun(RunOptions{ContinueOnWarnings: true})
	if err := fixture.engine.Execute(context.Background(), fixture.orgID, rerun.ID); err != nil {
		t.Fatalf("execute with continueOnWarnings: %v", err)
	}
	if got := fixture.repo.runs[rerun.ID].Status; got != RunCompleted {
		t.Fatalf("expected Completed, got %s", got)
	}
}
