package yearend

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/meridian-fin/meridian/internal/accounts"
	"github.com/meridian-fin/meridian/internal/fiscal"
	"github.com/meridian-fin/meridian/internal/ledger"
	"github.com/meridian-fin/meridian/internal/shared"
)

// closeFixture backs Repository, CalendarSource and LedgerSource in memory.
type closeFixture struct {
	year     fiscal.FiscalYear
	periods  []fiscal.FiscalPeriod
	cc       CloseContext
	balances []ledger.AccountBalance
	unposted int
	entries  map[uuid.UUID]*ledger.JournalEntry
}

func newCloseFixture(t *testing.T) *closeFixture {
	t.Helper()
	companyID := uuid.New()
	yearID := uuid.New()
	start := shared.NewDate(2025, time.January, 1)
	f := &closeFixture{
		year: fiscal.FiscalYear{
			ID:        yearID,
			CompanyID: companyID,
			Year:      2025,
			StartDate: start,
			EndDate:   shared.NewDate(2025, time.December, 31),
			Status:    fiscal.YearOpen,
		},
		periods: fiscal.SynthesizePeriods(yearID, companyID, 2025, start, true),
		cc: CloseContext{
			OrgID:              uuid.New(),
			FunctionalCurrency: "USD",
		},
		entries: map[uuid.UUID]*ledger.JournalEntry{},
	}
	re := uuid.New()
	f.cc.RetainedEarningsAccountID = &re
	return f
}

func (f *closeFixture) addBalance(t accounts.AccountType, nb accounts.NormalBalance, debits, credits string) uuid.UUID {
	id := uuid.New()
	f.balances = append(f.balances, ledger.AccountBalance{
		AccountID:     id,
		Number:        "1000",
		Type:          t,
		NormalBalance: nb,
		Debits:        mustDec(debits),
		Credits:       mustDec(credits),
	})
	return id
}

func mustDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Repository

func (f *closeFixture) CloseContext(ctx context.Context, companyID uuid.UUID) (*CloseContext, error) {
	cc := f.cc
	return &cc, nil
}

func (f *closeFixture) CountUnposted(ctx context.Context, companyID uuid.UUID, from, to shared.Date) (int, error) {
	return f.unposted, nil
}

func (f *closeFixture) ClosingEntryIDs(ctx context.Context, companyID uuid.UUID, year int) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for id, e := range f.entries {
		if e.Type == ledger.TypeClosing && e.Status == ledger.StatusPosted {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *closeFixture) Close(ctx context.Context, p CloseParams) (int, error) {
	if f.year.Status != fiscal.YearOpen {
		return 0, fiscal.ErrYearTransition
	}
	for i := range p.Entries {
		cp := p.Entries[i]
		f.entries[cp.ID] = &cp
	}
	closed := 0
	for i := range f.periods {
		if f.periods[i].Status == fiscal.PeriodOpen {
			f.periods[i].Status = fiscal.PeriodClosed
			closed++
		}
	}
	f.year.Status = fiscal.YearClosed
	return closed, nil
}

func (f *closeFixture) Reopen(ctx context.Context, p ReopenParams) (int, error) {
	if f.year.Status != fiscal.YearClosed {
		return 0, fiscal.ErrYearTransition
	}
	for i := range p.Reversals {
		cp := p.Reversals[i]
		f.entries[cp.ID] = &cp
		f.entries[p.Originals[i]].Status = ledger.StatusReversed
	}
	reopened := 0
	for i := range f.periods {
		if f.periods[i].Status == fiscal.PeriodClosed {
			f.periods[i].Status = fiscal.PeriodOpen
			reopened++
		}
	}
	f.year.Status = fiscal.YearOpen
	return reopened, nil
}

// CalendarSource

func (f *closeFixture) GetYearByNumber(ctx context.Context, companyID uuid.UUID, year int) (*fiscal.FiscalYear, error) {
	if year != f.year.Year {
		return nil, fiscal.ErrYearNotFound
	}
	cp := f.year
	return &cp, nil
}

func (f *closeFixture) ListPeriods(ctx context.Context, yearID uuid.UUID) ([]fiscal.FiscalPeriod, error) {
	return append([]fiscal.FiscalPeriod(nil), f.periods...), nil
}

// LedgerSource

func (f *closeFixture) Get(ctx context.Context, companyID, entryID uuid.UUID) (*ledger.JournalEntry, error) {
	e, ok := f.entries[entryID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *closeFixture) BalancesInWindow(ctx context.Context, companyID uuid.UUID, from, to shared.Date) ([]ledger.AccountBalance, error) {
	return append([]ledger.AccountBalance(nil), f.balances...), nil
}

func (f *closeFixture) InsertPostedTx(ctx context.Context, tx pgx.Tx, e *ledger.JournalEntry, audit shared.AuditRecord) error {
	cp := *e
	f.entries[e.ID] = &cp
	return nil
}

func newCloseService(f *closeFixture) *Service {
	svc := NewService(slog.Default(), f, f, f)
	svc.WithNow(func() time.Time { return time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC) })
	return svc
}

func seedActivity(f *closeFixture) {
	f.addBalance(accounts.TypeRevenue, accounts.NormalCredit, "0", "10000.00")
	f.addBalance(accounts.TypeExpense, accounts.NormalDebit, "6000.00", "0")
	f.addBalance(accounts.TypeAsset, accounts.NormalDebit, "4000.00", "0")
}

func TestPreviewComputesNetIncome(t *testing.T) {
	f := newCloseFixture(t)
	seedActivity(f)
	svc := newCloseService(f)

	p, err := svc.Preview(context.Background(), f.year.CompanyID, 2025)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if !p.NetIncome.Equal(mustDec("4000.00")) {
		t.Fatalf("expected net income 4000.00, got %s", p.NetIncome)
	}
	if !p.TotalRevenue.Equal(mustDec("10000.00")) || !p.TotalExpenses.Equal(mustDec("6000.00")) {
		t.Fatalf("unexpected totals: revenue %s expenses %s", p.TotalRevenue, p.TotalExpenses)
	}
	if len(p.Blockers) != 0 {
		t.Fatalf("expected no blockers, got %v", p.Blockers)
	}
}

func TestPreviewReportsBlockers(t *testing.T) {
	f := newCloseFixture(t)
	f.cc.RetainedEarningsAccountID = nil
	f.unposted = 2
	f.addBalance(accounts.TypeRevenue, accounts.NormalCredit, "0", "10000.00")
	svc := newCloseService(f)

	p, err := svc.Preview(context.Background(), f.year.CompanyID, 2025)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	codes := map[string]bool{}
	for _, b := range p.Blockers {
		codes[b.Code] = true
	}
	for _, want := range []string{BlockerRetainedEarnings, BlockerUnpostedEntries, BlockerTrialBalance} {
		if !codes[want] {
			t.Fatalf("missing blocker %s in %v", want, p.Blockers)
		}
	}
}

func TestCloseRollsNetIncomeToRetainedEarnings(t *testing.T) {
	f := newCloseFixture(t)
	seedActivity(f)
	svc := newCloseService(f)
	actor := uuid.New()

	res, err := svc.Close(context.Background(), f.year.CompanyID, actor, 2025)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !res.NetIncome.Equal(mustDec("4000.00")) {
		t.Fatalf("expected net income 4000.00, got %s", res.NetIncome)
	}
	if len(res.ClosingEntryIDs) != 1 {
		t.Fatalf("expected one closing entry, got %d", len(res.ClosingEntryIDs))
	}
	if res.PeriodsClosed != 13 {
		t.Fatalf("expected all 13 periods closed, got %d", res.PeriodsClosed)
	}
	if f.year.Status != fiscal.YearClosed {
		t.Fatalf("year must be Closed, got %s", f.year.Status)
	}

	entry := f.entries[res.ClosingEntryIDs[0]]
	if entry.Type != ledger.TypeClosing || entry.Status != ledger.StatusPosted {
		t.Fatalf("expected Posted Closing entry, got %s %s", entry.Type, entry.Status)
	}
	if entry.FiscalPeriod == nil || *entry.FiscalPeriod != fiscal.AdjustmentPeriod {
		t.Fatalf("closing entry must land in the adjustment period, got %v", entry.FiscalPeriod)
	}
	if err := ledger.CheckBalanced(entry.Lines); err != nil {
		t.Fatalf("closing entry must balance: %v", err)
	}

	// Revenue debited to zero, expense credited to zero, RE credited the net.
	var reCredit decimal.Decimal
	for _, l := range entry.Lines {
		if l.AccountID == *f.cc.RetainedEarningsAccountID {
			reCredit = l.Credit
		}
	}
	if !reCredit.Equal(mustDec("4000.00")) {
		t.Fatalf("expected retained-earnings credit 4000.00, got %s", reCredit)
	}
}

func TestCloseRequiresRetainedEarnings(t *testing.T) {
	f := newCloseFixture(t)
	seedActivity(f)
	f.cc.RetainedEarningsAccountID = nil
	svc := newCloseService(f)

	_, err := svc.Close(context.Background(), f.year.CompanyID, uuid.New(), 2025)
	if !errors.Is(err, ErrRetainedEarnings) {
		t.Fatalf("expected RetainedEarningsNotConfiguredError, got %v", err)
	}
}

func TestCloseRejectsUnbalancedTrialBalance(t *testing.T) {
	f := newCloseFixture(t)
	f.addBalance(accounts.TypeRevenue, accounts.NormalCredit, "0", "10000.00")
	svc := newCloseService(f)

	_, err := svc.Close(context.Background(), f.year.CompanyID, uuid.New(), 2025)
	if !errors.Is(err, ErrTrialBalance) {
		t.Fatalf("expected TrialBalanceNotBalancedError, got %v", err)
	}
}

func TestReopenReversesClosingEntries(t *testing.T) {
	f := newCloseFixture(t)
	seedActivity(f)
	svc := newCloseService(f)
	actor := uuid.New()
	ctx := context.Background()

	res, err := svc.Close(ctx, f.year.CompanyID, actor, 2025)
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	reopen, err := svc.Reopen(ctx, f.year.CompanyID, actor, 2025)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if len(reopen.ReversingEntryIDs) != 1 {
		t.Fatalf("expected one reversing entry, got %d", len(reopen.ReversingEntryIDs))
	}
	if reopen.PeriodsReopened != 13 || f.year.Status != fiscal.YearOpen {
		t.Fatalf("expected 13 reopened periods on an Open year, got %d %s", reopen.PeriodsReopened, f.year.Status)
	}

	closing := f.entries[res.ClosingEntryIDs[0]]
	if closing.Status != ledger.StatusReversed {
		t.Fatalf("closing entry must be Reversed, got %s", closing.Status)
	}
	rev := f.entries[reopen.ReversingEntryIDs[0]]
	for i, l := range rev.Lines {
		orig := closing.Lines[i]
		if !l.Debit.Equal(orig.Credit) || !l.Credit.Equal(orig.Debit) {
			t.Fatalf("reversal line %d sides not flipped", i+1)
		}
	}

	// A second reopen has nothing to reverse.
	if _, err := svc.Reopen(ctx, f.year.CompanyID, actor, 2025); !errors.Is(err, fiscal.ErrYearTransition) {
		t.Fatalf("expected InvalidYearStatusTransitionError, got %v", err)
	}
}
