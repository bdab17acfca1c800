package ledger

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
	"github.com/meridian-fin/meridian/internal/fx"
	"github.com/meridian-fin/meridian/internal/shared"
)

type fakeLedgerRepo struct {
	entries      map[uuid.UUID]*JournalEntry
	accounts     map[uuid.UUID]PostingAccount
	cc           CompanyContext
	seq          int64
	periodClosed bool
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{
		entries:  map[uuid.UUID]*JournalEntry{},
		accounts: map[uuid.UUID]PostingAccount{},
		cc: CompanyContext{
			OrgID:              uuid.New(),
			FunctionalCurrency: "USD",
			CompanyActive:      true,
		},
	}
}

func (f *fakeLedgerRepo) account() uuid.UUID {
	id := uuid.New()
	f.accounts[id] = PostingAccount{NormalBalance: accounts.NormalDebit, IsActive: true, IsPostable: true}
	return id
}

func (f *fakeLedgerRepo) Insert(ctx context.Context, e JournalEntry) error {
	cp := e
	f.entries[e.ID] = &cp
	return nil
}

func (f *fakeLedgerRepo) Get(ctx context.Context, companyID, entryID uuid.UUID) (*JournalEntry, error) {
	e, ok := f.entries[entryID]
	if !ok || e.CompanyID != companyID {
		return nil, ErrNotFound
	}
	cp := *e
	cp.Lines = append([]Line(nil), e.Lines...)
	return &cp, nil
}

func (f *fakeLedgerRepo) List(ctx context.Context, companyID uuid.UUID, filter EntryFilter) ([]JournalEntry, error) {
	var out []JournalEntry
	for _, e := range f.entries {
		if e.CompanyID == companyID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeLedgerRepo) ReplaceDraft(ctx context.Context, e JournalEntry) error {
	cp := e
	f.entries[e.ID] = &cp
	return nil
}

func (f *fakeLedgerRepo) DeleteDraft(ctx context.Context, companyID, entryID uuid.UUID) error {
	delete(f.entries, entryID)
	return nil
}

func (f *fakeLedgerRepo) UpdateStatus(ctx context.Context, companyID, entryID uuid.UUID, from, to EntryStatus, at time.Time) error {
	e, ok := f.entries[entryID]
	if !ok || e.Status != from {
		return ErrStatus
	}
	e.Status = to
	e.UpdatedAt = at
	return nil
}

func (f *fakeLedgerRepo) CompanyContext(ctx context.Context, companyID uuid.UUID) (*CompanyContext, error) {
	cc := f.cc
	return &cc, nil
}

func (f *fakeLedgerRepo) AccountsForPosting(ctx context.Context, companyID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]PostingAccount, error) {
	out := map[uuid.UUID]PostingAccount{}
	for _, id := range ids {
		if a, ok := f.accounts[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

func (f *fakeLedgerRepo) stampPosted(e *JournalEntry, actorID uuid.UUID, at time.Time) {
	f.seq++
	n := f.seq
	year, period := 2025, 6
	e.EntryNumber = &n
	e.FiscalYear = &year
	e.FiscalPeriod = &period
	e.Status = StatusPosted
	e.PostedBy = &actorID
	postedAt := at
	e.PostedAt = &postedAt
}

func (f *fakeLedgerRepo) Post(ctx context.Context, p PostParams) (*JournalEntry, error) {
	if f.periodClosed {
		return nil, fiscal.ErrPeriodClosed
	}
	e := f.entries[p.EntryID]
	for i := range e.Lines {
		for _, v := range p.Valuations {
			if v.LineID == e.Lines[i].ID {
				e.Lines[i].ExchangeRate = v.ExchangeRate
				e.Lines[i].FunctionalDebit = v.FunctionalDebit
				e.Lines[i].FunctionalCredit = v.FunctionalCredit
			}
		}
	}
	f.stampPosted(e, p.ActorID, p.At)
	return f.Get(ctx, p.CompanyID, p.EntryID)
}

func (f *fakeLedgerRepo) Reverse(ctx context.Context, orgID, actorID uuid.UUID, original *JournalEntry, reversing JournalEntry, at time.Time) (*JournalEntry, error) {
	if f.periodClosed {
		return nil, fiscal.ErrPeriodClosed
	}
	cp := reversing
	f.stampPosted(&cp, actorID, at)
	f.entries[cp.ID] = &cp
	orig := f.entries[original.ID]
	orig.Status = StatusReversed
	orig.ReversingEntryID = &cp.ID
	return f.Get(ctx, cp.CompanyID, cp.ID)
}

func (f *fakeLedgerRepo) InsertPostedTx(ctx context.Context, tx pgx.Tx, e *JournalEntry, audit shared.AuditRecord) error {
	cp := *e
	f.entries[e.ID] = &cp
	return nil
}

func (f *fakeLedgerRepo) BalancesAsOf(ctx context.Context, companyID uuid.UUID, asOf shared.Date) ([]AccountBalance, error) {
	return nil, nil
}

func (f *fakeLedgerRepo) BalancesInWindow(ctx context.Context, companyID uuid.UUID, from, to shared.Date) ([]AccountBalance, error) {
	return nil, nil
}

type fakeRates struct {
	rate decimal.Decimal
	err  error
}

func (f *fakeRates) GetClosest(ctx context.Context, orgID uuid.UUID, from, to string, t fx.RateType, date shared.Date) (*fx.ExchangeRate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &fx.ExchangeRate{FromCurrency: from, ToCurrency: to, Type: t, EffectiveDate: date, Rate: f.rate}, nil
}

type fakeAudit struct {
	records []shared.AuditRecord
}

func (f *fakeAudit) Record(ctx context.Context, rec shared.AuditRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func newTestService(repo *fakeLedgerRepo, rates RateSource) *Service {
	svc := NewService(slog.Default(), repo, rates, &fakeAudit{})
	svc.WithNow(func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) })
	return svc
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func balancedInput(repo *fakeLedgerRepo, currency string) CreateEntryInput {
	return CreateEntryInput{
		Currency:        currency,
		TransactionDate: shared.NewDate(2025, time.June, 15),
		Description:     "cash sale",
		Lines: []LineInput{
			{AccountID: repo.account(), Debit: dec("100.00")},
			{AccountID: repo.account(), Credit: dec("100.00")},
		},
	}
}

func TestCreateCapturesSpotRate(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newTestService(repo, &fakeRates{rate: dec("1.0850")})
	companyID, actorID := uuid.New(), uuid.New()

	entry, err := svc.Create(context.Background(), companyID, actorID, balancedInput(repo, "EUR"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if entry.Status != StatusDraft {
		t.Fatalf("expected Draft, got %s", entry.Status)
	}
	for _, l := range entry.Lines {
		if !l.ExchangeRate.Equal(dec("1.0850")) {
			t.Fatalf("expected captured rate 1.0850, got %s", l.ExchangeRate)
		}
	}
}

func TestCreateToleratesMissingRate(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newTestService(repo, &fakeRates{err: fx.ErrRateNotFound})
	entry, err := svc.Create(context.Background(), uuid.New(), uuid.New(), balancedInput(repo, "EUR"))
	if err != nil {
		t.Fatalf("a missing quote must not block drafting: %v", err)
	}
	if !entry.Lines[0].ExchangeRate.IsZero() {
		t.Fatalf("expected zero rate placeholder, got %s", entry.Lines[0].ExchangeRate)
	}
}

func TestCreateRejectsUnbalancedLines(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newTestService(repo, &fakeRates{rate: decimal.NewFromInt(1)})
	in := CreateEntryInput{
		Currency:        "USD",
		TransactionDate: shared.NewDate(2025, time.June, 15),
		Lines: []LineInput{
			{AccountID: repo.account(), Debit: dec("100.00")},
			{AccountID: repo.account(), Credit: dec("90.00")},
		},
	}
	_, err := svc.Create(context.Background(), uuid.New(), uuid.New(), in)
	if !errors.Is(err, ErrUnbalanced) {
		t.Fatalf("expected UnbalancedJournalEntryError, got %v", err)
	}
}

func TestPostAssignsSequentialNumbers(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newTestService(repo, &fakeRates{rate: decimal.NewFromInt(1)})
	companyID, creator, approver := uuid.New(), uuid.New(), uuid.New()
	ctx := context.Background()

	var numbers []int64
	for i := 0; i < 2; i++ {
		entry, err := svc.Create(ctx, companyID, creator, balancedInput(repo, "USD"))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := svc.Submit(ctx, companyID, creator, entry.ID); err != nil {
			t.Fatalf("submit: %v", err)
		}
		if _, err := svc.Approve(ctx, companyID, approver, entry.ID); err != nil {
			t.Fatalf("approve: %v", err)
		}
		posted, err := svc.Post(ctx, companyID, approver, entry.ID)
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		if posted.Status != StatusPosted || posted.EntryNumber == nil {
			t.Fatalf("expected Posted with an entry number, got %s %v", posted.Status, posted.EntryNumber)
		}
		numbers = append(numbers, *posted.EntryNumber)
	}
	if numbers[0] != 1 || numbers[1] != 2 {
		t.Fatalf("expected monotonic entry numbers 1,2; got %v", numbers)
	}
}

func TestPostClosedPeriodLeavesApproved(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newTestService(repo, &fakeRates{rate: decimal.NewFromInt(1)})
	companyID, creator, approver := uuid.New(), uuid.New(), uuid.New()
	ctx := context.Background()

	entry, err := svc.Create(ctx, companyID, creator, balancedInput(repo, "USD"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Submit(ctx, companyID, creator, entry.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.Approve(ctx, companyID, approver, entry.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	repo.periodClosed = true
	if _, err := svc.Post(ctx, companyID, approver, entry.ID); !errors.Is(err, fiscal.ErrPeriodClosed) {
		t.Fatalf("expected FiscalPeriodClosedError, got %v", err)
	}
	after, _ := svc.Get(ctx, companyID, entry.ID)
	if after.Status != StatusApproved {
		t.Fatalf("a failed post must leave the entry Approved, got %s", after.Status)
	}
}

func TestApproveEnforcesSegregationOfDuties(t *testing.T) {
	repo := newFakeLedgerRepo()
	repo.cc.SoDEnabled = true
	svc := newTestService(repo, &fakeRates{rate: decimal.NewFromInt(1)})
	companyID, creator := uuid.New(), uuid.New()
	ctx := context.Background()

	entry, err := svc.Create(ctx, companyID, creator, balancedInput(repo, "USD"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Submit(ctx, companyID, creator, entry.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.Approve(ctx, companyID, creator, entry.ID); !errors.Is(err, ErrSelfApproval) {
		t.Fatalf("expected SelfApprovalError, got %v", err)
	}
	if _, err := svc.Approve(ctx, companyID, uuid.New(), entry.ID); err != nil {
		t.Fatalf("a different approver must pass: %v", err)
	}
}

func TestPostFunctionalRoundingBalances(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newTestService(repo, &fakeRates{rate: dec("1.007")})
	companyID, creator, approver := uuid.New(), uuid.New(), uuid.New()
	ctx := context.Background()

	in := CreateEntryInput{
		Currency:        "EUR",
		TransactionDate: shared.NewDate(2025, time.June, 15),
		Lines: []LineInput{
			{AccountID: repo.account(), Debit: dec("33.33")},
			{AccountID: repo.account(), Debit: dec("33.33")},
			{AccountID: repo.account(), Debit: dec("33.34")},
			{AccountID: repo.account(), Credit: dec("100.00")},
		},
	}
	entry, err := svc.Create(ctx, companyID, creator, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Submit(ctx, companyID, creator, entry.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.Approve(ctx, companyID, approver, entry.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	posted, err := svc.Post(ctx, companyID, approver, entry.ID)
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	fDebits, fCredits := FunctionalTotals(posted.Lines)
	if !fDebits.Equal(fCredits) {
		t.Fatalf("functional sides must balance after rounding: %s vs %s", fDebits, fCredits)
	}
	if !fCredits.Equal(dec("100.70")) {
		t.Fatalf("expected functional total 100.70, got %s", fCredits)
	}
}

func TestReverseFlipsSidesAndLinks(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newTestService(repo, &fakeRates{rate: decimal.NewFromInt(1)})
	companyID, creator, approver := uuid.New(), uuid.New(), uuid.New()
	ctx := context.Background()

	entry, err := svc.Create(ctx, companyID, creator, balancedInput(repo, "USD"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Submit(ctx, companyID, creator, entry.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.Approve(ctx, companyID, approver, entry.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	posted, err := svc.Post(ctx, companyID, approver, entry.ID)
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	reversing, err := svc.Reverse(ctx, companyID, approver, posted.ID, ReverseInput{})
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if reversing.Type != TypeReversing || reversing.Status != StatusPosted {
		t.Fatalf("expected a Posted Reversing entry, got %s %s", reversing.Type, reversing.Status)
	}
	if reversing.ReversedEntryID == nil || *reversing.ReversedEntryID != posted.ID {
		t.Fatal("reversing entry must point back at the original")
	}
	for i, l := range reversing.Lines {
		orig := posted.Lines[i]
		if !l.Debit.Equal(orig.Credit) || !l.Credit.Equal(orig.Debit) {
			t.Fatalf("line %d sides not flipped", i+1)
		}
	}

	original, _ := svc.Get(ctx, companyID, posted.ID)
	if original.Status != StatusReversed {
		t.Fatalf("original must become Reversed, got %s", original.Status)
	}
	if original.ReversingEntryID == nil || *original.ReversingEntryID != reversing.ID {
		t.Fatal("original must link forward to the reversal")
	}

	if _, err := svc.Reverse(ctx, companyID, approver, posted.ID, ReverseInput{}); !errors.Is(err, ErrAlreadyReversed) {
		t.Fatalf("expected JournalEntryAlreadyReversedError, got %v", err)
	}
}

func TestUpdateRejectsNonDraft(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newTestService(repo, &fakeRates{rate: decimal.NewFromInt(1)})
	companyID, creator := uuid.New(), uuid.New()
	ctx := context.Background()

	entry, err := svc.Create(ctx, companyID, creator, balancedInput(repo, "USD"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Submit(ctx, companyID, creator, entry.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	ref := "JE-77"
	if _, err := svc.Update(ctx, companyID, creator, entry.ID, UpdateEntryInput{Reference: &ref}); !errors.Is(err, ErrStatus) {
		t.Fatalf("expected JournalEntryStatusError, got %v", err)
	}
	if err := svc.Delete(ctx, companyID, creator, entry.ID); !errors.Is(err, ErrStatus) {
		t.Fatalf("expected JournalEntryStatusError on delete, got %v", err)
	}
}
