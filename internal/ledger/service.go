package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-fin/meridian/internal/fx"
	"github.com/meridian-fin/meridian/internal/money"
	"github.com/meridian-fin/meridian/internal/org"
	"github.com/meridian-fin/meridian/internal/shared"
)

// RateSource answers the spot lookups posting needs to value lines in
// functional currency. *fx.Service satisfies it.
type RateSource interface {
	GetClosest(ctx context.Context, orgID uuid.UUID, from, to string, t fx.RateType, date shared.Date) (*fx.ExchangeRate, error)
}

// Service drives the journal-entry lifecycle. Every transition is validated
// here and persisted as a single atomic transaction by the repository.
type Service struct {
	logger *slog.Logger
	repo   Repository
	rates  RateSource
	audit  shared.AuditSink
	now    func() time.Time
}

// NewService wires the journal engine.
func NewService(logger *slog.Logger, repo Repository, rates RateSource, audit shared.AuditSink) *Service {
	return &Service{logger: logger, repo: repo, rates: rates, audit: audit, now: time.Now}
}

// WithNow overrides the clock for tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create validates and stores a Draft entry. The exchange rate for
// non-functional-currency entries is captured here so posting stays
// re-derivable even if the rate store changes later.
func (s *Service) Create(ctx context.Context, companyID, actorID uuid.UUID, in CreateEntryInput) (*JournalEntry, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	cc, err := s.repo.CompanyContext(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if !cc.CompanyActive {
		return nil, org.ErrCompanyDeactivated
	}

	entryType := in.Type
	if entryType == "" {
		entryType = TypeStandard
	}
	now := s.now()
	entry := JournalEntry{
		ID:              uuid.New(),
		CompanyID:       companyID,
		Type:            entryType,
		Status:          StatusDraft,
		Currency:        in.Currency,
		TransactionDate: in.TransactionDate,
		DocumentDate:    in.DocumentDate,
		PostingDate:     in.PostingDate,
		Reference:       in.Reference,
		Description:     in.Description,
		SourceModule:    in.SourceModule,
		CreatedBy:       actorID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	entry.Lines = BuildLines(entry.ID, in.Lines)

	if err := s.checkLineAccounts(ctx, companyID, entry.Currency, entry.Lines); err != nil {
		return nil, err
	}

	rate, err := s.captureRate(ctx, cc, entry.Currency, entry.TransactionDate)
	if err != nil {
		return nil, err
	}
	for i := range entry.Lines {
		entry.Lines[i].ExchangeRate = rate
	}

	if err := s.repo.Insert(ctx, entry); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, cc.OrgID, actorID, "journal_entry.create", entry.ID, map[string]any{
		"currency": entry.Currency,
		"lines":    len(entry.Lines),
	})
	return s.repo.Get(ctx, companyID, entry.ID)
}

// captureRate resolves the transaction-to-functional rate at entry creation.
// Functional-currency entries carry rate 1; a missing quote is tolerated here
// and re-resolved at posting time.
func (s *Service) captureRate(ctx context.Context, cc *CompanyContext, currency string, date shared.Date) (decimal.Decimal, error) {
	if currency == cc.FunctionalCurrency {
		return decimal.NewFromInt(1), nil
	}
	quote, err := s.rates.GetClosest(ctx, cc.OrgID, currency, cc.FunctionalCurrency, fx.RateSpot, date)
	if errors.Is(err, fx.ErrRateNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return quote.Rate, nil
}

func (s *Service) checkLineAccounts(ctx context.Context, companyID uuid.UUID, currency string, lines []Line) error {
	ids := make([]uuid.UUID, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.AccountID)
	}
	accts, err := s.repo.AccountsForPosting(ctx, companyID, ids)
	if err != nil {
		return err
	}
	for _, l := range lines {
		a, ok := accts[l.AccountID]
		if !ok {
			return ErrAccountNotFound
		}
		if !a.IsActive {
			return ErrAccountInactive
		}
		if !a.IsPostable {
			return ErrNotPostable
		}
		if a.CurrencyRestriction != "" && a.CurrencyRestriction != currency {
			return ErrCurrencyLocked
		}
	}
	return nil
}

// Get loads one entry with its lines.
func (s *Service) Get(ctx context.Context, companyID, entryID uuid.UUID) (*JournalEntry, error) {
	return s.repo.Get(ctx, companyID, entryID)
}

// List returns entries matching the filter, newest first.
func (s *Service) List(ctx context.Context, companyID uuid.UUID, f EntryFilter) ([]JournalEntry, error) {
	return s.repo.List(ctx, companyID, f)
}

// Update rewrites a Draft entry wholesale. Any other status rejects.
func (s *Service) Update(ctx context.Context, companyID, actorID, entryID uuid.UUID, in UpdateEntryInput) (*JournalEntry, error) {
	entry, err := s.repo.Get(ctx, companyID, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Status != StatusDraft {
		return nil, statusErr(entry.Status, StatusDraft)
	}
	if in.TransactionDate != nil {
		entry.TransactionDate = *in.TransactionDate
	}
	if in.DocumentDate != nil {
		entry.DocumentDate = in.DocumentDate
	}
	if in.PostingDate != nil {
		entry.PostingDate = in.PostingDate
	}
	if in.Reference != nil {
		entry.Reference = *in.Reference
	}
	if in.Description != nil {
		entry.Description = *in.Description
	}
	if in.Lines != nil {
		if err := ValidateLineInputs(in.Lines); err != nil {
			return nil, err
		}
		entry.Lines = BuildLines(entry.ID, in.Lines)
		if err := s.checkLineAccounts(ctx, companyID, entry.Currency, entry.Lines); err != nil {
			return nil, err
		}
		cc, err := s.repo.CompanyContext(ctx, companyID)
		if err != nil {
			return nil, err
		}
		rate, err := s.captureRate(ctx, cc, entry.Currency, entry.TransactionDate)
		if err != nil {
			return nil, err
		}
		for i := range entry.Lines {
			entry.Lines[i].ExchangeRate = rate
		}
	}
	entry.UpdatedAt = s.now()
	if err := s.repo.ReplaceDraft(ctx, *entry); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, companyID, entryID)
}

// Delete removes a Draft entry.
func (s *Service) Delete(ctx context.Context, companyID, actorID, entryID uuid.UUID) error {
	entry, err := s.repo.Get(ctx, companyID, entryID)
	if err != nil {
		return err
	}
	if entry.Status != StatusDraft {
		return statusErr(entry.Status, StatusDraft)
	}
	if err := s.repo.DeleteDraft(ctx, companyID, entryID); err != nil {
		return err
	}
	cc, err := s.repo.CompanyContext(ctx, companyID)
	if err == nil {
		s.recordAudit(ctx, cc.OrgID, actorID, "journal_entry.delete", entryID, nil)
	}
	return nil
}

// Submit moves Draft to PendingApproval.
func (s *Service) Submit(ctx context.Context, companyID, actorID, entryID uuid.UUID) (*JournalEntry, error) {
	return s.workflow(ctx, companyID, actorID, entryID, StatusDraft, StatusPendingApproval, "journal_entry.submit")
}

// Reject moves PendingApproval back to Draft.
func (s *Service) Reject(ctx context.Context, companyID, actorID, entryID uuid.UUID) (*JournalEntry, error) {
	return s.workflow(ctx, companyID, actorID, entryID, StatusPendingApproval, StatusDraft, "journal_entry.reject")
}

// Approve moves PendingApproval to Approved. When the organization enforces
// segregation of duties the approver must differ from the creator.
func (s *Service) Approve(ctx context.Context, companyID, actorID, entryID uuid.UUID) (*JournalEntry, error) {
	entry, err := s.repo.Get(ctx, companyID, entryID)
	if err != nil {
		return nil, err
	}
	cc, err := s.repo.CompanyContext(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if err := entry.Approve(actorID, cc.SoDEnabled); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateStatus(ctx, companyID, entryID, StatusPendingApproval, StatusApproved, s.now()); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, cc.OrgID, actorID, "journal_entry.approve", entryID, nil)
	return s.repo.Get(ctx, companyID, entryID)
}

func (s *Service) workflow(ctx context.Context, companyID, actorID, entryID uuid.UUID, from, to EntryStatus, action string) (*JournalEntry, error) {
	entry, err := s.repo.Get(ctx, companyID, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Status != from {
		return nil, statusErr(entry.Status, to)
	}
	if err := s.repo.UpdateStatus(ctx, companyID, entryID, from, to, s.now()); err != nil {
		return nil, err
	}
	cc, err := s.repo.CompanyContext(ctx, companyID)
	if err == nil {
		s.recordAudit(ctx, cc.OrgID, actorID, action, entryID, nil)
	}
	return s.repo.Get(ctx, companyID, entryID)
}

// Post transitions Approved to Posted: the fiscal period is resolved and must
// be Open, functional amounts are computed per line, the per-company entry
// number is assigned and everything commits in one transaction.
func (s *Service) Post(ctx context.Context, companyID, actorID, entryID uuid.UUID) (*JournalEntry, error) {
	entry, err := s.repo.Get(ctx, companyID, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Status != StatusApproved {
		return nil, statusErr(entry.Status, StatusPosted)
	}
	if err := CheckBalanced(entry.Lines); err != nil {
		return nil, err
	}
	cc, err := s.repo.CompanyContext(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if err := s.checkLineAccounts(ctx, companyID, entry.Currency, entry.Lines); err != nil {
		return nil, err
	}

	valuations, err := s.valueLines(ctx, cc, entry)
	if err != nil {
		return nil, err
	}

	baseDate := entry.TransactionDate
	if entry.PostingDate != nil {
		baseDate = *entry.PostingDate
	}
	return s.repo.Post(ctx, PostParams{
		CompanyID:  companyID,
		EntryID:    entryID,
		OrgID:      cc.OrgID,
		ActorID:    actorID,
		BaseDate:   baseDate,
		At:         s.now(),
		Valuations: valuations,
	})
}

// valueLines computes functional-currency amounts with the captured rate,
// falling back to the Spot rate at the transaction date when none was
// captured. Rounding residue lands on the largest line so the functional
// totals balance exactly.
func (s *Service) valueLines(ctx context.Context, cc *CompanyContext, entry *JournalEntry) ([]LineValuation, error) {
	rate := decimal.Zero
	for _, l := range entry.Lines {
		if l.ExchangeRate.IsPositive() {
			rate = l.ExchangeRate
			break
		}
	}
	if rate.IsZero() {
		if entry.Currency == cc.FunctionalCurrency {
			rate = decimal.NewFromInt(1)
		} else {
			quote, err := s.rates.GetClosest(ctx, cc.OrgID, entry.Currency, cc.FunctionalCurrency, fx.RateSpot, entry.TransactionDate)
			if err != nil {
				return nil, err
			}
			rate = quote.Rate
		}
	}

	out := make([]LineValuation, 0, len(entry.Lines))
	fDebits, fCredits := decimal.Zero, decimal.Zero
	largestDebit, largestCredit := -1, -1
	for i, l := range entry.Lines {
		v := LineValuation{
			LineID:           l.ID,
			ExchangeRate:     rate,
			FunctionalDebit:  l.Debit.Mul(rate).RoundBank(money.DefaultScale),
			FunctionalCredit: l.Credit.Mul(rate).RoundBank(money.DefaultScale),
		}
		fDebits = fDebits.Add(v.FunctionalDebit)
		fCredits = fCredits.Add(v.FunctionalCredit)
		if l.Debit.IsPositive() && (largestDebit < 0 || l.Debit.GreaterThan(entry.Lines[largestDebit].Debit)) {
			largestDebit = i
		}
		if l.Credit.IsPositive() && (largestCredit < 0 || l.Credit.GreaterThan(entry.Lines[largestCredit].Credit)) {
			largestCredit = i
		}
		out = append(out, v)
	}

	// Per-line banker's rounding can leave the functional sides a cent or two
	// apart even though the transaction sides balance.
	diff := fDebits.Sub(fCredits)
	if !diff.IsZero() && largestDebit >= 0 && largestCredit >= 0 {
		if diff.IsPositive() {
			out[largestCredit].FunctionalCredit = out[largestCredit].FunctionalCredit.Add(diff)
		} else {
			out[largestDebit].FunctionalDebit = out[largestDebit].FunctionalDebit.Add(diff.Neg())
		}
	}

	check := decimal.Zero
	for _, v := range out {
		check = check.Add(v.FunctionalDebit).Sub(v.FunctionalCredit)
	}
	if !check.IsZero() {
		return nil, unbalancedErr(fDebits, fCredits)
	}
	return out, nil
}

// Reverse creates and posts the negating entry for a Posted original. The
// reversal date defaults to the original transaction date and must land in an
// Open period.
func (s *Service) Reverse(ctx context.Context, companyID, actorID, entryID uuid.UUID, in ReverseInput) (*JournalEntry, error) {
	original, err := s.repo.Get(ctx, companyID, entryID)
	if err != nil {
		return nil, err
	}
	if original.Status == StatusReversed || original.ReversingEntryID != nil {
		return nil, ErrAlreadyReversed
	}
	if original.Status != StatusPosted {
		return nil, statusErr(original.Status, StatusReversed)
	}
	cc, err := s.repo.CompanyContext(ctx, companyID)
	if err != nil {
		return nil, err
	}

	date := original.TransactionDate
	if in.ReversalDate != nil {
		date = *in.ReversalDate
	}
	now := s.now()
	reversing := BuildReversal(original, date, actorID, now)
	if in.Memo != "" {
		reversing.Description = in.Memo
	}
	return s.repo.Reverse(ctx, cc.OrgID, actorID, original, reversing, now)
}

// BuildReversal constructs the Posted negating twin of a journal entry: each
// line's sides are flipped and the link back to the original is set. The
// fiscal period and entry number are assigned inside the repository
// transaction.
func BuildReversal(original *JournalEntry, date shared.Date, actorID uuid.UUID, at time.Time) JournalEntry {
	rev := JournalEntry{
		ID:              uuid.New(),
		CompanyID:       original.CompanyID,
		Type:            TypeReversing,
		Status:          StatusPosted,
		Currency:        original.Currency,
		TransactionDate: date,
		Reference:       original.Reference,
		Description:     "Reversal of entry " + original.ID.String(),
		SourceModule:    original.SourceModule,
		CreatedBy:       actorID,
		CreatedAt:       at,
		UpdatedAt:       at,
		PostedBy:        &actorID,
		PostedAt:        &at,
		ReversedEntryID: &original.ID,
	}
	for i, l := range original.Lines {
		rev.Lines = append(rev.Lines, Line{
			ID:                    uuid.New(),
			EntryID:               rev.ID,
			LineNumber:            i + 1,
			AccountID:             l.AccountID,
			Debit:                 l.Credit,
			Credit:                l.Debit,
			FunctionalDebit:       l.FunctionalCredit,
			FunctionalCredit:      l.FunctionalDebit,
			ExchangeRate:          l.ExchangeRate,
			Memo:                  l.Memo,
			Dimensions:            l.Dimensions,
			IntercompanyPartnerID: l.IntercompanyPartnerID,
			MatchingLineID:        l.MatchingLineID,
		})
	}
	return rev
}

func (s *Service) recordAudit(ctx context.Context, orgID, actorID uuid.UUID, action string, entryID uuid.UUID, meta map[string]any) {
	rec := shared.AuditRecord{
		OrgID:    orgID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "journal_entry",
		EntityID: entryID.String(),
		Meta:     meta,
		At:       s.now(),
	}
	if err := s.audit.Record(ctx, rec); err != nil {
		s.logger.Error("audit write failed", slog.String("action", action), slog.Any("error", err))
	}
}
