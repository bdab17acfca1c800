package intercompany

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-fin/meridian/internal/ledger"
	"github.com/meridian-fin/meridian/internal/shared"
)

type entryKey struct {
	companyID uuid.UUID
	entryID   uuid.UUID
}

type fakeICRepo struct {
	txs       map[uuid.UUID]*Transaction
	totals    map[entryKey]decimal.Decimal
	tolerance decimal.Decimal
}

func newFakeICRepo() *fakeICRepo {
	return &fakeICRepo{
		txs:       map[uuid.UUID]*Transaction{},
		totals:    map[entryKey]decimal.Decimal{},
		tolerance: decimal.NewFromFloat(0.01),
	}
}

func (f *fakeICRepo) addEntry(companyID uuid.UUID, total string) uuid.UUID {
	id := uuid.New()
	d, _ := decimal.NewFromString(total)
	f.totals[entryKey{companyID, id}] = d
	return id
}

func (f *fakeICRepo) Insert(ctx context.Context, t Transaction) error {
	cp := t
	f.txs[t.ID] = &cp
	return nil
}

func (f *fakeICRepo) Get(ctx context.Context, orgID, id uuid.UUID) (*Transaction, error) {
	t, ok := f.txs[id]
	if !ok || t.OrgID != orgID {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeICRepo) List(ctx context.Context, orgID uuid.UUID, filter Filter) ([]Transaction, error) {
	var out []Transaction
	for _, t := range f.txs {
		if t.OrgID == orgID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeICRepo) Update(ctx context.Context, t Transaction) error {
	if _, ok := f.txs[t.ID]; !ok {
		return ErrNotFound
	}
	cp := t
	f.txs[t.ID] = &cp
	return nil
}

func (f *fakeICRepo) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	delete(f.txs, id)
	return nil
}

func (f *fakeICRepo) EntryTotal(ctx context.Context, companyID, entryID uuid.UUID) (decimal.Decimal, error) {
	total, ok := f.totals[entryKey{companyID, entryID}]
	if !ok {
		return decimal.Zero, ledger.ErrNotFound
	}
	return total, nil
}

func (f *fakeICRepo) Tolerance(ctx context.Context, orgID uuid.UUID) (decimal.Decimal, error) {
	return f.tolerance, nil
}

type nopAudit struct{}

func (nopAudit) Record(ctx context.Context, rec shared.AuditRecord) error { return nil }

func icFixture(t *testing.T) (*Service, *fakeICRepo, *Transaction) {
	t.Helper()
	repo := newFakeICRepo()
	svc := NewService(slog.Default(), repo, nopAudit{})
	svc.WithNow(func() time.Time { return time.Date(2025, 6, 20, 10, 0, 0, 0, time.UTC) })

	orgID := uuid.New()
	tx, err := svc.Create(context.Background(), orgID, uuid.New(), CreateInput{
		FromCompanyID: uuid.New(),
		ToCompanyID:   uuid.New(),
		Type:          "ManagementFee",
		Date:          shared.NewDate(2025, time.June, 15),
		Amount:        decimal.NewFromInt(500),
		Currency:      "USD",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return svc, repo, tx
}

func TestCreateRejectsSameCompany(t *testing.T) {
	repo := newFakeICRepo()
	svc := NewService(slog.Default(), repo, nopAudit{})
	companyID := uuid.New()
	_, err := svc.Create(context.Background(), uuid.New(), uuid.New(), CreateInput{
		FromCompanyID: companyID,
		ToCompanyID:   companyID,
		Type:          "Sale",
		Date:          shared.NewDate(2025, time.June, 1),
		Amount:        decimal.NewFromInt(100),
		Currency:      "USD",
	})
	if !errors.Is(err, ErrSameCompany) {
		t.Fatalf("expected SameCompanyIntercompanyError, got %v", err)
	}
}

func TestLinkDerivesMatchingStatus(t *testing.T) {
	svc, repo, tx := icFixture(t)
	ctx := context.Background()

	fromEntry := repo.addEntry(tx.FromCompanyID, "500.00")
	toEntry := repo.addEntry(tx.ToCompanyID, "500.00")

	linked, err := svc.Link(ctx, tx.OrgID, uuid.New(), tx.ID, LinkInput{Side: SideFrom, EntryID: fromEntry})
	if err != nil {
		t.Fatalf("link from: %v", err)
	}
	if linked.Status != StatusPartiallyMatched {
		t.Fatalf("one side linked must be PartiallyMatched, got %s", linked.Status)
	}

	linked, err = svc.Link(ctx, tx.OrgID, uuid.New(), tx.ID, LinkInput{Side: SideTo, EntryID: toEntry})
	if err != nil {
		t.Fatalf("link to: %v", err)
	}
	if linked.Status != StatusMatched {
		t.Fatalf("both sides within tolerance must be Matched, got %s", linked.Status)
	}
	if !linked.Variance.IsZero() {
		t.Fatalf("expected zero variance, got %s", linked.Variance)
	}
}

func TestLinkRejectsForeignEntry(t *testing.T) {
	svc, repo, tx := icFixture(t)
	otherCompany := repo.addEntry(uuid.New(), "500.00")
	_, err := svc.Link(context.Background(), tx.OrgID, uuid.New(), tx.ID, LinkInput{Side: SideFrom, EntryID: otherCompany})
	if !errors.Is(err, ErrEntryMismatch) {
		t.Fatalf("expected IntercompanyEntryCompanyError, got %v", err)
	}
}

func TestVarianceApprovalSticksUntilUnlink(t *testing.T) {
	svc, repo, tx := icFixture(t)
	ctx := context.Background()
	actor := uuid.New()

	fromEntry := repo.addEntry(tx.FromCompanyID, "500.00")
	toEntry := repo.addEntry(tx.ToCompanyID, "480.00")

	if _, err := svc.Link(ctx, tx.OrgID, actor, tx.ID, LinkInput{Side: SideFrom, EntryID: fromEntry}); err != nil {
		t.Fatalf("link from: %v", err)
	}
	linked, err := svc.Link(ctx, tx.OrgID, actor, tx.ID, LinkInput{Side: SideTo, EntryID: toEntry})
	if err != nil {
		t.Fatalf("link to: %v", err)
	}
	if linked.Status == StatusMatched {
		t.Fatal("a 20.00 variance must not be Matched under 0.01 tolerance")
	}
	if !linked.Variance.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected variance 20, got %s", linked.Variance)
	}

	approved, err := svc.ApproveVariance(ctx, tx.OrgID, actor, tx.ID, ApproveVarianceInput{Explanation: "freight absorbed by seller"})
	if err != nil {
		t.Fatalf("approve variance: %v", err)
	}
	if approved.Status != StatusVarianceApproved {
		t.Fatalf("expected VarianceApproved, got %s", approved.Status)
	}

	// Re-linking the same side keeps the approval sticky.
	relinked, err := svc.Link(ctx, tx.OrgID, actor, tx.ID, LinkInput{Side: SideTo, EntryID: toEntry})
	if err != nil {
		t.Fatalf("relink: %v", err)
	}
	if relinked.Status != StatusVarianceApproved {
		t.Fatalf("approval must stick while both links stand, got %s", relinked.Status)
	}

	// Unlinking clears the approval.
	unlinked, err := svc.Unlink(ctx, tx.OrgID, actor, tx.ID, SideTo)
	if err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if unlinked.Status != StatusPartiallyMatched {
		t.Fatalf("expected PartiallyMatched after unlink, got %s", unlinked.Status)
	}
	if unlinked.Explanation != "" {
		t.Fatal("explanation must clear with the approval")
	}
}

func TestDeleteForbiddenWhenMatched(t *testing.T) {
	svc, repo, tx := icFixture(t)
	ctx := context.Background()
	actor := uuid.New()

	fromEntry := repo.addEntry(tx.FromCompanyID, "500.00")
	toEntry := repo.addEntry(tx.ToCompanyID, "500.00")
	if _, err := svc.Link(ctx, tx.OrgID, actor, tx.ID, LinkInput{Side: SideFrom, EntryID: fromEntry}); err != nil {
		t.Fatalf("link from: %v", err)
	}
	if _, err := svc.Link(ctx, tx.OrgID, actor, tx.ID, LinkInput{Side: SideTo, EntryID: toEntry}); err != nil {
		t.Fatalf("link to: %v", err)
	}

	if err := svc.Delete(ctx, tx.OrgID, actor, tx.ID); !errors.Is(err, ErrStatusLocked) {
		t.Fatalf("expected IntercompanyTransactionStatusError, got %v", err)
	}

	if _, err := svc.Unlink(ctx, tx.OrgID, actor, tx.ID, SideTo); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if err := svc.Delete(ctx, tx.OrgID, actor, tx.ID); err != nil {
		t.Fatalf("delete after unlink: %v", err)
	}
}
