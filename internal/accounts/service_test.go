package accounts

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-fin/meridian/internal/shared"
)

type fakeRepo struct {
	accounts    map[uuid.UUID]Account
	postedLines map[uuid.UUID]int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{accounts: map[uuid.UUID]Account{}, postedLines: map[uuid.UUID]int{}}
}

func (f *fakeRepo) Insert(ctx context.Context, a Account) error {
	for _, existing := range f.accounts {
		if existing.CompanyID == a.CompanyID && existing.Number == a.Number {
			return ErrNumberExists
		}
		if existing.CompanyID == a.CompanyID && a.IsRetainedEarnings && existing.IsRetainedEarnings {
			return ErrRetainedEarningsDup
		}
	}
	f.accounts[a.ID] = a
	return nil
}

func (f *fakeRepo) InsertAll(ctx context.Context, companyID uuid.UUID, accounts []Account) error {
	for _, existing := range f.accounts {
		if existing.CompanyID == companyID {
			return ErrCompanyHasAccounts
		}
	}
	for _, a := range accounts {
		if err := f.Insert(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeRepo) Get(ctx context.Context, companyID, id uuid.UUID) (*Account, error) {
	a, ok := f.accounts[id]
	if !ok || a.CompanyID != companyID {
		return nil, ErrAccountNotFound
	}
	return &a, nil
}

func (f *fakeRepo) GetByNumber(ctx context.Context, companyID uuid.UUID, number string) (*Account, error) {
	for _, a := range f.accounts {
		if a.CompanyID == companyID && a.Number == number {
			return &a, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (f *fakeRepo) List(ctx context.Context, companyID uuid.UUID, filter ListFilter) ([]Account, error) {
	var out []Account
	for _, a := range f.accounts {
		if a.CompanyID == companyID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeRepo) Update(ctx context.Context, a Account) error {
	if _, ok := f.accounts[a.ID]; !ok {
		return ErrAccountNotFound
	}
	f.accounts[a.ID] = a
	return nil
}

func (f *fakeRepo) Reparent(ctx context.Context, companyID, id uuid.UUID, parentID *uuid.UUID, newLevel int) error {
	a, ok := f.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	delta := newLevel - a.HierarchyLevel
	a.ParentID = parentID
	f.accounts[id] = a
	f.shiftSubtree(id, delta)
	return nil
}

func (f *fakeRepo) shiftSubtree(id uuid.UUID, delta int) {
	a := f.accounts[id]
	a.HierarchyLevel += delta
	f.accounts[id] = a
	for childID, child := range f.accounts {
		if child.ParentID != nil && *child.ParentID == id {
			f.shiftSubtree(childID, delta)
		}
	}
}

func (f *fakeRepo) Ancestors(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	current, ok := f.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	for current.ParentID != nil {
		out = append(out, *current.ParentID)
		next, ok := f.accounts[*current.ParentID]
		if !ok {
			break
		}
		current = next
	}
	return out, nil
}

func (f *fakeRepo) SubtreeHeight(ctx context.Context, id uuid.UUID) (int, error) {
	var walk func(uuid.UUID) int
	walk = func(node uuid.UUID) int {
		best := 1
		for childID, child := range f.accounts {
			if child.ParentID != nil && *child.ParentID == node {
				if h := 1 + walk(childID); h > best {
					best = h
				}
			}
		}
		return best
	}
	return walk(id), nil
}

func (f *fakeRepo) CountActiveChildren(ctx context.Context, id uuid.UUID) (int, error) {
	n := 0
	for _, a := range f.accounts {
		if a.ParentID != nil && *a.ParentID == id && a.IsActive {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) CountPostedLines(ctx context.Context, id uuid.UUID) (int, error) {
	return f.postedLines[id], nil
}

func (f *fakeRepo) HasAnyAccounts(ctx context.Context, companyID uuid.UUID) (bool, error) {
	for _, a := range f.accounts {
		if a.CompanyID == companyID {
			return true, nil
		}
	}
	return false, nil
}

type noopAudit struct{}

func (noopAudit) Record(ctx context.Context, rec shared.AuditRecord) error { return nil }

func testService(repo Repository) *Service {
	return NewService(slog.Default(), repo, noopAudit{}).
		WithNow(func() time.Time { return time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC) })
}

func createAccount(t *testing.T, svc *Service, companyID uuid.UUID, in CreateAccountInput) *Account {
	t.Helper()
	a, err := svc.Create(context.Background(), companyID, in)
	if err != nil {
		t.Fatalf("create account %s: %v", in.Number, err)
	}
	return a
}

func TestCreateDerivesNormalBalanceAndLevel(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(repo)
	company := uuid.New()

	root := createAccount(t, svc, company, CreateAccountInput{Number: "1000", Name: "Assets", Type: TypeAsset})
	if root.NormalBalance != NormalDebit {
		t.Fatalf("asset should default to debit, got %s", root.NormalBalance)
	}
	if root.HierarchyLevel != 1 {
		t.Fatalf("root level must be 1, got %d", root.HierarchyLevel)
	}

	child := createAccount(t, svc, company, CreateAccountInput{Number: "1100", Name: "Cash", Type: TypeAsset, ParentID: &root.ID})
	if child.HierarchyLevel != 2 {
		t.Fatalf("child level must be 2, got %d", child.HierarchyLevel)
	}

	rev := createAccount(t, svc, company, CreateAccountInput{Number: "4000", Name: "Revenue", Type: TypeRevenue})
	if rev.NormalBalance != NormalCredit {
		t.Fatalf("revenue should default to credit, got %s", rev.NormalBalance)
	}
}

func TestCreateRejectsDuplicateNumber(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(repo)
	company := uuid.New()
	createAccount(t, svc, company, CreateAccountInput{Number: "1000", Name: "Assets", Type: TypeAsset})

	_, err := svc.Create(context.Background(), company, CreateAccountInput{Number: "1000", Name: "Other", Type: TypeAsset})
	if !errors.Is(err, ErrNumberExists) {
		t.Fatalf("expected AccountNumberAlreadyExistsError, got %v", err)
	}
}

func TestCreateRejectsBadNumber(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(repo)

	for _, number := range []string{"100", "10000", "12a4", ""} {
		_, err := svc.Create(context.Background(), uuid.New(), CreateAccountInput{Number: number, Name: "Bad", Type: TypeAsset})
		if !errors.Is(err, ErrBadNumber) {
			t.Fatalf("number %q: expected InvalidAccountNumberError, got %v", number, err)
		}
	}
}

func TestCreateEnforcesMaxDepth(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(repo)
	company := uuid.New()

	parent := createAccount(t, svc, company, CreateAccountInput{Number: "1000", Name: "L1", Type: TypeAsset})
	numbers := []string{"1100", "1110", "1111", "1112", "1113"}
	for i, n := range numbers {
		parent = createAccount(t, svc, company, CreateAccountInput{Number: n, Name: "L", Type: TypeAsset, ParentID: &parent.ID})
		if parent.HierarchyLevel != i+2 {
			t.Fatalf("expected level %d, got %d", i+2, parent.HierarchyLevel)
		}
	}

	_, err := svc.Create(context.Background(), company, CreateAccountInput{Number: "1119", Name: "L7", Type: TypeAsset, ParentID: &parent.ID})
	if !errors.Is(err, ErrHierarchyTooDeep) {
		t.Fatalf("expected AccountHierarchyTooDeepError, got %v", err)
	}
}

func TestReparentRejectsCycle(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(repo)
	company := uuid.New()

	a := createAccount(t, svc, company, CreateAccountInput{Number: "1000", Name: "A", Type: TypeAsset})
	b := createAccount(t, svc, company, CreateAccountInput{Number: "1100", Name: "B", Type: TypeAsset, ParentID: &a.ID})
	c := createAccount(t, svc, company, CreateAccountInput{Number: "1110", Name: "C", Type: TypeAsset, ParentID: &b.ID})

	// Moving A under its grandchild C closes a cycle.
	_, err := svc.Update(context.Background(), company, a.ID, UpdateAccountInput{ParentID: &c.ID})
	if !errors.Is(err, ErrHierarchyCycle) {
		t.Fatalf("expected AccountHierarchyCycleError, got %v", err)
	}

	// Self-parenting is the trivial cycle.
	_, err = svc.Update(context.Background(), company, a.ID, UpdateAccountInput{ParentID: &a.ID})
	if !errors.Is(err, ErrHierarchyCycle) {
		t.Fatalf("expected AccountHierarchyCycleError for self-parent, got %v", err)
	}
}

func TestReparentShiftsSubtreeLevels(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(repo)
	company := uuid.New()

	a := createAccount(t, svc, company, CreateAccountInput{Number: "1000", Name: "A", Type: TypeAsset})
	b := createAccount(t, svc, company, CreateAccountInput{Number: "1100", Name: "B", Type: TypeAsset, ParentID: &a.ID})
	c := createAccount(t, svc, company, CreateAccountInput{Number: "1110", Name: "C", Type: TypeAsset, ParentID: &b.ID})

	// Detach B; it becomes a root and C moves up with it.
	if _, err := svc.Update(context.Background(), company, b.ID, UpdateAccountInput{ClearParent: true}); err != nil {
		t.Fatalf("clear parent: %v", err)
	}
	reloadedB, _ := repo.Get(context.Background(), company, b.ID)
	reloadedC, _ := repo.Get(context.Background(), company, c.ID)
	if reloadedB.HierarchyLevel != 1 || reloadedC.HierarchyLevel != 2 {
		t.Fatalf("expected levels 1/2 after detach, got %d/%d", reloadedB.HierarchyLevel, reloadedC.HierarchyLevel)
	}
}

func TestDeactivateGates(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(repo)
	company := uuid.New()

	parent := createAccount(t, svc, company, CreateAccountInput{Number: "1000", Name: "Parent", Type: TypeAsset})
	child := createAccount(t, svc, company, CreateAccountInput{Number: "1100", Name: "Child", Type: TypeAsset, ParentID: &parent.ID})

	if _, err := svc.Deactivate(context.Background(), company, parent.ID); !errors.Is(err, ErrActiveChildren) {
		t.Fatalf("expected HasActiveChildAccountsError, got %v", err)
	}

	repo.postedLines[child.ID] = 2
	if _, err := svc.Deactivate(context.Background(), company, child.ID); !errors.Is(err, ErrHasPostedLines) {
		t.Fatalf("expected AccountHasPostedLinesError, got %v", err)
	}

	repo.postedLines[child.ID] = 0
	deactivated, err := svc.Deactivate(context.Background(), company, child.ID)
	if err != nil {
		t.Fatalf("deactivate child: %v", err)
	}
	if deactivated.IsActive {
		t.Fatalf("child should be inactive")
	}

	// With the child inactive the parent can follow.
	if _, err := svc.Deactivate(context.Background(), company, parent.ID); err != nil {
		t.Fatalf("deactivate parent: %v", err)
	}
}

func TestApplyTemplateBuildsHierarchy(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(repo)
	company := uuid.New()

	accounts, err := svc.ApplyTemplate(context.Background(), company, TemplateGeneralBusiness)
	if err != nil {
		t.Fatalf("apply template: %v", err)
	}
	if len(accounts) == 0 {
		t.Fatalf("template produced no accounts")
	}

	byNumber := map[string]Account{}
	retained := 0
	for _, a := range accounts {
		byNumber[a.Number] = a
		if a.IsRetainedEarnings {
			retained++
			if a.Type != TypeEquity {
				t.Fatalf("retained earnings account must be Equity, got %s", a.Type)
			}
		}
	}
	if retained != 1 {
		t.Fatalf("expected exactly one retained-earnings account, got %d", retained)
	}

	cash, ok := byNumber["1100"]
	if !ok {
		t.Fatalf("template missing cash account")
	}
	if cash.ParentID == nil || cash.HierarchyLevel != 2 {
		t.Fatalf("cash should sit under the asset root at level 2")
	}

	// A second application must fail: the chart is no longer empty.
	if _, err := svc.ApplyTemplate(context.Background(), company, TemplateGeneralBusiness); !errors.Is(err, ErrCompanyHasAccounts) {
		t.Fatalf("expected CompanyAlreadyHasAccountsError, got %v", err)
	}
}

func TestApplyTemplateUnknownName(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(repo)

	if _, err := svc.ApplyTemplate(context.Background(), uuid.New(), Template("Bogus")); !errors.Is(err, ErrTemplateUnknown) {
		t.Fatalf("expected UnknownAccountTemplateError, got %v", err)
	}
}
