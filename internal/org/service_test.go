package org

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
	orgs         map[uuid.UUID]Organization
	companies    map[uuid.UUID]Company
	unposted     map[uuid.UUID]int
	reAccounts   map[uuid.UUID]uuid.UUID
	companyNames map[string]bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		orgs:         map[uuid.UUID]Organization{},
		companies:    map[uuid.UUID]Company{},
		unposted:     map[uuid.UUID]int{},
		reAccounts:   map[uuid.UUID]uuid.UUID{},
		companyNames: map[string]bool{},
	}
}

func (f *fakeRepo) InsertOrganization(ctx context.Context, o Organization) error {
	f.orgs[o.ID] = o
	return nil
}

func (f *fakeRepo) GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error) {
	o, ok := f.orgs[id]
	if !ok {
		return nil, ErrOrgNotFound
	}
	return &o, nil
}

func (f *fakeRepo) UpdateOrganization(ctx context.Context, o Organization) error {
	if _, ok := f.orgs[o.ID]; !ok {
		return ErrOrgNotFound
	}
	f.orgs[o.ID] = o
	return nil
}

func (f *fakeRepo) DeleteOrganization(ctx context.Context, id uuid.UUID) error {
	if _, ok := f.orgs[id]; !ok {
		return ErrOrgNotFound
	}
	delete(f.orgs, id)
	return nil
}

func (f *fakeRepo) CountCompanies(ctx context.Context, orgID uuid.UUID) (int, error) {
	n := 0
	for _, c := range f.companies {
		if c.OrgID == orgID {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) InsertCompany(ctx context.Context, c Company) error {
	if f.companyNames[c.Name] {
		return ErrCompanyNameExists
	}
	f.companyNames[c.Name] = true
	f.companies[c.ID] = c
	return nil
}

func (f *fakeRepo) GetCompany(ctx context.Context, orgID, id uuid.UUID) (*Company, error) {
	c, ok := f.companies[id]
	if !ok || c.OrgID != orgID {
		return nil, ErrCompanyNotFound
	}
	return &c, nil
}

func (f *fakeRepo) ListCompanies(ctx context.Context, orgID uuid.UUID) ([]Company, error) {
	var out []Company
	for _, c := range f.companies {
		if c.OrgID == orgID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeRepo) UpdateCompany(ctx context.Context, c Company) error {
	if _, ok := f.companies[c.ID]; !ok {
		return ErrCompanyNotFound
	}
	f.companies[c.ID] = c
	return nil
}

func (f *fakeRepo) CountUnpostedEntries(ctx context.Context, companyID uuid.UUID) (int, error) {
	return f.unposted[companyID], nil
}

func (f *fakeRepo) IsRetainedEarningsAccount(ctx context.Context, companyID, accountID uuid.UUID) (bool, error) {
	return f.reAccounts[companyID] == accountID, nil
}

type noopAudit struct{}

func (noopAudit) Record(ctx context.Context, rec shared.AuditRecord) error { return nil }

func testService(repo Repository) *Service {
	return NewService(slog.Default(), repo, noopAudit{}).
		WithNow(func() time.Time { return time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC) })
}

func seedOrg(t *testing.T, svc *Service) *Organization {
	t.Helper()
	o, err := svc.CreateOrganization(context.Background(), CreateOrganizationInput{
		Name:              "Meridian Group",
		ReportingCurrency: "USD",
	})
	if err != nil {
		t.Fatalf("seed org: %v", err)
	}
	return o
}

func TestDeleteOrganizationBlockedWhileCompaniesExist(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(repo)
	o := seedOrg(t, svc)

	_, err := svc.CreateCompany(context.Background(), o.ID, CreateCompanyInput{
		Name:               "Meridian US",
		FunctionalCurrency: "USD",
		FiscalYearEndMonth: 12,
		FiscalYearEndDay:   31,
	})
	if err != nil {
		t.Fatalf("create company: %v", err)
	}

	if err := svc.DeleteOrganization(context.Background(), o.ID); !errors.Is(err, ErrOrgNotEmpty) {
		t.Fatalf("expected OrganizationNotEmptyError, got %v", err)
	}
}

func TestCreateCompanyDefaultsReportingCurrency(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(repo)
	o := seedOrg(t, svc)

	c, err := svc.CreateCompany(context.Background(), o.ID, CreateCompanyInput{
		Name:               "Meridian DE",
		FunctionalCurrency: "EUR",
		FiscalYearEndMonth: 12,
		FiscalYearEndDay:   31,
	})
	if err != nil {
		t.Fatalf("create company: %v", err)
	}
	if c.ReportingCurrency != "USD" {
		t.Fatalf("expected org reporting currency USD, got %s", c.ReportingCurrency)
	}
	if c.Status != CompanyActive {
		t.Fatalf("expected Active status, got %s", c.Status)
	}
}

func TestCreateCompanyRejectsBadFiscalYearEnd(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(repo)
	o := seedOrg(t, svc)

	_, err := svc.CreateCompany(context.Background(), o.ID, CreateCompanyInput{
		Name:               "Bad FYE",
		FunctionalCurrency: "USD",
		FiscalYearEndMonth: 2,
		FiscalYearEndDay:   30,
	})
	if !errors.Is(err, ErrBadFiscalYearEnd) {
		t.Fatalf("expected InvalidFiscalYearEndError, got %v", err)
	}
}

func TestDeactivateCompanyBlockedByUnpostedEntries(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(repo)
	o := seedOrg(t, svc)
	c, err := svc.CreateCompany(context.Background(), o.ID, CreateCompanyInput{
		Name:               "Meridian US",
		FunctionalCurrency: "USD",
		FiscalYearEndMonth: 12,
		FiscalYearEndDay:   31,
	})
	if err != nil {
		t.Fatalf("create company: %v", err)
	}
	repo.unposted[c.ID] = 3

	if _, err := svc.DeactivateCompany(context.Background(), o.ID, c.ID); !errors.Is(err, ErrUnpostedEntries) {
		t.Fatalf("expected CompanyHasUnpostedEntriesError, got %v", err)
	}

	repo.unposted[c.ID] = 0
	updated, err := svc.DeactivateCompany(context.Background(), o.ID, c.ID)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if updated.Status != CompanyDeactivated {
		t.Fatalf("expected Deactivated, got %s", updated.Status)
	}
}

func TestUpdateCompanyValidatesRetainedEarningsPointer(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(repo)
	o := seedOrg(t, svc)
	c, err := svc.CreateCompany(context.Background(), o.ID, CreateCompanyInput{
		Name:               "Meridian US",
		FunctionalCurrency: "USD",
		FiscalYearEndMonth: 12,
		FiscalYearEndDay:   31,
	})
	if err != nil {
		t.Fatalf("create company: %v", err)
	}

	bogus := uuid.New()
	_, err = svc.UpdateCompany(context.Background(), o.ID, c.ID, UpdateCompanyInput{RetainedEarningsAccountID: &bogus})
	if !errors.Is(err, ErrBadRetainedEarnings) {
		t.Fatalf("expected RetainedEarningsAccountInvalidError, got %v", err)
	}

	valid := uuid.New()
	repo.reAccounts[c.ID] = valid
	updated, err := svc.UpdateCompany(context.Background(), o.ID, c.ID, UpdateCompanyInput{RetainedEarningsAccountID: &valid})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.RetainedEarningsAccountID == nil || *updated.RetainedEarningsAccountID != valid {
		t.Fatalf("retained earnings pointer not set")
	}
}
