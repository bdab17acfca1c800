package org

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-fin/meridian/internal/apperr"
	"github.com/meridian-fin/meridian/internal/money"
	"github.com/meridian-fin/meridian/internal/shared"
)

// Service owns tenant lifecycle rules.
type Service struct {
	logger *slog.Logger
	repo   Repository
	audit  shared.AuditSink
	now    func() time.Time
}

// NewService wires the tenant service.
func NewService(logger *slog.Logger, repo Repository, audit shared.AuditSink) *Service {
	return &Service{logger: logger, repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateOrganization provisions a new tenant.
func (s *Service) CreateOrganization(ctx context.Context, in CreateOrganizationInput) (*Organization, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	o := Organization{
		ID:                uuid.New(),
		Name:              in.Name,
		ReportingCurrency: in.ReportingCurrency,
		Locale:            orDefault(in.Locale, "en-US"),
		DecimalPlaces:     in.DecimalPlaces,
		SoDEnabled:        true,
		ICTolerance:       decimal.NewFromFloat(0.01),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if o.DecimalPlaces == 0 {
		o.DecimalPlaces = 2
	}
	if err := s.repo.InsertOrganization(ctx, o); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, o.ID, "organization.create", "organization", o.ID.String(), nil)
	return &o, nil
}

// GetOrganization loads one tenant.
func (s *Service) GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error) {
	return s.repo.GetOrganization(ctx, id)
}

// UpdateOrganization patches tenant fields.
func (s *Service) UpdateOrganization(ctx context.Context, id uuid.UUID, in UpdateOrganizationInput) (*Organization, error) {
	o, err := s.repo.GetOrganization(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		o.Name = *in.Name
	}
	if in.Locale != nil {
		o.Locale = *in.Locale
	}
	if in.DecimalPlaces != nil {
		o.DecimalPlaces = *in.DecimalPlaces
	}
	if in.SoDEnabled != nil {
		o.SoDEnabled = *in.SoDEnabled
	}
	if in.ICTolerance != nil {
		if in.ICTolerance.IsNegative() {
			return nil, apperr.Validation("InvalidToleranceError", "icTolerance must not be negative")
		}
		o.ICTolerance = *in.ICTolerance
	}
	o.UpdatedAt = s.now()
	if err := s.repo.UpdateOrganization(ctx, *o); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, id, "organization.update", "organization", id.String(), nil)
	return o, nil
}

// DeleteOrganization removes an empty tenant. Tenants with companies are kept:
// the ledgers under them are the system of record.
func (s *Service) DeleteOrganization(ctx context.Context, id uuid.UUID) error {
	n, err := s.repo.CountCompanies(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrOrgNotEmpty
	}
	if err := s.repo.DeleteOrganization(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, id, "organization.delete", "organization", id.String(), nil)
	return nil
}

// CreateCompany provisions a legal entity under the organization.
func (s *Service) CreateCompany(ctx context.Context, orgID uuid.UUID, in CreateCompanyInput) (*Company, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	o, err := s.repo.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	c := Company{
		ID:                 uuid.New(),
		OrgID:              orgID,
		Name:               in.Name,
		Jurisdiction:       in.Jurisdiction,
		FunctionalCurrency: in.FunctionalCurrency,
		ReportingCurrency:  orDefault(in.ReportingCurrency, o.ReportingCurrency),
		FiscalYearEndMonth: in.FiscalYearEndMonth,
		FiscalYearEndDay:   in.FiscalYearEndDay,
		Status:             CompanyActive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.InsertCompany(ctx, c); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, orgID, "company.create", "company", c.ID.String(), map[string]any{"name": c.Name})
	return &c, nil
}

// GetCompany loads one company scoped to the organization.
func (s *Service) GetCompany(ctx context.Context, orgID, id uuid.UUID) (*Company, error) {
	return s.repo.GetCompany(ctx, orgID, id)
}

// ListCompanies returns every company of the organization.
func (s *Service) ListCompanies(ctx context.Context, orgID uuid.UUID) ([]Company, error) {
	return s.repo.ListCompanies(ctx, orgID)
}

// UpdateCompany patches mutable fields. A retained-earnings pointer must name
// an active Equity account of this company flagged for retained earnings.
func (s *Service) UpdateCompany(ctx context.Context, orgID, id uuid.UUID, in UpdateCompanyInput) (*Company, error) {
	c, err := s.repo.GetCompany(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		c.Name = *in.Name
	}
	if in.Jurisdiction != nil {
		c.Jurisdiction = *in.Jurisdiction
	}
	if in.ReportingCurrency != nil {
		if err := money.CheckCurrency(*in.ReportingCurrency); err != nil {
			return nil, err
		}
		c.ReportingCurrency = *in.ReportingCurrency
	}
	if in.RetainedEarningsAccountID != nil {
		ok, err := s.repo.IsRetainedEarningsAccount(ctx, c.ID, *in.RetainedEarningsAccountID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrBadRetainedEarnings
		}
		c.RetainedEarningsAccountID = in.RetainedEarningsAccountID
	}
	c.UpdatedAt = s.now()
	if err := s.repo.UpdateCompany(ctx, *c); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, orgID, "company.update", "company", id.String(), nil)
	return c, nil
}

// DeactivateCompany soft-retires a company once its ledger is settled.
func (s *Service) DeactivateCompany(ctx context.Context, orgID, id uuid.UUID) (*Company, error) {
	c, err := s.repo.GetCompany(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if c.Status == CompanyDeactivated {
		return c, nil
	}
	n, err := s.repo.CountUnpostedEntries(ctx, id)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, ErrUnpostedEntries
	}
	c.Status = CompanyDeactivated
	c.UpdatedAt = s.now()
	if err := s.repo.UpdateCompany(ctx, *c); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, orgID, "company.deactivate", "company", id.String(), nil)
	return c, nil
}

// ReactivateCompany returns a deactivated company to service.
func (s *Service) ReactivateCompany(ctx context.Context, orgID, id uuid.UUID) (*Company, error) {
	c, err := s.repo.GetCompany(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if c.Status == CompanyActive {
		return c, nil
	}
	c.Status = CompanyActive
	c.UpdatedAt = s.now()
	if err := s.repo.UpdateCompany(ctx, *c); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, orgID, "company.reactivate", "company", id.String(), nil)
	return c, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (s *Service) recordAudit(ctx context.Context, orgID uuid.UUID, action, entity, entityID string, meta map[string]any) {
	actor, ok := shared.ActorFromContext(ctx)
	if !ok {
		return
	}
	rec := shared.AuditRecord{
		OrgID:    orgID,
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	}
	if err := s.audit.Record(ctx, rec); err != nil {
		s.logger.Error("audit write failed", slog.String("action", action), slog.Any("error", err))
	}
}
