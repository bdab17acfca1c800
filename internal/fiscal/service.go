package fiscal

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-fin/meridian/internal/apperr"
	"github.com/meridian-fin/meridian/internal/shared"
)

// Service owns the fiscal calendar rules.
type Service struct {
	logger *slog.Logger
	repo   Repository
	audit  shared.AuditSink
	now    func() time.Time
}

// NewService wires the calendar service.
func NewService(logger *slog.Logger, repo Repository, audit shared.AuditSink) *Service {
	return &Service{logger: logger, repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateYear generates a fiscal year and its monthly periods. The year number
// must be unused and the date range must not overlap any existing year.
func (s *Service) CreateYear(ctx context.Context, orgID, companyID uuid.UUID, in CreateYearInput) (*FiscalYear, []FiscalPeriod, error) {
	if err := in.Validate(); err != nil {
		return nil, nil, err
	}
	now := s.now()
	y := FiscalYear{
		ID:        uuid.New(),
		CompanyID: companyID,
		Year:      in.Year,
		StartDate: in.StartDate,
		Status:    YearOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	periods := SynthesizePeriods(y.ID, companyID, in.Year, in.StartDate, in.WithAdjustmentPeriod)
	y.EndDate = periods[11].EndDate

	overlapping, err := s.repo.CountOverlappingYears(ctx, companyID, y.StartDate, y.EndDate)
	if err != nil {
		return nil, nil, err
	}
	if overlapping > 0 {
		return nil, nil, ErrYearOverlap
	}
	if err := s.repo.InsertYearWithPeriods(ctx, y, periods); err != nil {
		return nil, nil, err
	}
	s.recordAudit(ctx, orgID, "fiscal_year.create", "fiscal_year", y.ID.String(), map[string]any{"year": in.Year})
	return &y, periods, nil
}

// GetYear loads one fiscal year.
func (s *Service) GetYear(ctx context.Context, companyID, yearID uuid.UUID) (*FiscalYear, error) {
	return s.repo.GetYear(ctx, companyID, yearID)
}

// ListYears returns the company's fiscal years in calendar order.
func (s *Service) ListYears(ctx context.Context, companyID uuid.UUID) ([]FiscalYear, error) {
	return s.repo.ListYears(ctx, companyID)
}

// ListPeriods returns the periods of a year in period order.
func (s *Service) ListPeriods(ctx context.Context, companyID, yearID uuid.UUID) ([]FiscalPeriod, error) {
	if _, err := s.repo.GetYear(ctx, companyID, yearID); err != nil {
		return nil, err
	}
	return s.repo.ListPeriods(ctx, yearID)
}

// GetPeriod loads one period.
func (s *Service) GetPeriod(ctx context.Context, companyID, periodID uuid.UUID) (*FiscalPeriod, error) {
	return s.repo.GetPeriod(ctx, companyID, periodID)
}

// GetPeriodByRef loads a period addressed as (year, period number).
func (s *Service) GetPeriodByRef(ctx context.Context, companyID uuid.UUID, ref PeriodRef) (*FiscalPeriod, error) {
	return s.repo.GetPeriodByRef(ctx, companyID, ref)
}

// ResolveForDate finds the unique regular period whose window contains date.
func (s *Service) ResolveForDate(ctx context.Context, companyID uuid.UUID, date shared.Date) (*FiscalPeriod, error) {
	return s.repo.ResolveForDate(ctx, companyID, date)
}

// ClosePeriod transitions Open to Closed and stamps the closing actor.
func (s *Service) ClosePeriod(ctx context.Context, orgID, companyID, periodID, closedBy uuid.UUID) (*FiscalPeriod, error) {
	p, err := s.repo.GetPeriod(ctx, companyID, periodID)
	if err != nil {
		return nil, err
	}
	if p.Status != PeriodOpen {
		return nil, apperr.With(ErrPeriodStatus, map[string]any{"status": string(p.Status), "expected": string(PeriodOpen)})
	}
	now := s.now()
	p.Status = PeriodClosed
	p.ClosedBy = &closedBy
	p.ClosedAt = &now
	if err := s.repo.UpdatePeriod(ctx, *p); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, orgID, "fiscal_period.close", "fiscal_period", periodID.String(), nil)
	return p, nil
}

// OpenPeriod transitions Closed back to Open and appends the reopen history.
// Periods of a closed year stay closed until the year itself is reopened.
func (s *Service) OpenPeriod(ctx context.Context, orgID, companyID, periodID, reopenedBy uuid.UUID, reason string) (*FiscalPeriod, error) {
	p, err := s.repo.GetPeriod(ctx, companyID, periodID)
	if err != nil {
		return nil, err
	}
	if p.Status != PeriodClosed {
		return nil, apperr.With(ErrPeriodStatus, map[string]any{"status": string(p.Status), "expected": string(PeriodClosed)})
	}
	y, err := s.repo.GetYear(ctx, companyID, p.FiscalYearID)
	if err != nil {
		return nil, err
	}
	if y.Status == YearClosed {
		return nil, apperr.Msgf(ErrYearTransition, "fiscal year %d is closed; reopen the year to open its periods", y.Year)
	}
	p.Status = PeriodOpen
	p.ClosedBy = nil
	p.ClosedAt = nil
	if err := s.repo.UpdatePeriod(ctx, *p); err != nil {
		return nil, err
	}
	event := ReopenEvent{
		ID:         uuid.New(),
		PeriodID:   periodID,
		ReopenedBy: reopenedBy,
		ReopenedAt: s.now(),
		Reason:     reason,
	}
	if err := s.repo.AppendReopenEvent(ctx, event); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, orgID, "fiscal_period.open", "fiscal_period", periodID.String(), map[string]any{"reason": reason})
	return p, nil
}

// ReopenHistory returns a period's append-only reopen log.
func (s *Service) ReopenHistory(ctx context.Context, companyID, periodID uuid.UUID) ([]ReopenEvent, error) {
	if _, err := s.repo.GetPeriod(ctx, companyID, periodID); err != nil {
		return nil, err
	}
	return s.repo.ListReopenHistory(ctx, periodID)
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
