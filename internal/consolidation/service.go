package consolidation

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-fin/meridian/internal/fiscal"
	"github.com/meridian-fin/meridian/internal/org"
	"github.com/meridian-fin/meridian/internal/shared"
)

// Enqueuer hands a run to the background worker. The jobs package implements
// it with an asynq client.
type Enqueuer interface {
	EnqueueRun(ctx context.Context, orgID, runID uuid.UUID) error
}

// Service manages groups, members, elimination rules and run lifecycle.
// Pipeline execution itself lives in Engine and runs on the worker.
type Service struct {
	logger    *slog.Logger
	repo      Repository
	companies CompanySource
	calendar  CalendarSource
	enqueuer  Enqueuer
	audit     shared.AuditSink
	now       func() time.Time
}

// NewService wires the consolidation service.
func NewService(logger *slog.Logger, repo Repository, companies CompanySource, calendar CalendarSource,
	enqueuer Enqueuer, audit shared.AuditSink) *Service {
	return &Service{
		logger:    logger,
		repo:      repo,
		companies: companies,
		calendar:  calendar,
		enqueuer:  enqueuer,
		audit:     audit,
		now:       time.Now,
	}
}

// WithNow overrides the clock for tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateGroup registers a new consolidation group around a parent company.
func (s *Service) CreateGroup(ctx context.Context, orgID, actorID uuid.UUID, in CreateGroupInput) (*Group, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	parent, err := s.companies.GetCompany(ctx, orgID, in.ParentCompanyID)
	if err != nil {
		return nil, err
	}
	if parent.Status != org.CompanyActive {
		return nil, org.ErrCompanyDeactivated
	}
	now := s.now()
	g := Group{
		ID:                uuid.New(),
		OrgID:             orgID,
		Name:              in.Name,
		ReportingCurrency: in.ReportingCurrency,
		ParentCompanyID:   in.ParentCompanyID,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.InsertGroup(ctx, g); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, orgID, actorID, "consolidation_group.create", "consolidation_group", g.ID, map[string]any{
		"name": g.Name,
	})
	return &g, nil
}

// GetGroup loads one group with its members.
func (s *Service) GetGroup(ctx context.Context, orgID, groupID uuid.UUID) (*Group, error) {
	return s.repo.GetGroup(ctx, orgID, groupID)
}

// ListGroups returns the organization's groups.
func (s *Service) ListGroups(ctx context.Context, orgID uuid.UUID, page shared.Page) ([]Group, error) {
	return s.repo.ListGroups(ctx, orgID, page)
}

// UpdateGroup patches name and active flag.
func (s *Service) UpdateGroup(ctx context.Context, orgID, actorID, groupID uuid.UUID, in UpdateGroupInput) (*Group, error) {
	g, err := s.repo.GetGroup(ctx, orgID, groupID)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		g.Name = *in.Name
	}
	if in.IsActive != nil {
		g.IsActive = *in.IsActive
	}
	g.UpdatedAt = s.now()
	if err := s.repo.UpdateGroup(ctx, *g); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, orgID, actorID, "consolidation_group.update", "consolidation_group", g.ID, nil)
	return g, nil
}

// DeleteGroup removes a group, its members and rules.
func (s *Service) DeleteGroup(ctx context.Context, orgID, actorID, groupID uuid.UUID) error {
	if err := s.repo.DeleteGroup(ctx, orgID, groupID); err != nil {
		return err
	}
	s.recordAudit(ctx, orgID, actorID, "consolidation_group.delete", "consolidation_group", groupID, nil)
	return nil
}

// AddMember joins a company to the group.
func (s *Service) AddMember(ctx context.Context, orgID, actorID, groupID uuid.UUID, in AddMemberInput) (*Member, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetGroup(ctx, orgID, groupID); err != nil {
		return nil, err
	}
	company, err := s.companies.GetCompany(ctx, orgID, in.CompanyID)
	if err != nil {
		return nil, err
	}
	if company.Status != org.CompanyActive {
		return nil, org.ErrCompanyDeactivated
	}
	m := Member{
		ID:              uuid.New(),
		GroupID:         groupID,
		CompanyID:       in.CompanyID,
		OwnershipPct:    in.OwnershipPct,
		Method:          in.Method,
		AcquisitionDate: in.AcquisitionDate,
		Goodwill:        in.Goodwill,
		CreatedAt:       s.now(),
	}
	if err := s.repo.InsertMember(ctx, m); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, orgID, actorID, "consolidation_member.add", "consolidation_member", m.ID, map[string]any{
		"groupId":   groupID.String(),
		"companyId": in.CompanyID.String(),
	})
	return &m, nil
}

// UpdateMember patches ownership terms.
func (s *Service) UpdateMember(ctx context.Context, orgID, actorID, groupID, memberID uuid.UUID, in UpdateMemberInput) (*Member, error) {
	g, err := s.repo.GetGroup(ctx, orgID, groupID)
	if err != nil {
		return nil, err
	}
	var member *Member
	for i := range g.Members {
		if g.Members[i].ID == memberID {
			member = &g.Members[i]
			break
		}
	}
	if member == nil {
		return nil, ErrMemberNotFound
	}
	if in.OwnershipPct != nil {
		if in.OwnershipPct.IsNegative() || in.OwnershipPct.GreaterThan(hundred) {
			return nil, ErrBadOwnership
		}
		member.OwnershipPct = *in.OwnershipPct
	}
	if in.Method != nil {
		if !ValidMethod(*in.Method) {
			return nil, ErrBadMethod
		}
		member.Method = *in.Method
	}
	if in.Goodwill != nil {
		member.Goodwill = *in.Goodwill
	}
	if err := s.repo.UpdateMember(ctx, *member); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, orgID, actorID, "consolidation_member.update", "consolidation_member", memberID, nil)
	return member, nil
}

// RemoveMember drops a company from the group.
func (s *Service) RemoveMember(ctx context.Context, orgID, actorID, groupID, memberID uuid.UUID) error {
	if _, err := s.repo.GetGroup(ctx, orgID, groupID); err != nil {
		return err
	}
	if err := s.repo.DeleteMember(ctx, groupID, memberID); err != nil {
		return err
	}
	s.recordAudit(ctx, orgID, actorID, "consolidation_member.remove", "consolidation_member", memberID, nil)
	return nil
}

// CreateRule registers a new elimination rule on the group.
func (s *Service) CreateRule(ctx context.Context, orgID, actorID, groupID uuid.UUID, in CreateRuleInput) (*EliminationRule, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetGroup(ctx, orgID, groupID); err != nil {
		return nil, err
	}
	now := s.now()
	rule := EliminationRule{
		ID:              uuid.New(),
		GroupID:         groupID,
		Name:            in.Name,
		Type:            in.Type,
		SourceSelectors: in.SourceSelectors,
		TargetSelectors: in.TargetSelectors,
		MinimumAmount:   in.MinimumAmount,
		IsAutomatic:     in.IsAutomatic,
		Priority:        in.Priority,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.InsertRule(ctx, rule); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, orgID, actorID, "elimination_rule.create", "elimination_rule", rule.ID, map[string]any{
		"groupId": groupID.String(),
		"type":    string(rule.Type),
	})
	return &rule, nil
}

// ListRules returns the group's rules ordered by priority.
func (s *Service) ListRules(ctx context.Context, orgID, groupID uuid.UUID) ([]EliminationRule, error) {
	if _, err := s.repo.GetGroup(ctx, orgID, groupID); err != nil {
		return nil, err
	}
	return s.repo.ListRules(ctx, groupID, false)
}

// UpdateRule patches a rule.
func (s *Service) UpdateRule(ctx context.Context, orgID, actorID, groupID, ruleID uuid.UUID, in UpdateRuleInput) (*EliminationRule, error) {
	if _, err := s.repo.GetGroup(ctx, orgID, groupID); err != nil {
		return nil, err
	}
	rule, err := s.repo.GetRule(ctx, groupID, ruleID)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		rule.Name = *in.Name
	}
	if in.Priority != nil {
		rule.Priority = *in.Priority
	}
	if in.MinimumAmount != nil {
		rule.MinimumAmount = in.MinimumAmount
	}
	if in.IsActive != nil {
		rule.IsActive = *in.IsActive
	}
	if rule.Type.RequiresMinimum() && (rule.MinimumAmount == nil || !rule.MinimumAmount.IsPositive()) {
		return nil, ErrMinimumRequired
	}
	rule.UpdatedAt = s.now()
	if err := s.repo.UpdateRule(ctx, *rule); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, orgID, actorID, "elimination_rule.update", "elimination_rule", ruleID, nil)
	return rule, nil
}

// DeleteRule removes a rule.
func (s *Service) DeleteRule(ctx context.Context, orgID, actorID, groupID, ruleID uuid.UUID) error {
	if _, err := s.repo.GetGroup(ctx, orgID, groupID); err != nil {
		return err
	}
	if err := s.repo.DeleteRule(ctx, groupID, ruleID); err != nil {
		return err
	}
	s.recordAudit(ctx, orgID, actorID, "elimination_rule.delete", "elimination_rule", ruleID, nil)
	return nil
}

// Initiate creates a Pending run for one fiscal period and hands it to the
// worker. The as-of date is the parent company's period end.
func (s *Service) Initiate(ctx context.Context, orgID, actorID, groupID uuid.UUID, in InitiateInput) (*Run, error) {
	g, err := s.repo.GetGroup(ctx, orgID, groupID)
	if err != nil {
		return nil, err
	}
	if !g.IsActive {
		return nil, ErrGroupInactive
	}
	active, err := s.repo.HasActiveRun(ctx, groupID, in.Year, in.Period)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, ErrRunActive
	}

	fy, err := s.calendar.GetYearByNumber(ctx, g.ParentCompanyID, in.Year)
	if err != nil {
		return nil, err
	}
	periods, err := s.calendar.ListPeriods(ctx, fy.ID)
	if err != nil {
		return nil, err
	}
	var period *fiscal.FiscalPeriod
	for i := range periods {
		if periods[i].Number == in.Period {
			period = &periods[i]
			break
		}
	}
	if period == nil {
		return nil, fiscal.ErrPeriodNotFound
	}

	now := s.now()
	run := Run{
		ID:          uuid.New(),
		OrgID:       orgID,
		GroupID:     groupID,
		Year:        in.Year,
		Period:      in.Period,
		AsOfDate:    period.EndDate,
		Status:      RunPending,
		Steps:       NewSteps(),
		Options:     in.Options,
		InitiatedBy: actorID,
		InitiatedAt: now,
	}
	if err := s.repo.InsertRun(ctx, run); err != nil {
		return nil, err
	}
	if err := s.enqueuer.EnqueueRun(ctx, orgID, run.ID); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, orgID, actorID, "consolidation_run.initiate", "consolidation_run", run.ID, map[string]any{
		"groupId": groupID.String(),
		"year":    in.Year,
		"period":  in.Period,
	})
	s.logger.Info("consolidation run initiated",
		slog.String("runId", run.ID.String()),
		slog.String("groupId", groupID.String()),
		slog.Int("year", in.Year),
		slog.Int("period", in.Period))
	return &run, nil
}

// GetRun loads one run.
func (s *Service) GetRun(ctx context.Context, orgID, runID uuid.UUID) (*Run, error) {
	return s.repo.GetRun(ctx, orgID, runID)
}

// ListRuns returns a group's runs, newest first.
func (s *Service) ListRuns(ctx context.Context, orgID, groupID uuid.UUID, page shared.Page) ([]Run, error) {
	if _, err := s.repo.GetGroup(ctx, orgID, groupID); err != nil {
		return nil, err
	}
	return s.repo.ListRuns(ctx, orgID, groupID, page)
}

// Cancel requests cooperative cancellation. A run the worker has not picked
// up yet is cancelled immediately.
func (s *Service) Cancel(ctx context.Context, orgID, actorID, runID uuid.UUID) (*Run, error) {
	run, err := s.repo.GetRun(ctx, orgID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != RunPending && run.Status != RunInProgress {
		return nil, ErrRunNotCancellable
	}
	if err := s.repo.SetCancelRequested(ctx, runID); err != nil {
		return nil, err
	}
	run.CancelRequested = true
	if run.Status == RunPending {
		for i := range run.Steps {
			if run.Steps[i].Status != StepCompleted {
				run.Steps[i].Status = StepSkipped
			}
		}
		completed := s.now()
		run.Status = RunCancelled
		run.CompletedAt = &completed
		if err := s.repo.SaveRun(ctx, run); err != nil {
			return nil, err
		}
	}
	s.recordAudit(ctx, orgID, actorID, "consolidation_run.cancel", "consolidation_run", runID, nil)
	return run, nil
}

// TrialBalance returns a completed run's consolidated trial balance together
// with the group's reporting currency.
func (s *Service) TrialBalance(ctx context.Context, orgID, runID uuid.UUID) (*Run, string, []TBLine, error) {
	run, err := s.repo.GetRun(ctx, orgID, runID)
	if err != nil {
		return nil, "", nil, err
	}
	if run.Status != RunCompleted {
		return nil, "", nil, ErrRunNotCompleted
	}
	g, err := s.repo.GetGroup(ctx, orgID, run.GroupID)
	if err != nil {
		return nil, "", nil, err
	}
	tb, err := s.repo.TrialBalance(ctx, runID)
	if err != nil {
		return nil, "", nil, err
	}
	return run, g.ReportingCurrency, tb, nil
}

// EliminationEntries returns a completed run's synthetic entries.
func (s *Service) EliminationEntries(ctx context.Context, orgID, runID uuid.UUID) ([]EliminationEntry, error) {
	run, err := s.repo.GetRun(ctx, orgID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != RunCompleted {
		return nil, ErrRunNotCompleted
	}
	return s.repo.RunEntries(ctx, runID)
}

func (s *Service) recordAudit(ctx context.Context, orgID, actorID uuid.UUID, action, entity string, id uuid.UUID, meta map[string]any) {
	rec := shared.AuditRecord{
		OrgID:    orgID,
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: id.String(),
		Meta:     meta,
		At:       s.now(),
	}
	if err := s.audit.Record(ctx, rec); err != nil {
		s.logger.Error("audit write failed", slog.String("action", action), slog.Any("error", err))
	}
}
