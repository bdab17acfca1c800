package accounts

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-fin/meridian/internal/shared"
)

// Service owns chart-of-accounts rules: numbering, hierarchy shape and
// deactivation gates.
type Service struct {
	logger *slog.Logger
	repo   Repository
	audit  shared.AuditSink
	now    func() time.Time
}

// NewService wires the account service.
func NewService(logger *slog.Logger, repo Repository, audit shared.AuditSink) *Service {
	return &Service{logger: logger, repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create adds an account to a company's chart.
func (s *Service) Create(ctx context.Context, companyID uuid.UUID, in CreateAccountInput) (*Account, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	level := 1
	if in.ParentID != nil {
		parent, err := s.repo.Get(ctx, companyID, *in.ParentID)
		if err != nil {
			return nil, ErrParentCompanyMismatch
		}
		level = parent.HierarchyLevel + 1
		if level > MaxHierarchyDepth {
			return nil, ErrHierarchyTooDeep
		}
	}

	normal := in.NormalBalance
	if normal == "" {
		normal = DefaultNormalBalance(in.Type)
	}
	postable := true
	if in.IsPostable != nil {
		postable = *in.IsPostable
	}
	cashFlow := in.CashFlow
	if cashFlow == "" {
		cashFlow = CashFlowNone
	}

	now := s.now()
	a := Account{
		ID:                    uuid.New(),
		CompanyID:             companyID,
		Number:                in.Number,
		Name:                  in.Name,
		Type:                  in.Type,
		Category:              in.Category,
		NormalBalance:         normal,
		ParentID:              in.ParentID,
		HierarchyLevel:        level,
		IsPostable:            postable,
		IsActive:              true,
		CashFlow:              cashFlow,
		IsIntercompany:        in.IsIntercompany,
		IntercompanyPartnerID: in.IntercompanyPartnerID,
		CurrencyRestriction:   in.CurrencyRestriction,
		IsRetainedEarnings:    in.IsRetainedEarnings,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.repo.Insert(ctx, a); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "account.create", a.ID.String(), map[string]any{"number": a.Number, "name": a.Name})
	return &a, nil
}

// Get loads one account.
func (s *Service) Get(ctx context.Context, companyID, id uuid.UUID) (*Account, error) {
	return s.repo.Get(ctx, companyID, id)
}

// List returns accounts matching the filter, ordered by number.
func (s *Service) List(ctx context.Context, companyID uuid.UUID, f ListFilter) ([]Account, error) {
	return s.repo.List(ctx, companyID, f)
}

// Update patches an account. Changing the parent re-validates acyclicity by
// walking the proposed ancestor chain and re-levels the moved subtree.
func (s *Service) Update(ctx context.Context, companyID, id uuid.UUID, in UpdateAccountInput) (*Account, error) {
	a, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		a.Name = *in.Name
	}
	if in.Category != nil {
		a.Category = *in.Category
	}
	if in.IsPostable != nil {
		a.IsPostable = *in.IsPostable
	}
	if in.CashFlow != nil {
		if !ValidCashFlow(*in.CashFlow) {
			return nil, ErrBadCashFlow
		}
		a.CashFlow = *in.CashFlow
	}
	if in.IsIntercompany != nil {
		a.IsIntercompany = *in.IsIntercompany
	}
	if in.IntercompanyPartnerID != nil {
		a.IntercompanyPartnerID = in.IntercompanyPartnerID
	}
	if in.CurrencyRestriction != nil {
		a.CurrencyRestriction = *in.CurrencyRestriction
	}
	a.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, *a); err != nil {
		return nil, err
	}

	if in.ClearParent {
		if err := s.moveTo(ctx, a, nil); err != nil {
			return nil, err
		}
	} else if in.ParentID != nil {
		if err := s.moveTo(ctx, a, in.ParentID); err != nil {
			return nil, err
		}
	}

	s.recordAudit(ctx, "account.update", id.String(), nil)
	return s.repo.Get(ctx, companyID, id)
}

func (s *Service) moveTo(ctx context.Context, a *Account, parentID *uuid.UUID) error {
	newLevel := 1
	if parentID != nil {
		if *parentID == a.ID {
			return ErrHierarchyCycle
		}
		parent, err := s.repo.Get(ctx, a.CompanyID, *parentID)
		if err != nil {
			return ErrParentCompanyMismatch
		}
		ancestors, err := s.repo.Ancestors(ctx, parent.ID)
		if err != nil {
			return err
		}
		for _, ancestor := range ancestors {
			if ancestor == a.ID {
				return ErrHierarchyCycle
			}
		}
		newLevel = parent.HierarchyLevel + 1
	}

	height, err := s.repo.SubtreeHeight(ctx, a.ID)
	if err != nil {
		return err
	}
	if newLevel+height-1 > MaxHierarchyDepth {
		return ErrHierarchyTooDeep
	}
	return s.repo.Reparent(ctx, a.CompanyID, a.ID, parentID, newLevel)
}

// Deactivate soft-disables an account. Accounts with active children or posted
// lines stay active; both gates are semantic checks, not storage constraints.
func (s *Service) Deactivate(ctx context.Context, companyID, id uuid.UUID) (*Account, error) {
	a, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if !a.IsActive {
		return a, nil
	}
	children, err := s.repo.CountActiveChildren(ctx, id)
	if err != nil {
		return nil, err
	}
	if children > 0 {
		return nil, ErrActiveChildren
	}
	posted, err := s.repo.CountPostedLines(ctx, id)
	if err != nil {
		return nil, err
	}
	if posted > 0 {
		return nil, ErrHasPostedLines
	}
	a.IsActive = false
	a.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, *a); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "account.deactivate", id.String(), nil)
	return a, nil
}

// Reactivate re-enables a deactivated account.
func (s *Service) Reactivate(ctx context.Context, companyID, id uuid.UUID) (*Account, error) {
	a, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if a.IsActive {
		return a, nil
	}
	a.IsActive = true
	a.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, *a); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "account.reactivate", id.String(), nil)
	return a, nil
}

// ApplyTemplate bootstraps an empty chart from a named template.
func (s *Service) ApplyTemplate(ctx context.Context, companyID uuid.UUID, t Template) ([]Account, error) {
	rows, err := TemplateAccounts(t)
	if err != nil {
		return nil, err
	}

	now := s.now()
	byNumber := make(map[string]*Account, len(rows))
	accounts := make([]Account, 0, len(rows))
	for _, row := range rows {
		a := Account{
			ID:                 uuid.New(),
			CompanyID:          companyID,
			Number:             row.Number,
			Name:               row.Name,
			Type:               row.Type,
			Category:           row.Category,
			NormalBalance:      DefaultNormalBalance(row.Type),
			HierarchyLevel:     1,
			IsPostable:         row.IsPostable,
			IsActive:           true,
			CashFlow:           row.CashFlow,
			IsIntercompany:     row.IsIntercompany,
			IsRetainedEarnings: row.IsRetainedEarnings,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if a.CashFlow == "" {
			a.CashFlow = CashFlowNone
		}
		if row.ParentNumber != "" {
			parent, ok := byNumber[row.ParentNumber]
			if !ok {
				return nil, ErrTemplateUnknown
			}
			a.ParentID = &parent.ID
			a.HierarchyLevel = parent.HierarchyLevel + 1
		}
		accounts = append(accounts, a)
		byNumber[row.Number] = &accounts[len(accounts)-1]
	}

	if err := s.repo.InsertAll(ctx, companyID, accounts); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "account.apply_template", companyID.String(), map[string]any{"template": string(t), "count": len(accounts)})
	return accounts, nil
}

func (s *Service) recordAudit(ctx context.Context, action, entityID string, meta map[string]any) {
	actor, ok := shared.ActorFromContext(ctx)
	if !ok {
		return
	}
	rec := shared.AuditRecord{
		OrgID:    actor.OrgID,
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "account",
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	}
	if err := s.audit.Record(ctx, rec); err != nil {
		s.logger.Error("audit write failed", slog.String("action", action), slog.Any("error", err))
	}
}
