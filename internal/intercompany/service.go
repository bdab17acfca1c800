package intercompany

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-fin/meridian/internal/shared"
)

// Service manages intercompany transactions and their matching lifecycle.
type Service struct {
	logger *slog.Logger
	repo   Repository
	audit  shared.AuditSink
	now    func() time.Time
}

// NewService wires the intercompany service.
func NewService(logger *slog.Logger, repo Repository, audit shared.AuditSink) *Service {
	return &Service{logger: logger, repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create records a new Unmatched transaction between two distinct companies.
func (s *Service) Create(ctx context.Context, orgID, actorID uuid.UUID, in CreateInput) (*Transaction, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	t := Transaction{
		ID:            uuid.New(),
		OrgID:         orgID,
		FromCompanyID: in.FromCompanyID,
		ToCompanyID:   in.ToCompanyID,
		Type:          in.Type,
		Date:          in.Date,
		Amount:        in.Amount,
		Currency:      in.Currency,
		Status:        StatusUnmatched,
		Variance:      decimal.Zero,
		CreatedBy:     actorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Insert(ctx, t); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, orgID, actorID, "intercompany.create", t.ID, map[string]any{
		"fromCompanyId": t.FromCompanyID.String(),
		"toCompanyId":   t.ToCompanyID.String(),
	})
	return &t, nil
}

// Get loads one transaction.
func (s *Service) Get(ctx context.Context, orgID, id uuid.UUID) (*Transaction, error) {
	return s.repo.Get(ctx, orgID, id)
}

// List returns transactions matching the filter.
func (s *Service) List(ctx context.Context, orgID uuid.UUID, f Filter) ([]Transaction, error) {
	return s.repo.List(ctx, orgID, f)
}

// Link attaches a posted journal entry to one side and re-derives the
// matching status from both sides' functional totals.
func (s *Service) Link(ctx context.Context, orgID, actorID, id uuid.UUID, in LinkInput) (*Transaction, error) {
	t, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	companyID := t.FromCompanyID
	if in.Side == SideTo {
		companyID = t.ToCompanyID
	}
	if _, err := s.repo.EntryTotal(ctx, companyID, in.EntryID); err != nil {
		return nil, ErrEntryMismatch
	}
	entryID := in.EntryID
	if in.Side == SideFrom {
		t.FromEntryID = &entryID
	} else {
		t.ToEntryID = &entryID
	}
	if err := s.rederive(ctx, t); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, orgID, actorID, "intercompany.link", t.ID, map[string]any{
		"side":    string(in.Side),
		"entryId": entryID.String(),
	})
	return t, nil
}

// Unlink detaches one side. This also clears a sticky VarianceApproved.
func (s *Service) Unlink(ctx context.Context, orgID, actorID, id uuid.UUID, side Side) (*Transaction, error) {
	t, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if side == SideFrom {
		t.FromEntryID = nil
	} else {
		t.ToEntryID = nil
	}
	if t.Status == StatusVarianceApproved {
		t.Status = StatusUnmatched
		t.Explanation = ""
	}
	if err := s.rederive(ctx, t); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, orgID, actorID, "intercompany.unlink", t.ID, map[string]any{"side": string(side)})
	return t, nil
}

// ApproveVariance accepts an out-of-tolerance gap with an explanation. The
// status sticks until a side is unlinked.
func (s *Service) ApproveVariance(ctx context.Context, orgID, actorID, id uuid.UUID, in ApproveVarianceInput) (*Transaction, error) {
	t, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if t.FromEntryID == nil || t.ToEntryID == nil {
		return nil, ErrNotLinked
	}
	tolerance, err := s.repo.Tolerance(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if t.Variance.Abs().LessThan(tolerance) {
		return nil, ErrNoVariance
	}
	t.Status = StatusVarianceApproved
	t.Explanation = in.Explanation
	t.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, *t); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, orgID, actorID, "intercompany.approve_variance", t.ID, map[string]any{
		"variance": t.Variance.String(),
	})
	return t, nil
}

// Delete removes a transaction unless its matching status forbids it.
func (s *Service) Delete(ctx context.Context, orgID, actorID, id uuid.UUID) error {
	t, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return err
	}
	if !t.Status.Deletable() {
		return ErrStatusLocked
	}
	if err := s.repo.Delete(ctx, orgID, id); err != nil {
		return err
	}
	s.recordAudit(ctx, orgID, actorID, "intercompany.delete", id, nil)
	return nil
}

// rederive recomputes variance and status from the current link state and
// persists the transaction.
func (s *Service) rederive(ctx context.Context, t *Transaction) error {
	t.Variance = decimal.Zero
	if t.FromEntryID != nil && t.ToEntryID != nil {
		fromTotal, err := s.repo.EntryTotal(ctx, t.FromCompanyID, *t.FromEntryID)
		if err != nil {
			return err
		}
		toTotal, err := s.repo.EntryTotal(ctx, t.ToCompanyID, *t.ToEntryID)
		if err != nil {
			return err
		}
		t.Variance = fromTotal.Sub(toTotal).Abs()
	}
	tolerance, err := s.repo.Tolerance(ctx, t.OrgID)
	if err != nil {
		return err
	}
	t.Status = DeriveStatus(t.Status, t.FromEntryID != nil, t.ToEntryID != nil, t.Variance, tolerance)
	t.UpdatedAt = s.now()
	return s.repo.Update(ctx, *t)
}

func (s *Service) recordAudit(ctx context.Context, orgID, actorID uuid.UUID, action string, id uuid.UUID, meta map[string]any) {
	rec := shared.AuditRecord{
		OrgID:    orgID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "intercompany_transaction",
		EntityID: id.String(),
		Meta:     meta,
		At:       s.now(),
	}
	if err := s.audit.Record(ctx, rec); err != nil {
		s.logger.Error("audit write failed", slog.String("action", action), slog.Any("error", err))
	}
}
