package authz

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-fin/meridian/internal/apperr"
	"github.com/meridian-fin/meridian/internal/shared"
)

// Service manages the policy set and answers authorization questions. Writes
// republish the engine snapshot; a background refresh picks up out-of-process
// changes.
type Service struct {
	logger *slog.Logger
	repo   Repository
	engine *Engine
	now    func() time.Time
}

// NewService wires the authorization service. Call Reload once at startup to
// seed the snapshot.
func NewService(logger *slog.Logger, repo Repository) *Service {
	return &Service{logger: logger, repo: repo, engine: NewEngine(), now: time.Now}
}

// WithNow overrides the clock for tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// Reload republishes the snapshot from storage.
func (s *Service) Reload(ctx context.Context) error {
	policies, err := s.repo.ListAll(ctx)
	if err != nil {
		return err
	}
	s.engine.Publish(policies)
	return nil
}

// RefreshLoop republishes the snapshot on the interval until the context is
// cancelled, so policy edits made by other processes converge.
func (s *Service) RefreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Reload(ctx); err != nil {
				s.logger.Warn("policy snapshot refresh failed", slog.Any("error", err))
			}
		}
	}
}

// Authorize evaluates the request and, on deny, appends a denial record. A
// deny is returned as ErrForbidden carrying the action and resource.
func (s *Service) Authorize(ctx context.Context, req Request) error {
	decision := s.Evaluate(req)
	if decision.Allowed() {
		return nil
	}
	denial := DenialRecord{
		ID:               uuid.New(),
		OrgID:            req.OrgID,
		UserID:           req.Subject.UserID,
		Action:           req.Action,
		ResourceType:     req.Resource.Type,
		ResourceID:       req.Resource.ID,
		MatchedPolicyIDs: decision.MatchedPolicyIDs,
		IP:               req.Environment.IP,
		UserAgent:        req.Environment.UserAgent,
		OccurredAt:       s.now().UTC(),
	}
	if err := s.repo.AppendDenial(ctx, denial); err != nil {
		s.logger.Error("denial record append failed", slog.String("action", req.Action), slog.Any("error", err))
	}
	return apperr.With(ErrForbidden, map[string]any{
		"action":   req.Action,
		"resource": req.Resource.Type,
	})
}

// Evaluate runs the engine without side effects.
func (s *Service) Evaluate(req Request) Decision {
	if req.Environment.At.IsZero() {
		req.Environment.At = s.now()
	}
	return s.engine.Evaluate(req)
}

// RequestFor builds an evaluation request from the context actor.
func RequestFor(ctx context.Context, action string, resource Resource) Request {
	actor, _ := shared.ActorFromContext(ctx)
	return Request{
		OrgID:    actor.OrgID,
		Subject:  Subject{UserID: actor.UserID, Roles: actor.Roles},
		Action:   action,
		Resource: resource,
		Environment: Environment{
			IP:        actor.IP,
			UserAgent: actor.UserAgent,
		},
	}
}

// CreatePolicy stores a custom policy and republishes the snapshot.
func (s *Service) CreatePolicy(ctx context.Context, orgID uuid.UUID, in CreatePolicyInput) (*Policy, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	now := s.now()
	p := Policy{
		ID:          uuid.New(),
		OrgID:       orgID,
		Name:        in.Name,
		Description: in.Description,
		Subject:     in.Subject,
		Resource:    in.Resource,
		Action:      in.Action,
		Environment: in.Environment,
		Effect:      in.Effect,
		Priority:    in.Priority,
		IsActive:    active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, p); err != nil {
		return nil, err
	}
	if err := s.Reload(ctx); err != nil {
		s.logger.Warn("policy snapshot reload failed", slog.Any("error", err))
	}
	return &p, nil
}

// GetPolicy loads one policy.
func (s *Service) GetPolicy(ctx context.Context, orgID, policyID uuid.UUID) (*Policy, error) {
	return s.repo.Get(ctx, orgID, policyID)
}

// ListPolicies returns the org's policies in evaluation order.
func (s *Service) ListPolicies(ctx context.Context, orgID uuid.UUID) ([]Policy, error) {
	return s.repo.List(ctx, orgID)
}

// UpdatePolicy patches a custom policy. System policies reject.
func (s *Service) UpdatePolicy(ctx context.Context, orgID, policyID uuid.UUID, in UpdatePolicyInput) (*Policy, error) {
	p, err := s.repo.Get(ctx, orgID, policyID)
	if err != nil {
		return nil, err
	}
	if p.IsSystem {
		return nil, ErrSystemPolicy
	}
	if in.Name != nil {
		p.Name = *in.Name
	}
	if in.Description != nil {
		p.Description = *in.Description
	}
	if in.Subject != nil {
		p.Subject = *in.Subject
	}
	if in.Resource != nil {
		p.Resource = *in.Resource
	}
	if in.Action != nil {
		p.Action = *in.Action
	}
	if in.Environment != nil {
		if err := in.Environment.validate(); err != nil {
			return nil, err
		}
		p.Environment = in.Environment
	}
	if in.Effect != nil {
		if *in.Effect != EffectAllow && *in.Effect != EffectDeny {
			return nil, ErrInvalidEffect
		}
		p.Effect = *in.Effect
	}
	if in.Priority != nil {
		if *in.Priority < 0 || *in.Priority > MaxCustomPriority {
			return nil, ErrPriorityBand
		}
		p.Priority = *in.Priority
	}
	if in.IsActive != nil {
		p.IsActive = *in.IsActive
	}
	p.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, *p); err != nil {
		return nil, err
	}
	if err := s.Reload(ctx); err != nil {
		s.logger.Warn("policy snapshot reload failed", slog.Any("error", err))
	}
	return p, nil
}

// DeletePolicy removes a custom policy. System policies reject.
func (s *Service) DeletePolicy(ctx context.Context, orgID, policyID uuid.UUID) error {
	p, err := s.repo.Get(ctx, orgID, policyID)
	if err != nil {
		return err
	}
	if p.IsSystem {
		return ErrSystemPolicy
	}
	if err := s.repo.Delete(ctx, orgID, policyID); err != nil {
		return err
	}
	if err := s.Reload(ctx); err != nil {
		s.logger.Warn("policy snapshot reload failed", slog.Any("error", err))
	}
	return nil
}

// TestPolicy evaluates a hypothetical request without recording denials.
func (s *Service) TestPolicy(ctx context.Context, orgID uuid.UUID, in TestPolicyInput) Decision {
	return s.Evaluate(Request{
		OrgID:   orgID,
		Subject: Subject{UserID: in.UserID, Roles: in.Roles},
		Action:  in.Action,
		Resource: Resource{
			Type:          in.ResourceType,
			ID:            in.ResourceID,
			AccountNumber: in.AccountNumber,
			AccountType:   in.AccountType,
			EntryType:     in.EntryType,
			CreatedBy:     in.CreatedBy,
			PeriodStatus:  in.PeriodStatus,
		},
		Environment: Environment{At: s.now(), IP: in.IP},
	})
}

// ListDenials pages through the denial trail, newest first.
func (s *Service) ListDenials(ctx context.Context, orgID uuid.UUID, page shared.Page) ([]DenialRecord, error) {
	return s.repo.ListDenials(ctx, orgID, page)
}
