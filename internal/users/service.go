package users

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/meridian-fin/meridian/internal/shared"
)

// inviteTTL bounds how long an invitation token stays redeemable.
const inviteTTL = 72 * time.Hour

const tokenIssuer = "meridian"

// Service owns membership and invitation rules.
type Service struct {
	logger      *slog.Logger
	repo        Repository
	audit       shared.AuditSink
	tokenSecret []byte
	now         func() time.Time
}

// NewService wires the membership service. tokenSecret signs invitation
// tokens and must match across instances.
func NewService(logger *slog.Logger, repo Repository, audit shared.AuditSink, tokenSecret []byte) *Service {
	return &Service{logger: logger, repo: repo, audit: audit, tokenSecret: tokenSecret, now: time.Now}
}

// WithNow overrides the clock for tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

type inviteClaims struct {
	jwt.RegisteredClaims
	OrgID string `json:"org"`
	Role  string `json:"role"`
}

// ListMembers returns the organization's members.
func (s *Service) ListMembers(ctx context.Context, orgID uuid.UUID) ([]Membership, error) {
	return s.repo.ListMembers(ctx, orgID)
}

// ListMembershipsForUser returns every organization the user belongs to.
func (s *Service) ListMembershipsForUser(ctx context.Context, userID uuid.UUID) ([]Membership, error) {
	return s.repo.ListMembershipsForUser(ctx, userID)
}

// GetUserByEmail loads an account by email.
func (s *Service) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.repo.GetUserByEmail(ctx, email)
}

// ListInvitations returns the organization's invitations, newest first.
func (s *Service) ListInvitations(ctx context.Context, orgID uuid.UUID) ([]Invitation, error) {
	return s.repo.ListInvitations(ctx, orgID)
}

// Invite creates a single-use invitation and returns it with the signed
// token the invitee redeems.
func (s *Service) Invite(ctx context.Context, orgID, actorID uuid.UUID, in InviteInput) (*Invitation, string, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if !validEmail(email) {
		return nil, "", ErrBadEmail
	}
	if !ValidRole(in.Role) {
		return nil, "", ErrBadRole
	}

	// Inviting an existing member is a no-op conflict up front rather than
	// at redemption time.
	if u, err := s.repo.GetUserByEmail(ctx, email); err == nil {
		if _, err := s.repo.GetMembership(ctx, orgID, u.ID); err == nil {
			return nil, "", ErrMemberExists
		}
	}

	now := s.now()
	inv := Invitation{
		ID:        uuid.New(),
		OrgID:     orgID,
		Email:     email,
		Role:      in.Role,
		InvitedBy: actorID,
		ExpiresAt: now.Add(inviteTTL),
		CreatedAt: now,
	}
	if err := s.repo.InsertInvitation(ctx, inv); err != nil {
		return nil, "", err
	}

	token, err := s.signInvite(inv, now)
	if err != nil {
		return nil, "", err
	}
	s.recordAudit(ctx, orgID, actorID, "member.invite", "invitation", inv.ID.String(),
		map[string]any{"email": email, "role": string(in.Role)})
	return &inv, token, nil
}

// AcceptInvitation redeems a token, creating the account when the email is
// new, and joins the user to the organization.
func (s *Service) AcceptInvitation(ctx context.Context, in AcceptInviteInput) (*Membership, error) {
	inv, err := s.verifyInvite(ctx, in.Token)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user, err := s.repo.GetUserByEmail(ctx, inv.Email)
	switch {
	case err == nil:
	case errors.Is(err, ErrUserNotFound):
		hash, err := HashPassword(in.Password)
		if err != nil {
			return nil, err
		}
		user = &User{
			ID:           uuid.New(),
			Email:        inv.Email,
			Name:         strings.TrimSpace(in.Name),
			PasswordHash: hash,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.repo.InsertUser(ctx, *user); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	// Marking accepted first makes the token single-use even when the
	// membership insert races a concurrent redemption.
	if err := s.repo.MarkInvitationAccepted(ctx, inv.ID, user.ID, now); err != nil {
		return nil, err
	}
	m := Membership{
		OrgID:    inv.OrgID,
		UserID:   user.ID,
		Email:    user.Email,
		Name:     user.Name,
		Role:     inv.Role,
		JoinedAt: now,
	}
	if err := s.repo.InsertMembership(ctx, m); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, inv.OrgID, user.ID, "member.join", "membership", user.ID.String(),
		map[string]any{"role": string(inv.Role)})
	return &m, nil
}

// UpdateMemberRole changes a member's role. Demoting the last owner is
// refused.
func (s *Service) UpdateMemberRole(ctx context.Context, orgID, actorID, userID uuid.UUID, in UpdateMemberInput) (*Membership, error) {
	if !ValidRole(in.Role) {
		return nil, ErrBadRole
	}
	m, err := s.repo.GetMembership(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	if m.Role == RoleOwner && in.Role != RoleOwner {
		if err := s.requireAnotherOwner(ctx, orgID); err != nil {
			return nil, err
		}
	}
	if err := s.repo.UpdateMemberRole(ctx, orgID, userID, in.Role); err != nil {
		return nil, err
	}
	m.Role = in.Role
	s.recordAudit(ctx, orgID, actorID, "member.role_change", "membership", userID.String(),
		map[string]any{"role": string(in.Role)})
	return m, nil
}

// RemoveMember drops a membership. The last owner cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, orgID, actorID, userID uuid.UUID) error {
	m, err := s.repo.GetMembership(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if m.Role == RoleOwner {
		if err := s.requireAnotherOwner(ctx, orgID); err != nil {
			return err
		}
	}
	if err := s.repo.DeleteMembership(ctx, orgID, userID); err != nil {
		return err
	}
	s.recordAudit(ctx, orgID, actorID, "member.remove", "membership", userID.String(), nil)
	return nil
}

func (s *Service) requireAnotherOwner(ctx context.Context, orgID uuid.UUID) error {
	n, err := s.repo.CountOwners(ctx, orgID)
	if err != nil {
		return err
	}
	if n <= 1 {
		return ErrOwnerRemoval
	}
	return nil
}

func (s *Service) signInvite(inv Invitation, now time.Time) (string, error) {
	claims := inviteClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        inv.ID.String(),
			Subject:   inv.Email,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(inv.ExpiresAt),
		},
		OrgID: inv.OrgID.String(),
		Role:  string(inv.Role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.tokenSecret)
}

func (s *Service) verifyInvite(ctx context.Context, token string) (*Invitation, error) {
	var claims inviteClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.tokenSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrInviteExpired
		}
		return nil, ErrBadInvite
	}
	if !parsed.Valid {
		return nil, ErrBadInvite
	}
	id, err := uuid.Parse(claims.ID)
	if err != nil {
		return nil, ErrBadInvite
	}
	inv, err := s.repo.GetInvitation(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.AcceptedAt != nil {
		return nil, ErrInviteUsed
	}
	if s.now().After(inv.ExpiresAt) {
		return nil, ErrInviteExpired
	}
	return inv, nil
}

func (s *Service) recordAudit(ctx context.Context, orgID, actorID uuid.UUID, action, entity, entityID string, meta map[string]any) {
	err := s.audit.Record(ctx, shared.AuditRecord{
		OrgID:    orgID,
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Error("audit record failed",
			slog.String("action", action),
			slog.Any("error", err))
	}
}
