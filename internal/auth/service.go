package auth

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/meridian-fin/meridian/internal/shared"
	"github.com/meridian-fin/meridian/internal/users"
)

const (
	// DefaultSessionTTL is the session lifetime; sessions touched past the
	// halfway point slide back to the full TTL.
	DefaultSessionTTL = 24 * time.Hour

	stateTTL    = 10 * time.Minute
	stateIssuer = "meridian"
)

// UserSource resolves accounts and memberships. users.Service satisfies it.
type UserSource interface {
	GetUserByEmail(ctx context.Context, email string) (*users.User, error)
	ListMembershipsForUser(ctx context.Context, userID uuid.UUID) ([]users.Membership, error)
}

// IdentityExchanger swaps an oauth authorization code for the provider's
// verified email address. The concrete transport is wired per deployment.
type IdentityExchanger interface {
	Exchange(ctx context.Context, provider, code string) (email string, err error)
}

// Service owns login, logout and session validation.
type Service struct {
	logger      *slog.Logger
	users       UserSource
	store       *SessionStore
	audit       shared.AuditSink
	providers   map[string]OAuthProvider
	exchanger   IdentityExchanger
	stateSecret []byte
	ttl         time.Duration
	now         func() time.Time
}

// NewService wires the auth service. stateSecret signs oauth state tokens.
func NewService(logger *slog.Logger, userSource UserSource, store *SessionStore,
	audit shared.AuditSink, stateSecret []byte) *Service {
	return &Service{
		logger:      logger,
		users:       userSource,
		store:       store,
		audit:       audit,
		providers:   map[string]OAuthProvider{},
		stateSecret: stateSecret,
		ttl:         DefaultSessionTTL,
		now:         time.Now,
	}
}

// WithNow overrides the clock for tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithTTL overrides the session lifetime.
func (s *Service) WithTTL(ttl time.Duration) *Service {
	s.ttl = ttl
	return s
}

// WithProviders registers the configured oauth providers and the code
// exchanger.
func (s *Service) WithProviders(providers []OAuthProvider, exchanger IdentityExchanger) *Service {
	for _, p := range providers {
		s.providers[p.Name] = p
	}
	s.exchanger = exchanger
	return s
}

// Login authenticates with email and password and issues a session.
func (s *Service) Login(ctx context.Context, in LoginInput) (*Session, error) {
	user, err := s.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(in.Email)))
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if !users.CheckPassword(user.PasswordHash, in.Password) {
		return nil, ErrInvalidCredentials
	}
	return s.issueSession(ctx, user, in.OrgID)
}

// Authenticate resolves a bearer token to its session, sliding the expiry
// forward when more than half the TTL has elapsed.
func (s *Service) Authenticate(ctx context.Context, token string) (*Session, error) {
	sess, err := s.store.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if now.After(sess.ExpiresAt) {
		_ = s.store.Delete(ctx, token)
		return nil, ErrNoSession
	}
	if sess.ExpiresAt.Sub(now) < s.ttl/2 {
		sess.ExpiresAt = now.Add(s.ttl)
		if err := s.store.Put(ctx, *sess, s.ttl); err != nil {
			s.logger.Warn("session refresh failed", slog.Any("error", err))
		}
	}
	return sess, nil
}

// Logout revokes the session.
func (s *Service) Logout(ctx context.Context, token string) error {
	sess, err := s.store.Get(ctx, token)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, token); err != nil {
		return err
	}
	s.recordAudit(ctx, sess.OrgID, sess.UserID, "auth.logout")
	return nil
}

type stateClaims struct {
	jwt.RegisteredClaims
	Provider string `json:"prv"`
}

// BeginOAuth returns the provider authorize URL carrying a signed single-use
// state value.
func (s *Service) BeginOAuth(ctx context.Context, provider string) (string, error) {
	p, ok := s.providers[provider]
	if !ok {
		return "", ErrUnknownProvider
	}
	now := s.now()
	id := uuid.NewString()
	claims := stateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Issuer:    stateIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
		},
		Provider: provider,
	}
	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.stateSecret)
	if err != nil {
		return "", err
	}
	if err := s.store.PutState(ctx, id, stateTTL); err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", p.ClientID)
	q.Set("redirect_uri", p.RedirectURI)
	q.Set("scope", strings.Join(p.Scopes, " "))
	q.Set("state", state)
	return p.AuthorizeURL + "?" + q.Encode(), nil
}

// CompleteOAuth validates and consumes the state, exchanges the code for the
// provider identity and issues a session for the matching account.
func (s *Service) CompleteOAuth(ctx context.Context, provider, state, code string) (*Session, error) {
	p, ok := s.providers[provider]
	if !ok {
		return nil, ErrUnknownProvider
	}
	var claims stateClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(*jwt.Token) (any, error) {
		return s.stateSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(stateIssuer), jwt.WithTimeFunc(s.now))
	if err != nil || claims.Provider != p.Name {
		return nil, ErrBadState
	}
	if err := s.store.TakeState(ctx, claims.ID); err != nil {
		return nil, err
	}

	email, err := s.exchanger.Exchange(ctx, provider, code)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.GetUserByEmail(ctx, strings.ToLower(email))
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issueSession(ctx, user, "")
}

func (s *Service) issueSession(ctx context.Context, user *users.User, orgHint string) (*Session, error) {
	memberships, err := s.users.ListMembershipsForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(memberships) == 0 {
		return nil, ErrNoMembership
	}

	var chosen *users.Membership
	switch {
	case orgHint != "":
		orgID, err := uuid.Parse(orgHint)
		if err != nil {
			return nil, ErrNoMembership
		}
		for i := range memberships {
			if memberships[i].OrgID == orgID {
				chosen = &memberships[i]
				break
			}
		}
		if chosen == nil {
			return nil, ErrNoMembership
		}
	case len(memberships) == 1:
		chosen = &memberships[0]
	default:
		return nil, ErrOrgRequired
	}

	token, err := NewToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	sess := Session{
		Token:     token,
		UserID:    user.ID,
		OrgID:     chosen.OrgID,
		Email:     user.Email,
		Roles:     []string{string(chosen.Role)},
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.Put(ctx, sess, s.ttl); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, sess.OrgID, sess.UserID, "auth.login")
	return &sess, nil
}

func (s *Service) recordAudit(ctx context.Context, orgID, userID uuid.UUID, action string) {
	err := s.audit.Record(ctx, shared.AuditRecord{
		OrgID:    orgID,
		ActorID:  userID,
		Action:   action,
		Entity:   "session",
		EntityID: userID.String(),
		At:       s.now(),
	})
	if err != nil {
		s.logger.Error("audit record failed",
			slog.String("action", action),
			slog.Any("error", err))
	}
}
