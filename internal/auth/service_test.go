package auth

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-fin/meridian/internal/shared"
	"github.com/meridian-fin/meridian/internal/users"
)

type fakeUsers struct {
	users       map[string]*users.User
	memberships map[uuid.UUID][]users.Membership
}

func (f *fakeUsers) GetUserByEmail(_ context.Context, email string) (*users.User, error) {
	u, ok := f.users[strings.ToLower(email)]
	if !ok {
		return nil, users.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUsers) ListMembershipsForUser(_ context.Context, userID uuid.UUID) ([]users.Membership, error) {
	return f.memberships[userID], nil
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, shared.AuditRecord) error { return nil }

type fakeExchanger struct {
	email string
	err   error
}

func (f fakeExchanger) Exchange(context.Context, string, string) (string, error) {
	return f.email, f.err
}

type authFixture struct {
	service *Service
	source  *fakeUsers
	orgID   uuid.UUID
	userID  uuid.UUID
	now     time.Time
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	hash, err := users.HashPassword("password123")
	require.NoError(t, err)

	f := &authFixture{
		orgID:  uuid.New(),
		userID: uuid.New(),
		now:    time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC),
	}
	f.source = &fakeUsers{
		users: map[string]*users.User{
			"alice@acme.test": {ID: f.userID, Email: "alice@acme.test", Name: "Alice", PasswordHash: hash},
		},
		memberships: map[uuid.UUID][]users.Membership{
			f.userID: {{OrgID: f.orgID, UserID: f.userID, Email: "alice@acme.test", Role: users.RoleAccountant}},
		},
	}
	f.service = NewService(slog.Default(), f.source, NewSessionStore(client), nopAudit{}, []byte("state-secret")).
		WithNow(func() time.Time { return f.now }).
		WithTTL(time.Hour)
	return f
}

func TestLoginIssuesSession(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	sess, err := f.service.Login(ctx, LoginInput{Email: "alice@acme.test", Password: "password123"})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Token)
	assert.Equal(t, f.orgID, sess.OrgID)
	assert.Equal(t, []string{"accountant"}, sess.Roles)
	assert.Equal(t, f.now.Add(time.Hour), sess.ExpiresAt)

	got, err := f.service.Authenticate(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.UserID, got.UserID)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.service.Login(ctx, LoginInput{Email: "alice@acme.test", Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.service.Login(ctx, LoginInput{Email: "nobody@acme.test", Password: "password123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginMultiOrgNeedsSelection(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	otherOrg := uuid.New()
	f.source.memberships[f.userID] = append(f.source.memberships[f.userID],
		users.Membership{OrgID: otherOrg, UserID: f.userID, Role: users.RoleViewer})

	_, err := f.service.Login(ctx, LoginInput{Email: "alice@acme.test", Password: "password123"})
	assert.ErrorIs(t, err, ErrOrgRequired)

	sess, err := f.service.Login(ctx, LoginInput{Email: "alice@acme.test", Password: "password123", OrgID: otherOrg.String()})
	require.NoError(t, err)
	assert.Equal(t, otherOrg, sess.OrgID)
	assert.Equal(t, []string{"viewer"}, sess.Roles)

	_, err = f.service.Login(ctx, LoginInput{Email: "alice@acme.test", Password: "password123", OrgID: uuid.NewString()})
	assert.ErrorIs(t, err, ErrNoMembership)
}

func TestAuthenticateSlidesExpiry(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	sess, err := f.service.Login(ctx, LoginInput{Email: "alice@acme.test", Password: "password123"})
	require.NoError(t, err)

	// Within the first half of the TTL nothing changes.
	f.now = f.now.Add(20 * time.Minute)
	got, err := f.service.Authenticate(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.ExpiresAt, got.ExpiresAt)

	// Past the halfway point the expiry slides to a full TTL again.
	f.now = f.now.Add(25 * time.Minute)
	got, err = f.service.Authenticate(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, f.now.Add(time.Hour), got.ExpiresAt)
}

func TestAuthenticateExpiredSession(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	sess, err := f.service.Login(ctx, LoginInput{Email: "alice@acme.test", Password: "password123"})
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Hour)
	_, err = f.service.Authenticate(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestLogoutRevokesSession(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	sess, err := f.service.Login(ctx, LoginInput{Email: "alice@acme.test", Password: "password123"})
	require.NoError(t, err)

	require.NoError(t, f.service.Logout(ctx, sess.Token))
	_, err = f.service.Authenticate(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestOAuthRoundTrip(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.service.WithProviders([]OAuthProvider{{
		Name:         "corp-idp",
		AuthorizeURL: "https://idp.example.com/authorize",
		ClientID:     "meridian-client",
		RedirectURI:  "https://app.example.com/callback",
		Scopes:       []string{"openid", "email"},
	}}, fakeExchanger{email: "alice@acme.test"})

	redirect, err := f.service.BeginOAuth(ctx, "corp-idp")
	require.NoError(t, err)

	parsed, err := url.Parse(redirect)
	require.NoError(t, err)
	assert.Equal(t, "idp.example.com", parsed.Host)
	assert.Equal(t, "meridian-client", parsed.Query().Get("client_id"))
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)

	sess, err := f.service.CompleteOAuth(ctx, "corp-idp", state, "auth-code")
	require.NoError(t, err)
	assert.Equal(t, f.userID, sess.UserID)

	// State values are single use.
	_, err = f.service.CompleteOAuth(ctx, "corp-idp", state, "auth-code")
	assert.ErrorIs(t, err, ErrBadState)
}

func TestOAuthUnknownProvider(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.service.BeginOAuth(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestOAuthTamperedState(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.service.WithProviders([]OAuthProvider{{
		Name:         "corp-idp",
		AuthorizeURL: "https://idp.example.com/authorize",
		ClientID:     "meridian-client",
		RedirectURI:  "https://app.example.com/callback",
	}}, fakeExchanger{email: "alice@acme.test"})

	_, err := f.service.CompleteOAuth(ctx, "corp-idp", "not-a-jwt", "auth-code")
	assert.ErrorIs(t, err, ErrBadState)
}
