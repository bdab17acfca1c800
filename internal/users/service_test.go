package users

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-fin/meridian/internal/shared"
)

type fakeRepo struct {
	users       map[uuid.UUID]User
	memberships map[string]Membership
	invitations map[uuid.UUID]Invitation
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:       map[uuid.UUID]User{},
		memberships: map[string]Membership{},
		invitations: map[uuid.UUID]Invitation{},
	}
}

func memberKey(orgID, userID uuid.UUID) string {
	return orgID.String() + ":" + userID.String()
}

func (f *fakeRepo) InsertUser(_ context.Context, u User) error {
	f.users[u.ID] = u
	return nil
}

func (f *fakeRepo) GetUser(_ context.Context, id uuid.UUID) (*User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (f *fakeRepo) GetUserByEmail(_ context.Context, email string) (*User, error) {
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (f *fakeRepo) InsertMembership(_ context.Context, m Membership) error {
	key := memberKey(m.OrgID, m.UserID)
	if _, ok := f.memberships[key]; ok {
		return ErrMemberExists
	}
	f.memberships[key] = m
	return nil
}

func (f *fakeRepo) GetMembership(_ context.Context, orgID, userID uuid.UUID) (*Membership, error) {
	m, ok := f.memberships[memberKey(orgID, userID)]
	if !ok {
		return nil, ErrMemberNotFound
	}
	return &m, nil
}

func (f *fakeRepo) ListMembers(_ context.Context, orgID uuid.UUID) ([]Membership, error) {
	var out []Membership
	for _, m := range f.memberships {
		if m.OrgID == orgID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListMembershipsForUser(_ context.Context, userID uuid.UUID) ([]Membership, error) {
	var out []Membership
	for _, m := range f.memberships {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeRepo) UpdateMemberRole(_ context.Context, orgID, userID uuid.UUID, role Role) error {
	key := memberKey(orgID, userID)
	m, ok := f.memberships[key]
	if !ok {
		return ErrMemberNotFound
	}
	m.Role = role
	f.memberships[key] = m
	return nil
}

func (f *fakeRepo) DeleteMembership(_ context.Context, orgID, userID uuid.UUID) error {
	key := memberKey(orgID, userID)
	if _, ok := f.memberships[key]; !ok {
		return ErrMemberNotFound
	}
	delete(f.memberships, key)
	return nil
}

func (f *fakeRepo) CountOwners(_ context.Context, orgID uuid.UUID) (int, error) {
	n := 0
	for _, m := range f.memberships {
		if m.OrgID == orgID && m.Role == RoleOwner {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) InsertInvitation(_ context.Context, inv Invitation) error {
	f.invitations[inv.ID] = inv
	return nil
}

func (f *fakeRepo) GetInvitation(_ context.Context, id uuid.UUID) (*Invitation, error) {
	inv, ok := f.invitations[id]
	if !ok {
		return nil, ErrInviteNotFound
	}
	return &inv, nil
}

func (f *fakeRepo) ListInvitations(_ context.Context, orgID uuid.UUID) ([]Invitation, error) {
	var out []Invitation
	for _, inv := range f.invitations {
		if inv.OrgID == orgID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (f *fakeRepo) MarkInvitationAccepted(_ context.Context, id, userID uuid.UUID, at time.Time) error {
	inv, ok := f.invitations[id]
	if !ok {
		return ErrInviteNotFound
	}
	if inv.AcceptedAt != nil {
		return ErrInviteUsed
	}
	inv.AcceptedAt = &at
	inv.AcceptedBy = &userID
	f.invitations[id] = inv
	return nil
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, shared.AuditRecord) error { return nil }

type membersFixture struct {
	repo    *fakeRepo
	service *Service
	orgID   uuid.UUID
	ownerID uuid.UUID
	now     time.Time
}

func newMembersFixture(t *testing.T) *membersFixture {
	t.Helper()
	f := &membersFixture{
		repo:  newFakeRepo(),
		orgID: uuid.New(),
		now:   time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	f.service = NewService(slog.Default(), f.repo, nopAudit{}, []byte("test-secret")).
		WithNow(func() time.Time { return f.now })

	owner := User{ID: uuid.New(), Email: "owner@acme.test", Name: "Owner"}
	f.ownerID = owner.ID
	f.repo.users[owner.ID] = owner
	f.repo.memberships[memberKey(f.orgID, owner.ID)] = Membership{
		OrgID: f.orgID, UserID: owner.ID, Email: owner.Email, Name: owner.Name,
		Role: RoleOwner, JoinedAt: f.now,
	}
	return f
}

func TestInviteAndAccept(t *testing.T) {
	f := newMembersFixture(t)
	ctx := context.Background()

	inv, token, err := f.service.Invite(ctx, f.orgID, f.ownerID, InviteInput{Email: "carol@acme.test", Role: RoleAccountant})
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, "carol@acme.test", inv.Email)
	assert.Equal(t, f.now.Add(inviteTTL), inv.ExpiresAt)

	m, err := f.service.AcceptInvitation(ctx, AcceptInviteInput{Token: token, Name: "Carol", Password: "longenough"})
	require.NoError(t, err)
	assert.Equal(t, RoleAccountant, m.Role)
	assert.Equal(t, f.orgID, m.OrgID)

	// The account was created and the invitation consumed.
	u, err := f.repo.GetUserByEmail(ctx, "carol@acme.test")
	require.NoError(t, err)
	assert.NotEmpty(t, u.PasswordHash)
	stored := f.repo.invitations[inv.ID]
	require.NotNil(t, stored.AcceptedAt)

	// Single use.
	_, err = f.service.AcceptInvitation(ctx, AcceptInviteInput{Token: token, Password: "longenough"})
	assert.ErrorIs(t, err, ErrInviteUsed)
}

func TestInviteExistingMemberConflicts(t *testing.T) {
	f := newMembersFixture(t)

	_, _, err := f.service.Invite(context.Background(), f.orgID, f.ownerID,
		InviteInput{Email: "owner@acme.test", Role: RoleViewer})
	assert.ErrorIs(t, err, ErrMemberExists)
}

func TestInviteValidation(t *testing.T) {
	f := newMembersFixture(t)
	ctx := context.Background()

	_, _, err := f.service.Invite(ctx, f.orgID, f.ownerID, InviteInput{Email: "not-an-email", Role: RoleViewer})
	assert.ErrorIs(t, err, ErrBadEmail)

	_, _, err = f.service.Invite(ctx, f.orgID, f.ownerID, InviteInput{Email: "dana@acme.test", Role: Role("superuser")})
	assert.ErrorIs(t, err, ErrBadRole)
}

func TestAcceptRejectsWeakPassword(t *testing.T) {
	f := newMembersFixture(t)
	ctx := context.Background()

	_, token, err := f.service.Invite(ctx, f.orgID, f.ownerID, InviteInput{Email: "erin@acme.test", Role: RoleViewer})
	require.NoError(t, err)

	_, err = f.service.AcceptInvitation(ctx, AcceptInviteInput{Token: token, Password: "short"})
	assert.ErrorIs(t, err, ErrWeakPassword)
}

func TestAcceptExpiredInvitation(t *testing.T) {
	f := newMembersFixture(t)
	ctx := context.Background()

	_, token, err := f.service.Invite(ctx, f.orgID, f.ownerID, InviteInput{Email: "frank@acme.test", Role: RoleViewer})
	require.NoError(t, err)

	f.now = f.now.Add(inviteTTL + time.Hour)
	_, err = f.service.AcceptInvitation(ctx, AcceptInviteInput{Token: token, Password: "longenough"})
	assert.ErrorIs(t, err, ErrInviteExpired)
}

func TestAcceptTamperedToken(t *testing.T) {
	f := newMembersFixture(t)
	ctx := context.Background()

	_, token, err := f.service.Invite(ctx, f.orgID, f.ownerID, InviteInput{Email: "gina@acme.test", Role: RoleViewer})
	require.NoError(t, err)

	_, err = f.service.AcceptInvitation(ctx, AcceptInviteInput{Token: token + "x", Password: "longenough"})
	assert.ErrorIs(t, err, ErrBadInvite)
}

func TestAcceptExistingUserJoinsWithoutPassword(t *testing.T) {
	f := newMembersFixture(t)
	ctx := context.Background()

	existing := User{ID: uuid.New(), Email: "hugo@acme.test", Name: "Hugo", PasswordHash: "hash"}
	f.repo.users[existing.ID] = existing

	_, token, err := f.service.Invite(ctx, f.orgID, f.ownerID, InviteInput{Email: "hugo@acme.test", Role: RoleAuditor})
	require.NoError(t, err)

	m, err := f.service.AcceptInvitation(ctx, AcceptInviteInput{Token: token})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, m.UserID)
	assert.Equal(t, RoleAuditor, m.Role)
}

func TestLastOwnerCannotBeDemotedOrRemoved(t *testing.T) {
	f := newMembersFixture(t)
	ctx := context.Background()

	_, err := f.service.UpdateMemberRole(ctx, f.orgID, f.ownerID, f.ownerID, UpdateMemberInput{Role: RoleViewer})
	assert.ErrorIs(t, err, ErrOwnerRemoval)

	err = f.service.RemoveMember(ctx, f.orgID, f.ownerID, f.ownerID)
	assert.ErrorIs(t, err, ErrOwnerRemoval)

	// With a second owner both operations pass.
	second := User{ID: uuid.New(), Email: "iris@acme.test", Name: "Iris"}
	f.repo.users[second.ID] = second
	f.repo.memberships[memberKey(f.orgID, second.ID)] = Membership{
		OrgID: f.orgID, UserID: second.ID, Email: second.Email, Role: RoleOwner, JoinedAt: f.now,
	}

	m, err := f.service.UpdateMemberRole(ctx, f.orgID, f.ownerID, f.ownerID, UpdateMemberInput{Role: RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, m.Role)
}

func TestHashPasswordPolicy(t *testing.T) {
	_, err := HashPassword("1234567")
	assert.ErrorIs(t, err, ErrWeakPassword)

	hash, err := HashPassword("12345678")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "12345678"))
	assert.False(t, CheckPassword(hash, "12345679"))
}
