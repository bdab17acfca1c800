package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-fin/meridian/internal/platform/db"
)

// Repository persists users, memberships and invitations.
type Repository interface {
	InsertUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	InsertMembership(ctx context.Context, m Membership) error
	GetMembership(ctx context.Context, orgID, userID uuid.UUID) (*Membership, error)
	ListMembers(ctx context.Context, orgID uuid.UUID) ([]Membership, error)
	ListMembershipsForUser(ctx context.Context, userID uuid.UUID) ([]Membership, error)
	UpdateMemberRole(ctx context.Context, orgID, userID uuid.UUID, role Role) error
	DeleteMembership(ctx context.Context, orgID, userID uuid.UUID) error
	CountOwners(ctx context.Context, orgID uuid.UUID) (int, error)

	InsertInvitation(ctx context.Context, inv Invitation) error
	GetInvitation(ctx context.Context, id uuid.UUID) (*Invitation, error)
	ListInvitations(ctx context.Context, orgID uuid.UUID) ([]Invitation, error)
	MarkInvitationAccepted(ctx context.Context, id, userID uuid.UUID, at time.Time) error
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the PostgreSQL-backed membership store.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) InsertUser(ctx context.Context, u User) error {
	const q = `
		INSERT INTO users (id, email, name, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, q, u.ID, u.Email, u.Name, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("users: insert user: %w", err)
	}
	return nil
}

func (r *pgRepository) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	const q = `SELECT id, email, name, password_hash, created_at, updated_at FROM users WHERE id = $1`
	var u User
	err := r.pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("users: get user: %w", err)
	}
	return &u, nil
}

func (r *pgRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	const q = `SELECT id, email, name, password_hash, created_at, updated_at FROM users WHERE lower(email) = lower($1)`
	var u User
	err := r.pool.QueryRow(ctx, q, email).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("users: get user by email: %w", err)
	}
	return &u, nil
}

const membershipColumns = `m.org_id, m.user_id, u.email, u.name, m.role, m.joined_at`

func scanMembership(row pgx.Row) (*Membership, error) {
	var m Membership
	if err := row.Scan(&m.OrgID, &m.UserID, &m.Email, &m.Name, &m.Role, &m.JoinedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *pgRepository) InsertMembership(ctx context.Context, m Membership) error {
	const q = `
		INSERT INTO org_members (org_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, q, m.OrgID, m.UserID, m.Role, m.JoinedAt)
	if _, ok := db.UniqueViolation(err); ok {
		return ErrMemberExists
	}
	if err != nil {
		return fmt.Errorf("users: insert membership: %w", err)
	}
	return nil
}

func (r *pgRepository) GetMembership(ctx context.Context, orgID, userID uuid.UUID) (*Membership, error) {
	q := `SELECT ` + membershipColumns + `
		FROM org_members m JOIN users u ON u.id = m.user_id
		WHERE m.org_id = $1 AND m.user_id = $2`
	m, err := scanMembership(r.pool.QueryRow(ctx, q, orgID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("users: get membership: %w", err)
	}
	return m, nil
}

func (r *pgRepository) ListMembers(ctx context.Context, orgID uuid.UUID) ([]Membership, error) {
	q := `SELECT ` + membershipColumns + `
		FROM org_members m JOIN users u ON u.id = m.user_id
		WHERE m.org_id = $1 ORDER BY m.joined_at ASC`
	return r.queryMemberships(ctx, q, orgID)
}

func (r *pgRepository) ListMembershipsForUser(ctx context.Context, userID uuid.UUID) ([]Membership, error) {
	q := `SELECT ` + membershipColumns + `
		FROM org_members m JOIN users u ON u.id = m.user_id
		WHERE m.user_id = $1 ORDER BY m.joined_at ASC`
	return r.queryMemberships(ctx, q, userID)
}

func (r *pgRepository) queryMemberships(ctx context.Context, q string, arg any) ([]Membership, error) {
	rows, err := r.pool.Query(ctx, q, arg)
	if err != nil {
		return nil, fmt.Errorf("users: list memberships: %w", err)
	}
	defer rows.Close()

	var out []Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("users: scan membership: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("users: iterate memberships: %w", err)
	}
	return out, nil
}

func (r *pgRepository) UpdateMemberRole(ctx context.Context, orgID, userID uuid.UUID, role Role) error {
	tag, err := r.pool.Exec(ctx, `UPDATE org_members SET role = $3 WHERE org_id = $1 AND user_id = $2`,
		orgID, userID, role)
	if err != nil {
		return fmt.Errorf("users: update member role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMemberNotFound
	}
	return nil
}

func (r *pgRepository) DeleteMembership(ctx context.Context, orgID, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM org_members WHERE org_id = $1 AND user_id = $2`, orgID, userID)
	if err != nil {
		return fmt.Errorf("users: delete membership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMemberNotFound
	}
	return nil
}

func (r *pgRepository) CountOwners(ctx context.Context, orgID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM org_members WHERE org_id = $1 AND role = 'owner'`, orgID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("users: count owners: %w", err)
	}
	return n, nil
}

const invitationColumns = `id, org_id, email, role, invited_by, expires_at, accepted_at, accepted_by, created_at`

func scanInvitation(row pgx.Row) (*Invitation, error) {
	var inv Invitation
	err := row.Scan(&inv.ID, &inv.OrgID, &inv.Email, &inv.Role, &inv.InvitedBy,
		&inv.ExpiresAt, &inv.AcceptedAt, &inv.AcceptedBy, &inv.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *pgRepository) InsertInvitation(ctx context.Context, inv Invitation) error {
	const q = `
		INSERT INTO invitations (id, org_id, email, role, invited_by, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, q, inv.ID, inv.OrgID, inv.Email, inv.Role, inv.InvitedBy, inv.ExpiresAt, inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("users: insert invitation: %w", err)
	}
	return nil
}

func (r *pgRepository) GetInvitation(ctx context.Context, id uuid.UUID) (*Invitation, error) {
	q := `SELECT ` + invitationColumns + ` FROM invitations WHERE id = $1`
	inv, err := scanInvitation(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInviteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("users: get invitation: %w", err)
	}
	return inv, nil
}

func (r *pgRepository) ListInvitations(ctx context.Context, orgID uuid.UUID) ([]Invitation, error) {
	q := `SELECT ` + invitationColumns + ` FROM invitations WHERE org_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, orgID)
	if err != nil {
		return nil, fmt.Errorf("users: list invitations: %w", err)
	}
	defer rows.Close()

	var out []Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("users: scan invitation: %w", err)
		}
		out = append(out, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("users: iterate invitations: %w", err)
	}
	return out, nil
}

func (r *pgRepository) MarkInvitationAccepted(ctx context.Context, id, userID uuid.UUID, at time.Time) error {
	const q = `
		UPDATE invitations SET accepted_at = $2, accepted_by = $3
		WHERE id = $1 AND accepted_at IS NULL`
	tag, err := r.pool.Exec(ctx, q, id, at, userID)
	if err != nil {
		return fmt.Errorf("users: mark invitation accepted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInviteUsed
	}
	return nil
}
