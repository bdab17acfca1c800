// Package users owns user accounts, org memberships and the invitation flow.
// Sessions live in internal/auth; this package is the system of record for
// who belongs to which organization and with which role.
package users

import (
	"net/mail"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-fin/meridian/internal/apperr"
)

// Role is an org-scoped membership role. Role names feed authorization
// subject matching, so they stay lowercase.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleAdmin      Role = "admin"
	RoleAccountant Role = "accountant"
	RoleAuditor    Role = "auditor"
	RoleViewer     Role = "viewer"
)

// ValidRole reports whether r is a known role.
func ValidRole(r Role) bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleAccountant, RoleAuditor, RoleViewer:
		return true
	}
	return false
}

// User is a login account. One account can belong to several organizations.
type User struct {
	ID           uuid.UUID
	Email        string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Membership links a user to an organization with a role.
type Membership struct {
	OrgID    uuid.UUID
	UserID   uuid.UUID
	Email    string
	Name     string
	Role     Role
	JoinedAt time.Time
}

// Invitation is a pending, single-use offer to join an organization. The
// signed token carries the invitation id; the row is the revocation and
// single-use check.
type Invitation struct {
	ID         uuid.UUID
	OrgID      uuid.UUID
	Email      string
	Role       Role
	InvitedBy  uuid.UUID
	ExpiresAt  time.Time
	AcceptedAt *time.Time
	AcceptedBy *uuid.UUID
	CreatedAt  time.Time
}

// InviteInput creates an invitation.
type InviteInput struct {
	Email string `json:"email" validate:"required,email"`
	Role  Role   `json:"role"  validate:"required"`
}

// AcceptInviteInput redeems an invitation token. Name and password are only
// used when the email has no account yet.
type AcceptInviteInput struct {
	Token    string `json:"token" validate:"required"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// UpdateMemberInput changes a member's role.
type UpdateMemberInput struct {
	Role Role `json:"role" validate:"required"`
}

const minPasswordLength = 8

// HashPassword enforces the password policy and returns the bcrypt hash.
func HashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a candidate password against the stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

var (
	ErrUserNotFound   = apperr.NotFound("UserNotFoundError", "user not found")
	ErrMemberNotFound = apperr.NotFound("MemberNotFoundError", "member not found in organization")
	ErrMemberExists   = apperr.Conflict("MemberAlreadyExistsError", "user is already a member of the organization")
	ErrOwnerRemoval   = apperr.Rule("OwnerCannotBeRemovedError", "the last owner of an organization cannot be removed or demoted")
	ErrBadRole        = apperr.Validation("InvalidRoleError", "role is not one of the known membership roles")
	ErrBadEmail       = apperr.Validation("InvalidEmailError", "email address is not valid")
	ErrWeakPassword   = apperr.Validation("PasswordWeakError", "password must be at least 8 characters")
	ErrInviteNotFound = apperr.NotFound("InvitationNotFoundError", "invitation not found")
	ErrInviteExpired  = apperr.Rule("InvitationExpiredError", "invitation has expired")
	ErrInviteUsed     = apperr.Conflict("InvitationAlreadyUsedError", "invitation has already been accepted")
	ErrBadInvite      = apperr.Validation("InvalidInvitationTokenError", "invitation token is malformed or has a bad signature")
)
