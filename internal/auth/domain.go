// Package auth issues and validates opaque bearer sessions backed by redis,
// with a local email+password provider and an OAuth begin/callback flow
// protected by single-use signed state values.
package auth

import (
	"time"

	"github.com/google/uuid"

	"github.com/meridian-fin/meridian/internal/apperr"
)

// Session is the authenticated principal bound to one opaque bearer token.
// The token itself is only ever held by the client and the redis key.
type Session struct {
	Token     string    `json:"-"`
	UserID    uuid.UUID `json:"userId"`
	OrgID     uuid.UUID `json:"orgId"`
	Email     string    `json:"email"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// LoginInput authenticates with the local provider. OrgID is required only
// when the account belongs to more than one organization.
type LoginInput struct {
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required"`
	OrgID    string `json:"orgId,omitempty"`
}

// OAuthProvider configures one external identity provider.
type OAuthProvider struct {
	Name         string
	AuthorizeURL string
	ClientID     string
	RedirectURI  string
	Scopes       []string
}

var (
	ErrInvalidCredentials = apperr.Unauthorized("InvalidCredentialsError", "email or password is incorrect")
	ErrNoSession          = apperr.Unauthorized("UnauthenticatedError", "missing or expired session")
	ErrNoMembership       = apperr.Forbidden("NotAMemberError", "account does not belong to any organization")
	ErrOrgRequired        = apperr.Validation("OrganizationSelectionRequiredError", "orgId is required when the account belongs to multiple organizations")
	ErrBadState           = apperr.Validation("InvalidOAuthStateError", "oauth state is missing, tampered with, or already used")
	ErrUnknownProvider    = apperr.NotFound("UnknownOAuthProviderError", "oauth provider is not configured")
)
