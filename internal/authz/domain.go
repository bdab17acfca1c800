// Package authz implements attribute-based access control: priority-ordered
// policies with deny-override, evaluated against an immutable in-process
// snapshot, with every denial appended to an audit sink.
package authz

import (
	"time"

	"github.com/google/uuid"

	"github.com/meridian-fin/meridian/internal/apperr"
)

// Effect is what a matched policy contributes to the decision.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Priority bands. Custom policies live in [0, 899]; system policies in
// [900, 1000] and are immutable through the API.
const (
	MaxCustomPriority = 899
	MinSystemPriority = 900
	MaxPriority       = 1000
)

// SubjectCondition matches the authenticated principal. Empty lists match any
// subject; populated lists are OR within, AND across fields.
type SubjectCondition struct {
	UserIDs []uuid.UUID `json:"userIds,omitempty"`
	Roles   []string    `json:"roles,omitempty"`
}

// NumberRange is an inclusive account-number window.
type NumberRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ResourceCondition matches the target of the action. All populated fields
// must hold; each list is OR within itself.
type ResourceCondition struct {
	Types          []string      `json:"types,omitempty"`
	AccountNumbers []string      `json:"accountNumbers,omitempty"`
	NumberRanges   []NumberRange `json:"numberRanges,omitempty"`
	AccountTypes   []string      `json:"accountTypes,omitempty"`
	IsIntercompany *bool         `json:"isIntercompany,omitempty"`
	EntryTypes     []string      `json:"entryTypes,omitempty"`
	IsOwnEntry     *bool         `json:"isOwnEntry,omitempty"`
	PeriodStatuses []string      `json:"periodStatuses,omitempty"`
}

// ActionCondition matches the requested action string, e.g.
// "journal_entry:post". Empty matches any action.
type ActionCondition struct {
	Actions []string `json:"actions,omitempty"`
}

// EnvCondition matches the request environment: a time-of-day window in the
// request's timezone, a day-of-week mask and IP allow/deny lists in CIDR form.
type EnvCondition struct {
	TimeStart string   `json:"timeStart,omitempty"` // HH:MM inclusive
	TimeEnd   string   `json:"timeEnd,omitempty"`   // HH:MM inclusive
	Days      []string `json:"days,omitempty"`      // Mon..Sun
	AllowIPs  []string `json:"allowIps,omitempty"`  // CIDR
	DenyIPs   []string `json:"denyIps,omitempty"`   // CIDR
}

// Policy is one ABAC rule. A nil Environment matches every environment.
type Policy struct {
	ID          uuid.UUID
	OrgID       uuid.UUID
	Name        string
	Description string
	Subject     SubjectCondition
	Resource    ResourceCondition
	Action      ActionCondition
	Environment *EnvCondition
	Effect      Effect
	Priority    int
	IsSystem    bool
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Subject is the principal side of an evaluation request.
type Subject struct {
	UserID uuid.UUID
	Roles  []string
}

// Resource is the attribute bag describing the evaluation target. Zero-value
// fields are treated as absent.
type Resource struct {
	Type           string
	ID             string
	AccountNumber  string
	AccountType    string
	IsIntercompany *bool
	EntryType      string
	CreatedBy      uuid.UUID
	PeriodStatus   string
}

// Environment carries the request-scoped ambient attributes.
type Environment struct {
	At        time.Time
	IP        string
	UserAgent string
}

// Request is one authorization question.
type Request struct {
	OrgID       uuid.UUID
	Subject     Subject
	Action      string
	Resource    Resource
	Environment Environment
}

// Decision is the evaluation outcome. DecidedBy is nil when no policy matched
// and the default deny applied.
type Decision struct {
	Effect           Effect
	MatchedPolicyIDs []uuid.UUID
	DecidedBy        *uuid.UUID
}

// Allowed reports whether the action may proceed.
func (d Decision) Allowed() bool { return d.Effect == EffectAllow }

// DenialRecord is the append-only trail entry written for every deny.
type DenialRecord struct {
	ID               uuid.UUID
	OrgID            uuid.UUID
	UserID           uuid.UUID
	Action           string
	ResourceType     string
	ResourceID       string
	MatchedPolicyIDs []uuid.UUID
	IP               string
	UserAgent        string
	OccurredAt       time.Time
}

var (
	ErrPolicyNotFound = apperr.NotFound("PolicyNotFoundError", "policy not found")
	ErrForbidden      = apperr.Forbidden("ForbiddenError", "action denied by policy")
	ErrSystemPolicy   = apperr.Rule("SystemPolicyImmutableError", "system policies cannot be modified or deleted")
	ErrPriorityBand   = apperr.Validation("PolicyPriorityRangeError", "custom policy priority must be between 0 and 899")
	ErrInvalidEffect  = apperr.Validation("InvalidPolicyEffectError", "effect must be allow or deny")
	ErrInvalidEnv     = apperr.Validation("InvalidPolicyEnvironmentError", "environment condition is malformed")
)

// CreatePolicyInput carries a new custom policy.
type CreatePolicyInput struct {
	Name        string            `json:"name" validate:"required,min=2,max=120"`
	Description string            `json:"description" validate:"omitempty,max=512"`
	Subject     SubjectCondition  `json:"subject"`
	Resource    ResourceCondition `json:"resource"`
	Action      ActionCondition   `json:"action"`
	Environment *EnvCondition     `json:"environment"`
	Effect      Effect            `json:"effect" validate:"required"`
	Priority    int               `json:"priority" validate:"min=0"`
	IsActive    *bool             `json:"isActive"`
}

// Validate applies the band and effect rules.
func (in CreatePolicyInput) Validate() error {
	if in.Effect != EffectAllow && in.Effect != EffectDeny {
		return ErrInvalidEffect
	}
	if in.Priority > MaxCustomPriority {
		return ErrPriorityBand
	}
	if in.Environment != nil {
		if err := in.Environment.validate(); err != nil {
			return err
		}
	}
	return nil
}

// UpdatePolicyInput patches mutable policy fields.
type UpdatePolicyInput struct {
	Name        *string            `json:"name" validate:"omitempty,min=2,max=120"`
	Description *string            `json:"description" validate:"omitempty,max=512"`
	Subject     *SubjectCondition  `json:"subject"`
	Resource    *ResourceCondition `json:"resource"`
	Action      *ActionCondition   `json:"action"`
	Environment *EnvCondition      `json:"environment"`
	Effect      *Effect            `json:"effect"`
	Priority    *int               `json:"priority"`
	IsActive    *bool              `json:"isActive"`
}

// TestPolicyInput drives the dry-run evaluation endpoint.
type TestPolicyInput struct {
	UserID        uuid.UUID `json:"userId"`
	Roles         []string  `json:"roles"`
	Action        string    `json:"action" validate:"required"`
	ResourceType  string    `json:"resourceType"`
	ResourceID    string    `json:"resourceId"`
	AccountNumber string    `json:"accountNumber"`
	AccountType   string    `json:"accountType"`
	EntryType     string    `json:"entryType"`
	CreatedBy     uuid.UUID `json:"createdBy"`
	PeriodStatus  string    `json:"periodStatus"`
	IP            string    `json:"ip"`
}
