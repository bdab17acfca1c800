// Package accounts manages the chart of accounts: per-company account nodes,
// the parent hierarchy, postability rules and bootstrap templates.
package accounts

import (
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-fin/meridian/internal/apperr"
	"github.com/meridian-fin/meridian/internal/money"
)

// AccountType is the five-way classification driving statement placement.
type AccountType string

const (
	TypeAsset     AccountType = "Asset"
	TypeLiability AccountType = "Liability"
	TypeEquity    AccountType = "Equity"
	TypeRevenue   AccountType = "Revenue"
	TypeExpense   AccountType = "Expense"
)

// ValidType reports whether t is a known account type.
func ValidType(t AccountType) bool {
	switch t {
	case TypeAsset, TypeLiability, TypeEquity, TypeRevenue, TypeExpense:
		return true
	}
	return false
}

// NormalBalance is the side that increases the account.
type NormalBalance string

const (
	NormalDebit  NormalBalance = "Debit"
	NormalCredit NormalBalance = "Credit"
)

// DefaultNormalBalance returns the conventional side for an account type.
func DefaultNormalBalance(t AccountType) NormalBalance {
	switch t {
	case TypeAsset, TypeExpense:
		return NormalDebit
	default:
		return NormalCredit
	}
}

// CashFlowCategory buckets an account for the cash-flow statement.
type CashFlowCategory string

const (
	CashFlowNone      CashFlowCategory = "None"
	CashFlowOperating CashFlowCategory = "Operating"
	CashFlowInvesting CashFlowCategory = "Investing"
	CashFlowFinancing CashFlowCategory = "Financing"
)

// ValidCashFlow reports whether c is a known classification.
func ValidCashFlow(c CashFlowCategory) bool {
	switch c {
	case CashFlowNone, CashFlowOperating, CashFlowInvesting, CashFlowFinancing:
		return true
	}
	return false
}

// MaxHierarchyDepth bounds the parent chain, root inclusive.
const MaxHierarchyDepth = 6

// Account is one node in a company's chart of accounts. Parent edges hold ids
// only; acyclicity is enforced on write.
type Account struct {
	ID                    uuid.UUID
	CompanyID             uuid.UUID
	Number                string
	Name                  string
	Type                  AccountType
	Category              string
	NormalBalance         NormalBalance
	ParentID              *uuid.UUID
	HierarchyLevel        int
	IsPostable            bool
	IsActive              bool
	CashFlow              CashFlowCategory
	IsIntercompany        bool
	IntercompanyPartnerID *uuid.UUID
	CurrencyRestriction   string
	IsRetainedEarnings    bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

var accountNumberPattern = regexp.MustCompile(`^[0-9]{4}$`)

var (
	ErrAccountNotFound       = apperr.NotFound("AccountNotFoundError", "account not found")
	ErrNumberExists          = apperr.Conflict("AccountNumberAlreadyExistsError", "an account with this number already exists in the company")
	ErrBadNumber             = apperr.Validation("InvalidAccountNumberError", "account number must be exactly four digits")
	ErrBadType               = apperr.Validation("InvalidAccountTypeError", "unknown account type")
	ErrBadCashFlow           = apperr.Validation("InvalidCashFlowCategoryError", "unknown cash flow category")
	ErrParentCompanyMismatch = apperr.Validation("ParentAccountCompanyMismatchError", "parent account belongs to a different company")
	ErrHierarchyCycle        = apperr.Rule("AccountHierarchyCycleError", "parent assignment would create a cycle")
	ErrHierarchyTooDeep      = apperr.Rule("AccountHierarchyTooDeepError", "account hierarchy is limited to six levels")
	ErrActiveChildren        = apperr.Rule("HasActiveChildAccountsError", "account has active child accounts")
	ErrHasPostedLines        = apperr.Rule("AccountHasPostedLinesError", "account has posted journal lines")
	ErrRetainedEarningsDup   = apperr.Conflict("RetainedEarningsAccountAlreadyExistsError", "company already has a retained-earnings account")
	ErrRetainedEarningsType  = apperr.Validation("RetainedEarningsAccountTypeError", "retained-earnings flag requires an Equity account")
	ErrTemplateUnknown       = apperr.Validation("UnknownAccountTemplateError", "unknown chart-of-accounts template")
	ErrCompanyHasAccounts    = apperr.Conflict("CompanyAlreadyHasAccountsError", "company already has accounts; templates apply to empty charts only")
)

// CreateAccountInput carries a new account.
type CreateAccountInput struct {
	Number                string           `json:"number" validate:"required"`
	Name                  string           `json:"name" validate:"required,min=2,max=160"`
	Type                  AccountType      `json:"type" validate:"required"`
	Category              string           `json:"category" validate:"omitempty,max=80"`
	NormalBalance         NormalBalance    `json:"normalBalance" validate:"omitempty,oneof=Debit Credit"`
	ParentID              *uuid.UUID       `json:"parentId"`
	IsPostable            *bool            `json:"isPostable"`
	CashFlow              CashFlowCategory `json:"cashFlowCategory" validate:"omitempty"`
	IsIntercompany        bool             `json:"isIntercompany"`
	IntercompanyPartnerID *uuid.UUID       `json:"intercompanyPartnerId"`
	CurrencyRestriction   string           `json:"currencyRestriction" validate:"omitempty,len=3"`
	IsRetainedEarnings    bool             `json:"isRetainedEarnings"`
}

// Validate applies the domain rules struct tags cannot express.
func (in CreateAccountInput) Validate() error {
	if !accountNumberPattern.MatchString(in.Number) {
		return ErrBadNumber
	}
	if !ValidType(in.Type) {
		return ErrBadType
	}
	if in.CashFlow != "" && !ValidCashFlow(in.CashFlow) {
		return ErrBadCashFlow
	}
	if in.CurrencyRestriction != "" {
		if err := money.CheckCurrency(in.CurrencyRestriction); err != nil {
			return err
		}
	}
	if in.IsRetainedEarnings && in.Type != TypeEquity {
		return ErrRetainedEarningsType
	}
	return nil
}

// UpdateAccountInput patches mutable account fields. A nil pointer leaves the
// field untouched; ClearParent detaches the node instead.
type UpdateAccountInput struct {
	Name                  *string           `json:"name" validate:"omitempty,min=2,max=160"`
	Category              *string           `json:"category" validate:"omitempty,max=80"`
	ParentID              *uuid.UUID        `json:"parentId"`
	ClearParent           bool              `json:"clearParent"`
	IsPostable            *bool             `json:"isPostable"`
	CashFlow              *CashFlowCategory `json:"cashFlowCategory"`
	IsIntercompany        *bool             `json:"isIntercompany"`
	IntercompanyPartnerID *uuid.UUID        `json:"intercompanyPartnerId"`
	CurrencyRestriction   *string           `json:"currencyRestriction" validate:"omitempty,len=3"`
}
