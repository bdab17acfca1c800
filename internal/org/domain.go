// Package org manages the tenant hierarchy: organizations and the legal
// entities (companies) that own ledgers.
package org

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-fin/meridian/internal/apperr"
	"github.com/meridian-fin/meridian/internal/money"
)

// CompanyStatus is the lifecycle of a legal entity. Deactivation is soft.
type CompanyStatus string

const (
	CompanyActive      CompanyStatus = "Active"
	CompanyDeactivated CompanyStatus = "Deactivated"
)

// Organization is the top-level tenant. SoDEnabled turns on segregation of
// duties for journal approval; ICTolerance is the intercompany matching
// tolerance in functional currency.
type Organization struct {
	ID                uuid.UUID
	Name              string
	ReportingCurrency string
	Locale            string
	DecimalPlaces     int
	SoDEnabled        bool
	ICTolerance       decimal.Decimal
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Company is a legal entity under an organization.
type Company struct {
	ID                        uuid.UUID
	OrgID                     uuid.UUID
	Name                      string
	Jurisdiction              string
	FunctionalCurrency        string
	ReportingCurrency         string
	FiscalYearEndMonth        int
	FiscalYearEndDay          int
	RetainedEarningsAccountID *uuid.UUID
	Status                    CompanyStatus
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

var (
	ErrOrgNotFound         = apperr.NotFound("OrganizationNotFoundError", "organization not found")
	ErrOrgNotEmpty         = apperr.Rule("OrganizationNotEmptyError", "organization still has companies")
	ErrOrgNameExists       = apperr.Conflict("OrganizationNameAlreadyExistsError", "an organization with this name already exists")
	ErrCompanyNotFound     = apperr.NotFound("CompanyNotFoundError", "company not found")
	ErrCompanyNameExists   = apperr.Conflict("CompanyNameAlreadyExistsError", "a company with this name already exists in the organization")
	ErrCompanyDeactivated  = apperr.Rule("CompanyDeactivatedError", "company is deactivated")
	ErrUnpostedEntries     = apperr.Rule("CompanyHasUnpostedEntriesError", "company has journal entries that are not posted")
	ErrBadRetainedEarnings = apperr.Rule("RetainedEarningsAccountInvalidError", "account must be an active Equity account flagged as retained earnings")
	ErrBadFiscalYearEnd    = apperr.Validation("InvalidFiscalYearEndError", "fiscal year end must be a valid month and day")
)

// CreateOrganizationInput carries a new tenant.
type CreateOrganizationInput struct {
	Name              string `json:"name" validate:"required,min=2,max=120"`
	ReportingCurrency string `json:"reportingCurrency" validate:"required,len=3"`
	Locale            string `json:"locale" validate:"omitempty,max=16"`
	DecimalPlaces     int    `json:"decimalPlaces" validate:"min=0,max=6"`
}

// Validate applies the domain rules not expressible as struct tags.
func (in CreateOrganizationInput) Validate() error {
	return money.CheckCurrency(in.ReportingCurrency)
}

// UpdateOrganizationInput patches mutable tenant fields.
type UpdateOrganizationInput struct {
	Name          *string          `json:"name" validate:"omitempty,min=2,max=120"`
	Locale        *string          `json:"locale" validate:"omitempty,max=16"`
	DecimalPlaces *int             `json:"decimalPlaces" validate:"omitempty,min=0,max=6"`
	SoDEnabled    *bool            `json:"sodEnabled"`
	ICTolerance   *decimal.Decimal `json:"icTolerance"`
}

// CreateCompanyInput carries a new legal entity.
type CreateCompanyInput struct {
	Name               string `json:"name" validate:"required,min=2,max=120"`
	Jurisdiction       string `json:"jurisdiction" validate:"omitempty,max=64"`
	FunctionalCurrency string `json:"functionalCurrency" validate:"required,len=3"`
	ReportingCurrency  string `json:"reportingCurrency" validate:"omitempty,len=3"`
	FiscalYearEndMonth int    `json:"fiscalYearEndMonth" validate:"required,min=1,max=12"`
	FiscalYearEndDay   int    `json:"fiscalYearEndDay" validate:"required,min=1,max=31"`
}

// Validate applies currency and calendar rules.
func (in CreateCompanyInput) Validate() error {
	if err := money.CheckCurrency(in.FunctionalCurrency); err != nil {
		return err
	}
	if in.ReportingCurrency != "" {
		if err := money.CheckCurrency(in.ReportingCurrency); err != nil {
			return err
		}
	}
	if !validMonthDay(in.FiscalYearEndMonth, in.FiscalYearEndDay) {
		return ErrBadFiscalYearEnd
	}
	return nil
}

// UpdateCompanyInput patches mutable company fields.
type UpdateCompanyInput struct {
	Name                      *string    `json:"name" validate:"omitempty,min=2,max=120"`
	Jurisdiction              *string    `json:"jurisdiction" validate:"omitempty,max=64"`
	ReportingCurrency         *string    `json:"reportingCurrency" validate:"omitempty,len=3"`
	RetainedEarningsAccountID *uuid.UUID `json:"retainedEarningsAccountId"`
}

func validMonthDay(month, day int) bool {
	if month < 1 || month > 12 || day < 1 {
		return false
	}
	// Checked against a leap year so Feb 29 stays legal.
	switch time.Month(month) {
	case time.February:
		return day <= 29
	case time.April, time.June, time.September, time.November:
		return day <= 30
	default:
		return day <= 31
	}
}
