// Package consolidation maintains consolidation groups, elimination rules and
// the durable seven-step run pipeline that produces a consolidated trial
// balance in the group's reporting currency.
package consolidation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-fin/meridian/internal/accounts"
	"github.com/meridian-fin/meridian/internal/apperr"
	"github.com/meridian-fin/meridian/internal/money"
	"github.com/meridian-fin/meridian/internal/shared"
)

// Method is how a member company enters the consolidated statements.
type Method string

const (
	FullConsolidation Method = "FullConsolidation"
	EquityMethod      Method = "EquityMethod"
)

// ValidMethod reports whether m is a known consolidation method.
func ValidMethod(m Method) bool {
	return m == FullConsolidation || m == EquityMethod
}

// Group is a set of companies consolidated into one reporting entity.
type Group struct {
	ID                uuid.UUID
	OrgID             uuid.UUID
	Name              string
	ReportingCurrency string
	ParentCompanyID   uuid.UUID
	IsActive          bool
	Members           []Member
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Member is one company inside a group together with the ownership terms
// that drive translation, elimination and NCI.
type Member struct {
	ID              uuid.UUID
	GroupID         uuid.UUID
	CompanyID       uuid.UUID
	OwnershipPct    decimal.Decimal
	Method          Method
	AcquisitionDate shared.Date
	Goodwill        decimal.Decimal
	CreatedAt       time.Time
}

// NCIFraction returns the non-controlling share as a fraction in [0,1].
func (m Member) NCIFraction() decimal.Decimal {
	return hundred.Sub(m.OwnershipPct).Div(hundred)
}

// OwnershipFraction returns the parent's share as a fraction in [0,1].
func (m Member) OwnershipFraction() decimal.Decimal {
	return m.OwnershipPct.Div(hundred)
}

var hundred = decimal.NewFromInt(100)

// RuleType selects the debit/credit pattern an elimination rule generates.
type RuleType string

const (
	RuleReceivablePayable         RuleType = "IntercompanyReceivablePayable"
	RuleRevenueExpense            RuleType = "IntercompanyRevenueExpense"
	RuleDividend                  RuleType = "IntercompanyDividend"
	RuleInvestment                RuleType = "IntercompanyInvestment"
	RuleUnrealizedProfitInventory RuleType = "UnrealizedProfitInventory"
	RuleUnrealizedProfitFixed     RuleType = "UnrealizedProfitFixedAssets"
)

// ValidRuleType reports whether t is a known elimination rule type.
func ValidRuleType(t RuleType) bool {
	switch t {
	case RuleReceivablePayable, RuleRevenueExpense, RuleDividend,
		RuleInvestment, RuleUnrealizedProfitInventory, RuleUnrealizedProfitFixed:
		return true
	}
	return false
}

// RequiresMinimum reports whether the rule type defers profit and therefore
// needs an explicit minimum trigger amount.
func (t RuleType) RequiresMinimum() bool {
	return t == RuleUnrealizedProfitInventory || t == RuleUnrealizedProfitFixed
}

// SelectorKind discriminates the account selector variants.
type SelectorKind string

const (
	SelectById       SelectorKind = "ById"
	SelectByRange    SelectorKind = "ByRange"
	SelectByCategory SelectorKind = "ByCategory"
)

// AccountSelector picks accounts an elimination rule applies to. Exactly one
// variant is populated per Kind.
type AccountSelector struct {
	Kind      SelectorKind `json:"kind" validate:"required,oneof=ById ByRange ByCategory"`
	AccountID *uuid.UUID   `json:"accountId,omitempty"`
	From      string       `json:"from,omitempty"`
	To        string       `json:"to,omitempty"`
	Category  string       `json:"category,omitempty"`
}

// Matches reports whether the selector covers the given balance.
func (s AccountSelector) Matches(b MemberBalance) bool {
	switch s.Kind {
	case SelectById:
		return s.AccountID != nil && *s.AccountID == b.AccountID
	case SelectByRange:
		return b.Number >= s.From && b.Number <= s.To
	case SelectByCategory:
		return b.Category == s.Category
	}
	return false
}

// Valid reports whether the selector's populated fields match its kind.
func (s AccountSelector) Valid() bool {
	switch s.Kind {
	case SelectById:
		return s.AccountID != nil
	case SelectByRange:
		return s.From != "" && s.To != "" && s.From <= s.To
	case SelectByCategory:
		return s.Category != ""
	}
	return false
}

// EliminationRule removes an intra-group balance during step 5. Lower
// priority evaluates first.
type EliminationRule struct {
	ID              uuid.UUID
	GroupID         uuid.UUID
	Name            string
	Type            RuleType
	SourceSelectors []AccountSelector
	TargetSelectors []AccountSelector
	MinimumAmount   *decimal.Decimal
	IsAutomatic     bool
	Priority        int
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RunStatus is the lifecycle of a consolidation run.
type RunStatus string

const (
	RunPending    RunStatus = "Pending"
	RunInProgress RunStatus = "InProgress"
	RunCompleted  RunStatus = "Completed"
	RunFailed     RunStatus = "Failed"
	RunCancelled  RunStatus = "Cancelled"
)

// Terminal reports whether the run can make no further progress.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// StepStatus is the lifecycle of one pipeline step.
type StepStatus string

const (
	StepPending    StepStatus = "Pending"
	StepInProgress StepStatus = "InProgress"
	StepCompleted  StepStatus = "Completed"
	StepFailed     StepStatus = "Failed"
	StepSkipped    StepStatus = "Skipped"
)

// StepName identifies one of the seven pipeline steps, in execution order.
type StepName string

const (
	StepValidate   StepName = "Validate"
	StepTranslate  StepName = "Translate"
	StepAggregate  StepName = "Aggregate"
	StepMatchIC    StepName = "MatchIC"
	StepEliminate  StepName = "Eliminate"
	StepNCI        StepName = "NCI"
	StepGenerateTB StepName = "GenerateTB"
)

// StepOrder is the fixed pipeline. Steps execute strictly in this order.
var StepOrder = [7]StepName{
	StepValidate, StepTranslate, StepAggregate, StepMatchIC,
	StepEliminate, StepNCI, StepGenerateTB,
}

// Step records one pipeline step's execution on the run record. The persisted
// steps array is the ground truth a resumed worker trusts.
type Step struct {
	Name        StepName       `json:"name"`
	Status      StepStatus     `json:"status"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	DurationMS  int64          `json:"durationMs"`
	Error       string         `json:"errorMessage,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// NewSteps returns a fresh Pending steps array.
func NewSteps() [7]Step {
	var steps [7]Step
	for i, name := range StepOrder {
		steps[i] = Step{Name: name, Status: StepPending}
	}
	return steps
}

// RunOptions tune a single run.
type RunOptions struct {
	SkipValidation     bool `json:"skipValidation"`
	ContinueOnWarnings bool `json:"continueOnWarnings"`
	ForceRegeneration  bool `json:"forceRegeneration"`
}

// Run is the durable consolidation job. A worker loads the record and drives
// it forward; completed steps are never re-executed unless the run was
// initiated with ForceRegeneration.
type Run struct {
	ID              uuid.UUID
	OrgID           uuid.UUID
	GroupID         uuid.UUID
	Year            int
	Period          int
	AsOfDate        shared.Date
	Status          RunStatus
	Steps           [7]Step
	Options         RunOptions
	CancelRequested bool
	InitiatedBy     uuid.UUID
	InitiatedAt     time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	DurationMS      int64
	ErrorMessage    string
}

// MemberBalance is one member account's balance after translation into the
// group reporting currency. Amounts are signed with debit positive.
type MemberBalance struct {
	RunID      uuid.UUID
	CompanyID  uuid.UUID
	AccountID  uuid.UUID
	Number     string
	Name       string
	Type       accounts.AccountType
	Category   string
	IsIC       bool
	Local      decimal.Decimal
	Translated decimal.Decimal
	RateUsed   decimal.Decimal
}

// TBLine is one row of the consolidated trial balance. All amounts are signed
// with debit positive; Consolidated = Aggregated + Elimination + NCI.
type TBLine struct {
	AccountNumber string
	AccountName   string
	Type          accounts.AccountType
	Category      string
	Aggregated    decimal.Decimal
	Elimination   decimal.Decimal
	NCI           decimal.Decimal
	Consolidated  decimal.Decimal
}

// EliminationLine is one leg of a synthetic elimination entry.
type EliminationLine struct {
	AccountNumber string               `json:"accountNumber"`
	AccountName   string               `json:"accountName"`
	Type          accounts.AccountType `json:"type"`
	Category      string               `json:"category"`
	Debit         decimal.Decimal      `json:"debit"`
	Credit        decimal.Decimal      `json:"credit"`
}

// EliminationEntry is a balanced entry posted into the run-scoped
// consolidation ledger. It never appears in any company ledger.
type EliminationEntry struct {
	ID          uuid.UUID
	RunID       uuid.UUID
	RuleID      *uuid.UUID
	Description string
	Lines       []EliminationLine
	CreatedAt   time.Time
}

// Balanced reports whether the entry's debits equal its credits.
func (e EliminationEntry) Balanced() bool {
	debits, credits := decimal.Zero, decimal.Zero
	for _, l := range e.Lines {
		debits = debits.Add(l.Debit)
		credits = credits.Add(l.Credit)
	}
	return debits.Equal(credits)
}

// Presentation rows synthesized by the pipeline. They carry reserved account
// numbers so they sort next to their statement section.
const (
	ctaAccountNumber   = "3900"
	ctaAccountName     = "Accumulated OCI - Currency Translation"
	nciAccountNumber   = "3950"
	nciAccountName     = "Non-Controlling Interest"
	emInvestmentNumber = "1900"
	emInvestmentName   = "Investment in Equity-Method Investees"
	emIncomeNumber     = "4990"
	emIncomeName       = "Equity-Method Investment Income"
)

var (
	ErrGroupNotFound     = apperr.NotFound("ConsolidationGroupNotFoundError", "consolidation group not found")
	ErrGroupInactive     = apperr.Rule("ConsolidationGroupInactiveError", "consolidation group is not active")
	ErrMemberExists      = apperr.Conflict("ConsolidationMemberAlreadyExistsError", "company is already a member of the group")
	ErrMemberNotFound    = apperr.NotFound("ConsolidationMemberNotFoundError", "group member not found")
	ErrBadOwnership      = apperr.Validation("InvalidOwnershipPercentageError", "ownership percentage must be between 0 and 100")
	ErrBadMethod         = apperr.Validation("InvalidConsolidationMethodError", "unknown consolidation method")
	ErrRuleNotFound      = apperr.NotFound("EliminationRuleNotFoundError", "elimination rule not found")
	ErrBadRuleType       = apperr.Validation("InvalidEliminationRuleTypeError", "unknown elimination rule type")
	ErrBadSelector       = apperr.Validation("InvalidAccountSelectorError", "account selector fields do not match its kind")
	ErrMinimumRequired   = apperr.Validation("EliminationMinimumAmountRequiredError", "unrealized-profit rules require a minimum amount")
	ErrRunNotFound       = apperr.NotFound("ConsolidationRunNotFoundError", "consolidation run not found")
	ErrRunActive         = apperr.Conflict("ConsolidationRunInProgressError", "another run for this group and period is already active")
	ErrRunNotCancellable = apperr.Conflict("ConsolidationRunStatusError", "run can only be cancelled while Pending or InProgress")
	ErrRunNotCompleted   = apperr.Rule("ConsolidationRunNotCompletedError", "reports require a Completed run")
	ErrUnbalanced        = apperr.Rule("ConsolidatedBalanceSheetNotBalancedError", "consolidated trial balance does not balance")
	ErrValidationFailed  = apperr.Rule("ConsolidationValidationError", "run validation found blocking errors")
)

// CreateGroupInput carries a new consolidation group.
type CreateGroupInput struct {
	Name              string    `json:"name" validate:"required,max=120"`
	ReportingCurrency string    `json:"reportingCurrency" validate:"required,len=3"`
	ParentCompanyID   uuid.UUID `json:"parentCompanyId" validate:"required"`
}

// Validate applies the rules struct tags cannot express.
func (in CreateGroupInput) Validate() error {
	return money.CheckCurrency(in.ReportingCurrency)
}

// UpdateGroupInput patches a group; nil fields are untouched.
type UpdateGroupInput struct {
	Name     *string `json:"name" validate:"omitempty,max=120"`
	IsActive *bool   `json:"isActive"`
}

// AddMemberInput adds a company to a group.
type AddMemberInput struct {
	CompanyID       uuid.UUID       `json:"companyId" validate:"required"`
	OwnershipPct    decimal.Decimal `json:"ownershipPercentage"`
	Method          Method          `json:"method" validate:"required"`
	AcquisitionDate shared.Date     `json:"acquisitionDate"`
	Goodwill        decimal.Decimal `json:"goodwill"`
}

// Validate applies the rules struct tags cannot express.
func (in AddMemberInput) Validate() error {
	if in.OwnershipPct.IsNegative() || in.OwnershipPct.GreaterThan(hundred) {
		return ErrBadOwnership
	}
	if !ValidMethod(in.Method) {
		return ErrBadMethod
	}
	if in.Goodwill.IsNegative() {
		return apperr.Validation("InvalidGoodwillError", "goodwill cannot be negative")
	}
	return nil
}

// UpdateMemberInput patches a member; nil fields are untouched.
type UpdateMemberInput struct {
	OwnershipPct *decimal.Decimal `json:"ownershipPercentage"`
	Method       *Method          `json:"method"`
	Goodwill     *decimal.Decimal `json:"goodwill"`
}

// CreateRuleInput carries a new elimination rule.
type CreateRuleInput struct {
	Name            string            `json:"name" validate:"required,max=120"`
	Type            RuleType          `json:"type" validate:"required"`
	SourceSelectors []AccountSelector `json:"sourceAccountSelectors" validate:"required,min=1,dive"`
	TargetSelectors []AccountSelector `json:"targetAccountSelectors" validate:"required,min=1,dive"`
	MinimumAmount   *decimal.Decimal  `json:"minimumAmount"`
	IsAutomatic     bool              `json:"isAutomatic"`
	Priority        int               `json:"priority" validate:"min=0,max=1000"`
}

// Validate applies the rules struct tags cannot express.
func (in CreateRuleInput) Validate() error {
	if !ValidRuleType(in.Type) {
		return ErrBadRuleType
	}
	if in.Type.RequiresMinimum() && (in.MinimumAmount == nil || !in.MinimumAmount.IsPositive()) {
		return ErrMinimumRequired
	}
	for _, s := range append(append([]AccountSelector{}, in.SourceSelectors...), in.TargetSelectors...) {
		if !s.Valid() {
			return ErrBadSelector
		}
	}
	return nil
}

// UpdateRuleInput patches a rule; nil fields are untouched.
type UpdateRuleInput struct {
	Name          *string          `json:"name" validate:"omitempty,max=120"`
	Priority      *int             `json:"priority" validate:"omitempty,min=0,max=1000"`
	MinimumAmount *decimal.Decimal `json:"minimumAmount"`
	IsActive      *bool            `json:"isActive"`
}

// InitiateInput starts a run for one fiscal period.
type InitiateInput struct {
	Year    int        `json:"year" validate:"required"`
	Period  int        `json:"period" validate:"required,min=1,max=13"`
	Options RunOptions `json:"options"`
}
