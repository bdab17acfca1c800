// Package ledger implements the double-entry journal engine: entry lifecycle,
// balance invariants, posting with per-company entry numbers and reversal.
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-fin/meridian/internal/apperr"
	"github.com/meridian-fin/meridian/internal/money"
	"github.com/meridian-fin/meridian/internal/shared"
)

// EntryStatus is the lifecycle state of a journal entry.
type EntryStatus string

const (
	StatusDraft           EntryStatus = "Draft"
	StatusPendingApproval EntryStatus = "PendingApproval"
	StatusApproved        EntryStatus = "Approved"
	StatusPosted          EntryStatus = "Posted"
	StatusReversed        EntryStatus = "Reversed"
)

// EntryType classifies an entry. Closing and Reversing entries are system
// generated and bypass the open-period gate.
type EntryType string

const (
	TypeStandard  EntryType = "Standard"
	TypeAdjusting EntryType = "Adjusting"
	TypeClosing   EntryType = "Closing"
	TypeReversing EntryType = "Reversing"
)

// SystemGenerated reports whether entries of this type are produced by the
// engine itself rather than by users.
func (t EntryType) SystemGenerated() bool {
	return t == TypeClosing || t == TypeReversing
}

// Line is one side of a journal entry. Exactly one of Debit/Credit is
// positive; amounts are in the entry's transaction currency, with functional
// equivalents and the captured rate filled at posting time.
type Line struct {
	ID                    uuid.UUID
	EntryID               uuid.UUID
	LineNumber            int
	AccountID             uuid.UUID
	Debit                 decimal.Decimal
	Credit                decimal.Decimal
	FunctionalDebit       decimal.Decimal
	FunctionalCredit      decimal.Decimal
	ExchangeRate          decimal.Decimal
	Memo                  string
	Dimensions            map[string]string
	IntercompanyPartnerID *uuid.UUID
	MatchingLineID        *uuid.UUID
}

// JournalEntry is the unit of double-entry bookkeeping. Once Posted the
// entry is immutable except through Reverse; the reversal link fields are
// mutually exclusive.
type JournalEntry struct {
	ID               uuid.UUID
	CompanyID        uuid.UUID
	EntryNumber      *int64
	Type             EntryType
	Status           EntryStatus
	Currency         string
	TransactionDate  shared.Date
	DocumentDate     *shared.Date
	PostingDate      *shared.Date
	FiscalYear       *int
	FiscalPeriod     *int
	Reference        string
	Description      string
	SourceModule     string
	CreatedBy        uuid.UUID
	CreatedAt        time.Time
	UpdatedAt        time.Time
	PostedBy         *uuid.UUID
	PostedAt         *time.Time
	ReversedEntryID  *uuid.UUID
	ReversingEntryID *uuid.UUID
	Lines            []Line
}

var (
	ErrNotFound        = apperr.NotFound("JournalEntryNotFoundError", "journal entry not found")
	ErrStatus          = apperr.Conflict("JournalEntryStatusError", "journal entry is not in the required status")
	ErrAlreadyReversed = apperr.Conflict("JournalEntryAlreadyReversedError", "journal entry has already been reversed")
	ErrUnbalanced      = apperr.Validation("UnbalancedJournalEntryError", "entry debits and credits do not balance")
	ErrTooFewLines     = apperr.Validation("JournalEntryLineCountError", "a journal entry requires at least two lines")
	ErrBadLineAmount   = apperr.Validation("InvalidLineAmountError", "each line needs exactly one positive side, debit or credit")
	ErrAccountNotFound = apperr.NotFound("AccountNotFoundError", "line references an account the company does not have")
	ErrAccountInactive = apperr.Rule("AccountInactiveError", "line references a deactivated account")
	ErrNotPostable     = apperr.Rule("AccountNotPostableError", "line references a summary account that does not accept postings")
	ErrCurrencyLocked  = apperr.Rule("AccountCurrencyRestrictedError", "account only accepts a single transaction currency")
	ErrSelfApproval    = apperr.Forbidden("SelfApprovalError", "segregation of duties: the entry creator cannot approve it")
)

var legalTransitions = map[EntryStatus]map[EntryStatus]bool{
	StatusDraft:           {StatusPendingApproval: true},
	StatusPendingApproval: {StatusApproved: true, StatusDraft: true},
	StatusApproved:        {StatusPosted: true},
	StatusPosted:          {StatusReversed: true},
}

func statusErr(from, to EntryStatus) error {
	return apperr.With(ErrStatus, map[string]any{"from": string(from), "to": string(to)})
}

func (e *JournalEntry) transition(to EntryStatus) error {
	if !legalTransitions[e.Status][to] {
		return statusErr(e.Status, to)
	}
	e.Status = to
	return nil
}

// Submit moves Draft to PendingApproval.
func (e *JournalEntry) Submit() error { return e.transition(StatusPendingApproval) }

// Reject moves PendingApproval back to Draft.
func (e *JournalEntry) Reject() error { return e.transition(StatusDraft) }

// Approve moves PendingApproval to Approved. With segregation of duties the
// approver must differ from the creator.
func (e *JournalEntry) Approve(actor uuid.UUID, sodEnabled bool) error {
	if e.Status != StatusPendingApproval {
		return statusErr(e.Status, StatusApproved)
	}
	if sodEnabled && actor == e.CreatedBy {
		return ErrSelfApproval
	}
	e.Status = StatusApproved
	return nil
}

// Totals sums the transaction-currency sides of a line set.
func Totals(lines []Line) (debits, credits decimal.Decimal) {
	debits, credits = decimal.Zero, decimal.Zero
	for _, l := range lines {
		debits = debits.Add(l.Debit)
		credits = credits.Add(l.Credit)
	}
	return debits, credits
}

// FunctionalTotals sums the functional-currency sides of a line set.
func FunctionalTotals(lines []Line) (debits, credits decimal.Decimal) {
	debits, credits = decimal.Zero, decimal.Zero
	for _, l := range lines {
		debits = debits.Add(l.FunctionalDebit)
		credits = credits.Add(l.FunctionalCredit)
	}
	return debits, credits
}

func unbalancedErr(debits, credits decimal.Decimal) error {
	return apperr.With(ErrUnbalanced, map[string]any{
		"totalDebits":  debits.StringFixed(money.DefaultScale),
		"totalCredits": credits.StringFixed(money.DefaultScale),
	})
}

// CheckBalanced verifies the transaction-currency sides of the lines agree.
func CheckBalanced(lines []Line) error {
	debits, credits := Totals(lines)
	if debits.Cmp(credits) != 0 {
		return unbalancedErr(debits, credits)
	}
	return nil
}

// LineInput is one line of a create or update request. Amounts arrive as
// quoted decimal strings.
type LineInput struct {
	AccountID             uuid.UUID         `json:"accountId" validate:"required"`
	Debit                 decimal.Decimal   `json:"debit"`
	Credit                decimal.Decimal   `json:"credit"`
	Memo                  string            `json:"memo" validate:"omitempty,max=512"`
	Dimensions            map[string]string `json:"dimensions"`
	IntercompanyPartnerID *uuid.UUID        `json:"intercompanyPartnerId"`
}

// CreateEntryInput carries a new draft entry.
type CreateEntryInput struct {
	Type            EntryType    `json:"type" validate:"omitempty,oneof=Standard Adjusting"`
	Currency        string       `json:"currency" validate:"required,len=3"`
	TransactionDate shared.Date  `json:"transactionDate"`
	DocumentDate    *shared.Date `json:"documentDate"`
	PostingDate     *shared.Date `json:"postingDate"`
	Reference       string       `json:"reference" validate:"omitempty,max=64"`
	Description     string       `json:"description" validate:"omitempty,max=512"`
	SourceModule    string       `json:"sourceModule" validate:"omitempty,max=32"`
	Lines           []LineInput  `json:"lines" validate:"required,dive"`
}

// UpdateEntryInput replaces the mutable fields of a Draft wholesale.
type UpdateEntryInput struct {
	TransactionDate *shared.Date `json:"transactionDate"`
	DocumentDate    *shared.Date `json:"documentDate"`
	PostingDate     *shared.Date `json:"postingDate"`
	Reference       *string      `json:"reference" validate:"omitempty,max=64"`
	Description     *string      `json:"description" validate:"omitempty,max=512"`
	Lines           []LineInput  `json:"lines" validate:"omitempty,dive"`
}

// ReverseInput selects the reversal date; when absent the original's
// transaction date is reused.
type ReverseInput struct {
	ReversalDate *shared.Date `json:"reversalDate"`
	Memo         string       `json:"memo" validate:"omitempty,max=512"`
}

// Validate applies the shape rules: a known currency, a transaction date,
// two or more lines each with exactly one positive side, and equal totals.
func (in CreateEntryInput) Validate() error {
	if err := money.CheckCurrency(in.Currency); err != nil {
		return err
	}
	if in.TransactionDate.IsZero() {
		return apperr.Validation("HttpApiDecodeError", "transactionDate is required")
	}
	return ValidateLineInputs(in.Lines)
}

// ValidateLineInputs applies the line-level shape rules shared by create and
// update.
func ValidateLineInputs(lines []LineInput) error {
	if len(lines) < 2 {
		return ErrTooFewLines
	}
	debits, credits := decimal.Zero, decimal.Zero
	for i, l := range lines {
		debitSet := l.Debit.IsPositive()
		creditSet := l.Credit.IsPositive()
		if l.Debit.IsNegative() || l.Credit.IsNegative() || debitSet == creditSet {
			return apperr.With(ErrBadLineAmount, map[string]any{"lineNumber": i + 1})
		}
		debits = debits.Add(l.Debit)
		credits = credits.Add(l.Credit)
	}
	if debits.Cmp(credits) != 0 {
		return unbalancedErr(debits, credits)
	}
	return nil
}

// BuildLines materialises validated inputs into numbered lines.
func BuildLines(entryID uuid.UUID, inputs []LineInput) []Line {
	lines := make([]Line, 0, len(inputs))
	for i, in := range inputs {
		lines = append(lines, Line{
			ID:                    uuid.New(),
			EntryID:               entryID,
			LineNumber:            i + 1,
			AccountID:             in.AccountID,
			Debit:                 in.Debit,
			Credit:                in.Credit,
			Memo:                  in.Memo,
			Dimensions:            in.Dimensions,
			IntercompanyPartnerID: in.IntercompanyPartnerID,
		})
	}
	return lines
}
