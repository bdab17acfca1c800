// Package intercompany tracks transactions between group companies and their
// pairwise matching status against the linked journal entries.
package intercompany

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-fin/meridian/internal/apperr"
	"github.com/meridian-fin/meridian/internal/money"
	"github.com/meridian-fin/meridian/internal/shared"
)

// MatchingStatus reflects how far both sides of a transaction are tied to
// posted journal entries.
type MatchingStatus string

const (
	StatusUnmatched        MatchingStatus = "Unmatched"
	StatusPartiallyMatched MatchingStatus = "PartiallyMatched"
	StatusMatched          MatchingStatus = "Matched"
	StatusVarianceApproved MatchingStatus = "VarianceApproved"
)

// Side selects which company's journal entry a link call attaches.
type Side string

const (
	SideFrom Side = "from"
	SideTo   Side = "to"
)

// Transaction is one intra-group economic event with a seller (from) and a
// buyer (to) side. Variance is the absolute functional-currency gap between
// the linked entries' totals; it is meaningful only when both sides link.
type Transaction struct {
	ID            uuid.UUID
	OrgID         uuid.UUID
	FromCompanyID uuid.UUID
	ToCompanyID   uuid.UUID
	Type          string
	Date          shared.Date
	Amount        decimal.Decimal
	Currency      string
	FromEntryID   *uuid.UUID
	ToEntryID     *uuid.UUID
	Status        MatchingStatus
	Variance      decimal.Decimal
	Explanation   string
	CreatedBy     uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

var (
	ErrNotFound      = apperr.NotFound("IntercompanyTransactionNotFoundError", "intercompany transaction not found")
	ErrSameCompany   = apperr.Validation("SameCompanyIntercompanyError", "from and to company must differ")
	ErrStatusLocked  = apperr.Conflict("IntercompanyTransactionStatusError", "transaction cannot be deleted in its current matching status")
	ErrNotLinked     = apperr.Rule("IntercompanyNotLinkedError", "variance approval requires both journal entries linked")
	ErrNoVariance    = apperr.Rule("IntercompanyNoVarianceError", "variance approval requires a variance outside tolerance")
	ErrEntryMismatch = apperr.Rule("IntercompanyEntryCompanyError", "linked journal entry must belong to the side's company")
)

// DeriveStatus computes the matching status from the link state and variance.
// VarianceApproved is sticky while both links stand.
func DeriveStatus(current MatchingStatus, fromLinked, toLinked bool, variance, tolerance decimal.Decimal) MatchingStatus {
	switch {
	case !fromLinked && !toLinked:
		return StatusUnmatched
	case fromLinked != toLinked:
		return StatusPartiallyMatched
	case current == StatusVarianceApproved:
		return StatusVarianceApproved
	case variance.Abs().LessThan(tolerance):
		return StatusMatched
	default:
		return StatusPartiallyMatched
	}
}

// Deletable reports whether a transaction in this status may be removed.
func (s MatchingStatus) Deletable() bool {
	return s != StatusMatched && s != StatusVarianceApproved
}

// CreateInput carries a new intercompany transaction.
type CreateInput struct {
	FromCompanyID uuid.UUID       `json:"fromCompanyId" validate:"required"`
	ToCompanyID   uuid.UUID       `json:"toCompanyId" validate:"required"`
	Type          string          `json:"type" validate:"required,max=64"`
	Date          shared.Date     `json:"date"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency" validate:"required,len=3"`
}

// Validate applies the rules struct tags cannot express.
func (in CreateInput) Validate() error {
	if in.FromCompanyID == in.ToCompanyID {
		return ErrSameCompany
	}
	if err := money.CheckCurrency(in.Currency); err != nil {
		return err
	}
	if in.Date.IsZero() {
		return apperr.Validation("HttpApiDecodeError", "date is required")
	}
	if !in.Amount.IsPositive() {
		return apperr.Validation("HttpApiDecodeError", "amount must be positive")
	}
	return nil
}

// LinkInput attaches a journal entry to one side.
type LinkInput struct {
	Side    Side      `json:"side" validate:"required,oneof=from to"`
	EntryID uuid.UUID `json:"entryId" validate:"required"`
}

// ApproveVarianceInput records the explanation for accepting a variance.
type ApproveVarianceInput struct {
	Explanation string `json:"explanation" validate:"required,max=512"`
}
