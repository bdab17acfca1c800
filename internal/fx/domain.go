// Package fx stores effective-dated exchange rates and answers the lookup
// queries the ledger and consolidation engines depend on.
package fx

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-fin/meridian/internal/apperr"
	"github.com/meridian-fin/meridian/internal/money"
	"github.com/meridian-fin/meridian/internal/shared"
)

// RateType classifies how a rate was sourced and when it applies.
type RateType string

const (
	RateSpot       RateType = "Spot"
	RateAverage    RateType = "Average"
	RateHistorical RateType = "Historical"
	RateClosing    RateType = "Closing"
)

// ValidType reports whether t is one of the four known rate types.
func ValidType(t RateType) bool {
	switch t {
	case RateSpot, RateAverage, RateHistorical, RateClosing:
		return true
	}
	return false
}

// ExchangeRate is one effective-dated quote for a currency pair.
type ExchangeRate struct {
	ID            uuid.UUID
	OrgID         uuid.UUID
	FromCurrency  string
	ToCurrency    string
	EffectiveDate shared.Date
	Type          RateType
	Rate          decimal.Decimal
	Source        string
	CreatedAt     time.Time
}

var (
	ErrSameCurrency  = apperr.Validation("SameCurrencyExchangeRateError", "from and to currency must differ")
	ErrInvalidRate   = apperr.Validation("InvalidExchangeRateError", "rate must be a positive decimal")
	ErrInvalidType   = apperr.Validation("InvalidExchangeRateTypeError", "unknown rate type")
	ErrLookupDate    = apperr.Validation("InvalidExchangeRateLookupError", "date must be provided as YYYY-MM-DD")
	ErrLookupMode    = apperr.Validation("InvalidExchangeRateLookupError", "mode must be exact, closest or latest")
	ErrRateNotFound  = apperr.NotFound("ExchangeRateNotFoundError", "no exchange rate satisfies the lookup")
	ErrRateDuplicate = apperr.Conflict("ExchangeRateAlreadyExistsError", "a rate for this pair, date and type already exists")
)

// CreateRateInput carries one rate to be stored.
type CreateRateInput struct {
	FromCurrency  string          `json:"fromCurrency" validate:"required,len=3"`
	ToCurrency    string          `json:"toCurrency" validate:"required,len=3"`
	EffectiveDate shared.Date     `json:"effectiveDate"`
	Type          RateType        `json:"rateType" validate:"required"`
	Rate          decimal.Decimal `json:"rate"`
	Source        string          `json:"source"`
}

// Validate applies the domain rules that JSON shape checks cannot express.
func (in CreateRateInput) Validate() error {
	if err := money.CheckCurrency(in.FromCurrency); err != nil {
		return err
	}
	if err := money.CheckCurrency(in.ToCurrency); err != nil {
		return err
	}
	if in.FromCurrency == in.ToCurrency {
		return ErrSameCurrency
	}
	if !ValidType(in.Type) {
		return ErrInvalidType
	}
	if !in.Rate.IsPositive() {
		return ErrInvalidRate
	}
	if in.EffectiveDate.IsZero() {
		return apperr.Validation("InvalidExchangeRateError", "effectiveDate is required")
	}
	return nil
}

// Window bounds a fiscal period in civil dates, both ends inclusive.
type Window struct {
	Start shared.Date
	End   shared.Date
}

// Contains reports whether d falls inside the window.
func (w Window) Contains(d shared.Date) bool {
	return !d.Before(w.Start) && !d.After(w.End)
}
