// Package money centralises monetary arithmetic. Every amount in the ledger is
// a Money value: an arbitrary-precision decimal tagged with an ISO-4217
// currency. All rounding is banker's rounding at an explicit scale; nothing in
// this repository may do monetary math on floats.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/meridian-fin/meridian/internal/apperr"
)

// DefaultScale is the scale used for ledger amounts unless the currency or
// organisation configures otherwise.
const DefaultScale = 2

// ErrCurrencyMismatch is returned when combining amounts of different
// currencies.
var ErrCurrencyMismatch = apperr.Validation("CurrencyMismatchError", "money: currency mismatch")

// ErrInvalidCurrency is returned for codes that are not ISO 4217.
var ErrInvalidCurrency = apperr.Validation("InvalidCurrencyError", "money: invalid ISO 4217 currency code")

// ErrInvalidAmount is returned for amounts that fail to parse as canonical
// decimals.
var ErrInvalidAmount = apperr.Validation("InvalidAmountError", "money: invalid decimal amount")

// Money is an immutable currency-tagged decimal amount.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// ValidateCurrency normalises and validates an ISO-4217 code.
func ValidateCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if _, err := currency.ParseISO(code); err != nil {
		return "", apperr.Msgf(ErrInvalidCurrency, "money: %q is not an ISO 4217 currency", code)
	}
	return code, nil
}

// CheckCurrency validates an ISO-4217 code without returning the normalised
// form. Callers that already hold uppercase codes use this in input guards.
func CheckCurrency(code string) error {
	_, err := ValidateCurrency(code)
	return err
}

// New constructs a Money from a decimal and a currency code.
func New(amount decimal.Decimal, code string) (Money, error) {
	normalized, err := ValidateCurrency(code)
	if err != nil {
		return Money{}, err
	}
	return Money{amount: amount, currency: normalized}, nil
}

// MustNew is New for trusted inputs; it panics on invalid currency and is
// reserved for package literals and tests.
func MustNew(amount decimal.Decimal, code string) Money {
	m, err := New(amount, code)
	if err != nil {
		panic(err)
	}
	return m
}

// Parse builds a Money from a canonical decimal string and currency code.
func Parse(amount, code string) (Money, error) {
	dec, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, apperr.Msgf(ErrInvalidAmount, "money: %q is not a decimal amount", amount)
	}
	return New(dec, code)
}

// Zero returns the distinguished zero amount for a currency.
func Zero(code string) Money {
	code = strings.ToUpper(strings.TrimSpace(code))
	return Money{amount: decimal.Zero, currency: code}
}

// Amount exposes the underlying decimal.
func (m Money) Amount() decimal.Decimal { return m.amount }

// Currency returns the ISO-4217 code.
func (m Money) Currency() string { return m.currency }

// IsZero reports whether the amount is zero regardless of scale.
func (m Money) IsZero() bool { return m.amount.IsZero() }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.amount.IsNegative() }

// IsPositive reports whether the amount is above zero.
func (m Money) IsPositive() bool { return m.amount.IsPositive() }

func (m Money) sameCurrency(other Money) error {
	if m.currency != other.currency {
		return apperr.With(ErrCurrencyMismatch, map[string]any{
			"left":  m.currency,
			"right": other.currency,
		})
	}
	return nil
}

// Add sums two amounts of equal currency.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

// Sub subtracts an amount of equal currency.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Sub(other.amount), currency: m.currency}, nil
}

// Neg flips the sign.
func (m Money) Neg() Money {
	return Money{amount: m.amount.Neg(), currency: m.currency}
}

// MulScalar multiplies by a currency-free factor, keeping the currency.
func (m Money) MulScalar(factor decimal.Decimal) Money {
	return Money{amount: m.amount.Mul(factor), currency: m.currency}
}

// DivScalar divides by a currency-free divisor, keeping the currency. The
// result carries shopspring's division precision and should be rounded before
// persisting.
func (m Money) DivScalar(divisor decimal.Decimal) (Money, error) {
	if divisor.IsZero() {
		return Money{}, apperr.Msgf(ErrInvalidAmount, "money: division by zero")
	}
	return Money{amount: m.amount.Div(divisor), currency: m.currency}, nil
}

// Round applies banker's rounding at the given scale.
func (m Money) Round(scale int32) Money {
	return Money{amount: m.amount.RoundBank(scale), currency: m.currency}
}

// Convert produces an amount in the target currency using an explicit rate,
// rounded at scale with banker's rounding. A rate must be strictly positive.
func (m Money) Convert(target string, rate decimal.Decimal, scale int32) (Money, error) {
	normalized, err := ValidateCurrency(target)
	if err != nil {
		return Money{}, err
	}
	if !rate.IsPositive() {
		return Money{}, apperr.Msgf(ErrInvalidAmount, "money: conversion rate must be positive, got %s", rate)
	}
	if normalized == m.currency {
		return m.Round(scale), nil
	}
	return Money{amount: m.amount.Mul(rate).RoundBank(scale), currency: normalized}, nil
}

// Cmp compares amounts after scale normalisation: -1, 0, or +1. Comparing
// different currencies is a programming error surfaced as CurrencyMismatch.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	return m.amount.Cmp(other.amount), nil
}

// Equal reports value equality: both currency and scale-normalised amount.
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Cmp(other.amount) == 0
}

// Abs returns the absolute value.
func (m Money) Abs() Money {
	return Money{amount: m.amount.Abs(), currency: m.currency}
}

// StringFixed renders the amount at the given scale after banker's rounding.
func (m Money) StringFixed(scale int32) string {
	return m.amount.RoundBank(scale).StringFixed(scale)
}

// String renders "<amount> <currency>" for logs and errors.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.amount.String(), m.currency)
}

// RoundBank applies banker's rounding at the given scale to a bare decimal.
// Consolidation columns carry currency-free reporting amounts, so they round
// through this instead of constructing a throwaway Money.
func RoundBank(d decimal.Decimal, scale int32) decimal.Decimal {
	return d.RoundBank(scale)
}

// Sum folds amounts of a single currency, starting from Zero(code).
func Sum(code string, amounts ...Money) (Money, error) {
	total := Zero(code)
	for _, a := range amounts {
		var err error
		total, err = total.Add(a)
		if err != nil {
			return Money{}, err
		}
	}
	return total, nil
}
