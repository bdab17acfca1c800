package money

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

func TestAddRequiresSameCurrency(t *testing.T) {
	usd := MustNew(dec(t, "10.00"), "USD")
	eur := MustNew(dec(t, "5.00"), "EUR")
	if _, err := usd.Add(eur); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected currency mismatch, got %v", err)
	}
	sum, err := usd.Add(MustNew(dec(t, "2.50"), "USD"))
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if sum.StringFixed(2) != "12.50" {
		t.Fatalf("expected 12.50 got %s", sum.StringFixed(2))
	}
}

func TestBankersRounding(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"2.125", "2.12"},
		{"2.135", "2.14"},
		{"2.145", "2.14"},
		{"-2.125", "-2.12"},
		{"1.005", "1.00"},
	}
	for _, tt := range cases {
		m := MustNew(dec(t, tt.in), "USD")
		if got := m.Round(2).StringFixed(2); got != tt.want {
			t.Fatalf("Round(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestRoundBankOnBareDecimals(t *testing.T) {
	cases := []struct {
		in    string
		scale int32
		want  string
	}{
		{"2.125", 2, "2.12"},
		{"2.135", 2, "2.14"},
		{"-2.125", 2, "-2.12"},
		{"1234.5", 0, "1234"},
	}
	for _, tt := range cases {
		if got := RoundBank(dec(t, tt.in), tt.scale).StringFixed(tt.scale); got != tt.want {
			t.Fatalf("RoundBank(%s, %d) = %s, want %s", tt.in, tt.scale, got, tt.want)
		}
	}
}

func TestConvertUsesExplicitRate(t *testing.T) {
	eur := MustNew(dec(t, "100.00"), "EUR")
	usd, err := eur.Convert("USD", dec(t, "1.0935"), 2)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if usd.Currency() != "USD" {
		t.Fatalf("expected USD got %s", usd.Currency())
	}
	if usd.StringFixed(2) != "109.35" {
		t.Fatalf("expected 109.35 got %s", usd.StringFixed(2))
	}
	if _, err := eur.Convert("USD", decimal.Zero, 2); err == nil {
		t.Fatalf("expected error for zero rate")
	}
}

func TestConvertSameCurrencyIsRoundOnly(t *testing.T) {
	usd := MustNew(dec(t, "99.999"), "USD")
	got, err := usd.Convert("USD", dec(t, "42"), 2)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if got.StringFixed(2) != "100.00" {
		t.Fatalf("expected 100.00 got %s", got.StringFixed(2))
	}
}

func TestComparisonIsScaleNormalised(t *testing.T) {
	a := MustNew(dec(t, "1.5"), "USD")
	b := MustNew(dec(t, "1.50"), "USD")
	if !a.Equal(b) {
		t.Fatalf("expected 1.5 == 1.50")
	}
	cmp, err := a.Cmp(MustNew(dec(t, "1.501"), "USD"))
	if err != nil {
		t.Fatalf("Cmp() error = %v", err)
	}
	if cmp != -1 {
		t.Fatalf("expected -1 got %d", cmp)
	}
}

func TestZeroRetainsCurrency(t *testing.T) {
	z := Zero("JPY")
	if !z.IsZero() {
		t.Fatalf("expected zero")
	}
	if z.Currency() != "JPY" {
		t.Fatalf("expected JPY got %s", z.Currency())
	}
	neg := z.Neg()
	if !neg.IsZero() || neg.Currency() != "JPY" {
		t.Fatalf("negated zero lost identity: %s", neg)
	}
}

func TestValidateCurrency(t *testing.T) {
	if _, err := ValidateCurrency("usd"); err != nil {
		t.Fatalf("lowercase code should normalise: %v", err)
	}
	if _, err := ValidateCurrency("NOPE"); !errors.Is(err, ErrInvalidCurrency) {
		t.Fatalf("expected invalid currency, got %v", err)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	m := MustNew(dec(t, "1234.56"), "USD")
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"amount":"1234.56","currency":"USD"}` {
		t.Fatalf("unexpected wire form: %s", data)
	}
	var back Money
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Equal(m) {
		t.Fatalf("round trip mismatch: %s vs %s", back, m)
	}
}

func TestSum(t *testing.T) {
	total, err := Sum("USD",
		MustNew(dec(t, "10.00"), "USD"),
		MustNew(dec(t, "0.50"), "USD"),
		MustNew(dec(t, "-3.25"), "USD"),
	)
	if err != nil {
		t.Fatalf("Sum() error = %v", err)
	}
	if total.StringFixed(2) != "7.25" {
		t.Fatalf("expected 7.25 got %s", total.StringFixed(2))
	}
}
