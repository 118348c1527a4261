package money

import (
	"strings"

	"refcommission/internal/apperr"

	"github.com/shopspring/decimal"
)

// Currency is an ISO code of a supported settlement currency.
type Currency string

const (
	USD Currency = "USD"
	PKR Currency = "PKR"
)

// DefaultUSDToPKR is the fixed conversion rate used for commissions.
var DefaultUSDToPKR = decimal.NewFromInt(280)

// ParseCurrency validates a currency code.
func ParseCurrency(code string) (Currency, error) {
	switch Currency(strings.ToUpper(strings.TrimSpace(code))) {
	case USD:
		return USD, nil
	case PKR:
		return PKR, nil
	default:
		return "", apperr.UnsupportedCurrency(code)
	}
}

// Valid reports whether c is a supported currency.
func (c Currency) Valid() bool {
	return c == USD || c == PKR
}

// Converter converts amounts between USD and PKR at a fixed rate.
type Converter struct {
	usdToPKR decimal.Decimal
}

// NewConverter returns a converter for the given USD→PKR rate. A non-positive
// rate falls back to DefaultUSDToPKR.
func NewConverter(usdToPKR decimal.Decimal) Converter {
	if !usdToPKR.IsPositive() {
		usdToPKR = DefaultUSDToPKR
	}
	return Converter{usdToPKR: usdToPKR}
}

// Rate returns the configured USD→PKR rate.
func (c Converter) Rate() decimal.Decimal {
	if c.usdToPKR.IsZero() {
		return DefaultUSDToPKR
	}
	return c.usdToPKR
}

// Convert moves amount from one currency to another.
func (c Converter) Convert(amount decimal.Decimal, from, to Currency) (decimal.Decimal, error) {
	if !from.Valid() {
		return decimal.Zero, apperr.UnsupportedCurrency(string(from))
	}
	if !to.Valid() {
		return decimal.Zero, apperr.UnsupportedCurrency(string(to))
	}
	switch {
	case from == to:
		return amount, nil
	case from == USD && to == PKR:
		return amount.Mul(c.Rate()), nil
	default:
		return amount.Div(c.Rate()), nil
	}
}

// Percent returns amount × pct / 100.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(decimal.NewFromInt(100))
}
