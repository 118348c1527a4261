package money

import (
	"errors"
	"testing"

	"refcommission/internal/apperr"

	"github.com/shopspring/decimal"
)

func TestConvertIsExact(t *testing.T) {
	conv := NewConverter(decimal.Zero)

	cases := []struct {
		name   string
		amount string
		from   Currency
		to     Currency
		want   string
	}{
		{"usd to pkr", "10", USD, PKR, "2800"},
		{"pkr to usd", "1400", PKR, USD, "5"},
		{"same usd", "12.5", USD, USD, "12.5"},
		{"same pkr", "99", PKR, PKR, "99"},
		{"half usd to pkr", "5", USD, PKR, "1400"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := conv.Convert(decimal.RequireFromString(tc.amount), tc.from, tc.to)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(decimal.RequireFromString(tc.want)) {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestConvertRoundTrip(t *testing.T) {
	conv := NewConverter(decimal.NewFromInt(280))
	amount := decimal.RequireFromString("3.75")
	pkr, err := conv.Convert(amount, USD, PKR)
	if err != nil {
		t.Fatal(err)
	}
	back, err := conv.Convert(pkr, PKR, USD)
	if err != nil {
		t.Fatal(err)
	}
	if !back.Equal(amount) {
		t.Fatalf("expected %s after round trip, got %s", amount, back)
	}
}

func TestConvertRejectsUnknownCurrency(t *testing.T) {
	conv := NewConverter(decimal.Zero)
	_, err := conv.Convert(decimal.NewFromInt(1), Currency("EUR"), USD)
	if apperr.KindOf(err) != apperr.KindUnsupportedCurrency {
		t.Fatalf("expected unsupported currency, got %v", err)
	}
}

func TestParseCurrency(t *testing.T) {
	if c, err := ParseCurrency(" usd "); err != nil || c != USD {
		t.Fatalf("expected USD, got %q (%v)", c, err)
	}
	_, err := ParseCurrency("GBP")
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Kind != apperr.KindUnsupportedCurrency {
		t.Fatalf("expected unsupported currency error, got %v", err)
	}
}
