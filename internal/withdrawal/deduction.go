// Package withdrawal implements withdrawal requests and the escalating deduction applied to them.
package withdrawal

import (
	"github.com/shopspring/decimal"
)

const (
	InitialRate  = 50
	RateStep     = 10
	MaxRate      = 100
	RefundPct    = 70
	floorPayout  = 10
	percentScale = 100
)

// NextRate returns the deduction for a new withdrawal. prior is the rate of the
// user's latest withdrawal, nil when there is none.
func NextRate(prior *int, activeReferralSincePrior bool) int {
	if prior == nil {
		return InitialRate
	}
	if activeReferralSincePrior {
		return 0
	}
	return min(*prior+RateStep, MaxRate)
}

// AmountToStore applies rate to requested. A full deduction still pays out 10%.
func AmountToStore(requested decimal.Decimal, rate int) decimal.Decimal {
	hundred := decimal.NewFromInt(percentScale)
	if rate >= MaxRate {
		return requested.Mul(decimal.NewFromInt(floorPayout)).Div(hundred)
	}
	keep := decimal.NewFromInt(int64(percentScale - rate))
	return requested.Mul(keep).Div(hundred)
}

// Refund is the part of a rejected withdrawal's stored amount given back to the user.
func Refund(stored decimal.Decimal) decimal.Decimal {
	return stored.Mul(decimal.NewFromInt(RefundPct)).Div(decimal.NewFromInt(percentScale))
}
