package repo

import (
	"time"

	"refcommission/internal/money"

	"github.com/shopspring/decimal"
)

// PackageStatus is the lifecycle state of a package purchase.
type PackageStatus string

const (
	StatusPending    PackageStatus = "pending"
	StatusProcessing PackageStatus = "processing"
	StatusActive     PackageStatus = "Active"
	StatusCompleted  PackageStatus = "Completed"
	StatusCancel     PackageStatus = "cancel"
	StatusExpired    PackageStatus = "Expired"
)

// NonTerminalStatuses are expired when the same user buys a new package.
var NonTerminalStatuses = []PackageStatus{StatusPending, StatusProcessing, StatusActive}

// WithdrawalStatus is the review state of a withdrawal request.
type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalApproved  WithdrawalStatus = "approved"
	WithdrawalRejected  WithdrawalStatus = "rejected"
	WithdrawalCompleted WithdrawalStatus = "completed"
)

// LedgerKind tags balance movements.
type LedgerKind string

const (
	LedgerCommission         LedgerKind = "commission"
	LedgerCommissionReversal LedgerKind = "commission_reversal"
	LedgerWithdrawalDebit    LedgerKind = "withdrawal_debit"
	LedgerWithdrawalRefund   LedgerKind = "withdrawal_refund"
)

// User represents the users table row.
type User struct {
	ID               string          `json:"id"`
	ReferralCode     string          `json:"referralCode"`
	ReferredBy       *string         `json:"referredBy,omitempty"`
	Currency         money.Currency  `json:"currency"`
	Earnings         decimal.Decimal `json:"earnings"`
	CommissionAmount decimal.Decimal `json:"CommissionAmount"`
	TotalEarnings    decimal.Decimal `json:"TotalEarnings"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Package represents a catalog entry.
type Package struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Slug           string          `json:"slug"`
	Price          decimal.Decimal `json:"price"`
	Discount       decimal.Decimal `json:"discount"`
	DurationDays   int             `json:"duration"`
	EarningRate    decimal.Decimal `json:"earningRate"`
	NumOfAds       int             `json:"numOfAds"`
	CommissionRate decimal.Decimal `json:"commissionRate"`
	Currency       money.Currency  `json:"currency"`
	IsActive       bool            `json:"isActive"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Purchase represents a row in purchases table.
type Purchase struct {
	ID            string        `json:"id"`
	UserID        string        `json:"userId"`
	PackageID     string        `json:"packagesId"`
	PurchaseDate  time.Time     `json:"purchaseDate"`
	ExpiryDate    time.Time     `json:"expiryDate"`
	TransactionID string        `json:"transactionId"`
	SenderNumber  string        `json:"senderNumber"`
	PaymentStatus string        `json:"paymentStatus"`
	Status        PackageStatus `json:"packageStatus"`
	ActivatedAt   *time.Time    `json:"activatedAt,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// WithdrawalAccount is a payout method with its minimum amount.
type WithdrawalAccount struct {
	ID        string          `json:"id"`
	Method    string          `json:"method"`
	MinAmount decimal.Decimal `json:"minAmount"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Withdrawal represents a row in withdrawals table. Amount is the stored,
// post-deduction value; RequestedAmount is what was debited from earnings.
type Withdrawal struct {
	ID               string           `json:"id"`
	UserID           string           `json:"userId"`
	PaymentMethodID  string           `json:"paymentMethod"`
	RequestedAmount  decimal.Decimal  `json:"requestedAmount"`
	Amount           decimal.Decimal  `json:"amount"`
	DeductionPercent int              `json:"deductionPercent"`
	RemainingAmount  decimal.Decimal  `json:"remainingAmount"`
	AccountNumber    string           `json:"accountNumber"`
	AccountName      string           `json:"accountName"`
	Status           WithdrawalStatus `json:"status"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// LedgerEntry is an append-only balance movement. Amount is signed.
type LedgerEntry struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	Kind         LedgerKind      `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     money.Currency  `json:"currency"`
	PurchaseID   *string         `json:"purchaseId,omitempty"`
	WithdrawalID *string         `json:"withdrawalId,omitempty"`
	SourceUserID *string         `json:"sourceUserId,omitempty"`
	Level        int             `json:"level"`
	CreatedAt    time.Time       `json:"createdAt"`
}
