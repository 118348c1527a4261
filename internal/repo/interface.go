package repo

import (
	"context"
	"io/fs"
	"time"

	"refcommission/internal/money"

	"github.com/shopspring/decimal"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Users
	CreateUser(ctx context.Context, user User) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*User, error)
	ListReferredUsers(ctx context.Context, referralCode string) ([]User, error)
	SetReferredBy(ctx context.Context, userID, referralCode string) error

	// Ledger
	CreditCommission(ctx context.Context, entry LedgerEntry) error
	ReverseCommission(ctx context.Context, entry LedgerEntry) error
	ListCommissionEntries(ctx context.Context, purchaseID string) ([]LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, userID string) ([]LedgerEntry, error)

	// Packages
	InsertPackage(ctx context.Context, pkg Package) (*Package, error)
	GetPackageByID(ctx context.Context, id string) (*Package, error)
	GetPackageBySlug(ctx context.Context, slug string) (*Package, error)
	ListPackages(ctx context.Context, currency money.Currency) ([]Package, error)

	// Withdrawal accounts
	InsertWithdrawalAccount(ctx context.Context, account WithdrawalAccount) (*WithdrawalAccount, error)
	GetWithdrawalAccount(ctx context.Context, id string) (*WithdrawalAccount, error)
	ListWithdrawalAccounts(ctx context.Context) ([]WithdrawalAccount, error)

	// Purchases
	CreatePurchase(ctx context.Context, purchase Purchase) (*Purchase, error)
	GetPurchaseByID(ctx context.Context, id string) (*Purchase, error)
	GetPurchaseByTransactionID(ctx context.Context, transactionID string) (*Purchase, error)
	UpdatePurchaseStatus(ctx context.Context, id string, from, to PackageStatus, activatedAt *time.Time) (*Purchase, error)
	ListPurchasesByUser(ctx context.Context, userID string) ([]Purchase, error)
	ListPurchases(ctx context.Context) ([]Purchase, error)
	HasActiveReferralSince(ctx context.Context, referralCode string, since time.Time) (bool, error)
	ExpireDuePurchases(ctx context.Context, now time.Time) (int64, error)

	// Withdrawals
	CreateWithdrawal(ctx context.Context, w Withdrawal) (*Withdrawal, error)
	GetWithdrawalByID(ctx context.Context, id string) (*Withdrawal, error)
	LatestWithdrawal(ctx context.Context, userID string) (*Withdrawal, error)
	ListWithdrawalsByUser(ctx context.Context, userID string) ([]Withdrawal, error)
	ListWithdrawals(ctx context.Context) ([]Withdrawal, error)
	UpdateWithdrawalStatus(ctx context.Context, id string, from, to WithdrawalStatus, refund decimal.Decimal) (*Withdrawal, error)
	DeleteWithdrawal(ctx context.Context, id string) error
}
