package repo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"refcommission/internal/apperr"
	"refcommission/internal/logging"
	"refcommission/internal/money"
	"refcommission/migrations"

	"github.com/shopspring/decimal"
)

func newSQLite(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	r, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "test.db"), logging.Discard())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(r.Close)
	if err := r.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return r
}

type sqliteFixture struct {
	repo     *SQLiteRepository
	upline   *User
	buyer    *User
	pkg      *Package
	account  *WithdrawalAccount
	baseTime time.Time
}

func newSQLiteFixture(t *testing.T) *sqliteFixture {
	t.Helper()
	ctx := context.Background()
	r := newSQLite(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	upline, err := r.CreateUser(ctx, User{ReferralCode: "UPLINE01", Currency: money.USD, CreatedAt: base})
	if err != nil {
		t.Fatalf("create upline: %v", err)
	}
	code := upline.ReferralCode
	buyer, err := r.CreateUser(ctx, User{ReferralCode: "BUYER001", Currency: money.PKR, ReferredBy: &code, CreatedAt: base})
	if err != nil {
		t.Fatalf("create buyer: %v", err)
	}
	pkg, err := r.InsertPackage(ctx, Package{
		Name:           "Gold",
		Slug:           "gold",
		Price:          decimal.RequireFromString("2800.50"),
		DurationDays:   30,
		CommissionRate: decimal.NewFromInt(280),
		Currency:       money.PKR,
		IsActive:       true,
		CreatedAt:      base,
	})
	if err != nil {
		t.Fatalf("insert package: %v", err)
	}
	account, err := r.InsertWithdrawalAccount(ctx, WithdrawalAccount{Method: "jazzcash", MinAmount: decimal.NewFromInt(1), CreatedAt: base})
	if err != nil {
		t.Fatalf("insert account: %v", err)
	}
	return &sqliteFixture{repo: r, upline: upline, buyer: buyer, pkg: pkg, account: account, baseTime: base}
}

func (f *sqliteFixture) purchase(t *testing.T, txn string, at time.Time) *Purchase {
	t.Helper()
	p, err := f.repo.CreatePurchase(context.Background(), Purchase{
		UserID:        f.buyer.ID,
		PackageID:     f.pkg.ID,
		PurchaseDate:  at,
		ExpiryDate:    at.AddDate(0, 0, f.pkg.DurationDays),
		TransactionID: txn,
		SenderNumber:  "0300",
		PaymentStatus: "pending",
		Status:        StatusPending,
		CreatedAt:     at,
	})
	if err != nil {
		t.Fatalf("create purchase %s: %v", txn, err)
	}
	return p
}

func TestSQLiteMigrationsAreRecorded(t *testing.T) {
	r := newSQLite(t)
	if err := r.RunMigrations(context.Background(), migrations.Files); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one recorded migration, got %d", n)
	}
}

func TestSQLiteUsersAndPackages(t *testing.T) {
	f := newSQLiteFixture(t)
	ctx := context.Background()

	if _, err := f.repo.CreateUser(ctx, User{ReferralCode: "UPLINE01", Currency: money.USD}); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("duplicate code err = %v", err)
	}

	got, err := f.repo.GetUserByReferralCode(ctx, "BUYER001")
	if err != nil {
		t.Fatalf("get by code: %v", err)
	}
	if got.ReferredBy == nil || *got.ReferredBy != "UPLINE01" || got.Currency != money.PKR {
		t.Fatalf("unexpected user %+v", got)
	}

	referred, err := f.repo.ListReferredUsers(ctx, "UPLINE01")
	if err != nil || len(referred) != 1 {
		t.Fatalf("referred = %v, %v", referred, err)
	}

	if _, err := f.repo.GetUserByID(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("missing user err = %v", err)
	}

	pkg, err := f.repo.GetPackageBySlug(ctx, "gold")
	if err != nil {
		t.Fatalf("get package: %v", err)
	}
	if !pkg.Price.Equal(decimal.RequireFromString("2800.50")) {
		t.Fatalf("price round trip = %s", pkg.Price)
	}
	list, err := f.repo.ListPackages(ctx, money.USD)
	if err != nil || len(list) != 0 {
		t.Fatalf("usd packages = %v, %v", list, err)
	}
}

func TestSQLiteCommissionLedger(t *testing.T) {
	f := newSQLiteFixture(t)
	ctx := context.Background()
	p := f.purchase(t, "TX-1", f.baseTime)
	source := f.buyer.ID

	entry := LedgerEntry{
		UserID:       f.upline.ID,
		Amount:       decimal.NewFromInt(1),
		Currency:     money.USD,
		PurchaseID:   &p.ID,
		SourceUserID: &source,
		Level:        1,
		CreatedAt:    f.baseTime,
	}
	if err := f.repo.CreditCommission(ctx, entry); err != nil {
		t.Fatalf("credit: %v", err)
	}
	u, _ := f.repo.GetUserByID(ctx, f.upline.ID)
	if !u.Earnings.Equal(decimal.NewFromInt(1)) || !u.TotalEarnings.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("balances after credit: %+v", u)
	}

	entry.Amount = decimal.NewFromInt(5)
	if err := f.repo.ReverseCommission(ctx, entry); err != nil {
		t.Fatalf("reverse: %v", err)
	}
	u, _ = f.repo.GetUserByID(ctx, f.upline.ID)
	if !u.Earnings.IsZero() || !u.CommissionAmount.IsZero() || !u.TotalEarnings.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("balances after reverse: %+v", u)
	}

	commissions, err := f.repo.ListCommissionEntries(ctx, p.ID)
	if err != nil || len(commissions) != 1 {
		t.Fatalf("commission entries = %v, %v", commissions, err)
	}
	all, err := f.repo.ListLedgerEntries(ctx, f.upline.ID)
	if err != nil || len(all) != 2 {
		t.Fatalf("ledger = %v, %v", all, err)
	}
}

func TestSQLiteKeepsFractionalCommission(t *testing.T) {
	f := newSQLiteFixture(t)
	ctx := context.Background()

	// 10 PKR at 280 PKR/USD does not fit in six decimal places.
	amount := decimal.NewFromInt(10).Div(decimal.NewFromInt(280))
	for i := 0; i < 3; i++ {
		if err := f.repo.CreditCommission(ctx, LedgerEntry{UserID: f.upline.ID, Amount: amount, Currency: money.USD, Level: 1, CreatedAt: f.baseTime}); err != nil {
			t.Fatalf("credit: %v", err)
		}
	}
	want := amount.Mul(decimal.NewFromInt(3))
	u, err := f.repo.GetUserByID(ctx, f.upline.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !u.Earnings.Equal(want) || !u.CommissionAmount.Equal(want) {
		t.Fatalf("earnings = %s commission = %s, want %s", u.Earnings, u.CommissionAmount, want)
	}
	entries, err := f.repo.ListLedgerEntries(ctx, f.upline.ID)
	if err != nil || len(entries) != 3 {
		t.Fatalf("ledger = %v, %v", entries, err)
	}
	if !entries[0].Amount.Equal(amount) {
		t.Fatalf("ledger amount = %s, want %s", entries[0].Amount, amount)
	}
}

func TestSQLitePurchaseLifecycle(t *testing.T) {
	f := newSQLiteFixture(t)
	ctx := context.Background()

	first := f.purchase(t, "TX-1", f.baseTime)
	if _, err := f.repo.CreatePurchase(ctx, Purchase{
		UserID: f.buyer.ID, PackageID: f.pkg.ID, TransactionID: "TX-1", SenderNumber: "0300",
		PurchaseDate: f.baseTime, ExpiryDate: f.baseTime, Status: StatusPending,
	}); !errors.Is(err, apperr.ErrDuplicateTransaction) {
		t.Fatalf("duplicate txn err = %v", err)
	}

	activated := f.baseTime.Add(time.Hour)
	p, err := f.repo.UpdatePurchaseStatus(ctx, first.ID, StatusPending, StatusActive, &activated)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if p.ActivatedAt == nil || !p.ActivatedAt.Equal(activated) {
		t.Fatalf("activated_at = %v", p.ActivatedAt)
	}
	if _, err := f.repo.UpdatePurchaseStatus(ctx, first.ID, StatusPending, StatusActive, &activated); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("stale CAS err = %v", err)
	}

	ok, err := f.repo.HasActiveReferralSince(ctx, f.upline.ReferralCode, f.baseTime)
	if err != nil || !ok {
		t.Fatalf("active referral since base = %v, %v", ok, err)
	}
	ok, err = f.repo.HasActiveReferralSince(ctx, f.upline.ReferralCode, activated.Add(time.Minute))
	if err != nil || ok {
		t.Fatalf("active referral after activation = %v, %v", ok, err)
	}

	second := f.purchase(t, "TX-2", f.baseTime.Add(2*time.Hour))
	prev, err := f.repo.GetPurchaseByID(ctx, first.ID)
	if err != nil || prev.Status != StatusExpired {
		t.Fatalf("prior purchase status = %v, %v", prev, err)
	}

	mine, err := f.repo.ListPurchasesByUser(ctx, f.buyer.ID)
	if err != nil || len(mine) != 2 || mine[0].ID != second.ID {
		t.Fatalf("purchases newest first = %v, %v", mine, err)
	}

	third := f.purchase(t, "TX-3", f.baseTime.Add(3*time.Hour))
	if _, err := f.repo.UpdatePurchaseStatus(ctx, third.ID, StatusPending, StatusCancel, nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	fourth := f.purchase(t, "TX-4", f.baseTime.Add(4*time.Hour))

	n, err := f.repo.ExpireDuePurchases(ctx, f.baseTime.AddDate(0, 0, 31))
	if err != nil || n != 1 {
		t.Fatalf("expire due = %d, %v", n, err)
	}
	got, err := f.repo.GetPurchaseByID(ctx, third.ID)
	if err != nil || got.Status != StatusCancel {
		t.Fatalf("cancelled purchase after sweep = %v, %v", got, err)
	}
	got, err = f.repo.GetPurchaseByID(ctx, fourth.ID)
	if err != nil || got.Status != StatusExpired {
		t.Fatalf("open purchase after sweep = %v, %v", got, err)
	}
}

func TestSQLiteWithdrawals(t *testing.T) {
	f := newSQLiteFixture(t)
	ctx := context.Background()
	if err := f.repo.CreditCommission(ctx, LedgerEntry{UserID: f.upline.ID, Amount: decimal.NewFromInt(100), Currency: money.USD, Level: 1}); err != nil {
		t.Fatalf("fund: %v", err)
	}

	w, err := f.repo.CreateWithdrawal(ctx, Withdrawal{
		UserID:           f.upline.ID,
		PaymentMethodID:  f.account.ID,
		RequestedAmount:  decimal.NewFromInt(60),
		Amount:           decimal.NewFromInt(30),
		DeductionPercent: 50,
		AccountNumber:    "0300",
		AccountName:      "Up",
		Status:           WithdrawalPending,
		CreatedAt:        f.baseTime,
	})
	if err != nil {
		t.Fatalf("create withdrawal: %v", err)
	}
	if !w.RemainingAmount.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("remaining = %s", w.RemainingAmount)
	}

	if _, err := f.repo.CreateWithdrawal(ctx, Withdrawal{
		UserID: f.upline.ID, PaymentMethodID: f.account.ID,
		RequestedAmount: decimal.NewFromInt(41), Amount: decimal.NewFromInt(20),
		AccountNumber: "0300", AccountName: "Up", Status: WithdrawalPending,
	}); !errors.Is(err, apperr.ErrInsufficientFunds) {
		t.Fatalf("overdraw err = %v", err)
	}

	latest, err := f.repo.LatestWithdrawal(ctx, f.upline.ID)
	if err != nil || latest.ID != w.ID {
		t.Fatalf("latest = %v, %v", latest, err)
	}

	updated, err := f.repo.UpdateWithdrawalStatus(ctx, w.ID, WithdrawalPending, WithdrawalRejected, decimal.NewFromInt(21))
	if err != nil || updated.Status != WithdrawalRejected {
		t.Fatalf("reject = %v, %v", updated, err)
	}
	if _, err := f.repo.UpdateWithdrawalStatus(ctx, w.ID, WithdrawalPending, WithdrawalRejected, decimal.NewFromInt(21)); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("second reject err = %v", err)
	}
	u, _ := f.repo.GetUserByID(ctx, f.upline.ID)
	if !u.Earnings.Equal(decimal.NewFromInt(61)) {
		t.Fatalf("earnings after refund = %s", u.Earnings)
	}

	if err := f.repo.DeleteWithdrawal(ctx, w.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.repo.LatestWithdrawal(ctx, f.upline.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("latest after delete err = %v", err)
	}
}
