package users

import (
	"context"
	"testing"
	"time"

	"refcommission/internal/apperr"
	"refcommission/internal/logging"
	"refcommission/internal/money"
	"refcommission/internal/repo"
	"refcommission/internal/repo/memrepo"

	"github.com/shopspring/decimal"
)

func TestCreateUser(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memrepo.New(), logging.Discard())

	root, err := svc.CreateUser(ctx, "usd", "")
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	if root.Currency != money.USD || len(root.ReferralCode) != 8 || root.ReferredBy != nil {
		t.Fatalf("unexpected root %+v", root)
	}

	child, err := svc.CreateUser(ctx, "PKR", root.ReferralCode)
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	if child.ReferredBy == nil || *child.ReferredBy != root.ReferralCode {
		t.Fatalf("child not linked to root: %+v", child)
	}
	if child.ReferralCode == root.ReferralCode {
		t.Fatal("referral codes must be unique")
	}

	if _, err := svc.CreateUser(ctx, "USD", "UNKNOWN"); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error for unknown code, got %v", err)
	}
	if _, err := svc.CreateUser(ctx, "EUR", ""); apperr.KindOf(err) != apperr.KindUnsupportedCurrency {
		t.Fatalf("expected unsupported currency, got %v", err)
	}
}

func TestReferralsReportLatestPurchase(t *testing.T) {
	ctx := context.Background()
	store := memrepo.New()
	svc := NewService(store, logging.Discard())

	root, _ := svc.CreateUser(ctx, "USD", "")
	active, _ := svc.CreateUser(ctx, "USD", root.ReferralCode)
	idle, _ := svc.CreateUser(ctx, "USD", root.ReferralCode)
	if _, err := svc.CreateUser(ctx, "USD", ""); err != nil {
		t.Fatalf("create unrelated: %v", err)
	}

	pkg, err := store.InsertPackage(ctx, repo.Package{Name: "Gold", Slug: "gold", Price: decimal.NewFromInt(10), DurationDays: 30, Currency: money.USD, IsActive: true})
	if err != nil {
		t.Fatalf("insert package: %v", err)
	}
	now := time.Now().UTC()
	p, err := store.CreatePurchase(ctx, repo.Purchase{UserID: active.ID, PackageID: pkg.ID, PurchaseDate: now, ExpiryDate: now.AddDate(0, 0, 30), TransactionID: "t1", SenderNumber: "1", Status: repo.StatusPending})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}
	if _, err := store.UpdatePurchaseStatus(ctx, p.ID, repo.StatusPending, repo.StatusActive, &now); err != nil {
		t.Fatalf("activate: %v", err)
	}

	all, err := svc.Referrals(ctx, root.ID)
	if err != nil {
		t.Fatalf("referrals: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 referrals, got %d", len(all))
	}
	for _, r := range all {
		switch r.UserID {
		case active.ID:
			if r.PackageName == nil || *r.PackageName != "Gold" || *r.PackageStatus != repo.StatusActive {
				t.Fatalf("unexpected active referral %+v", r)
			}
		case idle.ID:
			if r.PackageName != nil || r.PackageStatus != nil {
				t.Fatalf("idle referral should have no package: %+v", r)
			}
		default:
			t.Fatalf("unexpected referral %s", r.UserID)
		}
	}

	onlyActive, err := svc.ActiveReferrals(ctx, root.ID)
	if err != nil {
		t.Fatalf("active referrals: %v", err)
	}
	if len(onlyActive) != 1 || onlyActive[0].UserID != active.ID {
		t.Fatalf("unexpected active referrals %+v", onlyActive)
	}

	if _, err := svc.Referrals(ctx, "ghost"); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLedger(t *testing.T) {
	ctx := context.Background()
	store := memrepo.New()
	svc := NewService(store, logging.Discard())
	u, _ := svc.CreateUser(ctx, "USD", "")

	if err := store.CreditCommission(ctx, repo.LedgerEntry{UserID: u.ID, Amount: decimal.NewFromInt(5), Currency: money.USD, Level: 1}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	entries, err := svc.Ledger(ctx, u.ID)
	if err != nil || len(entries) != 1 || entries[0].Kind != repo.LedgerCommission {
		t.Fatalf("unexpected ledger %+v, %v", entries, err)
	}
}
