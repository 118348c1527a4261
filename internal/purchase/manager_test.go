package purchase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"refcommission/internal/apperr"
	"refcommission/internal/catalog"
	"refcommission/internal/logging"
	"refcommission/internal/money"
	"refcommission/internal/referral"
	"refcommission/internal/repo"
	"refcommission/internal/repo/memrepo"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	store    *memrepo.Store
	manager  *Manager
	clock    *clock
	referrer *repo.User
	buyer    *repo.User
	pkg      *repo.Package
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := logging.Discard()
	store := memrepo.New()

	referrer, err := store.CreateUser(ctx, repo.User{ReferralCode: "UPLINE", Currency: money.USD})
	if err != nil {
		t.Fatalf("create referrer: %v", err)
	}
	code := referrer.ReferralCode
	buyer, err := store.CreateUser(ctx, repo.User{ReferralCode: "BUYER", Currency: money.USD, ReferredBy: &code})
	if err != nil {
		t.Fatalf("create buyer: %v", err)
	}

	cat := catalog.NewService(store, nil, logger)
	pkg, err := cat.CreatePackage(ctx, catalog.PackageInput{
		Name:           "Basic",
		Description:    "basic plan",
		Price:          dec("50"),
		DurationDays:   30,
		EarningRate:    dec("1"),
		CommissionRate: dec("10"),
		Currency:       "USD",
	})
	if err != nil {
		t.Fatalf("create package: %v", err)
	}

	graph := referral.NewGraph(store, logger)
	dist := referral.NewDistributor(store, graph, referral.Config{Converter: money.NewConverter(decimal.Zero)}, nil, logger)
	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(store, cat, dist, cfg, logger, WithClock(clk.Now))
	return &fixture{store: store, manager: m, clock: clk, referrer: referrer, buyer: buyer, pkg: pkg}
}

func (f *fixture) buy(t *testing.T, txn string) *repo.Purchase {
	t.Helper()
	p, err := f.manager.Purchase(context.Background(), PurchaseInput{
		UserID:        f.buyer.ID,
		Slug:          f.pkg.Slug,
		TransactionID: txn,
		SenderNumber:  "03001112223",
	})
	if err != nil {
		t.Fatalf("purchase %s: %v", txn, err)
	}
	return p
}

func (f *fixture) referrerEarnings(t *testing.T) decimal.Decimal {
	t.Helper()
	u, err := f.store.GetUserByID(context.Background(), f.referrer.ID)
	if err != nil {
		t.Fatalf("get referrer: %v", err)
	}
	return u.Earnings
}

func TestPurchaseCreatesPendingWithExpiry(t *testing.T) {
	f := newFixture(t, Config{})
	p := f.buy(t, "TX-1")

	if p.Status != repo.StatusPending {
		t.Fatalf("status = %s, want pending", p.Status)
	}
	want := f.clock.Now().AddDate(0, 0, 30)
	if !p.ExpiryDate.Equal(want) {
		t.Fatalf("expiry = %s, want %s", p.ExpiryDate, want)
	}
	if p.ActivatedAt != nil {
		t.Fatal("new purchase must not be activated")
	}
}

func TestPurchaseExpiresOpenPurchases(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	first := f.buy(t, "TX-1")
	if _, err := f.manager.Transition(ctx, first.ID, "Active"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	f.clock.Advance(time.Hour)
	second := f.buy(t, "TX-2")

	got, _ := f.manager.Get(ctx, first.ID)
	if got.Status != repo.StatusExpired {
		t.Fatalf("prior purchase status = %s, want Expired", got.Status)
	}
	latest, err := f.manager.Latest(ctx, f.buyer.ID)
	if err != nil || latest.ID != second.ID {
		t.Fatalf("latest = %+v, %v; want %s", latest, err, second.ID)
	}
}

func TestPurchaseKeepsTerminalPurchases(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	first := f.buy(t, "TX-1")
	if _, err := f.manager.Transition(ctx, first.ID, "cancel"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	f.buy(t, "TX-2")

	got, _ := f.manager.Get(ctx, first.ID)
	if got.Status != repo.StatusCancel {
		t.Fatalf("cancelled purchase changed to %s", got.Status)
	}
}

func TestPurchaseRejectsDuplicateTransaction(t *testing.T) {
	f := newFixture(t, Config{})
	f.buy(t, "TX-1")
	_, err := f.manager.Purchase(context.Background(), PurchaseInput{
		UserID: f.buyer.ID, Slug: f.pkg.Slug, TransactionID: "TX-1", SenderNumber: "1",
	})
	if !errors.Is(err, apperr.ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate transaction error, got %v", err)
	}
	if apperr.HTTPStatus(err) != 400 {
		t.Fatalf("duplicate transaction should map to 400, got %d", apperr.HTTPStatus(err))
	}
}

func TestPurchaseValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	cat := catalog.NewService(f.store, nil, logging.Discard())
	hidden, err := cat.CreatePackage(ctx, catalog.PackageInput{
		Name: "Hidden", Description: "d", Price: dec("5"), DurationDays: 1, Currency: "USD", Inactive: true,
	})
	if err != nil {
		t.Fatalf("create hidden package: %v", err)
	}

	cases := []struct {
		name string
		in   PurchaseInput
		kind apperr.Kind
	}{
		{"missing slug", PurchaseInput{UserID: f.buyer.ID, TransactionID: "a", SenderNumber: "1"}, apperr.KindValidation},
		{"missing transaction", PurchaseInput{UserID: f.buyer.ID, Slug: f.pkg.Slug, SenderNumber: "1"}, apperr.KindValidation},
		{"missing sender", PurchaseInput{UserID: f.buyer.ID, Slug: f.pkg.Slug, TransactionID: "a"}, apperr.KindValidation},
		{"unknown package", PurchaseInput{UserID: f.buyer.ID, Slug: "nope", TransactionID: "a", SenderNumber: "1"}, apperr.KindNotFound},
		{"inactive package", PurchaseInput{UserID: f.buyer.ID, Slug: hidden.Slug, TransactionID: "a", SenderNumber: "1"}, apperr.KindValidation},
		{"unknown user", PurchaseInput{UserID: "ghost", Slug: f.pkg.Slug, TransactionID: "a", SenderNumber: "1"}, apperr.KindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.manager.Purchase(ctx, tc.in); apperr.KindOf(err) != tc.kind {
				t.Fatalf("expected %s, got %v", tc.kind, err)
			}
		})
	}
}

func TestActivationDistributesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	p := f.buy(t, "TX-1")

	res, err := f.manager.Transition(ctx, p.ID, "processing")
	if err != nil || !res.Changed {
		t.Fatalf("processing: %+v, %v", res, err)
	}
	res, err = f.manager.Transition(ctx, p.ID, "Active")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if len(res.Credits) != 1 || res.Purchase.ActivatedAt == nil {
		t.Fatalf("unexpected activation result %+v", res)
	}
	if got := f.referrerEarnings(t); !got.Equal(dec("10")) {
		t.Fatalf("referrer earnings = %s, want 10", got)
	}

	res, err = f.manager.Transition(ctx, p.ID, "active")
	if err != nil {
		t.Fatalf("repeat activate: %v", err)
	}
	if res.Changed || len(res.Credits) != 0 {
		t.Fatalf("repeat activation must be a no-op, got %+v", res)
	}
	if got := f.referrerEarnings(t); !got.Equal(dec("10")) {
		t.Fatalf("referrer earnings after repeat = %s, want 10", got)
	}
}

func TestConcurrentActivationDistributesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	p := f.buy(t, "TX-1")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.Transition(ctx, p.ID, "Active")
			if err != nil && apperr.KindOf(err) != apperr.KindConflict {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := f.referrerEarnings(t); !got.Equal(dec("10")) {
		t.Fatalf("referrer earnings = %s, want 10", got)
	}
}

func TestExpiryTakesPrecedence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	p := f.buy(t, "TX-1")
	f.clock.Advance(31 * 24 * time.Hour)

	res, err := f.manager.Transition(ctx, p.ID, "Active")
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if res.Purchase.Status != repo.StatusExpired || !res.Expired {
		t.Fatalf("expected forced expiry, got %+v", res)
	}
	if len(res.Credits) != 0 || !f.referrerEarnings(t).IsZero() {
		t.Fatal("expired purchase must not pay commission")
	}

	if _, err := f.manager.Transition(ctx, p.ID, "bogus"); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
}

func TestExpiryBoundaryIsInclusive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	p := f.buy(t, "TX-1")
	f.clock.Advance(30 * 24 * time.Hour)

	res, err := f.manager.Transition(ctx, p.ID, "processing")
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if res.Purchase.Status != repo.StatusExpired {
		t.Fatalf("status at expiry instant = %s, want Expired", res.Purchase.Status)
	}
}

func TestIllegalMoves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	p := f.buy(t, "TX-1")

	if _, err := f.manager.Transition(ctx, p.ID, "Active"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := f.manager.Transition(ctx, p.ID, "pending"); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict moving backwards, got %v", err)
	}
	if _, err := f.manager.Transition(ctx, p.ID, "Completed"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.manager.Transition(ctx, p.ID, "Active"); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict leaving Completed, got %v", err)
	}
	if _, err := f.manager.Transition(ctx, "missing", "Active"); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if got := f.referrerEarnings(t); !got.Equal(dec("10")) {
		t.Fatalf("referrer earnings = %s, want 10", got)
	}
}

func TestCancelReversesWhenEnabled(t *testing.T) {
	ctx := context.Background()
	for _, reverse := range []bool{false, true} {
		f := newFixture(t, Config{ReverseOnCancel: reverse})
		p := f.buy(t, "TX-1")
		if _, err := f.manager.Transition(ctx, p.ID, "Active"); err != nil {
			t.Fatalf("activate: %v", err)
		}
		res, err := f.manager.Transition(ctx, p.ID, "cancel")
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}

		want := "10"
		if reverse {
			want = "0"
		}
		if got := f.referrerEarnings(t); !got.Equal(dec(want)) {
			t.Fatalf("reverse=%v: referrer earnings = %s, want %s", reverse, got, want)
		}
		if reverse != (len(res.Reversed) == 1) {
			t.Fatalf("reverse=%v: reversed %d credits", reverse, len(res.Reversed))
		}
	}
}

func TestExpireDue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	p := f.buy(t, "TX-1")

	n, err := f.manager.ExpireDue(ctx, f.clock.Now().Add(time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("nothing should expire yet: %d, %v", n, err)
	}
	n, err = f.manager.ExpireDue(ctx, f.clock.Now().AddDate(0, 0, 31))
	if err != nil || n != 1 {
		t.Fatalf("expected one expiry, got %d, %v", n, err)
	}
	got, _ := f.manager.Get(ctx, p.ID)
	if got.Status != repo.StatusExpired {
		t.Fatalf("status = %s, want Expired", got.Status)
	}
}

func TestExpireDueKeepsFinalOutcomes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	cancelled := f.buy(t, "TX-1")
	if _, err := f.manager.Transition(ctx, cancelled.ID, "cancel"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	f.clock.Advance(31 * 24 * time.Hour)
	n, err := f.manager.ExpireDue(ctx, f.clock.Now())
	if err != nil || n != 0 {
		t.Fatalf("cancelled purchase must not be swept: %d, %v", n, err)
	}
	got, _ := f.manager.Get(ctx, cancelled.ID)
	if got.Status != repo.StatusCancel {
		t.Fatalf("status = %s, want cancel", got.Status)
	}
}

func TestParseStatus(t *testing.T) {
	for in, want := range map[string]repo.PackageStatus{
		"pending": repo.StatusPending, "ACTIVE": repo.StatusActive, " Expired ": repo.StatusExpired, "Cancel": repo.StatusCancel,
	} {
		got, err := ParseStatus(in)
		if err != nil || got != want {
			t.Errorf("ParseStatus(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseStatus("refunded"); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}
