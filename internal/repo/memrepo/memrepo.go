// Package memrepo is an in-memory repo.Repository used for local runs and tests.
package memrepo

import (
	"context"
	"io/fs"
	"sort"
	"sync"
	"time"

	"refcommission/internal/apperr"
	"refcommission/internal/money"
	"refcommission/internal/repo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store keeps every table in maps guarded by a single mutex, so each method is atomic.
type Store struct {
	mu          sync.Mutex
	users       map[string]*repo.User
	packages    map[string]*repo.Package
	accounts    map[string]*repo.WithdrawalAccount
	purchases   map[string]*repo.Purchase
	withdrawals map[string]*repo.Withdrawal
	ledger      []repo.LedgerEntry
	seq         int64
	order       map[string]int64
}

var _ repo.Repository = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		users:       map[string]*repo.User{},
		packages:    map[string]*repo.Package{},
		accounts:    map[string]*repo.WithdrawalAccount{},
		purchases:   map[string]*repo.Purchase{},
		withdrawals: map[string]*repo.Withdrawal{},
		order:       map[string]int64{},
	}
}

func (s *Store) Close()                                     {}
func (s *Store) Ping(context.Context) error                 { return nil }
func (s *Store) RunMigrations(context.Context, fs.FS) error { return nil }

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

// track records insertion order so ties on timestamps sort deterministically.
func (s *Store) track(id string) {
	s.seq++
	s.order[id] = s.seq
}

// -- Users --

func (s *Store) CreateUser(_ context.Context, user repo.User) (*repo.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if _, ok := s.users[user.ID]; ok {
		return nil, apperr.Conflict("user already exists")
	}
	for _, u := range s.users {
		if u.ReferralCode == user.ReferralCode {
			return nil, apperr.Conflict("user already exists")
		}
	}
	user.Earnings = decimal.Zero
	user.CommissionAmount = decimal.Zero
	user.TotalEarnings = decimal.Zero
	user.CreatedAt = stamp(user.CreatedAt)
	user.UpdatedAt = user.CreatedAt
	s.users[user.ID] = &user
	s.track(user.ID)
	out := user
	return &out, nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*repo.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperr.NotFound("user")
	}
	out := *u
	return &out, nil
}

func (s *Store) GetUserByReferralCode(_ context.Context, code string) (*repo.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ReferralCode == code {
			out := *u
			return &out, nil
		}
	}
	return nil, apperr.NotFound("user")
}

func (s *Store) ListReferredUsers(_ context.Context, referralCode string) ([]repo.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repo.User
	for _, u := range s.users {
		if u.ReferredBy != nil && *u.ReferredBy == referralCode {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.order[out[i].ID] < s.order[out[j].ID] })
	return out, nil
}

func (s *Store) SetReferredBy(_ context.Context, userID, referralCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return apperr.NotFound("user")
	}
	if u.ReferredBy != nil {
		return apperr.Conflict("user %s already has a referrer", userID)
	}
	code := referralCode
	u.ReferredBy = &code
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// -- Ledger --

func (s *Store) CreditCommission(_ context.Context, entry repo.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[entry.UserID]
	if !ok {
		return apperr.NotFound("user")
	}
	u.CommissionAmount = u.CommissionAmount.Add(entry.Amount)
	u.Earnings = u.Earnings.Add(entry.Amount)
	u.TotalEarnings = u.TotalEarnings.Add(entry.Amount)
	entry.Kind = repo.LedgerCommission
	s.appendLedger(entry)
	return nil
}

func (s *Store) ReverseCommission(_ context.Context, entry repo.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[entry.UserID]
	if !ok {
		return apperr.NotFound("user")
	}
	u.CommissionAmount = floorZero(u.CommissionAmount.Sub(entry.Amount))
	u.Earnings = floorZero(u.Earnings.Sub(entry.Amount))
	entry.Kind = repo.LedgerCommissionReversal
	entry.Amount = entry.Amount.Neg()
	s.appendLedger(entry)
	return nil
}

func (s *Store) ListCommissionEntries(_ context.Context, purchaseID string) ([]repo.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repo.LedgerEntry
	for _, e := range s.ledger {
		if e.Kind == repo.LedgerCommission && e.PurchaseID != nil && *e.PurchaseID == purchaseID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out, nil
}

func (s *Store) ListLedgerEntries(_ context.Context, userID string) ([]repo.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repo.LedgerEntry
	for i := len(s.ledger) - 1; i >= 0; i-- {
		if s.ledger[i].UserID == userID {
			out = append(out, s.ledger[i])
		}
	}
	return out, nil
}

func (s *Store) appendLedger(entry repo.LedgerEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = stamp(entry.CreatedAt)
	s.ledger = append(s.ledger, entry)
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// -- Packages --

func (s *Store) InsertPackage(_ context.Context, pkg repo.Package) (*repo.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pkg.ID == "" {
		pkg.ID = uuid.NewString()
	}
	for _, p := range s.packages {
		if p.Slug == pkg.Slug || p.ID == pkg.ID {
			return nil, apperr.Conflict("package already exists")
		}
	}
	pkg.CreatedAt = stamp(pkg.CreatedAt)
	pkg.UpdatedAt = pkg.CreatedAt
	s.packages[pkg.ID] = &pkg
	s.track(pkg.ID)
	out := pkg
	return &out, nil
}

func (s *Store) GetPackageByID(_ context.Context, id string) (*repo.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.packages[id]
	if !ok {
		return nil, apperr.NotFound("package")
	}
	out := *p
	return &out, nil
}

func (s *Store) GetPackageBySlug(_ context.Context, slug string) (*repo.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.packages {
		if p.Slug == slug {
			out := *p
			return &out, nil
		}
	}
	return nil, apperr.NotFound("package")
}

func (s *Store) ListPackages(_ context.Context, currency money.Currency) ([]repo.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repo.Package
	for _, p := range s.packages {
		if !p.IsActive || (currency != "" && p.Currency != currency) {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Price.Equal(out[j].Price) {
			return out[i].Price.LessThan(out[j].Price)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// -- Withdrawal accounts --

func (s *Store) InsertWithdrawalAccount(_ context.Context, account repo.WithdrawalAccount) (*repo.WithdrawalAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	for _, a := range s.accounts {
		if a.Method == account.Method {
			return nil, apperr.Conflict("withdrawal account already exists")
		}
	}
	account.CreatedAt = stamp(account.CreatedAt)
	s.accounts[account.ID] = &account
	out := account
	return &out, nil
}

func (s *Store) GetWithdrawalAccount(_ context.Context, id string) (*repo.WithdrawalAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, apperr.NotFound("withdrawal account")
	}
	out := *a
	return &out, nil
}

func (s *Store) ListWithdrawalAccounts(context.Context) ([]repo.WithdrawalAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]repo.WithdrawalAccount, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Method < out[j].Method })
	return out, nil
}

// -- Purchases --

func (s *Store) CreatePurchase(_ context.Context, purchase repo.Purchase) (*repo.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.purchases {
		if p.TransactionID == purchase.TransactionID {
			return nil, apperr.ErrDuplicateTransaction
		}
	}
	if _, ok := s.users[purchase.UserID]; !ok {
		return nil, apperr.NotFound("user")
	}
	if purchase.ID == "" {
		purchase.ID = uuid.NewString()
	}
	now := stamp(purchase.CreatedAt)
	for _, p := range s.purchases {
		if p.UserID == purchase.UserID && isNonTerminal(p.Status) {
			p.Status = repo.StatusExpired
			p.UpdatedAt = now
		}
	}
	purchase.PurchaseDate = purchase.PurchaseDate.UTC()
	purchase.ExpiryDate = purchase.ExpiryDate.UTC()
	purchase.ActivatedAt = nil
	purchase.CreatedAt = now
	purchase.UpdatedAt = now
	s.purchases[purchase.ID] = &purchase
	s.track(purchase.ID)
	out := purchase
	return &out, nil
}

func isNonTerminal(status repo.PackageStatus) bool {
	for _, s := range repo.NonTerminalStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func (s *Store) GetPurchaseByID(_ context.Context, id string) (*repo.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.purchases[id]
	if !ok {
		return nil, apperr.NotFound("purchase")
	}
	return clonePurchase(p), nil
}

func (s *Store) GetPurchaseByTransactionID(_ context.Context, transactionID string) (*repo.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.purchases {
		if p.TransactionID == transactionID {
			return clonePurchase(p), nil
		}
	}
	return nil, apperr.NotFound("purchase")
}

func (s *Store) UpdatePurchaseStatus(_ context.Context, id string, from, to repo.PackageStatus, activatedAt *time.Time) (*repo.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.purchases[id]
	if !ok {
		return nil, apperr.NotFound("purchase")
	}
	if p.Status != from {
		return nil, apperr.Conflict("purchase %s is no longer %s", id, from)
	}
	p.Status = to
	if activatedAt != nil {
		t := activatedAt.UTC()
		p.ActivatedAt = &t
	}
	p.UpdatedAt = time.Now().UTC()
	return clonePurchase(p), nil
}

func (s *Store) ListPurchasesByUser(_ context.Context, userID string) ([]repo.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repo.Purchase
	for _, p := range s.purchases {
		if p.UserID == userID {
			out = append(out, *clonePurchase(p))
		}
	}
	s.sortPurchases(out)
	return out, nil
}

func (s *Store) ListPurchases(context.Context) ([]repo.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]repo.Purchase, 0, len(s.purchases))
	for _, p := range s.purchases {
		out = append(out, *clonePurchase(p))
	}
	s.sortPurchases(out)
	return out, nil
}

// sortPurchases orders newest first.
func (s *Store) sortPurchases(out []repo.Purchase) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PurchaseDate.Equal(out[j].PurchaseDate) {
			return out[i].PurchaseDate.After(out[j].PurchaseDate)
		}
		return s.order[out[i].ID] > s.order[out[j].ID]
	})
}

func (s *Store) HasActiveReferralSince(_ context.Context, referralCode string, since time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.purchases {
		if p.ActivatedAt == nil || p.ActivatedAt.Before(since) {
			continue
		}
		u, ok := s.users[p.UserID]
		if ok && u.ReferredBy != nil && *u.ReferredBy == referralCode {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ExpireDuePurchases(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range s.purchases {
		if isNonTerminal(p.Status) && !p.ExpiryDate.After(now) {
			p.Status = repo.StatusExpired
			p.UpdatedAt = now.UTC()
			n++
		}
	}
	return n, nil
}

func clonePurchase(p *repo.Purchase) *repo.Purchase {
	out := *p
	if p.ActivatedAt != nil {
		t := *p.ActivatedAt
		out.ActivatedAt = &t
	}
	return &out
}

// -- Withdrawals --

func (s *Store) CreateWithdrawal(_ context.Context, w repo.Withdrawal) (*repo.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[w.UserID]
	if !ok {
		return nil, apperr.NotFound("user")
	}
	if u.Earnings.LessThan(w.RequestedAmount) {
		return nil, apperr.ErrInsufficientFunds
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	u.Earnings = u.Earnings.Sub(w.RequestedAmount)
	w.RemainingAmount = u.Earnings
	w.CreatedAt = stamp(w.CreatedAt)
	w.UpdatedAt = w.CreatedAt
	s.withdrawals[w.ID] = &w
	s.track(w.ID)

	withdrawalID := w.ID
	s.appendLedger(repo.LedgerEntry{
		UserID:       w.UserID,
		Kind:         repo.LedgerWithdrawalDebit,
		Amount:       w.RequestedAmount.Neg(),
		Currency:     u.Currency,
		WithdrawalID: &withdrawalID,
		CreatedAt:    w.CreatedAt,
	})
	out := w
	return &out, nil
}

func (s *Store) GetWithdrawalByID(_ context.Context, id string) (*repo.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.withdrawals[id]
	if !ok {
		return nil, apperr.NotFound("withdrawal")
	}
	out := *w
	return &out, nil
}

func (s *Store) LatestWithdrawal(_ context.Context, userID string) (*repo.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.withdrawalsWhere(func(w *repo.Withdrawal) bool { return w.UserID == userID })
	if len(list) == 0 {
		return nil, apperr.NotFound("withdrawal")
	}
	return &list[0], nil
}

func (s *Store) ListWithdrawalsByUser(_ context.Context, userID string) ([]repo.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withdrawalsWhere(func(w *repo.Withdrawal) bool { return w.UserID == userID }), nil
}

func (s *Store) ListWithdrawals(context.Context) ([]repo.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withdrawalsWhere(func(*repo.Withdrawal) bool { return true }), nil
}

// withdrawalsWhere returns matches newest first.
func (s *Store) withdrawalsWhere(match func(*repo.Withdrawal) bool) []repo.Withdrawal {
	var out []repo.Withdrawal
	for _, w := range s.withdrawals {
		if match(w) {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return s.order[out[i].ID] > s.order[out[j].ID]
	})
	return out
}

func (s *Store) UpdateWithdrawalStatus(_ context.Context, id string, from, to repo.WithdrawalStatus, refund decimal.Decimal) (*repo.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.withdrawals[id]
	if !ok {
		return nil, apperr.NotFound("withdrawal")
	}
	if w.Status != from {
		return nil, apperr.Conflict("withdrawal %s is no longer %s", id, from)
	}
	u, ok := s.users[w.UserID]
	if !ok {
		return nil, apperr.NotFound("user")
	}
	now := time.Now().UTC()
	w.Status = to
	w.UpdatedAt = now
	if refund.IsPositive() {
		u.Earnings = u.Earnings.Add(refund)
		withdrawalID := w.ID
		s.appendLedger(repo.LedgerEntry{
			UserID:       w.UserID,
			Kind:         repo.LedgerWithdrawalRefund,
			Amount:       refund,
			Currency:     u.Currency,
			WithdrawalID: &withdrawalID,
			CreatedAt:    now,
		})
	}
	out := *w
	return &out, nil
}

func (s *Store) DeleteWithdrawal(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.withdrawals[id]; !ok {
		return apperr.NotFound("withdrawal")
	}
	delete(s.withdrawals, id)
	return nil
}
