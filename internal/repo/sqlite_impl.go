package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"refcommission/internal/apperr"
	"refcommission/internal/money"

	"github.com/shopspring/decimal"
)

// -- Users --

// CreateUser inserts a user profile with zeroed balances.
func (r *SQLiteRepository) CreateUser(ctx context.Context, user User) (*User, error) {
	if user.ID == "" {
		user.ID = newID()
	}
	createdAt := stamp(user.CreatedAt)
	q := `
INSERT INTO users (id, referral_code, referred_by, currency, earnings, commission_amount, total_earnings, created_at, updated_at)
VALUES (?, ?, ?, ?, '0', '0', '0', ?, ?)
RETURNING ` + userColumns + `;`
	u, err := scanUser(r.db.QueryRowContext(ctx, q, user.ID, user.ReferralCode, user.ReferredBy, user.Currency, createdAt, createdAt))
	if err != nil {
		return nil, sqliteErr("insert user", "user", err)
	}
	return u, nil
}

// GetUserByID returns user by internal identifier.
func (r *SQLiteRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	return r.getUser(ctx, r.db, `id = ?`, id)
}

// GetUserByReferralCode resolves a referral code to its owner.
func (r *SQLiteRepository) GetUserByReferralCode(ctx context.Context, code string) (*User, error) {
	return r.getUser(ctx, r.db, `referral_code = ?`, code)
}

// ListReferredUsers returns users whose upline is the given referral code.
func (r *SQLiteRepository) ListReferredUsers(ctx context.Context, referralCode string) ([]User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE referred_by = ? ORDER BY created_at ASC;`
	rows, err := r.db.QueryContext(ctx, q, referralCode)
	if err != nil {
		return nil, sqliteErr("list referred users", "user", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan referred user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate referred users: %w", err)
	}
	return users, nil
}

// SetReferredBy attaches an upline to a user that has none yet.
func (r *SQLiteRepository) SetReferredBy(ctx context.Context, userID, referralCode string) error {
	const q = `UPDATE users SET referred_by = ?, updated_at = ? WHERE id = ? AND referred_by IS NULL`
	res, err := r.db.ExecContext(ctx, q, referralCode, time.Now().UTC(), userID)
	if err != nil {
		return sqliteErr("set referred by", "user", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return sqliteErr("set referred by", "user", err)
	}
	if n == 0 {
		if _, err := r.GetUserByID(ctx, userID); err != nil {
			return err
		}
		return apperr.Conflict("user %s already has a referrer", userID)
	}
	return nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *SQLiteRepository) getUser(ctx context.Context, db queryer, where string, arg any) (*User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE ` + where + ` LIMIT 1;`
	u, err := scanUser(db.QueryRowContext(ctx, q, arg))
	if err != nil {
		return nil, sqliteErr("get user", "user", err)
	}
	return u, nil
}

func saveBalances(ctx context.Context, tx queryer, u *User, now time.Time) error {
	const q = `UPDATE users SET earnings = ?, commission_amount = ?, total_earnings = ?, updated_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, q, u.Earnings, u.CommissionAmount, u.TotalEarnings, now, u.ID); err != nil {
		return sqliteErr("update balances", "user", err)
	}
	return nil
}

// -- Ledger --

// CreditCommission appends a commission entry and increments the balance counters.
func (r *SQLiteRepository) CreditCommission(ctx context.Context, entry LedgerEntry) error {
	entry.Kind = LedgerCommission
	now := stamp(entry.CreatedAt)
	return r.withTx(ctx, func(tx *sql.Tx) error {
		u, err := r.getUser(ctx, tx, `id = ?`, entry.UserID)
		if err != nil {
			return err
		}
		u.CommissionAmount = u.CommissionAmount.Add(entry.Amount)
		u.Earnings = u.Earnings.Add(entry.Amount)
		u.TotalEarnings = u.TotalEarnings.Add(entry.Amount)
		if err := saveBalances(ctx, tx, u, now); err != nil {
			return err
		}
		entry.CreatedAt = now
		return insertLedgerSQL(ctx, tx, entry)
	})
}

// ReverseCommission removes a previously credited commission. Balances never go below zero.
func (r *SQLiteRepository) ReverseCommission(ctx context.Context, entry LedgerEntry) error {
	entry.Kind = LedgerCommissionReversal
	now := stamp(entry.CreatedAt)
	return r.withTx(ctx, func(tx *sql.Tx) error {
		u, err := r.getUser(ctx, tx, `id = ?`, entry.UserID)
		if err != nil {
			return err
		}
		u.CommissionAmount = floorZero(u.CommissionAmount.Sub(entry.Amount))
		u.Earnings = floorZero(u.Earnings.Sub(entry.Amount))
		if err := saveBalances(ctx, tx, u, now); err != nil {
			return err
		}
		entry.Amount = entry.Amount.Neg()
		entry.CreatedAt = now
		return insertLedgerSQL(ctx, tx, entry)
	})
}

// ListCommissionEntries returns commission credits booked for a purchase.
func (r *SQLiteRepository) ListCommissionEntries(ctx context.Context, purchaseID string) ([]LedgerEntry, error) {
	q := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE purchase_id = ? AND kind = ? ORDER BY level ASC;`
	return r.queryLedger(ctx, q, purchaseID, LedgerCommission)
}

// ListLedgerEntries returns the balance history of a user, newest first.
func (r *SQLiteRepository) ListLedgerEntries(ctx context.Context, userID string) ([]LedgerEntry, error) {
	q := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE user_id = ? ORDER BY created_at DESC;`
	return r.queryLedger(ctx, q, userID)
}

func (r *SQLiteRepository) queryLedger(ctx context.Context, q string, args ...any) ([]LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, sqliteErr("list ledger entries", "ledger entry", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		e, err := scanLedger(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return entries, nil
}

func insertLedgerSQL(ctx context.Context, tx queryer, entry LedgerEntry) error {
	if entry.ID == "" {
		entry.ID = newID()
	}
	const q = `
INSERT INTO ledger_entries (id, user_id, kind, amount, currency, purchase_id, withdrawal_id, source_user_id, level, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`
	_, err := tx.ExecContext(ctx, q,
		entry.ID,
		entry.UserID,
		entry.Kind,
		entry.Amount,
		entry.Currency,
		entry.PurchaseID,
		entry.WithdrawalID,
		entry.SourceUserID,
		entry.Level,
		stamp(entry.CreatedAt),
	)
	if err != nil {
		return sqliteErr("insert ledger entry", "ledger entry", err)
	}
	return nil
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// -- Packages --

// InsertPackage stores a new catalog entry.
func (r *SQLiteRepository) InsertPackage(ctx context.Context, pkg Package) (*Package, error) {
	if pkg.ID == "" {
		pkg.ID = newID()
	}
	createdAt := stamp(pkg.CreatedAt)
	q := `
INSERT INTO packages (id, name, description, slug, price, discount, duration_days, earning_rate, num_of_ads, commission_rate, currency, is_active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + packageColumns + `;`
	p, err := scanPackage(r.db.QueryRowContext(ctx, q,
		pkg.ID,
		pkg.Name,
		pkg.Description,
		pkg.Slug,
		pkg.Price,
		pkg.Discount,
		pkg.DurationDays,
		pkg.EarningRate,
		pkg.NumOfAds,
		pkg.CommissionRate,
		pkg.Currency,
		pkg.IsActive,
		createdAt,
		createdAt,
	))
	if err != nil {
		return nil, sqliteErr("insert package", "package", err)
	}
	return p, nil
}

// GetPackageByID returns a package or a NotFound error.
func (r *SQLiteRepository) GetPackageByID(ctx context.Context, id string) (*Package, error) {
	q := `SELECT ` + packageColumns + ` FROM packages WHERE id = ? LIMIT 1;`
	p, err := scanPackage(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, sqliteErr("get package", "package", err)
	}
	return p, nil
}

// GetPackageBySlug returns a package by its URL slug.
func (r *SQLiteRepository) GetPackageBySlug(ctx context.Context, slug string) (*Package, error) {
	q := `SELECT ` + packageColumns + ` FROM packages WHERE slug = ? LIMIT 1;`
	p, err := scanPackage(r.db.QueryRowContext(ctx, q, slug))
	if err != nil {
		return nil, sqliteErr("get package by slug", "package", err)
	}
	return p, nil
}

// ListPackages returns active packages, optionally filtered by currency.
func (r *SQLiteRepository) ListPackages(ctx context.Context, currency money.Currency) ([]Package, error) {
	q := `
SELECT ` + packageColumns + `
FROM packages
WHERE is_active = 1 AND (? = '' OR currency = ?)
ORDER BY CAST(price AS REAL) ASC, name ASC;
`
	rows, err := r.db.QueryContext(ctx, q, string(currency), string(currency))
	if err != nil {
		return nil, sqliteErr("list packages", "package", err)
	}
	defer rows.Close()

	var pkgs []Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		pkgs = append(pkgs, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate packages: %w", err)
	}
	return pkgs, nil
}

// -- Withdrawal accounts --

// InsertWithdrawalAccount registers a payout method.
func (r *SQLiteRepository) InsertWithdrawalAccount(ctx context.Context, account WithdrawalAccount) (*WithdrawalAccount, error) {
	if account.ID == "" {
		account.ID = newID()
	}
	q := `
INSERT INTO withdrawal_accounts (id, method, min_amount, created_at)
VALUES (?, ?, ?, ?)
RETURNING ` + accountColumns + `;`
	a, err := scanAccount(r.db.QueryRowContext(ctx, q, account.ID, account.Method, account.MinAmount, stamp(account.CreatedAt)))
	if err != nil {
		return nil, sqliteErr("insert withdrawal account", "withdrawal account", err)
	}
	return a, nil
}

// GetWithdrawalAccount returns a payout account or a NotFound error.
func (r *SQLiteRepository) GetWithdrawalAccount(ctx context.Context, id string) (*WithdrawalAccount, error) {
	q := `SELECT ` + accountColumns + ` FROM withdrawal_accounts WHERE id = ? LIMIT 1;`
	a, err := scanAccount(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, sqliteErr("get withdrawal account", "withdrawal account", err)
	}
	return a, nil
}

// ListWithdrawalAccounts returns all payout accounts.
func (r *SQLiteRepository) ListWithdrawalAccounts(ctx context.Context) ([]WithdrawalAccount, error) {
	q := `SELECT ` + accountColumns + ` FROM withdrawal_accounts ORDER BY method ASC;`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, sqliteErr("list withdrawal accounts", "withdrawal account", err)
	}
	defer rows.Close()

	var accounts []WithdrawalAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan withdrawal account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate withdrawal accounts: %w", err)
	}
	return accounts, nil
}

// -- Purchases --

// CreatePurchase expires the user's open purchases and inserts a pending one in a single transaction.
func (r *SQLiteRepository) CreatePurchase(ctx context.Context, purchase Purchase) (*Purchase, error) {
	if purchase.ID == "" {
		purchase.ID = newID()
	}
	now := stamp(purchase.CreatedAt)

	var created *Purchase
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		const dup = `SELECT EXISTS (SELECT 1 FROM purchases WHERE transaction_id = ?)`
		if err := tx.QueryRowContext(ctx, dup, purchase.TransactionID).Scan(&exists); err != nil {
			return sqliteErr("check transaction id", "purchase", err)
		}
		if exists {
			return apperr.ErrDuplicateTransaction
		}

		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(NonTerminalStatuses)), ", ")
		expire := `UPDATE purchases SET status = ?, updated_at = ? WHERE user_id = ? AND status IN (` + placeholders + `)`
		args := []any{StatusExpired, now, purchase.UserID}
		for _, s := range NonTerminalStatuses {
			args = append(args, s)
		}
		if _, err := tx.ExecContext(ctx, expire, args...); err != nil {
			return sqliteErr("expire prior purchases", "purchase", err)
		}

		q := `
INSERT INTO purchases (id, user_id, package_id, purchase_date, expiry_date, transaction_id, sender_number, payment_status, status, activated_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)
RETURNING ` + purchaseColumns + `;`
		p, err := scanPurchase(tx.QueryRowContext(ctx, q,
			purchase.ID,
			purchase.UserID,
			purchase.PackageID,
			purchase.PurchaseDate.UTC(),
			purchase.ExpiryDate.UTC(),
			purchase.TransactionID,
			purchase.SenderNumber,
			purchase.PaymentStatus,
			purchase.Status,
			now,
			now,
		))
		if err != nil {
			return sqliteErr("insert purchase", "purchase", err)
		}
		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetPurchaseByID returns a purchase or a NotFound error.
func (r *SQLiteRepository) GetPurchaseByID(ctx context.Context, id string) (*Purchase, error) {
	q := `SELECT ` + purchaseColumns + ` FROM purchases WHERE id = ? LIMIT 1;`
	p, err := scanPurchase(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, sqliteErr("get purchase", "purchase", err)
	}
	return p, nil
}

// GetPurchaseByTransactionID looks a purchase up by its payment reference.
func (r *SQLiteRepository) GetPurchaseByTransactionID(ctx context.Context, transactionID string) (*Purchase, error) {
	q := `SELECT ` + purchaseColumns + ` FROM purchases WHERE transaction_id = ? LIMIT 1;`
	p, err := scanPurchase(r.db.QueryRowContext(ctx, q, transactionID))
	if err != nil {
		return nil, sqliteErr("get purchase by transaction id", "purchase", err)
	}
	return p, nil
}

// UpdatePurchaseStatus moves a purchase from one status to another only if it is still in `from`.
func (r *SQLiteRepository) UpdatePurchaseStatus(ctx context.Context, id string, from, to PackageStatus, activatedAt *time.Time) (*Purchase, error) {
	var stampAt *time.Time
	if activatedAt != nil {
		t := activatedAt.UTC()
		stampAt = &t
	}
	q := `
UPDATE purchases
SET status = ?, activated_at = COALESCE(?, activated_at), updated_at = ?
WHERE id = ? AND status = ?
RETURNING ` + purchaseColumns + `;`
	p, err := scanPurchase(r.db.QueryRowContext(ctx, q, to, stampAt, time.Now().UTC(), id, from))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, sqliteErr("update purchase status", "purchase", err)
	}
	if _, err := r.GetPurchaseByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, apperr.Conflict("purchase %s is no longer %s", id, from)
}

// ListPurchasesByUser returns a user's purchases, newest first.
func (r *SQLiteRepository) ListPurchasesByUser(ctx context.Context, userID string) ([]Purchase, error) {
	q := `SELECT ` + purchaseColumns + ` FROM purchases WHERE user_id = ? ORDER BY purchase_date DESC, created_at DESC;`
	return r.queryPurchases(ctx, q, userID)
}

// ListPurchases returns every purchase, newest first.
func (r *SQLiteRepository) ListPurchases(ctx context.Context) ([]Purchase, error) {
	q := `SELECT ` + purchaseColumns + ` FROM purchases ORDER BY created_at DESC;`
	return r.queryPurchases(ctx, q)
}

// HasActiveReferralSince reports whether any user referred by the code activated a purchase at or after since.
func (r *SQLiteRepository) HasActiveReferralSince(ctx context.Context, referralCode string, since time.Time) (bool, error) {
	const q = `
SELECT EXISTS (
    SELECT 1
    FROM purchases p
    JOIN users u ON u.id = p.user_id
    WHERE u.referred_by = ?
      AND p.activated_at IS NOT NULL
      AND p.activated_at >= ?
);
`
	var exists bool
	if err := r.db.QueryRowContext(ctx, q, referralCode, since.UTC()).Scan(&exists); err != nil {
		return false, sqliteErr("check active referral", "purchase", err)
	}
	return exists, nil
}

// ExpireDuePurchases flips open purchases past their expiry date to Expired.
func (r *SQLiteRepository) ExpireDuePurchases(ctx context.Context, now time.Time) (int64, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(NonTerminalStatuses)), ", ")
	q := `UPDATE purchases SET status = ?, updated_at = ? WHERE expiry_date <= ? AND status IN (` + placeholders + `)`
	args := []any{StatusExpired, now.UTC(), now.UTC()}
	for _, s := range NonTerminalStatuses {
		args = append(args, s)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, sqliteErr("expire due purchases", "purchase", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, sqliteErr("expire due purchases", "purchase", err)
	}
	return n, nil
}

func (r *SQLiteRepository) queryPurchases(ctx context.Context, q string, args ...any) ([]Purchase, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, sqliteErr("list purchases", "purchase", err)
	}
	defer rows.Close()

	var purchases []Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		purchases = append(purchases, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchases: %w", err)
	}
	return purchases, nil
}

// -- Withdrawals --

// CreateWithdrawal debits the requested amount and records the withdrawal in one transaction.
// The debit is guarded so earnings never go negative.
func (r *SQLiteRepository) CreateWithdrawal(ctx context.Context, w Withdrawal) (*Withdrawal, error) {
	if w.ID == "" {
		w.ID = newID()
	}
	now := stamp(w.CreatedAt)

	var created *Withdrawal
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		u, err := r.getUser(ctx, tx, `id = ?`, w.UserID)
		if err != nil {
			return err
		}
		if u.Earnings.LessThan(w.RequestedAmount) {
			return apperr.ErrInsufficientFunds
		}
		u.Earnings = u.Earnings.Sub(w.RequestedAmount)
		if err := saveBalances(ctx, tx, u, now); err != nil {
			return err
		}
		w.RemainingAmount = u.Earnings

		q := `
INSERT INTO withdrawals (id, user_id, payment_method_id, requested_amount, amount, deduction_percent, remaining_amount, account_number, account_name, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + withdrawalColumns + `;`
		created, err = scanWithdrawal(tx.QueryRowContext(ctx, q,
			w.ID,
			w.UserID,
			w.PaymentMethodID,
			w.RequestedAmount,
			w.Amount,
			w.DeductionPercent,
			w.RemainingAmount,
			w.AccountNumber,
			w.AccountName,
			w.Status,
			now,
			now,
		))
		if err != nil {
			return sqliteErr("insert withdrawal", "withdrawal", err)
		}

		withdrawalID := created.ID
		return insertLedgerSQL(ctx, tx, LedgerEntry{
			UserID:       w.UserID,
			Kind:         LedgerWithdrawalDebit,
			Amount:       w.RequestedAmount.Neg(),
			Currency:     u.Currency,
			WithdrawalID: &withdrawalID,
			CreatedAt:    now,
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetWithdrawalByID returns a withdrawal or a NotFound error.
func (r *SQLiteRepository) GetWithdrawalByID(ctx context.Context, id string) (*Withdrawal, error) {
	q := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE id = ? LIMIT 1;`
	w, err := scanWithdrawal(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, sqliteErr("get withdrawal", "withdrawal", err)
	}
	return w, nil
}

// LatestWithdrawal returns the most recent withdrawal of the user or a not-found error.
func (r *SQLiteRepository) LatestWithdrawal(ctx context.Context, userID string) (*Withdrawal, error) {
	q := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1;`
	w, err := scanWithdrawal(r.db.QueryRowContext(ctx, q, userID))
	if err != nil {
		return nil, sqliteErr("get latest withdrawal", "withdrawal", err)
	}
	return w, nil
}

// ListWithdrawalsByUser returns a user's withdrawals, newest first.
func (r *SQLiteRepository) ListWithdrawalsByUser(ctx context.Context, userID string) ([]Withdrawal, error) {
	q := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE user_id = ? ORDER BY created_at DESC;`
	return r.queryWithdrawals(ctx, q, userID)
}

// ListWithdrawals returns every withdrawal, newest first.
func (r *SQLiteRepository) ListWithdrawals(ctx context.Context) ([]Withdrawal, error) {
	q := `SELECT ` + withdrawalColumns + ` FROM withdrawals ORDER BY created_at DESC;`
	return r.queryWithdrawals(ctx, q)
}

// UpdateWithdrawalStatus is a compare-and-set on the status. A positive refund is credited
// back to earnings with a ledger entry in the same transaction.
func (r *SQLiteRepository) UpdateWithdrawalStatus(ctx context.Context, id string, from, to WithdrawalStatus, refund decimal.Decimal) (*Withdrawal, error) {
	now := time.Now().UTC()
	var updated *Withdrawal
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		q := `
UPDATE withdrawals
SET status = ?, updated_at = ?
WHERE id = ? AND status = ?
RETURNING ` + withdrawalColumns + `;`
		w, err := scanWithdrawal(tx.QueryRowContext(ctx, q, to, now, id, from))
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM withdrawals WHERE id = ?)`, id).Scan(&exists); err != nil {
				return sqliteErr("get withdrawal", "withdrawal", err)
			}
			if !exists {
				return apperr.NotFound("withdrawal")
			}
			return apperr.Conflict("withdrawal %s is no longer %s", id, from)
		}
		if err != nil {
			return sqliteErr("update withdrawal status", "withdrawal", err)
		}
		updated = w

		if !refund.IsPositive() {
			return nil
		}
		u, err := r.getUser(ctx, tx, `id = ?`, w.UserID)
		if err != nil {
			return err
		}
		u.Earnings = u.Earnings.Add(refund)
		if err := saveBalances(ctx, tx, u, now); err != nil {
			return err
		}
		withdrawalID := w.ID
		return insertLedgerSQL(ctx, tx, LedgerEntry{
			UserID:       w.UserID,
			Kind:         LedgerWithdrawalRefund,
			Amount:       refund,
			Currency:     u.Currency,
			WithdrawalID: &withdrawalID,
			CreatedAt:    now,
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteWithdrawal removes a withdrawal row without touching balances.
func (r *SQLiteRepository) DeleteWithdrawal(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM withdrawals WHERE id = ?`, id)
	if err != nil {
		return sqliteErr("delete withdrawal", "withdrawal", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return sqliteErr("delete withdrawal", "withdrawal", err)
	}
	if n == 0 {
		return apperr.NotFound("withdrawal")
	}
	return nil
}

func (r *SQLiteRepository) queryWithdrawals(ctx context.Context, q string, args ...any) ([]Withdrawal, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, sqliteErr("list withdrawals", "withdrawal", err)
	}
	defer rows.Close()

	var withdrawals []Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan withdrawal: %w", err)
		}
		withdrawals = append(withdrawals, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate withdrawals: %w", err)
	}
	return withdrawals, nil
}
