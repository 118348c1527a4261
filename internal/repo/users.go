package repo

import (
	"context"
	"fmt"

	"refcommission/internal/apperr"

	"github.com/jackc/pgx/v5"
)

// CreateUser inserts a user profile with zeroed balances.
func (r *PostgresRepository) CreateUser(ctx context.Context, user User) (*User, error) {
	if user.ID == "" {
		user.ID = newID()
	}
	createdAt := stamp(user.CreatedAt)
	q := `
INSERT INTO users (id, referral_code, referred_by, currency, earnings, commission_amount, total_earnings, created_at, updated_at)
VALUES ($1, $2, $3, $4, 0, 0, 0, $5, $5)
RETURNING ` + userColumns + `;`
	u, err := scanUser(r.pool.QueryRow(ctx, q, user.ID, user.ReferralCode, user.ReferredBy, user.Currency, createdAt))
	if err != nil {
		return nil, pgErr("insert user", "user", err)
	}
	return u, nil
}

// GetUserByID returns user by internal identifier.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id = $1 LIMIT 1;`
	u, err := scanUser(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, pgErr("get user by id", "user", err)
	}
	return u, nil
}

// GetUserByReferralCode resolves a referral code to its owner.
func (r *PostgresRepository) GetUserByReferralCode(ctx context.Context, code string) (*User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE referral_code = $1 LIMIT 1;`
	u, err := scanUser(r.pool.QueryRow(ctx, q, code))
	if err != nil {
		return nil, pgErr("get user by referral code", "user", err)
	}
	return u, nil
}

// ListReferredUsers returns users whose upline is the given referral code.
func (r *PostgresRepository) ListReferredUsers(ctx context.Context, referralCode string) ([]User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE referred_by = $1 ORDER BY created_at ASC;`
	rows, err := r.pool.Query(ctx, q, referralCode)
	if err != nil {
		return nil, pgErr("list referred users", "user", err)
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
func (r *PostgresRepository) SetReferredBy(ctx context.Context, userID, referralCode string) error {
	const q = `UPDATE users SET referred_by = $2, updated_at = NOW() WHERE id = $1 AND referred_by IS NULL`
	ct, err := r.pool.Exec(ctx, q, userID, referralCode)
	if err != nil {
		return pgErr("set referred by", "user", err)
	}
	if ct.RowsAffected() == 0 {
		if _, err := r.GetUserByID(ctx, userID); err != nil {
			return err
		}
		return apperr.Conflict("user %s already has a referrer", userID)
	}
	return nil
}

// CreditCommission appends a commission entry and increments the balance counters.
func (r *PostgresRepository) CreditCommission(ctx context.Context, entry LedgerEntry) error {
	entry.Kind = LedgerCommission
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		const upd = `
UPDATE users
SET commission_amount = commission_amount + $2,
    earnings = earnings + $2,
    total_earnings = total_earnings + $2,
    updated_at = NOW()
WHERE id = $1;
`
		ct, err := tx.Exec(ctx, upd, entry.UserID, entry.Amount)
		if err != nil {
			return pgErr("credit commission", "user", err)
		}
		if ct.RowsAffected() == 0 {
			return apperr.NotFound("user")
		}
		return insertLedgerTx(ctx, tx, entry)
	})
}

// ReverseCommission removes a previously credited commission. Balances never go below zero.
func (r *PostgresRepository) ReverseCommission(ctx context.Context, entry LedgerEntry) error {
	entry.Kind = LedgerCommissionReversal
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		const upd = `
UPDATE users
SET commission_amount = GREATEST(commission_amount - $2, 0),
    earnings = GREATEST(earnings - $2, 0),
    updated_at = NOW()
WHERE id = $1;
`
		ct, err := tx.Exec(ctx, upd, entry.UserID, entry.Amount)
		if err != nil {
			return pgErr("reverse commission", "user", err)
		}
		if ct.RowsAffected() == 0 {
			return apperr.NotFound("user")
		}
		entry.Amount = entry.Amount.Neg()
		return insertLedgerTx(ctx, tx, entry)
	})
}

// ListCommissionEntries returns commission credits booked for a purchase.
func (r *PostgresRepository) ListCommissionEntries(ctx context.Context, purchaseID string) ([]LedgerEntry, error) {
	q := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE purchase_id = $1 AND kind = $2 ORDER BY level ASC;`
	return r.queryLedger(ctx, q, purchaseID, LedgerCommission)
}

// ListLedgerEntries returns the balance history of a user, newest first.
func (r *PostgresRepository) ListLedgerEntries(ctx context.Context, userID string) ([]LedgerEntry, error) {
	q := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE user_id = $1 ORDER BY created_at DESC;`
	return r.queryLedger(ctx, q, userID)
}

func (r *PostgresRepository) queryLedger(ctx context.Context, q string, args ...any) ([]LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, pgErr("list ledger entries", "ledger entry", err)
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

func insertLedgerTx(ctx context.Context, tx pgx.Tx, entry LedgerEntry) error {
	if entry.ID == "" {
		entry.ID = newID()
	}
	const q = `
INSERT INTO ledger_entries (id, user_id, kind, amount, currency, purchase_id, withdrawal_id, source_user_id, level, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
`
	_, err := tx.Exec(ctx, q,
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
		return pgErr("insert ledger entry", "ledger entry", err)
	}
	return nil
}
