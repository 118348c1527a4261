package repo

import (
	"context"
	"errors"
	"fmt"

	"refcommission/internal/apperr"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// CreateWithdrawal debits the requested amount and records the withdrawal in one transaction.
// The debit is guarded so earnings never go negative.
func (r *PostgresRepository) CreateWithdrawal(ctx context.Context, w Withdrawal) (*Withdrawal, error) {
	if w.ID == "" {
		w.ID = newID()
	}
	now := stamp(w.CreatedAt)

	var created *Withdrawal
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		const debit = `
UPDATE users
SET earnings = earnings - $2, updated_at = $3
WHERE id = $1 AND earnings >= $2
RETURNING earnings, currency;
`
		var user User
		err := tx.QueryRow(ctx, debit, w.UserID, w.RequestedAmount, now).Scan(&user.Earnings, &user.Currency)
		if errors.Is(err, pgx.ErrNoRows) {
			if _, err := r.GetUserByID(ctx, w.UserID); err != nil {
				return err
			}
			return apperr.ErrInsufficientFunds
		}
		if err != nil {
			return pgErr("debit earnings", "user", err)
		}
		w.RemainingAmount = user.Earnings

		q := `
INSERT INTO withdrawals (id, user_id, payment_method_id, requested_amount, amount, deduction_percent, remaining_amount, account_number, account_name, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
RETURNING ` + withdrawalColumns + `;`
		created, err = scanWithdrawal(tx.QueryRow(ctx, q,
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
		))
		if err != nil {
			return pgErr("insert withdrawal", "withdrawal", err)
		}

		withdrawalID := created.ID
		return insertLedgerTx(ctx, tx, LedgerEntry{
			UserID:       w.UserID,
			Kind:         LedgerWithdrawalDebit,
			Amount:       w.RequestedAmount.Neg(),
			Currency:     user.Currency,
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
func (r *PostgresRepository) GetWithdrawalByID(ctx context.Context, id string) (*Withdrawal, error) {
	q := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE id = $1 LIMIT 1;`
	w, err := scanWithdrawal(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, pgErr("get withdrawal", "withdrawal", err)
	}
	return w, nil
}

// LatestWithdrawal returns the most recent withdrawal of the user or a not-found error.
func (r *PostgresRepository) LatestWithdrawal(ctx context.Context, userID string) (*Withdrawal, error) {
	q := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1;`
	w, err := scanWithdrawal(r.pool.QueryRow(ctx, q, userID))
	if err != nil {
		return nil, pgErr("get latest withdrawal", "withdrawal", err)
	}
	return w, nil
}

// ListWithdrawalsByUser returns a user's withdrawals, newest first.
func (r *PostgresRepository) ListWithdrawalsByUser(ctx context.Context, userID string) ([]Withdrawal, error) {
	q := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE user_id = $1 ORDER BY created_at DESC;`
	return r.queryWithdrawals(ctx, q, userID)
}

// ListWithdrawals returns every withdrawal, newest first.
func (r *PostgresRepository) ListWithdrawals(ctx context.Context) ([]Withdrawal, error) {
	q := `SELECT ` + withdrawalColumns + ` FROM withdrawals ORDER BY created_at DESC;`
	return r.queryWithdrawals(ctx, q)
}

// UpdateWithdrawalStatus is a compare-and-set on the status. A positive refund is credited
// back to earnings with a ledger entry in the same transaction.
func (r *PostgresRepository) UpdateWithdrawalStatus(ctx context.Context, id string, from, to WithdrawalStatus, refund decimal.Decimal) (*Withdrawal, error) {
	var updated *Withdrawal
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		q := `
UPDATE withdrawals
SET status = $3, updated_at = NOW()
WHERE id = $1 AND status = $2
RETURNING ` + withdrawalColumns + `;`
		w, err := scanWithdrawal(tx.QueryRow(ctx, q, id, from, to))
		if errors.Is(err, pgx.ErrNoRows) {
			if _, err := r.GetWithdrawalByID(ctx, id); err != nil {
				return err
			}
			return apperr.Conflict("withdrawal %s is no longer %s", id, from)
		}
		if err != nil {
			return pgErr("update withdrawal status", "withdrawal", err)
		}
		updated = w

		if !refund.IsPositive() {
			return nil
		}
		const credit = `
UPDATE users SET earnings = earnings + $2, updated_at = NOW()
WHERE id = $1
RETURNING currency;
`
		var user User
		if err := tx.QueryRow(ctx, credit, w.UserID, refund).Scan(&user.Currency); err != nil {
			return pgErr("refund withdrawal", "user", err)
		}
		withdrawalID := w.ID
		return insertLedgerTx(ctx, tx, LedgerEntry{
			UserID:       w.UserID,
			Kind:         LedgerWithdrawalRefund,
			Amount:       refund,
			Currency:     user.Currency,
			WithdrawalID: &withdrawalID,
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteWithdrawal removes a withdrawal row without touching balances.
func (r *PostgresRepository) DeleteWithdrawal(ctx context.Context, id string) error {
	const q = `DELETE FROM withdrawals WHERE id = $1`
	ct, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return pgErr("delete withdrawal", "withdrawal", err)
	}
	if ct.RowsAffected() == 0 {
		return apperr.NotFound("withdrawal")
	}
	return nil
}

func (r *PostgresRepository) queryWithdrawals(ctx context.Context, q string, args ...any) ([]Withdrawal, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, pgErr("list withdrawals", "withdrawal", err)
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
