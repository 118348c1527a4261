package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"refcommission/internal/apperr"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// CreatePurchase expires the user's open purchases and inserts a pending one in a single transaction.
func (r *PostgresRepository) CreatePurchase(ctx context.Context, purchase Purchase) (*Purchase, error) {
	if purchase.ID == "" {
		purchase.ID = newID()
	}
	now := stamp(purchase.CreatedAt)

	var created *Purchase
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		const dup = `SELECT EXISTS (SELECT 1 FROM purchases WHERE transaction_id = $1)`
		if err := tx.QueryRow(ctx, dup, purchase.TransactionID).Scan(&exists); err != nil {
			return pgErr("check transaction id", "purchase", err)
		}
		if exists {
			return apperr.ErrDuplicateTransaction
		}

		const expire = `
UPDATE purchases
SET status = $2, updated_at = $3
WHERE user_id = $1 AND status = ANY($4);
`
		if _, err := tx.Exec(ctx, expire, purchase.UserID, StatusExpired, now, statusStrings(NonTerminalStatuses)); err != nil {
			return pgErr("expire prior purchases", "purchase", err)
		}

		q := `
INSERT INTO purchases (id, user_id, package_id, purchase_date, expiry_date, transaction_id, sender_number, payment_status, status, activated_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULL, $10, $10)
RETURNING ` + purchaseColumns + `;`
		p, err := scanPurchase(tx.QueryRow(ctx, q,
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
		))
		if err != nil {
			var pe *pgconn.PgError
			if errors.As(err, &pe) && pe.Code == uniqueViolation {
				return apperr.ErrDuplicateTransaction
			}
			return pgErr("insert purchase", "purchase", err)
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
func (r *PostgresRepository) GetPurchaseByID(ctx context.Context, id string) (*Purchase, error) {
	q := `SELECT ` + purchaseColumns + ` FROM purchases WHERE id = $1 LIMIT 1;`
	p, err := scanPurchase(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, pgErr("get purchase", "purchase", err)
	}
	return p, nil
}

// GetPurchaseByTransactionID looks a purchase up by its payment reference.
func (r *PostgresRepository) GetPurchaseByTransactionID(ctx context.Context, transactionID string) (*Purchase, error) {
	q := `SELECT ` + purchaseColumns + ` FROM purchases WHERE transaction_id = $1 LIMIT 1;`
	p, err := scanPurchase(r.pool.QueryRow(ctx, q, transactionID))
	if err != nil {
		return nil, pgErr("get purchase by transaction id", "purchase", err)
	}
	return p, nil
}

// UpdatePurchaseStatus moves a purchase from one status to another only if it is still in `from`.
func (r *PostgresRepository) UpdatePurchaseStatus(ctx context.Context, id string, from, to PackageStatus, activatedAt *time.Time) (*Purchase, error) {
	q := `
UPDATE purchases
SET status = $3, activated_at = COALESCE($4, activated_at), updated_at = NOW()
WHERE id = $1 AND status = $2
RETURNING ` + purchaseColumns + `;`
	p, err := scanPurchase(r.pool.QueryRow(ctx, q, id, from, to, activatedAt))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, pgErr("update purchase status", "purchase", err)
	}
	if _, err := r.GetPurchaseByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, apperr.Conflict("purchase %s is no longer %s", id, from)
}

// ListPurchasesByUser returns a user's purchases, newest first.
func (r *PostgresRepository) ListPurchasesByUser(ctx context.Context, userID string) ([]Purchase, error) {
	q := `SELECT ` + purchaseColumns + ` FROM purchases WHERE user_id = $1 ORDER BY purchase_date DESC, created_at DESC;`
	return r.queryPurchases(ctx, q, userID)
}

// ListPurchases returns every purchase, newest first.
func (r *PostgresRepository) ListPurchases(ctx context.Context) ([]Purchase, error) {
	q := `SELECT ` + purchaseColumns + ` FROM purchases ORDER BY created_at DESC;`
	return r.queryPurchases(ctx, q)
}

// HasActiveReferralSince reports whether any user referred by the code activated a purchase at or after since.
func (r *PostgresRepository) HasActiveReferralSince(ctx context.Context, referralCode string, since time.Time) (bool, error) {
	const q = `
SELECT EXISTS (
    SELECT 1
    FROM purchases p
    JOIN users u ON u.id = p.user_id
    WHERE u.referred_by = $1
      AND p.activated_at IS NOT NULL
      AND p.activated_at >= $2
);
`
	var exists bool
	if err := r.pool.QueryRow(ctx, q, referralCode, since.UTC()).Scan(&exists); err != nil {
		return false, pgErr("check active referral", "purchase", err)
	}
	return exists, nil
}

// ExpireDuePurchases flips open purchases past their expiry date to Expired.
// Completed and cancelled purchases keep their outcome.
func (r *PostgresRepository) ExpireDuePurchases(ctx context.Context, now time.Time) (int64, error) {
	const q = `UPDATE purchases SET status = $1, updated_at = $2 WHERE status = ANY($3) AND expiry_date <= $2`
	ct, err := r.pool.Exec(ctx, q, StatusExpired, now.UTC(), statusStrings(NonTerminalStatuses))
	if err != nil {
		return 0, pgErr("expire due purchases", "purchase", err)
	}
	return ct.RowsAffected(), nil
}

func (r *PostgresRepository) queryPurchases(ctx context.Context, q string, args ...any) ([]Purchase, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, pgErr("list purchases", "purchase", err)
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

func statusStrings(statuses []PackageStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
