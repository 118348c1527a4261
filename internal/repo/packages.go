package repo

import (
	"context"
	"fmt"

	"refcommission/internal/money"
)

// InsertPackage stores a new catalog entry.
func (r *PostgresRepository) InsertPackage(ctx context.Context, pkg Package) (*Package, error) {
	if pkg.ID == "" {
		pkg.ID = newID()
	}
	createdAt := stamp(pkg.CreatedAt)
	q := `
INSERT INTO packages (id, name, description, slug, price, discount, duration_days, earning_rate, num_of_ads, commission_rate, currency, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
RETURNING ` + packageColumns + `;`
	p, err := scanPackage(r.pool.QueryRow(ctx, q,
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
	))
	if err != nil {
		return nil, pgErr("insert package", "package", err)
	}
	return p, nil
}

// GetPackageByID returns a package or a NotFound error.
func (r *PostgresRepository) GetPackageByID(ctx context.Context, id string) (*Package, error) {
	q := `SELECT ` + packageColumns + ` FROM packages WHERE id = $1 LIMIT 1;`
	p, err := scanPackage(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, pgErr("get package", "package", err)
	}
	return p, nil
}

// GetPackageBySlug returns a package by its URL slug.
func (r *PostgresRepository) GetPackageBySlug(ctx context.Context, slug string) (*Package, error) {
	q := `SELECT ` + packageColumns + ` FROM packages WHERE slug = $1 LIMIT 1;`
	p, err := scanPackage(r.pool.QueryRow(ctx, q, slug))
	if err != nil {
		return nil, pgErr("get package by slug", "package", err)
	}
	return p, nil
}

// ListPackages returns active packages, optionally filtered by currency.
func (r *PostgresRepository) ListPackages(ctx context.Context, currency money.Currency) ([]Package, error) {
	q := `
SELECT ` + packageColumns + `
FROM packages
WHERE is_active = TRUE AND ($1 = '' OR currency = $1)
ORDER BY price ASC, name ASC;
`
	rows, err := r.pool.Query(ctx, q, string(currency))
	if err != nil {
		return nil, pgErr("list packages", "package", err)
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

// InsertWithdrawalAccount registers a payout method.
func (r *PostgresRepository) InsertWithdrawalAccount(ctx context.Context, account WithdrawalAccount) (*WithdrawalAccount, error) {
	if account.ID == "" {
		account.ID = newID()
	}
	q := `
INSERT INTO withdrawal_accounts (id, method, min_amount, created_at)
VALUES ($1, $2, $3, $4)
RETURNING ` + accountColumns + `;`
	a, err := scanAccount(r.pool.QueryRow(ctx, q, account.ID, account.Method, account.MinAmount, stamp(account.CreatedAt)))
	if err != nil {
		return nil, pgErr("insert withdrawal account", "withdrawal account", err)
	}
	return a, nil
}

// GetWithdrawalAccount returns a payout account or a NotFound error.
func (r *PostgresRepository) GetWithdrawalAccount(ctx context.Context, id string) (*WithdrawalAccount, error) {
	q := `SELECT ` + accountColumns + ` FROM withdrawal_accounts WHERE id = $1 LIMIT 1;`
	a, err := scanAccount(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, pgErr("get withdrawal account", "withdrawal account", err)
	}
	return a, nil
}

// ListWithdrawalAccounts returns all payout accounts.
func (r *PostgresRepository) ListWithdrawalAccounts(ctx context.Context) ([]WithdrawalAccount, error) {
	q := `SELECT ` + accountColumns + ` FROM withdrawal_accounts ORDER BY method ASC;`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, pgErr("list withdrawal accounts", "withdrawal account", err)
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
