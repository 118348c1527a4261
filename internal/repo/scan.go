package repo

const (
	userColumns       = `id, referral_code, referred_by, currency, earnings, commission_amount, total_earnings, created_at, updated_at`
	packageColumns    = `id, name, description, slug, price, discount, duration_days, earning_rate, num_of_ads, commission_rate, currency, is_active, created_at, updated_at`
	accountColumns    = `id, method, min_amount, created_at`
	purchaseColumns   = `id, user_id, package_id, purchase_date, expiry_date, transaction_id, sender_number, payment_status, status, activated_at, created_at, updated_at`
	withdrawalColumns = `id, user_id, payment_method_id, requested_amount, amount, deduction_percent, remaining_amount, account_number, account_name, status, created_at, updated_at`
	ledgerColumns     = `id, user_id, kind, amount, currency, purchase_id, withdrawal_id, source_user_id, level, created_at`
)

func scanUser(row scanner) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.ReferralCode, &u.ReferredBy, &u.Currency, &u.Earnings, &u.CommissionAmount, &u.TotalEarnings, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func scanPackage(row scanner) (*Package, error) {
	var p Package
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Slug, &p.Price, &p.Discount, &p.DurationDays, &p.EarningRate, &p.NumOfAds, &p.CommissionRate, &p.Currency, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanAccount(row scanner) (*WithdrawalAccount, error) {
	var a WithdrawalAccount
	if err := row.Scan(&a.ID, &a.Method, &a.MinAmount, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanPurchase(row scanner) (*Purchase, error) {
	var p Purchase
	if err := row.Scan(&p.ID, &p.UserID, &p.PackageID, &p.PurchaseDate, &p.ExpiryDate, &p.TransactionID, &p.SenderNumber, &p.PaymentStatus, &p.Status, &p.ActivatedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanWithdrawal(row scanner) (*Withdrawal, error) {
	var w Withdrawal
	if err := row.Scan(&w.ID, &w.UserID, &w.PaymentMethodID, &w.RequestedAmount, &w.Amount, &w.DeductionPercent, &w.RemainingAmount, &w.AccountNumber, &w.AccountName, &w.Status, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

func scanLedger(row scanner) (*LedgerEntry, error) {
	var e LedgerEntry
	if err := row.Scan(&e.ID, &e.UserID, &e.Kind, &e.Amount, &e.Currency, &e.PurchaseID, &e.WithdrawalID, &e.SourceUserID, &e.Level, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}
