package purchase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"refcommission/internal/apperr"
	"refcommission/internal/metrics"
	"refcommission/internal/referral"
	"refcommission/internal/repo"
)

// Store is the persistence used by the manager.
type Store interface {
	GetUserByID(ctx context.Context, id string) (*repo.User, error)
	CreatePurchase(ctx context.Context, purchase repo.Purchase) (*repo.Purchase, error)
	GetPurchaseByID(ctx context.Context, id string) (*repo.Purchase, error)
	UpdatePurchaseStatus(ctx context.Context, id string, from, to repo.PackageStatus, activatedAt *time.Time) (*repo.Purchase, error)
	ListPurchasesByUser(ctx context.Context, userID string) ([]repo.Purchase, error)
	ListPurchases(ctx context.Context) ([]repo.Purchase, error)
	ExpireDuePurchases(ctx context.Context, now time.Time) (int64, error)
}

// Packages resolves catalog entries by slug.
type Packages interface {
	PackageBySlug(ctx context.Context, slug string) (*repo.Package, error)
}

// Commissions credits and reverses referral commissions for a purchase.
type Commissions interface {
	Distribute(ctx context.Context, purchase repo.Purchase) ([]referral.Credit, error)
	Reverse(ctx context.Context, purchase repo.Purchase) ([]referral.Credit, error)
}

// Notifier is told about new purchases awaiting review.
type Notifier interface {
	PurchaseCreated(ctx context.Context, user repo.User, pkg repo.Package, p repo.Purchase) error
}

// Config toggles optional lifecycle behaviour.
type Config struct {
	ReverseOnCancel bool
}

// Manager owns purchase creation and status transitions.
type Manager struct {
	store       Store
	packages    Packages
	commissions Commissions
	notifier    Notifier
	cfg         Config
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// Option customises a Manager.
type Option func(*Manager)

// WithNotifier sends an admin alert for each new purchase.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithMetrics records purchase counters on mt.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager wires the purchase lifecycle to its store, catalog and commission distributor.
func NewManager(store Store, packages Packages, commissions Commissions, cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		packages:    packages,
		commissions: commissions,
		cfg:         cfg,
		logger:      logger.With("component", "purchase"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PurchaseInput is a user's request to buy a package.
type PurchaseInput struct {
	UserID        string
	Slug          string
	TransactionID string
	SenderNumber  string
}

// Purchase records a pending purchase and expires the user's open ones.
func (m *Manager) Purchase(ctx context.Context, in PurchaseInput) (*repo.Purchase, error) {
	in.Slug = strings.TrimSpace(in.Slug)
	in.TransactionID = strings.TrimSpace(in.TransactionID)
	in.SenderNumber = strings.TrimSpace(in.SenderNumber)
	switch {
	case strings.TrimSpace(in.UserID) == "":
		return nil, apperr.Validation("user is required")
	case in.Slug == "":
		return nil, apperr.Validation("package is required")
	case in.TransactionID == "":
		return nil, apperr.Validation("transaction id is required")
	case in.SenderNumber == "":
		return nil, apperr.Validation("sender number is required")
	}

	user, err := m.store.GetUserByID(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	pkg, err := m.packages.PackageBySlug(ctx, in.Slug)
	if err != nil {
		return nil, err
	}
	if !pkg.IsActive {
		return nil, apperr.Validation("package %s is not available", pkg.Slug)
	}

	now := m.now().UTC()
	created, err := m.store.CreatePurchase(ctx, repo.Purchase{
		UserID:        user.ID,
		PackageID:     pkg.ID,
		PurchaseDate:  now,
		ExpiryDate:    now.AddDate(0, 0, pkg.DurationDays),
		TransactionID: in.TransactionID,
		SenderNumber:  in.SenderNumber,
		PaymentStatus: "pending",
		Status:        repo.StatusPending,
		CreatedAt:     now,
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("purchase created", "purchase_id", created.ID, "user_id", user.ID, "package", pkg.Slug)

	if m.notifier != nil {
		if err := m.notifier.PurchaseCreated(ctx, *user, *pkg, *created); err != nil {
			m.logger.Warn("purchase notification failed", "purchase_id", created.ID, "error", err)
		}
	}
	return created, nil
}

// TransitionResult describes what a status update did.
type TransitionResult struct {
	Purchase repo.Purchase      `json:"purchase"`
	Previous repo.PackageStatus `json:"previousStatus"`
	Changed  bool               `json:"changed"`
	Expired  bool               `json:"expired"`
	Credits  []referral.Credit  `json:"credits,omitempty"`
	Reversed []referral.Credit  `json:"reversed,omitempty"`
}

// Transition moves a purchase toward target. A purchase past its expiry date
// becomes Expired whatever the target.
func (m *Manager) Transition(ctx context.Context, purchaseID, target string) (*TransitionResult, error) {
	to, err := ParseStatus(target)
	if err != nil {
		return nil, err
	}
	current, err := m.store.GetPurchaseByID(ctx, purchaseID)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	forced := !current.ExpiryDate.After(now) && current.Status != repo.StatusExpired
	if forced {
		to = repo.StatusExpired
	}

	res := &TransitionResult{Previous: current.Status, Expired: forced}
	if to == current.Status {
		res.Purchase = *current
		return res, nil
	}
	if !forced {
		if err := checkMove(current.Status, to); err != nil {
			return nil, err
		}
	}

	var activatedAt *time.Time
	if to == repo.StatusActive {
		activatedAt = &now
	}
	updated, err := m.store.UpdatePurchaseStatus(ctx, current.ID, current.Status, to, activatedAt)
	if err != nil {
		return nil, err
	}
	res.Purchase = *updated
	res.Changed = true
	if m.metrics != nil {
		m.metrics.PurchaseTransitions.WithLabelValues(string(current.Status), string(to)).Inc()
	}
	m.logger.Info("purchase status updated", "purchase_id", current.ID, "from", current.Status, "to", to, "forced_expiry", forced)

	switch {
	case to == repo.StatusActive && current.Status != repo.StatusActive:
		credits, err := m.commissions.Distribute(ctx, *updated)
		res.Credits = credits
		if err != nil {
			return nil, fmt.Errorf("distribute commission for purchase %s: %w", current.ID, err)
		}
	case current.Status == repo.StatusActive && to == repo.StatusCancel && m.cfg.ReverseOnCancel:
		reversed, err := m.commissions.Reverse(ctx, *updated)
		res.Reversed = reversed
		if err != nil {
			return nil, fmt.Errorf("reverse commission for purchase %s: %w", current.ID, err)
		}
	}
	return res, nil
}

// Get returns a purchase by id.
func (m *Manager) Get(ctx context.Context, id string) (*repo.Purchase, error) {
	return m.store.GetPurchaseByID(ctx, id)
}

// Latest returns the user's most recent purchase by purchase date.
func (m *Manager) Latest(ctx context.Context, userID string) (*repo.Purchase, error) {
	list, err := m.store.ListPurchasesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, apperr.NotFound("membership")
	}
	return &list[0], nil
}

// ListForUser returns the purchases made by userID.
func (m *Manager) ListForUser(ctx context.Context, userID string) ([]repo.Purchase, error) {
	return m.store.ListPurchasesByUser(ctx, userID)
}

// ListAll returns every purchase for the admin view.
func (m *Manager) ListAll(ctx context.Context) ([]repo.Purchase, error) {
	return m.store.ListPurchases(ctx)
}

// ExpireDue marks every purchase past its expiry date as Expired.
func (m *Manager) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	n, err := m.store.ExpireDuePurchases(ctx, now)
	if err != nil {
		if m.metrics != nil {
			m.metrics.Errors.WithLabelValues("purchase").Inc()
		}
		return 0, err
	}
	if n > 0 {
		if m.metrics != nil {
			m.metrics.PurchasesExpired.Add(float64(n))
		}
		m.logger.Info("expired due purchases", "count", n)
	}
	return n, nil
}
