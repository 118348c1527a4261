package referral

import (
	"context"
	"log/slog"

	"refcommission/internal/metrics"
	"refcommission/internal/money"
	"refcommission/internal/repo"

	"github.com/shopspring/decimal"
)

// Store is everything the distributor reads and writes.
type Store interface {
	Users
	GetPackageByID(ctx context.Context, id string) (*repo.Package, error)
	CreditCommission(ctx context.Context, entry repo.LedgerEntry) error
	ReverseCommission(ctx context.Context, entry repo.LedgerEntry) error
	ListCommissionEntries(ctx context.Context, purchaseID string) ([]repo.LedgerEntry, error)
}

// Credit is one commission applied to an ancestor.
type Credit struct {
	UserID   string          `json:"userId"`
	Level    int             `json:"level"`
	Amount   decimal.Decimal `json:"amount"`
	Currency money.Currency  `json:"currency"`
}

// Config tunes the distributor.
type Config struct {
	Policy    Policy
	Converter money.Converter
	// MaxDepth caps the walk on top of the policy's own limit; 0 disables the cap.
	MaxDepth int
}

// Distributor credits the referral chain of an activating purchase.
type Distributor struct {
	store   Store
	graph   *Graph
	policy  Policy
	conv    money.Converter
	depth   int
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewDistributor returns a Distributor paying commissions up graph with cfg.Policy.
func NewDistributor(store Store, graph *Graph, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Distributor {
	policy := cfg.Policy
	if policy == nil {
		policy = Cascade{}
	}
	depth := policy.MaxDepth()
	if cfg.MaxDepth > 0 && (depth == 0 || cfg.MaxDepth < depth) {
		depth = cfg.MaxDepth
	}
	return &Distributor{
		store:   store,
		graph:   graph,
		policy:  policy,
		conv:    cfg.Converter,
		depth:   depth,
		metrics: m,
		logger:  logger.With("component", "commission"),
	}
}

// Policy reports the active policy name.
func (d *Distributor) Policy() string { return d.policy.Name() }

// Distribute credits the upline of the purchasing user with the package's commission.
func (d *Distributor) Distribute(ctx context.Context, purchase repo.Purchase) ([]Credit, error) {
	pkg, err := d.store.GetPackageByID(ctx, purchase.PackageID)
	if err != nil {
		return nil, err
	}
	return d.DistributeBase(ctx, purchase.UserID, pkg.CommissionRate, purchase.ID)
}

// DistributeBase walks the chain above activatingUserID and credits each ancestor.
// The base is taken to be in the activating user's currency. Credits already
// persisted stay in place when a later one fails.
func (d *Distributor) DistributeBase(ctx context.Context, activatingUserID string, base decimal.Decimal, purchaseID string) ([]Credit, error) {
	user, err := d.store.GetUserByID(ctx, activatingUserID)
	if err != nil {
		return nil, err
	}
	if !base.IsPositive() {
		return nil, nil
	}

	chain, err := d.graph.Chain(ctx, user, d.depth)
	if err != nil {
		return nil, err
	}

	baseAmount := Amount{Value: base, Currency: user.Currency}
	var (
		credits []Credit
		prev    Amount
	)
	for i, ancestor := range chain {
		level := i + 1
		share, ok := d.policy.Share(level, baseAmount, prev)
		if !ok {
			break
		}
		value, err := d.conv.Convert(share.Value, share.Currency, ancestor.Currency)
		if err != nil {
			return credits, err
		}

		entry := repo.LedgerEntry{
			UserID:       ancestor.ID,
			Kind:         repo.LedgerCommission,
			Amount:       value,
			Currency:     ancestor.Currency,
			SourceUserID: &user.ID,
			Level:        level,
		}
		if purchaseID != "" {
			entry.PurchaseID = &purchaseID
		}
		if err := d.store.CreditCommission(ctx, entry); err != nil {
			d.logger.Error("commission walk aborted", "purchase_id", purchaseID, "level", level, "user_id", ancestor.ID, "credited", len(credits), "error", err)
			d.countError()
			return credits, err
		}

		credits = append(credits, Credit{UserID: ancestor.ID, Level: level, Amount: value, Currency: ancestor.Currency})
		if d.metrics != nil {
			d.metrics.CommissionCredits.WithLabelValues(string(ancestor.Currency), d.policy.Name()).Inc()
		}
		prev = Amount{Value: value, Currency: ancestor.Currency}
	}

	if d.metrics != nil {
		d.metrics.CommissionWalkDepth.Observe(float64(len(credits)))
	}
	d.logger.Info("commission distributed", "purchase_id", purchaseID, "user_id", user.ID, "levels", len(credits), "policy", d.policy.Name())
	return credits, nil
}

// Reverse undoes every commission booked for the purchase.
func (d *Distributor) Reverse(ctx context.Context, purchase repo.Purchase) ([]Credit, error) {
	entries, err := d.store.ListCommissionEntries(ctx, purchase.ID)
	if err != nil {
		return nil, err
	}
	var reversed []Credit
	for _, e := range entries {
		rev := repo.LedgerEntry{
			UserID:       e.UserID,
			Kind:         repo.LedgerCommissionReversal,
			Amount:       e.Amount,
			Currency:     e.Currency,
			PurchaseID:   e.PurchaseID,
			SourceUserID: e.SourceUserID,
			Level:        e.Level,
		}
		if err := d.store.ReverseCommission(ctx, rev); err != nil {
			d.logger.Error("commission reversal aborted", "purchase_id", purchase.ID, "level", e.Level, "error", err)
			d.countError()
			return reversed, err
		}
		reversed = append(reversed, Credit{UserID: e.UserID, Level: e.Level, Amount: e.Amount, Currency: e.Currency})
	}
	d.logger.Info("commission reversed", "purchase_id", purchase.ID, "levels", len(reversed))
	return reversed, nil
}

func (d *Distributor) countError() {
	if d.metrics != nil {
		d.metrics.Errors.WithLabelValues("commission").Inc()
	}
}
