package withdrawal

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"refcommission/internal/apperr"
	"refcommission/internal/cache"
	"refcommission/internal/metrics"
	"refcommission/internal/repo"

	"github.com/shopspring/decimal"
)

// Store is the persistence the withdrawal flow depends on.
type Store interface {
	GetUserByID(ctx context.Context, id string) (*repo.User, error)
	GetWithdrawalAccount(ctx context.Context, id string) (*repo.WithdrawalAccount, error)
	HasActiveReferralSince(ctx context.Context, referralCode string, since time.Time) (bool, error)
	CreateWithdrawal(ctx context.Context, w repo.Withdrawal) (*repo.Withdrawal, error)
	GetWithdrawalByID(ctx context.Context, id string) (*repo.Withdrawal, error)
	LatestWithdrawal(ctx context.Context, userID string) (*repo.Withdrawal, error)
	ListWithdrawalsByUser(ctx context.Context, userID string) ([]repo.Withdrawal, error)
	ListWithdrawals(ctx context.Context) ([]repo.Withdrawal, error)
	UpdateWithdrawalStatus(ctx context.Context, id string, from, to repo.WithdrawalStatus, refund decimal.Decimal) (*repo.Withdrawal, error)
	DeleteWithdrawal(ctx context.Context, id string) error
}

// Notifier is told about accepted withdrawal requests.
type Notifier interface {
	WithdrawalRequested(ctx context.Context, user repo.User, w repo.Withdrawal) error
}

// Deduction is the outcome of the deduction rules for one request.
type Deduction struct {
	Rate          int              `json:"deductionRate"`
	AmountToStore decimal.Decimal  `json:"amountToStore"`
	Prior         *repo.Withdrawal `json:"-"`
}

// RequestInput carries a user's withdrawal request.
type RequestInput struct {
	UserID          string
	PaymentMethodID string
	Amount          decimal.Decimal
	AccountNumber   string
	AccountName     string
}

// StatusResult reports a status change and any refund it caused.
type StatusResult struct {
	Withdrawal repo.Withdrawal `json:"withdrawal"`
	Refund     decimal.Decimal `json:"refundAmount"`
}

// Service runs withdrawal requests and admin reviews.
type Service struct {
	store    Store
	locker   cache.Locker
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithNotifier registers a notifier for new requests.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMetrics enables Prometheus counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService returns a withdrawal service. Requests for one user are serialized through locker.
func NewService(store Store, locker cache.Locker, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		locker: locker,
		logger: logger.With("component", "withdrawal"),
		now:    time.Now,
	}
	if s.locker == nil {
		s.locker = cache.NewLocalLocker()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ComputeDeduction applies the deduction rules to a prospective withdrawal of requested.
func (s *Service) ComputeDeduction(ctx context.Context, userID string, requested decimal.Decimal) (Deduction, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Deduction{}, err
	}
	return s.computeDeduction(ctx, user, requested)
}

func (s *Service) computeDeduction(ctx context.Context, user *repo.User, requested decimal.Decimal) (Deduction, error) {
	prior, err := s.store.LatestWithdrawal(ctx, user.ID)
	if errors.Is(err, apperr.ErrNotFound) {
		prior, err = nil, nil
	}
	if err != nil {
		return Deduction{}, err
	}

	var (
		priorRate *int
		active    bool
	)
	if prior != nil {
		priorRate = &prior.DeductionPercent
		active, err = s.store.HasActiveReferralSince(ctx, user.ReferralCode, prior.CreatedAt)
		if err != nil {
			return Deduction{}, err
		}
	}

	rate := NextRate(priorRate, active)
	return Deduction{
		Rate:          rate,
		AmountToStore: AmountToStore(requested, rate),
		Prior:         prior,
	}, nil
}

// Request validates and records a withdrawal, debiting the full requested amount.
func (s *Service) Request(ctx context.Context, in RequestInput) (*repo.Withdrawal, error) {
	if err := validateRequest(in); err != nil {
		s.count("invalid")
		return nil, err
	}

	user, err := s.store.GetUserByID(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	account, err := s.store.GetWithdrawalAccount(ctx, in.PaymentMethodID)
	if errors.Is(err, apperr.ErrNotFound) {
		s.count("invalid")
		return nil, apperr.Validation("invalid payment method")
	}
	if err != nil {
		return nil, err
	}
	if in.Amount.GreaterThan(user.Earnings) {
		s.count("insufficient")
		return nil, apperr.ErrInsufficientFunds
	}
	if in.Amount.LessThan(account.MinAmount) {
		s.count("invalid")
		return nil, apperr.Validation("minimum withdrawal amount is %s", account.MinAmount.String())
	}

	unlock, err := s.locker.Lock(ctx, "withdrawal:"+user.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ded, err := s.computeDeduction(ctx, user, in.Amount)
	if err != nil {
		return nil, err
	}

	created, err := s.store.CreateWithdrawal(ctx, repo.Withdrawal{
		UserID:           user.ID,
		PaymentMethodID:  account.ID,
		RequestedAmount:  in.Amount,
		Amount:           ded.AmountToStore,
		DeductionPercent: ded.Rate,
		AccountNumber:    strings.TrimSpace(in.AccountNumber),
		AccountName:      strings.TrimSpace(in.AccountName),
		Status:           repo.WithdrawalPending,
		CreatedAt:        s.now(),
	})
	if errors.Is(err, apperr.ErrInsufficientFunds) {
		s.count("insufficient")
		return nil, err
	}
	if err != nil {
		s.countError()
		return nil, err
	}

	s.count("accepted")
	if s.metrics != nil {
		s.metrics.WithdrawalDeduction.Observe(float64(ded.Rate))
	}
	s.logger.Info("withdrawal requested", "withdrawal_id", created.ID, "user_id", user.ID, "requested", in.Amount.String(), "stored", created.Amount.String(), "deduction", ded.Rate)

	if s.notifier != nil {
		if err := s.notifier.WithdrawalRequested(ctx, *user, *created); err != nil {
			s.logger.Warn("withdrawal notification failed", "withdrawal_id", created.ID, "error", err)
		}
	}
	return created, nil
}

func validateRequest(in RequestInput) error {
	switch {
	case strings.TrimSpace(in.UserID) == "":
		return apperr.Validation("user is required")
	case !in.Amount.IsPositive():
		return apperr.Validation("amount is required")
	case strings.TrimSpace(in.PaymentMethodID) == "":
		return apperr.Validation("payment method is required")
	case strings.TrimSpace(in.AccountNumber) == "":
		return apperr.Validation("account number is required")
	case strings.TrimSpace(in.AccountName) == "":
		return apperr.Validation("account name is required")
	}
	return nil
}

// Preview computes the deduction a request of amount would get without recording anything.
func (s *Service) Preview(ctx context.Context, userID string, amount decimal.Decimal) (Deduction, error) {
	if !amount.IsPositive() {
		return Deduction{}, apperr.Validation("amount must be positive")
	}
	return s.ComputeDeduction(ctx, userID, amount)
}

// ParseStatus validates a withdrawal status value.
func ParseStatus(raw string) (repo.WithdrawalStatus, error) {
	switch st := repo.WithdrawalStatus(strings.ToLower(strings.TrimSpace(raw))); st {
	case repo.WithdrawalPending, repo.WithdrawalApproved, repo.WithdrawalRejected, repo.WithdrawalCompleted:
		return st, nil
	default:
		return "", apperr.Validation("invalid withdrawal status %q", raw)
	}
}

// withdrawalMoves lists the review steps out of each open status. Rejected and
// completed withdrawals are final, so a refund is paid at most once.
var withdrawalMoves = map[repo.WithdrawalStatus][]repo.WithdrawalStatus{
	repo.WithdrawalPending:  {repo.WithdrawalApproved, repo.WithdrawalRejected, repo.WithdrawalCompleted},
	repo.WithdrawalApproved: {repo.WithdrawalCompleted},
}

func canMove(from, to repo.WithdrawalStatus) bool {
	for _, st := range withdrawalMoves[from] {
		if st == to {
			return true
		}
	}
	return false
}

// UpdateStatus reviews a withdrawal: pending may be approved, rejected or
// completed, and approved may be completed. Rejection refunds 70% of the stored amount.
func (s *Service) UpdateStatus(ctx context.Context, id, status string) (*StatusResult, error) {
	target, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	current, err := s.store.GetWithdrawalByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == target {
		return &StatusResult{Withdrawal: *current, Refund: decimal.Zero}, nil
	}
	if !canMove(current.Status, target) {
		return nil, apperr.Conflict("withdrawal %s cannot move from %s to %s", id, current.Status, target)
	}

	refund := decimal.Zero
	if target == repo.WithdrawalRejected {
		refund = Refund(current.Amount)
	}
	updated, err := s.store.UpdateWithdrawalStatus(ctx, id, current.Status, target, refund)
	if err != nil {
		return nil, err
	}
	s.count(string(target))
	s.logger.Info("withdrawal status updated", "withdrawal_id", id, "status", target, "refund", refund.String())
	return &StatusResult{Withdrawal: *updated, Refund: refund}, nil
}

// Delete removes a withdrawal record. Balances are left as they are.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteWithdrawal(ctx, id); err != nil {
		return err
	}
	s.logger.Info("withdrawal deleted", "withdrawal_id", id)
	return nil
}

// Get returns a withdrawal by id.
func (s *Service) Get(ctx context.Context, id string) (*repo.Withdrawal, error) {
	return s.store.GetWithdrawalByID(ctx, id)
}

// Latest returns the user's most recent withdrawal.
func (s *Service) Latest(ctx context.Context, userID string) (*repo.Withdrawal, error) {
	return s.store.LatestWithdrawal(ctx, userID)
}

// ListForUser returns a user's withdrawal history.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]repo.Withdrawal, error) {
	return s.store.ListWithdrawalsByUser(ctx, userID)
}

// ListAll returns every withdrawal for admin review.
func (s *Service) ListAll(ctx context.Context) ([]repo.Withdrawal, error) {
	return s.store.ListWithdrawals(ctx)
}

// LatestDeductionPercent returns the rate of the user's latest withdrawal, or nil if none exists.
func (s *Service) LatestDeductionPercent(ctx context.Context, userID string) (*int, error) {
	w, err := s.store.LatestWithdrawal(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rate := w.DeductionPercent
	return &rate, nil
}

func (s *Service) count(status string) {
	if s.metrics != nil {
		s.metrics.WithdrawalRequests.WithLabelValues(status).Inc()
	}
}

func (s *Service) countError() {
	if s.metrics != nil {
		s.metrics.Errors.WithLabelValues("withdrawal").Inc()
	}
}
