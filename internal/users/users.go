// Package users manages user profiles and referral reporting.
package users

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"refcommission/internal/apperr"
	"refcommission/internal/money"
	"refcommission/internal/repo"

	"github.com/google/uuid"
)

const codeAttempts = 5

// Store is the persistence the service reads.
type Store interface {
	CreateUser(ctx context.Context, user repo.User) (*repo.User, error)
	GetUserByID(ctx context.Context, id string) (*repo.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*repo.User, error)
	ListReferredUsers(ctx context.Context, referralCode string) ([]repo.User, error)
	ListPurchasesByUser(ctx context.Context, userID string) ([]repo.Purchase, error)
	GetPackageByID(ctx context.Context, id string) (*repo.Package, error)
	ListLedgerEntries(ctx context.Context, userID string) ([]repo.LedgerEntry, error)
}

type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService returns a user service backed by store.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger.With("component", "users")}
}

// CreateUser registers a user with a fresh referral code. referredBy, when set,
// must be an existing referral code.
func (s *Service) CreateUser(ctx context.Context, currency, referredBy string) (*repo.User, error) {
	c, err := money.ParseCurrency(currency)
	if err != nil {
		return nil, err
	}

	var upline *string
	if code := strings.TrimSpace(referredBy); code != "" {
		ref, err := s.store.GetUserByReferralCode(ctx, code)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.Validation("referral code %q does not exist", code)
		}
		if err != nil {
			return nil, err
		}
		upline = &ref.ReferralCode
	}

	for attempt := 0; attempt < codeAttempts; attempt++ {
		user, err := s.store.CreateUser(ctx, repo.User{
			ReferralCode: newReferralCode(),
			ReferredBy:   upline,
			Currency:     c,
		})
		if errors.Is(err, apperr.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		s.logger.Info("user created", "user_id", user.ID, "referral_code", user.ReferralCode)
		return user, nil
	}
	return nil, apperr.Conflict("could not allocate a unique referral code")
}

func newReferralCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// User returns the user with the given id.
func (s *Service) User(ctx context.Context, id string) (*repo.User, error) {
	return s.store.GetUserByID(ctx, id)
}

// Referral summarises a referred user and their latest purchase.
type Referral struct {
	UserID        string              `json:"userId"`
	ReferralCode  string              `json:"referralCode"`
	JoinedAt      time.Time           `json:"joinedAt"`
	PackageName   *string             `json:"packageName"`
	PackageStatus *repo.PackageStatus `json:"packageStatus"`
}

// Referrals lists every user referred by id with their latest purchase.
func (s *Service) Referrals(ctx context.Context, id string) ([]Referral, error) {
	return s.referrals(ctx, id, false)
}

// ActiveReferrals lists referred users that hold an Active purchase.
func (s *Service) ActiveReferrals(ctx context.Context, id string) ([]Referral, error) {
	return s.referrals(ctx, id, true)
}

func (s *Service) referrals(ctx context.Context, id string, activeOnly bool) ([]Referral, error) {
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	referred, err := s.store.ListReferredUsers(ctx, user.ReferralCode)
	if err != nil {
		return nil, err
	}

	out := make([]Referral, 0, len(referred))
	for _, r := range referred {
		purchases, err := s.store.ListPurchasesByUser(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		var shown *repo.Purchase
		for i := range purchases {
			if !activeOnly || purchases[i].Status == repo.StatusActive {
				shown = &purchases[i]
				break
			}
		}
		if activeOnly && shown == nil {
			continue
		}

		item := Referral{
			UserID:       r.ID,
			ReferralCode: r.ReferralCode,
			JoinedAt:     r.CreatedAt,
		}
		if shown != nil {
			status := shown.Status
			item.PackageStatus = &status
			pkg, err := s.store.GetPackageByID(ctx, shown.PackageID)
			switch {
			case err == nil:
				item.PackageName = &pkg.Name
			case !errors.Is(err, apperr.ErrNotFound):
				return nil, err
			}
		}
		out = append(out, item)
	}
	return out, nil
}

// Ledger returns the user's balance movements, newest first.
func (s *Service) Ledger(ctx context.Context, id string) ([]repo.LedgerEntry, error) {
	if _, err := s.store.GetUserByID(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListLedgerEntries(ctx, id)
}
