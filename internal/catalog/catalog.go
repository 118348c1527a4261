// Package catalog manages subscription packages and payout methods.
package catalog

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"refcommission/internal/apperr"
	"refcommission/internal/money"
	"refcommission/internal/repo"

	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
)

const packageCacheTTL = 10 * time.Minute

// Store is the catalog persistence.
type Store interface {
	InsertPackage(ctx context.Context, pkg repo.Package) (*repo.Package, error)
	GetPackageByID(ctx context.Context, id string) (*repo.Package, error)
	GetPackageBySlug(ctx context.Context, slug string) (*repo.Package, error)
	ListPackages(ctx context.Context, currency money.Currency) ([]repo.Package, error)
	InsertWithdrawalAccount(ctx context.Context, account repo.WithdrawalAccount) (*repo.WithdrawalAccount, error)
	GetWithdrawalAccount(ctx context.Context, id string) (*repo.WithdrawalAccount, error)
	ListWithdrawalAccounts(ctx context.Context) ([]repo.WithdrawalAccount, error)
}

// Cache is a JSON key/value cache such as cache.Redis.
type Cache interface {
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
}

// Service exposes catalog reads and admin writes.
type Service struct {
	store  Store
	cache  Cache
	logger *slog.Logger
}

// NewService builds the catalog service. cache may be nil.
func NewService(store Store, cache Cache, logger *slog.Logger) *Service {
	return &Service{store: store, cache: cache, logger: logger.With("component", "catalog")}
}

// PackageInput carries the fields of a new package.
type PackageInput struct {
	Name           string
	Description    string
	Price          decimal.Decimal
	Discount       decimal.Decimal
	DurationDays   int
	EarningRate    decimal.Decimal
	NumOfAds       int
	CommissionRate decimal.Decimal
	Currency       string
	Inactive       bool
}

// CreatePackage validates and stores a package. The stored price is price minus discount.
func (s *Service) CreatePackage(ctx context.Context, in PackageInput) (*repo.Package, error) {
	name := strings.TrimSpace(in.Name)
	switch {
	case name == "":
		return nil, apperr.Validation("name is required")
	case strings.TrimSpace(in.Description) == "":
		return nil, apperr.Validation("description is required")
	case !in.Price.IsPositive():
		return nil, apperr.Validation("price is required")
	case in.DurationDays <= 0:
		return nil, apperr.Validation("duration is required")
	case in.EarningRate.IsNegative():
		return nil, apperr.Validation("earning rate must not be negative")
	case in.CommissionRate.IsNegative():
		return nil, apperr.Validation("commission rate must not be negative")
	case in.Discount.IsNegative():
		return nil, apperr.Validation("discount must not be negative")
	case strings.TrimSpace(in.Currency) == "":
		return nil, apperr.Validation("currency is required")
	}
	currency, err := money.ParseCurrency(in.Currency)
	if err != nil {
		return nil, err
	}

	remaining := in.Price.Sub(in.Discount)
	if !remaining.IsPositive() {
		return nil, apperr.Validation("price after discount must be greater than 0")
	}

	pkgSlug := slug.Make(name)
	if pkgSlug == "" {
		return nil, apperr.Validation("name must contain letters or digits")
	}
	if _, err := s.store.GetPackageBySlug(ctx, pkgSlug); err == nil {
		return nil, apperr.Conflict("package %q already exists", pkgSlug)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	pkg, err := s.store.InsertPackage(ctx, repo.Package{
		Name:           name,
		Description:    strings.TrimSpace(in.Description),
		Slug:           pkgSlug,
		Price:          remaining,
		Discount:       in.Discount,
		DurationDays:   in.DurationDays,
		EarningRate:    in.EarningRate,
		NumOfAds:       in.NumOfAds,
		CommissionRate: in.CommissionRate,
		Currency:       currency,
		IsActive:       !in.Inactive,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("package created", "package_id", pkg.ID, "slug", pkg.Slug, "currency", pkg.Currency)
	return pkg, nil
}

// PackageBySlug reads through the cache when one is configured.
func (s *Service) PackageBySlug(ctx context.Context, pkgSlug string) (*repo.Package, error) {
	pkgSlug = strings.TrimSpace(pkgSlug)
	if pkgSlug == "" {
		return nil, apperr.Validation("slug is required")
	}
	key := "package:slug:" + pkgSlug
	if s.cache != nil {
		var cached repo.Package
		ok, err := s.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			s.logger.Warn("package cache read failed", "slug", pkgSlug, "error", err)
		} else if ok {
			return &cached, nil
		}
	}

	pkg, err := s.store.GetPackageBySlug(ctx, pkgSlug)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, pkg, packageCacheTTL); err != nil {
			s.logger.Warn("package cache write failed", "slug", pkgSlug, "error", err)
		}
	}
	return pkg, nil
}

// PackageByID returns a package by id.
func (s *Service) PackageByID(ctx context.Context, id string) (*repo.Package, error) {
	return s.store.GetPackageByID(ctx, id)
}

// ListPackages returns active packages; an empty currency lists all of them.
func (s *Service) ListPackages(ctx context.Context, currency string) ([]repo.Package, error) {
	var c money.Currency
	if strings.TrimSpace(currency) != "" {
		parsed, err := money.ParseCurrency(currency)
		if err != nil {
			return nil, err
		}
		c = parsed
	}
	return s.store.ListPackages(ctx, c)
}

// PackagesByCurrency groups active packages by their currency.
func (s *Service) PackagesByCurrency(ctx context.Context) (map[money.Currency][]repo.Package, error) {
	pkgs, err := s.store.ListPackages(ctx, "")
	if err != nil {
		return nil, err
	}
	grouped := map[money.Currency][]repo.Package{money.USD: {}, money.PKR: {}}
	for _, p := range pkgs {
		grouped[p.Currency] = append(grouped[p.Currency], p)
	}
	return grouped, nil
}

// CreateWithdrawalAccount registers a payout method with its minimum amount.
func (s *Service) CreateWithdrawalAccount(ctx context.Context, method string, minAmount decimal.Decimal) (*repo.WithdrawalAccount, error) {
	method = strings.TrimSpace(method)
	if method == "" {
		return nil, apperr.Validation("method is required")
	}
	if minAmount.IsNegative() {
		return nil, apperr.Validation("minimum amount must not be negative")
	}
	account, err := s.store.InsertWithdrawalAccount(ctx, repo.WithdrawalAccount{Method: method, MinAmount: minAmount})
	if err != nil {
		return nil, err
	}
	s.logger.Info("withdrawal account created", "account_id", account.ID, "method", account.Method)
	return account, nil
}

// WithdrawalAccount returns a payout account by id.
func (s *Service) WithdrawalAccount(ctx context.Context, id string) (*repo.WithdrawalAccount, error) {
	return s.store.GetWithdrawalAccount(ctx, id)
}

// ListWithdrawalAccounts returns every configured payout account.
func (s *Service) ListWithdrawalAccounts(ctx context.Context) ([]repo.WithdrawalAccount, error) {
	return s.store.ListWithdrawalAccounts(ctx)
}
