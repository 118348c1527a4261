// Package referral walks the referral chain and distributes commissions to it.
package referral

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"refcommission/internal/apperr"
	"refcommission/internal/repo"
)

// Users is the slice of the user store the graph needs.
type Users interface {
	GetUserByID(ctx context.Context, id string) (*repo.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*repo.User, error)
	SetReferredBy(ctx context.Context, userID, referralCode string) error
}

// Graph resolves uplines through referredBy → referralCode links.
type Graph struct {
	users  Users
	logger *slog.Logger
}

// NewGraph returns a Graph that resolves referral links through users.
func NewGraph(users Users, logger *slog.Logger) *Graph {
	return &Graph{users: users, logger: logger.With("component", "referral_graph")}
}

// Referrer returns the direct upline of user, or nil when there is none
// or the stored code no longer resolves.
func (g *Graph) Referrer(ctx context.Context, user *repo.User) (*repo.User, error) {
	if user == nil || user.ReferredBy == nil || strings.TrimSpace(*user.ReferredBy) == "" {
		return nil, nil
	}
	referrer, err := g.users.GetUserByReferralCode(ctx, *user.ReferredBy)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return referrer, nil
}

// Chain returns the ancestors of user ordered from the direct referrer upward.
// maxDepth <= 0 means no limit. A user seen twice ends the walk.
func (g *Graph) Chain(ctx context.Context, user *repo.User, maxDepth int) ([]repo.User, error) {
	visited := map[string]bool{user.ID: true}
	var chain []repo.User

	current := user
	for maxDepth <= 0 || len(chain) < maxDepth {
		next, err := g.Referrer(ctx, current)
		if err != nil {
			return chain, err
		}
		if next == nil {
			break
		}
		if visited[next.ID] {
			g.logger.Warn("referral cycle detected", "user_id", user.ID, "repeated_user_id", next.ID, "depth", len(chain))
			break
		}
		visited[next.ID] = true
		chain = append(chain, *next)
		current = next
	}
	return chain, nil
}

// AssignReferrer links a user without an upline to the owner of code.
// Links that would close a loop are refused.
func (g *Graph) AssignReferrer(ctx context.Context, userID, code string) (*repo.User, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperr.Validation("referral code is required")
	}
	user, err := g.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.ReferredBy != nil {
		return nil, apperr.Conflict("user %s already has a referrer", userID)
	}
	referrer, err := g.users.GetUserByReferralCode(ctx, code)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Validation("referral code %q does not exist", code)
	}
	if err != nil {
		return nil, err
	}
	if referrer.ID == user.ID {
		return nil, apperr.ErrReferralCycle
	}

	ancestors, err := g.Chain(ctx, referrer, 0)
	if err != nil {
		return nil, err
	}
	for _, a := range ancestors {
		if a.ID == user.ID {
			return nil, apperr.ErrReferralCycle
		}
	}

	if err := g.users.SetReferredBy(ctx, user.ID, referrer.ReferralCode); err != nil {
		return nil, err
	}
	user.ReferredBy = &referrer.ReferralCode
	g.logger.Info("referrer assigned", "user_id", user.ID, "referrer_id", referrer.ID)
	return user, nil
}
