// Package purchase drives package purchases through their status lifecycle.
package purchase

import (
	"strings"

	"refcommission/internal/apperr"
	"refcommission/internal/repo"
)

// rank orders the forward path; statuses off the path have no rank.
var rank = map[repo.PackageStatus]int{
	repo.StatusPending:    0,
	repo.StatusProcessing: 1,
	repo.StatusActive:     2,
	repo.StatusCompleted:  3,
}

// ParseStatus accepts the exact wire values, case-insensitively.
func ParseStatus(raw string) (repo.PackageStatus, error) {
	trimmed := strings.TrimSpace(raw)
	for _, s := range []repo.PackageStatus{
		repo.StatusPending,
		repo.StatusProcessing,
		repo.StatusActive,
		repo.StatusCompleted,
		repo.StatusCancel,
		repo.StatusExpired,
	} {
		if strings.EqualFold(trimmed, string(s)) {
			return s, nil
		}
	}
	return "", apperr.Validation("invalid package status %q", raw)
}

// IsTerminal reports whether a purchase in status can no longer move on its own.
func IsTerminal(status repo.PackageStatus) bool {
	switch status {
	case repo.StatusCompleted, repo.StatusCancel, repo.StatusExpired:
		return true
	}
	return false
}

// checkMove validates a requested move that is not forced by expiry.
func checkMove(from, to repo.PackageStatus) error {
	if IsTerminal(from) {
		return apperr.Conflict("purchase is already %s", from)
	}
	fr, okFrom := rank[from]
	tr, okTo := rank[to]
	if okFrom && okTo && tr < fr {
		return apperr.Conflict("cannot move purchase from %s back to %s", from, to)
	}
	return nil
}
