package extractor

import (
	"context"
)

// PremiumChecker reports whether a user currently has premium.
type PremiumChecker interface {
	IsPremium(ctx context.Context, userID int64) (bool, error)
}

// Limits resolves the largest batch a user may start.
type Limits struct {
	free    int
	premium int
	users   PremiumChecker
}

// NewLimits creates a resolver with per-tier batch limits.
func NewLimits(free, premium int, users PremiumChecker) *Limits {
	return &Limits{free: free, premium: premium, users: users}
}

// MaxBatchFor returns the batch limit of a tier.
func (l *Limits) MaxBatchFor(_ int64, isPremium bool) int {
	if isPremium {
		return l.premium
	}
	return l.free
}

// Resolve looks the user's tier up and returns its limit. A lookup failure
// falls back to the free tier together with the error.
func (l *Limits) Resolve(ctx context.Context, userID int64) (int, error) {
	if l.users == nil {
		return l.free, nil
	}
	premium, err := l.users.IsPremium(ctx, userID)
	if err != nil {
		return l.free, err
	}
	return l.MaxBatchFor(userID, premium), nil
}
