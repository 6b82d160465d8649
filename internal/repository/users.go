package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blockedby/tg-extractor/internal/models"
)

// Stat names a lifetime counter column of the users table.
type Stat string

// Stat constants.
const (
	StatExtractions Stat = "extractions"
	StatDownloads   Stat = "downloads"
)

func (s Stat) valid() bool {
	return s == StatExtractions || s == StatDownloads
}

// UsersRepository handles users table operations.
type UsersRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewUsersRepository creates a new users repository.
func NewUsersRepository(pool *pgxpool.Pool) *UsersRepository {
	return &UsersRepository{pool: pool, now: time.Now}
}

// Ensure creates the user row if missing.
func (r *UsersRepository) Ensure(ctx context.Context, userID int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}

// Get returns a user, or nil when unknown.
func (r *UsersRepository) Get(ctx context.Context, userID int64) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, is_premium, premium_until, extractions, downloads, created_at
		FROM users
		WHERE user_id = $1
	`, userID).Scan(&u.UserID, &u.IsPremium, &u.PremiumUntil, &u.Extractions, &u.Downloads, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// IsPremium reports the user's tier. An expired premium is revoked on read.
func (r *UsersRepository) IsPremium(ctx context.Context, userID int64) (bool, error) {
	u, err := r.Get(ctx, userID)
	if err != nil || u == nil || !u.IsPremium {
		return false, err
	}
	if u.PremiumUntil == nil || u.PremiumUntil.After(r.now()) {
		return true, nil
	}

	if _, err := r.pool.Exec(ctx, `
		UPDATE users SET is_premium = FALSE, premium_until = NULL
		WHERE user_id = $1
	`, userID); err != nil {
		return false, fmt.Errorf("revoke premium: %w", err)
	}
	return false, nil
}

// SetPremium grants premium until the given time.
func (r *UsersRepository) SetPremium(ctx context.Context, userID int64, until time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (user_id, is_premium, premium_until) VALUES ($1, TRUE, $2)
		ON CONFLICT (user_id) DO UPDATE SET is_premium = TRUE, premium_until = EXCLUDED.premium_until
	`, userID, until)
	if err != nil {
		return fmt.Errorf("set premium: %w", err)
	}
	return nil
}

// IncrementStat adds one to a lifetime counter, creating the user if needed.
func (r *UsersRepository) IncrementStat(ctx context.Context, userID int64, stat Stat) error {
	if !stat.valid() {
		return fmt.Errorf("increment stat: unknown counter %q", stat)
	}
	// column name comes from the whitelist above
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (user_id, `+string(stat)+`) VALUES ($1, 1)
		ON CONFLICT (user_id) DO UPDATE SET `+string(stat)+` = users.`+string(stat)+` + 1
	`, userID)
	if err != nil {
		return fmt.Errorf("increment %s: %w", stat, err)
	}
	return nil
}
