package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Stats contains aggregated usage statistics.
type Stats struct {
	TotalUsers       int   `json:"total_users"`
	PremiumUsers     int   `json:"premium_users"`
	FreeUsers        int   `json:"free_users"`
	TotalExtractions int64 `json:"total_extractions"`
	TotalDownloads   int64 `json:"total_downloads"`
	ActiveJobs       int   `json:"active_jobs"`
}

// StatsRepository provides access to statistics data in the database.
type StatsRepository struct {
	pool *pgxpool.Pool
}

// NewStatsRepository creates a new StatsRepository.
func NewStatsRepository(pool *pgxpool.Pool) *StatsRepository {
	return &StatsRepository{pool: pool}
}

// GetStats retrieves aggregated statistics.
func (r *StatsRepository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(CASE WHEN is_premium AND (premium_until IS NULL OR premium_until > NOW()) THEN 1 END) AS premium,
			COALESCE(SUM(extractions), 0) AS extractions,
			COALESCE(SUM(downloads), 0) AS downloads
		FROM users
	`).Scan(&stats.TotalUsers, &stats.PremiumUsers, &stats.TotalExtractions, &stats.TotalDownloads)
	if err != nil {
		return nil, fmt.Errorf("get user stats: %w", err)
	}
	stats.FreeUsers = stats.TotalUsers - stats.PremiumUsers

	err = r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM extraction_jobs WHERE status = 'active'
	`).Scan(&stats.ActiveJobs)
	if err != nil {
		return nil, fmt.Errorf("get job stats: %w", err)
	}

	return stats, nil
}
