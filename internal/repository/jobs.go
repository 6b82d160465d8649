package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/blockedby/tg-extractor/internal/models"
)

// JobsRepository handles extraction_jobs table operations.
type JobsRepository struct {
	db *gorm.DB
}

// NewJobsRepository creates a new jobs repository.
func NewJobsRepository(db *gorm.DB) *JobsRepository {
	return &JobsRepository{db: db}
}

// Create records a new active job.
func (r *JobsRepository) Create(ctx context.Context, userID int64, jobType models.JobType, total int) (*models.ExtractionJob, error) {
	j := &models.ExtractionJob{
		ID:      uuid.New(),
		UserID:  userID,
		JobType: jobType,
		Total:   total,
		Status:  models.JobStatusActive,
	}
	if err := r.db.WithContext(ctx).Create(j).Error; err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return j, nil
}

// UpdateProgress overwrites the counters of an active job. Last write wins.
func (r *JobsRepository) UpdateProgress(ctx context.Context, id uuid.UUID, processed, failed int) error {
	err := r.db.WithContext(ctx).
		Model(&models.ExtractionJob{}).
		Where("id = ? AND status = ?", id, models.JobStatusActive).
		Updates(map[string]any{"processed": processed, "failed": failed}).Error
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

// Cancel marks an active job cancelled. Terminal jobs are left untouched.
func (r *JobsRepository) Cancel(ctx context.Context, id uuid.UUID) error {
	return r.Finish(ctx, id, models.JobStatusCancelled, nil)
}

// Finish moves an active job to a terminal status. It is a no-op for jobs
// that are already terminal, so status never moves backward.
func (r *JobsRepository) Finish(ctx context.Context, id uuid.UUID, status models.JobStatus, reason *string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("finish job: %q is not a terminal status", status)
	}
	updates := map[string]any{"status": status}
	if reason != nil {
		updates["reason"] = *reason
	}
	err := r.db.WithContext(ctx).
		Model(&models.ExtractionJob{}).
		Where("id = ? AND status = ?", id, models.JobStatusActive).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return nil
}

// GetByID returns a job, or nil when it does not exist.
func (r *JobsRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ExtractionJob, error) {
	var j models.ExtractionJob
	err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job by id: %w", err)
	}
	return &j, nil
}

// GetActive returns the newest active job of the user, or nil.
func (r *JobsRepository) GetActive(ctx context.Context, userID int64) (*models.ExtractionJob, error) {
	var j models.ExtractionJob
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.JobStatusActive).
		Order("created_at DESC").
		First(&j).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active job: %w", err)
	}
	return &j, nil
}

// ListByUser returns the latest jobs of a user, newest first.
func (r *JobsRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]models.ExtractionJob, error) {
	if limit <= 0 {
		limit = 20
	}
	var jobs []models.ExtractionJob
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// FailStale marks every active job failed with reason. Used at startup, when
// no run of a previous process can still be alive.
func (r *JobsRepository) FailStale(ctx context.Context, reason string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ExtractionJob{}).
		Where("status = ?", models.JobStatusActive).
		Updates(map[string]any{"status": models.JobStatusFailed, "reason": reason})
	if res.Error != nil {
		return 0, fmt.Errorf("fail stale jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}
