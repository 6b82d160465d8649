// Package models defines shared data types for the application.
package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of an extraction job.
type JobStatus string

// JobStatus constants define the possible states of a job.
// A job starts active and moves to exactly one terminal state.
const (
	JobStatusActive    JobStatus = "active"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCancelled || s == JobStatusCompleted || s == JobStatusFailed
}

// JobType tells which operation created the job.
type JobType string

// JobType constants.
const (
	JobTypeBatchExtraction JobType = "batch_extraction"
	JobTypeDownload        JobType = "download"
)

// ExtractionJob is the persisted record of one run.
type ExtractionJob struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	UserID    int64     `json:"user_id" gorm:"index;not null"`
	JobType   JobType   `json:"job_type" gorm:"not null;default:batch_extraction"`
	Total     int       `json:"total" gorm:"not null"`
	Processed int       `json:"processed" gorm:"not null;default:0"`
	Failed    int       `json:"failed" gorm:"not null;default:0"`
	Status    JobStatus `json:"status" gorm:"index;not null;default:active"`
	Reason    *string   `json:"reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the GORM default.
func (ExtractionJob) TableName() string { return "extraction_jobs" }
