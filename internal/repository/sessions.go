package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/blockedby/tg-extractor/internal/models"
	"github.com/blockedby/tg-extractor/internal/telegram"
)

// SessionsRepository stores telegram login sessions.
type SessionsRepository struct {
	db *gorm.DB
}

// NewSessionsRepository creates a new sessions repository.
func NewSessionsRepository(db *gorm.DB) *SessionsRepository {
	return &SessionsRepository{db: db}
}

// Save inserts or replaces the session of a user.
func (r *SessionsRepository) Save(ctx context.Context, userID int64, session, format string) error {
	if format == "" {
		format = telegram.FormatGotgproto
	}
	s := models.Session{UserID: userID, SessionString: session, Format: format}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"session_string", "format", "updated_at"}),
	}).Create(&s).Error
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetCredential returns the stored credential, or nil when the user has none.
func (r *SessionsRepository) GetCredential(ctx context.Context, userID int64) (*telegram.Credential, error) {
	var s models.Session
	err := r.db.WithContext(ctx).First(&s, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &telegram.Credential{UserID: s.UserID, Session: s.SessionString, Format: s.Format}, nil
}

// DeleteCredential removes the stored session.
func (r *SessionsRepository) DeleteCredential(ctx context.Context, userID int64) error {
	if err := r.db.WithContext(ctx).Delete(&models.Session{}, "user_id = ?", userID).Error; err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
