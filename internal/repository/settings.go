package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/blockedby/tg-extractor/internal/models"
)

// SettingsRepository stores per-user replication settings.
type SettingsRepository struct {
	db *gorm.DB
}

// NewSettingsRepository creates a new settings repository.
func NewSettingsRepository(db *gorm.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get returns the user's settings, or defaults when none are stored.
func (r *SettingsRepository) Get(ctx context.Context, userID int64) (models.Settings, error) {
	var s models.Settings
	err := r.db.WithContext(ctx).First(&s, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.DefaultSettings(userID), nil
	}
	if err != nil {
		return models.Settings{}, fmt.Errorf("get settings: %w", err)
	}
	return s, nil
}

// Save inserts or replaces the user's settings.
func (r *SettingsRepository) Save(ctx context.Context, s models.Settings) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(&s).Error
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
