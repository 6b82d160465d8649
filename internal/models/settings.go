package models

import "time"

// Settings is the per-user replication configuration.
// Nil templates mean "keep the original".
type Settings struct {
	UserID          int64   `json:"user_id" gorm:"primaryKey;autoIncrement:false"`
	ChatID          *int64  `json:"chat_id,omitempty"`
	RenameTemplate  *string `json:"rename_template,omitempty"`
	CaptionTemplate *string `json:"caption_template,omitempty"`
	Thumbnail       *string `json:"thumbnail,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the GORM default.
func (Settings) TableName() string { return "user_settings" }

// DefaultSettings returns the settings used when a user never saved any.
func DefaultSettings(userID int64) Settings {
	return Settings{UserID: userID}
}

// Snapshot returns a deep copy, so later edits cannot leak into a running job.
func (s Settings) Snapshot() Settings {
	out := s
	out.ChatID = clonePtr(s.ChatID)
	out.RenameTemplate = clonePtr(s.RenameTemplate)
	out.CaptionTemplate = clonePtr(s.CaptionTemplate)
	out.Thumbnail = clonePtr(s.Thumbnail)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
