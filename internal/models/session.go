package models

import "time"

// Session is a stored telegram login of one user.
type Session struct {
	UserID        int64  `gorm:"primaryKey;autoIncrement:false"`
	SessionString string `gorm:"not null"`
	Format        string `gorm:"not null;default:gotgproto"` // gotgproto, pyrogram, telethon

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName overrides the GORM default.
func (Session) TableName() string { return "user_sessions" }
