package models

import "time"

// User is a bot user with tier and lifetime counters.
type User struct {
	UserID       int64      `json:"user_id"`
	IsPremium    bool       `json:"is_premium"`
	PremiumUntil *time.Time `json:"premium_until,omitempty"`
	Extractions  int64      `json:"extractions"`
	Downloads    int64      `json:"downloads"`
	CreatedAt    time.Time  `json:"created_at"`
}
