package extractor

import (
	"errors"
	"fmt"
	"time"

	"github.com/blockedby/tg-extractor/internal/telegram"
)

// validation errors
var (
	ErrUserRequired    = errors.New("user_id is required")
	ErrSourceRequired  = errors.New("either link or chat is required")
	ErrStartRequired   = errors.New("start_message_id must be positive")
	ErrCountOutOfRange = errors.New("count is out of range for your tier")
	ErrLinkRequired    = errors.New("link is required")
	ErrSessionRequired = errors.New("session is required")
	ErrUnknownFormat   = errors.New("unknown session format")
	ErrPremiumExpiry   = errors.New("premium needs a future until or positive days")
)

// ExtractionRequest is the body of POST /extractions.
type ExtractionRequest struct {
	UserID int64 `json:"user_id"`

	// Link - message link, its message id is the start of the range.
	Link string `json:"link,omitempty"`

	// Chat - numeric id or @handle, used with StartMessageID when Link is empty.
	Chat string `json:"chat,omitempty"`

	// StartMessageID overrides the message id of Link when set.
	StartMessageID int `json:"start_message_id,omitempty"`

	Count int `json:"count"`

	DestinationChatID *int64 `json:"destination_chat_id,omitempty"`
}

// Validate checks the request against the tier limit and converts it.
// It does not check the chat exists: that needs a network call.
func (r *ExtractionRequest) Validate(maxBatch int) (Request, error) {
	if r.UserID <= 0 {
		return Request{}, ErrUserRequired
	}

	req := Request{UserID: r.UserID, Count: r.Count, Destination: r.DestinationChatID}

	switch {
	case r.Link != "":
		ref, err := telegram.ParseLink(r.Link)
		if err != nil {
			return Request{}, err
		}
		req.Source, req.StartID = ref.Chat, ref.MessageID
	case r.Chat != "":
		chat, err := telegram.ParseChatRef(r.Chat)
		if err != nil {
			return Request{}, err
		}
		req.Source = chat
	default:
		return Request{}, ErrSourceRequired
	}

	if r.StartMessageID != 0 {
		req.StartID = r.StartMessageID
	}
	if req.StartID <= 0 {
		return Request{}, ErrStartRequired
	}

	if r.Count < 1 || r.Count > maxBatch {
		return Request{}, fmt.Errorf("%w: must be between 1 and %d", ErrCountOutOfRange, maxBatch)
	}
	return req, nil
}

// DownloadBody is the body of POST /downloads.
type DownloadBody struct {
	UserID int64  `json:"user_id"`
	Link   string `json:"link"`
	Kind   string `json:"kind,omitempty"` // video or audio
}

// Validate checks the request and converts it.
func (b *DownloadBody) Validate() (DownloadRequest, error) {
	if b.UserID <= 0 {
		return DownloadRequest{}, ErrUserRequired
	}
	if b.Link == "" {
		return DownloadRequest{}, ErrLinkRequired
	}
	if _, err := telegram.ParseLink(b.Link); err != nil {
		return DownloadRequest{}, err
	}
	return DownloadRequest{UserID: b.UserID, Link: b.Link, Kind: b.Kind}, nil
}

// StartResponse is returned when a run was accepted.
type StartResponse struct {
	Status string `json:"status"`
	UserID int64  `json:"user_id"`
	Total  int    `json:"total,omitempty"`
}

// SessionBody is the body of PUT /sessions/{user_id}.
type SessionBody struct {
	Session string `json:"session"`
	Format  string `json:"format,omitempty"` // gotgproto (default), pyrogram or telethon
}

// Validate checks the session string and format.
func (b *SessionBody) Validate() error {
	if b.Session == "" {
		return ErrSessionRequired
	}
	switch b.Format {
	case "":
		b.Format = telegram.FormatGotgproto
	case telegram.FormatGotgproto, telegram.FormatPyrogram, telegram.FormatTelethon:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, b.Format)
	}
	return nil
}

// PremiumBody is the body of PUT /users/{user_id}/premium. Either an
// absolute expiry or a duration in days is given.
type PremiumBody struct {
	Until *time.Time `json:"until,omitempty"`
	Days  int        `json:"days,omitempty"`
}

// Expiry returns the premium end relative to now.
func (b PremiumBody) Expiry(now time.Time) (time.Time, error) {
	switch {
	case b.Until != nil:
		if !b.Until.After(now) {
			return time.Time{}, ErrPremiumExpiry
		}
		return *b.Until, nil
	case b.Days > 0:
		return now.AddDate(0, 0, b.Days), nil
	}
	return time.Time{}, ErrPremiumExpiry
}
