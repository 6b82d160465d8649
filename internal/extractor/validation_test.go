package extractor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tg-extractor/internal/telegram"
)

func TestExtractionRequest_Validate(t *testing.T) {
	dest := int64(-100777)

	t.Run("link", func(t *testing.T) {
		body := ExtractionRequest{UserID: 1, Link: "https://t.me/c/1234567890/10", Count: 3, DestinationChatID: &dest}
		req, err := body.Validate(10)
		require.NoError(t, err)
		assert.Equal(t, telegram.ChatByID(-1001234567890), req.Source)
		assert.Equal(t, 10, req.StartID)
		assert.Equal(t, 3, req.Count)
		assert.Equal(t, &dest, req.Destination)
	})

	t.Run("start overrides link id", func(t *testing.T) {
		body := ExtractionRequest{UserID: 1, Link: "t.me/durov/10", StartMessageID: 99, Count: 1}
		req, err := body.Validate(10)
		require.NoError(t, err)
		assert.Equal(t, telegram.ChatByUsername("durov"), req.Source)
		assert.Equal(t, 99, req.StartID)
	})

	t.Run("chat and start", func(t *testing.T) {
		body := ExtractionRequest{UserID: 1, Chat: "@durov", StartMessageID: 5, Count: 2}
		req, err := body.Validate(10)
		require.NoError(t, err)
		assert.Equal(t, "durov", req.Source.Username)
	})

	errCases := []struct {
		name string
		body ExtractionRequest
		want error
	}{
		{"no user", ExtractionRequest{Link: "t.me/durov/1", Count: 1}, ErrUserRequired},
		{"no source", ExtractionRequest{UserID: 1, Count: 1}, ErrSourceRequired},
		{"chat without start", ExtractionRequest{UserID: 1, Chat: "-100123", Count: 1}, ErrStartRequired},
		{"bad link", ExtractionRequest{UserID: 1, Link: "https://example.com/1", Count: 1}, telegram.ErrInvalidReference},
		{"zero count", ExtractionRequest{UserID: 1, Link: "t.me/durov/1"}, ErrCountOutOfRange},
		{"over limit", ExtractionRequest{UserID: 1, Link: "t.me/durov/1", Count: 11}, ErrCountOutOfRange},
	}
	for _, tt := range errCases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.body.Validate(10)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestDownloadBody_Validate(t *testing.T) {
	req, err := (&DownloadBody{UserID: 1, Link: "t.me/durov/1", Kind: "video"}).Validate()
	require.NoError(t, err)
	assert.Equal(t, "video", req.Kind)

	_, err = (&DownloadBody{Link: "t.me/durov/1"}).Validate()
	assert.ErrorIs(t, err, ErrUserRequired)
	_, err = (&DownloadBody{UserID: 1}).Validate()
	assert.ErrorIs(t, err, ErrLinkRequired)
	_, err = (&DownloadBody{UserID: 1, Link: "nope"}).Validate()
	assert.ErrorIs(t, err, telegram.ErrInvalidReference)
}

type premiumSet map[int64]bool

func (p premiumSet) IsPremium(_ context.Context, userID int64) (bool, error) {
	if userID < 0 {
		return false, errors.New("lookup failed")
	}
	return p[userID], nil
}

func TestLimits_Resolve(t *testing.T) {
	limits := NewLimits(3, 1000, premiumSet{7: true})
	ctx := context.Background()

	n, err := limits.Resolve(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1000, n)

	n, err = limits.Resolve(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = limits.Resolve(ctx, -1)
	assert.Error(t, err)
	assert.Equal(t, 3, n, "lookup failure falls back to free")

	n, err = NewLimits(3, 10, nil).Resolve(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPremiumBody_Expiry(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	got, err := PremiumBody{Days: 30}.Expiry(now)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, 30), got)

	future := now.Add(time.Hour)
	got, err = PremiumBody{Until: &future}.Expiry(now)
	require.NoError(t, err)
	assert.Equal(t, future, got)

	past := now.Add(-time.Hour)
	_, err = PremiumBody{Until: &past}.Expiry(now)
	assert.ErrorIs(t, err, ErrPremiumExpiry)
	_, err = PremiumBody{}.Expiry(now)
	assert.ErrorIs(t, err, ErrPremiumExpiry)
}

func TestSessionBody_Validate(t *testing.T) {
	b := SessionBody{Session: "abc"}
	require.NoError(t, b.Validate())
	assert.Equal(t, telegram.FormatGotgproto, b.Format)

	assert.ErrorIs(t, (&SessionBody{}).Validate(), ErrSessionRequired)
	assert.ErrorIs(t, (&SessionBody{Session: "x", Format: "tdlib"}).Validate(), ErrUnknownFormat)
}
