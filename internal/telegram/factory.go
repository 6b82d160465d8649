package telegram

import (
	"context"
	"fmt"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/celestix/gotgproto/storage"

	"github.com/blockedby/tg-extractor/internal/config"
)

// Session string formats accepted in stored credentials.
const (
	FormatGotgproto = "gotgproto"
	FormatPyrogram  = "pyrogram"
	FormatTelethon  = "telethon"
)

// Credential is the stored login material of one user.
type Credential struct {
	UserID  int64
	Session string
	Format  string
}

func sessionConstructor(c Credential) (sessionMaker.SessionConstructor, error) {
	switch c.Format {
	case "", FormatGotgproto:
		return sessionMaker.StringSession(c.Session), nil
	case FormatPyrogram:
		return sessionMaker.PyrogramSession(c.Session), nil
	case FormatTelethon:
		return sessionMaker.TelethonSession(c.Session), nil
	default:
		return nil, fmt.Errorf("unknown session format %q", c.Format)
	}
}

// NewUserConnFactory returns a factory that logs users in with their stored session.
// Session state is kept in memory; the stored credential stays the source of truth.
func NewUserConnFactory(cfg *config.Config) ConnFactory {
	return func(ctx context.Context, cred Credential) (Conn, error) {
		constructor, err := sessionConstructor(cred)
		if err != nil {
			return nil, err
		}

		client, err := gotgproto.NewClient(
			cfg.TGApiID,
			cfg.TGApiHash,
			gotgproto.ClientTypePhone(""), // empty = use session
			&gotgproto.ClientOpts{
				Session:          constructor,
				InMemory:         true,
				DisableCopyright: true,
			},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create telegram client: %w", err)
		}
		if client.Self == nil {
			client.Stop()
			return nil, fmt.Errorf("session of user %d is not authorized", cred.UserID)
		}

		return NewClient(client.API(), client.Self.ID, peerStorage{client.PeerStorage}, client.Stop), nil
	}
}

// peerStorage exposes access hashes cached by gotgproto.
type peerStorage struct {
	s *storage.PeerStorage
}

func (p peerStorage) ChannelAccessHash(channelID int64) (int64, bool) {
	if p.s == nil {
		return 0, false
	}
	peer := p.s.GetPeerById(channelID)
	if peer == nil || peer.AccessHash == 0 {
		return 0, false
	}
	return peer.AccessHash, true
}
