// Package telegram provides the per-user MTProto connection used to read and replicate messages.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"

	"github.com/blockedby/tg-extractor/internal/logger"
)

// AccessHashLookup finds cached access hashes for channels seen by the session.
type AccessHashLookup interface {
	ChannelAccessHash(channelID int64) (int64, bool)
}

// Client performs the message operations of one authenticated user.
type Client struct {
	api         *tg.Client
	selfID      int64
	peers       AccessHashLookup
	stop        func()
	rateLimiter *RateLimiter
	log         *logger.Logger

	hashes sync.Map // channel id -> access hash learned from responses
}

// NewClient wraps a raw api client. stop is invoked by Close and may be nil.
func NewClient(api *tg.Client, selfID int64, peers AccessHashLookup, stop func()) *Client {
	return &Client{
		api:         api,
		selfID:      selfID,
		peers:       peers,
		stop:        stop,
		rateLimiter: DefaultRateLimiter(),
		log:         logger.Get().Component("telegram"),
	}
}

// SelfID returns the id of the session user.
func (c *Client) SelfID() int64 { return c.selfID }

// Close stops the underlying connection.
func (c *Client) Close() {
	if c.stop != nil {
		c.stop()
	}
}

// wait applies the proactive limiter before an api call.
func (c *Client) wait(ctx context.Context) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		c.log.Error().Err(err).Msg("telegram: rate limiter wait failed")
		return err
	}
	return nil
}

// observe opens the limiter pause window when err is a flood wait.
func (c *Client) observe(err error) error {
	if err == nil {
		return nil
	}
	if f := Classify(err); f.Kind == FaultRateLimited {
		c.log.Warn().Dur("wait", f.Wait).Msg("telegram: FLOOD_WAIT detected, pausing connection")
		c.rateLimiter.Pause(f.Wait)
	}
	return err
}

// ResolveChat resolves a chat reference against the session.
func (c *Client) ResolveChat(ctx context.Context, ref ChatRef) (*Peer, error) {
	switch {
	case ref.Username != "":
		return c.resolveUsername(ctx, ref.Username)
	case ref.ID == c.selfID:
		return NewPeer(ref.ID, "Saved Messages", "", &tg.InputPeerSelf{}), nil
	case ref.ID > 0:
		return c.resolveUser(ctx, ref.ID)
	}

	if channelID, ok := ref.ChannelID(); ok {
		return c.resolveChannel(ctx, ref.ID, channelID)
	}
	// legacy group chats use plain negative ids
	return NewPeer(ref.ID, "", "", &tg.InputPeerChat{ChatID: -ref.ID}), nil
}

func (c *Client) resolveUsername(ctx context.Context, username string) (*Peer, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	c.log.Debug().Str("username", username).Msg("telegram: resolving username")
	resolved, err := c.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
		Username: username,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve username %s: %w", username, c.observe(err))
	}

	for _, chat := range resolved.Chats {
		if ch, ok := chat.(*tg.Channel); ok {
			c.hashes.Store(ch.ID, ch.AccessHash)
			return NewPeer(-(privateChannelBase + ch.ID), ch.Title, username, ch.AsInputPeer()), nil
		}
	}
	for _, user := range resolved.Users {
		if u, ok := user.(*tg.User); ok {
			return NewPeer(u.ID, u.FirstName, username, u.AsInputPeer()), nil
		}
	}
	return nil, NewFault(FaultNotFound, fmt.Errorf("chat not found: %s", username))
}

func (c *Client) resolveUser(ctx context.Context, userID int64) (*Peer, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	users, err := c.api.UsersGetUsers(ctx, []tg.InputUserClass{&tg.InputUser{UserID: userID}})
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", userID, c.observe(err))
	}
	for _, user := range users {
		if u, ok := user.(*tg.User); ok && u.ID == userID {
			return NewPeer(u.ID, u.FirstName, u.Username, u.AsInputPeer()), nil
		}
	}
	return nil, NewFault(FaultDestination, fmt.Errorf("user %d is not reachable", userID))
}

func (c *Client) resolveChannel(ctx context.Context, chatID, channelID int64) (*Peer, error) {
	hash, ok := c.accessHash(channelID)
	if !ok {
		var err error
		if hash, err = c.scanDialogs(ctx, channelID); err != nil {
			return nil, err
		}
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	res, err := c.api.ChannelsGetChannels(ctx, []tg.InputChannelClass{
		&tg.InputChannel{ChannelID: channelID, AccessHash: hash},
	})
	if err != nil {
		return nil, fmt.Errorf("get channel %d: %w", channelID, c.observe(err))
	}

	for _, chat := range res.GetChats() {
		switch ch := chat.(type) {
		case *tg.Channel:
			if ch.ID == channelID {
				c.hashes.Store(ch.ID, ch.AccessHash)
				return NewPeer(chatID, ch.Title, ch.Username, ch.AsInputPeer()), nil
			}
		case *tg.ChannelForbidden:
			if ch.ID == channelID {
				return nil, NewFault(FaultPrivate, fmt.Errorf("channel %d is forbidden", channelID))
			}
		}
	}
	return nil, NewFault(FaultPrivate, fmt.Errorf("channel %d is not accessible", channelID))
}

func (c *Client) accessHash(channelID int64) (int64, bool) {
	if v, ok := c.hashes.Load(channelID); ok {
		return v.(int64), true
	}
	if c.peers != nil {
		return c.peers.ChannelAccessHash(channelID)
	}
	return 0, false
}

// scanDialogs looks the channel up in the first page of dialogs. Private
// channels are only addressable once the session has seen their access hash.
func (c *Client) scanDialogs(ctx context.Context, channelID int64) (int64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	res, err := c.api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      100,
	})
	if err != nil {
		return 0, fmt.Errorf("get dialogs: %w", c.observe(err))
	}

	var chats []tg.ChatClass
	switch d := res.(type) {
	case *tg.MessagesDialogs:
		chats = d.Chats
	case *tg.MessagesDialogsSlice:
		chats = d.Chats
	}

	for _, chat := range chats {
		if ch, ok := chat.(*tg.Channel); ok {
			c.hashes.Store(ch.ID, ch.AccessHash)
		}
	}
	if hash, ok := c.accessHash(channelID); ok {
		return hash, nil
	}
	return 0, NewFault(FaultPrivate, fmt.Errorf("channel %d not found in dialogs", channelID))
}

// FetchMessage returns the message with id in chat, or nil when it does not exist.
func (c *Client) FetchMessage(ctx context.Context, chat *Peer, id int) (*Message, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	ids := []tg.InputMessageClass{&tg.InputMessageID{ID: id}}

	var (
		res tg.MessagesMessagesClass
		err error
	)
	if ch, ok := chat.InputPeer().(*tg.InputPeerChannel); ok {
		res, err = c.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash},
			ID:      ids,
		})
	} else {
		res, err = c.api.MessagesGetMessages(ctx, ids)
	}
	if err != nil {
		return nil, fmt.Errorf("get message %d: %w", id, c.observe(err))
	}

	for _, m := range messagesOf(res) {
		if parsed := parseMessage(m, chat.ID); parsed != nil && parsed.ID == id {
			return parsed, nil
		}
	}
	return nil, nil
}

func messagesOf(res tg.MessagesMessagesClass) []tg.MessageClass {
	switch h := res.(type) {
	case *tg.MessagesChannelMessages:
		return h.Messages
	case *tg.MessagesMessagesSlice:
		return h.Messages
	case *tg.MessagesMessages:
		return h.Messages
	}
	return nil
}

// Forward forwards message id from one chat to another unchanged.
func (c *Client) Forward(ctx context.Context, from *Peer, id int, to *Peer) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err := c.api.MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
		FromPeer: from.InputPeer(),
		ID:       []int{id},
		RandomID: []int64{rand.Int64()},
		ToPeer:   to.InputPeer(),
	})
	if err != nil {
		return fmt.Errorf("forward message %d: %w", id, c.observe(err))
	}
	return nil
}

// Copy re-sends msg's media to the destination with the given overrides.
// A changed file name requires re-uploading the file; otherwise the existing
// media reference is reused.
func (c *Client) Copy(ctx context.Context, msg *Message, to *Peer, ov Overrides) error {
	if !msg.HasMedia() {
		return errors.New("copy: message has no media")
	}

	caption, entities := msg.Text, msg.entities
	if ov.HasCaption {
		caption, entities = ov.Caption, nil
	}

	media := msg.Media
	var input tg.InputMediaClass
	if media.document != nil && ov.FileName != "" && ov.FileName != media.FileName {
		uploaded, err := c.reupload(ctx, media, ov)
		if err != nil {
			return err
		}
		input = uploaded
	} else {
		ref, ok := media.inputMedia()
		if !ok {
			return fmt.Errorf("copy: unsupported media %s", media.Kind)
		}
		input = ref
	}

	if err := c.wait(ctx); err != nil {
		return err
	}
	req := &tg.MessagesSendMediaRequest{
		Peer:     to.InputPeer(),
		Media:    input,
		Message:  caption,
		RandomID: rand.Int64(),
	}
	if len(entities) > 0 {
		req.SetEntities(entities)
	}
	if _, err := c.api.MessagesSendMedia(ctx, req); err != nil {
		return fmt.Errorf("send media for message %d: %w", msg.ID, c.observe(err))
	}
	return nil
}

// reupload streams the document through a pipe into a fresh upload carrying the new name.
func (c *Client) reupload(ctx context.Context, media *Media, ov Overrides) (tg.InputMediaClass, error) {
	loc, _ := media.location()

	pr, pw := io.Pipe()
	go func() {
		_, err := downloader.NewDownloader().Download(c.api, loc).Stream(ctx, pw)
		pw.CloseWithError(c.observe(err))
	}()

	up := uploader.NewUploader(c.api)
	file, err := up.Upload(ctx, uploader.NewUpload(ov.FileName, pr, media.Size))
	_ = pr.Close()
	if err != nil {
		return nil, fmt.Errorf("reupload %s: %w", ov.FileName, c.observe(err))
	}

	out := &tg.InputMediaUploadedDocument{
		File:       file,
		MimeType:   media.MimeType,
		Attributes: media.renamedAttributes(ov.FileName),
	}
	if ov.Thumbnail != "" {
		thumb, err := up.FromPath(ctx, ov.Thumbnail)
		if err != nil {
			c.log.Warn().Err(err).Str("thumbnail", ov.Thumbnail).Msg("telegram: thumbnail upload failed, sending without")
		} else {
			out.SetThumb(thumb)
		}
	}
	return out, nil
}

// Download saves msg's media under dir and returns the written path.
func (c *Client) Download(ctx context.Context, msg *Message, dir string, progress func(DownloadProgress)) (string, error) {
	if !msg.HasMedia() {
		return "", errors.New("download: message has no media")
	}
	loc, ok := msg.Media.location()
	if !ok {
		return "", fmt.Errorf("download: unsupported media %s", msg.Media.Kind)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	f, err := createDownloadFile(dir, downloadName(msg), msg.ID)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer f.Close()
	path := f.Name()

	if err := c.wait(ctx); err != nil {
		return "", err
	}
	w := &progressWriter{w: f, total: msg.Media.Size, report: progress}
	if _, err := downloader.NewDownloader().Download(c.api, loc).Stream(ctx, w); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("download message %d: %w", msg.ID, c.observe(err))
	}
	return path, nil
}

// downloadName is the base name for msg's media. Provider names that do not
// form a usable path element fall back to chat and message id.
func downloadName(msg *Message) string {
	name := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(msg.Media.FileName, `\`, "/")))
	if name == "/" || name == "." || name == ".." {
		return fmt.Sprintf("%d_%d%s", msg.ChatID, msg.ID, extensionFor(msg.Media))
	}
	return name
}

// createDownloadFile creates name in dir without touching existing files.
// Taken names get the message id appended, then a counter.
func createDownloadFile(dir, name string, msgID int) (*os.File, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for n := 0; ; n++ {
		f, err := os.OpenFile(filepath.Join(dir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if !errors.Is(err, fs.ErrExist) {
			return f, err
		}
		if n == 0 {
			candidate = fmt.Sprintf("%s_%d%s", stem, msgID, ext)
		} else {
			candidate = fmt.Sprintf("%s_%d_%d%s", stem, msgID, n, ext)
		}
	}
}

func extensionFor(m *Media) string {
	switch m.Kind {
	case MediaPhoto:
		return ".jpg"
	case MediaVideo:
		return ".mp4"
	case MediaAudio:
		return ".mp3"
	}
	return ""
}

type progressWriter struct {
	w      io.Writer
	done   int64
	total  int64
	report func(DownloadProgress)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.done += int64(n)
	if p.report != nil {
		p.report(DownloadProgress{Done: p.done, Total: p.total})
	}
	return n, err
}
