package telegram

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidReference is returned for strings that are not message links.
var ErrInvalidReference = errors.New("invalid telegram message link")

// Visibility tells whether a chat is addressed by handle or by internal id.
type Visibility string

// Visibility constants.
const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Reference is a parsed message link.
type Reference struct {
	Chat       ChatRef
	MessageID  int
	Visibility Visibility
}

var (
	linkPrefix     = `^(?:https?://)?(?:www\.)?(?:t|telegram)\.me/`
	linkSuffix     = `/?(?:\?[^#]*)?$`
	privateLinkRxp = regexp.MustCompile(linkPrefix + `c/(\d+)/(\d+)` + linkSuffix)
	publicLinkRxp  = regexp.MustCompile(linkPrefix + `([A-Za-z0-9_]+)/(\d+)` + linkSuffix)
)

// ParseLink parses t.me/c/<channel>/<msg> and t.me/<username>/<msg> links.
func ParseLink(link string) (Reference, error) {
	link = strings.TrimSpace(link)

	if m := privateLinkRxp.FindStringSubmatch(link); m != nil {
		channelID, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil || channelID <= 0 || channelID >= privateChannelBase {
			return Reference{}, fmt.Errorf("%w: channel id %q", ErrInvalidReference, m[1])
		}
		msgID, err := parseMessageID(m[2])
		if err != nil {
			return Reference{}, err
		}
		return Reference{
			Chat:       ChatByID(-(privateChannelBase + channelID)),
			MessageID:  msgID,
			Visibility: VisibilityPrivate,
		}, nil
	}

	if m := publicLinkRxp.FindStringSubmatch(link); m != nil && m[1] != "c" {
		msgID, err := parseMessageID(m[2])
		if err != nil {
			return Reference{}, err
		}
		return Reference{
			Chat:       ChatByUsername(m[1]),
			MessageID:  msgID,
			Visibility: VisibilityPublic,
		}, nil
	}

	return Reference{}, ErrInvalidReference
}

func parseMessageID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: message id %q", ErrInvalidReference, s)
	}
	return id, nil
}

// ParseChatRef parses a chat given as numeric id or @handle.
func ParseChatRef(s string) (ChatRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ChatRef{}, fmt.Errorf("%w: empty chat", ErrInvalidReference)
	}
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		if id == 0 {
			return ChatRef{}, fmt.Errorf("%w: zero chat id", ErrInvalidReference)
		}
		return ChatByID(id), nil
	}
	name := strings.TrimPrefix(s, "@")
	if !usernameRxp.MatchString(name) {
		return ChatRef{}, fmt.Errorf("%w: chat %q", ErrInvalidReference, s)
	}
	return ChatByUsername(name), nil
}

var usernameRxp = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
