package telegram

import (
	"strconv"
	"time"

	"github.com/gotd/td/tg"
)

// privateChannelBase is added to a bare channel id to form the api chat id (-100XXXXXXXXXX).
const privateChannelBase = 1_000_000_000_000

// ChatRef identifies a chat either by numeric id or by public username.
// Exactly one of the fields is set.
type ChatRef struct {
	ID       int64  // api chat id, channels use the -100 prefix
	Username string // public handle without @
}

// ChatByID returns a numeric chat reference.
func ChatByID(id int64) ChatRef { return ChatRef{ID: id} }

// ChatByUsername returns a handle chat reference.
func ChatByUsername(username string) ChatRef { return ChatRef{Username: username} }

// IsZero reports whether the reference is unset.
func (r ChatRef) IsZero() bool { return r.ID == 0 && r.Username == "" }

func (r ChatRef) String() string {
	if r.Username != "" {
		return "@" + r.Username
	}
	return strconv.FormatInt(r.ID, 10)
}

// ChannelID returns the bare channel id for a -100 prefixed chat id.
func (r ChatRef) ChannelID() (int64, bool) {
	if r.ID >= -privateChannelBase {
		return 0, false
	}
	return -r.ID - privateChannelBase, true
}

// Peer is a chat resolved against the current session.
type Peer struct {
	ID       int64  // api chat id as supplied by the caller
	Title    string // chat title or user name
	Username string // public handle, empty for private chats

	input tg.InputPeerClass
}

// NewPeer creates a resolved peer around an input peer.
func NewPeer(id int64, title, username string, input tg.InputPeerClass) *Peer {
	return &Peer{ID: id, Title: title, Username: username, input: input}
}

// InputPeer returns the api input peer.
func (p *Peer) InputPeer() tg.InputPeerClass {
	if p == nil || p.input == nil {
		return &tg.InputPeerEmpty{}
	}
	return p.input
}

// MediaKind classifies message media.
type MediaKind string

// MediaKind constants define the media classes handled by replication.
const (
	MediaDocument MediaKind = "document"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaPhoto    MediaKind = "photo"
	MediaOther    MediaKind = "other"
)

// Media describes the media attached to a message.
type Media struct {
	Kind     MediaKind
	FileName string // provider supplied name, empty when absent
	Size     int64
	MimeType string

	document *tg.Document
	photo    *tg.Photo
	photoTyp string
}

// Message represents a fetched message.
type Message struct {
	ID       int
	ChatID   int64
	Text     string // message text or media caption
	Date     time.Time
	Media    *Media // nil for pure text
	entities []tg.MessageEntityClass
}

// HasMedia reports whether the message carries media.
func (m *Message) HasMedia() bool {
	return m != nil && m.Media != nil
}

// Overrides are the transformed values applied when copying media.
type Overrides struct {
	FileName   string
	Caption    string
	HasCaption bool   // false keeps the source caption
	Thumbnail  string // local path of a custom thumbnail, empty for none
}

// DownloadProgress is reported while media is being downloaded.
type DownloadProgress struct {
	Done  int64
	Total int64
}
