package telegram

import (
	"time"

	"github.com/gotd/td/tg"
)

// parseMessage converts a single api message. Empty and service messages
// yield nil: they cannot be replicated.
func parseMessage(msg tg.MessageClass, chatID int64) *Message {
	m, ok := msg.(*tg.Message)
	if !ok {
		return nil
	}

	out := &Message{
		ID:       m.ID,
		ChatID:   chatID,
		Text:     m.Message,
		Date:     time.Unix(int64(m.Date), 0),
		entities: m.Entities,
	}
	if m.Media != nil {
		out.Media = parseMedia(m.Media)
	}
	return out
}

// parseMedia classifies message media. Webpage previews are not media.
func parseMedia(media tg.MessageMediaClass) *Media {
	switch v := media.(type) {
	case *tg.MessageMediaWebPage:
		return nil
	case *tg.MessageMediaPhoto:
		photo, ok := v.Photo.(*tg.Photo)
		if !ok {
			return &Media{Kind: MediaOther}
		}
		typ, size := largestPhotoSize(photo)
		return &Media{
			Kind:     MediaPhoto,
			Size:     size,
			MimeType: "image/jpeg",
			photo:    photo,
			photoTyp: typ,
		}
	case *tg.MessageMediaDocument:
		doc, ok := v.Document.(*tg.Document)
		if !ok {
			return &Media{Kind: MediaOther}
		}
		return &Media{
			Kind:     documentKind(doc),
			FileName: documentFileName(doc),
			Size:     doc.Size,
			MimeType: doc.MimeType,
			document: doc,
		}
	default:
		return &Media{Kind: MediaOther}
	}
}

// documentKind tells videos and music apart from plain files. Stickers,
// gifs, voice notes and round videos have no file name semantics and are
// reported as MediaOther.
func documentKind(doc *tg.Document) MediaKind {
	kind := MediaDocument
	for _, attr := range doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeSticker, *tg.DocumentAttributeAnimated, *tg.DocumentAttributeCustomEmoji:
			return MediaOther
		case *tg.DocumentAttributeVideo:
			if a.RoundMessage {
				return MediaOther
			}
			kind = MediaVideo
		case *tg.DocumentAttributeAudio:
			if a.Voice {
				return MediaOther
			}
			if kind == MediaDocument {
				kind = MediaAudio
			}
		}
	}
	return kind
}

func documentFileName(doc *tg.Document) string {
	for _, attr := range doc.Attributes {
		if a, ok := attr.(*tg.DocumentAttributeFilename); ok {
			return a.FileName
		}
	}
	return ""
}

// largestPhotoSize returns the thumb type and byte size of the biggest photo size.
func largestPhotoSize(photo *tg.Photo) (string, int64) {
	var typ string
	var best int64
	for _, s := range photo.Sizes {
		switch v := s.(type) {
		case *tg.PhotoSize:
			if int64(v.Size) >= best {
				typ, best = v.Type, int64(v.Size)
			}
		case *tg.PhotoSizeProgressive:
			if n := len(v.Sizes); n > 0 && int64(v.Sizes[n-1]) >= best {
				typ, best = v.Type, int64(v.Sizes[n-1])
			}
		}
	}
	return typ, best
}

// inputMedia returns a reference to already uploaded media for re-sending.
func (m *Media) inputMedia() (tg.InputMediaClass, bool) {
	switch {
	case m.document != nil:
		return &tg.InputMediaDocument{ID: m.document.AsInput()}, true
	case m.photo != nil:
		return &tg.InputMediaPhoto{ID: m.photo.AsInput()}, true
	}
	return nil, false
}

// location returns the file location used by the downloader.
func (m *Media) location() (tg.InputFileLocationClass, bool) {
	switch {
	case m.document != nil:
		return m.document.AsInputDocumentFileLocation(), true
	case m.photo != nil:
		return &tg.InputPhotoFileLocation{
			ID:            m.photo.ID,
			AccessHash:    m.photo.AccessHash,
			FileReference: m.photo.FileReference,
			ThumbSize:     m.photoTyp,
		}, true
	}
	return nil, false
}

// renamedAttributes copies document attributes with the file name replaced.
func (m *Media) renamedAttributes(name string) []tg.DocumentAttributeClass {
	attrs := []tg.DocumentAttributeClass{&tg.DocumentAttributeFilename{FileName: name}}
	if m.document == nil {
		return attrs
	}
	for _, attr := range m.document.Attributes {
		if _, ok := attr.(*tg.DocumentAttributeFilename); ok {
			continue
		}
		attrs = append(attrs, attr)
	}
	return attrs
}
