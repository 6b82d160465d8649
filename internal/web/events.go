package web

import (
	"context"
	"encoding/json"

	"github.com/blockedby/tg-extractor/internal/extractor"
)

// WebSocket event types
const (
	EventExtractionProgress  = "extraction.progress"
	EventExtractionCompleted = "extraction.completed"
	EventExtractionCancelled = "extraction.cancelled"
	EventExtractionFailed    = "extraction.failed"
)

// WSEvent represents a structured WebSocket message
type WSEvent struct {
	Type    string          `json:"type"`
	Payload extractor.Event `json:"payload"`
}

// EventType maps a run event to its websocket type.
func EventType(ev extractor.Event) string {
	switch ev.Kind {
	case extractor.EventCompleted:
		return EventExtractionCompleted
	case extractor.EventCancelled:
		return EventExtractionCancelled
	case extractor.EventFailed:
		return EventExtractionFailed
	default:
		return EventExtractionProgress
	}
}

// Publish broadcasts ev to the websocket clients of its user.
func (h *Hub) Publish(ctx context.Context, ev extractor.Event) error {
	b, err := json.Marshal(WSEvent{Type: EventType(ev), Payload: ev})
	if err != nil {
		return err
	}
	return h.Broadcast(ctx, ev.UserID, b)
}
