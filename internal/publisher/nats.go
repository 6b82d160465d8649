// Package publisher forwards run events to NATS JetStream.
package publisher

import (
	"context"
	"fmt"

	"github.com/blockedby/tg-extractor/internal/extractor"
)

// Stream configuration of run events.
const (
	StreamName     = "EXTRACTION"
	SubjectPattern = "extraction.>"
)

// StreamClient is the part of the nats client the publisher needs.
type StreamClient interface {
	Publish(ctx context.Context, subject string, data any) error
}

// NATSPublisher implements extractor.Sink
type NATSPublisher struct {
	js       StreamClient
	progress bool
}

// NewNATSPublisher creates a publisher. Progress updates are only forwarded
// when withProgress is set; terminal events always are.
func NewNATSPublisher(client StreamClient, withProgress bool) *NATSPublisher {
	return &NATSPublisher{js: client, progress: withProgress}
}

// Subject returns the subject of ev, e.g. extraction.batch_extraction.completed.
func Subject(ev extractor.Event) string {
	return fmt.Sprintf("extraction.%s.%s", ev.JobType, ev.Kind)
}

// Publish sends ev to its subject.
func (p *NATSPublisher) Publish(ctx context.Context, ev extractor.Event) error {
	if !ev.Terminal && !p.progress {
		return nil
	}
	if err := p.js.Publish(ctx, Subject(ev), ev); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
