package extractor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/tg-extractor/internal/logger"
	"github.com/blockedby/tg-extractor/internal/models"
	"github.com/blockedby/tg-extractor/internal/transform"
)

// EventKind tells progress updates and the terminal outcomes apart.
type EventKind string

// EventKind constants.
const (
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventCancelled EventKind = "cancelled"
	EventFailed    EventKind = "failed"
)

// Event is a progress notification of one run. The last event of a run has
// Terminal set; JobID is nil when the run failed before a job was recorded.
type Event struct {
	JobID     uuid.UUID      `json:"job_id"`
	UserID    int64          `json:"user_id"`
	JobType   models.JobType `json:"job_type"`
	Kind      EventKind      `json:"kind"`
	Text      string         `json:"text"`
	Processed int            `json:"processed"`
	Failed    int            `json:"failed"`
	Total     int            `json:"total"`
	Terminal  bool           `json:"terminal"`
	Reason    string         `json:"reason,omitempty"`

	// download runs only
	Download *DownloadStatus `json:"download,omitempty"`

	Time time.Time `json:"time"`
}

// DownloadStatus describes a media download in flight or finished.
type DownloadStatus struct {
	Done  int64   `json:"done"`
	Total int64   `json:"total"`
	Speed float64 `json:"speed"` // bytes per second
	ETA   int     `json:"eta"`   // seconds
	Path  string  `json:"path,omitempty"`
}

// Sink receives progress events.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

// FanOut delivers every event to all sinks. A failing sink does not stop delivery to the others.
type FanOut []Sink

// Publish sends ev to each sink and returns the first error.
func (f FanOut) Publish(ctx context.Context, ev Event) error {
	var first error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// notify delivers ev and swallows sink failures, panics included.
func notify(ctx context.Context, sink Sink, log *logger.Logger, ev Event) {
	if sink == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("kind", string(ev.Kind)).Msg("progress sink panicked")
		}
	}()
	if err := sink.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("failed to deliver progress")
	}
}

// ProgressBar renders a ten cell bar.
func ProgressBar(current, total int64) string {
	const length = 10
	filled := 0
	if total > 0 {
		filled = int(length * current / total)
	}
	filled = max(0, min(length, filled))
	return strings.Repeat("◆", filled) + strings.Repeat("◇", length-filled)
}

// FormatDuration renders seconds as "42s", "3m, 5s" or "2h, 10m".
func FormatDuration(seconds int) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm, %ds", seconds/60, seconds%60)
	default:
		return fmt.Sprintf("%dh, %dm", seconds/3600, (seconds%3600)/60)
	}
}

// RenderBatchProgress is the text of a non-terminal batch update.
func RenderBatchProgress(processed, total int) string {
	return fmt.Sprintf("Batch process started ⚡\nProcessing: %d/%d\n%s",
		processed, total, ProgressBar(int64(processed), int64(total)))
}

// RenderCompleted is the terminal summary of a finished batch.
func RenderCompleted(processed, failed, total int) string {
	return fmt.Sprintf("✅ Extraction Complete!\n\n📊 Statistics:\n✔️ Processed: %d\n❌ Failed: %d\n📝 Total: %d",
		processed, failed, total)
}

// RenderCancelled is the terminal notice of a cancelled batch.
func RenderCancelled(processed, total int) string {
	return fmt.Sprintf("❌ Extraction cancelled by user\nProcessed: %d/%d", processed, total)
}

// RenderFailed is the terminal notice of a run aborted by a setup fault.
func RenderFailed(reason string) string {
	return "❌ " + reason
}

// RenderDownload is the text of a download progress update.
func RenderDownload(s DownloadStatus) string {
	pct := 0.0
	if s.Total > 0 {
		pct = float64(s.Done) / float64(s.Total) * 100
	}
	var b strings.Builder
	b.WriteString("╭─────────────────────╮\n")
	b.WriteString("│      Downloading...\n")
	b.WriteString("├─────────────────────\n")
	fmt.Fprintf(&b, "│ %s\n\n", ProgressBar(s.Done, s.Total))
	fmt.Fprintf(&b, "│ Completed: %s/%s\n", transform.FormatSize(s.Done), transform.FormatSize(s.Total))
	fmt.Fprintf(&b, "│ Bytes: %.2f%%\n", pct)
	fmt.Fprintf(&b, "│ Speed: %s/s\n", transform.FormatSize(int64(s.Speed)))
	fmt.Fprintf(&b, "│ ETA: %s\n", FormatDuration(s.ETA))
	b.WriteString("╰─────────────────────╯")
	return b.String()
}
