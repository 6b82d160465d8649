// Package extractor replicates message ranges between chats and reports progress.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/tg-extractor/internal/logger"
	"github.com/blockedby/tg-extractor/internal/metrics"
	"github.com/blockedby/tg-extractor/internal/models"
	"github.com/blockedby/tg-extractor/internal/repository"
	"github.com/blockedby/tg-extractor/internal/telegram"
	"github.com/blockedby/tg-extractor/internal/transform"
)

// Human readable reasons of runs that end as failed.
const (
	ReasonNotAuthenticated = "not authenticated: please log in first"
	ReasonSourcePrivate    = "this is a private channel that your account cannot access"
	ReasonNotMember        = "you are not a member of this channel or group"
	ReasonSourceNotFound   = "source chat not found"
	ReasonDestination      = "destination chat is not accessible"
	ReasonInterrupted      = "interrupted"
	ReasonRateLimited      = "rate limited by telegram"
	ReasonNoMedia          = "no media found in this message"
)

// errMissingMessage marks an id that has no replicable message.
var errMissingMessage = errors.New("message is missing or empty")

// ConnPool hands out the authenticated connection of a user.
type ConnPool interface {
	Get(ctx context.Context, userID int64) (telegram.Conn, bool)
}

// JobStore persists the job lifecycle.
type JobStore interface {
	Create(ctx context.Context, userID int64, jobType models.JobType, total int) (*models.ExtractionJob, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, processed, failed int) error
	Cancel(ctx context.Context, id uuid.UUID) error
	Finish(ctx context.Context, id uuid.UUID, status models.JobStatus, reason *string) error
	GetActive(ctx context.Context, userID int64) (*models.ExtractionJob, error)
}

// SettingsStore loads per-user settings, returning defaults when absent.
type SettingsStore interface {
	Get(ctx context.Context, userID int64) (models.Settings, error)
}

// StatsRecorder bumps lifetime user counters.
type StatsRecorder interface {
	IncrementStat(ctx context.Context, userID int64, stat repository.Stat) error
}

// Request describes one extraction run.
type Request struct {
	UserID      int64
	Source      telegram.ChatRef
	StartID     int
	Count       int
	Destination *int64           // nil: settings chat id, then the user
	Settings    *models.Settings // nil: loaded from the store at start
}

// Result is the outcome of a run.
type Result struct {
	JobID     uuid.UUID
	Status    models.JobStatus
	Processed int
	Failed    int
	Total     int
	Reason    string
}

// Deps are the collaborators of the engine.
type Deps struct {
	Pool     ConnPool
	Jobs     JobStore
	Settings SettingsStore
	Stats    StatsRecorder
	Sink     Sink
}

// Engine drives extraction runs. It holds no per-run state and can serve
// many users at once.
type Engine struct {
	pool     ConnPool
	jobs     JobStore
	settings SettingsStore
	stats    StatsRecorder
	sink     Sink

	pacing time.Duration
	sleep  sleeper
	log    *logger.Logger
}

// NewEngine creates an engine that waits pacing between items.
func NewEngine(deps Deps, pacing time.Duration) *Engine {
	return &Engine{
		pool:     deps.Pool,
		jobs:     deps.Jobs,
		settings: deps.Settings,
		stats:    deps.Stats,
		sink:     deps.Sink,
		pacing:   pacing,
		sleep:    sleepCtx,
		log:      logger.Get().Component("extractor"),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run carries the state of one invocation.
type run struct {
	req      Request
	conn     telegram.Conn
	job      *models.ExtractionJob
	settings models.Settings
	source   *telegram.Peer
	dest     *telegram.Peer

	processed int
	failed    int
	started   time.Time
	log       *logger.Logger
}

// Run executes req synchronously. cancel is polled between items; it is
// never consulted while an item is in flight.
func (e *Engine) Run(ctx context.Context, req Request, cancel *atomic.Bool) Result {
	r := &run{req: req, started: time.Now(), log: e.log.ForUser(req.UserID)}

	conn, ok := e.pool.Get(ctx, req.UserID)
	if !ok {
		r.log.Warn().Msg("extraction rejected: no session")
		metrics.RunRejected(string(models.JobTypeBatchExtraction))
		return e.fail(ctx, r, ReasonNotAuthenticated)
	}
	r.conn = conn
	r.settings = e.snapshot(ctx, r)

	job, err := e.jobs.Create(ctx, req.UserID, models.JobTypeBatchExtraction, req.Count)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to record job")
		metrics.RunRejected(string(models.JobTypeBatchExtraction))
		return e.fail(ctx, r, fmt.Sprintf("could not start extraction: %v", err))
	}
	r.job = job
	r.log = &logger.Logger{Logger: r.log.With().Str("job_id", job.ID.String()).Logger()}
	metrics.RunStarted()

	r.log.Info().
		Str("source", req.Source.String()).
		Int("start_message_id", req.StartID).
		Int("count", req.Count).
		Msg("extraction started")

	if reason, ok := e.setup(ctx, r); !ok {
		return e.fail(ctx, r, reason)
	}

	for offset := 0; offset < req.Count; offset++ {
		if cancel != nil && cancel.Load() {
			return e.cancelled(ctx, r)
		}
		if ctx.Err() != nil {
			return e.fail(ctx, r, ReasonInterrupted)
		}

		msgID := req.StartID + offset
		err := e.withRetry(ctx, r, msgID, func() error {
			return e.replicate(ctx, r, msgID, offset)
		})

		if err == nil {
			r.processed++
			metrics.ItemProcessed()
		} else {
			if ctx.Err() != nil {
				return e.fail(ctx, r, ReasonInterrupted)
			}
			r.failed++
			metrics.ItemFailed()
			r.log.Warn().Err(err).Int("message_id", msgID).Msg("failed to replicate message")
		}

		if perr := e.jobs.UpdateProgress(ctx, r.job.ID, r.processed, r.failed); perr != nil {
			r.log.Warn().Err(perr).Msg("failed to persist progress")
		}
		if err == nil {
			e.emit(ctx, r, EventProgress, RenderBatchProgress(r.processed, req.Count), "")
		}

		if offset < req.Count-1 {
			if err := e.sleep(ctx, e.pacing); err != nil {
				return e.fail(ctx, r, ReasonInterrupted)
			}
		}
	}

	return e.completed(ctx, r)
}

// snapshot freezes the settings for the whole run.
func (e *Engine) snapshot(ctx context.Context, r *run) models.Settings {
	if r.req.Settings != nil {
		return r.req.Settings.Snapshot()
	}
	s, err := e.settings.Get(ctx, r.req.UserID)
	if err != nil {
		r.log.Warn().Err(err).Msg("failed to load settings, using defaults")
		return models.DefaultSettings(r.req.UserID)
	}
	return s.Snapshot()
}

// setup resolves source and destination. Any fault here aborts the run.
func (e *Engine) setup(ctx context.Context, r *run) (string, bool) {
	err := e.withRetry(ctx, r, 0, func() error {
		var err error
		r.source, err = r.conn.ResolveChat(ctx, r.req.Source)
		return err
	})
	if err != nil {
		r.log.Error().Err(err).Str("source", r.req.Source.String()).Msg("failed to resolve source chat")
		return setupReason(err, false), false
	}

	destID := r.req.UserID
	switch {
	case r.req.Destination != nil:
		destID = *r.req.Destination
	case r.settings.ChatID != nil:
		destID = *r.settings.ChatID
	}
	if destID == r.req.UserID {
		destID = r.conn.SelfID()
	}

	err = e.withRetry(ctx, r, 0, func() error {
		var err error
		r.dest, err = r.conn.ResolveChat(ctx, telegram.ChatByID(destID))
		return err
	})
	if err != nil {
		r.log.Error().Err(err).Int64("destination", destID).Msg("failed to resolve destination chat")
		return setupReason(err, true), false
	}
	return "", true
}

// setupReason maps a fault hit while resolving chats to the reason the run
// fails with. Faults of individual items never end up here.
func setupReason(err error, dest bool) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ReasonInterrupted
	}
	f := telegram.Classify(err)
	if f.Kind == telegram.FaultRateLimited {
		return fmt.Sprintf("%s, try again in %s", ReasonRateLimited, f.Wait)
	}
	if dest {
		return ReasonDestination
	}
	switch f.Kind {
	case telegram.FaultPrivate:
		return ReasonSourcePrivate
	case telegram.FaultNotMember:
		return ReasonNotMember
	case telegram.FaultDestination:
		return ReasonDestination
	case telegram.FaultNotFound:
		return ReasonSourceNotFound
	}
	return fmt.Sprintf("could not resolve source chat: %v", err)
}

// withRetry applies the flood policy to one unit of work of the run.
func (e *Engine) withRetry(ctx context.Context, r *run, msgID int, op func() error) error {
	return retryOnFlood(ctx, e.sleep, r.log, msgID, op)
}

// replicate copies one message to the destination.
func (e *Engine) replicate(ctx context.Context, r *run, msgID, index int) error {
	msg, err := r.conn.FetchMessage(ctx, r.source, msgID)
	if err != nil {
		return fmt.Errorf("fetch message: %w", err)
	}
	if msg == nil {
		return errMissingMessage
	}

	if !msg.HasMedia() {
		return r.conn.Forward(ctx, r.source, msgID, r.dest)
	}

	name, special := originalName(msg.Media, index)
	if !special {
		return r.conn.Forward(ctx, r.source, msgID, r.dest)
	}

	ov := overridesFor(r.settings, name, msg.Media.Size, index)
	err = r.conn.Copy(ctx, msg, r.dest, ov)
	if err == nil || telegram.KindOf(err) != telegram.FaultOther {
		return err
	}

	r.log.Warn().Err(err).Int("message_id", msgID).Msg("copy failed, falling back to forward")
	return r.conn.Forward(ctx, r.source, msgID, r.dest)
}

// originalName derives the file name of media. special is false for kinds
// that are forwarded untouched.
func originalName(m *telegram.Media, index int) (name string, special bool) {
	switch m.Kind {
	case telegram.MediaDocument:
		return orDefault(m.FileName, fmt.Sprintf("file_%d", index)), true
	case telegram.MediaVideo:
		return orDefault(m.FileName, fmt.Sprintf("video_%d.mp4", index)), true
	case telegram.MediaAudio:
		return orDefault(m.FileName, fmt.Sprintf("audio_%d.mp3", index)), true
	case telegram.MediaPhoto:
		return fmt.Sprintf("photo_%d.jpg", index), true
	}
	return "", false
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func overridesFor(s models.Settings, name string, size int64, index int) telegram.Overrides {
	ov := telegram.Overrides{FileName: name}
	if s.RenameTemplate != nil {
		ov.FileName = transform.ApplyRename(name, *s.RenameTemplate, index)
	}
	ov.Caption, ov.HasCaption = transform.ApplyCaption(s.CaptionTemplate, ov.FileName, size, index)
	if s.Thumbnail != nil {
		ov.Thumbnail = *s.Thumbnail
	}
	return ov
}

func (e *Engine) emit(ctx context.Context, r *run, kind EventKind, text, reason string) {
	ev := Event{
		UserID:    r.req.UserID,
		JobType:   models.JobTypeBatchExtraction,
		Kind:      kind,
		Text:      text,
		Processed: r.processed,
		Failed:    r.failed,
		Total:     r.req.Count,
		Terminal:  kind != EventProgress,
		Reason:    reason,
	}
	if r.job != nil {
		ev.JobID = r.job.ID
	}
	notify(ctx, e.sink, r.log, ev)
}

// finish persists the terminal status. It uses a context detached from
// cancellation so shutdown still records the outcome.
func (e *Engine) finish(ctx context.Context, r *run, status models.JobStatus, reason string) Result {
	res := Result{Status: status, Processed: r.processed, Failed: r.failed, Total: r.req.Count, Reason: reason}
	if r.job == nil {
		return res
	}
	res.JobID = r.job.ID

	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}
	dbCtx := context.WithoutCancel(ctx)
	if err := e.jobs.UpdateProgress(dbCtx, r.job.ID, r.processed, r.failed); err != nil {
		r.log.Warn().Err(err).Msg("failed to persist progress")
	}
	if err := e.jobs.Finish(dbCtx, r.job.ID, status, reasonPtr); err != nil {
		r.log.Error().Err(err).Str("status", string(status)).Msg("failed to finish job")
	}
	metrics.RunFinished(string(models.JobTypeBatchExtraction), string(status), time.Since(r.started))
	return res
}

func (e *Engine) fail(ctx context.Context, r *run, reason string) Result {
	res := e.finish(ctx, r, models.JobStatusFailed, reason)
	e.emit(context.WithoutCancel(ctx), r, EventFailed, RenderFailed(reason), reason)
	return res
}

func (e *Engine) cancelled(ctx context.Context, r *run) Result {
	res := e.finish(ctx, r, models.JobStatusCancelled, "")
	r.log.Info().Int("processed", r.processed).Msg("extraction cancelled")
	e.emit(ctx, r, EventCancelled, RenderCancelled(r.processed, r.req.Count), "")
	return res
}

func (e *Engine) completed(ctx context.Context, r *run) Result {
	res := e.finish(ctx, r, models.JobStatusCompleted, "")
	if e.stats != nil {
		if err := e.stats.IncrementStat(context.WithoutCancel(ctx), r.req.UserID, repository.StatExtractions); err != nil {
			r.log.Warn().Err(err).Msg("failed to increment extraction counter")
		}
	}
	r.log.Info().
		Int("processed", r.processed).
		Int("failed", r.failed).
		Dur("elapsed", time.Since(r.started)).
		Msg("extraction completed")
	e.emit(ctx, r, EventCompleted, RenderCompleted(r.processed, r.failed, r.req.Count), "")
	return res
}
