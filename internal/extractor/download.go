package extractor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/tg-extractor/internal/logger"
	"github.com/blockedby/tg-extractor/internal/metrics"
	"github.com/blockedby/tg-extractor/internal/models"
	"github.com/blockedby/tg-extractor/internal/repository"
	"github.com/blockedby/tg-extractor/internal/telegram"
)

// DownloadRequest asks for the media of one linked message.
type DownloadRequest struct {
	UserID int64
	Link   string
	Kind   string // sub directory under the download dir, e.g. "video" or "audio"
}

// DownloadResult is the outcome of a download run.
type DownloadResult struct {
	JobID  uuid.UUID
	Status models.JobStatus
	Path   string
	Reason string
}

// Downloader saves linked media to local storage.
type Downloader struct {
	pool     ConnPool
	jobs     JobStore
	stats    StatsRecorder
	sink     Sink
	dir      string
	interval time.Duration

	sleep sleeper
	now   func() time.Time
	log   *logger.Logger
}

// NewDownloader creates a downloader writing below dir and reporting
// progress at most once per interval.
func NewDownloader(deps Deps, dir string, interval time.Duration) *Downloader {
	return &Downloader{
		pool:     deps.Pool,
		jobs:     deps.Jobs,
		stats:    deps.Stats,
		sink:     deps.Sink,
		dir:      dir,
		interval: interval,
		sleep:    sleepCtx,
		now:      time.Now,
		log:      logger.Get().Component("downloader"),
	}
}

// Run downloads the media of req synchronously.
func (d *Downloader) Run(ctx context.Context, req DownloadRequest) DownloadResult {
	log := d.log.ForUser(req.UserID)
	st := &downloadRun{d: d, req: req, log: log}

	conn, ok := d.pool.Get(ctx, req.UserID)
	if !ok {
		metrics.RunRejected(string(models.JobTypeDownload))
		return st.fail(ctx, ReasonNotAuthenticated)
	}

	ref, err := telegram.ParseLink(req.Link)
	if err != nil {
		metrics.RunRejected(string(models.JobTypeDownload))
		return st.fail(ctx, "invalid telegram link")
	}

	job, err := d.jobs.Create(ctx, req.UserID, models.JobTypeDownload, 1)
	if err != nil {
		log.Error().Err(err).Msg("failed to record job")
		metrics.RunRejected(string(models.JobTypeDownload))
		return st.fail(ctx, fmt.Sprintf("could not start download: %v", err))
	}
	st.job = job
	st.started = d.now()
	metrics.RunStarted()

	var chat *telegram.Peer
	err = retryOnFlood(ctx, d.sleep, log, ref.MessageID, func() error {
		var err error
		chat, err = conn.ResolveChat(ctx, ref.Chat)
		return err
	})
	if err != nil {
		log.Error().Err(err).Str("chat", ref.Chat.String()).Msg("failed to resolve chat")
		return st.fail(ctx, setupReason(err, false))
	}

	var msg *telegram.Message
	err = retryOnFlood(ctx, d.sleep, log, ref.MessageID, func() error {
		var err error
		msg, err = conn.FetchMessage(ctx, chat, ref.MessageID)
		return err
	})
	if err != nil {
		log.Error().Err(err).Int("message_id", ref.MessageID).Msg("failed to fetch message")
		return st.fail(ctx, fmt.Sprintf("download failed: %v", err))
	}
	if !msg.HasMedia() {
		return st.fail(ctx, ReasonNoMedia)
	}

	dir := d.dir
	if kind := sanitizeKind(req.Kind); kind != "" {
		dir = filepath.Join(dir, kind)
	}

	var path string
	err = retryOnFlood(ctx, d.sleep, log, ref.MessageID, func() error {
		var err error
		path, err = conn.Download(ctx, msg, dir, st.progress)
		return err
	})
	if err != nil {
		log.Error().Err(err).Int("message_id", ref.MessageID).Msg("download failed")
		return st.fail(ctx, fmt.Sprintf("download failed: %v", err))
	}

	return st.completed(ctx, path, msg.Media.Size)
}

// sanitizeKind keeps the kind usable as a single path element.
func sanitizeKind(kind string) string {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" || strings.ContainsAny(kind, `/\.`) {
		return ""
	}
	return kind
}

type downloadRun struct {
	d       *Downloader
	req     DownloadRequest
	job     *models.ExtractionJob
	started time.Time
	last    time.Time
	log     *logger.Logger
}

// progress throttles provider callbacks to one event per interval.
func (s *downloadRun) progress(p telegram.DownloadProgress) {
	now := s.d.now()
	if now.Sub(s.last) < s.d.interval {
		return
	}
	s.last = now

	status := DownloadStatus{Done: p.Done, Total: p.Total}
	if elapsed := now.Sub(s.started).Seconds(); elapsed > 0 {
		status.Speed = float64(p.Done) / elapsed
	}
	if status.Speed > 0 && p.Total > p.Done {
		status.ETA = int(float64(p.Total-p.Done) / status.Speed)
	}
	s.emit(context.Background(), EventProgress, RenderDownload(status), "", &status)
}

func (s *downloadRun) emit(ctx context.Context, kind EventKind, text, reason string, status *DownloadStatus) {
	ev := Event{
		UserID:   s.req.UserID,
		JobType:  models.JobTypeDownload,
		Kind:     kind,
		Text:     text,
		Total:    1,
		Terminal: kind != EventProgress,
		Reason:   reason,
		Download: status,
	}
	if kind == EventCompleted {
		ev.Processed = 1
	}
	if s.job != nil {
		ev.JobID = s.job.ID
	}
	notify(ctx, s.d.sink, s.log, ev)
}

func (s *downloadRun) finish(ctx context.Context, status models.JobStatus, reason string) DownloadResult {
	res := DownloadResult{Status: status, Reason: reason}
	if s.job == nil {
		return res
	}
	res.JobID = s.job.ID

	dbCtx := context.WithoutCancel(ctx)
	processed, failed := 1, 0
	var reasonPtr *string
	if status != models.JobStatusCompleted {
		processed, failed = 0, 1
		reasonPtr = &reason
	}
	if err := s.d.jobs.UpdateProgress(dbCtx, s.job.ID, processed, failed); err != nil {
		s.log.Warn().Err(err).Msg("failed to persist progress")
	}
	if err := s.d.jobs.Finish(dbCtx, s.job.ID, status, reasonPtr); err != nil {
		s.log.Error().Err(err).Msg("failed to finish job")
	}
	metrics.RunFinished(string(models.JobTypeDownload), string(status), s.d.now().Sub(s.started))
	return res
}

func (s *downloadRun) fail(ctx context.Context, reason string) DownloadResult {
	res := s.finish(ctx, models.JobStatusFailed, reason)
	s.emit(context.WithoutCancel(ctx), EventFailed, RenderFailed(reason), reason, nil)
	return res
}

func (s *downloadRun) completed(ctx context.Context, path string, size int64) DownloadResult {
	res := s.finish(ctx, models.JobStatusCompleted, "")
	res.Path = path

	metrics.DownloadedBytes(size)
	if s.d.stats != nil {
		if err := s.d.stats.IncrementStat(context.WithoutCancel(ctx), s.req.UserID, repository.StatDownloads); err != nil {
			s.log.Warn().Err(err).Msg("failed to increment download counter")
		}
	}
	s.log.Info().Str("path", path).Int64("size", size).Msg("download completed")

	status := DownloadStatus{Done: size, Total: size, Path: path}
	s.emit(ctx, EventCompleted, "✅ Downloaded "+filepath.Base(path), "", &status)
	return res
}
