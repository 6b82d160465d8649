package extractor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tg-extractor/internal/models"
	"github.com/blockedby/tg-extractor/internal/repository"
	"github.com/blockedby/tg-extractor/internal/telegram"
	"github.com/blockedby/tg-extractor/internal/transform"
)

func TestEngine_MissingMessagesCountAsFailures(t *testing.T) {
	h := newHarness()
	// offsets 2 and 4 have no message
	h.conn.addText(100, 101, 103)

	res := h.engine.Run(context.Background(), rangeRequest(100, 5), nil)

	assert.Equal(t, models.JobStatusCompleted, res.Status)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, []int{100, 101, 103}, h.conn.forwarded)

	job := h.jobs.get(res.JobID)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 3, job.Processed)
	assert.Equal(t, 2, job.Failed)
	assert.Equal(t, models.JobTypeBatchExtraction, job.JobType)

	terminal := h.sink.terminal()
	require.Len(t, terminal, 1)
	assert.Equal(t, EventCompleted, terminal[0].Kind)
	assert.Contains(t, terminal[0].Text, "Processed: 3")
	assert.Contains(t, terminal[0].Text, "Failed: 2")
	assert.Equal(t, 1, h.stats.get(repository.StatExtractions))
}

func TestEngine_ProgressOrdering(t *testing.T) {
	h := newHarness()
	h.conn.addText(1, 2, 3, 4)

	res := h.engine.Run(context.Background(), rangeRequest(1, 4), nil)
	require.Equal(t, models.JobStatusCompleted, res.Status)

	events := h.sink.all()
	require.Len(t, events, 5)
	for i, ev := range events[:4] {
		assert.Equal(t, EventProgress, ev.Kind)
		assert.False(t, ev.Terminal)
		assert.Equal(t, i+1, ev.Processed)
		assert.Equal(t, res.JobID, ev.JobID)
		assert.Contains(t, ev.Text, "Processing: ")
	}
	last := events[4]
	assert.True(t, last.Terminal)
	assert.Equal(t, EventCompleted, last.Kind)
}

func TestEngine_PacingBetweenItemsOnly(t *testing.T) {
	h := newHarness()
	h.conn.addText(1, 2, 3)

	h.engine.Run(context.Background(), rangeRequest(1, 3), nil)

	assert.Equal(t, []time.Duration{10 * time.Millisecond, 10 * time.Millisecond}, h.sleeps.recorded())
}

func TestEngine_CancelAtNextBoundary(t *testing.T) {
	h := newHarness()
	h.conn.addText(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)

	var cancel atomic.Bool
	h.conn.forward = func(id int) error {
		if id == 3 {
			cancel.Store(true)
		}
		return nil
	}

	res := h.engine.Run(context.Background(), rangeRequest(1, 10), &cancel)

	assert.Equal(t, models.JobStatusCancelled, res.Status)
	assert.Contains(t, []int{2, 3}, res.Processed)
	assert.Equal(t, models.JobStatusCancelled, h.jobs.get(res.JobID).Status)

	terminal := h.sink.terminal()
	require.Len(t, terminal, 1)
	assert.Equal(t, EventCancelled, terminal[0].Kind)
	assert.Zero(t, h.stats.get(repository.StatExtractions))
}

func TestEngine_CancelledBeforeFirstItem(t *testing.T) {
	h := newHarness()
	h.conn.addText(1)

	var cancel atomic.Bool
	cancel.Store(true)
	res := h.engine.Run(context.Background(), rangeRequest(1, 1), &cancel)

	assert.Equal(t, models.JobStatusCancelled, res.Status)
	assert.Zero(t, res.Processed)
	assert.Empty(t, h.conn.forwarded)
}

func TestEngine_ContextCancelledIsInterrupted(t *testing.T) {
	h := newHarness()
	h.conn.addText(1, 2, 3, 4)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	h.conn.forward = func(id int) error {
		if id == 2 {
			stop()
		}
		return nil
	}

	res := h.engine.Run(ctx, rangeRequest(1, 4), nil)

	assert.Equal(t, models.JobStatusFailed, res.Status)
	assert.Equal(t, ReasonInterrupted, res.Reason)
	assert.Equal(t, 2, res.Processed)

	job := h.jobs.get(res.JobID)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.Reason)
	assert.Equal(t, ReasonInterrupted, *job.Reason)
	require.Len(t, h.sink.terminal(), 1)
}

func TestEngine_FloodWaitRetriesOnceWithExactWait(t *testing.T) {
	h := newHarness()
	h.conn.addText(7)

	var calls int
	h.conn.fetch = func(id int) (*telegram.Message, error) {
		calls++
		if calls == 1 {
			return nil, telegram.RateLimited(15 * time.Second)
		}
		return h.conn.messages[id], nil
	}

	res := h.engine.Run(context.Background(), rangeRequest(7, 1), nil)

	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, res.Processed)
	assert.Zero(t, res.Failed)
	assert.Equal(t, []time.Duration{15 * time.Second}, h.sleeps.recorded())
}

func TestEngine_SecondFloodCountsAsFailure(t *testing.T) {
	h := newHarness()
	h.conn.addText(7, 8)

	var calls int
	h.conn.fetch = func(id int) (*telegram.Message, error) {
		if id == 7 {
			calls++
			return nil, telegram.RateLimited(3 * time.Second)
		}
		return h.conn.messages[id], nil
	}

	res := h.engine.Run(context.Background(), rangeRequest(7, 2), nil)

	assert.Equal(t, 2, calls, "one retry only")
	assert.Equal(t, models.JobStatusCompleted, res.Status)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Failed)
}

func TestEngine_SetupFaults(t *testing.T) {
	tests := []struct {
		name   string
		source error
		dest   error
		reason string
	}{
		{"private source", telegram.NewFault(telegram.FaultPrivate, errors.New("CHANNEL_PRIVATE")), nil, ReasonSourcePrivate},
		{"not a member", telegram.NewFault(telegram.FaultNotMember, errors.New("USER_NOT_PARTICIPANT")), nil, ReasonNotMember},
		{"source not found", telegram.NewFault(telegram.FaultNotFound, errors.New("USERNAME_NOT_OCCUPIED")), nil, ReasonSourceNotFound},
		{"destination", nil, errors.New("PEER_ID_INVALID"), ReasonDestination},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.conn.addText(1)
			h.conn.resolve = func(ref telegram.ChatRef) (*telegram.Peer, error) {
				if ref.ID == testSource && tt.source != nil {
					return nil, tt.source
				}
				if ref.ID == testSelf && tt.dest != nil {
					return nil, tt.dest
				}
				return telegram.NewPeer(ref.ID, "", "", nil), nil
			}

			res := h.engine.Run(context.Background(), rangeRequest(1, 1), nil)

			assert.Equal(t, models.JobStatusFailed, res.Status)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Empty(t, h.conn.forwarded)

			job := h.jobs.get(res.JobID)
			assert.Equal(t, models.JobStatusFailed, job.Status)
			require.NotNil(t, job.Reason)
			assert.Equal(t, tt.reason, *job.Reason)

			events := h.sink.all()
			require.Len(t, events, 1)
			assert.Equal(t, EventFailed, events[0].Kind)
			assert.True(t, events[0].Terminal)
			assert.Equal(t, tt.reason, events[0].Reason)
		})
	}
}

func TestEngine_DestinationResolveFaults(t *testing.T) {
	t.Run("interrupted", func(t *testing.T) {
		h := newHarness()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		h.conn.resolve = func(ref telegram.ChatRef) (*telegram.Peer, error) {
			if ref.ID == testSelf {
				cancel()
				return nil, ctx.Err()
			}
			return telegram.NewPeer(ref.ID, "", "", nil), nil
		}

		res := h.engine.Run(ctx, rangeRequest(1, 1), nil)

		assert.Equal(t, models.JobStatusFailed, res.Status)
		assert.Equal(t, ReasonInterrupted, res.Reason)
	})

	t.Run("flooded twice", func(t *testing.T) {
		h := newHarness()
		h.conn.resolve = func(ref telegram.ChatRef) (*telegram.Peer, error) {
			if ref.ID == testSelf {
				return nil, telegram.RateLimited(30 * time.Second)
			}
			return telegram.NewPeer(ref.ID, "", "", nil), nil
		}

		res := h.engine.Run(context.Background(), rangeRequest(1, 1), nil)

		assert.Equal(t, models.JobStatusFailed, res.Status)
		assert.True(t, strings.HasPrefix(res.Reason, ReasonRateLimited), res.Reason)
		assert.Contains(t, res.Reason, "30s")
	})

	t.Run("private destination", func(t *testing.T) {
		h := newHarness()
		h.conn.resolve = func(ref telegram.ChatRef) (*telegram.Peer, error) {
			if ref.ID == testSelf {
				return nil, tgerr.New(400, "CHANNEL_PRIVATE")
			}
			return telegram.NewPeer(ref.ID, "", "", nil), nil
		}

		res := h.engine.Run(context.Background(), rangeRequest(1, 1), nil)

		assert.Equal(t, ReasonDestination, res.Reason)
	})
}

func TestEngine_UnclassifiedSetupFaultIsFatal(t *testing.T) {
	h := newHarness()
	h.conn.resolve = func(ref telegram.ChatRef) (*telegram.Peer, error) {
		return nil, errors.New("connection reset")
	}

	res := h.engine.Run(context.Background(), rangeRequest(1, 3), nil)

	assert.Equal(t, models.JobStatusFailed, res.Status)
	assert.True(t, strings.HasPrefix(res.Reason, "could not resolve source chat"), res.Reason)
}

func TestEngine_FloodDuringSetupIsRetried(t *testing.T) {
	h := newHarness()
	h.conn.addText(1)
	var calls int
	h.conn.resolve = func(ref telegram.ChatRef) (*telegram.Peer, error) {
		if ref.ID == testSource {
			calls++
			if calls == 1 {
				return nil, telegram.RateLimited(2 * time.Second)
			}
		}
		return telegram.NewPeer(ref.ID, "", "", nil), nil
	}

	res := h.engine.Run(context.Background(), rangeRequest(1, 1), nil)

	assert.Equal(t, models.JobStatusCompleted, res.Status)
	assert.Contains(t, h.sleeps.recorded(), 2*time.Second)
}

func TestEngine_NotAuthenticated(t *testing.T) {
	h := newHarness()
	h.pool.conn = nil

	res := h.engine.Run(context.Background(), rangeRequest(1, 5), nil)

	assert.Equal(t, models.JobStatusFailed, res.Status)
	assert.Equal(t, ReasonNotAuthenticated, res.Reason)
	assert.Equal(t, uuid.Nil, res.JobID)
	assert.Zero(t, h.jobs.count(), "no job is recorded")

	events := h.sink.all()
	require.Len(t, events, 1)
	assert.True(t, events[0].Terminal)
	assert.Equal(t, uuid.Nil, events[0].JobID)
}

func TestEngine_JobCreateFails(t *testing.T) {
	h := newHarness()
	h.jobs.createErr = errors.New("db down")

	res := h.engine.Run(context.Background(), rangeRequest(1, 2), nil)

	assert.Equal(t, models.JobStatusFailed, res.Status)
	assert.Contains(t, res.Reason, "db down")
	require.Len(t, h.sink.terminal(), 1)
}

func TestEngine_ClassifiedFaultMidRunContinues(t *testing.T) {
	t.Run("destination refuses media", func(t *testing.T) {
		h := newHarness()
		for id := 1; id <= 5; id++ {
			h.conn.addMedia(id, mediaDoc(""))
		}
		h.conn.copy = func(msg *telegram.Message, _ telegram.Overrides) error {
			if msg.ID == 2 {
				return tgerr.New(403, "CHAT_SEND_MEDIA_FORBIDDEN")
			}
			return nil
		}

		res := h.engine.Run(context.Background(), rangeRequest(1, 5), nil)

		assert.Equal(t, models.JobStatusCompleted, res.Status)
		assert.Empty(t, res.Reason)
		assert.Equal(t, 4, res.Processed)
		assert.Equal(t, 1, res.Failed)
		assert.Len(t, h.conn.copied, 4)
		assert.Empty(t, h.conn.forwarded, "classified copy faults do not fall back")
	})

	t.Run("unknown peer on fetch", func(t *testing.T) {
		h := newHarness()
		h.conn.addText(1, 2, 3)
		h.conn.fetch = func(id int) (*telegram.Message, error) {
			if id == 2 {
				return nil, tgerr.New(400, "PEER_ID_INVALID")
			}
			return &telegram.Message{ID: id, Text: "hello"}, nil
		}

		res := h.engine.Run(context.Background(), rangeRequest(1, 3), nil)

		assert.Equal(t, models.JobStatusCompleted, res.Status)
		assert.Equal(t, 2, res.Processed)
		assert.Equal(t, 1, res.Failed)
		assert.Equal(t, []int{1, 3}, h.conn.forwarded)

		job := h.jobs.get(res.JobID)
		assert.Equal(t, models.JobStatusCompleted, job.Status)
		assert.Nil(t, job.Reason)
	})

	t.Run("private and not member", func(t *testing.T) {
		h := newHarness()
		h.conn.addText(1, 2, 3)
		h.conn.forward = func(id int) error {
			switch id {
			case 1:
				return telegram.NewFault(telegram.FaultPrivate, errors.New("CHANNEL_PRIVATE"))
			case 2:
				return telegram.NewFault(telegram.FaultNotMember, errors.New("USER_NOT_PARTICIPANT"))
			}
			return nil
		}

		res := h.engine.Run(context.Background(), rangeRequest(1, 3), nil)

		assert.Equal(t, models.JobStatusCompleted, res.Status)
		assert.Equal(t, 1, res.Processed)
		assert.Equal(t, 2, res.Failed)
		require.Len(t, h.sink.terminal(), 1)
		assert.Equal(t, EventCompleted, h.sink.terminal()[0].Kind)
	})
}

func TestEngine_OtherFaultMidRunContinues(t *testing.T) {
	h := newHarness()
	h.conn.addText(1, 2, 3)
	h.conn.forward = func(id int) error {
		if id == 2 {
			return errors.New("MEDIA_EMPTY")
		}
		return nil
	}

	res := h.engine.Run(context.Background(), rangeRequest(1, 3), nil)

	assert.Equal(t, models.JobStatusCompleted, res.Status)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Failed)
}

func TestEngine_DestinationSelection(t *testing.T) {
	target := int64(-1009876543210)

	t.Run("defaults to own account", func(t *testing.T) {
		h := newHarness()
		h.conn.addText(1)
		h.engine.Run(context.Background(), rangeRequest(1, 1), nil)
		assert.Equal(t, []int64{testSelf}, h.conn.dests)
	})

	t.Run("settings chat", func(t *testing.T) {
		h := newHarness()
		h.conn.addText(1)
		h.settings.s.ChatID = &target
		h.engine.Run(context.Background(), rangeRequest(1, 1), nil)
		assert.Equal(t, []int64{target}, h.conn.dests)
	})

	t.Run("request wins over settings", func(t *testing.T) {
		h := newHarness()
		h.conn.addText(1)
		other := int64(-100555)
		h.settings.s.ChatID = &target
		req := rangeRequest(1, 1)
		req.Destination = &other
		h.engine.Run(context.Background(), req, nil)
		assert.Equal(t, []int64{other}, h.conn.dests)
	})

	t.Run("user id means self", func(t *testing.T) {
		h := newHarness()
		h.conn.addText(1)
		req := rangeRequest(1, 1)
		self := testUser
		req.Destination = &self
		h.engine.Run(context.Background(), req, nil)
		assert.Equal(t, []int64{testSelf}, h.conn.dests)
	})
}

func TestEngine_MediaRouting(t *testing.T) {
	h := newHarness()
	h.conn.addMedia(0, telegram.Media{Kind: telegram.MediaVideo, Size: 10})
	h.conn.addMedia(1, telegram.Media{Kind: telegram.MediaOther})
	h.conn.addMedia(2, telegram.Media{Kind: telegram.MediaPhoto, Size: 5})
	h.conn.addMedia(3, telegram.Media{Kind: telegram.MediaDocument})
	h.conn.addMedia(4, telegram.Media{Kind: telegram.MediaAudio, FileName: "song.ogg"})

	res := h.engine.Run(context.Background(), Request{
		UserID: testUser, Source: telegram.ChatByID(testSource), StartID: 0, Count: 5,
	}, nil)
	require.Equal(t, 5, res.Processed)

	assert.Equal(t, []int{1}, h.conn.forwarded, "other media is forwarded untouched")

	names := make([]string, 0, len(h.conn.copied))
	for _, ov := range h.conn.copied {
		names = append(names, ov.FileName)
		assert.False(t, ov.HasCaption)
	}
	assert.Equal(t, []string{"video_0.mp4", "photo_2.jpg", "file_3", "song.ogg"}, names)
}

func TestEngine_RenameAndCaption(t *testing.T) {
	h := newHarness()
	h.conn.addMedia(10, telegram.Media{Kind: telegram.MediaDocument, FileName: "report.pdf", Size: 2048})
	h.conn.addMedia(11, telegram.Media{Kind: telegram.MediaDocument, FileName: "notes.txt", Size: 10})

	req := rangeRequest(10, 2)
	req.Settings = &models.Settings{
		UserID:          testUser,
		RenameTemplate:  strPtr("{name}_{index}.{ext}"),
		CaptionTemplate: strPtr("{filename} ({size})"),
		Thumbnail:       strPtr("/tmp/thumb.jpg"),
	}

	// edits made while running must not leak into the run
	h.conn.copy = func(msg *telegram.Message, _ telegram.Overrides) error {
		*req.Settings.RenameTemplate = "changed"
		return nil
	}

	res := h.engine.Run(context.Background(), req, nil)
	require.Equal(t, 2, res.Processed)
	require.Len(t, h.conn.copied, 2)

	first := h.conn.copied[0]
	assert.Equal(t, "report_0.pdf", first.FileName)
	assert.True(t, first.HasCaption)
	assert.Equal(t, "report_0.pdf ("+transform.FormatSize(2048)+")", first.Caption)
	assert.Equal(t, "/tmp/thumb.jpg", first.Thumbnail)

	assert.Equal(t, "notes_1.txt", h.conn.copied[1].FileName)
}

func TestEngine_EmptyCaptionTemplateClearsCaption(t *testing.T) {
	h := newHarness()
	h.conn.addMedia(1, telegram.Media{Kind: telegram.MediaVideo, FileName: "a.mp4"})
	h.settings.s.CaptionTemplate = strPtr("")

	h.engine.Run(context.Background(), rangeRequest(1, 1), nil)

	require.Len(t, h.conn.copied, 1)
	assert.True(t, h.conn.copied[0].HasCaption)
	assert.Empty(t, h.conn.copied[0].Caption)
}

func TestEngine_CopyFallsBackToForward(t *testing.T) {
	h := newHarness()
	h.conn.addMedia(1, telegram.Media{Kind: telegram.MediaDocument, FileName: "a.zip"})
	h.conn.copy = func(*telegram.Message, telegram.Overrides) error {
		return errors.New("FILE_REFERENCE_EXPIRED")
	}

	res := h.engine.Run(context.Background(), rangeRequest(1, 1), nil)

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, []int{1}, h.conn.forwarded)
}

func TestEngine_CopyClassifiedFaultDoesNotFallBack(t *testing.T) {
	h := newHarness()
	h.conn.addMedia(1, telegram.Media{Kind: telegram.MediaDocument, FileName: "a.zip"})
	h.conn.copy = func(*telegram.Message, telegram.Overrides) error {
		return telegram.NewFault(telegram.FaultDestination, errors.New("CHAT_SEND_MEDIA_FORBIDDEN"))
	}

	res := h.engine.Run(context.Background(), rangeRequest(1, 1), nil)

	assert.Equal(t, models.JobStatusFailed, res.Status)
	assert.Equal(t, ReasonDestination, res.Reason)
	assert.Empty(t, h.conn.forwarded)
}

func TestEngine_SettingsLoadFailureUsesDefaults(t *testing.T) {
	h := newHarness()
	h.conn.addMedia(1, telegram.Media{Kind: telegram.MediaDocument, FileName: "a.zip"})
	h.settings.err = errors.New("db down")

	res := h.engine.Run(context.Background(), rangeRequest(1, 1), nil)

	assert.Equal(t, models.JobStatusCompleted, res.Status)
	require.Len(t, h.conn.copied, 1)
	assert.Equal(t, "a.zip", h.conn.copied[0].FileName)
}

func TestEngine_SinkPanicDoesNotStopRun(t *testing.T) {
	h := newHarness()
	h.conn.addText(1, 2)
	h.engine.sink = SinkFunc(func(context.Context, Event) error { panic("boom") })

	var res Result
	require.NotPanics(t, func() {
		res = h.engine.Run(context.Background(), rangeRequest(1, 2), nil)
	})
	assert.Equal(t, models.JobStatusCompleted, res.Status)
	assert.Equal(t, 2, res.Processed)
}
