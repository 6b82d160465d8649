package extractor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blockedby/tg-extractor/internal/logger"
	"github.com/blockedby/tg-extractor/internal/models"
)

// ErrClosed is returned when starting work on a closed registry.
var ErrClosed = errors.New("extractor registry is closed")

// Runner executes one extraction run.
type Runner interface {
	Run(ctx context.Context, req Request, cancel *atomic.Bool) Result
}

// Task is a handle on a background extraction run.
type Task struct {
	UserID    int64
	Total     int
	StartedAt time.Time

	cancel atomic.Bool
	done   chan struct{}
	result Result
}

// Done is closed once the run has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Result returns the outcome. Valid only after Done is closed.
func (t *Task) Result() Result {
	<-t.done
	return t.result
}

// TaskStatus describes the run a user currently has.
type TaskStatus struct {
	Running   bool                  `json:"running"`
	StartedAt time.Time             `json:"started_at"`
	Total     int                   `json:"total"`
	Job       *models.ExtractionJob `json:"job,omitempty"`
}

// Registry owns the background runs and their cancellation flags. At most one
// extraction per user is live: starting a new one cancels the previous run
// and waits for it to finish before the new job is recorded.
type Registry struct {
	runner Runner
	jobs   JobStore
	log    *logger.Logger

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu     sync.Mutex
	tasks  map[int64]*Task
	closed bool
}

// NewRegistry creates a registry running extractions through runner.
func NewRegistry(runner Runner, jobs JobStore) *Registry {
	// runs outlive the request that started them
	ctx, stop := context.WithCancel(context.Background())
	return &Registry{
		runner: runner,
		jobs:   jobs,
		log:    logger.Get().Component("registry"),
		ctx:    ctx,
		stop:   stop,
		tasks:  make(map[int64]*Task),
	}
}

// Start launches req in the background and returns its handle.
func (g *Registry) Start(req Request) (*Task, error) {
	t := &Task{UserID: req.UserID, Total: req.Count, StartedAt: time.Now(), done: make(chan struct{})}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrClosed
	}
	prev := g.tasks[req.UserID]
	g.tasks[req.UserID] = t
	g.wg.Add(1)
	g.mu.Unlock()

	if prev != nil {
		g.log.Info().Int64("user_id", req.UserID).Msg("replacing running extraction")
		prev.cancel.Store(true)
	}

	go func() {
		defer g.wg.Done()
		defer close(t.done)
		defer g.remove(t)

		if prev != nil {
			<-prev.done
		}
		t.result = g.runner.Run(g.ctx, req, &t.cancel)
	}()

	return t, nil
}

// Go runs fn as tracked background work that Close waits for.
func (g *Registry) Go(fn func(ctx context.Context)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn(g.ctx)
	}()
	return nil
}

func (g *Registry) remove(t *Task) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tasks[t.UserID] == t {
		delete(g.tasks, t.UserID)
	}
}

// Cancel requests cancellation of the user's run. The engine notices it at
// the next item boundary. Without a live run, an active job left in the store
// is cancelled directly. The result reports whether anything was cancelled.
func (g *Registry) Cancel(ctx context.Context, userID int64) (bool, error) {
	g.mu.Lock()
	t := g.tasks[userID]
	g.mu.Unlock()

	if t != nil {
		t.cancel.Store(true)
		g.log.Info().Int64("user_id", userID).Msg("cancellation requested")
		return true, nil
	}

	job, err := g.jobs.GetActive(ctx, userID)
	if err != nil || job == nil {
		return false, err
	}
	if err := g.jobs.Cancel(ctx, job.ID); err != nil {
		return false, err
	}
	g.log.Info().Int64("user_id", userID).Str("job_id", job.ID.String()).Msg("cancelled orphaned job")
	return true, nil
}

// Current returns the user's live run, or nil.
func (g *Registry) Current(userID int64) *Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tasks[userID]
}

// Status reports the user's live run together with its stored job.
func (g *Registry) Status(ctx context.Context, userID int64) (TaskStatus, error) {
	t := g.Current(userID)
	if t == nil {
		return TaskStatus{}, nil
	}
	st := TaskStatus{Running: true, StartedAt: t.StartedAt, Total: t.Total}
	job, err := g.jobs.GetActive(ctx, userID)
	if err != nil {
		return st, err
	}
	st.Job = job
	return st, nil
}

// Running returns the number of live runs.
func (g *Registry) Running() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tasks)
}

// Close interrupts every run and waits for all background work to return.
// Interrupted runs end as failed, not cancelled.
func (g *Registry) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	g.stop()
	g.wg.Wait()
}
