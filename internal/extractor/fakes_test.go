package extractor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/tg-extractor/internal/models"
	"github.com/blockedby/tg-extractor/internal/repository"
	"github.com/blockedby/tg-extractor/internal/telegram"
)

const (
	testUser   int64 = 42
	testSelf   int64 = 4242
	testSource int64 = -1001234567890
)

// fakeConn is a scripted connection. Hooks that are nil succeed.
type fakeConn struct {
	mu sync.Mutex

	messages map[int]*telegram.Message
	resolve  func(ref telegram.ChatRef) (*telegram.Peer, error)
	fetch    func(id int) (*telegram.Message, error)
	forward  func(id int) error
	copy     func(msg *telegram.Message, ov telegram.Overrides) error
	download func(progress func(telegram.DownloadProgress)) (string, error)

	resolved  []telegram.ChatRef
	forwarded []int
	copied    []telegram.Overrides
	dests     []int64
}

func newFakeConn() *fakeConn {
	return &fakeConn{messages: make(map[int]*telegram.Message)}
}

func (c *fakeConn) addText(ids ...int) {
	for _, id := range ids {
		c.messages[id] = &telegram.Message{ID: id, Text: "hello"}
	}
}

func (c *fakeConn) addMedia(id int, m telegram.Media) {
	c.messages[id] = &telegram.Message{ID: id, Media: &m}
}

func (c *fakeConn) SelfID() int64 { return testSelf }

func (c *fakeConn) ResolveChat(_ context.Context, ref telegram.ChatRef) (*telegram.Peer, error) {
	c.mu.Lock()
	c.resolved = append(c.resolved, ref)
	c.mu.Unlock()
	if c.resolve != nil {
		return c.resolve(ref)
	}
	return telegram.NewPeer(ref.ID, ref.String(), ref.Username, nil), nil
}

func (c *fakeConn) FetchMessage(_ context.Context, _ *telegram.Peer, id int) (*telegram.Message, error) {
	if c.fetch != nil {
		return c.fetch(id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messages[id], nil
}

func (c *fakeConn) Forward(_ context.Context, _ *telegram.Peer, id int, to *telegram.Peer) error {
	if c.forward != nil {
		if err := c.forward(id); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forwarded = append(c.forwarded, id)
	c.dests = append(c.dests, to.ID)
	return nil
}

func (c *fakeConn) Copy(_ context.Context, msg *telegram.Message, to *telegram.Peer, ov telegram.Overrides) error {
	if c.copy != nil {
		if err := c.copy(msg, ov); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.copied = append(c.copied, ov)
	c.dests = append(c.dests, to.ID)
	return nil
}

func (c *fakeConn) Download(_ context.Context, _ *telegram.Message, dir string, progress func(telegram.DownloadProgress)) (string, error) {
	if c.download != nil {
		return c.download(progress)
	}
	return dir + "/file.bin", nil
}

func (c *fakeConn) Close() {}

type fakePool struct {
	conn telegram.Conn
}

func (p *fakePool) Get(context.Context, int64) (telegram.Conn, bool) {
	return p.conn, p.conn != nil
}

// memJobs is an in-memory JobStore with the same transition rules as the
// gorm repository.
type memJobs struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*models.ExtractionJob
	order     []uuid.UUID
	createErr error
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: make(map[uuid.UUID]*models.ExtractionJob)}
}

func (m *memJobs) Create(_ context.Context, userID int64, jobType models.JobType, total int) (*models.ExtractionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	job := &models.ExtractionJob{
		ID:        uuid.New(),
		UserID:    userID,
		JobType:   jobType,
		Total:     total,
		Status:    models.JobStatusActive,
		CreatedAt: time.Now(),
	}
	m.jobs[job.ID] = job
	m.order = append(m.order, job.ID)
	cp := *job
	return &cp, nil
}

func (m *memJobs) UpdateProgress(_ context.Context, id uuid.UUID, processed, failed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return errors.New("job not found")
	}
	if job.Status == models.JobStatusActive {
		job.Processed, job.Failed = processed, failed
	}
	return nil
}

func (m *memJobs) Cancel(ctx context.Context, id uuid.UUID) error {
	return m.Finish(ctx, id, models.JobStatusCancelled, nil)
}

func (m *memJobs) Finish(_ context.Context, id uuid.UUID, status models.JobStatus, reason *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return errors.New("job not found")
	}
	if job.Status == models.JobStatusActive {
		job.Status = status
		job.Reason = reason
	}
	return nil
}

func (m *memJobs) GetActive(_ context.Context, userID int64) (*models.ExtractionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		job := m.jobs[m.order[i]]
		if job.UserID == userID && job.Status == models.JobStatusActive {
			cp := *job
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memJobs) get(id uuid.UUID) models.ExtractionJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func (m *memJobs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

type fakeSettings struct {
	s   models.Settings
	err error
}

func (f *fakeSettings) Get(_ context.Context, userID int64) (models.Settings, error) {
	if f.err != nil {
		return models.Settings{}, f.err
	}
	s := f.s
	s.UserID = userID
	return s, nil
}

type fakeStats struct {
	mu     sync.Mutex
	counts map[repository.Stat]int
}

func (f *fakeStats) IncrementStat(_ context.Context, _ int64, stat repository.Stat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = make(map[repository.Stat]int)
	}
	f.counts[stat]++
	return nil
}

func (f *fakeStats) get(stat repository.Stat) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[stat]
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Publish(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *recordingSink) terminal() []Event {
	var out []Event
	for _, ev := range s.all() {
		if ev.Terminal {
			out = append(out, ev)
		}
	}
	return out
}

// sleepRecorder replaces real sleeping in tests.
type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

type harness struct {
	conn     *fakeConn
	pool     *fakePool
	jobs     *memJobs
	settings *fakeSettings
	stats    *fakeStats
	sink     *recordingSink
	sleeps   *sleepRecorder
	engine   *Engine
}

func newHarness() *harness {
	h := &harness{
		conn:     newFakeConn(),
		jobs:     newMemJobs(),
		settings: &fakeSettings{},
		stats:    &fakeStats{},
		sink:     &recordingSink{},
		sleeps:   &sleepRecorder{},
	}
	h.pool = &fakePool{conn: h.conn}
	h.engine = NewEngine(h.deps(), 10*time.Millisecond)
	h.engine.sleep = h.sleeps.sleep
	return h
}

func (h *harness) deps() Deps {
	return Deps{Pool: h.pool, Jobs: h.jobs, Settings: h.settings, Stats: h.stats, Sink: h.sink}
}

func rangeRequest(start, count int) Request {
	return Request{UserID: testUser, Source: telegram.ChatByID(testSource), StartID: start, Count: count}
}

func strPtr(s string) *string { return &s }

func mediaDoc(name string) telegram.Media {
	return telegram.Media{Kind: telegram.MediaDocument, FileName: name, Size: 10}
}
