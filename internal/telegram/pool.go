package telegram

import (
	"context"
	"sync"

	"github.com/blockedby/tg-extractor/internal/logger"
)

// Conn is an authenticated connection for one user.
type Conn interface {
	SelfID() int64
	ResolveChat(ctx context.Context, ref ChatRef) (*Peer, error)
	FetchMessage(ctx context.Context, chat *Peer, id int) (*Message, error)
	Forward(ctx context.Context, from *Peer, id int, to *Peer) error
	Copy(ctx context.Context, msg *Message, to *Peer, ov Overrides) error
	Download(ctx context.Context, msg *Message, dir string, progress func(DownloadProgress)) (string, error)
	Close()
}

// ConnFactory opens a connection from a stored credential.
type ConnFactory func(ctx context.Context, cred Credential) (Conn, error)

// CredentialStore loads and removes stored credentials.
// GetCredential returns nil, nil when the user has none.
type CredentialStore interface {
	GetCredential(ctx context.Context, userID int64) (*Credential, error)
	DeleteCredential(ctx context.Context, userID int64) error
}

type poolEntry struct {
	ready    chan struct{}
	conn     Conn
	released bool // guarded by Pool.mu
}

// Pool keeps at most one live connection per user, created lazily.
// Concurrent first requests for the same user share a single creation.
type Pool struct {
	store   CredentialStore
	factory ConnFactory
	log     *logger.Logger

	mu    sync.Mutex
	conns map[int64]*poolEntry
}

// NewPool creates an empty pool.
func NewPool(store CredentialStore, factory ConnFactory) *Pool {
	return &Pool{
		store:   store,
		factory: factory,
		log:     logger.Get().Component("session_pool"),
		conns:   make(map[int64]*poolEntry),
	}
}

// Get returns the user's connection, creating it from the stored credential
// on first use. ok is false when the user has no credential or it failed to log in.
// A connection released while it was being opened is never returned; Get
// opens a fresh one instead. A connection already handed out stays the
// caller's until Release closes it.
func (p *Pool) Get(ctx context.Context, userID int64) (Conn, bool) {
	p.mu.Lock()
	if e, found := p.conns[userID]; found {
		p.mu.Unlock()
		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, false
		}
		if p.wasReleased(e) {
			return p.Get(ctx, userID)
		}
		return e.conn, e.conn != nil
	}
	e := &poolEntry{ready: make(chan struct{})}
	p.conns[userID] = e
	p.mu.Unlock()

	e.conn = p.open(ctx, userID)
	if e.conn == nil {
		p.mu.Lock()
		if p.conns[userID] == e {
			delete(p.conns, userID)
		}
		p.mu.Unlock()
	}
	close(e.ready)
	if e.conn != nil && p.wasReleased(e) {
		return p.Get(ctx, userID)
	}
	return e.conn, e.conn != nil
}

func (p *Pool) wasReleased(e *poolEntry) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return e.released
}

func (p *Pool) open(ctx context.Context, userID int64) Conn {
	log := p.log.With().Int64("user_id", userID).Logger()

	cred, err := p.store.GetCredential(ctx, userID)
	if err != nil {
		log.Error().Err(err).Msg("failed to load session")
		return nil
	}
	if cred == nil {
		log.Debug().Msg("no stored session")
		return nil
	}

	conn, err := p.factory(ctx, *cred)
	if err != nil {
		log.Error().Err(err).Msg("failed to start client")
		return nil
	}
	log.Info().Msg("client started")
	return conn
}

// Release closes and forgets the user's connection. The credential is kept.
func (p *Pool) Release(userID int64) {
	p.mu.Lock()
	e, found := p.conns[userID]
	if found {
		e.released = true
		delete(p.conns, userID)
	}
	p.mu.Unlock()

	if !found {
		return
	}
	<-e.ready
	if e.conn != nil {
		e.conn.Close()
		p.log.Info().Int64("user_id", userID).Msg("client released")
	}
}

// Logout releases the connection and deletes the stored credential.
func (p *Pool) Logout(ctx context.Context, userID int64) error {
	p.Release(userID)
	return p.store.DeleteCredential(ctx, userID)
}

// Size returns the number of pooled connections.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Close releases every connection.
func (p *Pool) Close() {
	p.mu.Lock()
	ids := make([]int64, 0, len(p.conns))
	for id := range p.conns {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.Release(id)
	}
}
