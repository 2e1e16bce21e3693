package sessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/model"
	errx "github.com/Chative-core-poc-v1/stateflow/internal/core/error"
	logx "github.com/Chative-core-poc-v1/stateflow/pkg/logger"
)

const (
	leasePollMin     = 25 * time.Millisecond
	leasePollMax     = 500 * time.Millisecond
	leaseCallTimeout = 5 * time.Second
)

// Manager owns session records. It resolves, commits and clears sessions
// and linearises turns per session id.
type Manager struct {
	repo  model.SessionRepository
	cfg   model.SessionConfig
	now   func() time.Time
	newID func() string
	locks *keyedMutex
	owner string
}

type Option func(*Manager)

// WithClock overrides the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithIDGenerator overrides how new session ids are minted.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) {
		m.newID = gen
	}
}

func NewManager(repo model.SessionRepository, cfg model.SessionConfig, opts ...Option) *Manager {
	m := &Manager{
		repo:  repo,
		cfg:   cfg,
		now:   time.Now,
		newID: uuid.NewString,
		locks: newKeyedMutex(),
		owner: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ResolveOptions selects the session a turn runs against.
type ResolveOptions struct {
	SessionID     string
	CreateSession bool
	// StateTTL overrides the session TTL when positive.
	StateTTL time.Duration
}

// NewID mints a fresh session id.
func (m *Manager) NewID() string {
	return m.newID()
}

func (m *Manager) ttl(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	if m.cfg.DefaultTTL > 0 {
		return m.cfg.DefaultTTL
	}
	return model.DefaultSessionTTL
}

// Resolve returns the session for a turn.
//
// A known, unexpired id is returned with last_active_at refreshed. An
// unknown or expired id fails with errx.ErrSessionNotFound unless
// CreateSession is set, in which case a fresh session reuses the id. An
// empty id always mints a new session.
func (m *Manager) Resolve(ctx context.Context, opts ResolveOptions) (*model.Session, error) {
	if opts.SessionID == "" {
		return m.create(ctx, m.newID(), opts.StateTTL)
	}

	s, err := m.load(ctx, opts.SessionID)
	switch {
	case err == nil:
		s.Touch(m.now())
		if opts.StateTTL > 0 {
			s.TTLSeconds = int(opts.StateTTL / time.Second)
		}
		if err := m.repo.Save(ctx, s); err != nil {
			return nil, err
		}
		return s, nil
	case errors.Is(err, errx.ErrSessionNotFound) && opts.CreateSession:
		return m.create(ctx, opts.SessionID, opts.StateTTL)
	default:
		return nil, err
	}
}

// Create persists a new empty session with a minted id.
func (m *Manager) Create(ctx context.Context, ttl time.Duration) (*model.Session, error) {
	return m.create(ctx, m.newID(), ttl)
}

func (m *Manager) create(ctx context.Context, id string, ttl time.Duration) (*model.Session, error) {
	s := model.NewSession(id, m.ttl(ttl), m.now())
	if err := m.repo.Save(ctx, s); err != nil {
		return nil, err
	}
	logx.Debug().Str("session_id", id).Int("ttl_seconds", s.TTLSeconds).Msg("session created")
	return s, nil
}

// Get returns the session without refreshing it.
func (m *Manager) Get(ctx context.Context, id string) (*model.Session, error) {
	return m.load(ctx, id)
}

// load fetches a session and evicts it lazily when expired.
func (m *Manager) load(ctx context.Context, id string) (*model.Session, error) {
	s, err := m.repo.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Expired(m.now()) {
		if err := m.repo.Delete(ctx, id); err != nil {
			logx.Warn().Err(err).Str("session_id", id).Msg("failed to evict expired session")
		}
		return nil, errx.SessionNotFound(id)
	}
	return s, nil
}

// Commit persists the session at the end of a turn. The message window is
// applied and the TTL refreshed.
func (m *Manager) Commit(ctx context.Context, s *model.Session) error {
	s.TrimMessages(m.cfg.MaxMessages)
	s.Touch(m.now())
	return m.repo.Save(ctx, s)
}

// Clear empties messages and variables, keeping the id and TTL.
func (m *Manager) Clear(ctx context.Context, id string) (*model.Session, error) {
	unlock, err := m.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Reset()
	s.Touch(m.now())
	if err := m.repo.Save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Delete removes the session. Missing sessions are not an error.
func (m *Manager) Delete(ctx context.Context, id string) error {
	unlock, err := m.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	return m.repo.Delete(ctx, id)
}

// Lock blocks until the caller is the only turn running against id. The
// wait is bounded by SessionConfig.LockTimeout and ctx. When the backend is
// shared between replicas a lease is taken as well and renewed until the
// returned unlock func runs.
func (m *Manager) Lock(ctx context.Context, id string) (func(), error) {
	lctx := ctx
	if m.cfg.LockTimeout > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(ctx, m.cfg.LockTimeout)
		defer cancel()
	}

	release, err := m.locks.lock(lctx, id)
	if err != nil {
		return nil, lockError(ctx, lctx, id, err)
	}

	leaser, ok := m.repo.(model.SessionLeaser)
	if !ok {
		return release, nil
	}
	ttl := m.leaseTTL()
	if err := m.acquireLease(lctx, leaser, id, ttl); err != nil {
		release()
		return nil, lockError(ctx, lctx, id, err)
	}
	stopRenew := m.renewLease(leaser, id, ttl)
	return func() {
		stopRenew()
		rctx, cancel := context.WithTimeout(context.Background(), leaseCallTimeout)
		defer cancel()
		if err := leaser.ReleaseLease(rctx, id, m.owner); err != nil {
			logx.Warn().Err(err).Str("session_id", id).Msg("failed to release session lease")
		}
		release()
	}, nil
}

// lockError separates caller cancellation from the lock timeout expiring.
func lockError(ctx, lctx context.Context, id string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if lctx.Err() != nil {
		return errx.SessionBusy(id, err)
	}
	return err
}

func (m *Manager) leaseTTL() time.Duration {
	if m.cfg.LeaseTTL > 0 {
		return m.cfg.LeaseTTL
	}
	return m.ttl(0)
}

func (m *Manager) acquireLease(ctx context.Context, leaser model.SessionLeaser, id string, ttl time.Duration) error {
	wait := leasePollMin
	for {
		ok, err := leaser.TryAcquireLease(ctx, id, m.owner, ttl)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if wait *= 2; wait > leasePollMax {
			wait = leasePollMax
		}
	}
}

// renewLease refreshes the lease every third of its TTL. The returned func
// stops the renewal and waits for an in-flight refresh.
func (m *Manager) renewLease(leaser model.SessionLeaser, id string, ttl time.Duration) func() {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			ctx, cancel := context.WithTimeout(context.Background(), leaseCallTimeout)
			ok, err := leaser.TryAcquireLease(ctx, id, m.owner, ttl)
			cancel()
			switch {
			case err != nil:
				logx.Warn().Err(err).Str("session_id", id).Msg("failed to renew session lease")
			case !ok:
				logx.Warn().Str("session_id", id).Msg("session lease taken by another owner")
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-exited
		})
	}
}

// Close releases the backend.
func (m *Manager) Close() error {
	return m.repo.Close()
}
