package repo

import (
	"context"
	"sync"
	"time"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/model"
	errx "github.com/Chative-core-poc-v1/stateflow/internal/core/error"
	logx "github.com/Chative-core-poc-v1/stateflow/pkg/logger"
)

// MemorySessionRepository is a goroutine-safe in-process session store.
// Expired sessions are removed by Sweep, which RunSweeper calls periodically.
type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
	now      func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

type MemoryOption func(*MemorySessionRepository)

// WithClock overrides the time source used for sweeping.
func WithClock(now func() time.Time) MemoryOption {
	return func(r *MemorySessionRepository) {
		r.now = now
	}
}

func NewMemorySessionRepository(opts ...MemoryOption) *MemorySessionRepository {
	r := &MemorySessionRepository{
		sessions: make(map[string]*model.Session),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *MemorySessionRepository) Load(_ context.Context, sessionID string) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, errx.SessionNotFound(sessionID)
	}
	return s.Clone(), nil
}

func (r *MemorySessionRepository) Save(_ context.Context, s *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[s.ID] = s.Clone()
	return nil
}

func (r *MemorySessionRepository) Delete(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sessionID)
	return nil
}

// Len returns the number of stored sessions, expired ones included.
func (r *MemorySessionRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep evicts every expired session and returns how many were removed.
func (r *MemorySessionRepository) Sweep() int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, s := range r.sessions {
		if s.Expired(now) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// RunSweeper evicts expired sessions every interval until ctx is done or
// Close is called.
func (r *MemorySessionRepository) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				logx.Debug().Int("evicted", n).Msg("swept expired sessions")
			}
		}
	}
}

// Close stops the sweeper and drops all sessions.
func (r *MemorySessionRepository) Close() error {
	r.stopOnce.Do(func() { close(r.stop) })
	r.mu.Lock()
	r.sessions = make(map[string]*model.Session)
	r.mu.Unlock()
	return nil
}

var _ model.SessionRepository = (*MemorySessionRepository)(nil)
