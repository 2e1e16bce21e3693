package sessions

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/model"
	"github.com/Chative-core-poc-v1/stateflow/internal/agent/repo"
	errx "github.com/Chative-core-poc-v1/stateflow/internal/core/error"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T, cfg model.SessionConfig) (*Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	var n atomic.Int64
	m := NewManager(repo.NewMemorySessionRepository(repo.WithClock(clock.Now)), cfg,
		WithClock(clock.Now),
		WithIDGenerator(func() string { return fmt.Sprintf("sess-%d", n.Add(1)) }),
	)
	t.Cleanup(func() { _ = m.Close() })
	return m, clock
}

func TestResolveMintsAndReuses(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, model.SessionConfig{})

	s, err := m.Resolve(ctx, ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", s.ID)
	assert.Equal(t, int(model.DefaultSessionTTL/time.Second), s.TTLSeconds)

	s.Messages = append(s.Messages, schema.UserMessage("hello"), schema.AssistantMessage("hi", nil))
	require.NoError(t, m.Commit(ctx, s))

	again, err := m.Resolve(ctx, ResolveOptions{SessionID: s.ID})
	require.NoError(t, err)
	require.Len(t, again.Messages, 2)
	assert.Equal(t, "hello", again.Messages[0].Content)
}

func TestResolveUnknownID(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, model.SessionConfig{})

	_, err := m.Resolve(ctx, ResolveOptions{SessionID: "missing"})
	assert.ErrorIs(t, err, errx.ErrSessionNotFound)

	s, err := m.Resolve(ctx, ResolveOptions{SessionID: "missing", CreateSession: true})
	require.NoError(t, err)
	assert.Equal(t, "missing", s.ID)
}

func TestResolveExpired(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestManager(t, model.SessionConfig{})

	s, err := m.Resolve(ctx, ResolveOptions{StateTTL: time.Second})
	require.NoError(t, err)
	s.Variables["cabin"] = "First"
	require.NoError(t, m.Commit(ctx, s))

	clock.Advance(2 * time.Second)

	_, err = m.Resolve(ctx, ResolveOptions{SessionID: s.ID})
	require.ErrorIs(t, err, errx.ErrSessionNotFound)
	assert.Equal(t, 404, errx.StatusOf(err))

	fresh, err := m.Resolve(ctx, ResolveOptions{SessionID: s.ID, CreateSession: true})
	require.NoError(t, err)
	assert.Equal(t, s.ID, fresh.ID)
	assert.Empty(t, fresh.Variables)
}

func TestResolveRefreshesActivity(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestManager(t, model.SessionConfig{})

	s, err := m.Resolve(ctx, ResolveOptions{StateTTL: 10 * time.Second})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		clock.Advance(8 * time.Second)
		s, err = m.Resolve(ctx, ResolveOptions{SessionID: s.ID})
		require.NoError(t, err, "turn %d", i)
	}
	assert.Equal(t, clock.Now(), s.LastActiveAt)

	s, err = m.Resolve(ctx, ResolveOptions{SessionID: s.ID, StateTTL: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 60, s.TTLSeconds)
}

func TestClearKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, model.SessionConfig{})

	s, err := m.Resolve(ctx, ResolveOptions{StateTTL: 90 * time.Second})
	require.NoError(t, err)
	s.Messages = append(s.Messages, schema.UserMessage("hi"))
	s.Variables["name"] = "Ada"
	require.NoError(t, m.Commit(ctx, s))

	cleared, err := m.Clear(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, cleared.ID)
	assert.Equal(t, 90, cleared.TTLSeconds)

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Messages)
	assert.Empty(t, got.Variables)

	_, err = m.Clear(ctx, "nope")
	assert.ErrorIs(t, err, errx.ErrSessionNotFound)
}

func TestCommitAppliesWindow(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, model.SessionConfig{MaxMessages: 3})

	s, err := m.Create(ctx, 0)
	require.NoError(t, err)
	s.Messages = append(s.Messages, schema.SystemMessage("be brief"))
	for i := 0; i < 5; i++ {
		s.Messages = append(s.Messages, schema.UserMessage(fmt.Sprintf("m%d", i)))
	}
	require.NoError(t, m.Commit(ctx, s))

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, schema.System, got.Messages[0].Role)
	assert.Equal(t, "m3", got.Messages[1].Content)
	assert.Equal(t, "m4", got.Messages[2].Content)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, model.SessionConfig{})

	s, err := m.Create(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx, s.ID))
	require.NoError(t, m.Delete(ctx, s.ID))

	_, err = m.Get(ctx, s.ID)
	assert.ErrorIs(t, err, errx.ErrSessionNotFound)
}

func TestLockSerialisesTurns(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, model.SessionConfig{})

	var (
		wg      sync.WaitGroup
		active  atomic.Int32
		overlap atomic.Bool
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(ctx, "shared")
			if !assert.NoError(t, err) {
				return
			}
			if active.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(2 * time.Millisecond)
			active.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.False(t, overlap.Load())
	assert.Zero(t, m.locks.size())
}

func TestLockTimeout(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, model.SessionConfig{LockTimeout: 20 * time.Millisecond})

	unlock, err := m.Lock(ctx, "s")
	require.NoError(t, err)
	defer unlock()

	_, err = m.Lock(ctx, "s")
	require.ErrorIs(t, err, errx.ErrSessionBusy)
	assert.Equal(t, 409, errx.StatusOf(err))

	other, err := m.Lock(ctx, "other")
	require.NoError(t, err)
	other()
}

func TestLockHonoursCancel(t *testing.T) {
	m, _ := newTestManager(t, model.SessionConfig{})

	unlock, err := m.Lock(context.Background(), "s")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Lock(ctx, "s")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLockLeaseAcrossReplicas(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	shared := repo.NewRedisSessionRepository(client, "test")
	cfg := model.SessionConfig{LockTimeout: 100 * time.Millisecond, LeaseTTL: time.Minute}
	a := NewManager(shared, cfg)
	b := NewManager(shared, cfg)

	unlockA, err := a.Lock(ctx, "s1")
	require.NoError(t, err)

	_, err = b.Lock(ctx, "s1")
	require.ErrorIs(t, err, errx.ErrSessionBusy)

	unlockA()
	unlockB, err := b.Lock(ctx, "s1")
	require.NoError(t, err)
	unlockB()
	assert.False(t, mr.Exists("test:session:s1:lease"))
}

func TestLockRenewsLeaseUntilUnlock(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	const (
		key = "test:session:s1:lease"
		ttl = 300 * time.Millisecond
	)
	shared := repo.NewRedisSessionRepository(client, "test")
	cfg := model.SessionConfig{LockTimeout: 50 * time.Millisecond, LeaseTTL: ttl}
	a := NewManager(shared, cfg)
	b := NewManager(shared, cfg)

	unlockA, err := a.Lock(ctx, "s1")
	require.NoError(t, err)

	// Each jump alone leaves the lease alive; together they outlast the TTL.
	for i := 0; i < 3; i++ {
		mr.FastForward(2 * ttl / 3)
		require.True(t, mr.Exists(key), "lease expired during a long turn")
		require.Eventually(t, func() bool { return mr.TTL(key) == ttl }, time.Second, 10*time.Millisecond)
	}

	_, err = b.Lock(ctx, "s1")
	require.ErrorIs(t, err, errx.ErrSessionBusy)

	unlockA()
	assert.False(t, mr.Exists(key))
	assert.Never(t, func() bool { return mr.Exists(key) }, 250*time.Millisecond, 25*time.Millisecond)
}
